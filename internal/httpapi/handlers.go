package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/jobsync/internal/config"
	"github.com/MimeLyc/jobsync/internal/gateway"
	"github.com/MimeLyc/jobsync/internal/jobs"
	"github.com/MimeLyc/jobsync/internal/jobspec"
	"github.com/MimeLyc/jobsync/pkg/log"
)

const (
	maxSpecBytes  = 1 << 20
	detailTimeout = 30 * time.Second
)

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.store.Snapshot())
	case http.MethodPost:
		spec, ok := readSpec(w, r)
		if !ok {
			return
		}
		ret, err := s.store.Submit(r.Context(), spec)
		if err != nil {
			writeGatewayError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, ret)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.store.FetchAll(r.Context()); err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

// handleJob serves /api/jobs/{id}, /api/jobs/{id}/delete and /api/jobs/{id}/restart.
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	jobID, action := splitJobPath(r.URL.EscapedPath())
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		job, err := s.jobDetail(r.Context(), jobID)
		if err != nil {
			writeGatewayError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	case action == "" && r.Method == http.MethodPut:
		spec, ok := readSpec(w, r)
		if !ok {
			return
		}
		ret, err := s.store.Update(r.Context(), jobID, spec)
		respond(w, ret, err)
	case action == "" && r.Method == http.MethodDelete:
		ret, err := s.store.Stop(r.Context(), jobID)
		respond(w, ret, err)
	case action == "delete" && r.Method == http.MethodPost:
		ret, err := s.store.Delete(r.Context(), jobID)
		respond(w, ret, err)
	case action == "restart" && r.Method == http.MethodPost:
		ret, err := s.store.Restart(r.Context(), jobID)
		respond(w, ret, err)
	case action != "" && action != "delete" && action != "restart":
		writeError(w, http.StatusNotFound, "not found")
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// jobDetail shares one scheduler read among concurrent requests for jobID.
// The shared read outlives any single caller; each caller stops waiting when
// its own context ends.
func (s *Server) jobDetail(ctx context.Context, jobID string) (*jobs.Job, error) {
	ch := s.details.DoChan(jobID, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), detailTimeout)
		defer cancel()
		return s.store.Job(shared, jobID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*jobs.Job), nil
	}
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.nodes == nil {
		writeError(w, http.StatusNotImplemented, "node listing is not configured")
		return
	}
	nodes, err := s.nodes.ListNodes(r.Context())
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.journal == nil {
		writeError(w, http.StatusNotImplemented, "journal is not configured")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	var (
		events []jobs.Event
		err    error
	)
	if jobID := r.URL.Query().Get("job"); jobID != "" {
		events, err = s.journal.ForJob(r.Context(), jobID, limit)
	} else {
		events, err = s.journal.Recent(r.Context(), limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snapshot := s.store.Snapshot()
	ret := map[string]any{
		"status":     "ok",
		"jobs":       snapshot.Count,
		"loading":    snapshot.Loading,
		"last_error": snapshot.LastError,
	}
	if s.resync != nil {
		ret["resync"] = s.resync.Status(time.Now())
	}
	writeJSON(w, http.StatusOK, ret)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		settings, err := s.settings.GetRuntimeSettings()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, settings)
	case http.MethodPut:
		var req config.RuntimeSettings
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		prev, err := s.settings.GetRuntimeSettings()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		// Apply before persisting so the file never holds settings the
		// running process rejected.
		if s.apply != nil {
			if err := s.apply(req); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		saved, err := s.settings.UpdateRuntimeSettings(req)
		if err != nil {
			if s.apply != nil {
				if rollbackErr := s.apply(prev); rollbackErr != nil {
					log.Error("Failed to restore runtime settings: %v", rollbackErr)
				}
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, saved)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// splitJobPath turns "/api/jobs/{id}[/{action}]" into its parts.
func splitJobPath(escaped string) (jobID, action string) {
	rest := strings.Trim(strings.TrimPrefix(escaped, "/api/jobs/"), "/")
	if rest == "" {
		return "", ""
	}
	parts := strings.SplitN(rest, "/", 2)
	jobID = parts[0]
	if decoded, err := url.PathUnescape(jobID); err == nil {
		jobID = decoded
	}
	if len(parts) == 2 {
		action = parts[1]
	}
	return jobID, action
}

func readSpec(w http.ResponseWriter, r *http.Request) (jobs.Spec, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSpecBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return nil, false
	}
	if len(body) > maxSpecBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "job spec is too large")
		return nil, false
	}
	spec, err := jobspec.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job spec: "+err.Error())
		return nil, false
	}
	return spec, true
}

func respond(w http.ResponseWriter, ret any, err error) {
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ret)
}

func writeGatewayError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case gateway.IsErrorType(err, gateway.ErrNotFound):
		return http.StatusNotFound
	case gateway.IsErrorType(err, gateway.ErrValidation):
		return http.StatusBadRequest
	case gateway.IsErrorType(err, gateway.ErrDecode), gateway.IsErrorType(err, gateway.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
