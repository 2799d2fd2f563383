package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/MimeLyc/jobsync/internal/jobs"
	"github.com/MimeLyc/jobsync/pkg/log"
)

const maxErrorBody = 512

// Client is a stateless typed wrapper over the scheduler REST API.
// Each method performs exactly one request and never retries.
// Safe for concurrent use.
type Client struct {
	config     *Config
	httpClient *http.Client
	baseURL    string
}

var _ jobs.Gateway = (*Client)(nil)

type Option func(*Client)

// WithHTTPClient replaces the default HTTP client. Its Timeout wins over Config.Timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates a Client for the scheduler at config.BaseURL.
//
// Example:
//
//	client, err := gateway.NewClient(&gateway.Config{BaseURL: "http://localhost:8500"})
//	if err != nil {
//		log.Fatal("%v", err)
//	}
//	list, err := client.ListJobs(ctx)
func NewClient(config *Config, opts ...Option) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	client := &Client{
		config:     config,
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// request describes how a single call maps HTTP statuses onto the error taxonomy.
type request struct {
	method string
	path   string
	body   any
	jobID  string

	// rejects marks calls whose 400/422 responses are refusals rather than
	// transport failures. rejection, when set, replaces the default
	// "spec rejected" wording.
	rejects   bool
	rejection string
}

func (c *Client) ListJobs(ctx context.Context) (*jobs.JobList, error) {
	var payload struct {
		Jobs  *[]jobs.Job `json:"jobs"`
		Count int         `json:"count"`
	}
	if err := c.do(ctx, request{method: http.MethodGet, path: "/jobs"}, &payload); err != nil {
		return nil, err
	}
	if payload.Jobs == nil {
		return nil, NewError(ErrDecode, "job listing has no jobs array")
	}
	for i, job := range *payload.Jobs {
		if job.JobID == "" {
			return nil, NewError(ErrDecode, "listed job has no job_id").WithContext("index", i)
		}
	}
	return &jobs.JobList{Jobs: *payload.Jobs, Count: payload.Count}, nil
}

func (c *Client) GetJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	if err := requireJobID(jobID); err != nil {
		return nil, err
	}
	var job jobs.Job
	if err := c.do(ctx, request{method: http.MethodGet, path: jobPath(jobID), jobID: jobID}, &job); err != nil {
		return nil, err
	}
	if job.JobID == "" {
		return nil, NewError(ErrDecode, fmt.Sprintf("job %q response has no job_id", jobID))
	}
	if job.JobID != jobID {
		return nil, NewError(ErrDecode, fmt.Sprintf("asked for job %q, got %q", jobID, job.JobID))
	}
	return &job, nil
}

func (c *Client) SubmitJob(ctx context.Context, spec jobs.Spec) (*jobs.EvalResult, error) {
	var ret jobs.EvalResult
	req := request{method: http.MethodPost, path: "/jobs", body: specBody(spec), jobID: spec.JobID(), rejects: true}
	if err := c.do(ctx, req, &ret); err != nil {
		return nil, err
	}
	if ret.JobID == "" {
		return nil, NewError(ErrDecode, "submit response has no job_id")
	}
	return &ret, nil
}

func (c *Client) UpdateJob(ctx context.Context, jobID string, spec jobs.Spec) (*jobs.EvalResult, error) {
	if err := requireJobID(jobID); err != nil {
		return nil, err
	}
	var ret jobs.EvalResult
	req := request{method: http.MethodPut, path: jobPath(jobID), body: specBody(spec), jobID: jobID, rejects: true}
	if err := c.do(ctx, req, &ret); err != nil {
		return nil, err
	}
	if ret.JobID == "" {
		return nil, NewError(ErrDecode, fmt.Sprintf("update response for job %q has no job_id", jobID))
	}
	return &ret, nil
}

// StopJob requests a graceful stop. Stopping a stopped job is a no-op on the scheduler side.
func (c *Client) StopJob(ctx context.Context, jobID string) (*jobs.Ack, error) {
	if err := requireJobID(jobID); err != nil {
		return nil, err
	}
	var ack jobs.Ack
	if err := c.do(ctx, request{method: http.MethodDelete, path: jobPath(jobID), jobID: jobID}, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// DeleteJob purges the job record. A job the scheduler does not know is
// treated as already deleted.
func (c *Client) DeleteJob(ctx context.Context, jobID string) (*jobs.Ack, error) {
	if err := requireJobID(jobID); err != nil {
		return nil, err
	}
	var ack jobs.Ack
	err := c.do(ctx, request{method: http.MethodPost, path: jobPath(jobID) + "/delete", jobID: jobID}, &ack)
	if IsErrorType(err, ErrNotFound) {
		return &jobs.Ack{Message: "already absent", JobID: jobID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &ack, nil
}

// RestartJob asks the scheduler to run a stopped job again. A 400/422 means the
// job's current state does not allow a restart and is reported as ErrValidation.
func (c *Client) RestartJob(ctx context.Context, jobID string) (*jobs.Ack, error) {
	if err := requireJobID(jobID); err != nil {
		return nil, err
	}
	var ack jobs.Ack
	req := request{
		method:    http.MethodPost,
		path:      jobPath(jobID) + "/restart",
		jobID:     jobID,
		rejects:   true,
		rejection: fmt.Sprintf("job %q cannot be restarted in its current state", jobID),
	}
	if err := c.do(ctx, req, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// ListNodes returns the scheduler's client nodes with their allocations.
func (c *Client) ListNodes(ctx context.Context) (*jobs.NodeList, error) {
	var payload struct {
		Nodes *[]jobs.Node `json:"nodes"`
		Count int          `json:"count"`
	}
	if err := c.do(ctx, request{method: http.MethodGet, path: "/nodes"}, &payload); err != nil {
		return nil, err
	}
	if payload.Nodes == nil {
		return nil, NewError(ErrDecode, "node listing has no nodes array")
	}
	return &jobs.NodeList{Nodes: *payload.Nodes, Count: payload.Count}, nil
}

// do performs one round trip and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, r request, out any) error {
	var body io.Reader
	if r.body != nil {
		jsonData, err := json.Marshal(r.body)
		if err != nil {
			return NewErrorWithCause(ErrValidation, "job spec is not JSON-encodable", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return NewErrorWithCause(ErrTransport, "failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		msg := fmt.Sprintf("%s %s failed", r.method, r.path)
		if os.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("%s %s timed out", r.method, r.path)
		}
		return NewErrorWithCause(ErrTransport, msg, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewErrorWithCause(ErrTransport, "failed to read response body", err).withStatus(resp.StatusCode)
	}
	log.Debug("gateway: %s %s -> %d", r.method, r.path, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(r, resp.StatusCode, responseBody)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(responseBody, out); err != nil {
		return NewErrorWithCause(ErrDecode, fmt.Sprintf("unexpected response from %s %s", r.method, r.path), err).
			withStatus(resp.StatusCode)
	}
	return nil
}

func statusError(r request, code int, body []byte) *Error {
	detail := errorDetail(body)
	switch {
	case code == http.StatusNotFound && r.jobID != "":
		err := NewError(ErrNotFound, fmt.Sprintf("job %q not found", r.jobID)).withStatus(code)
		if detail != "" {
			err.WithContext("detail", detail)
		}
		return err
	case code == http.StatusNotFound:
		return NewError(ErrNotFound, fmt.Sprintf("%s not found", r.path)).withStatus(code)
	case r.rejects && (code == http.StatusBadRequest || code == http.StatusUnprocessableEntity):
		msg := "job spec rejected"
		switch {
		case r.rejection != "":
			msg = r.rejection
		case r.jobID != "":
			msg = fmt.Sprintf("job %q rejected", r.jobID)
		}
		if detail != "" {
			msg += ": " + detail
		}
		return NewError(ErrValidation, msg).withStatus(code)
	}

	msg := fmt.Sprintf("%s %s returned status %d", r.method, r.path, code)
	if r.jobID != "" {
		msg = fmt.Sprintf("%s %s for job %q returned status %d", r.method, r.path, r.jobID, code)
	}
	if detail != "" {
		msg += ": " + detail
	}
	return NewError(ErrTransport, msg).withStatus(code)
}

// errorDetail extracts {"error": "..."} or falls back to the raw body.
func errorDetail(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	return text
}

func jobPath(jobID string) string {
	return "/jobs/" + url.PathEscape(jobID)
}

func requireJobID(jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		return NewError(ErrValidation, "job id is required")
	}
	return nil
}

func specBody(spec jobs.Spec) any {
	if spec == nil {
		return jobs.Spec{}
	}
	return spec
}
