package httpapi

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/jobsync/internal/config"
	"github.com/MimeLyc/jobsync/internal/jobs"
	"github.com/MimeLyc/jobsync/internal/service"
)

type jobStore interface {
	Snapshot() jobs.Snapshot
	FetchAll(ctx context.Context) error
	Job(ctx context.Context, jobID string) (*jobs.Job, error)
	Submit(ctx context.Context, spec jobs.Spec) (*jobs.EvalResult, error)
	Update(ctx context.Context, jobID string, spec jobs.Spec) (*jobs.EvalResult, error)
	Stop(ctx context.Context, jobID string) (*jobs.Ack, error)
	Delete(ctx context.Context, jobID string) (*jobs.Ack, error)
	Restart(ctx context.Context, jobID string) (*jobs.Ack, error)
	Subscribe(l jobs.Listener) func()
}

type nodeLister interface {
	ListNodes(ctx context.Context) (*jobs.NodeList, error)
}

type eventJournal interface {
	Recent(ctx context.Context, limit int) ([]jobs.Event, error)
	ForJob(ctx context.Context, jobID string, limit int) ([]jobs.Event, error)
}

type resyncStatus interface {
	Status(now time.Time) service.Status
}

type runtimeSettingsStore interface {
	GetRuntimeSettings() (config.RuntimeSettings, error)
	UpdateRuntimeSettings(next config.RuntimeSettings) (config.RuntimeSettings, error)
}

type runtimeSettingsApplier func(next config.RuntimeSettings) error

// Server exposes the job store to local observers over HTTP.
type Server struct {
	store    jobStore
	nodes    nodeLister
	journal  eventJournal
	resync   resyncStatus
	settings runtimeSettingsStore
	apply    runtimeSettingsApplier

	details        singleflight.Group
	streamInterval time.Duration

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

func WithNodes(nodes nodeLister) Option {
	return func(s *Server) {
		s.nodes = nodes
	}
}

func WithJournal(journal eventJournal) Option {
	return func(s *Server) {
		s.journal = journal
	}
}

func WithResyncStatus(resync resyncStatus) Option {
	return func(s *Server) {
		s.resync = resync
	}
}

func WithRuntimeSettingsStore(store runtimeSettingsStore) Option {
	return func(s *Server) {
		s.settings = store
	}
}

func WithRuntimeSettingsApplier(apply runtimeSettingsApplier) Option {
	return func(s *Server) {
		s.apply = apply
	}
}

// WithStreamInterval sets how often the SSE stream repeats the snapshot when idle.
func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.streamInterval = d
		}
	}
}

func NewServer(store jobStore, opts ...Option) *Server {
	s := &Server{
		store:          store,
		streamInterval: time.Second,
		mux:            http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	s.server = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server.Addr = addr
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/jobs", s.handleJobs)
	s.mux.HandleFunc("/api/jobs/refresh", s.handleRefresh)
	s.mux.HandleFunc("/api/jobs/stream", s.handleJobStream)
	s.mux.HandleFunc("/api/jobs/", s.handleJob)
	s.mux.HandleFunc("/api/nodes", s.handleNodes)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/settings", s.handleSettings)
	s.mux.HandleFunc("/api/health", s.handleHealth)
}
