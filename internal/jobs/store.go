package jobs

import (
	"context"
	"sync"
	"time"
)

// Gateway is the remote scheduler as seen by the Store. One call is one
// round trip; implementations do not retry.
type Gateway interface {
	ListJobs(ctx context.Context) (*JobList, error)
	GetJob(ctx context.Context, jobID string) (*Job, error)
	SubmitJob(ctx context.Context, spec Spec) (*EvalResult, error)
	UpdateJob(ctx context.Context, jobID string, spec Spec) (*EvalResult, error)
	StopJob(ctx context.Context, jobID string) (*Ack, error)
	DeleteJob(ctx context.Context, jobID string) (*Ack, error)
	RestartJob(ctx context.Context, jobID string) (*Ack, error)
}

// Snapshot is a read-only copy of the Store state.
type Snapshot struct {
	Jobs      []Job  `json:"jobs"`
	Count     int    `json:"count"`
	Loading   bool   `json:"loading"`
	LastError string `json:"last_error,omitempty"`
}

// Store keeps the local job cache in step with the scheduler. Every mutation
// goes to the scheduler first and, only when it succeeds, is followed by a
// full resync. The cache is never patched locally.
type Store struct {
	gw   Gateway
	gate *keyedGate

	mu        sync.RWMutex
	jobs      []Job
	busy      int
	lastError string
	ticket    uint64
	applied   uint64

	subMu   sync.RWMutex
	subs    map[int]Listener
	nextSub int
}

type Option func(*Store)

// WithListener subscribes l for the lifetime of the Store.
func WithListener(l Listener) Option {
	return func(s *Store) {
		s.subs[s.nextSub] = l
		s.nextSub++
	}
}

func NewStore(gw Gateway, opts ...Option) *Store {
	s := &Store{
		gw:   gw,
		gate: newKeyedGate(),
		subs: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Jobs returns a copy of the cached jobs in the order of the last successful fetch.
func (s *Store) Jobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneJobs(s.jobs)
}

// Loading is true while any fetch or mutate-then-resync sequence is in flight.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.busy > 0
}

// LastError describes the most recent failure, or "" if there is none.
func (s *Store) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Jobs:      cloneJobs(s.jobs),
		Count:     len(s.jobs),
		Loading:   s.busy > 0,
		LastError: s.lastError,
	}
}

// Subscribe registers l for phase events and returns a func that removes it.
func (s *Store) Subscribe(l Listener) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = l
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

// FetchAll replaces the cache with the scheduler's full listing. On failure
// the previous cache is kept and the error is recorded and returned.
func (s *Store) FetchAll(ctx context.Context) error {
	s.mu.Lock()
	s.busy++
	s.lastError = ""
	s.ticket++
	ticket := s.ticket
	s.mu.Unlock()
	defer s.done()

	started := time.Now()
	s.emit(newEvent(OpFetchAll, "", PhaseStarted, started, nil))

	list, err := s.gw.ListJobs(ctx)
	if err != nil {
		s.recordError(err)
		s.emit(newEvent(OpFetchAll, "", PhaseFailed, started, err))
		return err
	}

	fresh := uniqueJobs(list.Jobs)
	s.mu.Lock()
	// An older fetch that finishes late must not overwrite a newer one.
	if ticket > s.applied {
		s.jobs = fresh
		s.applied = ticket
	}
	s.mu.Unlock()

	s.emit(newEvent(OpFetchAll, "", PhaseSucceeded, started, nil))
	return nil
}

// Job reads one job straight from the scheduler, bypassing the cache.
func (s *Store) Job(ctx context.Context, jobID string) (*Job, error) {
	return s.gw.GetJob(ctx, jobID)
}

func (s *Store) Submit(ctx context.Context, spec Spec) (*EvalResult, error) {
	return mutate(ctx, s, OpSubmit, spec.JobID(), func(ctx context.Context) (*EvalResult, error) {
		return s.gw.SubmitJob(ctx, spec)
	})
}

func (s *Store) Update(ctx context.Context, jobID string, spec Spec) (*EvalResult, error) {
	return mutate(ctx, s, OpUpdate, jobID, func(ctx context.Context) (*EvalResult, error) {
		return s.gw.UpdateJob(ctx, jobID, spec)
	})
}

func (s *Store) Stop(ctx context.Context, jobID string) (*Ack, error) {
	return mutate(ctx, s, OpStop, jobID, func(ctx context.Context) (*Ack, error) {
		return s.gw.StopJob(ctx, jobID)
	})
}

// Delete purges the job. Deleting an id the scheduler does not know succeeds.
func (s *Store) Delete(ctx context.Context, jobID string) (*Ack, error) {
	return mutate(ctx, s, OpDelete, jobID, func(ctx context.Context) (*Ack, error) {
		return s.gw.DeleteJob(ctx, jobID)
	})
}

func (s *Store) Restart(ctx context.Context, jobID string) (*Ack, error) {
	return mutate(ctx, s, OpRestart, jobID, func(ctx context.Context) (*Ack, error) {
		return s.gw.RestartJob(ctx, jobID)
	})
}

// mutate runs call under the per-job gate, then resyncs on success. A failed
// call never triggers a resync. A failed resync is recorded in LastError but
// does not fail the mutation.
func mutate[T any](ctx context.Context, s *Store, op Op, jobID string, call func(context.Context) (*T, error)) (*T, error) {
	s.mu.Lock()
	s.busy++
	s.mu.Unlock()
	defer s.done()

	started := time.Now()
	s.emit(newEvent(op, jobID, PhaseStarted, started, nil))

	release, err := s.gate.Acquire(ctx, jobID)
	if err != nil {
		s.recordError(err)
		s.emit(newEvent(op, jobID, PhaseFailed, started, err))
		return nil, err
	}
	defer release()

	ret, err := call(ctx)
	if err != nil {
		s.recordError(err)
		s.emit(newEvent(op, jobID, PhaseFailed, started, err))
		return nil, err
	}

	_ = s.FetchAll(context.WithoutCancel(ctx))

	s.emit(newEvent(op, jobID, PhaseSucceeded, started, nil))
	return ret, nil
}

func (s *Store) done() {
	s.mu.Lock()
	s.busy--
	s.mu.Unlock()
}

func (s *Store) recordError(err error) {
	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()
}

func (s *Store) emit(e Event) {
	s.subMu.RLock()
	listeners := make([]Listener, 0, len(s.subs))
	for _, l := range s.subs {
		listeners = append(listeners, l)
	}
	s.subMu.RUnlock()

	for _, l := range listeners {
		l.HandleEvent(e)
	}
}

// uniqueJobs keeps the first entry for each job id and preserves order.
func uniqueJobs(in []Job) []Job {
	seen := make(map[string]struct{}, len(in))
	ret := make([]Job, 0, len(in))
	for _, job := range in {
		if _, ok := seen[job.JobID]; ok {
			continue
		}
		seen[job.JobID] = struct{}{}
		ret = append(ret, cloneJob(job))
	}
	return ret
}
