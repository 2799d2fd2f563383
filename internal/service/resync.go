package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/jobsync/pkg/icron"
	"github.com/MimeLyc/jobsync/pkg/log"
)

// Fetcher is the part of the job store the resyncer drives.
type Fetcher interface {
	FetchAll(ctx context.Context) error
}

// Resyncer periodically refreshes the job cache on a cron schedule.
// Overlapping ticks collapse into a single in-flight fetch.
type Resyncer struct {
	store Fetcher
	cron  *cron.Cron
	group singleflight.Group

	mu       sync.Mutex
	expr     string
	entryID  cron.EntryID
	lastRun  time.Time
	lastErr  error
	runCount int
}

func NewResyncer(store Fetcher, c *cron.Cron, expr string) *Resyncer {
	return &Resyncer{
		store: store,
		cron:  c,
		expr:  expr,
	}
}

// Schedule registers the resync entry. It does not start the cron.
func (r *Resyncer) Schedule(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entryID != 0 {
		return nil
	}
	return r.scheduleLocked(ctx, r.expr)
}

// Reschedule replaces the current entry with one for expr.
func (r *Resyncer) Reschedule(ctx context.Context, expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid resync schedule: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entryID != 0 {
		r.cron.Remove(r.entryID)
		r.entryID = 0
	}
	if err := r.scheduleLocked(ctx, expr); err != nil {
		return err
	}
	log.Info("Resync schedule changed to %q", expr)
	return nil
}

func (r *Resyncer) scheduleLocked(ctx context.Context, expr string) error {
	id, err := r.cron.AddFunc(expr, func() { _ = r.RunOnce(ctx) })
	if err != nil {
		return fmt.Errorf("schedule resync %q: %w", expr, err)
	}
	r.expr = expr
	r.entryID = id
	return nil
}

// RunOnce fetches now unless a fetch started by the resyncer is already running,
// in which case it waits for that one and shares its result.
func (r *Resyncer) RunOnce(ctx context.Context) error {
	_, err, shared := r.group.Do("resync", func() (any, error) {
		log.Debug("Periodic resync started")
		err := r.store.FetchAll(ctx)

		r.mu.Lock()
		r.lastRun = time.Now()
		r.lastErr = err
		r.runCount++
		r.mu.Unlock()

		if err != nil {
			log.Warn("Periodic resync failed: %v", err)
		}
		return nil, err
	})
	if shared {
		log.Debug("Periodic resync joined an in-flight fetch")
	}
	return err
}

// Status describes the schedule and the outcome of the last periodic run.
type Status struct {
	Expression string             `json:"expression"`
	Trigger    *icron.TriggerInfo `json:"trigger,omitempty"`
	LastRun    time.Time          `json:"last_run"`
	LastError  string             `json:"last_error,omitempty"`
	Runs       int                `json:"runs"`
}

func (r *Resyncer) Status(now time.Time) Status {
	r.mu.Lock()
	st := Status{
		Expression: r.expr,
		LastRun:    r.lastRun,
		Runs:       r.runCount,
	}
	if r.lastErr != nil {
		st.LastError = r.lastErr.Error()
	}
	r.mu.Unlock()

	if info, err := icron.GetTriggerInfo(st.Expression, now); err == nil {
		st.Trigger = info
	}
	return st
}
