package jobs

import (
	"time"

	"github.com/google/uuid"
)

// Op names a Store operation.
type Op string

const (
	OpFetchAll Op = "fetch_all"
	OpSubmit   Op = "submit"
	OpUpdate   Op = "update"
	OpStop     Op = "stop"
	OpDelete   Op = "delete"
	OpRestart  Op = "restart"
)

// Phase is a transition in the life of a Store operation.
type Phase string

const (
	PhaseStarted   Phase = "started"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
)

// Event is emitted by the Store on every phase transition.
type Event struct {
	ID       string        `json:"id"`
	Op       Op            `json:"op"`
	JobID    string        `json:"job_id,omitempty"`
	Phase    Phase         `json:"phase"`
	Error    string        `json:"error,omitempty"`
	Time     time.Time     `json:"time"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Listener consumes Store events. HandleEvent runs on the goroutine of the
// operation that emitted it and must not call back into mutating Store methods.
type Listener interface {
	HandleEvent(Event)
}

// ListenerFunc adapts a function into a Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) HandleEvent(e Event) {
	if f == nil {
		return
	}
	f(e)
}

func newEvent(op Op, jobID string, phase Phase, started time.Time, err error) Event {
	now := time.Now().UTC()
	e := Event{
		ID:    uuid.NewString(),
		Op:    op,
		JobID: jobID,
		Phase: phase,
		Time:  now,
	}
	if phase != PhaseStarted {
		e.Duration = now.Sub(started)
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
