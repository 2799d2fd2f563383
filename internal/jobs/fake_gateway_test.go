package jobs

import (
	"context"
	"fmt"
	"sync"
)

// fakeGateway is an in-memory scheduler. Mutations change its job table so a
// resync observes them.
type fakeGateway struct {
	mu        sync.Mutex
	authority []Job
	nextID    string
	nextEval  string

	errs      map[string]error
	listCalls int
	calls     []string

	// listGate, when set, is consulted before answering ListJobs.
	listGate func(call int)
	// mutateGate, when set, blocks mutations until it is closed.
	mutateGate chan struct{}

	inFlight    map[string]int
	maxInFlight map[string]int
}

func newFakeGateway(jobs ...Job) *fakeGateway {
	return &fakeGateway{
		authority:   append([]Job(nil), jobs...),
		nextID:      "abc",
		nextEval:    "e1",
		errs:        make(map[string]error),
		inFlight:    make(map[string]int),
		maxInFlight: make(map[string]int),
	}
}

func (f *fakeGateway) failOn(method string, err error) {
	f.mu.Lock()
	f.errs[method] = err
	f.mu.Unlock()
}

func (f *fakeGateway) setAuthority(jobs ...Job) {
	f.mu.Lock()
	f.authority = append([]Job(nil), jobs...)
	f.mu.Unlock()
}

func (f *fakeGateway) ListCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func (f *fakeGateway) MaxInFlight(jobID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight[jobID]
}

func (f *fakeGateway) ListJobs(_ context.Context) (*JobList, error) {
	f.mu.Lock()
	f.listCalls++
	call := f.listCalls
	gate := f.listGate
	err := f.errs["ListJobs"]
	snapshot := cloneJobs(f.authority)
	f.mu.Unlock()

	// The answer is fixed before the gate so a held call returns old data.
	if gate != nil {
		gate(call)
	}
	if err != nil {
		return nil, err
	}
	return &JobList{Jobs: snapshot, Count: len(snapshot)}, nil
}

func (f *fakeGateway) GetJob(_ context.Context, jobID string) (*Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["GetJob"]; err != nil {
		return nil, err
	}
	for _, job := range f.authority {
		if job.JobID == jobID {
			ret := cloneJob(job)
			return &ret, nil
		}
	}
	return nil, fmt.Errorf("job %q not found", jobID)
}

func (f *fakeGateway) enter(method, jobID string) error {
	f.mu.Lock()
	f.calls = append(f.calls, method+":"+jobID)
	f.inFlight[jobID]++
	if f.inFlight[jobID] > f.maxInFlight[jobID] {
		f.maxInFlight[jobID] = f.inFlight[jobID]
	}
	gate := f.mutateGate
	err := f.errs[method]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return err
}

func (f *fakeGateway) leave(jobID string) {
	f.mu.Lock()
	f.inFlight[jobID]--
	f.mu.Unlock()
}

func (f *fakeGateway) SubmitJob(_ context.Context, spec Spec) (*EvalResult, error) {
	id := spec.JobID()
	defer f.leave(id)
	if err := f.enter("SubmitJob", id); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == "" {
		id = f.nextID
	}
	f.authority = append(f.authority, Job{JobID: id, Status: StatusPending})
	return &EvalResult{JobID: id, EvaluationID: f.nextEval}, nil
}

func (f *fakeGateway) UpdateJob(_ context.Context, jobID string, _ Spec) (*EvalResult, error) {
	defer f.leave(jobID)
	if err := f.enter("UpdateJob", jobID); err != nil {
		return nil, err
	}
	f.setStatus(jobID, StatusPending)
	return &EvalResult{JobID: jobID, EvaluationID: f.nextEval}, nil
}

func (f *fakeGateway) StopJob(_ context.Context, jobID string) (*Ack, error) {
	defer f.leave(jobID)
	if err := f.enter("StopJob", jobID); err != nil {
		return nil, err
	}
	f.setStatus(jobID, StatusDead)
	return &Ack{Message: "stopped"}, nil
}

func (f *fakeGateway) DeleteJob(_ context.Context, jobID string) (*Ack, error) {
	defer f.leave(jobID)
	if err := f.enter("DeleteJob", jobID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.authority[:0]
	found := false
	for _, job := range f.authority {
		if job.JobID == jobID {
			found = true
			continue
		}
		kept = append(kept, job)
	}
	f.authority = kept
	if !found {
		return &Ack{Message: "already absent", JobID: jobID}, nil
	}
	return &Ack{Message: "deleted", JobID: jobID}, nil
}

func (f *fakeGateway) RestartJob(_ context.Context, jobID string) (*Ack, error) {
	defer f.leave(jobID)
	if err := f.enter("RestartJob", jobID); err != nil {
		return nil, err
	}
	f.setStatus(jobID, StatusRunning)
	return &Ack{Message: "restarted", JobID: jobID, EvaluationID: f.nextEval}, nil
}

func (f *fakeGateway) setStatus(jobID string, status Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.authority {
		if f.authority[i].JobID == jobID {
			f.authority[i].Status = status
		}
	}
}
