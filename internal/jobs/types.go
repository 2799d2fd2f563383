package jobs

import "encoding/json"

// Status is the job state reported by the scheduler.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
	StatusLost     Status = "lost"
	StatusDead     Status = "dead"
	StatusDegraded Status = "degraded"
	StatusBlocked  Status = "blocked"
)

// AllocationStatus is the state of one allocation as reported by the scheduler.
type AllocationStatus string

const (
	AllocPending  AllocationStatus = "pending"
	AllocRunning  AllocationStatus = "running"
	AllocComplete AllocationStatus = "complete"
	AllocFailed   AllocationStatus = "failed"
	AllocLost     AllocationStatus = "lost"
	AllocStopped  AllocationStatus = "stopped"
)

type Resources struct {
	CPU    int `json:"cpu"`
	Memory int `json:"memory"`
}

type TaskConfig struct {
	Command string `json:"command,omitempty"`
	Image   string `json:"image,omitempty"`
	Port    int    `json:"port,omitempty"`
}

// Task carries both the declared task and, inside an allocation, its runtime info.
type Task struct {
	Name      string     `json:"name"`
	Resources Resources  `json:"resources"`
	Config    TaskConfig `json:"config"`
	Status    string     `json:"status,omitempty"`
	StartTime *float64   `json:"start_time"`
	EndTime   *float64   `json:"end_time"`
	ExitCode  *int       `json:"exit_code,omitempty"`
}

type TaskGroup struct {
	Name  string `json:"name"`
	Tasks []Task `json:"tasks"`
}

type Constraints struct {
	Region string `json:"region"`
}

type Allocation struct {
	AllocationID string           `json:"allocation_id"`
	NodeID       string           `json:"node_id"`
	TaskGroup    string           `json:"task_group"`
	Status       AllocationStatus `json:"status"`
	StartTime    *float64         `json:"start_time"`
	EndTime      *float64         `json:"end_time"`
	Tasks        map[string]Task  `json:"tasks"`
}

// Job is one scheduled workload. JobID is the sole identity key.
type Job struct {
	JobID       string       `json:"job_id"`
	TaskGroups  []TaskGroup  `json:"task_groups"`
	Constraints Constraints  `json:"constraints"`
	Status      Status       `json:"status"`
	Allocations []Allocation `json:"allocations"`
}

// JobList is the payload of a full listing.
type JobList struct {
	Jobs  []Job `json:"jobs"`
	Count int   `json:"count"`
}

// Node is a scheduler client node as reported by GET /nodes.
type Node struct {
	NodeID      string          `json:"node_id"`
	Region      string          `json:"region"`
	Healthy     bool            `json:"healthy"`
	Resources   json.RawMessage `json:"resources,omitempty"`
	Allocations []Allocation    `json:"allocations,omitempty"`
}

type NodeList struct {
	Nodes []Node `json:"nodes"`
	Count int    `json:"count"`
}

// Spec is an opaque job specification. Only the scheduler validates it.
type Spec map[string]any

// JobID returns the caller-supplied job id carried by the spec, if any.
func (s Spec) JobID() string {
	if s == nil {
		return ""
	}
	for _, key := range []string{"job_id", "id"} {
		if v, ok := s[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// EvalResult is returned by submit and update.
type EvalResult struct {
	JobID        string `json:"job_id"`
	EvaluationID string `json:"evaluation_id"`
	Message      string `json:"message,omitempty"`
}

// Ack is returned by stop, delete and restart.
type Ack struct {
	Message      string `json:"message"`
	JobID        string `json:"job_id,omitempty"`
	EvaluationID string `json:"evaluation_id,omitempty"`
}

func cloneJob(job Job) Job {
	tmp := job
	if job.TaskGroups != nil {
		tmp.TaskGroups = make([]TaskGroup, len(job.TaskGroups))
		for i, tg := range job.TaskGroups {
			g := TaskGroup{Name: tg.Name}
			if tg.Tasks != nil {
				g.Tasks = make([]Task, len(tg.Tasks))
				for j, task := range tg.Tasks {
					g.Tasks[j] = cloneTask(task)
				}
			}
			tmp.TaskGroups[i] = g
		}
	}
	if job.Allocations != nil {
		tmp.Allocations = make([]Allocation, len(job.Allocations))
		for i, alloc := range job.Allocations {
			a := alloc
			a.StartTime = clonePtr(alloc.StartTime)
			a.EndTime = clonePtr(alloc.EndTime)
			if alloc.Tasks != nil {
				a.Tasks = make(map[string]Task, len(alloc.Tasks))
				for name, task := range alloc.Tasks {
					a.Tasks[name] = cloneTask(task)
				}
			}
			tmp.Allocations[i] = a
		}
	}
	return tmp
}

func cloneTask(task Task) Task {
	task.StartTime = clonePtr(task.StartTime)
	task.EndTime = clonePtr(task.EndTime)
	task.ExitCode = clonePtr(task.ExitCode)
	return task
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneJobs(in []Job) []Job {
	if in == nil {
		return nil
	}
	ret := make([]Job, len(in))
	for i, job := range in {
		ret[i] = cloneJob(job)
	}
	return ret
}
