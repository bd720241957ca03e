package jobs

import (
	"context"
	"slices"
	"time"
)

type Kind string

const (
	KindAnalyze  Kind = "analyze"
	KindImport   Kind = "import"
	KindDiff     Kind = "diff"
	KindWorkflow Kind = "workflow"
)

// Reapable reports whether finished jobs of this kind are removed by the TTL
// reaper. Diff jobs own large exported assets and are only released explicitly.
func (k Kind) Reapable() bool {
	return k != KindDiff
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Work is the body of a job. The returned value becomes the job result on
// success; a returned error (or a panic) fails the job with its message.
type Work func(ctx context.Context, h *Handle) (any, error)

type Job struct {
	ID         string     `json:"job_id"`
	Kind       Kind       `json:"kind"`
	Subject    string     `json:"subject,omitempty"`
	Status     Status     `json:"status"`
	Message    string     `json:"message"`
	Percent    int        `json:"percent"`
	Logs       []string   `json:"logs"`
	Result     any        `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	tmp := *job
	tmp.Logs = slices.Clone(job.Logs)
	if tmp.Logs == nil {
		tmp.Logs = []string{}
	}
	if job.FinishedAt != nil {
		finished := *job.FinishedAt
		tmp.FinishedAt = &finished
	}
	return &tmp
}
