package job

import (
	"context"
	"time"
)

// Type is the kind of work a job runs.
type Type string

const (
	TypeExtract Type = "extract"
	TypeMerge   Type = "merge"
	TypeReplace Type = "replace"
	TypeDub     Type = "dub"
)

// Status is the current state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Finished reports whether the job can no longer change.
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is a snapshot of a queued operation.
type Job struct {
	ID          string     `json:"id"`
	Type        Type       `json:"type"`
	Status      Status     `json:"status"`
	Progress    float64    `json:"progress"` // percent
	Error       string     `json:"error,omitempty"`
	Result      *Artifact  `json:"result,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Artifact describes a finished job's output without its bytes.
type Artifact struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	Taken       bool   `json:"taken"`
}

// Result is the output blob of a job. It is handed out once.
type Result struct {
	Name        string
	ContentType string
	Data        []byte
}

// Func runs one job. updateProgress takes percentages in [0, 100].
type Func func(ctx context.Context, updateProgress func(float64)) (*Result, error)
