package port

import (
	"context"
	"time"
)

// Job is one unit of background work.
type Job func(ctx context.Context) error

type JobState string

const (
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

type JobStatus struct {
	ID         string
	State      JobState
	Err        string
	StartedAt  time.Time
	FinishedAt time.Time
}

// JobRunner executes jobs as cancellable background tasks and remembers
// their terminal status for a while.
type JobRunner interface {
	Submit(id string, job Job) error
	Cancel(id string) bool
	Status(id string) (JobStatus, bool)
	Wait(ctx context.Context, id string) (JobStatus, error)
}

// RunLock is the per-account run token. TryAcquire returns the current
// holder when the token is taken.
type RunLock interface {
	TryAcquire(ctx context.Context, account, runID string, ttl time.Duration) (acquired bool, holder string, err error)
	Refresh(ctx context.Context, account, runID string, ttl time.Duration) error
	Release(ctx context.Context, account, runID string) error
}
