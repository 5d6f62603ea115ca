package insight

import "time"

// JobStatus is the lifecycle state of an interpretation job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// Job tracks one session's interpretation work. At most one job exists per
// session (enqueue is keyed by session id) and at most one worker holds it at
// a time; the queue's ack deadline acts as the worker lease, so a crashed
// worker's job is redelivered instead of sticking in running forever.
type Job struct {
	SessionID string    `json:"session_id"`
	Status    JobStatus `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`

	// StartedAt marks the most recent delivery; a running job whose start is
	// far past the lease belongs to a dead worker.
	StartedAt   *time.Time `json:"started_at,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
