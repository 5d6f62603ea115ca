// Package pipeline runs the AI interpretation jobs: idempotent enqueue onto
// a durable JetStream work queue, and workers that render prompts, call the
// generation model, validate the response, score it, and persist the result.
//
// The queue's ack deadline doubles as the worker lease. A worker that dies
// mid-job stops heartbeating, the ack deadline lapses, and the message is
// redelivered to another worker. The final allowed delivery has no redelivery
// behind it, so a periodic sweep fails jobs stranded there; between the two,
// no job sticks in running forever. One message per session also gives the
// at-most-one-in-flight invariant for free: a second worker cannot hold a
// session's job while the first one's lease is live.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/mooncourt/arcana/insight"
	"github.com/mooncourt/arcana/storage"
)

// Stream configuration.
const (
	StreamName    = "ARCANA_INSIGHTS"
	subjectPrefix = "arcana.insight.generate."
	subjectWild   = subjectPrefix + ">"
)

// TriggerSubject returns the generate-trigger subject for one session.
func TriggerSubject(sessionID string) string {
	return subjectPrefix + sessionID
}

// Trigger is the work-queue message scheduling one session's interpretation.
type Trigger struct {
	SessionID string `json:"session_id"`
}

// EnsureStream provisions the insight work queue. Work-queue retention
// removes a message once a consumer acks it.
func EnsureStream(ctx context.Context, js jetstream.JetStream) (jetstream.Stream, error) {
	return js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Arcana interpretation job queue",
		Subjects:    []string{subjectWild},
		Retention:   jetstream.WorkQueuePolicy,
	})
}

// JobStore is the job-record surface the pipeline uses.
type JobStore interface {
	CreateJob(ctx context.Context, job *insight.Job) error
	GetJob(ctx context.Context, sessionID string) (*insight.Job, error)
	PutJob(ctx context.Context, job *insight.Job) error
	ListJobs(ctx context.Context) ([]*insight.Job, error)
}

// Enqueuer schedules interpretation work, at most once per session.
type Enqueuer struct {
	jobs   JobStore
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewEnqueuer creates an enqueuer. EnsureStream must have run before the
// first Enqueue.
func NewEnqueuer(jobs JobStore, js jetstream.JetStream, logger *slog.Logger) *Enqueuer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enqueuer{jobs: jobs, js: js, logger: logger}
}

// Enqueue creates the job record and publishes the work-queue trigger. The
// create is the idempotency point: a second enqueue for a session whose job
// already exists and has made progress is a logged no-op. A job still queued
// with zero attempts gets its trigger published again, so a publish failure
// (or a crash between the create and the publish) heals on the next enqueue
// instead of stranding the job.
func (e *Enqueuer) Enqueue(ctx context.Context, sessionID string) error {
	job := &insight.Job{
		SessionID:  sessionID,
		Status:     insight.JobQueued,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := e.jobs.CreateJob(ctx, job); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return e.republishIfStranded(ctx, sessionID)
		}
		return fmt.Errorf("create job record: %w", err)
	}

	if err := e.publishTrigger(ctx, sessionID); err != nil {
		return err
	}

	jobsEnqueued.Inc()
	e.logger.Info("insight job enqueued", "session_id", sessionID)
	return nil
}

// republishIfStranded handles the enqueue-after-create path. A queued job
// with zero attempts has no delivery behind it, so its trigger either never
// landed or is still waiting in the queue; publishing again is safe either
// way because workers ack duplicate triggers once the record is terminal.
// Any other state means a worker has already picked the job up.
func (e *Enqueuer) republishIfStranded(ctx context.Context, sessionID string) error {
	existing, err := e.jobs.GetJob(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load existing job: %w", err)
	}
	if existing.Status != insight.JobQueued || existing.Attempts > 0 {
		e.logger.Debug("insight job already enqueued", "session_id", sessionID, "status", existing.Status)
		return nil
	}
	if err := e.publishTrigger(ctx, sessionID); err != nil {
		return err
	}
	e.logger.Info("re-published trigger for queued job", "session_id", sessionID)
	return nil
}

func (e *Enqueuer) publishTrigger(ctx context.Context, sessionID string) error {
	data, err := json.Marshal(Trigger{SessionID: sessionID})
	if err != nil {
		return fmt.Errorf("marshal trigger: %w", err)
	}
	if _, err := e.js.Publish(ctx, TriggerSubject(sessionID), data); err != nil {
		return fmt.Errorf("publish trigger: %w", err)
	}
	return nil
}
