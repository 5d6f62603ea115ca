package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/mooncourt/arcana/insight"
	"github.com/mooncourt/arcana/llm"
	"github.com/mooncourt/arcana/session"
	"github.com/mooncourt/arcana/spread"
)

// Generator is the external text-generation call. The worker performs exactly
// one model invocation per delivery; retries happen at the queue level so the
// job record's attempt count matches reality.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// SessionReader loads sessions for interpretation.
type SessionReader interface {
	GetSession(ctx context.Context, id string) (*session.ReadingSession, uint64, error)
}

// InsightWriter persists finished insights.
type InsightWriter interface {
	PutInsight(ctx context.Context, ins *insight.Insight) error
}

// WorkerConfig tunes the worker loop.
type WorkerConfig struct {
	// ConsumerName is the durable consumer shared by all workers.
	ConsumerName string

	// LeaseTTL is the ack deadline: how long a worker may hold a job between
	// heartbeats before the queue reclaims it.
	LeaseTTL time.Duration

	// MaxAttempts caps deliveries per job before it is marked failed.
	MaxAttempts int

	// ModelTimeout bounds one generation call. It must be comfortably below
	// LeaseTTL so a slow model never outlives the lease silently; the
	// heartbeat covers the gap.
	ModelTimeout time.Duration

	// RetryBackoffBase and RetryBackoffMax shape redelivery delays.
	RetryBackoffBase time.Duration
	RetryBackoffMax  time.Duration

	// Confidence parameterizes the scoring heuristic.
	Confidence insight.ConfidenceParams
}

// DefaultWorkerConfig returns production defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		ConsumerName:     "insight-workers",
		LeaseTTL:         2 * time.Minute,
		MaxAttempts:      5,
		ModelTimeout:     90 * time.Second,
		RetryBackoffBase: 5 * time.Second,
		RetryBackoffMax:  2 * time.Minute,
		Confidence:       insight.DefaultConfidenceParams(),
	}
}

// Worker consumes the insight work queue.
type Worker struct {
	cfg       WorkerConfig
	jobs      JobStore
	sessions  SessionReader
	insights  InsightWriter
	catalog   *spread.Catalog
	generator Generator
	logger    *slog.Logger

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	consumer jetstream.Consumer
}

// NewWorker creates a worker.
func NewWorker(cfg WorkerConfig, jobs JobStore, sessions SessionReader, insights InsightWriter, catalog *spread.Catalog, generator Generator, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = DefaultWorkerConfig().ConsumerName
	}
	return &Worker{
		cfg:       cfg,
		jobs:      jobs,
		sessions:  sessions,
		insights:  insights,
		catalog:   catalog,
		generator: generator,
		logger:    logger,
	}
}

// Start provisions the durable consumer and begins the fetch loop.
func (w *Worker) Start(ctx context.Context, js jetstream.JetStream) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("worker already running")
	}
	w.running = true
	subCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	stream, err := EnsureStream(subCtx, js)
	if err != nil {
		w.rollbackStart(cancel)
		return fmt.Errorf("ensure insight stream: %w", err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(subCtx, jetstream.ConsumerConfig{
		Durable:    w.cfg.ConsumerName,
		AckPolicy:  jetstream.AckExplicitPolicy,
		AckWait:    w.cfg.LeaseTTL,
		MaxDeliver: w.cfg.MaxAttempts,
	})
	if err != nil {
		w.rollbackStart(cancel)
		return fmt.Errorf("create consumer: %w", err)
	}
	w.consumer = consumer

	go w.consumeLoop(subCtx)
	go w.sweepLoop(subCtx)

	w.logger.Info("insight worker started",
		"stream", StreamName,
		"consumer", w.cfg.ConsumerName,
		"lease_ttl", w.cfg.LeaseTTL,
		"max_attempts", w.cfg.MaxAttempts)
	return nil
}

func (w *Worker) rollbackStart(cancel context.CancelFunc) {
	w.mu.Lock()
	w.running = false
	w.cancel = nil
	w.mu.Unlock()
	cancel()
}

// Stop halts the fetch loop.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.running = false
}

func (w *Worker) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := w.consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Debug("fetch timeout or error", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			w.handleMessage(ctx, msg)
		}
	}
}

// handleMessage runs one delivery of one job.
func (w *Worker) handleMessage(ctx context.Context, msg jetstream.Msg) {
	if ctx.Err() != nil {
		if err := msg.Nak(); err != nil {
			w.logger.Warn("nak during shutdown failed", "error", err)
		}
		return
	}

	var trigger Trigger
	if err := json.Unmarshal(msg.Data(), &trigger); err != nil {
		w.logger.Error("malformed trigger, discarding", "error", err)
		w.term(msg)
		return
	}

	attempt := 1
	if meta, err := msg.Metadata(); err == nil {
		attempt = int(meta.NumDelivered)
	}

	logger := w.logger.With("session_id", trigger.SessionID, "attempt", attempt)

	job, err := w.jobs.GetJob(ctx, trigger.SessionID)
	if err != nil {
		logger.Error("job record missing for trigger, discarding", "error", err)
		w.term(msg)
		return
	}
	if job.Status.Terminal() {
		// Redelivery of already-finished work; the record is the truth.
		logger.Debug("job already terminal, acking duplicate trigger", "status", job.Status)
		w.ack(msg)
		return
	}

	startedAt := time.Now().UTC()
	job.Status = insight.JobRunning
	job.Attempts = attempt
	job.StartedAt = &startedAt
	job.NextRetryAt = nil
	if err := w.jobs.PutJob(ctx, job); err != nil {
		logger.Error("mark job running failed", "error", err)
		w.nakWithBackoff(msg, attempt)
		return
	}

	// Heartbeat while the model call runs so the lease outlives a slow
	// generation without giving up crash detection.
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go w.heartbeat(hbCtx, msg, logger)

	ins, genErr := w.generate(ctx, trigger.SessionID, logger)
	stopHeartbeat()

	switch {
	case genErr == nil:
		if err := w.insights.PutInsight(ctx, ins); err != nil {
			logger.Error("persist insight failed", "error", err)
			w.nakWithBackoff(msg, attempt)
			return
		}
		w.finishJob(ctx, job, insight.JobSucceeded, "")
		jobsSucceeded.Inc()
		logger.Info("insight generated", "confidence", ins.Confidence, "degraded", ins.Degraded)
		w.ack(msg)

	case isPermanent(genErr):
		w.finishJob(ctx, job, insight.JobFailed, genErr.Error())
		jobsFailed.Inc()
		logger.Error("job failed permanently", "error", genErr)
		w.term(msg)

	case attempt >= w.cfg.MaxAttempts:
		w.finishJob(ctx, job, insight.JobFailed, genErr.Error())
		jobsFailed.Inc()
		logger.Error("job failed after attempt ceiling", "error", genErr)
		w.term(msg)

	default:
		backoff := w.backoff(attempt)
		retryAt := time.Now().UTC().Add(backoff)
		job.Status = insight.JobQueued
		job.LastError = genErr.Error()
		job.NextRetryAt = &retryAt
		if err := w.jobs.PutJob(ctx, job); err != nil {
			logger.Error("record retry state failed", "error", err)
		}
		jobsRetried.Inc()
		logger.Warn("transient failure, scheduling retry", "backoff", backoff, "error", genErr)
		if err := msg.NakWithDelay(backoff); err != nil {
			logger.Warn("nak with delay failed", "error", err)
		}
	}
}

func (w *Worker) sweepLoop(ctx context.Context) {
	interval := w.cfg.LeaseTTL
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweepStaleJobs(ctx)
		}
	}
}

// sweepStaleJobs fails running jobs whose final delivery died with its
// worker. Earlier deliveries come back when the lease lapses, but the queue
// stops redelivering after the last one, so nothing else would ever move
// such a record off running. A live final delivery cannot trip the sweep:
// the model timeout is bounded below the lease, far inside the cutoff.
func (w *Worker) sweepStaleJobs(ctx context.Context) {
	jobs, err := w.jobs.ListJobs(ctx)
	if err != nil {
		w.logger.Warn("stale job sweep failed", "error", err)
		return
	}

	staleAfter := 2 * w.cfg.LeaseTTL
	if staleAfter <= 0 {
		staleAfter = 4 * time.Minute
	}
	cutoff := time.Now().UTC().Add(-staleAfter)

	for _, job := range jobs {
		if job.Status != insight.JobRunning || job.Attempts < w.cfg.MaxAttempts {
			continue
		}
		if job.StartedAt == nil || job.StartedAt.After(cutoff) {
			continue
		}
		w.finishJob(ctx, job, insight.JobFailed, "worker lost during final delivery")
		jobsFailed.Inc()
		w.logger.Error("failed stale running job",
			"session_id", job.SessionID,
			"attempts", job.Attempts,
			"started_at", job.StartedAt)
	}
}

// isPermanent reports whether a generation error should fail the job without
// retry: missing templates are configuration errors and fatal model errors
// repeat identically.
func isPermanent(err error) bool {
	return errors.Is(err, insight.ErrNoTemplate) || llm.IsFatal(err)
}

func (w *Worker) finishJob(ctx context.Context, job *insight.Job, status insight.JobStatus, lastError string) {
	now := time.Now().UTC()
	job.Status = status
	job.LastError = lastError
	job.NextRetryAt = nil
	job.CompletedAt = &now
	if err := w.jobs.PutJob(ctx, job); err != nil {
		w.logger.Error("finalize job record failed", "session_id", job.SessionID, "status", status, "error", err)
	}
}

func (w *Worker) heartbeat(ctx context.Context, msg jetstream.Msg, logger *slog.Logger) {
	interval := w.cfg.LeaseTTL / 3
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := msg.InProgress(); err != nil {
				logger.Warn("lease heartbeat failed", "error", err)
				return
			}
		}
	}
}

func (w *Worker) backoff(attempt int) time.Duration {
	backoff := w.cfg.RetryBackoffBase
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= w.cfg.RetryBackoffMax {
			return w.cfg.RetryBackoffMax
		}
	}
	return backoff
}

func (w *Worker) nakWithBackoff(msg jetstream.Msg, attempt int) {
	if err := msg.NakWithDelay(w.backoff(attempt)); err != nil {
		w.logger.Warn("nak failed", "error", err)
	}
}

func (w *Worker) ack(msg jetstream.Msg) {
	if err := msg.Ack(); err != nil {
		w.logger.Warn("ack failed", "error", err)
	}
}

func (w *Worker) term(msg jetstream.Msg) {
	if err := msg.Term(); err != nil {
		w.logger.Warn("term failed", "error", err)
	}
}
