// Package orchestrator glues the session state machine to storage, the
// realtime channel, and the interpretation pipeline. It owns the write path:
// every session mutation flows through a transition function and one
// conditional storage update, then fans out as events.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mooncourt/arcana/insight"
	"github.com/mooncourt/arcana/realtime"
	"github.com/mooncourt/arcana/session"
	"github.com/mooncourt/arcana/spread"
	"github.com/mooncourt/arcana/storage"
	"github.com/mooncourt/arcana/tarot"
)

// SessionStore is the storage surface the orchestrator mutates sessions
// through. Implemented by storage.Store and storage.MemoryStore.
type SessionStore interface {
	CreateSession(ctx context.Context, sess *session.ReadingSession) error
	GetSession(ctx context.Context, id string) (*session.ReadingSession, uint64, error)
	UpdateSession(ctx context.Context, sess *session.ReadingSession, revision uint64) (uint64, error)
	PutInterpretation(ctx context.Context, hi *insight.HumanInterpretation) error
}

// InsightEnqueuer schedules interpretation work for a completed session.
// Enqueue must be idempotent per session id.
type InsightEnqueuer interface {
	Enqueue(ctx context.Context, sessionID string) error
}

// Config tunes orchestrator behavior.
type Config struct {
	// ReversedProbability is the chance a drawn card lands reversed.
	ReversedProbability float64

	// EnqueueRetryDelay spaces background retries of a failed insight
	// enqueue. Zero uses a 2s default.
	EnqueueRetryDelay time.Duration
}

// Orchestrator coordinates one deployment's reading sessions.
type Orchestrator struct {
	store    SessionStore
	catalog  *spread.Catalog
	broker   realtime.Broker
	enqueuer InsightEnqueuer
	cfg      Config
	logger   *slog.Logger
}

// New creates an orchestrator. The enqueuer may be nil in read-only tooling;
// session completion then skips AI scheduling.
func New(store SessionStore, catalog *spread.Catalog, broker realtime.Broker, enqueuer InsightEnqueuer, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:    store,
		catalog:  catalog,
		broker:   broker,
		enqueuer: enqueuer,
		cfg:      cfg,
		logger:   logger,
	}
}

// StartSession creates a new active session for the client on the given
// spread.
func (o *Orchestrator) StartSession(ctx context.Context, clientID, readerID, question string, category session.Category, spreadID string) (*session.ReadingSession, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, fmt.Errorf("client id is required")
	}
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("question is required")
	}
	if !session.ValidCategory(category) {
		return nil, fmt.Errorf("unknown category %q", category)
	}
	def, ok := o.catalog.Get(spreadID)
	if !ok {
		return nil, fmt.Errorf("unknown spread %q", spreadID)
	}

	sess := session.New(spreadID, clientID, readerID, question, category, def.Size())
	if err := o.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	o.logger.Info("session started",
		"session_id", sess.ID,
		"spread", spreadID,
		"category", category,
		"client_id", clientID)
	sessionsStarted.Inc()

	return sess, nil
}

// GetSession returns the current session state.
func (o *Orchestrator) GetSession(ctx context.Context, sessionID string) (*session.ReadingSession, error) {
	sess, _, err := o.store.GetSession(ctx, sessionID)
	return sess, err
}

// Spread returns the spread definition backing a session.
func (o *Orchestrator) Spread(sessionID string, sess *session.ReadingSession) (*spread.Definition, error) {
	def, ok := o.catalog.Get(sess.SpreadID)
	if !ok {
		return nil, fmt.Errorf("session %s references unknown spread %q", sessionID, sess.SpreadID)
	}
	return def, nil
}

// OpenSlot opens the next slot for the client. A concurrent open of the same
// session loses the conditional update and surfaces as a state conflict; the
// caller refetches the snapshot and retries its intended action.
func (o *Orchestrator) OpenSlot(ctx context.Context, sessionID, actorID string, slotIndex int) (session.OpenResult, error) {
	sess, revision, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return session.OpenResult{}, err
	}

	deck, err := tarot.SessionDeck(sess.ID, tarot.MajorArcana, o.cfg.ReversedProbability, sess.Cursor)
	if err != nil {
		return session.OpenResult{}, fmt.Errorf("build session deck: %w", err)
	}

	result, err := session.OpenSlot(sess, actorID, slotIndex, deck, time.Now())
	if err != nil {
		return session.OpenResult{}, err
	}

	if _, err := o.store.UpdateSession(ctx, sess, revision); err != nil {
		if errors.Is(err, storage.ErrRevisionMismatch) {
			return session.OpenResult{}, fmt.Errorf("session %s changed underneath open: %w", sessionID, session.ErrStateConflict)
		}
		return session.OpenResult{}, err
	}

	slotsOpened.Inc()
	o.publish(ctx, realtime.Event{
		Kind:      realtime.EventSlotOpened,
		SessionID: sess.ID,
		Sequence:  result.SlotSeq,
		Slot: &realtime.SlotOpenedPayload{
			Index:      result.Slot.Index,
			Card:       *result.Slot.Card,
			IsReversed: result.Slot.IsReversed,
		},
	})

	if result.Completed {
		sessionsCompleted.Inc()
		o.publish(ctx, realtime.Event{
			Kind:      realtime.EventSessionCompleted,
			SessionID: sess.ID,
			Sequence:  result.CompletedSeq,
		})
		o.enqueueInsight(ctx, sess.ID)
	}

	return result, nil
}

// Abandon moves an active session to abandoned. It does not cancel an
// in-flight interpretation job; a finished job's result is simply never
// surfaced.
func (o *Orchestrator) Abandon(ctx context.Context, sessionID, actorID string) error {
	sess, revision, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if err := session.Abandon(sess, actorID); err != nil {
		return err
	}

	if _, err := o.store.UpdateSession(ctx, sess, revision); err != nil {
		if errors.Is(err, storage.ErrRevisionMismatch) {
			return fmt.Errorf("session %s changed underneath abandon: %w", sessionID, session.ErrStateConflict)
		}
		return err
	}

	sessionsAbandoned.Inc()
	o.publish(ctx, realtime.Event{
		Kind:      realtime.EventSessionAbandoned,
		SessionID: sess.ID,
		Sequence:  sess.EventSeq,
	})
	return nil
}

// SubmitInterpretation stores the reader-authored interpretation for a
// completed session. Only the assigned reader may submit.
func (o *Orchestrator) SubmitInterpretation(ctx context.Context, sessionID, readerID, body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("interpretation body is required")
	}

	sess, _, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status != session.StatusComplete {
		return fmt.Errorf("interpret %s session %s: %w", sess.Status, sessionID, session.ErrStateConflict)
	}
	if sess.ReaderID == "" || readerID != sess.ReaderID {
		return fmt.Errorf("actor %s is not the reader of session %s: %w", readerID, sessionID, session.ErrStateConflict)
	}

	return o.store.PutInterpretation(ctx, &insight.HumanInterpretation{
		SessionID: sessionID,
		ReaderID:  readerID,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	})
}

// publish fans out an event. Broadcast failures don't fail the transition:
// the state change is already durable and members recover via snapshot.
func (o *Orchestrator) publish(ctx context.Context, event realtime.Event) {
	if o.broker == nil {
		return
	}
	if err := o.broker.Publish(ctx, event); err != nil {
		o.logger.Warn("event publish failed",
			"session_id", event.SessionID,
			"kind", event.Kind,
			"sequence", event.Sequence,
			"error", err)
	}
}

// enqueueRetryAttempts bounds the background repair loop after a failed
// synchronous enqueue.
const enqueueRetryAttempts = 3

// enqueueInsight schedules interpretation work. Enqueue failures never fail
// the transition: AI assistance is not allowed to break the reading itself.
// A failure instead hands off to a background retry loop so the job is not
// stranded behind a transient publish error.
func (o *Orchestrator) enqueueInsight(ctx context.Context, sessionID string) {
	if o.enqueuer == nil {
		return
	}
	if err := o.enqueuer.Enqueue(ctx, sessionID); err != nil {
		o.logger.Error("insight enqueue failed, retrying in background", "session_id", sessionID, "error", err)
		go o.retryEnqueue(sessionID)
	}
}

// retryEnqueue drives the enqueue to completion after a synchronous failure.
// The enqueuer re-publishes the trigger for a job record left queued with no
// deliveries, so repeating the whole call never double-schedules work.
func (o *Orchestrator) retryEnqueue(sessionID string) {
	delay := o.cfg.EnqueueRetryDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	for attempt := 1; attempt <= enqueueRetryAttempts; attempt++ {
		time.Sleep(delay * time.Duration(attempt))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := o.enqueuer.Enqueue(ctx, sessionID)
		cancel()
		if err == nil {
			o.logger.Info("insight enqueue recovered", "session_id", sessionID, "attempt", attempt)
			return
		}
		o.logger.Error("insight enqueue retry failed", "session_id", sessionID, "attempt", attempt, "error", err)
	}
	o.logger.Error("insight enqueue abandoned", "session_id", sessionID, "attempts", enqueueRetryAttempts)
}
