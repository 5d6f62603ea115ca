package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mooncourt/arcana/insight"
	"github.com/mooncourt/arcana/profile"
)

// ErrDenied is the gate's normal negative outcome, not an exceptional
// failure: the attempt was valid, the role just may not see the content.
var ErrDenied = errors.New("access denied")

// ContentSource loads guarded content. Implemented by storage.Store and
// storage.MemoryStore.
type ContentSource interface {
	GetInsight(ctx context.Context, sessionID string) (*insight.Insight, error)
	GetInterpretation(ctx context.Context, sessionID string) (*insight.HumanInterpretation, error)
}

// Viewer is the only sanctioned path to guarded content. It pairs the gate
// check with the audit append inside one operation, so a caller can never
// run the two out of sync or forget the log on the denial path.
type Viewer struct {
	source   ContentSource
	recorder Recorder
	logger   *slog.Logger
}

// NewViewer creates a viewer.
func NewViewer(source ContentSource, recorder Recorder, logger *slog.Logger) *Viewer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Viewer{source: source, recorder: recorder, logger: logger}
}

// ViewAIContent returns the session's AI insight for an authorized role, or
// ErrDenied. Every attempt appends exactly one audit entry either way.
func (v *Viewer) ViewAIContent(ctx context.Context, user profile.Profile, sessionID string) (*insight.Insight, error) {
	granted := CanView(user.Role, ContentAIInsight)
	if err := v.record(ctx, user, sessionID, ContentAIInsight, granted); err != nil {
		return nil, err
	}
	if !granted {
		return nil, fmt.Errorf("role %s may not view AI content: %w", user.Role, ErrDenied)
	}
	return v.source.GetInsight(ctx, sessionID)
}

// ViewHumanInterpretation returns the reader-authored interpretation for an
// authorized role, or ErrDenied, with the same unconditional audit append.
func (v *Viewer) ViewHumanInterpretation(ctx context.Context, user profile.Profile, sessionID string) (*insight.HumanInterpretation, error) {
	granted := CanView(user.Role, ContentHumanInterpretation)
	if err := v.record(ctx, user, sessionID, ContentHumanInterpretation, granted); err != nil {
		return nil, err
	}
	if !granted {
		return nil, fmt.Errorf("role %s may not view interpretation: %w", user.Role, ErrDenied)
	}
	return v.source.GetInterpretation(ctx, sessionID)
}

// record appends the audit entry. If the append fails the content is
// withheld: an unaudited grant is worse than a failed read.
func (v *Viewer) record(ctx context.Context, user profile.Profile, sessionID string, kind ContentKind, granted bool) error {
	entry := Entry{
		UserID:    user.ID,
		Role:      user.Role,
		SessionID: sessionID,
		Kind:      kind,
		Granted:   granted,
		Timestamp: time.Now().UTC(),
	}
	if err := v.recorder.RecordAccess(ctx, entry); err != nil {
		v.logger.Error("audit append failed",
			"session_id", sessionID,
			"user_id", user.ID,
			"kind", kind,
			"error", err)
		return fmt.Errorf("record access attempt: %w", err)
	}

	if granted {
		accessGranted.WithLabelValues(string(kind)).Inc()
	} else {
		accessDenied.WithLabelValues(string(kind)).Inc()
		v.logger.Warn("content access denied",
			"session_id", sessionID,
			"user_id", user.ID,
			"role", user.Role,
			"kind", kind)
	}
	return nil
}
