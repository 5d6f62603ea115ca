package access

import (
	"context"
	"time"

	"github.com/mooncourt/arcana/profile"
)

// Entry is one append-only audit record. Denials are recorded with the same
// priority as grants; a pattern of denied attempts is itself a signal.
type Entry struct {
	UserID    string       `json:"user_id"`
	Role      profile.Role `json:"role"`
	SessionID string       `json:"session_id"`
	Kind      ContentKind  `json:"content_kind"`
	Granted   bool         `json:"granted"`
	Timestamp time.Time    `json:"timestamp"`
}

// Recorder appends audit entries to durable storage. Implementations must
// never mutate or drop earlier entries.
type Recorder interface {
	RecordAccess(ctx context.Context, entry Entry) error
}
