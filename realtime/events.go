// Package realtime fans out session state changes to joined clients, readers,
// and observers. The channel never originates state: every event is the
// consequence of a successful state-machine transition, and the sequence
// number comes from the session record itself, so receivers can detect
// duplicates and gaps.
package realtime

import (
	"fmt"

	"github.com/mooncourt/arcana/tarot"
)

// EventKind is the tagged event type. An enum instead of free-form strings so
// consumers can handle the vocabulary exhaustively.
type EventKind string

const (
	EventJoined           EventKind = "joined"
	EventSlotOpened       EventKind = "slot_opened"
	EventSessionCompleted EventKind = "session_completed"
	EventSessionAbandoned EventKind = "session_abandoned"
)

// SlotOpenedPayload carries the revealed card for a slot_opened event.
type SlotOpenedPayload struct {
	Index      int        `json:"index"`
	Card       tarot.Card `json:"card"`
	IsReversed bool       `json:"is_reversed"`
}

// Event is one per-session broadcast message.
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"session_id"`

	// Sequence is the session's event sequence at emission. Per session it is
	// delivered to each member in non-decreasing order; a member that sees a
	// gap refetches the snapshot rather than reconciling.
	Sequence uint64 `json:"sequence"`

	// Role is set on joined events.
	Role ChannelRole `json:"role,omitempty"`

	// Slot is set on slot_opened events.
	Slot *SlotOpenedPayload `json:"slot,omitempty"`
}

// Validate checks that the event carries the payload its kind requires.
func (e Event) Validate() error {
	if e.SessionID == "" {
		return fmt.Errorf("event missing session id")
	}
	switch e.Kind {
	case EventJoined:
		if e.Role == "" {
			return fmt.Errorf("joined event missing role")
		}
	case EventSlotOpened:
		if e.Slot == nil {
			return fmt.Errorf("slot_opened event missing slot payload")
		}
	case EventSessionCompleted, EventSessionAbandoned:
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}
