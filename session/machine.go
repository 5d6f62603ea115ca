package session

import (
	"fmt"
	"time"

	"github.com/mooncourt/arcana/tarot"
)

// OpenResult describes the effect of a successful OpenSlot transition.
type OpenResult struct {
	Slot      SlotState
	Completed bool

	// SlotSeq is the event sequence assigned to the slot opening.
	// CompletedSeq is set when the opening also completed the session; the
	// completion gets its own sequence so the two events stay ordered.
	SlotSeq      uint64
	CompletedSeq uint64
}

// OpenSlot applies the card-opening transition in place. It succeeds only
// when the session is active, the actor is the session's client, and the
// requested slot is exactly the cursor. On success the slot receives the next
// card from the deck, the cursor advances, the event sequence increments, and
// opening the final slot moves the session to complete.
//
// The transition is all-or-nothing: any rejection leaves s untouched.
func OpenSlot(s *ReadingSession, actorID string, slotIndex int, deck *tarot.Deck, now time.Time) (OpenResult, error) {
	if s.Status != StatusActive {
		return OpenResult{}, fmt.Errorf("open slot %d on %s session %s: %w", slotIndex, s.Status, s.ID, ErrStateConflict)
	}
	if actorID != s.ClientID {
		return OpenResult{}, fmt.Errorf("actor %s is not the client of session %s: %w", actorID, s.ID, ErrStateConflict)
	}
	if slotIndex < 0 || slotIndex >= len(s.Slots) {
		return OpenResult{}, fmt.Errorf("slot %d out of range for %d-slot session %s: %w", slotIndex, len(s.Slots), s.ID, ErrOutOfOrder)
	}
	if slotIndex != s.Cursor {
		return OpenResult{}, fmt.Errorf("slot %d requested, cursor at %d: %w", slotIndex, s.Cursor, ErrOutOfOrder)
	}

	card, reversed, err := deck.Draw()
	if err != nil {
		return OpenResult{}, fmt.Errorf("draw for slot %d of session %s: %w", slotIndex, s.ID, err)
	}

	openedAt := now.UTC()
	s.Slots[slotIndex].Opened = true
	s.Slots[slotIndex].Card = &card
	s.Slots[slotIndex].IsReversed = reversed
	s.Slots[slotIndex].OpenedAt = &openedAt
	s.Cursor++
	s.EventSeq++

	result := OpenResult{Slot: s.Slots[slotIndex], SlotSeq: s.EventSeq}
	if s.Cursor == len(s.Slots) {
		s.Status = StatusComplete
		s.EventSeq++
		result.Completed = true
		result.CompletedSeq = s.EventSeq
	}
	return result, nil
}

// Abandon moves an active session to abandoned. The client or the assigned
// reader may abandon; nobody else. No further transitions are permitted and
// no interpretation job is enqueued for an abandoned session.
func Abandon(s *ReadingSession, actorID string) error {
	if s.Status != StatusActive {
		return fmt.Errorf("abandon %s session %s: %w", s.Status, s.ID, ErrStateConflict)
	}
	if actorID != s.ClientID && (s.ReaderID == "" || actorID != s.ReaderID) {
		return fmt.Errorf("actor %s may not abandon session %s: %w", actorID, s.ID, ErrStateConflict)
	}

	s.Status = StatusAbandoned
	s.EventSeq++
	return nil
}
