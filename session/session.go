// Package session holds the reading-session record and its state machine.
//
// A session advances through exactly one legal move at a time: the cursor
// names the only slot that may be opened next, so concurrent writers cannot
// both succeed. Durability and mutual exclusion come from the storage layer's
// compare-and-swap on the session revision, not from locks held here.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/mooncourt/arcana/tarot"
)

// Status is the lifecycle state of a reading session.
type Status string

const (
	StatusActive    Status = "active"
	StatusComplete  Status = "complete"
	StatusAbandoned Status = "abandoned"
)

// Category classifies the question a reading addresses. It selects the
// interpretation prompt template.
type Category string

const (
	CategoryGeneral      Category = "general"
	CategoryLove         Category = "love"
	CategoryCareer       Category = "career"
	CategorySpirituality Category = "spirituality"
)

// KnownCategories lists every category the engine accepts.
var KnownCategories = []Category{CategoryGeneral, CategoryLove, CategoryCareer, CategorySpirituality}

// ValidCategory reports whether c is a known category.
func ValidCategory(c Category) bool {
	for _, k := range KnownCategories {
		if c == k {
			return true
		}
	}
	return false
}

// SlotState is the per-position state of a session. A slot is opened at most
// once, strictly after every slot to its left.
type SlotState struct {
	Index      int         `json:"index"`
	Opened     bool        `json:"opened"`
	Card       *tarot.Card `json:"card,omitempty"`
	IsReversed bool        `json:"is_reversed"`
	OpenedAt   *time.Time  `json:"opened_at,omitempty"`
}

// ReadingSession is the single authoritative record for one reading. It is
// mutated only through the transition functions in this package, then written
// back with a conditional update keyed on the revision it was loaded at.
type ReadingSession struct {
	ID        string      `json:"id"`
	SpreadID  string      `json:"spread_id"`
	ClientID  string      `json:"client_id"`
	ReaderID  string      `json:"reader_id,omitempty"`
	Question  string      `json:"question"`
	Category  Category    `json:"category"`
	Slots     []SlotState `json:"slots"`
	Cursor    int         `json:"cursor"`
	Status    Status      `json:"status"`
	CreatedAt time.Time   `json:"created_at"`

	// EventSeq is the per-session realtime sequence number. It advances with
	// every successful transition, in the same conditional write as the state
	// change, so event ordering is anchored to the record itself.
	EventSeq uint64 `json:"event_seq"`
}

// New creates an active session sized to the spread's position count.
func New(spreadID, clientID, readerID, question string, category Category, positions int) *ReadingSession {
	slots := make([]SlotState, positions)
	for i := range slots {
		slots[i].Index = i
	}
	return &ReadingSession{
		ID:        uuid.New().String(),
		SpreadID:  spreadID,
		ClientID:  clientID,
		ReaderID:  readerID,
		Question:  question,
		Category:  category,
		Slots:     slots,
		Cursor:    0,
		Status:    StatusActive,
		CreatedAt: time.Now().UTC(),
	}
}

// ReversedRatio returns the fraction of opened slots whose card is reversed.
// Sessions with no opened slots have ratio 0.
func (s *ReadingSession) ReversedRatio() float64 {
	opened, reversed := 0, 0
	for _, slot := range s.Slots {
		if !slot.Opened {
			continue
		}
		opened++
		if slot.IsReversed {
			reversed++
		}
	}
	if opened == 0 {
		return 0
	}
	return float64(reversed) / float64(opened)
}

// Clone returns a deep copy suitable for mutation by a transition function.
func (s *ReadingSession) Clone() *ReadingSession {
	out := *s
	out.Slots = make([]SlotState, len(s.Slots))
	copy(out.Slots, s.Slots)
	for i := range out.Slots {
		if s.Slots[i].Card != nil {
			card := *s.Slots[i].Card
			out.Slots[i].Card = &card
		}
		if s.Slots[i].OpenedAt != nil {
			t := *s.Slots[i].OpenedAt
			out.Slots[i].OpenedAt = &t
		}
	}
	return &out
}
