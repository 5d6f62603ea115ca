package session

import "errors"

// Transition errors. Both leave the session unchanged; callers distinguish
// them because the recovery differs: a state conflict means refetch and retry
// the intended action, an out-of-order open is surfaced as a no-op.
var (
	// ErrStateConflict is returned when a transition is attempted on a
	// non-active session, by the wrong actor, or against a stale revision.
	ErrStateConflict = errors.New("session state conflict")

	// ErrOutOfOrder is returned when an open targets a slot other than the
	// cursor: skipping ahead, or re-opening an already-opened slot.
	ErrOutOfOrder = errors.New("slot open out of order")
)
