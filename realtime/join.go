package realtime

import (
	"errors"
	"fmt"

	"github.com/mooncourt/arcana/session"
)

// ChannelRole is an actor's role on one session channel, distinct from the
// platform role: a platform admin may join a channel as an observer.
type ChannelRole string

const (
	// RoleClient is the session owner. Exactly one per session.
	RoleClient ChannelRole = "client"
	// RoleReader is the assigned reader. Zero or one per session.
	RoleReader ChannelRole = "reader"
	// RoleObserver is read-only. Zero or more per session.
	RoleObserver ChannelRole = "observer"
)

// ErrJoinRejected is returned when an actor may not join a channel in the
// requested role.
var ErrJoinRejected = errors.New("join rejected")

// ValidateJoin checks that the actor is permitted for the role on this
// session: client and reader identity must match the session record;
// observers are always admitted read-only.
func ValidateJoin(sess *session.ReadingSession, role ChannelRole, userID string) error {
	if userID == "" {
		return fmt.Errorf("user id is required: %w", ErrJoinRejected)
	}
	switch role {
	case RoleClient:
		if userID != sess.ClientID {
			return fmt.Errorf("user %s is not the client of session %s: %w", userID, sess.ID, ErrJoinRejected)
		}
	case RoleReader:
		if sess.ReaderID == "" || userID != sess.ReaderID {
			return fmt.Errorf("user %s is not the reader of session %s: %w", userID, sess.ID, ErrJoinRejected)
		}
	case RoleObserver:
	default:
		return fmt.Errorf("unknown channel role %q: %w", role, ErrJoinRejected)
	}
	return nil
}
