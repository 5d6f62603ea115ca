// Package profile consumes the external user/profile service. The engine
// only needs an id and a role per user; everything else about accounts is
// someone else's problem.
package profile

import (
	"context"
	"fmt"
)

// Role is a user's platform role. It drives content visibility.
type Role string

const (
	RoleClient     Role = "client"
	RoleReader     Role = "reader"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleReader, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// Profile is the minimal user projection the engine consumes.
type Profile struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// ErrUnknownUser is returned when the profile service has no such user.
var ErrUnknownUser = fmt.Errorf("unknown user")

// Service looks up user profiles.
type Service interface {
	GetProfile(ctx context.Context, userID string) (Profile, error)
}

// StaticService serves profiles from a fixed map. Used for development and
// tests; production wires the HTTP client instead.
type StaticService struct {
	Profiles map[string]Profile
}

// GetProfile implements Service.
func (s *StaticService) GetProfile(_ context.Context, userID string) (Profile, error) {
	p, ok := s.Profiles[userID]
	if !ok {
		return Profile{}, fmt.Errorf("profile %s: %w", userID, ErrUnknownUser)
	}
	return p, nil
}
