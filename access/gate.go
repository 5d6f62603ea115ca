// Package access guards AI-authored content behind a role predicate and an
// unskippable audit trail. The gate is enforced at the data-access boundary;
// anything the UI does on top of it is presentation, not security.
package access

import (
	"github.com/mooncourt/arcana/profile"
)

// ContentKind names a class of guarded content.
type ContentKind string

const (
	// ContentAIInsight is machine-generated interpretation content.
	ContentAIInsight ContentKind = "ai_insight"

	// ContentHumanInterpretation is reader-authored interpretation content.
	ContentHumanInterpretation ContentKind = "human_interpretation"
)

// CanView reports whether a role may see the given content kind. It is a
// total, deterministic predicate: unknown roles and kinds are simply denied.
//
// AI-generated drafts are reader-facing working material; clients only ever
// see the human interpretation built from them.
func CanView(role profile.Role, kind ContentKind) bool {
	switch kind {
	case ContentAIInsight:
		return role == profile.RoleReader || role == profile.RoleAdmin || role == profile.RoleSuperAdmin
	case ContentHumanInterpretation:
		return role == profile.RoleClient || role == profile.RoleReader || role == profile.RoleAdmin || role == profile.RoleSuperAdmin
	}
	return false
}
