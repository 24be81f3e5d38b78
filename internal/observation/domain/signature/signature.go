// Package signature holds sign-off roles and signature records.
package signature

import (
	"strings"
	"time"
)

// Role identifies the capacity in which a user signs or acts on a session.
type Role string

const (
	RoleUnspecified    Role = ""
	RoleTeacher        Role = "teacher"
	RoleObserver       Role = "observer"
	RoleSupervisor     Role = "supervisor"
	RolePrincipal      Role = "principal"
	RoleSuperintendent Role = "superintendent"
	RoleAdmin          Role = "admin"
)

// KindDigitalApproval tags signatures created through the approval workflow.
const KindDigitalApproval = "digital_approval"

// ParseRole canonicalizes a role label. Role names are stored lowercase.
func ParseRole(value string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RoleTeacher:
		return RoleTeacher, true
	case RoleObserver:
		return RoleObserver, true
	case RoleSupervisor:
		return RoleSupervisor, true
	case RolePrincipal:
		return RolePrincipal, true
	case RoleSuperintendent:
		return RoleSuperintendent, true
	case RoleAdmin:
		return RoleAdmin, true
	default:
		return RoleUnspecified, false
	}
}

// SupervisorTier returns the roles that satisfy the supervisor approval step.
func SupervisorTier() []Role {
	return []Role{RoleSupervisor, RolePrincipal}
}

// HigherTier returns the roles that satisfy the higher-approval step.
func HigherTier() []Role {
	return []Role{RoleSuperintendent}
}

// Signature records one role's sign-off on a session. At most one signature
// exists per (session, role) pair.
type Signature struct {
	ID        string
	SessionID string
	Role      Role
	UserID    string
	Kind      string
	SignedAt  time.Time
}

// ByRole indexes signatures by role. Later entries for a duplicate role are
// ignored so the earliest stored signature wins.
func ByRole(sigs []Signature) map[Role]Signature {
	indexed := make(map[Role]Signature, len(sigs))
	for _, sig := range sigs {
		if _, ok := indexed[sig.Role]; ok {
			continue
		}
		indexed[sig.Role] = sig
	}
	return indexed
}
