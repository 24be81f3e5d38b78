// Package authz centralizes the role allow-lists used by the lifecycle and
// approval services. Allow-lists are data, not scattered conditionals, so
// they stay independently testable.
package authz

import (
	"github.com/chalkline/chalkline/internal/observation/domain/session"
	"github.com/chalkline/chalkline/internal/observation/domain/signature"
)

// Actor is the identity attached to every mutating call. The identity/role
// provider at the transport boundary is trusted to populate it.
type Actor struct {
	ID   string
	Role signature.Role
}

type edge struct {
	from session.Status
	to   session.Status
}

// transitionAllowLists gates status edges on roles. Edges absent from the
// table are open to any actor that otherwise owns the operation.
var transitionAllowLists = map[edge][]signature.Role{
	{session.StatusCompleted, session.StatusApproved}: {
		signature.RoleSupervisor,
		signature.RolePrincipal,
		signature.RoleSuperintendent,
	},
}

// RolesForTransition returns the allow-list for a gated status edge. The
// second return is false when the edge carries no role requirement.
func RolesForTransition(from, to session.Status) ([]signature.Role, bool) {
	roles, ok := transitionAllowLists[edge{from: from, to: to}]
	if !ok {
		return nil, false
	}
	return append([]signature.Role(nil), roles...), true
}

// approvalCapable lists roles that can ever appear in a workflow step.
var approvalCapable = map[signature.Role]struct{}{
	signature.RoleTeacher:        {},
	signature.RoleObserver:       {},
	signature.RoleSupervisor:     {},
	signature.RolePrincipal:      {},
	signature.RoleSuperintendent: {},
}

// CanActOnApprovals reports whether the role can ever be a required approver.
// Pending-approval scans short-circuit to empty for roles outside this set.
func CanActOnApprovals(role signature.Role) bool {
	_, ok := approvalCapable[role]
	return ok
}

// IsAdmin reports whether the role carries administrative privilege, used
// for hard deletes and signature removal.
func IsAdmin(role signature.Role) bool {
	return role == signature.RoleAdmin
}

// RoleIn reports whether role is a member of the allow-list.
func RoleIn(role signature.Role, roles []signature.Role) bool {
	for _, candidate := range roles {
		if candidate == role {
			return true
		}
	}
	return false
}
