// Package approval derives the multi-step sign-off workflow from a session's
// signatures. Steps are recomputed on every call and never persisted, so the
// stored session status and the derived workflow cannot drift apart.
package approval

import (
	"strings"
	"time"

	"github.com/chalkline/chalkline/internal/observation/domain/session"
	"github.com/chalkline/chalkline/internal/observation/domain/signature"
)

// Action identifies an approval workflow request.
type Action string

const (
	ActionUnspecified    Action = ""
	ActionApprove        Action = "approve"
	ActionReject         Action = "reject"
	ActionRequestChanges Action = "request_changes"
	ActionDelegate       Action = "delegate"
)

// ParseAction canonicalizes an approval action label.
func ParseAction(value string) (Action, bool) {
	switch Action(strings.ToLower(strings.TrimSpace(value))) {
	case ActionApprove:
		return ActionApprove, true
	case ActionReject:
		return ActionReject, true
	case ActionRequestChanges:
		return ActionRequestChanges, true
	case ActionDelegate:
		return ActionDelegate, true
	default:
		return ActionUnspecified, false
	}
}

// Step is one derived unit of the sign-off workflow.
type Step struct {
	Number        int
	RequiredRoles []signature.Role
	Description   string
	Completed     bool
	CompletedBy   string
	CompletedAt   *time.Time
}

// Evaluation is the derived state of the whole workflow.
//
// CurrentStep is the 1-based number of the first incomplete step, or zero
// when every step is complete. NextApprovers mirrors the current step's
// required roles and is empty when the workflow is complete.
type Evaluation struct {
	Steps         []Step
	CurrentStep   int
	IsCompleted   bool
	NextApprovers []signature.Role
}

// RequiresSupervisorApproval reports whether the session needs a supervisor
// sign-off step. Currently every session does; the session parameter is the
// hook for future per-school or per-form policy.
func RequiresSupervisorApproval(session.Session) bool {
	return true
}

// RequiresHigherApproval reports whether the session needs a sign-off above
// the supervisor tier. No current policy demands one.
func RequiresHigherApproval(session.Session) bool {
	return false
}

// Evaluate builds the derived step list for a session from its signatures.
//
// Step 1 requires both the teacher and observer signatures and completes with
// the later of the two. Later steps complete when any signature bearing one
// of the step's required roles exists.
func Evaluate(sess session.Session, sigs []signature.Signature) Evaluation {
	byRole := signature.ByRole(sigs)

	steps := []Step{participantStep(byRole)}
	if RequiresSupervisorApproval(sess) {
		steps = append(steps, anyRoleStep(len(steps)+1, signature.SupervisorTier(), "Supervisor approval", byRole))
	}
	if RequiresHigherApproval(sess) {
		steps = append(steps, anyRoleStep(len(steps)+1, signature.HigherTier(), "District approval", byRole))
	}

	eval := Evaluation{Steps: steps, IsCompleted: true}
	for _, step := range steps {
		if step.Completed {
			continue
		}
		eval.IsCompleted = false
		eval.CurrentStep = step.Number
		eval.NextApprovers = append([]signature.Role(nil), step.RequiredRoles...)
		break
	}
	return eval
}

// participantStep requires both sides of the observation to sign.
func participantStep(byRole map[signature.Role]signature.Signature) Step {
	step := Step{
		Number:        1,
		RequiredRoles: []signature.Role{signature.RoleTeacher, signature.RoleObserver},
		Description:   "Teacher and observer sign-off",
	}
	teacherSig, teacherOK := byRole[signature.RoleTeacher]
	observerSig, observerOK := byRole[signature.RoleObserver]
	if !teacherOK || !observerOK {
		return step
	}

	step.Completed = true
	later := teacherSig
	if observerSig.SignedAt.After(teacherSig.SignedAt) {
		later = observerSig
	}
	step.CompletedBy = later.UserID
	signedAt := later.SignedAt
	step.CompletedAt = &signedAt
	return step
}

func anyRoleStep(number int, roles []signature.Role, description string, byRole map[signature.Role]signature.Signature) Step {
	step := Step{
		Number:        number,
		RequiredRoles: roles,
		Description:   description,
	}
	for _, role := range roles {
		sig, ok := byRole[role]
		if !ok {
			continue
		}
		step.Completed = true
		step.CompletedBy = sig.UserID
		signedAt := sig.SignedAt
		step.CompletedAt = &signedAt
		break
	}
	return step
}
