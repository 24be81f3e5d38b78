package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chalkline/chalkline/internal/observation/domain/approval"
	"github.com/chalkline/chalkline/internal/observation/domain/authz"
	"github.com/chalkline/chalkline/internal/observation/domain/session"
	"github.com/chalkline/chalkline/internal/observation/storage"
	apperrors "github.com/chalkline/chalkline/internal/platform/errors"
)

// SessionLifecycle owns the session status state machine and the softer
// auto-save and progress paths around it.
type SessionLifecycle struct {
	stores    storage.Stores
	tx        storage.Transactor
	responses *IndicatorResponses

	clock func() time.Time
	newID func() (string, error)
}

// NewSessionLifecycle wires the lifecycle service.
func NewSessionLifecycle(stores storage.Stores, tx storage.Transactor, responses *IndicatorResponses) *SessionLifecycle {
	return &SessionLifecycle{
		stores:    stores,
		tx:        tx,
		responses: responses,
		clock:     defaultClock,
		newID:     defaultIDGenerator,
	}
}

// CreateSessionInput carries the descriptive fields for a new draft session.
// The acting observer becomes the session owner.
type CreateSessionInput struct {
	SchoolName      string
	TeacherName     string
	Subject         string
	Grade           string
	ObservationDate time.Time
	StartTime       string
	EndTime         string
	FormID          string
}

// ProgressReport is the informational completion-readiness view. It is softer
// than the transition gate: it scores partially filled sessions instead of
// rejecting them.
type ProgressReport struct {
	Score            int
	CompletedSteps   []string
	RemainingSteps   []string
	CanProceedToNext bool
}

// Create stores a new draft session owned by the acting observer.
func (s *SessionLifecycle) Create(ctx context.Context, input CreateSessionInput, actor authz.Actor) (session.Session, error) {
	if strings.TrimSpace(actor.ID) == "" {
		return session.Session{}, apperrors.New(apperrors.CodeActorUnauthorized, "a session must be created by a named actor")
	}
	newID, err := s.newID()
	if err != nil {
		return session.Session{}, fmt.Errorf("generate session id: %w", err)
	}

	now := s.clock()
	sess := session.Session{
		ID:              newID,
		SchoolName:      input.SchoolName,
		TeacherName:     input.TeacherName,
		ObserverID:      actor.ID,
		Subject:         input.Subject,
		Grade:           input.Grade,
		ObservationDate: input.ObservationDate,
		StartTime:       input.StartTime,
		EndTime:         input.EndTime,
		FormID:          input.FormID,
		Status:          session.StatusDraft,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.stores.Sessions.CreateSession(ctx, sess); err != nil {
		return session.Session{}, fmt.Errorf("store session: %w", err)
	}
	return sess, nil
}

// Get loads one session.
func (s *SessionLifecycle) Get(ctx context.Context, sessionID string) (session.Session, error) {
	return s.stores.Sessions.GetSession(ctx, sessionID)
}

// ListByStatus returns the sessions currently in the given status, newest
// first.
func (s *SessionLifecycle) ListByStatus(ctx context.Context, status session.Status) ([]session.Session, error) {
	return s.stores.Sessions.ListSessionsByStatus(ctx, status)
}

// ListByObserver returns the sessions owned by an observer, newest first.
func (s *SessionLifecycle) ListByObserver(ctx context.Context, observerID string) ([]session.Session, error) {
	return s.stores.Sessions.ListSessionsByObserver(ctx, observerID)
}

// RequestTransition moves a session along one state-machine edge. Completion
// edges re-check the indicator set and report every blocking reason at once.
// Role-gated edges verify the actor against the transition allow-list.
func (s *SessionLifecycle) RequestTransition(ctx context.Context, sessionID string, target session.Status, actor authz.Actor) (session.Session, error) {
	now := s.clock()
	// Every check reads through the same transaction the status change
	// commits in, so a concurrent write cannot slip between a gate and the
	// update.
	err := s.tx.InTx(ctx, func(stores storage.Stores) error {
		sess, err := stores.Sessions.GetSession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}

		if !session.IsTransitionAllowed(sess.Status, target) {
			return invalidTransitionError(sess.Status, target)
		}

		if roles, gated := authz.RolesForTransition(sess.Status, target); gated {
			if !authz.RoleIn(actor.Role, roles) {
				return apperrors.WithMetadata(
					apperrors.CodeActorUnauthorized,
					fmt.Sprintf("role %s may not move a session from %s to %s", actor.Role, sess.Status.Label(), target.Label()),
					map[string]string{"Role": string(actor.Role), "From": sess.Status.Label(), "To": target.Label()},
				)
			}
		}

		// A session may only carry the approved status while every derived
		// sign-off step is complete.
		if target == session.StatusApproved {
			sigs, err := stores.Signatures.ListSignaturesBySession(ctx, sessionID)
			if err != nil {
				return fmt.Errorf("list signatures: %w", err)
			}
			if eval := approval.Evaluate(sess, sigs); !eval.IsCompleted {
				return apperrors.WithMetadata(
					apperrors.CodeApprovalSessionState,
					fmt.Sprintf("session %s cannot be approved before sign-off step %d is complete", sessionID, eval.CurrentStep),
					map[string]string{"SessionID": sessionID, "CurrentStep": fmt.Sprintf("%d", eval.CurrentStep)},
				)
			}
		}

		if target == session.StatusCompleted {
			reasons, err := s.completionBlockers(ctx, stores, sessionID)
			if err != nil {
				return err
			}
			if len(reasons) > 0 {
				return incompleteSessionError(sessionID, reasons)
			}
		}

		if err := stores.Sessions.UpdateSessionStatus(ctx, sessionID, sess.Status, target, now); err != nil {
			return fmt.Errorf("commit status change: %w", err)
		}
		return nil
	})
	if err != nil {
		return session.Session{}, err
	}
	return s.stores.Sessions.GetSession(ctx, sessionID)
}

// CanEdit reports whether the actor may edit session content.
func (s *SessionLifecycle) CanEdit(sess session.Session, actor authz.Actor) bool {
	return session.CanEdit(sess, actor.ID)
}

// CanDelete reports whether the actor may delete the session.
func (s *SessionLifecycle) CanDelete(sess session.Session, actor authz.Actor) bool {
	return session.CanDelete(sess, actor.ID, authz.IsAdmin(actor.Role))
}

// AutoSave applies a partial field patch while the session is still editable.
// Locked sessions reject the write so late edits cannot slip past the
// completion gate.
func (s *SessionLifecycle) AutoSave(ctx context.Context, sessionID string, patch storage.SessionPatch, actor authz.Actor) (session.Session, error) {
	sess, err := s.stores.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return session.Session{}, fmt.Errorf("load session: %w", err)
	}
	if !sess.Status.IsEditable() {
		return session.Session{}, sessionLockedError(sess.ID, sess.Status)
	}
	if !session.CanEdit(sess, actor.ID) {
		return session.Session{}, apperrors.WithMetadata(
			apperrors.CodeActorUnauthorized,
			fmt.Sprintf("only the owning observer may edit session %s", sessionID),
			map[string]string{"SessionID": sessionID, "ActorID": actor.ID},
		)
	}
	if patch.IsEmpty() {
		return sess, nil
	}

	if err := s.stores.Sessions.UpdateSessionFields(ctx, sessionID, patch, s.clock()); err != nil {
		return session.Session{}, fmt.Errorf("apply patch: %w", err)
	}
	return s.stores.Sessions.GetSession(ctx, sessionID)
}

// Delete permanently removes a draft session and its responses. There is no
// soft delete or undo.
func (s *SessionLifecycle) Delete(ctx context.Context, sessionID string, actor authz.Actor) error {
	sess, err := s.stores.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if !session.CanDelete(sess, actor.ID, authz.IsAdmin(actor.Role)) {
		return apperrors.WithMetadata(
			apperrors.CodeSessionDeleteDisallowed,
			fmt.Sprintf("session %s is %s and may only be deleted as a draft by its observer or an administrator", sessionID, sess.Status.Label()),
			map[string]string{"SessionID": sessionID, "Status": sess.Status.Label()},
		)
	}
	return s.tx.InTx(ctx, func(stores storage.Stores) error {
		return stores.Sessions.DeleteSession(ctx, sessionID)
	})
}

// Progress scores completion readiness 0..100 without rejecting anything.
// Basic fields weigh 25, the time range 15, indicator responses 40 scaled by
// their completion percentage, and the reflection 20.
func (s *SessionLifecycle) Progress(ctx context.Context, sessionID string) (ProgressReport, error) {
	sess, err := s.stores.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return ProgressReport{}, fmt.Errorf("load session: %w", err)
	}
	completion, err := s.responses.Completion(ctx, sessionID)
	if err != nil {
		return ProgressReport{}, err
	}

	var report ProgressReport
	mark := func(done bool, weight int, label string) {
		if done {
			report.Score += weight
			report.CompletedSteps = append(report.CompletedSteps, label)
			return
		}
		report.RemainingSteps = append(report.RemainingSteps, label)
	}
	mark(session.HasBasicFields(sess), 25, "Basic session details")
	mark(session.HasTimeRange(sess), 15, "Observation time range")

	indicatorsDone := completion.TotalIndicators > 0 && completion.CompletedResponses == completion.TotalIndicators
	if completion.TotalIndicators > 0 {
		report.Score += 40 * completion.CompletionPercentage / 100
	}
	if indicatorsDone {
		report.CompletedSteps = append(report.CompletedSteps, "Indicator responses")
	} else {
		report.RemainingSteps = append(report.RemainingSteps, "Indicator responses")
	}
	mark(session.HasReflection(sess), 20, "Post-observation reflection")

	blockers, err := s.completionBlockers(ctx, s.stores, sessionID)
	if err != nil {
		return ProgressReport{}, err
	}
	report.CanProceedToNext = len(blockers) == 0 && sess.Status != session.StatusApproved
	return report, nil
}

// completionBlockers collects every reason the session cannot yet be marked
// completed: missing indicator responses first, then rubric violations. Reads
// go through the supplied store bundle so the completion gate shares its
// caller's transaction.
func (s *SessionLifecycle) completionBlockers(ctx context.Context, stores storage.Stores, sessionID string) ([]string, error) {
	completion, err := s.responses.completion(ctx, stores, sessionID)
	if err != nil {
		return nil, err
	}
	validation, err := s.responses.validateAll(ctx, stores, sessionID)
	if err != nil {
		return nil, err
	}

	var reasons []string
	for _, number := range completion.MissingIndicators {
		reasons = append(reasons, fmt.Sprintf("indicator %s has no response", number))
	}
	reasons = append(reasons, validation.Errors...)
	return reasons, nil
}

func invalidTransitionError(from, to session.Status) error {
	return apperrors.WithMetadata(
		apperrors.CodeSessionInvalidStatusTransition,
		fmt.Sprintf("a session cannot move from %s to %s", from.Label(), to.Label()),
		map[string]string{"From": from.Label(), "To": to.Label()},
	)
}

func incompleteSessionError(sessionID string, reasons []string) error {
	return apperrors.WithMetadata(
		apperrors.CodeSessionIncomplete,
		fmt.Sprintf("session %s is not ready for completion: %s", sessionID, strings.Join(reasons, "; ")),
		map[string]string{"SessionID": sessionID, "Reasons": strings.Join(reasons, "; ")},
	)
}
