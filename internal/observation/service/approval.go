package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/chalkline/chalkline/internal/observation/domain/approval"
	"github.com/chalkline/chalkline/internal/observation/domain/authz"
	"github.com/chalkline/chalkline/internal/observation/domain/session"
	"github.com/chalkline/chalkline/internal/observation/domain/signature"
	"github.com/chalkline/chalkline/internal/observation/storage"
	apperrors "github.com/chalkline/chalkline/internal/platform/errors"
)

// ApprovalWorkflow advances the multi-step sign-off process layered on
// completed sessions. Workflow state is derived from signatures on every
// call; only session status and signatures are persisted.
type ApprovalWorkflow struct {
	stores storage.Stores
	tx     storage.Transactor
	audit  *AuditLog

	clock func() time.Time
	newID func() (string, error)
}

// NewApprovalWorkflow wires the approval service.
func NewApprovalWorkflow(stores storage.Stores, tx storage.Transactor, audit *AuditLog) *ApprovalWorkflow {
	return &ApprovalWorkflow{
		stores: stores,
		tx:     tx,
		audit:  audit,
		clock:  defaultClock,
		newID:  defaultIDGenerator,
	}
}

// Request carries one approval workflow action against a session.
type Request struct {
	SessionID string
	// Action is one of approve, reject, request_changes, delegate.
	Action   string
	Comments string
	// SignatureData, when present on an approve, records a digital signature
	// for the actor's role. The blob is stored verbatim.
	SignatureData string
	// DelegateToUserID names the delegation target for a delegate action.
	DelegateToUserID string
}

// Result is the outcome of a processed approval action.
type Result struct {
	Session    session.Session
	Evaluation approval.Evaluation
}

// PendingApproval pairs a session awaiting an actor's sign-off with its
// derived workflow state.
type PendingApproval struct {
	Session    session.Session
	Evaluation approval.Evaluation
}

// eventMetadata is the serialized context attached to approval audit events.
type eventMetadata struct {
	WorkflowStep     int    `json:"workflow_step,omitempty"`
	DelegateToUserID string `json:"delegate_to_user_id,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

// Evaluate derives the current workflow state for a session.
func (w *ApprovalWorkflow) Evaluate(ctx context.Context, sessionID string) (approval.Evaluation, error) {
	sess, err := w.stores.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return approval.Evaluation{}, fmt.Errorf("load session: %w", err)
	}
	sigs, err := w.stores.Signatures.ListSignaturesBySession(ctx, sessionID)
	if err != nil {
		return approval.Evaluation{}, fmt.Errorf("list signatures: %w", err)
	}
	return approval.Evaluate(sess, sigs), nil
}

// Process dispatches one workflow action. The actor must hold one of the
// current step's required roles. Session and signature writes run inside a
// single transaction; the audit trail is written after commit.
func (w *ApprovalWorkflow) Process(ctx context.Context, req Request, actor authz.Actor) (Result, error) {
	action, ok := approval.ParseAction(req.Action)
	if !ok {
		return Result{}, apperrors.WithMetadata(
			apperrors.CodeApprovalInvalidRequest,
			fmt.Sprintf("unknown approval action %q", req.Action),
			map[string]string{"Action": req.Action},
		)
	}

	sess, err := w.stores.Sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		return Result{}, fmt.Errorf("load session: %w", err)
	}
	if sess.Status != session.StatusCompleted {
		return Result{}, apperrors.WithMetadata(
			apperrors.CodeApprovalSessionState,
			fmt.Sprintf("session %s is %s; approval actions apply to completed sessions", sess.ID, sess.Status.Label()),
			map[string]string{"SessionID": sess.ID, "Status": sess.Status.Label()},
		)
	}

	sigs, err := w.stores.Signatures.ListSignaturesBySession(ctx, req.SessionID)
	if err != nil {
		return Result{}, fmt.Errorf("list signatures: %w", err)
	}
	eval := approval.Evaluate(sess, sigs)
	if !authz.RoleIn(actor.Role, eval.NextApprovers) {
		return Result{}, apperrors.WithMetadata(
			apperrors.CodeApprovalForbidden,
			fmt.Sprintf("role %s is not among the step %d approvers for session %s", actor.Role, eval.CurrentStep, sess.ID),
			map[string]string{"Role": string(actor.Role), "SessionID": sess.ID},
		)
	}

	switch action {
	case approval.ActionApprove:
		return w.approve(ctx, req, actor, sess, eval)
	case approval.ActionReject:
		return w.returnTo(ctx, req, actor, sess, eval, session.StatusDraft, storage.ActionReject)
	case approval.ActionRequestChanges:
		return w.returnTo(ctx, req, actor, sess, eval, session.StatusInProgress, storage.ActionRequestChanges)
	case approval.ActionDelegate:
		return w.processDelegate(ctx, req, actor, sess, eval)
	default:
		return Result{}, apperrors.WithMetadata(
			apperrors.CodeApprovalInvalidRequest,
			fmt.Sprintf("unknown approval action %q", req.Action),
			map[string]string{"Action": req.Action},
		)
	}
}

// approve optionally records the actor's signature, then drives the session
// to approved once every step is complete.
func (w *ApprovalWorkflow) approve(ctx context.Context, req Request, actor authz.Actor, sess session.Session, eval approval.Evaluation) (Result, error) {
	var created *signature.Signature
	err := w.tx.InTx(ctx, func(stores storage.Stores) error {
		if strings.TrimSpace(req.SignatureData) != "" {
			sigID, err := w.newID()
			if err != nil {
				return fmt.Errorf("generate signature id: %w", err)
			}
			sig := signature.Signature{
				ID:        sigID,
				SessionID: sess.ID,
				Role:      actor.Role,
				UserID:    actor.ID,
				Kind:      signature.KindDigitalApproval,
				SignedAt:  w.clock(),
			}
			if err := stores.Signatures.CreateSignature(ctx, sig); err != nil {
				return fmt.Errorf("store signature: %w", err)
			}
			created = &sig
		}

		sigs, err := stores.Signatures.ListSignaturesBySession(ctx, sess.ID)
		if err != nil {
			return fmt.Errorf("list signatures: %w", err)
		}
		if !approval.Evaluate(sess, sigs).IsCompleted {
			return nil
		}
		if err := stores.Sessions.UpdateSessionStatus(ctx, sess.ID, session.StatusCompleted, session.StatusApproved, w.clock()); err != nil {
			return fmt.Errorf("approve session: %w", err)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if created != nil {
		w.appendEvent(ctx, storage.AuditEventRecord{
			SessionID: sess.ID,
			Stream:    storage.StreamSignature,
			Action:    storage.ActionSignatureCreated,
			ActorID:   actor.ID,
			ActorRole: string(actor.Role),
			Metadata:  w.encodeMetadata(eventMetadata{WorkflowStep: eval.CurrentStep}),
			Timestamp: created.SignedAt,
		})
	}
	w.appendEvent(ctx, storage.AuditEventRecord{
		SessionID: sess.ID,
		Stream:    storage.StreamApproval,
		Action:    storage.ActionApprove,
		ActorID:   actor.ID,
		ActorRole: string(actor.Role),
		Comments:  req.Comments,
		Metadata:  w.encodeMetadata(eventMetadata{WorkflowStep: eval.CurrentStep}),
	})
	return w.result(ctx, sess.ID)
}

// returnTo sends the session back to an earlier status. Signatures are left
// in place; the workflow pauses until the session is completed again.
func (w *ApprovalWorkflow) returnTo(ctx context.Context, req Request, actor authz.Actor, sess session.Session, eval approval.Evaluation, target session.Status, auditAction string) (Result, error) {
	err := w.tx.InTx(ctx, func(stores storage.Stores) error {
		return stores.Sessions.UpdateSessionStatus(ctx, sess.ID, session.StatusCompleted, target, w.clock())
	})
	if err != nil {
		return Result{}, fmt.Errorf("return session to %s: %w", target.Label(), err)
	}

	w.appendEvent(ctx, storage.AuditEventRecord{
		SessionID: sess.ID,
		Stream:    storage.StreamApproval,
		Action:    auditAction,
		ActorID:   actor.ID,
		ActorRole: string(actor.Role),
		Comments:  req.Comments,
		Metadata:  w.encodeMetadata(eventMetadata{WorkflowStep: eval.CurrentStep}),
	})
	return w.result(ctx, sess.ID)
}

// processDelegate records the delegation without changing any signing
// authority. The delegate acts independently later.
func (w *ApprovalWorkflow) processDelegate(ctx context.Context, req Request, actor authz.Actor, sess session.Session, eval approval.Evaluation) (Result, error) {
	delegateID := strings.TrimSpace(req.DelegateToUserID)
	if delegateID == "" {
		return Result{}, apperrors.New(apperrors.CodeApprovalInvalidRequest, "a delegate action requires a delegate user id")
	}
	if _, err := w.stores.Users.GetUser(ctx, delegateID); err != nil {
		return Result{}, fmt.Errorf("load delegate %s: %w", delegateID, err)
	}

	w.appendEvent(ctx, storage.AuditEventRecord{
		SessionID: sess.ID,
		Stream:    storage.StreamApproval,
		Action:    storage.ActionDelegate,
		ActorID:   actor.ID,
		ActorRole: string(actor.Role),
		Comments:  req.Comments,
		Metadata:  w.encodeMetadata(eventMetadata{WorkflowStep: eval.CurrentStep, DelegateToUserID: delegateID}),
	})
	return w.result(ctx, sess.ID)
}

// PendingFor scans completed sessions and returns those whose current step
// the actor's role can satisfy. Actors without approval capability get an
// empty result without a scan.
func (w *ApprovalWorkflow) PendingFor(ctx context.Context, actor authz.Actor) ([]PendingApproval, error) {
	if !authz.CanActOnApprovals(actor.Role) {
		return nil, nil
	}

	sessions, err := w.stores.Sessions.ListSessionsByStatus(ctx, session.StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("list completed sessions: %w", err)
	}

	var pending []PendingApproval
	for _, sess := range sessions {
		sigs, err := w.stores.Signatures.ListSignaturesBySession(ctx, sess.ID)
		if err != nil {
			return nil, fmt.Errorf("list signatures for session %s: %w", sess.ID, err)
		}
		eval := approval.Evaluate(sess, sigs)
		if eval.IsCompleted || !authz.RoleIn(actor.Role, eval.NextApprovers) {
			continue
		}
		pending = append(pending, PendingApproval{Session: sess, Evaluation: eval})
	}
	return pending, nil
}

// Delegate records a standalone delegation between two users. It is a
// notification record, not a transfer of signing authority.
func (w *ApprovalWorkflow) Delegate(ctx context.Context, sessionID, fromUserID, toUserID, reason string) error {
	if _, err := w.stores.Sessions.GetSession(ctx, sessionID); err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	from, err := w.stores.Users.GetUser(ctx, fromUserID)
	if err != nil {
		return fmt.Errorf("load delegating user %s: %w", fromUserID, err)
	}
	if _, err := w.stores.Users.GetUser(ctx, toUserID); err != nil {
		return fmt.Errorf("load delegate %s: %w", toUserID, err)
	}

	_, err = w.audit.Append(ctx, storage.AuditEventRecord{
		SessionID: sessionID,
		Stream:    storage.StreamApproval,
		Action:    storage.ActionDelegate,
		ActorID:   from.ID,
		ActorRole: string(from.Role),
		Metadata:  w.encodeMetadata(eventMetadata{DelegateToUserID: toUserID, Reason: reason}),
	})
	if err != nil {
		return fmt.Errorf("record delegation: %w", err)
	}
	return nil
}

// RemoveSignature deletes one role's signature from a session. Only an
// administrator may remove signatures, and never from an approved session.
func (w *ApprovalWorkflow) RemoveSignature(ctx context.Context, sessionID string, role signature.Role, actor authz.Actor) error {
	if !authz.IsAdmin(actor.Role) {
		return apperrors.New(apperrors.CodeActorUnauthorized, "only an administrator may remove a signature")
	}
	// The status check and the delete share one transaction so the session
	// cannot reach approved between the two.
	err := w.tx.InTx(ctx, func(stores storage.Stores) error {
		sess, err := stores.Sessions.GetSession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		if sess.Status == session.StatusApproved {
			return apperrors.WithMetadata(
				apperrors.CodeApprovalSessionState,
				fmt.Sprintf("session %s is approved; its signatures are part of the record", sessionID),
				map[string]string{"SessionID": sessionID},
			)
		}
		if err := stores.Signatures.DeleteSignature(ctx, sessionID, role); err != nil {
			return fmt.Errorf("remove signature: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	w.appendEvent(ctx, storage.AuditEventRecord{
		SessionID: sessionID,
		Stream:    storage.StreamSignature,
		Action:    storage.ActionSignatureRemoved,
		ActorID:   actor.ID,
		ActorRole: string(actor.Role),
		Metadata:  w.encodeMetadata(eventMetadata{}),
	})
	return nil
}

func (w *ApprovalWorkflow) result(ctx context.Context, sessionID string) (Result, error) {
	sess, err := w.stores.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("reload session: %w", err)
	}
	sigs, err := w.stores.Signatures.ListSignaturesBySession(ctx, sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("list signatures: %w", err)
	}
	return Result{Session: sess, Evaluation: approval.Evaluate(sess, sigs)}, nil
}

// appendEvent writes to the audit trail after the business mutation has
// committed. A failed write is logged and does not undo the mutation.
func (w *ApprovalWorkflow) appendEvent(ctx context.Context, evt storage.AuditEventRecord) {
	if _, err := w.audit.Append(ctx, evt); err != nil {
		log.Printf("audit append failed for session %s action %s: %v", evt.SessionID, evt.Action, err)
	}
}

func (w *ApprovalWorkflow) encodeMetadata(meta eventMetadata) string {
	raw, err := json.Marshal(meta)
	if err != nil {
		return ""
	}
	return string(raw)
}
