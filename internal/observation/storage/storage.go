// Package storage defines the persistence contracts for the observation core.
//
// Implementations provide keyed CRUD plus the few relational reads the
// services need (session responses, session signatures, form indicators) and
// a transaction boundary for the lifecycle and approval critical sections.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/chalkline/chalkline/internal/observation/domain/indicator"
	"github.com/chalkline/chalkline/internal/observation/domain/session"
	"github.com/chalkline/chalkline/internal/observation/domain/signature"
	apperrors "github.com/chalkline/chalkline/internal/platform/errors"
)

// ErrNotFound indicates a requested persistence record is missing.
// Callers use this to differentiate between legitimate "no such entity"
// states and transport or data corruption failures.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ErrAlreadyExists indicates a unique constraint rejected an insert.
var ErrAlreadyExists = apperrors.New(apperrors.CodeAlreadyExists, "record already exists")

// StatusConflictError reports a guarded status update that found the session
// in a different status than the writer expected. It signals a lost race,
// not a missing record.
func StatusConflictError(id string, expected, actual session.Status) error {
	return apperrors.WithMetadata(
		apperrors.CodeSessionInvalidStatusTransition,
		fmt.Sprintf("session %s is %s, not %s; the status change was not applied", id, actual.Label(), expected.Label()),
		map[string]string{"SessionID": id, "Expected": expected.Label(), "Actual": actual.Label()},
	)
}

// Stream labels the two append-only audit logs.
type Stream string

const (
	StreamSignature Stream = "signature"
	StreamApproval  Stream = "approval"
)

// Audit actions recorded by the approval workflow and signature writers.
const (
	ActionSignatureCreated = "signature_created"
	ActionSignatureRemoved = "signature_removed"
	ActionApprove          = "approve"
	ActionReject           = "reject"
	ActionRequestChanges   = "request_changes"
	ActionDelegate         = "delegate"
)

// ResponseRecord stores one indicator response. At most one row exists per
// (session, indicator) pair.
type ResponseRecord struct {
	ID            string
	SessionID     string
	IndicatorID   string
	SelectedScore *int
	SelectedLevel string
	Notes         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AuditEventRecord is an immutable entry in one of the two audit streams.
// Metadata is an opaque string blob; serialization policy belongs to the
// writer.
type AuditEventRecord struct {
	ID        string
	SessionID string
	Stream    Stream
	Action    string
	ActorID   string
	ActorRole string
	Comments  string
	Metadata  string
	Timestamp time.Time
}

// AuditEventFilter narrows audit queries. Zero fields match everything;
// populated fields combine with AND.
type AuditEventFilter struct {
	SessionID string
	ActorID   string
	Action    string
	From      *time.Time
	To        *time.Time
}

// UserRecord is the minimal identity read-model this core consults for
// delegation targets and pending-approval scans.
type UserRecord struct {
	ID          string
	DisplayName string
	Role        signature.Role
}

// FormRecord names an indicator catalog form.
type FormRecord struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// SessionStore owns observation session records and their status column.
type SessionStore interface {
	CreateSession(ctx context.Context, sess session.Session) error
	GetSession(ctx context.Context, id string) (session.Session, error)
	// UpdateSessionStatus commits a status change guarded by the expected
	// current status so concurrent transitions cannot race past each other.
	UpdateSessionStatus(ctx context.Context, id string, from, to session.Status, updatedAt time.Time) error
	// UpdateSessionFields applies a partial field patch for auto-save.
	UpdateSessionFields(ctx context.Context, id string, patch SessionPatch, updatedAt time.Time) error
	DeleteSession(ctx context.Context, id string) error
	ListSessionsByStatus(ctx context.Context, status session.Status) ([]session.Session, error)
	ListSessionsByObserver(ctx context.Context, observerID string) ([]session.Session, error)
}

// SessionPatch carries optional field updates for the auto-save path.
// Nil fields are left untouched.
type SessionPatch struct {
	SchoolName      *string
	TeacherName     *string
	Subject         *string
	Grade           *string
	ObservationDate *time.Time
	StartTime       *string
	EndTime         *string
	Reflection      *string
}

// IsEmpty reports whether the patch carries no field updates.
func (p SessionPatch) IsEmpty() bool {
	return p.SchoolName == nil && p.TeacherName == nil && p.Subject == nil &&
		p.Grade == nil && p.ObservationDate == nil && p.StartTime == nil &&
		p.EndTime == nil && p.Reflection == nil
}

// IndicatorStore owns static rubric reference data.
type IndicatorStore interface {
	PutForm(ctx context.Context, form FormRecord) error
	PutIndicator(ctx context.Context, ind indicator.Indicator) error
	GetIndicator(ctx context.Context, id string) (indicator.Indicator, error)
	// ListActiveIndicatorsByForm returns the deduplicated active indicator
	// set for a form, ordered by indicator number ascending.
	ListActiveIndicatorsByForm(ctx context.Context, formID string) ([]indicator.Indicator, error)
}

// ResponseStore owns indicator responses for sessions.
type ResponseStore interface {
	// UpsertResponse creates or replaces the response for the record's
	// (session, indicator) pair.
	UpsertResponse(ctx context.Context, record ResponseRecord) error
	GetResponse(ctx context.Context, sessionID, indicatorID string) (ResponseRecord, error)
	ListResponsesBySession(ctx context.Context, sessionID string) ([]ResponseRecord, error)
	DeleteResponsesBySession(ctx context.Context, sessionID string) error
}

// SignatureStore owns session sign-offs.
type SignatureStore interface {
	// CreateSignature inserts a signature; ErrAlreadyExists when the
	// (session, role) pair is already signed.
	CreateSignature(ctx context.Context, sig signature.Signature) error
	GetSignature(ctx context.Context, sessionID string, role signature.Role) (signature.Signature, error)
	ListSignaturesBySession(ctx context.Context, sessionID string) ([]signature.Signature, error)
	DeleteSignature(ctx context.Context, sessionID string, role signature.Role) error
}

// AuditEventStore owns the two append-only audit streams. Events are never
// mutated or removed.
type AuditEventStore interface {
	AppendAuditEvent(ctx context.Context, evt AuditEventRecord) error
	// ListAuditEvents returns matching events from one stream ordered by
	// timestamp ascending.
	ListAuditEvents(ctx context.Context, stream Stream, filter AuditEventFilter) ([]AuditEventRecord, error)
}

// UserStore owns the identity read-model.
type UserStore interface {
	PutUser(ctx context.Context, user UserRecord) error
	GetUser(ctx context.Context, id string) (UserRecord, error)
}

// Stores bundles every store interface for transaction scoping.
type Stores struct {
	Sessions    SessionStore
	Indicators  IndicatorStore
	Responses   ResponseStore
	Signatures  SignatureStore
	AuditEvents AuditEventStore
	Users       UserStore
}

// Transactor runs a function against transaction-scoped stores. The state
// transitions in the lifecycle and approval services are critical sections
// over one session record and must run inside a single transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(Stores) error) error
}
