package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chalkline/chalkline/internal/observation/domain/indicator"
	"github.com/chalkline/chalkline/internal/observation/domain/session"
	"github.com/chalkline/chalkline/internal/observation/domain/signature"
	"github.com/chalkline/chalkline/internal/observation/storage"
)

// seedCatalog installs a form with one scale and one checkbox indicator.
func seedCatalog(t *testing.T, store *Store) {
	t.Helper()
	ctx := context.Background()
	if err := store.PutForm(ctx, storage.FormRecord{ID: "form-1", Name: "Classroom Practice", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("put form: %v", err)
	}
	indicators := []indicator.Indicator{
		{ID: "i-scale", FormID: "form-1", Number: "1.1", Title: "Questioning", RubricType: indicator.RubricScale, MaxScore: 3, Active: true},
		{ID: "i-check", FormID: "form-1", Number: "1.2", Title: "Objectives posted", RubricType: indicator.RubricCheckbox, Active: true},
		{ID: "i-inactive", FormID: "form-1", Number: "9.9", Title: "Retired", RubricType: indicator.RubricScale, MaxScore: 4, Active: false},
	}
	for _, ind := range indicators {
		if err := store.PutIndicator(ctx, ind); err != nil {
			t.Fatalf("put indicator %s: %v", ind.ID, err)
		}
	}
}

func TestListActiveIndicatorsByFormSkipsInactive(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	seedCatalog(t, store)

	indicators, err := store.ListActiveIndicatorsByForm(context.Background(), "form-1")
	if err != nil {
		t.Fatalf("list active indicators: %v", err)
	}
	if len(indicators) != 2 {
		t.Fatalf("expected 2 active indicators, got %d", len(indicators))
	}
	if indicators[0].Number != "1.1" || indicators[1].Number != "1.2" {
		t.Fatalf("unexpected order: %s, %s", indicators[0].Number, indicators[1].Number)
	}
}

func TestUpsertResponseReplacesExistingPair(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seedCatalog(t, store)
	if err := store.CreateSession(ctx, testSession("s-1", session.StatusDraft)); err != nil {
		t.Fatalf("create session: %v", err)
	}

	now := time.Date(2026, time.March, 10, 9, 15, 0, 0, time.UTC)
	first := 2
	if err := store.UpsertResponse(ctx, storage.ResponseRecord{
		ID: "r-1", SessionID: "s-1", IndicatorID: "i-scale",
		SelectedScore: &first, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	second := 3
	if err := store.UpsertResponse(ctx, storage.ResponseRecord{
		ID: "r-2", SessionID: "s-1", IndicatorID: "i-scale",
		SelectedScore: &second, Notes: "improved", CreatedAt: now.Add(time.Minute), UpdatedAt: now.Add(time.Minute),
	}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	responses, err := store.ListResponsesBySession(ctx, "s-1")
	if err != nil {
		t.Fatalf("list responses: %v", err)
	}
	if len(responses) != 1 {
		t.Fatalf("expected a single stored response, got %d", len(responses))
	}
	if responses[0].SelectedScore == nil || *responses[0].SelectedScore != 3 {
		t.Fatalf("selected score = %v, want 3", responses[0].SelectedScore)
	}
	if responses[0].Notes != "improved" {
		t.Fatalf("notes = %q, want %q", responses[0].Notes, "improved")
	}
	// The original row is updated in place, so its id survives.
	if responses[0].ID != "r-1" {
		t.Fatalf("response id = %q, want r-1", responses[0].ID)
	}
}

func TestCreateSignatureRejectsDuplicateRole(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	if err := store.CreateSession(ctx, testSession("s-1", session.StatusCompleted)); err != nil {
		t.Fatalf("create session: %v", err)
	}

	now := time.Date(2026, time.March, 11, 14, 0, 0, 0, time.UTC)
	sig := signature.Signature{
		ID: "sig-1", SessionID: "s-1", Role: signature.RoleTeacher,
		UserID: "u-teacher", Kind: signature.KindDigitalApproval, SignedAt: now,
	}
	if err := store.CreateSignature(ctx, sig); err != nil {
		t.Fatalf("create signature: %v", err)
	}

	sig.ID = "sig-2"
	sig.UserID = "u-other"
	if err := store.CreateSignature(ctx, sig); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("duplicate signature error = %v, want %v", err, storage.ErrAlreadyExists)
	}

	sigs, err := store.ListSignaturesBySession(ctx, "s-1")
	if err != nil {
		t.Fatalf("list signatures: %v", err)
	}
	if len(sigs) != 1 || sigs[0].UserID != "u-teacher" {
		t.Fatalf("expected original signature to survive, got %+v", sigs)
	}
}

func TestDeleteSignature(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	if err := store.CreateSession(ctx, testSession("s-1", session.StatusCompleted)); err != nil {
		t.Fatalf("create session: %v", err)
	}
	sig := signature.Signature{
		ID: "sig-1", SessionID: "s-1", Role: signature.RoleObserver,
		UserID: "u-observer", Kind: signature.KindDigitalApproval, SignedAt: time.Now(),
	}
	if err := store.CreateSignature(ctx, sig); err != nil {
		t.Fatalf("create signature: %v", err)
	}

	if err := store.DeleteSignature(ctx, "s-1", signature.RoleObserver); err != nil {
		t.Fatalf("delete signature: %v", err)
	}
	if err := store.DeleteSignature(ctx, "s-1", signature.RoleObserver); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second delete error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestAuditEventsFilterAndOrder(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	base := time.Date(2026, time.March, 12, 9, 0, 0, 0, time.UTC)

	events := []storage.AuditEventRecord{
		{ID: "e-1", SessionID: "s-1", Stream: storage.StreamSignature, Action: storage.ActionSignatureCreated, ActorID: "u-teacher", ActorRole: "teacher", Timestamp: base},
		{ID: "e-2", SessionID: "s-1", Stream: storage.StreamApproval, Action: storage.ActionApprove, ActorID: "u-super", ActorRole: "supervisor", Timestamp: base.Add(2 * time.Hour)},
		{ID: "e-3", SessionID: "s-2", Stream: storage.StreamApproval, Action: storage.ActionReject, ActorID: "u-super", ActorRole: "supervisor", Timestamp: base.Add(time.Hour)},
	}
	for _, evt := range events {
		if err := store.AppendAuditEvent(ctx, evt); err != nil {
			t.Fatalf("append event %s: %v", evt.ID, err)
		}
	}

	approvals, err := store.ListAuditEvents(ctx, storage.StreamApproval, storage.AuditEventFilter{ActorID: "u-super"})
	if err != nil {
		t.Fatalf("list approval events: %v", err)
	}
	if len(approvals) != 2 {
		t.Fatalf("expected 2 approval events, got %d", len(approvals))
	}
	if !approvals[0].Timestamp.Before(approvals[1].Timestamp) {
		t.Fatal("expected ascending timestamp order")
	}

	from := base.Add(90 * time.Minute)
	late, err := store.ListAuditEvents(ctx, storage.StreamApproval, storage.AuditEventFilter{From: &from})
	if err != nil {
		t.Fatalf("list late events: %v", err)
	}
	if len(late) != 1 || late[0].ID != "e-2" {
		t.Fatalf("expected only e-2 after %v, got %+v", from, late)
	}
}

func TestPutGetUser(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	user := storage.UserRecord{ID: "u-1", DisplayName: "Dana Reyes", Role: signature.RoleSupervisor}
	if err := store.PutUser(ctx, user); err != nil {
		t.Fatalf("put user: %v", err)
	}

	got, err := store.GetUser(ctx, "u-1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.DisplayName != user.DisplayName || got.Role != user.Role {
		t.Fatalf("user = %+v, want %+v", got, user)
	}

	if _, err := store.GetUser(ctx, "u-missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing user error = %v, want %v", err, storage.ErrNotFound)
	}
}
