package service

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/chalkline/chalkline/internal/observation/domain/indicator"
	"github.com/chalkline/chalkline/internal/observation/domain/session"
	"github.com/chalkline/chalkline/internal/observation/domain/signature"
	"github.com/chalkline/chalkline/internal/observation/storage"
	"github.com/chalkline/chalkline/internal/observation/storage/sqlite"
	apperrors "github.com/chalkline/chalkline/internal/platform/errors"
)

// testEnv wires every service against one temporary sqlite store with a
// deterministic clock and id sequence.
type testEnv struct {
	store     *sqlite.Store
	responses *IndicatorResponses
	lifecycle *SessionLifecycle
	workflow  *ApprovalWorkflow
	audit     *AuditLog

	now    time.Time
	nextID int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "service-test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	env := &testEnv{
		store: store,
		now:   time.Date(2026, time.April, 2, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time {
		env.now = env.now.Add(time.Minute)
		return env.now
	}
	newID := func() (string, error) {
		env.nextID++
		return fmt.Sprintf("gen-%d", env.nextID), nil
	}

	stores := store.Stores()
	env.responses = NewIndicatorResponses(stores, store)
	env.lifecycle = NewSessionLifecycle(stores, store, env.responses)
	env.audit = NewAuditLog(stores.AuditEvents)
	env.workflow = NewApprovalWorkflow(stores, store, env.audit)

	env.responses.clock, env.responses.newID = clock, newID
	env.lifecycle.clock, env.lifecycle.newID = clock, newID
	env.audit.clock, env.audit.newID = clock, newID
	env.workflow.clock, env.workflow.newID = clock, newID

	env.seed(t)
	return env
}

// seed installs the rubric catalog and user read-model the tests share.
// Form form-1 has a scale indicator 1.1 (max 3) and a checkbox indicator 1.2.
func (env *testEnv) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	if err := env.store.PutForm(ctx, storage.FormRecord{ID: "form-1", Name: "Classroom Walkthrough", CreatedAt: env.now}); err != nil {
		t.Fatalf("put form: %v", err)
	}
	indicators := []indicator.Indicator{
		{ID: "i-scale", FormID: "form-1", Number: "1.1", Title: "Lesson objectives posted", RubricType: indicator.RubricScale, MaxScore: 3, Active: true},
		{ID: "i-check", FormID: "form-1", Number: "1.2", Title: "Students engaged", RubricType: indicator.RubricCheckbox, Active: true},
	}
	for _, ind := range indicators {
		if err := env.store.PutIndicator(ctx, ind); err != nil {
			t.Fatalf("put indicator %s: %v", ind.ID, err)
		}
	}

	users := []storage.UserRecord{
		{ID: "u-teacher", DisplayName: "R. Alvarez", Role: signature.RoleTeacher},
		{ID: "u-observer", DisplayName: "D. Okafor", Role: signature.RoleObserver},
		{ID: "u-super", DisplayName: "M. Chen", Role: signature.RoleSupervisor},
		{ID: "u-principal", DisplayName: "S. Brandt", Role: signature.RolePrincipal},
		{ID: "u-admin", DisplayName: "IT Admin", Role: signature.RoleAdmin},
	}
	for _, user := range users {
		if err := env.store.PutUser(ctx, user); err != nil {
			t.Fatalf("put user %s: %v", user.ID, err)
		}
	}
}

// newSession inserts a session on form-1 directly, bypassing the lifecycle
// gate so tests can start from any status.
func (env *testEnv) newSession(t *testing.T, id string, status session.Status) session.Session {
	t.Helper()
	return env.newSessionOnForm(t, id, status, "form-1")
}

func (env *testEnv) newSessionOnForm(t *testing.T, id string, status session.Status, formID string) session.Session {
	t.Helper()
	sess := session.Session{
		ID:              id,
		SchoolName:      "Northside Elementary",
		TeacherName:     "R. Alvarez",
		ObserverID:      "u-observer",
		Subject:         "Mathematics",
		Grade:           "5",
		ObservationDate: env.now,
		StartTime:       "09:00",
		EndTime:         "09:45",
		FormID:          formID,
		Status:          status,
		CreatedAt:       env.now,
		UpdatedAt:       env.now,
	}
	if err := env.store.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("create session %s: %v", id, err)
	}
	return sess
}

func (env *testEnv) sign(t *testing.T, sessionID string, role signature.Role, userID string) {
	t.Helper()
	env.nextID++
	env.now = env.now.Add(time.Minute)
	sig := signature.Signature{
		ID:        fmt.Sprintf("sig-%d", env.nextID),
		SessionID: sessionID,
		Role:      role,
		UserID:    userID,
		Kind:      signature.KindDigitalApproval,
		SignedAt:  env.now,
	}
	if err := env.store.CreateSignature(context.Background(), sig); err != nil {
		t.Fatalf("sign %s as %s: %v", sessionID, role, err)
	}
}

func (env *testEnv) respond(t *testing.T, sessionID, indicatorID string, input indicator.ResponseInput) {
	t.Helper()
	env.nextID++
	record := storage.ResponseRecord{
		ID:            fmt.Sprintf("resp-%d", env.nextID),
		SessionID:     sessionID,
		IndicatorID:   indicatorID,
		SelectedScore: input.SelectedScore,
		SelectedLevel: input.SelectedLevel,
		Notes:         input.Notes,
		CreatedAt:     env.now,
		UpdatedAt:     env.now,
	}
	if err := env.store.UpsertResponse(context.Background(), record); err != nil {
		t.Fatalf("respond %s/%s: %v", sessionID, indicatorID, err)
	}
}

// contestedTransactor commits a competing write immediately before the
// wrapped transaction begins, standing in for a second writer that wins the
// race to the database.
type contestedTransactor struct {
	inner storage.Transactor
	write func() error
}

func (c *contestedTransactor) InTx(ctx context.Context, fn func(storage.Stores) error) error {
	if c.write != nil {
		write := c.write
		c.write = nil
		if err := write(); err != nil {
			return err
		}
	}
	return c.inner.InTx(ctx, fn)
}

func intPtr(v int) *int { return &v }

func wantCode(t *testing.T, err error, code apperrors.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	if got := apperrors.CodeOf(err); got != code {
		t.Fatalf("error code = %s, want %s (err: %v)", got, code, err)
	}
}
