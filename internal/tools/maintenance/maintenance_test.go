package maintenance

import (
	"bytes"
	"context"
	"flag"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chalkline/chalkline/internal/observation/storage"
	"github.com/chalkline/chalkline/internal/observation/storage/sqlite"
)

// seedEvents writes a small audit history for session s-1: two signatures
// and one approval, ten minutes apart.
func seedEvents(t *testing.T, dbPath string) {
	t.Helper()
	store, err := sqlite.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = store.Close() }()

	base := time.Date(2026, time.April, 2, 10, 0, 0, 0, time.UTC)
	events := []storage.AuditEventRecord{
		{ID: "e-1", SessionID: "s-1", Stream: storage.StreamSignature, Action: storage.ActionSignatureCreated, ActorID: "u-teacher", ActorRole: "teacher", Timestamp: base},
		{ID: "e-2", SessionID: "s-1", Stream: storage.StreamSignature, Action: storage.ActionSignatureCreated, ActorID: "u-observer", ActorRole: "observer", Timestamp: base.Add(10 * time.Minute)},
		{ID: "e-3", SessionID: "s-1", Stream: storage.StreamApproval, Action: storage.ActionApprove, ActorID: "u-super", ActorRole: "supervisor", Timestamp: base.Add(20 * time.Minute)},
	}
	for _, evt := range events {
		if err := store.AppendAuditEvent(context.Background(), evt); err != nil {
			t.Fatalf("append %s: %v", evt.ID, err)
		}
	}
}

func TestParseConfigFlags(t *testing.T) {
	fs := flag.NewFlagSet("maintenance", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-session-id", "s-1", "-report", "-json"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.SessionID != "s-1" || !cfg.Report || !cfg.JSONOutput {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestRunRequiresSessionID(t *testing.T) {
	t.Parallel()

	err := Run(context.Background(), Config{DBPath: filepath.Join(t.TempDir(), "obs.db")}, nil, nil)
	if err == nil || !strings.Contains(err.Error(), "-session-id") {
		t.Fatalf("err = %v, want missing session id error", err)
	}
}

func TestRunRejectsReportWithValidate(t *testing.T) {
	t.Parallel()

	cfg := Config{DBPath: filepath.Join(t.TempDir(), "obs.db"), SessionID: "s-1", Report: true, Validate: true}
	if err := Run(context.Background(), cfg, nil, nil); err == nil {
		t.Fatal("expected flag combination error")
	}
}

func TestRunListsEventsChronologically(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "obs.db")
	seedEvents(t, dbPath)

	var out bytes.Buffer
	if err := Run(context.Background(), Config{DBPath: dbPath, SessionID: "s-1"}, &out, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "3 event(s)") {
		t.Fatalf("output = %q", text)
	}
	if strings.Index(text, "signature_created") > strings.Index(text, "approve") {
		t.Fatalf("events out of order: %q", text)
	}
}

func TestRunReport(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "obs.db")
	seedEvents(t, dbPath)

	var out bytes.Buffer
	if err := Run(context.Background(), Config{DBPath: dbPath, SessionID: "s-1", Report: true}, &out, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "events: 3 (signature: 2, approval: 1), actors: 3") {
		t.Fatalf("output = %q", out.String())
	}
	if !strings.Contains(out.String(), "+10m") {
		t.Fatalf("output missing gap annotation: %q", out.String())
	}
}

func TestRunValidateReportsAnomaliesAsFailure(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "obs.db")
	seedEvents(t, dbPath)

	// A signature after the approval is a sequencing anomaly.
	store, err := sqlite.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	late := storage.AuditEventRecord{
		ID: "e-late", SessionID: "s-1", Stream: storage.StreamSignature,
		Action: storage.ActionSignatureCreated, ActorID: "u-late", ActorRole: "teacher",
		Timestamp: time.Date(2026, time.April, 2, 11, 0, 0, 0, time.UTC),
	}
	if err := store.AppendAuditEvent(context.Background(), late); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = store.Close()

	var out bytes.Buffer
	err = Run(context.Background(), Config{DBPath: dbPath, SessionID: "s-1", Validate: true}, &out, nil)
	if err == nil || !strings.Contains(err.Error(), "integrity finding") {
		t.Fatalf("err = %v, want integrity findings failure", err)
	}
	if !strings.Contains(out.String(), "signature_after_decision") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestRunValidateCleanHistory(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "obs.db")
	seedEvents(t, dbPath)

	var out bytes.Buffer
	if err := Run(context.Background(), Config{DBPath: dbPath, SessionID: "s-1", Validate: true}, &out, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "0 finding(s)") {
		t.Fatalf("output = %q", out.String())
	}
}
