// Package maintenance inspects a session's audit history: chronological
// listings, aggregate reports, and integrity findings.
package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/chalkline/chalkline/internal/observation/service"
	"github.com/chalkline/chalkline/internal/observation/storage"
	"github.com/chalkline/chalkline/internal/observation/storage/sqlite"
)

// Config holds maintenance command configuration.
type Config struct {
	DBPath     string        `env:"CHALKLINE_DB_PATH"`
	SessionID  string
	Report     bool
	Validate   bool
	Latest     bool
	JSONOutput bool
	Timeout    time.Duration `env:"CHALKLINE_MAINTENANCE_TIMEOUT" envDefault:"1m"`
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join("data", "observation.db")
	}

	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "path to observation sqlite database (default: CHALKLINE_DB_PATH or data/observation.db)")
	fs.StringVar(&cfg.SessionID, "session-id", "", "session whose audit history to inspect")
	fs.BoolVar(&cfg.Report, "report", false, "print aggregate counts and a gap-annotated timeline")
	fs.BoolVar(&cfg.Validate, "validate", false, "print integrity findings instead of events")
	fs.BoolVar(&cfg.Latest, "latest", false, "list events newest first")
	fs.BoolVar(&cfg.JSONOutput, "json", false, "output JSON")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the maintenance command.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	if cfg.SessionID == "" {
		return errors.New("-session-id is required")
	}
	if cfg.Report && cfg.Validate {
		return errors.New("-report cannot be combined with -validate")
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			fmt.Fprintf(errOut, "close store: %v\n", cerr)
		}
	}()

	audit := service.NewAuditLog(store)
	switch {
	case cfg.Report:
		return runReport(ctx, cfg, audit, out)
	case cfg.Validate:
		return runValidate(ctx, cfg, audit, out)
	default:
		return runList(ctx, cfg, audit, out)
	}
}

func runList(ctx context.Context, cfg Config, audit *service.AuditLog, out io.Writer) error {
	events, err := listEvents(ctx, cfg, audit)
	if err != nil {
		return err
	}
	if cfg.JSONOutput {
		return writeJSON(out, events)
	}
	for _, evt := range events {
		fmt.Fprintf(out, "%s  %-10s %-18s actor=%s role=%s\n",
			evt.Timestamp.Format(time.RFC3339), evt.Stream, evt.Action, evt.ActorID, evt.ActorRole)
	}
	fmt.Fprintf(out, "%d event(s)\n", len(events))
	return nil
}

func runReport(ctx context.Context, cfg Config, audit *service.AuditLog, out io.Writer) error {
	report, err := audit.Report(ctx, cfg.SessionID)
	if err != nil {
		return err
	}
	if cfg.JSONOutput {
		return writeJSON(out, report)
	}
	fmt.Fprintf(out, "events: %d (signature: %d, approval: %d), actors: %d\n",
		report.TotalEvents, report.SignatureEventCount, report.ApprovalEventCount, report.UniqueActorCount)
	for _, entry := range report.Timeline {
		fmt.Fprintf(out, "%s  +%dm  %-10s %s\n",
			entry.Event.Timestamp.Format(time.RFC3339), entry.GapMinutes, entry.Event.Stream, entry.Event.Action)
	}
	return nil
}

func runValidate(ctx context.Context, cfg Config, audit *service.AuditLog, out io.Writer) error {
	anomalies, err := audit.Validate(ctx, cfg.SessionID)
	if err != nil {
		return err
	}
	if cfg.JSONOutput {
		if err := writeJSON(out, anomalies); err != nil {
			return err
		}
	} else {
		for _, anomaly := range anomalies {
			fmt.Fprintf(out, "%s: %s\n", anomaly.Code, anomaly.Message)
		}
		fmt.Fprintf(out, "%d finding(s)\n", len(anomalies))
	}
	if len(anomalies) > 0 {
		return fmt.Errorf("%d integrity finding(s) for session %s", len(anomalies), cfg.SessionID)
	}
	return nil
}

func listEvents(ctx context.Context, cfg Config, audit *service.AuditLog) ([]storage.AuditEventRecord, error) {
	if cfg.Latest {
		return audit.ForSessionLatestFirst(ctx, cfg.SessionID)
	}
	return audit.ForSession(ctx, cfg.SessionID)
}

func writeJSON(out io.Writer, value any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
