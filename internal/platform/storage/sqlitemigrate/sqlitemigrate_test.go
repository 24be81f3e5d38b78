package sqlitemigrate

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "migrate-test.db")
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return sqlDB
}

func TestApplyMigrationsRunsOnce(t *testing.T) {
	t.Parallel()

	migrationFS := fstest.MapFS{
		"0001_init.sql": &fstest.MapFile{Data: []byte(`
-- +migrate Up
CREATE TABLE widgets (id TEXT PRIMARY KEY);
-- +migrate Down
DROP TABLE widgets;
`)},
	}

	sqlDB := openTestDB(t)
	if err := ApplyMigrations(sqlDB, migrationFS); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := ApplyMigrations(sqlDB, migrationFS); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	var count int
	if err := sqlDB.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 recorded migration, got %d", count)
	}
	if _, err := sqlDB.Exec("INSERT INTO widgets (id) VALUES ('w-1')"); err != nil {
		t.Fatalf("expected widgets table to exist: %v", err)
	}
}

func TestApplyMigrationsOrdersFiles(t *testing.T) {
	t.Parallel()

	// The second file depends on the first, so lexical ordering must hold.
	migrationFS := fstest.MapFS{
		"0002_add_column.sql": &fstest.MapFile{Data: []byte(`
-- +migrate Up
ALTER TABLE widgets ADD COLUMN name TEXT NOT NULL DEFAULT '';
`)},
		"0001_init.sql": &fstest.MapFile{Data: []byte(`
-- +migrate Up
CREATE TABLE widgets (id TEXT PRIMARY KEY);
`)},
	}

	sqlDB := openTestDB(t)
	if err := ApplyMigrations(sqlDB, migrationFS); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if _, err := sqlDB.Exec("INSERT INTO widgets (id, name) VALUES ('w-1', 'gear')"); err != nil {
		t.Fatalf("expected widgets.name column to exist: %v", err)
	}
}

func TestApplyMigrationsRequiresDB(t *testing.T) {
	t.Parallel()

	if err := ApplyMigrations(nil, fstest.MapFS{}); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestExtractUpMigration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "no markers returns everything",
			content: "CREATE TABLE a (id TEXT);",
			want:    "CREATE TABLE a (id TEXT);",
		},
		{
			name:    "up and down markers",
			content: "-- +migrate Up\nCREATE TABLE a (id TEXT);\n-- +migrate Down\nDROP TABLE a;",
			want:    "\nCREATE TABLE a (id TEXT);\n",
		},
		{
			name:    "up marker only",
			content: "-- +migrate Up\nCREATE TABLE a (id TEXT);",
			want:    "\nCREATE TABLE a (id TEXT);",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ExtractUpMigration(tc.content); got != tc.want {
				t.Fatalf("ExtractUpMigration = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestIsAlreadyExistsError(t *testing.T) {
	t.Parallel()

	if !IsAlreadyExistsError(errors.New("table widgets already exists")) {
		t.Fatal("expected already-exists detection")
	}
	if IsAlreadyExistsError(errors.New("syntax error")) {
		t.Fatal("did not expect already-exists detection")
	}
}
