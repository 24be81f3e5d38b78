package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/chalkline/chalkline/internal/observation/storage"
)

const responseColumns = `id, session_id, indicator_id, selected_score, selected_level, notes, created_at, updated_at`

// UpsertResponse creates or replaces the response for the record's
// (session, indicator) pair. The unique constraint keeps at most one row per
// pair regardless of call ordering.
func (s *Store) UpsertResponse(ctx context.Context, record storage.ResponseRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("response id is required")
	}
	if strings.TrimSpace(record.SessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(record.IndicatorID) == "" {
		return fmt.Errorf("indicator id is required")
	}

	_, err := s.q().ExecContext(ctx, `
INSERT INTO indicator_responses (`+responseColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id, indicator_id) DO UPDATE SET
	selected_score = excluded.selected_score,
	selected_level = excluded.selected_level,
	notes = excluded.notes,
	updated_at = excluded.updated_at
`,
		record.ID,
		record.SessionID,
		record.IndicatorID,
		toNullInt(record.SelectedScore),
		record.SelectedLevel,
		record.Notes,
		toMillis(record.CreatedAt),
		toMillis(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert response: %w", err)
	}
	return nil
}

// GetResponse loads the response for one (session, indicator) pair.
func (s *Store) GetResponse(ctx context.Context, sessionID, indicatorID string) (storage.ResponseRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.ResponseRecord{}, err
	}
	row := s.q().QueryRowContext(ctx, `
SELECT `+responseColumns+`
FROM indicator_responses
WHERE session_id = ? AND indicator_id = ?
`, sessionID, indicatorID)
	record, err := scanResponse(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ResponseRecord{}, storage.ErrNotFound
		}
		return storage.ResponseRecord{}, fmt.Errorf("get response: %w", err)
	}
	return record, nil
}

// ListResponsesBySession returns all stored responses for a session.
func (s *Store) ListResponsesBySession(ctx context.Context, sessionID string) ([]storage.ResponseRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.q().QueryContext(ctx, `
SELECT `+responseColumns+`
FROM indicator_responses
WHERE session_id = ?
ORDER BY created_at, id
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	var records []storage.ResponseRecord
	for rows.Next() {
		record, err := scanResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan response row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate response rows: %w", err)
	}
	return records, nil
}

// DeleteResponsesBySession removes every response for a session. Used by the
// bulk replace path inside its transaction.
func (s *Store) DeleteResponsesBySession(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.q().ExecContext(ctx,
		"DELETE FROM indicator_responses WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("delete responses: %w", err)
	}
	return nil
}

func scanResponse(row rowScanner) (storage.ResponseRecord, error) {
	var (
		record    storage.ResponseRecord
		score     sql.NullInt64
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(
		&record.ID,
		&record.SessionID,
		&record.IndicatorID,
		&score,
		&record.SelectedLevel,
		&record.Notes,
		&createdAt,
		&updatedAt,
	); err != nil {
		return storage.ResponseRecord{}, err
	}
	record.SelectedScore = fromNullInt(score)
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}
