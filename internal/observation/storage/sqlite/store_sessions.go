package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chalkline/chalkline/internal/observation/domain/session"
	"github.com/chalkline/chalkline/internal/observation/storage"
)

const sessionColumns = `id, school_name, teacher_name, observer_id, subject, grade, observation_date,
	start_time, end_time, reflection, form_id, status, created_at, updated_at`

// CreateSession persists a new observation session record.
func (s *Store) CreateSession(ctx context.Context, sess session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(sess.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(sess.ObserverID) == "" {
		return fmt.Errorf("observer id is required")
	}
	if sess.Status == session.StatusUnspecified {
		return fmt.Errorf("session status is required")
	}

	_, err := s.q().ExecContext(ctx, `
INSERT INTO sessions (`+sessionColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		sess.ID,
		sess.SchoolName,
		sess.TeacherName,
		sess.ObserverID,
		sess.Subject,
		sess.Grade,
		toNullMillis(sess.ObservationDate),
		sess.StartTime,
		sess.EndTime,
		sess.Reflection,
		sess.FormID,
		string(sess.Status),
		toMillis(sess.CreatedAt),
		toMillis(sess.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession loads one session by id.
func (s *Store) GetSession(ctx context.Context, id string) (session.Session, error) {
	if err := ctx.Err(); err != nil {
		return session.Session{}, err
	}
	row := s.q().QueryRowContext(ctx, `
SELECT `+sessionColumns+`
FROM sessions
WHERE id = ?
`, id)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Session{}, storage.ErrNotFound
		}
		return session.Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// UpdateSessionStatus commits a status change guarded by the expected current
// status. A zero-row update surfaces as storage.ErrNotFound when the session is
// missing and as a status conflict when another request already moved it.
func (s *Store) UpdateSessionStatus(ctx context.Context, id string, from, to session.Status, updatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	result, err := s.q().ExecContext(ctx, `
UPDATE sessions SET status = ?, updated_at = ? WHERE id = ? AND status = ?
`, string(to), toMillis(updatedAt), id, string(from))
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session status rows affected: %w", err)
	}
	if affected == 0 {
		// Zero rows means either the session is gone or another writer won
		// the race; tell the caller which.
		var actual string
		err := s.q().QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = ?`, id).Scan(&actual)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read session status: %w", err)
		}
		return storage.StatusConflictError(id, from, session.Status(actual))
	}
	return nil
}

// UpdateSessionFields applies a partial field patch for the auto-save path.
func (s *Store) UpdateSessionFields(ctx context.Context, id string, patch storage.SessionPatch, updatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if patch.IsEmpty() {
		return nil
	}

	setParts := []string{"updated_at = ?"}
	args := []any{toMillis(updatedAt)}
	if patch.SchoolName != nil {
		setParts = append(setParts, "school_name = ?")
		args = append(args, *patch.SchoolName)
	}
	if patch.TeacherName != nil {
		setParts = append(setParts, "teacher_name = ?")
		args = append(args, *patch.TeacherName)
	}
	if patch.Subject != nil {
		setParts = append(setParts, "subject = ?")
		args = append(args, *patch.Subject)
	}
	if patch.Grade != nil {
		setParts = append(setParts, "grade = ?")
		args = append(args, *patch.Grade)
	}
	if patch.ObservationDate != nil {
		setParts = append(setParts, "observation_date = ?")
		args = append(args, toMillis(*patch.ObservationDate))
	}
	if patch.StartTime != nil {
		setParts = append(setParts, "start_time = ?")
		args = append(args, *patch.StartTime)
	}
	if patch.EndTime != nil {
		setParts = append(setParts, "end_time = ?")
		args = append(args, *patch.EndTime)
	}
	if patch.Reflection != nil {
		setParts = append(setParts, "reflection = ?")
		args = append(args, *patch.Reflection)
	}
	args = append(args, id)

	result, err := s.q().ExecContext(ctx,
		"UPDATE sessions SET "+strings.Join(setParts, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update session fields: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session fields rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteSession removes a session permanently. Responses and signatures
// cascade through foreign keys.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	result, err := s.q().ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListSessionsByStatus returns all sessions with the given status, newest
// first.
func (s *Store) ListSessionsByStatus(ctx context.Context, status session.Status) ([]session.Session, error) {
	return s.listSessions(ctx, "status = ?", string(status))
}

// ListSessionsByObserver returns all sessions owned by an observer, newest
// first.
func (s *Store) ListSessionsByObserver(ctx context.Context, observerID string) ([]session.Session, error) {
	return s.listSessions(ctx, "observer_id = ?", observerID)
}

func (s *Store) listSessions(ctx context.Context, where string, arg any) ([]session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.q().QueryContext(ctx, `
SELECT `+sessionColumns+`
FROM sessions
WHERE `+where+`
ORDER BY created_at DESC, id
`, arg)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (session.Session, error) {
	var (
		sess            session.Session
		statusRaw       string
		observationDate sql.NullInt64
		createdAt       int64
		updatedAt       int64
	)
	if err := row.Scan(
		&sess.ID,
		&sess.SchoolName,
		&sess.TeacherName,
		&sess.ObserverID,
		&sess.Subject,
		&sess.Grade,
		&observationDate,
		&sess.StartTime,
		&sess.EndTime,
		&sess.Reflection,
		&sess.FormID,
		&statusRaw,
		&createdAt,
		&updatedAt,
	); err != nil {
		return session.Session{}, err
	}
	sess.Status = session.Status(statusRaw)
	sess.ObservationDate = fromNullMillis(observationDate)
	sess.CreatedAt = fromMillis(createdAt)
	sess.UpdatedAt = fromMillis(updatedAt)
	return sess, nil
}
