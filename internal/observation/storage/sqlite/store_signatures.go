package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/chalkline/chalkline/internal/observation/domain/signature"
	"github.com/chalkline/chalkline/internal/observation/storage"
)

// CreateSignature inserts a signature. Signatures are immutable once created,
// so a second signature for the same (session, role) pair is rejected with
// ErrAlreadyExists rather than overwritten.
func (s *Store) CreateSignature(ctx context.Context, sig signature.Signature) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(sig.ID) == "" {
		return fmt.Errorf("signature id is required")
	}
	if strings.TrimSpace(sig.SessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	if sig.Role == signature.RoleUnspecified {
		return fmt.Errorf("signature role is required")
	}
	if strings.TrimSpace(sig.UserID) == "" {
		return fmt.Errorf("user id is required")
	}

	_, err := s.q().ExecContext(ctx, `
INSERT INTO signatures (id, session_id, role, user_id, kind, signed_at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		sig.ID,
		sig.SessionID,
		string(sig.Role),
		sig.UserID,
		sig.Kind,
		toMillis(sig.SignedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create signature: %w", err)
	}
	return nil
}

// GetSignature loads the signature for one (session, role) pair.
func (s *Store) GetSignature(ctx context.Context, sessionID string, role signature.Role) (signature.Signature, error) {
	if err := ctx.Err(); err != nil {
		return signature.Signature{}, err
	}
	row := s.q().QueryRowContext(ctx, `
SELECT id, session_id, role, user_id, kind, signed_at
FROM signatures
WHERE session_id = ? AND role = ?
`, sessionID, string(role))
	sig, err := scanSignature(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return signature.Signature{}, storage.ErrNotFound
		}
		return signature.Signature{}, fmt.Errorf("get signature: %w", err)
	}
	return sig, nil
}

// ListSignaturesBySession returns all signatures for a session ordered by
// signing time ascending.
func (s *Store) ListSignaturesBySession(ctx context.Context, sessionID string) ([]signature.Signature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.q().QueryContext(ctx, `
SELECT id, session_id, role, user_id, kind, signed_at
FROM signatures
WHERE session_id = ?
ORDER BY signed_at, id
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list signatures: %w", err)
	}
	defer rows.Close()

	var sigs []signature.Signature
	for rows.Next() {
		sig, err := scanSignature(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signature row: %w", err)
		}
		sigs = append(sigs, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signature rows: %w", err)
	}
	return sigs, nil
}

// DeleteSignature removes one role's signature from a session.
func (s *Store) DeleteSignature(ctx context.Context, sessionID string, role signature.Role) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	result, err := s.q().ExecContext(ctx,
		"DELETE FROM signatures WHERE session_id = ? AND role = ?", sessionID, string(role))
	if err != nil {
		return fmt.Errorf("delete signature: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete signature rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanSignature(row rowScanner) (signature.Signature, error) {
	var (
		sig      signature.Signature
		roleRaw  string
		signedAt int64
	)
	if err := row.Scan(
		&sig.ID,
		&sig.SessionID,
		&roleRaw,
		&sig.UserID,
		&sig.Kind,
		&signedAt,
	); err != nil {
		return signature.Signature{}, err
	}
	sig.Role = signature.Role(roleRaw)
	sig.SignedAt = fromMillis(signedAt)
	return sig, nil
}
