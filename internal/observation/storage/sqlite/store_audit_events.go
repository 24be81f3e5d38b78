package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/chalkline/chalkline/internal/observation/storage"
)

func auditTable(stream storage.Stream) (string, error) {
	switch stream {
	case storage.StreamSignature:
		return "signature_events", nil
	case storage.StreamApproval:
		return "approval_events", nil
	default:
		return "", fmt.Errorf("unknown audit stream %q", string(stream))
	}
}

// AppendAuditEvent records one immutable event in its stream's table.
func (s *Store) AppendAuditEvent(ctx context.Context, evt storage.AuditEventRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	table, err := auditTable(evt.Stream)
	if err != nil {
		return err
	}
	if strings.TrimSpace(evt.ID) == "" {
		return fmt.Errorf("event id is required")
	}
	if strings.TrimSpace(evt.SessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(evt.Action) == "" {
		return fmt.Errorf("action is required")
	}
	if evt.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}

	_, err = s.q().ExecContext(ctx, `
INSERT INTO `+table+` (id, session_id, action, actor_id, actor_role, comments, metadata, timestamp)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		evt.ID,
		evt.SessionID,
		evt.Action,
		evt.ActorID,
		evt.ActorRole,
		evt.Comments,
		evt.Metadata,
		toMillis(evt.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// ListAuditEvents returns matching events from one stream ordered by
// timestamp ascending. Zero filter fields match everything; populated fields
// combine with AND.
func (s *Store) ListAuditEvents(ctx context.Context, stream storage.Stream, filter storage.AuditEventFilter) ([]storage.AuditEventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	table, err := auditTable(stream)
	if err != nil {
		return nil, err
	}

	whereParts := []string{"1 = 1"}
	var args []any
	if sessionID := strings.TrimSpace(filter.SessionID); sessionID != "" {
		whereParts = append(whereParts, "session_id = ?")
		args = append(args, sessionID)
	}
	if actorID := strings.TrimSpace(filter.ActorID); actorID != "" {
		whereParts = append(whereParts, "actor_id = ?")
		args = append(args, actorID)
	}
	if action := strings.TrimSpace(filter.Action); action != "" {
		whereParts = append(whereParts, "action = ?")
		args = append(args, action)
	}
	if filter.From != nil {
		whereParts = append(whereParts, "timestamp >= ?")
		args = append(args, toMillis(*filter.From))
	}
	if filter.To != nil {
		whereParts = append(whereParts, "timestamp <= ?")
		args = append(args, toMillis(*filter.To))
	}

	rows, err := s.q().QueryContext(ctx, `
SELECT id, session_id, action, actor_id, actor_role, comments, metadata, timestamp
FROM `+table+`
WHERE `+strings.Join(whereParts, " AND ")+`
ORDER BY timestamp, id
`, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []storage.AuditEventRecord
	for rows.Next() {
		var (
			evt       storage.AuditEventRecord
			timestamp int64
		)
		if err := rows.Scan(
			&evt.ID,
			&evt.SessionID,
			&evt.Action,
			&evt.ActorID,
			&evt.ActorRole,
			&evt.Comments,
			&evt.Metadata,
			&timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan audit event row: %w", err)
		}
		evt.Stream = stream
		evt.Timestamp = fromMillis(timestamp)
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit event rows: %w", err)
	}
	return events, nil
}
