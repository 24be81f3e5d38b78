package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/chalkline/chalkline/internal/observation/domain/indicator"
	"github.com/chalkline/chalkline/internal/observation/storage"
)

// PutForm creates or replaces a form record.
func (s *Store) PutForm(ctx context.Context, form storage.FormRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(form.ID) == "" {
		return fmt.Errorf("form id is required")
	}
	if strings.TrimSpace(form.Name) == "" {
		return fmt.Errorf("form name is required")
	}
	_, err := s.q().ExecContext(ctx, `
INSERT INTO forms (id, name, created_at) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET name = excluded.name
`, form.ID, form.Name, toMillis(form.CreatedAt))
	if err != nil {
		return fmt.Errorf("put form: %w", err)
	}
	return nil
}

// PutIndicator creates or replaces an indicator record.
func (s *Store) PutIndicator(ctx context.Context, ind indicator.Indicator) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(ind.ID) == "" {
		return fmt.Errorf("indicator id is required")
	}
	if strings.TrimSpace(ind.FormID) == "" {
		return fmt.Errorf("form id is required")
	}
	if strings.TrimSpace(ind.Number) == "" {
		return fmt.Errorf("indicator number is required")
	}
	_, err := s.q().ExecContext(ctx, `
INSERT INTO indicators (id, form_id, number, title, rubric_type, max_score, active)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	form_id = excluded.form_id,
	number = excluded.number,
	title = excluded.title,
	rubric_type = excluded.rubric_type,
	max_score = excluded.max_score,
	active = excluded.active
`,
		ind.ID,
		ind.FormID,
		ind.Number,
		ind.Title,
		string(ind.RubricType),
		ind.MaxScore,
		boolToInt(ind.Active),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("put indicator: %w", err)
	}
	return nil
}

// GetIndicator loads one indicator by id.
func (s *Store) GetIndicator(ctx context.Context, id string) (indicator.Indicator, error) {
	if err := ctx.Err(); err != nil {
		return indicator.Indicator{}, err
	}
	row := s.q().QueryRowContext(ctx, `
SELECT id, form_id, number, title, rubric_type, max_score, active
FROM indicators
WHERE id = ?
`, id)
	ind, err := scanIndicator(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return indicator.Indicator{}, storage.ErrNotFound
		}
		return indicator.Indicator{}, fmt.Errorf("get indicator: %w", err)
	}
	return ind, nil
}

// ListActiveIndicatorsByForm returns the active indicator set for a form
// ordered by indicator number ascending.
func (s *Store) ListActiveIndicatorsByForm(ctx context.Context, formID string) ([]indicator.Indicator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.q().QueryContext(ctx, `
SELECT id, form_id, number, title, rubric_type, max_score, active
FROM indicators
WHERE form_id = ? AND active = 1
`, formID)
	if err != nil {
		return nil, fmt.Errorf("list active indicators: %w", err)
	}
	defer rows.Close()

	var indicators []indicator.Indicator
	for rows.Next() {
		ind, err := scanIndicator(rows)
		if err != nil {
			return nil, fmt.Errorf("scan indicator row: %w", err)
		}
		indicators = append(indicators, ind)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate indicator rows: %w", err)
	}

	// Dotted numbers sort numerically per segment, which SQL cannot do.
	sort.Slice(indicators, func(i, j int) bool {
		return indicator.CompareNumbers(indicators[i].Number, indicators[j].Number) < 0
	})
	return indicators, nil
}

func scanIndicator(row rowScanner) (indicator.Indicator, error) {
	var (
		ind       indicator.Indicator
		rubricRaw string
		activeRaw int
	)
	if err := row.Scan(
		&ind.ID,
		&ind.FormID,
		&ind.Number,
		&ind.Title,
		&rubricRaw,
		&ind.MaxScore,
		&activeRaw,
	); err != nil {
		return indicator.Indicator{}, err
	}
	ind.RubricType = indicator.RubricType(rubricRaw)
	ind.Active = activeRaw != 0
	return ind, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
