package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/chalkline/chalkline/internal/observation/domain/indicator"
	"github.com/chalkline/chalkline/internal/observation/domain/session"
	"github.com/chalkline/chalkline/internal/observation/storage"
	apperrors "github.com/chalkline/chalkline/internal/platform/errors"
)

// IndicatorResponses enforces rubric validity of indicator responses and
// reports session-wide completion.
type IndicatorResponses struct {
	stores storage.Stores
	tx     storage.Transactor

	clock func() time.Time
	newID func() (string, error)
}

// NewIndicatorResponses wires the response service to a store bundle and its
// transaction boundary.
func NewIndicatorResponses(stores storage.Stores, tx storage.Transactor) *IndicatorResponses {
	return &IndicatorResponses{
		stores: stores,
		tx:     tx,
		clock:  defaultClock,
		newID:  defaultIDGenerator,
	}
}

// ResponseItem pairs an indicator with caller-supplied response values for
// the bulk replace path.
type ResponseItem struct {
	IndicatorID string
	Input       indicator.ResponseInput
}

// CompletionReport summarizes how much of a session's active indicator set
// has a stored response.
type CompletionReport struct {
	TotalIndicators      int
	CompletedResponses   int
	CompletionPercentage int
	// MissingIndicators lists the numbers of active indicators with no
	// response, ascending.
	MissingIndicators []string
}

// ValidationReport accumulates every rubric violation across a session's
// stored responses.
type ValidationReport struct {
	IsValid bool
	Errors  []string
}

// Upsert validates a response and stores it, replacing any previous response
// for the same (session, indicator) pair. The session must still be editable.
func (s *IndicatorResponses) Upsert(ctx context.Context, sessionID, indicatorID string, input indicator.ResponseInput) (storage.ResponseRecord, error) {
	sess, err := s.stores.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return storage.ResponseRecord{}, fmt.Errorf("load session: %w", err)
	}
	if !sess.Status.IsEditable() {
		return storage.ResponseRecord{}, sessionLockedError(sess.ID, sess.Status)
	}

	ind, err := s.stores.Indicators.GetIndicator(ctx, indicatorID)
	if err != nil {
		return storage.ResponseRecord{}, fmt.Errorf("load indicator: %w", err)
	}
	if err := indicator.ValidateResponse(ind, input); err != nil {
		return storage.ResponseRecord{}, err
	}

	newID, err := s.newID()
	if err != nil {
		return storage.ResponseRecord{}, fmt.Errorf("generate response id: %w", err)
	}
	now := s.clock()
	record := storage.ResponseRecord{
		ID:            newID,
		SessionID:     sessionID,
		IndicatorID:   indicatorID,
		SelectedScore: input.SelectedScore,
		SelectedLevel: input.SelectedLevel,
		Notes:         input.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.stores.Responses.UpsertResponse(ctx, record); err != nil {
		return storage.ResponseRecord{}, fmt.Errorf("store response: %w", err)
	}

	stored, err := s.stores.Responses.GetResponse(ctx, sessionID, indicatorID)
	if err != nil {
		return storage.ResponseRecord{}, fmt.Errorf("reload response: %w", err)
	}
	return stored, nil
}

// BulkReplace removes every stored response for the session and stores the
// supplied responses in input order, all within one transaction. A validation
// failure on any item aborts the whole batch. Returns the stored responses.
func (s *IndicatorResponses) BulkReplace(ctx context.Context, sessionID string, items []ResponseItem) ([]storage.ResponseRecord, error) {
	sess, err := s.stores.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !sess.Status.IsEditable() {
		return nil, sessionLockedError(sess.ID, sess.Status)
	}

	// Validate the full batch before touching storage so a bad item cannot
	// clear responses it will never replace.
	for _, item := range items {
		ind, err := s.stores.Indicators.GetIndicator(ctx, item.IndicatorID)
		if err != nil {
			return nil, fmt.Errorf("load indicator %s: %w", item.IndicatorID, err)
		}
		if err := indicator.ValidateResponse(ind, item.Input); err != nil {
			return nil, err
		}
	}

	now := s.clock()
	stored := make([]storage.ResponseRecord, 0, len(items))
	err = s.tx.InTx(ctx, func(stores storage.Stores) error {
		if err := stores.Responses.DeleteResponsesBySession(ctx, sessionID); err != nil {
			return fmt.Errorf("clear responses: %w", err)
		}
		for _, item := range items {
			newID, err := s.newID()
			if err != nil {
				return fmt.Errorf("generate response id: %w", err)
			}
			record := storage.ResponseRecord{
				ID:            newID,
				SessionID:     sessionID,
				IndicatorID:   item.IndicatorID,
				SelectedScore: item.Input.SelectedScore,
				SelectedLevel: item.Input.SelectedLevel,
				Notes:         item.Input.Notes,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := stores.Responses.UpsertResponse(ctx, record); err != nil {
				return fmt.Errorf("store response for indicator %s: %w", item.IndicatorID, err)
			}
			stored = append(stored, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Completion joins the session's active indicator set against its stored
// responses. A session whose form has no active indicators reports zeros.
func (s *IndicatorResponses) Completion(ctx context.Context, sessionID string) (CompletionReport, error) {
	return s.completion(ctx, s.stores, sessionID)
}

// completion runs against the supplied store bundle so transition gates can
// read through their own transaction scope.
func (s *IndicatorResponses) completion(ctx context.Context, stores storage.Stores, sessionID string) (CompletionReport, error) {
	sess, err := stores.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return CompletionReport{}, fmt.Errorf("load session: %w", err)
	}

	indicators, err := stores.Indicators.ListActiveIndicatorsByForm(ctx, sess.FormID)
	if err != nil {
		return CompletionReport{}, fmt.Errorf("list indicators: %w", err)
	}
	if len(indicators) == 0 {
		return CompletionReport{}, nil
	}

	responses, err := stores.Responses.ListResponsesBySession(ctx, sessionID)
	if err != nil {
		return CompletionReport{}, fmt.Errorf("list responses: %w", err)
	}
	answered := make(map[string]bool, len(responses))
	for _, resp := range responses {
		answered[resp.IndicatorID] = true
	}

	report := CompletionReport{TotalIndicators: len(indicators)}
	for _, ind := range indicators {
		if answered[ind.ID] {
			report.CompletedResponses++
			continue
		}
		report.MissingIndicators = append(report.MissingIndicators, ind.Number)
	}
	indicator.SortNumbers(report.MissingIndicators)
	report.CompletionPercentage = int(math.Round(100 * float64(report.CompletedResponses) / float64(report.TotalIndicators)))
	return report, nil
}

// ValidateAll re-validates every stored response for the session and
// accumulates every violation instead of stopping at the first.
func (s *IndicatorResponses) ValidateAll(ctx context.Context, sessionID string) (ValidationReport, error) {
	return s.validateAll(ctx, s.stores, sessionID)
}

func (s *IndicatorResponses) validateAll(ctx context.Context, stores storage.Stores, sessionID string) (ValidationReport, error) {
	responses, err := stores.Responses.ListResponsesBySession(ctx, sessionID)
	if err != nil {
		return ValidationReport{}, fmt.Errorf("list responses: %w", err)
	}

	report := ValidationReport{IsValid: true}
	for _, resp := range responses {
		ind, err := stores.Indicators.GetIndicator(ctx, resp.IndicatorID)
		if err != nil {
			return ValidationReport{}, fmt.Errorf("load indicator %s: %w", resp.IndicatorID, err)
		}
		input := indicator.ResponseInput{
			SelectedScore: resp.SelectedScore,
			SelectedLevel: resp.SelectedLevel,
			Notes:         resp.Notes,
		}
		if err := indicator.ValidateResponse(ind, input); err != nil {
			report.IsValid = false
			report.Errors = append(report.Errors, err.Error())
		}
	}
	return report, nil
}

func sessionLockedError(sessionID string, status session.Status) error {
	return apperrors.WithMetadata(
		apperrors.CodeSessionLocked,
		fmt.Sprintf("session %s is %s and no longer accepts content changes", sessionID, status.Label()),
		map[string]string{"SessionID": sessionID, "Status": status.Label()},
	)
}
