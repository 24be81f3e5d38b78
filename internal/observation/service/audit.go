package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/chalkline/chalkline/internal/observation/storage"
)

// AuditLog exposes the append-only signature and approval event streams as
// one merged, time-ordered history.
type AuditLog struct {
	store storage.AuditEventStore

	clock func() time.Time
	newID func() (string, error)
}

// NewAuditLog wires the audit service to its event store.
func NewAuditLog(store storage.AuditEventStore) *AuditLog {
	return &AuditLog{
		store: store,
		clock: defaultClock,
		newID: defaultIDGenerator,
	}
}

// AuditReport aggregates a session's merged event history.
type AuditReport struct {
	TotalEvents         int
	SignatureEventCount int
	ApprovalEventCount  int
	UniqueActorCount    int
	Timeline            []TimelineEntry
}

// TimelineEntry is one event in the chronological report with the gap in
// whole minutes since the previous event. The first entry's gap is zero.
type TimelineEntry struct {
	Event      storage.AuditEventRecord
	GapMinutes int
}

// Anomaly is an integrity finding over a session's event history.
type Anomaly struct {
	Code    string
	Message string
}

const (
	// AnomalyDuplicateEvent flags two events sharing session, action, and
	// timestamp.
	AnomalyDuplicateEvent = "duplicate_event"
	// AnomalySignatureAfterDecision flags a signature recorded after an
	// approve or reject decision on the same session.
	AnomalySignatureAfterDecision = "signature_after_decision"
)

// Append stores one event. A missing id or timestamp is filled in
// server-side; everything else is stored verbatim.
func (a *AuditLog) Append(ctx context.Context, evt storage.AuditEventRecord) (storage.AuditEventRecord, error) {
	if evt.ID == "" {
		newID, err := a.newID()
		if err != nil {
			return storage.AuditEventRecord{}, fmt.Errorf("generate event id: %w", err)
		}
		evt.ID = newID
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = a.clock()
	}
	if err := a.store.AppendAuditEvent(ctx, evt); err != nil {
		return storage.AuditEventRecord{}, fmt.Errorf("append audit event: %w", err)
	}
	return evt, nil
}

// ForSession returns the merged signature and approval history for a session
// in chronological order.
func (a *AuditLog) ForSession(ctx context.Context, sessionID string) ([]storage.AuditEventRecord, error) {
	return a.merged(ctx, storage.AuditEventFilter{SessionID: sessionID})
}

// ForSessionLatestFirst returns the merged history newest first, for
// recent-activity listings.
func (a *AuditLog) ForSessionLatestFirst(ctx context.Context, sessionID string) ([]storage.AuditEventRecord, error) {
	events, err := a.merged(ctx, storage.AuditEventFilter{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// Search returns the events matching every populated filter field, across
// both streams, in chronological order.
func (a *AuditLog) Search(ctx context.Context, filter storage.AuditEventFilter) ([]storage.AuditEventRecord, error) {
	return a.merged(ctx, filter)
}

// Report derives counts and a gap-annotated timeline for a session.
func (a *AuditLog) Report(ctx context.Context, sessionID string) (AuditReport, error) {
	events, err := a.merged(ctx, storage.AuditEventFilter{SessionID: sessionID})
	if err != nil {
		return AuditReport{}, err
	}

	report := AuditReport{TotalEvents: len(events)}
	actors := make(map[string]struct{})
	for i, evt := range events {
		switch evt.Stream {
		case storage.StreamSignature:
			report.SignatureEventCount++
		case storage.StreamApproval:
			report.ApprovalEventCount++
		}
		if evt.ActorID != "" {
			actors[evt.ActorID] = struct{}{}
		}

		entry := TimelineEntry{Event: evt}
		if i > 0 {
			entry.GapMinutes = int(math.Round(evt.Timestamp.Sub(events[i-1].Timestamp).Minutes()))
		}
		report.Timeline = append(report.Timeline, entry)
	}
	report.UniqueActorCount = len(actors)
	return report, nil
}

// Validate surfaces sequencing anomalies in a session's history. Findings
// are reported, never repaired.
func (a *AuditLog) Validate(ctx context.Context, sessionID string) ([]Anomaly, error) {
	events, err := a.merged(ctx, storage.AuditEventFilter{SessionID: sessionID})
	if err != nil {
		return nil, err
	}

	var anomalies []Anomaly
	seen := make(map[string]bool, len(events))
	var firstDecision *time.Time
	for _, evt := range events {
		key := fmt.Sprintf("%s|%s|%d", evt.SessionID, evt.Action, evt.Timestamp.UnixMilli())
		if seen[key] {
			anomalies = append(anomalies, Anomaly{
				Code:    AnomalyDuplicateEvent,
				Message: fmt.Sprintf("duplicate %s event at %s", evt.Action, evt.Timestamp.Format(time.RFC3339)),
			})
		}
		seen[key] = true

		switch evt.Action {
		case storage.ActionApprove, storage.ActionReject:
			if firstDecision == nil {
				ts := evt.Timestamp
				firstDecision = &ts
			}
		case storage.ActionSignatureCreated:
			if firstDecision != nil && evt.Timestamp.After(*firstDecision) {
				anomalies = append(anomalies, Anomaly{
					Code:    AnomalySignatureAfterDecision,
					Message: fmt.Sprintf("signature recorded at %s after a decision at %s", evt.Timestamp.Format(time.RFC3339), firstDecision.Format(time.RFC3339)),
				})
			}
		}
	}
	return anomalies, nil
}

// merged reads both streams and interleaves them by timestamp ascending.
// Stream order breaks timestamp ties so repeated reads stay stable.
func (a *AuditLog) merged(ctx context.Context, filter storage.AuditEventFilter) ([]storage.AuditEventRecord, error) {
	signatureEvents, err := a.store.ListAuditEvents(ctx, storage.StreamSignature, filter)
	if err != nil {
		return nil, fmt.Errorf("list signature events: %w", err)
	}
	approvalEvents, err := a.store.ListAuditEvents(ctx, storage.StreamApproval, filter)
	if err != nil {
		return nil, fmt.Errorf("list approval events: %w", err)
	}

	events := make([]storage.AuditEventRecord, 0, len(signatureEvents)+len(approvalEvents))
	events = append(events, signatureEvents...)
	events = append(events, approvalEvents...)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}
