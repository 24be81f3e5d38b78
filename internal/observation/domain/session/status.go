package session

import "strings"

// Status describes the observation session lifecycle label used by domain decisions.
type Status string

const (
	StatusUnspecified Status = ""
	StatusDraft       Status = "draft"
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusApproved    Status = "approved"
)

// ParseStatus canonicalizes status labels from transport or storage input.
func ParseStatus(value string) (Status, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return StatusUnspecified, false
	}
	switch strings.ToUpper(trimmed) {
	case "DRAFT", "SESSION_STATUS_DRAFT":
		return StatusDraft, true
	case "IN_PROGRESS", "SESSION_STATUS_IN_PROGRESS":
		return StatusInProgress, true
	case "COMPLETED", "SESSION_STATUS_COMPLETED":
		return StatusCompleted, true
	case "APPROVED", "SESSION_STATUS_APPROVED":
		return StatusApproved, true
	default:
		return StatusUnspecified, false
	}
}

// Label returns a stable uppercase label for a session status.
func (s Status) Label() string {
	switch s {
	case StatusDraft:
		return "DRAFT"
	case StatusInProgress:
		return "IN_PROGRESS"
	case StatusCompleted:
		return "COMPLETED"
	case StatusApproved:
		return "APPROVED"
	default:
		return "UNSPECIFIED"
	}
}

// IsTransitionAllowed enforces valid session lifecycle transitions.
//
// Approved is terminal. Completion can be requested from either editable
// status, and an in-progress session can roll back to draft for editing.
func IsTransitionAllowed(from, to Status) bool {
	switch from {
	case StatusDraft:
		return to == StatusInProgress || to == StatusCompleted
	case StatusInProgress:
		return to == StatusDraft || to == StatusCompleted
	case StatusCompleted:
		return to == StatusApproved
	default:
		return false
	}
}

// IsEditable reports whether session content may still change.
func (s Status) IsEditable() bool {
	return s == StatusDraft || s == StatusInProgress
}
