// Package session holds the observation session lifecycle rules.
package session

import (
	"strings"
	"time"
)

// Session represents one classroom observation record.
type Session struct {
	ID              string
	SchoolName      string
	TeacherName     string
	ObserverID      string
	Subject         string
	Grade           string
	ObservationDate time.Time
	StartTime       string
	EndTime         string
	Reflection      string
	FormID          string
	Status          Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CanEdit reports whether the actor may edit session content. Only the
// observer that owns the session may edit, and only while it is editable.
func CanEdit(sess Session, actorUserID string) bool {
	if !sess.Status.IsEditable() {
		return false
	}
	actorUserID = strings.TrimSpace(actorUserID)
	return actorUserID != "" && actorUserID == sess.ObserverID
}

// CanDelete reports whether the actor may delete the session. Deletion is
// hard and permanent, so it is restricted to draft sessions owned by the
// actor or removed by an administrator.
func CanDelete(sess Session, actorUserID string, isAdmin bool) bool {
	if sess.Status != StatusDraft {
		return false
	}
	if isAdmin {
		return true
	}
	actorUserID = strings.TrimSpace(actorUserID)
	return actorUserID != "" && actorUserID == sess.ObserverID
}

// HasBasicFields reports whether the descriptive fields required before
// completion are all present.
func HasBasicFields(sess Session) bool {
	return strings.TrimSpace(sess.SchoolName) != "" &&
		strings.TrimSpace(sess.TeacherName) != "" &&
		strings.TrimSpace(sess.Subject) != "" &&
		strings.TrimSpace(sess.Grade) != "" &&
		!sess.ObservationDate.IsZero()
}

// HasTimeRange reports whether both observation times are recorded.
func HasTimeRange(sess Session) bool {
	return strings.TrimSpace(sess.StartTime) != "" && strings.TrimSpace(sess.EndTime) != ""
}

// HasReflection reports whether the observer wrote a post-observation reflection.
func HasReflection(sess Session) bool {
	return strings.TrimSpace(sess.Reflection) != ""
}
