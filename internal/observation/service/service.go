// Package service exposes the named operations of the observation core:
// session lifecycle transitions, indicator response validation, the approval
// workflow, and the audit log. A transport layer maps requests onto these
// operations and translates the structured errors into status codes.
package service

import (
	"time"

	"github.com/chalkline/chalkline/internal/platform/id"
)

// defaultClock is overridden in tests for deterministic timestamps.
func defaultClock() time.Time {
	return time.Now().UTC()
}

// defaultIDGenerator is overridden in tests for stable identifiers.
func defaultIDGenerator() (string, error) {
	return id.NewID()
}
