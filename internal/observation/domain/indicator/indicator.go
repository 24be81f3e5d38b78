// Package indicator holds rubric reference data and response validation.
package indicator

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	apperrors "github.com/chalkline/chalkline/internal/platform/errors"
)

// RubricType describes how an indicator is scored.
type RubricType string

const (
	RubricUnspecified RubricType = ""
	// RubricScale scores 1..MaxScore.
	RubricScale RubricType = "scale"
	// RubricCheckbox records a named level, optionally with a 0/1 score.
	RubricCheckbox RubricType = "checkbox"
)

// ParseRubricType canonicalizes a rubric type label.
func ParseRubricType(value string) (RubricType, bool) {
	switch RubricType(strings.ToLower(strings.TrimSpace(value))) {
	case RubricScale:
		return RubricScale, true
	case RubricCheckbox:
		return RubricCheckbox, true
	default:
		return RubricUnspecified, false
	}
}

// Indicator is a scored criterion in an observation rubric. It is static
// reference data owned by a form; this core only reads it.
type Indicator struct {
	ID         string
	FormID     string
	Number     string
	Title      string
	RubricType RubricType
	MaxScore   int
	Active     bool
}

// ResponseInput carries the caller-supplied response values for one indicator.
type ResponseInput struct {
	SelectedScore *int
	SelectedLevel string
	Notes         string
}

// ValidateResponse enforces rubric-type-specific validity of a response.
// It has no side effects and returns a RESPONSE_INVALID domain error on the
// first rule the candidate breaks.
func ValidateResponse(ind Indicator, input ResponseInput) error {
	switch ind.RubricType {
	case RubricScale:
		if input.SelectedScore == nil {
			return invalidResponse(ind, "a scale indicator requires a selected score")
		}
		score := *input.SelectedScore
		if score < 1 || score > ind.MaxScore {
			return invalidResponse(ind, fmt.Sprintf("selected score %d is outside the range 1..%d", score, ind.MaxScore))
		}
		return nil
	case RubricCheckbox:
		if strings.TrimSpace(input.SelectedLevel) == "" {
			return invalidResponse(ind, "a checkbox indicator requires a selected level")
		}
		if input.SelectedScore != nil && *input.SelectedScore != 0 && *input.SelectedScore != 1 {
			return invalidResponse(ind, fmt.Sprintf("selected score %d is not a checkbox value (0 or 1)", *input.SelectedScore))
		}
		return nil
	default:
		return invalidResponse(ind, fmt.Sprintf("unknown rubric type %q", string(ind.RubricType)))
	}
}

func invalidResponse(ind Indicator, reason string) *apperrors.Error {
	return apperrors.WithMetadata(
		apperrors.CodeResponseInvalid,
		fmt.Sprintf("indicator %s: %s", ind.Number, reason),
		map[string]string{"IndicatorNumber": ind.Number, "Reason": reason},
	)
}

// CompareNumbers orders dotted indicator numbers ("1.2", "1.10", "2.1")
// segment by segment, numerically where possible.
func CompareNumbers(a, b string) int {
	aParts := strings.Split(a, ".")
	bParts := strings.Split(b, ".")
	for i := 0; i < len(aParts) && i < len(bParts); i++ {
		aNum, aErr := strconv.Atoi(aParts[i])
		bNum, bErr := strconv.Atoi(bParts[i])
		if aErr == nil && bErr == nil {
			if aNum != bNum {
				if aNum < bNum {
					return -1
				}
				return 1
			}
			continue
		}
		if cmp := strings.Compare(aParts[i], bParts[i]); cmp != 0 {
			return cmp
		}
	}
	switch {
	case len(aParts) < len(bParts):
		return -1
	case len(aParts) > len(bParts):
		return 1
	default:
		return 0
	}
}

// SortNumbers sorts indicator numbers ascending in place.
func SortNumbers(numbers []string) {
	sort.Slice(numbers, func(i, j int) bool {
		return CompareNumbers(numbers[i], numbers[j]) < 0
	})
}
