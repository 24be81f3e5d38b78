// Package catalog loads rubric form definitions from YAML files and installs
// them as the indicator reference data sessions are scored against.
package catalog

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chalkline/chalkline/internal/observation/domain/indicator"
	"github.com/chalkline/chalkline/internal/observation/storage"
	apperrors "github.com/chalkline/chalkline/internal/platform/errors"
)

// Catalog is one parsed rubric definition file.
type Catalog struct {
	Forms []Form `yaml:"forms"`
}

// Form is a named rubric with its indicator set.
type Form struct {
	ID         string          `yaml:"id"`
	Name       string          `yaml:"name"`
	Indicators []IndicatorSpec `yaml:"indicators"`
}

// IndicatorSpec is one criterion definition inside a form.
type IndicatorSpec struct {
	ID       string `yaml:"id"`
	Number   string `yaml:"number"`
	Title    string `yaml:"title"`
	Rubric   string `yaml:"rubric"`
	MaxScore int    `yaml:"max_score"`
	Inactive bool   `yaml:"inactive"`
}

// LoadFile parses and validates one catalog file.
func LoadFile(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes catalog YAML and validates it.
func Parse(data []byte) (Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return Catalog{}, apperrors.Wrap(apperrors.CodeCatalogInvalid, "catalog is not valid YAML", err)
	}
	if err := Validate(cat); err != nil {
		return Catalog{}, err
	}
	return cat, nil
}

// Validate checks structural rules: forms need ids and names, indicator ids
// and numbers are unique within a form, rubric types are known, and scale
// indicators carry a positive max score.
func Validate(cat Catalog) error {
	if len(cat.Forms) == 0 {
		return invalid("catalog defines no forms")
	}
	formIDs := make(map[string]bool, len(cat.Forms))
	for _, form := range cat.Forms {
		if strings.TrimSpace(form.ID) == "" || strings.TrimSpace(form.Name) == "" {
			return invalid("every form needs an id and a name")
		}
		if formIDs[form.ID] {
			return invalid(fmt.Sprintf("duplicate form id %s", form.ID))
		}
		formIDs[form.ID] = true

		if len(form.Indicators) == 0 {
			return invalid(fmt.Sprintf("form %s defines no indicators", form.ID))
		}
		ids := make(map[string]bool, len(form.Indicators))
		numbers := make(map[string]bool, len(form.Indicators))
		for _, spec := range form.Indicators {
			if strings.TrimSpace(spec.ID) == "" || strings.TrimSpace(spec.Number) == "" || strings.TrimSpace(spec.Title) == "" {
				return invalid(fmt.Sprintf("form %s has an indicator missing id, number, or title", form.ID))
			}
			if ids[spec.ID] {
				return invalid(fmt.Sprintf("form %s repeats indicator id %s", form.ID, spec.ID))
			}
			ids[spec.ID] = true
			if numbers[spec.Number] {
				return invalid(fmt.Sprintf("form %s repeats indicator number %s", form.ID, spec.Number))
			}
			numbers[spec.Number] = true

			rubric, ok := indicator.ParseRubricType(spec.Rubric)
			if !ok {
				return invalid(fmt.Sprintf("indicator %s has unknown rubric type %q", spec.Number, spec.Rubric))
			}
			switch rubric {
			case indicator.RubricScale:
				if spec.MaxScore < 1 {
					return invalid(fmt.Sprintf("scale indicator %s needs a max score of at least 1", spec.Number))
				}
			case indicator.RubricCheckbox:
				if spec.MaxScore != 0 {
					return invalid(fmt.Sprintf("checkbox indicator %s must not set a max score", spec.Number))
				}
			}
		}
	}
	return nil
}

// Install writes the catalog's forms and indicators into the store. Existing
// rows with the same ids are overwritten, which is how catalog revisions
// roll out.
func Install(ctx context.Context, cat Catalog, store storage.IndicatorStore, now time.Time) error {
	for _, form := range cat.Forms {
		if err := store.PutForm(ctx, storage.FormRecord{ID: form.ID, Name: form.Name, CreatedAt: now}); err != nil {
			return fmt.Errorf("install form %s: %w", form.ID, err)
		}
		for _, spec := range form.Indicators {
			ind := indicator.Indicator{
				ID:       spec.ID,
				FormID:   form.ID,
				Number:   spec.Number,
				Title:    spec.Title,
				MaxScore: spec.MaxScore,
				Active:   !spec.Inactive,
			}
			ind.RubricType, _ = indicator.ParseRubricType(spec.Rubric)
			if err := store.PutIndicator(ctx, ind); err != nil {
				return fmt.Errorf("install indicator %s: %w", spec.ID, err)
			}
		}
	}
	return nil
}

func invalid(reason string) error {
	return apperrors.New(apperrors.CodeCatalogInvalid, reason)
}
