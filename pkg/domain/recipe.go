package domain

import (
	"errors"
	"strings"
)

const (
	MinRuntimeSeconds = 1
	MaxRuntimeSeconds = 300
)

// DemoRecipe is the static description of a runnable demo.
type DemoRecipe struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	Category         string         `json:"category"`
	MaxRuntime       int            `json:"max_runtime"`
	RequiresNetwork  bool           `json:"requires_network"`
	RequiresRoot     bool           `json:"requires_root"`
	ParametersSchema map[string]any `json:"parameters_schema"`
}

func (r DemoRecipe) Validate() error {
	var errs []string
	if strings.TrimSpace(r.ID) == "" {
		errs = append(errs, "id is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		errs = append(errs, "name is required")
	}
	if r.MaxRuntime < MinRuntimeSeconds || r.MaxRuntime > MaxRuntimeSeconds {
		errs = append(errs, "max_runtime must be between 1 and 300 seconds")
	}
	if r.ParametersSchema == nil {
		errs = append(errs, "parameters_schema is required")
	}
	if len(errs) > 0 {
		return errors.New("invalid recipe " + r.ID + ": " + strings.Join(errs, "; "))
	}
	return nil
}
