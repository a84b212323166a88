package domain

import (
	"fmt"
	"strings"
)

// FieldViolation names one parameter that failed validation.
type FieldViolation struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError is a caller-fixable parameter problem. It lists every
// violation found; validation never yields a partially typed value.
type ValidationError struct {
	Violations []FieldViolation
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Violations: []FieldViolation{{Field: field, Reason: reason}}}
}

func (e *ValidationError) Add(field, reason string) {
	e.Violations = append(e.Violations, FieldViolation{Field: field, Reason: reason})
}

// Field returns the first offending field.
func (e *ValidationError) Field() string {
	if e == nil || len(e.Violations) == 0 {
		return ""
	}
	return e.Violations[0].Field
}

// Has reports whether field is among the violations.
func (e *ValidationError) Has(field string) bool {
	for _, v := range e.Violations {
		if v.Field == field {
			return true
		}
	}
	return false
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+": "+v.Reason)
	}
	return "invalid parameters: " + strings.Join(parts, "; ")
}

// OrNil returns nil when no violation was recorded.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Violations) == 0 {
		return nil
	}
	return e
}

// NotFoundError reports an unknown demo or job id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s '%s' not found", e.Kind, e.ID)
}

func DemoNotFound(id string) *NotFoundError { return &NotFoundError{Kind: "demo", ID: id} }
func JobNotFound(id string) *NotFoundError  { return &NotFoundError{Kind: "job", ID: id} }

// DuplicateDemoError is a fatal configuration error raised on re-registration.
type DuplicateDemoError struct {
	ID string
}

func (e *DuplicateDemoError) Error() string {
	return fmt.Sprintf("demo '%s' is already registered", e.ID)
}
