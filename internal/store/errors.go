package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// FieldError describes one invalid field of a payload.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries field-level detail that is returned to the caller
// unchanged. Detail holds either []FieldError or the raw detail payload
// reported by the data service.
type ValidationError struct {
	Message string
	Detail  any
}

func NewValidationError(fields ...FieldError) *ValidationError {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return &ValidationError{
		Message: "validation failed: " + strings.Join(parts, ", "),
		Detail:  fields,
	}
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return "validation failed"
	}
	return e.Message
}

// NotFound wraps ErrNotFound with a description of the missing entity.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}
