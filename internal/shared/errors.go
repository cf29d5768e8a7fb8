package shared

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
)

// Violation describes a single business-rule failure attached to a field or
// cart line. Validation collects every violation before reporting so the
// caller sees all problems in one round trip.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports invalid input or a business rule knowable without a
// race. Nothing was persisted when it is returned.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s: %s", v.Field, v.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add appends a violation.
func (e *ValidationError) Add(field, message string) {
	e.Violations = append(e.Violations, Violation{Field: field, Message: message})
}

// Addf appends a violation with a formatted message.
func (e *ValidationError) Addf(field, format string, args ...any) {
	e.Add(field, fmt.Sprintf(format, args...))
}

// Empty reports whether no violations were collected.
func (e *ValidationError) Empty() bool { return len(e.Violations) == 0 }

// OrNil returns the error when violations exist, nil otherwise.
func (e *ValidationError) OrNil() error {
	if e.Empty() {
		return nil
	}
	return e
}

// ConflictError reports a lost race: a unit or quantity that looked available
// became unavailable between read and write. It names the offending line so
// the caller can re-fetch and retry; a different unit is never substituted
// silently.
type ConflictError struct {
	LineKey string `json:"line_key,omitempty"`
	UnitID  int64  `json:"unit_id,omitempty"`
	Message string `json:"message"`
}

func (e *ConflictError) Error() string {
	if e.LineKey != "" {
		return fmt.Sprintf("conflict on %s: %s", e.LineKey, e.Message)
	}
	if e.UnitID != 0 {
		return fmt.Sprintf("conflict on unit %d: %s", e.UnitID, e.Message)
	}
	return "conflict: " + e.Message
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
