package consultation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when no visible appointment matches the id.
	ErrNotFound = errors.New("appointment not found")

	// ErrSlotConflict is returned when the requested window overlaps another
	// blocking appointment for the same professional.
	ErrSlotConflict = errors.New("professional already booked for the requested window")

	// ErrForbidden is returned when the caller may see the appointment but
	// not perform the requested mutation.
	ErrForbidden = errors.New("operation not permitted")
)

// ValidationError carries per-field validation failures.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func newValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// InvalidTransitionError is returned when a lifecycle action is not allowed
// from the appointment's current status.
type InvalidTransitionError struct {
	Status string
	Action string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s appointment in status %s", e.Action, e.Status)
}
