package common

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed or missing input. It is returned before
// anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid is shorthand for a *ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// QuotaExceededError is returned when admission is refused by the quota gate.
type QuotaExceededError struct {
	OwnerID uint64
	Feature string
	Used    int
	Limit   int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("maximum limit reached for %s: used %d/%d attempts", e.Feature, e.Used, e.Limit)
}

// ConflictError means an identifier was inserted twice. Ids are generated
// per submission, so seeing this points at an id generation bug.
type ConflictError struct {
	ID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: id %s already exists", e.ID)
}

// CollaboratorError wraps a failed call to an external service, either at the
// transport level or a non-success reply.
type CollaboratorError struct {
	Service    string
	Op         string
	StatusCode int
	Err        error
}

func (e *CollaboratorError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Service, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// Collaborator builds a *CollaboratorError without a status code.
func Collaborator(service, op string, err error) error {
	return &CollaboratorError{Service: service, Op: op, Err: err}
}

// CompositionError is a failed local media-processing step.
type CompositionError struct {
	Step string
	Err  error
}

func (e *CompositionError) Error() string {
	return fmt.Sprintf("composition %s: %v", e.Step, e.Err)
}

func (e *CompositionError) Unwrap() error { return e.Err }

// Composition builds a *CompositionError.
func Composition(step string, err error) error {
	return &CompositionError{Step: step, Err: err}
}

// IsValidation reports whether err carries a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsQuotaExceeded reports whether err carries a *QuotaExceededError.
func IsQuotaExceeded(err error) bool {
	var q *QuotaExceededError
	return errors.As(err, &q)
}
