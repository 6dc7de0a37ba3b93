package core

import (
	"errors"
	"fmt"
)

// Error kinds separate caller-correctable input problems from state and
// dependency failures. Handlers map kinds to responses; services only
// ever inspect them with errors.As.

// ValidationError reports bad input. No mutation has occurred.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError for a named field.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError covers both a missing entity and one owned by another
// user. The two cases are deliberately indistinguishable.
type NotFoundError struct {
	Entity string
}

func (e *NotFoundError) Error() string {
	return e.Entity + " not found"
}

func NotFound(entity string) error {
	return &NotFoundError{Entity: entity}
}

// ConflictError reports an operation that is valid in form but rejected
// by current data: insufficient funds, duplicate names, exceeded caps.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return e.Reason
}

func Conflict(format string, args ...any) error {
	return &ConflictError{Reason: fmt.Sprintf(format, args...)}
}

// StateError reports a mutation attempted against an entity whose
// lifecycle no longer permits it, e.g. a closed reconciliation.
type StateError struct {
	Reason string
}

func (e *StateError) Error() string {
	return e.Reason
}

func StateConflict(format string, args ...any) error {
	return &StateError{Reason: fmt.Sprintf(format, args...)}
}

// DependencyError wraps a failure of an external collaborator. Always
// non-fatal to the operation that triggered it: callers log and absorb.
type DependencyError struct {
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

func DependencyFailed(dependency string, err error) error {
	return &DependencyError{Dependency: dependency, Err: err}
}

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

func IsStateError(err error) bool {
	var e *StateError
	return errors.As(err, &e)
}
