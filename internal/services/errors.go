package services

import (
	"errors"
	"fmt"
)

// Common service errors
var (
	ErrNotFound             = errors.New("record not found")
	ErrInvalidParameter     = errors.New("invalid parameter")
	ErrStateConflict        = errors.New("operation not allowed in current state")
	ErrConsistencyViolation = errors.New("snapshot no longer matches plan state")
	ErrVersionConflict      = errors.New("plan was modified concurrently")
)

// ParameterError reports which field failed validation and the condition it
// violated. It unwraps to ErrInvalidParameter.
type ParameterError struct {
	Field     string
	Condition string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %q: %s", e.Field, e.Condition)
}

func (e *ParameterError) Unwrap() error { return ErrInvalidParameter }

// NewParameterError builds a ParameterError for a single field.
func NewParameterError(field, condition string) error {
	return &ParameterError{Field: field, Condition: condition}
}

// StateConflictError carries the entity and state that blocked an operation.
// It unwraps to ErrStateConflict.
type StateConflictError struct {
	Entity  string
	State   string
	Attempt string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("%s in state %q does not allow %s", e.Entity, e.State, e.Attempt)
}

func (e *StateConflictError) Unwrap() error { return ErrStateConflict }

// NewStateConflictError builds a StateConflictError.
func NewStateConflictError(entity, state, attempt string) error {
	return &StateConflictError{Entity: entity, State: state, Attempt: attempt}
}
