// Package errors defines the error taxonomy of the orders service.
//
// Business outcomes (an order rejected for lack of stock) are never errors.
// Everything here is either caller-correctable (ValidationError, ErrNotFound)
// or an infrastructure/logic fault that callers must be able to tell apart
// from a rejection.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrNotFound is returned when an order does not exist.
var ErrNotFound = stderrors.New("not found")

// ErrDuplicateIdempotencyKey is returned by stores when an order with the
// same idempotency key was committed first.
var ErrDuplicateIdempotencyKey = stderrors.New("duplicate idempotency key")

// ErrInventoryProtocol marks an inventory answer that cannot be used: a 4xx
// status or an undecodable body. Retrying the same request will not help.
var ErrInventoryProtocol = stderrors.New("inventory protocol error")

// ValidationError reports bad caller input.
type ValidationError struct {
	Field   string
	Message string
	Details map[string]string
}

// NewValidationError creates a validation error for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Details: map[string]string{field: message},
	}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// InventoryUnreachableError means the inventory service could not be
// consulted: timeout, connection failure or a 5xx answer.
type InventoryUnreachableError struct {
	Attempts int
	Err      error
}

func (e *InventoryUnreachableError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("inventory service unreachable after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("inventory service unreachable: %v", e.Err)
}

func (e *InventoryUnreachableError) Unwrap() error { return e.Err }

// Retryable is always true: the fault is transient from the caller's view.
func (e *InventoryUnreachableError) Retryable() bool { return true }

// PersistenceError wraps a failed store operation.
type PersistenceError struct {
	Op  string
	Err error
	// Constraint is set when the store rejected the data itself
	// (check or foreign key violation). Retrying will not help.
	Constraint bool
}

func NewPersistenceError(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Err: err}
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Retryable() bool { return !e.Constraint }

// InvalidStateError is returned when a status transition is not allowed.
type InvalidStateError struct {
	OrderID string
	From    string
	To      string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("order %s: invalid status transition from %s to %s", e.OrderID, e.From, e.To)
}

// IsRetryable reports whether err is a system failure the caller may retry.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	if stderrors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return stderrors.Is(err, ErrNotFound)
}

// Is and As re-export the standard helpers so callers need a single import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target interface{}) bool { return stderrors.As(err, target) }

func New(text string) error { return stderrors.New(text) }
