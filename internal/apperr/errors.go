// Package apperr holds the error kinds shared by the storefront services.
// Callers match them with errors.As / errors.Is; adapters translate them at the edge.
package apperr

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("not found")

// ValidationError is returned when input is rejected before any state changes.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

type InsufficientCreditsError struct {
	UserID    string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits for %s: requested %s, available %s",
		e.UserID, e.Requested.StringFixed(2), e.Available.StringFixed(2))
}

// PersistenceError wraps a storage failure. Op names the storage call.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return "persistence: " + e.Op + ": " + e.Err.Error() }
func (e *PersistenceError) Unwrap() error { return e.Err }

// Persistence wraps err unless it is nil or already one of the typed kinds.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	var pe *PersistenceError
	var ce *ConcurrencyConflictError
	if errors.As(err, &pe) || errors.As(err, &ce) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// ConcurrencyConflictError means a versioned write found a newer version in storage.
type ConcurrencyConflictError struct {
	Entity          string
	ID              string
	ExpectedVersion int
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrent modification of %s %s (expected version %d)", e.Entity, e.ID, e.ExpectedVersion)
}

// Retryable reports whether a single retry of the failed write is worthwhile.
func Retryable(err error) bool {
	var pe *PersistenceError
	var ce *ConcurrencyConflictError
	return errors.As(err, &pe) || errors.As(err, &ce)
}
