/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages return these (or wrap them) so the HTTP layer can map
  any error to a status code with errors.Is.

ERROR CATEGORIES:
  1. Validation      - bad input shape or range (400)
  2. Auth            - missing identity / wrong secret (401, 403)
  3. State conflict  - record no longer in the expected status (400)
  4. Funds           - wallet would go negative (400)
  5. Not found       - referenced record missing (404)
  6. Persistence     - store write failed (500)
  7. Concurrency     - optimistic check lost a race (retried internally)

USAGE:
  if errors.Is(err, generic.ErrInsufficientFunds) {
      var ife *generic.InsufficientFundsError
      errors.As(err, &ife) // ife.Available, ife.Requested
  }

SEE ALSO:
  - api/errors.go: Maps these errors to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation        = errors.New("validation failed")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrForbidden         = errors.New("forbidden")
	ErrStateConflict     = errors.New("state conflict")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotFound          = errors.New("not found")
	ErrPersistence       = errors.New("persistence failure")

	// ErrConcurrentModification is returned when an optimistic version or
	// marker check fails. Callers re-read and retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrRetriesExhausted wraps the last ErrConcurrentModification when the
	// Mutator gives up. Unlike a single lost race, it means the write never
	// happened.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrDuplicateIdempotencyKey is returned when a journal entry with the
	// same idempotency key already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrAlreadyCheckedIn is returned when (user, day) already has a check-in.
	ErrAlreadyCheckedIn = errors.New("you have already checked in today")

	// ErrWeekendRestricted is returned when a weekend-only product is bought
	// on a weekday in the reference zone.
	ErrWeekendRestricted = errors.New("this product is only available on weekends (Saturday and Sunday)")

	// ErrWrongWallet is returned when an investment is paid from the recharge
	// wallet. Funds must be transferred to the balance first.
	ErrWrongWallet = errors.New("please recharge your wallet first")

	ErrPasswordNotSet = errors.New("withdrawal password not set")
	ErrWrongPassword  = errors.New("incorrect withdrawal password")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes one rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid is shorthand for a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InsufficientFundsError provides details about a wallet shortage.
type InsufficientFundsError struct {
	UserID    UserID
	Wallet    Wallet
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient %s: available %s, requested %s",
		e.Wallet, e.Available.String(), e.Requested.String())
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// StateConflictError reports an action on a record that already left the
// expected status.
type StateConflictError struct {
	Kind   string // "withdrawal", "recharge", "investment"
	ID     string
	Status string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("%s is already %s", e.Kind, e.Status)
}

func (e *StateConflictError) Unwrap() error { return ErrStateConflict }

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s not found: %s", e.Kind, e.ID) }

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound returns a NotFoundError.
func NotFound(kind, id string) error { return &NotFoundError{Kind: kind, ID: id} }

// PersistenceError wraps a store failure with the operation that hit it.
// It matches both ErrPersistence and the underlying cause.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// Persist wraps err as a PersistenceError unless it already carries a
// classified sentinel, in which case it is returned unchanged.
func Persist(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsClassified(err) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input or
// a client-visible state conflict.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrStateConflict) ||
		errors.Is(err, ErrAlreadyCheckedIn) ||
		errors.Is(err, ErrWeekendRestricted) ||
		errors.Is(err, ErrWrongWallet) ||
		errors.Is(err, ErrPasswordNotSet)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClassified reports whether err already maps to a known category.
func IsClassified(err error) bool {
	return IsClientError(err) || IsNotFound(err) || IsRetryable(err) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrUnauthenticated) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrWrongPassword) ||
		errors.Is(err, ErrPersistence)
}
