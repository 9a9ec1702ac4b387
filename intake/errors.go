/*
errors.go - Centralized error types for the intake engine

ERROR CATEGORIES:
  1. Validation errors - Malformed input, surfaced before any store mutation
  2. Not-found errors - Referenced entry does not exist at update/delete time
  3. Storage errors - Store unreachable or rejecting an operation (propagated)
  4. Partial mutation - A multi-write operation failed after its first write

USAGE:
  if errors.Is(err, intake.ErrEntryNotFound) {
      // 404
  }

  var pm *intake.PartialMutationError
  if errors.As(err, &pm) {
      // ledger may be out of sync for pm.Date until reconciled
  }
*/
package intake

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of every input validation failure.
	ErrValidation = errors.New("validation failed")

	// ErrEntryNotFound is returned when an entry id does not exist.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrInvalidRange is returned when start is after end.
	ErrInvalidRange = &ValidationError{Field: "start", Reason: "start must be before end"}

	// ErrStorage marks failures reported by a store implementation.
	ErrStorage = errors.New("storage failure")

	// ErrAmountOutOfRange is returned when an amount cannot be stored as
	// integer hundredths.
	ErrAmountOutOfRange = errors.New("amount out of range")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError describes which input field was rejected and why.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError carries the missing entry id.
type NotFoundError struct {
	EntryID EntryID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("entry not found: %s", e.EntryID)
}

func (e *NotFoundError) Unwrap() error { return ErrEntryNotFound }

// StorageError wraps a store failure with the operation that produced it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

// PartialMutationError reports a mutation that failed after at least one
// write had already been applied. The ledger row for Date may disagree with
// the entry store until it is reconciled.
type PartialMutationError struct {
	Op   string
	Step string
	Date Date
	Err  error
}

func (e *PartialMutationError) Error() string {
	return fmt.Sprintf("%s interrupted at %s (ledger for %s may be stale): %v", e.Op, e.Step, e.Date, e.Err)
}

func (e *PartialMutationError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing entry.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntryNotFound)
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	// Domain errors raised by a store pass through untouched.
	if IsNotFound(err) || IsClientError(err) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
