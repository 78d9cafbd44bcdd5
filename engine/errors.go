/*
errors.go - Centralized error types for the payment engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The payroll orchestrator converts these into structured failure results;
  raw errors never cross the module boundary to API callers.

ERROR CATEGORIES:
  1. Configuration errors - missing formulas or category requirements
  2. Validation errors    - invalid input, rejected before any state change
  3. Computation errors   - arithmetic/evaluation failure inside a formula
  4. Conflict errors      - concurrent recalculation on the same key

USAGE:
  if errors.Is(err, engine.ErrFormulaNotFound) {
      // surface the missing (period, discipline, category) key
  }
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrFormulaNotFound is returned when no formula exists for a
	// (period, discipline, category) triple nor its default fallback.
	ErrFormulaNotFound = errors.New("formula not found")

	// ErrRequirementsNotFound is returned when no category requirements are
	// configured for a (period, discipline) combination.
	ErrRequirementsNotFound = errors.New("category requirements not found")

	// ErrRecalcInFlight is returned when a recalculation is already running
	// for the same (instructor, period) key. Callers should retry.
	ErrRecalcInFlight = errors.New("recalculation already in flight")

	// ErrInstructorNotFound is returned when a referenced instructor doesn't exist.
	ErrInstructorNotFound = errors.New("instructor not found")

	// ErrPeriodNotFound is returned when a referenced period doesn't exist.
	ErrPeriodNotFound = errors.New("period not found")

	// ErrPaymentNotFound is returned when a status change targets a payment
	// that was never calculated.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrSamePeriod is returned when formula duplication is attempted with
	// identical source and destination periods.
	ErrSamePeriod = errors.New("source and destination period must differ")

	// ErrNothingToCopy is returned when the duplication source period holds
	// no formulas. Replacing the destination with an empty set is never what
	// the operator meant.
	ErrNothingToCopy = errors.New("source period has no formulas")

	// ErrInvalidTerm is returned when a formula term cannot be evaluated.
	ErrInvalidTerm = errors.New("invalid formula term")
)

// =============================================================================
// STRUCTURED ERRORS - Carry the failing key
// =============================================================================

// ConfigurationError reports missing or invalid configuration. It is fatal to
// the single run and carries the key the operator must fix.
type ConfigurationError struct {
	Kind string // "formula" or "requirements"
	Key  string // e.g. "period=2024-03 discipline=cycling category=AMBASSADOR"
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing %s configuration: %s", e.Kind, e.Key)
}

func (e *ConfigurationError) Unwrap() error {
	if e.Kind == "requirements" {
		return ErrRequirementsNotFound
	}
	return ErrFormulaNotFound
}

// ValidationError reports invalid input, rejected before any state change.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ComputationError reports a failure inside formula evaluation. The run
// aborts and the previous payment stays untouched.
type ComputationError struct {
	Term    string
	Message string
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("computation failed in term %q: %s", e.Term, e.Message)
}

func (e *ComputationError) Unwrap() error { return ErrInvalidTerm }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRecalcInFlight)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, ErrSamePeriod) ||
		errors.Is(err, ErrNothingToCopy)
}

// IsNotFound returns true if the error indicates a missing record or
// configuration key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrFormulaNotFound) ||
		errors.Is(err, ErrRequirementsNotFound) ||
		errors.Is(err, ErrInstructorNotFound) ||
		errors.Is(err, ErrPeriodNotFound) ||
		errors.Is(err, ErrPaymentNotFound)
}
