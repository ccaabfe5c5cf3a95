/*
errors.go - Centralized error types for the loyalty engine

PURPOSE:
  All error types in one place for consistency and discoverability.

ERROR CATEGORIES:
  1. Validation errors   - Rejected before any state change (InvalidDelta)
  2. Business violations - Expected, user-recoverable outcomes
                           (InsufficientBalance, VoucherNotEligible,
                           VoucherExhausted, VoucherNotAvailable)
  3. Configuration errors - Data-integrity problems in administered
                           content (NoMatchingRank); no user action fixes
                           these, so they are surfaced distinctly
  4. Conflicts           - Lost races on atomic updates, retried once
                           internally before surfacing the business error

USAGE:
  Match with errors.Is/As:

    if errors.Is(err, loyalty.ErrVoucherExhausted) { ... }

    var ib *loyalty.InsufficientBalanceError
    if errors.As(err, &ib) { fmt.Println(ib.Available) }
*/
package loyalty

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidDelta is returned when a posting has a zero delta or a
	// sign inconsistent with its kind. Rejected before any state change.
	ErrInvalidDelta = errors.New("invalid delta")

	// ErrInsufficientBalance is returned when a negative posting would
	// drive the current balance below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNoMatchingRank is returned when the configured rank bands have
	// a gap or overlap. This is a configuration error, not a user error.
	ErrNoMatchingRank = errors.New("no matching rank")

	// ErrVoucherNotEligible is returned when a voucher is inactive,
	// outside its window, rank-restricted, or at its per-user cap.
	ErrVoucherNotEligible = errors.New("voucher not eligible")

	// ErrVoucherExhausted is returned when the global usage cap is reached.
	ErrVoucherExhausted = errors.New("voucher exhausted")

	// ErrVoucherNotAvailable is returned when a user voucher is not in
	// available status or has personally expired.
	ErrVoucherNotAvailable = errors.New("voucher not available")

	// ErrNotFound is returned when a referenced account, voucher, or
	// user voucher does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateAccount is returned when creating an account whose ID
	// already exists.
	ErrDuplicateAccount = errors.New("account already exists")

	// ErrConflict is returned by stores when an atomic update lost a
	// race (e.g. a busy database). Engines retry once with fresh state.
	ErrConflict = errors.New("concurrent update conflict")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidDeltaError reports a posting rejected before any state change.
type InvalidDeltaError struct {
	Kind   EntryKind
	Delta  Points
	Detail string
}

func (e *InvalidDeltaError) Error() string {
	return fmt.Sprintf("invalid delta %s for kind %q: %s", e.Delta, e.Kind, e.Detail)
}

func (e *InvalidDeltaError) Unwrap() error { return ErrInvalidDelta }

// InsufficientBalanceError reports a balance shortage.
type InsufficientBalanceError struct {
	AccountID AccountID
	Available Points
	Requested Points
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %s, requested %s",
		e.AccountID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// NoMatchingRankError reports mis-configured rank bands.
type NoMatchingRankError struct {
	LifetimePoints Points
	Detail         string
}

func (e *NoMatchingRankError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("no matching rank: %s", e.Detail)
	}
	return fmt.Sprintf("no matching rank for lifetime points %s", e.LifetimePoints)
}

func (e *NoMatchingRankError) Unwrap() error { return ErrNoMatchingRank }

// VoucherNotEligibleError reports why an acquisition was refused.
type VoucherNotEligibleError struct {
	VoucherID VoucherID
	Reason    string
}

func (e *VoucherNotEligibleError) Error() string {
	return fmt.Sprintf("voucher %s not eligible: %s", e.VoucherID, e.Reason)
}

func (e *VoucherNotEligibleError) Unwrap() error { return ErrVoucherNotEligible }

// VoucherExhaustedError reports a global usage cap hit.
type VoucherExhaustedError struct {
	VoucherID VoucherID
}

func (e *VoucherExhaustedError) Error() string {
	return fmt.Sprintf("voucher %s exhausted", e.VoucherID)
}

func (e *VoucherExhaustedError) Unwrap() error { return ErrVoucherExhausted }

// VoucherNotAvailableError reports a redemption attempt on a user
// voucher outside available status.
type VoucherNotAvailableError struct {
	UserVoucherID UserVoucherID
	Status        UserVoucherStatus
}

func (e *VoucherNotAvailableError) Error() string {
	return fmt.Sprintf("user voucher %s not available (status: %s)", e.UserVoucherID, e.Status)
}

func (e *VoucherNotAvailableError) Unwrap() error { return ErrVoucherNotAvailable }

// =============================================================================
// ERROR HELPERS - Taxonomy used by the API layer
// =============================================================================

// IsValidationError reports whether the error was rejected before any
// state change due to malformed input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidDelta)
}

// IsBusinessError reports whether the error is an expected,
// user-recoverable outcome. These are never logged as system failures.
func IsBusinessError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrVoucherNotEligible) ||
		errors.Is(err, ErrVoucherExhausted) ||
		errors.Is(err, ErrVoucherNotAvailable) ||
		errors.Is(err, ErrDuplicateAccount)
}

// IsConfigError reports whether the error indicates a data-integrity
// problem in administered content.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrNoMatchingRank)
}

// IsRetryable reports whether the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsNotFound reports whether the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
