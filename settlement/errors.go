/*
errors.go - Centralized error types for the settlement engine

PURPOSE:
  All error kinds in one place. Every failed transition is returned as a
  typed error; callers classify it with errors.Is or the helpers below.

ERROR CATEGORIES:
  1. Validation   - ErrInvalidAmount (rejected before reaching the core)
  2. Arithmetic   - ErrOverflow, ErrUnderflow
  3. Business     - ErrInsufficientFunds, ErrTransactionExist, ErrTransactionNotFound,
                    ErrClientMismatch, ErrAlreadyDisputed, ErrDisputeNotOpen
  4. Account      - ErrFrozen
  5. Fatal        - ErrTransactionFailed (the ledger can no longer be trusted)

USAGE:
  err := log.Process(rec, ledger)
  switch {
  case settlement.IsFatal(err):
      // stop feeding this ledger
  case err != nil:
      // log and skip the record
  }

SEE ALSO:
  - transaction.go: Produces ProcessError
  - engine.go: Applies the propagation policy
*/
package settlement

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned for NaN, infinite, unparseable or
	// out-of-range amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrOverflow is returned when checked arithmetic leaves the int64 range.
	ErrOverflow = errors.New("amount overflow")

	// ErrUnderflow is returned when a debit cannot be represented.
	ErrUnderflow = errors.New("amount underflow")

	// ErrInsufficientFunds is returned when a withdrawal exceeds available funds.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrTransactionExist is returned when a deposit or withdrawal reuses a
	// transaction id.
	ErrTransactionExist = errors.New("transaction already exists")

	// ErrTransactionNotFound is returned when a dispute, resolve or chargeback
	// references an unknown transaction id.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrClientMismatch is returned when a dispute-family record names a
	// different client than the referenced transaction.
	ErrClientMismatch = errors.New("client does not own transaction")

	// ErrAlreadyDisputed is returned when a dispute targets a transaction that
	// is not in its original deposit or withdrawal state.
	ErrAlreadyDisputed = errors.New("transaction already disputed")

	// ErrDisputeNotOpen is returned when a resolve or chargeback targets a
	// transaction that is not currently disputed.
	ErrDisputeNotOpen = errors.New("no open dispute for transaction")

	// ErrFrozen is returned for any mutation of a frozen account.
	ErrFrozen = errors.New("account frozen")

	// ErrTransactionFailed signals that the ledger's internal state is
	// corrupt (a mutation panicked). Not caused by input; treat as fatal.
	ErrTransactionFailed = errors.New("ledger transaction failed")

	// ErrUnknownKind is returned for a record kind outside the five known ones.
	ErrUnknownKind = errors.New("unknown transaction kind")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ProcessError describes a rejected record.
type ProcessError struct {
	Client ClientID
	TxID   TransactionID
	Kind   Kind
	Err    error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("%s tx %d (client %d): %v", e.Kind, e.TxID, e.Client, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsFatal returns true if the ledger must not be used any further.
func IsFatal(err error) bool {
	return errors.Is(err, ErrTransactionFailed)
}

// IsArithmetic returns true for checked-arithmetic failures.
func IsArithmetic(err error) bool {
	return errors.Is(err, ErrOverflow) || errors.Is(err, ErrUnderflow)
}

// IsBusinessRule returns true for the expected, skip-and-continue outcomes
// of the dispute state machine.
func IsBusinessRule(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrTransactionExist) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrClientMismatch) ||
		errors.Is(err, ErrAlreadyDisputed) ||
		errors.Is(err, ErrDisputeNotOpen)
}

// ErrorCode returns a stable short name for err, used as a stats and
// journal key. Returns "ok" for nil.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTransactionFailed):
		return "transaction_failed"
	case errors.Is(err, ErrFrozen):
		return "frozen"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrTransactionExist):
		return "transaction_exist"
	case errors.Is(err, ErrTransactionNotFound):
		return "transaction_not_found"
	case errors.Is(err, ErrClientMismatch):
		return "client_mismatch"
	case errors.Is(err, ErrAlreadyDisputed):
		return "already_disputed"
	case errors.Is(err, ErrDisputeNotOpen):
		return "dispute_not_open"
	case errors.Is(err, ErrOverflow):
		return "overflow"
	case errors.Is(err, ErrUnderflow):
		return "underflow"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrUnknownKind):
		return "unknown_kind"
	default:
		return "error"
	}
}
