/*
Package settlement is the settlement core of a toy ledger.

PURPOSE:
  Ingests transaction records (deposit, withdrawal, dispute, resolve,
  chargeback) one at a time and maintains per-client balances with strict
  guarantees: no overflow, no double-processing of a transaction id, and no
  state change outside the dispute lifecycle.

KEY CONCEPTS IN THIS FILE (types.go):
  - ClientID / TransactionID: fixed-width identifiers from the record format
  - Kind: the record type as declared by the input
  - Record: one input row, already parsed and validated

COMPONENTS (leaves first):
  amount.go       Amount, 4-digit fixed point
  account.go      AccountLedger, one Account per client, frozen lock
  transaction.go  TransactionLog, the dispute state machine
  engine.go       Batch driver: logging, stats, sharding, journal

USAGE:
  ledger := settlement.NewAccountLedger()
  txlog := settlement.NewTransactionLog()
  err := txlog.Process(settlement.Record{
      Client: 42,
      TxID:   1103,
      Kind:   settlement.KindDeposit,
      Amount: settlement.MustAmount(2000.4999),
  }, ledger)
*/
package settlement

import "fmt"

// =============================================================================
// IDENTIFIERS
// =============================================================================

// ClientID identifies an account. Fits in 16 bits by contract.
type ClientID uint16

// TransactionID identifies a deposit or withdrawal. Fits in 32 bits by contract.
type TransactionID uint32

// =============================================================================
// RECORD - One input row
// =============================================================================

// Kind is the declared type of an input record.
type Kind string

const (
	KindDeposit    Kind = "deposit"
	KindWithdrawal Kind = "withdrawal"
	KindDispute    Kind = "dispute"
	KindResolve    Kind = "resolve"
	KindChargeback Kind = "chargeback"
)

// ParseKind maps the textual record type onto a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindDeposit, KindWithdrawal, KindDispute, KindResolve, KindChargeback:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// MovesFunds reports whether the kind creates a new transaction id.
func (k Kind) MovesFunds() bool {
	return k == KindDeposit || k == KindWithdrawal
}

// Record is a parsed input row. Amount is ignored for dispute-family kinds;
// they reuse the amount of the transaction they reference.
type Record struct {
	Client ClientID
	TxID   TransactionID
	Kind   Kind
	Amount Amount
}
