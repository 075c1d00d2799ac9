/*
transaction.go - Transaction lifecycle and the dispute state machine

PURPOSE:
  TransactionLog owns one lifecycle record per accepted deposit or
  withdrawal and decides, for every incoming record, which transition is
  legal. It is the only caller of AccountLedger.Apply.

STATE MACHINE:

  (none) --deposit-->    Deposit    --dispute--> Disputed --resolve-->    Resolved
  (none) --withdrawal--> Withdrawal --dispute--> Disputed --chargeback--> Chargeback

  Resolved and Chargeback are terminal. A lifecycle record keeps the
  amount of its originating deposit or withdrawal; dispute-family records
  carry no amount of their own.

CHECK ORDER for dispute-family records:
  1. Unknown tx id             -> ErrTransactionNotFound
  2. Different client          -> ErrClientMismatch (before any state check)
  3. Illegal state transition  -> ErrAlreadyDisputed / ErrDisputeNotOpen
  4. Ledger mutation           -> ErrFrozen, ErrOverflow, ...

CRITICAL INVARIANT:
  State advances only after the ledger mutation succeeded. A new deposit or
  withdrawal is recorded only if its ledger mutation succeeded. Either both
  the account and the lifecycle record change, or neither does.

CONCURRENCY:
  Process holds the log's lock across the ledger call, so records for one
  tx id are applied in arrival order. Engine shards by tx id to run several
  logs against one ledger.

SEE ALSO:
  - account.go: Mutations
  - engine.go: Sharded batch driver
*/
package settlement

import "sync"

// =============================================================================
// TRANSACTION STATE
// =============================================================================

// TransactionState is the lifecycle position of an accepted transaction.
type TransactionState string

const (
	StateDeposit    TransactionState = "deposit"
	StateWithdrawal TransactionState = "withdrawal"
	StateDisputed   TransactionState = "disputed"
	StateResolved   TransactionState = "resolved"
	StateChargeback TransactionState = "chargeback"
)

// IsTerminal reports whether no further transition is possible.
func (s TransactionState) IsTerminal() bool {
	return s == StateResolved || s == StateChargeback
}

// transition returns the next state and the ledger mutation for a
// dispute-family kind.
func (s TransactionState) transition(kind Kind) (TransactionState, Mutation, error) {
	switch kind {
	case KindDispute:
		if s != StateDeposit && s != StateWithdrawal {
			return s, 0, ErrAlreadyDisputed
		}
		return StateDisputed, MutationHold, nil
	case KindResolve:
		if s != StateDisputed {
			return s, 0, ErrDisputeNotOpen
		}
		return StateResolved, MutationRelease, nil
	case KindChargeback:
		if s != StateDisputed {
			return s, 0, ErrDisputeNotOpen
		}
		return StateChargeback, MutationChargeback, nil
	}
	return s, 0, ErrUnknownKind
}

// =============================================================================
// TRANSACTION - Lifecycle record
// =============================================================================

// Transaction is the lifecycle record of one accepted deposit or withdrawal.
type Transaction struct {
	Client ClientID
	State  TransactionState
	Amount Amount
}

// =============================================================================
// TRANSACTION LOG
// =============================================================================

// TransactionLog is one shard of lifecycle records.
type TransactionLog struct {
	mu  sync.Mutex
	txs map[TransactionID]Transaction
}

func NewTransactionLog() *TransactionLog {
	return &TransactionLog{txs: make(map[TransactionID]Transaction)}
}

// Process applies one record. A rejected record returns a *ProcessError
// wrapping one of the sentinel errors and leaves both the log and the
// ledger as they were.
func (t *TransactionLog) Process(rec Record, ledger *AccountLedger) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.process(rec, ledger); err != nil {
		return &ProcessError{Client: rec.Client, TxID: rec.TxID, Kind: rec.Kind, Err: err}
	}
	return nil
}

func (t *TransactionLog) process(rec Record, ledger *AccountLedger) error {
	existing, found := t.txs[rec.TxID]

	switch rec.Kind {
	case KindDeposit:
		if found {
			return ErrTransactionExist
		}
		return t.open(rec, ledger, MutationCredit, StateDeposit)

	case KindWithdrawal:
		if found {
			return ErrTransactionExist
		}
		return t.open(rec, ledger, MutationDebit, StateWithdrawal)

	case KindDispute, KindResolve, KindChargeback:
		if !found {
			return ErrTransactionNotFound
		}
		if existing.Client != rec.Client {
			return ErrClientMismatch
		}
		next, m, err := existing.State.transition(rec.Kind)
		if err != nil {
			return err
		}
		if err := ledger.Apply(existing.Client, m, existing.Amount); err != nil {
			return err
		}
		existing.State = next
		t.txs[rec.TxID] = existing
		return nil
	}
	return ErrUnknownKind
}

func (t *TransactionLog) open(rec Record, ledger *AccountLedger, m Mutation, state TransactionState) error {
	if err := ledger.Apply(rec.Client, m, rec.Amount); err != nil {
		return err
	}
	t.txs[rec.TxID] = Transaction{Client: rec.Client, State: state, Amount: rec.Amount}
	return nil
}

// Get returns the lifecycle record for id.
func (t *TransactionLog) Get(id TransactionID) (Transaction, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tx, ok := t.txs[id]
	return tx, ok
}

// Len returns the number of accepted transactions.
func (t *TransactionLog) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.txs)
}
