/*
account.go - Account balances and the account ledger

PURPOSE:
  AccountLedger owns one Account per client and is the single point of
  shared mutable state. Every balance change goes through Apply, so the
  frozen lock and mutual exclusion hold for every transition.

CRITICAL INVARIANTS:
  1. EXCLUSIVE: No two mutations run concurrently on the same ledger.
  2. FROZEN IS ONE-WAY: Once set, every later mutation fails with ErrFrozen
     and nothing is changed.
  3. ALL OR NOTHING: A mutation computes every new field with checked
     arithmetic before committing any of them.
  4. NO WRAPPED TOTALS: available+held is only ever computed checked;
     Total() reports failure instead of a wrapped value.

MUTATIONS:
  MutationCredit      available += amount                    (deposit)
  MutationDebit       available -= amount, if amount <= available (withdrawal)
  MutationHold        available -= amount, held += amount    (dispute)
  MutationRelease     held -= amount, available += amount    (resolve)
  MutationChargeback  held -= amount, frozen = true          (chargeback)

POISONING:
  If a mutation panics, the ledger is marked poisoned. That call and every
  later one return ErrTransactionFailed.

SEE ALSO:
  - transaction.go: The only caller of Apply
*/
package settlement

import (
	"fmt"
	"sort"
	"sync"
)

// =============================================================================
// ACCOUNT
// =============================================================================

// Account is the balance record of one client. Held is escrowed by open
// disputes.
type Account struct {
	Available Amount
	Held      Amount
	Frozen    bool
}

// Total returns available+held, or false if the sum overflows.
func (a Account) Total() (Amount, bool) {
	total, err := a.Available.Add(a.Held)
	if err != nil {
		return 0, false
	}
	return total, true
}

func (a *Account) credit(amount Amount) error {
	available, err := a.Available.Add(amount)
	if err != nil {
		return ErrOverflow
	}
	a.Available = available
	return nil
}

func (a *Account) debit(amount Amount) error {
	if amount.GreaterThan(a.Available) {
		return ErrInsufficientFunds
	}
	available, err := a.Available.Sub(amount)
	if err != nil {
		return ErrUnderflow
	}
	a.Available = available
	return nil
}

func (a *Account) hold(amount Amount) error {
	available, err := a.Available.Sub(amount)
	if err != nil {
		return ErrUnderflow
	}
	held, err := a.Held.Add(amount)
	if err != nil {
		return ErrOverflow
	}
	a.Available, a.Held = available, held
	return nil
}

func (a *Account) release(amount Amount) error {
	held, err := a.Held.Sub(amount)
	if err != nil {
		return ErrUnderflow
	}
	available, err := a.Available.Add(amount)
	if err != nil {
		return ErrOverflow
	}
	a.Available, a.Held = available, held
	return nil
}

func (a *Account) chargeback(amount Amount) error {
	held, err := a.Held.Sub(amount)
	if err != nil {
		return ErrUnderflow
	}
	a.Held = held
	a.Frozen = true
	return nil
}

// =============================================================================
// MUTATION - The closed set of balance changes
// =============================================================================

// Mutation names one of the balance changes the ledger knows how to apply.
type Mutation uint8

const (
	MutationCredit Mutation = iota + 1
	MutationDebit
	MutationHold
	MutationRelease
	MutationChargeback
)

func (m Mutation) String() string {
	switch m {
	case MutationCredit:
		return "credit"
	case MutationDebit:
		return "debit"
	case MutationHold:
		return "hold"
	case MutationRelease:
		return "release"
	case MutationChargeback:
		return "chargeback"
	default:
		return fmt.Sprintf("mutation(%d)", uint8(m))
	}
}

func (m Mutation) apply(a *Account, amount Amount) error {
	switch m {
	case MutationCredit:
		return a.credit(amount)
	case MutationDebit:
		return a.debit(amount)
	case MutationHold:
		return a.hold(amount)
	case MutationRelease:
		return a.release(amount)
	case MutationChargeback:
		return a.chargeback(amount)
	}
	return fmt.Errorf("unknown %s", m)
}

// =============================================================================
// ACCOUNT LEDGER
// =============================================================================

// AccountLedger holds every account. One lock guards the whole map, which
// also gives Snapshot a consistent view.
type AccountLedger struct {
	mu       sync.RWMutex
	accounts map[ClientID]*Account
	poisoned bool
}

func NewAccountLedger() *AccountLedger {
	return &AccountLedger{accounts: make(map[ClientID]*Account)}
}

// Apply runs m against the account of client, creating a zero account on
// first reference. Fails with ErrFrozen without side effects if the account
// is frozen, and with ErrTransactionFailed if the ledger is poisoned.
func (l *AccountLedger) Apply(client ClientID, m Mutation, amount Amount) error {
	return l.mutate(client, func(a *Account) error {
		return m.apply(a, amount)
	})
}

// mutate is the exclusive section. fn must leave the account unchanged when
// it returns an error.
func (l *AccountLedger) mutate(client ClientID, fn func(*Account) error) (err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.poisoned {
		return ErrTransactionFailed
	}

	account, ok := l.accounts[client]
	if !ok {
		account = &Account{}
		l.accounts[client] = account
	}
	if account.Frozen {
		return ErrFrozen
	}

	defer func() {
		if r := recover(); r != nil {
			l.poisoned = true
			err = fmt.Errorf("%w: %v", ErrTransactionFailed, r)
		}
	}()
	return fn(account)
}

// Poisoned reports whether a mutation has panicked.
func (l *AccountLedger) Poisoned() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.poisoned
}

// =============================================================================
// SNAPSHOT - Read-only view for reporting
// =============================================================================

// AccountSnapshot is a copy of one account. TotalOK is false when
// available+held overflows; Total is zero in that case and must not be
// displayed as a number.
type AccountSnapshot struct {
	Client    ClientID
	Available Amount
	Held      Amount
	Total     Amount
	TotalOK   bool
	Frozen    bool
}

func snapshotOf(client ClientID, a Account) AccountSnapshot {
	total, ok := a.Total()
	return AccountSnapshot{
		Client:    client,
		Available: a.Available,
		Held:      a.Held,
		Total:     total,
		TotalOK:   ok,
		Frozen:    a.Frozen,
	}
}

// Snapshot returns every account ordered by client id.
func (l *AccountLedger) Snapshot() []AccountSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]AccountSnapshot, 0, len(l.accounts))
	for client, a := range l.accounts {
		result = append(result, snapshotOf(client, *a))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Client < result[j].Client
	})
	return result
}

// Account returns the snapshot of one account, or false if the client has
// never been referenced.
func (l *AccountLedger) Account(client ClientID) (AccountSnapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	a, ok := l.accounts[client]
	if !ok {
		return AccountSnapshot{}, false
	}
	return snapshotOf(client, *a), true
}

// Len returns the number of accounts.
func (l *AccountLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.accounts)
}
