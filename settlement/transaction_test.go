package settlement_test

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/settlement-engine/settlement"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	t      *testing.T
	ledger *settlement.AccountLedger
	log    *settlement.TransactionLog
}

func newFixture(t *testing.T) *fixture {
	return &fixture{t: t, ledger: settlement.NewAccountLedger(), log: settlement.NewTransactionLog()}
}

func (f *fixture) process(kind settlement.Kind, client settlement.ClientID, tx settlement.TransactionID, amount settlement.Amount) error {
	return f.log.Process(settlement.Record{Client: client, TxID: tx, Kind: kind, Amount: amount}, f.ledger)
}

func (f *fixture) deposit(client settlement.ClientID, tx settlement.TransactionID, amount float64) error {
	return f.process(settlement.KindDeposit, client, tx, settlement.MustAmount(amount))
}

func (f *fixture) withdraw(client settlement.ClientID, tx settlement.TransactionID, amount float64) error {
	return f.process(settlement.KindWithdrawal, client, tx, settlement.MustAmount(amount))
}

func (f *fixture) dispute(client settlement.ClientID, tx settlement.TransactionID) error {
	return f.process(settlement.KindDispute, client, tx, 0)
}

func (f *fixture) resolve(client settlement.ClientID, tx settlement.TransactionID) error {
	return f.process(settlement.KindResolve, client, tx, 0)
}

func (f *fixture) chargeback(client settlement.ClientID, tx settlement.TransactionID) error {
	return f.process(settlement.KindChargeback, client, tx, 0)
}

func (f *fixture) account(client settlement.ClientID) settlement.AccountSnapshot {
	f.t.Helper()
	a, ok := f.ledger.Account(client)
	require.True(f.t, ok, "account %d should exist", client)
	return a
}

func (f *fixture) state(tx settlement.TransactionID) settlement.TransactionState {
	f.t.Helper()
	rec, ok := f.log.Get(tx)
	require.True(f.t, ok, "transaction %d should exist", tx)
	return rec.State
}

// =============================================================================
// REFERENCE SCENARIO
// =============================================================================

func TestTransactionLog_ReferenceScenario(t *testing.T) {
	f := newFixture(t)

	// deposit(42, 1103, 2000.4999)
	require.NoError(t, f.deposit(42, 1103, 2000.4999))
	assert.Equal(t, "2000.4999", f.account(42).Available.String())

	// same tx id again
	assert.ErrorIs(t, f.deposit(42, 1103, 2000.4999), settlement.ErrTransactionExist)

	// withdrawal larger than available
	assert.ErrorIs(t, f.withdraw(42, 1104, 3000.4999), settlement.ErrInsufficientFunds)

	// dispute
	require.NoError(t, f.dispute(42, 1103))
	a := f.account(42)
	assert.Equal(t, "2000.4999", a.Held.String())
	assert.Equal(t, "0.0000", a.Available.String())

	// chargeback
	require.NoError(t, f.chargeback(42, 1103))
	a = f.account(42)
	assert.Equal(t, "0.0000", a.Held.String())
	assert.True(t, a.Frozen)

	// anything further is frozen
	assert.ErrorIs(t, f.deposit(42, 1105, 1), settlement.ErrFrozen)
}

// =============================================================================
// DEPOSIT / WITHDRAWAL
// =============================================================================

func TestTransactionLog_DepositsSumExactly(t *testing.T) {
	f := newFixture(t)

	amounts := []float64{0.0001, 1.2345, 999.9999, 42, 0.5, 17.0003}
	want := settlement.Amount(0)
	for i, v := range amounts {
		a := settlement.MustAmount(v)
		require.NoError(t, f.process(settlement.KindDeposit, 1, settlement.TransactionID(i+1), a))
		var err error
		want, err = want.Add(a)
		require.NoError(t, err)
	}

	assert.Equal(t, want, f.account(1).Available)
	assert.Equal(t, "1060.7348", f.account(1).Available.String())
}

func TestTransactionLog_DepositOverflowRejected(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.process(settlement.KindDeposit, 1, 1, math.MaxInt64))

	err := f.process(settlement.KindDeposit, 1, 2, 1)
	assert.ErrorIs(t, err, settlement.ErrOverflow)

	_, ok := f.log.Get(2)
	assert.False(t, ok, "failed deposit must not create a lifecycle record")
	assert.Equal(t, settlement.Amount(math.MaxInt64), f.account(1).Available)
}

func TestTransactionLog_RejectedWithdrawalIsNotRecorded(t *testing.T) {
	// GIVEN: 10 available
	// WHEN: withdrawing 11 under tx 2
	// THEN: rejected, account unchanged, tx 2 unknown and reusable

	f := newFixture(t)
	require.NoError(t, f.deposit(1, 1, 10))

	assert.ErrorIs(t, f.withdraw(1, 2, 11), settlement.ErrInsufficientFunds)
	assert.Equal(t, settlement.MustAmount(10), f.account(1).Available)

	_, ok := f.log.Get(2)
	assert.False(t, ok)
	assert.ErrorIs(t, f.dispute(1, 2), settlement.ErrTransactionNotFound)

	require.NoError(t, f.withdraw(1, 2, 4))
	assert.Equal(t, settlement.MustAmount(6), f.account(1).Available)
	assert.Equal(t, settlement.StateWithdrawal, f.state(2))
}

func TestTransactionLog_IdsAreOneShotForMoneyMovingKinds(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.deposit(1, 1, 10))
	require.NoError(t, f.withdraw(1, 2, 1))

	assert.ErrorIs(t, f.withdraw(1, 1, 1), settlement.ErrTransactionExist)
	assert.ErrorIs(t, f.deposit(1, 2, 1), settlement.ErrTransactionExist)
	// a different client cannot reuse the id either
	assert.ErrorIs(t, f.deposit(2, 1, 1), settlement.ErrTransactionExist)

	assert.Equal(t, settlement.MustAmount(9), f.account(1).Available)
}

// =============================================================================
// DISPUTE FAMILY
// =============================================================================

func TestTransactionLog_DisputeFamilyOnUnknownTransaction(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.dispute(1, 99), settlement.ErrTransactionNotFound)
	assert.ErrorIs(t, f.resolve(1, 99), settlement.ErrTransactionNotFound)
	assert.ErrorIs(t, f.chargeback(1, 99), settlement.ErrTransactionNotFound)

	_, ok := f.ledger.Account(1)
	assert.False(t, ok, "unknown tx must not touch the ledger")
}

func TestTransactionLog_DisputeMovesFundsToHeld(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.deposit(1, 1, 10))
	require.NoError(t, f.deposit(1, 2, 5))

	require.NoError(t, f.dispute(1, 1))

	a := f.account(1)
	assert.Equal(t, settlement.MustAmount(5), a.Available)
	assert.Equal(t, settlement.MustAmount(10), a.Held)
	assert.Equal(t, settlement.MustAmount(15), a.Total)
	assert.Equal(t, settlement.StateDisputed, f.state(1))
}

func TestTransactionLog_DisputeOfWithdrawal(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.deposit(1, 1, 10))
	require.NoError(t, f.withdraw(1, 2, 4))

	require.NoError(t, f.dispute(1, 2))

	a := f.account(1)
	assert.Equal(t, settlement.MustAmount(2), a.Available)
	assert.Equal(t, settlement.MustAmount(4), a.Held)
	assert.Equal(t, settlement.MustAmount(6), a.Total)
}

func TestTransactionLog_AlreadyDisputed(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.deposit(1, 1, 10))
	require.NoError(t, f.dispute(1, 1))

	assert.ErrorIs(t, f.dispute(1, 1), settlement.ErrAlreadyDisputed)

	require.NoError(t, f.resolve(1, 1))
	assert.ErrorIs(t, f.dispute(1, 1), settlement.ErrAlreadyDisputed, "resolved is terminal")
}

func TestTransactionLog_ResolveRestoresFunds(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.deposit(1, 1, 10))
	require.NoError(t, f.dispute(1, 1))

	require.NoError(t, f.resolve(1, 1))

	a := f.account(1)
	assert.Equal(t, settlement.MustAmount(10), a.Available)
	assert.Equal(t, settlement.Amount(0), a.Held)
	assert.Equal(t, settlement.MustAmount(10), a.Total)
	assert.False(t, a.Frozen)
	assert.Equal(t, settlement.StateResolved, f.state(1))
	assert.True(t, f.state(1).IsTerminal())
}

func TestTransactionLog_ResolveAndChargebackRequireOpenDispute(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.deposit(1, 1, 10))

	assert.ErrorIs(t, f.resolve(1, 1), settlement.ErrDisputeNotOpen)
	assert.ErrorIs(t, f.chargeback(1, 1), settlement.ErrDisputeNotOpen)
	assert.Equal(t, settlement.StateDeposit, f.state(1))

	require.NoError(t, f.dispute(1, 1))
	require.NoError(t, f.resolve(1, 1))

	assert.ErrorIs(t, f.resolve(1, 1), settlement.ErrDisputeNotOpen)
	assert.ErrorIs(t, f.chargeback(1, 1), settlement.ErrDisputeNotOpen)
	assert.Equal(t, settlement.MustAmount(10), f.account(1).Available)
}

func TestTransactionLog_ChargebackFreezesAccount(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.deposit(1, 1, 10))
	require.NoError(t, f.deposit(1, 2, 3))
	require.NoError(t, f.dispute(1, 1))

	require.NoError(t, f.chargeback(1, 1))

	a := f.account(1)
	assert.Equal(t, settlement.MustAmount(3), a.Available)
	assert.Equal(t, settlement.Amount(0), a.Held)
	assert.True(t, a.Frozen)
	assert.Equal(t, settlement.StateChargeback, f.state(1))

	// every later mutation fails, and lifecycle records stay put
	assert.ErrorIs(t, f.deposit(1, 3, 1), settlement.ErrFrozen)
	assert.ErrorIs(t, f.withdraw(1, 4, 1), settlement.ErrFrozen)
	assert.ErrorIs(t, f.dispute(1, 2), settlement.ErrFrozen)
	assert.Equal(t, settlement.StateDeposit, f.state(2))

	_, ok := f.log.Get(3)
	assert.False(t, ok)
	assert.Equal(t, a, f.account(1))
}

func TestTransactionLog_ClientMismatchCheckedBeforeState(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.deposit(1, 1, 10))

	// undisputed: dispute by wrong client
	assert.ErrorIs(t, f.dispute(2, 1), settlement.ErrClientMismatch)
	// undisputed: resolve by wrong client is a mismatch, not DisputeNotOpen
	assert.ErrorIs(t, f.resolve(2, 1), settlement.ErrClientMismatch)

	require.NoError(t, f.dispute(1, 1))
	// disputed: dispute by wrong client is a mismatch, not AlreadyDisputed
	assert.ErrorIs(t, f.dispute(2, 1), settlement.ErrClientMismatch)
	assert.ErrorIs(t, f.chargeback(2, 1), settlement.ErrClientMismatch)

	assert.Equal(t, settlement.StateDisputed, f.state(1))
	_, ok := f.ledger.Account(2)
	assert.False(t, ok, "mismatched client must not be touched")
}

func TestTransactionLog_DisputeOverflowLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.process(settlement.KindDeposit, 1, 1, math.MaxInt64))
	require.NoError(t, f.dispute(1, 1))
	require.NoError(t, f.process(settlement.KindDeposit, 1, 2, 1))
	before := f.account(1)

	err := f.dispute(1, 2)
	assert.ErrorIs(t, err, settlement.ErrOverflow)
	assert.Equal(t, settlement.StateDeposit, f.state(2))
	assert.Equal(t, before, f.account(1))
}

func TestTransactionLog_DisputeUsesOriginalAmount(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.deposit(1, 1, 10))

	// amount on a dispute record is ignored
	require.NoError(t, f.process(settlement.KindDispute, 1, 1, settlement.MustAmount(9999)))
	assert.Equal(t, settlement.MustAmount(10), f.account(1).Held)
}

// =============================================================================
// ERRORS
// =============================================================================

func TestTransactionLog_ProcessErrorCarriesContext(t *testing.T) {
	f := newFixture(t)

	err := f.dispute(5, 77)

	var perr *settlement.ProcessError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, settlement.ClientID(5), perr.Client)
	assert.Equal(t, settlement.TransactionID(77), perr.TxID)
	assert.Equal(t, settlement.KindDispute, perr.Kind)
	assert.True(t, settlement.IsBusinessRule(err))
	assert.False(t, settlement.IsFatal(err))
	assert.Equal(t, "transaction_not_found", settlement.ErrorCode(err))
}

func TestTransactionLog_UnknownKind(t *testing.T) {
	f := newFixture(t)
	err := f.process(settlement.Kind("transfer"), 1, 1, 1)
	assert.ErrorIs(t, err, settlement.ErrUnknownKind)
	assert.Equal(t, 0, f.log.Len())
}

// =============================================================================
// CONCURRENCY
// =============================================================================

// race runs fn from n goroutines at once and counts outcomes by error.
func race(n int, fn func() error) (ok int, rejected map[error]int) {
	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		start = make(chan struct{})
	)
	rejected = make(map[error]int)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := fn()
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, settlement.ErrTransactionExist):
				rejected[settlement.ErrTransactionExist]++
			case errors.Is(err, settlement.ErrAlreadyDisputed):
				rejected[settlement.ErrAlreadyDisputed]++
			default:
				rejected[err]++
			}
		}()
	}
	close(start)
	wg.Wait()
	return ok, rejected
}

func TestTransactionLog_ConcurrentRecordsForOneTransaction(t *testing.T) {
	// GIVEN: one log shared by 50 producers
	// WHEN: all of them deposit tx 1, then all of them dispute it
	// THEN: exactly one of each is applied and balances stay exact
	f := newFixture(t)
	const producers = 50

	ok, rejected := race(producers, func() error { return f.deposit(1, 1, 2.5) })
	assert.Equal(t, 1, ok)
	assert.Equal(t, map[error]int{settlement.ErrTransactionExist: producers - 1}, rejected)

	ok, rejected = race(producers, func() error { return f.dispute(1, 1) })
	assert.Equal(t, 1, ok)
	assert.Equal(t, map[error]int{settlement.ErrAlreadyDisputed: producers - 1}, rejected)

	a := f.account(1)
	assert.Equal(t, "0.0000", a.Available.String())
	assert.Equal(t, "2.5000", a.Held.String())
	assert.Equal(t, "2.5000", a.Total.String())
	assert.Equal(t, settlement.StateDisputed, f.state(1))
	assert.Equal(t, 1, f.log.Len())
}

func TestTransactionLog_ConcurrentDistinctTransactions(t *testing.T) {
	f := newFixture(t)
	const producers = 40

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(tx settlement.TransactionID) {
			defer wg.Done()
			client := settlement.ClientID(tx % 2)
			assert.NoError(t, f.deposit(client, tx, 1))
			assert.NoError(t, f.dispute(client, tx))
			assert.NoError(t, f.resolve(client, tx))
		}(settlement.TransactionID(i + 1))
	}
	wg.Wait()

	assert.Equal(t, producers, f.log.Len())
	for _, client := range []settlement.ClientID{0, 1} {
		a := f.account(client)
		assert.Equal(t, "20.0000", a.Available.String(), "client %d", client)
		assert.True(t, a.Held.IsZero(), "client %d", client)
	}
}
