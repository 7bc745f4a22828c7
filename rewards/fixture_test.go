package rewards_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/reward-ledger/rewards"
	"github.com/warp/reward-ledger/rewards/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2026, time.June, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	mem      *store.Memory
	clock    *testClock
	cfg      rewards.Config
	accrual  *rewards.AccrualEngine
	cart     *rewards.Cart
	redeem   *rewards.RedemptionEngine
	balances *rewards.Balances
}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, store.NewMemory())
}

func newFixtureOn(t *testing.T, mem *store.Memory) *fixture {
	t.Helper()
	f := &fixture{mem: mem, clock: &testClock{now: testNow}, cfg: rewards.DefaultConfig()}
	f.wire(mem)
	return f
}

// wire (re)builds the engines over s, which may wrap f.mem.
func (f *fixture) wire(s rewards.Store) {
	opt := rewards.WithClock(f.clock.Now)
	f.accrual = rewards.NewAccrualEngine(s, f.cfg, opt)
	f.cart = rewards.NewCart(s, opt)
	f.redeem = rewards.NewRedemptionEngine(s, f.cfg, opt)
	f.balances = rewards.NewBalances(s, f.cfg, opt)
}

func (f *fixture) customer(t *testing.T, id rewards.CustomerID, associatedYearsAgo int) {
	t.Helper()
	require.NoError(t, f.mem.SaveCustomer(context.Background(), rewards.Customer{
		ID:              id,
		Name:            "Customer " + string(id),
		AssociationDate: testNow.AddDate(-associatedYearsAgo, 0, 0),
		CreatedAt:       testNow,
	}))
}

func (f *fixture) card(t *testing.T, id rewards.CardID, owner rewards.CustomerID, number string) {
	t.Helper()
	f.clock.Advance(time.Second)
	require.NoError(t, f.mem.SaveCard(context.Background(), rewards.CreditCard{
		ID:         id,
		CustomerID: owner,
		Number:     number,
		CreatedAt:  f.clock.Now(),
	}))
}

func (f *fixture) item(t *testing.T, id rewards.ItemID, cost int64, available bool) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.mem.SaveCategory(ctx, rewards.Category{ID: "cat-1", Name: "General", DisplayOrder: 1}))
	require.NoError(t, f.mem.SaveItem(ctx, rewards.CatalogItem{
		ID:         id,
		CategoryID: "cat-1",
		Name:       "Item " + string(id),
		PointsCost: cost,
		Available:  available,
	}))
}

func (f *fixture) purchase(t *testing.T, id rewards.TransactionID, card rewards.CardID, amount string) {
	t.Helper()
	require.NoError(t, f.mem.AddTransactions(context.Background(), []rewards.Transaction{{
		ID:       id,
		CardID:   card,
		Amount:   decimal.RequireFromString(amount),
		Merchant: "Test Merchant",
		Date:     f.clock.Now().AddDate(0, 0, -1),
	}}))
}

// funded sets up a regular customer with one card that has accrued points.
func (f *fixture) funded(t *testing.T, customer rewards.CustomerID, card rewards.CardID, amount string) {
	t.Helper()
	f.customer(t, customer, 1)
	f.card(t, card, customer, "4111"+string(card))
	f.purchase(t, rewards.TransactionID("tx-"+string(card)), card, amount)
	_, err := f.accrual.AccrueCustomer(context.Background(), customer)
	require.NoError(t, err)
}

func (f *fixture) ledger(t *testing.T, card rewards.CardID) rewards.Ledger {
	t.Helper()
	l, err := f.mem.GetLedger(context.Background(), card)
	require.NoError(t, err)
	return l
}

func pts(s string) rewards.Points { return decimal.RequireFromString(s) }

// =============================================================================
// FAULT INJECTION
// =============================================================================

// faultyStore wraps a Store and injects failures into the Tx it hands out.
type faultyStore struct {
	rewards.Store

	ledgerConflicts    int   // UpdateLedger calls to fail with a conflict
	insertRedemptionErr error // returned by every InsertRedemption
	clearCartErr       error
	txCount            int

	// afterTx runs once, after the first unit of work has finished and
	// released the store. It lets a competing writer land between attempts.
	afterTx func()
}

func (s *faultyStore) WithTx(ctx context.Context, fn func(rewards.Tx) error) error {
	err := s.Store.WithTx(ctx, func(tx rewards.Tx) error {
		s.txCount++
		return fn(&faultyTx{Tx: tx, s: s})
	})
	if hook := s.afterTx; hook != nil {
		s.afterTx = nil
		hook()
	}
	return err
}

type faultyTx struct {
	rewards.Tx
	s *faultyStore
}

func (t *faultyTx) UpdateLedger(ctx context.Context, l rewards.Ledger) error {
	if t.s.ledgerConflicts > 0 {
		t.s.ledgerConflicts--
		return rewards.ErrConcurrentModification
	}
	return t.Tx.UpdateLedger(ctx, l)
}

func (t *faultyTx) InsertRedemption(ctx context.Context, r rewards.RedemptionHistory) error {
	if t.s.insertRedemptionErr != nil {
		return t.s.insertRedemptionErr
	}
	return t.Tx.InsertRedemption(ctx, r)
}

func (t *faultyTx) ClearCart(ctx context.Context, id rewards.CustomerID) (int, error) {
	if t.s.clearCartErr != nil {
		return 0, t.s.clearCartErr
	}
	return t.Tx.ClearCart(ctx, id)
}
