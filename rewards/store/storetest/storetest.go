// Package storetest holds behavior checks every rewards store must pass.
// Store implementations call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reward-ledger/rewards"
)

// Store is a rewards.Store that can also be seeded and listed.
type Store interface {
	rewards.Store

	SaveCustomer(ctx context.Context, c rewards.Customer) error
	SaveCard(ctx context.Context, c rewards.CreditCard) error
	SaveCategory(ctx context.Context, c rewards.Category) error
	SaveItem(ctx context.Context, item rewards.CatalogItem) error
	AddTransactions(ctx context.Context, txs []rewards.Transaction) error
	ActiveCustomers(ctx context.Context) ([]rewards.Customer, error)
	Categories(ctx context.Context) ([]rewards.Category, error)
	Items(ctx context.Context, category rewards.CategoryID) ([]rewards.CatalogItem, error)
	Reset(ctx context.Context) error
}

var base = time.Date(2026, time.March, 1, 9, 30, 0, 0, time.UTC)

// Run executes the store checks, building a fresh store per subtest.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s Store)
	}{
		{"Customers", testCustomers},
		{"Cards", testCards},
		{"Catalog", testCatalog},
		{"Transactions", testTransactions},
		{"MarkProcessed", testMarkProcessed},
		{"Ledger", testLedger},
		{"RollbackOnError", testRollback},
		{"RollbackOnPanic", testRollbackOnPanic},
		{"Cart", testCart},
		{"Redemptions", testRedemptions},
		{"Reset", testReset},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

// =============================================================================
// SEED HELPERS
// =============================================================================

func seed(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SaveCustomer(ctx, rewards.Customer{
		ID: "cust-1", Name: "Alex", Email: "alex@example.com", AssociationDate: base.AddDate(-2, 0, 0), CreatedAt: base,
	}))
	require.NoError(t, s.SaveCustomer(ctx, rewards.Customer{
		ID: "cust-2", Name: "Jordan", AssociationDate: base.AddDate(-5, 0, 0), CreatedAt: base,
	}))
	require.NoError(t, s.SaveCard(ctx, rewards.CreditCard{
		ID: "card-b", CustomerID: "cust-1", Number: "5500000000000004", CreatedAt: base.Add(2 * time.Minute),
	}))
	require.NoError(t, s.SaveCard(ctx, rewards.CreditCard{
		ID: "card-a", CustomerID: "cust-1", Number: "4111111111111111", HolderName: "Alex", CreatedAt: base.Add(time.Minute),
	}))
	require.NoError(t, s.SaveCard(ctx, rewards.CreditCard{
		ID: "card-z", CustomerID: "cust-2", Number: "340000000000009", CreatedAt: base,
	}))
	require.NoError(t, s.SaveCategory(ctx, rewards.Category{ID: "cat-travel", Name: "Travel", DisplayOrder: 2}))
	require.NoError(t, s.SaveCategory(ctx, rewards.Category{ID: "cat-gift", Name: "Gift Cards", DisplayOrder: 1}))
	require.NoError(t, s.SaveItem(ctx, rewards.CatalogItem{
		ID: "item-coffee", CategoryID: "cat-gift", Name: "Coffee", Description: "One drink", PointsCost: 30, Available: true,
	}))
	require.NoError(t, s.SaveItem(ctx, rewards.CatalogItem{
		ID: "item-lounge", CategoryID: "cat-travel", Name: "Lounge", PointsCost: 900, Available: true,
	}))
	require.NoError(t, s.SaveItem(ctx, rewards.CatalogItem{
		ID: "item-upgrade", CategoryID: "cat-travel", Name: "Upgrade", PointsCost: 1500, Available: false,
	}))
}

func purchase(id rewards.TransactionID, card rewards.CardID, amount string, at time.Time) rewards.Transaction {
	return rewards.Transaction{
		ID:        id,
		CardID:    card,
		Amount:    decimal.RequireFromString(amount),
		Merchant:  "Amazon",
		Date:      at,
		CreatedAt: base,
	}
}

func inTx(t *testing.T, s Store, fn func(ctx context.Context, tx rewards.Tx) error) error {
	t.Helper()
	ctx := context.Background()
	return s.WithTx(ctx, func(tx rewards.Tx) error { return fn(ctx, tx) })
}

// =============================================================================
// CHECKS
// =============================================================================

func testCustomers(t *testing.T, s Store) {
	seed(t, s)
	ctx := context.Background()

	c, err := s.GetActiveCustomer(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, "Alex", c.Name)
	assert.Equal(t, "alex@example.com", c.Email)
	assert.True(t, c.AssociationDate.Equal(base.AddDate(-2, 0, 0)))

	c.Deleted = true
	require.NoError(t, s.SaveCustomer(ctx, c))

	_, err = s.GetActiveCustomer(ctx, "cust-1")
	assert.Equal(t, rewards.CodeCustomerNotFound, rewards.CodeOf(err))

	active, err := s.ActiveCustomers(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, rewards.CustomerID("cust-2"), active[0].ID)
}

func testCards(t *testing.T, s Store) {
	seed(t, s)
	ctx := context.Background()

	cards, err := s.CardsForCustomer(ctx, "cust-1")
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, rewards.CardID("card-a"), cards[0].ID, "ordered by creation time")
	assert.Equal(t, "Alex", cards[0].HolderName)

	err = s.SaveCard(ctx, rewards.CreditCard{ID: "card-x", CustomerID: "nobody", Number: "6011000000000004"})
	assert.Equal(t, rewards.CodeCustomerNotFound, rewards.CodeOf(err))

	err = s.SaveCard(ctx, rewards.CreditCard{ID: "card-dup", CustomerID: "cust-2", Number: "4111111111111111"})
	assert.Equal(t, rewards.CodeDuplicateCard, rewards.CodeOf(err))

	_, err = s.GetCard(ctx, "card-dup")
	assert.Equal(t, rewards.CodeCardNotFound, rewards.CodeOf(err))
}

func testCatalog(t *testing.T, s Store) {
	seed(t, s)
	ctx := context.Background()

	categories, err := s.Categories(ctx)
	require.NoError(t, err)
	require.Len(t, categories, 2)
	assert.Equal(t, rewards.CategoryID("cat-gift"), categories[0].ID)

	items, err := s.Items(ctx, "")
	require.NoError(t, err)
	assert.Len(t, items, 2, "unavailable items are not listed")

	items, err = s.Items(ctx, "cat-travel")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, rewards.ItemID("item-lounge"), items[0].ID)

	item, err := s.GetItem(ctx, "item-upgrade")
	require.NoError(t, err)
	assert.False(t, item.Available)
	assert.Equal(t, int64(1500), item.PointsCost)

	ok, err := s.IsAvailable(ctx, "item-coffee")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.IsAvailable(ctx, "item-missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.GetItem(ctx, "item-missing")
	assert.Equal(t, rewards.CodeItemNotFound, rewards.CodeOf(err))

	err = s.SaveItem(ctx, rewards.CatalogItem{ID: "item-x", CategoryID: "cat-missing", Name: "X"})
	assert.True(t, rewards.IsNotFound(err))
}

func testTransactions(t *testing.T, s Store) {
	seed(t, s)
	ctx := context.Background()

	require.NoError(t, s.AddTransactions(ctx, []rewards.Transaction{
		purchase("tx-2", "card-a", "20.00", base.AddDate(0, 0, -1)),
		purchase("tx-1", "card-a", "333.33", base.AddDate(0, 0, -3)),
		purchase("tx-3", "card-b", "12.50", base.AddDate(0, 0, -2)),
	}))

	// All or nothing when a card is unknown.
	err := s.AddTransactions(ctx, []rewards.Transaction{
		purchase("tx-4", "card-a", "1.00", base),
		purchase("tx-5", "card-missing", "1.00", base),
	})
	assert.Equal(t, rewards.CodeCardNotFound, rewards.CodeOf(err))

	history, err := s.TransactionsByCard(ctx, "card-a")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, rewards.TransactionID("tx-2"), history[0].ID, "newest first")
	assert.True(t, history[1].Amount.Equal(decimal.RequireFromString("333.33")))
	assert.False(t, history[1].Processed)
	assert.Nil(t, history[1].RewardPoints)

	err = inTx(t, s, func(ctx context.Context, tx rewards.Tx) error {
		byCard, err := tx.UnprocessedByCard(ctx, "card-a")
		require.NoError(t, err)
		require.Len(t, byCard, 2)
		assert.Equal(t, rewards.TransactionID("tx-1"), byCard[0].ID, "oldest first")

		byCustomer, err := tx.UnprocessedByCustomer(ctx, "cust-1")
		require.NoError(t, err)
		ids := make([]rewards.TransactionID, len(byCustomer))
		for i, tr := range byCustomer {
			ids[i] = tr.ID
		}
		assert.Equal(t, []rewards.TransactionID{"tx-1", "tx-2", "tx-3"}, ids)
		return nil
	})
	require.NoError(t, err)
}

func testMarkProcessed(t *testing.T, s Store) {
	seed(t, s)
	ctx := context.Background()
	require.NoError(t, s.AddTransactions(ctx, []rewards.Transaction{
		purchase("tx-1", "card-a", "333.33", base),
	}))

	reward := decimal.RequireFromString("33.33")
	require.NoError(t, inTx(t, s, func(ctx context.Context, tx rewards.Tx) error {
		return tx.MarkProcessed(ctx, "tx-1", reward)
	}))

	err := inTx(t, s, func(ctx context.Context, tx rewards.Tx) error {
		return tx.MarkProcessed(ctx, "tx-1", reward)
	})
	assert.ErrorIs(t, err, rewards.ErrConcurrentModification)

	err = inTx(t, s, func(ctx context.Context, tx rewards.Tx) error {
		return tx.MarkProcessed(ctx, "tx-missing", reward)
	})
	assert.Equal(t, rewards.CodeTransactionNotFound, rewards.CodeOf(err))

	txs, err := s.TransactionsByCard(ctx, "card-a")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Processed)
	require.NotNil(t, txs[0].RewardPoints)
	assert.Equal(t, "33.33", rewards.FormatPoints(*txs[0].RewardPoints))

	*txs[0].RewardPoints = decimal.NewFromInt(999)
	reread, err := s.TransactionsByCard(ctx, "card-a")
	require.NoError(t, err)
	assert.Equal(t, "33.33", rewards.FormatPoints(*reread[0].RewardPoints))

	err = inTx(t, s, func(ctx context.Context, tx rewards.Tx) error {
		pending, err := tx.UnprocessedByCard(ctx, "card-a")
		assert.Empty(t, pending)
		return err
	})
	require.NoError(t, err)
}

func testLedger(t *testing.T, s Store) {
	seed(t, s)
	ctx := context.Background()

	_, err := s.GetLedger(ctx, "card-a")
	assert.Equal(t, rewards.CodeLedgerNotFound, rewards.CodeOf(err))

	fresh := rewards.Ledger{
		CardID:         "card-a",
		CustomerID:     "cust-1",
		PointsBalance:  decimal.RequireFromString("16.67"),
		LifetimeEarned: decimal.RequireFromString("16.67"),
		LastUpdated:    base,
	}
	require.NoError(t, inTx(t, s, func(ctx context.Context, tx rewards.Tx) error {
		return tx.CreateLedger(ctx, fresh)
	}))

	err = inTx(t, s, func(ctx context.Context, tx rewards.Tx) error {
		return tx.CreateLedger(ctx, fresh)
	})
	assert.ErrorIs(t, err, rewards.ErrConcurrentModification)

	stored, err := s.GetLedger(ctx, "card-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)
	assert.Equal(t, "16.67", rewards.FormatPoints(stored.PointsBalance))
	assert.True(t, stored.LastUpdated.Equal(base))

	// Two writers holding version 1: the first wins, the second conflicts.
	require.NoError(t, inTx(t, s, func(ctx context.Context, tx rewards.Tx) error {
		return tx.UpdateLedger(ctx, stored.Credit(decimal.RequireFromString("5"), base.Add(time.Hour)))
	}))
	err = inTx(t, s, func(ctx context.Context, tx rewards.Tx) error {
		return tx.UpdateLedger(ctx, stored.Debit(decimal.RequireFromString("10"), base.Add(time.Hour)))
	})
	assert.ErrorIs(t, err, rewards.ErrConcurrentModification)

	updated, err := s.GetLedger(ctx, "card-a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, "21.67", rewards.FormatPoints(updated.PointsBalance))
	assert.Equal(t, "21.67", rewards.FormatPoints(updated.LifetimeEarned))

	ledgers, err := s.LedgersByCustomer(ctx, "cust-1")
	require.NoError(t, err)
	require.Len(t, ledgers, 1)
	assert.Equal(t, rewards.CardID("card-a"), ledgers[0].CardID)
}

func testRollback(t *testing.T, s Store) {
	seed(t, s)
	ctx := context.Background()
	require.NoError(t, s.AddTransactions(ctx, []rewards.Transaction{
		purchase("tx-1", "card-a", "100", base),
	}))

	boom := errors.New("boom")
	err := inTx(t, s, func(ctx context.Context, tx rewards.Tx) error {
		require.NoError(t, tx.CreateLedger(ctx, rewards.Ledger{
			CardID: "card-a", CustomerID: "cust-1",
			PointsBalance: decimal.NewFromInt(5), LifetimeEarned: decimal.NewFromInt(5), LastUpdated: base,
		}))
		require.NoError(t, tx.MarkProcessed(ctx, "tx-1", decimal.NewFromInt(5)))
		require.NoError(t, tx.InsertCartItem(ctx, rewards.CartItem{
			ID: "ci-1", CustomerID: "cust-1", ItemID: "item-coffee", Quantity: 1, CreatedAt: base,
		}))

		// Writes are visible inside the unit of work.
		l, err := tx.GetLedger(ctx, "card-a")
		require.NoError(t, err)
		assert.Equal(t, int64(1), l.Version)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetLedger(ctx, "card-a")
	assert.True(t, rewards.IsNotFound(err))
	txs, err := s.TransactionsByCard(ctx, "card-a")
	require.NoError(t, err)
	assert.False(t, txs[0].Processed)
	cart, err := s.CartItems(ctx, "cust-1")
	require.NoError(t, err)
	assert.Empty(t, cart)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	called := false
	err = s.WithTx(canceled, func(rewards.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func testRollbackOnPanic(t *testing.T, s Store) {
	seed(t, s)
	ctx := context.Background()
	require.NoError(t, inTx(t, s, func(ctx context.Context, tx rewards.Tx) error {
		return tx.CreateLedger(ctx, rewards.Ledger{
			CardID: "card-a", CustomerID: "cust-1",
			PointsBalance: decimal.NewFromInt(50), LifetimeEarned: decimal.NewFromInt(50), LastUpdated: base,
		})
	}))

	assert.PanicsWithValue(t, "boom", func() {
		_ = inTx(t, s, func(ctx context.Context, tx rewards.Tx) error {
			l, err := tx.GetLedger(ctx, "card-a")
			require.NoError(t, err)
			require.NoError(t, tx.UpdateLedger(ctx, l.Debit(decimal.NewFromInt(30), base)))
			panic("boom")
		})
	})

	l, err := s.GetLedger(ctx, "card-a")
	require.NoError(t, err)
	assert.Equal(t, "50.00", rewards.FormatPoints(l.PointsBalance))
	assert.Equal(t, int64(1), l.Version)

	// The store keeps working after the panicked unit.
	require.NoError(t, inTx(t, s, func(ctx context.Context, tx rewards.Tx) error {
		return tx.UpdateLedger(ctx, l.Debit(decimal.NewFromInt(30), base))
	}))
}

func testCart(t *testing.T, s Store) {
	seed(t, s)
	ctx := context.Background()

	require.NoError(t, inTx(t, s, func(ctx context.Context, tx rewards.Tx) error {
		for i, id := range []rewards.ItemID{"item-lounge", "item-coffee"} {
			if err := tx.InsertCartItem(ctx, rewards.CartItem{
				ID:         rewards.CartItemID("ci-" + string(id)),
				CustomerID: "cust-1",
				ItemID:     id,
				Quantity:   i + 1,
				CreatedAt:  base,
			}); err != nil {
				return err
			}
		}
		return tx.InsertCartItem(ctx, rewards.CartItem{
			ID: "ci-other", CustomerID: "cust-2", ItemID: "item-coffee", Quantity: 1, CreatedAt: base,
		})
	}))

	items, err := s.CartItems(ctx, "cust-1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, rewards.ItemID("item-lounge"), items[0].ItemID, "insertion order")
	assert.Equal(t, 2, items[1].Quantity)

	require.NoError(t, inTx(t, s, func(ctx context.Context, tx rewards.Tx) error {
		return tx.UpdateCartQuantity(ctx, "ci-item-coffee", 7)
	}))
	ci, err := s.GetCartItem(ctx, "ci-item-coffee")
	require.NoError(t, err)
	assert.Equal(t, 7, ci.Quantity)

	err = inTx(t, s, func(ctx context.Context, tx rewards.Tx) error {
		return tx.UpdateCartQuantity(ctx, "ci-missing", 2)
	})
	assert.Equal(t, rewards.CodeCartItemNotFound, rewards.CodeOf(err))

	var removed, again bool
	require.NoError(t, inTx(t, s, func(ctx context.Context, tx rewards.Tx) error {
		var err error
		if removed, err = tx.DeleteCartItem(ctx, "ci-item-lounge"); err != nil {
			return err
		}
		again, err = tx.DeleteCartItem(ctx, "ci-item-lounge")
		return err
	}))
	assert.True(t, removed)
	assert.False(t, again)

	var cleared int
	require.NoError(t, inTx(t, s, func(ctx context.Context, tx rewards.Tx) error {
		var err error
		cleared, err = tx.ClearCart(ctx, "cust-1")
		return err
	}))
	assert.Equal(t, 1, cleared)

	items, err = s.CartItems(ctx, "cust-1")
	require.NoError(t, err)
	assert.Empty(t, items)
	others, err := s.CartItems(ctx, "cust-2")
	require.NoError(t, err)
	assert.Len(t, others, 1)
}

func testRedemptions(t *testing.T, s Store) {
	seed(t, s)
	ctx := context.Background()

	older := rewards.RedemptionHistory{
		ID:              "red-1",
		CustomerID:      "cust-1",
		CardID:          "card-a",
		TotalPointsUsed: decimal.NewFromInt(960),
		RedeemedAt:      base,
		Status:          rewards.RedemptionCompleted,
		Items: []rewards.RedemptionItem{
			{ItemID: "item-coffee", Name: "Coffee", Quantity: 2, UnitCost: 30, LineTotal: 60},
			{ItemID: "item-lounge", Name: "Lounge", Quantity: 1, UnitCost: 900, LineTotal: 900},
		},
	}
	newer := rewards.RedemptionHistory{
		ID:              "red-2",
		CustomerID:      "cust-1",
		CardID:          "card-b",
		TotalPointsUsed: decimal.NewFromInt(30),
		RedeemedAt:      base.Add(time.Hour),
		Status:          rewards.RedemptionCompleted,
		Items:           []rewards.RedemptionItem{{ItemID: "item-coffee", Name: "Coffee", Quantity: 1, UnitCost: 30, LineTotal: 30}},
	}
	require.NoError(t, inTx(t, s, func(ctx context.Context, tx rewards.Tx) error {
		if err := tx.InsertRedemption(ctx, older); err != nil {
			return err
		}
		return tx.InsertRedemption(ctx, newer)
	}))

	err := inTx(t, s, func(ctx context.Context, tx rewards.Tx) error {
		return tx.InsertRedemption(ctx, older)
	})
	assert.ErrorIs(t, err, rewards.ErrConcurrentModification)

	history, err := s.Redemptions(ctx, "cust-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, rewards.RedemptionID("red-2"), history[0].ID, "newest first")
	assert.Equal(t, older.Items, history[1].Items)
	assert.Equal(t, "960.00", rewards.FormatPoints(history[1].TotalPointsUsed))
	assert.Equal(t, rewards.RedemptionCompleted, history[1].Status)
	assert.True(t, history[1].RedeemedAt.Equal(base))

	// Changing a returned record leaves the stored one intact.
	history[1].Items[0].UnitCost = 999
	history[1].Items[0].Name = "Changed"
	reread, err := s.Redemptions(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, older.Items, reread[1].Items)

	none, err := s.Redemptions(ctx, "cust-2")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testReset(t *testing.T, s Store) {
	seed(t, s)
	ctx := context.Background()
	require.NoError(t, s.AddTransactions(ctx, []rewards.Transaction{purchase("tx-1", "card-a", "10", base)}))

	require.NoError(t, s.Reset(ctx))

	customers, err := s.ActiveCustomers(ctx)
	require.NoError(t, err)
	assert.Empty(t, customers)
	_, err = s.GetCard(ctx, "card-a")
	assert.True(t, rewards.IsNotFound(err))
	categories, err := s.Categories(ctx)
	require.NoError(t, err)
	assert.Empty(t, categories)

	// The store is usable again after a reset.
	seed(t, s)
}
