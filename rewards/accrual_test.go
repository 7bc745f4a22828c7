package rewards_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reward-ledger/rewards"
)

// =============================================================================
// ACCRUAL
// =============================================================================

func TestAccrueCustomer_RegularCustomerEarnsFivePercent(t *testing.T) {
	// GIVEN: A customer associated 1 year ago with a 1000.00 purchase
	// WHEN: Rewards are processed
	// THEN: The card ledger holds 50.00 points and the transaction is processed

	f := newFixture(t)
	ctx := context.Background()
	f.customer(t, "cust-1", 1)
	f.card(t, "card-1", "cust-1", "4111111111111111")
	f.purchase(t, "tx-1", "card-1", "1000")

	result, err := f.accrual.AccrueCustomer(ctx, "cust-1")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, "50.00", rewards.FormatPoints(result.PointsAwarded))
	assert.Equal(t, rewards.TierRegular, result.Balance.Tier)
	assert.Equal(t, "50.00", rewards.FormatPoints(result.Balance.TotalPoints))

	ledger := f.ledger(t, "card-1")
	assert.Equal(t, "50.00", rewards.FormatPoints(ledger.PointsBalance))
	assert.Equal(t, "50.00", rewards.FormatPoints(ledger.LifetimeEarned))
	assert.Equal(t, int64(1), ledger.Version)

	txs, err := f.mem.TransactionsByCard(ctx, "card-1")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Processed)
	require.NotNil(t, txs[0].RewardPoints)
	assert.Equal(t, "50.00", rewards.FormatPoints(*txs[0].RewardPoints))
}

func TestAccrueCustomer_PremiumCustomerEarnsTenPercent(t *testing.T) {
	f := newFixture(t)
	f.customer(t, "cust-1", 5)
	f.card(t, "card-1", "cust-1", "4111111111111111")
	f.purchase(t, "tx-1", "card-1", "333.33")

	result, err := f.accrual.AccrueCustomer(context.Background(), "cust-1")
	require.NoError(t, err)

	assert.Equal(t, rewards.TierPremium, result.Balance.Tier)
	assert.Equal(t, "33.33", rewards.FormatPoints(f.ledger(t, "card-1").PointsBalance))
}

func TestAccrueCustomer_SecondRunIsNoop(t *testing.T) {
	// GIVEN: Rewards already processed for a customer
	// WHEN: Processing runs again with no new transactions
	// THEN: Nothing is processed and the balance is unchanged

	f := newFixture(t)
	ctx := context.Background()
	f.funded(t, "cust-1", "card-1", "1000")
	before := f.ledger(t, "card-1")

	result, err := f.accrual.AccrueCustomer(ctx, "cust-1")
	require.NoError(t, err)

	assert.Equal(t, 0, result.Processed)
	assert.True(t, result.PointsAwarded.IsZero())
	assert.Equal(t, "50.00", rewards.FormatPoints(result.Balance.TotalPoints))
	assert.Equal(t, before, f.ledger(t, "card-1"))
}

func TestAccrueCustomer_OnlyNewTransactionsAreCredited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.funded(t, "cust-1", "card-1", "1000")
	f.purchase(t, "tx-2", "card-1", "200")

	result, err := f.accrual.AccrueCustomer(ctx, "cust-1")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	ledger := f.ledger(t, "card-1")
	assert.Equal(t, "60.00", rewards.FormatPoints(ledger.PointsBalance))
	assert.Equal(t, "60.00", rewards.FormatPoints(ledger.LifetimeEarned))
	assert.Equal(t, int64(2), ledger.Version)
}

func TestAccrueCustomer_CreditsEachCardItsOwnTransactions(t *testing.T) {
	// GIVEN: A customer with two cards and purchases on both
	// WHEN: Rewards are processed for the customer
	// THEN: Each ledger gets exactly the rewards of its own card

	f := newFixture(t)
	ctx := context.Background()
	f.customer(t, "cust-1", 1)
	f.card(t, "card-1", "cust-1", "4111111111111111")
	f.card(t, "card-2", "cust-1", "5500000000000004")
	f.purchase(t, "tx-1", "card-1", "100")
	f.purchase(t, "tx-2", "card-1", "300")
	f.purchase(t, "tx-3", "card-2", "1000")

	result, err := f.accrual.AccrueCustomer(ctx, "cust-1")
	require.NoError(t, err)

	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, "70.00", rewards.FormatPoints(result.PointsAwarded))
	assert.Equal(t, "20.00", rewards.FormatPoints(f.ledger(t, "card-1").PointsBalance))
	assert.Equal(t, "50.00", rewards.FormatPoints(f.ledger(t, "card-2").PointsBalance))
	require.Len(t, result.Balance.Cards, 2)
	assert.Equal(t, rewards.CardID("card-1"), result.Balance.Cards[0].CardID)
}

func TestAccrueCustomer_RoundsEachTransaction(t *testing.T) {
	// GIVEN: Three 0.10 purchases at 5% (0.005 each)
	// WHEN: Rewards are processed
	// THEN: Each rounds to 0.01 and the card receives 0.03, not round(0.015)

	f := newFixture(t)
	f.customer(t, "cust-1", 1)
	f.card(t, "card-1", "cust-1", "4111111111111111")
	f.purchase(t, "tx-1", "card-1", "0.10")
	f.purchase(t, "tx-2", "card-1", "0.10")
	f.purchase(t, "tx-3", "card-1", "0.10")

	_, err := f.accrual.AccrueCustomer(context.Background(), "cust-1")
	require.NoError(t, err)

	assert.Equal(t, "0.03", rewards.FormatPoints(f.ledger(t, "card-1").PointsBalance))
}

func TestAccrueCard_LeavesOtherCardsUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.customer(t, "cust-1", 1)
	f.card(t, "card-1", "cust-1", "4111111111111111")
	f.card(t, "card-2", "cust-1", "5500000000000004")
	f.purchase(t, "tx-1", "card-1", "100")
	f.purchase(t, "tx-2", "card-2", "1000")

	result, err := f.accrual.AccrueCard(ctx, "card-1")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, "5.00", rewards.FormatPoints(f.ledger(t, "card-1").PointsBalance))
	_, err = f.mem.GetLedger(ctx, "card-2")
	assert.True(t, rewards.IsNotFound(err))

	// The summary still lists the untouched card with a zero balance.
	require.Len(t, result.Balance.Cards, 2)
	assert.True(t, result.Balance.Cards[1].PointsBalance.IsZero())
}

func TestAccrue_UnknownOrDeletedCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.accrual.AccrueCustomer(ctx, "nobody")
	assert.Equal(t, rewards.CodeCustomerNotFound, rewards.CodeOf(err))

	_, err = f.accrual.AccrueCard(ctx, "no-card")
	assert.Equal(t, rewards.CodeCardNotFound, rewards.CodeOf(err))

	require.NoError(t, f.mem.SaveCustomer(ctx, rewards.Customer{ID: "gone", AssociationDate: testNow, Deleted: true}))
	_, err = f.accrual.AccrueCustomer(ctx, "gone")
	assert.Equal(t, rewards.KindNotFound, rewards.KindOf(err))
}

func TestAccrue_RetriesWhenLedgerVersionMoves(t *testing.T) {
	// GIVEN: A ledger whose first update loses the version check
	// WHEN: Rewards are processed
	// THEN: The whole unit reruns and credits exactly once

	f := newFixture(t)
	ctx := context.Background()
	f.funded(t, "cust-1", "card-1", "1000")
	f.purchase(t, "tx-2", "card-1", "100")

	faulty := &faultyStore{Store: f.mem, ledgerConflicts: 1}
	f.wire(faulty)

	result, err := f.accrual.AccrueCustomer(ctx, "cust-1")
	require.NoError(t, err)

	assert.Equal(t, 2, faulty.txCount)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, "55.00", rewards.FormatPoints(f.ledger(t, "card-1").PointsBalance))
}

func TestAccrue_ConcurrentRunsCountEachTransactionOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.customer(t, "cust-1", 1)
	f.card(t, "card-1", "cust-1", "4111111111111111")
	f.purchase(t, "tx-1", "card-1", "1000")
	f.purchase(t, "tx-2", "card-1", "500")

	var wg sync.WaitGroup
	processed := make([]int, 8)
	for i := range processed {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := f.accrual.AccrueCustomer(ctx, "cust-1")
			assert.NoError(t, err)
			processed[i] = result.Processed
		}(i)
	}
	wg.Wait()

	total := 0
	for _, n := range processed {
		total += n
	}
	assert.Equal(t, 2, total)
	ledger := f.ledger(t, "card-1")
	assert.Equal(t, "75.00", rewards.FormatPoints(ledger.PointsBalance))
	assert.Equal(t, "75.00", rewards.FormatPoints(ledger.LifetimeEarned))
}
