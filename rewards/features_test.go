package rewards_test

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"

	"github.com/warp/reward-ledger/rewards"
	"github.com/warp/reward-ledger/rewards/store"
)

type ledgerTestContext struct {
	mem      *store.Memory
	accrual  *rewards.AccrualEngine
	cart     *rewards.Cart
	redeem   *rewards.RedemptionEngine
	balances *rewards.Balances

	lastAccrual rewards.AccrualResult
	redeemErr   error
	cartErr     error
	purchases   int
}

func (c *ledgerTestContext) reset() {
	c.mem = store.NewMemory()
	cfg := rewards.DefaultConfig()
	clock := rewards.WithClock(func() time.Time { return testNow })
	c.accrual = rewards.NewAccrualEngine(c.mem, cfg, clock)
	c.cart = rewards.NewCart(c.mem, clock)
	c.redeem = rewards.NewRedemptionEngine(c.mem, cfg, clock)
	c.balances = rewards.NewBalances(c.mem, cfg, clock)
	c.lastAccrual = rewards.AccrualResult{}
	c.redeemErr = nil
	c.cartErr = nil
	c.purchases = 0
}

// =============================================================================
// GIVEN
// =============================================================================

func (c *ledgerTestContext) aCustomerAssociatedYearsAgo(id string, years int) error {
	return c.mem.SaveCustomer(context.Background(), rewards.Customer{
		ID:              rewards.CustomerID(id),
		Name:            id,
		AssociationDate: testNow.AddDate(-years, 0, 0),
		CreatedAt:       testNow,
	})
}

func (c *ledgerTestContext) cardBelongsTo(card, customer string) error {
	cards, err := c.mem.CardsForCustomer(context.Background(), rewards.CustomerID(customer))
	if err != nil {
		return err
	}
	return c.mem.SaveCard(context.Background(), rewards.CreditCard{
		ID:         rewards.CardID(card),
		CustomerID: rewards.CustomerID(customer),
		Number:     "4000-" + card,
		CreatedAt:  testNow.Add(time.Duration(len(cards)) * time.Second),
	})
}

func (c *ledgerTestContext) aPurchaseOnCard(amount, card string) error {
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return err
	}
	c.purchases++
	return c.mem.AddTransactions(context.Background(), []rewards.Transaction{{
		ID:       rewards.TransactionID(fmt.Sprintf("tx-%d", c.purchases)),
		CardID:   rewards.CardID(card),
		Amount:   value,
		Merchant: "Amazon",
		Date:     testNow.AddDate(0, 0, -1),
	}})
}

func (c *ledgerTestContext) theCatalog(table *godog.Table) error {
	ctx := context.Background()
	if err := c.mem.SaveCategory(ctx, rewards.Category{ID: "cat-1", Name: "General", DisplayOrder: 1}); err != nil {
		return err
	}
	for _, row := range table.Rows[1:] {
		cost, err := strconv.ParseInt(row.Cells[1].Value, 10, 64)
		if err != nil {
			return fmt.Errorf("cost of %s: %w", row.Cells[0].Value, err)
		}
		if err := c.mem.SaveItem(ctx, rewards.CatalogItem{
			ID:         rewards.ItemID(row.Cells[0].Value),
			CategoryID: "cat-1",
			Name:       row.Cells[0].Value,
			PointsCost: cost,
			Available:  row.Cells[2].Value == "yes",
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c *ledgerTestContext) addsToTheCart(customer string, qty int, item string) error {
	_, err := c.cart.Add(context.Background(), rewards.CustomerID(customer), rewards.ItemID(item), qty)
	return err
}

// =============================================================================
// WHEN
// =============================================================================

func (c *ledgerTestContext) rewardsAreProcessedFor(customer string) error {
	result, err := c.accrual.AccrueCustomer(context.Background(), rewards.CustomerID(customer))
	if err != nil {
		return err
	}
	c.lastAccrual = result
	return nil
}

func (c *ledgerTestContext) rewardsAreProcessedForCard(card string) error {
	result, err := c.accrual.AccrueCard(context.Background(), rewards.CardID(card))
	if err != nil {
		return err
	}
	c.lastAccrual = result
	return nil
}

func (c *ledgerTestContext) redeemsWithCard(customer, card string) error {
	_, c.redeemErr = c.redeem.Redeem(context.Background(), rewards.CustomerID(customer), rewards.CardID(card))
	return nil
}

func (c *ledgerTestContext) triesToAddToTheCart(customer string, qty int, item string) error {
	c.cartErr = c.addsToTheCart(customer, qty, item)
	return nil
}

// =============================================================================
// THEN
// =============================================================================

func (c *ledgerTestContext) theLastRunProcessed(n int) error {
	if c.lastAccrual.Processed != n {
		return fmt.Errorf("expected %d processed transactions, got %d", n, c.lastAccrual.Processed)
	}
	return nil
}

func (c *ledgerTestContext) cardHasBalance(card, want string) error {
	l, err := c.mem.GetLedger(context.Background(), rewards.CardID(card))
	if err != nil {
		return err
	}
	return equalPoints("balance", want, l.PointsBalance)
}

func (c *ledgerTestContext) cardHasLifetimeEarnings(card, want string) error {
	l, err := c.mem.GetLedger(context.Background(), rewards.CardID(card))
	if err != nil {
		return err
	}
	return equalPoints("lifetime earned", want, l.LifetimeEarned)
}

func (c *ledgerTestContext) cardHasNoLedger(card string) error {
	_, err := c.mem.GetLedger(context.Background(), rewards.CardID(card))
	if !rewards.IsNotFound(err) {
		return fmt.Errorf("expected no ledger for %s, got err=%v", card, err)
	}
	return nil
}

func (c *ledgerTestContext) hasTotalBalance(customer, want string) error {
	summary, err := c.balances.Summary(context.Background(), rewards.CustomerID(customer))
	if err != nil {
		return err
	}
	return equalPoints("total balance", want, summary.TotalPoints)
}

func (c *ledgerTestContext) isATierCustomer(customer, tier string) error {
	summary, err := c.balances.Summary(context.Background(), rewards.CustomerID(customer))
	if err != nil {
		return err
	}
	if string(summary.Tier) != tier {
		return fmt.Errorf("expected tier %s, got %s", tier, summary.Tier)
	}
	return nil
}

func (c *ledgerTestContext) theRedemptionSucceeds() error {
	if c.redeemErr != nil {
		return fmt.Errorf("expected redemption to succeed, got %v", c.redeemErr)
	}
	return nil
}

func (c *ledgerTestContext) theRedemptionFailsWith(code string) error {
	return expectCode(c.redeemErr, code)
}

func (c *ledgerTestContext) theCartOperationFailsWith(code string) error {
	return expectCode(c.cartErr, code)
}

func (c *ledgerTestContext) hasRedemptionsInHistory(customer string, n int) error {
	history, err := c.balances.History(context.Background(), rewards.CustomerID(customer))
	if err != nil {
		return err
	}
	if len(history) != n {
		return fmt.Errorf("expected %d redemptions, got %d", n, len(history))
	}
	return nil
}

func (c *ledgerTestContext) theCartHasLines(customer string, n int) error {
	view, err := c.cart.View(context.Background(), rewards.CustomerID(customer))
	if err != nil {
		return err
	}
	if len(view.Items) != n {
		return fmt.Errorf("expected %d cart lines, got %d", n, len(view.Items))
	}
	return nil
}

func (c *ledgerTestContext) theCartCosts(customer string, total int) error {
	view, err := c.cart.View(context.Background(), rewards.CustomerID(customer))
	if err != nil {
		return err
	}
	if view.TotalPointsCost != int64(total) {
		return fmt.Errorf("expected cart total %d, got %d", total, view.TotalPointsCost)
	}
	return nil
}

func equalPoints(what, want string, got rewards.Points) error {
	expected, err := decimal.NewFromString(want)
	if err != nil {
		return err
	}
	if !got.Equal(expected) {
		return fmt.Errorf("expected %s %s, got %s", what, want, rewards.FormatPoints(got))
	}
	return nil
}

func expectCode(err error, code string) error {
	if err == nil {
		return fmt.Errorf("expected error %s, got success", code)
	}
	if got := rewards.CodeOf(err); got != code {
		return fmt.Errorf("expected error %s, got %s (%v)", code, got, err)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &ledgerTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	// Given
	ctx.Step(`^a customer "([^"]*)" associated (\d+) years ago$`, tc.aCustomerAssociatedYearsAgo)
	ctx.Step(`^card "([^"]*)" belongs to "([^"]*)"$`, tc.cardBelongsTo)
	ctx.Step(`^a purchase of (\d+(?:\.\d+)?) on card "([^"]*)"$`, tc.aPurchaseOnCard)
	ctx.Step(`^the catalog:$`, tc.theCatalog)
	ctx.Step(`^"([^"]*)" adds (\d+) of "([^"]*)" to the cart$`, tc.addsToTheCart)

	// When
	ctx.Step(`^rewards are processed for "([^"]*)"$`, tc.rewardsAreProcessedFor)
	ctx.Step(`^rewards are processed for card "([^"]*)"$`, tc.rewardsAreProcessedForCard)
	ctx.Step(`^"([^"]*)" redeems with card "([^"]*)"$`, tc.redeemsWithCard)
	ctx.Step(`^"([^"]*)" tries to add (\d+) of "([^"]*)" to the cart$`, tc.triesToAddToTheCart)

	// Then
	ctx.Step(`^the last run processed (\d+) transactions$`, tc.theLastRunProcessed)
	ctx.Step(`^card "([^"]*)" has a balance of (\d+(?:\.\d+)?)$`, tc.cardHasBalance)
	ctx.Step(`^card "([^"]*)" has lifetime earnings of (\d+(?:\.\d+)?)$`, tc.cardHasLifetimeEarnings)
	ctx.Step(`^card "([^"]*)" has no ledger$`, tc.cardHasNoLedger)
	ctx.Step(`^"([^"]*)" has a total balance of (\d+(?:\.\d+)?)$`, tc.hasTotalBalance)
	ctx.Step(`^"([^"]*)" is a (REGULAR|PREMIUM) customer$`, tc.isATierCustomer)
	ctx.Step(`^the redemption succeeds$`, tc.theRedemptionSucceeds)
	ctx.Step(`^the redemption fails with "([^"]*)"$`, tc.theRedemptionFailsWith)
	ctx.Step(`^the cart operation fails with "([^"]*)"$`, tc.theCartOperationFailsWith)
	ctx.Step(`^"([^"]*)" has (\d+) redemptions? in history$`, tc.hasRedemptionsInHistory)
	ctx.Step(`^the cart of "([^"]*)" has (\d+) lines?$`, tc.theCartHasLines)
	ctx.Step(`^the cart of "([^"]*)" costs (\d+) points$`, tc.theCartCosts)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"testdata/features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
