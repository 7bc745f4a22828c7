package rewards

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Balances answers read-only balance and history queries.
type Balances struct {
	store Store
	cfg   Config
	settings
}

func NewBalances(store Store, cfg Config, opts ...Option) *Balances {
	return &Balances{store: store, cfg: cfg, settings: newSettings(opts)}
}

// Summary returns per-card and aggregate balances of an active customer.
// Cards that never accrued show a zero balance.
func (b *Balances) Summary(ctx context.Context, customerID CustomerID) (BalanceSummary, error) {
	customer, err := b.store.GetActiveCustomer(ctx, customerID)
	if err != nil {
		return BalanceSummary{}, err
	}
	return summarize(ctx, b.store, customer, b.cfg, b.now())
}

// History returns the customer's redemptions, newest first.
func (b *Balances) History(ctx context.Context, customerID CustomerID) ([]RedemptionHistory, error) {
	return b.store.Redemptions(ctx, customerID)
}

func summarize(ctx context.Context, r Reader, customer Customer, cfg Config, now time.Time) (BalanceSummary, error) {
	cards, err := r.CardsForCustomer(ctx, customer.ID)
	if err != nil {
		return BalanceSummary{}, fmt.Errorf("loading cards: %w", err)
	}
	ledgers, err := r.LedgersByCustomer(ctx, customer.ID)
	if err != nil {
		return BalanceSummary{}, fmt.Errorf("loading ledgers: %w", err)
	}
	byCard := make(map[CardID]Ledger, len(ledgers))
	for _, l := range ledgers {
		byCard[l.CardID] = l
	}

	summary := BalanceSummary{
		CustomerID:     customer.ID,
		CustomerName:   customer.Name,
		Tier:           TierFor(customer.AssociationDate, now, cfg.PremiumAssociationYears),
		TotalPoints:    decimal.Zero,
		LifetimeEarned: decimal.Zero,
		Cards:          make([]CardBalance, 0, len(cards)),
	}
	for _, card := range cards {
		cb := CardBalance{
			CardID:         card.ID,
			MaskedNumber:   MaskCardNumber(card.Number),
			PointsBalance:  decimal.Zero,
			LifetimeEarned: decimal.Zero,
		}
		if l, ok := byCard[card.ID]; ok {
			cb.PointsBalance = l.PointsBalance
			cb.LifetimeEarned = l.LifetimeEarned
			cb.LastUpdated = l.LastUpdated
			summary.TotalPoints = summary.TotalPoints.Add(l.PointsBalance)
			summary.LifetimeEarned = summary.LifetimeEarned.Add(l.LifetimeEarned)
		}
		summary.Cards = append(summary.Cards, cb)
	}
	return summary, nil
}

// MaskCardNumber keeps the last four digits: "**** **** **** 1234".
func MaskCardNumber(number string) string {
	if len(number) < 4 {
		return "****"
	}
	return "**** **** **** " + number[len(number)-4:]
}
