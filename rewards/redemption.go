/*
redemption.go - Atomic conversion of a cart into a debit and a history record

PURPOSE:
  Redeem spends points from one of the customer's cards on everything
  currently staged in their cart.

ONE UNIT OF WORK:
  1. Validate: active customer, non-empty cart, card exists, card has a
     ledger, card belongs to the customer
  2. Price every line at the current catalog cost; every item must exist
     and be available
  3. Check balance >= total
  4. Debit the ledger (compare-and-swap on version)
  5. Insert the history record with per-item price snapshots
  6. Clear the cart

  Any failure leaves balance, history and cart exactly as they were.

CONCURRENCY:
  Two redemptions against the same ledger can both read the same balance.
  Only one debit wins the version check; the other rolls back and retries
  the whole unit against the fresh balance, where the sufficiency check
  (or the now-empty cart) rejects it. The balance therefore never goes
  negative.

SEE ALSO:
  - cart.go: staging and priceCart
  - retry.go: retryOnConflict
*/
package rewards

import (
	"context"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// RedemptionEngine redeems carts against card ledgers.
type RedemptionEngine struct {
	store Store
	cfg   Config
	settings
}

func NewRedemptionEngine(store Store, cfg Config, opts ...Option) *RedemptionEngine {
	return &RedemptionEngine{store: store, cfg: cfg, settings: newSettings(opts)}
}

// Redeem debits the card's ledger by the cart total, records the history and
// empties the cart. It returns the stored history record.
func (e *RedemptionEngine) Redeem(ctx context.Context, customerID CustomerID, cardID CardID) (RedemptionHistory, error) {
	var record RedemptionHistory
	var newBalance Points

	err := retryOnConflict(ctx, e.logger, "redeem", e.cfg.MaxConflictRetries, func() error {
		return e.store.WithTx(ctx, func(tx Tx) error {
			var err error
			record, newBalance, err = e.redeem(ctx, tx, customerID, cardID)
			return err
		})
	})
	if err != nil {
		e.logger.Info("redemption rejected",
			zap.String("customer_id", string(customerID)),
			zap.String("card_id", string(cardID)),
			zap.String("code", CodeOf(err)),
			zap.Error(err))
		return RedemptionHistory{}, err
	}

	e.logger.Info("redeemed rewards",
		zap.String("redemption_id", string(record.ID)),
		zap.String("customer_id", string(customerID)),
		zap.String("card_id", string(cardID)),
		zap.String("points", FormatPoints(record.TotalPointsUsed)),
		zap.String("new_balance", FormatPoints(newBalance)))
	return record, nil
}

func (e *RedemptionEngine) redeem(ctx context.Context, tx Tx, customerID CustomerID, cardID CardID) (RedemptionHistory, Points, error) {
	customer, err := tx.GetActiveCustomer(ctx, customerID)
	if err != nil {
		return RedemptionHistory{}, Points{}, err
	}

	staged, err := tx.CartItems(ctx, customer.ID)
	if err != nil {
		return RedemptionHistory{}, Points{}, err
	}
	if len(staged) == 0 {
		return RedemptionHistory{}, Points{}, NewRuleViolation(CodeEmptyCart, "cart is empty")
	}

	card, err := tx.GetCard(ctx, cardID)
	if err != nil {
		return RedemptionHistory{}, Points{}, err
	}
	ledger, err := tx.GetLedger(ctx, card.ID)
	if err != nil {
		return RedemptionHistory{}, Points{}, err
	}
	if card.CustomerID != customer.ID {
		return RedemptionHistory{}, Points{}, NewRuleViolation(CodeCardNotOwned,
			"credit card %s does not belong to customer %s", card.ID, customer.ID)
	}

	cart, err := priceCart(ctx, tx, customer.ID, staged)
	if err != nil {
		return RedemptionHistory{}, Points{}, err
	}
	items := make([]RedemptionItem, 0, len(cart.Items))
	for _, line := range cart.Items {
		if !line.Available {
			return RedemptionHistory{}, Points{}, NewRuleViolation(CodeItemUnavailable,
				"reward item %s is not available", line.Name)
		}
		items = append(items, RedemptionItem{
			ItemID:    line.ItemID,
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitCost:  line.PointsCost,
			LineTotal: line.LineTotal,
		})
	}

	total := PointsFromInt(cart.TotalPointsCost)
	if ledger.PointsBalance.LessThan(total) {
		return RedemptionHistory{}, Points{}, &InsufficientBalanceError{
			CardID:    card.ID,
			Available: ledger.PointsBalance,
			Required:  total,
		}
	}

	now := e.now()
	debited := ledger.Debit(total, now)
	if err := tx.UpdateLedger(ctx, debited); err != nil {
		return RedemptionHistory{}, Points{}, err
	}

	record := RedemptionHistory{
		ID:              RedemptionID(ulid.Make().String()),
		CustomerID:      customer.ID,
		CardID:          card.ID,
		TotalPointsUsed: total,
		RedeemedAt:      now,
		Status:          RedemptionCompleted,
		Items:           items,
	}
	if err := tx.InsertRedemption(ctx, record); err != nil {
		return RedemptionHistory{}, Points{}, err
	}
	if _, err := tx.ClearCart(ctx, customer.ID); err != nil {
		return RedemptionHistory{}, Points{}, err
	}
	return record, debited.PointsBalance, nil
}
