/*
accrual.go - Converts purchase transactions into reward points

PURPOSE:
  Reads the unprocessed transactions of a customer (all cards) or of a single
  card, credits points at the customer's tier rate to each card's ledger,
  and marks every consumed transaction processed with its individual reward.

RATE:
  The tier is derived at request time from the association date and the
  configured year threshold. The percentage comes from Config.

ROUNDING:
  reward = round(amount * rate / 100, 2), half away from zero, computed per
  transaction. The per-card credit is the sum of the rounded rewards.

    333.33 at 10% -> 33.33
    100.00 at  5% ->  5.00

EXACTLY ONCE:
  The unprocessed selection, the ledger credit and the processed flags are
  written in one unit of work. MarkProcessed only succeeds on rows that are
  still unprocessed and UpdateLedger only succeeds on an unchanged version,
  so two concurrent runs cannot both count a transaction: the loser rolls
  back, retries, and finds nothing left to do.

MULTI-CARD:
  Transactions are partitioned by card and the same per-card step runs for
  each partition inside the same unit of work.

SEE ALSO:
  - tier.go: TierFor, ComputeReward
  - store.go: Tx.MarkProcessed, Tx.UpdateLedger
*/
package rewards

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AccrualResult reports what a single accrual run did.
type AccrualResult struct {
	Processed     int
	PointsAwarded Points
	Balance       BalanceSummary
}

// AccrualEngine credits points for unprocessed transactions.
type AccrualEngine struct {
	store Store
	cfg   Config
	settings
}

func NewAccrualEngine(store Store, cfg Config, opts ...Option) *AccrualEngine {
	return &AccrualEngine{store: store, cfg: cfg, settings: newSettings(opts)}
}

// AccrueCustomer processes every unprocessed transaction on every card of
// the customer. With nothing to process it returns the current balance.
func (e *AccrualEngine) AccrueCustomer(ctx context.Context, customerID CustomerID) (AccrualResult, error) {
	var result AccrualResult
	err := retryOnConflict(ctx, e.logger, "accrue customer", e.cfg.MaxConflictRetries, func() error {
		return e.store.WithTx(ctx, func(tx Tx) error {
			customer, err := tx.GetActiveCustomer(ctx, customerID)
			if err != nil {
				return err
			}
			txs, err := tx.UnprocessedByCustomer(ctx, customer.ID)
			if err != nil {
				return err
			}
			result, err = e.accrue(ctx, tx, customer, txs)
			return err
		})
	})
	if err != nil {
		return AccrualResult{}, err
	}
	return result, nil
}

// AccrueCard processes the unprocessed transactions of one card. The
// returned balance covers all cards of the card's owner.
func (e *AccrualEngine) AccrueCard(ctx context.Context, cardID CardID) (AccrualResult, error) {
	var result AccrualResult
	err := retryOnConflict(ctx, e.logger, "accrue card", e.cfg.MaxConflictRetries, func() error {
		return e.store.WithTx(ctx, func(tx Tx) error {
			card, err := tx.GetCard(ctx, cardID)
			if err != nil {
				return err
			}
			customer, err := tx.GetActiveCustomer(ctx, card.CustomerID)
			if err != nil {
				return err
			}
			txs, err := tx.UnprocessedByCard(ctx, card.ID)
			if err != nil {
				return err
			}
			result, err = e.accrue(ctx, tx, customer, txs)
			return err
		})
	})
	if err != nil {
		return AccrualResult{}, err
	}
	return result, nil
}

func (e *AccrualEngine) accrue(ctx context.Context, tx Tx, customer Customer, txs []Transaction) (AccrualResult, error) {
	now := e.now()
	result := AccrualResult{PointsAwarded: decimal.Zero}

	if len(txs) == 0 {
		e.logger.Info("no unprocessed transactions", zap.String("customer_id", string(customer.ID)))
	} else {
		tier := TierFor(customer.AssociationDate, now, e.cfg.PremiumAssociationYears)
		rate := e.cfg.RateFor(tier)

		order, parts := partitionByCard(txs)
		for _, cardID := range order {
			credited, err := e.accrueCard(ctx, tx, customer.ID, cardID, parts[cardID], rate, now)
			if err != nil {
				return AccrualResult{}, err
			}
			result.PointsAwarded = result.PointsAwarded.Add(credited)
			result.Processed += len(parts[cardID])
		}

		e.logger.Info("processed rewards",
			zap.String("customer_id", string(customer.ID)),
			zap.String("tier", string(tier)),
			zap.Int("transactions", result.Processed),
			zap.String("points", FormatPoints(result.PointsAwarded)))
	}

	balance, err := summarize(ctx, tx, customer, e.cfg, now)
	if err != nil {
		return AccrualResult{}, err
	}
	result.Balance = balance
	return result, nil
}

// accrueCard credits one card's partition and marks its transactions.
func (e *AccrualEngine) accrueCard(ctx context.Context, tx Tx, customerID CustomerID, cardID CardID,
	txs []Transaction, rate decimal.Decimal, now time.Time) (Points, error) {

	total := decimal.Zero
	earned := make([]Points, len(txs))
	for i, t := range txs {
		earned[i] = ComputeReward(t.Amount, rate)
		total = total.Add(earned[i])
	}

	ledger, err := tx.GetLedger(ctx, cardID)
	switch {
	case IsNotFound(err):
		fresh := Ledger{
			CardID:         cardID,
			CustomerID:     customerID,
			PointsBalance:  decimal.Zero,
			LifetimeEarned: decimal.Zero,
		}
		if err := tx.CreateLedger(ctx, fresh.Credit(total, now)); err != nil {
			return decimal.Zero, err
		}
	case err != nil:
		return decimal.Zero, err
	default:
		if err := tx.UpdateLedger(ctx, ledger.Credit(total, now)); err != nil {
			return decimal.Zero, err
		}
	}

	for i, t := range txs {
		if err := tx.MarkProcessed(ctx, t.ID, earned[i]); err != nil {
			return decimal.Zero, err
		}
	}

	e.logger.Debug("credited card",
		zap.String("card_id", string(cardID)),
		zap.Int("transactions", len(txs)),
		zap.String("points", FormatPoints(total)))
	return total, nil
}

// partitionByCard groups transactions by card, keeping first-seen card order.
func partitionByCard(txs []Transaction) ([]CardID, map[CardID][]Transaction) {
	var order []CardID
	parts := make(map[CardID][]Transaction)
	for _, t := range txs {
		if _, seen := parts[t.CardID]; !seen {
			order = append(order, t.CardID)
		}
		parts[t.CardID] = append(parts[t.CardID], t)
	}
	return order, parts
}
