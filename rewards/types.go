/*
Package rewards provides the reward ledger and redemption engine.

PURPOSE:
  Converts credit card purchase transactions into reward points, keeps a
  running points balance per card, and lets a customer spend those points
  on catalog items through a cart-and-redeem flow.

KEY CONCEPTS IN THIS FILE (types.go):
  - Points: decimal quantity with two fractional digits
  - Ledger: per-card reward account (balance, lifetime earned, version)
  - Transaction: purchase record with a one-way processed flag
  - CartItem / CatalogItem: staged redemption selections and their prices
  - RedemptionHistory: immutable record of a completed redemption

INVARIANTS:
  1. Ledger.PointsBalance >= 0 at all times
  2. Ledger.LifetimeEarned only increases, and only by accrual amounts
  3. Transaction.Processed flips false -> true exactly once
  4. RedemptionHistory and its items are never mutated after insert

DATA FLOW:
  Transactions -> AccrualEngine -> Ledger
  Catalog + Cart -> RedemptionEngine -> Ledger + RedemptionHistory

SEE ALSO:
  - store.go: persistence contracts
  - accrual.go: points accrual
  - cart.go: cart staging
  - redemption.go: atomic redemption
*/
package rewards

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// POINTS
// =============================================================================

// PointsScale is the number of fractional digits a points amount carries.
const PointsScale = 2

// Points is a reward points quantity. Arithmetic goes through decimal to
// keep accrual rounding exact.
type Points = decimal.Decimal

// PointsFromInt converts an integer catalog cost into Points.
func PointsFromInt(n int64) Points { return decimal.NewFromInt(n) }

// ParsePoints parses a stored points value. Invalid input yields zero.
func ParsePoints(s string) Points {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// FormatPoints renders points with exactly two fractional digits.
func FormatPoints(p Points) string { return p.StringFixed(PointsScale) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CustomerID string
type CardID string
type TransactionID string
type ItemID string
type CategoryID string
type CartItemID string
type RedemptionID string

// =============================================================================
// CUSTOMER / CARD - owned by external collaborators, read by the engine
// =============================================================================

// Tier is the customer classification driving the accrual rate.
type Tier string

const (
	TierRegular Tier = "REGULAR"
	TierPremium Tier = "PREMIUM"
)

// Customer is the root of ownership. Tier is never stored; see TierFor.
type Customer struct {
	ID              CustomerID
	Name            string
	Email           string
	AssociationDate time.Time
	Deleted         bool
	CreatedAt       time.Time
}

// CreditCard belongs to exactly one customer.
type CreditCard struct {
	ID         CardID
	CustomerID CustomerID
	Number     string
	HolderName string
	CreatedAt  time.Time
}

// =============================================================================
// TRANSACTION - purchase record consumed by accrual
// =============================================================================

type Transaction struct {
	ID       TransactionID
	CardID   CardID
	Amount   decimal.Decimal
	Merchant string
	Date     time.Time

	// Processed transitions false -> true once. RewardPoints is the amount
	// credited at that moment and is never recomputed.
	Processed    bool
	RewardPoints *Points

	CreatedAt time.Time
}

// =============================================================================
// LEDGER - per-card reward account
// =============================================================================

// Ledger is the reward account of one credit card. Version is bumped on every
// write and is the compare-and-swap token for concurrent updates.
type Ledger struct {
	CardID         CardID
	CustomerID     CustomerID
	PointsBalance  Points
	LifetimeEarned Points
	LastUpdated    time.Time
	Version        int64
}

// Credit returns a copy of the ledger with points added to both the balance
// and the lifetime counter.
func (l Ledger) Credit(points Points, at time.Time) Ledger {
	l.PointsBalance = l.PointsBalance.Add(points)
	l.LifetimeEarned = l.LifetimeEarned.Add(points)
	l.LastUpdated = at
	return l
}

// Debit returns a copy of the ledger with points removed from the balance.
// Callers check sufficiency first; lifetime earned is untouched.
func (l Ledger) Debit(points Points, at time.Time) Ledger {
	l.PointsBalance = l.PointsBalance.Sub(points)
	l.LastUpdated = at
	return l
}

// =============================================================================
// CATALOG
// =============================================================================

type Category struct {
	ID           CategoryID
	Name         string
	DisplayOrder int
}

// CatalogItem is a redeemable reward. PointsCost is a whole number of points.
type CatalogItem struct {
	ID          ItemID
	CategoryID  CategoryID
	Name        string
	Description string
	PointsCost  int64
	Available   bool
}

// =============================================================================
// CART
// =============================================================================

// CartItem is a staged selection. Quantity is always >= 1 once persisted.
type CartItem struct {
	ID         CartItemID
	CustomerID CustomerID
	ItemID     ItemID
	Quantity   int
	CreatedAt  time.Time
}

// CartLine is a cart item priced at the current catalog cost.
type CartLine struct {
	CartItemID CartItemID
	ItemID     ItemID
	Name       string
	Quantity   int
	PointsCost int64
	LineTotal  int64
	Available  bool
}

// CartSnapshot is the priced view of a customer's cart.
type CartSnapshot struct {
	CustomerID      CustomerID
	Items           []CartLine
	TotalPointsCost int64
}

// =============================================================================
// REDEMPTION HISTORY - append-only
// =============================================================================

type RedemptionStatus string

const RedemptionCompleted RedemptionStatus = "COMPLETED"

// RedemptionItem snapshots one cart line at redemption time. Later catalog
// price changes never reach it.
type RedemptionItem struct {
	ItemID    ItemID
	Name      string
	Quantity  int
	UnitCost  int64
	LineTotal int64
}

type RedemptionHistory struct {
	ID              RedemptionID
	CustomerID      CustomerID
	CardID          CardID
	TotalPointsUsed Points
	RedeemedAt      time.Time
	Status          RedemptionStatus
	Items           []RedemptionItem
}

// =============================================================================
// BALANCE SUMMARY
// =============================================================================

// CardBalance is the balance of one card as shown to the customer.
type CardBalance struct {
	CardID         CardID
	MaskedNumber   string
	PointsBalance  Points
	LifetimeEarned Points
	LastUpdated    time.Time
}

// BalanceSummary aggregates every card of a customer.
type BalanceSummary struct {
	CustomerID     CustomerID
	CustomerName   string
	Tier           Tier
	TotalPoints    Points
	LifetimeEarned Points
	Cards          []CardBalance
}
