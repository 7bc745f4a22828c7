/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

POINTS ON THE WIRE:
  Ledger values are decimals and are rendered as strings with exactly two
  fractional digits ("50.00"). Catalog costs are whole numbers.

VALIDATION:
  Request types carry go-playground/validator tags; handlers run them
  through Handler.decode before touching the engine.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/reward-ledger/rewards"
)

// =============================================================================
// REQUESTS
// =============================================================================

type AddToCartRequest struct {
	CustomerID string `json:"customer_id" validate:"required"`
	ItemID     string `json:"item_id" validate:"required"`
	Quantity   int    `json:"quantity" validate:"lte=10000"`
}

// UpdateCartItemRequest sets a new quantity. Zero or less removes the line.
type UpdateCartItemRequest struct {
	Quantity *int `json:"quantity" validate:"required,lte=10000"`
}

type RedeemRequest struct {
	CreditCardID string `json:"credit_card_id" validate:"required"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// CART
// =============================================================================

type CartItemDTO struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	ItemID     string `json:"item_id"`
	Quantity   int    `json:"quantity"`
	CreatedAt  string `json:"created_at"`
}

type CartLineDTO struct {
	CartItemID string `json:"cart_item_id"`
	ItemID     string `json:"item_id"`
	ItemName   string `json:"item_name"`
	Quantity   int    `json:"quantity"`
	PointsCost int64  `json:"points_cost"`
	LineTotal  int64  `json:"line_total"`
	Available  bool   `json:"available"`
}

type CartDTO struct {
	CustomerID      string        `json:"customer_id"`
	Items           []CartLineDTO `json:"items"`
	TotalPointsCost int64         `json:"total_points_cost"`
}

// =============================================================================
// REDEMPTION
// =============================================================================

type RedemptionItemDTO struct {
	ItemID    string `json:"item_id"`
	ItemName  string `json:"item_name"`
	Quantity  int    `json:"quantity"`
	UnitCost  int64  `json:"unit_cost"`
	LineTotal int64  `json:"line_total"`
}

type RedemptionDTO struct {
	RedemptionID    string              `json:"redemption_id"`
	CustomerID      string              `json:"customer_id"`
	CardID          string              `json:"card_id"`
	TotalPointsUsed string              `json:"total_points_used"`
	RedeemedAt      string              `json:"redeemed_at"`
	Status          string              `json:"status"`
	Items           []RedemptionItemDTO `json:"items"`
}

// =============================================================================
// BALANCE / ACCRUAL
// =============================================================================

type CardBalanceDTO struct {
	CardID         string `json:"card_id"`
	CardNumber     string `json:"card_number"`
	PointsBalance  string `json:"points_balance"`
	LifetimeEarned string `json:"lifetime_earned"`
	LastUpdated    string `json:"last_updated,omitempty"`
}

type BalanceSummaryDTO struct {
	CustomerID     string           `json:"customer_id"`
	CustomerName   string           `json:"customer_name"`
	Tier           string           `json:"tier"`
	TotalPoints    string           `json:"total_points"`
	LifetimeEarned string           `json:"lifetime_earned"`
	Cards          []CardBalanceDTO `json:"cards"`
}

type AccrualDTO struct {
	TransactionsProcessed int               `json:"transactions_processed"`
	PointsAwarded         string            `json:"points_awarded"`
	Balance               BalanceSummaryDTO `json:"balance"`
}

// =============================================================================
// TRANSACTIONS / CATALOG
// =============================================================================

type TransactionDTO struct {
	ID              string  `json:"id"`
	CardID          string  `json:"card_id"`
	Amount          string  `json:"amount"`
	Merchant        string  `json:"merchant"`
	TransactionDate string  `json:"transaction_date"`
	Processed       bool    `json:"processed"`
	RewardPoints    *string `json:"reward_points"`
}

type CategoryDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	DisplayOrder int    `json:"display_order"`
}

type CatalogItemDTO struct {
	ID          string `json:"id"`
	CategoryID  string `json:"category_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	PointsCost  int64  `json:"points_cost"`
	Available   bool   `json:"available"`
}

// =============================================================================
// SCENARIOS / ERRORS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toCartItemDTO(ci rewards.CartItem) CartItemDTO {
	return CartItemDTO{
		ID:         string(ci.ID),
		CustomerID: string(ci.CustomerID),
		ItemID:     string(ci.ItemID),
		Quantity:   ci.Quantity,
		CreatedAt:  formatTimestamp(ci.CreatedAt),
	}
}

func toCartDTO(s rewards.CartSnapshot) CartDTO {
	dto := CartDTO{
		CustomerID:      string(s.CustomerID),
		Items:           make([]CartLineDTO, len(s.Items)),
		TotalPointsCost: s.TotalPointsCost,
	}
	for i, l := range s.Items {
		dto.Items[i] = CartLineDTO{
			CartItemID: string(l.CartItemID),
			ItemID:     string(l.ItemID),
			ItemName:   l.Name,
			Quantity:   l.Quantity,
			PointsCost: l.PointsCost,
			LineTotal:  l.LineTotal,
			Available:  l.Available,
		}
	}
	return dto
}

func toRedemptionDTO(r rewards.RedemptionHistory) RedemptionDTO {
	dto := RedemptionDTO{
		RedemptionID:    string(r.ID),
		CustomerID:      string(r.CustomerID),
		CardID:          string(r.CardID),
		TotalPointsUsed: rewards.FormatPoints(r.TotalPointsUsed),
		RedeemedAt:      formatTimestamp(r.RedeemedAt),
		Status:          string(r.Status),
		Items:           make([]RedemptionItemDTO, len(r.Items)),
	}
	for i, item := range r.Items {
		dto.Items[i] = RedemptionItemDTO{
			ItemID:    string(item.ItemID),
			ItemName:  item.Name,
			Quantity:  item.Quantity,
			UnitCost:  item.UnitCost,
			LineTotal: item.LineTotal,
		}
	}
	return dto
}

func toBalanceDTO(b rewards.BalanceSummary) BalanceSummaryDTO {
	dto := BalanceSummaryDTO{
		CustomerID:     string(b.CustomerID),
		CustomerName:   b.CustomerName,
		Tier:           string(b.Tier),
		TotalPoints:    rewards.FormatPoints(b.TotalPoints),
		LifetimeEarned: rewards.FormatPoints(b.LifetimeEarned),
		Cards:          make([]CardBalanceDTO, len(b.Cards)),
	}
	for i, c := range b.Cards {
		dto.Cards[i] = CardBalanceDTO{
			CardID:         string(c.CardID),
			CardNumber:     c.MaskedNumber,
			PointsBalance:  rewards.FormatPoints(c.PointsBalance),
			LifetimeEarned: rewards.FormatPoints(c.LifetimeEarned),
			LastUpdated:    formatTimestamp(c.LastUpdated),
		}
	}
	return dto
}

func toTransactionDTO(t rewards.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:              string(t.ID),
		CardID:          string(t.CardID),
		Amount:          t.Amount.StringFixed(2),
		Merchant:        t.Merchant,
		TransactionDate: formatTimestamp(t.Date),
		Processed:       t.Processed,
	}
	if t.RewardPoints != nil {
		s := rewards.FormatPoints(*t.RewardPoints)
		dto.RewardPoints = &s
	}
	return dto
}
