package rewards

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MaxCartQuantity caps the units staged on a single cart line.
const MaxCartQuantity = 10000

// Cart stages redemption selections. It never looks at balances; that only
// happens at redemption.
type Cart struct {
	store Store
	settings
}

func NewCart(store Store, opts ...Option) *Cart {
	return &Cart{store: store, settings: newSettings(opts)}
}

// Add stages quantity units of an item for the customer. Adding an item that
// is already staged increases the existing line.
func (c *Cart) Add(ctx context.Context, customerID CustomerID, itemID ItemID, quantity int) (CartItem, error) {
	if quantity < 1 {
		return CartItem{}, NewRuleViolation(CodeInvalidQuantity, "quantity must be at least 1, got %d", quantity)
	}
	if quantity > MaxCartQuantity {
		return CartItem{}, NewRuleViolation(CodeInvalidQuantity, "quantity must be at most %d, got %d", MaxCartQuantity, quantity)
	}

	var staged CartItem
	err := c.store.WithTx(ctx, func(tx Tx) error {
		customer, err := tx.GetActiveCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		item, err := tx.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		if !item.Available {
			return NewRuleViolation(CodeItemUnavailable, "reward item %s is not available", item.Name)
		}

		existing, err := tx.CartItems(ctx, customer.ID)
		if err != nil {
			return err
		}
		for _, ci := range existing {
			if ci.ItemID == item.ID {
				if quantity > MaxCartQuantity-ci.Quantity {
					return NewRuleViolation(CodeInvalidQuantity,
						"cart would hold more than %d of %s", MaxCartQuantity, item.Name)
				}
				ci.Quantity += quantity
				if err := tx.UpdateCartQuantity(ctx, ci.ID, ci.Quantity); err != nil {
					return err
				}
				staged = ci
				return nil
			}
		}

		staged = CartItem{
			ID:         CartItemID(uuid.NewString()),
			CustomerID: customer.ID,
			ItemID:     item.ID,
			Quantity:   quantity,
			CreatedAt:  c.now(),
		}
		return tx.InsertCartItem(ctx, staged)
	})
	if err != nil {
		return CartItem{}, err
	}

	c.logger.Info("added to cart",
		zap.String("customer_id", string(customerID)),
		zap.String("item_id", string(itemID)),
		zap.Int("quantity", quantity))
	return staged, nil
}

// Remove deletes a cart item. Removing a missing item is not an error.
func (c *Cart) Remove(ctx context.Context, id CartItemID) error {
	var removed bool
	err := c.store.WithTx(ctx, func(tx Tx) error {
		var err error
		removed, err = tx.DeleteCartItem(ctx, id)
		return err
	})
	if err != nil {
		return err
	}
	if !removed {
		c.logger.Debug("cart item already gone", zap.String("cart_item_id", string(id)))
	}
	return nil
}

// SetQuantity changes the staged quantity. A quantity of zero or less
// removes the line. Increasing the quantity of an item that is no longer
// available is rejected; decreasing is always allowed.
func (c *Cart) SetQuantity(ctx context.Context, id CartItemID, quantity int) error {
	return c.store.WithTx(ctx, func(tx Tx) error {
		ci, err := tx.GetCartItem(ctx, id)
		if err != nil {
			return err
		}
		if quantity <= 0 {
			_, err := tx.DeleteCartItem(ctx, id)
			return err
		}
		if quantity > MaxCartQuantity {
			return NewRuleViolation(CodeInvalidQuantity, "quantity must be at most %d, got %d", MaxCartQuantity, quantity)
		}
		if quantity > ci.Quantity {
			available, err := tx.IsAvailable(ctx, ci.ItemID)
			if err != nil {
				return err
			}
			if !available {
				return NewRuleViolation(CodeItemUnavailable,
					"cannot increase quantity: reward item %s is no longer available", ci.ItemID)
			}
		}
		return tx.UpdateCartQuantity(ctx, id, quantity)
	})
}

// View prices the customer's cart at current catalog costs.
func (c *Cart) View(ctx context.Context, customerID CustomerID) (CartSnapshot, error) {
	var snapshot CartSnapshot
	err := c.store.WithTx(ctx, func(tx Tx) error {
		items, err := tx.CartItems(ctx, customerID)
		if err != nil {
			return err
		}
		snapshot, err = priceCart(ctx, tx, customerID, items)
		return err
	})
	return snapshot, err
}

// priceCart joins cart items with the catalog. Every referenced item must
// still exist.
func priceCart(ctx context.Context, r Reader, customerID CustomerID, items []CartItem) (CartSnapshot, error) {
	snapshot := CartSnapshot{CustomerID: customerID, Items: make([]CartLine, 0, len(items))}
	for _, ci := range items {
		item, err := r.GetItem(ctx, ci.ItemID)
		if err != nil {
			return CartSnapshot{}, fmt.Errorf("pricing cart item %s: %w", ci.ID, err)
		}
		total, ok := lineTotal(item.PointsCost, ci.Quantity)
		if !ok || total > math.MaxInt64-snapshot.TotalPointsCost {
			return CartSnapshot{}, NewRuleViolation(CodeInvalidQuantity,
				"cart item %s: %d x %d points is out of range", ci.ID, ci.Quantity, item.PointsCost)
		}
		line := CartLine{
			CartItemID: ci.ID,
			ItemID:     item.ID,
			Name:       item.Name,
			Quantity:   ci.Quantity,
			PointsCost: item.PointsCost,
			LineTotal:  total,
			Available:  item.Available,
		}
		snapshot.Items = append(snapshot.Items, line)
		snapshot.TotalPointsCost += total
	}
	return snapshot, nil
}

// lineTotal multiplies cost by quantity, reporting false on negative inputs
// or int64 overflow.
func lineTotal(cost int64, quantity int) (int64, bool) {
	if cost < 0 || quantity < 0 {
		return 0, false
	}
	if cost != 0 && int64(quantity) > math.MaxInt64/cost {
		return 0, false
	}
	return cost * int64(quantity), true
}
