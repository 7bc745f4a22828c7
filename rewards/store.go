/*
store.go - Persistence contracts for the reward engine

PURPOSE:
  Defines the boundary between engine logic and storage. The engine never
  fetches related records implicitly: every reference (card -> customer,
  transaction -> card) is an identifier plus an explicit lookup.

KEY INTERFACES:
  Directory: read-only customer and card lookups (external collaborator)
  Catalog:   read-only reward item lookups (external collaborator)
  Reader:    every read the engine performs
  Tx:        Reader + the writes of one unit of work
  Store:     Reader + WithTx

UNIT OF WORK:
  WithTx runs fn inside a storage transaction. If fn returns an error
  nothing it wrote is visible afterwards. Stores serialize writers, so a
  cart mutation and a redemption for the same customer never interleave.

CONDITIONAL WRITES:
  UpdateLedger and MarkProcessed are compare-and-swap writes. They return
  ErrConcurrentModification instead of overwriting a concurrent change; the
  engine retries the whole unit a bounded number of times (see retry.go).

IMPLEMENTATIONS:
  - rewards/store/memory.go: in-memory, snapshot + rollback
  - store/sqlite/sqlite.go:  SQLite via database/sql
*/
package rewards

import "context"

// =============================================================================
// COLLABORATOR LOOKUPS
// =============================================================================

// Directory exposes the customer and credit card records the engine reads.
type Directory interface {
	// GetActiveCustomer returns a *NotFoundError if the customer is absent
	// or soft-deleted.
	GetActiveCustomer(ctx context.Context, id CustomerID) (Customer, error)

	// GetCard returns a *NotFoundError if the card is absent.
	GetCard(ctx context.Context, id CardID) (CreditCard, error)

	// CardsForCustomer returns the customer's cards ordered by creation.
	CardsForCustomer(ctx context.Context, customerID CustomerID) ([]CreditCard, error)
}

// Catalog exposes reward items. The engine never writes to it.
type Catalog interface {
	// GetItem returns a *NotFoundError if the item is absent.
	GetItem(ctx context.Context, id ItemID) (CatalogItem, error)

	// IsAvailable reports whether the item exists and can be redeemed.
	IsAvailable(ctx context.Context, id ItemID) (bool, error)
}

// =============================================================================
// READER
// =============================================================================

type Reader interface {
	Directory
	Catalog

	// GetLedger returns a *NotFoundError (EntityLedger) if the card has never
	// accrued points.
	GetLedger(ctx context.Context, cardID CardID) (Ledger, error)

	// LedgersByCustomer returns every ledger owned by the customer's cards.
	LedgersByCustomer(ctx context.Context, customerID CustomerID) ([]Ledger, error)

	// TransactionsByCard returns all transactions of a card, newest first.
	TransactionsByCard(ctx context.Context, cardID CardID) ([]Transaction, error)

	// CartItems returns the staged items of a customer in insertion order.
	CartItems(ctx context.Context, customerID CustomerID) ([]CartItem, error)

	// GetCartItem returns a *NotFoundError if the cart item is absent.
	GetCartItem(ctx context.Context, id CartItemID) (CartItem, error)

	// Redemptions returns the customer's redemption history, newest first.
	Redemptions(ctx context.Context, customerID CustomerID) ([]RedemptionHistory, error)
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

// Tx is the view of the store inside WithTx.
type Tx interface {
	Reader

	// UnprocessedByCustomer returns processed=false transactions across all
	// cards of the customer, ordered by card then date.
	UnprocessedByCustomer(ctx context.Context, customerID CustomerID) ([]Transaction, error)

	// UnprocessedByCard returns processed=false transactions of one card.
	UnprocessedByCard(ctx context.Context, cardID CardID) ([]Transaction, error)

	// MarkProcessed flips processed to true and records the reward. Returns
	// ErrConcurrentModification if the transaction was already processed.
	MarkProcessed(ctx context.Context, id TransactionID, reward Points) error

	// CreateLedger inserts a new ledger with Version 1. Returns
	// ErrConcurrentModification if the card already has one.
	CreateLedger(ctx context.Context, l Ledger) error

	// UpdateLedger writes l if the stored version still equals l.Version and
	// bumps the version. Returns ErrConcurrentModification otherwise.
	UpdateLedger(ctx context.Context, l Ledger) error

	InsertCartItem(ctx context.Context, item CartItem) error
	UpdateCartQuantity(ctx context.Context, id CartItemID, quantity int) error

	// DeleteCartItem reports whether a row was removed.
	DeleteCartItem(ctx context.Context, id CartItemID) (bool, error)

	// ClearCart removes every staged item of the customer.
	ClearCart(ctx context.Context, customerID CustomerID) (int, error)

	// InsertRedemption appends an immutable history record with its items.
	InsertRedemption(ctx context.Context, r RedemptionHistory) error
}

// Store is the persistence the engine is constructed with.
type Store interface {
	Reader

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Tx) error) error
}
