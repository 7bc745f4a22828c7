/*
Package sqlite provides a SQLite-backed implementation of rewards.Store.

PURPOSE:
  Persists customers, cards, purchase transactions, per-card reward ledgers,
  the reward catalog, carts and redemption history. In production the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  rewards.Store: every read the engine performs + WithTx
  rewards.Tx:    the unit-of-work view handed to WithTx callbacks

KEY TABLES:
  customers, credit_cards:    collaborator-owned, seeded via Save* methods
  card_transactions:          purchases; processed flips 0 -> 1 once
  reward_ledgers:             one row per card, versioned
  reward_categories,
  catalog_items:              the reward catalog
  cart_items:                 staged selections (insertion order = rowid)
  redemptions,
  redemption_items:           append-only history with price snapshots

CONDITIONAL WRITES:
  UPDATE reward_ledgers ... WHERE card_id = ? AND version = ?
  UPDATE card_transactions ... WHERE id = ? AND processed = 0
  Zero affected rows means another writer got there first and surfaces as
  rewards.ErrConcurrentModification.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so WithTx
  units are serialized and ":memory:" databases are shared by every call.
  In production with PostgreSQL, database-level concurrency control handles
  this instead.

TIMESTAMPS:
  Stored as fixed-width UTC strings (timeLayout) so that ORDER BY on the
  text column is chronological.

USAGE:
  store, err := sqlite.New("./data/rewards.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := rewards.NewRedemptionEngine(store, rewards.DefaultConfig())

SEE ALSO:
  - rewards/store.go: Interface definitions
  - rewards/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/reward-ledger/rewards"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements rewards.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
	q  queries
}

var (
	_ rewards.Store = (*Store)(nil)
	_ rewards.Tx    = queries{}
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, q: queries{db: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		association_date TEXT NOT NULL,
		deleted INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS credit_cards (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		card_number TEXT NOT NULL UNIQUE,
		holder_name TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_credit_cards_customer
		ON credit_cards(customer_id);

	CREATE TABLE IF NOT EXISTS card_transactions (
		id TEXT PRIMARY KEY,
		card_id TEXT NOT NULL REFERENCES credit_cards(id),
		amount TEXT NOT NULL,
		merchant TEXT NOT NULL,
		transaction_date TEXT NOT NULL,
		processed INTEGER NOT NULL DEFAULT 0,
		reward_points TEXT,
		created_at TEXT NOT NULL
	);

	-- Hot path for accrual
	CREATE INDEX IF NOT EXISTS idx_card_transactions_unprocessed
		ON card_transactions(card_id, processed, transaction_date);

	CREATE TABLE IF NOT EXISTS reward_ledgers (
		card_id TEXT PRIMARY KEY REFERENCES credit_cards(id),
		customer_id TEXT NOT NULL REFERENCES customers(id),
		points_balance TEXT NOT NULL,
		lifetime_earned TEXT NOT NULL,
		last_updated TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_reward_ledgers_customer
		ON reward_ledgers(customer_id);

	CREATE TABLE IF NOT EXISTS reward_categories (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		display_order INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS catalog_items (
		id TEXT PRIMARY KEY,
		category_id TEXT NOT NULL REFERENCES reward_categories(id),
		name TEXT NOT NULL,
		description TEXT,
		points_cost INTEGER NOT NULL CHECK (points_cost >= 0),
		available INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS cart_items (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		item_id TEXT NOT NULL REFERENCES catalog_items(id),
		quantity INTEGER NOT NULL CHECK (quantity >= 1),
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cart_items_customer
		ON cart_items(customer_id);

	CREATE TABLE IF NOT EXISTS redemptions (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		card_id TEXT NOT NULL REFERENCES credit_cards(id),
		total_points TEXT NOT NULL,
		redeemed_at TEXT NOT NULL,
		status TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_redemptions_customer_date
		ON redemptions(customer_id, redeemed_at DESC);

	CREATE TABLE IF NOT EXISTS redemption_items (
		redemption_id TEXT NOT NULL REFERENCES redemptions(id),
		line_no INTEGER NOT NULL,
		item_id TEXT NOT NULL,
		item_name TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		unit_cost INTEGER NOT NULL,
		line_total INTEGER NOT NULL,
		PRIMARY KEY (redemption_id, line_no)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(rewards.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(queries{db: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// READS (rewards.Reader)
// =============================================================================

func (s *Store) GetActiveCustomer(ctx context.Context, id rewards.CustomerID) (rewards.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetActiveCustomer(ctx, id)
}

func (s *Store) GetCard(ctx context.Context, id rewards.CardID) (rewards.CreditCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetCard(ctx, id)
}

func (s *Store) CardsForCustomer(ctx context.Context, id rewards.CustomerID) ([]rewards.CreditCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.CardsForCustomer(ctx, id)
}

func (s *Store) GetItem(ctx context.Context, id rewards.ItemID) (rewards.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetItem(ctx, id)
}

func (s *Store) IsAvailable(ctx context.Context, id rewards.ItemID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.IsAvailable(ctx, id)
}

func (s *Store) GetLedger(ctx context.Context, id rewards.CardID) (rewards.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetLedger(ctx, id)
}

func (s *Store) LedgersByCustomer(ctx context.Context, id rewards.CustomerID) ([]rewards.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.LedgersByCustomer(ctx, id)
}

func (s *Store) TransactionsByCard(ctx context.Context, id rewards.CardID) ([]rewards.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.TransactionsByCard(ctx, id)
}

func (s *Store) CartItems(ctx context.Context, id rewards.CustomerID) ([]rewards.CartItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.CartItems(ctx, id)
}

func (s *Store) GetCartItem(ctx context.Context, id rewards.CartItemID) (rewards.CartItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetCartItem(ctx, id)
}

func (s *Store) Redemptions(ctx context.Context, id rewards.CustomerID) ([]rewards.RedemptionHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.Redemptions(ctx, id)
}

// =============================================================================
// SEEDING AND LISTINGS - collaborator-owned data
// =============================================================================

// SaveCustomer saves a customer.
func (s *Store) SaveCustomer(ctx context.Context, c rewards.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO customers (id, name, email, association_date, deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			association_date = excluded.association_date,
			deleted = excluded.deleted
	`

	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.Name, nullString(c.Email),
		formatTime(c.AssociationDate), c.Deleted, formatTime(createdAt(c.CreatedAt)),
	)
	if err != nil {
		return fmt.Errorf("failed to save customer: %w", err)
	}
	return nil
}

// SaveCard saves a credit card. Card numbers are unique.
func (s *Store) SaveCard(ctx context.Context, c rewards.CreditCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM customers WHERE id = ?", c.CustomerID,
	).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return rewards.NewNotFound(rewards.EntityCustomer, c.CustomerID)
	}

	query := `
		INSERT INTO credit_cards (id, customer_id, card_number, holder_name, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			card_number = excluded.card_number,
			holder_name = excluded.holder_name
	`

	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.CustomerID, c.Number, nullString(c.HolderName), formatTime(createdAt(c.CreatedAt)),
	)
	if isConstraintError(err, sqlite3.ErrConstraintUnique) {
		return rewards.NewRuleViolation(rewards.CodeDuplicateCard, "credit card number already exists")
	}
	if err != nil {
		return fmt.Errorf("failed to save card: %w", err)
	}
	return nil
}

// SaveCategory saves a reward category.
func (s *Store) SaveCategory(ctx context.Context, c rewards.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO reward_categories (id, name, display_order)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			display_order = excluded.display_order
	`
	_, err := s.db.ExecContext(ctx, query, c.ID, c.Name, c.DisplayOrder)
	return err
}

// SaveItem saves a catalog item, e.g. to change its price or availability.
func (s *Store) SaveItem(ctx context.Context, item rewards.CatalogItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM reward_categories WHERE id = ?", item.CategoryID,
	).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return rewards.NewNotFound("reward category", item.CategoryID)
	}

	query := `
		INSERT INTO catalog_items (id, category_id, name, description, points_cost, available)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			category_id = excluded.category_id,
			name = excluded.name,
			description = excluded.description,
			points_cost = excluded.points_cost,
			available = excluded.available
	`
	_, err := s.db.ExecContext(ctx, query,
		item.ID, item.CategoryID, item.Name, nullString(item.Description), item.PointsCost, item.Available,
	)
	return err
}

// AddTransactions inserts purchase records atomically.
func (s *Store) AddTransactions(ctx context.Context, txs []rewards.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	query := `
		INSERT INTO card_transactions
		(id, card_id, amount, merchant, transaction_date, processed, reward_points, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, t := range txs {
		var reward sql.NullString
		if t.RewardPoints != nil {
			reward = sql.NullString{String: t.RewardPoints.String(), Valid: true}
		}
		_, err := sqlTx.ExecContext(ctx, query,
			t.ID, t.CardID, t.Amount.String(), t.Merchant, formatTime(t.Date),
			t.Processed, reward, formatTime(createdAt(t.CreatedAt)),
		)
		if isConstraintError(err, sqlite3.ErrConstraintForeignKey) {
			return rewards.NewNotFound(rewards.EntityCard, t.CardID)
		}
		if err != nil {
			return fmt.Errorf("failed to insert transaction: %w", err)
		}
	}

	return sqlTx.Commit()
}

// ActiveCustomers lists customers that are not soft-deleted.
func (s *Store) ActiveCustomers(ctx context.Context) ([]rewards.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, association_date, deleted, created_at
		FROM customers WHERE deleted = 0 ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []rewards.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// Categories lists reward categories by display order.
func (s *Store) Categories(ctx context.Context) ([]rewards.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, display_order FROM reward_categories ORDER BY display_order, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []rewards.Category
	for rows.Next() {
		var c rewards.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.DisplayOrder); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// Items lists available catalog items, optionally filtered by category.
func (s *Store) Items(ctx context.Context, category rewards.CategoryID) ([]rewards.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category_id, name, description, points_cost, available
		FROM catalog_items
		WHERE available = 1 AND (? = '' OR category_id = ?)
		ORDER BY rowid`, category, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []rewards.CatalogItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Children first so foreign keys hold at every step.
	tables := []string{
		"redemption_items", "redemptions", "cart_items", "reward_ledgers",
		"card_transactions", "catalog_items", "reward_categories", "credit_cards", "customers",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// QUERIES - shared by Store reads (*sql.DB) and WithTx views (*sql.Tx)
// =============================================================================

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db dbtx
}

type scanner interface {
	Scan(dest ...any) error
}

func (q queries) GetActiveCustomer(ctx context.Context, id rewards.CustomerID) (rewards.Customer, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, name, email, association_date, deleted, created_at
		FROM customers WHERE id = ? AND deleted = 0`, id)
	c, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rewards.Customer{}, rewards.NewNotFound(rewards.EntityCustomer, id)
	}
	return c, err
}

func (q queries) GetCard(ctx context.Context, id rewards.CardID) (rewards.CreditCard, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, customer_id, card_number, holder_name, created_at
		FROM credit_cards WHERE id = ?`, id)
	c, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rewards.CreditCard{}, rewards.NewNotFound(rewards.EntityCard, id)
	}
	return c, err
}

func (q queries) CardsForCustomer(ctx context.Context, id rewards.CustomerID) ([]rewards.CreditCard, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, customer_id, card_number, holder_name, created_at
		FROM credit_cards WHERE customer_id = ?
		ORDER BY created_at, rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()

	var cards []rewards.CreditCard
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

func (q queries) GetItem(ctx context.Context, id rewards.ItemID) (rewards.CatalogItem, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, category_id, name, description, points_cost, available
		FROM catalog_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rewards.CatalogItem{}, rewards.NewNotFound(rewards.EntityItem, id)
	}
	return item, err
}

func (q queries) IsAvailable(ctx context.Context, id rewards.ItemID) (bool, error) {
	var available bool
	err := q.db.QueryRowContext(ctx,
		"SELECT available FROM catalog_items WHERE id = ?", id,
	).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return available, err
}

const ledgerColumns = "card_id, customer_id, points_balance, lifetime_earned, last_updated, version"

func (q queries) GetLedger(ctx context.Context, id rewards.CardID) (rewards.Ledger, error) {
	row := q.db.QueryRowContext(ctx,
		"SELECT "+ledgerColumns+" FROM reward_ledgers WHERE card_id = ?", id)
	l, err := scanLedger(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rewards.Ledger{}, rewards.NewNotFound(rewards.EntityLedger, id)
	}
	return l, err
}

func (q queries) LedgersByCustomer(ctx context.Context, id rewards.CustomerID) ([]rewards.Ledger, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT l.card_id, l.customer_id, l.points_balance, l.lifetime_earned, l.last_updated, l.version
		FROM reward_ledgers l
		JOIN credit_cards c ON c.id = l.card_id
		WHERE c.customer_id = ?
		ORDER BY c.created_at, c.rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledgers: %w", err)
	}
	defer rows.Close()

	var ledgers []rewards.Ledger
	for rows.Next() {
		l, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		ledgers = append(ledgers, l)
	}
	return ledgers, rows.Err()
}

func (q queries) CreateLedger(ctx context.Context, l rewards.Ledger) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO reward_ledgers (`+ledgerColumns+`)
		VALUES (?, ?, ?, ?, ?, 1)`,
		l.CardID, l.CustomerID, l.PointsBalance.String(), l.LifetimeEarned.String(), formatTime(l.LastUpdated),
	)
	if isConstraintError(err, sqlite3.ErrConstraintPrimaryKey) || isConstraintError(err, sqlite3.ErrConstraintUnique) {
		return rewards.ErrConcurrentModification
	}
	if err != nil {
		return fmt.Errorf("failed to create ledger: %w", err)
	}
	return nil
}

func (q queries) UpdateLedger(ctx context.Context, l rewards.Ledger) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE reward_ledgers
		SET points_balance = ?, lifetime_earned = ?, last_updated = ?, version = version + 1
		WHERE card_id = ? AND version = ?`,
		l.PointsBalance.String(), l.LifetimeEarned.String(), formatTime(l.LastUpdated), l.CardID, l.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update ledger: %w", err)
	}
	return requireOneRow(res)
}

const transactionColumns = "id, card_id, amount, merchant, transaction_date, processed, reward_points, created_at"

func (q queries) TransactionsByCard(ctx context.Context, id rewards.CardID) ([]rewards.Transaction, error) {
	return q.queryTransactions(ctx, `
		SELECT `+transactionColumns+` FROM card_transactions
		WHERE card_id = ?
		ORDER BY transaction_date DESC, rowid DESC`, id)
}

func (q queries) UnprocessedByCustomer(ctx context.Context, id rewards.CustomerID) ([]rewards.Transaction, error) {
	return q.queryTransactions(ctx, `
		SELECT t.id, t.card_id, t.amount, t.merchant, t.transaction_date, t.processed, t.reward_points, t.created_at
		FROM card_transactions t
		JOIN credit_cards c ON c.id = t.card_id
		WHERE c.customer_id = ? AND t.processed = 0
		ORDER BY c.created_at, c.rowid, t.transaction_date, t.rowid`, id)
}

func (q queries) UnprocessedByCard(ctx context.Context, id rewards.CardID) ([]rewards.Transaction, error) {
	return q.queryTransactions(ctx, `
		SELECT `+transactionColumns+` FROM card_transactions
		WHERE card_id = ? AND processed = 0
		ORDER BY transaction_date, rowid`, id)
}

func (q queries) queryTransactions(ctx context.Context, query string, args ...any) ([]rewards.Transaction, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []rewards.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (q queries) MarkProcessed(ctx context.Context, id rewards.TransactionID, reward rewards.Points) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE card_transactions SET processed = 1, reward_points = ?
		WHERE id = ? AND processed = 0`, reward.String(), id)
	if err != nil {
		return fmt.Errorf("failed to mark transaction processed: %w", err)
	}
	if err := requireOneRow(res); err != nil {
		var exists int
		if scanErr := q.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM card_transactions WHERE id = ?", id,
		).Scan(&exists); scanErr == nil && exists == 0 {
			return rewards.NewNotFound(rewards.EntityTransaction, id)
		}
		return err
	}
	return nil
}

const cartColumns = "id, customer_id, item_id, quantity, created_at"

func (q queries) CartItems(ctx context.Context, id rewards.CustomerID) ([]rewards.CartItem, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+cartColumns+" FROM cart_items WHERE customer_id = ? ORDER BY rowid", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query cart: %w", err)
	}
	defer rows.Close()

	var items []rewards.CartItem
	for rows.Next() {
		ci, err := scanCartItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, ci)
	}
	return items, rows.Err()
}

func (q queries) GetCartItem(ctx context.Context, id rewards.CartItemID) (rewards.CartItem, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+cartColumns+" FROM cart_items WHERE id = ?", id)
	ci, err := scanCartItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rewards.CartItem{}, rewards.NewNotFound(rewards.EntityCartItem, id)
	}
	return ci, err
}

func (q queries) InsertCartItem(ctx context.Context, item rewards.CartItem) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO cart_items ("+cartColumns+") VALUES (?, ?, ?, ?, ?)",
		item.ID, item.CustomerID, item.ItemID, item.Quantity, formatTime(createdAt(item.CreatedAt)),
	)
	if err != nil {
		return fmt.Errorf("failed to insert cart item: %w", err)
	}
	return nil
}

func (q queries) UpdateCartQuantity(ctx context.Context, id rewards.CartItemID, quantity int) error {
	res, err := q.db.ExecContext(ctx, "UPDATE cart_items SET quantity = ? WHERE id = ?", quantity, id)
	if err != nil {
		return fmt.Errorf("failed to update cart item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rewards.NewNotFound(rewards.EntityCartItem, id)
	}
	return nil
}

func (q queries) DeleteCartItem(ctx context.Context, id rewards.CartItemID) (bool, error) {
	res, err := q.db.ExecContext(ctx, "DELETE FROM cart_items WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete cart item: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (q queries) ClearCart(ctx context.Context, id rewards.CustomerID) (int, error) {
	res, err := q.db.ExecContext(ctx, "DELETE FROM cart_items WHERE customer_id = ?", id)
	if err != nil {
		return 0, fmt.Errorf("failed to clear cart: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (q queries) InsertRedemption(ctx context.Context, r rewards.RedemptionHistory) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO redemptions (id, customer_id, card_id, total_points, redeemed_at, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.CustomerID, r.CardID, r.TotalPointsUsed.String(), formatTime(r.RedeemedAt), r.Status,
	)
	if isConstraintError(err, sqlite3.ErrConstraintPrimaryKey) || isConstraintError(err, sqlite3.ErrConstraintUnique) {
		return rewards.ErrConcurrentModification
	}
	if err != nil {
		return fmt.Errorf("failed to insert redemption: %w", err)
	}

	for i, item := range r.Items {
		_, err := q.db.ExecContext(ctx, `
			INSERT INTO redemption_items
			(redemption_id, line_no, item_id, item_name, quantity, unit_cost, line_total)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, i+1, item.ItemID, item.Name, item.Quantity, item.UnitCost, item.LineTotal,
		)
		if err != nil {
			return fmt.Errorf("failed to insert redemption item: %w", err)
		}
	}
	return nil
}

func (q queries) Redemptions(ctx context.Context, id rewards.CustomerID) ([]rewards.RedemptionHistory, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, customer_id, card_id, total_points, redeemed_at, status
		FROM redemptions WHERE customer_id = ?
		ORDER BY redeemed_at DESC, rowid DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query redemptions: %w", err)
	}

	var history []rewards.RedemptionHistory
	for rows.Next() {
		var (
			r          rewards.RedemptionHistory
			total      string
			redeemedAt string
		)
		if err := rows.Scan(&r.ID, &r.CustomerID, &r.CardID, &total, &redeemedAt, &r.Status); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan redemption: %w", err)
		}
		r.TotalPointsUsed = rewards.ParsePoints(total)
		r.RedeemedAt = parseTime(redeemedAt)
		history = append(history, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Items are loaded after the header cursor is closed; the store runs on a
	// single connection.
	for i := range history {
		items, err := q.redemptionItems(ctx, history[i].ID)
		if err != nil {
			return nil, err
		}
		history[i].Items = items
	}
	return history, nil
}

func (q queries) redemptionItems(ctx context.Context, id rewards.RedemptionID) ([]rewards.RedemptionItem, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT item_id, item_name, quantity, unit_cost, line_total
		FROM redemption_items WHERE redemption_id = ?
		ORDER BY line_no`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query redemption items: %w", err)
	}
	defer rows.Close()

	var items []rewards.RedemptionItem
	for rows.Next() {
		var item rewards.RedemptionItem
		if err := rows.Scan(&item.ItemID, &item.Name, &item.Quantity, &item.UnitCost, &item.LineTotal); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// =============================================================================
// SCANNING
// =============================================================================

func scanCustomer(row scanner) (rewards.Customer, error) {
	var (
		c           rewards.Customer
		email       sql.NullString
		association string
		created     string
	)
	if err := row.Scan(&c.ID, &c.Name, &email, &association, &c.Deleted, &created); err != nil {
		return rewards.Customer{}, err
	}
	c.Email = email.String
	c.AssociationDate = parseTime(association)
	c.CreatedAt = parseTime(created)
	return c, nil
}

func scanCard(row scanner) (rewards.CreditCard, error) {
	var (
		c       rewards.CreditCard
		holder  sql.NullString
		created string
	)
	if err := row.Scan(&c.ID, &c.CustomerID, &c.Number, &holder, &created); err != nil {
		return rewards.CreditCard{}, err
	}
	c.HolderName = holder.String
	c.CreatedAt = parseTime(created)
	return c, nil
}

func scanItem(row scanner) (rewards.CatalogItem, error) {
	var (
		item        rewards.CatalogItem
		description sql.NullString
	)
	if err := row.Scan(&item.ID, &item.CategoryID, &item.Name, &description, &item.PointsCost, &item.Available); err != nil {
		return rewards.CatalogItem{}, err
	}
	item.Description = description.String
	return item, nil
}

func scanLedger(row scanner) (rewards.Ledger, error) {
	var (
		l                 rewards.Ledger
		balance, lifetime string
		updated           string
	)
	if err := row.Scan(&l.CardID, &l.CustomerID, &balance, &lifetime, &updated, &l.Version); err != nil {
		return rewards.Ledger{}, err
	}
	l.PointsBalance = rewards.ParsePoints(balance)
	l.LifetimeEarned = rewards.ParsePoints(lifetime)
	l.LastUpdated = parseTime(updated)
	return l, nil
}

func scanTransaction(row scanner) (rewards.Transaction, error) {
	var (
		t       rewards.Transaction
		amount  string
		date    string
		reward  sql.NullString
		created string
	)
	if err := row.Scan(&t.ID, &t.CardID, &amount, &t.Merchant, &date, &t.Processed, &reward, &created); err != nil {
		return rewards.Transaction{}, fmt.Errorf("failed to scan transaction: %w", err)
	}
	t.Amount = rewards.ParsePoints(amount)
	t.Date = parseTime(date)
	t.CreatedAt = parseTime(created)
	if reward.Valid {
		p := rewards.ParsePoints(reward.String)
		t.RewardPoints = &p
	}
	return t, nil
}

func scanCartItem(row scanner) (rewards.CartItem, error) {
	var (
		ci      rewards.CartItem
		created string
	)
	if err := row.Scan(&ci.ID, &ci.CustomerID, &ci.ItemID, &ci.Quantity, &created); err != nil {
		return rewards.CartItem{}, err
	}
	ci.CreatedAt = parseTime(created)
	return ci, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func createdAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return rewards.ErrConcurrentModification
	}
	return nil
}

func isConstraintError(err error, code sqlite3.ErrNoExtended) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == code
}
