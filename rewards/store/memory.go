// Package store provides in-process rewards.Store implementations.
package store

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/warp/reward-ledger/rewards"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every record in maps guarded by one RWMutex. WithTx holds the
// write lock for the whole unit and restores a snapshot if fn fails.
type Memory struct {
	mu sync.RWMutex
	st *state
}

type row[T any] struct {
	val T
	seq int64
}

type state struct {
	seq         int64
	customers   map[rewards.CustomerID]row[rewards.Customer]
	cards       map[rewards.CardID]row[rewards.CreditCard]
	txs         map[rewards.TransactionID]row[rewards.Transaction]
	ledgers     map[rewards.CardID]rewards.Ledger
	categories  map[rewards.CategoryID]rewards.Category
	items       map[rewards.ItemID]row[rewards.CatalogItem]
	cart        map[rewards.CartItemID]row[rewards.CartItem]
	redemptions map[rewards.RedemptionID]row[rewards.RedemptionHistory]
}

func newState() *state {
	return &state{
		customers:   make(map[rewards.CustomerID]row[rewards.Customer]),
		cards:       make(map[rewards.CardID]row[rewards.CreditCard]),
		txs:         make(map[rewards.TransactionID]row[rewards.Transaction]),
		ledgers:     make(map[rewards.CardID]rewards.Ledger),
		categories:  make(map[rewards.CategoryID]rewards.Category),
		items:       make(map[rewards.ItemID]row[rewards.CatalogItem]),
		cart:        make(map[rewards.CartItemID]row[rewards.CartItem]),
		redemptions: make(map[rewards.RedemptionID]row[rewards.RedemptionHistory]),
	}
}

// clone copies every map. Record values are never mutated in place, so a
// shallow copy per map is a full snapshot.
func (s *state) clone() *state {
	return &state{
		seq:         s.seq,
		customers:   maps.Clone(s.customers),
		cards:       maps.Clone(s.cards),
		txs:         maps.Clone(s.txs),
		ledgers:     maps.Clone(s.ledgers),
		categories:  maps.Clone(s.categories),
		items:       maps.Clone(s.items),
		cart:        maps.Clone(s.cart),
		redemptions: maps.Clone(s.redemptions),
	}
}

func (s *state) next() int64 {
	s.seq++
	return s.seq
}

var (
	_ rewards.Store = (*Memory)(nil)
	_ rewards.Tx    = (*state)(nil)
)

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error or panic.
func (m *Memory) WithTx(ctx context.Context, fn func(rewards.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	defer func() {
		if p := recover(); p != nil {
			m.st = snapshot
			panic(p)
		}
	}()
	if err = fn(m.st); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// =============================================================================
// READS (rewards.Reader)
// =============================================================================

func (m *Memory) GetActiveCustomer(ctx context.Context, id rewards.CustomerID) (rewards.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetActiveCustomer(ctx, id)
}

func (m *Memory) GetCard(ctx context.Context, id rewards.CardID) (rewards.CreditCard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetCard(ctx, id)
}

func (m *Memory) CardsForCustomer(ctx context.Context, id rewards.CustomerID) ([]rewards.CreditCard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.CardsForCustomer(ctx, id)
}

func (m *Memory) GetItem(ctx context.Context, id rewards.ItemID) (rewards.CatalogItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetItem(ctx, id)
}

func (m *Memory) IsAvailable(ctx context.Context, id rewards.ItemID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.IsAvailable(ctx, id)
}

func (m *Memory) GetLedger(ctx context.Context, id rewards.CardID) (rewards.Ledger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetLedger(ctx, id)
}

func (m *Memory) LedgersByCustomer(ctx context.Context, id rewards.CustomerID) ([]rewards.Ledger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.LedgersByCustomer(ctx, id)
}

func (m *Memory) TransactionsByCard(ctx context.Context, id rewards.CardID) ([]rewards.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.TransactionsByCard(ctx, id)
}

func (m *Memory) CartItems(ctx context.Context, id rewards.CustomerID) ([]rewards.CartItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.CartItems(ctx, id)
}

func (m *Memory) GetCartItem(ctx context.Context, id rewards.CartItemID) (rewards.CartItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetCartItem(ctx, id)
}

func (m *Memory) Redemptions(ctx context.Context, id rewards.CustomerID) ([]rewards.RedemptionHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.Redemptions(ctx, id)
}

// =============================================================================
// SEEDING AND LISTINGS - collaborator-owned data
// =============================================================================

// SaveCustomer inserts or replaces a customer.
func (m *Memory) SaveCustomer(_ context.Context, c rewards.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq := m.st.next()
	if existing, ok := m.st.customers[c.ID]; ok {
		seq = existing.seq
	}
	m.st.customers[c.ID] = row[rewards.Customer]{val: c, seq: seq}
	return nil
}

// SaveCard inserts or replaces a card. Card numbers are unique.
func (m *Memory) SaveCard(_ context.Context, c rewards.CreditCard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.st.customers[c.CustomerID]; !ok {
		return rewards.NewNotFound(rewards.EntityCustomer, c.CustomerID)
	}
	for id, r := range m.st.cards {
		if id != c.ID && r.val.Number == c.Number {
			return rewards.NewRuleViolation(rewards.CodeDuplicateCard, "credit card number already exists")
		}
	}
	seq := m.st.next()
	if existing, ok := m.st.cards[c.ID]; ok {
		seq = existing.seq
	}
	m.st.cards[c.ID] = row[rewards.CreditCard]{val: c, seq: seq}
	return nil
}

func (m *Memory) SaveCategory(_ context.Context, c rewards.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.categories[c.ID] = c
	return nil
}

// SaveItem inserts or replaces a catalog item, e.g. to change its price or
// availability.
func (m *Memory) SaveItem(_ context.Context, item rewards.CatalogItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.st.categories[item.CategoryID]; !ok {
		return rewards.NewNotFound("reward category", item.CategoryID)
	}
	seq := m.st.next()
	if existing, ok := m.st.items[item.ID]; ok {
		seq = existing.seq
	}
	m.st.items[item.ID] = row[rewards.CatalogItem]{val: item, seq: seq}
	return nil
}

// AddTransactions inserts purchase records. All cards must exist; nothing is
// written otherwise.
func (m *Memory) AddTransactions(_ context.Context, txs []rewards.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range txs {
		if _, ok := m.st.cards[t.CardID]; !ok {
			return rewards.NewNotFound(rewards.EntityCard, t.CardID)
		}
	}
	for _, t := range txs {
		m.st.txs[t.ID] = row[rewards.Transaction]{val: t, seq: m.st.next()}
	}
	return nil
}

// ActiveCustomers lists customers that are not soft-deleted, in insertion order.
func (m *Memory) ActiveCustomers(_ context.Context) ([]rewards.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := make([]row[rewards.Customer], 0, len(m.st.customers))
	for _, r := range m.st.customers {
		if !r.val.Deleted {
			rows = append(rows, r)
		}
	}
	return values(rows, func(a, b row[rewards.Customer]) bool { return a.seq < b.seq }), nil
}

// Categories lists reward categories by display order.
func (m *Memory) Categories(_ context.Context) ([]rewards.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]rewards.Category, 0, len(m.st.categories))
	for _, c := range m.st.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Items lists available catalog items, optionally filtered by category.
func (m *Memory) Items(_ context.Context, category rewards.CategoryID) ([]rewards.CatalogItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var rows []row[rewards.CatalogItem]
	for _, r := range m.st.items {
		if !r.val.Available || (category != "" && r.val.CategoryID != category) {
			continue
		}
		rows = append(rows, r)
	}
	return values(rows, func(a, b row[rewards.CatalogItem]) bool { return a.seq < b.seq }), nil
}

// Reset clears all data (for testing/demo).
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = newState()
	return nil
}

// =============================================================================
// UNIT OF WORK VIEW (rewards.Tx) - callers hold the lock
// =============================================================================

func (s *state) GetActiveCustomer(_ context.Context, id rewards.CustomerID) (rewards.Customer, error) {
	r, ok := s.customers[id]
	if !ok || r.val.Deleted {
		return rewards.Customer{}, rewards.NewNotFound(rewards.EntityCustomer, id)
	}
	return r.val, nil
}

func (s *state) GetCard(_ context.Context, id rewards.CardID) (rewards.CreditCard, error) {
	r, ok := s.cards[id]
	if !ok {
		return rewards.CreditCard{}, rewards.NewNotFound(rewards.EntityCard, id)
	}
	return r.val, nil
}

func (s *state) CardsForCustomer(_ context.Context, id rewards.CustomerID) ([]rewards.CreditCard, error) {
	return s.cardsOf(id), nil
}

func (s *state) cardsOf(id rewards.CustomerID) []rewards.CreditCard {
	var rows []row[rewards.CreditCard]
	for _, r := range s.cards {
		if r.val.CustomerID == id {
			rows = append(rows, r)
		}
	}
	return values(rows, func(a, b row[rewards.CreditCard]) bool {
		if !a.val.CreatedAt.Equal(b.val.CreatedAt) {
			return a.val.CreatedAt.Before(b.val.CreatedAt)
		}
		return a.seq < b.seq
	})
}

func (s *state) GetItem(_ context.Context, id rewards.ItemID) (rewards.CatalogItem, error) {
	r, ok := s.items[id]
	if !ok {
		return rewards.CatalogItem{}, rewards.NewNotFound(rewards.EntityItem, id)
	}
	return r.val, nil
}

func (s *state) IsAvailable(_ context.Context, id rewards.ItemID) (bool, error) {
	r, ok := s.items[id]
	return ok && r.val.Available, nil
}

func (s *state) GetLedger(_ context.Context, id rewards.CardID) (rewards.Ledger, error) {
	l, ok := s.ledgers[id]
	if !ok {
		return rewards.Ledger{}, rewards.NewNotFound(rewards.EntityLedger, id)
	}
	return l, nil
}

func (s *state) LedgersByCustomer(_ context.Context, id rewards.CustomerID) ([]rewards.Ledger, error) {
	var out []rewards.Ledger
	for _, card := range s.cardsOf(id) {
		if l, ok := s.ledgers[card.ID]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *state) TransactionsByCard(_ context.Context, id rewards.CardID) ([]rewards.Transaction, error) {
	return s.transactions(id, false, func(a, b row[rewards.Transaction]) bool {
		if !a.val.Date.Equal(b.val.Date) {
			return a.val.Date.After(b.val.Date)
		}
		return a.seq > b.seq
	}), nil
}

func (s *state) UnprocessedByCustomer(ctx context.Context, id rewards.CustomerID) ([]rewards.Transaction, error) {
	var out []rewards.Transaction
	for _, card := range s.cardsOf(id) {
		txs, _ := s.UnprocessedByCard(ctx, card.ID)
		out = append(out, txs...)
	}
	return out, nil
}

func (s *state) UnprocessedByCard(_ context.Context, id rewards.CardID) ([]rewards.Transaction, error) {
	return s.transactions(id, true, func(a, b row[rewards.Transaction]) bool {
		if !a.val.Date.Equal(b.val.Date) {
			return a.val.Date.Before(b.val.Date)
		}
		return a.seq < b.seq
	}), nil
}

func (s *state) transactions(card rewards.CardID, unprocessedOnly bool, less func(a, b row[rewards.Transaction]) bool) []rewards.Transaction {
	var rows []row[rewards.Transaction]
	for _, r := range s.txs {
		if r.val.CardID != card || (unprocessedOnly && r.val.Processed) {
			continue
		}
		rows = append(rows, r)
	}
	out := values(rows, less)
	for i := range out {
		if p := out[i].RewardPoints; p != nil {
			reward := *p
			out[i].RewardPoints = &reward
		}
	}
	return out
}

func (s *state) MarkProcessed(_ context.Context, id rewards.TransactionID, reward rewards.Points) error {
	r, ok := s.txs[id]
	if !ok {
		return rewards.NewNotFound(rewards.EntityTransaction, id)
	}
	if r.val.Processed {
		return rewards.ErrConcurrentModification
	}
	r.val.Processed = true
	r.val.RewardPoints = &reward
	s.txs[id] = r
	return nil
}

func (s *state) CreateLedger(_ context.Context, l rewards.Ledger) error {
	if _, ok := s.ledgers[l.CardID]; ok {
		return rewards.ErrConcurrentModification
	}
	l.Version = 1
	s.ledgers[l.CardID] = l
	return nil
}

func (s *state) UpdateLedger(_ context.Context, l rewards.Ledger) error {
	current, ok := s.ledgers[l.CardID]
	if !ok || current.Version != l.Version {
		return rewards.ErrConcurrentModification
	}
	l.Version++
	s.ledgers[l.CardID] = l
	return nil
}

func (s *state) CartItems(_ context.Context, id rewards.CustomerID) ([]rewards.CartItem, error) {
	var rows []row[rewards.CartItem]
	for _, r := range s.cart {
		if r.val.CustomerID == id {
			rows = append(rows, r)
		}
	}
	return values(rows, func(a, b row[rewards.CartItem]) bool { return a.seq < b.seq }), nil
}

func (s *state) GetCartItem(_ context.Context, id rewards.CartItemID) (rewards.CartItem, error) {
	r, ok := s.cart[id]
	if !ok {
		return rewards.CartItem{}, rewards.NewNotFound(rewards.EntityCartItem, id)
	}
	return r.val, nil
}

func (s *state) InsertCartItem(_ context.Context, item rewards.CartItem) error {
	s.cart[item.ID] = row[rewards.CartItem]{val: item, seq: s.next()}
	return nil
}

func (s *state) UpdateCartQuantity(_ context.Context, id rewards.CartItemID, quantity int) error {
	r, ok := s.cart[id]
	if !ok {
		return rewards.NewNotFound(rewards.EntityCartItem, id)
	}
	r.val.Quantity = quantity
	s.cart[id] = r
	return nil
}

func (s *state) DeleteCartItem(_ context.Context, id rewards.CartItemID) (bool, error) {
	if _, ok := s.cart[id]; !ok {
		return false, nil
	}
	delete(s.cart, id)
	return true, nil
}

func (s *state) ClearCart(_ context.Context, id rewards.CustomerID) (int, error) {
	n := 0
	for k, r := range s.cart {
		if r.val.CustomerID == id {
			delete(s.cart, k)
			n++
		}
	}
	return n, nil
}

func (s *state) Redemptions(_ context.Context, id rewards.CustomerID) ([]rewards.RedemptionHistory, error) {
	var rows []row[rewards.RedemptionHistory]
	for _, r := range s.redemptions {
		if r.val.CustomerID == id {
			rows = append(rows, r)
		}
	}
	out := values(rows, func(a, b row[rewards.RedemptionHistory]) bool {
		if !a.val.RedeemedAt.Equal(b.val.RedeemedAt) {
			return a.val.RedeemedAt.After(b.val.RedeemedAt)
		}
		return a.seq > b.seq
	})
	// Records are immutable; callers get their own line slices.
	for i := range out {
		out[i].Items = slices.Clone(out[i].Items)
	}
	return out, nil
}

func (s *state) InsertRedemption(_ context.Context, r rewards.RedemptionHistory) error {
	if _, ok := s.redemptions[r.ID]; ok {
		return rewards.ErrConcurrentModification
	}
	r.Items = slices.Clone(r.Items)
	s.redemptions[r.ID] = row[rewards.RedemptionHistory]{val: r, seq: s.next()}
	return nil
}

// values sorts rows and strips the sequence numbers.
func values[T any](rows []row[T], less func(a, b row[T]) bool) []T {
	sort.Slice(rows, func(i, j int) bool { return less(rows[i], rows[j]) })
	out := make([]T, len(rows))
	for i, r := range rows {
		out[i] = r.val
	}
	return out
}
