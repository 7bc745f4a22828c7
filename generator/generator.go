// Package generator creates synthetic purchase transactions for a card.
//
// It stands in for the card network feed: the engine only ever sees the
// resulting rows with processed=false.
package generator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/reward-ledger/rewards"
)

// Merchants is the fixed pool generated transactions draw from.
var Merchants = []string{
	"Amazon", "Flipkart", "Swiggy", "Zomato", "BigBasket",
	"Reliance Digital", "Croma", "Myntra", "AJIO", "Decathlon",
	"BookMyShow", "Uber", "Ola", "StarBucks", "McDonald's",
	"Domino's", "Pizza Hut", "KFC", "Subway", "Café Coffee Day",
}

// Config bounds what a Generate call produces. Amounts are whole currency
// units, inclusive on both ends.
type Config struct {
	MinAmount int64 `yaml:"min_amount"`
	MaxAmount int64 `yaml:"max_amount"`
	Count     int   `yaml:"count"`
}

func DefaultConfig() Config {
	return Config{MinAmount: 500, MaxAmount: 50000, Count: 50}
}

func (c Config) Validate() error {
	if c.MinAmount < 0 {
		return fmt.Errorf("generator min_amount must not be negative, got %d", c.MinAmount)
	}
	if c.MinAmount > c.MaxAmount {
		return fmt.Errorf("generator min_amount (%d) exceeds max_amount (%d)", c.MinAmount, c.MaxAmount)
	}
	if c.Count < 1 {
		return fmt.Errorf("generator count must be at least 1, got %d", c.Count)
	}
	return nil
}

// Sink is where generated transactions go.
type Sink interface {
	GetCard(ctx context.Context, id rewards.CardID) (rewards.CreditCard, error)
	AddTransactions(ctx context.Context, txs []rewards.Transaction) error
}

type Generator struct {
	sink   Sink
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

type Option func(*Generator)

func WithLogger(l *zap.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// WithSeed makes the output reproducible.
func WithSeed(seed uint64) Option {
	return func(g *Generator) { g.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

func New(sink Sink, cfg Config, opts ...Option) *Generator {
	g := &Generator{
		sink:   sink,
		cfg:    cfg,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate creates Config.Count unprocessed transactions for the card, dated
// within the last 30 days.
func (g *Generator) Generate(ctx context.Context, cardID rewards.CardID) ([]rewards.Transaction, error) {
	card, err := g.sink.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}

	now := g.now()
	txs := make([]rewards.Transaction, g.cfg.Count)

	g.mu.Lock()
	for i := range txs {
		amount := g.cfg.MinAmount + g.rng.Int64N(g.cfg.MaxAmount-g.cfg.MinAmount+1)
		txs[i] = rewards.Transaction{
			ID:        rewards.TransactionID(uuid.NewString()),
			CardID:    card.ID,
			Amount:    decimal.NewFromInt(amount),
			Merchant:  Merchants[g.rng.IntN(len(Merchants))],
			Date:      now.AddDate(0, 0, -g.rng.IntN(30)),
			CreatedAt: now,
		}
	}
	g.mu.Unlock()

	if err := g.sink.AddTransactions(ctx, txs); err != nil {
		return nil, fmt.Errorf("storing generated transactions: %w", err)
	}

	g.logger.Info("generated transactions",
		zap.String("card_id", string(card.ID)),
		zap.Int("count", len(txs)))
	return txs, nil
}
