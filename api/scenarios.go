/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
	Provides pre-built scenarios that populate the database with realistic
	data for demos. Each scenario creates customers, cards, the reward
	catalog and unprocessed purchase transactions.

AVAILABLE SCENARIOS:

	first-redemption: One regular customer, one 1000.00 purchase (50.00 points)
	premium-member:   Customer associated 5 years ago, 10% rate, two cards
	mixed-portfolio:  Regular + premium customers with generated purchases

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Seed the reward catalog
 3. Create customers and cards
 4. Add unprocessed transactions (accrual is left to the user)

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "premium-member"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler, writeJSON
  - generator/generator.go: synthetic purchases
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/reward-ledger/rewards"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "first-redemption",
		Name:        "First Redemption",
		Description: "Regular customer with one 1000.00 purchase; accrue 50.00 points and redeem a 30-point item",
	},
	{
		ID:          "premium-member",
		Name:        "Premium Member",
		Description: "Customer associated 5 years ago earning 10% across two cards",
	},
	{
		ID:          "mixed-portfolio",
		Name:        "Mixed Portfolio",
		Description: "Regular and premium customers with generated purchases on every card",
	},
}

var scenarioLoaders = map[string]func(h *Handler, ctx context.Context) error{
	"first-redemption": (*Handler).loadFirstRedemptionScenario,
	"premium-member":   (*Handler).loadPremiumMemberScenario,
	"mixed-portfolio":  (*Handler).loadMixedPortfolioScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(h, ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadFirstRedemptionScenario(ctx context.Context) error {
	if err := h.seedCatalog(ctx); err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := h.seedCustomer(ctx, "cust-001", "Alex Morgan", now.AddDate(-1, 0, 0), "card-001", "4111111111111111"); err != nil {
		return err
	}

	return h.Store.AddTransactions(ctx, []rewards.Transaction{
		purchase("tx-001", "card-001", 1000, "Amazon", now.AddDate(0, 0, -2)),
	})
}

func (h *Handler) loadPremiumMemberScenario(ctx context.Context) error {
	if err := h.seedCatalog(ctx); err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := h.seedCustomer(ctx, "cust-002", "Jordan Lee", now.AddDate(-5, 0, 0), "card-002", "5500000000000004"); err != nil {
		return err
	}
	if err := h.Store.SaveCard(ctx, rewards.CreditCard{
		ID:         "card-003",
		CustomerID: "cust-002",
		Number:     "340000000000009",
		HolderName: "Jordan Lee",
		CreatedAt:  now.Add(time.Second),
	}); err != nil {
		return fmt.Errorf("saving card: %w", err)
	}

	return h.Store.AddTransactions(ctx, []rewards.Transaction{
		purchase("tx-101", "card-002", 333.33, "BigBasket", now.AddDate(0, 0, -6)),
		purchase("tx-102", "card-002", 1250, "Croma", now.AddDate(0, 0, -3)),
		purchase("tx-103", "card-003", 480, "BookMyShow", now.AddDate(0, 0, -1)),
	})
}

func (h *Handler) loadMixedPortfolioScenario(ctx context.Context) error {
	if err := h.seedCatalog(ctx); err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := h.seedCustomer(ctx, "cust-001", "Alex Morgan", now.AddDate(-1, 0, 0), "card-001", "4111111111111111"); err != nil {
		return err
	}
	if err := h.seedCustomer(ctx, "cust-002", "Jordan Lee", now.AddDate(-5, 0, 0), "card-002", "5500000000000004"); err != nil {
		return err
	}

	for _, card := range []rewards.CardID{"card-001", "card-002"} {
		if _, err := h.Generator.Generate(ctx, card); err != nil {
			return fmt.Errorf("generating transactions for %s: %w", card, err)
		}
	}
	return nil
}

// =============================================================================
// SEED HELPERS
// =============================================================================

var demoCategories = []rewards.Category{
	{ID: "cat-gift", Name: "Gift Cards", DisplayOrder: 1},
	{ID: "cat-electronics", Name: "Electronics", DisplayOrder: 2},
	{ID: "cat-travel", Name: "Travel", DisplayOrder: 3},
	{ID: "cat-dining", Name: "Dining", DisplayOrder: 4},
}

var demoItems = []rewards.CatalogItem{
	{ID: "item-coffee", CategoryID: "cat-dining", Name: "Coffee Voucher", Description: "One handcrafted drink", PointsCost: 30, Available: true},
	{ID: "item-movie", CategoryID: "cat-gift", Name: "Movie Ticket", Description: "One standard screening", PointsCost: 70, Available: true},
	{ID: "item-gift-25", CategoryID: "cat-gift", Name: "$25 Gift Card", Description: "Redeemable at partner stores", PointsCost: 250, Available: true},
	{ID: "item-earbuds", CategoryID: "cat-electronics", Name: "Wireless Earbuds", Description: "Bluetooth 5.3", PointsCost: 1800, Available: true},
	{ID: "item-lounge", CategoryID: "cat-travel", Name: "Airport Lounge Pass", Description: "Single visit", PointsCost: 900, Available: true},
	{ID: "item-upgrade", CategoryID: "cat-travel", Name: "Seat Upgrade", Description: "Temporarily unavailable", PointsCost: 1500, Available: false},
}

func (h *Handler) seedCatalog(ctx context.Context) error {
	for _, c := range demoCategories {
		if err := h.Store.SaveCategory(ctx, c); err != nil {
			return fmt.Errorf("saving category %s: %w", c.ID, err)
		}
	}
	for _, item := range demoItems {
		if err := h.Store.SaveItem(ctx, item); err != nil {
			return fmt.Errorf("saving item %s: %w", item.ID, err)
		}
	}
	return nil
}

func (h *Handler) seedCustomer(ctx context.Context, id rewards.CustomerID, name string, associated time.Time,
	cardID rewards.CardID, number string) error {

	now := time.Now().UTC()
	if err := h.Store.SaveCustomer(ctx, rewards.Customer{
		ID:              id,
		Name:            name,
		AssociationDate: associated,
		CreatedAt:       now,
	}); err != nil {
		return fmt.Errorf("saving customer %s: %w", id, err)
	}
	if err := h.Store.SaveCard(ctx, rewards.CreditCard{
		ID:         cardID,
		CustomerID: id,
		Number:     number,
		HolderName: name,
		CreatedAt:  now,
	}); err != nil {
		return fmt.Errorf("saving card %s: %w", cardID, err)
	}
	return nil
}

func purchase(id rewards.TransactionID, card rewards.CardID, amount float64, merchant string, at time.Time) rewards.Transaction {
	return rewards.Transaction{
		ID:        id,
		CardID:    card,
		Amount:    decimal.NewFromFloat(amount),
		Merchant:  merchant,
		Date:      at,
		CreatedAt: time.Now().UTC(),
	}
}
