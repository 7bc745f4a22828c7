/*
handlers_test.go - HTTP tests for the reward API

Tests for:
- Accrual, cart and redemption endpoints end to end through the router
- Error mapping (status, kind, code, details)
- Request validation
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reward-ledger/generator"
	"github.com/warp/reward-ledger/rewards"
	"github.com/warp/reward-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func setupTestHandler(t *testing.T) *Handler {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	gen := generator.Config{MinAmount: 10, MaxAmount: 100, Count: 3}
	return NewHandler(store, rewards.DefaultConfig(), gen, nil)
}

// setupScenario returns a router with the given demo scenario loaded.
func setupScenario(t *testing.T, scenario string) (*Handler, http.Handler) {
	t.Helper()
	h := setupTestHandler(t)
	router := NewRouter(h, RouterOptions{})

	rec := do(t, router, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": scenario})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return h, router
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeAs[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func addToCart(t *testing.T, router http.Handler, item string, qty int) CartItemDTO {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/api/cart", AddToCartRequest{CustomerID: "cust-001", ItemID: item, Quantity: qty})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeAs[CartItemDTO](t, rec)
}

func processRewards(t *testing.T, router http.Handler) AccrualDTO {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/api/customers/cust-001/rewards/process", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeAs[AccrualDTO](t, rec)
}

// =============================================================================
// REDEMPTION FLOW
// =============================================================================

func TestRedeem_FullFlow(t *testing.T) {
	// GIVEN: The first-redemption scenario (one 1000.00 purchase)
	// WHEN: Rewards are processed and a coffee voucher is redeemed
	// THEN: 50.00 is earned, 30 spent, and the cart is emptied

	_, router := setupScenario(t, "first-redemption")

	accrued := processRewards(t, router)
	assert.Equal(t, 1, accrued.TransactionsProcessed)
	assert.Equal(t, "50.00", accrued.PointsAwarded)
	assert.Equal(t, "REGULAR", accrued.Balance.Tier)

	addToCart(t, router, "item-coffee", 1)

	rec := do(t, router, http.MethodGet, "/api/customers/cust-001/cart", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cart := decodeAs[CartDTO](t, rec)
	assert.Equal(t, int64(30), cart.TotalPointsCost)

	rec = do(t, router, http.MethodPost, "/api/customers/cust-001/redeem", RedeemRequest{CreditCardID: "card-001"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	redemption := decodeAs[RedemptionDTO](t, rec)
	assert.NotEmpty(t, redemption.RedemptionID)
	assert.Equal(t, "30.00", redemption.TotalPointsUsed)
	assert.Equal(t, "COMPLETED", redemption.Status)
	require.Len(t, redemption.Items, 1)
	assert.Equal(t, "Coffee Voucher", redemption.Items[0].ItemName)

	rec = do(t, router, http.MethodGet, "/api/customers/cust-001/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balance := decodeAs[BalanceSummaryDTO](t, rec)
	assert.Equal(t, "20.00", balance.TotalPoints)
	assert.Equal(t, "50.00", balance.LifetimeEarned)
	require.Len(t, balance.Cards, 1)
	assert.Equal(t, "**** **** **** 1111", balance.Cards[0].CardNumber)

	rec = do(t, router, http.MethodGet, "/api/customers/cust-001/redemptions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeAs[[]RedemptionDTO](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, redemption.RedemptionID, history[0].RedemptionID)

	rec = do(t, router, http.MethodGet, "/api/customers/cust-001/cart", nil)
	assert.Empty(t, decodeAs[CartDTO](t, rec).Items)
}

func TestRedeem_InsufficientBalance(t *testing.T) {
	_, router := setupScenario(t, "first-redemption")
	processRewards(t, router)
	addToCart(t, router, "item-movie", 1)

	rec := do(t, router, http.MethodPost, "/api/customers/cust-001/redeem", RedeemRequest{CreditCardID: "card-001"})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeAs[struct {
		Error   string            `json:"error"`
		Kind    string            `json:"kind"`
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	}](t, rec)
	assert.Equal(t, "insufficient_balance", resp.Kind)
	assert.Equal(t, "ERR_205", resp.Code)
	assert.Equal(t, "50.00", resp.Details["available"])
	assert.Equal(t, "70.00", resp.Details["required"])
	assert.Equal(t, "20.00", resp.Details["shortfall"])
	assert.Equal(t, "card-001", resp.Details["card_id"])

	// Nothing changed.
	rec = do(t, router, http.MethodGet, "/api/customers/cust-001/balance", nil)
	assert.Equal(t, "50.00", decodeAs[BalanceSummaryDTO](t, rec).TotalPoints)
	rec = do(t, router, http.MethodGet, "/api/customers/cust-001/cart", nil)
	assert.Len(t, decodeAs[CartDTO](t, rec).Items, 1)
}

func TestRedeem_Rejections(t *testing.T) {
	_, router := setupScenario(t, "first-redemption")
	processRewards(t, router)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"empty cart", RedeemRequest{CreditCardID: "card-001"}, http.StatusBadRequest, "ERR_206"},
		{"missing card id", map[string]string{}, http.StatusBadRequest, ""},
		{"malformed body", "{not json", http.StatusBadRequest, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/api/customers/cust-001/redeem", tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Equal(t, tc.code, decodeAs[ErrorResponse](t, rec).Code)
		})
	}

	addToCart(t, router, "item-coffee", 1)
	rec := do(t, router, http.MethodPost, "/api/customers/cust-001/redeem", RedeemRequest{CreditCardID: "card-999"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ERR_103", decodeAs[ErrorResponse](t, rec).Code)
}

func TestRedeem_ValidationListsFields(t *testing.T) {
	_, router := setupScenario(t, "first-redemption")

	rec := do(t, router, http.MethodPost, "/api/customers/cust-001/redeem", map[string]string{})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeAs[struct {
		Kind    string `json:"kind"`
		Details struct {
			Fields []map[string]string `json:"fields"`
		} `json:"details"`
	}](t, rec)
	assert.Equal(t, "validation", resp.Kind)
	require.Len(t, resp.Details.Fields, 1)
	assert.Equal(t, "credit_card_id", resp.Details.Fields[0]["field"])
	assert.Equal(t, "is required", resp.Details.Fields[0]["message"])
}

// =============================================================================
// CART
// =============================================================================

func TestCart_AddRejections(t *testing.T) {
	_, router := setupScenario(t, "first-redemption")

	tests := []struct {
		name   string
		req    AddToCartRequest
		status int
		code   string
	}{
		{"zero quantity", AddToCartRequest{CustomerID: "cust-001", ItemID: "item-coffee", Quantity: 0}, http.StatusBadRequest, "ERR_211"},
		{"unavailable item", AddToCartRequest{CustomerID: "cust-001", ItemID: "item-upgrade", Quantity: 1}, http.StatusBadRequest, "ERR_209"},
		{"unknown item", AddToCartRequest{CustomerID: "cust-001", ItemID: "item-nope", Quantity: 1}, http.StatusNotFound, "ERR_105"},
		{"unknown customer", AddToCartRequest{CustomerID: "cust-nope", ItemID: "item-coffee", Quantity: 1}, http.StatusNotFound, "ERR_101"},
		{"missing item id", AddToCartRequest{CustomerID: "cust-001", Quantity: 1}, http.StatusBadRequest, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/api/cart", tc.req)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Equal(t, tc.code, decodeAs[ErrorResponse](t, rec).Code)
		})
	}
}

func TestCart_AddMergesAndUpdates(t *testing.T) {
	_, router := setupScenario(t, "first-redemption")

	first := addToCart(t, router, "item-coffee", 1)
	second := addToCart(t, router, "item-coffee", 2)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 3, second.Quantity)

	rec := do(t, router, http.MethodPut, "/api/cart/items/"+first.ID, map[string]int{"quantity": 5})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/api/customers/cust-001/cart", nil)
	cart := decodeAs[CartDTO](t, rec)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 5, cart.Items[0].Quantity)
	assert.Equal(t, int64(150), cart.TotalPointsCost)

	rec = do(t, router, http.MethodPut, "/api/cart/items/"+first.ID, map[string]int{"quantity": 0})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/customers/cust-001/cart", nil)
	assert.Empty(t, decodeAs[CartDTO](t, rec).Items)
}

func TestCart_UpdateRejections(t *testing.T) {
	_, router := setupScenario(t, "first-redemption")

	rec := do(t, router, http.MethodPut, "/api/cart/items/missing", map[string]int{"quantity": 2})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ERR_106", decodeAs[ErrorResponse](t, rec).Code)

	rec = do(t, router, http.MethodPut, "/api/cart/items/missing", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", decodeAs[ErrorResponse](t, rec).Kind)
}

func TestCart_HugeQuantityRejected(t *testing.T) {
	// GIVEN: A funded customer
	// WHEN: A quantity near the int64 limit is sent on add and on update
	// THEN: Both are rejected as validation errors and nothing is staged

	_, router := setupScenario(t, "first-redemption")
	type fieldsResponse struct {
		Kind    string `json:"kind"`
		Details struct {
			Fields []map[string]string `json:"fields"`
		} `json:"details"`
	}

	rec := do(t, router, http.MethodPost, "/api/cart",
		`{"customer_id":"cust-001","item_id":"item-coffee","quantity":9223372036854775807}`)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	resp := decodeAs[fieldsResponse](t, rec)
	assert.Equal(t, "validation", resp.Kind)
	require.Len(t, resp.Details.Fields, 1)
	assert.Equal(t, "quantity", resp.Details.Fields[0]["field"])
	assert.Equal(t, "must be at most 10000", resp.Details.Fields[0]["message"])

	staged := addToCart(t, router, "item-coffee", 1)
	rec = do(t, router, http.MethodPut, "/api/cart/items/"+staged.ID, map[string]int{"quantity": 10001})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", decodeAs[ErrorResponse](t, rec).Kind)

	rec = do(t, router, http.MethodGet, "/api/customers/cust-001/cart", nil)
	cart := decodeAs[CartDTO](t, rec)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 1, cart.Items[0].Quantity)
	assert.Equal(t, int64(30), cart.TotalPointsCost)
}

func TestCart_RemoveIsIdempotent(t *testing.T) {
	_, router := setupScenario(t, "first-redemption")
	staged := addToCart(t, router, "item-movie", 1)

	for i := 0; i < 2; i++ {
		rec := do(t, router, http.MethodDelete, "/api/cart/items/"+staged.ID, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}

	rec := do(t, router, http.MethodGet, "/api/customers/cust-001/cart", nil)
	assert.Empty(t, decodeAs[CartDTO](t, rec).Items)
}

func TestCart_UnknownCustomer(t *testing.T) {
	_, router := setupScenario(t, "first-redemption")

	rec := do(t, router, http.MethodGet, "/api/customers/nobody/cart", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ERR_101", decodeAs[ErrorResponse](t, rec).Code)
}

// =============================================================================
// REWARDS / CARDS / CATALOG
// =============================================================================

func TestProcessRewards_SecondRunProcessesNothing(t *testing.T) {
	_, router := setupScenario(t, "first-redemption")

	processRewards(t, router)
	again := processRewards(t, router)

	assert.Equal(t, 0, again.TransactionsProcessed)
	assert.Equal(t, "0.00", again.PointsAwarded)
	assert.Equal(t, "50.00", again.Balance.TotalPoints)
}

func TestProcessCardRewards(t *testing.T) {
	_, router := setupScenario(t, "premium-member")

	rec := do(t, router, http.MethodPost, "/api/cards/card-003/rewards/process", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	accrued := decodeAs[AccrualDTO](t, rec)

	assert.Equal(t, 1, accrued.TransactionsProcessed)
	assert.Equal(t, "48.00", accrued.PointsAwarded)
	assert.Equal(t, "PREMIUM", accrued.Balance.Tier)

	rec = do(t, router, http.MethodPost, "/api/cards/card-404/rewards/process", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetBalance_UnknownCustomer(t *testing.T) {
	_, router := setupScenario(t, "first-redemption")

	rec := do(t, router, http.MethodGet, "/api/customers/nobody/balance", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeAs[ErrorResponse](t, rec)
	assert.Equal(t, "not_found", resp.Kind)
	assert.Equal(t, "ERR_101", resp.Code)
}

func TestTransactions_GenerateAndList(t *testing.T) {
	_, router := setupScenario(t, "first-redemption")

	rec := do(t, router, http.MethodPost, "/api/cards/card-001/transactions/generate", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	generated := decodeAs[[]TransactionDTO](t, rec)
	assert.Len(t, generated, 3)
	for _, tx := range generated {
		assert.False(t, tx.Processed)
		assert.Nil(t, tx.RewardPoints)
	}

	processRewards(t, router)

	rec = do(t, router, http.MethodGet, "/api/cards/card-001/transactions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decodeAs[[]TransactionDTO](t, rec)
	require.Len(t, listed, 4)
	for _, tx := range listed {
		assert.True(t, tx.Processed)
		assert.NotNil(t, tx.RewardPoints)
	}

	rec = do(t, router, http.MethodGet, "/api/cards/card-404/transactions", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, router, http.MethodPost, "/api/cards/card-404/transactions/generate", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCatalog(t *testing.T) {
	_, router := setupScenario(t, "first-redemption")

	rec := do(t, router, http.MethodGet, "/api/catalog/categories", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	categories := decodeAs[[]CategoryDTO](t, rec)
	require.Len(t, categories, len(demoCategories))
	assert.Equal(t, "cat-gift", categories[0].ID)

	rec = do(t, router, http.MethodGet, "/api/catalog/items", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decodeAs[[]CatalogItemDTO](t, rec)
	assert.Len(t, items, len(demoItems)-1, "unavailable items are hidden")

	rec = do(t, router, http.MethodGet, "/api/catalog/items?category_id=cat-travel", nil)
	items = decodeAs[[]CatalogItemDTO](t, rec)
	require.Len(t, items, 1)
	assert.Equal(t, "item-lounge", items[0].ID)
}

func TestHealth(t *testing.T) {
	router := NewRouter(setupTestHandler(t), RouterOptions{})

	rec := do(t, router, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestWriteEngineError_StatusByKind(t *testing.T) {
	h := setupTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/customers/c/redeem", nil)

	tests := []struct {
		err    error
		status int
		kind   string
	}{
		{rewards.NewNotFound(rewards.EntityLedger, "card-1"), http.StatusNotFound, "not_found"},
		{rewards.NewRuleViolation(rewards.CodeCardNotOwned, "not yours"), http.StatusBadRequest, "business_rule_violation"},
		{&rewards.ConflictError{Op: "redeem", Attempts: 3}, http.StatusConflict, "conflict"},
		{context.Canceled, http.StatusServiceUnavailable, "internal"},
		{assert.AnError, http.StatusInternalServerError, "internal"},
	}
	for _, tc := range tests {
		rec := httptest.NewRecorder()
		h.writeEngineError(rec, req, tc.err)

		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
		resp := decodeAs[ErrorResponse](t, rec)
		assert.Equal(t, tc.kind, resp.Kind)
	}

	// Internal details never leak.
	rec := httptest.NewRecorder()
	h.writeEngineError(rec, req, assert.AnError)
	assert.Equal(t, "Internal server error", decodeAs[ErrorResponse](t, rec).Error)
}
