/*
handlers.go - HTTP API handlers for the reward ledger

PURPOSE:
  Exposes the reward engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the engines in package rewards.

ENDPOINTS:
  Cart:
    POST   /api/cart                           Add item to cart
    GET    /api/customers/{id}/cart            View priced cart
    PUT    /api/cart/items/{id}                Set quantity (<= 0 removes)
    DELETE /api/cart/items/{id}                Remove (idempotent)

  Redemption:
    POST   /api/customers/{id}/redeem          Redeem cart against a card
    GET    /api/customers/{id}/redemptions     History, newest first

  Rewards:
    POST   /api/customers/{id}/rewards/process Accrue all cards
    POST   /api/cards/{id}/rewards/process     Accrue one card
    GET    /api/customers/{id}/balance         Balance summary

  Cards / Catalog:
    POST   /api/cards/{id}/transactions/generate
    GET    /api/cards/{id}/transactions
    GET    /api/catalog/categories
    GET    /api/catalog/items?category_id=

REQUEST FLOW:
  1. Parse and validate the request (validator tags on *Request types)
  2. Call the engine
  3. Serialize response
  4. Map engine errors to HTTP status via rewards.KindOf

ERROR HANDLING:
  - 400: Validation errors, business rule violations
  - 404: Customer, card, item, cart item or ledger not found
  - 409: Optimistic-lock retries exhausted
  - 422: Insufficient reward balance
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo data loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/reward-ledger/generator"
	"github.com/warp/reward-ledger/rewards"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Backend is the storage the HTTP layer runs on: the engine's store plus the
// collaborator-owned data (customers, cards, catalog, raw transactions).
type Backend interface {
	rewards.Store

	SaveCustomer(ctx context.Context, c rewards.Customer) error
	SaveCard(ctx context.Context, c rewards.CreditCard) error
	SaveCategory(ctx context.Context, c rewards.Category) error
	SaveItem(ctx context.Context, item rewards.CatalogItem) error
	AddTransactions(ctx context.Context, txs []rewards.Transaction) error

	ActiveCustomers(ctx context.Context) ([]rewards.Customer, error)
	Categories(ctx context.Context) ([]rewards.Category, error)
	Items(ctx context.Context, category rewards.CategoryID) ([]rewards.CatalogItem, error)

	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      Backend
	Accrual    *rewards.AccrualEngine
	Cart       *rewards.Cart
	Redemption *rewards.RedemptionEngine
	Balances   *rewards.Balances
	Generator  *generator.Generator

	logger   *zap.Logger
	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the engines over store.
func NewHandler(store Backend, cfg rewards.Config, gen generator.Config, logger *zap.Logger, opts ...rewards.Option) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = append([]rewards.Option{rewards.WithLogger(logger)}, opts...)

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		Store:      store,
		Accrual:    rewards.NewAccrualEngine(store, cfg, opts...),
		Cart:       rewards.NewCart(store, opts...),
		Redemption: rewards.NewRedemptionEngine(store, cfg, opts...),
		Balances:   rewards.NewBalances(store, cfg, opts...),
		Generator:  generator.New(store, gen, generator.WithLogger(logger)),
		logger:     logger,
		validate:   v,
	}
}

// =============================================================================
// CART HANDLERS
// =============================================================================

// AddToCart stages an item.
// POST /api/cart
func (h *Handler) AddToCart(w http.ResponseWriter, r *http.Request) {
	var req AddToCartRequest
	if !h.decode(w, r, &req) {
		return
	}

	item, err := h.Cart.Add(r.Context(),
		rewards.CustomerID(req.CustomerID), rewards.ItemID(req.ItemID), req.Quantity)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toCartItemDTO(item))
}

// GetCart returns the priced cart.
// GET /api/customers/{id}/cart
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	id := rewards.CustomerID(chi.URLParam(r, "id"))

	if _, err := h.Store.GetActiveCustomer(r.Context(), id); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	cart, err := h.Cart.View(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toCartDTO(cart))
}

// UpdateCartItem sets the quantity of a cart line.
// PUT /api/cart/items/{id}
func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	var req UpdateCartItemRequest
	if !h.decode(w, r, &req) {
		return
	}

	id := rewards.CartItemID(chi.URLParam(r, "id"))
	if err := h.Cart.SetQuantity(r.Context(), id, *req.Quantity); err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RemoveCartItem deletes a cart line. Missing lines are not an error.
// DELETE /api/cart/items/{id}
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	id := rewards.CartItemID(chi.URLParam(r, "id"))
	if err := h.Cart.Remove(r.Context(), id); err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// REDEMPTION HANDLERS
// =============================================================================

// Redeem spends the cart against one of the customer's cards.
// POST /api/customers/{id}/redeem
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if !h.decode(w, r, &req) {
		return
	}

	id := rewards.CustomerID(chi.URLParam(r, "id"))
	record, err := h.Redemption.Redeem(r.Context(), id, rewards.CardID(req.CreditCardID))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toRedemptionDTO(record))
}

// ListRedemptions returns the customer's history, newest first.
// GET /api/customers/{id}/redemptions
func (h *Handler) ListRedemptions(w http.ResponseWriter, r *http.Request) {
	id := rewards.CustomerID(chi.URLParam(r, "id"))

	if _, err := h.Store.GetActiveCustomer(r.Context(), id); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	history, err := h.Balances.History(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	dtos := make([]RedemptionDTO, len(history))
	for i, rec := range history {
		dtos[i] = toRedemptionDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// REWARD HANDLERS
// =============================================================================

// ProcessCustomerRewards accrues points for every card of the customer.
// POST /api/customers/{id}/rewards/process
func (h *Handler) ProcessCustomerRewards(w http.ResponseWriter, r *http.Request) {
	id := rewards.CustomerID(chi.URLParam(r, "id"))
	result, err := h.Accrual.AccrueCustomer(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccrualDTO(result))
}

// ProcessCardRewards accrues points for one card.
// POST /api/cards/{id}/rewards/process
func (h *Handler) ProcessCardRewards(w http.ResponseWriter, r *http.Request) {
	id := rewards.CardID(chi.URLParam(r, "id"))
	result, err := h.Accrual.AccrueCard(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccrualDTO(result))
}

// GetBalance returns per-card and total balances.
// GET /api/customers/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := rewards.CustomerID(chi.URLParam(r, "id"))
	summary, err := h.Balances.Summary(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(summary))
}

func toAccrualDTO(res rewards.AccrualResult) AccrualDTO {
	return AccrualDTO{
		TransactionsProcessed: res.Processed,
		PointsAwarded:         rewards.FormatPoints(res.PointsAwarded),
		Balance:               toBalanceDTO(res.Balance),
	}
}

// =============================================================================
// CARD / CATALOG HANDLERS
// =============================================================================

// GenerateTransactions creates synthetic purchases for a card.
// POST /api/cards/{id}/transactions/generate
func (h *Handler) GenerateTransactions(w http.ResponseWriter, r *http.Request) {
	id := rewards.CardID(chi.URLParam(r, "id"))
	txs, err := h.Generator.Generate(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i, t := range txs {
		dtos[i] = toTransactionDTO(t)
	}
	writeJSON(w, http.StatusCreated, dtos)
}

// ListCardTransactions returns a card's purchases, newest first.
// GET /api/cards/{id}/transactions
func (h *Handler) ListCardTransactions(w http.ResponseWriter, r *http.Request) {
	id := rewards.CardID(chi.URLParam(r, "id"))

	if _, err := h.Store.GetCard(r.Context(), id); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	txs, err := h.Store.TransactionsByCard(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i, t := range txs {
		dtos[i] = toTransactionDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListCategories returns reward categories in display order.
// GET /api/catalog/categories
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.Store.Categories(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list categories", err)
		return
	}

	dtos := make([]CategoryDTO, len(categories))
	for i, c := range categories {
		dtos[i] = CategoryDTO{ID: string(c.ID), Name: c.Name, DisplayOrder: c.DisplayOrder}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListItems returns available catalog items.
// GET /api/catalog/items?category_id=
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	category := rewards.CategoryID(r.URL.Query().Get("category_id"))
	items, err := h.Store.Items(r.Context(), category)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list items", err)
		return
	}

	dtos := make([]CatalogItemDTO, len(items))
	for i, item := range items {
		dtos[i] = CatalogItemDTO{
			ID:          string(item.ID),
			CategoryID:  string(item.CategoryID),
			Name:        item.Name,
			Description: item.Description,
			PointsCost:  item.PointsCost,
			Available:   item.Available,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Health reports liveness.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode parses the JSON body into dst and validates it. On failure it has
// already written the 400 response.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	fields := make([]map[string]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, map[string]string{
			"field":   fe.Field(),
			"message": validationMessage(fe),
		})
	}
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   "Validation failed",
		Kind:    "validation",
		Details: map[string]any{"fields": fields},
	})
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// writeEngineError maps an engine error to its HTTP status.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	kind := rewards.KindOf(err)

	status := http.StatusInternalServerError
	message := err.Error()
	switch kind {
	case rewards.KindNotFound:
		status = http.StatusNotFound
	case rewards.KindBusinessRule:
		status = http.StatusBadRequest
	case rewards.KindInsufficientBalance:
		status = http.StatusUnprocessableEntity
	case rewards.KindConflict:
		status = http.StatusConflict
	default:
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		message = "Internal server error"
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}

	resp := ErrorResponse{Error: message, Kind: string(kind), Code: rewards.CodeOf(err)}
	var ib *rewards.InsufficientBalanceError
	if errors.As(err, &ib) {
		resp.Details = map[string]string{
			"card_id":   string(ib.CardID),
			"available": rewards.FormatPoints(ib.Available),
			"required":  rewards.FormatPoints(ib.Required),
			"shortfall": rewards.FormatPoints(ib.Shortfall()),
		}
	}
	writeJSON(w, status, resp)
}
