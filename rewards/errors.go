/*
errors.go - Centralized error types for the reward engine

ERROR CATEGORIES:
  1. Not found       - referenced entity absent or soft-deleted
  2. Business rule   - invariant-level rejection (empty cart, unavailable item,
                       card not owned by customer, duplicate card number)
  3. Insufficient    - balance lower than the cart cost; surfaced on its own
                       because it is the common user-facing rejection
  4. Conflict        - optimistic lock lost more times than the retry budget

Every error exposes a stable Kind and Code so that callers (the HTTP layer,
tests) never parse messages.

USAGE:
  if errors.Is(err, rewards.ErrInsufficientBalance) { ... }

  var nf *rewards.NotFoundError
  if errors.As(err, &nf) { log(nf.Entity, nf.ID) }
*/
package rewards

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrBusinessRule is returned when an operation would break an invariant.
	ErrBusinessRule = errors.New("business rule violation")

	// ErrInsufficientBalance is returned when a redemption costs more than the
	// card balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrConcurrentModification is returned by stores when a conditional write
	// lost a race (ledger version changed, transaction already processed).
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// KINDS AND CODES
// =============================================================================

// Kind is the stable category of an engine error.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindBusinessRule        Kind = "business_rule_violation"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindConflict            Kind = "conflict"
	KindInternal            Kind = "internal"
)

const (
	CodeCustomerNotFound       = "ERR_101"
	CodeCardNotFound           = "ERR_103"
	CodeTransactionNotFound    = "ERR_104"
	CodeItemNotFound           = "ERR_105"
	CodeCartItemNotFound       = "ERR_106"
	CodeLedgerNotFound         = "ERR_107"
	CodeDuplicateCard          = "ERR_201"
	CodeInsufficientBalance    = "ERR_205"
	CodeEmptyCart              = "ERR_206"
	CodeItemUnavailable        = "ERR_209"
	CodeCardNotOwned           = "ERR_210"
	CodeInvalidQuantity        = "ERR_211"
	CodeConcurrentModification = "ERR_300"
)

// Entity names used in NotFoundError.
const (
	EntityCustomer    = "customer"
	EntityCard        = "credit card"
	EntityTransaction = "transaction"
	EntityItem        = "reward item"
	EntityCartItem    = "cart item"
	EntityLedger      = "reward ledger"
)

var notFoundCodes = map[string]string{
	EntityCustomer:    CodeCustomerNotFound,
	EntityCard:        CodeCardNotFound,
	EntityTransaction: CodeTransactionNotFound,
	EntityItem:        CodeItemNotFound,
	EntityCartItem:    CodeCartItemNotFound,
	EntityLedger:      CodeLedgerNotFound,
}

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func NewNotFound(entity string, id any) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: fmt.Sprint(id)}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found with id: %s", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Code returns the stable error code for the missing entity.
func (e *NotFoundError) Code() string {
	if c, ok := notFoundCodes[e.Entity]; ok {
		return c
	}
	return "ERR_100"
}

// RuleViolationError reports an invariant-level rejection.
type RuleViolationError struct {
	RuleCode string
	Message  string
}

func NewRuleViolation(code, format string, args ...any) *RuleViolationError {
	return &RuleViolationError{RuleCode: code, Message: fmt.Sprintf(format, args...)}
}

func (e *RuleViolationError) Error() string { return e.Message }
func (e *RuleViolationError) Unwrap() error { return ErrBusinessRule }
func (e *RuleViolationError) Code() string  { return e.RuleCode }

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	CardID    CardID
	Available Points
	Required  Points
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient reward balance. Required: %s, Available: %s",
		FormatPoints(e.Required), FormatPoints(e.Available))
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }
func (e *InsufficientBalanceError) Code() string  { return CodeInsufficientBalance }

// Shortfall is how many points are missing.
func (e *InsufficientBalanceError) Shortfall() Points { return e.Required.Sub(e.Available) }

// ConflictError is returned once the retry budget for optimistic updates is spent.
type ConflictError struct {
	Op       string
	Attempts int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Op, e.Attempts, ErrConcurrentModification)
}

func (e *ConflictError) Unwrap() error { return ErrConcurrentModification }
func (e *ConflictError) Code() string  { return CodeConcurrentModification }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrBusinessRule) || errors.Is(err, ErrInsufficientBalance)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInsufficientBalance):
		return KindInsufficientBalance
	case errors.Is(err, ErrBusinessRule):
		return KindBusinessRule
	case errors.Is(err, ErrConcurrentModification):
		return KindConflict
	default:
		return KindInternal
	}
}

// CodeOf returns the stable code carried by err, or "" if it has none.
func CodeOf(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return ""
}
