package domain

import (
	"context"
	"errors"

	orderdomain "github.com/smallbiznis/orderflow/internal/order/domain"
)

// MaxLines bounds the number of distinct products in one checkout.
const MaxLines = 100

type Service interface {
	// Checkout turns a cart into an order. The bool reports whether the
	// result was replayed from an earlier request with the same token.
	Checkout(ctx context.Context, req Request) (*Result, bool, error)
}

type LineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

type Request struct {
	CallerID      string                    `json:"-"`
	Token         string                    `json:"-"`
	Lines         []LineRequest             `json:"items"`
	PromotionCode string                    `json:"promotion_code"`
	PaymentMethod orderdomain.PaymentMethod `json:"payment_method"`
}

type Result struct {
	OrderID string `json:"order_id"`
	Total   int64  `json:"total"`
	Status  string `json:"status"`
}

// ErrValidation matches every ValidationError.
var ErrValidation = errors.New("validation_error")

// ValidationError reports a malformed checkout request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

var (
	ErrMissingCaller     = invalid("caller", "required")
	ErrNoLines           = invalid("items", "at least one item is required")
	ErrTooManyLines      = invalid("items", "too many items")
	ErrInvalidProduct    = invalid("items.product_id", "invalid product id")
	ErrInvalidQuantity   = invalid("items.quantity", "must be greater than zero")
	ErrDuplicateProduct  = invalid("items.product_id", "duplicate product")
	ErrUnknownProduct    = invalid("items.product_id", "unknown or inactive product")
	ErrQuantityTooLarge  = invalid("items.quantity", "too large")
	ErrInvalidPayment    = invalid("payment_method", "must be cod or bank_transfer")
	ErrInvalidPromoInput = invalid("promotion_code", "too long")
)
