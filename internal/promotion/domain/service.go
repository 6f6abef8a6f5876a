package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Service interface {
	Price(ctx context.Context, code string, subtotal int64) (*Quote, error)
	PriceTx(ctx context.Context, tx *gorm.DB, code string, subtotal int64) (*Quote, error)
	Consume(ctx context.Context, tx *gorm.DB, promotionID int64) error
	Create(ctx context.Context, req CreateRequest) (*Promotion, error)
	List(ctx context.Context, activeOnly bool) ([]Promotion, error)
}

type CreateRequest struct {
	Code          string       `json:"code"`
	DiscountType  DiscountType `json:"discount_type"`
	Value         int64        `json:"value"`
	MinOrderValue int64        `json:"min_order_value"`
	MaxDiscount   *int64       `json:"max_discount"`
	UsageLimit    *int64       `json:"usage_limit"`
	StartsAt      *time.Time   `json:"starts_at"`
	EndsAt        *time.Time   `json:"ends_at"`
	Active        *bool        `json:"active"`
}

// ErrInvalidPromotion matches every promotion rejection regardless of reason.
var ErrInvalidPromotion = errors.New("invalid_promotion")

// InvalidPromotionError carries the reason a code was rejected.
type InvalidPromotionError struct {
	Reason string
}

func (e *InvalidPromotionError) Error() string { return e.Reason }

func (e *InvalidPromotionError) Is(target error) bool {
	if target == ErrInvalidPromotion {
		return true
	}
	other, ok := target.(*InvalidPromotionError)
	return ok && other.Reason == e.Reason
}

var (
	ErrCodeNotFound   error = &InvalidPromotionError{Reason: "code_not_found"}
	ErrCodeExpired    error = &InvalidPromotionError{Reason: "code_expired"}
	ErrUsageExhausted error = &InvalidPromotionError{Reason: "usage_exhausted"}
	ErrBelowMinimum   error = &InvalidPromotionError{Reason: "below_minimum"}
)

var (
	ErrInvalidCode         = errors.New("invalid_code")
	ErrInvalidDiscountType = errors.New("invalid_discount_type")
	ErrInvalidValue        = errors.New("invalid_value")
	ErrInvalidWindow       = errors.New("invalid_window")
	ErrCodeTaken           = errors.New("code_taken")
)
