package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/orderflow/pkg/db/pagination"
	"gorm.io/gorm"
)

type Service interface {
	// Create inserts a new order in its initial status using tx. It is the only
	// way orders come into existence.
	Create(ctx context.Context, tx *gorm.DB, req CreateRequest) (*Order, error)
	Get(ctx context.Context, id int64) (*Order, error)
	GetForUser(ctx context.Context, userID string, id string) (*Order, error)
	List(ctx context.Context, userID string, page pagination.Pagination) ([]Order, pagination.PageInfo, error)
	Transition(ctx context.Context, id string, target OrderStatus, opts TransitionOptions) (*Order, error)
	Cancel(ctx context.Context, userID string, id string, reason string) (*Order, error)
	// ConfirmPayment confirms order inside tx. The caller holds the order lock.
	ConfirmPayment(ctx context.Context, tx *gorm.DB, order *Order, payment PaymentUpdate) error
	// FlagForReview marks order for manual review without changing its status.
	FlagForReview(ctx context.Context, tx *gorm.DB, order *Order) error
	FindByReference(ctx context.Context, tx *gorm.DB, token string) ([]Order, error)
	LockOrder(ctx context.Context, id int64) (func(), error)
	History(ctx context.Context, id string) ([]StatusChange, error)
}

type CreateItem struct {
	ProductID int64
	Name      string
	Quantity  int64
	UnitPrice int64
}

type CreateRequest struct {
	ID            int64
	UserID        string
	Items         []CreateItem
	Discount      int64
	ShippingFee   int64
	PromotionID   *int64
	PromotionCode *string
	PaymentMethod PaymentMethod
}

type TransitionOptions struct {
	Reason string
	Actor  string
}

// Response is the wire form of an order.
type Response struct {
	ID             string         `json:"id"`
	Reference      string         `json:"reference"`
	UserID         string         `json:"user_id"`
	Status         OrderStatus    `json:"status"`
	Subtotal       int64          `json:"subtotal"`
	Discount       int64          `json:"discount"`
	ShippingFee    int64          `json:"shipping_fee"`
	Total          int64          `json:"total"`
	PromotionCode  *string        `json:"promotion_code,omitempty"`
	PaymentMethod  PaymentMethod  `json:"payment_method"`
	PaidAmount     *int64         `json:"paid_amount,omitempty"`
	PaidAt         *time.Time     `json:"paid_at,omitempty"`
	ReviewRequired bool           `json:"review_required"`
	Items          []ItemResponse `json:"items,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type ItemResponse struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	LineTotal int64  `json:"line_total"`
}

var (
	ErrInvalidOrder         = errors.New("invalid_order")
	ErrInvalidUser          = errors.New("invalid_user")
	ErrInvalidItems         = errors.New("invalid_items")
	ErrInvalidQuantity      = errors.New("invalid_quantity")
	ErrInvalidPaymentMethod = errors.New("invalid_payment_method")
	ErrInvalidTotal         = errors.New("invalid_total")
	ErrInvalidTargetStatus  = errors.New("invalid_target_status")
	ErrInvalidTransition    = errors.New("invalid_transition")
	ErrOrderNotFound        = errors.New("order_not_found")
	ErrConcurrentUpdate     = errors.New("concurrent_update")
)
