package domain

import (
	"strconv"
	"time"

	"github.com/smallbiznis/orderflow/internal/keylock"
)

// OrderStatus represents lifecycle states for an order.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusAwaitingPayment OrderStatus = "awaiting_payment"
	OrderStatusConfirmed       OrderStatus = "confirmed"
	OrderStatusShipping        OrderStatus = "shipping"
	OrderStatusDelivered       OrderStatus = "delivered"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

// Statuses lists every lifecycle state.
var Statuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusAwaitingPayment,
	OrderStatusConfirmed,
	OrderStatusShipping,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusAwaitingPayment, OrderStatusConfirmed,
		OrderStatusShipping, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no transition leaves s.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// Paid reports whether payment has been accepted for an order in s.
func (s OrderStatus) Paid() bool {
	return s == OrderStatusConfirmed || s == OrderStatusShipping || s == OrderStatusDelivered
}

// AwaitingConfirmation reports whether a payment may still confirm an order in s.
func (s OrderStatus) AwaitingConfirmation() bool {
	return s == OrderStatusPending || s == OrderStatusAwaitingPayment
}

// CanTransition reports whether current may move to target.
func CanTransition(current, target OrderStatus) bool {
	switch current {
	case OrderStatusPending:
		return target == OrderStatusAwaitingPayment || target == OrderStatusConfirmed || target == OrderStatusCancelled
	case OrderStatusAwaitingPayment:
		return target == OrderStatusConfirmed || target == OrderStatusCancelled
	case OrderStatusConfirmed:
		return target == OrderStatusShipping || target == OrderStatusCancelled
	case OrderStatusShipping:
		return target == OrderStatusDelivered
	default:
		return false
	}
}

type PaymentMethod string

const (
	PaymentMethodCOD          PaymentMethod = "cod"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodCOD || m == PaymentMethodBankTransfer
}

// InitialStatus is the status a new order starts in for the payment method.
func (m PaymentMethod) InitialStatus() OrderStatus {
	if m == PaymentMethodBankTransfer {
		return OrderStatusAwaitingPayment
	}
	return OrderStatusPending
}

type Order struct {
	ID             int64         `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Reference      string        `json:"reference" gorm:"size:32;not null;uniqueIndex:ux_orders_reference"`
	UserID         string        `json:"user_id" gorm:"size:128;not null;index:idx_orders_user_created,priority:1"`
	Status         OrderStatus   `json:"status" gorm:"size:32;not null"`
	Subtotal       int64         `json:"subtotal" gorm:"not null"`
	Discount       int64         `json:"discount" gorm:"not null;default:0"`
	ShippingFee    int64         `json:"shipping_fee" gorm:"not null;default:0"`
	Total          int64         `json:"total" gorm:"not null;check:chk_orders_total,total >= 0"`
	PromotionID    *int64        `json:"promotion_id,omitempty"`
	PromotionCode  *string       `json:"promotion_code,omitempty" gorm:"size:64"`
	PaymentMethod  PaymentMethod `json:"payment_method" gorm:"size:32;not null"`
	PaidAmount     *int64        `json:"paid_amount,omitempty"`
	PaidAt         *time.Time    `json:"paid_at,omitempty"`
	ReviewRequired bool          `json:"review_required" gorm:"not null;default:false"`
	CreatedAt      time.Time     `json:"created_at" gorm:"not null;index:idx_orders_user_created,priority:2"`
	UpdatedAt      time.Time     `json:"updated_at" gorm:"not null"`

	Items []LineItem `json:"items,omitempty" gorm:"-"`
}

func (Order) TableName() string { return "orders" }

// Reference formats the correlation token for an order id.
func Reference(id int64) string {
	return strconv.FormatInt(id, 10)
}

// LockKey names the critical section guarding an order's status.
func LockKey(orderID int64) string {
	return keylock.Key("order", strconv.FormatInt(orderID, 10))
}

type LineItem struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement:false"`
	OrderID   int64     `json:"order_id" gorm:"not null;index:idx_order_items_order"`
	ProductID int64     `json:"product_id" gorm:"not null"`
	Name      string    `json:"name" gorm:"size:255;not null"`
	Quantity  int64     `json:"quantity" gorm:"not null"`
	UnitPrice int64     `json:"unit_price" gorm:"not null"`
	LineTotal int64     `json:"line_total" gorm:"not null"`
	CreatedAt time.Time `json:"created_at" gorm:"not null"`
}

func (LineItem) TableName() string { return "order_items" }

// StatusChange is one row of an order's transition history.
type StatusChange struct {
	ID         int64       `json:"id" gorm:"primaryKey;autoIncrement:false"`
	OrderID    int64       `json:"order_id" gorm:"not null;index:idx_order_status_history_order"`
	FromStatus OrderStatus `json:"from_status" gorm:"size:32"`
	ToStatus   OrderStatus `json:"to_status" gorm:"size:32;not null"`
	Reason     string      `json:"reason" gorm:"size:255"`
	Actor      string      `json:"actor" gorm:"size:128"`
	CreatedAt  time.Time   `json:"created_at" gorm:"not null"`
}

func (StatusChange) TableName() string { return "order_status_history" }
