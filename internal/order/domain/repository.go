package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Cursor positions a page of a user's orders, newest first.
type Cursor struct {
	CreatedAt time.Time
	ID        int64
}

type PaymentUpdate struct {
	Amount         int64
	PaidAt         time.Time
	ReviewRequired bool
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	InsertItems(ctx context.Context, db *gorm.DB, items []LineItem) error
	FindByID(ctx context.Context, db *gorm.DB, id int64) (*Order, error)
	FindByReference(ctx context.Context, db *gorm.DB, reference string) (*Order, error)
	FindByReferencePrefix(ctx context.Context, db *gorm.DB, prefix string, limit int) ([]Order, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID string, cursor *Cursor, limit int) ([]Order, error)
	ListItems(ctx context.Context, db *gorm.DB, orderID int64) ([]LineItem, error)
	// UpdateStatus moves the order from one status to another and reports
	// false when the stored status no longer matched from.
	UpdateStatus(ctx context.Context, db *gorm.DB, id int64, from, to OrderStatus, now time.Time) (bool, error)
	MarkPaid(ctx context.Context, db *gorm.DB, id int64, from, to OrderStatus, payment PaymentUpdate, now time.Time) (bool, error)
	FlagReview(ctx context.Context, db *gorm.DB, id int64, now time.Time) error
	InsertStatusChange(ctx context.Context, db *gorm.DB, change *StatusChange) error
	ListStatusChanges(ctx context.Context, db *gorm.DB, orderID int64) ([]StatusChange, error)
}
