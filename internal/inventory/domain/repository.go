package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, rec *Record) error
	Get(ctx context.Context, db *gorm.DB, productID int64) (*Record, error)
	ListAvailable(ctx context.Context, db *gorm.DB, productIDs []int64) (map[int64]int64, error)
	// Decrement subtracts qty only when enough stock remains and reports whether it did.
	Decrement(ctx context.Context, db *gorm.DB, productID, qty int64, now time.Time) (bool, error)
	Increment(ctx context.Context, db *gorm.DB, productID, qty int64, now time.Time) (bool, error)
	// MarkReleased inserts the release marker and reports false when it already existed.
	MarkReleased(ctx context.Context, db *gorm.DB, orderID int64, now time.Time) (bool, error)
	InsertMovement(ctx context.Context, db *gorm.DB, m *Movement) error
	ListMovements(ctx context.Context, db *gorm.DB, productID int64, limit int) ([]Movement, error)
}
