package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Service adjusts stock. Callers that mutate stock inside a transaction are
// expected to hold the product locks (LockKey) before opening it.
type Service interface {
	Decrement(ctx context.Context, tx *gorm.DB, productID, qty int64) error
	DecrementAll(ctx context.Context, tx *gorm.DB, orderID int64, lines []Line) error
	Release(ctx context.Context, tx *gorm.DB, productID, qty int64) error
	ReleaseOrder(ctx context.Context, tx *gorm.DB, orderID int64, lines []Line) (bool, error)
	Init(ctx context.Context, tx *gorm.DB, productID, qty int64) error
	Restock(ctx context.Context, productID, qty int64) (*Record, error)
	Available(ctx context.Context, productIDs ...int64) (map[int64]int64, error)
	Movements(ctx context.Context, productID int64, limit int) ([]Movement, error)
}

var (
	ErrInsufficientStock = errors.New("insufficient_stock")
	ErrInvalidQuantity   = errors.New("invalid_quantity")
	ErrNotFound          = errors.New("inventory_not_found")
)

// OutOfStockError names the product that could not be fulfilled.
type OutOfStockError struct {
	ProductID int64
	Requested int64
}

func (e *OutOfStockError) Error() string { return ErrInsufficientStock.Error() }

func (e *OutOfStockError) Is(target error) bool { return target == ErrInsufficientStock }
