package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	// FindLive returns the record for the key created at or after notBefore, or nil.
	FindLive(ctx context.Context, db *gorm.DB, callerID, token string, notBefore time.Time) (*Record, error)
	// Insert stores rec unless a row for the key already exists.
	Insert(ctx context.Context, db *gorm.DB, rec *Record) (bool, error)
	DeleteExpired(ctx context.Context, db *gorm.DB, callerID, token string, before time.Time) error
	Purge(ctx context.Context, db *gorm.DB, before time.Time, limit int) (int64, error)
}
