package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, p *Promotion) error
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Promotion, error)
	FindByID(ctx context.Context, db *gorm.DB, id int64) (*Promotion, error)
	List(ctx context.Context, db *gorm.DB, activeOnly bool) ([]Promotion, error)
	// ConsumeUse takes one usage slot and reports false when none was left.
	ConsumeUse(ctx context.Context, db *gorm.DB, id int64, now time.Time) (bool, error)
}
