package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/orderflow/internal/promotion/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const promotionColumns = `id, code, discount_type, value, min_order_value, max_discount,
	usage_limit, remaining_uses, times_used, starts_at, ends_at, active, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, p *domain.Promotion) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO promotions (`+promotionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.Code,
		p.DiscountType,
		p.Value,
		p.MinOrderValue,
		p.MaxDiscount,
		p.UsageLimit,
		p.RemainingUses,
		p.TimesUsed,
		p.StartsAt,
		p.EndsAt,
		p.Active,
		p.CreatedAt,
		p.UpdatedAt,
	).Error
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Promotion, error) {
	var p domain.Promotion
	err := db.WithContext(ctx).Raw(
		`SELECT `+promotionColumns+`
		 FROM promotions WHERE code = ?
		 LIMIT 1`,
		code,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, nil
	}
	return &p, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id int64) (*domain.Promotion, error) {
	var p domain.Promotion
	err := db.WithContext(ctx).Raw(
		`SELECT `+promotionColumns+`
		 FROM promotions WHERE id = ?`,
		id,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, nil
	}
	return &p, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, activeOnly bool) ([]domain.Promotion, error) {
	var items []domain.Promotion
	stmt := db.WithContext(ctx).Model(&domain.Promotion{})
	if activeOnly {
		stmt = stmt.Where("active = ?", true)
	}
	if err := stmt.Order("created_at DESC").Order("id DESC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ConsumeUse(ctx context.Context, db *gorm.DB, id int64, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE promotions
		 SET remaining_uses = CASE WHEN remaining_uses IS NULL THEN NULL ELSE remaining_uses - 1 END,
			times_used = times_used + 1,
			updated_at = ?
		 WHERE id = ? AND (remaining_uses IS NULL OR remaining_uses > 0)`,
		now,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
