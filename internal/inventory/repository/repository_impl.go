package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/orderflow/internal/inventory/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, rec *domain.Record) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO inventory_records (product_id, available, updated_at)
		 VALUES (?, ?, ?)`,
		rec.ProductID,
		rec.Available,
		rec.UpdatedAt,
	).Error
}

func (r *repo) Get(ctx context.Context, db *gorm.DB, productID int64) (*domain.Record, error) {
	var rec domain.Record
	err := db.WithContext(ctx).Raw(
		`SELECT product_id, available, updated_at
		 FROM inventory_records
		 WHERE product_id = ?`,
		productID,
	).Scan(&rec).Error
	if err != nil {
		return nil, err
	}
	if rec.ProductID == 0 {
		return nil, nil
	}
	return &rec, nil
}

func (r *repo) ListAvailable(ctx context.Context, db *gorm.DB, productIDs []int64) (map[int64]int64, error) {
	out := make(map[int64]int64, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	var rows []domain.Record
	err := db.WithContext(ctx).Raw(
		`SELECT product_id, available, updated_at
		 FROM inventory_records
		 WHERE product_id IN ?`,
		productIDs,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ProductID] = row.Available
	}
	return out, nil
}

func (r *repo) Decrement(ctx context.Context, db *gorm.DB, productID, qty int64, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE inventory_records
		 SET available = available - ?, updated_at = ?
		 WHERE product_id = ? AND available >= ?`,
		qty,
		now,
		productID,
		qty,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Increment(ctx context.Context, db *gorm.DB, productID, qty int64, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE inventory_records
		 SET available = available + ?, updated_at = ?
		 WHERE product_id = ?`,
		qty,
		now,
		productID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkReleased(ctx context.Context, db *gorm.DB, orderID int64, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoNothing: true,
	}).Create(&domain.Release{OrderID: orderID, ReleasedAt: now})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertMovement(ctx context.Context, db *gorm.DB, m *domain.Movement) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO inventory_movements (id, product_id, order_id, delta, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID,
		m.ProductID,
		m.OrderID,
		m.Delta,
		m.Reason,
		m.CreatedAt,
	).Error
}

func (r *repo) ListMovements(ctx context.Context, db *gorm.DB, productID int64, limit int) ([]domain.Movement, error) {
	if limit <= 0 {
		limit = 50
	}
	var items []domain.Movement
	err := db.WithContext(ctx).Raw(
		`SELECT id, product_id, order_id, delta, reason, created_at
		 FROM inventory_movements
		 WHERE product_id = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		productID,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
