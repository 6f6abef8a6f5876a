package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/orderflow/internal/idempotency/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindLive(ctx context.Context, db *gorm.DB, callerID, token string, notBefore time.Time) (*domain.Record, error) {
	var rec domain.Record
	err := db.WithContext(ctx).Raw(
		`SELECT caller_id, token, order_id, total, status, created_at
		 FROM idempotency_records
		 WHERE caller_id = ? AND token = ? AND created_at >= ?
		 LIMIT 1`,
		callerID,
		token,
		notBefore,
	).Scan(&rec).Error
	if err != nil {
		return nil, err
	}
	if rec.Token == "" {
		return nil, nil
	}
	return &rec, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, rec *domain.Record) (bool, error) {
	// gorm renders DoNothing per dialect; mysql gets ON DUPLICATE KEY UPDATE.
	res := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "caller_id"}, {Name: "token"}},
		DoNothing: true,
	}).Create(rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) DeleteExpired(ctx context.Context, db *gorm.DB, callerID, token string, before time.Time) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM idempotency_records
		 WHERE caller_id = ? AND token = ? AND created_at < ?`,
		callerID,
		token,
		before,
	).Error
}

func (r *repo) Purge(ctx context.Context, db *gorm.DB, before time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 500
	}
	res := db.WithContext(ctx).Exec(
		`DELETE FROM idempotency_records
		 WHERE (caller_id, token) IN (
			SELECT caller_id, token FROM idempotency_records
			WHERE created_at < ?
			ORDER BY created_at ASC
			LIMIT ?
		 )`,
		before,
		limit,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
