package repository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/smallbiznis/orderflow/internal/payment/domain"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const eventColumns = `id, event_id, reference_text, amount, direction, token, order_id,
	outcome, review_required, correlation_id, payload, received_at, processed_at`

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, eventID string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+eventColumns+`
		 FROM payment_events
		 WHERE event_id = ?
		 LIMIT 1`,
		eventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, event *domain.EventRecord, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET token = ?, order_id = ?, outcome = ?, review_required = ?, processed_at = ?
		 WHERE id = ? AND processed_at IS NULL`,
		event.Token,
		event.OrderID,
		event.Outcome,
		event.ReviewRequired,
		processedAt,
		event.ID,
	).Error
}

func (r *repo) ListEvents(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.EventRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.ReviewOnly {
		where = append(where, "review_required = ?")
		args = append(args, true)
	}
	if filter.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, filter.Outcome)
	}

	query := `SELECT ` + eventColumns + ` FROM payment_events`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY received_at DESC, id DESC LIMIT ?`
	args = append(args, filter.Limit)

	var items []domain.EventRecord
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
