package repository

import (
	"context"
	"strings"
	"time"

	"github.com/smallbiznis/orderflow/internal/order/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const orderColumns = `id, reference, user_id, status, subtotal, discount, shipping_fee, total,
	promotion_id, promotion_code, payment_method, paid_amount, paid_at, review_required,
	created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, o *domain.Order) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID,
		o.Reference,
		o.UserID,
		o.Status,
		o.Subtotal,
		o.Discount,
		o.ShippingFee,
		o.Total,
		o.PromotionID,
		o.PromotionCode,
		o.PaymentMethod,
		o.PaidAmount,
		o.PaidAt,
		o.ReviewRequired,
		o.CreatedAt,
		o.UpdatedAt,
	).Error
}

func (r *repo) InsertItems(ctx context.Context, db *gorm.DB, items []domain.LineItem) error {
	for _, item := range items {
		err := db.WithContext(ctx).Exec(
			`INSERT INTO order_items (id, order_id, product_id, name, quantity, unit_price, line_total, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID,
			item.OrderID,
			item.ProductID,
			item.Name,
			item.Quantity,
			item.UnitPrice,
			item.LineTotal,
			item.CreatedAt,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id int64) (*domain.Order, error) {
	var o domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+`
		 FROM orders WHERE id = ?`,
		id,
	).Scan(&o).Error
	if err != nil {
		return nil, err
	}
	if o.ID == 0 {
		return nil, nil
	}
	return &o, nil
}

func (r *repo) FindByReference(ctx context.Context, db *gorm.DB, reference string) (*domain.Order, error) {
	var o domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+`
		 FROM orders WHERE reference = ?`,
		reference,
	).Scan(&o).Error
	if err != nil {
		return nil, err
	}
	if o.ID == 0 {
		return nil, nil
	}
	return &o, nil
}

func (r *repo) FindByReferencePrefix(ctx context.Context, db *gorm.DB, prefix string, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 2
	}
	var items []domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+`
		 FROM orders WHERE reference LIKE ? ESCAPE '\'
		 ORDER BY id ASC
		 LIMIT ?`,
		escapeLike(prefix)+"%",
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID string, cursor *domain.Cursor, limit int) ([]domain.Order, error) {
	var items []domain.Order
	stmt := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("user_id = ?", userID)
	if cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	err := stmt.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, orderID int64) ([]domain.LineItem, error) {
	var items []domain.LineItem
	err := db.WithContext(ctx).Raw(
		`SELECT id, order_id, product_id, name, quantity, unit_price, line_total, created_at
		 FROM order_items WHERE order_id = ?
		 ORDER BY product_id ASC`,
		orderID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id int64, from, to domain.OrderStatus, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE orders SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		to,
		now,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkPaid(ctx context.Context, db *gorm.DB, id int64, from, to domain.OrderStatus, payment domain.PaymentUpdate, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET status = ?, paid_amount = ?, paid_at = ?, review_required = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		to,
		payment.Amount,
		payment.PaidAt,
		payment.ReviewRequired,
		now,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FlagReview(ctx context.Context, db *gorm.DB, id int64, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE orders SET review_required = ?, updated_at = ?
		 WHERE id = ?`,
		true,
		now,
		id,
	).Error
}

func (r *repo) InsertStatusChange(ctx context.Context, db *gorm.DB, change *domain.StatusChange) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO order_status_history (id, order_id, from_status, to_status, reason, actor, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		change.ID,
		change.OrderID,
		change.FromStatus,
		change.ToStatus,
		change.Reason,
		change.Actor,
		change.CreatedAt,
	).Error
}

func (r *repo) ListStatusChanges(ctx context.Context, db *gorm.DB, orderID int64) ([]domain.StatusChange, error) {
	var items []domain.StatusChange
	err := db.WithContext(ctx).Raw(
		`SELECT id, order_id, from_status, to_status, reason, actor, created_at
		 FROM order_status_history WHERE order_id = ?
		 ORDER BY id ASC`,
		orderID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(value string) string {
	return likeEscaper.Replace(value)
}
