package service

import (
	"context"
	"sort"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/orderflow/internal/clock"
	"github.com/smallbiznis/orderflow/internal/inventory/domain"
	"github.com/smallbiznis/orderflow/internal/keylock"
	"github.com/smallbiznis/orderflow/internal/observability/logger"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Arena *keylock.Arena
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	arena *keylock.Arena
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return NewService(p)
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("inventory.service"),
		genID: p.GenID,
		clock: p.Clock,
		arena: p.Arena,
		repo:  p.Repo,
	}
}

// Decrement removes qty units of productID or fails without touching stock.
func (s *Service) Decrement(ctx context.Context, tx *gorm.DB, productID, qty int64) error {
	return s.decrement(ctx, tx, nil, productID, qty)
}

// DecrementAll applies every line or none. Lines are processed in ascending
// product order; when one fails, the lines already taken are put back before
// the error is returned.
func (s *Service) DecrementAll(ctx context.Context, tx *gorm.DB, orderID int64, lines []domain.Line) error {
	ordered, err := normalizeLines(lines)
	if err != nil {
		return err
	}

	var orderRef *int64
	if orderID != 0 {
		orderRef = &orderID
	}

	applied := make([]domain.Line, 0, len(ordered))
	for _, line := range ordered {
		if err := s.decrement(ctx, tx, orderRef, line.ProductID, line.Quantity); err != nil {
			s.compensate(ctx, tx, orderRef, applied)
			return err
		}
		applied = append(applied, line)
	}
	return nil
}

func (s *Service) compensate(ctx context.Context, tx *gorm.DB, orderRef *int64, applied []domain.Line) {
	for i := len(applied) - 1; i >= 0; i-- {
		line := applied[i]
		if err := s.increment(ctx, tx, orderRef, line.ProductID, line.Quantity, domain.ReasonCompensate); err != nil {
			// The surrounding transaction rollback restores the row.
			logger.WithContext(ctx, s.log).Warn("compensating release failed",
				zap.Int64("product_id", line.ProductID),
				zap.Int64("quantity", line.Quantity),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) Release(ctx context.Context, tx *gorm.DB, productID, qty int64) error {
	if productID == 0 || qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	return s.increment(ctx, tx, nil, productID, qty, domain.ReasonRelease)
}

// ReleaseOrder returns the stock of an order once. Later calls for the same
// order report false and change nothing.
func (s *Service) ReleaseOrder(ctx context.Context, tx *gorm.DB, orderID int64, lines []domain.Line) (bool, error) {
	ordered, err := normalizeLines(lines)
	if err != nil {
		return false, err
	}

	first, err := s.repo.MarkReleased(ctx, tx, orderID, s.clock.Now())
	if err != nil {
		return false, err
	}
	if !first {
		return false, nil
	}

	for _, line := range ordered {
		if err := s.increment(ctx, tx, &orderID, line.ProductID, line.Quantity, domain.ReasonCancel); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Init creates the stock row for a new product.
func (s *Service) Init(ctx context.Context, tx *gorm.DB, productID, qty int64) error {
	if productID == 0 || qty < 0 {
		return domain.ErrInvalidQuantity
	}
	now := s.clock.Now()
	if err := s.repo.Insert(ctx, tx, &domain.Record{ProductID: productID, Available: qty, UpdatedAt: now}); err != nil {
		return err
	}
	if qty == 0 {
		return nil
	}
	return s.repo.InsertMovement(ctx, tx, &domain.Movement{
		ID:        s.genID.Generate().Int64(),
		ProductID: productID,
		Delta:     qty,
		Reason:    domain.ReasonInitial,
		CreatedAt: now,
	})
}

// Restock adds qty units under the product lock.
func (s *Service) Restock(ctx context.Context, productID, qty int64) (*domain.Record, error) {
	if productID == 0 || qty <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	release, err := s.arena.Lock(ctx, domain.LockKey(productID))
	if err != nil {
		return nil, err
	}
	defer release()

	var rec *domain.Record
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.increment(ctx, tx, nil, productID, qty, domain.ReasonRestock); err != nil {
			return err
		}
		var err error
		rec, err = s.repo.Get(ctx, tx, productID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("product restocked", zap.Int64("product_id", productID), zap.Int64("quantity", qty))
	return rec, nil
}

func (s *Service) Available(ctx context.Context, productIDs ...int64) (map[int64]int64, error) {
	return s.repo.ListAvailable(ctx, s.db, productIDs)
}

func (s *Service) Movements(ctx context.Context, productID int64, limit int) ([]domain.Movement, error) {
	return s.repo.ListMovements(ctx, s.db, productID, limit)
}

func (s *Service) decrement(ctx context.Context, tx *gorm.DB, orderRef *int64, productID, qty int64) error {
	if productID == 0 || qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	now := s.clock.Now()
	ok, err := s.repo.Decrement(ctx, tx, productID, qty, now)
	if err != nil {
		return err
	}
	if !ok {
		return &domain.OutOfStockError{ProductID: productID, Requested: qty}
	}
	return s.repo.InsertMovement(ctx, tx, &domain.Movement{
		ID:        s.genID.Generate().Int64(),
		ProductID: productID,
		OrderID:   orderRef,
		Delta:     -qty,
		Reason:    domain.ReasonCheckout,
		CreatedAt: now,
	})
}

func (s *Service) increment(ctx context.Context, tx *gorm.DB, orderRef *int64, productID, qty int64, reason string) error {
	now := s.clock.Now()
	ok, err := s.repo.Increment(ctx, tx, productID, qty, now)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	return s.repo.InsertMovement(ctx, tx, &domain.Movement{
		ID:        s.genID.Generate().Int64(),
		ProductID: productID,
		OrderID:   orderRef,
		Delta:     qty,
		Reason:    reason,
		CreatedAt: now,
	})
}

func normalizeLines(lines []domain.Line) ([]domain.Line, error) {
	ordered := make([]domain.Line, 0, len(lines))
	for _, line := range lines {
		if line.ProductID == 0 || line.Quantity <= 0 {
			return nil, domain.ErrInvalidQuantity
		}
		ordered = append(ordered, line)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ProductID < ordered[j].ProductID })
	return ordered, nil
}
