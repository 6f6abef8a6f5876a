package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/orderflow/internal/clock"
	"github.com/smallbiznis/orderflow/internal/promotion/domain"
	"github.com/smallbiznis/orderflow/pkg/db"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return NewService(p)
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("promotion.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// Price quotes code against subtotal without consuming a usage slot.
func (s *Service) Price(ctx context.Context, code string, subtotal int64) (*domain.Quote, error) {
	return s.PriceTx(ctx, s.db, code, subtotal)
}

func (s *Service) PriceTx(ctx context.Context, tx *gorm.DB, code string, subtotal int64) (*domain.Quote, error) {
	normalized := domain.NormalizeCode(code)
	if normalized == "" {
		return nil, domain.ErrCodeNotFound
	}

	promo, err := s.repo.FindByCode(ctx, tx, normalized)
	if err != nil {
		return nil, err
	}
	discount, err := domain.Evaluate(promo, subtotal, s.clock.Now())
	if err != nil {
		return nil, err
	}
	return &domain.Quote{
		PromotionID: promo.ID,
		Code:        promo.Code,
		Discount:    discount,
	}, nil
}

// Consume takes one usage slot. Losing the race for the last slot reports
// usage_exhausted.
func (s *Service) Consume(ctx context.Context, tx *gorm.DB, promotionID int64) error {
	ok, err := s.repo.ConsumeUse(ctx, tx, promotionID, s.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrUsageExhausted
	}
	return nil
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Promotion, error) {
	code := domain.NormalizeCode(req.Code)
	if code == "" || len(code) > 64 {
		return nil, domain.ErrInvalidCode
	}
	switch req.DiscountType {
	case domain.DiscountPercentage:
		if req.Value <= 0 || req.Value > 100 {
			return nil, domain.ErrInvalidValue
		}
	case domain.DiscountFixed:
		if req.Value <= 0 {
			return nil, domain.ErrInvalidValue
		}
	default:
		return nil, domain.ErrInvalidDiscountType
	}
	if req.MinOrderValue < 0 {
		return nil, domain.ErrInvalidValue
	}
	if req.MaxDiscount != nil && *req.MaxDiscount < 0 {
		return nil, domain.ErrInvalidValue
	}
	if req.UsageLimit != nil && *req.UsageLimit < 0 {
		return nil, domain.ErrInvalidValue
	}
	if req.StartsAt != nil && req.EndsAt != nil && !req.EndsAt.After(*req.StartsAt) {
		return nil, domain.ErrInvalidWindow
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	now := s.clock.Now()
	promo := &domain.Promotion{
		ID:            s.genID.Generate().Int64(),
		Code:          code,
		DiscountType:  req.DiscountType,
		Value:         req.Value,
		MinOrderValue: req.MinOrderValue,
		MaxDiscount:   req.MaxDiscount,
		UsageLimit:    req.UsageLimit,
		StartsAt:      utcPtr(req.StartsAt),
		EndsAt:        utcPtr(req.EndsAt),
		Active:        active,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.UsageLimit != nil {
		remaining := *req.UsageLimit
		promo.RemainingUses = &remaining
	}

	if err := s.repo.Insert(ctx, s.db, promo); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrCodeTaken
		}
		return nil, err
	}
	s.log.Info("promotion created", zap.String("code", code), zap.String("discount_type", string(req.DiscountType)))
	return promo, nil
}

func (s *Service) List(ctx context.Context, activeOnly bool) ([]domain.Promotion, error) {
	return s.repo.List(ctx, s.db, activeOnly)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
