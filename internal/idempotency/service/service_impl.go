package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/orderflow/internal/clock"
	"github.com/smallbiznis/orderflow/internal/config"
	"github.com/smallbiznis/orderflow/internal/idempotency/domain"
	"github.com/smallbiznis/orderflow/internal/keylock"
	"github.com/smallbiznis/orderflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/orderflow/internal/observability/metrics"
)

const maxTokenLength = 255

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Cfg         config.Config
	Clock       clock.Clock
	Arena       *keylock.Arena
	Distributed keylock.Locker `name:"distributed" optional:"true"`
	Repo        domain.Repository
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	locker     keylock.Locker
	repo       domain.Repository
	ttl        time.Duration
	batch      int
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return NewService(p)
}

func NewService(p Params) *Service {
	var locker keylock.Locker = p.Arena
	if p.Distributed != nil {
		locker = p.Distributed
	}
	ttl := p.Cfg.Idempotency.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("idempotency.service"),
		clock:      p.Clock,
		locker:     locker,
		repo:       p.Repo,
		ttl:        ttl,
		batch:      p.Cfg.Idempotency.CleanupBatch,
		obsMetrics: p.ObsMetrics,
	}
}

// Admit runs compute at most once per live key. A duplicate request waits for
// the first to finish and then receives its stored result with replayed set.
func (s *Service) Admit(ctx context.Context, key domain.Key, compute domain.ComputeFunc) (domain.Result, bool, error) {
	key.CallerID = strings.TrimSpace(key.CallerID)
	key.Token = strings.TrimSpace(key.Token)
	if key.CallerID == "" {
		return domain.Result{}, false, domain.ErrInvalidCaller
	}
	if len(key.Token) > maxTokenLength {
		return domain.Result{}, false, domain.ErrInvalidToken
	}
	if !key.Enabled() {
		result, err := compute(ctx, func(context.Context, *gorm.DB, domain.Result) error { return nil })
		return result, false, err
	}

	release, err := s.locker.Lock(ctx, lockKey(key))
	if err != nil {
		if errors.Is(err, keylock.ErrHeld) {
			return domain.Result{}, false, domain.ErrRequestInProgress
		}
		return domain.Result{}, false, err
	}
	defer release()

	existing, err := s.repo.FindLive(ctx, s.db, key.CallerID, key.Token, s.clock.Now().Add(-s.ttl))
	if err != nil {
		return domain.Result{}, false, err
	}
	if existing != nil {
		logger.WithContext(ctx, s.log).Info("idempotent replay",
			zap.String("caller_id", key.CallerID),
			zap.Int64("order_id", existing.OrderID),
		)
		return domain.Result{
			OrderID: existing.OrderID,
			Total:   existing.Total,
			Status:  existing.Status,
		}, true, nil
	}

	recorded := false
	recorder := func(ctx context.Context, tx *gorm.DB, result domain.Result) error {
		if err := s.store(ctx, tx, key, result); err != nil {
			return err
		}
		recorded = true
		return nil
	}

	result, err := compute(ctx, recorder)
	if err != nil {
		return domain.Result{}, false, err
	}
	if !recorded {
		if err := s.store(ctx, s.db, key, result); err != nil {
			return domain.Result{}, false, err
		}
	}
	return result, false, nil
}

func (s *Service) store(ctx context.Context, db *gorm.DB, key domain.Key, result domain.Result) error {
	now := s.clock.Now()
	if err := s.repo.DeleteExpired(ctx, db, key.CallerID, key.Token, now.Add(-s.ttl)); err != nil {
		return err
	}
	inserted, err := s.repo.Insert(ctx, db, &domain.Record{
		CallerID:  key.CallerID,
		Token:     key.Token,
		OrderID:   result.OrderID,
		Total:     result.Total,
		Status:    result.Status,
		CreatedAt: now,
	})
	if err != nil {
		return err
	}
	if !inserted {
		return domain.ErrRequestInProgress
	}
	return nil
}

// Purge deletes records older than the TTL in batches and returns how many went.
func (s *Service) Purge(ctx context.Context) (int64, error) {
	before := s.clock.Now().Add(-s.ttl)
	batch := s.batch
	if batch <= 0 {
		batch = 500
	}

	var total int64
	for {
		n, err := s.repo.Purge(ctx, s.db, before, batch)
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(batch) {
			break
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}

	if total > 0 {
		s.log.Info("purged expired idempotency records", zap.Int64("count", total))
		if s.obsMetrics != nil {
			s.obsMetrics.RecordIdempotencyPurged(ctx, total)
		}
	}
	return total, nil
}

func lockKey(key domain.Key) string {
	return keylock.Key("idem", key.CallerID, key.Token)
}
