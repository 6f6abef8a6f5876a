package idempotency

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/orderflow/internal/config"
	"github.com/smallbiznis/orderflow/internal/idempotency/domain"
)

// CleanupConfig controls the expired-record purge loop.
type CleanupConfig struct {
	PollInterval time.Duration
	RunTimeout   time.Duration
}

func NewCleanupConfig(cfg config.Config) CleanupConfig {
	c := CleanupConfig{
		PollInterval: cfg.Idempotency.CleanupInterval,
		RunTimeout:   30 * time.Second,
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Minute
	}
	return c
}

type WorkerParams struct {
	fx.In

	Log     *zap.Logger
	Service domain.Service
	Config  CleanupConfig
}

type Worker struct {
	log *zap.Logger
	svc domain.Service
	cfg CleanupConfig
}

func NewWorker(p WorkerParams) *Worker {
	return &Worker{
		log: p.Log.Named("idempotency.cleanup"),
		svc: p.Service,
		cfg: p.Config,
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.log.Warn("idempotency cleanup failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) RunOnce(parentCtx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(parentCtx, w.cfg.RunTimeout)
	defer cancel()

	return w.svc.Purge(ctx)
}
