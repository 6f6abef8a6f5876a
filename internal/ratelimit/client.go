package ratelimit

import (
	"context"
	"errors"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/orderflow/internal/config"
)

// NewRedisClient returns nil when Redis is disabled. Rate limiting and the
// distributed idempotency lock both fall back to in-process behaviour then.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.Redis.Password),
		DB:       cfg.Redis.DB,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn("redis not reachable at startup", zap.String("addr", addr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}
