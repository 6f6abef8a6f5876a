package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/smallbiznis/orderflow/internal/config"
)

const keyCheckoutCaller = "orderflow:ratelimit:checkout:%s"

// CheckoutLimiter throttles checkout submissions per caller. A nil or
// disabled limiter admits everything.
type CheckoutLimiter struct {
	bucket Bucket
	rate   float64
	burst  int
	log    *zap.Logger
}

func NewCheckoutLimiter(cfg config.Config, bucket *TokenBucket, log *zap.Logger) *CheckoutLimiter {
	if !cfg.RateLimit.Enabled || bucket == nil {
		return nil
	}
	return NewCheckoutLimiterWith(bucket, cfg.RateLimit.CheckoutRate, cfg.RateLimit.CheckoutBurst, log)
}

func NewCheckoutLimiterWith(bucket Bucket, rate float64, burst int, log *zap.Logger) *CheckoutLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &CheckoutLimiter{
		bucket: bucket,
		rate:   rate,
		burst:  burst,
		log:    log.Named("ratelimit.checkout"),
	}
}

func (l *CheckoutLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow fails open when the bucket store is unavailable.
func (l *CheckoutLimiter) Allow(ctx context.Context, callerID string) *Result {
	if !l.Enabled() {
		return &Result{Allowed: true}
	}
	key := fmt.Sprintf(keyCheckoutCaller, strings.TrimSpace(callerID))
	res, err := l.bucket.Allow(ctx, key, l.rate, l.burst)
	if err != nil {
		l.log.Warn("checkout rate limit unavailable", zap.Error(err))
		return &Result{Allowed: true}
	}
	return res
}
