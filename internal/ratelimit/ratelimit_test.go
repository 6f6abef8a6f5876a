package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/orderflow/internal/config"
)

type mockBucket struct {
	mock.Mock
}

func (m *mockBucket) Allow(ctx context.Context, key string, rate float64, burst int) (*Result, error) {
	args := m.Called(ctx, key, rate, burst)
	res, _ := args.Get(0).(*Result)
	return res, args.Error(1)
}

func TestCheckoutLimiterDisabled(t *testing.T) {
	assert.Nil(t, NewCheckoutLimiter(config.Config{}, nil, zap.NewNop()))

	var limiter *CheckoutLimiter
	assert.False(t, limiter.Enabled())
	assert.True(t, limiter.Allow(context.Background(), "user-1").Allowed)
}

func TestCheckoutLimiterKeysByCaller(t *testing.T) {
	bucket := &mockBucket{}
	bucket.On("Allow", mock.Anything, "orderflow:ratelimit:checkout:user-1", 2.0, 5).
		Return(&Result{Allowed: false, Limit: 5, RetryAfter: time.Second}, nil).Once()

	limiter := NewCheckoutLimiterWith(bucket, 2, 5, nil)
	res := limiter.Allow(context.Background(), " user-1 ")
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Second, res.RetryAfter)
	bucket.AssertExpectations(t)
}

func TestCheckoutLimiterFailsOpen(t *testing.T) {
	bucket := &mockBucket{}
	bucket.On("Allow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("connection refused"))

	limiter := NewCheckoutLimiterWith(bucket, 1, 1, zap.NewNop())
	assert.True(t, limiter.Allow(context.Background(), "user-1").Allowed)
}

func TestBucketResult(t *testing.T) {
	denied := bucketResult(false, 0.25, 1_700_000_000_000, 0.5, 3)
	assert.False(t, denied.Allowed)
	assert.Equal(t, 1500*time.Millisecond, denied.RetryAfter)
	assert.Equal(t, 0, denied.Remaining)
	assert.Equal(t, 3, denied.Limit)

	allowed := bucketResult(true, 2.9, 1_700_000_000_000, 1, 3)
	assert.True(t, allowed.Allowed)
	assert.Equal(t, 2, allowed.Remaining)
	assert.Zero(t, allowed.RetryAfter)
}

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, 20*time.Second, bucketTTL(1, 10))
	assert.Equal(t, time.Second, bucketTTL(100, 1))
	assert.Equal(t, time.Second, bucketTTL(0, 1))
}

func TestScriptValueParsing(t *testing.T) {
	assert.Equal(t, 0.75, toFloat("0.75"))
	assert.Equal(t, float64(3), toFloat(int64(3)))
	assert.Equal(t, int64(1), toInt(int64(1)))
	assert.Equal(t, int64(42), toInt("42"))
	assert.Zero(t, toFloat(nil))
}

func TestLockerWithoutClient(t *testing.T) {
	assert.Nil(t, NewLocker(nil, time.Second, nil))
	assert.Nil(t, NewDistributedLocker(nil, zap.NewNop()))

	var l *Locker
	_, _, err := l.TryLock(context.Background(), "k", time.Second)
	require.Error(t, err)
	assert.NoError(t, l.Release(context.Background(), "k", "token"))
}
