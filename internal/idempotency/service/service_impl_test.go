package service_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/smallbiznis/orderflow/internal/clock"
	"github.com/smallbiznis/orderflow/internal/config"
	"github.com/smallbiznis/orderflow/internal/idempotency/domain"
	"github.com/smallbiznis/orderflow/internal/idempotency/repository"
	"github.com/smallbiznis/orderflow/internal/idempotency/service"
	"github.com/smallbiznis/orderflow/internal/keylock"
	"github.com/smallbiznis/orderflow/internal/testutil"
)

type fixture struct {
	db    *gorm.DB
	clock *clock.FakeClock
	svc   *service.Service
}

func newFixture(t *testing.T, distributed keylock.Locker) fixture {
	t.Helper()
	db := testutil.NewDB(t)
	fake := clock.NewFakeClock(time.Date(2024, 3, 1, 9, 30, 0, 123, time.UTC))
	cfg := config.Config{Idempotency: config.IdempotencyConfig{TTL: 24 * time.Hour, CleanupBatch: 2}}
	svc := service.NewService(service.Params{
		DB:          db,
		Log:         zap.NewNop(),
		Cfg:         cfg,
		Clock:       fake,
		Arena:       keylock.New(),
		Distributed: distributed,
		Repo:        repository.Provide(),
	})
	return fixture{db: db, clock: fake, svc: svc}
}

func staticCompute(calls *atomic.Int64, result domain.Result) domain.ComputeFunc {
	return func(ctx context.Context, record domain.Recorder) (domain.Result, error) {
		calls.Add(1)
		return result, nil
	}
}

func TestAdmitReplaysStoredResult(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	key := domain.Key{CallerID: "user-1", Token: "tok-1"}
	want := domain.Result{OrderID: 42, Total: 815000, Status: "awaiting_payment"}

	var calls atomic.Int64
	got, replayed, err := f.svc.Admit(ctx, key, staticCompute(&calls, want))
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, want, got)

	got, replayed, err = f.svc.Admit(ctx, key, staticCompute(&calls, domain.Result{OrderID: 99}))
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, want, got)
	assert.Equal(t, int64(1), calls.Load())

	testutil.AssertCount(t, f.db, "idempotency_records", 1, "")
}

func TestAdmitFailureIsNotStored(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	key := domain.Key{CallerID: "user-1", Token: "tok-1"}
	boom := errors.New("boom")

	_, _, err := f.svc.Admit(ctx, key, func(ctx context.Context, record domain.Recorder) (domain.Result, error) {
		return domain.Result{}, boom
	})
	require.ErrorIs(t, err, boom)
	testutil.AssertCount(t, f.db, "idempotency_records", 0, "")

	var calls atomic.Int64
	_, replayed, err := f.svc.Admit(ctx, key, staticCompute(&calls, domain.Result{OrderID: 7}))
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, int64(1), calls.Load())
}

func TestAdmitWithoutTokenNeverDeduplicates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	key := domain.Key{CallerID: "user-1"}

	var calls atomic.Int64
	for i := 0; i < 3; i++ {
		_, replayed, err := f.svc.Admit(ctx, key, staticCompute(&calls, domain.Result{OrderID: 1}))
		require.NoError(t, err)
		assert.False(t, replayed)
	}
	assert.Equal(t, int64(3), calls.Load())
	testutil.AssertCount(t, f.db, "idempotency_records", 0, "")
}

func TestAdmitRejectsMissingCaller(t *testing.T) {
	f := newFixture(t, nil)
	var calls atomic.Int64
	_, _, err := f.svc.Admit(context.Background(), domain.Key{Token: "x"}, staticCompute(&calls, domain.Result{}))
	assert.ErrorIs(t, err, domain.ErrInvalidCaller)
	assert.Zero(t, calls.Load())
}

func TestAdmitExpiredRecordIsAbsent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	key := domain.Key{CallerID: "user-1", Token: "tok-1"}

	var calls atomic.Int64
	_, _, err := f.svc.Admit(ctx, key, staticCompute(&calls, domain.Result{OrderID: 1}))
	require.NoError(t, err)

	f.clock.Advance(25 * time.Hour)

	got, replayed, err := f.svc.Admit(ctx, key, staticCompute(&calls, domain.Result{OrderID: 2}))
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, int64(2), got.OrderID)
	assert.Equal(t, int64(2), calls.Load())
	testutil.AssertCount(t, f.db, "idempotency_records", 1, "order_id = ?", 2)
}

func TestAdmitRecordsInsideCallerTransaction(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	key := domain.Key{CallerID: "user-1", Token: "tok-tx"}

	rollback := errors.New("rollback")
	_, _, err := f.svc.Admit(ctx, key, func(ctx context.Context, record domain.Recorder) (domain.Result, error) {
		result := domain.Result{OrderID: 5}
		err := f.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := record(ctx, tx, result); err != nil {
				return err
			}
			return rollback
		})
		return result, err
	})
	require.ErrorIs(t, err, rollback)
	testutil.AssertCount(t, f.db, "idempotency_records", 0, "")

	_, _, err = f.svc.Admit(ctx, key, func(ctx context.Context, record domain.Recorder) (domain.Result, error) {
		result := domain.Result{OrderID: 6}
		err := f.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return record(ctx, tx, result)
		})
		return result, err
	})
	require.NoError(t, err)
	testutil.AssertCount(t, f.db, "idempotency_records", 1, "order_id = ?", 6)
}

func TestAdmitConcurrentDuplicatesComputeOnce(t *testing.T) {
	f := newFixture(t, nil)
	key := domain.Key{CallerID: "user-1", Token: "race"}

	var calls, replays atomic.Int64
	compute := func(ctx context.Context, record domain.Recorder) (domain.Result, error) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return domain.Result{OrderID: 77, Total: 100, Status: "pending"}, nil
	}

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			got, replayed, err := f.svc.Admit(context.Background(), key, compute)
			if err != nil {
				return err
			}
			if got.OrderID != 77 {
				return errors.New("unexpected order id")
			}
			if replayed {
				replays.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, int64(7), replays.Load())
}

type heldLocker struct{}

func (heldLocker) Lock(context.Context, string) (func(), error) { return nil, keylock.ErrHeld }

func TestAdmitDistributedLockHeld(t *testing.T) {
	f := newFixture(t, heldLocker{})
	var calls atomic.Int64
	_, _, err := f.svc.Admit(context.Background(), domain.Key{CallerID: "u", Token: "t"}, staticCompute(&calls, domain.Result{}))
	assert.ErrorIs(t, err, domain.ErrRequestInProgress)
	assert.Zero(t, calls.Load())
}

func TestPurgeRemovesOnlyExpired(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var calls atomic.Int64
	for _, token := range []string{"a", "b", "c"} {
		_, _, err := f.svc.Admit(ctx, domain.Key{CallerID: "u", Token: token}, staticCompute(&calls, domain.Result{OrderID: 1}))
		require.NoError(t, err)
	}
	f.clock.Advance(25 * time.Hour)
	_, _, err := f.svc.Admit(ctx, domain.Key{CallerID: "u", Token: "fresh"}, staticCompute(&calls, domain.Result{OrderID: 2}))
	require.NoError(t, err)

	n, err := f.svc.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	testutil.AssertCount(t, f.db, "idempotency_records", 1, "token = ?", "fresh")
}
