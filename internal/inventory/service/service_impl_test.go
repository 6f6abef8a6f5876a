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
	"pgregory.net/rapid"

	"github.com/smallbiznis/orderflow/internal/clock"
	"github.com/smallbiznis/orderflow/internal/inventory/domain"
	"github.com/smallbiznis/orderflow/internal/inventory/repository"
	"github.com/smallbiznis/orderflow/internal/inventory/service"
	"github.com/smallbiznis/orderflow/internal/keylock"
	"github.com/smallbiznis/orderflow/internal/testutil"
)

func setup(t *testing.T, stock map[int64]int64) (*gorm.DB, *service.Service) {
	t.Helper()
	db := testutil.NewDB(t)
	svc := service.NewService(service.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: testutil.Node(t),
		Clock: clock.NewFakeClock(time.Date(2024, 5, 1, 12, 0, 0, 500, time.UTC)),
		Arena: keylock.New(),
		Repo:  repository.Provide(),
	})
	for id, qty := range stock {
		require.NoError(t, svc.Init(context.Background(), db, id, qty))
	}
	return db, svc
}

func available(t *testing.T, svc *service.Service, id int64) int64 {
	t.Helper()
	got, err := svc.Available(context.Background(), id)
	require.NoError(t, err)
	return got[id]
}

func TestDecrementInsufficientStockLeavesRecord(t *testing.T) {
	db, svc := setup(t, map[int64]int64{1: 2})
	ctx := context.Background()

	require.NoError(t, svc.Decrement(ctx, db, 1, 2))
	assert.Equal(t, int64(0), available(t, svc, 1))

	err := svc.Decrement(ctx, db, 1, 1)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	var oos *domain.OutOfStockError
	require.True(t, errors.As(err, &oos))
	assert.Equal(t, int64(1), oos.ProductID)
	assert.Equal(t, int64(0), available(t, svc, 1))
}

func TestDecrementRejectsNonPositiveQuantity(t *testing.T) {
	db, svc := setup(t, map[int64]int64{1: 2})
	assert.ErrorIs(t, svc.Decrement(context.Background(), db, 1, 0), domain.ErrInvalidQuantity)
	assert.ErrorIs(t, svc.Decrement(context.Background(), db, 1, -3), domain.ErrInvalidQuantity)
}

func TestDecrementAllIsAllOrNothing(t *testing.T) {
	db, svc := setup(t, map[int64]int64{10: 5, 20: 1})
	ctx := context.Background()

	err := svc.DecrementAll(ctx, db, 99, []domain.Line{
		{ProductID: 20, Quantity: 2},
		{ProductID: 10, Quantity: 3},
	})
	var oos *domain.OutOfStockError
	require.True(t, errors.As(err, &oos))
	assert.Equal(t, int64(20), oos.ProductID)

	assert.Equal(t, int64(5), available(t, svc, 10))
	assert.Equal(t, int64(1), available(t, svc, 20))
	testutil.AssertCount(t, db, "inventory_movements", 1, "product_id = ? AND reason = ?", 10, domain.ReasonCompensate)
}

func TestDecrementAllInsideRolledBackTransaction(t *testing.T) {
	db, svc := setup(t, map[int64]int64{10: 5, 20: 5})
	ctx := context.Background()

	boom := errors.New("order insert failed")
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := svc.DecrementAll(ctx, tx, 1, []domain.Line{{ProductID: 10, Quantity: 2}, {ProductID: 20, Quantity: 2}}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int64(5), available(t, svc, 10))
	assert.Equal(t, int64(5), available(t, svc, 20))
}

func TestReleaseOrderOnce(t *testing.T) {
	db, svc := setup(t, map[int64]int64{1: 10, 2: 10})
	ctx := context.Background()
	lines := []domain.Line{{ProductID: 1, Quantity: 3}, {ProductID: 2, Quantity: 4}}

	require.NoError(t, svc.DecrementAll(ctx, db, 7, lines))

	first, err := svc.ReleaseOrder(ctx, db, 7, lines)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := svc.ReleaseOrder(ctx, db, 7, lines)
	require.NoError(t, err)
	assert.False(t, again)

	assert.Equal(t, int64(10), available(t, svc, 1))
	assert.Equal(t, int64(10), available(t, svc, 2))
	testutil.AssertCount(t, db, "inventory_releases", 1, "order_id = ?", 7)
}

func TestReleaseAndRestock(t *testing.T) {
	db, svc := setup(t, map[int64]int64{1: 1})
	ctx := context.Background()

	require.NoError(t, svc.Release(ctx, db, 1, 2))
	assert.Equal(t, int64(3), available(t, svc, 1))

	rec, err := svc.Restock(ctx, 1, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(10), rec.Available)

	_, err = svc.Restock(ctx, 404, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	moves, err := svc.Movements(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, moves, 3)
}

func TestConcurrentDecrementsNeverOversell(t *testing.T) {
	db, svc := setup(t, map[int64]int64{1: 10})

	var sold atomic.Int64
	var g errgroup.Group
	for i := 0; i < 25; i++ {
		g.Go(func() error {
			err := svc.Decrement(context.Background(), db, 1, 1)
			if errors.Is(err, domain.ErrInsufficientStock) {
				return nil
			}
			if err == nil {
				sold.Add(1)
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(10), sold.Load())
	assert.Equal(t, int64(0), available(t, svc, 1))
}

func TestDecrementAllNeverOversells(t *testing.T) {
	db, svc := setup(t, map[int64]int64{1: 0, 2: 0, 3: 0})
	ctx := context.Background()

	rapid.Check(t, func(rt *rapid.T) {
		initial := map[int64]int64{
			1: rapid.Int64Range(0, 20).Draw(rt, "stock1"),
			2: rapid.Int64Range(0, 20).Draw(rt, "stock2"),
			3: rapid.Int64Range(0, 20).Draw(rt, "stock3"),
		}
		for id, qty := range initial {
			if err := db.Exec(`UPDATE inventory_records SET available = ? WHERE product_id = ?`, qty, id).Error; err != nil {
				rt.Fatalf("reset: %v", err)
			}
		}

		ids := rapid.SliceOfNDistinct(rapid.Int64Range(1, 3), 1, 3, rapid.ID[int64]).Draw(rt, "ids")
		lines := make([]domain.Line, 0, len(ids))
		for _, id := range ids {
			lines = append(lines, domain.Line{ProductID: id, Quantity: rapid.Int64Range(1, 10).Draw(rt, "qty")})
		}

		err := svc.DecrementAll(ctx, db, 0, lines)
		got, aerr := svc.Available(ctx, 1, 2, 3)
		if aerr != nil {
			rt.Fatalf("available: %v", aerr)
		}

		fits := true
		for _, line := range lines {
			if initial[line.ProductID] < line.Quantity {
				fits = false
			}
		}
		if fits != (err == nil) {
			rt.Fatalf("fits=%v err=%v", fits, err)
		}
		for id, qty := range initial {
			want := qty
			if err == nil {
				for _, line := range lines {
					if line.ProductID == id {
						want -= line.Quantity
					}
				}
			}
			if got[id] != want || got[id] < 0 {
				rt.Fatalf("product %d: want %d got %d", id, want, got[id])
			}
		}
	})
}
