package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	catalogdomain "github.com/smallbiznis/orderflow/internal/catalog/domain"
	catalogrepo "github.com/smallbiznis/orderflow/internal/catalog/repository"
	catalogservice "github.com/smallbiznis/orderflow/internal/catalog/service"
	"github.com/smallbiznis/orderflow/internal/checkout/domain"
	"github.com/smallbiznis/orderflow/internal/checkout/service"
	"github.com/smallbiznis/orderflow/internal/clock"
	"github.com/smallbiznis/orderflow/internal/config"
	idempotencyrepo "github.com/smallbiznis/orderflow/internal/idempotency/repository"
	idempotencyservice "github.com/smallbiznis/orderflow/internal/idempotency/service"
	inventorydomain "github.com/smallbiznis/orderflow/internal/inventory/domain"
	inventoryrepo "github.com/smallbiznis/orderflow/internal/inventory/repository"
	inventoryservice "github.com/smallbiznis/orderflow/internal/inventory/service"
	"github.com/smallbiznis/orderflow/internal/keylock"
	"github.com/smallbiznis/orderflow/internal/notification"
	orderdomain "github.com/smallbiznis/orderflow/internal/order/domain"
	orderrepo "github.com/smallbiznis/orderflow/internal/order/repository"
	orderservice "github.com/smallbiznis/orderflow/internal/order/service"
	promotiondomain "github.com/smallbiznis/orderflow/internal/promotion/domain"
	promotionrepo "github.com/smallbiznis/orderflow/internal/promotion/repository"
	promotionservice "github.com/smallbiznis/orderflow/internal/promotion/service"
	"github.com/smallbiznis/orderflow/internal/testutil"
)

type recordingNotifier struct {
	mu    sync.Mutex
	kinds []string
}

func (r *recordingNotifier) Notify(_ context.Context, _ string, kind string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.kinds)
}

var _ notification.Notifier = (*recordingNotifier)(nil)

type env struct {
	db         *gorm.DB
	catalog    *catalogservice.Service
	promotions *promotionservice.Service
	inventory  *inventoryservice.Service
	orders     *orderservice.Service
	notifier   *recordingNotifier
	svc        *service.Service
}

func newEnv(t *testing.T, policy config.Policy) *env {
	t.Helper()
	db := testutil.NewDB(t)
	node := testutil.Node(t)
	fake := clock.NewFakeClock(time.Date(2024, 8, 17, 10, 0, 0, 0, time.UTC))
	arena := keylock.New()
	log := zap.NewNop()

	holder, err := config.NewStaticPolicyHolder(policy)
	require.NoError(t, err)

	inventorySvc := inventoryservice.NewService(inventoryservice.Params{
		DB: db, Log: log, GenID: node, Clock: fake, Arena: arena, Repo: inventoryrepo.Provide(),
	})
	catalogSvc := catalogservice.NewService(catalogservice.Params{
		DB: db, Log: log, GenID: node, Clock: fake, Repo: catalogrepo.Provide(), InventorySvc: inventorySvc,
	})
	promotionSvc := promotionservice.NewService(promotionservice.Params{
		DB: db, Log: log, GenID: node, Clock: fake, Repo: promotionrepo.Provide(),
	})
	notifier := &recordingNotifier{}
	orderSvc := orderservice.NewService(orderservice.Params{
		DB: db, Log: log, GenID: node, Clock: fake, Arena: arena,
		Repo: orderrepo.Provide(), InventorySvc: inventorySvc, Notifier: notifier,
	})
	idempotencySvc := idempotencyservice.NewService(idempotencyservice.Params{
		DB:    db,
		Log:   log,
		Cfg:   config.Config{Idempotency: config.IdempotencyConfig{TTL: 24 * time.Hour}},
		Clock: fake,
		Arena: arena,
		Repo:  idempotencyrepo.Provide(),
	})

	svc := service.NewService(service.Params{
		DB:             db,
		Log:            log,
		GenID:          node,
		Arena:          arena,
		Policy:         holder,
		IdempotencySvc: idempotencySvc,
		CatalogSvc:     catalogSvc,
		PromotionSvc:   promotionSvc,
		InventorySvc:   inventorySvc,
		OrderSvc:       orderSvc,
		Notifier:       notifier,
	})
	return &env{
		db:         db,
		catalog:    catalogSvc,
		promotions: promotionSvc,
		inventory:  inventorySvc,
		orders:     orderSvc,
		notifier:   notifier,
		svc:        svc,
	}
}

func (e *env) product(t *testing.T, name string, price, stock int64) string {
	t.Helper()
	created, err := e.catalog.Create(context.Background(), catalogdomain.CreateRequest{
		Name:         name,
		Price:        price,
		InitialStock: stock,
	})
	require.NoError(t, err)
	return created.ID
}

func (e *env) promotion(t *testing.T, req promotiondomain.CreateRequest) *promotiondomain.Promotion {
	t.Helper()
	promo, err := e.promotions.Create(context.Background(), req)
	require.NoError(t, err)
	return promo
}

func (e *env) stock(t *testing.T, productID string) int64 {
	t.Helper()
	got, err := e.catalog.Get(context.Background(), productID)
	require.NoError(t, err)
	return got.Available
}

func int64Ptr(v int64) *int64 { return &v }

func TestCheckoutSale20(t *testing.T) {
	e := newEnv(t, config.DefaultPolicy())
	ctx := context.Background()
	kopi := e.product(t, "Kopi Toraja", 250_000, 10)
	promo := e.promotion(t, promotiondomain.CreateRequest{
		Code:         "sale20",
		DiscountType: promotiondomain.DiscountPercentage,
		Value:        20,
		UsageLimit:   int64Ptr(100),
	})

	res, replayed, err := e.svc.Checkout(ctx, domain.Request{
		CallerID:      "user-1",
		Token:         "cart-1",
		Lines:         []domain.LineRequest{{ProductID: kopi, Quantity: 4}},
		PromotionCode: "Sale20",
		PaymentMethod: orderdomain.PaymentMethodBankTransfer,
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, int64(815_000), res.Total)
	assert.Equal(t, string(orderdomain.OrderStatusAwaitingPayment), res.Status)

	order, err := e.orders.GetForUser(ctx, "user-1", res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), order.Subtotal)
	assert.Equal(t, int64(200_000), order.Discount)
	assert.Equal(t, int64(15_000), order.ShippingFee)
	require.NotNil(t, order.PromotionID)
	assert.Equal(t, promo.ID, *order.PromotionID)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "Kopi Toraja", order.Items[0].Name)

	assert.Equal(t, int64(6), e.stock(t, kopi))
	testutil.AssertCount(t, e.db, "promotions", 1, "id = ? AND remaining_uses = ? AND times_used = ?", promo.ID, 99, 1)
	assert.Equal(t, 1, e.notifier.count())
}

func TestCheckoutFreeShippingAboveThreshold(t *testing.T) {
	policy := config.DefaultPolicy()
	policy.Checkout.FreeShippingThreshold = 500_000
	e := newEnv(t, policy)
	item := e.product(t, "Teh Hijau", 300_000, 10)

	res, _, err := e.svc.Checkout(context.Background(), domain.Request{
		CallerID:      "user-1",
		Lines:         []domain.LineRequest{{ProductID: item, Quantity: 2}},
		PaymentMethod: orderdomain.PaymentMethodCOD,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(600_000), res.Total)
	assert.Equal(t, string(orderdomain.OrderStatusPending), res.Status)
}

func TestCheckoutReplaysSameToken(t *testing.T) {
	e := newEnv(t, config.DefaultPolicy())
	ctx := context.Background()
	item := e.product(t, "Gula Aren", 50_000, 10)
	req := domain.Request{
		CallerID:      "user-1",
		Token:         "retry-me",
		Lines:         []domain.LineRequest{{ProductID: item, Quantity: 2}},
		PaymentMethod: orderdomain.PaymentMethodCOD,
	}

	first, replayed, err := e.svc.Checkout(ctx, req)
	require.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := e.svc.Checkout(ctx, req)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first, second)

	// Same token from another caller is a different request.
	req.CallerID = "user-2"
	third, replayed, err := e.svc.Checkout(ctx, req)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.NotEqual(t, first.OrderID, third.OrderID)

	assert.Equal(t, int64(6), e.stock(t, item))
	testutil.AssertCount(t, e.db, "orders", 2, "")
}

func TestCheckoutReplayIgnoresChangedCart(t *testing.T) {
	e := newEnv(t, config.DefaultPolicy())
	ctx := context.Background()
	first := e.product(t, "Kopi Arabika", 120_000, 10)
	second := e.product(t, "Teh Melati", 40_000, 10)

	original, replayed, err := e.svc.Checkout(ctx, domain.Request{
		CallerID:      "user-1",
		Token:         "cart-7",
		Lines:         []domain.LineRequest{{ProductID: first, Quantity: 1}},
		PaymentMethod: orderdomain.PaymentMethodCOD,
	})
	require.NoError(t, err)
	require.False(t, replayed)

	retry, replayed, err := e.svc.Checkout(ctx, domain.Request{
		CallerID:      "user-1",
		Token:         "cart-7",
		Lines:         []domain.LineRequest{{ProductID: second, Quantity: 3}},
		PaymentMethod: orderdomain.PaymentMethodBankTransfer,
	})
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, original, retry)
	assert.Equal(t, string(orderdomain.OrderStatusPending), retry.Status)

	assert.Equal(t, int64(9), e.stock(t, first))
	assert.Equal(t, int64(10), e.stock(t, second))
	testutil.AssertCount(t, e.db, "orders", 1, "")
	assert.Equal(t, 1, e.notifier.count())
}

func TestCheckoutReplayIgnoresMalformedRetry(t *testing.T) {
	e := newEnv(t, config.DefaultPolicy())
	ctx := context.Background()
	item := e.product(t, "Madu Hutan", 90_000, 5)

	original, _, err := e.svc.Checkout(ctx, domain.Request{
		CallerID:      "user-1",
		Token:         "flaky-network",
		Lines:         []domain.LineRequest{{ProductID: item, Quantity: 2}},
		PaymentMethod: orderdomain.PaymentMethodBankTransfer,
	})
	require.NoError(t, err)

	retries := []domain.Request{
		{CallerID: "user-1", Token: "flaky-network"},
		{CallerID: "user-1", Token: "flaky-network", Lines: []domain.LineRequest{{ProductID: "abc", Quantity: -1}}, PaymentMethod: "card"},
	}
	for _, req := range retries {
		got, replayed, err := e.svc.Checkout(ctx, req)
		require.NoError(t, err)
		assert.True(t, replayed)
		assert.Equal(t, original, got)
	}

	// Without a stored result the same body is still rejected.
	_, _, err = e.svc.Checkout(ctx, domain.Request{CallerID: "user-1", Token: "fresh-token"})
	assert.ErrorIs(t, err, domain.ErrNoLines)

	assert.Equal(t, int64(3), e.stock(t, item))
	testutil.AssertCount(t, e.db, "orders", 1, "")
}

func TestCheckoutConcurrentDuplicatesCreateOneOrder(t *testing.T) {
	e := newEnv(t, config.DefaultPolicy())
	item := e.product(t, "Kopi Gayo", 80_000, 50)

	const attempts = 10
	results := make([]*domain.Result, attempts)
	var g errgroup.Group
	for i := 0; i < attempts; i++ {
		i := i
		g.Go(func() error {
			res, _, err := e.svc.Checkout(context.Background(), domain.Request{
				CallerID:      "user-1",
				Token:         "double-click",
				Lines:         []domain.LineRequest{{ProductID: item, Quantity: 1}},
				PaymentMethod: orderdomain.PaymentMethodBankTransfer,
			})
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())

	for _, res := range results[1:] {
		assert.Equal(t, results[0].OrderID, res.OrderID)
	}
	testutil.AssertCount(t, e.db, "orders", 1, "")
	assert.Equal(t, int64(49), e.stock(t, item))
}

func TestCheckoutNeverOversells(t *testing.T) {
	e := newEnv(t, config.DefaultPolicy())
	item := e.product(t, "Limited Edition", 100_000, 5)

	const buyers = 20
	var (
		mu         sync.Mutex
		placed     int
		outOfStock int
	)
	var g errgroup.Group
	for i := 0; i < buyers; i++ {
		i := i
		g.Go(func() error {
			_, _, err := e.svc.Checkout(context.Background(), domain.Request{
				CallerID:      fmt.Sprintf("buyer-%d", i),
				Token:         "t",
				Lines:         []domain.LineRequest{{ProductID: item, Quantity: 1}},
				PaymentMethod: orderdomain.PaymentMethodCOD,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				placed++
			case errors.Is(err, inventorydomain.ErrInsufficientStock):
				outOfStock++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 5, placed)
	assert.Equal(t, buyers-5, outOfStock)
	assert.Equal(t, int64(0), e.stock(t, item))
	testutil.AssertCount(t, e.db, "orders", 5, "")
}

func TestCheckoutOutOfStockRollsBack(t *testing.T) {
	e := newEnv(t, config.DefaultPolicy())
	ctx := context.Background()
	plenty := e.product(t, "Plenty", 10_000, 100)
	scarce := e.product(t, "Scarce", 10_000, 1)
	e.promotion(t, promotiondomain.CreateRequest{
		Code: "FLAT5", DiscountType: promotiondomain.DiscountFixed, Value: 5_000, UsageLimit: int64Ptr(10),
	})

	req := domain.Request{
		CallerID: "user-1",
		Token:    "cart-9",
		Lines: []domain.LineRequest{
			{ProductID: plenty, Quantity: 3},
			{ProductID: scarce, Quantity: 2},
		},
		PromotionCode: "FLAT5",
		PaymentMethod: orderdomain.PaymentMethodCOD,
	}
	_, _, err := e.svc.Checkout(ctx, req)
	require.ErrorIs(t, err, inventorydomain.ErrInsufficientStock)
	var oos *inventorydomain.OutOfStockError
	require.ErrorAs(t, err, &oos)
	assert.Equal(t, scarce, fmt.Sprint(oos.ProductID))

	assert.Equal(t, int64(100), e.stock(t, plenty))
	assert.Equal(t, int64(1), e.stock(t, scarce))
	testutil.AssertCount(t, e.db, "orders", 0, "")
	testutil.AssertCount(t, e.db, "idempotency_records", 0, "")
	testutil.AssertCount(t, e.db, "promotions", 1, "remaining_uses = ?", 10)

	// The failed token may be retried once stock arrives.
	_, err = e.catalog.Restock(ctx, scarce, 5)
	require.NoError(t, err)
	res, replayed, err := e.svc.Checkout(ctx, req)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, int64(50_000-5_000+15_000), res.Total)
}

func TestCheckoutPromotionRejections(t *testing.T) {
	e := newEnv(t, config.DefaultPolicy())
	ctx := context.Background()
	item := e.product(t, "Item", 10_000, 100)
	e.promotion(t, promotiondomain.CreateRequest{
		Code: "BIGSPEND", DiscountType: promotiondomain.DiscountFixed, Value: 5_000, MinOrderValue: 100_000,
	})

	cases := []struct {
		code string
		want error
	}{
		{"NOPE", promotiondomain.ErrCodeNotFound},
		{"bigspend", promotiondomain.ErrBelowMinimum},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			_, _, err := e.svc.Checkout(ctx, domain.Request{
				CallerID:      "user-1",
				Lines:         []domain.LineRequest{{ProductID: item, Quantity: 1}},
				PromotionCode: tc.code,
				PaymentMethod: orderdomain.PaymentMethodCOD,
			})
			assert.ErrorIs(t, err, promotiondomain.ErrInvalidPromotion)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Equal(t, int64(100), e.stock(t, item))
	testutil.AssertCount(t, e.db, "orders", 0, "")
}

func TestCheckoutLastPromotionUseGoesToOneBuyer(t *testing.T) {
	e := newEnv(t, config.DefaultPolicy())
	item := e.product(t, "Item", 10_000, 100)
	e.promotion(t, promotiondomain.CreateRequest{
		Code: "ONCE", DiscountType: promotiondomain.DiscountFixed, Value: 1_000, UsageLimit: int64Ptr(1),
	})

	const buyers = 6
	var (
		mu        sync.Mutex
		won       int
		exhausted int
	)
	var g errgroup.Group
	for i := 0; i < buyers; i++ {
		i := i
		g.Go(func() error {
			_, _, err := e.svc.Checkout(context.Background(), domain.Request{
				CallerID:      fmt.Sprintf("buyer-%d", i),
				Lines:         []domain.LineRequest{{ProductID: item, Quantity: 1}},
				PromotionCode: "ONCE",
				PaymentMethod: orderdomain.PaymentMethodCOD,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case errors.Is(err, promotiondomain.ErrUsageExhausted):
				exhausted++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, won)
	assert.Equal(t, buyers-1, exhausted)
	assert.Equal(t, int64(99), e.stock(t, item))
	testutil.AssertCount(t, e.db, "promotions", 1, "remaining_uses = ?", 0)
}

func TestCheckoutValidation(t *testing.T) {
	e := newEnv(t, config.DefaultPolicy())
	item := e.product(t, "Item", 10_000, 100)
	inactive := false
	hidden, err := e.catalog.Create(context.Background(), catalogdomain.CreateRequest{
		Name: "Hidden", Price: 1, InitialStock: 1, Active: &inactive,
	})
	require.NoError(t, err)

	base := domain.Request{
		CallerID:      "user-1",
		Lines:         []domain.LineRequest{{ProductID: item, Quantity: 1}},
		PaymentMethod: orderdomain.PaymentMethodCOD,
	}
	cases := []struct {
		name   string
		mutate func(r *domain.Request)
		want   error
	}{
		{"missing caller", func(r *domain.Request) { r.CallerID = " " }, domain.ErrMissingCaller},
		{"empty cart", func(r *domain.Request) { r.Lines = nil }, domain.ErrNoLines},
		{"zero quantity", func(r *domain.Request) { r.Lines = []domain.LineRequest{{ProductID: item}} }, domain.ErrInvalidQuantity},
		{"bad product id", func(r *domain.Request) { r.Lines = []domain.LineRequest{{ProductID: "abc", Quantity: 1}} }, domain.ErrInvalidProduct},
		{"duplicate line", func(r *domain.Request) {
			r.Lines = []domain.LineRequest{{ProductID: item, Quantity: 1}, {ProductID: item, Quantity: 2}}
		}, domain.ErrDuplicateProduct},
		{"unknown product", func(r *domain.Request) { r.Lines = []domain.LineRequest{{ProductID: "424242", Quantity: 1}} }, domain.ErrUnknownProduct},
		{"inactive product", func(r *domain.Request) { r.Lines = []domain.LineRequest{{ProductID: hidden.ID, Quantity: 1}} }, domain.ErrUnknownProduct},
		{"payment method", func(r *domain.Request) { r.PaymentMethod = "card" }, domain.ErrInvalidPayment},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := base
			tc.mutate(&req)
			_, _, err := e.svc.Checkout(context.Background(), req)
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	testutil.AssertCount(t, e.db, "orders", 0, "")
}
