package service

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	catalogdomain "github.com/smallbiznis/orderflow/internal/catalog/domain"
	"github.com/smallbiznis/orderflow/internal/checkout/domain"
	"github.com/smallbiznis/orderflow/internal/config"
	idempotencydomain "github.com/smallbiznis/orderflow/internal/idempotency/domain"
	inventorydomain "github.com/smallbiznis/orderflow/internal/inventory/domain"
	"github.com/smallbiznis/orderflow/internal/keylock"
	"github.com/smallbiznis/orderflow/internal/notification"
	"github.com/smallbiznis/orderflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/orderflow/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/orderflow/internal/order/domain"
	promotiondomain "github.com/smallbiznis/orderflow/internal/promotion/domain"
)

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Arena          *keylock.Arena
	Policy         *config.PolicyHolder
	IdempotencySvc idempotencydomain.Service
	CatalogSvc     catalogdomain.Service
	PromotionSvc   promotiondomain.Service
	InventorySvc   inventorydomain.Service
	OrderSvc       orderdomain.Service
	Notifier       notification.Notifier `optional:"true"`
	ObsMetrics     *obsmetrics.Metrics   `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	arena          *keylock.Arena
	policy         *config.PolicyHolder
	idempotencySvc idempotencydomain.Service
	catalogSvc     catalogdomain.Service
	promotionSvc   promotiondomain.Service
	inventorySvc   inventorydomain.Service
	orderSvc       orderdomain.Service
	notifier       notification.Notifier
	obsMetrics     *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return NewService(p)
}

func NewService(p Params) *Service {
	notifier := p.Notifier
	if notifier == nil {
		notifier = notification.Nop{}
	}
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("checkout.service"),
		genID:          p.GenID,
		arena:          p.Arena,
		policy:         p.Policy,
		idempotencySvc: p.IdempotencySvc,
		catalogSvc:     p.CatalogSvc,
		promotionSvc:   p.PromotionSvc,
		inventorySvc:   p.InventorySvc,
		orderSvc:       p.OrderSvc,
		notifier:       notifier,
		obsMetrics:     p.ObsMetrics,
	}
}

type cart struct {
	callerID string
	lines    []inventorydomain.Line
	code     string
	method   orderdomain.PaymentMethod
}

// Checkout places one order. A retried token returns the stored result
// before the cart is validated, so a replay never fails on its body.
func (s *Service) Checkout(ctx context.Context, req domain.Request) (*domain.Result, bool, error) {
	callerID := strings.TrimSpace(req.CallerID)
	method := normalizeMethod(req.PaymentMethod)
	if callerID == "" {
		s.recordOutcome(ctx, "validation_error", method, 0)
		return nil, false, domain.ErrMissingCaller
	}

	key := idempotencydomain.Key{CallerID: callerID, Token: strings.TrimSpace(req.Token)}
	res, replayed, err := s.idempotencySvc.Admit(ctx, key, func(ctx context.Context, record idempotencydomain.Recorder) (idempotencydomain.Result, error) {
		c, err := validate(req)
		if err != nil {
			return idempotencydomain.Result{}, err
		}
		return s.place(ctx, c, record)
	})
	if err != nil {
		s.recordOutcome(ctx, outcomeOf(err), method, 0)
		logger.WithContext(ctx, s.log).Info("checkout rejected",
			zap.String("caller_id", callerID),
			zap.Error(err),
		)
		return nil, false, err
	}

	result := &domain.Result{
		OrderID: orderdomain.Reference(res.OrderID),
		Total:   res.Total,
		Status:  res.Status,
	}
	if replayed {
		s.recordOutcome(ctx, "replayed", method, 0)
		logger.WithContext(ctx, s.log).Info("checkout replayed",
			zap.String("caller_id", callerID),
			zap.String("order_id", result.OrderID),
		)
	}
	return result, replayed, nil
}

// place prices the cart and commits the order. Product and promotion locks
// are taken before the transaction opens and held until it ends.
func (s *Service) place(ctx context.Context, c cart, record idempotencydomain.Recorder) (idempotencydomain.Result, error) {
	ids := make([]int64, 0, len(c.lines))
	for _, line := range c.lines {
		ids = append(ids, line.ProductID)
	}
	products, err := s.catalogSvc.Prices(ctx, ids)
	if err != nil {
		return idempotencydomain.Result{}, err
	}

	items := make([]orderdomain.CreateItem, 0, len(c.lines))
	keys := make([]string, 0, len(c.lines)+1)
	var subtotal int64
	for _, line := range c.lines {
		product, ok := products[line.ProductID]
		if !ok {
			return idempotencydomain.Result{}, domain.ErrUnknownProduct
		}
		if product.Price > 0 && line.Quantity > (math.MaxInt64-subtotal)/product.Price {
			return idempotencydomain.Result{}, domain.ErrQuantityTooLarge
		}
		subtotal += product.Price * line.Quantity
		items = append(items, orderdomain.CreateItem{
			ProductID: product.ID,
			Name:      product.Name,
			Quantity:  line.Quantity,
			UnitPrice: product.Price,
		})
		keys = append(keys, inventorydomain.LockKey(line.ProductID))
	}
	if c.code != "" {
		keys = append(keys, promotiondomain.LockKey(c.code))
	}

	release, err := s.arena.LockAll(ctx, keys...)
	if err != nil {
		return idempotencydomain.Result{}, err
	}
	defer release()

	orderID := s.genID.Generate().Int64()
	policy := s.policy.Get()

	var order *orderdomain.Order
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var quote *promotiondomain.Quote
		if c.code != "" {
			quote, err = s.promotionSvc.PriceTx(ctx, tx, c.code, subtotal)
			if err != nil {
				return err
			}
		}

		if err := s.inventorySvc.DecrementAll(ctx, tx, orderID, c.lines); err != nil {
			return err
		}

		req := orderdomain.CreateRequest{
			ID:            orderID,
			UserID:        c.callerID,
			Items:         items,
			PaymentMethod: c.method,
		}
		if quote != nil {
			promotionID, code := quote.PromotionID, quote.Code
			req.Discount = quote.Discount
			req.PromotionID = &promotionID
			req.PromotionCode = &code
		}
		req.ShippingFee = policy.Checkout.ShippingFor(subtotal - req.Discount)

		order, err = s.orderSvc.Create(ctx, tx, req)
		if err != nil {
			return err
		}

		if quote != nil {
			if err := s.promotionSvc.Consume(ctx, tx, quote.PromotionID); err != nil {
				return err
			}
		}

		return record(ctx, tx, idempotencydomain.Result{
			OrderID: order.ID,
			Total:   order.Total,
			Status:  string(order.Status),
		})
	})
	if err != nil {
		return idempotencydomain.Result{}, err
	}

	s.recordOutcome(ctx, "created", c.method, order.Total)
	logger.WithContext(ctx, s.log).Info("order placed",
		zap.Int64("order_id", order.ID),
		zap.String("caller_id", c.callerID),
		zap.Int64("subtotal", order.Subtotal),
		zap.Int64("discount", order.Discount),
		zap.Int64("total", order.Total),
		zap.String("status", string(order.Status)),
	)
	s.notifier.Notify(ctx, order.UserID, notification.KindOrderCreated, map[string]any{
		"order_id": order.Reference,
		"total":    order.Total,
		"status":   string(order.Status),
	})

	return idempotencydomain.Result{
		OrderID: order.ID,
		Total:   order.Total,
		Status:  string(order.Status),
	}, nil
}

func validate(req domain.Request) (cart, error) {
	c := cart{
		callerID: strings.TrimSpace(req.CallerID),
		code:     promotiondomain.NormalizeCode(req.PromotionCode),
		method:   normalizeMethod(req.PaymentMethod),
	}
	if c.callerID == "" {
		return cart{}, domain.ErrMissingCaller
	}
	if len(req.Lines) == 0 {
		return cart{}, domain.ErrNoLines
	}
	if len(req.Lines) > domain.MaxLines {
		return cart{}, domain.ErrTooManyLines
	}
	if !c.method.Valid() {
		return cart{}, domain.ErrInvalidPayment
	}
	if len(c.code) > 64 {
		return cart{}, domain.ErrInvalidPromoInput
	}

	seen := make(map[int64]struct{}, len(req.Lines))
	c.lines = make([]inventorydomain.Line, 0, len(req.Lines))
	for _, line := range req.Lines {
		id, err := snowflake.ParseString(strings.TrimSpace(line.ProductID))
		if err != nil || id <= 0 {
			return cart{}, domain.ErrInvalidProduct
		}
		if line.Quantity <= 0 {
			return cart{}, domain.ErrInvalidQuantity
		}
		if _, dup := seen[id.Int64()]; dup {
			return cart{}, domain.ErrDuplicateProduct
		}
		seen[id.Int64()] = struct{}{}
		c.lines = append(c.lines, inventorydomain.Line{ProductID: id.Int64(), Quantity: line.Quantity})
	}
	return c, nil
}

func normalizeMethod(method orderdomain.PaymentMethod) orderdomain.PaymentMethod {
	return orderdomain.PaymentMethod(strings.ToLower(strings.TrimSpace(string(method))))
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation_error"
	case errors.Is(err, inventorydomain.ErrInsufficientStock):
		return "out_of_stock"
	case errors.Is(err, promotiondomain.ErrInvalidPromotion):
		return "invalid_promotion"
	case errors.Is(err, idempotencydomain.ErrRequestInProgress):
		return "in_progress"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

func (s *Service) recordOutcome(ctx context.Context, outcome string, method orderdomain.PaymentMethod, total int64) {
	if s.obsMetrics == nil {
		return
	}
	s.obsMetrics.RecordCheckout(ctx, outcome, string(method), total)
}
