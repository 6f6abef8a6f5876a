package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/orderflow/internal/clock"
	inventorydomain "github.com/smallbiznis/orderflow/internal/inventory/domain"
	"github.com/smallbiznis/orderflow/internal/keylock"
	"github.com/smallbiznis/orderflow/internal/notification"
	"github.com/smallbiznis/orderflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/orderflow/internal/observability/metrics"
	"github.com/smallbiznis/orderflow/internal/order/domain"
	"github.com/smallbiznis/orderflow/pkg/db/pagination"
)

const (
	ActorPayment = "payment"
	ActorSystem  = "system"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Arena        *keylock.Arena
	Repo         domain.Repository
	InventorySvc inventorydomain.Service
	Notifier     notification.Notifier `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics   `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	arena        *keylock.Arena
	repo         domain.Repository
	inventorySvc inventorydomain.Service
	notifier     notification.Notifier
	obsMetrics   *obsmetrics.Metrics
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
		db:           p.DB,
		log:          p.Log.Named("order.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		arena:        p.Arena,
		repo:         p.Repo,
		inventorySvc: p.InventorySvc,
		notifier:     notifier,
		obsMetrics:   p.ObsMetrics,
	}
}

// Create persists a new order and its line items in the initial status for
// the payment method.
func (s *Service) Create(ctx context.Context, tx *gorm.DB, req domain.CreateRequest) (*domain.Order, error) {
	if req.ID == 0 {
		return nil, domain.ErrInvalidOrder
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, domain.ErrInvalidUser
	}
	if !req.PaymentMethod.Valid() {
		return nil, domain.ErrInvalidPaymentMethod
	}
	if len(req.Items) == 0 {
		return nil, domain.ErrInvalidItems
	}

	now := s.clock.Now()
	items := make([]domain.LineItem, 0, len(req.Items))
	var subtotal int64
	for _, item := range req.Items {
		if item.ProductID == 0 || item.UnitPrice < 0 {
			return nil, domain.ErrInvalidItems
		}
		if item.Quantity <= 0 {
			return nil, domain.ErrInvalidQuantity
		}
		lineTotal := item.UnitPrice * item.Quantity
		subtotal += lineTotal
		items = append(items, domain.LineItem{
			ID:        s.genID.Generate().Int64(),
			OrderID:   req.ID,
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: lineTotal,
			CreatedAt: now,
		})
	}

	if req.Discount < 0 || req.Discount > subtotal || req.ShippingFee < 0 {
		return nil, domain.ErrInvalidTotal
	}
	total := subtotal - req.Discount + req.ShippingFee
	if total < 0 {
		return nil, domain.ErrInvalidTotal
	}

	order := &domain.Order{
		ID:            req.ID,
		Reference:     domain.Reference(req.ID),
		UserID:        userID,
		Status:        req.PaymentMethod.InitialStatus(),
		Subtotal:      subtotal,
		Discount:      req.Discount,
		ShippingFee:   req.ShippingFee,
		Total:         total,
		PromotionID:   req.PromotionID,
		PromotionCode: req.PromotionCode,
		PaymentMethod: req.PaymentMethod,
		CreatedAt:     now,
		UpdatedAt:     now,
		Items:         items,
	}

	if err := s.repo.Insert(ctx, tx, order); err != nil {
		return nil, err
	}
	if err := s.repo.InsertItems(ctx, tx, items); err != nil {
		return nil, err
	}
	if err := s.appendHistory(ctx, tx, order.ID, "", order.Status, "created", "user:"+userID, now); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*domain.Order, error) {
	order, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}
	order.Items, err = s.repo.ListItems(ctx, s.db, order.ID)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// GetForUser hides orders owned by someone else behind not found.
func (s *Service) GetForUser(ctx context.Context, userID string, id string) (*domain.Order, error) {
	orderID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != strings.TrimSpace(userID) {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

func (s *Service) List(ctx context.Context, userID string, page pagination.Pagination) ([]domain.Order, pagination.PageInfo, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, pagination.PageInfo{}, domain.ErrInvalidUser
	}

	cursor, err := decodeCursor(page.PageToken)
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}

	limit := page.Limit()
	rows, err := s.repo.ListByUser(ctx, s.db, userID, cursor, limit+1)
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}
	return pagination.Page(rows, limit, func(o domain.Order) pagination.Cursor {
		return pagination.Cursor{
			ID:        strconv.FormatInt(o.ID, 10),
			CreatedAt: o.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
	})
}

// Transition moves an order to target under the order lock. Cancelling
// returns the order's stock exactly once.
func (s *Service) Transition(ctx context.Context, id string, target domain.OrderStatus, opts domain.TransitionOptions) (*domain.Order, error) {
	orderID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	if !target.Valid() {
		return nil, domain.ErrInvalidTargetStatus
	}
	actor := strings.TrimSpace(opts.Actor)
	if actor == "" {
		actor = ActorSystem
	}
	return s.transition(ctx, orderID, target, strings.TrimSpace(opts.Reason), actor, nil)
}

// Cancel lets the owner cancel an order that has not been paid yet.
func (s *Service) Cancel(ctx context.Context, userID string, id string, reason string) (*domain.Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrInvalidUser
	}
	orderID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled by customer"
	}
	ownerCheck := func(o *domain.Order) error {
		if o.UserID != userID {
			return domain.ErrOrderNotFound
		}
		if !o.Status.AwaitingConfirmation() {
			return domain.ErrInvalidTransition
		}
		return nil
	}
	return s.transition(ctx, orderID, domain.OrderStatusCancelled, reason, "user:"+userID, ownerCheck)
}

func (s *Service) transition(
	ctx context.Context,
	orderID int64,
	target domain.OrderStatus,
	reason string,
	actor string,
	check func(*domain.Order) error,
) (*domain.Order, error) {
	release, err := s.LockOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer release()

	order, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if check != nil {
		if err := check(order); err != nil {
			return nil, err
		}
	}
	if !domain.CanTransition(order.Status, target) {
		return nil, domain.ErrInvalidTransition
	}

	var lines []inventorydomain.Line
	if target == domain.OrderStatusCancelled {
		keys := make([]string, 0, len(order.Items))
		for _, item := range order.Items {
			keys = append(keys, inventorydomain.LockKey(item.ProductID))
			lines = append(lines, inventorydomain.Line{ProductID: item.ProductID, Quantity: item.Quantity})
		}
		releaseProducts, err := s.arena.LockAll(ctx, keys...)
		if err != nil {
			return nil, err
		}
		defer releaseProducts()
	}

	from := order.Status
	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.repo.UpdateStatus(ctx, tx, order.ID, from, target, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrConcurrentUpdate
		}
		if err := s.appendHistory(ctx, tx, order.ID, from, target, reason, actor, now); err != nil {
			return err
		}
		if target == domain.OrderStatusCancelled {
			if _, err := s.inventorySvc.ReleaseOrder(ctx, tx, order.ID, lines); err != nil {
				return fmt.Errorf("release inventory: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	order.Status = target
	order.UpdatedAt = now

	logger.WithContext(ctx, s.log).Info("order transitioned",
		zap.Int64("order_id", order.ID),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
		zap.String("actor", actor),
	)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordTransition(ctx, string(from), string(target))
	}

	kind := notification.KindOrderStatusChanged
	if target == domain.OrderStatusCancelled {
		kind = notification.KindOrderCancelled
	}
	s.notifier.Notify(ctx, order.UserID, kind, map[string]any{
		"order_id": order.Reference,
		"from":     string(from),
		"status":   string(target),
	})
	return order, nil
}

// ConfirmPayment records the payment and confirms order within tx. The caller
// must hold the order lock.
func (s *Service) ConfirmPayment(ctx context.Context, tx *gorm.DB, order *domain.Order, payment domain.PaymentUpdate) error {
	if order == nil {
		return domain.ErrOrderNotFound
	}
	target := domain.OrderStatusConfirmed
	if !domain.CanTransition(order.Status, target) {
		return domain.ErrInvalidTransition
	}

	now := s.clock.Now()
	if payment.PaidAt.IsZero() {
		payment.PaidAt = now
	}
	ok, err := s.repo.MarkPaid(ctx, tx, order.ID, order.Status, target, payment, now)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrConcurrentUpdate
	}

	reason := "payment received"
	if payment.ReviewRequired {
		reason = "payment received with amount mismatch"
	}
	if err := s.appendHistory(ctx, tx, order.ID, order.Status, target, reason, ActorPayment, now); err != nil {
		return err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordTransition(ctx, string(order.Status), string(target))
	}

	amount := payment.Amount
	paidAt := payment.PaidAt
	order.Status = target
	order.PaidAmount = &amount
	order.PaidAt = &paidAt
	order.ReviewRequired = payment.ReviewRequired
	order.UpdatedAt = now
	return nil
}

func (s *Service) FlagForReview(ctx context.Context, tx *gorm.DB, order *domain.Order) error {
	if order == nil {
		return domain.ErrOrderNotFound
	}
	now := s.clock.Now()
	if err := s.repo.FlagReview(ctx, tx, order.ID, now); err != nil {
		return err
	}
	order.ReviewRequired = true
	order.UpdatedAt = now
	return nil
}

// FindByReference resolves a correlation token. An exact reference match wins;
// otherwise up to two prefix matches are returned so callers can detect
// ambiguity.
func (s *Service) FindByReference(ctx context.Context, tx *gorm.DB, token string) ([]domain.Order, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	if tx == nil {
		tx = s.db
	}
	exact, err := s.repo.FindByReference(ctx, tx, token)
	if err != nil {
		return nil, err
	}
	if exact != nil {
		return []domain.Order{*exact}, nil
	}
	return s.repo.FindByReferencePrefix(ctx, tx, token, 2)
}

func (s *Service) LockOrder(ctx context.Context, id int64) (func(), error) {
	return s.arena.Lock(ctx, domain.LockKey(id))
}

func (s *Service) History(ctx context.Context, id string) ([]domain.StatusChange, error) {
	orderID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	order, err := s.repo.FindByID(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}
	return s.repo.ListStatusChanges(ctx, s.db, orderID)
}

func (s *Service) appendHistory(
	ctx context.Context,
	tx *gorm.DB,
	orderID int64,
	from, to domain.OrderStatus,
	reason, actor string,
	now time.Time,
) error {
	return s.repo.InsertStatusChange(ctx, tx, &domain.StatusChange{
		ID:         s.genID.Generate().Int64(),
		OrderID:    orderID,
		FromStatus: from,
		ToStatus:   to,
		Reason:     reason,
		Actor:      actor,
		CreatedAt:  now,
	})
}

func parseID(value string) (int64, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id <= 0 {
		return 0, domain.ErrInvalidOrder
	}
	return id.Int64(), nil
}

func decodeCursor(token string) (*domain.Cursor, error) {
	raw, err := pagination.DecodeCursor(token)
	if err != nil || raw == nil {
		return nil, err
	}
	id, err := strconv.ParseInt(raw.ID, 10, 64)
	if err != nil {
		return nil, pagination.ErrInvalidPageToken
	}
	createdAt, err := time.Parse(time.RFC3339Nano, raw.CreatedAt)
	if err != nil {
		return nil, pagination.ErrInvalidPageToken
	}
	return &domain.Cursor{ID: id, CreatedAt: createdAt}, nil
}
