package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/orderflow/internal/clock"
	"github.com/smallbiznis/orderflow/internal/config"
	"github.com/smallbiznis/orderflow/internal/notification"
	"github.com/smallbiznis/orderflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/orderflow/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/orderflow/internal/order/domain"
	paymentdomain "github.com/smallbiznis/orderflow/internal/payment/domain"
	"github.com/smallbiznis/orderflow/pkg/telemetry/correlation"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200

	// payment_events.direction column width.
	maxDirectionLength = 16
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Policy     *config.PolicyHolder
	Repo       paymentdomain.Repository
	OrderSvc   orderdomain.Service
	Notifier   notification.Notifier `optional:"true"`
	ObsMetrics *obsmetrics.Metrics   `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	policy     *config.PolicyHolder
	repo       paymentdomain.Repository
	orderSvc   orderdomain.Service
	notifier   notification.Notifier
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) paymentdomain.Service {
	return NewService(p)
}

func NewService(p Params) *Service {
	notifier := p.Notifier
	if notifier == nil {
		notifier = notification.Nop{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		policy:     p.Policy,
		repo:       p.Repo,
		orderSvc:   p.OrderSvc,
		notifier:   notifier,
		obsMetrics: p.ObsMetrics,
	}
}

// Reconcile applies one inbound payment notification. Every outcome other
// than a malformed credit is reported through the result, never as an error.
func (s *Service) Reconcile(ctx context.Context, event paymentdomain.PaymentEvent, payload []byte) (*paymentdomain.Result, error) {
	if err := validateEvent(&event); err != nil {
		return nil, err
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return nil, paymentdomain.ErrInvalidPayload
	}

	ctx, correlationID := correlation.EnsureCorrelationID(ctx)
	now := s.clock.Now()
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = now
	}

	record := &paymentdomain.EventRecord{
		ID:            s.genID.Generate().Int64(),
		ReferenceText: event.ReferenceText,
		Amount:        event.Amount,
		Direction:     event.Direction,
		Outcome:       paymentdomain.OutcomeReceived,
		CorrelationID: correlationID,
		ReceivedAt:    event.ReceivedAt,
	}
	if event.EventID != "" {
		eventID := event.EventID
		record.EventID = &eventID
	}
	if len(payload) > 0 {
		record.Payload = datatypes.JSON(payload)
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, record)
	if err != nil {
		return nil, err
	}
	if !inserted {
		stored, err := s.repo.FindEvent(ctx, s.db, event.EventID)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			return nil, paymentdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			result := &paymentdomain.Result{Outcome: paymentdomain.OutcomeAlreadyProcessed}
			if stored.OrderID != nil {
				result.OrderID = orderdomain.Reference(*stored.OrderID)
			}
			s.finish(ctx, event, result, nil)
			return result, nil
		}
		// A previous delivery was logged but never finished; resume it.
		record = stored
	}

	return s.process(ctx, record, event)
}

func (s *Service) process(ctx context.Context, record *paymentdomain.EventRecord, event paymentdomain.PaymentEvent) (*paymentdomain.Result, error) {
	policy := s.policy.Get()

	if event.Direction != paymentdomain.DirectionCredit {
		return s.settle(ctx, record, event, paymentdomain.Decision{Outcome: paymentdomain.OutcomeIgnored})
	}

	token := paymentdomain.ExtractToken(policy.ReferenceRegexp(), event.ReferenceText)
	if token == "" {
		return s.settle(ctx, record, event, paymentdomain.Decision{Outcome: paymentdomain.OutcomeUnmatched})
	}
	record.Token = &token

	candidates, err := s.orderSvc.FindByReference(ctx, s.db, token)
	if err != nil {
		return nil, err
	}
	if len(candidates) != 1 {
		if len(candidates) > 1 {
			logger.WithContext(ctx, s.log).Warn("payment reference is ambiguous",
				zap.String("token", token),
				zap.Int("candidates", len(candidates)),
			)
		}
		return s.settle(ctx, record, event, paymentdomain.Decision{Outcome: paymentdomain.OutcomeUnmatched})
	}

	orderID := candidates[0].ID
	release, err := s.orderSvc.LockOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer release()

	// Re-read under the lock; the candidate may have moved since the lookup.
	order, err := s.orderSvc.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	decision := paymentdomain.Decide(event, order, policy.Payment)
	record.OrderID = &orderID
	record.Outcome = decision.Outcome
	record.ReviewRequired = decision.ReviewRequired

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		switch decision.Outcome {
		case paymentdomain.OutcomeConfirmed:
			if err := s.orderSvc.ConfirmPayment(ctx, tx, order, orderdomain.PaymentUpdate{
				Amount:         event.Amount,
				PaidAt:         event.ReceivedAt,
				ReviewRequired: decision.ReviewRequired,
			}); err != nil {
				return err
			}
		case paymentdomain.OutcomeHeldForReview:
			if err := s.orderSvc.FlagForReview(ctx, tx, order); err != nil {
				return err
			}
		}
		return s.repo.MarkProcessed(ctx, tx, record, s.clock.Now())
	})
	if err != nil {
		return nil, err
	}

	if decision.AmountMismatch {
		logger.WithContext(ctx, s.log).Warn("payment amount mismatch",
			zap.Int64("order_id", order.ID),
			zap.Int64("expected", order.Total),
			zap.Int64("received", event.Amount),
			zap.String("outcome", string(decision.Outcome)),
		)
	}

	result := &paymentdomain.Result{
		Outcome:        decision.Outcome,
		OrderID:        order.Reference,
		ReviewRequired: decision.ReviewRequired,
	}
	s.finish(ctx, event, result, order)
	return result, nil
}

// settle records an outcome that touches no order.
func (s *Service) settle(
	ctx context.Context,
	record *paymentdomain.EventRecord,
	event paymentdomain.PaymentEvent,
	decision paymentdomain.Decision,
) (*paymentdomain.Result, error) {
	record.Outcome = decision.Outcome
	record.ReviewRequired = decision.ReviewRequired
	if err := s.repo.MarkProcessed(ctx, s.db, record, s.clock.Now()); err != nil {
		return nil, err
	}
	result := &paymentdomain.Result{Outcome: decision.Outcome}
	s.finish(ctx, event, result, nil)
	return result, nil
}

func (s *Service) finish(ctx context.Context, event paymentdomain.PaymentEvent, result *paymentdomain.Result, order *orderdomain.Order) {
	logger.WithContext(ctx, s.log).Info("payment event reconciled",
		zap.String("event_id", event.EventID),
		zap.String("direction", string(event.Direction)),
		zap.Int64("amount", event.Amount),
		zap.String("outcome", string(result.Outcome)),
		zap.String("order_id", result.OrderID),
		zap.Bool("review_required", result.ReviewRequired),
		zap.String("correlation_id", correlation.ExtractCorrelationID(ctx)),
	)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordReconciliation(ctx, string(result.Outcome), result.ReviewRequired)
	}
	if order == nil {
		return
	}

	payload := map[string]any{
		"order_id":        order.Reference,
		"status":          string(order.Status),
		"amount":          event.Amount,
		"review_required": result.ReviewRequired,
	}
	switch result.Outcome {
	case paymentdomain.OutcomeConfirmed:
		s.notifier.Notify(ctx, order.UserID, notification.KindOrderPaid, payload)
	case paymentdomain.OutcomeHeldForReview:
		s.notifier.Notify(ctx, order.UserID, notification.KindOrderReviewRequired, payload)
	}
}

func (s *Service) ListEvents(ctx context.Context, filter paymentdomain.ListFilter) ([]paymentdomain.EventRecord, error) {
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultListLimit
	case filter.Limit > maxListLimit:
		filter.Limit = maxListLimit
	}
	return s.repo.ListEvents(ctx, s.db, filter)
}

func validateEvent(event *paymentdomain.PaymentEvent) error {
	event.EventID = strings.TrimSpace(event.EventID)
	event.ReferenceText = strings.TrimSpace(event.ReferenceText)
	event.Direction = paymentdomain.Direction(strings.ToLower(strings.TrimSpace(string(event.Direction))))

	if len(event.Direction) > maxDirectionLength {
		event.Direction = event.Direction[:maxDirectionLength]
	}
	// Only credits are actionable. Any other direction is logged as ignored.
	if event.Direction == paymentdomain.DirectionCredit && event.Amount <= 0 {
		return paymentdomain.ErrInvalidAmount
	}
	if len(event.EventID) > 255 {
		return paymentdomain.ErrInvalidEvent
	}
	if !event.ReceivedAt.IsZero() {
		event.ReceivedAt = event.ReceivedAt.UTC()
	}
	return nil
}
