package notification

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/orderflow/internal/clock"
	"github.com/smallbiznis/orderflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/orderflow/internal/observability/metrics"
	"github.com/smallbiznis/orderflow/pkg/telemetry/correlation"
)

const (
	KindOrderCreated        = "order.created"
	KindOrderStatusChanged  = "order.status_changed"
	KindOrderCancelled      = "order.cancelled"
	KindOrderPaid           = "order.paid"
	KindOrderReviewRequired = "order.review_required"
)

// Notifier delivers user-facing order notifications. Notify never blocks on
// delivery and never reports failure to the caller.
type Notifier interface {
	Notify(ctx context.Context, userID string, kind string, payload map[string]any)
}

type Params struct {
	fx.In

	Hub        *Hub
	Log        *zap.Logger
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	hub        *Hub
	log        *zap.Logger
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		hub:        p.Hub,
		log:        p.Log.Named("notification.service"),
		clock:      p.Clock,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Notify(ctx context.Context, userID string, kind string, payload map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("notification panicked", zap.String("kind", kind), zap.Any("panic", r))
		}
	}()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return
	}

	event := Event{
		ID:            ulid.Make().String(),
		Kind:          kind,
		UserID:        userID,
		Data:          payload,
		CorrelationID: correlation.ExtractCorrelationID(ctx),
		OccurredAt:    s.clock.Now(),
	}
	delivered := s.hub.Publish(userID, event)

	logger.WithContext(ctx, s.log).Debug("notification published",
		zap.String("event_id", event.ID),
		zap.String("kind", kind),
		zap.String("user_id", userID),
		zap.Int("subscribers", delivered),
	)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordNotification(ctx, kind, delivered > 0)
	}
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Notify(context.Context, string, string, map[string]any) {}
