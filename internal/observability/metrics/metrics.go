package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	checkouts          metric.Int64Counter
	checkoutAmount     metric.Int64Histogram
	reconciliations    metric.Int64Counter
	orderTransitions   metric.Int64Counter
	idempotencyPurged  metric.Int64Counter
	rateLimitDenied    metric.Int64Counter
	notifications      metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "orderflow"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	var err error
	if m.checkouts, err = meter.Int64Counter("orderflow_checkout_total"); err != nil {
		return nil, err
	}
	if m.checkoutAmount, err = meter.Int64Histogram("orderflow_checkout_amount", metric.WithUnit("{minor_unit}")); err != nil {
		return nil, err
	}
	if m.reconciliations, err = meter.Int64Counter("orderflow_payment_reconcile_total"); err != nil {
		return nil, err
	}
	if m.orderTransitions, err = meter.Int64Counter("orderflow_order_transitions_total"); err != nil {
		return nil, err
	}
	if m.idempotencyPurged, err = meter.Int64Counter("orderflow_idempotency_purged_total"); err != nil {
		return nil, err
	}
	if m.rateLimitDenied, err = meter.Int64Counter("orderflow_rate_limit_denied_total"); err != nil {
		return nil, err
	}
	if m.notifications, err = meter.Int64Counter("orderflow_notifications_total"); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordCheckout counts a checkout attempt by outcome; total is recorded only for created orders.
func (m *Metrics) RecordCheckout(ctx context.Context, outcome, paymentMethod string, total int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("outcome", strings.TrimSpace(outcome)),
		attribute.String("payment_method", strings.TrimSpace(paymentMethod)),
	)
	m.checkouts.Add(ctx, 1, metric.WithAttributes(attrs...))
	if outcome == "created" && total > 0 {
		m.checkoutAmount.Record(ctx, total, metric.WithAttributes(attrs...))
	}
}

func (m *Metrics) RecordReconciliation(ctx context.Context, outcome string, reviewRequired bool) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("outcome", strings.TrimSpace(outcome)),
		attribute.Bool("review_required", reviewRequired),
	)
	m.reconciliations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("from_status", from),
		attribute.String("to_status", to),
	)
	m.orderTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordIdempotencyPurged(ctx context.Context, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.idempotencyPurged.Add(ctx, n)
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordNotification(ctx context.Context, kind string, delivered bool) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("kind", strings.TrimSpace(kind)),
		attribute.Bool("delivered", delivered),
	)
	m.notifications.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// User and order identifiers are deliberately absent: they would explode cardinality.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"outcome":         {},
	"payment_method":  {},
	"review_required": {},
	"from_status":     {},
	"to_status":       {},
	"endpoint":        {},
	"reason":          {},
	"kind":            {},
	"delivered":       {},
	"status_code":     {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
