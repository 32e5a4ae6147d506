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
	referralAttach metric.Int64Counter
	referralClicks metric.Int64Counter
	earningsEvents metric.Int64Counter
	adEvents       metric.Int64Counter
	adDeduped      metric.Int64Counter
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
		name = "attribution"
	}
	meter := provider.Meter(name)

	referralAttach, err := meter.Int64Counter("attribution_referral_attach_total")
	if err != nil {
		return nil, err
	}
	referralClicks, err := meter.Int64Counter("attribution_referral_clicks_total")
	if err != nil {
		return nil, err
	}
	earningsEvents, err := meter.Int64Counter("attribution_earnings_events_total")
	if err != nil {
		return nil, err
	}
	adEvents, err := meter.Int64Counter("attribution_ad_events_total")
	if err != nil {
		return nil, err
	}
	adDeduped, err := meter.Int64Counter("attribution_ad_events_deduped_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		referralAttach: referralAttach,
		referralClicks: referralClicks,
		earningsEvents: earningsEvents,
		adEvents:       adEvents,
		adDeduped:      adDeduped,
	}, nil
}

// RecordReferralAttach increments attach attempt counts by outcome.
func (m *Metrics) RecordReferralAttach(ctx context.Context, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("result", strings.TrimSpace(result)))
	m.referralAttach.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordReferralClick increments referral click counts.
func (m *Metrics) RecordReferralClick(ctx context.Context, resolved bool) {
	if m == nil {
		return
	}
	result := "resolved"
	if !resolved {
		result = "stale"
	}
	attrs := FilterAttributes(attribute.String("result", result))
	m.referralClicks.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordEarningsEvent increments processed webhook counts by outcome.
func (m *Metrics) RecordEarningsEvent(ctx context.Context, eventType, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("result", strings.TrimSpace(result)),
	)
	m.earningsEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAdEvent increments counted ad event totals.
func (m *Metrics) RecordAdEvent(ctx context.Context, eventType, placement string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("placement", strings.TrimSpace(placement)),
	)
	m.adEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAdDeduped increments suppressed duplicate ad event totals.
func (m *Metrics) RecordAdDeduped(ctx context.Context, eventType, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.adDeduped.Add(ctx, 1, metric.WithAttributes(attrs...))
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

var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint":    {},
	"status_code": {},
	"event_type":  {},
	"placement":   {},
	"result":      {},
	"reason":      {},
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
