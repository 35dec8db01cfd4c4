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
	timeEntries      metric.Int64Counter
	invoices         metric.Int64Counter
	broadcastEvents  metric.Int64Counter
	broadcastDropped metric.Int64Counter
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

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "hourbill"
	}
	meter := provider.Meter(name)

	timeEntries, err := meter.Int64Counter("hourbill_time_entries_total")
	if err != nil {
		return nil, err
	}
	invoices, err := meter.Int64Counter("hourbill_invoices_total")
	if err != nil {
		return nil, err
	}
	broadcastEvents, err := meter.Int64Counter("hourbill_broadcast_events_total")
	if err != nil {
		return nil, err
	}
	broadcastDropped, err := meter.Int64Counter("hourbill_broadcast_dropped_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		timeEntries:      timeEntries,
		invoices:         invoices,
		broadcastEvents:  broadcastEvents,
		broadcastDropped: broadcastDropped,
	}, nil
}

// RecordTimeEntry increments time entry mutation counts.
func (m *Metrics) RecordTimeEntry(ctx context.Context, action string) {
	if m == nil {
		return
	}
	m.timeEntries.Add(ctx, 1, metric.WithAttributes(attribute.String("action", strings.TrimSpace(action))))
}

// RecordInvoice increments invoice lifecycle counts.
func (m *Metrics) RecordInvoice(ctx context.Context, action string) {
	if m == nil {
		return
	}
	m.invoices.Add(ctx, 1, metric.WithAttributes(attribute.String("action", strings.TrimSpace(action))))
}

// RecordBroadcast increments delivered event counts.
func (m *Metrics) RecordBroadcast(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.broadcastEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", strings.TrimSpace(eventType))))
}

// RecordBroadcastDrop increments dropped delivery counts.
func (m *Metrics) RecordBroadcastDrop(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.broadcastDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", strings.TrimSpace(eventType))))
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
