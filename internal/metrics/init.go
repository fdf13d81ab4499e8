package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlpmetrichttp "go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

var provider *sdkmetric.MeterProvider

// InitMetrics sets up the meter provider, the instruments and the shared callback.
func InitMetrics(ctx context.Context, cfg MetricsConfig) error {
	if err := InitProvider(ctx, cfg); err != nil {
		return fmt.Errorf("failed to initialize provider: %w", err)
	}

	if err := createInstruments(); err != nil {
		return fmt.Errorf("failed to initialize instruments: %w", err)
	}

	if err := RegisterCallbacks(); err != nil {
		return fmt.Errorf("failed to register callbacks: %w", err)
	}

	return nil
}

func sanitizeEndpoint(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimPrefix(endpoint, "http://")
}

func InitProvider(ctx context.Context, cfg MetricsConfig, readers ...sdkmetric.Reader) error {
	setCommonLabels(cfg)

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName("ephemery-sync-exporter"),
		attribute.String("instance", cfg.Alias),
		attribute.String("job", fmt.Sprintf("ephemery-sync-exporter/%s", cfg.Network)),
	)

	var opts []sdkmetric.Option
	opts = append(opts, sdkmetric.WithResource(res))

	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	if cfg.EnablePrometheus {
		promExporter, err := prometheus.New(
			prometheus.WithoutScopeInfo(),
		)
		if err != nil {
			return fmt.Errorf("failed to create Prometheus exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(promExporter))
	}

	if cfg.EnableOTLP {
		options := []otlpmetrichttp.Option{
			otlpmetrichttp.WithEndpoint(sanitizeEndpoint(cfg.OTLPEndpoint)),
		}

		if cfg.OTLPInsecure {
			options = append(options, otlpmetrichttp.WithInsecure())
		}

		otlpExporter, err := otlpmetrichttp.New(ctx, options...)
		if err != nil {
			return fmt.Errorf("failed to create OTLP exporter: %w", err)
		}

		interval := time.Duration(cfg.OTLPInterval) * time.Second
		if interval <= 0 {
			interval = 5 * time.Second
		}
		reader := sdkmetric.NewPeriodicReader(
			otlpExporter,
			sdkmetric.WithInterval(interval),
		)
		opts = append(opts, sdkmetric.WithReader(reader))
	}

	provider = sdkmetric.NewMeterProvider(opts...)

	otel.SetMeterProvider(provider)

	meter = otel.Meter(
		"ephemery-sync-exporter",
		metric.WithInstrumentationVersion("0.1.0"),
	)

	return nil
}

// Shutdown flushes pending OTLP exports and unregisters the callback.
func Shutdown(ctx context.Context) error {
	for _, cb := range callbacks {
		if err := cb.Unregister(); err != nil {
			return fmt.Errorf("failed to unregister callback: %w", err)
		}
	}
	callbacks = nil
	if provider == nil {
		return nil
	}
	return provider.Shutdown(ctx)
}

func setCommonLabels(cfg MetricsConfig) {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()
	commonLabels = []attribute.KeyValue{
		attribute.String("network", cfg.Network),
	}
}
