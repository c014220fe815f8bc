package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Telemetry encapsulates the OpenTelemetry meter provider and its lifecycle.
type Telemetry struct {
	meterProvider  metric.MeterProvider
	metricsHandler http.Handler
}

// Option is a function that configures the telemetry setup
type Option func(*telemetryConfig)

// telemetryConfig holds the configuration for creating telemetry
type telemetryConfig struct {
	config *Config
}

// WithTelemetryConfig sets the telemetry configuration
func WithTelemetryConfig(cfg *Config) Option {
	return func(tc *telemetryConfig) {
		tc.config = cfg
	}
}

// New creates and initializes a new Telemetry instance based on the configuration.
// If telemetry is disabled or configuration is nil, returns a Telemetry with a
// no-op provider. The caller is responsible for calling Shutdown on exit.
func New(ctx context.Context, opts ...Option) (*Telemetry, error) {
	cfg := &telemetryConfig{}

	for _, opt := range opts {
		opt(cfg)
	}

	// Return no-op telemetry if config is nil or disabled
	if cfg.config == nil || !cfg.config.Enabled {
		slog.Debug("Telemetry disabled")
		mp, err := NewMeterProvider(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create no-op meter provider: %w", err)
		}
		return &Telemetry{meterProvider: mp}, nil
	}

	if err := cfg.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry configuration: %w", err)
	}

	slog.Info("Initializing telemetry",
		"service_name", cfg.config.GetServiceName(),
		"service_version", cfg.config.GetServiceVersion(),
	)

	meterProvider, err := NewMeterProvider(ctx,
		WithMeterServiceName(cfg.config.GetServiceName()),
		WithMeterServiceVersion(cfg.config.GetServiceVersion()),
		WithMetricsConfig(cfg.config.Metrics),
		WithMeterEndpoint(cfg.config.GetEndpoint()),
		WithMeterInsecure(cfg.config.GetInsecure()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create meter provider: %w", err)
	}

	t := &Telemetry{meterProvider: meterProvider}
	// The Prometheus exporter registers with the default registry; the
	// handler is what makes the collected metrics scrapeable.
	if m := cfg.config.Metrics; m != nil && m.Enabled && m.GetExporter() == ExporterPrometheus {
		t.metricsHandler = promhttp.Handler()
	}
	return t, nil
}

// MeterProvider returns the configured meter provider
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	return t.meterProvider
}

// MetricsHandler returns the scrape handler for the Prometheus exporter, or
// nil when metrics are exported elsewhere (or disabled).
func (t *Telemetry) MetricsHandler() http.Handler {
	if t == nil {
		return nil
	}
	return t.metricsHandler
}

// Shutdown flushes and stops the underlying providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if shutdownable, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		if err := shutdownable.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shut down meter provider: %w", err)
		}
	}
	return nil
}
