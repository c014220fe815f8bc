package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMetricsMeterName is the name used for the reconciliation metrics meter
	SyncMetricsMeterName = "github.com/steeveross-eng/huntiq-sync/outbox"

	// CacheMetricsMeterName is the name used for the cache metrics meter
	CacheMetricsMeterName = "github.com/steeveross-eng/huntiq-sync/cache"
)

// SyncMetrics holds the OpenTelemetry instruments for reconciliation metrics
type SyncMetrics struct {
	passDuration metric.Float64Histogram
	drainedTotal metric.Int64Counter
	failedTotal  metric.Int64Counter
	outboxDepth  metric.Int64Gauge
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	passDuration, err := meter.Float64Histogram(
		"huntiq_sync_pass_duration_seconds",
		metric.WithDescription("Duration of reconciliation passes in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, err
	}

	drainedTotal, err := meter.Int64Counter(
		"huntiq_sync_records_drained_total",
		metric.WithDescription("Outbox records acknowledged and removed"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	failedTotal, err := meter.Int64Counter(
		"huntiq_sync_records_failed_total",
		metric.WithDescription("Outbox record replay attempts that failed"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	outboxDepth, err := meter.Int64Gauge(
		"huntiq_sync_outbox_depth",
		metric.WithDescription("Pending records per outbox queue"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		passDuration: passDuration,
		drainedTotal: drainedTotal,
		failedTotal:  failedTotal,
		outboxDepth:  outboxDepth,
	}, nil
}

// RecordPassDuration records the duration of one reconciliation pass
func (m *SyncMetrics) RecordPassDuration(ctx context.Context, duration time.Duration, success bool) {
	if m == nil || m.passDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Bool("success", success),
	}

	m.passDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordDrained counts records acknowledged during a pass for a queue
func (m *SyncMetrics) RecordDrained(ctx context.Context, queue string, count int64) {
	if m == nil || m.drainedTotal == nil {
		return
	}

	m.drainedTotal.Add(ctx, count, metric.WithAttributes(attribute.String("queue", queue)))
}

// RecordFailed counts failed replay attempts during a pass for a queue
func (m *SyncMetrics) RecordFailed(ctx context.Context, queue string, count int64) {
	if m == nil || m.failedTotal == nil {
		return
	}

	m.failedTotal.Add(ctx, count, metric.WithAttributes(attribute.String("queue", queue)))
}

// RecordOutboxDepth records the current number of pending records in a queue
func (m *SyncMetrics) RecordOutboxDepth(ctx context.Context, queue string, depth int64) {
	if m == nil || m.outboxDepth == nil {
		return
	}

	m.outboxDepth.Record(ctx, depth, metric.WithAttributes(attribute.String("queue", queue)))
}

// CacheMetrics holds the OpenTelemetry instruments for cache strategy metrics
type CacheMetrics struct {
	hitsTotal   metric.Int64Counter
	missesTotal metric.Int64Counter
}

// NewCacheMetrics creates a new CacheMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewCacheMetrics(provider metric.MeterProvider) (*CacheMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(CacheMetricsMeterName)

	hitsTotal, err := meter.Int64Counter(
		"huntiq_sync_cache_hits_total",
		metric.WithDescription("Requests served from the cache"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	missesTotal, err := meter.Int64Counter(
		"huntiq_sync_cache_misses_total",
		metric.WithDescription("Requests that required an upstream fetch"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &CacheMetrics{
		hitsTotal:   hitsTotal,
		missesTotal: missesTotal,
	}, nil
}

// RecordHit counts a cache hit for a strategy ("cache_first" or "network_first")
func (m *CacheMetrics) RecordHit(ctx context.Context, strategy string) {
	if m == nil || m.hitsTotal == nil {
		return
	}

	m.hitsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", strategy)))
}

// RecordMiss counts a cache miss for a strategy
func (m *CacheMetrics) RecordMiss(ctx context.Context, strategy string) {
	if m == nil || m.missesTotal == nil {
		return
	}

	m.missesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", strategy)))
}
