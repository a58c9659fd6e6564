package license

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the engine's OpenTelemetry instruments. A nil *Metrics records nothing.
type Metrics struct {
	Operations        metric.Int64Counter
	OperationDuration metric.Float64Histogram

	CacheHits   metric.Int64Counter
	CacheMisses metric.Int64Counter
	CacheErrors metric.Int64Counter

	TokensConsumed    metric.Int64Counter
	TokenRejections   metric.Int64Counter
	Expirations       metric.Int64Counter
	Revocations       metric.Int64Counter
	PluginActivations metric.Int64Counter
	UsageAppendErrors metric.Int64Counter
}

// NewMetrics creates the engine instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.Operations, err = meter.Int64Counter(
		"license_operations_total",
		metric.WithDescription("Total number of license engine operations by outcome"),
	); err != nil {
		return nil, fmt.Errorf("failed to create operations counter: %w", err)
	}

	if m.OperationDuration, err = meter.Float64Histogram(
		"license_operation_duration_seconds",
		metric.WithDescription("License engine operation duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create operation duration histogram: %w", err)
	}

	if m.CacheHits, err = meter.Int64Counter(
		"license_cache_hits_total",
		metric.WithDescription("Total number of entitlement cache hits"),
	); err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	if m.CacheMisses, err = meter.Int64Counter(
		"license_cache_misses_total",
		metric.WithDescription("Total number of entitlement cache misses"),
	); err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}

	if m.CacheErrors, err = meter.Int64Counter(
		"license_cache_errors_total",
		metric.WithDescription("Total number of entitlement cache backend failures"),
	); err != nil {
		return nil, fmt.Errorf("failed to create cache errors counter: %w", err)
	}

	if m.TokensConsumed, err = meter.Int64Counter(
		"license_tokens_consumed_total",
		metric.WithDescription("Total number of tokens consumed"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tokens consumed counter: %w", err)
	}

	if m.TokenRejections, err = meter.Int64Counter(
		"license_token_rejections_total",
		metric.WithDescription("Total number of consumptions rejected for insufficient balance"),
	); err != nil {
		return nil, fmt.Errorf("failed to create token rejections counter: %w", err)
	}

	if m.Expirations, err = meter.Int64Counter(
		"license_expirations_total",
		metric.WithDescription("Total number of lazy ACTIVE to EXPIRED transitions applied"),
	); err != nil {
		return nil, fmt.Errorf("failed to create expirations counter: %w", err)
	}

	if m.Revocations, err = meter.Int64Counter(
		"license_revocations_total",
		metric.WithDescription("Total number of licenses revoked"),
	); err != nil {
		return nil, fmt.Errorf("failed to create revocations counter: %w", err)
	}

	if m.PluginActivations, err = meter.Int64Counter(
		"license_plugin_activations_total",
		metric.WithDescription("Total number of plugin entitlements granted"),
	); err != nil {
		return nil, fmt.Errorf("failed to create plugin activations counter: %w", err)
	}

	if m.UsageAppendErrors, err = meter.Int64Counter(
		"license_usage_append_errors_total",
		metric.WithDescription("Total number of usage events that could not be recorded"),
	); err != nil {
		return nil, fmt.Errorf("failed to create usage append errors counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) operation(ctx context.Context, op, outcome string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	)
	m.Operations.Add(ctx, 1, attrs)
	m.OperationDuration.Record(ctx, seconds, attrs)
}

func (m *Metrics) cacheHit(ctx context.Context, kind SnapshotKind) {
	if m == nil {
		return
	}
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}

func (m *Metrics) cacheMiss(ctx context.Context, kind SnapshotKind) {
	if m == nil {
		return
	}
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}

func (m *Metrics) cacheError(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.CacheErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

func (m *Metrics) tokensConsumed(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.TokensConsumed.Add(ctx, n)
}

func (m *Metrics) tokenRejected(ctx context.Context) {
	if m == nil {
		return
	}
	m.TokenRejections.Add(ctx, 1)
}

func (m *Metrics) expired(ctx context.Context) {
	if m == nil {
		return
	}
	m.Expirations.Add(ctx, 1)
}

func (m *Metrics) revoked(ctx context.Context) {
	if m == nil {
		return
	}
	m.Revocations.Add(ctx, 1)
}

func (m *Metrics) pluginActivated(ctx context.Context) {
	if m == nil {
		return
	}
	m.PluginActivations.Add(ctx, 1)
}

func (m *Metrics) usageAppendFailed(ctx context.Context, action string) {
	if m == nil {
		return
	}
	m.UsageAppendErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}
