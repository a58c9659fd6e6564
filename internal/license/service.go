package license

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Defaults applied by NewService
const (
	DefaultStoreTimeout = 5 * time.Second
	DefaultTrialDays    = 14
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

// Service is the license engine. It holds no locks; all shared state lives in
// the store and the cache.
type Service struct {
	store    Store
	cache    *SnapshotCache
	recorder *Recorder
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *Metrics
	now      func() time.Time

	storeTimeout  time.Duration
	auditFailures bool
	trialDays     int
	historyLimit  int
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the structured logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithTracer sets the OpenTelemetry tracer
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithMetrics sets the engine instruments
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock replaces the wall clock, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithStoreTimeout bounds every store call
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) { s.storeTimeout = d }
}

// WithAuditFailures also records usage events for rejected operations on known licenses
func WithAuditFailures(enabled bool) Option {
	return func(s *Service) { s.auditFailures = enabled }
}

// WithTrialDays sets the default free trial duration
func WithTrialDays(days int) Option {
	return func(s *Service) { s.trialDays = days }
}

// WithHistoryLimit sets the default number of usage events returned by History
func WithHistoryLimit(n int) Option {
	return func(s *Service) { s.historyLimit = n }
}

// NewService assembles the engine. cache may be nil to disable caching.
func NewService(store Store, cache *SnapshotCache, opts ...Option) *Service {
	s := &Service{
		store:        store,
		cache:        cache,
		logger:       slog.Default(),
		tracer:       noop.NewTracerProvider().Tracer("license"),
		now:          time.Now,
		storeTimeout: DefaultStoreTimeout,
		trialDays:    DefaultTrialDays,
		historyLimit: DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.With(slog.String("component", "license_engine"))
	s.cache.WithMetrics(s.metrics)
	s.recorder = NewRecorder(store, s.logger, s.metrics, func() time.Time { return s.clock() })

	return s
}

// Recorder exposes the usage recorder used by the service
func (s *Service) Recorder() *Recorder {
	return s.recorder
}

// clock returns the current time in UTC
func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// storeCtx bounds a single store call
func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

// Ping reports store and cache health. Cache failure is returned separately
// because it does not make the service unavailable.
func (s *Service) Ping(ctx context.Context) (storeErr, cacheErr error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	storeErr = s.store.Ping(sctx)
	cacheErr = s.cache.Ping(ctx)
	return storeErr, cacheErr
}
