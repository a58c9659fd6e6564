package license

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"gmflicense/pkg/contracts/domain"
)

// DefaultCacheTTL bounds how long a snapshot may be served without a store read
const DefaultCacheTTL = 300 * time.Second

// Cache is a byte-oriented key/value backend with TTLs
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// DeletePrefix removes every entry whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Ping(ctx context.Context) error
}

// SnapshotKind namespaces cached snapshots by the operation that produced them
type SnapshotKind string

const (
	SnapshotValidate SnapshotKind = "license"
	SnapshotInfo     SnapshotKind = "license_info"
)

var snapshotKinds = []SnapshotKind{SnapshotValidate, SnapshotInfo}

// revokedPrefix namespaces the markers left behind by Invalidate
const revokedPrefix = "license_revoked:"

// SnapshotKey returns the cache key of a snapshot for (license key, machine)
func SnapshotKey(kind SnapshotKind, licenseKey, machineID string) string {
	return string(kind) + ":" + licenseKey + ":" + machineID
}

// licensePrefix covers every machine-scoped snapshot of one license
func licensePrefix(kind SnapshotKind, licenseKey string) string {
	return string(kind) + ":" + licenseKey + ":"
}

func revokedKey(licenseKey string) string {
	return revokedPrefix + licenseKey
}

// SnapshotCache stores entitlement snapshots in a Cache. Backend failures are
// logged and treated as misses; they never fail the calling operation.
// A nil *SnapshotCache or a nil backend disables caching.
type SnapshotCache struct {
	backend Cache
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger
	metrics *Metrics
}

// NewSnapshotCache wraps backend. A non-positive ttl falls back to DefaultCacheTTL.
func NewSnapshotCache(backend Cache, ttl, timeout time.Duration, logger *slog.Logger) *SnapshotCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotCache{
		backend: backend,
		ttl:     ttl,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "snapshot_cache")),
	}
}

// TTL returns the lifetime given to cached snapshots
func (c *SnapshotCache) TTL() time.Duration {
	return c.ttl
}

func (c *SnapshotCache) enabled() bool {
	return c != nil && c.backend != nil
}

func (c *SnapshotCache) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Get returns the cached snapshot for (kind, key, machine) if present
func (c *SnapshotCache) Get(ctx context.Context, kind SnapshotKind, licenseKey, machineID string) (*domain.EntitlementSnapshot, bool) {
	if !c.enabled() {
		return nil, false
	}

	ctx, cancel := c.bound(ctx)
	defer cancel()

	data, ok, err := c.backend.Get(ctx, SnapshotKey(kind, licenseKey, machineID))
	if err != nil {
		c.logger.WarnContext(ctx, "cache read failed, treating as miss",
			slog.String("kind", string(kind)),
			slog.String("license_key_masked", maskLicenseKey(licenseKey)),
			slog.String("error", err.Error()))
		c.metrics.cacheError(ctx, "get")
		return nil, false
	}
	if !ok {
		c.metrics.cacheMiss(ctx, kind)
		return nil, false
	}

	var snap domain.EntitlementSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.logger.WarnContext(ctx, "discarding undecodable cache entry",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()))
		c.metrics.cacheError(ctx, "decode")
		return nil, false
	}

	c.metrics.cacheHit(ctx, kind)
	return &snap, true
}

// Put stores snap for (kind, key, machine) with the configured TTL. A snapshot
// is never left behind for a license that Invalidate has marked: the marker is
// checked before the write and again after it, so a write racing a revocation
// is either skipped or removed.
func (c *SnapshotCache) Put(ctx context.Context, kind SnapshotKind, licenseKey, machineID string, snap *domain.EntitlementSnapshot) {
	if !c.enabled() {
		return
	}

	data, err := json.Marshal(snap)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to encode snapshot", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := c.bound(ctx)
	defer cancel()

	if marked, err := c.revoked(ctx, licenseKey); err == nil && marked {
		return
	}

	if err := c.backend.Set(ctx, SnapshotKey(kind, licenseKey, machineID), data, c.ttl); err != nil {
		c.logger.WarnContext(ctx, "cache write failed, continuing without cache",
			slog.String("kind", string(kind)),
			slog.String("license_key_masked", maskLicenseKey(licenseKey)),
			slog.String("error", err.Error()))
		c.metrics.cacheError(ctx, "set")
		return
	}

	marked, err := c.revoked(ctx, licenseKey)
	if err == nil && !marked {
		return
	}
	// Either revoked meanwhile or unknown; the snapshot must not outlive the check.
	if _, derr := c.backend.DeletePrefix(ctx, licensePrefix(kind, licenseKey)); derr != nil {
		c.logger.ErrorContext(ctx, "failed to drop snapshot written during revocation",
			slog.String("kind", string(kind)),
			slog.String("license_key_masked", maskLicenseKey(licenseKey)),
			slog.Duration("max_staleness", c.ttl),
			slog.String("error", derr.Error()))
		c.metrics.cacheError(ctx, "invalidate")
	}
}

// revoked reports whether Invalidate has marked licenseKey
func (c *SnapshotCache) revoked(ctx context.Context, licenseKey string) (bool, error) {
	_, ok, err := c.backend.Get(ctx, revokedKey(licenseKey))
	if err != nil {
		c.metrics.cacheError(ctx, "get")
		return false, err
	}
	return ok, nil
}

// Invalidate drops every validate and info snapshot of licenseKey across all
// machines and marks the key so that snapshots computed before the revocation
// cannot be written back. It returns the number of snapshots removed.
func (c *SnapshotCache) Invalidate(ctx context.Context, licenseKey string) int {
	if !c.enabled() {
		return 0
	}

	ctx, cancel := c.bound(ctx)
	defer cancel()

	// The marker goes first; Put checks it after its own write.
	if err := c.backend.Set(ctx, revokedKey(licenseKey), []byte("1"), c.ttl); err != nil {
		c.logger.ErrorContext(ctx, "cache invalidation failed",
			slog.String("kind", "revoked_marker"),
			slog.String("license_key_masked", maskLicenseKey(licenseKey)),
			slog.Duration("max_staleness", c.ttl),
			slog.String("error", err.Error()))
		c.metrics.cacheError(ctx, "invalidate")
	}

	removed := 0
	for _, kind := range snapshotKinds {
		n, err := c.backend.DeletePrefix(ctx, licensePrefix(kind, licenseKey))
		if err != nil {
			// Entries that survive here expire within one TTL.
			c.logger.ErrorContext(ctx, "cache invalidation failed",
				slog.String("kind", string(kind)),
				slog.String("license_key_masked", maskLicenseKey(licenseKey)),
				slog.Duration("max_staleness", c.ttl),
				slog.String("error", err.Error()))
			c.metrics.cacheError(ctx, "invalidate")
			continue
		}
		removed += n
	}
	return removed
}

// Ping checks the backend; a disabled cache is always healthy
func (c *SnapshotCache) Ping(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()
	return c.backend.Ping(ctx)
}

// WithMetrics attaches instruments to the cache and returns it
func (c *SnapshotCache) WithMetrics(m *Metrics) *SnapshotCache {
	if c != nil {
		c.metrics = m
	}
	return c
}
