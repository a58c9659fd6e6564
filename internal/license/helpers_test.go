package license_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	cachemem "gmflicense/internal/cache/memory"
	"gmflicense/internal/license"
	"gmflicense/internal/shared/testutil"
	"gmflicense/internal/storage/memory"
	"gmflicense/pkg/contracts/domain"
)

// testClock is a settable clock shared by the service under test
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC().Truncate(time.Millisecond)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// flakyStore lets a test fail individual store operations
type flakyStore struct {
	*memory.Store
	appendErr error
	expireErr error
}

func (f *flakyStore) AppendUsage(ctx context.Context, e *domain.UsageEvent) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	return f.Store.AppendUsage(ctx, e)
}

func (f *flakyStore) ExpireLicense(ctx context.Context, id string, now time.Time) (bool, error) {
	if f.expireErr != nil {
		return false, f.expireErr
	}
	return f.Store.ExpireLicense(ctx, id, now)
}

// mockBackend is a cache backend driven by testify expectations
type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	args := m.Called(ctx, key)
	data, _ := args.Get(0).([]byte)
	return data, args.Bool(1), args.Error(2)
}

func (m *mockBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}

func (m *mockBackend) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	args := m.Called(ctx, prefix)
	return args.Int(0), args.Error(1)
}

func (m *mockBackend) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// fixture wires a service over an in-memory store and cache
type fixture struct {
	svc     *license.Service
	store   *flakyStore
	backend *cachemem.Cache
	clock   *testClock
	logs    *testutil.BufferedSlogHandler
	plans   []domain.Plan
}

func newFixture(t *testing.T, opts ...license.Option) *fixture {
	t.Helper()

	store := &flakyStore{Store: memory.New()}
	plans := testutil.Plans()
	for _, p := range plans {
		store.AddPlan(p)
	}

	backend := cachemem.New(100, time.Hour)
	t.Cleanup(backend.Stop)

	logger, logs := testutil.NewTestLogger(t)
	clock := newTestClock()

	cache := license.NewSnapshotCache(backend, license.DefaultCacheTTL, time.Second, logger)
	all := append([]license.Option{license.WithLogger(logger), license.WithClock(clock.Now)}, opts...)

	return &fixture{
		svc:     license.NewService(store, cache, all...),
		store:   store,
		backend: backend,
		clock:   clock,
		logs:    logs,
		plans:   plans,
	}
}

// addLicense stores a license on the basic plan unless opts say otherwise
func (f *fixture) addLicense(t *testing.T, opts ...testutil.LicenseOption) domain.License {
	t.Helper()
	lic := testutil.NewLicense(f.plans[0], opts...)
	require.NoError(t, f.store.CreateLicense(context.Background(), &lic))
	return lic
}

// addPlugin stores a plugin with the given versions, the last being the latest
func (f *fixture) addPlugin(name string, versions ...string) (domain.Plugin, []domain.PluginVersion) {
	plugin, first := testutil.NewPlugin(name, versions[0])
	f.store.AddPlugin(plugin)
	f.store.AddPluginVersion(first)

	out := []domain.PluginVersion{first}
	for _, v := range versions[1:] {
		next := first
		next.ID = plugin.ID + "-" + v
		next.Version = v
		f.store.AddPluginVersion(next)
		out = append(out, next)
	}
	return plugin, out
}

func (f *fixture) usage(t *testing.T, licenseID string) []domain.UsageEvent {
	t.Helper()
	events, err := f.store.ListUsage(context.Background(), licenseID, 0)
	require.NoError(t, err)
	return events
}

func (f *fixture) status(t *testing.T, key string) domain.LicenseStatus {
	t.Helper()
	lic, err := f.store.GetLicenseByKey(context.Background(), key)
	require.NoError(t, err)
	return lic.Status
}

func countMessages(h *testutil.BufferedSlogHandler, message string) int {
	n := 0
	for _, r := range h.GetRecords() {
		if r.Message == message {
			n++
		}
	}
	return n
}
