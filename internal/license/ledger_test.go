package license_test

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"golang.org/x/sync/errgroup"

	"gmflicense/internal/license"
	"gmflicense/internal/shared/testutil"
	"gmflicense/pkg/contracts/domain"
)

func consume(key string, tokens int64) license.ConsumeRequest {
	return license.ConsumeRequest{
		LicenseKey: key,
		MachineID:  "machine-1",
		Tokens:     tokens,
		Reason:     "report export",
	}
}

func TestConsumeThenShortfall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	lic := f.addLicense(t, testutil.WithTokens(100))

	res, err := f.svc.Consume(ctx, consume(lic.Key, 30))
	require.NoError(t, err)
	assert.Equal(t, &domain.ConsumeResult{TokensConsumed: 30, TokensRemaining: 70}, res)

	_, err = f.svc.Consume(ctx, consume(lic.Key, 80))
	var shortfall *license.ShortfallError
	require.ErrorAs(t, err, &shortfall)
	assert.Equal(t, int64(70), shortfall.Available)
	assert.Equal(t, int64(80), shortfall.Requested)

	stored, err := f.store.GetLicenseByKey(ctx, lic.Key)
	require.NoError(t, err)
	assert.Equal(t, int64(70), stored.TokensRemaining, "rejected consumption leaves the balance untouched")

	events := f.usage(t, lic.ID)
	require.Len(t, events, 1)
	assert.Equal(t, domain.UsageConsumeToken, events[0].Action)
	require.NotNil(t, events[0].Tokens)
	assert.Equal(t, int64(30), *events[0].Tokens)
	assert.Equal(t, "report export", events[0].Metadata["reason"])
	assert.NotContains(t, events[0].Metadata, "additionalInfo")
}

func TestConsumeExactBalance(t *testing.T) {
	f := newFixture(t)
	lic := f.addLicense(t, testutil.WithTokens(5))

	req := consume(lic.Key, 5)
	req.AdditionalInfo = "batch 7"
	res, err := f.svc.Consume(context.Background(), req)
	require.NoError(t, err)
	assert.Zero(t, res.TokensRemaining)
	assert.Equal(t, "batch 7", f.usage(t, lic.ID)[0].Metadata["additionalInfo"])

	_, err = f.svc.Consume(context.Background(), consume(lic.Key, 1))
	assert.ErrorIs(t, err, license.ErrInsufficientTokens)
}

func TestConsumeValidation(t *testing.T) {
	f := newFixture(t)
	lic := f.addLicense(t)

	tests := []struct {
		name string
		req  license.ConsumeRequest
		want error
	}{
		{"zero tokens", consume(lic.Key, 0), license.ErrInvalidRequest},
		{"negative tokens", consume(lic.Key, -5), license.ErrInvalidRequest},
		{"malformed key", consume("not-a-key", 1), license.ErrMalformedKey},
		{"missing reason", license.ConsumeRequest{LicenseKey: lic.Key, MachineID: "m", Tokens: 1}, license.ErrInvalidRequest},
		{"missing machine", license.ConsumeRequest{LicenseKey: lic.Key, Tokens: 1, Reason: "r"}, license.ErrInvalidRequest},
		{"unknown key", consume(testutil.FixtureKey(domain.ProductBasic), 1), license.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Consume(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	stored, _ := f.store.GetLicenseByKey(context.Background(), lic.Key)
	assert.Equal(t, lic.TokensRemaining, stored.TokensRemaining)
}

func TestConsumeRejectsUnusableLicense(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	revoked := f.addLicense(t, testutil.WithStatus(domain.LicenseStatusRevoked))
	_, err := f.svc.Consume(ctx, consume(revoked.Key, 1))
	assert.ErrorIs(t, err, license.ErrRevoked)

	lapsed := f.addLicense(t)
	f.clock.Set(lapsed.ExpirationDate.Add(time.Minute))
	_, err = f.svc.Consume(ctx, consume(lapsed.Key, 1))
	assert.ErrorIs(t, err, license.ErrExpired)
	assert.Equal(t, domain.LicenseStatusExpired, f.status(t, lapsed.Key))

	stored, _ := f.store.GetLicenseByKey(ctx, lapsed.Key)
	assert.Equal(t, lapsed.TokensRemaining, stored.TokensRemaining)
}

func TestConsumeReadsFreshStatusDespiteCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	lic := f.addLicense(t)

	_, err := f.svc.Validate(ctx, lic.Key, "machine-1")
	require.NoError(t, err)

	// revoke behind the service's back so the cached snapshot survives
	_, err = f.store.RevokeLicense(ctx, lic.ID)
	require.NoError(t, err)

	_, err = f.svc.Validate(ctx, lic.Key, "machine-1")
	require.NoError(t, err, "validate may serve the cached snapshot")

	_, err = f.svc.Consume(ctx, consume(lic.Key, 1))
	assert.ErrorIs(t, err, license.ErrRevoked)
}

func TestConsumeConcurrentNeverOverdraws(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	lic := f.addLicense(t, testutil.WithTokens(100))

	var (
		g         errgroup.Group
		succeeded atomic.Int64
		rejected  atomic.Int64
	)
	for range 60 {
		g.Go(func() error {
			_, err := f.svc.Consume(ctx, consume(lic.Key, 3))
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, license.ErrInsufficientTokens):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	stored, err := f.store.GetLicenseByKey(ctx, lic.Key)
	require.NoError(t, err)

	assert.Equal(t, int64(33), succeeded.Load())
	assert.Equal(t, int64(27), rejected.Load())
	assert.Equal(t, int64(1), stored.TokensRemaining)
	assert.Len(t, f.usage(t, lic.ID), 33)
}

func TestConsumeUsageAppendFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	lic := f.addLicense(t, testutil.WithTokens(10))
	f.store.appendErr = errors.New("usage table locked")

	res, err := f.svc.Consume(ctx, consume(lic.Key, 4))
	require.NoError(t, err, "a committed decrement is reported even without its audit record")
	assert.Equal(t, int64(6), res.TokensRemaining)

	testutil.AssertLogContains(t, f.logs, slog.LevelError, "tokens consumed without usage event")
	assert.Empty(t, f.usage(t, lic.ID))
}

func TestConsumeMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	metrics, err := license.NewMetrics(provider.Meter("test"))
	require.NoError(t, err)

	f := newFixture(t, license.WithMetrics(metrics))
	lic := f.addLicense(t, testutil.WithTokens(10))

	_, err = f.svc.Consume(context.Background(), consume(lic.Key, 7))
	require.NoError(t, err)
	_, err = f.svc.Consume(context.Background(), consume(lic.Key, 7))
	require.ErrorIs(t, err, license.ErrInsufficientTokens)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	assert.Equal(t, int64(7), sumCounter(t, rm, "license_tokens_consumed_total"))
	assert.Equal(t, int64(1), sumCounter(t, rm, "license_token_rejections_total"))
	assert.Equal(t, int64(2), sumCounter(t, rm, "license_operations_total"))
}

func sumCounter(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}
