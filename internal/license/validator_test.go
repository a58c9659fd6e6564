package license_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"gmflicense/internal/license"
	"gmflicense/internal/shared/testutil"
	"gmflicense/pkg/contracts/domain"
)

// ValidatorTestSuite covers validate and info against an in-memory store and cache
type ValidatorTestSuite struct {
	suite.Suite
	f   *fixture
	ctx context.Context
}

func (suite *ValidatorTestSuite) SetupTest() {
	suite.f = newFixture(suite.T())
	suite.ctx = context.Background()
}

func TestValidatorTestSuite(t *testing.T) {
	suite.Run(t, new(ValidatorTestSuite))
}

func (suite *ValidatorTestSuite) TestValidateActiveLicense() {
	lic := suite.f.addLicense(suite.T())

	snap, err := suite.f.svc.Validate(suite.ctx, lic.Key, "machine-1")
	suite.Require().NoError(err)

	suite.True(snap.IsValid)
	suite.Equal(domain.ProductBasic, snap.Type)
	suite.Equal(int64(100), snap.TokensRemaining)
	suite.True(lic.ExpirationDate.Equal(snap.ExpirationDate))
	suite.Empty(snap.Plugins)
	suite.Nil(snap.Features, "validate omits features")

	events := suite.f.usage(suite.T(), lic.ID)
	suite.Require().Len(events, 1)
	suite.Equal(domain.UsageValidate, events[0].Action)
	suite.Equal("machine-1", events[0].MachineID)
	suite.Equal(true, events[0].Metadata["success"])
	suite.Contains(events[0].Metadata, "timestamp")
	suite.Nil(events[0].Tokens)
}

func (suite *ValidatorTestSuite) TestValidateServesCachedSnapshot() {
	lic := suite.f.addLicense(suite.T())

	fresh, err := suite.f.svc.Validate(suite.ctx, lic.Key, "machine-1")
	suite.Require().NoError(err)

	cached, err := suite.f.svc.Validate(suite.ctx, lic.Key, "machine-1")
	suite.Require().NoError(err)

	suite.Equal(fresh, cached, "cached snapshot equals the fresh one")
	suite.Len(suite.f.usage(suite.T(), lic.ID), 1, "cache hits do not touch the store")

	stats := suite.f.backend.GetStats()
	suite.Equal(1, stats.Entries)
	suite.Equal(int64(1), stats.HitCount)

	_, err = suite.f.svc.Validate(suite.ctx, lic.Key, "machine-2")
	suite.Require().NoError(err)
	suite.Len(suite.f.usage(suite.T(), lic.ID), 2, "cache entries are per machine")
}

func (suite *ValidatorTestSuite) TestInfoIncludesFeatures() {
	lic := suite.f.addLicense(suite.T())

	snap, err := suite.f.svc.Info(suite.ctx, lic.Key, "machine-1")
	suite.Require().NoError(err)
	suite.Equal(suite.f.plans[0].Features, snap.Features)

	cached, err := suite.f.svc.Info(suite.ctx, lic.Key, "machine-1")
	suite.Require().NoError(err)
	suite.Equal(snap, cached)

	validate, err := suite.f.svc.Validate(suite.ctx, lic.Key, "machine-1")
	suite.Require().NoError(err)
	suite.Nil(validate.Features, "info and validate are cached separately")

	events := suite.f.usage(suite.T(), lic.ID)
	suite.Require().Len(events, 2)
	suite.Equal(domain.UsageValidate, events[0].Action)
	suite.Equal(domain.UsageInfoRequest, events[1].Action)
}

func (suite *ValidatorTestSuite) TestValidateRejections() {
	revoked := suite.f.addLicense(suite.T(), testutil.WithStatus(domain.LicenseStatusRevoked))
	expired := suite.f.addLicense(suite.T(), testutil.WithStatus(domain.LicenseStatusExpired))

	tests := []struct {
		name    string
		key     string
		machine string
		want    error
	}{
		{"malformed key", "GMF-2024-BSC-1a2b3c4d", "m", license.ErrMalformedKey},
		{"unknown key", testutil.FixtureKey(domain.ProductBasic), "m", license.ErrNotFound},
		{"missing machine", revoked.Key, "", license.ErrInvalidRequest},
		{"revoked", revoked.Key, "m", license.ErrRevoked},
		{"expired", expired.Key, "m", license.ErrExpired},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			snap, err := suite.f.svc.Validate(suite.ctx, tt.key, tt.machine)
			suite.Nil(snap)
			suite.ErrorIs(err, tt.want)
			suite.False(license.IsRetryable(err))
		})
	}

	suite.Empty(suite.f.usage(suite.T(), revoked.ID), "rejections are not audited by default")
}

func (suite *ValidatorTestSuite) TestLazyExpiryAtDeadline() {
	lic := suite.f.addLicense(suite.T())
	suite.f.clock.Set(lic.ExpirationDate)

	_, err := suite.f.svc.Validate(suite.ctx, lic.Key, "machine-1")
	suite.ErrorIs(err, license.ErrExpired)
	suite.Equal(domain.LicenseStatusExpired, suite.f.status(suite.T(), lic.Key))

	_, err = suite.f.svc.Validate(suite.ctx, lic.Key, "machine-1")
	suite.ErrorIs(err, license.ErrExpired)
	suite.Equal(1, countMessages(suite.f.logs, "license expired"))
}

func (suite *ValidatorTestSuite) TestRevokeInvalidatesCachedSnapshots() {
	lic := suite.f.addLicense(suite.T())

	for _, machine := range []string{"m1", "m2"} {
		_, err := suite.f.svc.Validate(suite.ctx, lic.Key, machine)
		suite.Require().NoError(err)
		_, err = suite.f.svc.Info(suite.ctx, lic.Key, machine)
		suite.Require().NoError(err)
	}
	suite.Equal(4, suite.f.backend.GetStats().Entries)

	_, err := suite.f.svc.Revoke(suite.ctx, lic.Key, "")
	suite.Require().NoError(err)
	suite.Equal(1, suite.f.backend.GetStats().Entries, "only the revocation marker is left")

	_, err = suite.f.svc.Validate(suite.ctx, lic.Key, "m1")
	suite.ErrorIs(err, license.ErrRevoked)
	_, err = suite.f.svc.Info(suite.ctx, lic.Key, "m2")
	suite.ErrorIs(err, license.ErrRevoked)
}

func (suite *ValidatorTestSuite) TestAuditFailuresWhenEnabled() {
	f := newFixture(suite.T(), license.WithAuditFailures(true))
	lic := f.addLicense(suite.T(), testutil.WithStatus(domain.LicenseStatusRevoked))

	_, err := f.svc.Validate(suite.ctx, lic.Key, "m1")
	suite.ErrorIs(err, license.ErrRevoked)

	events := f.usage(suite.T(), lic.ID)
	suite.Require().Len(events, 1)
	suite.Equal(false, events[0].Metadata["success"])
	suite.Equal(license.CodeRevoked, events[0].Metadata["error"])
}

// =============================================================================
// Concurrency and failure handling
// =============================================================================

func TestValidateConcurrentExpiry(t *testing.T) {
	f := newFixture(t)
	lic := f.addLicense(t)
	f.clock.Set(lic.ExpirationDate.Add(time.Second))

	var g errgroup.Group
	for i := range 25 {
		g.Go(func() error {
			_, err := f.svc.Validate(context.Background(), lic.Key, "machine")
			if !errors.Is(err, license.ErrExpired) {
				return fmt.Errorf("caller %d: expected expiry, got %v", i, err)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, domain.LicenseStatusExpired, f.status(t, lic.Key))
	assert.Equal(t, 1, countMessages(f.logs, "license expired"), "exactly one caller performs the transition")
}

func TestValidateExpiryWriteFailure(t *testing.T) {
	f := newFixture(t)
	lic := f.addLicense(t)
	f.clock.Set(lic.ExpirationDate.Add(time.Hour))
	f.store.expireErr = errors.New("connection reset")

	_, err := f.svc.Validate(context.Background(), lic.Key, "machine")
	assert.ErrorIs(t, err, license.ErrExpired)
	assert.ErrorIs(t, err, license.ErrTransient)
	assert.True(t, license.IsRetryable(err))
	assert.Equal(t, license.CodeExpired, license.ErrorCode(err))
	assert.Equal(t, domain.LicenseStatusActive, f.status(t, lic.Key), "next read retries the transition")
	testutil.AssertLogContains(t, f.logs, slog.LevelError, "failed to persist license expiration")

	f.store.expireErr = nil
	_, err = f.svc.Validate(context.Background(), lic.Key, "machine")
	assert.ErrorIs(t, err, license.ErrExpired)
	assert.False(t, license.IsRetryable(err))
	assert.Equal(t, domain.LicenseStatusExpired, f.status(t, lic.Key))
}

func TestValidateUsageAppendFailure(t *testing.T) {
	f := newFixture(t)
	lic := f.addLicense(t)
	f.store.appendErr = errors.New("disk full")

	_, err := f.svc.Validate(context.Background(), lic.Key, "machine")
	assert.ErrorIs(t, err, license.ErrTransient)
	assert.True(t, license.IsRetryable(err))
	assert.Zero(t, f.backend.GetStats().Entries, "failed validations are not cached")
}

func TestValidateCacheFailOpen(t *testing.T) {
	backend := new(mockBackend)
	backend.On("Get", mock.Anything, mock.Anything).Return(nil, false, errors.New("redis down"))
	backend.On("Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("redis down"))
	backend.On("DeletePrefix", mock.Anything, mock.Anything).Return(0, errors.New("redis down"))

	f := newFixture(t)
	logger, logs := testutil.NewTestLogger(t)
	svc := license.NewService(f.store,
		license.NewSnapshotCache(backend, time.Minute, 0, logger),
		license.WithLogger(logger))

	lic := f.addLicense(t)

	snap, err := svc.Validate(context.Background(), lic.Key, "machine")
	require.NoError(t, err)
	assert.True(t, snap.IsValid)

	_, err = svc.Revoke(context.Background(), lic.Key, "chargeback")
	require.NoError(t, err, "revocation succeeds even if invalidation fails")

	_, err = svc.Validate(context.Background(), lic.Key, "machine")
	assert.ErrorIs(t, err, license.ErrRevoked)

	backend.AssertCalled(t, "Set", mock.Anything, "license:"+lic.Key+":machine", mock.Anything, time.Minute)
	backend.AssertCalled(t, "DeletePrefix", mock.Anything, "license:"+lic.Key+":")
	backend.AssertCalled(t, "DeletePrefix", mock.Anything, "license_info:"+lic.Key+":")
	testutil.AssertLogContains(t, logs, slog.LevelWarn, "cache read failed, treating as miss")
	testutil.AssertLogContains(t, logs, slog.LevelError, "cache invalidation failed")
}

func TestValidateWithoutCache(t *testing.T) {
	f := newFixture(t)
	svc := license.NewService(f.store, nil)
	lic := f.addLicense(t)

	for range 3 {
		_, err := svc.Validate(context.Background(), lic.Key, "machine")
		require.NoError(t, err)
	}
	assert.Len(t, f.usage(t, lic.ID), 3)

	storeErr, cacheErr := svc.Ping(context.Background())
	assert.NoError(t, storeErr)
	assert.NoError(t, cacheErr)
}
