package http

import (
	"context"

	"gmflicense/internal/license"
	"gmflicense/pkg/contracts/domain"
)

// PublicService is the part of the engine client machines talk to
type PublicService interface {
	Validate(ctx context.Context, key, machineID string) (*domain.EntitlementSnapshot, error)
	Info(ctx context.Context, key, machineID string) (*domain.EntitlementSnapshot, error)
	Heartbeat(ctx context.Context, key, machineID string) (*domain.HeartbeatResult, error)
	Consume(ctx context.Context, req license.ConsumeRequest) (*domain.ConsumeResult, error)
}

// PluginService resolves plugin entitlements
type PluginService interface {
	ActivatePlugin(ctx context.Context, key, pluginID string) (*domain.PluginEntitlement, error)
	PluginStatus(ctx context.Context, key, pluginID string) (*domain.PluginStatus, error)
}

// AdminService issues and revokes licenses
type AdminService interface {
	Generate(ctx context.Context, req license.GenerateRequest) (*domain.License, error)
	CreateFreeTrial(ctx context.Context, req license.FreeTrialRequest) (*domain.License, error)
	Revoke(ctx context.Context, key, reason string) (*domain.License, error)
	History(ctx context.Context, key string, limit int) ([]domain.UsageEvent, error)
	GetLicense(ctx context.Context, key string) (*domain.License, error)
	ListLicenses(ctx context.Context, status *domain.LicenseStatus, planID string, page, limit int) (*domain.LicensePage, error)
}

// HealthChecker reports dependency health
type HealthChecker interface {
	Ping(ctx context.Context) (storeErr, cacheErr error)
}

var (
	_ PublicService = (*license.Service)(nil)
	_ PluginService = (*license.Service)(nil)
	_ AdminService  = (*license.Service)(nil)
	_ HealthChecker = (*license.Service)(nil)
)
