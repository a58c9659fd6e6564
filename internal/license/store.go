package license

import (
	"context"
	"time"

	"gmflicense/pkg/contracts/domain"
)

// LicenseStore is the authoritative license repository.
//
// Implementations return ErrLicenseNotFound / ErrPlanNotFound for missing rows and
// must implement the conditional operations as single atomic store requests.
type LicenseStore interface {
	GetLicenseByKey(ctx context.Context, key string) (*domain.License, error)
	GetPlan(ctx context.Context, id string) (*domain.Plan, error)
	GetPlanByIdentifier(ctx context.Context, identifier string) (*domain.Plan, error)
	CreateLicense(ctx context.Context, l *domain.License) error
	ListLicenses(ctx context.Context, filter domain.LicenseFilter) ([]domain.License, int, error)

	// ExpireLicense moves the license to EXPIRED iff it is ACTIVE and its
	// expiration is at or before now. It reports whether this call changed it.
	ExpireLicense(ctx context.Context, id string, now time.Time) (bool, error)

	// RevokeLicense moves an ACTIVE license to REVOKED and returns the updated
	// record. A license in any other status yields ErrInvalidState.
	RevokeLicense(ctx context.Context, id string) (*domain.License, error)

	// DecrementTokens subtracts amount iff the license is ACTIVE and holds at
	// least amount tokens, returning the new balance. A short balance yields a
	// *ShortfallError and leaves the balance untouched.
	DecrementTokens(ctx context.Context, id string, amount int64) (int64, error)

	// FindActiveTrial returns an ACTIVE, unexpired trial license issued to email.
	FindActiveTrial(ctx context.Context, email string, now time.Time) (*domain.License, error)
}

// PluginStore holds plugins, their versions and license grants
type PluginStore interface {
	GetPlugin(ctx context.Context, id string) (*domain.Plugin, error)
	// LatestPluginVersion returns the most recently created version of a plugin.
	LatestPluginVersion(ctx context.Context, pluginID string) (*domain.PluginVersion, error)
	ListPluginEntitlements(ctx context.Context, licenseID string) ([]domain.PluginEntitlement, error)
	GetPluginEntitlement(ctx context.Context, licenseID, pluginID string) (*domain.PluginEntitlement, error)
	// CreatePluginEntitlement fails with ErrAlreadyEntitled when the pair is already granted.
	CreatePluginEntitlement(ctx context.Context, e *domain.PluginEntitlement) error
}

// UsageStore is the append-only usage log
type UsageStore interface {
	AppendUsage(ctx context.Context, e *domain.UsageEvent) error
	// ListUsage returns up to limit events for a license, newest first.
	ListUsage(ctx context.Context, licenseID string, limit int) ([]domain.UsageEvent, error)
}

// Store is everything the engine needs from persistence
type Store interface {
	LicenseStore
	PluginStore
	UsageStore
	Ping(ctx context.Context) error
}
