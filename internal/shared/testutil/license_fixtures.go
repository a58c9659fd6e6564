package testutil

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gmflicense/pkg/contracts/domain"
)

var keySeq atomic.Uint32

// FixtureKey returns a well-formed license key for product code, unique per call
func FixtureKey(code string) string {
	return fmt.Sprintf("GMF-2026-%s-%08X", code, 0xA0000000+keySeq.Add(1))
}

// Plans returns the seeded product tiers
func Plans() []domain.Plan {
	return []domain.Plan{
		{
			ID:         "plan-basic",
			Name:       "Basic",
			Identifier: domain.ProductBasic,
			Tokens:     100,
			Price:      decimal.RequireFromString("9.99"),
			IsActive:   true,
			Features:   map[string]interface{}{"maxProjects": float64(1), "support": "email"},
		},
		{
			ID:         "plan-pro",
			Name:       "Professional",
			Identifier: domain.ProductProfessional,
			Tokens:     500,
			Price:      decimal.RequireFromString("29.99"),
			IsActive:   true,
			Features:   map[string]interface{}{"maxProjects": float64(10), "support": "priority"},
		},
		{
			ID:         "plan-ent",
			Name:       "Enterprise",
			Identifier: domain.ProductEnterprise,
			Tokens:     2000,
			Price:      decimal.RequireFromString("99.99"),
			IsActive:   true,
			Features:   map[string]interface{}{"maxProjects": float64(-1), "support": "dedicated"},
		},
	}
}

// LicenseOption customizes a fixture license
type LicenseOption func(*domain.License)

// WithStatus sets the license status
func WithStatus(s domain.LicenseStatus) LicenseOption {
	return func(l *domain.License) { l.Status = s }
}

// WithTokens sets the remaining token balance
func WithTokens(n int64) LicenseOption {
	return func(l *domain.License) { l.TokensRemaining = n }
}

// WithExpiration sets the expiration instant
func WithExpiration(t time.Time) LicenseOption {
	return func(l *domain.License) { l.ExpirationDate = t }
}

// WithMetadata sets license metadata
func WithMetadata(m map[string]interface{}) LicenseOption {
	return func(l *domain.License) { l.Metadata = m }
}

// NewLicense builds an active license on plan expiring in thirty days
func NewLicense(plan domain.Plan, opts ...LicenseOption) domain.License {
	now := time.Now().UTC()
	l := domain.License{
		ID:              uuid.NewString(),
		Key:             FixtureKey(plan.Identifier),
		PlanID:          plan.ID,
		Status:          domain.LicenseStatusActive,
		ExpirationDate:  now.Add(30 * 24 * time.Hour),
		TokensRemaining: plan.Tokens,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, opt := range opts {
		opt(&l)
	}
	return l
}

// NewPlugin builds an active plugin and a single version of it
func NewPlugin(name, version string) (domain.Plugin, domain.PluginVersion) {
	p := domain.Plugin{
		ID:         uuid.NewString(),
		Name:       name,
		Identifier: name,
		IsActive:   true,
	}
	v := domain.PluginVersion{
		ID:        uuid.NewString(),
		PluginID:  p.ID,
		Version:   version,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	return p, v
}
