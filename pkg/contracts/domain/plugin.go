package domain

import (
	"time"
)

// Plugin is an add-on product that licenses may be entitled to
type Plugin struct {
	ID         string `json:"id" db:"id"`
	Name       string `json:"name" db:"name"`
	Identifier string `json:"identifier" db:"identifier"`
	IsActive   bool   `json:"isActive" db:"is_active"`
}

// PluginVersion is one released version of a plugin
type PluginVersion struct {
	ID        string    `json:"id" db:"id"`
	PluginID  string    `json:"pluginId" db:"plugin_id"`
	Version   string    `json:"version" db:"version"`
	IsActive  bool      `json:"isActive" db:"is_active"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// PluginEntitlement grants one license access to one plugin at a pinned version.
// At most one exists per (license, plugin) pair.
type PluginEntitlement struct {
	ID             string     `json:"id" db:"id"`
	LicenseID      string     `json:"licenseId" db:"license_id"`
	PluginID       string     `json:"pluginId" db:"plugin_id"`
	PluginName     string     `json:"pluginName,omitempty" db:"plugin_name"`
	VersionID      string     `json:"versionId" db:"version_id"`
	Version        string     `json:"version" db:"version"`
	VersionActive  bool       `json:"versionActive" db:"version_active"`
	ExpirationDate *time.Time `json:"expirationDate,omitempty" db:"expiration_date"`
	CreatedAt      time.Time  `json:"createdAt" db:"created_at"`
}

// EntitlementStatus is the status a plugin grant is reported with
type EntitlementStatus string

const (
	EntitlementActive   EntitlementStatus = "ACTIVE"
	EntitlementInactive EntitlementStatus = "INACTIVE"
)

// ActiveAt reports whether the entitlement is unexpired at now.
func (e *PluginEntitlement) ActiveAt(now time.Time) bool {
	return e.ExpirationDate == nil || e.ExpirationDate.After(now)
}

// PluginStatus is the answer to a plugin status query
type PluginStatus struct {
	IsActive       bool       `json:"isActive"`
	Version        *string    `json:"version,omitempty"`
	ExpirationDate *time.Time `json:"expirationDate,omitempty"`
}
