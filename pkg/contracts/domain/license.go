// Package domain contains the core domain models of the license engine.
// These types are shared by the engine, the storage backends and the HTTP contracts.
package domain

import (
	"time"
)

// LicenseStatus represents the lifecycle state of a license
type LicenseStatus string

const (
	LicenseStatusActive  LicenseStatus = "ACTIVE"
	LicenseStatusExpired LicenseStatus = "EXPIRED"
	LicenseStatusRevoked LicenseStatus = "REVOKED"
)

// IsTerminal reports whether no further transition can leave this status.
func (s LicenseStatus) IsTerminal() bool {
	return s == LicenseStatusRevoked || s == LicenseStatusExpired
}

// Valid reports whether s is one of the known statuses.
func (s LicenseStatus) Valid() bool {
	switch s {
	case LicenseStatusActive, LicenseStatusExpired, LicenseStatusRevoked:
		return true
	}
	return false
}

// License is the authoritative entitlement record for one key
type License struct {
	ID              string                 `json:"id" db:"id"`
	Key             string                 `json:"licenseKey" db:"key"`
	PlanID          string                 `json:"planId" db:"plan_id"`
	Status          LicenseStatus          `json:"status" db:"status"`
	ExpirationDate  time.Time              `json:"expirationDate" db:"expiration_date"`
	TokensRemaining int64                  `json:"tokensRemaining" db:"tokens_remaining"`
	CustomerID      *string                `json:"customerId,omitempty" db:"customer_id"`
	Metadata        map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt       time.Time              `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time              `json:"updatedAt" db:"updated_at"`
}

// ExpiredAt reports whether the license's expiration date has passed at now.
// A license expires at its expiration instant, inclusive.
func (l *License) ExpiredAt(now time.Time) bool {
	return !l.ExpirationDate.After(now)
}

// LicenseFilter narrows license listings
type LicenseFilter struct {
	Status *LicenseStatus
	PlanID string
	Offset int
	Limit  int
}

// LicensePage is one page of a license listing
type LicensePage struct {
	Items []License `json:"items"`
	Total int       `json:"total"`
	Page  int       `json:"page"`
	Limit int       `json:"limit"`
}
