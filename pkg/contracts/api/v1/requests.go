// Package api contains the HTTP contract of the license service.
// Version v1 represents the current stable API version.
package api

import (
	"time"
)

// Public API requests

// LicenseRequest identifies a license and the calling machine.
// It is the body of validate, info and heartbeat.
type LicenseRequest struct {
	LicenseKey string `json:"licenseKey" validate:"required,licensekey"`
	MachineID  string `json:"machineId" validate:"required,machineid"`
}

// ConsumeTokenRequest spends tokens from a license balance
type ConsumeTokenRequest struct {
	LicenseKey     string `json:"licenseKey" validate:"required,licensekey"`
	MachineID      string `json:"machineId" validate:"required,machineid"`
	Tokens         int64  `json:"tokens" validate:"required,gte=1"`
	Reason         string `json:"reason" validate:"required,max=500"`
	AdditionalInfo string `json:"additionalInfo,omitempty" validate:"omitempty,max=2000"`
}

// Plugin API requests

// ActivatePluginRequest entitles a license to a plugin
type ActivatePluginRequest struct {
	LicenseKey string `json:"licenseKey" validate:"required,licensekey"`
	PluginID   string `json:"pluginId" validate:"required,max=255"`
}

// Admin API requests

// GenerateLicenseRequest issues a license on a plan
type GenerateLicenseRequest struct {
	PlanID         string                 `json:"planId" validate:"required,max=255"`
	ExpirationDate time.Time              `json:"expirationDate" validate:"required"`
	CustomerID     *string                `json:"customerId,omitempty" validate:"omitempty,max=255"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// FreeTrialRequest issues a trial license for a customer email
type FreeTrialRequest struct {
	Email          string `json:"email" validate:"required,email"`
	Name           string `json:"name" validate:"required,max=255"`
	PlanID         string `json:"planId" validate:"required,max=255"`
	DurationDays   int    `json:"durationDays,omitempty" validate:"omitempty,min=1,max=90"`
	AdditionalInfo string `json:"additionalInfo,omitempty" validate:"omitempty,max=2000"`
}

// RevokeLicenseRequest carries the optional revocation reason
type RevokeLicenseRequest struct {
	Reason string `json:"reason,omitempty" validate:"omitempty,max=500"`
}
