package api

import (
	"time"

	"gmflicense/pkg/contracts/domain"
)

// PluginGrant is one plugin entry of a validate or info response
type PluginGrant struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
	Status  string `json:"status"`
}

// ValidateResponse is the answer to POST /api/public/validate
type ValidateResponse struct {
	IsValid         bool          `json:"isValid"`
	Type            string        `json:"type"`
	TokensRemaining int64         `json:"tokensRemaining"`
	ExpirationDate  time.Time     `json:"expirationDate"`
	Plugins         []PluginGrant `json:"plugins"`
}

// InfoResponse is the answer to POST /api/public/info. Features is always
// present, empty when the plan defines none.
type InfoResponse struct {
	ValidateResponse
	Features map[string]interface{} `json:"features"`
}

// NewValidateResponse builds the validate response from a snapshot
func NewValidateResponse(s *domain.EntitlementSnapshot) ValidateResponse {
	plugins := make([]PluginGrant, 0, len(s.Plugins))
	for _, p := range s.Plugins {
		plugins = append(plugins, PluginGrant{
			ID:      p.ID,
			Name:    p.Name,
			Version: p.Version,
			Status:  string(p.Status),
		})
	}

	return ValidateResponse{
		IsValid:         s.IsValid,
		Type:            s.Type,
		TokensRemaining: s.TokensRemaining,
		ExpirationDate:  s.ExpirationDate,
		Plugins:         plugins,
	}
}

// NewInfoResponse builds the info response from a snapshot
func NewInfoResponse(s *domain.EntitlementSnapshot) InfoResponse {
	features := s.Features
	if features == nil {
		features = map[string]interface{}{}
	}
	return InfoResponse{
		ValidateResponse: NewValidateResponse(s),
		Features:         features,
	}
}

// HeartbeatResponse is the answer to POST /api/public/heartbeat
type HeartbeatResponse struct {
	Status string `json:"status"`
}

// ConsumeTokenResponse is the answer to POST /api/public/consume-token
type ConsumeTokenResponse struct {
	TokensConsumed  int64 `json:"tokensConsumed"`
	TokensRemaining int64 `json:"tokensRemaining"`
}

// PluginActivationResponse is the answer to POST /api/plugins/activate
type PluginActivationResponse struct {
	ID             string     `json:"id"`
	LicenseID      string     `json:"licenseId"`
	PluginID       string     `json:"pluginId"`
	Version        string     `json:"version"`
	ExpirationDate *time.Time `json:"expirationDate,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// NewPluginActivationResponse builds the activation response from an entitlement
func NewPluginActivationResponse(e *domain.PluginEntitlement) PluginActivationResponse {
	return PluginActivationResponse{
		ID:             e.ID,
		LicenseID:      e.LicenseID,
		PluginID:       e.PluginID,
		Version:        e.Version,
		ExpirationDate: e.ExpirationDate,
		CreatedAt:      e.CreatedAt,
	}
}

// LicenseResponse is the admin view of a license
type LicenseResponse struct {
	ID              string                 `json:"id"`
	LicenseKey      string                 `json:"licenseKey"`
	PlanID          string                 `json:"planId"`
	Status          string                 `json:"status"`
	ExpirationDate  time.Time              `json:"expirationDate"`
	TokensRemaining int64                  `json:"tokensRemaining"`
	CustomerID      *string                `json:"customerId,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

// NewLicenseResponse builds the admin view of l
func NewLicenseResponse(l *domain.License) LicenseResponse {
	return LicenseResponse{
		ID:              l.ID,
		LicenseKey:      l.Key,
		PlanID:          l.PlanID,
		Status:          string(l.Status),
		ExpirationDate:  l.ExpirationDate,
		TokensRemaining: l.TokensRemaining,
		CustomerID:      l.CustomerID,
		Metadata:        l.Metadata,
		CreatedAt:       l.CreatedAt,
		UpdatedAt:       l.UpdatedAt,
	}
}

// FreeTrialResponse is the answer to POST /api/admin/licenses/free-trial
type FreeTrialResponse struct {
	LicenseKey     string    `json:"licenseKey"`
	ExpirationDate time.Time `json:"expirationDate"`
	PlanID         string    `json:"planId"`
	Tokens         int64     `json:"tokens"`
	DurationDays   int       `json:"durationDays"`
}

// LicenseListResponse is one page of the admin license listing
type LicenseListResponse struct {
	Items      []LicenseResponse `json:"items"`
	Pagination Pagination        `json:"pagination"`
}

// Pagination describes the position of a page in a listing
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewLicenseListResponse builds the listing response from a page
func NewLicenseListResponse(p *domain.LicensePage) LicenseListResponse {
	items := make([]LicenseResponse, 0, len(p.Items))
	for i := range p.Items {
		items = append(items, NewLicenseResponse(&p.Items[i]))
	}

	totalPages := 0
	if p.Limit > 0 {
		totalPages = (p.Total + p.Limit - 1) / p.Limit
	}

	return LicenseListResponse{
		Items: items,
		Pagination: Pagination{
			Page:       p.Page,
			Limit:      p.Limit,
			Total:      p.Total,
			TotalPages: totalPages,
		},
	}
}

// UsageEventResponse is one entry of a license usage history
type UsageEventResponse struct {
	ID        string                 `json:"id"`
	Action    string                 `json:"action"`
	MachineID string                 `json:"machineId"`
	Tokens    *int64                 `json:"tokens,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// UsageHistoryResponse is the answer to GET /api/admin/licenses/{key}/history
type UsageHistoryResponse struct {
	LicenseKey string               `json:"licenseKey"`
	Events     []UsageEventResponse `json:"events"`
}

// NewUsageHistoryResponse builds the history response for key
func NewUsageHistoryResponse(key string, events []domain.UsageEvent) UsageHistoryResponse {
	out := make([]UsageEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, UsageEventResponse{
			ID:        e.ID,
			Action:    string(e.Action),
			MachineID: e.MachineID,
			Tokens:    e.Tokens,
			Metadata:  e.Metadata,
			CreatedAt: e.CreatedAt,
		})
	}
	return UsageHistoryResponse{LicenseKey: key, Events: out}
}

// HealthResponse is the answer to the health endpoints
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
}
