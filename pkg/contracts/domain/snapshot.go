package domain

import (
	"time"
)

// PluginGrant is the plugin summary embedded in an entitlement snapshot
type PluginGrant struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Version string            `json:"version"`
	Status  EntitlementStatus `json:"status"`
}

// EntitlementSnapshot is the answer to validate and info requests and the
// value stored in the entitlement cache.
type EntitlementSnapshot struct {
	IsValid         bool                   `json:"isValid"`
	Type            string                 `json:"type"`
	TokensRemaining int64                  `json:"tokensRemaining"`
	ExpirationDate  time.Time              `json:"expirationDate"`
	Features        map[string]interface{} `json:"features,omitempty"`
	Plugins         []PluginGrant          `json:"plugins"`
}

// ConsumeResult is the answer to a successful token consumption
type ConsumeResult struct {
	TokensConsumed  int64 `json:"tokensConsumed"`
	TokensRemaining int64 `json:"tokensRemaining"`
}

// HeartbeatResult is the answer to a successful heartbeat
type HeartbeatResult struct {
	Status string `json:"status"`
}
