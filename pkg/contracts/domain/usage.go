package domain

import (
	"time"
)

// UsageAction identifies the operation a usage event records
type UsageAction string

const (
	UsageValidate         UsageAction = "VALIDATE"
	UsageConsumeToken     UsageAction = "CONSUME_TOKEN"
	UsageHeartbeat        UsageAction = "HEARTBEAT"
	UsageInfoRequest      UsageAction = "INFO_REQUEST"
	UsageRevoke           UsageAction = "REVOKE"
	UsageFreeTrialCreated UsageAction = "FREE_TRIAL_CREATED"
)

// SystemMachineID is recorded for events not originating from a client machine
const SystemMachineID = "SYSTEM"

// UsageEvent is one append-only audit record
type UsageEvent struct {
	ID        string                 `json:"id" db:"id"`
	LicenseID string                 `json:"licenseId" db:"license_id"`
	Action    UsageAction            `json:"action" db:"action"`
	MachineID string                 `json:"machineId" db:"machine_id"`
	Tokens    *int64                 `json:"tokens,omitempty" db:"tokens"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time              `json:"createdAt" db:"created_at"`
}
