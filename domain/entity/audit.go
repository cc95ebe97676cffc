package entity

import "time"

// Audit actions recorded for administrative operations
const (
	AuditActionResetCounters = "rate_limit.reset_counters"
	AuditActionSetOverride   = "rate_limit.set_override"
	AuditActionClearOverride = "rate_limit.clear_override"
)

// AuditRecord captures one administrative mutation with actor identity,
// target and timestamp. Written independently of the general request
// audit trail.
type AuditRecord struct {
	ID             string                 `json:"id" db:"id"`
	Actor          string                 `json:"actor" db:"actor"`
	Action         string                 `json:"action" db:"action"`
	TargetIdentity string                 `json:"target_identity" db:"target_identity"`
	Category       string                 `json:"category,omitempty" db:"category"`
	RequestID      string                 `json:"request_id,omitempty" db:"request_id"`
	SourceIP       string                 `json:"source_ip,omitempty" db:"source_ip"`
	Details        map[string]interface{} `json:"details,omitempty" db:"-"`
	CreatedAt      time.Time              `json:"created_at" db:"created_at"`
}
