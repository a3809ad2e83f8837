package model

import (
	"time"
)

// QuotaUnlimited is the sentinel for quotas without a cap. The original
// system mixed -1 and absent fields; -1 is canonical here.
const QuotaUnlimited = -1

// Resource identifies one plan-gated resource class.
type Resource string

const (
	ResourceMaxBots     Resource = "maxBots"
	ResourceMaxUsers    Resource = "maxUsers"
	ResourceMaxMessages Resource = "maxMessages"
	ResourceMaxAPICalls Resource = "maxApiCalls"
	ResourceAIRequests  Resource = "aiRequests"
)

// Resources lists all known resource classes.
var Resources = []Resource{
	ResourceMaxBots,
	ResourceMaxUsers,
	ResourceMaxMessages,
	ResourceMaxAPICalls,
	ResourceAIRequests,
}

type Tenant struct {
	ID              string       `db:"id" json:"id"`
	Name            string       `db:"name" json:"name"`
	Plan            PlanTier     `db:"plan" json:"plan"`
	Status          TenantStatus `db:"status" json:"status"`
	APITokenHash    *string      `db:"api_token_hash" json:"-"`
	MaxBots         int          `db:"max_bots" json:"maxBots"`
	MaxUsers        int          `db:"max_users" json:"maxUsers"`
	MaxMessages     int          `db:"max_messages" json:"maxMessages"`
	MaxAPICalls     int          `db:"max_api_calls" json:"maxApiCalls"`
	AIRequests      int          `db:"ai_requests" json:"aiRequests"`
	RateLimitPerMin int          `db:"rate_limit_per_minute" json:"rateLimitPerMinute"`
	CreatedAt       time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updatedAt"`
	SuspendedAt     *time.Time   `db:"suspended_at" json:"suspendedAt,omitempty"`
}

// Quota returns the tenant's limit for one resource class.
func (t *Tenant) Quota(r Resource) int {
	switch r {
	case ResourceMaxBots:
		return t.MaxBots
	case ResourceMaxUsers:
		return t.MaxUsers
	case ResourceMaxMessages:
		return t.MaxMessages
	case ResourceMaxAPICalls:
		return t.MaxAPICalls
	case ResourceAIRequests:
		return t.AIRequests
	default:
		return 0
	}
}

type CreateTenantParams struct {
	Name         string
	Plan         PlanTier
	APITokenHash string
	MaxBots      int
	MaxUsers     int
	MaxMessages  int
	MaxAPICalls  int
	AIRequests   int
}

// UpdateQuotasParams replaces all quotas wholesale, as happens on plan change.
type UpdateQuotasParams struct {
	Plan        PlanTier
	MaxBots     int
	MaxUsers    int
	MaxMessages int
	MaxAPICalls int
	AIRequests  int
}
