package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// JSONB is a custom type for handling JSONB fields
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for JSONB
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// UsageRecord is an immutable audit entry written after every debit. Detail
// carries the provider-specific payload (model, token counts) as JSONB.
type UsageRecord struct {
	ID         string    `json:"id" db:"id"`
	UserID     string    `json:"user_id" db:"user_id"`
	Kind       string    `json:"kind" db:"kind"`
	Quantity   int       `json:"quantity" db:"quantity"`
	Credits    int       `json:"credits" db:"credits"`
	Provider   string    `json:"provider,omitempty" db:"provider"`
	Success    bool      `json:"success" db:"success"`
	DurationMs int       `json:"duration_ms" db:"duration_ms"`
	Detail     JSONB     `json:"detail,omitempty" db:"detail"`
	UsageMonth string    `json:"usage_month" db:"usage_month"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// UsageReport is the service-to-service ingest payload: usage a sibling
// service (e.g. the outreach worker) performed on behalf of a user.
type UsageReport struct {
	UserID     string `json:"user_id"`
	Kind       string `json:"kind"`
	Quantity   int    `json:"quantity"`
	Provider   string `json:"provider,omitempty"`
	Success    bool   `json:"success"`
	DurationMs int    `json:"duration_ms,omitempty"`
	Detail     JSONB  `json:"detail,omitempty"`
	Source     string `json:"source,omitempty"`
}

// UsageSummaryEntry aggregates consumed credits for one operation kind.
type UsageSummaryEntry struct {
	Kind     string `json:"kind"`
	Requests int    `json:"requests"`
	Credits  int    `json:"credits"`
}

// PlanInfo describes one subscription tier in the plan catalog.
type PlanInfo struct {
	Plan           string `json:"plan"`
	DisplayName    string `json:"display_name"`
	MonthlyCredits int    `json:"monthly_credits"` // -1 means unmetered
	StripePriceID  string `json:"stripe_price_id,omitempty"`
}
