package models

import "time"

// Plan tier names. The catalog with allotments lives in internal/ledger.
const (
	PlanFree      = "free"
	PlanPro       = "pro"
	PlanUnlimited = "unlimited"
)

// Account is a user's metering record: plan tier plus remaining credit
// balance. Unlimited-plan accounts keep whatever balance they had when
// upgraded; the ledger never reads or debits it.
type Account struct {
	UserID               string     `json:"user_id" db:"user_id"`
	Email                string     `json:"email" db:"email"`
	Plan                 string     `json:"plan" db:"plan"`
	Balance              int        `json:"balance" db:"balance"`
	StripeCustomerID     string     `json:"stripe_customer_id,omitempty" db:"stripe_customer_id"`
	LowBalanceNotifiedAt *time.Time `json:"low_balance_notified_at,omitempty" db:"low_balance_notified_at"`
	LastReset            time.Time  `json:"last_reset" db:"last_reset"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at"`
}
