// Package ledger gates and accounts for credit consumption. Every
// AI-assisted operation is classified, costed via internal/pricing, and
// debited here before the external call runs. The unlimited-plan bypass
// lives in exactly one place (isUnmetered) so call sites never re-implement
// the policy.
package ledger

import (
	"context"
	"fmt"

	"launchpilot/api_metering/internal/pricing"
	"launchpilot/api_metering/pkg/logging"
	"launchpilot/api_metering/pkg/models"
)

// UnlimitedBalance is the sentinel remaining-balance value reported for
// accounts on an unmetered plan.
const UnlimitedBalance = -1

// Plan tier default allotments. A plan missing from this table gets the
// free allotment.
const (
	FreePlanCredits = 50
	ProPlanCredits  = 1000
)

// InsufficientBalanceError is the ordinary outcome of a debit the user
// cannot afford. It is a reportable condition, not an infrastructure fault.
type InsufficientBalanceError struct {
	Required int
	Balance  int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: need %d credits, have %d", e.Required, e.Balance)
}

// PlanCredits returns the monthly allotment for a plan tier, or
// UnlimitedBalance for unmetered tiers.
func PlanCredits(plan string) int {
	switch plan {
	case "unlimited":
		return UnlimitedBalance
	case "pro":
		return ProPlanCredits
	default:
		return FreePlanCredits
	}
}

func isUnmetered(plan string) bool {
	return plan == "unlimited"
}

// Ledger enforces credit accounting on top of a Store.
type Ledger struct {
	store  Store
	logger logging.Logger
}

func New(store Store, logger logging.Logger) *Ledger {
	return &Ledger{store: store, logger: logger}
}

// DebitResult reports the outcome of a successful debit. RemainingBalance
// is UnlimitedBalance for unmetered accounts.
type DebitResult struct {
	Credits          int
	RemainingBalance int
}

// CanAfford reports whether the user could pay for count operations of the
// given kind right now. Read-only; nothing is reserved, so a subsequent
// Debit can still fail.
func (l *Ledger) CanAfford(ctx context.Context, userID string, kind pricing.Kind, count int) (bool, error) {
	cost, err := pricing.Cost(kind, count)
	if err != nil {
		return false, err
	}

	account, err := l.store.Account(ctx, userID)
	if err != nil {
		return false, err
	}
	if isUnmetered(account.Plan) {
		return true, nil
	}
	return account.Balance >= cost, nil
}

// Debit atomically charges the user for count operations of the given kind.
// Unmetered accounts always succeed without touching stored state. Metered
// accounts get a conditional decrement; on insufficient funds the balance is
// left untouched and an *InsufficientBalanceError is returned. Any other
// error is an infrastructure fault and the caller must not assume the debit
// occurred.
func (l *Ledger) Debit(ctx context.Context, userID string, kind pricing.Kind, count int) (*DebitResult, error) {
	cost, err := pricing.Cost(kind, count)
	if err != nil {
		return nil, err
	}

	account, err := l.store.Account(ctx, userID)
	if err != nil {
		return nil, err
	}
	if isUnmetered(account.Plan) {
		return &DebitResult{Credits: cost, RemainingBalance: UnlimitedBalance}, nil
	}

	remaining, ok, err := l.store.ConditionalDecrement(ctx, userID, cost)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &InsufficientBalanceError{Required: cost, Balance: remaining}
	}

	l.logger.WithFields(logging.Fields{
		"user_id":   userID,
		"kind":      string(kind),
		"credits":   cost,
		"remaining": remaining,
	}).Debug("Debited credits")

	return &DebitResult{Credits: cost, RemainingBalance: remaining}, nil
}

// Reset sets every account on the given plan tier back to the tier default.
// Idempotent; unmetered tiers are a no-op.
func (l *Ledger) Reset(ctx context.Context, plan string) (int64, error) {
	credits := PlanCredits(plan)
	if credits == UnlimitedBalance {
		return 0, nil
	}

	touched, err := l.store.ResetPlan(ctx, plan, credits)
	if err != nil {
		return 0, err
	}

	l.logger.WithFields(logging.Fields{
		"plan":     plan,
		"credits":  credits,
		"accounts": touched,
	}).Info("Reset plan balances")

	return touched, nil
}

// Account exposes the underlying record for balance display.
func (l *Ledger) Account(ctx context.Context, userID string) (*models.Account, error) {
	return l.store.Account(ctx, userID)
}

// CreateAccount provisions a metering record with the plan-default balance.
func (l *Ledger) CreateAccount(ctx context.Context, userID, email, plan string) error {
	credits := PlanCredits(plan)
	if credits == UnlimitedBalance {
		credits = 0
	}
	return l.store.CreateAccount(ctx, userID, email, plan, credits)
}
