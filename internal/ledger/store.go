package ledger

import (
	"context"
	"errors"

	"launchpilot/api_metering/pkg/models"
)

// ErrAccountNotFound is returned by stores when no account exists for the
// requested user.
var ErrAccountNotFound = errors.New("account not found")

// Store is the persistence contract the ledger requires. The only
// non-obvious requirement is ConditionalDecrement: the check-and-decrement
// must be atomic with respect to concurrent calls for the same user.
type Store interface {
	// Account returns the metering record for a user, or ErrAccountNotFound.
	Account(ctx context.Context, userID string) (*models.Account, error)

	// CreateAccount inserts a new account with the given plan and starting
	// balance. Inserting an existing user is not an error; the existing row
	// is left untouched.
	CreateAccount(ctx context.Context, userID, email, plan string, balance int) error

	// ConditionalDecrement subtracts amount from the user's balance only if
	// balance >= amount. It returns the post-decrement balance and true on
	// success, or the untouched current balance and false when funds are
	// insufficient.
	ConditionalDecrement(ctx context.Context, userID string, amount int) (int, bool, error)

	// SetBalance overwrites a single user's balance and stamps last_reset.
	SetBalance(ctx context.Context, userID string, balance int) error

	// ResetPlan sets the balance of every account on the given plan tier to
	// the tier default. Returns the number of accounts touched.
	ResetPlan(ctx context.Context, plan string, balance int) (int64, error)

	// SetPlan moves a user to a different plan tier without touching the
	// balance. Used by the subscription sync job.
	SetPlan(ctx context.Context, userID, plan string) error

	// SetStripeCustomerID links a user to their Stripe customer record. Used
	// by the subscription sync job to backfill accounts provisioned before
	// checkout completed.
	SetStripeCustomerID(ctx context.Context, userID, customerID string) error

	// LowBalanceAccounts returns metered accounts at or below threshold that
	// have not been notified since their last reset.
	LowBalanceAccounts(ctx context.Context, threshold int) ([]*models.Account, error)

	// MarkLowBalanceNotified records that a low-balance notice went out.
	MarkLowBalanceNotified(ctx context.Context, userID string) error
}
