package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"launchpilot/api_metering/pkg/database"
	"launchpilot/api_metering/pkg/models"
)

// PostgresStore persists accounts in bursar.accounts. Atomicity of the
// conditional decrement comes from a single guarded UPDATE, not from
// application-level locking.
type PostgresStore struct {
	db database.PostgresConn
}

func NewPostgresStore(db database.PostgresConn) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Account(ctx context.Context, userID string) (*models.Account, error) {
	var account models.Account
	var stripeCustomerID sql.NullString
	var notifiedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, email, plan, balance, stripe_customer_id, low_balance_notified_at, last_reset, created_at, updated_at
		FROM bursar.accounts
		WHERE user_id = $1
	`, userID).Scan(&account.UserID, &account.Email, &account.Plan, &account.Balance,
		&stripeCustomerID, &notifiedAt, &account.LastReset, &account.CreatedAt, &account.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if stripeCustomerID.Valid {
		account.StripeCustomerID = stripeCustomerID.String
	}
	if notifiedAt.Valid {
		t := notifiedAt.Time
		account.LowBalanceNotifiedAt = &t
	}
	return &account, nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, userID, email, plan string, balance int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bursar.accounts (user_id, email, plan, balance)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, email, plan, balance)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (s *PostgresStore) ConditionalDecrement(ctx context.Context, userID string, amount int) (int, bool, error) {
	var balance int
	err := s.db.QueryRowContext(ctx, `
		UPDATE bursar.accounts
		SET balance = balance - $2, updated_at = NOW()
		WHERE user_id = $1 AND balance >= $2
		RETURNING balance
	`, userID, amount).Scan(&balance)
	if err == nil {
		return balance, true, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, fmt.Errorf("failed to decrement balance: %w", err)
	}

	// The guarded UPDATE matched nothing: either funds are short or the
	// account does not exist. Distinguish with a plain read.
	err = s.db.QueryRowContext(ctx, `
		SELECT balance FROM bursar.accounts WHERE user_id = $1
	`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, false, ErrAccountNotFound
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, false, nil
}

func (s *PostgresStore) SetBalance(ctx context.Context, userID string, balance int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE bursar.accounts
		SET balance = $2, last_reset = NOW(), low_balance_notified_at = NULL, updated_at = NOW()
		WHERE user_id = $1
	`, userID, balance)
	if err != nil {
		return fmt.Errorf("failed to set balance: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *PostgresStore) ResetPlan(ctx context.Context, plan string, balance int) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE bursar.accounts
		SET balance = $2, last_reset = NOW(), low_balance_notified_at = NULL, updated_at = NOW()
		WHERE plan = $1
	`, plan, balance)
	if err != nil {
		return 0, fmt.Errorf("failed to reset plan %s: %w", plan, err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

func (s *PostgresStore) SetPlan(ctx context.Context, userID, plan string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE bursar.accounts
		SET plan = $2, updated_at = NOW()
		WHERE user_id = $1
	`, userID, plan)
	if err != nil {
		return fmt.Errorf("failed to set plan: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *PostgresStore) SetStripeCustomerID(ctx context.Context, userID, customerID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE bursar.accounts
		SET stripe_customer_id = $2, updated_at = NOW()
		WHERE user_id = $1
	`, userID, customerID)
	if err != nil {
		return fmt.Errorf("failed to set stripe customer id: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *PostgresStore) LowBalanceAccounts(ctx context.Context, threshold int) ([]*models.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, email, plan, balance, last_reset
		FROM bursar.accounts
		WHERE plan != 'unlimited'
		  AND balance <= $1
		  AND (low_balance_notified_at IS NULL OR low_balance_notified_at < last_reset)
	`, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to query low balance accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		var account models.Account
		if err := rows.Scan(&account.UserID, &account.Email, &account.Plan, &account.Balance, &account.LastReset); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, &account)
	}
	return accounts, rows.Err()
}

func (s *PostgresStore) MarkLowBalanceNotified(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE bursar.accounts
		SET low_balance_notified_at = NOW(), updated_at = NOW()
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to mark low balance notice: %w", err)
	}
	return nil
}
