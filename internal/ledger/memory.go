package ledger

import (
	"context"
	"sync"
	"time"

	"launchpilot/api_metering/pkg/models"
)

// MemoryStore keeps accounts in a process-local map. Used in tests and for
// running the service without Postgres.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]*models.Account)}
}

func (s *MemoryStore) Account(ctx context.Context, userID string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (s *MemoryStore) CreateAccount(ctx context.Context, userID, email, plan string, balance int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[userID]; ok {
		return nil
	}
	now := time.Now()
	s.accounts[userID] = &models.Account{
		UserID:    userID,
		Email:     email,
		Plan:      plan,
		Balance:   balance,
		LastReset: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

func (s *MemoryStore) ConditionalDecrement(ctx context.Context, userID string, amount int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[userID]
	if !ok {
		return 0, false, ErrAccountNotFound
	}
	if account.Balance < amount {
		return account.Balance, false, nil
	}
	account.Balance -= amount
	account.UpdatedAt = time.Now()
	return account.Balance, true, nil
}

func (s *MemoryStore) SetBalance(ctx context.Context, userID string, balance int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[userID]
	if !ok {
		return ErrAccountNotFound
	}
	account.Balance = balance
	account.LastReset = time.Now()
	account.LowBalanceNotifiedAt = nil
	account.UpdatedAt = account.LastReset
	return nil
}

func (s *MemoryStore) ResetPlan(ctx context.Context, plan string, balance int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var touched int64
	now := time.Now()
	for _, account := range s.accounts {
		if account.Plan != plan {
			continue
		}
		account.Balance = balance
		account.LastReset = now
		account.LowBalanceNotifiedAt = nil
		account.UpdatedAt = now
		touched++
	}
	return touched, nil
}

func (s *MemoryStore) SetPlan(ctx context.Context, userID, plan string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[userID]
	if !ok {
		return ErrAccountNotFound
	}
	account.Plan = plan
	account.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) SetStripeCustomerID(ctx context.Context, userID, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[userID]
	if !ok {
		return ErrAccountNotFound
	}
	account.StripeCustomerID = customerID
	account.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) LowBalanceAccounts(ctx context.Context, threshold int) ([]*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var accounts []*models.Account
	for _, account := range s.accounts {
		if account.Plan == "unlimited" || account.Balance > threshold {
			continue
		}
		if account.LowBalanceNotifiedAt != nil && !account.LowBalanceNotifiedAt.Before(account.LastReset) {
			continue
		}
		copied := *account
		accounts = append(accounts, &copied)
	}
	return accounts, nil
}

func (s *MemoryStore) MarkLowBalanceNotified(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[userID]
	if !ok {
		return ErrAccountNotFound
	}
	now := time.Now()
	account.LowBalanceNotifiedAt = &now
	account.UpdatedAt = now
	return nil
}
