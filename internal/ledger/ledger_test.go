package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"launchpilot/api_metering/internal/pricing"
	"launchpilot/api_metering/pkg/logging"
)

func newTestLedger(t *testing.T) (*Ledger, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return New(store, logging.NewLogger()), store
}

func TestDebitEndToEnd(t *testing.T) {
	t.Parallel()

	ledger, store := newTestLedger(t)
	ctx := context.Background()

	if err := store.CreateAccount(ctx, "user-1", "u@example.com", "free", 3); err != nil {
		t.Fatalf("create account: %v", err)
	}

	ok, err := ledger.CanAfford(ctx, "user-1", pricing.KindTweet, 1)
	if err != nil || !ok {
		t.Fatalf("canAfford(tweet) = %v, %v; want true", ok, err)
	}

	result, err := ledger.Debit(ctx, "user-1", pricing.KindTweet, 1)
	if err != nil {
		t.Fatalf("debit(tweet): %v", err)
	}
	if result.RemainingBalance != 2 {
		t.Fatalf("remaining = %d, want 2", result.RemainingBalance)
	}

	_, err = ledger.Debit(ctx, "user-1", pricing.KindBlogPost, 1)
	var insufficientErr *InsufficientBalanceError
	if !errors.As(err, &insufficientErr) {
		t.Fatalf("expected InsufficientBalanceError, got %v", err)
	}
	if insufficientErr.Required != 5 || insufficientErr.Balance != 2 {
		t.Fatalf("unexpected error detail: %+v", insufficientErr)
	}

	account, err := store.Account(ctx, "user-1")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if account.Balance != 2 {
		t.Fatalf("failed debit mutated balance to %d", account.Balance)
	}

	if _, err := ledger.Reset(ctx, "free"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	account, _ = store.Account(ctx, "user-1")
	if account.Balance != FreePlanCredits {
		t.Fatalf("balance after reset = %d, want %d", account.Balance, FreePlanCredits)
	}
}

func TestDebitUnlimitedBypass(t *testing.T) {
	t.Parallel()

	ledger, store := newTestLedger(t)
	ctx := context.Background()

	if err := store.CreateAccount(ctx, "user-1", "u@example.com", "unlimited", 7); err != nil {
		t.Fatalf("create account: %v", err)
	}

	for i := 0; i < 100; i++ {
		result, err := ledger.Debit(ctx, "user-1", pricing.KindTwitterReport, 1)
		if err != nil {
			t.Fatalf("debit %d: %v", i, err)
		}
		if result.RemainingBalance != UnlimitedBalance {
			t.Fatalf("remaining = %d, want sentinel %d", result.RemainingBalance, UnlimitedBalance)
		}
	}

	account, _ := store.Account(ctx, "user-1")
	if account.Balance != 7 {
		t.Fatalf("unlimited account balance changed to %d", account.Balance)
	}
}

func TestDebitConcurrentRace(t *testing.T) {
	t.Parallel()

	ledger, store := newTestLedger(t)
	ctx := context.Background()

	// Balance covers exactly one blog post. Two concurrent debits must
	// produce exactly one success.
	if err := store.CreateAccount(ctx, "user-1", "u@example.com", "free", 5); err != nil {
		t.Fatalf("create account: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = ledger.Debit(ctx, "user-1", pricing.KindBlogPost, 1)
		}(i)
	}
	wg.Wait()

	var successes, insufficient int
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		default:
			var insufficientErr *InsufficientBalanceError
			if !errors.As(err, &insufficientErr) {
				t.Fatalf("unexpected error: %v", err)
			}
			insufficient++
		}
	}
	if successes != 1 || insufficient != 1 {
		t.Fatalf("got %d successes, %d insufficient; want 1 and 1", successes, insufficient)
	}

	account, _ := store.Account(ctx, "user-1")
	if account.Balance != 0 {
		t.Fatalf("balance = %d, want 0", account.Balance)
	}
}

func TestResetIdempotent(t *testing.T) {
	t.Parallel()

	ledger, store := newTestLedger(t)
	ctx := context.Background()

	if err := store.CreateAccount(ctx, "user-1", "a@example.com", "pro", 12); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if err := store.CreateAccount(ctx, "user-2", "b@example.com", "free", 1); err != nil {
		t.Fatalf("create account: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := ledger.Reset(ctx, "pro"); err != nil {
			t.Fatalf("reset %d: %v", i, err)
		}
	}

	account, _ := store.Account(ctx, "user-1")
	if account.Balance != ProPlanCredits {
		t.Fatalf("pro balance = %d, want %d", account.Balance, ProPlanCredits)
	}
	account, _ = store.Account(ctx, "user-2")
	if account.Balance != 1 {
		t.Fatalf("free account touched by pro reset: %d", account.Balance)
	}
}

func TestResetUnlimitedIsNoop(t *testing.T) {
	t.Parallel()

	ledger, store := newTestLedger(t)
	ctx := context.Background()

	if err := store.CreateAccount(ctx, "user-1", "u@example.com", "unlimited", 7); err != nil {
		t.Fatalf("create account: %v", err)
	}

	touched, err := ledger.Reset(ctx, "unlimited")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if touched != 0 {
		t.Fatalf("reset touched %d unlimited accounts", touched)
	}
}

func TestDebitUnknownKind(t *testing.T) {
	t.Parallel()

	ledger, store := newTestLedger(t)
	ctx := context.Background()

	if err := store.CreateAccount(ctx, "user-1", "u@example.com", "free", 50); err != nil {
		t.Fatalf("create account: %v", err)
	}

	_, err := ledger.Debit(ctx, "user-1", pricing.Kind("haiku"), 1)
	var unknownErr *pricing.ErrUnknownKind
	if !errors.As(err, &unknownErr) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}

	account, _ := store.Account(ctx, "user-1")
	if account.Balance != 50 {
		t.Fatalf("unknown kind mutated balance to %d", account.Balance)
	}
}

func TestDebitMissingAccount(t *testing.T) {
	t.Parallel()

	ledger, _ := newTestLedger(t)

	_, err := ledger.Debit(context.Background(), "ghost", pricing.KindTweet, 1)
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestPlanCredits(t *testing.T) {
	t.Parallel()

	cases := map[string]int{
		"free":      FreePlanCredits,
		"pro":       ProPlanCredits,
		"unlimited": UnlimitedBalance,
		"mystery":   FreePlanCredits,
	}
	for plan, want := range cases {
		if got := PlanCredits(plan); got != want {
			t.Fatalf("PlanCredits(%s) = %d, want %d", plan, got, want)
		}
	}
}

func TestMemorySetStripeCustomerID(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.SetStripeCustomerID(ctx, "ghost", "cus_abc123"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}

	if err := store.CreateAccount(ctx, "user-1", "a@example.com", "free", FreePlanCredits); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if err := store.SetStripeCustomerID(ctx, "user-1", "cus_abc123"); err != nil {
		t.Fatalf("set stripe customer id: %v", err)
	}

	account, err := store.Account(ctx, "user-1")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if account.StripeCustomerID != "cus_abc123" {
		t.Fatalf("stripe customer id = %q, want cus_abc123", account.StripeCustomerID)
	}
}
