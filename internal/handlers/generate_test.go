package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"launchpilot/api_metering/pkg/llm"
)

func TestGenerateDebitsAndRecords(t *testing.T) {
	provider := &fakeProvider{result: llm.Result{
		Text:         "ship it",
		Model:        "gpt-test",
		InputTokens:  10,
		OutputTokens: 20,
	}}
	env := setupTest(t, provider, &fakeScraper{})
	mustCreateAccount(t, env.store, "user-1", "free", 10)

	env.mock.ExpectExec("INSERT INTO bursar.usage_log").
		WillReturnResult(sqlmock.NewResult(0, 1))

	router := gin.New()
	router.POST("/generate", asUser("user-1"), Generate)

	w := doJSON(t, router, http.MethodPost, "/generate", GenerateRequest{
		Kind:   "tweet",
		Prompt: "announce the launch",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["content"] != "ship it" {
		t.Fatalf("content = %v", body["content"])
	}
	if body["remaining_balance"].(float64) != 9 {
		t.Fatalf("remaining = %v, want 9", body["remaining_balance"])
	}

	account, _ := env.store.Account(context.Background(), "user-1")
	if account.Balance != 9 {
		t.Fatalf("stored balance = %d, want 9", account.Balance)
	}
	if err := env.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("usage log not written: %v", err)
	}
}

func TestGenerateInsufficientBalance(t *testing.T) {
	env := setupTest(t, &fakeProvider{}, &fakeScraper{})
	mustCreateAccount(t, env.store, "user-1", "free", 2)

	router := gin.New()
	router.POST("/generate", asUser("user-1"), Generate)

	w := doJSON(t, router, http.MethodPost, "/generate", GenerateRequest{
		Kind:   "blog-post",
		Prompt: "write a post",
	})
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", w.Code)
	}
	body := decodeBody(t, w)
	if body["required"].(float64) != 5 || body["balance"].(float64) != 2 {
		t.Fatalf("unexpected shortfall detail %v", body)
	}

	// Failed debit must leave the balance untouched.
	account, _ := env.store.Account(context.Background(), "user-1")
	if account.Balance != 2 {
		t.Fatalf("balance = %d after failed debit, want 2", account.Balance)
	}
}

func TestGenerateUnknownKind(t *testing.T) {
	env := setupTest(t, &fakeProvider{}, &fakeScraper{})
	mustCreateAccount(t, env.store, "user-1", "free", 50)

	router := gin.New()
	router.POST("/generate", asUser("user-1"), Generate)

	w := doJSON(t, router, http.MethodPost, "/generate", GenerateRequest{
		Kind:   "haiku",
		Prompt: "five seven five",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestGenerateProviderFailureStillCharges(t *testing.T) {
	provider := &fakeProvider{err: errors.New("model overloaded")}
	env := setupTest(t, provider, &fakeScraper{})
	mustCreateAccount(t, env.store, "user-1", "free", 10)

	env.mock.ExpectExec("INSERT INTO bursar.usage_log").
		WillReturnResult(sqlmock.NewResult(0, 1))

	router := gin.New()
	router.POST("/generate", asUser("user-1"), Generate)

	w := doJSON(t, router, http.MethodPost, "/generate", GenerateRequest{
		Kind:   "tweet",
		Prompt: "announce the launch",
	})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}

	// Debit-before-call: the credit is spent and the failure is logged.
	account, _ := env.store.Account(context.Background(), "user-1")
	if account.Balance != 9 {
		t.Fatalf("balance = %d, want 9", account.Balance)
	}
	if err := env.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("failed call not recorded: %v", err)
	}
}

func TestGenerateUnlimitedPlan(t *testing.T) {
	provider := &fakeProvider{result: llm.Result{Text: "copy", Model: "gpt-test"}}
	env := setupTest(t, provider, &fakeScraper{})
	mustCreateAccount(t, env.store, "user-1", "unlimited", 5)

	env.mock.ExpectExec("INSERT INTO bursar.usage_log").
		WillReturnResult(sqlmock.NewResult(0, 1))

	router := gin.New()
	router.POST("/generate", asUser("user-1"), Generate)

	w := doJSON(t, router, http.MethodPost, "/generate", GenerateRequest{
		Kind:   "twitter-report",
		Prompt: "n/a",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["remaining_balance"].(float64) != -1 {
		t.Fatalf("remaining = %v, want -1", body["remaining_balance"])
	}

	account, _ := env.store.Account(context.Background(), "user-1")
	if account.Balance != 5 {
		t.Fatalf("unlimited account debited to %d", account.Balance)
	}
}
