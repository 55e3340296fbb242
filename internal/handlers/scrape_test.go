package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"launchpilot/api_metering/internal/scraper"
)

func TestScrapeTwitter(t *testing.T) {
	scrape := &fakeScraper{profile: &scraper.Profile{Handle: "launchpilot", Followers: 4200}}
	env := setupTest(t, &fakeProvider{}, scrape)
	mustCreateAccount(t, env.store, "user-1", "pro", 100)

	env.mock.ExpectExec("INSERT INTO bursar.usage_log").
		WillReturnResult(sqlmock.NewResult(0, 1))

	router := gin.New()
	router.POST("/scrape/twitter", asUser("user-1"), ScrapeTwitter)

	w := doJSON(t, router, http.MethodPost, "/scrape/twitter", ScrapeRequest{Handle: "launchpilot"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["credits_spent"].(float64) != 20 {
		t.Fatalf("credits_spent = %v, want 20", body["credits_spent"])
	}
	if w.Header().Get("X-RateLimit-Remaining") != "4" {
		t.Fatalf("remaining header = %q, want 4", w.Header().Get("X-RateLimit-Remaining"))
	}

	account, _ := env.store.Account(context.Background(), "user-1")
	if account.Balance != 80 {
		t.Fatalf("balance = %d, want 80", account.Balance)
	}
}

func TestScrapeTwitterRateLimited(t *testing.T) {
	scrape := &fakeScraper{profile: &scraper.Profile{Handle: "launchpilot"}}
	env := setupTest(t, &fakeProvider{}, scrape)
	mustCreateAccount(t, env.store, "user-1", "unlimited", 0)

	for i := 0; i < 5; i++ {
		env.mock.ExpectExec("INSERT INTO bursar.usage_log").
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	router := gin.New()
	router.POST("/scrape/twitter", asUser("user-1"), ScrapeTwitter)

	for i := 0; i < 5; i++ {
		w := doJSON(t, router, http.MethodPost, "/scrape/twitter", ScrapeRequest{Handle: "launchpilot"})
		if w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, w.Code)
		}
	}

	// 6th request in the window: throttled before any debit happens.
	w := doJSON(t, router, http.MethodPost, "/scrape/twitter", ScrapeRequest{Handle: "launchpilot"})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("6th request status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	body := decodeBody(t, w)
	if body["reset_time"] == nil {
		t.Fatalf("expected reset_time in throttle response")
	}
}

func TestScrapeTwitterInsufficientBalanceCostsNoWindowSlot(t *testing.T) {
	scrape := &fakeScraper{profile: &scraper.Profile{Handle: "launchpilot"}}
	env := setupTest(t, &fakeProvider{}, scrape)
	mustCreateAccount(t, env.store, "user-1", "free", 3)

	router := gin.New()
	router.POST("/scrape/twitter", asUser("user-1"), ScrapeTwitter)

	w := doJSON(t, router, http.MethodPost, "/scrape/twitter", ScrapeRequest{Handle: "launchpilot"})
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", w.Code)
	}

	account, _ := env.store.Account(context.Background(), "user-1")
	if account.Balance != 3 {
		t.Fatalf("balance = %d after rejected scrape, want 3", account.Balance)
	}
}

func TestGetScrapeAllowance(t *testing.T) {
	scrape := &fakeScraper{profile: &scraper.Profile{Handle: "launchpilot"}}
	env := setupTest(t, &fakeProvider{}, scrape)
	mustCreateAccount(t, env.store, "user-1", "pro", 100)

	env.mock.ExpectExec("INSERT INTO bursar.usage_log").
		WillReturnResult(sqlmock.NewResult(0, 1))

	router := gin.New()
	router.POST("/scrape/twitter", asUser("user-1"), ScrapeTwitter)
	router.GET("/scrape/allowance", asUser("user-1"), GetScrapeAllowance)

	w := doJSON(t, router, http.MethodGet, "/scrape/allowance", nil)
	body := decodeBody(t, w)
	if body["remaining"].(float64) != 5 {
		t.Fatalf("fresh remaining = %v, want 5", body["remaining"])
	}

	doJSON(t, router, http.MethodPost, "/scrape/twitter", ScrapeRequest{Handle: "launchpilot"})

	w = doJSON(t, router, http.MethodGet, "/scrape/allowance", nil)
	body = decodeBody(t, w)
	if body["remaining"].(float64) != 4 {
		t.Fatalf("remaining = %v, want 4", body["remaining"])
	}
}
