package handlers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestGetBalance(t *testing.T) {
	env := setupTest(t, &fakeProvider{}, &fakeScraper{})
	mustCreateAccount(t, env.store, "user-1", "free", 37)

	router := gin.New()
	router.GET("/credits/balance", asUser("user-1"), GetBalance)

	w := doJSON(t, router, http.MethodGet, "/credits/balance", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["balance"].(float64) != 37 {
		t.Fatalf("balance = %v, want 37", body["balance"])
	}
	if body["unlimited"].(bool) {
		t.Fatalf("free plan reported as unlimited")
	}
}

func TestGetBalanceUnlimited(t *testing.T) {
	env := setupTest(t, &fakeProvider{}, &fakeScraper{})
	mustCreateAccount(t, env.store, "user-1", "unlimited", 0)

	router := gin.New()
	router.GET("/credits/balance", asUser("user-1"), GetBalance)

	w := doJSON(t, router, http.MethodGet, "/credits/balance", nil)
	body := decodeBody(t, w)
	if !body["unlimited"].(bool) {
		t.Fatalf("unlimited plan not reported as unlimited")
	}
	if body["balance"].(float64) != -1 {
		t.Fatalf("balance = %v, want sentinel -1", body["balance"])
	}
}

func TestGetBalanceUnknownAccount(t *testing.T) {
	setupTest(t, &fakeProvider{}, &fakeScraper{})

	router := gin.New()
	router.GET("/credits/balance", asUser("ghost"), GetBalance)

	w := doJSON(t, router, http.MethodGet, "/credits/balance", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestCheckAffordability(t *testing.T) {
	env := setupTest(t, &fakeProvider{}, &fakeScraper{})
	mustCreateAccount(t, env.store, "user-1", "free", 3)

	router := gin.New()
	router.GET("/credits/afford", asUser("user-1"), CheckAffordability)

	w := doJSON(t, router, http.MethodGet, "/credits/afford?kind=tweet", nil)
	body := decodeBody(t, w)
	if !body["affordable"].(bool) || body["cost"].(float64) != 1 {
		t.Fatalf("unexpected response %v", body)
	}

	w = doJSON(t, router, http.MethodGet, "/credits/afford?kind=blog-post", nil)
	body = decodeBody(t, w)
	if body["affordable"].(bool) {
		t.Fatalf("blog-post affordable on balance 3")
	}

	w = doJSON(t, router, http.MethodGet, "/credits/afford?kind=haiku", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d for unknown kind, want 400", w.Code)
	}
}
