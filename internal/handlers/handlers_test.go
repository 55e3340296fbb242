package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"launchpilot/api_metering/internal/ledger"
	"launchpilot/api_metering/internal/ratelimit"
	"launchpilot/api_metering/internal/scraper"
	"launchpilot/api_metering/internal/usage"
	"launchpilot/api_metering/pkg/ctxkeys"
	"launchpilot/api_metering/pkg/llm"
	"launchpilot/api_metering/pkg/logging"
)

type fakeProvider struct {
	result llm.Result
	err    error
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Complete(ctx context.Context, req llm.Request) (llm.Result, error) {
	return p.result, p.err
}

type fakeScraper struct {
	profile *scraper.Profile
	err     error
}

func (s *fakeScraper) ScrapeProfile(ctx context.Context, handle string) (*scraper.Profile, error) {
	return s.profile, s.err
}

func testMetrics() *BursarMetrics {
	return &BursarMetrics{
		Debits:            prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_debits"}, []string{"kind"}),
		InsufficientFunds: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_insufficient"}, []string{"kind"}),
		RateLimited:       prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_rate_limited"}, []string{"action"}),
		ProviderCalls:     prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_provider_calls"}, []string{"provider", "success"}),
		ProviderDuration:  prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_provider_duration"}, []string{"provider"}),
		AccountsReset:     prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_accounts_reset"}, []string{"plan"}),
	}
}

type testEnv struct {
	store *ledger.MemoryStore
	mock  sqlmock.Sqlmock
	gate  *ratelimit.MemoryGate
}

// setupTest wires the handler globals with a memory ledger, a mocked usage
// log database and the given provider/scraper fakes.
func setupTest(t *testing.T, provider llm.Provider, scrape ScrapeClient) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })

	log := logging.NewLogger()
	store := ledger.NewMemoryStore()
	gate := ratelimit.NewMemoryGate(ratelimit.DefaultMaxRequests, ratelimit.DefaultWindow)

	Init(mockDB, log, ledger.New(store, log), usage.NewRecorder(mockDB, nil, log), gate, provider, scrape, testMetrics())

	return &testEnv{store: store, mock: mock, gate: gate}
}

// asUser injects the identity the JWT middleware would set.
func asUser(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(string(ctxkeys.KeyUserID), userID)
		c.Next()
	}
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var payload *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewBuffer(data)
	} else {
		payload = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, payload)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func mustCreateAccount(t *testing.T, store *ledger.MemoryStore, userID, plan string, balance int) {
	t.Helper()
	if err := store.CreateAccount(context.Background(), userID, userID+"@example.com", plan, balance); err != nil {
		t.Fatalf("create account: %v", err)
	}
}
