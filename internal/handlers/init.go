package handlers

import (
	"context"
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"

	"launchpilot/api_metering/internal/ledger"
	"launchpilot/api_metering/internal/ratelimit"
	"launchpilot/api_metering/internal/scraper"
	"launchpilot/api_metering/internal/usage"
	"launchpilot/api_metering/pkg/llm"
	"launchpilot/api_metering/pkg/logging"
)

var (
	db           *sql.DB
	logger       logging.Logger
	creditLedger *ledger.Ledger
	recorder     *usage.Recorder
	scrapeGate   ratelimit.Gate
	generator    llm.Provider
	scrapeClient ScrapeClient
	metrics      *BursarMetrics
)

// ScrapeClient is what the scrape handler needs from internal/scraper.
type ScrapeClient interface {
	ScrapeProfile(ctx context.Context, handle string) (*scraper.Profile, error)
}

// BursarMetrics holds all Prometheus metrics for Bursar
type BursarMetrics struct {
	Debits            *prometheus.CounterVec
	InsufficientFunds *prometheus.CounterVec
	RateLimited       *prometheus.CounterVec
	ProviderCalls     *prometheus.CounterVec
	ProviderDuration  *prometheus.HistogramVec
	AccountsReset     *prometheus.CounterVec
}

// Init initializes the handlers with their collaborators
func Init(database *sql.DB, log logging.Logger, l *ledger.Ledger, rec *usage.Recorder, gate ratelimit.Gate, gen llm.Provider, scrape ScrapeClient, bursarMetrics *BursarMetrics) {
	db = database
	logger = log
	creditLedger = l
	recorder = rec
	scrapeGate = gate
	generator = gen
	scrapeClient = scrape
	metrics = bursarMetrics
}
