package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"launchpilot/api_metering/internal/ledger"
	"launchpilot/api_metering/internal/pricing"
	"launchpilot/api_metering/pkg/models"
)

// ScrapeRequest asks for a Twitter profile report.
type ScrapeRequest struct {
	Handle string `json:"handle" binding:"required"`
}

// ScrapeTwitter is the one endpoint behind the fixed-window rate limiter:
// the scraping provider is a scarce external resource, throttled separately
// from credit accounting. Throttle check runs before the debit so a
// rate-limited request costs nothing.
func ScrapeTwitter(c *gin.Context) {
	userID := currentUserID(c)

	var req ScrapeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "handle is required"})
		return
	}

	decision, err := scrapeGate.Allow(c.Request.Context(), userID)
	if err != nil {
		// Limiter store down: fail closed, a scrape is too costly to let
		// through unmetered.
		logger.WithError(err).WithField("user_id", userID).Error("Rate limiter unavailable")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "rate limiter unavailable"})
		return
	}
	if !decision.Allowed {
		metrics.RateLimited.WithLabelValues("scrape").Inc()
		retryAfter := int(time.Until(decision.ResetTime).Seconds())
		if retryAfter < 0 {
			retryAfter = 0
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":      "scrape rate limit exceeded",
			"reset_time": decision.ResetTime,
		})
		return
	}
	c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

	result, err := creditLedger.Debit(c.Request.Context(), userID, pricing.KindTwitterReport, 1)
	if err != nil {
		var insufficientErr *ledger.InsufficientBalanceError
		switch {
		case errors.As(err, &insufficientErr):
			metrics.InsufficientFunds.WithLabelValues(string(pricing.KindTwitterReport)).Inc()
			c.JSON(http.StatusPaymentRequired, gin.H{
				"error":    "insufficient credits",
				"required": insufficientErr.Required,
				"balance":  insufficientErr.Balance,
			})
		case errors.Is(err, ledger.ErrAccountNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		default:
			logger.WithError(err).WithField("user_id", userID).Error("Debit failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to debit credits"})
		}
		return
	}
	metrics.Debits.WithLabelValues(string(pricing.KindTwitterReport)).Add(float64(result.Credits))

	start := time.Now()
	profile, scrapeErr := scrapeClient.ScrapeProfile(c.Request.Context(), req.Handle)
	duration := time.Since(start)

	record := &models.UsageRecord{
		UserID:     userID,
		Kind:       string(pricing.KindTwitterReport),
		Quantity:   1,
		Credits:    result.Credits,
		Provider:   "scraper",
		Success:    scrapeErr == nil,
		DurationMs: int(duration.Milliseconds()),
		Detail:     models.JSONB{"handle": req.Handle},
	}
	if scrapeErr != nil {
		record.Detail["error"] = scrapeErr.Error()
	}
	if err := recorder.Record(c.Request.Context(), record); err != nil {
		logger.WithError(err).WithField("user_id", userID).Error("Failed to record usage")
	}

	metrics.ProviderCalls.WithLabelValues("scraper", boolLabel(scrapeErr == nil)).Inc()
	metrics.ProviderDuration.WithLabelValues("scraper").Observe(duration.Seconds())

	if scrapeErr != nil {
		logger.WithError(scrapeErr).WithField("handle", req.Handle).Error("Scrape failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "scrape failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"profile":           profile,
		"credits_spent":     result.Credits,
		"remaining_balance": result.RemainingBalance,
	})
}

// GetScrapeAllowance reports how many scrapes remain in the caller's
// current window without consuming one.
func GetScrapeAllowance(c *gin.Context) {
	userID := currentUserID(c)

	remaining, err := scrapeGate.Remaining(c.Request.Context(), userID)
	if err != nil {
		logger.WithError(err).WithField("user_id", userID).Error("Rate limiter unavailable")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "rate limiter unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"remaining": remaining})
}
