package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"launchpilot/api_metering/internal/ledger"
	"launchpilot/api_metering/internal/pricing"
	"launchpilot/api_metering/pkg/models"
)

// CreateAccountRequest provisions a metering record at signup.
type CreateAccountRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Email  string `json:"email" binding:"required"`
	Plan   string `json:"plan,omitempty"`
}

// CreateAccount provisions a metering account with the plan-default
// balance. Called by the web application on signup; idempotent, re-posting
// an existing user leaves the account untouched.
func CreateAccount(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and email are required"})
		return
	}
	if _, err := uuid.Parse(req.UserID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id must be a UUID"})
		return
	}
	plan := req.Plan
	if plan == "" {
		plan = "free"
	}

	if err := creditLedger.CreateAccount(c.Request.Context(), req.UserID, req.Email, plan); err != nil {
		logger.WithError(err).WithField("user_id", req.UserID).Error("Failed to create account")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create account"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"user_id": req.UserID,
		"plan":    plan,
	})
}

// IngestUsage accepts a usage report from a sibling service: the work
// already happened elsewhere, so the debit here is best effort bookkeeping.
// Insufficient balance still records the usage but reports the shortfall.
func IngestUsage(c *gin.Context) {
	var report models.UsageReport
	if err := c.ShouldBindJSON(&report); err != nil || report.UserID == "" || report.Kind == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and kind are required"})
		return
	}

	kind := pricing.Kind(report.Kind)
	if !pricing.Known(kind) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown operation kind: " + report.Kind})
		return
	}
	count := report.Quantity
	if count < 1 {
		count = 1
	}

	credits := 0
	shortfall := false
	result, err := creditLedger.Debit(c.Request.Context(), report.UserID, kind, count)
	if err != nil {
		var insufficientErr *ledger.InsufficientBalanceError
		switch {
		case errors.As(err, &insufficientErr):
			shortfall = true
			credits = insufficientErr.Required
		case errors.Is(err, ledger.ErrAccountNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		default:
			logger.WithError(err).WithField("user_id", report.UserID).Error("Debit failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to debit credits"})
			return
		}
	} else {
		credits = result.Credits
		metrics.Debits.WithLabelValues(string(kind)).Add(float64(credits))
	}

	detail := report.Detail
	if detail == nil {
		detail = models.JSONB{}
	}
	if report.Source != "" {
		detail["source"] = report.Source
	}
	if shortfall {
		detail["uncharged"] = true
	}

	record := &models.UsageRecord{
		UserID:     report.UserID,
		Kind:       report.Kind,
		Quantity:   count,
		Credits:    credits,
		Provider:   report.Provider,
		Success:    report.Success,
		DurationMs: report.DurationMs,
		Detail:     detail,
	}
	if err := recorder.Record(c.Request.Context(), record); err != nil {
		logger.WithError(err).WithField("user_id", report.UserID).Error("Failed to record ingested usage")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record usage"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"record_id": record.ID,
		"credits":   credits,
		"uncharged": shortfall,
	})
}
