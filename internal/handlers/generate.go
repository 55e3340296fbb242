package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"launchpilot/api_metering/internal/ledger"
	"launchpilot/api_metering/internal/pricing"
	"launchpilot/api_metering/pkg/llm"
	"launchpilot/api_metering/pkg/models"
)

// GenerateRequest asks for AI-generated content of one kind.
type GenerateRequest struct {
	Kind   string `json:"kind" binding:"required"`
	Prompt string `json:"prompt" binding:"required"`
	System string `json:"system,omitempty"`
	Count  int    `json:"count,omitempty"`
}

// Generate classifies the request, debits the ledger, then calls the text
// provider. The debit happens before the provider call; a provider failure
// does not refund, it is recorded as a failed usage row.
func Generate(c *gin.Context) {
	userID := currentUserID(c)

	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind and prompt are required"})
		return
	}

	kind := pricing.Kind(req.Kind)
	if !pricing.Known(kind) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown operation kind: " + req.Kind})
		return
	}
	count := req.Count
	if count < 1 {
		count = 1
	}

	result, err := creditLedger.Debit(c.Request.Context(), userID, kind, count)
	if err != nil {
		var insufficientErr *ledger.InsufficientBalanceError
		switch {
		case errors.As(err, &insufficientErr):
			metrics.InsufficientFunds.WithLabelValues(string(kind)).Inc()
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
	metrics.Debits.WithLabelValues(string(kind)).Add(float64(result.Credits))

	start := time.Now()
	completion, genErr := generator.Complete(c.Request.Context(), toProviderRequest(kind, req))
	duration := time.Since(start)

	record := &models.UsageRecord{
		UserID:     userID,
		Kind:       string(kind),
		Quantity:   count,
		Credits:    result.Credits,
		Provider:   generator.Name(),
		Success:    genErr == nil,
		DurationMs: int(duration.Milliseconds()),
	}
	if genErr == nil {
		record.Detail = models.JSONB{
			"model":         completion.Model,
			"input_tokens":  completion.InputTokens,
			"output_tokens": completion.OutputTokens,
		}
	} else {
		record.Detail = models.JSONB{"error": genErr.Error()}
	}
	if err := recorder.Record(c.Request.Context(), record); err != nil {
		logger.WithError(err).WithField("user_id", userID).Error("Failed to record usage")
	}

	metrics.ProviderCalls.WithLabelValues(generator.Name(), boolLabel(genErr == nil)).Inc()
	metrics.ProviderDuration.WithLabelValues(generator.Name()).Observe(duration.Seconds())

	if genErr != nil {
		logger.WithError(genErr).WithField("user_id", userID).Error("Provider call failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "content generation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"kind":              string(kind),
		"content":           completion.Text,
		"credits_spent":     result.Credits,
		"remaining_balance": result.RemainingBalance,
	})
}

func toProviderRequest(kind pricing.Kind, req GenerateRequest) llm.Request {
	system := req.System
	if system == "" {
		system = defaultSystemPrompt(kind)
	}
	return llm.Request{System: system, Prompt: req.Prompt}
}

func defaultSystemPrompt(kind pricing.Kind) string {
	switch kind {
	case pricing.KindTweet:
		return "You write concise, punchy marketing tweets."
	case pricing.KindTweetThread:
		return "You write engaging multi-tweet threads for product launches."
	case pricing.KindEmail:
		return "You write short, effective marketing emails."
	case pricing.KindBlogPost:
		return "You write well structured long-form marketing blog posts."
	case pricing.KindOutreachCampaign:
		return "You write personalized cold-outreach sequences."
	default:
		return "You write marketing copy."
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
