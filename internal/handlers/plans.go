package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"launchpilot/api_metering/internal/ledger"
	"launchpilot/api_metering/internal/pricing"
	"launchpilot/api_metering/pkg/config"
	"launchpilot/api_metering/pkg/models"
)

// GetPlans returns the plan catalog plus the operation cost table
func GetPlans(c *gin.Context) {
	plans := []models.PlanInfo{
		{
			Plan:           "free",
			DisplayName:    "Starter",
			MonthlyCredits: ledger.FreePlanCredits,
		},
		{
			Plan:           "pro",
			DisplayName:    "Pro",
			MonthlyCredits: ledger.ProPlanCredits,
			StripePriceID:  config.GetEnv("STRIPE_PRICE_PRO", ""),
		},
		{
			Plan:           "unlimited",
			DisplayName:    "Unlimited",
			MonthlyCredits: ledger.UnlimitedBalance,
			StripePriceID:  config.GetEnv("STRIPE_PRICE_UNLIMITED", ""),
		},
	}

	costs := map[string]int{}
	for kind, cost := range pricing.Table() {
		costs[string(kind)] = cost
	}

	c.JSON(http.StatusOK, gin.H{
		"plans": plans,
		"costs": costs,
	})
}

// ResetPlan sets every account on a tier back to its default allotment.
// Service-token only; normally driven by the monthly job, exposed for
// operational use.
func ResetPlan(c *gin.Context) {
	plan := c.Param("plan")
	if plan != "free" && plan != "pro" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "plan is not metered"})
		return
	}

	touched, err := creditLedger.Reset(c.Request.Context(), plan)
	if err != nil {
		logger.WithError(err).WithField("plan", plan).Error("Failed to reset plan")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reset plan"})
		return
	}
	metrics.AccountsReset.WithLabelValues(plan).Add(float64(touched))

	c.JSON(http.StatusOK, gin.H{
		"plan":     plan,
		"accounts": touched,
	})
}
