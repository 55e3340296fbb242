package handlers

import (
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"launchpilot/api_metering/internal/usage"
)

var monthPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

func monthParam(c *gin.Context) (string, bool) {
	month := c.DefaultQuery("month", usage.UsageMonth(time.Now()))
	if !monthPattern.MatchString(month) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "month must be formatted YYYY-MM"})
		return "", false
	}
	return month, true
}

// GetUsageRecords returns the caller's usage log for one month
func GetUsageRecords(c *gin.Context) {
	userID := currentUserID(c)
	month, ok := monthParam(c)
	if !ok {
		return
	}
	kind := c.Query("kind")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	records, err := recorder.Records(c.Request.Context(), userID, month, kind, limit)
	if err != nil {
		logger.WithError(err).WithField("user_id", userID).Error("Failed to query usage records")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query usage records"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"month":   month,
		"records": records,
	})
}

// GetUsageSummary returns the caller's per-kind consumption for one month
func GetUsageSummary(c *gin.Context) {
	userID := currentUserID(c)
	month, ok := monthParam(c)
	if !ok {
		return
	}

	entries, err := recorder.Summary(c.Request.Context(), userID, month)
	if err != nil {
		logger.WithError(err).WithField("user_id", userID).Error("Failed to query usage summary")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query usage summary"})
		return
	}

	totalCredits := 0
	for _, entry := range entries {
		totalCredits += entry.Credits
	}

	c.JSON(http.StatusOK, gin.H{
		"month":         month,
		"total_credits": totalCredits,
		"by_kind":       entries,
	})
}
