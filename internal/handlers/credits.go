package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"launchpilot/api_metering/internal/ledger"
	"launchpilot/api_metering/internal/pricing"
	"launchpilot/api_metering/pkg/ctxkeys"
)

func currentUserID(c *gin.Context) string {
	return c.GetString(string(ctxkeys.KeyUserID))
}

// GetBalance returns the caller's plan and remaining credits
func GetBalance(c *gin.Context) {
	userID := currentUserID(c)

	account, err := creditLedger.Account(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		logger.WithError(err).WithField("user_id", userID).Error("Failed to load account")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load account"})
		return
	}

	balance := account.Balance
	unlimited := ledger.PlanCredits(account.Plan) == ledger.UnlimitedBalance
	if unlimited {
		balance = ledger.UnlimitedBalance
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":    account.UserID,
		"plan":       account.Plan,
		"balance":    balance,
		"unlimited":  unlimited,
		"last_reset": account.LastReset,
	})
}

// CheckAffordability reports whether the caller could pay for an operation
// right now. Nothing is reserved; a later debit can still fail.
func CheckAffordability(c *gin.Context) {
	userID := currentUserID(c)
	kind := pricing.Kind(c.Query("kind"))
	count, _ := strconv.Atoi(c.DefaultQuery("count", "1"))

	cost, err := pricing.Cost(kind, count)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	affordable, err := creditLedger.CanAfford(c.Request.Context(), userID, kind, count)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		logger.WithError(err).WithField("user_id", userID).Error("Failed to check affordability")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check affordability"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"kind":       string(kind),
		"count":      count,
		"cost":       cost,
		"affordable": affordable,
	})
}
