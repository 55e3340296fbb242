package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"launchpilot/api_metering/internal/ledger"
	"launchpilot/api_metering/internal/pricing"
	"launchpilot/api_metering/internal/stripeclient"
	"launchpilot/api_metering/pkg/config"
	"launchpilot/api_metering/pkg/email"
	"launchpilot/api_metering/pkg/kafka"
	"launchpilot/api_metering/pkg/logging"
	"launchpilot/api_metering/pkg/models"
)

// LowBalanceThreshold triggers the upgrade-nudge email.
const LowBalanceThreshold = 5

// JobManager handles background metering jobs
type JobManager struct {
	logger        logging.Logger
	emailSender   *email.Sender
	stripeClient  *stripeclient.Client
	kafkaConsumer *kafka.Consumer
	reportsTopic  string
	stopCh        chan struct{}
}

// NewJobManager creates a new job manager
func NewJobManager(log logging.Logger, stripeClient *stripeclient.Client) *JobManager {
	brokers := strings.Split(config.GetEnv("KAFKA_BROKERS", "kafka:9092"), ",")
	clientID := config.GetEnv("KAFKA_CLIENT_ID", "bursar")
	groupID := config.GetEnv("KAFKA_GROUP_ID", "bursar-ingest")
	reportsTopic := config.GetEnv("USAGE_REPORTS_TOPIC", "launchpilot.usage_reports")

	consumer, err := kafka.NewConsumer(brokers, groupID, clientID, log)
	if err != nil {
		log.WithError(err).Error("Failed to create Kafka consumer for usage reports")
		// Allow the API to start without the consumer.
		consumer = nil
	}

	return &JobManager{
		logger:        log,
		emailSender:   email.NewSender(email.LoadConfig()),
		stripeClient:  stripeClient,
		kafkaConsumer: consumer,
		reportsTopic:  reportsTopic,
		stopCh:        make(chan struct{}),
	}
}

// Start begins all background jobs
func (jm *JobManager) Start(ctx context.Context) {
	jm.logger.Info("Starting metering job manager")

	if jm.kafkaConsumer != nil {
		jm.kafkaConsumer.AddHandler(jm.reportsTopic, jm.handleUsageReport)
		go func() {
			if err := jm.kafkaConsumer.Start(ctx); err != nil {
				jm.logger.WithError(err).Error("Kafka consumer exited with error")
			}
		}()
	}

	go jm.runMonthlyReset(ctx)
	go jm.runLowBalanceAlerts(ctx)
	if jm.stripeClient != nil {
		go jm.runPlanSync(ctx)
	}
}

// Stop stops all background jobs
func (jm *JobManager) Stop() {
	jm.logger.Info("Stopping metering job manager")
	if jm.kafkaConsumer != nil {
		jm.kafkaConsumer.Close()
	}
	close(jm.stopCh)
}

// handleUsageReport consumes usage reports sibling services publish when
// they perform metered work on a user's behalf.
func (jm *JobManager) handleUsageReport(ctx context.Context, msg kafka.Message) error {
	var report models.UsageReport
	if err := json.Unmarshal(msg.Value, &report); err != nil {
		jm.logger.WithError(err).Error("Failed to unmarshal usage report")
		return nil // Skip bad message
	}
	if report.UserID == "" || !pricing.Known(pricing.Kind(report.Kind)) {
		jm.logger.WithFields(logging.Fields{
			"user_id": report.UserID,
			"kind":    report.Kind,
		}).Warn("Dropping malformed usage report")
		return nil
	}

	if err := jm.processUsageReport(ctx, report); err != nil {
		jm.logger.WithError(err).WithFields(logging.Fields{
			"user_id": report.UserID,
			"kind":    report.Kind,
		}).Error("Failed to process usage report")
		return err
	}
	return nil
}

func (jm *JobManager) processUsageReport(ctx context.Context, report models.UsageReport) error {
	kind := pricing.Kind(report.Kind)
	count := report.Quantity
	if count < 1 {
		count = 1
	}

	credits := 0
	uncharged := false
	result, err := creditLedger.Debit(ctx, report.UserID, kind, count)
	if err != nil {
		var insufficientErr *ledger.InsufficientBalanceError
		switch {
		case errors.As(err, &insufficientErr):
			// The work already happened; log it uncharged rather than
			// losing the audit trail.
			uncharged = true
			credits = insufficientErr.Required
		case errors.Is(err, ledger.ErrAccountNotFound):
			jm.logger.WithField("user_id", report.UserID).Warn("Usage report for unknown account")
			return nil
		default:
			return err
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
	if uncharged {
		detail["uncharged"] = true
	}

	return recorder.Record(ctx, &models.UsageRecord{
		UserID:     report.UserID,
		Kind:       report.Kind,
		Quantity:   count,
		Credits:    credits,
		Provider:   report.Provider,
		Success:    report.Success,
		DurationMs: report.DurationMs,
		Detail:     detail,
	})
}

// runMonthlyReset restores plan-default balances on the first day of each
// month. The reset itself is idempotent, so the daily tick re-running on
// the 1st is harmless.
func (jm *JobManager) runMonthlyReset(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	jm.logger.Info("Starting monthly reset job")

	var lastResetMonth string
	for {
		select {
		case <-ctx.Done():
			return
		case <-jm.stopCh:
			return
		case <-ticker.C:
			now := time.Now().UTC()
			month := now.Format("2006-01")
			if now.Day() != 1 || month == lastResetMonth {
				continue
			}
			if jm.resetMeteredPlans(ctx) {
				lastResetMonth = month
			}
		}
	}
}

func (jm *JobManager) resetMeteredPlans(ctx context.Context) bool {
	ok := true
	for _, plan := range []string{"free", "pro"} {
		touched, err := creditLedger.Reset(ctx, plan)
		if err != nil {
			jm.logger.WithError(err).WithField("plan", plan).Error("Monthly reset failed")
			ok = false
			continue
		}
		metrics.AccountsReset.WithLabelValues(plan).Add(float64(touched))
	}
	return ok
}

// runLowBalanceAlerts emails accounts that are nearly out of credits, once
// per billing period.
func (jm *JobManager) runLowBalanceAlerts(ctx context.Context) {
	if !jm.emailSender.IsConfigured() {
		jm.logger.Info("Email sender not configured, low balance alerts disabled")
		return
	}

	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()

	jm.logger.Info("Starting low balance alert job")

	for {
		select {
		case <-ctx.Done():
			return
		case <-jm.stopCh:
			return
		case <-ticker.C:
			jm.sendLowBalanceAlerts(ctx)
		}
	}
}

func (jm *JobManager) sendLowBalanceAlerts(ctx context.Context) {
	store := ledger.NewPostgresStore(db)
	accounts, err := store.LowBalanceAccounts(ctx, LowBalanceThreshold)
	if err != nil {
		jm.logger.WithError(err).Error("Failed to query low balance accounts")
		return
	}

	for _, account := range accounts {
		subject := "You're almost out of LaunchPilot credits"
		body := "<p>Your LaunchPilot balance is down to <strong>" +
			strconv.Itoa(account.Balance) + " credits</strong>. Upgrade your plan to keep generating content.</p>"
		if err := jm.emailSender.SendMail(account.Email, subject, body); err != nil {
			jm.logger.WithError(err).WithField("user_id", account.UserID).Warn("Failed to send low balance email")
			continue
		}
		if err := store.MarkLowBalanceNotified(ctx, account.UserID); err != nil {
			jm.logger.WithError(err).WithField("user_id", account.UserID).Warn("Failed to mark low balance notice")
		}
	}

	if len(accounts) > 0 {
		jm.logger.WithField("count", len(accounts)).Info("Sent low balance alerts")
	}
}

// runPlanSync reconciles plan tiers against Stripe subscription state.
// Checkout and webhooks live in the web application; this is the safety net
// for missed webhook deliveries.
func (jm *JobManager) runPlanSync(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	jm.logger.Info("Starting Stripe plan sync job")

	for {
		select {
		case <-ctx.Done():
			return
		case <-jm.stopCh:
			return
		case <-ticker.C:
			jm.syncPlans(ctx)
		}
	}
}

func (jm *JobManager) syncPlans(ctx context.Context) {
	rows, err := db.QueryContext(ctx, `
		SELECT user_id, plan, COALESCE(stripe_customer_id, '')
		FROM bursar.accounts
	`)
	if err != nil {
		jm.logger.WithError(err).Error("Failed to query accounts for plan sync")
		return
	}
	defer rows.Close()

	type accountRow struct {
		userID     string
		plan       string
		customerID string
	}
	var accounts []accountRow
	for rows.Next() {
		var row accountRow
		if err := rows.Scan(&row.userID, &row.plan, &row.customerID); err != nil {
			jm.logger.WithError(err).Error("Failed to scan account for plan sync")
			return
		}
		accounts = append(accounts, row)
	}
	if err := rows.Err(); err != nil {
		jm.logger.WithError(err).Error("Failed to read accounts for plan sync")
		return
	}

	store := ledger.NewPostgresStore(db)
	synced := 0
	for _, account := range accounts {
		customerID := account.customerID
		if customerID == "" {
			// Accounts provisioned before checkout have no customer link yet.
			// The web application stamps user_id metadata at checkout, so a
			// search backfills the link once the customer exists.
			customerID, err = jm.stripeClient.FindCustomerID(ctx, account.userID)
			if err != nil {
				jm.logger.WithError(err).WithField("user_id", account.userID).Warn("Failed to search Stripe customer")
				continue
			}
			if customerID == "" {
				continue
			}
			if err := store.SetStripeCustomerID(ctx, account.userID, customerID); err != nil {
				jm.logger.WithError(err).WithField("user_id", account.userID).Warn("Failed to store Stripe customer id")
				continue
			}
		}
		plan, err := jm.stripeClient.ResolvePlan(ctx, customerID)
		if err != nil {
			jm.logger.WithError(err).WithField("user_id", account.userID).Warn("Failed to resolve Stripe plan")
			continue
		}
		if plan == account.plan {
			continue
		}
		if err := store.SetPlan(ctx, account.userID, plan); err != nil {
			jm.logger.WithError(err).WithField("user_id", account.userID).Warn("Failed to update plan")
			continue
		}
		// A tier change mid-cycle grants the new tier's allotment when the
		// new tier is metered.
		if credits := ledger.PlanCredits(plan); credits != ledger.UnlimitedBalance {
			if err := store.SetBalance(ctx, account.userID, credits); err != nil {
				jm.logger.WithError(err).WithField("user_id", account.userID).Warn("Failed to set balance after plan change")
			}
		}
		jm.logger.WithFields(logging.Fields{
			"user_id":  account.userID,
			"old_plan": account.plan,
			"new_plan": plan,
		}).Info("Synced plan from Stripe")
		synced++
	}

	if synced > 0 {
		jm.logger.WithField("count", synced).Info("Plan sync complete")
	}
}
