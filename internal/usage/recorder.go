// Package usage appends the audit log written after every debit and
// publishes usage events for downstream analytics. Records are append-only;
// nothing here mutates or deletes them.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"launchpilot/api_metering/pkg/database"
	"launchpilot/api_metering/pkg/logging"
	"launchpilot/api_metering/pkg/models"
)

// Recorder persists usage records and hands them to the event publisher.
// Persistence failures propagate; publish failures are queued and retried,
// never surfaced to the request path.
type Recorder struct {
	db        database.PostgresConn
	publisher *Publisher
	logger    logging.Logger
}

func NewRecorder(db database.PostgresConn, publisher *Publisher, logger logging.Logger) *Recorder {
	return &Recorder{db: db, publisher: publisher, logger: logger}
}

// UsageMonth formats t's month as stored in usage_month ("2025-06").
func UsageMonth(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Record appends one usage row and publishes it. The record's ID, usage
// month and creation time are assigned here.
func (r *Recorder) Record(ctx context.Context, record *models.UsageRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	now := time.Now()
	record.CreatedAt = now
	if record.UsageMonth == "" {
		record.UsageMonth = UsageMonth(now)
	}
	if record.Quantity < 1 {
		record.Quantity = 1
	}

	var provider sql.NullString
	if record.Provider != "" {
		provider = sql.NullString{String: record.Provider, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO bursar.usage_log (
			id, user_id, kind, quantity, credits, provider, success, duration_ms, detail, usage_month, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, record.ID, record.UserID, record.Kind, record.Quantity, record.Credits,
		provider, record.Success, record.DurationMs, record.Detail, record.UsageMonth, record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}

	r.logger.WithFields(logging.Fields{
		"user_id": record.UserID,
		"kind":    record.Kind,
		"credits": record.Credits,
	}).Debug("Recorded usage")

	if r.publisher != nil {
		r.publisher.Publish(*record)
	}
	return nil
}

// Records returns a user's usage log for one month, newest first. An empty
// kind matches everything.
func (r *Recorder) Records(ctx context.Context, userID, month, kind string, limit int) ([]*models.UsageRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, kind, quantity, credits, provider, success, duration_ms, detail, usage_month, created_at
		FROM bursar.usage_log
		WHERE user_id = $1 AND usage_month = $2 AND ($3 = '' OR kind = $3)
		ORDER BY created_at DESC
		LIMIT $4
	`, userID, month, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	var records []*models.UsageRecord
	for rows.Next() {
		var record models.UsageRecord
		var provider sql.NullString
		if err := rows.Scan(&record.ID, &record.UserID, &record.Kind, &record.Quantity,
			&record.Credits, &provider, &record.Success, &record.DurationMs,
			&record.Detail, &record.UsageMonth, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		if provider.Valid {
			record.Provider = provider.String
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}

// Summary aggregates a user's consumption for one month by operation kind.
func (r *Recorder) Summary(ctx context.Context, userID, month string) ([]*models.UsageSummaryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT kind, COUNT(*), COALESCE(SUM(credits), 0)
		FROM bursar.usage_log
		WHERE user_id = $1 AND usage_month = $2
		GROUP BY kind
		ORDER BY SUM(credits) DESC
	`, userID, month)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage summary: %w", err)
	}
	defer rows.Close()

	var entries []*models.UsageSummaryEntry
	for rows.Next() {
		var entry models.UsageSummaryEntry
		if err := rows.Scan(&entry.Kind, &entry.Requests, &entry.Credits); err != nil {
			return nil, fmt.Errorf("failed to scan usage summary: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}
