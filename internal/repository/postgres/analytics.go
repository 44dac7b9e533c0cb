package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pulsepost/delivery-engine/internal/domain"
	"github.com/pulsepost/delivery-engine/internal/service/analytics"
)

// AnalyticsRepo implements analytics.Repository. Counter updates are
// expressed as SQL increments with rates recomputed in the same statement,
// so concurrent ingests never lose counts to read-modify-write races.
type AnalyticsRepo struct {
	db *sql.DB
}

// NewAnalyticsRepo creates an analytics repository.
func NewAnalyticsRepo(db *sql.DB) *AnalyticsRepo {
	return &AnalyticsRepo{db: db}
}

const insertEventSQL = `
	INSERT INTO email_events (id, tenant_id, campaign_id, recipient_email, event_type, event_data, timestamp)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

// Rates derive from the post-increment counter values. A zero total_sent
// leaves rates at zero rather than dividing by it.
const applyDeltaSQL = `
	UPDATE campaigns SET
		delivered    = delivered + $2,
		opened       = opened + $3,
		clicked      = clicked + $4,
		bounced      = bounced + $5,
		unsubscribed = unsubscribed + $6,
		complained   = complained + $7,
		open_rate    = CASE WHEN total_sent > 0 THEN (opened + $3) * 100.0 / total_sent ELSE 0 END,
		click_rate   = CASE WHEN total_sent > 0 THEN (clicked + $4) * 100.0 / total_sent ELSE 0 END,
		bounce_rate  = CASE WHEN total_sent > 0 THEN (bounced + $5) * 100.0 / total_sent ELSE 0 END,
		analytics_updated_at = NOW(),
		updated_at   = NOW()
	WHERE id = $1`

// InsertEventsWithCounters persists the events and applies the per-campaign
// deltas in one transaction. Any failure rolls back the whole call.
func (r *AnalyticsRepo) InsertEventsWithCounters(ctx context.Context, events []domain.EmailEvent, deltas map[string]analytics.CounterDelta) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ingest tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertEventSQL)
	if err != nil {
		return fmt.Errorf("prepare event insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		data, err := json.Marshal(e.EventData)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.TenantID, e.CampaignID, e.RecipientEmail, e.EventType, data, e.Timestamp); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}

	for campaignID, d := range deltas {
		if _, err := tx.ExecContext(ctx, applyDeltaSQL, campaignID,
			d.Delivered, d.Opened, d.Clicked, d.Bounced, d.Unsubscribed, d.Complained); err != nil {
			return fmt.Errorf("apply counter delta for campaign %s: %w", campaignID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ingest tx: %w", err)
	}
	return nil
}

// IncrementTotalSent adds accepted sends to a campaign and recomputes rates
// against the new total.
func (r *AnalyticsRepo) IncrementTotalSent(ctx context.Context, campaignID string, n int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET
			total_sent  = total_sent + $2,
			open_rate   = CASE WHEN total_sent + $2 > 0 THEN opened * 100.0 / (total_sent + $2) ELSE 0 END,
			click_rate  = CASE WHEN total_sent + $2 > 0 THEN clicked * 100.0 / (total_sent + $2) ELSE 0 END,
			bounce_rate = CASE WHEN total_sent + $2 > 0 THEN bounced * 100.0 / (total_sent + $2) ELSE 0 END,
			analytics_updated_at = NOW(),
			updated_at  = NOW()
		WHERE id = $1
	`, campaignID, n)
	if err != nil {
		return fmt.Errorf("increment total_sent: %w", err)
	}
	return nil
}

// RecordSent satisfies batch.SentRecorder with the same increment.
func (r *AnalyticsRepo) RecordSent(ctx context.Context, campaignID string, sent int) error {
	return r.IncrementTotalSent(ctx, campaignID, sent)
}

// UpsertDailyAggregates rolls one UTC day's events into daily_aggregates.
// The rollup is a single INSERT ... SELECT with ON CONFLICT overwrite, so
// re-running a day replaces its rows instead of double counting. Events
// without a campaign association roll up under an empty campaign_id.
func (r *AnalyticsRepo) UpsertDailyAggregates(ctx context.Context, day time.Time) (int, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO daily_aggregates
			(tenant_id, campaign_id, date, delivered, opened, clicked, bounced, unsubscribed, complained)
		SELECT
			tenant_id,
			COALESCE(campaign_id, ''),
			$1::date,
			COUNT(*) FILTER (WHERE event_type = 'delivered'),
			COUNT(*) FILTER (WHERE event_type = 'opened'),
			COUNT(*) FILTER (WHERE event_type = 'clicked'),
			COUNT(*) FILTER (WHERE event_type = 'bounced'),
			COUNT(*) FILTER (WHERE event_type = 'unsubscribed'),
			COUNT(*) FILTER (WHERE event_type = 'complained')
		FROM email_events
		WHERE timestamp >= $2 AND timestamp < $3
		GROUP BY tenant_id, COALESCE(campaign_id, '')
		ON CONFLICT (tenant_id, campaign_id, date) DO UPDATE SET
			delivered    = EXCLUDED.delivered,
			opened       = EXCLUDED.opened,
			clicked      = EXCLUDED.clicked,
			bounced      = EXCLUDED.bounced,
			unsubscribed = EXCLUDED.unsubscribed,
			complained   = EXCLUDED.complained
	`, start, start, end)
	if err != nil {
		return 0, fmt.Errorf("upsert daily aggregates: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
