package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pulsepost/delivery-engine/internal/domain"
	"github.com/pulsepost/delivery-engine/internal/service/campaign"
	"github.com/pulsepost/delivery-engine/internal/service/reports"
)

// ReportsRepo implements reports.Repository. Every method is a standalone
// read, safe to fan out in parallel on the shared *sql.DB pool.
type ReportsRepo struct {
	db *sql.DB
}

// NewReportsRepo creates a reports repository.
func NewReportsRepo(db *sql.DB) *ReportsRepo {
	return &ReportsRepo{db: db}
}

// Campaign fetches a campaign by id across tenants.
func (r *ReportsRepo) Campaign(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns WHERE id = $1
	`, campaignID)
	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("report campaign: %w", err)
	}
	return c, nil
}

func (r *ReportsRepo) CampaignCount(ctx context.Context, tenantID string, start, end time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM campaigns
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
	`, tenantID, start, end).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("campaign count: %w", err)
	}
	return n, nil
}

func (r *ReportsRepo) TotalSent(ctx context.Context, tenantID string, start, end time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_sent), 0) FROM campaigns
		WHERE tenant_id = $1 AND sent_at >= $2 AND sent_at < $3
	`, tenantID, start, end).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("total sent: %w", err)
	}
	return n, nil
}

// AverageRates averages open and click rates over sent campaigns in range.
func (r *ReportsRepo) AverageRates(ctx context.Context, tenantID string, start, end time.Time) (float64, float64, error) {
	var openRate, clickRate float64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(open_rate), 0), COALESCE(AVG(click_rate), 0)
		FROM campaigns
		WHERE tenant_id = $1 AND status = 'sent' AND sent_at >= $2 AND sent_at < $3
	`, tenantID, start, end).Scan(&openRate, &clickRate)
	if err != nil {
		return 0, 0, fmt.Errorf("average rates: %w", err)
	}
	return openRate, clickRate, nil
}

func (r *ReportsRepo) RecentSentCampaigns(ctx context.Context, tenantID string, limit int) ([]domain.Campaign, error) {
	return r.queryCampaigns(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE tenant_id = $1 AND status = 'sent'
		ORDER BY sent_at DESC
		LIMIT $2
	`, tenantID, limit)
}

func (r *ReportsRepo) TopCampaignsByOpenRate(ctx context.Context, tenantID string, limit int) ([]domain.Campaign, error) {
	return r.queryCampaigns(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE tenant_id = $1 AND status = 'sent' AND total_sent > 0
		ORDER BY open_rate DESC
		LIMIT $2
	`, tenantID, limit)
}

func (r *ReportsRepo) queryCampaigns(ctx context.Context, query string, args ...any) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, rows.Err()
}

// AggregatedPerformance reads the daily rollup store. Sent is reported as
// delivered + bounced so the series is comparable with the realtime path.
func (r *ReportsRepo) AggregatedPerformance(ctx context.Context, tenantID string, start, end time.Time) ([]reports.DailyPerformance, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			to_char(date, 'YYYY-MM-DD'),
			SUM(delivered + bounced),
			SUM(delivered),
			SUM(opened),
			SUM(clicked),
			SUM(bounced)
		FROM daily_aggregates
		WHERE tenant_id = $1 AND date >= $2::date AND date <= $3::date
		GROUP BY date
		ORDER BY date ASC
	`, tenantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("aggregated performance: %w", err)
	}
	defer rows.Close()
	return scanPerformance(rows)
}

// RealtimePerformance groups raw events by day for the range. Same column
// semantics as AggregatedPerformance.
func (r *ReportsRepo) RealtimePerformance(ctx context.Context, tenantID string, start, end time.Time) ([]reports.DailyPerformance, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			to_char(timestamp::date, 'YYYY-MM-DD') AS day,
			COUNT(*) FILTER (WHERE event_type IN ('delivered', 'bounced')),
			COUNT(*) FILTER (WHERE event_type = 'delivered'),
			COUNT(*) FILTER (WHERE event_type = 'opened'),
			COUNT(*) FILTER (WHERE event_type = 'clicked'),
			COUNT(*) FILTER (WHERE event_type = 'bounced')
		FROM email_events
		WHERE tenant_id = $1 AND timestamp >= $2 AND timestamp < $3
		GROUP BY day
		ORDER BY day ASC
	`, tenantID, start, end.Add(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("realtime performance: %w", err)
	}
	defer rows.Close()
	return scanPerformance(rows)
}

func scanPerformance(rows *sql.Rows) ([]reports.DailyPerformance, error) {
	var series []reports.DailyPerformance
	for rows.Next() {
		var d reports.DailyPerformance
		if err := rows.Scan(&d.Date, &d.Sent, &d.Delivered, &d.Opened, &d.Clicked, &d.Bounced); err != nil {
			return nil, err
		}
		series = append(series, d)
	}
	return series, rows.Err()
}

func (r *ReportsRepo) EventCountsByType(ctx context.Context, campaignID string) (map[domain.EventType]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT event_type, COUNT(*) FROM email_events
		WHERE campaign_id = $1
		GROUP BY event_type
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("event counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.EventType]int)
	for rows.Next() {
		var t domain.EventType
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		counts[t] = n
	}
	return counts, rows.Err()
}

func (r *ReportsRepo) UniqueOpens(ctx context.Context, campaignID string) (int, error) {
	return r.uniqueRecipients(ctx, campaignID, domain.EventOpened)
}

func (r *ReportsRepo) UniqueClicks(ctx context.Context, campaignID string) (int, error) {
	return r.uniqueRecipients(ctx, campaignID, domain.EventClicked)
}

func (r *ReportsRepo) uniqueRecipients(ctx context.Context, campaignID string, t domain.EventType) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT recipient_email) FROM email_events
		WHERE campaign_id = $1 AND event_type = $2
	`, campaignID, t).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("unique %s: %w", t, err)
	}
	return n, nil
}

// TopClickedLinks ranks click targets by count. The clicked URL lives in
// the event_data JSON under "link"; click events without one are skipped.
func (r *ReportsRepo) TopClickedLinks(ctx context.Context, campaignID string, limit int) ([]reports.LinkClicks, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT event_data->>'link' AS link, COUNT(*) AS clicks
		FROM email_events
		WHERE campaign_id = $1 AND event_type = 'clicked' AND event_data->>'link' IS NOT NULL
		GROUP BY link
		ORDER BY clicks DESC
		LIMIT $2
	`, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("top clicked links: %w", err)
	}
	defer rows.Close()

	var links []reports.LinkClicks
	for rows.Next() {
		var l reports.LinkClicks
		if err := rows.Scan(&l.Link, &l.Clicks); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (r *ReportsRepo) EngagementTimeline(ctx context.Context, campaignID string, days int) ([]reports.DailyEngagement, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			to_char(timestamp::date, 'YYYY-MM-DD') AS day,
			COUNT(*) FILTER (WHERE event_type = 'opened'),
			COUNT(*) FILTER (WHERE event_type = 'clicked')
		FROM email_events
		WHERE campaign_id = $1 AND timestamp >= NOW() - ($2::text || ' days')::interval
		GROUP BY day
		ORDER BY day ASC
	`, campaignID, days)
	if err != nil {
		return nil, fmt.Errorf("engagement timeline: %w", err)
	}
	defer rows.Close()

	var timeline []reports.DailyEngagement
	for rows.Next() {
		var d reports.DailyEngagement
		if err := rows.Scan(&d.Date, &d.Opens, &d.Clicks); err != nil {
			return nil, err
		}
		timeline = append(timeline, d)
	}
	return timeline, rows.Err()
}
