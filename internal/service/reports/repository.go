// Package reports serves dashboard and campaign report queries, choosing
// between pre-aggregated daily rollups and real-time computation over raw
// events based on aggregate coverage of the requested range.
package reports

import (
	"context"
	"time"

	"github.com/pulsepost/delivery-engine/internal/domain"
)

// DailyPerformance is one day of a performance time series.
type DailyPerformance struct {
	Date      string `json:"date"`
	Sent      int    `json:"sent"`
	Delivered int    `json:"delivered"`
	Opened    int    `json:"opened"`
	Clicked   int    `json:"clicked"`
	Bounced   int    `json:"bounced"`
}

// LinkClicks counts clicks for one link URL.
type LinkClicks struct {
	Link   string `json:"link"`
	Clicks int    `json:"clicks"`
}

// DailyEngagement is one day of a campaign's opens/clicks timeline.
type DailyEngagement struct {
	Date   string `json:"date"`
	Opens  int    `json:"opens"`
	Clicks int    `json:"clicks"`
}

// Repository is the read-side persistence contract for reports.
// Implementations must be safe for concurrent use: the service fans
// queries out in parallel.
type Repository interface {
	// Campaign fetches a campaign by id across tenants.
	// Returns campaign.ErrNotFound when missing.
	Campaign(ctx context.Context, campaignID string) (*domain.Campaign, error)

	CampaignCount(ctx context.Context, tenantID string, start, end time.Time) (int, error)
	TotalSent(ctx context.Context, tenantID string, start, end time.Time) (int, error)
	AverageRates(ctx context.Context, tenantID string, start, end time.Time) (openRate, clickRate float64, err error)
	RecentSentCampaigns(ctx context.Context, tenantID string, limit int) ([]domain.Campaign, error)
	TopCampaignsByOpenRate(ctx context.Context, tenantID string, limit int) ([]domain.Campaign, error)

	// AggregatedPerformance reads the daily-aggregate store for the range.
	// Days without an aggregate row are simply absent.
	AggregatedPerformance(ctx context.Context, tenantID string, start, end time.Time) ([]DailyPerformance, error)

	// RealtimePerformance groups raw events by day for the range.
	RealtimePerformance(ctx context.Context, tenantID string, start, end time.Time) ([]DailyPerformance, error)

	EventCountsByType(ctx context.Context, campaignID string) (map[domain.EventType]int, error)
	UniqueOpens(ctx context.Context, campaignID string) (int, error)
	UniqueClicks(ctx context.Context, campaignID string) (int, error)
	TopClickedLinks(ctx context.Context, campaignID string, limit int) ([]LinkClicks, error)
	EngagementTimeline(ctx context.Context, campaignID string, days int) ([]DailyEngagement, error)
}
