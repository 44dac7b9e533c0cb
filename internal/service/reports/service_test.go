package reports_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsepost/delivery-engine/internal/domain"
	"github.com/pulsepost/delivery-engine/internal/service/campaign"
	"github.com/pulsepost/delivery-engine/internal/service/reports"
)

// passthroughCache always misses and calls fetch, so tests exercise the
// build paths directly.
type passthroughCache struct {
	fetches int
}

func (c *passthroughCache) GetOrSet(ctx context.Context, prefix, key string, ttl time.Duration, threshold float64, dest any, fetch func(context.Context) (any, error)) error {
	c.fetches++
	value, err := fetch(ctx)
	if err != nil {
		return err
	}
	switch d := dest.(type) {
	case *reports.DashboardData:
		*d = *(value.(*reports.DashboardData))
	case *reports.CampaignReport:
		*d = *(value.(*reports.CampaignReport))
	default:
		return fmt.Errorf("unexpected dest type %T", dest)
	}
	return nil
}

// fakeReportsRepo serves canned data.
type fakeReportsRepo struct {
	campaign      *domain.Campaign
	aggregated    []reports.DailyPerformance
	aggregatedErr error
	realtime      []reports.DailyPerformance
	eventCounts   map[domain.EventType]int
	uniqueOpens   int
	uniqueClicks  int
	topLinks      []reports.LinkClicks
	timeline      []reports.DailyEngagement
}

func (r *fakeReportsRepo) Campaign(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	if r.campaign == nil {
		return nil, campaign.ErrNotFound
	}
	return r.campaign, nil
}

func (r *fakeReportsRepo) CampaignCount(ctx context.Context, tenantID string, start, end time.Time) (int, error) {
	return 12, nil
}

func (r *fakeReportsRepo) TotalSent(ctx context.Context, tenantID string, start, end time.Time) (int, error) {
	return 50000, nil
}

func (r *fakeReportsRepo) AverageRates(ctx context.Context, tenantID string, start, end time.Time) (float64, float64, error) {
	return 21.5, 3.2, nil
}

func (r *fakeReportsRepo) RecentSentCampaigns(ctx context.Context, tenantID string, limit int) ([]domain.Campaign, error) {
	return []domain.Campaign{{ID: "recent-1"}}, nil
}

func (r *fakeReportsRepo) TopCampaignsByOpenRate(ctx context.Context, tenantID string, limit int) ([]domain.Campaign, error) {
	return []domain.Campaign{{ID: "top-1"}}, nil
}

func (r *fakeReportsRepo) AggregatedPerformance(ctx context.Context, tenantID string, start, end time.Time) ([]reports.DailyPerformance, error) {
	return r.aggregated, r.aggregatedErr
}

func (r *fakeReportsRepo) RealtimePerformance(ctx context.Context, tenantID string, start, end time.Time) ([]reports.DailyPerformance, error) {
	return r.realtime, nil
}

func (r *fakeReportsRepo) EventCountsByType(ctx context.Context, campaignID string) (map[domain.EventType]int, error) {
	return r.eventCounts, nil
}

func (r *fakeReportsRepo) UniqueOpens(ctx context.Context, campaignID string) (int, error) {
	return r.uniqueOpens, nil
}

func (r *fakeReportsRepo) UniqueClicks(ctx context.Context, campaignID string) (int, error) {
	return r.uniqueClicks, nil
}

func (r *fakeReportsRepo) TopClickedLinks(ctx context.Context, campaignID string, limit int) ([]reports.LinkClicks, error) {
	return r.topLinks, nil
}

func (r *fakeReportsRepo) EngagementTimeline(ctx context.Context, campaignID string, days int) ([]reports.DailyEngagement, error) {
	return r.timeline, nil
}

func days(n int) []reports.DailyPerformance {
	out := make([]reports.DailyPerformance, n)
	for i := range out {
		out[i] = reports.DailyPerformance{Date: fmt.Sprintf("2026-08-%02d", i+1), Sent: 100, Delivered: 95}
	}
	return out
}

func testRange(t *testing.T, nDays int) (time.Time, time.Time) {
	t.Helper()
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, nDays-1)
}

func TestPerformance_AggregatePathWhenCoverageSufficient(t *testing.T) {
	// 9 of 10 requested days covered: 90% >= 80% threshold.
	repo := &fakeReportsRepo{aggregated: days(9), realtime: days(10)}
	svc := reports.NewService(repo, &passthroughCache{}, reports.DefaultConfig())
	start, end := testRange(t, 10)

	series, source, err := svc.GetPerformanceChartData(context.Background(), "t1", start, end)
	require.NoError(t, err)
	assert.Equal(t, "aggregates", source)
	assert.Len(t, series, 9)
}

func TestPerformance_RealtimePathWhenCoverageInsufficient(t *testing.T) {
	// 7 of 10 days covered: 70% < 80% threshold.
	repo := &fakeReportsRepo{aggregated: days(7), realtime: days(10)}
	svc := reports.NewService(repo, &passthroughCache{}, reports.DefaultConfig())
	start, end := testRange(t, 10)

	series, source, err := svc.GetPerformanceChartData(context.Background(), "t1", start, end)
	require.NoError(t, err)
	assert.Equal(t, "realtime", source)
	assert.Len(t, series, 10)
}

func TestPerformance_ExactCoverageBoundary(t *testing.T) {
	// Exactly 80% coverage qualifies for the aggregate path.
	repo := &fakeReportsRepo{aggregated: days(8), realtime: days(10)}
	svc := reports.NewService(repo, &passthroughCache{}, reports.DefaultConfig())
	start, end := testRange(t, 10)

	_, source, err := svc.GetPerformanceChartData(context.Background(), "t1", start, end)
	require.NoError(t, err)
	assert.Equal(t, "aggregates", source)
}

func TestPerformance_AggregateErrorDegradesToRealtime(t *testing.T) {
	repo := &fakeReportsRepo{aggregatedErr: fmt.Errorf("aggregate store down"), realtime: days(10)}
	svc := reports.NewService(repo, &passthroughCache{}, reports.DefaultConfig())
	start, end := testRange(t, 10)

	series, source, err := svc.GetPerformanceChartData(context.Background(), "t1", start, end)
	require.NoError(t, err)
	assert.Equal(t, "realtime", source)
	assert.Len(t, series, 10)
}

func TestGetOptimizedDashboardData(t *testing.T) {
	repo := &fakeReportsRepo{aggregated: days(10)}
	cache := &passthroughCache{}
	svc := reports.NewService(repo, cache, reports.DefaultConfig())
	start, end := testRange(t, 10)

	data, err := svc.GetOptimizedDashboardData(context.Background(), "t1", start, end)
	require.NoError(t, err)

	assert.Equal(t, 12, data.CampaignCount)
	assert.Equal(t, 50000, data.TotalSent)
	assert.InDelta(t, 21.5, data.AvgOpenRate, 0.001)
	assert.InDelta(t, 3.2, data.AvgClickRate, 0.001)
	require.Len(t, data.RecentCampaigns, 1)
	assert.Equal(t, "recent-1", data.RecentCampaigns[0].ID)
	require.Len(t, data.TopCampaigns, 1)
	assert.Equal(t, "top-1", data.TopCampaigns[0].ID)
	assert.Equal(t, "aggregates", data.Source)
	assert.Equal(t, 1, cache.fetches)
}

func TestGetOptimizedCampaignReport(t *testing.T) {
	repo := &fakeReportsRepo{
		campaign: &domain.Campaign{
			ID:        "c1",
			Analytics: domain.CampaignAnalytics{TotalSent: 200},
		},
		eventCounts:  map[domain.EventType]int{domain.EventOpened: 80, domain.EventClicked: 15},
		uniqueOpens:  50,
		uniqueClicks: 10,
		topLinks:     []reports.LinkClicks{{Link: "https://example.com", Clicks: 9}},
		timeline:     []reports.DailyEngagement{{Date: "2026-08-01", Opens: 3, Clicks: 1}},
	}
	svc := reports.NewService(repo, &passthroughCache{}, reports.DefaultConfig())

	report, err := svc.GetOptimizedCampaignReport(context.Background(), "c1")
	require.NoError(t, err)

	assert.Equal(t, 50, report.UniqueOpens)
	assert.Equal(t, 10, report.UniqueClicks)
	assert.InDelta(t, 25.0, report.OpenRate, 0.001)
	assert.InDelta(t, 5.0, report.ClickRate, 0.001)
	assert.Equal(t, 80, report.EventCounts[domain.EventOpened])
	require.Len(t, report.TopLinks, 1)
}

func TestGetOptimizedCampaignReport_ZerosWithoutAnalytics(t *testing.T) {
	repo := &fakeReportsRepo{campaign: &domain.Campaign{ID: "c1"}}
	svc := reports.NewService(repo, &passthroughCache{}, reports.DefaultConfig())

	report, err := svc.GetOptimizedCampaignReport(context.Background(), "c1")
	require.NoError(t, err)
	assert.Zero(t, report.OpenRate)
	assert.Zero(t, report.ClickRate)
	assert.NotNil(t, report.EventCounts)
}

func TestGetOptimizedCampaignReport_NotFound(t *testing.T) {
	svc := reports.NewService(&fakeReportsRepo{}, &passthroughCache{}, reports.DefaultConfig())

	_, err := svc.GetOptimizedCampaignReport(context.Background(), "missing")
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}
