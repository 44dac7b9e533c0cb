package reports

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pulsepost/delivery-engine/internal/domain"
	"github.com/pulsepost/delivery-engine/internal/pkg/logger"
)

// Numbers of campaigns surfaced on the dashboard.
const (
	recentCampaignLimit = 5
	topCampaignLimit    = 5
	topLinkLimit        = 10
	timelineDays        = 30
)

// ResultCache is the slice of the cache layer the report service uses.
// *cache.Cache satisfies it.
type ResultCache interface {
	GetOrSet(ctx context.Context, prefix, key string, ttl time.Duration, refreshThreshold float64, dest any, fetch func(context.Context) (any, error)) error
}

// Config holds report service tuning.
type Config struct {
	// DashboardTTL caches the full dashboard payload per (tenant, range).
	DashboardTTL time.Duration
	// ReportTTL caches per-campaign reports.
	ReportTTL time.Duration
	// RefreshThreshold is the remaining-TTL fraction below which a cached
	// entry is refreshed in the background.
	RefreshThreshold float64
	// AggregateCoverage is the minimum fraction of requested days the
	// daily-aggregate store must cover for the fast path.
	AggregateCoverage float64
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		DashboardTTL:      time.Minute,
		ReportTTL:         2 * time.Minute,
		RefreshThreshold:  0.2,
		AggregateCoverage: 0.8,
	}
}

// Service answers dashboard and report queries.
type Service struct {
	repo   Repository
	cache  ResultCache
	config Config
}

// NewService creates a report service.
func NewService(repo Repository, cache ResultCache, config Config) *Service {
	if config.AggregateCoverage <= 0 {
		config.AggregateCoverage = DefaultConfig().AggregateCoverage
	}
	if config.DashboardTTL <= 0 {
		config.DashboardTTL = DefaultConfig().DashboardTTL
	}
	if config.ReportTTL <= 0 {
		config.ReportTTL = DefaultConfig().ReportTTL
	}
	return &Service{repo: repo, cache: cache, config: config}
}

// DashboardData is the combined dashboard payload.
type DashboardData struct {
	CampaignCount   int                `json:"campaign_count"`
	TotalSent       int                `json:"total_sent"`
	AvgOpenRate     float64            `json:"avg_open_rate"`
	AvgClickRate    float64            `json:"avg_click_rate"`
	RecentCampaigns []domain.Campaign  `json:"recent_campaigns"`
	TopCampaigns    []domain.Campaign  `json:"top_campaigns"`
	Performance     []DailyPerformance `json:"performance"`
	Source          string             `json:"source"`
}

// GetOptimizedDashboardData assembles the dashboard for a tenant and date
// range. The expensive parallel fan-out runs at most once per TTL window
// per (tenant, start, end); repeat calls inside the window are served from
// cache.
func (s *Service) GetOptimizedDashboardData(ctx context.Context, tenantID string, start, end time.Time) (*DashboardData, error) {
	key := fmt.Sprintf("%s:%s:%s", tenantID, start.Format("2006-01-02"), end.Format("2006-01-02"))
	var data DashboardData
	err := s.cache.GetOrSet(ctx, "dashboard", key, s.config.DashboardTTL, s.config.RefreshThreshold, &data,
		func(ctx context.Context) (any, error) {
			return s.buildDashboard(ctx, tenantID, start, end)
		})
	if err != nil {
		return nil, err
	}
	return &data, nil
}

func (s *Service) buildDashboard(ctx context.Context, tenantID string, start, end time.Time) (*DashboardData, error) {
	var data DashboardData

	err := parallel(ctx,
		func(ctx context.Context) error {
			n, err := s.repo.CampaignCount(ctx, tenantID, start, end)
			data.CampaignCount = n
			return err
		},
		func(ctx context.Context) error {
			n, err := s.repo.TotalSent(ctx, tenantID, start, end)
			data.TotalSent = n
			return err
		},
		func(ctx context.Context) error {
			open, click, err := s.repo.AverageRates(ctx, tenantID, start, end)
			data.AvgOpenRate, data.AvgClickRate = open, click
			return err
		},
		func(ctx context.Context) error {
			campaigns, err := s.repo.RecentSentCampaigns(ctx, tenantID, recentCampaignLimit)
			data.RecentCampaigns = campaigns
			return err
		},
		func(ctx context.Context) error {
			campaigns, err := s.repo.TopCampaignsByOpenRate(ctx, tenantID, topCampaignLimit)
			data.TopCampaigns = campaigns
			return err
		},
		func(ctx context.Context) error {
			series, source, err := s.performance(ctx, tenantID, start, end)
			data.Performance, data.Source = series, source
			return err
		},
	)
	if err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPerformanceChartData returns the per-day performance series for the
// range, plus which path produced it ("aggregates" or "realtime").
func (s *Service) GetPerformanceChartData(ctx context.Context, tenantID string, start, end time.Time) ([]DailyPerformance, string, error) {
	return s.performance(ctx, tenantID, start, end)
}

// performance implements the two-tier query plan: prefer the daily
// aggregates when they cover enough of the requested range, otherwise
// recompute from raw events.
func (s *Service) performance(ctx context.Context, tenantID string, start, end time.Time) ([]DailyPerformance, string, error) {
	aggregated, err := s.repo.AggregatedPerformance(ctx, tenantID, start, end)
	if err != nil {
		// Degrade to the realtime path rather than failing the read.
		logger.Warn("aggregate read failed, using realtime path", "tenant_id", tenantID, "error", err.Error())
		aggregated = nil
	}

	days := rangeDays(start, end)
	if days > 0 && float64(len(aggregated))/float64(days) >= s.config.AggregateCoverage {
		return aggregated, "aggregates", nil
	}

	series, err := s.repo.RealtimePerformance(ctx, tenantID, start, end)
	if err != nil {
		return nil, "", fmt.Errorf("realtime performance: %w", err)
	}
	return series, "realtime", nil
}

// CampaignReport is the full per-campaign report payload.
type CampaignReport struct {
	Campaign     *domain.Campaign         `json:"campaign"`
	EventCounts  map[domain.EventType]int `json:"event_counts"`
	UniqueOpens  int                      `json:"unique_opens"`
	UniqueClicks int                      `json:"unique_clicks"`
	OpenRate     float64                  `json:"open_rate"`
	ClickRate    float64                  `json:"click_rate"`
	TopLinks     []LinkClicks             `json:"top_links"`
	Timeline     []DailyEngagement        `json:"timeline"`
}

// GetOptimizedCampaignReport builds the report for one campaign. A missing
// campaign is a not-found error; a campaign with no recorded analytics
// yields zeros, not an error. Cached per campaign id with a short TTL.
func (s *Service) GetOptimizedCampaignReport(ctx context.Context, campaignID string) (*CampaignReport, error) {
	var report CampaignReport
	err := s.cache.GetOrSet(ctx, "report", campaignID, s.config.ReportTTL, s.config.RefreshThreshold, &report,
		func(ctx context.Context) (any, error) {
			return s.buildCampaignReport(ctx, campaignID)
		})
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (s *Service) buildCampaignReport(ctx context.Context, campaignID string) (*CampaignReport, error) {
	c, err := s.repo.Campaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	report := &CampaignReport{Campaign: c, EventCounts: make(map[domain.EventType]int)}
	err = parallel(ctx,
		func(ctx context.Context) error {
			counts, err := s.repo.EventCountsByType(ctx, campaignID)
			if counts != nil {
				report.EventCounts = counts
			}
			return err
		},
		func(ctx context.Context) error {
			n, err := s.repo.UniqueOpens(ctx, campaignID)
			report.UniqueOpens = n
			return err
		},
		func(ctx context.Context) error {
			n, err := s.repo.UniqueClicks(ctx, campaignID)
			report.UniqueClicks = n
			return err
		},
		func(ctx context.Context) error {
			links, err := s.repo.TopClickedLinks(ctx, campaignID, topLinkLimit)
			report.TopLinks = links
			return err
		},
		func(ctx context.Context) error {
			timeline, err := s.repo.EngagementTimeline(ctx, campaignID, timelineDays)
			report.Timeline = timeline
			return err
		},
	)
	if err != nil {
		return nil, err
	}

	// Rates derive from the campaign's send total; zero sends means all
	// derived metrics stay zero.
	if c.Analytics.TotalSent > 0 {
		report.OpenRate = float64(report.UniqueOpens) / float64(c.Analytics.TotalSent) * 100
		report.ClickRate = float64(report.UniqueClicks) / float64(c.Analytics.TotalSent) * 100
	}
	return report, nil
}

// parallel runs the given functions concurrently and returns the first
// error once all have finished.
func parallel(ctx context.Context, fns ...func(context.Context) error) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, fn := range fns {
		wg.Add(1)
		go func(fn func(context.Context) error) {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(fn)
	}
	wg.Wait()
	return firstErr
}

// rangeDays counts the days in [start, end], inclusive of both endpoints.
func rangeDays(start, end time.Time) int {
	start = start.Truncate(24 * time.Hour)
	end = end.Truncate(24 * time.Hour)
	if end.Before(start) {
		return 0
	}
	return int(end.Sub(start).Hours()/24) + 1
}
