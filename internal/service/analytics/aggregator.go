package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pulsepost/delivery-engine/internal/domain"
	"github.com/pulsepost/delivery-engine/internal/pkg/logger"
)

// bulkChunkSize bounds the transaction size on the high-volume ingest path.
const bulkChunkSize = 1000

// CacheInvalidator drops cached entries for a tenant after its counters
// change. *cache.Cache satisfies it.
type CacheInvalidator interface {
	InvalidateTenant(ctx context.Context, tenantID string) error
}

// Aggregator ingests delivery events and maintains campaign counters.
type Aggregator struct {
	repo  Repository
	cache CacheInvalidator
}

// NewAggregator creates an aggregator.
func NewAggregator(repo Repository, cache CacheInvalidator) *Aggregator {
	return &Aggregator{repo: repo, cache: cache}
}

// RecordEmailEvent validates and records a single event, updating the
// owning campaign's counters in the same transaction.
func (a *Aggregator) RecordEmailEvent(ctx context.Context, event *domain.EmailEvent) error {
	if err := prepare(event); err != nil {
		return err
	}
	deltas := deltasByCampaign([]domain.EmailEvent{*event})
	if err := a.repo.InsertEventsWithCounters(ctx, []domain.EmailEvent{*event}, deltas); err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	a.invalidate(ctx, map[string]struct{}{event.TenantID: {}})
	return nil
}

// RecordEmailEventsBatch records a set of events in one transaction,
// applying exactly one counter update per distinct campaign. A failure
// anywhere rolls back the entire batch; there is no partial success.
func (a *Aggregator) RecordEmailEventsBatch(ctx context.Context, events []domain.EmailEvent) error {
	if len(events) == 0 {
		return nil
	}
	for i := range events {
		if err := prepare(&events[i]); err != nil {
			return err
		}
	}
	if err := a.repo.InsertEventsWithCounters(ctx, events, deltasByCampaign(events)); err != nil {
		return fmt.Errorf("record events batch: %w", err)
	}
	a.invalidate(ctx, tenantsOf(events))
	return nil
}

// BatchProcessEmailEvents is the bulk ingest path. Events are split into
// fixed-size chunks; each chunk commits in its own transaction and then
// invalidates cache entries for every tenant it touched. Empty input opens
// no transaction at all.
func (a *Aggregator) BatchProcessEmailEvents(ctx context.Context, events []domain.EmailEvent) error {
	if len(events) == 0 {
		return nil
	}
	for i := range events {
		if err := prepare(&events[i]); err != nil {
			return err
		}
	}

	for start := 0; start < len(events); start += bulkChunkSize {
		end := start + bulkChunkSize
		if end > len(events) {
			end = len(events)
		}
		chunk := events[start:end]

		if err := a.repo.InsertEventsWithCounters(ctx, chunk, deltasByCampaign(chunk)); err != nil {
			return fmt.Errorf("bulk chunk %d-%d: %w", start, end, err)
		}
		a.invalidate(ctx, tenantsOf(chunk))
	}
	return nil
}

// RecordSent adds transport-accepted sends to a campaign's total.
func (a *Aggregator) RecordSent(ctx context.Context, campaignID string, sent int) error {
	if sent <= 0 {
		return nil
	}
	return a.repo.IncrementTotalSent(ctx, campaignID, sent)
}

// AggregateNightlyMetrics rolls the previous UTC day's events into the
// daily-aggregate store. Upsert semantics make a re-run for the same day
// overwrite rather than double count.
func (a *Aggregator) AggregateNightlyMetrics(ctx context.Context) (int, error) {
	day := time.Now().UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour)
	groups, err := a.repo.UpsertDailyAggregates(ctx, day)
	if err != nil {
		return 0, fmt.Errorf("nightly aggregation for %s: %w", day.Format("2006-01-02"), err)
	}
	logger.Info("nightly aggregation complete", "date", day.Format("2006-01-02"),
		"groups", fmt.Sprintf("%d", groups))
	return groups, nil
}

// prepare validates an event and fills defaulted fields.
func prepare(e *domain.EmailEvent) error {
	if e.TenantID == "" {
		return fmt.Errorf("event missing tenant id")
	}
	if e.RecipientEmail == "" {
		return fmt.Errorf("event missing recipient email")
	}
	if !domain.ValidEventType(e.EventType) {
		return fmt.Errorf("unknown event type %q", e.EventType)
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return nil
}

// deltasByCampaign groups events into one counter delta per campaign.
// Events without a campaign id produce no delta; the raw row still lands.
func deltasByCampaign(events []domain.EmailEvent) map[string]CounterDelta {
	deltas := make(map[string]CounterDelta)
	for _, e := range events {
		if e.CampaignID == nil || *e.CampaignID == "" {
			continue
		}
		d := deltas[*e.CampaignID]
		d.Add(e.EventType)
		deltas[*e.CampaignID] = d
	}
	return deltas
}

func tenantsOf(events []domain.EmailEvent) map[string]struct{} {
	tenants := make(map[string]struct{})
	for _, e := range events {
		tenants[e.TenantID] = struct{}{}
	}
	return tenants
}

// invalidate drops cached analytics for the touched tenants. Cache
// failures are logged and swallowed: the write already committed.
func (a *Aggregator) invalidate(ctx context.Context, tenants map[string]struct{}) {
	if a.cache == nil {
		return
	}
	for tenant := range tenants {
		if err := a.cache.InvalidateTenant(ctx, tenant); err != nil {
			logger.Warn("tenant cache invalidation failed", "tenant_id", tenant, "error", err.Error())
		}
	}
}
