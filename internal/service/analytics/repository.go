package analytics

import (
	"context"
	"time"

	"github.com/pulsepost/delivery-engine/internal/domain"
)

// CounterDelta is the per-campaign increment set derived from a group of
// events. Applied to campaign analytics in a single SQL statement.
type CounterDelta struct {
	Delivered    int
	Opened       int
	Clicked      int
	Bounced      int
	Unsubscribed int
	Complained   int
}

// Add counts one event type into the delta.
func (d *CounterDelta) Add(t domain.EventType) {
	switch t {
	case domain.EventDelivered:
		d.Delivered++
	case domain.EventOpened:
		d.Opened++
	case domain.EventClicked:
		d.Clicked++
	case domain.EventBounced:
		d.Bounced++
	case domain.EventUnsubscribed:
		d.Unsubscribed++
	case domain.EventComplained:
		d.Complained++
	}
}

// Repository is the persistence contract for event ingestion and rollups.
// Implementations must be safe for concurrent use.
type Repository interface {
	// InsertEventsWithCounters inserts the raw events and applies the
	// per-campaign counter deltas (recomputing rates and last_updated) in
	// one transaction. Any failure rolls back the whole call.
	InsertEventsWithCounters(ctx context.Context, events []domain.EmailEvent, deltas map[string]CounterDelta) error

	// IncrementTotalSent adds accepted sends to a campaign's total_sent
	// and recomputes rates.
	IncrementTotalSent(ctx context.Context, campaignID string, n int) error

	// UpsertDailyAggregates rolls the given day's events up into the
	// daily-aggregate store, overwriting any existing rows for that day.
	// Returns the number of (tenant, campaign) groups written.
	UpsertDailyAggregates(ctx context.Context, day time.Time) (int, error)
}
