package domain

import (
	"time"
)

// EventType enumerates the delivery-lifecycle events tracked per recipient.
type EventType string

const (
	EventDelivered    EventType = "delivered"
	EventOpened       EventType = "opened"
	EventClicked      EventType = "clicked"
	EventBounced      EventType = "bounced"
	EventUnsubscribed EventType = "unsubscribed"
	EventComplained   EventType = "complained"
)

// ValidEventType reports whether t is one of the six tracked event types.
func ValidEventType(t EventType) bool {
	switch t {
	case EventDelivered, EventOpened, EventClicked, EventBounced, EventUnsubscribed, EventComplained:
		return true
	}
	return false
}

// EmailEvent is one delivery-lifecycle occurrence for one recipient.
// Events are append-only and never mutated after insertion.
type EmailEvent struct {
	ID             string         `json:"id" db:"id"`
	TenantID       string         `json:"tenant_id" db:"tenant_id"`
	CampaignID     *string        `json:"campaign_id" db:"campaign_id"`
	RecipientEmail string         `json:"recipient_email" db:"recipient_email"`
	EventType      EventType      `json:"event_type" db:"event_type"`
	EventData      map[string]any `json:"event_data" db:"event_data"`
	Timestamp      time.Time      `json:"timestamp" db:"timestamp"`
}

// DailyMetrics holds the per-day event counts stored in a daily aggregate.
type DailyMetrics struct {
	Sent         int `json:"sent"`
	Delivered    int `json:"delivered"`
	Opened       int `json:"opened"`
	Clicked      int `json:"clicked"`
	Bounced      int `json:"bounced"`
	Unsubscribed int `json:"unsubscribed"`
	Complained   int `json:"complained"`
}

// DailyAggregate is a precomputed per-day rollup of event counts, keyed by
// (tenant[, campaign], date). Upserted nightly; re-running a day overwrites
// rather than double counts.
type DailyAggregate struct {
	TenantID   string       `json:"tenant_id" db:"tenant_id"`
	CampaignID *string      `json:"campaign_id" db:"campaign_id"`
	Date       time.Time    `json:"date" db:"date"`
	Metrics    DailyMetrics `json:"metrics"`
}
