package domain

import (
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignReview    CampaignStatus = "review"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignSent      CampaignStatus = "sent"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCancelled CampaignStatus = "cancelled"
)

// Campaign represents one outbound send of content to a recipient set.
type Campaign struct {
	ID          string            `json:"id" db:"id"`
	TenantID    string            `json:"tenant_id" db:"tenant_id"`
	Name        string            `json:"name" db:"name"`
	SubjectLine string            `json:"subject_line" db:"subject_line"`
	Recipients  []string          `json:"recipients" db:"recipients"`
	Status      CampaignStatus    `json:"status" db:"status"`
	ScheduledAt *time.Time        `json:"scheduled_at" db:"scheduled_at"`
	SentAt      *time.Time        `json:"sent_at" db:"sent_at"`
	Analytics   CampaignAnalytics `json:"analytics"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
// Sent campaigns may still be reopened by a retry.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignSent || c.Status == CampaignCancelled
}

// CampaignAnalytics is the per-campaign counter snapshot maintained by the
// aggregator. Counters are monotonic; rates are derived from TotalSent.
type CampaignAnalytics struct {
	TotalSent    int       `json:"total_sent" db:"total_sent"`
	Delivered    int       `json:"delivered" db:"delivered"`
	Opened       int       `json:"opened" db:"opened"`
	Clicked      int       `json:"clicked" db:"clicked"`
	Bounced      int       `json:"bounced" db:"bounced"`
	Unsubscribed int       `json:"unsubscribed" db:"unsubscribed"`
	Complained   int       `json:"complained" db:"complained"`
	OpenRate     float64   `json:"open_rate" db:"open_rate"`
	ClickRate    float64   `json:"click_rate" db:"click_rate"`
	BounceRate   float64   `json:"bounce_rate" db:"bounce_rate"`
	LastUpdated  time.Time `json:"last_updated" db:"last_updated"`
}

// Recalculate recomputes the derived rates from the current counters.
// All rates are 0 when nothing has been sent.
func (a *CampaignAnalytics) Recalculate() {
	if a.TotalSent <= 0 {
		a.OpenRate, a.ClickRate, a.BounceRate = 0, 0, 0
		return
	}
	a.OpenRate = float64(a.Opened) / float64(a.TotalSent) * 100
	a.ClickRate = float64(a.Clicked) / float64(a.TotalSent) * 100
	a.BounceRate = float64(a.Bounced) / float64(a.TotalSent) * 100
}

// FailureRate returns the percentage of sent messages not confirmed
// delivered. Returns 0 when nothing has been sent.
func (a *CampaignAnalytics) FailureRate() float64 {
	if a.TotalSent <= 0 {
		return 0
	}
	return float64(a.TotalSent-a.Delivered) / float64(a.TotalSent) * 100
}
