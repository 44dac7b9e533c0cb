package analytics

import (
	"strings"
	"time"

	"github.com/pulsepost/delivery-engine/internal/domain"
)

// ProviderEvent is the shape of one event in the transport provider's
// webhook payload.
type ProviderEvent struct {
	Type string            `json:"type"`
	Data ProviderEventData `json:"data"`
}

// ProviderEventData carries the event details.
type ProviderEventData struct {
	EmailID   string            `json:"email_id"`
	To        []string          `json:"to"`
	CreatedAt time.Time         `json:"created_at"`
	Tags      []string          `json:"tags"`
	Headers   map[string]string `json:"headers"`
	Link      string            `json:"link,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	IP        string            `json:"ip,omitempty"`
}

// providerTypeMap translates provider event names to internal event types.
var providerTypeMap = map[string]domain.EventType{
	"email.delivered":        domain.EventDelivered,
	"email.opened":           domain.EventOpened,
	"email.clicked":          domain.EventClicked,
	"email.bounced":          domain.EventBounced,
	"email.delivery_delayed": domain.EventBounced,
	"email.unsubscribed":     domain.EventUnsubscribed,
	"email.complained":       domain.EventComplained,
	"email.marked_as_spam":   domain.EventComplained,
}

// MapProviderEvent converts a provider webhook event into an internal
// EmailEvent. Returns nil (no error) when the event type is unknown, no
// tenant can be resolved, or no recipient is present; such events are
// dropped rather than rejected so the provider never sees a failure for
// traffic we simply don't track.
func MapProviderEvent(p ProviderEvent) *domain.EmailEvent {
	eventType, known := providerTypeMap[p.Type]
	if !known {
		return nil
	}
	if len(p.Data.To) == 0 || p.Data.To[0] == "" {
		return nil
	}

	tenantID := resolveTag(p.Data, "tenant:", "X-Tenant-ID")
	if tenantID == "" {
		return nil
	}

	event := &domain.EmailEvent{
		TenantID:       tenantID,
		RecipientEmail: strings.ToLower(p.Data.To[0]),
		EventType:      eventType,
		Timestamp:      p.Data.CreatedAt,
		EventData:      map[string]any{},
	}
	if campaignID := resolveTag(p.Data, "campaign:", "X-Campaign-ID"); campaignID != "" {
		event.CampaignID = &campaignID
	}
	if p.Data.EmailID != "" {
		event.EventData["email_id"] = p.Data.EmailID
	}
	if p.Data.Link != "" {
		event.EventData["link"] = p.Data.Link
	}
	if p.Data.UserAgent != "" {
		event.EventData["user_agent"] = p.Data.UserAgent
	}
	if p.Data.IP != "" {
		event.EventData["ip"] = p.Data.IP
	}
	return event
}

// resolveTag finds an identifier either in the tags list (format
// "<prefix><id>", e.g. "tenant:t_123") or in the named header.
func resolveTag(d ProviderEventData, tagPrefix, header string) string {
	for _, tag := range d.Tags {
		if strings.HasPrefix(tag, tagPrefix) {
			if v := strings.TrimPrefix(tag, tagPrefix); v != "" {
				return v
			}
		}
	}
	return d.Headers[header]
}
