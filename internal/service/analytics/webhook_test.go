package analytics_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsepost/delivery-engine/internal/domain"
	"github.com/pulsepost/delivery-engine/internal/service/analytics"
)

func providerEvent(eventType string) analytics.ProviderEvent {
	return analytics.ProviderEvent{
		Type: eventType,
		Data: analytics.ProviderEventData{
			EmailID:   "msg-123",
			To:        []string{"User@Example.com"},
			CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
			Tags:      []string{"tenant:t1", "campaign:c1"},
		},
	}
}

func TestMapProviderEvent(t *testing.T) {
	e := analytics.MapProviderEvent(providerEvent("email.delivered"))
	require.NotNil(t, e)
	assert.Equal(t, domain.EventDelivered, e.EventType)
	assert.Equal(t, "t1", e.TenantID)
	require.NotNil(t, e.CampaignID)
	assert.Equal(t, "c1", *e.CampaignID)
	assert.Equal(t, "user@example.com", e.RecipientEmail)
	assert.Equal(t, "msg-123", e.EventData["email_id"])
}

func TestMapProviderEvent_TypeTranslation(t *testing.T) {
	cases := map[string]domain.EventType{
		"email.delivered":        domain.EventDelivered,
		"email.opened":           domain.EventOpened,
		"email.clicked":          domain.EventClicked,
		"email.bounced":          domain.EventBounced,
		"email.delivery_delayed": domain.EventBounced,
		"email.unsubscribed":     domain.EventUnsubscribed,
		"email.complained":       domain.EventComplained,
		"email.marked_as_spam":   domain.EventComplained,
	}
	for providerType, want := range cases {
		e := analytics.MapProviderEvent(providerEvent(providerType))
		require.NotNil(t, e, providerType)
		assert.Equal(t, want, e.EventType, providerType)
	}
}

func TestMapProviderEvent_Drops(t *testing.T) {
	// Unknown type
	assert.Nil(t, analytics.MapProviderEvent(providerEvent("email.queued")))

	// No recipient
	p := providerEvent("email.opened")
	p.Data.To = nil
	assert.Nil(t, analytics.MapProviderEvent(p))

	// No tenant tag or header
	p = providerEvent("email.opened")
	p.Data.Tags = []string{"campaign:c1"}
	assert.Nil(t, analytics.MapProviderEvent(p))
}

func TestMapProviderEvent_HeaderFallback(t *testing.T) {
	p := providerEvent("email.clicked")
	p.Data.Tags = nil
	p.Data.Headers = map[string]string{"X-Tenant-ID": "t9", "X-Campaign-ID": "c9"}
	p.Data.Link = "https://example.com/offer"

	e := analytics.MapProviderEvent(p)
	require.NotNil(t, e)
	assert.Equal(t, "t9", e.TenantID)
	require.NotNil(t, e.CampaignID)
	assert.Equal(t, "c9", *e.CampaignID)
	assert.Equal(t, "https://example.com/offer", e.EventData["link"])
}

func TestMapProviderEvent_NoCampaignIsAllowed(t *testing.T) {
	p := providerEvent("email.unsubscribed")
	p.Data.Tags = []string{"tenant:t1"}

	e := analytics.MapProviderEvent(p)
	require.NotNil(t, e)
	assert.Nil(t, e.CampaignID)
}
