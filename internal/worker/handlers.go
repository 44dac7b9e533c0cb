// Package worker hosts the background loops and job handlers that drive
// campaign delivery: the email job handler, the scheduler backstop, the
// completion checker, and the nightly rollup loop. All loops follow the
// same Start/Stop shape with a cancellable context and a WaitGroup.
package worker

import (
	"context"
	"fmt"
	"log"

	"github.com/pulsepost/delivery-engine/internal/batch"
	"github.com/pulsepost/delivery-engine/internal/domain"
	"github.com/pulsepost/delivery-engine/internal/queue"
	"github.com/pulsepost/delivery-engine/internal/service/analytics"
	"github.com/pulsepost/delivery-engine/internal/service/campaign"
)

// Dispatcher is the slice of the queue the email job handler needs to
// re-queue work.
type Dispatcher interface {
	Enqueue(ctx context.Context, kind domain.JobKind, payload any, opts queue.Options) (*domain.Job, error)
}

// EmailJobHandler processes email delivery jobs. Both job shapes flow
// through here: the single whole-recipient job a Schedule enqueues with a
// delay, and the per-chunk jobs a dispatch fans out.
type EmailJobHandler struct {
	campaigns campaign.Repository
	processor *batch.Processor
	queue     Dispatcher
	batchSize int
}

// NewEmailJobHandler creates the handler for email delivery jobs.
func NewEmailJobHandler(campaigns campaign.Repository, processor *batch.Processor, q Dispatcher, batchSize int) *EmailJobHandler {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &EmailJobHandler{campaigns: campaigns, processor: processor, queue: q, batchSize: batchSize}
}

// Handle runs one email job. Cancelled campaigns complete the job without
// sending; paused campaigns defer it so delivery resumes when the campaign
// does. A scheduled campaign is transitioned to sending first (this is the
// delayed-job path), guarded so only one job wins the transition.
func (h *EmailJobHandler) Handle(ctx context.Context, job *domain.Job) error {
	payload, err := job.DecodePayload()
	if err != nil {
		return err
	}
	p, ok := payload.(domain.EmailJobPayload)
	if !ok {
		return fmt.Errorf("email job %s: unexpected payload type %T", job.ID, payload)
	}

	c, err := h.campaigns.Get(ctx, p.TenantID, p.CampaignID)
	if err != nil {
		return fmt.Errorf("email job %s: load campaign: %w", job.ID, err)
	}

	switch c.Status {
	case domain.CampaignCancelled:
		log.Printf("[EmailJobHandler] Campaign %s is cancelled, skipping job %s", c.ID, job.ID)
		return nil
	case domain.CampaignPaused:
		return queue.ErrDefer
	case domain.CampaignScheduled:
		err := h.campaigns.Transition(ctx, p.TenantID, p.CampaignID,
			[]domain.CampaignStatus{domain.CampaignScheduled},
			campaign.StatusChange{To: domain.CampaignSending, ClearScheduledAt: true})
		if err != nil {
			// Lost the race to another transition. Re-deliver the job so
			// the fresh status decides what happens to it.
			return queue.ErrDefer
		}
	case domain.CampaignSending:
		// chunk job from a dispatch fan-out
	default:
		return fmt.Errorf("email job %s: campaign %s in unexpected status %s", job.ID, c.ID, c.Status)
	}

	summary, err := h.processor.ProcessCampaignInBatches(ctx, p.CampaignID, p.Recipients, h.batchSize)
	if err != nil {
		return fmt.Errorf("email job %s: %w", job.ID, err)
	}

	if len(summary.Remaining) > 0 {
		// A pause landed between chunk boundaries. Queue the undispatched
		// recipients as their own job so the work survives; that job keeps
		// deferring until the campaign resumes.
		rest, err := h.queue.Enqueue(ctx, domain.JobEmail, domain.EmailJobPayload{
			CampaignID: p.CampaignID,
			TenantID:   p.TenantID,
			Recipients: summary.Remaining,
		}, queue.Options{CampaignID: p.CampaignID})
		if err != nil {
			return fmt.Errorf("email job %s: re-queue %d paused recipients: %w",
				job.ID, len(summary.Remaining), err)
		}
		log.Printf("[EmailJobHandler] Campaign %s paused mid-job %s, re-queued %d recipients as job %s",
			c.ID, job.ID, len(summary.Remaining), rest.ID)
	}

	log.Printf("[EmailJobHandler] Campaign %s job %s: %d/%d batches ok, %d sent, %d failed in %v",
		c.ID, job.ID, summary.SuccessfulBatches, summary.TotalBatches,
		summary.TotalEmailsSent, summary.TotalEmailsFailed, summary.ProcessingTime)
	return nil
}

// AnalyticsJobHandler folds queued analytics events into campaign counters
// through the aggregator's bulk path.
type AnalyticsJobHandler struct {
	aggregator *analytics.Aggregator
}

// NewAnalyticsJobHandler creates the handler for analytics jobs.
func NewAnalyticsJobHandler(aggregator *analytics.Aggregator) *AnalyticsJobHandler {
	return &AnalyticsJobHandler{aggregator: aggregator}
}

func (h *AnalyticsJobHandler) Handle(ctx context.Context, job *domain.Job) error {
	payload, err := job.DecodePayload()
	if err != nil {
		return err
	}
	p, ok := payload.(domain.AnalyticsJobPayload)
	if !ok {
		return fmt.Errorf("analytics job %s: unexpected payload type %T", job.ID, payload)
	}

	campaignID := p.CampaignID
	event := domain.EmailEvent{
		TenantID:  p.TenantID,
		EventType: p.EventType,
		EventData: p.Data,
	}
	if campaignID != "" {
		event.CampaignID = &campaignID
	}
	if recipient, ok := p.Data["recipient_email"].(string); ok {
		event.RecipientEmail = recipient
	}
	return h.aggregator.RecordEmailEvent(ctx, &event)
}

// RegisterHandlers wires the job handlers into the pool. AI jobs have no
// handler here: the external content service consumes them directly.
func RegisterHandlers(pool *queue.Pool, email *EmailJobHandler, analyticsH *AnalyticsJobHandler) {
	pool.Register(domain.JobEmail, email.Handle)
	pool.Register(domain.JobAnalytics, analyticsH.Handle)
}
