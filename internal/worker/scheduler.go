package worker

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulsepost/delivery-engine/internal/domain"
	"github.com/pulsepost/delivery-engine/internal/queue"
	"github.com/pulsepost/delivery-engine/internal/service/campaign"
)

const (
	// DefaultSchedulerPollInterval is how often to check for due campaigns.
	DefaultSchedulerPollInterval = 30 * time.Second

	// schedulerBatchLimit bounds how many due campaigns one tick handles.
	schedulerBatchLimit = 25
)

// CampaignScheduler is the backstop for scheduled sends. The normal path
// is the delayed email job enqueued at schedule time; this loop catches
// campaigns whose scheduled time has passed but whose job is gone (retried
// away, cleaned, or lost) and re-enqueues delivery for them.
type CampaignScheduler struct {
	campaigns    campaign.Repository
	queue        *queue.Queue
	pollInterval time.Duration

	// Stats
	campaignsDispatched int64
	errors              int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewCampaignScheduler creates the scheduler backstop.
func NewCampaignScheduler(campaigns campaign.Repository, q *queue.Queue) *CampaignScheduler {
	return &CampaignScheduler{
		campaigns:    campaigns,
		queue:        q,
		pollInterval: DefaultSchedulerPollInterval,
	}
}

// SetPollInterval overrides the poll interval. Call before Start.
func (cs *CampaignScheduler) SetPollInterval(d time.Duration) {
	cs.pollInterval = d
}

// Start begins the polling loop.
func (cs *CampaignScheduler) Start() {
	cs.mu.Lock()
	if cs.running {
		cs.mu.Unlock()
		return
	}
	cs.running = true
	cs.ctx, cs.cancel = context.WithCancel(context.Background())
	cs.mu.Unlock()

	log.Printf("[CampaignScheduler] Starting with poll interval: %v", cs.pollInterval)
	cs.wg.Add(1)
	go cs.loop()
}

// Stop shuts the loop down and waits for the in-flight tick.
func (cs *CampaignScheduler) Stop() {
	cs.mu.Lock()
	if !cs.running {
		cs.mu.Unlock()
		return
	}
	cs.running = false
	cs.mu.Unlock()

	cs.cancel()
	cs.wg.Wait()
	log.Printf("[CampaignScheduler] Stopped. Dispatched: %d, Errors: %d",
		atomic.LoadInt64(&cs.campaignsDispatched), atomic.LoadInt64(&cs.errors))
}

func (cs *CampaignScheduler) loop() {
	defer cs.wg.Done()

	ticker := time.NewTicker(cs.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cs.ctx.Done():
			return
		case <-ticker.C:
			cs.processDue()
		}
	}
}

// processDue re-enqueues delivery for due scheduled campaigns that have no
// pending email job. Campaigns with a waiting or active job are left alone;
// their job will perform the scheduled-to-sending transition itself.
func (cs *CampaignScheduler) processDue() {
	ctx, cancel := context.WithTimeout(cs.ctx, 30*time.Second)
	defer cancel()

	due, err := cs.campaigns.DueScheduled(ctx, schedulerBatchLimit)
	if err != nil {
		atomic.AddInt64(&cs.errors, 1)
		log.Printf("[CampaignScheduler] Failed to load due campaigns: %v", err)
		return
	}

	for _, c := range due {
		if cs.hasPendingJob(ctx, c.ID) {
			continue
		}
		_, err := cs.queue.Enqueue(ctx, domain.JobEmail, domain.EmailJobPayload{
			CampaignID: c.ID,
			TenantID:   c.TenantID,
			Recipients: c.Recipients,
		}, queue.Options{CampaignID: c.ID})
		if err != nil {
			atomic.AddInt64(&cs.errors, 1)
			log.Printf("[CampaignScheduler] Failed to re-enqueue campaign %s: %v", c.ID, err)
			continue
		}
		atomic.AddInt64(&cs.campaignsDispatched, 1)
		log.Printf("[CampaignScheduler] Re-enqueued delivery for due campaign %s (scheduled %v)",
			c.ID, c.ScheduledAt)
	}
}

func (cs *CampaignScheduler) hasPendingJob(ctx context.Context, campaignID string) bool {
	jobs, err := cs.queue.JobsByCampaign(ctx, campaignID)
	if err != nil {
		atomic.AddInt64(&cs.errors, 1)
		log.Printf("[CampaignScheduler] Failed to check jobs for campaign %s: %v", campaignID, err)
		// Err on the side of not double-enqueueing.
		return true
	}
	for _, j := range jobs {
		if j.State == domain.JobWaiting || j.State == domain.JobActive {
			return true
		}
	}
	return false
}
