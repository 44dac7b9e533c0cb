package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulsepost/delivery-engine/internal/batch"
	"github.com/pulsepost/delivery-engine/internal/domain"
	"github.com/pulsepost/delivery-engine/internal/queue"
	"github.com/pulsepost/delivery-engine/internal/service/campaign"
)

// DefaultCompletionPollInterval is how often sending campaigns are checked.
const DefaultCompletionPollInterval = 15 * time.Second

// CompletionChecker watches sending campaigns and flips them to sent once
// every one of their delivery jobs is terminal.
type CompletionChecker struct {
	campaigns    campaign.Repository
	service      *campaign.Service
	queue        *queue.Queue
	pollInterval time.Duration

	// Stats
	campaignsCompleted int64
	errors             int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewCompletionChecker creates the completion checker.
func NewCompletionChecker(campaigns campaign.Repository, svc *campaign.Service, q *queue.Queue) *CompletionChecker {
	return &CompletionChecker{
		campaigns:    campaigns,
		service:      svc,
		queue:        q,
		pollInterval: DefaultCompletionPollInterval,
	}
}

// SetPollInterval overrides the poll interval. Call before Start.
func (cc *CompletionChecker) SetPollInterval(d time.Duration) {
	cc.pollInterval = d
}

// Start begins the polling loop.
func (cc *CompletionChecker) Start() {
	cc.mu.Lock()
	if cc.running {
		cc.mu.Unlock()
		return
	}
	cc.running = true
	cc.ctx, cc.cancel = context.WithCancel(context.Background())
	cc.mu.Unlock()

	log.Printf("[CompletionChecker] Starting with poll interval: %v", cc.pollInterval)
	cc.wg.Add(1)
	go cc.loop()
}

// Stop shuts the loop down and waits for the in-flight tick.
func (cc *CompletionChecker) Stop() {
	cc.mu.Lock()
	if !cc.running {
		cc.mu.Unlock()
		return
	}
	cc.running = false
	cc.mu.Unlock()

	cc.cancel()
	cc.wg.Wait()
	log.Printf("[CompletionChecker] Stopped. Completed: %d, Errors: %d",
		atomic.LoadInt64(&cc.campaignsCompleted), atomic.LoadInt64(&cc.errors))
}

func (cc *CompletionChecker) loop() {
	defer cc.wg.Done()

	ticker := time.NewTicker(cc.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cc.ctx.Done():
			return
		case <-ticker.C:
			cc.checkSending()
		}
	}
}

// checkSending completes campaigns whose delivery jobs have all reached a
// terminal state. A campaign with no jobs at all is left alone: either the
// fan-out has not happened yet or the scheduler backstop will re-enqueue it.
func (cc *CompletionChecker) checkSending() {
	ctx, cancel := context.WithTimeout(cc.ctx, 30*time.Second)
	defer cancel()

	ids, err := cc.campaigns.Sending(ctx)
	if err != nil {
		atomic.AddInt64(&cc.errors, 1)
		log.Printf("[CompletionChecker] Failed to load sending campaigns: %v", err)
		return
	}

	for _, id := range ids {
		jobs, err := cc.queue.JobsByCampaign(ctx, id)
		if err != nil {
			atomic.AddInt64(&cc.errors, 1)
			log.Printf("[CompletionChecker] Failed to load jobs for campaign %s: %v", id, err)
			continue
		}
		if len(jobs) == 0 || batch.ClassifyJobs(jobs) == domain.BatchInProgress {
			continue
		}
		if err := cc.service.CompleteSending(ctx, "", id); err != nil {
			// Conflict means someone else moved the campaign first
			// (pause, cancel, or another checker instance). Not an error.
			if errors.Is(err, campaign.ErrConflict) {
				continue
			}
			atomic.AddInt64(&cc.errors, 1)
			log.Printf("[CompletionChecker] Failed to complete campaign %s: %v", id, err)
			continue
		}
		atomic.AddInt64(&cc.campaignsCompleted, 1)
		log.Printf("[CompletionChecker] Campaign %s completed (%d jobs terminal)", id, len(jobs))
	}
}
