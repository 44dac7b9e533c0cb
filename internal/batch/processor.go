// Package batch drives chunked campaign delivery: it splits recipient sets
// into bounded chunks, pushes each chunk through the external transport,
// and aggregates the per-chunk outcomes.
package batch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pulsepost/delivery-engine/internal/domain"
	"github.com/pulsepost/delivery-engine/internal/queue"
	"github.com/pulsepost/delivery-engine/internal/transport"
)

// CampaignInfo is the slice of campaign state the processor needs.
type CampaignInfo struct {
	TenantID string
	Subject  string
	Status   domain.CampaignStatus
}

// CampaignLookup resolves campaign state by id, across tenants.
type CampaignLookup interface {
	Lookup(ctx context.Context, campaignID string) (*CampaignInfo, error)
}

// SentRecorder records accepted sends against a campaign's analytics.
type SentRecorder interface {
	RecordSent(ctx context.Context, campaignID string, sent int) error
}

// JobStore reads job state for batch progress classification.
type JobStore interface {
	JobsByIDs(ctx context.Context, ids []string) ([]domain.Job, error)
}

// Summary aggregates the outcome of one ProcessCampaignInBatches call.
type Summary struct {
	TotalBatches      int           `json:"total_batches"`
	SuccessfulBatches int           `json:"successful_batches"`
	FailedBatches     int           `json:"failed_batches"`
	TotalEmailsSent   int           `json:"total_emails_sent"`
	TotalEmailsFailed int           `json:"total_emails_failed"`
	ProcessingTime    time.Duration `json:"processing_time_ms"`

	// Remaining holds the recipients whose chunks were never dispatched
	// because a pause stopped the run early. The caller must re-queue
	// them or they are lost. Empty on a full run and on cancellation.
	Remaining []string `json:"-"`
}

// Processor executes chunked delivery for campaigns.
type Processor struct {
	sender    transport.BatchSender
	campaigns CampaignLookup
	recorder  SentRecorder
	jobs      JobStore
}

// NewProcessor creates a batch processor.
func NewProcessor(sender transport.BatchSender, campaigns CampaignLookup, recorder SentRecorder, jobs JobStore) *Processor {
	return &Processor{sender: sender, campaigns: campaigns, recorder: recorder, jobs: jobs}
}

// ProcessCampaignInBatches splits recipients into chunks of batchSize and
// sends them sequentially, in input order, through the transport.
//
// A transport-call error marks that batch failed and processing continues
// with the next chunk. Per-recipient failures inside an accepted call count
// toward TotalEmailsFailed but do not fail the batch. Pausing or cancelling
// the campaign stops dispatch of further chunks; the in-flight call is
// never interrupted. On a pause the undispatched recipients come back in
// Summary.Remaining for the caller to re-queue.
func (p *Processor) ProcessCampaignInBatches(ctx context.Context, campaignID string, recipients []string, batchSize int) (*Summary, error) {
	start := time.Now()
	chunks := queue.SplitRecipients(recipients, batchSize)
	summary := &Summary{TotalBatches: len(chunks)}

	info, err := p.campaigns.Lookup(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("lookup campaign %s: %w", campaignID, err)
	}

	for i, chunk := range chunks {
		// Re-check status between chunks so pause/cancel takes effect at
		// the next chunk boundary.
		if i > 0 {
			current, err := p.campaigns.Lookup(ctx, campaignID)
			if err == nil && (current.Status == domain.CampaignPaused || current.Status == domain.CampaignCancelled) {
				log.Printf("[BatchProcessor] Campaign %s is %s, stopping after %d/%d batches",
					campaignID, current.Status, i, len(chunks))
				summary.TotalBatches = i
				if current.Status == domain.CampaignPaused {
					for _, rest := range chunks[i:] {
						summary.Remaining = append(summary.Remaining, rest...)
					}
				}
				break
			}
		}

		result, err := p.sender.SendBatch(ctx, campaignID, info.TenantID, info.Subject, chunk)
		if err != nil {
			summary.FailedBatches++
			summary.TotalEmailsFailed += len(chunk)
			log.Printf("[BatchProcessor] Campaign %s batch %d/%d failed: %v",
				campaignID, i+1, len(chunks), err)
			continue
		}

		summary.SuccessfulBatches++
		summary.TotalEmailsSent += result.Sent
		summary.TotalEmailsFailed += result.Failed

		if result.Sent > 0 {
			if err := p.recorder.RecordSent(ctx, campaignID, result.Sent); err != nil {
				log.Printf("[BatchProcessor] Campaign %s: failed to record %d sends: %v",
					campaignID, result.Sent, err)
			}
		}
	}

	summary.ProcessingTime = time.Since(start)
	return summary, nil
}

// GetBatchStatus classifies overall progress across the given batch jobs:
// completed when every job is terminal with no failures, failed-partial
// when terminal with at least one failure, in-progress otherwise.
func (p *Processor) GetBatchStatus(ctx context.Context, jobIDs []string) (domain.BatchJobStatus, error) {
	if len(jobIDs) == 0 {
		return domain.BatchCompleted, nil
	}
	jobs, err := p.jobs.JobsByIDs(ctx, jobIDs)
	if err != nil {
		return "", fmt.Errorf("batch status: %w", err)
	}
	return ClassifyJobs(jobs), nil
}

// ClassifyJobs classifies overall progress across a set of delivery jobs.
// Jobs removed by cleanup count as terminal successes.
func ClassifyJobs(jobs []domain.Job) domain.BatchJobStatus {
	failed := 0
	for _, j := range jobs {
		switch j.State {
		case domain.JobWaiting, domain.JobActive:
			return domain.BatchInProgress
		case domain.JobFailed:
			failed++
		}
	}
	if failed > 0 {
		return domain.BatchFailedPartial
	}
	return domain.BatchCompleted
}
