package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pulsepost/delivery-engine/internal/domain"
	"github.com/pulsepost/delivery-engine/internal/pkg/logger"
	"github.com/pulsepost/delivery-engine/internal/queue"
)

// ActionResult is the envelope every campaign action returns. Validation,
// not-found, and state-conflict failures carry a human-readable Message;
// unexpected failures carry a generic Error and are logged with context.
type ActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Dispatcher is the slice of the job queue the campaign service uses.
// *queue.Queue satisfies it.
type Dispatcher interface {
	ScheduleBatchEmailSending(ctx context.Context, campaignID, tenantID string, recipients []string, batchSize int) ([]*domain.Job, error)
	Enqueue(ctx context.Context, kind domain.JobKind, payload any, opts queue.Options) (*domain.Job, error)
	CancelWaitingByCampaign(ctx context.Context, campaignID string) (int64, error)
}

// Locker provides cross-instance mutual exclusion. *cache.Cache satisfies it.
type Locker interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration, retries int, retryDelay time.Duration) (string, error)
	ReleaseLock(ctx context.Context, name string, token string) (bool, error)
}

// Config holds the tunable policy knobs for the campaign service.
type Config struct {
	// BatchSize bounds the recipient chunk size for delivery jobs.
	BatchSize int
	// RetryFailureRateThreshold is the minimum failure-rate percentage a
	// sent campaign must exceed to be retry-eligible.
	RetryFailureRateThreshold float64
}

// Service implements campaign business logic: lifecycle transitions,
// dispatch, and retry policy. Safe for concurrent use.
type Service struct {
	repo   Repository
	jobs   Dispatcher
	locks  Locker
	config Config
}

// NewService creates a campaign service.
func NewService(repo Repository, jobs Dispatcher, locks Locker, config Config) *Service {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	return &Service{repo: repo, jobs: jobs, locks: locks, config: config}
}

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	Name        string   `json:"name"`
	SubjectLine string   `json:"subject_line"`
	Recipients  []string `json:"recipients"`
}

// Create validates and persists a new campaign in draft status.
func (s *Service) Create(ctx context.Context, tenantID string, input CreateInput) ActionResult {
	if input.Name == "" {
		return fail("Campaign name is required")
	}
	if input.SubjectLine == "" {
		return fail("Subject line is required")
	}

	now := time.Now()
	c := &domain.Campaign{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		Name:        input.Name,
		SubjectLine: input.SubjectLine,
		Recipients:  input.Recipients,
		Status:      domain.CampaignDraft,
		Analytics:   domain.CampaignAnalytics{LastUpdated: now},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	id, err := s.repo.Create(ctx, c)
	if err != nil {
		return s.unexpected(tenantID, c.ID, "create", err)
	}
	c.ID = id
	return ok(c)
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, tenantID, id string) ActionResult {
	c, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return s.readFailure(tenantID, id, "get", err)
	}
	return ok(c)
}

// List returns campaigns matching the filter.
func (s *Service) List(ctx context.Context, tenantID string, f ListFilter) ActionResult {
	campaigns, total, err := s.repo.List(ctx, tenantID, f)
	if err != nil {
		return s.unexpected(tenantID, "", "list", err)
	}
	return ok(map[string]any{"campaigns": campaigns, "total": total})
}

// Stats returns the campaign's analytics snapshot.
func (s *Service) Stats(ctx context.Context, tenantID, id string) ActionResult {
	c, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return s.readFailure(tenantID, id, "stats", err)
	}
	return ok(c.Analytics)
}

// Update modifies mutable campaign fields. Sent campaigns are immutable.
func (s *Service) Update(ctx context.Context, tenantID, id string, u UpdateFields) ActionResult {
	c, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return s.readFailure(tenantID, id, "update", err)
	}
	if c.Status == domain.CampaignSent {
		return fail(MsgUpdateSent)
	}
	if err := s.repo.Update(ctx, tenantID, id, u); err != nil {
		return s.unexpected(tenantID, id, "update", err)
	}
	return okMsg("Campaign updated")
}

// Delete removes a campaign unless it is mid-send.
func (s *Service) Delete(ctx context.Context, tenantID, id string) ActionResult {
	c, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return s.readFailure(tenantID, id, "delete", err)
	}
	if c.Status == domain.CampaignSending {
		return fail(MsgDeleteSending)
	}
	if _, err := s.jobs.CancelWaitingByCampaign(ctx, id); err != nil {
		logger.Warn("failed to drop queued jobs on delete", "tenant_id", tenantID, "campaign_id", id, "error", err.Error())
	}
	if err := s.repo.Delete(ctx, tenantID, id); err != nil {
		return s.unexpected(tenantID, id, "delete", err)
	}
	return okMsg("Campaign deleted")
}

// SubmitForReview moves a draft into review.
func (s *Service) SubmitForReview(ctx context.Context, tenantID, id string) ActionResult {
	return s.transition(ctx, tenantID, id, "submit",
		[]domain.CampaignStatus{domain.CampaignDraft},
		StatusChange{To: domain.CampaignReview},
		"Campaign submitted for review")
}

// Schedule moves a reviewed campaign to scheduled and enqueues a delayed
// dispatch job that will start delivery when the time arrives. Returns the
// dispatch job identifier in Data.
func (s *Service) Schedule(ctx context.Context, tenantID, id string, at time.Time) ActionResult {
	if !at.After(time.Now()) {
		return fail(MsgScheduleInFuture)
	}

	c, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return s.readFailure(tenantID, id, "schedule", err)
	}
	if err := validateTransition(c.Status, domain.CampaignScheduled); err != nil {
		return fail(err.Error())
	}

	err = s.repo.Transition(ctx, tenantID, id,
		[]domain.CampaignStatus{domain.CampaignReview},
		StatusChange{To: domain.CampaignScheduled, SetScheduledAt: &at})
	if err != nil {
		return s.transitionFailure(tenantID, id, "schedule", err)
	}

	job, err := s.jobs.Enqueue(ctx, domain.JobEmail, domain.EmailJobPayload{
		CampaignID: id,
		TenantID:   tenantID,
		Recipients: c.Recipients,
	}, queue.Options{Delay: time.Until(at), CampaignID: id})
	if err != nil {
		// The durable enqueue is the one infra failure that must surface:
		// without the job the campaign would never send. Roll the status
		// back so the caller can retry the whole action.
		if rbErr := s.repo.Transition(ctx, tenantID, id,
			[]domain.CampaignStatus{domain.CampaignScheduled},
			StatusChange{To: domain.CampaignReview, ClearScheduledAt: true}); rbErr != nil {
			logger.Error("schedule rollback failed", "tenant_id", tenantID, "campaign_id", id, "error", rbErr.Error())
		}
		return s.unexpected(tenantID, id, "schedule", err)
	}

	return ok(map[string]any{"job_id": job.ID, "scheduled_at": at})
}

// Unschedule returns a scheduled campaign to draft and drops its queued
// dispatch job.
func (s *Service) Unschedule(ctx context.Context, tenantID, id string) ActionResult {
	res := s.transition(ctx, tenantID, id, "unschedule",
		[]domain.CampaignStatus{domain.CampaignScheduled},
		StatusChange{To: domain.CampaignDraft, ClearScheduledAt: true},
		"Campaign unscheduled")
	if res.Success {
		if _, err := s.jobs.CancelWaitingByCampaign(ctx, id); err != nil {
			logger.Warn("failed to drop dispatch job on unschedule", "tenant_id", tenantID, "campaign_id", id, "error", err.Error())
		}
	}
	return res
}

// SendNow starts delivery immediately for a reviewed or scheduled campaign.
func (s *Service) SendNow(ctx context.Context, tenantID, id string) ActionResult {
	c, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return s.readFailure(tenantID, id, "send", err)
	}
	if err := validateTransition(c.Status, domain.CampaignSending); err != nil {
		return fail(err.Error())
	}
	if len(c.Recipients) == 0 {
		return fail("Campaign has no recipients")
	}

	jobs, result := s.startDispatch(ctx, c,
		[]domain.CampaignStatus{domain.CampaignReview, domain.CampaignScheduled}, c.Recipients)
	if result != nil {
		return *result
	}
	return ok(map[string]any{"job_ids": jobIDs(jobs), "batches": len(jobs)})
}

// Pause suspends a sending campaign. Queued batch jobs stay queued but
// workers stop dispatching them; in-flight transport calls finish.
func (s *Service) Pause(ctx context.Context, tenantID, id string) ActionResult {
	return s.transition(ctx, tenantID, id, "pause",
		[]domain.CampaignStatus{domain.CampaignSending},
		StatusChange{To: domain.CampaignPaused},
		"Campaign paused")
}

// Resume puts a paused campaign back into sending; queued batch jobs become
// dispatchable again.
func (s *Service) Resume(ctx context.Context, tenantID, id string) ActionResult {
	return s.transition(ctx, tenantID, id, "resume",
		[]domain.CampaignStatus{domain.CampaignPaused},
		StatusChange{To: domain.CampaignSending},
		"Campaign resumed")
}

// Cancel stops a campaign. Waiting jobs are dropped; batches already handed
// to the transport are not undone.
func (s *Service) Cancel(ctx context.Context, tenantID, id string) ActionResult {
	res := s.transition(ctx, tenantID, id, "cancel",
		[]domain.CampaignStatus{domain.CampaignSending, domain.CampaignScheduled, domain.CampaignPaused},
		StatusChange{To: domain.CampaignCancelled, ClearScheduledAt: true},
		"Campaign cancelled")
	if res.Success {
		if n, err := s.jobs.CancelWaitingByCampaign(ctx, id); err != nil {
			logger.Warn("failed to drop queued jobs on cancel", "tenant_id", tenantID, "campaign_id", id, "error", err.Error())
		} else if n > 0 {
			logger.Info("dropped queued jobs on cancel", "tenant_id", tenantID, "campaign_id", id, "jobs", fmt.Sprintf("%d", n))
		}
	}
	return res
}

// RetryEligibility describes whether a sent campaign qualifies for retry.
type RetryEligibility struct {
	Eligible    bool    `json:"eligible"`
	FailureRate float64 `json:"failure_rate"`
	Threshold   float64 `json:"threshold"`
	Reason      string  `json:"reason,omitempty"`
}

// CheckRetryEligibility reports whether the campaign's failure rate exceeds
// the configured threshold. Only meaningful for sent campaigns.
func (s *Service) CheckRetryEligibility(ctx context.Context, tenantID, id string) ActionResult {
	c, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return s.readFailure(tenantID, id, "retry-eligibility", err)
	}
	return ok(s.eligibility(c))
}

func (s *Service) eligibility(c *domain.Campaign) RetryEligibility {
	e := RetryEligibility{
		FailureRate: c.Analytics.FailureRate(),
		Threshold:   s.config.RetryFailureRateThreshold,
	}
	if c.Status != domain.CampaignSent {
		e.Reason = "Only sent campaigns can be retried"
		return e
	}
	if e.FailureRate <= e.Threshold {
		e.Reason = fmt.Sprintf("Failure rate %.1f%% does not exceed threshold %.1f%%", e.FailureRate, e.Threshold)
		return e
	}
	e.Eligible = true
	return e
}

// Retry reopens an eligible sent campaign and re-enqueues only recipients
// without a confirmed delivery, so prior successes are never double-sent.
func (s *Service) Retry(ctx context.Context, tenantID, id string) ActionResult {
	c, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return s.readFailure(tenantID, id, "retry", err)
	}

	e := s.eligibility(c)
	if !e.Eligible {
		return ActionResult{Success: false, Message: e.Reason, Data: e}
	}

	delivered, err := s.repo.DeliveredRecipients(ctx, id)
	if err != nil {
		return s.unexpected(tenantID, id, "retry", err)
	}
	remaining := subtractRecipients(c.Recipients, delivered)
	if len(remaining) == 0 {
		return fail("All recipients have already been delivered")
	}

	jobs, result := s.startDispatch(ctx, c, []domain.CampaignStatus{domain.CampaignSent}, remaining)
	if result != nil {
		return *result
	}
	logger.Info("campaign retry dispatched", "tenant_id", tenantID, "campaign_id", id,
		"recipients", fmt.Sprintf("%d", len(remaining)), "batches", fmt.Sprintf("%d", len(jobs)))
	return ok(map[string]any{
		"job_ids":    jobIDs(jobs),
		"batches":    len(jobs),
		"recipients": len(remaining),
	})
}

// startDispatch serializes dispatch start for one campaign across process
// instances, applies the guarded transition to sending, and fans out one
// batch job per recipient chunk. Returns (jobs, nil) on success or
// (nil, result) with the caller-facing failure.
func (s *Service) startDispatch(ctx context.Context, c *domain.Campaign, from []domain.CampaignStatus, recipients []string) ([]*domain.Job, *ActionResult) {
	lockName := "campaign:dispatch:" + c.ID
	token, err := s.locks.AcquireLock(ctx, lockName, 10*time.Minute, 3, 200*time.Millisecond)
	if err != nil {
		r := s.unexpected(c.TenantID, c.ID, "dispatch", err)
		return nil, &r
	}
	if token == "" {
		r := fail("Campaign dispatch is already in progress")
		return nil, &r
	}
	defer func() {
		if _, err := s.locks.ReleaseLock(context.WithoutCancel(ctx), lockName, token); err != nil {
			logger.Warn("dispatch lock release failed", "campaign_id", c.ID, "error", err.Error())
		}
	}()

	err = s.repo.Transition(ctx, c.TenantID, c.ID, from, StatusChange{To: domain.CampaignSending})
	if err != nil {
		r := s.transitionFailure(c.TenantID, c.ID, "dispatch", err)
		return nil, &r
	}

	jobs, err := s.jobs.ScheduleBatchEmailSending(ctx, c.ID, c.TenantID, recipients, s.config.BatchSize)
	if err != nil {
		// Partial fan-out is recoverable by the completion checker, but a
		// total failure means nothing will send. Surface it.
		if len(jobs) == 0 {
			r := s.unexpected(c.TenantID, c.ID, "dispatch", err)
			return nil, &r
		}
		logger.Warn("partial batch fan-out", "campaign_id", c.ID,
			"enqueued", fmt.Sprintf("%d", len(jobs)), "error", err.Error())
	}
	return jobs, nil
}

// CompleteSending flips a sending campaign to sent, stamping sentAt.
// Called by the completion checker once every batch job is terminal.
// An empty tenantID skips the tenant filter (worker path).
func (s *Service) CompleteSending(ctx context.Context, tenantID, id string) error {
	return s.repo.Transition(ctx, tenantID, id,
		[]domain.CampaignStatus{domain.CampaignSending},
		StatusChange{To: domain.CampaignSent, SetSentAt: true})
}

// transition runs one guarded repository transition and maps the outcome
// to an ActionResult.
func (s *Service) transition(ctx context.Context, tenantID, id, op string, from []domain.CampaignStatus, change StatusChange, successMsg string) ActionResult {
	c, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return s.readFailure(tenantID, id, op, err)
	}
	if err := validateTransition(c.Status, change.To); err != nil {
		return fail(err.Error())
	}
	if err := s.repo.Transition(ctx, tenantID, id, from, change); err != nil {
		return s.transitionFailure(tenantID, id, op, err)
	}
	return okMsg(successMsg)
}

func (s *Service) readFailure(tenantID, id, op string, err error) ActionResult {
	if errors.Is(err, ErrNotFound) {
		return fail("Campaign not found")
	}
	return s.unexpected(tenantID, id, op, err)
}

func (s *Service) transitionFailure(tenantID, id, op string, err error) ActionResult {
	switch {
	case errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidTransition):
		return fail("Campaign status changed concurrently, please retry")
	case errors.Is(err, ErrNotFound):
		return fail("Campaign not found")
	default:
		return s.unexpected(tenantID, id, op, err)
	}
}

func (s *Service) unexpected(tenantID, id, op string, err error) ActionResult {
	logger.Error("campaign action failed", "tenant_id", tenantID, "campaign_id", id,
		"operation", op, "error", err.Error())
	return ActionResult{Success: false, Error: "An unexpected error occurred"}
}

func ok(data any) ActionResult      { return ActionResult{Success: true, Data: data} }
func okMsg(msg string) ActionResult { return ActionResult{Success: true, Message: msg} }
func fail(msg string) ActionResult  { return ActionResult{Success: false, Message: msg} }

// subtractRecipients returns all of recipients not present in exclude,
// preserving input order.
func subtractRecipients(recipients, exclude []string) []string {
	if len(exclude) == 0 {
		return recipients
	}
	skip := make(map[string]struct{}, len(exclude))
	for _, e := range exclude {
		skip[e] = struct{}{}
	}
	var out []string
	for _, r := range recipients {
		if _, excluded := skip[r]; !excluded {
			out = append(out, r)
		}
	}
	return out
}

func jobIDs(jobs []*domain.Job) []string {
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	return ids
}
