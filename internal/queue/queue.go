// Package queue implements the durable job queue backing all asynchronous
// work in the delivery engine. Jobs live in Postgres so they survive
// restarts; workers claim them with FOR UPDATE SKIP LOCKED. Per-queue pause
// flags live in Redis so every worker instance sees them immediately.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/pulsepost/delivery-engine/internal/domain"
)

// Names of all known queues, one per job kind.
var Queues = []domain.JobKind{domain.JobEmail, domain.JobAnalytics, domain.JobAI}

// Options controls how a job is enqueued.
type Options struct {
	// Priority orders claiming; higher runs first. Zero means default (5).
	Priority int
	// Delay postpones the job's earliest run time.
	Delay time.Duration
	// RemoveOnComplete deletes the job row on success instead of marking
	// it completed.
	RemoveOnComplete bool
	// RemoveOnFail deletes the job row on failure. Leave false to retain
	// failed jobs for inspection and manual retry.
	RemoveOnFail bool
	// CampaignID associates the job with a campaign for progress queries.
	CampaignID string
}

// Stats is a point-in-time summary of one queue.
type Stats struct {
	Waiting   int  `json:"waiting"`
	Active    int  `json:"active"`
	Completed int  `json:"completed"`
	Failed    int  `json:"failed"`
	Paused    bool `json:"paused"`
}

// Queue is the durable job queue. Safe for concurrent use.
type Queue struct {
	db    *sql.DB
	redis *redis.Client
}

// New creates a queue over the given database and Redis client.
func New(db *sql.DB, redisClient *redis.Client) *Queue {
	return &Queue{db: db, redis: redisClient}
}

// Enqueue persists a new job. Unlike cache operations, a failed enqueue is
// always surfaced: callers must know when work could not be made durable.
func (q *Queue) Enqueue(ctx context.Context, kind domain.JobKind, payload any, opts Options) (*domain.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}

	priority := opts.Priority
	if priority == 0 {
		priority = 5
	}
	runAt := time.Now().Add(opts.Delay)

	job := &domain.Job{
		ID:       uuid.New().String(),
		Kind:     kind,
		Payload:  data,
		Priority: priority,
		RunAt:    runAt,
		State:    domain.JobWaiting,
	}
	var campaignID *string
	if opts.CampaignID != "" {
		campaignID = &opts.CampaignID
		job.CampaignID = campaignID
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO jobs (id, kind, campaign_id, payload, priority, run_at, state,
		                  remove_on_complete, remove_on_fail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'waiting', $7, $8, NOW())
	`, job.ID, job.Kind, campaignID, data, priority, runAt, opts.RemoveOnComplete, opts.RemoveOnFail)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s job: %w", kind, err)
	}
	return job, nil
}

// ScheduleBatchEmailSending partitions recipients into ceil(n/batchSize)
// contiguous, order-preserving chunks and enqueues one email job per chunk.
// Returns every enqueued job handle.
func (q *Queue) ScheduleBatchEmailSending(ctx context.Context, campaignID, tenantID string, recipients []string, batchSize int) ([]*domain.Job, error) {
	chunks := SplitRecipients(recipients, batchSize)
	jobs := make([]*domain.Job, 0, len(chunks))
	for _, chunk := range chunks {
		job, err := q.Enqueue(ctx, domain.JobEmail, domain.EmailJobPayload{
			CampaignID: campaignID,
			TenantID:   tenantID,
			Recipients: chunk,
		}, Options{CampaignID: campaignID})
		if err != nil {
			return jobs, fmt.Errorf("schedule batch %d/%d: %w", len(jobs)+1, len(chunks), err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// SplitRecipients splits recipients into contiguous chunks of at most
// batchSize, preserving input order. A batchSize <= 0 yields one chunk.
func SplitRecipients(recipients []string, batchSize int) [][]string {
	if len(recipients) == 0 {
		return nil
	}
	if batchSize <= 0 {
		return [][]string{recipients}
	}
	chunks := make([][]string, 0, (len(recipients)+batchSize-1)/batchSize)
	for i := 0; i < len(recipients); i += batchSize {
		end := i + batchSize
		if end > len(recipients) {
			end = len(recipients)
		}
		chunks = append(chunks, recipients[i:end])
	}
	return chunks
}

// GetStats returns a snapshot of the given queue.
func (q *Queue) GetStats(ctx context.Context, kind domain.JobKind) (*Stats, error) {
	var s Stats
	err := q.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN state = 'waiting' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN state = 'active' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN state = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN state = 'failed' THEN 1 ELSE 0 END), 0)
		FROM jobs WHERE kind = $1
	`, kind).Scan(&s.Waiting, &s.Active, &s.Completed, &s.Failed)
	if err != nil {
		return nil, fmt.Errorf("queue stats %s: %w", kind, err)
	}
	s.Paused = q.isPaused(ctx, kind)
	return &s, nil
}

func pauseKey(kind domain.JobKind) string {
	return "queue:paused:" + string(kind)
}

// Pause stops workers from claiming new jobs from the queue. Jobs already
// claimed keep running.
func (q *Queue) Pause(ctx context.Context, kind domain.JobKind) error {
	return q.redis.Set(ctx, pauseKey(kind), "1", 0).Err()
}

// Resume clears the pause flag.
func (q *Queue) Resume(ctx context.Context, kind domain.JobKind) error {
	return q.redis.Del(ctx, pauseKey(kind)).Err()
}

// isPaused checks the Redis pause flag. Redis unavailability fails open:
// claiming continues so a cache outage can't halt delivery.
func (q *Queue) isPaused(ctx context.Context, kind domain.JobKind) bool {
	v, err := q.redis.Get(ctx, pauseKey(kind)).Result()
	if err != nil {
		return false
	}
	return v == "1"
}

// Clean removes terminal jobs that finished more than grace ago.
// Returns the number of rows removed.
func (q *Queue) Clean(ctx context.Context, grace time.Duration) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE state IN ('completed', 'failed')
		  AND finished_at IS NOT NULL
		  AND finished_at < NOW() - $1::interval
	`, fmt.Sprintf("%d milliseconds", grace.Milliseconds()))
	if err != nil {
		return 0, fmt.Errorf("clean queue: %w", err)
	}
	return res.RowsAffected()
}

// GetFailedJobs returns the most recently failed jobs, up to limit.
func (q *Queue) GetFailedJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, kind, campaign_id, payload, priority, run_at, attempts, state,
		       COALESCE(last_error, ''), created_at, finished_at
		FROM jobs
		WHERE state = 'failed'
		ORDER BY finished_at DESC NULLS LAST
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		var j domain.Job
		if err := rows.Scan(&j.ID, &j.Kind, &j.CampaignID, &j.Payload, &j.Priority,
			&j.RunAt, &j.Attempts, &j.State, &j.LastError, &j.CreatedAt, &j.FinishedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// RetryJob moves a failed job back to waiting so the pool picks it up again.
func (q *Queue) RetryJob(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs
		SET state = 'waiting', run_at = NOW(), last_error = NULL, finished_at = NULL
		WHERE id = $1 AND state = 'failed'
	`, id)
	if err != nil {
		return fmt.Errorf("retry job %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("job %s is not in failed state", id)
	}
	return nil
}

// CancelWaitingByCampaign deletes all still-waiting jobs for a campaign.
// Active jobs are left alone: an in-flight batch call is never interrupted.
func (q *Queue) CancelWaitingByCampaign(ctx context.Context, campaignID string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM jobs WHERE campaign_id = $1 AND state = 'waiting'
	`, campaignID)
	if err != nil {
		return 0, fmt.Errorf("cancel waiting jobs for campaign %s: %w", campaignID, err)
	}
	return res.RowsAffected()
}

// JobsByIDs returns the jobs with the given ids. Jobs already removed by
// the cleanup policy are simply absent from the result.
func (q *Queue) JobsByIDs(ctx context.Context, ids []string) ([]domain.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, kind, campaign_id, payload, priority, run_at, attempts, state,
		       COALESCE(last_error, ''), created_at, finished_at
		FROM jobs
		WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("jobs by ids: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		var j domain.Job
		if err := rows.Scan(&j.ID, &j.Kind, &j.CampaignID, &j.Payload, &j.Priority,
			&j.RunAt, &j.Attempts, &j.State, &j.LastError, &j.CreatedAt, &j.FinishedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// JobsByCampaign returns all jobs associated with a campaign.
func (q *Queue) JobsByCampaign(ctx context.Context, campaignID string) ([]domain.Job, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, kind, campaign_id, payload, priority, run_at, attempts, state,
		       COALESCE(last_error, ''), created_at, finished_at
		FROM jobs
		WHERE campaign_id = $1
		ORDER BY created_at ASC
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("jobs by campaign: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		var j domain.Job
		if err := rows.Scan(&j.ID, &j.Kind, &j.CampaignID, &j.Payload, &j.Priority,
			&j.RunAt, &j.Attempts, &j.State, &j.LastError, &j.CreatedAt, &j.FinishedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// HealthCheck verifies database and Redis connectivity plus per-queue
// reachability, collapsed into a single boolean.
func (q *Queue) HealthCheck(ctx context.Context) bool {
	if err := q.db.PingContext(ctx); err != nil {
		return false
	}
	if err := q.redis.Ping(ctx).Err(); err != nil {
		return false
	}
	for _, kind := range Queues {
		if _, err := q.GetStats(ctx, kind); err != nil {
			return false
		}
	}
	return true
}
