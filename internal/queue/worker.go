package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lib/pq"

	"github.com/pulsepost/delivery-engine/internal/domain"
)

// ErrDefer signals that a job cannot run right now (for example its
// campaign is paused) and should be returned to the queue instead of being
// marked failed.
var ErrDefer = errors.New("job deferred")

// DeferDelay is how long a deferred job waits before becoming claimable.
const DeferDelay = 30 * time.Second

// Handler runs one claimed job. Returning an error marks the job failed;
// failed jobs are retained for inspection unless enqueued with RemoveOnFail.
// Returning ErrDefer re-queues the job after DeferDelay.
type Handler func(ctx context.Context, job *domain.Job) error

// PoolConfig controls the worker pool.
type PoolConfig struct {
	NumWorkers   int
	PollInterval time.Duration
}

// DefaultPoolConfig returns sane defaults for a single instance.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{NumWorkers: 4, PollInterval: 2 * time.Second}
}

// claimedJob pairs a job with the removal flags read at claim time.
type claimedJob struct {
	job              *domain.Job
	removeOnComplete bool
	removeOnFail     bool
}

// Pool is a pool of workers pulling jobs from the durable queue. Producers
// enqueue and return immediately; the pool dispatches asynchronously.
type Pool struct {
	queue  *Queue
	config PoolConfig

	handlersMu sync.RWMutex
	handlers   map[domain.JobKind]Handler

	// Stats
	processed int64
	failed    int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewPool creates a worker pool over the given queue.
func NewPool(q *Queue, config PoolConfig) *Pool {
	if config.NumWorkers <= 0 {
		config.NumWorkers = DefaultPoolConfig().NumWorkers
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPoolConfig().PollInterval
	}
	return &Pool{
		queue:    q,
		config:   config,
		handlers: make(map[domain.JobKind]Handler),
	}
}

// Register binds a handler to a job kind. Jobs of a kind with no handler
// stay waiting, so every kind the engine enqueues must be registered.
func (p *Pool) Register(kind domain.JobKind, h Handler) {
	p.handlersMu.Lock()
	p.handlers[kind] = h
	p.handlersMu.Unlock()
}

// Start launches the worker goroutines.
func (p *Pool) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("pool already running")
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	log.Printf("[Pool] Starting %d workers (poll interval %v)", p.config.NumWorkers, p.config.PollInterval)
	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.workerLoop(i)
	}
	return nil
}

// Stop gracefully stops the pool, waiting for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	log.Printf("[Pool] Stopping...")
	p.cancel()
	p.wg.Wait()
	log.Printf("[Pool] Stopped. Processed: %d, Failed: %d",
		atomic.LoadInt64(&p.processed), atomic.LoadInt64(&p.failed))
}

// Running reports whether the pool has been started and not yet stopped.
func (p *Pool) Running() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Stats returns processed/failed counters for monitoring.
func (p *Pool) Stats() map[string]int64 {
	return map[string]int64{
		"processed": atomic.LoadInt64(&p.processed),
		"failed":    atomic.LoadInt64(&p.failed),
	}
}

func (p *Pool) workerLoop(id int) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			// Drain ready jobs before sleeping again.
			for p.claimAndRun(id) {
				if p.ctx.Err() != nil {
					return
				}
			}
		}
	}
}

// claimAndRun claims one job and executes it. Returns true if a job ran.
func (p *Pool) claimAndRun(workerID int) bool {
	kinds := p.activeKinds()
	if len(kinds) == 0 {
		return false
	}

	ctx, cancel := context.WithTimeout(p.ctx, 10*time.Minute)
	defer cancel()

	claimed, err := p.claim(ctx, kinds)
	if err != nil {
		log.Printf("[Pool] Worker %d claim error: %v", workerID, err)
		return false
	}
	if claimed == nil {
		return false
	}
	job := claimed.job

	p.handlersMu.RLock()
	handler := p.handlers[job.Kind]
	p.handlersMu.RUnlock()

	if err := p.runHandler(ctx, handler, job); err != nil {
		if errors.Is(err, ErrDefer) {
			p.deferJob(job)
			return true
		}
		atomic.AddInt64(&p.failed, 1)
		log.Printf("[Pool] Job %s (%s) failed: %v", job.ID, job.Kind, err)
		p.finish(claimed, domain.JobFailed, err.Error())
		return true
	}

	atomic.AddInt64(&p.processed, 1)
	p.finish(claimed, domain.JobCompleted, "")
	return true
}

// runHandler executes the handler, converting panics into job failures so
// a bad payload can never take down the pool.
func (p *Pool) runHandler(ctx context.Context, handler Handler, job *domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}

// activeKinds returns registered kinds whose queues are not paused.
func (p *Pool) activeKinds() []string {
	p.handlersMu.RLock()
	defer p.handlersMu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	kinds := make([]string, 0, len(p.handlers))
	for kind := range p.handlers {
		if !p.queue.isPaused(ctx, kind) {
			kinds = append(kinds, string(kind))
		}
	}
	return kinds
}

// claim atomically moves the highest-priority ready job to active.
// SKIP LOCKED keeps concurrent workers from claiming the same row.
func (p *Pool) claim(ctx context.Context, kinds []string) (*claimedJob, error) {
	row := p.queue.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET state = 'active', attempts = attempts + 1
		WHERE id = (
			SELECT id FROM jobs
			WHERE state = 'waiting'
			  AND run_at <= NOW()
			  AND kind = ANY($1)
			ORDER BY priority DESC, run_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, kind, campaign_id, payload, priority, run_at, attempts, state,
		          COALESCE(last_error, ''), created_at, finished_at,
		          remove_on_complete, remove_on_fail
	`, pq.Array(kinds))

	var c claimedJob
	var j domain.Job
	err := row.Scan(&j.ID, &j.Kind, &j.CampaignID, &j.Payload, &j.Priority,
		&j.RunAt, &j.Attempts, &j.State, &j.LastError, &j.CreatedAt, &j.FinishedAt,
		&c.removeOnComplete, &c.removeOnFail)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.job = &j
	return &c, nil
}

// deferJob puts a claimed job back in the waiting state with a short delay.
func (p *Pool) deferJob(job *domain.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := p.queue.db.ExecContext(ctx, `
		UPDATE jobs SET state = 'waiting', run_at = NOW() + $2::interval WHERE id = $1
	`, job.ID, fmt.Sprintf("%d seconds", int(DeferDelay.Seconds()))); err != nil {
		log.Printf("[Pool] Failed to defer job %s: %v", job.ID, err)
	}
}

// finish records the terminal state of a job, honoring its removal flags.
func (p *Pool) finish(claimed *claimedJob, state domain.JobState, lastError string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	job := claimed.job
	remove := (state == domain.JobCompleted && claimed.removeOnComplete) ||
		(state == domain.JobFailed && claimed.removeOnFail)
	if remove {
		if _, err := p.queue.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, job.ID); err != nil {
			log.Printf("[Pool] Failed to remove job %s: %v", job.ID, err)
		}
		return
	}

	var errVal any
	if lastError != "" {
		errVal = lastError
	}
	if _, err := p.queue.db.ExecContext(ctx, `
		UPDATE jobs SET state = $2, last_error = $3, finished_at = NOW() WHERE id = $1
	`, job.ID, state, errVal); err != nil {
		log.Printf("[Pool] Failed to finish job %s: %v", job.ID, err)
	}
}
