package worker

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulsepost/delivery-engine/internal/cache"
	"github.com/pulsepost/delivery-engine/internal/service/analytics"
)

// rollupLockTTL bounds how long one instance holds the nightly rollup lock.
const rollupLockTTL = 30 * time.Minute

// NightlyRollup runs the daily-aggregate rollup once per UTC day at the
// configured hour. A day-keyed distributed lock keeps concurrent instances
// from running the same day at once; the upsert itself is idempotent so a
// second run after lock expiry only rewrites identical rows.
type NightlyRollup struct {
	aggregator *analytics.Aggregator
	cache      *cache.Cache
	hourUTC    int

	lastRunDay string

	// Stats
	runs   int64
	errors int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewNightlyRollup creates the rollup loop. hourUTC is the UTC hour of day
// the rollup should run at.
func NewNightlyRollup(aggregator *analytics.Aggregator, c *cache.Cache, hourUTC int) *NightlyRollup {
	if hourUTC < 0 || hourUTC > 23 {
		hourUTC = 2
	}
	return &NightlyRollup{aggregator: aggregator, cache: c, hourUTC: hourUTC}
}

// Start begins the rollup loop.
func (nr *NightlyRollup) Start() {
	nr.mu.Lock()
	if nr.running {
		nr.mu.Unlock()
		return
	}
	nr.running = true
	nr.ctx, nr.cancel = context.WithCancel(context.Background())
	nr.mu.Unlock()

	log.Printf("[NightlyRollup] Starting, runs daily at %02d:00 UTC", nr.hourUTC)
	nr.wg.Add(1)
	go nr.loop()
}

// Stop shuts the loop down, waiting for an in-flight rollup.
func (nr *NightlyRollup) Stop() {
	nr.mu.Lock()
	if !nr.running {
		nr.mu.Unlock()
		return
	}
	nr.running = false
	nr.mu.Unlock()

	nr.cancel()
	nr.wg.Wait()
	log.Printf("[NightlyRollup] Stopped. Runs: %d, Errors: %d",
		atomic.LoadInt64(&nr.runs), atomic.LoadInt64(&nr.errors))
}

func (nr *NightlyRollup) loop() {
	defer nr.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-nr.ctx.Done():
			return
		case now := <-ticker.C:
			nr.maybeRun(now.UTC())
		}
	}
}

// maybeRun triggers the rollup when the configured hour arrives and this
// process has not already run it today.
func (nr *NightlyRollup) maybeRun(now time.Time) {
	day := now.Format("2006-01-02")
	if now.Hour() != nr.hourUTC || nr.lastRunDay == day {
		return
	}
	// Stamp only after a successful run so a failed rollup is retried on
	// the next tick instead of waiting a whole day.
	if nr.run(day) {
		nr.lastRunDay = day
	}
}

// run performs one rollup attempt. It reports whether the day is done from
// this instance's point of view, which includes losing the lock race to
// another instance.
func (nr *NightlyRollup) run(day string) bool {
	ctx, cancel := context.WithTimeout(nr.ctx, rollupLockTTL)
	defer cancel()

	lockName := "rollup:daily:" + day
	token, err := nr.cache.AcquireLock(ctx, lockName, rollupLockTTL, 0, 0)
	if err != nil {
		atomic.AddInt64(&nr.errors, 1)
		log.Printf("[NightlyRollup] Lock acquisition failed: %v", err)
		return false
	}
	if token == "" {
		log.Printf("[NightlyRollup] Another instance is running the %s rollup", day)
		return true
	}
	defer nr.cache.ReleaseLock(context.WithoutCancel(ctx), lockName, token)

	start := time.Now()
	groups, err := nr.aggregator.AggregateNightlyMetrics(ctx)
	if err != nil {
		atomic.AddInt64(&nr.errors, 1)
		log.Printf("[NightlyRollup] Rollup for %s failed: %v", day, err)
		return false
	}
	atomic.AddInt64(&nr.runs, 1)
	log.Printf("[NightlyRollup] Rolled up %d (tenant, campaign) groups in %v", groups, time.Since(start))
	return true
}
