package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsepost/delivery-engine/internal/cache"
	"github.com/pulsepost/delivery-engine/internal/domain"
	"github.com/pulsepost/delivery-engine/internal/service/analytics"
)

// rollupRepo fails UpsertDailyAggregates the configured number of times,
// then succeeds.
type rollupRepo struct {
	failures int
	calls    int
}

func (r *rollupRepo) UpsertDailyAggregates(ctx context.Context, day time.Time) (int, error) {
	r.calls++
	if r.calls <= r.failures {
		return 0, errors.New("aggregate store unavailable")
	}
	return 3, nil
}

func (r *rollupRepo) InsertEventsWithCounters(ctx context.Context, events []domain.EmailEvent, deltas map[string]analytics.CounterDelta) error {
	return nil
}

func (r *rollupRepo) IncrementTotalSent(ctx context.Context, campaignID string, n int) error {
	return nil
}

func newTestRollup(t *testing.T, repo *rollupRepo) (*NightlyRollup, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	c := cache.New(client)

	nr := NewNightlyRollup(analytics.NewAggregator(repo, noopInvalidator{}), c, 2)
	nr.ctx, nr.cancel = context.WithCancel(context.Background())
	t.Cleanup(nr.cancel)
	return nr, mr
}

func TestNightlyRollup_RunsOncePerDay(t *testing.T) {
	repo := &rollupRepo{}
	nr, _ := newTestRollup(t, repo)
	at := time.Date(2026, 8, 29, 2, 0, 0, 0, time.UTC)

	nr.maybeRun(at)
	nr.maybeRun(at.Add(time.Minute))
	assert.Equal(t, 1, repo.calls)

	// Next day rolls up again.
	nr.maybeRun(at.Add(24 * time.Hour))
	assert.Equal(t, 2, repo.calls)
}

func TestNightlyRollup_SkipsOutsideHour(t *testing.T) {
	repo := &rollupRepo{}
	nr, _ := newTestRollup(t, repo)

	nr.maybeRun(time.Date(2026, 8, 29, 3, 0, 0, 0, time.UTC))
	assert.Equal(t, 0, repo.calls)
}

func TestNightlyRollup_FailedRunRetriesSameDay(t *testing.T) {
	repo := &rollupRepo{failures: 1}
	nr, _ := newTestRollup(t, repo)
	at := time.Date(2026, 8, 29, 2, 0, 0, 0, time.UTC)

	// First tick fails against the store and must not count the day done.
	nr.maybeRun(at)
	assert.Equal(t, 1, repo.calls)
	assert.Empty(t, nr.lastRunDay)

	// Next tick within the hour retries and succeeds.
	nr.maybeRun(at.Add(time.Minute))
	assert.Equal(t, 2, repo.calls)
	assert.Equal(t, "2026-08-29", nr.lastRunDay)

	nr.maybeRun(at.Add(2 * time.Minute))
	assert.Equal(t, 2, repo.calls)
}

func TestNightlyRollup_LockHeldCountsAsDone(t *testing.T) {
	repo := &rollupRepo{}
	nr, mr := newTestRollup(t, repo)
	at := time.Date(2026, 8, 29, 2, 0, 0, 0, time.UTC)

	// Another instance holds today's lock.
	require.NoError(t, mr.Set("lock:rollup:daily:2026-08-29", "other-token"))

	nr.maybeRun(at)
	assert.Equal(t, 0, repo.calls)
	assert.Equal(t, "2026-08-29", nr.lastRunDay)
}
