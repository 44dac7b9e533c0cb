package queue

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsepost/delivery-engine/internal/domain"
)

func setupQueue(t *testing.T) (*Queue, sqlmock.Sqlmock, *miniredis.Miniredis) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return New(db, client), mock, mr
}

func TestSplitRecipients(t *testing.T) {
	recipients := make([]string, 250)
	for i := range recipients {
		recipients[i] = string(rune('a'+i%26)) + "@example.com"
	}

	chunks := SplitRecipients(recipients, 100)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 100)
	assert.Len(t, chunks[1], 100)
	assert.Len(t, chunks[2], 50)

	// Order preserved across the chunk boundary.
	assert.Equal(t, recipients[99], chunks[0][99])
	assert.Equal(t, recipients[100], chunks[1][0])
	assert.Equal(t, recipients[249], chunks[2][49])
}

func TestSplitRecipients_Edges(t *testing.T) {
	assert.Nil(t, SplitRecipients(nil, 100))
	assert.Nil(t, SplitRecipients([]string{}, 100))

	one := SplitRecipients([]string{"a@x.com"}, 100)
	require.Len(t, one, 1)
	assert.Len(t, one[0], 1)

	exact := SplitRecipients(make([]string, 200), 100)
	assert.Len(t, exact, 2)

	nosize := SplitRecipients(make([]string, 7), 0)
	require.Len(t, nosize, 1)
	assert.Len(t, nosize[0], 7)
}

func TestEnqueue(t *testing.T) {
	q, mock, _ := setupQueue(t)

	mock.ExpectExec("INSERT INTO jobs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	job, err := q.Enqueue(context.Background(), domain.JobEmail, domain.EmailJobPayload{
		CampaignID: "c1",
		TenantID:   "t1",
		Recipients: []string{"a@x.com"},
	}, Options{CampaignID: "c1", Delay: time.Minute})
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, domain.JobEmail, job.Kind)
	assert.Equal(t, domain.JobWaiting, job.State)
	assert.Equal(t, 5, job.Priority)
	require.NotNil(t, job.CampaignID)
	assert.Equal(t, "c1", *job.CampaignID)
	assert.WithinDuration(t, time.Now().Add(time.Minute), job.RunAt, 2*time.Second)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueue_FailurePropagates(t *testing.T) {
	q, mock, _ := setupQueue(t)

	mock.ExpectExec("INSERT INTO jobs").
		WillReturnError(assert.AnError)

	_, err := q.Enqueue(context.Background(), domain.JobAnalytics, domain.AnalyticsJobPayload{}, Options{})
	require.Error(t, err)
}

func TestScheduleBatchEmailSending(t *testing.T) {
	q, mock, _ := setupQueue(t)

	recipients := make([]string, 250)
	for i := range recipients {
		recipients[i] = "r@example.com"
	}

	for i := 0; i < 3; i++ {
		mock.ExpectExec("INSERT INTO jobs").
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	jobs, err := q.ScheduleBatchEmailSending(context.Background(), "c1", "t1", recipients, 100)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	for _, j := range jobs {
		require.NotNil(t, j.CampaignID)
		assert.Equal(t, "c1", *j.CampaignID)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStats(t *testing.T) {
	q, mock, _ := setupQueue(t)

	mock.ExpectQuery("SELECT").
		WithArgs(domain.JobEmail).
		WillReturnRows(sqlmock.NewRows([]string{"waiting", "active", "completed", "failed"}).
			AddRow(3, 1, 10, 2))

	stats, err := q.GetStats(context.Background(), domain.JobEmail)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Waiting)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 10, stats.Completed)
	assert.Equal(t, 2, stats.Failed)
	assert.False(t, stats.Paused)
}

func TestPauseResume(t *testing.T) {
	q, _, mr := setupQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Pause(ctx, domain.JobEmail))
	assert.True(t, q.isPaused(ctx, domain.JobEmail))
	assert.True(t, mr.Exists("queue:paused:email"))

	require.NoError(t, q.Resume(ctx, domain.JobEmail))
	assert.False(t, q.isPaused(ctx, domain.JobEmail))
}

func TestIsPaused_FailsOpen(t *testing.T) {
	q, _, mr := setupQueue(t)
	mr.Close()
	assert.False(t, q.isPaused(context.Background(), domain.JobEmail))
}

func TestClean(t *testing.T) {
	q, mock, _ := setupQueue(t)

	mock.ExpectExec("DELETE FROM jobs").
		WillReturnResult(sqlmock.NewResult(0, 7))

	removed, err := q.Clean(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(7), removed)
}

func TestCancelWaitingByCampaign(t *testing.T) {
	q, mock, _ := setupQueue(t)

	mock.ExpectExec("DELETE FROM jobs").
		WithArgs("c1").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := q.CancelWaitingByCampaign(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
