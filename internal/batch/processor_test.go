package batch

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsepost/delivery-engine/internal/domain"
	"github.com/pulsepost/delivery-engine/internal/transport"
)

type fakeSender struct {
	mu     sync.Mutex
	calls  [][]string
	failOn map[int]bool // 1-based call index -> transport error
	reject int          // recipients per call reported failed by the provider
}

func (s *fakeSender) SendBatch(ctx context.Context, campaignID, tenantID, subject string, recipients []string) (*transport.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, recipients)
	if s.failOn[len(s.calls)] {
		return nil, fmt.Errorf("provider unavailable")
	}
	rejected := s.reject
	if rejected > len(recipients) {
		rejected = len(recipients)
	}
	return &transport.SendResult{
		Sent:             len(recipients) - rejected,
		Failed:           rejected,
		FailedRecipients: recipients[:rejected],
	}, nil
}

func (s *fakeSender) Ping(ctx context.Context) error { return nil }

type fakeLookup struct {
	mu       sync.Mutex
	info     CampaignInfo
	statuses []domain.CampaignStatus // consumed per lookup after the first
}

func (l *fakeLookup) Lookup(ctx context.Context, campaignID string) (*CampaignInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	info := l.info
	if len(l.statuses) > 0 {
		info.Status = l.statuses[0]
		l.statuses = l.statuses[1:]
	}
	return &info, nil
}

type fakeRecorder struct {
	mu    sync.Mutex
	total int
}

func (r *fakeRecorder) RecordSent(ctx context.Context, campaignID string, sent int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total += sent
	return nil
}

type fakeJobStore struct {
	jobs map[string]domain.JobState
}

func (s *fakeJobStore) JobsByIDs(ctx context.Context, ids []string) ([]domain.Job, error) {
	var out []domain.Job
	for _, id := range ids {
		if state, ok := s.jobs[id]; ok {
			out = append(out, domain.Job{ID: id, State: state})
		}
	}
	return out, nil
}

func recipients(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("user%d@example.com", i)
	}
	return out
}

func newTestProcessor(sender *fakeSender, lookup *fakeLookup, jobs *fakeJobStore) (*Processor, *fakeRecorder) {
	if lookup == nil {
		lookup = &fakeLookup{info: CampaignInfo{TenantID: "t1", Subject: "Hello", Status: domain.CampaignSending}}
	}
	if jobs == nil {
		jobs = &fakeJobStore{}
	}
	rec := &fakeRecorder{}
	return NewProcessor(sender, lookup, rec, jobs), rec
}

func TestProcessCampaignInBatches(t *testing.T) {
	sender := &fakeSender{}
	p, rec := newTestProcessor(sender, nil, nil)

	summary, err := p.ProcessCampaignInBatches(context.Background(), "c1", recipients(250), 100)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.TotalBatches)
	assert.Equal(t, 3, summary.SuccessfulBatches)
	assert.Equal(t, 0, summary.FailedBatches)
	assert.Equal(t, 250, summary.TotalEmailsSent)
	assert.Equal(t, 0, summary.TotalEmailsFailed)
	assert.Equal(t, 250, rec.total)

	require.Len(t, sender.calls, 3)
	assert.Len(t, sender.calls[0], 100)
	assert.Len(t, sender.calls[2], 50)
}

func TestProcessCampaignInBatches_TransportErrorFailsBatchOnly(t *testing.T) {
	sender := &fakeSender{failOn: map[int]bool{2: true}}
	p, rec := newTestProcessor(sender, nil, nil)

	summary, err := p.ProcessCampaignInBatches(context.Background(), "c1", recipients(250), 100)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.SuccessfulBatches)
	assert.Equal(t, 1, summary.FailedBatches)
	assert.Equal(t, 150, summary.TotalEmailsSent)
	assert.Equal(t, 100, summary.TotalEmailsFailed)
	assert.Equal(t, 150, rec.total)
	assert.Len(t, sender.calls, 3)
}

func TestProcessCampaignInBatches_PerRecipientFailuresDontFailBatch(t *testing.T) {
	sender := &fakeSender{reject: 5}
	p, rec := newTestProcessor(sender, nil, nil)

	summary, err := p.ProcessCampaignInBatches(context.Background(), "c1", recipients(200), 100)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.SuccessfulBatches)
	assert.Equal(t, 0, summary.FailedBatches)
	assert.Equal(t, 190, summary.TotalEmailsSent)
	assert.Equal(t, 10, summary.TotalEmailsFailed)
	assert.Equal(t, 190, rec.total)
}

func TestProcessCampaignInBatches_StopsWhenPaused(t *testing.T) {
	// First lookup (pre-flight) sees sending; the between-chunk re-check
	// before chunk 2 sees paused.
	lookup := &fakeLookup{
		info:     CampaignInfo{TenantID: "t1", Subject: "Hello"},
		statuses: []domain.CampaignStatus{domain.CampaignSending, domain.CampaignPaused},
	}
	sender := &fakeSender{}
	p, _ := newTestProcessor(sender, lookup, nil)

	recips := recipients(300)
	summary, err := p.ProcessCampaignInBatches(context.Background(), "c1", recips, 100)
	require.NoError(t, err)

	assert.Len(t, sender.calls, 1)
	assert.Equal(t, 1, summary.TotalBatches)
	assert.Equal(t, 1, summary.SuccessfulBatches)
	assert.Equal(t, 100, summary.TotalEmailsSent)
	// The undispatched recipients survive in the summary for re-queuing.
	assert.Equal(t, recips[100:], summary.Remaining)
}

func TestProcessCampaignInBatches_CancelDropsRemainder(t *testing.T) {
	lookup := &fakeLookup{
		info:     CampaignInfo{TenantID: "t1", Subject: "Hello"},
		statuses: []domain.CampaignStatus{domain.CampaignSending, domain.CampaignCancelled},
	}
	sender := &fakeSender{}
	p, _ := newTestProcessor(sender, lookup, nil)

	summary, err := p.ProcessCampaignInBatches(context.Background(), "c1", recipients(300), 100)
	require.NoError(t, err)

	assert.Len(t, sender.calls, 1)
	assert.Empty(t, summary.Remaining)
}

func TestClassifyJobs(t *testing.T) {
	assert.Equal(t, domain.BatchCompleted, ClassifyJobs(nil))
	assert.Equal(t, domain.BatchCompleted, ClassifyJobs([]domain.Job{
		{ID: "j1", State: domain.JobCompleted},
	}))
	assert.Equal(t, domain.BatchInProgress, ClassifyJobs([]domain.Job{
		{ID: "j1", State: domain.JobCompleted},
		{ID: "j2", State: domain.JobWaiting},
	}))
	// A waiting job outranks failures: the batch is still moving.
	assert.Equal(t, domain.BatchInProgress, ClassifyJobs([]domain.Job{
		{ID: "j1", State: domain.JobFailed},
		{ID: "j2", State: domain.JobActive},
	}))
	assert.Equal(t, domain.BatchFailedPartial, ClassifyJobs([]domain.Job{
		{ID: "j1", State: domain.JobCompleted},
		{ID: "j2", State: domain.JobFailed},
	}))
}

func TestGetBatchStatus(t *testing.T) {
	jobs := &fakeJobStore{jobs: map[string]domain.JobState{
		"j1": domain.JobCompleted,
		"j2": domain.JobCompleted,
		"j3": domain.JobActive,
		"j4": domain.JobFailed,
	}}
	p, _ := newTestProcessor(&fakeSender{}, nil, jobs)
	ctx := context.Background()

	status, err := p.GetBatchStatus(ctx, []string{"j1", "j2"})
	require.NoError(t, err)
	assert.Equal(t, domain.BatchCompleted, status)

	status, err = p.GetBatchStatus(ctx, []string{"j1", "j3"})
	require.NoError(t, err)
	assert.Equal(t, domain.BatchInProgress, status)

	status, err = p.GetBatchStatus(ctx, []string{"j1", "j4"})
	require.NoError(t, err)
	assert.Equal(t, domain.BatchFailedPartial, status)

	// No jobs to track is complete by definition.
	status, err = p.GetBatchStatus(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchCompleted, status)
}
