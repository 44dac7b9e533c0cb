package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobKind identifies the queue a job belongs to and which handler runs it.
type JobKind string

const (
	JobEmail     JobKind = "email"
	JobAnalytics JobKind = "analytics"
	JobAI        JobKind = "ai"
)

// JobState enumerates the lifecycle of a durable queue job.
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Job is a durable unit of queued work. Jobs survive process restarts and
// remain visible after failure until the cleanup policy removes them.
type Job struct {
	ID         string          `json:"id" db:"id"`
	Kind       JobKind         `json:"kind" db:"kind"`
	CampaignID *string         `json:"campaign_id" db:"campaign_id"`
	Payload    json.RawMessage `json:"payload" db:"payload"`
	Priority   int             `json:"priority" db:"priority"`
	RunAt      time.Time       `json:"run_at" db:"run_at"`
	Attempts   int             `json:"attempts" db:"attempts"`
	State      JobState        `json:"state" db:"state"`
	LastError  string          `json:"last_error,omitempty" db:"last_error"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	FinishedAt *time.Time      `json:"finished_at" db:"finished_at"`
}

// EmailJobPayload is the payload for JobEmail: one contiguous slice of a
// campaign's recipient list to be handed to the transport as batches.
type EmailJobPayload struct {
	CampaignID string   `json:"campaign_id"`
	TenantID   string   `json:"tenant_id"`
	Recipients []string `json:"recipients"`
}

// AnalyticsJobPayload is the payload for JobAnalytics.
type AnalyticsJobPayload struct {
	CampaignID string         `json:"campaign_id"`
	TenantID   string         `json:"tenant_id"`
	EventType  EventType      `json:"event_type"`
	Data       map[string]any `json:"data,omitempty"`
}

// AIJobPayload is the payload for JobAI. These jobs are consumed by the
// external AI content service; the engine only enqueues them.
type AIJobPayload struct {
	TenantID string         `json:"tenant_id"`
	Type     string         `json:"type"`
	Data     map[string]any `json:"data,omitempty"`
}

// DecodePayload unmarshals the job payload into the variant matching its
// kind. Unknown kinds are an error so the worker dispatch stays exhaustive.
func (j *Job) DecodePayload() (any, error) {
	switch j.Kind {
	case JobEmail:
		var p EmailJobPayload
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode email payload: %w", err)
		}
		return p, nil
	case JobAnalytics:
		var p AnalyticsJobPayload
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode analytics payload: %w", err)
		}
		return p, nil
	case JobAI:
		var p AIJobPayload
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode ai payload: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown job kind %q", j.Kind)
	}
}

// BatchJobStatus classifies the overall progress of a set of batch jobs.
type BatchJobStatus string

const (
	BatchCompleted     BatchJobStatus = "completed"
	BatchInProgress    BatchJobStatus = "in-progress"
	BatchFailedPartial BatchJobStatus = "failed-partial"
)
