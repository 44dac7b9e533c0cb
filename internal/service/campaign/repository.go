package campaign

import (
	"context"
	"time"

	"github.com/pulsepost/delivery-engine/internal/domain"
)

// Repository defines the data access contract for campaigns.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single campaign with its analytics snapshot.
	// Returns ErrNotFound if it doesn't exist under the tenant.
	Get(ctx context.Context, tenantID, id string) (*domain.Campaign, error)

	// List returns campaigns matching the filter, newest first, plus the
	// total matching count.
	List(ctx context.Context, tenantID string, filter ListFilter) ([]domain.Campaign, int, error)

	// Create inserts a new campaign and returns its id.
	Create(ctx context.Context, c *domain.Campaign) (string, error)

	// Update modifies mutable fields. Only non-nil fields are applied.
	Update(ctx context.Context, tenantID, id string, u UpdateFields) error

	// Delete removes a campaign.
	Delete(ctx context.Context, tenantID, id string) error

	// Transition atomically moves a campaign from one of the given states
	// to change.To, applying change's timestamp mutations in the same
	// statement. Returns ErrConflict when the campaign was not in any of
	// the from states (someone else transitioned it first).
	Transition(ctx context.Context, tenantID, id string, from []domain.CampaignStatus, change StatusChange) error

	// DeliveredRecipients returns the distinct recipient addresses with a
	// delivered event for the campaign. Used to compute retry targets.
	DeliveredRecipients(ctx context.Context, campaignID string) ([]string, error)

	// DueScheduled returns campaigns (across tenants) whose scheduled time
	// has arrived and are still in the scheduled state.
	DueScheduled(ctx context.Context, limit int) ([]domain.Campaign, error)

	// Sending returns the ids of campaigns currently in the sending state,
	// for the completion checker.
	Sending(ctx context.Context) ([]string, error)
}

// ListFilter controls pagination and filtering for campaign lists.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}

// UpdateFields holds the mutable fields for a campaign update.
// Nil fields are not applied.
type UpdateFields struct {
	Name        *string
	SubjectLine *string
	Recipients  *[]string
}

// StatusChange describes a guarded transition's target state and the
// timestamp mutations that must land atomically with it.
type StatusChange struct {
	To domain.CampaignStatus

	// SetScheduledAt stores a new scheduled time (Schedule).
	SetScheduledAt *time.Time
	// ClearScheduledAt wipes the scheduled time (Unschedule, Cancel).
	ClearScheduledAt bool
	// SetSentAt stamps completion time (transition to sent).
	SetSentAt bool
}
