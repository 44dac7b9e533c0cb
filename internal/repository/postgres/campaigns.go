package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/pulsepost/delivery-engine/internal/batch"
	"github.com/pulsepost/delivery-engine/internal/domain"
	"github.com/pulsepost/delivery-engine/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository and batch.CampaignLookup.
type CampaignRepo struct {
	db *sql.DB
}

// NewCampaignRepo creates a campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo {
	return &CampaignRepo{db: db}
}

const campaignColumns = `
	id, tenant_id, name, subject_line, recipients, status, scheduled_at, sent_at,
	total_sent, delivered, opened, clicked, bounced, unsubscribed, complained,
	open_rate, click_rate, bounce_rate, analytics_updated_at, created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*domain.Campaign, error) {
	var c domain.Campaign
	err := row.Scan(
		&c.ID, &c.TenantID, &c.Name, &c.SubjectLine, pq.Array(&c.Recipients),
		&c.Status, &c.ScheduledAt, &c.SentAt,
		&c.Analytics.TotalSent, &c.Analytics.Delivered, &c.Analytics.Opened,
		&c.Analytics.Clicked, &c.Analytics.Bounced, &c.Analytics.Unsubscribed,
		&c.Analytics.Complained, &c.Analytics.OpenRate, &c.Analytics.ClickRate,
		&c.Analytics.BounceRate, &c.Analytics.LastUpdated, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Get returns a single campaign under the tenant.
func (r *CampaignRepo) Get(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

// List returns campaigns matching the filter, newest first, plus the total.
func (r *CampaignRepo) List(ctx context.Context, tenantID string, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	where := "tenant_id = $1"
	args := []any{tenantID}
	if f.Status != "" {
		where += " AND status = $2"
		args = append(args, f.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT %s FROM campaigns WHERE %s
		ORDER BY created_at DESC
		LIMIT %d OFFSET %d`, campaignColumns, where, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, total, rows.Err()
}

// Create inserts a new campaign and returns its id.
func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) (string, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, tenant_id, name, subject_line, recipients, status,
		                       analytics_updated_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW(), NOW())
	`, c.ID, c.TenantID, c.Name, c.SubjectLine, pq.Array(c.Recipients), c.Status)
	if err != nil {
		return "", fmt.Errorf("create campaign: %w", err)
	}
	return c.ID, nil
}

// Update applies the non-nil fields.
func (r *CampaignRepo) Update(ctx context.Context, tenantID, id string, u campaign.UpdateFields) error {
	sets := []string{"updated_at = NOW()"}
	args := []any{tenantID, id}
	arg := 3
	if u.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", arg))
		args = append(args, *u.Name)
		arg++
	}
	if u.SubjectLine != nil {
		sets = append(sets, fmt.Sprintf("subject_line = $%d", arg))
		args = append(args, *u.SubjectLine)
		arg++
	}
	if u.Recipients != nil {
		sets = append(sets, fmt.Sprintf("recipients = $%d", arg))
		args = append(args, pq.Array(*u.Recipients))
		arg++
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET `+strings.Join(sets, ", ")+`
		WHERE tenant_id = $1 AND id = $2
	`, args...)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

// Delete removes a campaign and its events in one transaction. There is no
// FK cascade from email_events, so the events go explicitly.
func (r *CampaignRepo) Delete(ctx context.Context, tenantID, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM campaigns WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return campaign.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM email_events WHERE tenant_id = $1 AND campaign_id = $2
	`, tenantID, id); err != nil {
		return fmt.Errorf("delete campaign events: %w", err)
	}
	return tx.Commit()
}

// Transition atomically applies a guarded status change plus its timestamp
// mutations. The from-state guard lives in the WHERE clause, so concurrent
// transition attempts serialize on the row and losers see ErrConflict.
func (r *CampaignRepo) Transition(ctx context.Context, tenantID, id string, from []domain.CampaignStatus, change campaign.StatusChange) error {
	sets := []string{"status = $1", "updated_at = NOW()"}
	args := []any{string(change.To)}
	arg := 2

	if change.SetScheduledAt != nil {
		sets = append(sets, fmt.Sprintf("scheduled_at = $%d", arg))
		args = append(args, *change.SetScheduledAt)
		arg++
	}
	if change.ClearScheduledAt {
		sets = append(sets, "scheduled_at = NULL")
	}
	if change.SetSentAt {
		sets = append(sets, "sent_at = NOW()")
	}

	fromStates := make([]string, len(from))
	for i, s := range from {
		fromStates[i] = string(s)
	}

	where := fmt.Sprintf("id = $%d AND status = ANY($%d)", arg, arg+1)
	args = append(args, id, pq.Array(fromStates))
	arg += 2
	if tenantID != "" {
		where += fmt.Sprintf(" AND tenant_id = $%d", arg)
		args = append(args, tenantID)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET `+strings.Join(sets, ", ")+` WHERE `+where, args...)
	if err != nil {
		return fmt.Errorf("transition campaign to %s: %w", change.To, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return campaign.ErrConflict
	}
	return nil
}

// DeliveredRecipients returns distinct addresses with a delivered event.
func (r *CampaignRepo) DeliveredRecipients(ctx context.Context, campaignID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT recipient_email FROM email_events
		WHERE campaign_id = $1 AND event_type = 'delivered'
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("delivered recipients: %w", err)
	}
	defer rows.Close()

	var recipients []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		recipients = append(recipients, email)
	}
	return recipients, rows.Err()
}

// DueScheduled returns scheduled campaigns whose time has arrived.
func (r *CampaignRepo) DueScheduled(ctx context.Context, limit int) ([]domain.Campaign, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE status = 'scheduled' AND scheduled_at <= NOW()
		ORDER BY scheduled_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("due scheduled: %w", err)
	}
	defer rows.Close()

	var campaigns []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, rows.Err()
}

// Sending returns ids of campaigns currently mid-send.
func (r *CampaignRepo) Sending(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM campaigns WHERE status = 'sending'`)
	if err != nil {
		return nil, fmt.Errorf("sending campaigns: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Lookup implements batch.CampaignLookup: a cross-tenant fetch of the
// fields the batch processor needs.
func (r *CampaignRepo) Lookup(ctx context.Context, campaignID string) (*batch.CampaignInfo, error) {
	var info batch.CampaignInfo
	err := r.db.QueryRowContext(ctx, `
		SELECT tenant_id, subject_line, status FROM campaigns WHERE id = $1
	`, campaignID).Scan(&info.TenantID, &info.Subject, &info.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup campaign: %w", err)
	}
	return &info, nil
}
