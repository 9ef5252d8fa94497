package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"socialcrm/internal/models"
)

const campaignColumns = `id, page_id, name, platform, message_tag, template, target_tags, status,
		total_recipients, sent_count, failed_count, delivered_count, read_count, replied_count,
		scheduled_at, started_at, completed_at, created_at, updated_at`

type campaignRepository struct {
	db *sql.DB
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db *sql.DB) CampaignRepository {
	return &campaignRepository{db: db}
}

func scanCampaign(row interface {
	Scan(dest ...interface{}) error
}) (*models.Campaign, error) {
	campaign := &models.Campaign{}
	err := row.Scan(
		&campaign.ID,
		&campaign.PageID,
		&campaign.Name,
		&campaign.Platform,
		&campaign.MessageTag,
		&campaign.Template,
		pq.Array(&campaign.TargetTags),
		&campaign.Status,
		&campaign.TotalRecipients,
		&campaign.SentCount,
		&campaign.FailedCount,
		&campaign.DeliveredCount,
		&campaign.ReadCount,
		&campaign.RepliedCount,
		&campaign.ScheduledAt,
		&campaign.StartedAt,
		&campaign.CompletedAt,
		&campaign.CreatedAt,
		&campaign.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return campaign, nil
}

// Create creates a new campaign
func (r *campaignRepository) Create(ctx context.Context, campaign *models.Campaign) error {
	query := `
		INSERT INTO campaigns (page_id, name, platform, message_tag, template, target_tags, status, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		campaign.PageID,
		campaign.Name,
		campaign.Platform,
		campaign.MessageTag,
		campaign.Template,
		pq.Array(campaign.TargetTags),
		campaign.Status,
		campaign.ScheduledAt,
	).Scan(&campaign.ID, &campaign.CreatedAt, &campaign.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	return nil
}

// GetByID retrieves a campaign by ID
func (r *campaignRepository) GetByID(ctx context.Context, id int) (*models.Campaign, error) {
	query := fmt.Sprintf(`SELECT %s FROM campaigns WHERE id = $1`, campaignColumns)

	campaign, err := scanCampaign(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	return campaign, nil
}

// GetWithStats retrieves a campaign with statistics derived from message rows
func (r *campaignRepository) GetWithStats(ctx context.Context, id int) (*models.CampaignWithStats, error) {
	campaign, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	statsQuery := `
		SELECT
			COUNT(*) as total,
			COUNT(*) FILTER (WHERE status = 'pending') as pending,
			COUNT(*) FILTER (WHERE status IN ('sent', 'delivered', 'read', 'replied')) as sent,
			COUNT(*) FILTER (WHERE status = 'failed') as failed
		FROM messages
		WHERE campaign_id = $1
	`

	stats := models.CampaignStats{}
	err = r.db.QueryRowContext(ctx, statsQuery, id).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Sent,
		&stats.Failed,
	)

	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to get campaign stats: %w", err)
	}

	return &models.CampaignWithStats{
		Campaign: *campaign,
		Stats:    stats,
	}, nil
}

// List retrieves campaigns with filters and pagination
func (r *campaignRepository) List(ctx context.Context, filters CampaignFilters) ([]*models.Campaign, int, error) {
	queryBuilder := strings.Builder{}
	queryBuilder.WriteString(fmt.Sprintf(`SELECT %s FROM campaigns WHERE 1=1`, campaignColumns))

	args := []interface{}{}
	argPos := 1

	if filters.Platform != nil {
		queryBuilder.WriteString(fmt.Sprintf(" AND platform = $%d", argPos))
		args = append(args, *filters.Platform)
		argPos++
	}

	if filters.Status != nil {
		queryBuilder.WriteString(fmt.Sprintf(" AND status = $%d", argPos))
		args = append(args, *filters.Status)
		argPos++
	}

	// Order by ID DESC for stable pagination
	queryBuilder.WriteString(" ORDER BY id DESC")

	limit := filters.PageSize
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	offset := (filters.Page - 1) * limit
	if offset < 0 {
		offset = 0
	}

	queryBuilder.WriteString(fmt.Sprintf(" LIMIT $%d OFFSET $%d", argPos, argPos+1))
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, queryBuilder.String(), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []*models.Campaign{}
	for rows.Next() {
		campaign, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, campaign)
	}

	countQuery := "SELECT COUNT(*) FROM campaigns WHERE 1=1"
	countArgs := []interface{}{}

	if filters.Platform != nil {
		countQuery += " AND platform = $1"
		countArgs = append(countArgs, *filters.Platform)
	}

	if filters.Status != nil {
		pos := len(countArgs) + 1
		countQuery += fmt.Sprintf(" AND status = $%d", pos)
		countArgs = append(countArgs, *filters.Status)
	}

	var totalCount int
	err = r.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&totalCount)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get total count: %w", err)
	}

	return campaigns, totalCount, nil
}

// ListByStatus retrieves all campaigns in the given status
func (r *campaignRepository) ListByStatus(ctx context.Context, status models.CampaignStatus) ([]*models.Campaign, error) {
	query := fmt.Sprintf(`SELECT %s FROM campaigns WHERE status = $1 ORDER BY id`, campaignColumns)

	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns by status: %w", err)
	}
	defer rows.Close()

	campaigns := []*models.Campaign{}
	for rows.Next() {
		campaign, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, campaign)
	}

	return campaigns, rows.Err()
}

// ListDueScheduled retrieves scheduled campaigns whose send time has passed
func (r *campaignRepository) ListDueScheduled(ctx context.Context, now time.Time) ([]*models.Campaign, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM campaigns WHERE status = 'scheduled' AND scheduled_at <= $1 ORDER BY scheduled_at`,
		campaignColumns,
	)

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []*models.Campaign{}
	for rows.Next() {
		campaign, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, campaign)
	}

	return campaigns, rows.Err()
}

// TransitionStatus conditionally moves a campaign between statuses. The
// from-set makes the update a compare-and-set: two concurrent callers racing
// for the same transition see exactly one winner.
func (r *campaignRepository) TransitionStatus(ctx context.Context, id int, from []models.CampaignStatus, to models.CampaignStatus, startedAt, completedAt *time.Time) error {
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}

	query := `
		UPDATE campaigns
		SET status = $1,
			started_at = COALESCE($2, started_at),
			completed_at = COALESCE($3, completed_at),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $4 AND status = ANY($5)
	`

	result, err := r.db.ExecContext(ctx, query, to, startedAt, completedAt, id, pq.Array(fromStrs))
	if err != nil {
		return fmt.Errorf("failed to transition campaign status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return ErrStatusConflict
	}

	return nil
}

// SetSchedule sets or clears the campaign's scheduled send time
func (r *campaignRepository) SetSchedule(ctx context.Context, id int, scheduledAt *time.Time) error {
	query := `
		UPDATE campaigns
		SET scheduled_at = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
	`

	result, err := r.db.ExecContext(ctx, query, scheduledAt, id)
	if err != nil {
		return fmt.Errorf("failed to set campaign schedule: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SetTotalRecipients freezes the resolved recipient count
func (r *campaignRepository) SetTotalRecipients(ctx context.Context, id int, total int) error {
	query := `
		UPDATE campaigns
		SET total_recipients = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
	`

	result, err := r.db.ExecContext(ctx, query, total, id)
	if err != nil {
		return fmt.Errorf("failed to set total recipients: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// IncrementSent atomically bumps sent_count
func (r *campaignRepository) IncrementSent(ctx context.Context, id int) error {
	return r.increment(ctx, id, "sent_count = sent_count + 1")
}

// IncrementFailed atomically bumps failed_count
func (r *campaignRepository) IncrementFailed(ctx context.Context, id int) error {
	return r.increment(ctx, id, "failed_count = failed_count + 1")
}

// MoveFailedToSent performs the paired counter swap for a successful retry of
// a previously failed message. failed_count is clamped at zero.
func (r *campaignRepository) MoveFailedToSent(ctx context.Context, id int) error {
	return r.increment(ctx, id, "sent_count = sent_count + 1, failed_count = GREATEST(failed_count - 1, 0)")
}

// IncrementEngagement bumps the counter matching a webhook-driven message status
func (r *campaignRepository) IncrementEngagement(ctx context.Context, id int, status models.MessageStatus) error {
	var column string
	switch status {
	case models.MessageStatusDelivered:
		column = "delivered_count"
	case models.MessageStatusRead:
		column = "read_count"
	case models.MessageStatusReplied:
		column = "replied_count"
	default:
		return fmt.Errorf("status %s has no engagement counter", status)
	}
	return r.increment(ctx, id, fmt.Sprintf("%s = %s + 1", column, column))
}

func (r *campaignRepository) increment(ctx context.Context, id int, setClause string) error {
	query := fmt.Sprintf(`
		UPDATE campaigns
		SET %s, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`, setClause)

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to update campaign counters: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ResetProgress zeroes all counters and run timestamps for a full restart.
// The schedule goes too: a restarted campaign must not fire off an old one.
func (r *campaignRepository) ResetProgress(ctx context.Context, id int) error {
	query := `
		UPDATE campaigns
		SET total_recipients = 0,
			sent_count = 0,
			failed_count = 0,
			delivered_count = 0,
			read_count = 0,
			replied_count = 0,
			scheduled_at = NULL,
			started_at = NULL,
			completed_at = NULL,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to reset campaign progress: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// Delete deletes a campaign; messages cascade via FK
func (r *campaignRepository) Delete(ctx context.Context, id int) error {
	query := `DELETE FROM campaigns WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}
