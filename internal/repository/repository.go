package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"socialcrm/internal/models"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// ErrStatusConflict is returned when a conditional status transition matched
// no row because the campaign was no longer in any of the allowed statuses.
var ErrStatusConflict = errors.New("status conflict")

// CampaignRepository defines campaign data access operations
type CampaignRepository interface {
	Create(ctx context.Context, campaign *models.Campaign) error
	GetByID(ctx context.Context, id int) (*models.Campaign, error)
	GetWithStats(ctx context.Context, id int) (*models.CampaignWithStats, error)
	List(ctx context.Context, filters CampaignFilters) ([]*models.Campaign, int, error)
	ListByStatus(ctx context.Context, status models.CampaignStatus) ([]*models.Campaign, error)
	ListDueScheduled(ctx context.Context, now time.Time) ([]*models.Campaign, error)
	Delete(ctx context.Context, id int) error

	// TransitionStatus conditionally moves a campaign from any of the given
	// statuses to the target status in a single statement, returning
	// ErrStatusConflict when the campaign is in none of them. startedAt and
	// completedAt are set when non-nil.
	TransitionStatus(ctx context.Context, id int, from []models.CampaignStatus, to models.CampaignStatus, startedAt, completedAt *time.Time) error

	// SetSchedule sets or clears scheduled_at.
	SetSchedule(ctx context.Context, id int, scheduledAt *time.Time) error

	// SetTotalRecipients freezes the resolved recipient count.
	SetTotalRecipients(ctx context.Context, id int, total int) error

	// Counter updates are single atomic statements; the dispatcher and the
	// watchdog may touch the same row concurrently.
	IncrementSent(ctx context.Context, id int) error
	IncrementFailed(ctx context.Context, id int) error
	// MoveFailedToSent performs the paired sent+1/failed-1 swap used by the
	// failed-message resend flow, clamping failed_count at zero.
	MoveFailedToSent(ctx context.Context, id int) error
	IncrementEngagement(ctx context.Context, id int, status models.MessageStatus) error

	// ResetProgress zeroes all counters and timestamps for a full restart.
	ResetProgress(ctx context.Context, id int) error
}

// CampaignFilters defines filters for listing campaigns
type CampaignFilters struct {
	Page     int
	PageSize int
	Platform *models.Platform
	Status   *models.CampaignStatus
}

// MessageRepository defines delivery record data access operations
type MessageRepository interface {
	CreateBatch(ctx context.Context, messages []*models.Message) error
	GetByID(ctx context.Context, id int) (*models.Message, error)
	GetByProviderID(ctx context.Context, providerMessageID string) (*models.Message, error)
	// ListByStatus returns a campaign's messages in creation order.
	ListByStatus(ctx context.Context, campaignID int, status models.MessageStatus) ([]*models.Message, error)
	CountByCampaign(ctx context.Context, campaignID int) (int, error)
	MarkSent(ctx context.Context, id int, providerMessageID string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id int, errorMessage string, failedAt time.Time) error
	// AdvanceStatus moves a message forward (sent -> delivered -> read ->
	// replied) and reports whether the row actually changed.
	AdvanceStatus(ctx context.Context, id int, to models.MessageStatus) (bool, error)
	DeleteByCampaign(ctx context.Context, campaignID int) error
}

// ContactRepository defines contact data access operations
type ContactRepository interface {
	Create(ctx context.Context, contact *models.Contact) error
	GetByID(ctx context.Context, id int) (*models.Contact, error)
	GetByIDs(ctx context.Context, ids []int) ([]*models.Contact, error)
	// ResolveRecipients returns the contacts on the page matching any of the
	// target tags that are reachable on the platform, ordered by id.
	ResolveRecipients(ctx context.Context, pageID string, targetTags []string, platform models.Platform) ([]*models.Contact, error)
}

// DB is a wrapper around *sql.DB to allow passing in a transaction
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}
