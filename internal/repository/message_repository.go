package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"socialcrm/internal/models"
)

const messageColumns = `id, campaign_id, contact_id, status, content, error_message,
		facebook_message_id, sent_at, failed_at, created_at, updated_at`

type messageRepository struct {
	db *sql.DB
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *sql.DB) MessageRepository {
	return &messageRepository{db: db}
}

func scanMessage(row interface {
	Scan(dest ...interface{}) error
}) (*models.Message, error) {
	message := &models.Message{}
	err := row.Scan(
		&message.ID,
		&message.CampaignID,
		&message.ContactID,
		&message.Status,
		&message.Content,
		&message.ErrorMessage,
		&message.FacebookMessageID,
		&message.SentAt,
		&message.FailedAt,
		&message.CreatedAt,
		&message.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return message, nil
}

// CreateBatch inserts delivery records for all resolved recipients in one
// statement. Creation order defines dispatch order.
func (r *messageRepository) CreateBatch(ctx context.Context, messages []*models.Message) error {
	if len(messages) == 0 {
		return nil
	}

	campaignIDs := make([]int, len(messages))
	contactIDs := make([]int, len(messages))
	contents := make([]string, len(messages))
	for i, m := range messages {
		campaignIDs[i] = m.CampaignID
		contactIDs[i] = m.ContactID
		contents[i] = m.Content
	}

	query := `
		INSERT INTO messages (campaign_id, contact_id, status, content)
		SELECT c, ct, 'pending', co
		FROM unnest($1::int[], $2::int[], $3::text[]) AS t(c, ct, co)
		RETURNING id, created_at, updated_at
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(campaignIDs), pq.Array(contactIDs), pq.Array(contents))
	if err != nil {
		return fmt.Errorf("failed to create messages: %w", err)
	}
	defer rows.Close()

	i := 0
	for rows.Next() {
		if i >= len(messages) {
			break
		}
		if err := rows.Scan(&messages[i].ID, &messages[i].CreatedAt, &messages[i].UpdatedAt); err != nil {
			return fmt.Errorf("failed to scan created message: %w", err)
		}
		messages[i].Status = models.MessageStatusPending
		i++
	}

	return rows.Err()
}

// GetByID retrieves a message by ID
func (r *messageRepository) GetByID(ctx context.Context, id int) (*models.Message, error) {
	query := fmt.Sprintf(`SELECT %s FROM messages WHERE id = $1`, messageColumns)

	message, err := scanMessage(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return message, nil
}

// GetByProviderID retrieves a message by its provider message id. Used by
// webhook ingestion to correlate delivery receipts.
func (r *messageRepository) GetByProviderID(ctx context.Context, providerMessageID string) (*models.Message, error) {
	query := fmt.Sprintf(`SELECT %s FROM messages WHERE facebook_message_id = $1`, messageColumns)

	message, err := scanMessage(r.db.QueryRowContext(ctx, query, providerMessageID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message by provider id: %w", err)
	}

	return message, nil
}

// ListByStatus returns a campaign's messages with the given status in
// creation order.
func (r *messageRepository) ListByStatus(ctx context.Context, campaignID int, status models.MessageStatus) ([]*models.Message, error) {
	query := fmt.Sprintf(`SELECT %s FROM messages WHERE campaign_id = $1 AND status = $2 ORDER BY id`, messageColumns)

	rows, err := r.db.QueryContext(ctx, query, campaignID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, message)
	}

	return messages, rows.Err()
}

// CountByCampaign returns how many message rows exist for a campaign
func (r *messageRepository) CountByCampaign(ctx context.Context, campaignID int) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE campaign_id = $1`, campaignID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// MarkSent records a successful dispatch attempt
func (r *messageRepository) MarkSent(ctx context.Context, id int, providerMessageID string, sentAt time.Time) error {
	query := `
		UPDATE messages
		SET status = 'sent',
			facebook_message_id = $2,
			sent_at = $3,
			error_message = NULL,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, providerMessageID, sentAt)
	if err != nil {
		return fmt.Errorf("failed to mark message sent: %w", err)
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

// MarkFailed records a failed dispatch attempt
func (r *messageRepository) MarkFailed(ctx context.Context, id int, errorMessage string, failedAt time.Time) error {
	query := `
		UPDATE messages
		SET status = 'failed',
			error_message = $2,
			failed_at = $3,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, errorMessage, failedAt)
	if err != nil {
		return fmt.Errorf("failed to mark message failed: %w", err)
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

// AdvanceStatus moves a message forward along the post-send progression,
// guarding in SQL so out-of-order webhook events never regress a row.
func (r *messageRepository) AdvanceStatus(ctx context.Context, id int, to models.MessageStatus) (bool, error) {
	var from []string
	switch to {
	case models.MessageStatusDelivered:
		from = []string{"sent"}
	case models.MessageStatusRead:
		from = []string{"sent", "delivered"}
	case models.MessageStatusReplied:
		from = []string{"sent", "delivered", "read"}
	default:
		return false, fmt.Errorf("cannot advance message to status %s", to)
	}

	query := `
		UPDATE messages
		SET status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND status = ANY($3)
	`

	result, err := r.db.ExecContext(ctx, query, to, id, pq.Array(from))
	if err != nil {
		return false, fmt.Errorf("failed to advance message status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// DeleteByCampaign purges all delivery records for a campaign. Only the full
// resend flow calls this; the loss of history is deliberate there.
func (r *messageRepository) DeleteByCampaign(ctx context.Context, campaignID int) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE campaign_id = $1`, campaignID)
	if err != nil {
		return fmt.Errorf("failed to delete campaign messages: %w", err)
	}
	return nil
}
