package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"socialcrm/internal/models"
)

const contactColumns = `id, page_id, first_name, last_name, messenger_psid, instagram_sid, tags, created_at`

type contactRepository struct {
	db *sql.DB
}

// NewContactRepository creates a new contact repository
func NewContactRepository(db *sql.DB) ContactRepository {
	return &contactRepository{db: db}
}

func scanContact(row interface {
	Scan(dest ...interface{}) error
}) (*models.Contact, error) {
	contact := &models.Contact{}
	err := row.Scan(
		&contact.ID,
		&contact.PageID,
		&contact.FirstName,
		&contact.LastName,
		&contact.MessengerPSID,
		&contact.InstagramSID,
		pq.Array(&contact.Tags),
		&contact.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return contact, nil
}

// Create creates a new contact
func (r *contactRepository) Create(ctx context.Context, contact *models.Contact) error {
	query := `
		INSERT INTO contacts (page_id, first_name, last_name, messenger_psid, instagram_sid, tags)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		contact.PageID,
		contact.FirstName,
		contact.LastName,
		contact.MessengerPSID,
		contact.InstagramSID,
		pq.Array(contact.Tags),
	).Scan(&contact.ID, &contact.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create contact: %w", err)
	}

	return nil
}

// GetByID retrieves a contact by ID
func (r *contactRepository) GetByID(ctx context.Context, id int) (*models.Contact, error) {
	query := fmt.Sprintf(`SELECT %s FROM contacts WHERE id = $1`, contactColumns)

	contact, err := scanContact(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}

	return contact, nil
}

// GetByIDs retrieves multiple contacts by their IDs
func (r *contactRepository) GetByIDs(ctx context.Context, ids []int) ([]*models.Contact, error) {
	if len(ids) == 0 {
		return []*models.Contact{}, nil
	}

	query := fmt.Sprintf(`SELECT %s FROM contacts WHERE id = ANY($1) ORDER BY id`, contactColumns)

	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to get contacts: %w", err)
	}
	defer rows.Close()

	contacts := []*models.Contact{}
	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, contact)
	}

	return contacts, rows.Err()
}

// ResolveRecipients returns the page's contacts matching any target tag that
// are reachable on the given platform. Ordered by id and distinct by
// construction, so the result is the frozen recipient set for a campaign run.
// An empty targetTags slice targets every reachable contact on the page.
func (r *contactRepository) ResolveRecipients(ctx context.Context, pageID string, targetTags []string, platform models.Platform) ([]*models.Contact, error) {
	var idColumn string
	switch platform {
	case models.PlatformMessenger:
		idColumn = "messenger_psid"
	case models.PlatformInstagram:
		idColumn = "instagram_sid"
	default:
		return nil, fmt.Errorf("unknown platform: %s", platform)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM contacts
		WHERE page_id = $1
		  AND %s IS NOT NULL AND %s <> ''
		  AND (cardinality($2::text[]) = 0 OR tags && $2)
		ORDER BY id
	`, contactColumns, idColumn, idColumn)

	tags := targetTags
	if tags == nil {
		tags = []string{}
	}

	rows, err := r.db.QueryContext(ctx, query, pageID, pq.Array(tags))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipients: %w", err)
	}
	defer rows.Close()

	contacts := []*models.Contact{}
	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, contact)
	}

	return contacts, rows.Err()
}
