package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"wacampaign/internal/models"
)

type contactRepository struct {
	db DB
}

// NewContactRepository creates a read-only contact repository
func NewContactRepository(db DB) ContactRepository {
	return &contactRepository{db: db}
}

func scanContact(row rowScanner) (*models.Contact, error) {
	c := &models.Contact{}
	var tags pq.Int64Array
	var tagNames pq.StringArray
	err := row.Scan(
		&c.ID,
		&c.TenantID,
		&c.Name,
		&c.Phone,
		&c.Email,
		&c.Notes,
		&tags,
		&tagNames,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Tags = []int64(tags)
	c.TagNames = []string(tagNames)
	return c, nil
}

// GetByID retrieves a contact with all of its tags
func (r *contactRepository) GetByID(ctx context.Context, tenantID, id int) (*models.Contact, error) {
	query := `
		SELECT c.id, c.tenant_id, c.name, c.phone, c.email, c.notes,
			COALESCE(ARRAY_AGG(t.id ORDER BY t.id) FILTER (WHERE t.id IS NOT NULL), '{}'),
			COALESCE(ARRAY_AGG(t.name ORDER BY t.id) FILTER (WHERE t.id IS NOT NULL), '{}'),
			c.created_at
		FROM contacts c
		LEFT JOIN contact_tags ct ON ct.contact_id = c.id
		LEFT JOIN tags t ON t.id = ct.tag_id
		WHERE c.id = $1 AND c.tenant_id = $2
		GROUP BY c.id
	`

	contact, err := scanContact(r.db.QueryRowContext(ctx, query, id, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("contact %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return contact, nil
}

// ListByTags returns each contact carrying at least one of tagIDs exactly once, ordered by id.
// The returned tags are the matching ones, so {tag} renders the tag that selected the contact.
func (r *contactRepository) ListByTags(ctx context.Context, tenantID int, tagIDs []int64) ([]*models.Contact, error) {
	if len(tagIDs) == 0 {
		return []*models.Contact{}, nil
	}

	query := `
		SELECT c.id, c.tenant_id, c.name, c.phone, c.email, c.notes,
			ARRAY_AGG(t.id ORDER BY t.id), ARRAY_AGG(t.name ORDER BY t.id),
			c.created_at
		FROM contacts c
		JOIN contact_tags ct ON ct.contact_id = c.id
		JOIN tags t ON t.id = ct.tag_id
		WHERE c.tenant_id = $1 AND ct.tag_id = ANY($2)
		GROUP BY c.id
		ORDER BY c.id
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, pq.Array(tagIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts by tags: %w", err)
	}
	defer rows.Close()

	contacts := []*models.Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contacts: %w", err)
	}
	return contacts, nil
}
