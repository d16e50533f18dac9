package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"wacampaign/internal/models"
)

const campaignColumns = `id, tenant_id, name, target_tags, session_pool, message_spec, pacing, scheduled_at, status, total_recipients, sent, failed, created_at, updated_at`

type campaignRepository struct {
	db *sql.DB
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db *sql.DB) CampaignRepository {
	return &campaignRepository{db: db}
}

func scanCampaign(row rowScanner) (*models.Campaign, error) {
	campaign := &models.Campaign{}
	var tags pq.Int64Array
	var pool pq.StringArray
	err := row.Scan(
		&campaign.ID,
		&campaign.TenantID,
		&campaign.Name,
		&tags,
		&pool,
		&campaign.MessageSpec,
		&campaign.Pacing,
		&campaign.ScheduledAt,
		&campaign.Status,
		&campaign.TotalRecipients,
		&campaign.Sent,
		&campaign.Failed,
		&campaign.CreatedAt,
		&campaign.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	campaign.TargetTags = []int64(tags)
	campaign.SessionPool = []string(pool)
	return campaign, nil
}

// Create creates a new campaign
func (r *campaignRepository) Create(ctx context.Context, campaign *models.Campaign) error {
	query := `
		INSERT INTO campaigns (tenant_id, name, target_tags, session_pool, message_spec, pacing, scheduled_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		campaign.TenantID,
		campaign.Name,
		pq.Array(campaign.TargetTags),
		pq.Array(campaign.SessionPool),
		campaign.MessageSpec,
		campaign.Pacing,
		campaign.ScheduledAt,
		campaign.Status,
	).Scan(&campaign.ID, &campaign.CreatedAt, &campaign.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	return nil
}

// GetByID retrieves a campaign of one tenant
func (r *campaignRepository) GetByID(ctx context.Context, tenantID, id int) (*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1 AND tenant_id = $2`

	campaign, err := scanCampaign(r.db.QueryRowContext(ctx, query, id, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("campaign %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	return campaign, nil
}

// GetByIDAnyTenant retrieves a campaign for the worker, which is not tenant-scoped
func (r *campaignRepository) GetByIDAnyTenant(ctx context.Context, id int) (*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`

	campaign, err := scanCampaign(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("campaign %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	return campaign, nil
}

// GetWithStats retrieves a campaign with per-status recipient counts
func (r *campaignRepository) GetWithStats(ctx context.Context, tenantID, id int) (*models.CampaignWithStats, error) {
	campaign, err := r.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	stats, err := countMessageStatuses(ctx, r.db, id)
	if err != nil {
		return nil, err
	}

	return &models.CampaignWithStats{
		Campaign: *campaign,
		Stats:    stats,
	}, nil
}

// List retrieves a tenant's campaigns with filters and pagination
func (r *campaignRepository) List(ctx context.Context, filters CampaignFilters) ([]*models.Campaign, int, error) {
	where := strings.Builder{}
	where.WriteString(" WHERE tenant_id = $1")
	args := []interface{}{filters.TenantID}

	if filters.Status != nil {
		args = append(args, *filters.Status)
		where.WriteString(fmt.Sprintf(" AND status = $%d", len(args)))
	}

	var totalCount int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM campaigns"+where.String(), args...).Scan(&totalCount)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get total count: %w", err)
	}

	limit, offset := normalizePage(filters.Page, filters.PageSize)
	query := fmt.Sprintf(
		"SELECT %s FROM campaigns%s ORDER BY id DESC LIMIT $%d OFFSET $%d",
		campaignColumns, where.String(), len(args)+1, len(args)+2,
	)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
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
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate campaigns: %w", err)
	}

	return campaigns, totalCount, nil
}

// ListDue returns pending campaigns whose schedule has passed, oldest first
func (r *campaignRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns
		WHERE status = 'pending' AND (scheduled_at IS NULL OR scheduled_at <= $1)
		ORDER BY COALESCE(scheduled_at, created_at), id
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, now, limit)
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

// ListRunning returns running campaigns of every tenant, used to resume dispatch after a restart
func (r *campaignRepository) ListRunning(ctx context.Context, limit int) ([]*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns
		WHERE status = 'running'
		ORDER BY updated_at, id
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list running campaigns: %w", err)
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

// GetStatus reads only the status column, polled by dispatch workers between recipients
func (r *campaignRepository) GetStatus(ctx context.Context, id int) (models.CampaignStatus, error) {
	var status models.CampaignStatus
	err := r.db.QueryRowContext(ctx, `SELECT status FROM campaigns WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("campaign %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get campaign status: %w", err)
	}
	return status, nil
}

// TransitionStatus performs a compare-and-set on the campaign status
func (r *campaignRepository) TransitionStatus(ctx context.Context, id int, from, to models.CampaignStatus) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, fmt.Errorf("invalid campaign transition %s -> %s", from, to)
	}

	query := `
		UPDATE campaigns
		SET status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND status = $3
	`

	result, err := r.db.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to update campaign status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows == 1, nil
}

// Activate flips pending to running and inserts the recipient snapshot in one transaction
func (r *campaignRepository) Activate(ctx context.Context, id int, recipients []*models.CampaignMessage) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE campaigns
		SET status = 'running', total_recipients = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND status = 'pending'
	`, len(recipients), id)
	if err != nil {
		return false, fmt.Errorf("failed to activate campaign: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	if len(recipients) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO campaign_messages (campaign_id, contact_id, phone, status)
			VALUES ($1, $2, $3, 'pending')
			RETURNING id, created_at, updated_at
		`)
		if err != nil {
			return false, fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, m := range recipients {
			m.CampaignID = id
			m.Status = models.MessageStatusPending
			if err := stmt.QueryRowContext(ctx, id, m.ContactID, m.Phone).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt); err != nil {
				return false, fmt.Errorf("failed to create campaign message: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return true, nil
}
