package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wacampaign/internal/models"
)

const messageColumns = `id, campaign_id, contact_id, phone, status, sent_at, session_used, error_category, error_detail, selected_variation, created_at, updated_at`

// Detail recorded on rows found in_flight after a worker died mid-send.
// They are failed rather than re-sent because the provider may already have delivered them.
const interruptedDetail = "interrupted before outcome was recorded"

type messageRepository struct {
	db *sql.DB
}

// NewMessageRepository creates a new campaign message repository
func NewMessageRepository(db *sql.DB) MessageRepository {
	return &messageRepository{db: db}
}

func scanMessage(row rowScanner) (*models.CampaignMessage, error) {
	m := &models.CampaignMessage{}
	err := row.Scan(
		&m.ID,
		&m.CampaignID,
		&m.ContactID,
		&m.Phone,
		&m.Status,
		&m.SentAt,
		&m.SessionUsed,
		&m.ErrorCategory,
		&m.ErrorDetail,
		&m.SelectedVariation,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	return m, err
}

// ClaimNext claims the oldest pending row for sessionName. SKIP LOCKED lets concurrent
// workers claim different rows without waiting on each other.
func (r *messageRepository) ClaimNext(ctx context.Context, campaignID int, sessionName string) (*models.CampaignMessage, error) {
	query := `
		UPDATE campaign_messages
		SET status = 'in_flight', session_used = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = (
			SELECT id FROM campaign_messages
			WHERE campaign_id = $1 AND status = 'pending'
			ORDER BY id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + messageColumns

	m, err := scanMessage(r.db.QueryRowContext(ctx, query, campaignID, sessionName))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim campaign message: %w", err)
	}
	return m, nil
}

// RecordOutcome writes the outcome once and increments sent or failed in the same transaction
func (r *messageRepository) RecordOutcome(ctx context.Context, message *models.CampaignMessage, outcome models.MessageOutcome) (bool, error) {
	if !outcome.Status.IsTerminal() {
		return false, fmt.Errorf("outcome status %s is not terminal", outcome.Status)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE campaign_messages
		SET status = $2, sent_at = $3, session_used = $4, error_category = $5,
			error_detail = $6, selected_variation = $7, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND status = 'in_flight'
	`,
		message.ID,
		outcome.Status,
		outcome.SentAt,
		outcome.SessionUsed,
		outcome.ErrorCategory,
		outcome.ErrorDetail,
		outcome.SelectedVariation,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record outcome: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	sent, failed := 0, 0
	if outcome.Status == models.MessageStatusSent {
		sent = 1
	} else {
		failed = 1
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE campaigns
		SET sent = sent + $2, failed = failed + $3, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`, message.CampaignID, sent, failed)
	if err != nil {
		return false, fmt.Errorf("failed to update campaign counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	message.Status = outcome.Status
	message.SentAt = outcome.SentAt
	message.ErrorCategory = outcome.ErrorCategory
	message.ErrorDetail = outcome.ErrorDetail
	message.SelectedVariation = outcome.SelectedVariation
	return true, nil
}

// Touch refreshes updated_at of a row this worker still holds in_flight, so stale sweeps
// leave it alone. It reports false once the row is no longer in_flight.
func (r *messageRepository) Touch(ctx context.Context, id int) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE campaign_messages SET updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND status = 'in_flight'
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to touch campaign message: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// FailStaleInFlight fails rows claimed before olderThan whose worker never recorded an outcome
func (r *messageRepository) FailStaleInFlight(ctx context.Context, campaignID int, olderThan time.Time) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE campaign_messages
		SET status = 'failed', error_category = $2, error_detail = $3, updated_at = CURRENT_TIMESTAMP
		WHERE campaign_id = $1 AND status = 'in_flight' AND updated_at < $4
	`, campaignID, models.ErrorCategoryOther, interruptedDetail, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale messages: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return 0, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE campaigns SET failed = failed + $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1
	`, campaignID, n)
	if err != nil {
		return 0, fmt.Errorf("failed to update campaign counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return int(n), nil
}

// CountByStatus returns per-status counts for one campaign
func (r *messageRepository) CountByStatus(ctx context.Context, campaignID int) (models.CampaignStats, error) {
	return countMessageStatuses(ctx, r.db, campaignID)
}

func countMessageStatuses(ctx context.Context, db DB, campaignID int) (models.CampaignStats, error) {
	query := `
		SELECT
			COUNT(*) as total,
			COUNT(*) FILTER (WHERE status = 'pending') as pending,
			COUNT(*) FILTER (WHERE status = 'in_flight') as in_flight,
			COUNT(*) FILTER (WHERE status = 'sent') as sent,
			COUNT(*) FILTER (WHERE status = 'failed') as failed
		FROM campaign_messages
		WHERE campaign_id = $1
	`

	stats := models.CampaignStats{}
	err := db.QueryRowContext(ctx, query, campaignID).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.InFlight,
		&stats.Sent,
		&stats.Failed,
	)
	if err != nil && err != sql.ErrNoRows {
		return stats, fmt.Errorf("failed to get campaign stats: %w", err)
	}
	return stats, nil
}

// ListByCampaign lists recipient rows of one campaign in creation order
func (r *messageRepository) ListByCampaign(ctx context.Context, campaignID int, filters MessageFilters) ([]*models.CampaignMessage, int, error) {
	where := " WHERE campaign_id = $1"
	args := []interface{}{campaignID}
	if filters.Status != nil {
		args = append(args, *filters.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM campaign_messages"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to get total count: %w", err)
	}

	limit, offset := normalizePage(filters.Page, filters.PageSize)
	query := fmt.Sprintf(
		"SELECT %s FROM campaign_messages%s ORDER BY id LIMIT $%d OFFSET $%d",
		messageColumns, where, len(args)+1, len(args)+2,
	)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list campaign messages: %w", err)
	}
	defer rows.Close()

	messages := []*models.CampaignMessage{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan campaign message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate campaign messages: %w", err)
	}

	return messages, total, nil
}
