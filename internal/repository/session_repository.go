package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"wacampaign/internal/lock"
	"wacampaign/internal/models"
)

const sessionColumns = `name, display_name, provider, status, credential, identity, qr, qr_expires_at, tenant_id, created_at, updated_at`

type sessionRepository struct {
	db     DB
	locker lock.Locker
}

// NewSessionRepository creates a session registry. Writes to one session name are
// serialized through locker.
func NewSessionRepository(db DB, locker lock.Locker) SessionRepository {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return &sessionRepository{db: db, locker: locker}
}

func scanSession(row rowScanner) (*models.Session, error) {
	s := &models.Session{}
	var identity models.Identity
	var identityRaw []byte
	err := row.Scan(
		&s.Name,
		&s.DisplayName,
		&s.Provider,
		&s.Status,
		&s.Credential,
		&identityRaw,
		&s.QR,
		&s.QRExpiresAt,
		&s.TenantID,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if identityRaw != nil {
		if err := identity.Scan(identityRaw); err != nil {
			return nil, fmt.Errorf("failed to decode identity: %w", err)
		}
		s.Identity = &identity
	}
	return s, nil
}

// Create inserts a new session row. TenantID, Provider and Status are required.
func (r *sessionRepository) Create(ctx context.Context, update *models.SessionUpdate) (*models.Session, error) {
	if err := update.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session update: %w", err)
	}
	if update.TenantID == nil || update.Provider == nil || update.Status == nil {
		return nil, fmt.Errorf("invalid session update: creating %s needs tenant, provider and status", update.Name)
	}

	unlock, err := r.locker.Lock(ctx, "session:"+update.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to lock session %s: %w", update.Name, err)
	}
	defer unlock()

	query := `
		INSERT INTO sessions (name, display_name, provider, status, credential, identity, qr, qr_expires_at, tenant_id)
		VALUES ($1, COALESCE($2, ''), $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + sessionColumns

	session, err := scanSession(r.db.QueryRowContext(
		ctx,
		query,
		update.Name,
		update.DisplayName,
		*update.Provider,
		*update.Status,
		update.Credential,
		identityArg(update.Identity),
		update.QR,
		update.QRExpiresAt,
		*update.TenantID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create session %s: %w", update.Name, err)
	}
	return session, nil
}

// Update applies a partial update to an existing row; absent columns keep their
// stored value. Provider and tenant never change. A missing row is ErrNotFound.
func (r *sessionRepository) Update(ctx context.Context, update *models.SessionUpdate) (*models.Session, error) {
	if err := update.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session update: %w", err)
	}

	unlock, err := r.locker.Lock(ctx, "session:"+update.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to lock session %s: %w", update.Name, err)
	}
	defer unlock()

	query := `
		UPDATE sessions SET
			display_name  = COALESCE($2, display_name),
			status        = COALESCE($3, status),
			credential    = COALESCE($4, credential),
			identity      = CASE WHEN $8::boolean THEN NULL ELSE COALESCE($5, identity) END,
			qr            = CASE WHEN $9::boolean THEN NULL ELSE COALESCE($6, qr) END,
			qr_expires_at = CASE WHEN $9::boolean THEN NULL ELSE COALESCE($7, qr_expires_at) END,
			updated_at    = CURRENT_TIMESTAMP
		WHERE name = $1
		RETURNING ` + sessionColumns

	session, err := scanSession(r.db.QueryRowContext(
		ctx,
		query,
		update.Name,
		update.DisplayName,
		update.Status,
		update.Credential,
		identityArg(update.Identity),
		update.QR,
		update.QRExpiresAt,
		update.ClearIdentity,
		update.ClearQR,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", update.Name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update session %s: %w", update.Name, err)
	}
	return session, nil
}

func identityArg(identity *models.Identity) interface{} {
	if identity == nil {
		return nil
	}
	return *identity
}

// GetByName retrieves a session of one tenant
func (r *sessionRepository) GetByName(ctx context.Context, tenantID int, name string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE name = $1 AND tenant_id = $2`

	session, err := scanSession(r.db.QueryRowContext(ctx, query, name, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// GetByNameAnyTenant retrieves a session regardless of tenant
func (r *sessionRepository) GetByNameAnyTenant(ctx context.Context, name string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE name = $1`

	session, err := scanSession(r.db.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// ListByTenant lists a tenant's sessions ordered by name
func (r *sessionRepository) ListByTenant(ctx context.Context, tenantID int) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE tenant_id = $1 ORDER BY name`
	return r.list(ctx, query, tenantID)
}

// ListByNames returns the tenant's sessions among names, preserving the order of names.
// Unknown names are skipped.
func (r *sessionRepository) ListByNames(ctx context.Context, tenantID int, names []string) ([]*models.Session, error) {
	if len(names) == 0 {
		return []*models.Session{}, nil
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE tenant_id = $1 AND name = ANY($2)`
	found, err := r.list(ctx, query, tenantID, pq.Array(names))
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*models.Session, len(found))
	for _, s := range found {
		byName[s.Name] = s
	}
	ordered := make([]*models.Session, 0, len(found))
	for _, name := range names {
		if s, ok := byName[name]; ok {
			ordered = append(ordered, s)
		}
	}
	return ordered, nil
}

// ListAll lists every session across tenants for the synchronizer
func (r *sessionRepository) ListAll(ctx context.Context) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY name`
	return r.list(ctx, query)
}

func (r *sessionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Session, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*models.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}

// Delete removes a session of one tenant
func (r *sessionRepository) Delete(ctx context.Context, tenantID int, name string) error {
	unlock, err := r.locker.Lock(ctx, "session:"+name)
	if err != nil {
		return fmt.Errorf("failed to lock session %s: %w", name, err)
	}
	defer unlock()

	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE name = $1 AND tenant_id = $2`, name, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session %s: %w", name, ErrNotFound)
	}
	return nil
}
