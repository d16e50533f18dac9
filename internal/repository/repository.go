package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"wacampaign/internal/models"
)

// ErrNotFound is returned (wrapped) when a row does not exist in the caller's tenant
var ErrNotFound = errors.New("not found")

// SessionRepository is the session registry
type SessionRepository interface {
	Create(ctx context.Context, update *models.SessionUpdate) (*models.Session, error)
	// Update never inserts; a row deleted meanwhile stays deleted
	Update(ctx context.Context, update *models.SessionUpdate) (*models.Session, error)
	GetByName(ctx context.Context, tenantID int, name string) (*models.Session, error)
	// GetByNameAnyTenant is the privileged cross-tenant lookup used by background workers
	GetByNameAnyTenant(ctx context.Context, name string) (*models.Session, error)
	ListByTenant(ctx context.Context, tenantID int) ([]*models.Session, error)
	ListByNames(ctx context.Context, tenantID int, names []string) ([]*models.Session, error)
	ListAll(ctx context.Context) ([]*models.Session, error)
	Delete(ctx context.Context, tenantID int, name string) error
}

// CampaignRepository defines campaign data access operations
type CampaignRepository interface {
	Create(ctx context.Context, campaign *models.Campaign) error
	GetByID(ctx context.Context, tenantID, id int) (*models.Campaign, error)
	GetByIDAnyTenant(ctx context.Context, id int) (*models.Campaign, error)
	GetWithStats(ctx context.Context, tenantID, id int) (*models.CampaignWithStats, error)
	List(ctx context.Context, filters CampaignFilters) ([]*models.Campaign, int, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error)
	ListRunning(ctx context.Context, limit int) ([]*models.Campaign, error)
	GetStatus(ctx context.Context, id int) (models.CampaignStatus, error)
	// TransitionStatus moves the campaign only if it is currently in from
	TransitionStatus(ctx context.Context, id int, from, to models.CampaignStatus) (bool, error)
	// Activate moves a pending campaign to running and snapshots its recipients atomically
	Activate(ctx context.Context, id int, recipients []*models.CampaignMessage) (bool, error)
}

// CampaignFilters defines filters for listing campaigns
type CampaignFilters struct {
	TenantID int
	Page     int
	PageSize int
	Status   *models.CampaignStatus
}

// MessageRepository defines campaign recipient row operations
type MessageRepository interface {
	// ClaimNext atomically moves the oldest pending row to in_flight. Returns nil when none remain.
	ClaimNext(ctx context.Context, campaignID int, sessionName string) (*models.CampaignMessage, error)
	// RecordOutcome writes the terminal outcome of an in_flight row and bumps the campaign counter.
	// It reports false when the row was no longer in_flight.
	RecordOutcome(ctx context.Context, message *models.CampaignMessage, outcome models.MessageOutcome) (bool, error)
	// Touch is the delivery heartbeat; false means the row was swept or already recorded
	Touch(ctx context.Context, id int) (bool, error)
	FailStaleInFlight(ctx context.Context, campaignID int, olderThan time.Time) (int, error)
	CountByStatus(ctx context.Context, campaignID int) (models.CampaignStats, error)
	ListByCampaign(ctx context.Context, campaignID int, filters MessageFilters) ([]*models.CampaignMessage, int, error)
}

// MessageFilters defines filters for listing recipient rows
type MessageFilters struct {
	Page     int
	PageSize int
	Status   *models.MessageStatus
}

// ContactRepository reads contact records owned by the contact manager
type ContactRepository interface {
	GetByID(ctx context.Context, tenantID, id int) (*models.Contact, error)
	ListByTags(ctx context.Context, tenantID int, tagIDs []int64) ([]*models.Contact, error)
}

// DB is a wrapper around *sql.DB to allow passing in transaction
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func normalizePage(page, pageSize int) (limit, offset int) {
	limit = pageSize
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset = (page - 1) * limit
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
