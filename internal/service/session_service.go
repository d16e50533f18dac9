package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"wacampaign/internal/models"
	"wacampaign/internal/provider"
	"wacampaign/internal/repository"
)

// CreateSessionRequest represents the request to register a new session
type CreateSessionRequest struct {
	Slug        string          `json:"slug"`
	DisplayName string          `json:"display_name"`
	Provider    models.Provider `json:"provider"`
}

// SessionService orchestrates session lifecycle between the registry and the providers
type SessionService struct {
	sessions  repository.SessionRepository
	providers *provider.Set
	syncer    *Synchronizer
	qrTTL     time.Duration
	now       func() time.Time
}

// NewSessionService creates a new session service
func NewSessionService(sessions repository.SessionRepository, providers *provider.Set, syncer *Synchronizer, qrTTL time.Duration) *SessionService {
	if qrTTL <= 0 {
		qrTTL = time.Minute
	}
	return &SessionService{
		sessions:  sessions,
		providers: providers,
		syncer:    syncer,
		qrTTL:     qrTTL,
		now:       time.Now,
	}
}

// Create registers the session with its provider and stores it in its initial status
func (s *SessionService) Create(ctx context.Context, tenantID int, req CreateSessionRequest) (*models.Session, error) {
	slug := strings.ToLower(strings.TrimSpace(req.Slug))
	if !models.ValidSlug(slug) {
		return nil, &ValidationError{Message: "slug must be 1-48 lowercase letters, digits or dashes"}
	}
	if !req.Provider.IsValid() {
		return nil, &ValidationError{Message: "provider must be one of a, b, c"}
	}
	adapter, err := s.providers.Get(req.Provider)
	if err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	name := models.SessionName(tenantID, slug)
	existing, err := s.sessions.GetByNameAnyTenant(ctx, name)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to check session: %w", err)
	}
	if existing != nil {
		return nil, &ConflictError{Resource: "session", Message: fmt.Sprintf("session %s already exists", name)}
	}

	ref, err := adapter.CreateSession(ctx, name)
	if err != nil {
		return nil, &BusinessLogicError{Message: fmt.Sprintf("provider rejected session: %v", err)}
	}

	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = slug
	}
	status := models.InitialSessionStatus(req.Provider)
	update := &models.SessionUpdate{
		Name:        name,
		TenantID:    &tenantID,
		Provider:    &req.Provider,
		DisplayName: &displayName,
		Status:      &status,
	}
	if ref.Credential != "" {
		update.Credential = &ref.Credential
	}

	session, err := s.sessions.Create(ctx, update)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	log.Info().Str("session", name).Str("provider", string(req.Provider)).Int("tenant_id", tenantID).Msg("Session created")
	return session, nil
}

// Get returns one session of the tenant
func (s *SessionService) Get(ctx context.Context, tenantID int, name string) (*models.Session, error) {
	session, err := s.sessions.GetByName(ctx, tenantID, name)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "session", Key: name}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// List returns the tenant's sessions
func (s *SessionService) List(ctx context.Context, tenantID int) ([]*models.Session, error) {
	sessions, err := s.sessions.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// Start begins pairing and caches the QR. Provider C pairing is serialized per account:
// a start is refused while another provider C session is waiting for its scan, because
// a second concurrent pairing could not be told apart during credential discovery.
func (s *SessionService) Start(ctx context.Context, tenantID int, name string) (*models.Session, error) {
	session, err := s.Get(ctx, tenantID, name)
	if err != nil {
		return nil, err
	}
	if session.IsWorking() {
		return nil, &BusinessLogicError{Message: fmt.Sprintf("session %s is already working", name)}
	}
	adapter, err := s.providers.Get(session.Provider)
	if err != nil {
		return nil, &BusinessLogicError{Message: err.Error()}
	}

	if session.Provider == models.ProviderC {
		if err := s.ensurePairingSlot(ctx, session); err != nil {
			return nil, err
		}
		if session.CredentialValue() == "" {
			disc, ok := adapter.(provider.CredentialDiscoverer)
			if !ok {
				return nil, fmt.Errorf("provider c adapter cannot mint credentials")
			}
			token := disc.MintCredential()
			session, err = s.sessions.Update(ctx, &models.SessionUpdate{Name: name, Credential: &token})
			if err != nil {
				return nil, fmt.Errorf("failed to store credential: %w", err)
			}
		}
	}

	result, err := adapter.StartSession(ctx, provider.RefFor(session))
	if err != nil {
		return nil, &BusinessLogicError{Message: fmt.Sprintf("failed to start session: %v", err)}
	}

	update := &models.SessionUpdate{Name: name, Status: &result.Status}
	if qr := result.QRDataURL(); qr != "" && result.Status == models.SessionStatusConnectingQR {
		expires := s.now().Add(s.qrTTL)
		update.QR, update.QRExpiresAt = &qr, &expires
	} else if session.QR != nil {
		update.ClearQR = true
	}
	if result.Status == models.SessionStatusWorking {
		// identity comes from the provider; let the synchronizer fetch it
		update.Status = nil
	}

	session, err = s.sessions.Update(ctx, update)
	if err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	if result.Status == models.SessionStatusWorking && s.syncer != nil {
		session = s.syncer.SyncSession(ctx, session)
	}

	log.Info().Str("session", name).Str("status", string(result.Status)).Bool("qr", session.QR != nil).Msg("Session started")
	return session, nil
}

func (s *SessionService) ensurePairingSlot(ctx context.Context, session *models.Session) error {
	all, err := s.sessions.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	now := s.now()
	for _, other := range all {
		if other.Name == session.Name || other.Provider != models.ProviderC {
			continue
		}
		if other.Status != models.SessionStatusConnectingQR {
			continue
		}
		if other.QRExpiresAt != nil && now.After(*other.QRExpiresAt) {
			continue
		}
		return &ConflictError{
			Resource: "session",
			Message:  "another provider C session is waiting for its QR scan; retry once it is paired or its code expires",
		}
	}
	return nil
}

// Stop stops the remote session. Provider failures are logged and the local row is stopped anyway.
func (s *SessionService) Stop(ctx context.Context, tenantID int, name string) (*models.Session, error) {
	session, err := s.Get(ctx, tenantID, name)
	if err != nil {
		return nil, err
	}
	if adapter, err := s.providers.Get(session.Provider); err == nil {
		if err := adapter.StopSession(ctx, provider.RefFor(session)); err != nil {
			log.Warn().Err(err).Str("session", name).Msg("Remote stop failed, stopping locally")
		}
	}

	stopped := models.SessionStatusStopped
	session, err = s.sessions.Update(ctx, &models.SessionUpdate{
		Name:          name,
		Status:        &stopped,
		ClearIdentity: session.Identity != nil,
		ClearQR:       session.QR != nil,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to stop session: %w", err)
	}
	return session, nil
}

// Delete removes the session locally and, best effort, on its provider
func (s *SessionService) Delete(ctx context.Context, tenantID int, name string) error {
	session, err := s.Get(ctx, tenantID, name)
	if err != nil {
		return err
	}
	if adapter, err := s.providers.Get(session.Provider); err == nil {
		if err := adapter.DeleteSession(ctx, provider.RefFor(session)); err != nil {
			log.Warn().Err(err).Str("session", name).Msg("Remote delete failed, deleting locally")
		}
	}

	if err := s.sessions.Delete(ctx, tenantID, name); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &NotFoundError{Resource: "session", Key: name}
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}
	log.Info().Str("session", name).Msg("Session deleted")
	return nil
}

// Sync reconciles every session of the tenant now and returns the refreshed list
func (s *SessionService) Sync(ctx context.Context, tenantID int) ([]*models.Session, error) {
	sessions, err := s.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if s.syncer == nil {
		return sessions, nil
	}
	for i, session := range sessions {
		sessions[i] = s.syncer.SyncSession(ctx, session)
	}
	return sessions, nil
}
