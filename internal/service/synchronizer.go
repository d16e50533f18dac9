package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"wacampaign/internal/lock"
	"wacampaign/internal/models"
	"wacampaign/internal/provider"
	"wacampaign/internal/repository"
)

// discoveryLockKey serializes provider C token adoption across synchronizer runs
const discoveryLockKey = "provider-c:discovery"

// Observation is what one sync cycle learned about a session from its provider
type Observation struct {
	At  time.Time
	Err error

	Status   models.SessionStatus
	Identity *models.Identity

	// MintedCredential is set when a provider C session had no token yet
	MintedCredential string
	// UnknownCredential means the provider no longer knows the stored token
	UnknownCredential bool
	// Remote lists the account's remote sessions not claimed by another local session
	Remote []provider.RemoteSession
}

// ReconcileOutcome names the decision Reconcile took
type ReconcileOutcome string

const (
	OutcomeUnchanged    ReconcileOutcome = "unchanged"
	OutcomeUpdated      ReconcileOutcome = "updated"
	OutcomeMinted       ReconcileOutcome = "minted"
	OutcomeAdopted      ReconcileOutcome = "adopted"
	OutcomeAwaitingScan ReconcileOutcome = "awaiting_scan"
	OutcomeAmbiguous    ReconcileOutcome = "ambiguous"
	OutcomeLost         ReconcileOutcome = "lost"
	OutcomeError        ReconcileOutcome = "error"
)

// Reconcile computes the next state of a session from one observation. It performs no I/O.
func Reconcile(current models.Session, obs Observation) (models.Session, ReconcileOutcome) {
	switch {
	case obs.Err != nil:
		return current, OutcomeError
	case obs.MintedCredential != "":
		if current.CredentialValue() != "" {
			return current, OutcomeUnchanged
		}
		next := current
		cred := obs.MintedCredential
		next.Credential = &cred
		return next, OutcomeMinted
	case obs.UnknownCredential:
		return discoverCredential(current, obs)
	default:
		return applyStatus(current, obs)
	}
}

func applyStatus(current models.Session, obs Observation) (models.Session, ReconcileOutcome) {
	next := current
	next.Status = obs.Status

	switch obs.Status {
	case models.SessionStatusWorking:
		next.Identity = firstIdentity(obs.Identity, current.Identity)
		next.QR, next.QRExpiresAt = nil, nil
	case models.SessionStatusConnectingQR:
		next.Identity = nil
		if current.QRExpiresAt != nil && !obs.At.Before(*current.QRExpiresAt) {
			next.QR, next.QRExpiresAt = nil, nil
		}
	default:
		next.Identity = nil
		next.QR, next.QRExpiresAt = nil, nil
	}

	if models.Diff(&current, &next).IsEmpty() {
		return current, OutcomeUnchanged
	}
	return next, OutcomeUpdated
}

// discoverCredential handles a provider C token the provider has forgotten. Only a session
// waiting for a scan may adopt a remote token, and only when exactly one unclaimed remote
// session is ready.
func discoverCredential(current models.Session, obs Observation) (models.Session, ReconcileOutcome) {
	if current.Status != models.SessionStatusConnectingQR {
		if current.Status != models.SessionStatusWorking {
			return current, OutcomeUnchanged
		}
		next := current
		next.Status = models.SessionStatusStopped
		next.Identity = nil
		return next, OutcomeLost
	}

	var ready []provider.RemoteSession
	for _, r := range obs.Remote {
		if r.Ready && r.Token != "" {
			ready = append(ready, r)
		}
	}

	switch len(ready) {
	case 0:
		return current, OutcomeAwaitingScan
	case 1:
		next := current
		token := ready[0].Token
		next.Credential = &token
		next.Status = models.SessionStatusWorking
		next.Identity = firstIdentity(ready[0].Identity, current.Identity)
		next.QR, next.QRExpiresAt = nil, nil
		return next, OutcomeAdopted
	default:
		return current, OutcomeAmbiguous
	}
}

func firstIdentity(candidates ...*models.Identity) *models.Identity {
	for _, id := range candidates {
		if id != nil {
			copied := *id
			return &copied
		}
	}
	return &models.Identity{}
}

// Synchronizer keeps the session registry in line with what providers report
type Synchronizer struct {
	sessions  repository.SessionRepository
	providers *provider.Set
	locker    lock.Locker
	interval  time.Duration
	now       func() time.Time
}

// NewSynchronizer creates a synchronizer. locker guards provider C token adoption and
// should be the same locker the session repository uses.
func NewSynchronizer(sessions repository.SessionRepository, providers *provider.Set, locker lock.Locker, interval time.Duration) *Synchronizer {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return &Synchronizer{
		sessions:  sessions,
		providers: providers,
		locker:    locker,
		interval:  interval,
		now:       time.Now,
	}
}

// Run syncs every session immediately and then on each interval until ctx is done
func (s *Synchronizer) Run(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Msg("Session synchronizer started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.SyncAll(ctx); err != nil {
			log.Error().Err(err).Msg("Session sync cycle failed")
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("Session synchronizer stopped")
			return
		case <-ticker.C:
		}
	}
}

// SyncAll reconciles every session of every tenant
func (s *Synchronizer) SyncAll(ctx context.Context) error {
	sessions, err := s.sessions.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	for _, session := range sessions {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.SyncSession(ctx, session)
	}
	return nil
}

// SyncSessions reconciles the named sessions, used before a campaign reads its pool
func (s *Synchronizer) SyncSessions(ctx context.Context, names []string) error {
	for _, name := range names {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		session, err := s.sessions.GetByNameAnyTenant(ctx, name)
		if errors.Is(err, repository.ErrNotFound) {
			log.Warn().Str("session", name).Msg("Skipping sync of unknown session")
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("session", name).Msg("Failed to load session for sync")
			continue
		}
		s.SyncSession(ctx, session)
	}
	return nil
}

// SyncSession reconciles one session and returns its state afterwards. Errors are logged,
// never returned, so one broken session cannot stop the others.
func (s *Synchronizer) SyncSession(ctx context.Context, session *models.Session) (result *models.Session) {
	result = session
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("session", session.Name).Msg("Recovered from panic while syncing session")
			result = session
		}
	}()

	if session.Provider == models.ProviderC {
		unlock, err := s.locker.Lock(ctx, discoveryLockKey)
		if err != nil {
			log.Warn().Err(err).Str("session", session.Name).Msg("Could not take discovery lock")
			return session
		}
		defer unlock()
	}

	obs := s.observe(ctx, session)
	next, outcome := Reconcile(*session, obs)

	logger := log.With().
		Str("session", session.Name).
		Str("provider", string(session.Provider)).
		Str("outcome", string(outcome)).
		Logger()

	switch outcome {
	case OutcomeError:
		logger.Warn().Err(obs.Err).Msg("Session sync failed, retrying next cycle")
		return session
	case OutcomeAmbiguous:
		logger.Warn().Int("remote", len(obs.Remote)).Msg("Several remote sessions are ready, cannot tell which one was paired")
		return session
	case OutcomeUnchanged, OutcomeAwaitingScan:
		logger.Debug().Str("status", string(session.Status)).Msg("Session in sync")
		return session
	}

	update := models.Diff(session, &next)
	if update.IsEmpty() {
		return session
	}
	saved, err := s.sessions.Update(ctx, update)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Debug().Msg("Session deleted during sync, dropping observation")
		return session
	}
	if err != nil {
		logger.Error().Err(err).Msg("Failed to store reconciled session")
		return session
	}

	logger.Info().
		Str("from", string(session.Status)).
		Str("to", string(saved.Status)).
		Msg("Session reconciled")
	return saved
}

func (s *Synchronizer) observe(ctx context.Context, session *models.Session) Observation {
	obs := Observation{At: s.now()}

	adapter, err := s.providers.Get(session.Provider)
	if err != nil {
		obs.Err = err
		return obs
	}

	if disc, ok := adapter.(provider.CredentialDiscoverer); ok {
		s.observeDiscoverable(ctx, session, disc, &obs)
		return obs
	}

	status, identity, err := adapter.GetStatus(ctx, provider.RefFor(session))
	if err != nil {
		obs.Err = err
		return obs
	}
	obs.Status, obs.Identity = status, identity
	return obs
}

func (s *Synchronizer) observeDiscoverable(ctx context.Context, session *models.Session, disc provider.CredentialDiscoverer, obs *Observation) {
	credential := session.CredentialValue()
	if credential == "" {
		obs.MintedCredential = disc.MintCredential()
		return
	}

	health, err := disc.CheckCredential(ctx, credential)
	switch {
	case errors.Is(err, provider.ErrUnknownCredential):
		obs.UnknownCredential = true
	case err != nil:
		obs.Err = err
		return
	default:
		obs.Status, obs.Identity = health.Status, health.Identity
		return
	}

	if session.Status != models.SessionStatusConnectingQR {
		return
	}

	remote, err := disc.ListAccountSessions(ctx)
	if err != nil {
		obs.Err = fmt.Errorf("failed to list account sessions: %w", err)
		return
	}
	claimed, err := s.claimedCredentials(ctx, session.Name)
	if err != nil {
		obs.Err = err
		return
	}
	for _, r := range remote {
		if !claimed[r.Token] {
			obs.Remote = append(obs.Remote, r)
		}
	}
}

// claimedCredentials returns the tokens already held by provider C sessions other than name
func (s *Synchronizer) claimedCredentials(ctx context.Context, name string) (map[string]bool, error) {
	all, err := s.sessions.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	claimed := make(map[string]bool)
	for _, other := range all {
		if other.Provider == models.ProviderC && other.Name != name && other.CredentialValue() != "" {
			claimed[other.CredentialValue()] = true
		}
	}
	return claimed, nil
}
