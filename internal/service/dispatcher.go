package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"wacampaign/internal/models"
	"wacampaign/internal/provider"
	"wacampaign/internal/repository"
)

// SessionSyncer refreshes registry state for a set of sessions
type SessionSyncer interface {
	SyncSessions(ctx context.Context, names []string) error
}

// DispatcherConfig holds the dispatch policy
type DispatcherConfig struct {
	// SendTimeout bounds every reachability check and send
	SendTimeout time.Duration
	// StaleAfter is how long a row may stay in_flight without a heartbeat before it is
	// treated as interrupted. Long wait steps refresh the row every StaleAfter/3.
	StaleAfter time.Duration
	// SkipUnreachable fails recipients the provider reports as not on WhatsApp without sending.
	// A check that errors is not a report; those recipients are still sent to.
	SkipUnreachable bool
}

// Dispatcher drives running campaigns: one worker per working pool session pulls recipients
// from the campaign's shared pending queue.
type Dispatcher struct {
	campaigns repository.CampaignRepository
	messages  repository.MessageRepository
	sessions  repository.SessionRepository
	contacts  repository.ContactRepository
	providers *provider.Set
	sequencer *Sequencer
	syncer    SessionSyncer
	cfg       DispatcherConfig

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	int63 func(n int64) int64

	mu      sync.Mutex
	running map[int]bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(
	campaigns repository.CampaignRepository,
	messages repository.MessageRepository,
	sessions repository.SessionRepository,
	contacts repository.ContactRepository,
	providers *provider.Set,
	sequencer *Sequencer,
	syncer SessionSyncer,
	cfg DispatcherConfig,
) *Dispatcher {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	return &Dispatcher{
		campaigns: campaigns,
		messages:  messages,
		sessions:  sessions,
		contacts:  contacts,
		providers: providers,
		sequencer: sequencer,
		syncer:    syncer,
		cfg:       cfg,
		now:       time.Now,
		sleep:     sleepContext,
		int63:     rand.Int63n,
		running:   make(map[int]bool),
	}
}

const defaultHeartbeat = time.Minute

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Launch runs the campaign in the background unless this process already runs it.
// It reports whether a new run was started.
func (d *Dispatcher) Launch(ctx context.Context, campaignID int) bool {
	d.mu.Lock()
	if d.running[campaignID] {
		d.mu.Unlock()
		return false
	}
	d.running[campaignID] = true
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer func() {
			d.mu.Lock()
			delete(d.running, campaignID)
			d.mu.Unlock()
			d.wg.Done()
		}()
		if err := d.Run(ctx, campaignID); err != nil {
			log.Error().Err(err).Int("campaign_id", campaignID).Msg("Campaign dispatch stopped with error")
		}
	}()
	return true
}

// Wait blocks until every launched run has returned
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Run dispatches a running campaign until it completes, fails, is paused, or ctx ends
func (d *Dispatcher) Run(ctx context.Context, campaignID int) error {
	campaign, err := d.campaigns.GetByIDAnyTenant(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("failed to load campaign: %w", err)
	}
	logger := log.With().Int("campaign_id", campaign.ID).Int("tenant_id", campaign.TenantID).Logger()

	if campaign.Status != models.CampaignStatusRunning {
		logger.Info().Str("status", string(campaign.Status)).Msg("Campaign is not running, nothing to dispatch")
		return nil
	}

	if d.cfg.StaleAfter > 0 {
		n, err := d.messages.FailStaleInFlight(ctx, campaign.ID, d.now().Add(-d.cfg.StaleAfter))
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Warn().Int("count", n).Msg("Failed recipients interrupted by an earlier worker")
		}
	}

	logger.Info().Strs("pool", campaign.SessionPool).Msg("Campaign dispatch started")

	for {
		stats, err := d.messages.CountByStatus(ctx, campaign.ID)
		if err != nil {
			return err
		}
		if stats.Remaining() == 0 {
			return d.finish(ctx, logger, campaign.ID, models.CampaignStatusCompleted)
		}

		if d.syncer != nil {
			if err := d.syncer.SyncSessions(ctx, campaign.SessionPool); err != nil {
				logger.Warn().Err(err).Msg("Pool sync failed, using registry state")
			}
		}
		working, err := d.workingSessions(ctx, campaign)
		if err != nil {
			return err
		}
		if len(working) == 0 {
			if stats.Pending == 0 {
				// rows still in flight belong to another worker, which finishes the campaign
				return nil
			}
			logger.Error().Int("pending", stats.Pending).Msg("No working session left in the pool")
			return d.finish(ctx, logger, campaign.ID, models.CampaignStatusFailed)
		}

		if err := d.runWorkers(ctx, campaign, working); err != nil {
			return err
		}
		if ctx.Err() != nil {
			logger.Info().Msg("Campaign dispatch interrupted by shutdown")
			return nil
		}

		status, err := d.campaigns.GetStatus(ctx, campaign.ID)
		if err != nil {
			return err
		}
		if status != models.CampaignStatusRunning {
			logger.Info().Str("status", string(status)).Msg("Campaign dispatch stopped")
			return nil
		}

		stats, err = d.messages.CountByStatus(ctx, campaign.ID)
		if err != nil {
			return err
		}
		if stats.Pending == 0 {
			if stats.InFlight > 0 {
				return nil
			}
			return d.finish(ctx, logger, campaign.ID, models.CampaignStatusCompleted)
		}
		// recipients remain because a session dropped out; look at the pool again
	}
}

func (d *Dispatcher) finish(ctx context.Context, logger zerolog.Logger, campaignID int, to models.CampaignStatus) error {
	ok, err := d.campaigns.TransitionStatus(ctx, campaignID, models.CampaignStatusRunning, to)
	if err != nil {
		return err
	}
	if ok {
		logger.Info().Str("status", string(to)).Msg("Campaign finished")
	}
	return nil
}

// workingSessions returns the pool's working sessions in pool order
func (d *Dispatcher) workingSessions(ctx context.Context, campaign *models.Campaign) ([]*models.Session, error) {
	sessions, err := d.sessions.ListByNames(ctx, campaign.TenantID, campaign.SessionPool)
	if err != nil {
		return nil, fmt.Errorf("failed to load session pool: %w", err)
	}
	working := make([]*models.Session, 0, len(sessions))
	for _, s := range sessions {
		if s.IsWorking() && d.providers.Has(s.Provider) {
			working = append(working, s)
		}
	}
	return working, nil
}

func (d *Dispatcher) runWorkers(ctx context.Context, campaign *models.Campaign, sessions []*models.Session) error {
	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	for _, session := range sessions {
		wg.Add(1)
		go func(session *models.Session) {
			defer wg.Done()
			if err := d.work(ctx, campaign, session); err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
			}
		}(session)
	}
	wg.Wait()
	return firstErr
}

// work sends recipients through one session until the queue is empty, the session stops
// working, or the campaign leaves running. Checks happen between recipients only.
func (d *Dispatcher) work(ctx context.Context, campaign *models.Campaign, session *models.Session) error {
	logger := log.With().Int("campaign_id", campaign.ID).Str("session", session.Name).Logger()
	adapter, err := d.providers.Get(session.Provider)
	if err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		status, err := d.campaigns.GetStatus(ctx, campaign.ID)
		if err != nil {
			return err
		}
		if status != models.CampaignStatusRunning {
			logger.Debug().Str("status", string(status)).Msg("Worker stopping, campaign left running")
			return nil
		}

		current, err := d.sessions.GetByNameAnyTenant(ctx, session.Name)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if current == nil || !current.IsWorking() {
			logger.Warn().Msg("Session is no longer working, failing over to the rest of the pool")
			return nil
		}

		msg, err := d.messages.ClaimNext(ctx, campaign.ID, current.Name)
		if err != nil {
			return err
		}
		if msg == nil {
			return nil
		}

		// an in-flight recipient is finished even when shutdown has begun
		outcome := d.deliver(context.WithoutCancel(ctx), campaign, current, adapter, msg)
		recorded, err := d.messages.RecordOutcome(context.WithoutCancel(ctx), msg, outcome)
		if err != nil {
			return err
		}
		if !recorded {
			logger.Warn().Int("message_id", msg.ID).Msg("Recipient already had an outcome")
		}

		event := logger.Info()
		if outcome.Status == models.MessageStatusFailed {
			event = logger.Warn().Str("category", string(*outcome.ErrorCategory)).Str("detail", *outcome.ErrorDetail)
		}
		event.Int("message_id", msg.ID).Str("status", string(outcome.Status)).Msg("Recipient processed")

		if outcome.SessionLevel {
			d.markSessionFailed(ctx, logger, current, *outcome.ErrorCategory)
			return nil
		}

		if err := d.sleep(ctx, d.PacingDelay(campaign.Pacing)); err != nil {
			return nil
		}
	}
}

// PacingDelay draws the pause before a worker's next recipient, uniform in [0, pacing] seconds
func (d *Dispatcher) PacingDelay(pacing int) time.Duration {
	if pacing <= 0 {
		return 0
	}
	limit := int64(pacing) * int64(time.Second)
	return time.Duration(d.int63(limit + 1))
}

// deliver renders and sends every step to one recipient and returns the outcome to record
func (d *Dispatcher) deliver(ctx context.Context, campaign *models.Campaign, session *models.Session, adapter provider.Provider, msg *models.CampaignMessage) models.MessageOutcome {
	contact, err := d.contacts.GetByID(ctx, campaign.TenantID, msg.ContactID)
	if errors.Is(err, repository.ErrNotFound) {
		contact = &models.Contact{ID: msg.ContactID, TenantID: campaign.TenantID, Phone: msg.Phone}
	} else if err != nil {
		return models.FailedOutcome(session.Name, models.ErrorCategoryOther, fmt.Sprintf("failed to load contact: %v", err), "")
	}

	rendered, err := d.sequencer.Render(ctx, campaign.MessageSpec, contact)
	if err != nil {
		return models.FailedOutcome(session.Name, provider.CategoryOf(err), err.Error(), "")
	}

	ref := provider.RefFor(session)
	reachCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	reach := adapter.CheckRecipientReachable(reachCtx, ref, msg.Phone)
	cancel()
	if !reach.Known() {
		// the check could not be answered; let the send decide
		log.Debug().Err(reach.Err).Int("message_id", msg.ID).Str("session", session.Name).Msg("Reachability unknown, sending anyway")
	} else if !reach.Reachable && d.cfg.SkipUnreachable {
		return models.FailedOutcome(session.Name, models.ErrorCategoryInvalidRecipient, "recipient is not reachable on WhatsApp", rendered.Variation)
	}

	for i, step := range rendered.Steps {
		if step.IsWait() {
			if err := d.wait(ctx, msg, step.Wait); err != nil {
				return models.FailedOutcome(session.Name, models.ErrorCategoryOther, fmt.Sprintf("interrupted during wait step %d: %v", i, err), rendered.Variation)
			}
			continue
		}
		if !d.touch(ctx, msg) {
			return models.FailedOutcome(session.Name, models.ErrorCategoryOther, fmt.Sprintf("%v before step %d", errClaimLost, i), rendered.Variation)
		}

		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		_, err := adapter.Send(sendCtx, ref, msg.Phone, step.Payload)
		cancel()
		if err != nil {
			outcome := models.FailedOutcome(session.Name, provider.CategoryOf(err), fmt.Sprintf("step %d: %v", i, err), rendered.Variation)
			outcome.SessionLevel = provider.IsSessionLevel(err)
			return outcome
		}
	}

	return models.SentOutcome(session.Name, d.now(), rendered.Variation)
}

var errClaimLost = errors.New("recipient was reclaimed by a stale sweep")

// heartbeatEvery is the longest a worker sleeps without refreshing its claimed row
func (d *Dispatcher) heartbeatEvery() time.Duration {
	if every := d.cfg.StaleAfter / 3; every > 0 {
		return every
	}
	return defaultHeartbeat
}

// wait sleeps through a wait step in heartbeat-sized slices
func (d *Dispatcher) wait(ctx context.Context, msg *models.CampaignMessage, total time.Duration) error {
	every := d.heartbeatEvery()
	for total > 0 {
		slice := total
		if slice > every {
			slice = every
		}
		if err := d.sleep(ctx, slice); err != nil {
			return err
		}
		total -= slice
		if !d.touch(ctx, msg) {
			return errClaimLost
		}
	}
	return nil
}

// touch refreshes the claim. A failed write is logged and treated as still held;
// only a row that left in_flight ends the delivery.
func (d *Dispatcher) touch(ctx context.Context, msg *models.CampaignMessage) bool {
	held, err := d.messages.Touch(ctx, msg.ID)
	if err != nil {
		log.Warn().Err(err).Int("message_id", msg.ID).Msg("Failed to refresh in-flight recipient")
		return true
	}
	return held
}

func (d *Dispatcher) markSessionFailed(ctx context.Context, logger zerolog.Logger, session *models.Session, category models.ErrorCategory) {
	failed := models.SessionStatusFailed
	_, err := d.sessions.Update(ctx, &models.SessionUpdate{
		Name:          session.Name,
		Status:        &failed,
		ClearIdentity: session.Identity != nil,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to mark session failed")
		return
	}
	logger.Error().Str("category", string(category)).Msg("Session marked failed after a session-level send error")
}
