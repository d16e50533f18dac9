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

// DispatchPublisher hands a running campaign to the worker process
type DispatchPublisher interface {
	PublishDispatch(ctx context.Context, campaignID int) error
}

// CampaignService handles campaign business logic
type CampaignService struct {
	campaignRepo repository.CampaignRepository
	messageRepo  repository.MessageRepository
	sessionRepo  repository.SessionRepository
	contactRepo  repository.ContactRepository
	sequencer    *Sequencer
	publisher    DispatchPublisher
}

// NewCampaignService creates a new campaign service. publisher may be nil when the caller
// launches dispatch itself.
func NewCampaignService(
	campaignRepo repository.CampaignRepository,
	messageRepo repository.MessageRepository,
	sessionRepo repository.SessionRepository,
	contactRepo repository.ContactRepository,
	sequencer *Sequencer,
	publisher DispatchPublisher,
) *CampaignService {
	return &CampaignService{
		campaignRepo: campaignRepo,
		messageRepo:  messageRepo,
		sessionRepo:  sessionRepo,
		contactRepo:  contactRepo,
		sequencer:    sequencer,
		publisher:    publisher,
	}
}

// CreateCampaign validates and stores a campaign. Unscheduled campaigns start right away.
func (s *CampaignService) CreateCampaign(ctx context.Context, tenantID int, req *CreateCampaignRequest) (*models.Campaign, error) {
	campaign := &models.Campaign{
		TenantID:    tenantID,
		Name:        strings.TrimSpace(req.Name),
		TargetTags:  req.TargetTags,
		SessionPool: req.SessionPool,
		MessageSpec: req.MessageSpec,
		Pacing:      req.Pacing,
		ScheduledAt: req.ScheduledAt,
		Status:      models.CampaignStatusPending,
	}
	if err := campaign.Validate(); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	pool, err := s.sessionRepo.ListByNames(ctx, tenantID, campaign.SessionPool)
	if err != nil {
		return nil, fmt.Errorf("failed to load session pool: %w", err)
	}
	if len(pool) != len(campaign.SessionPool) {
		return nil, &ValidationError{Message: fmt.Sprintf("session pool references %s outside this tenant", strings.Join(missingSessions(campaign.SessionPool, pool), ", "))}
	}

	if err := s.campaignRepo.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}
	log.Info().Int("campaign_id", campaign.ID).Int("tenant_id", tenantID).Bool("scheduled", campaign.ScheduledAt != nil).Msg("Campaign created")

	if campaign.IsDue(time.Now()) {
		if err := s.start(ctx, campaign); err != nil {
			return nil, err
		}
	}
	return campaign, nil
}

func missingSessions(names []string, found []*models.Session) []string {
	have := make(map[string]bool, len(found))
	for _, s := range found {
		have[s.Name] = true
	}
	var missing []string
	for _, name := range names {
		if !have[name] {
			missing = append(missing, name)
		}
	}
	return missing
}

// GetCampaign retrieves a campaign of the tenant
func (s *CampaignService) GetCampaign(ctx context.Context, tenantID, id int) (*models.Campaign, error) {
	campaign, err := s.campaignRepo.GetByID(ctx, tenantID, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "campaign", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return campaign, nil
}

// GetCampaignWithStats retrieves a campaign with statistics
func (s *CampaignService) GetCampaignWithStats(ctx context.Context, tenantID, id int) (*models.CampaignWithStats, error) {
	campaign, err := s.campaignRepo.GetWithStats(ctx, tenantID, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "campaign", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return campaign, nil
}

// ListCampaigns lists campaigns with filters
func (s *CampaignService) ListCampaigns(ctx context.Context, filters repository.CampaignFilters) ([]*models.Campaign, *PaginationInfo, error) {
	campaigns, total, err := s.campaignRepo.List(ctx, filters)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	return campaigns, newPagination(filters.Page, filters.PageSize, total), nil
}

// StartCampaign moves a pending campaign to running ahead of its schedule
func (s *CampaignService) StartCampaign(ctx context.Context, tenantID, id int) (*models.Campaign, error) {
	campaign, err := s.GetCampaign(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if campaign.Status != models.CampaignStatusPending {
		return nil, &BusinessLogicError{Message: fmt.Sprintf("campaign cannot be started: status is %s", campaign.Status)}
	}
	if err := s.start(ctx, campaign); err != nil {
		return nil, err
	}
	return campaign, nil
}

func (s *CampaignService) start(ctx context.Context, campaign *models.Campaign) error {
	if err := s.Activate(ctx, campaign); err != nil {
		return err
	}
	s.publish(ctx, campaign.ID)
	return nil
}

// Activate snapshots the audience and moves the campaign from pending to running.
// It does not launch dispatch.
func (s *CampaignService) Activate(ctx context.Context, campaign *models.Campaign) error {
	recipients, err := s.snapshotRecipients(ctx, campaign)
	if err != nil {
		return err
	}

	ok, err := s.campaignRepo.Activate(ctx, campaign.ID, recipients)
	if err != nil {
		return fmt.Errorf("failed to activate campaign: %w", err)
	}
	if !ok {
		return &ConflictError{Resource: "campaign", Message: fmt.Sprintf("campaign %d is no longer pending", campaign.ID)}
	}

	campaign.Status = models.CampaignStatusRunning
	campaign.TotalRecipients = len(recipients)
	log.Info().Int("campaign_id", campaign.ID).Int("recipients", len(recipients)).Msg("Campaign activated")
	return nil
}

// snapshotRecipients builds one pending row per contact carrying any target tag
func (s *CampaignService) snapshotRecipients(ctx context.Context, campaign *models.Campaign) ([]*models.CampaignMessage, error) {
	contacts, err := s.contactRepo.ListByTags(ctx, campaign.TenantID, campaign.TargetTags)
	if err != nil {
		return nil, fmt.Errorf("failed to load audience: %w", err)
	}

	seen := make(map[int]bool, len(contacts))
	recipients := make([]*models.CampaignMessage, 0, len(contacts))
	for _, contact := range contacts {
		if seen[contact.ID] {
			continue
		}
		seen[contact.ID] = true

		phone := provider.NormalizePhone(contact.Phone)
		if phone == "" {
			log.Warn().Int("campaign_id", campaign.ID).Int("contact_id", contact.ID).Msg("Skipping contact without a usable phone number")
			continue
		}
		recipients = append(recipients, &models.CampaignMessage{
			CampaignID: campaign.ID,
			ContactID:  contact.ID,
			Phone:      phone,
			Status:     models.MessageStatusPending,
		})
	}
	return recipients, nil
}

// PauseCampaign stops workers from taking new recipients
func (s *CampaignService) PauseCampaign(ctx context.Context, tenantID, id int) (*models.Campaign, error) {
	return s.transition(ctx, tenantID, id, models.CampaignStatusRunning, models.CampaignStatusPaused)
}

// ResumeCampaign continues a paused campaign from its first pending recipient
func (s *CampaignService) ResumeCampaign(ctx context.Context, tenantID, id int) (*models.Campaign, error) {
	campaign, err := s.transition(ctx, tenantID, id, models.CampaignStatusPaused, models.CampaignStatusRunning)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, campaign.ID)
	return campaign, nil
}

func (s *CampaignService) transition(ctx context.Context, tenantID, id int, from, to models.CampaignStatus) (*models.Campaign, error) {
	campaign, err := s.GetCampaign(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if campaign.Status != from {
		return nil, &BusinessLogicError{Message: fmt.Sprintf("campaign cannot move to %s: status is %s", to, campaign.Status)}
	}

	ok, err := s.campaignRepo.TransitionStatus(ctx, id, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to update campaign status: %w", err)
	}
	if !ok {
		return nil, &ConflictError{Resource: "campaign", Message: fmt.Sprintf("campaign %d changed status concurrently", id)}
	}

	campaign.Status = to
	log.Info().Int("campaign_id", id).Str("from", string(from)).Str("to", string(to)).Msg("Campaign status changed")
	return campaign, nil
}

// publish is best effort: the worker's scheduler also resumes running campaigns
func (s *CampaignService) publish(ctx context.Context, campaignID int) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishDispatch(ctx, campaignID); err != nil {
		log.Warn().Err(err).Int("campaign_id", campaignID).Msg("Failed to publish dispatch job, scheduler will pick it up")
	}
}

// ListMessages lists a campaign's recipient rows
func (s *CampaignService) ListMessages(ctx context.Context, tenantID, id int, filters repository.MessageFilters) ([]*models.CampaignMessage, *PaginationInfo, error) {
	if _, err := s.GetCampaign(ctx, tenantID, id); err != nil {
		return nil, nil, err
	}
	messages, total, err := s.messageRepo.ListByCampaign(ctx, id, filters)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list campaign messages: %w", err)
	}
	return messages, newPagination(filters.Page, filters.PageSize, total), nil
}

// PreviewMessage renders the campaign's steps for one contact without sending
func (s *CampaignService) PreviewMessage(ctx context.Context, tenantID int, req *PreviewMessageRequest) (*PreviewMessageResult, error) {
	campaign, err := s.GetCampaign(ctx, tenantID, req.CampaignID)
	if err != nil {
		return nil, err
	}

	contact, err := s.contactRepo.GetByID(ctx, tenantID, req.ContactID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "contact", ID: req.ContactID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}

	spec := campaign.MessageSpec
	if req.OverrideSpec != nil {
		if err := req.OverrideSpec.Validate(); err != nil {
			return nil, &ValidationError{Message: fmt.Sprintf("invalid message spec: %v", err)}
		}
		spec = *req.OverrideSpec
	}

	rendered, err := s.sequencer.Render(ctx, spec, contact)
	if err != nil {
		return nil, &BusinessLogicError{Message: fmt.Sprintf("failed to render message: %v", err)}
	}

	result := &PreviewMessageResult{
		Variation: rendered.Variation,
		Steps:     make([]PreviewStep, 0, len(rendered.Steps)),
	}
	result.Contact.ID = contact.ID
	result.Contact.Name = contact.DisplayName()
	for _, step := range rendered.Steps {
		result.Steps = append(result.Steps, PreviewStep{
			Kind:        step.Kind,
			Text:        step.Payload.Text,
			MediaURL:    step.Payload.MediaURL,
			Caption:     step.Payload.Caption,
			FileName:    step.Payload.FileName,
			WaitSeconds: int(step.Wait / time.Second),
		})
	}
	return result, nil
}

// Request/Response types

// CreateCampaignRequest represents a request to create a campaign
type CreateCampaignRequest struct {
	Name        string             `json:"name"`
	TargetTags  []int64            `json:"target_tags"`
	SessionPool []string           `json:"session_pool"`
	MessageSpec models.MessageSpec `json:"message_spec"`
	Pacing      int                `json:"pacing"`
	ScheduledAt *time.Time         `json:"scheduled_at,omitempty"`
}

// PreviewMessageRequest represents a request to preview a message
type PreviewMessageRequest struct {
	CampaignID   int                 `json:"campaign_id"`
	ContactID    int                 `json:"contact_id"`
	OverrideSpec *models.MessageSpec `json:"override_spec,omitempty"`
}

// PreviewStep is one rendered step of a preview
type PreviewStep struct {
	Kind        models.StepKind `json:"kind"`
	Text        string          `json:"text,omitempty"`
	MediaURL    string          `json:"media_url,omitempty"`
	Caption     string          `json:"caption,omitempty"`
	FileName    string          `json:"file_name,omitempty"`
	WaitSeconds int             `json:"wait_seconds,omitempty"`
}

// PreviewMessageResult represents the result of previewing a message
type PreviewMessageResult struct {
	Steps     []PreviewStep `json:"steps"`
	Variation string        `json:"variation,omitempty"`
	Contact   struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"contact"`
}

// PaginationInfo represents pagination metadata
type PaginationInfo struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}

func newPagination(page, pageSize, total int) *PaginationInfo {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	if page <= 0 {
		page = 1
	}
	return &PaginationInfo{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: (total + pageSize - 1) / pageSize,
	}
}
