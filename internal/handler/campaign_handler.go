package handler

import (
	"context"
	"net/http"

	"wacampaign/internal/models"
	"wacampaign/internal/repository"
	"wacampaign/internal/service"
)

// CampaignHandler handles HTTP requests for campaign operations
type CampaignHandler struct {
	campaignService *service.CampaignService
}

// NewCampaignHandler creates a new campaign handler
func NewCampaignHandler(campaignService *service.CampaignService) *CampaignHandler {
	return &CampaignHandler{
		campaignService: campaignService,
	}
}

// Create handles POST /campaigns - creates a campaign and starts it unless it is scheduled
func (h *CampaignHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r)
	if !ok {
		return
	}

	var req service.CreateCampaignRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	campaign, err := h.campaignService.CreateCampaign(r.Context(), tenant, &req)
	if err != nil {
		HandleServiceError(w, err)
		return
	}
	WriteCreated(w, campaign)
}

// List handles GET /campaigns - lists campaigns with filters
func (h *CampaignHandler) List(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r)
	if !ok {
		return
	}

	page, perPage := pageParams(r)
	filters := repository.CampaignFilters{
		TenantID: tenant,
		Page:     page,
		PageSize: perPage,
	}

	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		status, err := models.ParseCampaignStatus(statusStr)
		if err != nil {
			WriteValidationError(w, err.Error())
			return
		}
		filters.Status = &status
	}

	campaigns, pagination, err := h.campaignService.ListCampaigns(r.Context(), filters)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, ListCampaignsResponse{
		Campaigns:  campaigns,
		Pagination: pagination,
	})
}

// GetByID handles GET /campaigns/{id} - gets a campaign with its recipient counts
func (h *CampaignHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id", "campaign")
	if !ok {
		return
	}

	campaign, err := h.campaignService.GetCampaignWithStats(r.Context(), tenant, id)
	if err != nil {
		HandleServiceError(w, err)
		return
	}
	WriteOK(w, campaign)
}

// Start handles POST /campaigns/{id}/start - starts a pending campaign now
func (h *CampaignHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.campaignService.StartCampaign)
}

// Pause handles POST /campaigns/{id}/pause
func (h *CampaignHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.campaignService.PauseCampaign)
}

// Resume handles POST /campaigns/{id}/resume
func (h *CampaignHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.campaignService.ResumeCampaign)
}

type statusChange func(ctx context.Context, tenantID, id int) (*models.Campaign, error)

func (h *CampaignHandler) changeStatus(w http.ResponseWriter, r *http.Request, change statusChange) {
	tenant, ok := tenantID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id", "campaign")
	if !ok {
		return
	}

	campaign, err := change(r.Context(), tenant, id)
	if err != nil {
		HandleServiceError(w, err)
		return
	}
	WriteOK(w, campaign)
}

var messageStatuses = map[string]models.MessageStatus{
	"pending":   models.MessageStatusPending,
	"in_flight": models.MessageStatusInFlight,
	"sent":      models.MessageStatusSent,
	"failed":    models.MessageStatusFailed,
}

// ListMessages handles GET /campaigns/{id}/messages - lists per-recipient outcomes
func (h *CampaignHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id", "campaign")
	if !ok {
		return
	}

	page, perPage := pageParams(r)
	filters := repository.MessageFilters{Page: page, PageSize: perPage}
	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		status, ok := messageStatuses[statusStr]
		if !ok {
			WriteValidationError(w, "invalid status: must be one of pending, in_flight, sent, failed")
			return
		}
		filters.Status = &status
	}

	messages, pagination, err := h.campaignService.ListMessages(r.Context(), tenant, id, filters)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, ListMessagesResponse{
		Messages:   messages,
		Pagination: pagination,
	})
}

// Request/Response types

// ListCampaignsResponse represents the response for listing campaigns
type ListCampaignsResponse struct {
	Campaigns  []*models.Campaign      `json:"campaigns"`
	Pagination *service.PaginationInfo `json:"pagination"`
}

// ListMessagesResponse represents the response for listing campaign recipients
type ListMessagesResponse struct {
	Messages   []*models.CampaignMessage `json:"messages"`
	Pagination *service.PaginationInfo   `json:"pagination"`
}
