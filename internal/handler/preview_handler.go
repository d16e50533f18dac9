package handler

import (
	"net/http"

	"wacampaign/internal/models"
	"wacampaign/internal/service"
)

// PreviewHandler handles HTTP requests for message preview functionality
type PreviewHandler struct {
	campaignService *service.CampaignService
}

// NewPreviewHandler creates a new PreviewHandler instance
func NewPreviewHandler(campaignService *service.CampaignService) *PreviewHandler {
	return &PreviewHandler{
		campaignService: campaignService,
	}
}

// PreviewRequest represents the request body for message preview
type PreviewRequest struct {
	ContactID    int                 `json:"contact_id"`
	OverrideSpec *models.MessageSpec `json:"override_spec,omitempty"`
}

// Preview handles POST /campaigns/{id}/preview
// It renders every step of the campaign for one contact without sending anything.
func (h *PreviewHandler) Preview(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r)
	if !ok {
		return
	}
	campaignID, ok := pathID(w, r, "id", "campaign")
	if !ok {
		return
	}

	var req PreviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ContactID <= 0 {
		WriteValidationError(w, "contact_id is required and must be positive")
		return
	}

	result, err := h.campaignService.PreviewMessage(r.Context(), tenant, &service.PreviewMessageRequest{
		CampaignID:   campaignID,
		ContactID:    req.ContactID,
		OverrideSpec: req.OverrideSpec,
	})
	if err != nil {
		HandleServiceError(w, err)
		return
	}
	WriteOK(w, result)
}
