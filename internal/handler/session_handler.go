package handler

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/vincent-petithory/dataurl"

	"wacampaign/internal/models"
	"wacampaign/internal/service"
)

// SessionHandler handles HTTP requests for WhatsApp sessions
type SessionHandler struct {
	sessionService *service.SessionService
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessionService *service.SessionService) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
	}
}

// Create handles POST /sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r)
	if !ok {
		return
	}

	var req service.CreateSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.sessionService.Create(r.Context(), tenant, req)
	if err != nil {
		HandleServiceError(w, err)
		return
	}
	WriteCreated(w, session)
}

// List handles GET /sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r)
	if !ok {
		return
	}

	sessions, err := h.sessionService.List(r.Context(), tenant)
	if err != nil {
		HandleServiceError(w, err)
		return
	}
	WriteOK(w, ListSessionsResponse{Sessions: sessions})
}

// Get handles GET /sessions/{name}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, h.sessionService.Get)
}

// Start handles POST /sessions/{name}/start - begins pairing
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, h.sessionService.Start)
}

// Stop handles POST /sessions/{name}/stop
func (h *SessionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, h.sessionService.Stop)
}

func (h *SessionHandler) withSession(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, tenantID int, name string) (*models.Session, error)) {
	tenant, ok := tenantID(w, r)
	if !ok {
		return
	}

	session, err := op(r.Context(), tenant, mux.Vars(r)["name"])
	if err != nil {
		HandleServiceError(w, err)
		return
	}
	WriteOK(w, session)
}

// Delete handles DELETE /sessions/{name}
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r)
	if !ok {
		return
	}

	if err := h.sessionService.Delete(r.Context(), tenant, mux.Vars(r)["name"]); err != nil {
		HandleServiceError(w, err)
		return
	}
	WriteNoContent(w)
}

// QR handles GET /sessions/{name}/qr - serves the pending pairing code as a PNG
func (h *SessionHandler) QR(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r)
	if !ok {
		return
	}

	session, err := h.sessionService.Get(r.Context(), tenant, mux.Vars(r)["name"])
	if err != nil {
		HandleServiceError(w, err)
		return
	}
	if session.QR == nil {
		WriteNotFoundError(w, "session has no pending QR code")
		return
	}

	image, err := dataurl.DecodeString(*session.QR)
	if err != nil {
		HandleServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", image.ContentType())
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(image.Data)
}

// Sync handles POST /sessions/sync - refreshes every session of the tenant from its provider
func (h *SessionHandler) Sync(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r)
	if !ok {
		return
	}

	sessions, err := h.sessionService.Sync(r.Context(), tenant)
	if err != nil {
		HandleServiceError(w, err)
		return
	}
	WriteOK(w, ListSessionsResponse{Sessions: sessions})
}

// ListSessionsResponse represents the response for listing sessions
type ListSessionsResponse struct {
	Sessions []*models.Session `json:"sessions"`
}
