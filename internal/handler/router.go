package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"

	"wacampaign/internal/middleware"
)

// Handlers groups the HTTP handlers mounted by NewRouter
type Handlers struct {
	Health   *HealthHandler
	Sessions *SessionHandler
	Campaign *CampaignHandler
	Preview  *PreviewHandler
}

// NewRouter mounts every route. Everything under /api/v1 requires the tenant header.
func NewRouter(h Handlers) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/health", h.Health.HandleHealth).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Tenant)

	api.HandleFunc("/sessions", h.Sessions.Create).Methods(http.MethodPost)
	api.HandleFunc("/sessions", h.Sessions.List).Methods(http.MethodGet)
	api.HandleFunc("/sessions/sync", h.Sessions.Sync).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{name}", h.Sessions.Get).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{name}", h.Sessions.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{name}/start", h.Sessions.Start).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{name}/stop", h.Sessions.Stop).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{name}/qr", h.Sessions.QR).Methods(http.MethodGet)

	api.HandleFunc("/campaigns", h.Campaign.Create).Methods(http.MethodPost)
	api.HandleFunc("/campaigns", h.Campaign.List).Methods(http.MethodGet)
	api.HandleFunc("/campaigns/{id}", h.Campaign.GetByID).Methods(http.MethodGet)
	api.HandleFunc("/campaigns/{id}/start", h.Campaign.Start).Methods(http.MethodPost)
	api.HandleFunc("/campaigns/{id}/pause", h.Campaign.Pause).Methods(http.MethodPost)
	api.HandleFunc("/campaigns/{id}/resume", h.Campaign.Resume).Methods(http.MethodPost)
	api.HandleFunc("/campaigns/{id}/messages", h.Campaign.ListMessages).Methods(http.MethodGet)
	api.HandleFunc("/campaigns/{id}/preview", h.Preview.Preview).Methods(http.MethodPost)

	return alice.New(middleware.Recovery, middleware.RequestLogger).Then(router)
}
