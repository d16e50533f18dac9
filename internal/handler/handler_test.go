package handler

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/skip2/go-qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vincent-petithory/dataurl"

	"wacampaign/internal/lock"
	"wacampaign/internal/media"
	"wacampaign/internal/provider"
	"wacampaign/internal/repository"
	"wacampaign/internal/service"
)

const testTenant = "7"

var sessionRowColumns = []string{
	"name", "display_name", "provider", "status", "credential", "identity",
	"qr", "qr_expires_at", "tenant_id", "created_at", "updated_at",
}

// setupRouter wires real repositories and services on top of a sqlmock database
func setupRouter(t *testing.T) (http.Handler, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	locker := lock.NewLocalLocker()
	sessionRepo := repository.NewSessionRepository(db, locker)
	campaignRepo := repository.NewCampaignRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	contactRepo := repository.NewContactRepository(db)

	providers := provider.NewSet()
	syncer := service.NewSynchronizer(sessionRepo, providers, locker, time.Minute)
	sessionSvc := service.NewSessionService(sessionRepo, providers, syncer, time.Minute)

	sequencer := service.NewSequencer(service.NewTemplateService(), media.PassthroughResolver{}, nil)
	campaignSvc := service.NewCampaignService(campaignRepo, messageRepo, sessionRepo, contactRepo, sequencer, nil)

	router := NewRouter(Handlers{
		Health:   NewHealthHandler(service.NewHealthService(db, "", nil, []string{"a"}, "test")),
		Sessions: NewSessionHandler(sessionSvc),
		Campaign: NewCampaignHandler(campaignSvc),
		Preview:  NewPreviewHandler(campaignSvc),
	})
	return router, mock
}

func doRequest(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", testTenant)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return body.Error.Code
}

func sessionRow(rows *sqlmock.Rows, name string, qr interface{}) *sqlmock.Rows {
	now := time.Now()
	return rows.AddRow(name, "Support", "b", "connecting_qr", nil, nil, qr, nil, 7, now, now)
}

func TestRouter_MissingTenant(t *testing.T) {
	router, mock := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "MISSING_TENANT", errorCode(t, resp))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionHandler_List(t *testing.T) {
	router, mock := setupRouter(t)

	rows := sqlmock.NewRows(sessionRowColumns)
	sessionRow(rows, "t7_support", nil)
	now := time.Now()
	rows.AddRow("t7_sales", "Sales", "a", "working", "secret", []byte(`{"remote_id":"254700000001","push_name":"Sales"}`), nil, nil, 7, now, now)
	mock.ExpectQuery("SELECT .+ FROM sessions WHERE tenant_id = \\$1 ORDER BY name").
		WithArgs(7).
		WillReturnRows(rows)

	resp := doRequest(t, router, http.MethodGet, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Sessions []map[string]interface{} `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Sessions, 2)
	assert.Equal(t, "t7_support", body.Sessions[0]["name"])
	assert.Equal(t, "working", body.Sessions[1]["status"])
	assert.NotContains(t, body.Sessions[1], "credential")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionHandler_GetNotFound(t *testing.T) {
	router, mock := setupRouter(t)

	mock.ExpectQuery("SELECT .+ FROM sessions WHERE name = \\$1 AND tenant_id = \\$2").
		WithArgs("t7_missing", 7).
		WillReturnRows(sqlmock.NewRows(sessionRowColumns))

	resp := doRequest(t, router, http.MethodGet, "/api/v1/sessions/t7_missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "RESOURCE_NOT_FOUND", errorCode(t, resp))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionHandler_CreateValidation(t *testing.T) {
	router, mock := setupRouter(t)

	tests := []struct {
		name string
		body interface{}
		code string
	}{
		{"invalid slug", map[string]string{"slug": "Bad Slug!", "provider": "a"}, "VALIDATION_ERROR"},
		{"unknown provider", map[string]string{"slug": "support", "provider": "z"}, "VALIDATION_ERROR"},
		{"provider not configured", map[string]string{"slug": "support", "provider": "a"}, "VALIDATION_ERROR"},
		{"invalid json", `{"slug":`, "INVALID_JSON"},
		{"empty body", "", "INVALID_JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, router, http.MethodPost, "/api/v1/sessions", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.Code)
			assert.Equal(t, tt.code, errorCode(t, resp))
		})
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionHandler_QR(t *testing.T) {
	t.Run("serves png", func(t *testing.T) {
		router, mock := setupRouter(t)

		code, err := qrcode.Encode("pair-me", qrcode.Medium, 128)
		require.NoError(t, err)
		rows := sqlmock.NewRows(sessionRowColumns)
		sessionRow(rows, "t7_support", dataurl.New(code, "image/png").String())
		mock.ExpectQuery("SELECT .+ FROM sessions WHERE name = \\$1").
			WithArgs("t7_support", 7).
			WillReturnRows(rows)

		resp := doRequest(t, router, http.MethodGet, "/api/v1/sessions/t7_support/qr", nil)
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, "image/png", resp.Header().Get("Content-Type"))
		_, err = png.Decode(resp.Body)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no pending code", func(t *testing.T) {
		router, mock := setupRouter(t)

		rows := sqlmock.NewRows(sessionRowColumns)
		sessionRow(rows, "t7_support", nil)
		mock.ExpectQuery("SELECT .+ FROM sessions WHERE name = \\$1").
			WithArgs("t7_support", 7).
			WillReturnRows(rows)

		resp := doRequest(t, router, http.MethodGet, "/api/v1/sessions/t7_support/qr", nil)
		assert.Equal(t, http.StatusNotFound, resp.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func validCampaignBody() map[string]interface{} {
	return map[string]interface{}{
		"name":         "Launch",
		"target_tags":  []int{1},
		"session_pool": []string{"t7_support"},
		"message_spec": map[string]interface{}{"kind": "text", "body": "Hi {name}"},
	}
}

func TestCampaignHandler_CreateValidation(t *testing.T) {
	router, mock := setupRouter(t)

	tests := []struct {
		name   string
		mutate func(map[string]interface{})
	}{
		{"missing name", func(b map[string]interface{}) { b["name"] = "  " }},
		{"no target tags", func(b map[string]interface{}) { b["target_tags"] = []int{} }},
		{"empty session pool", func(b map[string]interface{}) { b["session_pool"] = []string{} }},
		{"duplicate session", func(b map[string]interface{}) { b["session_pool"] = []string{"t7_a", "t7_a"} }},
		{"negative pacing", func(b map[string]interface{}) { b["pacing"] = -1 }},
		{"wait only spec", func(b map[string]interface{}) {
			b["message_spec"] = map[string]interface{}{"kind": "wait", "seconds": 3}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := validCampaignBody()
			tt.mutate(body)

			resp := doRequest(t, router, http.MethodPost, "/api/v1/campaigns", body)
			assert.Equal(t, http.StatusBadRequest, resp.Code)
			assert.Equal(t, "VALIDATION_ERROR", errorCode(t, resp))
		})
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignHandler_CreateForeignSession(t *testing.T) {
	router, mock := setupRouter(t)

	mock.ExpectQuery("SELECT .+ FROM sessions WHERE tenant_id = \\$1 AND name = ANY").
		WithArgs(7, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(sessionRowColumns))

	resp := doRequest(t, router, http.MethodPost, "/api/v1/campaigns", validCampaignBody())
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Contains(t, body.Error.Message, "t7_support")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignHandler_UnknownStepKind(t *testing.T) {
	router, mock := setupRouter(t)

	body := validCampaignBody()
	body["message_spec"] = map[string]interface{}{"kind": "sticker"}

	resp := doRequest(t, router, http.MethodPost, "/api/v1/campaigns", body)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "INVALID_JSON", errorCode(t, resp))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignHandler_GetByID(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		router, mock := setupRouter(t)

		mock.ExpectQuery("SELECT .+ FROM campaigns WHERE id = \\$1 AND tenant_id = \\$2").
			WithArgs(42, 7).
			WillReturnError(sql.ErrNoRows)

		resp := doRequest(t, router, http.MethodGet, "/api/v1/campaigns/42", nil)
		assert.Equal(t, http.StatusNotFound, resp.Code)
		assert.Equal(t, "RESOURCE_NOT_FOUND", errorCode(t, resp))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid id", func(t *testing.T) {
		router, _ := setupRouter(t)

		for _, path := range []string{"/api/v1/campaigns/abc", "/api/v1/campaigns/0"} {
			resp := doRequest(t, router, http.MethodGet, path, nil)
			assert.Equal(t, http.StatusBadRequest, resp.Code, path)
		}
	})
}

func TestCampaignHandler_ListInvalidStatus(t *testing.T) {
	router, mock := setupRouter(t)

	resp := doRequest(t, router, http.MethodGet, "/api/v1/campaigns?status=archived", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, resp))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPreviewHandler_RequiresContact(t *testing.T) {
	router, mock := setupRouter(t)

	resp := doRequest(t, router, http.MethodPost, "/api/v1/campaigns/1/preview", map[string]int{"contact_id": 0})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, resp))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthHandler_DegradedWithoutQueue(t *testing.T) {
	router, mock := setupRouter(t)
	mock.ExpectPing()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)

	var body service.HealthStatus
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, service.StatusDegraded, body.Status)
	assert.Equal(t, service.StatusConnected, body.Services["database"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
