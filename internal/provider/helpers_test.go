package provider

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"wacampaign/internal/config"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, config.ProviderConfig) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, config.ProviderConfig{
		BaseURL:  srv.URL,
		APIKey:   "global-key",
		Username: "acct",
		Password: "secret",
	}
}

func decodeBody(t *testing.T, r *http.Request) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		t.Errorf("failed to decode request body: %v", err)
	}
	return body
}
