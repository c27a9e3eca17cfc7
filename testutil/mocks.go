package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// MockGatewayServer creates a test server that mocks a peer mirror's
// history API responses
type MockGatewayServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockGatewayServer creates a new mock peer gateway server
func NewMockGatewayServer(t *testing.T) *MockGatewayServer {
	t.Helper()
	m := &MockGatewayServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockPage is one canned history page, served for a single "before" cursor.
type MockPage struct {
	Messages   []map[string]interface{}
	NextCursor string
}

// MockHistoryPages adds a handler for a channel's messages endpoint serving
// canned pages keyed by the "before" cursor. Cursors without a registered
// page get an empty page, which clients read as exhausted history.
func (m *MockGatewayServer) MockHistoryPages(channelID string, pages map[string]MockPage) {
	m.Handlers["/api/channels/"+channelID+"/messages"] = func(w http.ResponseWriter, r *http.Request) {
		page := pages[r.URL.Query().Get("before")]
		messages := page.Messages
		if messages == nil {
			messages = []map[string]interface{}{}
		}
		response := map[string]interface{}{
			"messages":    messages,
			"next_cursor": page.NextCursor,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockHistoryError makes a channel's messages endpoint fail with a fixed
// status
func (m *MockGatewayServer) MockHistoryError(channelID string, status int, message string) {
	m.Handlers["/api/channels/"+channelID+"/messages"] = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, message, status)
	}
}

// MockTokenResponse adds a handler for the client-credentials token endpoint
func (m *MockGatewayServer) MockTokenResponse(accessToken string, expiresIn int) {
	m.Handlers["/oauth/token"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}
