package twitch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	irc "github.com/gempir/go-twitch-irc/v4"
)

func archiveCredentials(serverURL string) *clientcredentials.Config {
	return &clientcredentials.Config{
		ClientID:     "test-client-id",
		ClientSecret: "test-secret",
		TokenURL:     serverURL + "/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInParams,
	}
}

func serveToken(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token": "app-token",
		"token_type":   "bearer",
		"expires_in":   3600,
	})
}

func TestHistoryClientFetchPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/token" {
			serveToken(w)
			return
		}
		if r.Header.Get("Client-Id") != "test-client-id" {
			t.Errorf("missing or wrong Client-Id header")
		}
		if got := r.Header.Get("Authorization"); got != "Bearer app-token" {
			t.Errorf("Authorization = %q, want Bearer app-token", got)
		}
		if got := r.URL.Query().Get("channel_id"); got != "123" {
			t.Errorf("channel_id = %s, want 123", got)
		}
		if got := r.URL.Query().Get("first"); got != "100" {
			t.Errorf("first = %s, want 100 (default)", got)
		}
		if got := r.URL.Query().Get("before"); got != "m9" {
			t.Errorf("before = %s, want m9", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{
					"id":         "m8",
					"user_id":    "u1",
					"user_login": "ada",
					"user_name":  "Ada",
					"message":    "later message",
					"sent_at":    "2025-06-01T12:08:00Z",
				},
				{
					"id":                  "m7",
					"user_id":             "u2",
					"user_login":          "grace",
					"user_name":           "Grace",
					"message":             "earlier message",
					"reply_parent_msg_id": "m5",
					"sent_at":             "2025-06-01T12:07:00Z",
				},
			},
			"pagination": map[string]string{"cursor": "m7"},
		})
	}))
	defer server.Close()

	hc := &HistoryClient{
		BaseURL:     server.URL,
		ClientID:    "test-client-id",
		Credentials: archiveCredentials(server.URL),
	}
	events, cursor, err := hc.FetchPage(context.Background(), "123", "m9")
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("FetchPage() returned %d events, want 2", len(events))
	}
	if cursor != "m7" {
		t.Errorf("cursor = %q, want m7", cursor)
	}
	if events[0].MessageID != "m8" || events[1].MessageID != "m7" {
		t.Errorf("page order = [%s, %s], want newest first [m8, m7]", events[0].MessageID, events[1].MessageID)
	}
	ev := events[1]
	if ev.Platform != Platform || ev.ChannelID != "123" {
		t.Errorf("event channel = %s/%s, want twitch/123", ev.Platform, ev.ChannelID)
	}
	if ev.Username != "grace" || ev.Nickname != "Grace" || ev.QuoteID != "m5" {
		t.Errorf("event author = %+v, want login, display name, and reply parent mapped", ev)
	}
	if want := time.Date(2025, 6, 1, 12, 7, 0, 0, time.UTC); !ev.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", ev.Timestamp, want)
	}
}

func TestHistoryClientWalksCursors(t *testing.T) {
	var cursorsSeen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/token" {
			serveToken(w)
			return
		}
		before := r.URL.Query().Get("before")
		cursorsSeen = append(cursorsSeen, before)

		switch before {
		case "":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data": []map[string]interface{}{
					{"id": "m4", "message": "four", "sent_at": "2025-06-01T12:04:00Z"},
					{"id": "m3", "message": "three", "sent_at": "2025-06-01T12:03:00Z"},
				},
				"pagination": map[string]string{"cursor": "m3"},
			})
		case "m3":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data": []map[string]interface{}{
					{"id": "m2", "message": "two", "sent_at": "2025-06-01T12:02:00Z"},
				},
				"pagination": map[string]string{},
			})
		default:
			t.Errorf("unexpected cursor %q", before)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": []map[string]interface{}{}})
		}
	}))
	defer server.Close()

	hc := &HistoryClient{
		BaseURL:     server.URL,
		ClientID:    "test-client-id",
		Credentials: archiveCredentials(server.URL),
	}

	ctx := context.Background()
	_, cursor, err := hc.FetchPage(ctx, "123", "")
	if err != nil {
		t.Fatalf("FetchPage() page 1 error = %v", err)
	}
	if cursor != "m3" {
		t.Fatalf("page 1 cursor = %q, want m3", cursor)
	}
	events, cursor, err := hc.FetchPage(ctx, "123", cursor)
	if err != nil {
		t.Fatalf("FetchPage() page 2 error = %v", err)
	}
	if len(events) != 1 || cursor != "" {
		t.Errorf("page 2 = %d events, cursor %q; want final page [m2] with empty cursor", len(events), cursor)
	}
	if want := []string{"", "m3"}; len(cursorsSeen) != 2 || cursorsSeen[0] != want[0] || cursorsSeen[1] != want[1] {
		t.Errorf("cursors seen = %v, want %v", cursorsSeen, want)
	}
}

func TestHistoryClientServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/token" {
			serveToken(w)
			return
		}
		http.Error(w, "archive offline", http.StatusBadGateway)
	}))
	defer server.Close()

	hc := &HistoryClient{
		BaseURL:     server.URL,
		ClientID:    "test-client-id",
		Credentials: archiveCredentials(server.URL),
	}
	_, _, err := hc.FetchPage(context.Background(), "123", "")
	if err == nil {
		t.Fatal("FetchPage() error = nil, want failure on 502")
	}
	if !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "archive offline") {
		t.Errorf("FetchPage() error = %v, want status and body included", err)
	}
}

func TestHistoryClientEmptyChannelID(t *testing.T) {
	hc := &HistoryClient{BaseURL: "http://archive.invalid"}
	_, _, err := hc.FetchPage(context.Background(), "", "")
	if err == nil || !strings.Contains(err.Error(), "channelID empty") {
		t.Errorf("FetchPage() error = %v, want channelID empty", err)
	}
}

func TestLiveEventMapping(t *testing.T) {
	sent := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	msg := irc.PrivateMessage{
		ID:      "abc-123",
		RoomID:  "456",
		Channel: "adastream",
		User: irc.User{
			ID:          "u9",
			Name:        "grace",
			DisplayName: "Grace",
		},
		Message:          "hello chat",
		ReplyParentMsgID: "def-456",
		Time:             sent,
	}

	ev := liveEvent(msg, "mirrorbot")
	if ev.Platform != Platform || ev.ChannelID != "456" || ev.ChannelName != "adastream" {
		t.Errorf("channel mapping = %s/%s (%s), want twitch/456 (adastream)", ev.Platform, ev.ChannelID, ev.ChannelName)
	}
	if ev.MessageID != "abc-123" || ev.QuoteID != "def-456" {
		t.Errorf("ids = %s reply %s, want abc-123 reply def-456", ev.MessageID, ev.QuoteID)
	}
	if ev.UserID != "u9" || ev.Username != "grace" || ev.Nickname != "Grace" {
		t.Errorf("author = %s/%s/%s, want u9/grace/Grace", ev.UserID, ev.Username, ev.Nickname)
	}
	if ev.SelfID != "mirrorbot" {
		t.Errorf("SelfID = %s, want mirrorbot", ev.SelfID)
	}
	if !ev.Timestamp.Equal(sent) {
		t.Errorf("timestamp = %v, want %v", ev.Timestamp, sent)
	}
}
