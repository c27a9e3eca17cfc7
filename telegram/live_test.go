package telegram

import (
	"context"
	"testing"
	"time"

	"github.com/go-telegram/bot/models"
)

func TestLiveEventMapping(t *testing.T) {
	a := &Adapter{selfID: "42"}
	msg := &models.Message{
		ID:   17,
		Date: 1748779200, // 2025-06-01T12:00:00Z
		Chat: models.Chat{ID: -100123, Title: "Night Shift"},
		From: &models.User{ID: 9, Username: "ada", FirstName: "Ada", LastName: "L"},
		Text: "good evening",
		ReplyToMessage: &models.Message{
			ID:   12,
			Chat: models.Chat{ID: -100123},
		},
	}

	ev := a.liveEvent(msg)
	if ev.Platform != Platform || ev.ChannelID != "-100123" || ev.ChannelName != "Night Shift" {
		t.Errorf("channel mapping = %s/%s (%s), want telegram/-100123 (Night Shift)", ev.Platform, ev.ChannelID, ev.ChannelName)
	}
	if ev.MessageID != "-100123/17" {
		t.Errorf("MessageID = %s, want -100123/17", ev.MessageID)
	}
	if ev.QuoteID != "-100123/12" {
		t.Errorf("QuoteID = %s, want -100123/12", ev.QuoteID)
	}
	if ev.UserID != "9" || ev.Username != "ada" || ev.Nickname != "Ada L" {
		t.Errorf("author = %s/%s/%s, want 9/ada/Ada L", ev.UserID, ev.Username, ev.Nickname)
	}
	if ev.SelfID != "42" {
		t.Errorf("SelfID = %s, want 42", ev.SelfID)
	}
	if want := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC); !ev.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", ev.Timestamp, want)
	}
}

func TestLiveEventBusinessMessage(t *testing.T) {
	a := &Adapter{selfID: "42"}
	msg := &models.Message{
		ID:                   3,
		BusinessConnectionID: "biz-7",
		Chat:                 models.Chat{ID: 555, FirstName: "Customer", LastName: "Chat"},
		Caption:              "receipt attached",
	}

	ev := a.liveEvent(msg)
	if ev.GuildID != "biz-7" {
		t.Errorf("GuildID = %s, want business connection id biz-7", ev.GuildID)
	}
	if ev.Content != "receipt attached" {
		t.Errorf("Content = %q, want caption fallback", ev.Content)
	}
	if ev.ChannelName != "Customer Chat" {
		t.Errorf("ChannelName = %q, want Customer Chat", ev.ChannelName)
	}
	if ev.UserID != "" || ev.Username != "" {
		t.Errorf("author = %s/%s, want empty for missing From", ev.UserID, ev.Username)
	}
	if ev.Timestamp.IsZero() {
		t.Error("missing-date message should fall back to current time")
	}
}

func TestChatTitleFallbacks(t *testing.T) {
	tests := []struct {
		name string
		chat models.Chat
		want string
	}{
		{"group title", models.Chat{Title: "Ops"}, "Ops"},
		{"public username", models.Chat{Username: "opschat"}, "@opschat"},
		{"private names", models.Chat{FirstName: "Ada", LastName: "L"}, "Ada L"},
		{"empty chat", models.Chat{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := chatTitle(tt.chat); got != tt.want {
				t.Errorf("chatTitle() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFullNameFallbacks(t *testing.T) {
	tests := []struct {
		name string
		user *models.User
		want string
	}{
		{"nil user", nil, ""},
		{"full name", &models.User{FirstName: "Ada", LastName: "L"}, "Ada L"},
		{"username only", &models.User{Username: "ada"}, "@ada"},
		{"id only", &models.User{ID: 9}, "User 9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fullName(tt.user); got != tt.want {
				t.Errorf("fullName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSourceIsAlwaysExhausted(t *testing.T) {
	events, cursor, err := Source{}.FetchPage(context.Background(), "-100123", "")
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}
	if len(events) != 0 || cursor != "" {
		t.Errorf("FetchPage() = %d events, cursor %q; want exhausted page", len(events), cursor)
	}
}
