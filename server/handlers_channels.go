package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/beltheas/scrollback/mirror"
	"github.com/beltheas/scrollback/store"
)

// emptyGuildSlot stands in for the empty guild tier in URL paths. Twitch
// rooms have no guild and a bare double slash would not survive ServeMux
// path cleaning.
const emptyGuildSlot = "-"

// wireMessage is the message shape all mirror endpoints serve. Field names
// follow the bridge wire format so the generic gateway client can consume
// pages from a peer deployment.
type wireMessage struct {
	ID          string    `json:"id"`
	GuildID     string    `json:"guild_id,omitempty"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	Nickname    string    `json:"nickname,omitempty"`
	Content     string    `json:"content"`
	QuoteID     string    `json:"quote_id,omitempty"`
	Timestamp   time.Time `json:"ts"`
	LastUpdated time.Time `json:"last_updated"`
	Deleted     bool      `json:"deleted,omitempty"`
}

func wireMessages(records []store.MessageRecord) []wireMessage {
	msgs := make([]wireMessage, len(records))
	for i, rec := range records {
		msgs[i] = wireMessage{
			ID:          rec.MessageID,
			GuildID:     rec.GuildID,
			UserID:      rec.UserID,
			Username:    rec.Username,
			Nickname:    rec.Nickname,
			Content:     rec.Content,
			QuoteID:     rec.QuoteID,
			Timestamp:   rec.Timestamp,
			LastUpdated: rec.LastUpdated,
			Deleted:     rec.Deleted,
		}
	}
	return msgs
}

// HandleChannels lists every channel the registry knows, with sync status,
// assignee, and buffer backlog.
func (h *Handlers) HandleChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Channels []mirror.ChannelState `json:"channels"`
	}{Channels: h.reg.Snapshot()})
}

// HandleChannelsDispatcher routes /api/channels/ subpaths:
//
//	/api/channels/{platform}/{guild}/{channel}/messages  recent messages, chronological
//	/api/channels/{platform}/{guild}/{channel}/history   older pages, persisted on read
//	/api/channels/{channel}/messages                     bridge wire format, cursor paging
//
// The short form serves peers backfilling through the generic gateway client,
// which knows channels by platform id alone; platform and guild resolve
// through the registry.
func (h *Handlers) HandleChannelsDispatcher(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/channels/"), "/")
	switch {
	case len(parts) == 2 && parts[0] != "" && parts[1] == "messages":
		h.handleGatewayPage(w, r, parts[0])
	case len(parts) == 4:
		platform, guildID, channelID := parts[0], parts[1], parts[2]
		if guildID == emptyGuildSlot {
			guildID = ""
		}
		if platform == "" || channelID == "" {
			http.NotFound(w, r)
			return
		}
		switch parts[3] {
		case "messages":
			h.handleRecentMessages(w, r, platform, guildID, channelID)
		case "history":
			h.handleHistoryPage(w, r, platform, guildID, channelID)
		default:
			http.NotFound(w, r)
		}
	default:
		http.NotFound(w, r)
	}
}

// handleRecentMessages serves the newest messages in chronological order,
// topping up from remote history when the local mirror holds fewer than
// requested.
func (h *Handlers) handleRecentMessages(w http.ResponseWriter, r *http.Request, platform, guildID, channelID string) {
	limit := parseIntQuery(r, "limit", store.DefaultPageLimit)
	ch := h.reg.GetChannel(r.Context(), platform, guildID, channelID)
	records, err := ch.RecentMessages(r.Context(), limit)
	if err != nil {
		h.writeChannelError(w, ch, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Messages []wireMessage `json:"messages"`
	}{Messages: wireMessages(records)})
}

// handleHistoryPage serves one page of older history, newest-first with a
// paging cursor, fetching and persisting whatever the mirror does not hold
// yet. An empty next_cursor means history is exhausted.
func (h *Handlers) handleHistoryPage(w http.ResponseWriter, r *http.Request, platform, guildID, channelID string) {
	limit := store.ClampLimit(parseIntQuery(r, "limit", store.DefaultPageLimit))
	before := r.URL.Query().Get("before")
	ch := h.reg.GetChannel(r.Context(), platform, guildID, channelID)
	records, err := ch.FetchHistoryPage(r.Context(), limit, before)
	if err != nil {
		h.writeChannelError(w, ch, err)
		return
	}
	h.writeHistoryPage(w, records, limit)
}

// handleGatewayPage serves the bridge wire contract addressed by bare
// channel id: GET /api/channels/{id}/messages?before=&limit=. Only channels
// this deployment actively mirrors are served; an id the registry does not
// know, or one that is ambiguous across platforms, is a 404.
func (h *Handlers) handleGatewayPage(w http.ResponseWriter, r *http.Request, channelID string) {
	key, ok := h.resolveChannel(channelID)
	if !ok {
		http.NotFound(w, r)
		return
	}
	limit := store.ClampLimit(parseIntQuery(r, "limit", store.DefaultPageLimit))
	before := r.URL.Query().Get("before")
	ch := h.reg.GetChannel(r.Context(), key.Platform, key.GuildID, key.ChannelID)
	records, err := ch.FetchHistoryPage(r.Context(), limit, before)
	if err != nil {
		h.writeChannelError(w, ch, err)
		return
	}
	h.writeHistoryPage(w, records, limit)
}

// resolveChannel finds the unique registry entry for a platform channel id.
func (h *Handlers) resolveChannel(channelID string) (store.ChannelKey, bool) {
	var key store.ChannelKey
	found := 0
	for _, state := range h.reg.Snapshot() {
		if state.Key.ChannelID == channelID {
			key = state.Key
			found++
		}
	}
	return key, found == 1
}

// writeHistoryPage encodes records newest-first with the paging cursor: the
// oldest message in the page. A short page means the source is exhausted and
// the cursor stays empty.
func (h *Handlers) writeHistoryPage(w http.ResponseWriter, records []store.MessageRecord, limit int) {
	msgs := wireMessages(records)
	// Chronological in, newest-first out.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	next := ""
	if len(records) == limit && len(records) > 0 {
		next = records[0].MessageID
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Messages   []wireMessage `json:"messages"`
		NextCursor string        `json:"next_cursor"`
	}{Messages: msgs, NextCursor: next})
}

// writeChannelError maps sync errors to statuses: a failed channel cannot
// produce fresh data and reports 503, everything else is a plain 500.
func (h *Handlers) writeChannelError(w http.ResponseWriter, ch *mirror.Channel, err error) {
	if errors.Is(err, mirror.ErrChannelFailed) || ch.Status() == mirror.StatusFailed {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	h.log.Error("mirror read failed", slog.Any("err", err))
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
