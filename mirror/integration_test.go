package mirror_test

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/beltheas/scrollback/gateway"
	"github.com/beltheas/scrollback/mirror"
	"github.com/beltheas/scrollback/notify"
	"github.com/beltheas/scrollback/store"
	"github.com/beltheas/scrollback/testutil"
)

// Integration tests driving the registry through a real gateway client
// against a mock peer, with a real pebble store underneath.

// peerKey matches the events the peer serves; gateway events carry no guild.
var peerKey = store.ChannelKey{Platform: "bridge", GuildID: "", ChannelID: "room1"}

func peerTime(n int) time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(n) * time.Minute)
}

// peerMsg builds the nth message in the peer's wire shape, newest-first pages
// are assembled from these.
func peerMsg(n int) map[string]interface{} {
	return map[string]interface{}{
		"id":       "m" + strconv.Itoa(n),
		"user_id":  "u1",
		"username": "ada",
		"content":  "message " + strconv.Itoa(n),
		"ts":       peerTime(n).Format(time.RFC3339),
	}
}

// storedMsg builds the nth message as an already-persisted record.
func storedMsg(n int) store.MessageRecord {
	return store.MessageRecord{
		Platform:    peerKey.Platform,
		GuildID:     peerKey.GuildID,
		ChannelID:   peerKey.ChannelID,
		MessageID:   "m" + strconv.Itoa(n),
		UserID:      "u1",
		Username:    "ada",
		SelfID:      "bot",
		Content:     "message " + strconv.Itoa(n),
		Timestamp:   peerTime(n),
		LastUpdated: peerTime(n),
	}
}

// liveMsg builds the nth message as a live event from the given sender.
func liveMsg(n int, selfID string) mirror.Event {
	return mirror.Event{
		Platform:    peerKey.Platform,
		GuildID:     peerKey.GuildID,
		ChannelID:   peerKey.ChannelID,
		ChannelName: "peer-room",
		MessageID:   "m" + strconv.Itoa(n),
		UserID:      "u1",
		Username:    "ada",
		SelfID:      selfID,
		Content:     "message " + strconv.Itoa(n),
		Timestamp:   peerTime(n),
	}
}

func newPebbleStore(t *testing.T, ns ...int) *store.Pebble {
	t.Helper()
	st, err := store.NewPebble(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open pebble store: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	if len(ns) > 0 {
		records := make([]store.MessageRecord, len(ns))
		for i, n := range ns {
			records[i] = storedMsg(n)
		}
		if err := st.Upsert(context.Background(), records); err != nil {
			t.Fatalf("seed store: %v", err)
		}
	}
	return st
}

// waitFor reads hub events until one of the wanted kind arrives.
func waitFor(t *testing.T, events <-chan notify.Event, kind notify.Kind) notify.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("hub closed while waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func TestRegistryBackfillsGapFromPeer(t *testing.T) {
	st := newPebbleStore(t, 1, 2)

	gw := testutil.NewMockGatewayServer(t)
	gw.MockHistoryPages("room1", map[string]testutil.MockPage{
		"m6": {Messages: []map[string]interface{}{peerMsg(5), peerMsg(4)}, NextCursor: "m4"},
		"m4": {Messages: []map[string]interface{}{peerMsg(3), peerMsg(2)}, NextCursor: "m2"},
	})

	hub := notify.NewHub()
	events, cancel := hub.Subscribe()
	defer cancel()

	client := &gateway.Client{BaseURL: gw.URL, Platform: "bridge", PageSize: 2}
	reg := mirror.NewRegistry(mirror.RegistryConfig{
		Store:    st,
		Resolver: func(platform, assignee string) mirror.Source { return client },
		Notifier: hub,
	})

	// m3..m5 are missing locally; the live m6 defines the front of the gap.
	reg.OnLiveEvent(context.Background(), liveMsg(6, "bot"))

	persisted := waitFor(t, events, notify.KindMessagesPersisted)
	if persisted.Count != 4 || persisted.MessageID != "m6" {
		t.Errorf("persisted batch = %d ending %s, want 4 ending m6 (gap plus live event)", persisted.Count, persisted.MessageID)
	}
	ready := waitFor(t, events, notify.KindChannelReady)
	if ready.Channel != peerKey || ready.Name != "peer-room" {
		t.Errorf("ready = %s (%s), want %s (peer-room)", ready.Channel, ready.Name, peerKey)
	}

	ctx := context.Background()
	recent, err := st.RecentPage(ctx, peerKey, 10)
	if err != nil {
		t.Fatalf("RecentPage() error = %v", err)
	}
	if len(recent) != 6 {
		t.Fatalf("stored %d messages, want 6", len(recent))
	}
	for i, r := range recent {
		if want := "m" + strconv.Itoa(i+1); r.MessageID != want {
			t.Errorf("recent[%d] = %s, want %s", i, r.MessageID, want)
		}
	}

	states := reg.Snapshot()
	if len(states) != 1 || states[0].Status != mirror.StatusSynced {
		t.Errorf("snapshot = %+v, want one synced channel", states)
	}
}

func TestRegistryFailsWhenPeerUnavailable(t *testing.T) {
	st := newPebbleStore(t, 1)

	gw := testutil.NewMockGatewayServer(t)
	gw.MockHistoryError("room1", http.StatusBadGateway, "peer maintenance")

	hub := notify.NewHub()
	events, cancel := hub.Subscribe()
	defer cancel()

	client := &gateway.Client{BaseURL: gw.URL, Platform: "bridge"}
	reg := mirror.NewRegistry(mirror.RegistryConfig{
		Store:    st,
		Resolver: func(platform, assignee string) mirror.Source { return client },
		Notifier: hub,
	})

	reg.OnLiveEvent(context.Background(), liveMsg(3, "bot"))

	failed := waitFor(t, events, notify.KindSyncFailed)
	if failed.Channel != peerKey {
		t.Errorf("failure channel = %s, want %s", failed.Channel, peerKey)
	}
	if !strings.Contains(failed.Error, "502") {
		t.Errorf("failure error = %q, want upstream status included", failed.Error)
	}

	// The buffered live event went down with the channel.
	ctx := context.Background()
	if _, err := st.Get(ctx, "bridge", "m3"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get(m3) error = %v, want ErrNotFound (buffer dropped on failure)", err)
	}

	// Later live events are discarded without a store write.
	reg.OnLiveEvent(context.Background(), liveMsg(4, "bot"))
	if _, err := st.Get(ctx, "bridge", "m4"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get(m4) error = %v, want ErrNotFound (failed channel absorbs events)", err)
	}

	states := reg.Snapshot()
	if len(states) != 1 || states[0].Status != mirror.StatusFailed {
		t.Errorf("snapshot = %+v, want one failed channel", states)
	}
}

func TestRegistryAuthenticatesAgainstPeer(t *testing.T) {
	st := newPebbleStore(t, 1)

	gw := testutil.NewMockGatewayServer(t)
	gw.MockTokenResponse("peer-token", 3600)
	var sawAuth string
	gw.Handlers["/api/channels/room1/messages"] = func(w http.ResponseWriter, r *http.Request) {
		sawAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages":[],"next_cursor":""}`))
	}

	hub := notify.NewHub()
	events, cancel := hub.Subscribe()
	defer cancel()

	client := &gateway.Client{
		BaseURL:  gw.URL,
		Platform: "bridge",
		Credentials: &clientcredentials.Config{
			ClientID:     "mirror-a",
			ClientSecret: "secret",
			TokenURL:     gw.URL + "/oauth/token",
			AuthStyle:    oauth2.AuthStyleInParams,
		},
	}
	reg := mirror.NewRegistry(mirror.RegistryConfig{
		Store:    st,
		Resolver: func(platform, assignee string) mirror.Source { return client },
		Notifier: hub,
	})

	reg.OnLiveEvent(context.Background(), liveMsg(2, "bot"))
	waitFor(t, events, notify.KindChannelReady)

	if sawAuth != "Bearer peer-token" {
		t.Errorf("peer saw Authorization %q, want Bearer peer-token", sawAuth)
	}
}
