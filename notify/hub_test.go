package notify

import (
	"errors"
	"testing"
	"time"

	"github.com/beltheas/scrollback/store"
)

var testKey = store.ChannelKey{Platform: "twitch", GuildID: "g1", ChannelID: "room1"}

func recvEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestHubDeliversToAllSubscribers(t *testing.T) {
	hub := NewHub()
	first, cancelFirst := hub.Subscribe()
	defer cancelFirst()
	second, cancelSecond := hub.Subscribe()
	defer cancelSecond()

	hub.ChannelReady(testKey, "General")

	for _, events := range []<-chan Event{first, second} {
		ev := recvEvent(t, events)
		if ev.Kind != KindChannelReady {
			t.Errorf("kind = %q, want %q", ev.Kind, KindChannelReady)
		}
		if ev.Channel != testKey || ev.Name != "General" {
			t.Errorf("event = %+v, want channel %s named General", ev, testKey)
		}
		if ev.At.IsZero() {
			t.Error("event is missing its timestamp")
		}
	}
}

func TestHubEventPayloads(t *testing.T) {
	hub := NewHub()
	events, cancel := hub.Subscribe()
	defer cancel()

	records := []store.MessageRecord{
		{Platform: testKey.Platform, MessageID: "m1"},
		{Platform: testKey.Platform, MessageID: "m2"},
	}
	hub.MessagesPersisted(testKey, records)
	ev := recvEvent(t, events)
	if ev.Kind != KindMessagesPersisted || ev.Count != 2 || ev.MessageID != "m2" {
		t.Errorf("persisted event = %+v, want count 2 up to m2", ev)
	}

	hub.MessageEdited(testKey, "m1", "before", "after")
	ev = recvEvent(t, events)
	if ev.Kind != KindMessageEdited || ev.OldContent != "before" || ev.NewContent != "after" {
		t.Errorf("edited event = %+v, want old and new content", ev)
	}

	hub.MessageDeleted(testKey, "m1", "gone now")
	ev = recvEvent(t, events)
	if ev.Kind != KindMessageDeleted || ev.Content != "gone now" {
		t.Errorf("deleted event = %+v, want last content", ev)
	}

	hub.SyncFailed(testKey, errors.New("api down"))
	ev = recvEvent(t, events)
	if ev.Kind != KindSyncFailed || ev.Error != "api down" {
		t.Errorf("failed event = %+v, want the error string", ev)
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	events, cancel := hub.Subscribe()

	cancel()
	cancel() // second cancel is a no-op

	if _, ok := <-events; ok {
		t.Error("channel should be closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic or block.
	hub.ChannelReady(testKey, "")
}

func TestHubDropsWhenSubscriberLagsBehind(t *testing.T) {
	hub := NewHub()
	events, cancel := hub.Subscribe()
	defer cancel()

	// Publish past the buffer without draining; the hub must not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer+10; i++ {
			hub.ChannelReady(testKey, "")
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a lagging subscriber")
	}

	if got := len(events); got != subscriberBuffer {
		t.Errorf("buffered events = %d, want %d with the rest dropped", got, subscriberBuffer)
	}
}
