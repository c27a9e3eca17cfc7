// Package notify fans sync lifecycle notifications out to interested
// consumers: the SSE event stream and the Telegram operator alerter.
// Delivery is best-effort and at-most-once; a subscriber that cannot keep up
// loses events rather than slowing the sync path.
package notify

import (
	"sync"
	"time"

	"github.com/beltheas/scrollback/store"
	"github.com/beltheas/scrollback/telemetry"
)

// subscriberBuffer is the per-subscriber queue depth before events drop.
const subscriberBuffer = 64

// Kind labels a lifecycle event.
type Kind string

const (
	KindChannelReady      Kind = "channel_ready"
	KindMessagesPersisted Kind = "messages_persisted"
	KindMessageEdited     Kind = "message_edited"
	KindMessageDeleted    Kind = "message_deleted"
	KindSyncFailed        Kind = "sync_failed"
)

// Event is one lifecycle notification. Fields beyond Kind, Channel, and At
// are populated per kind.
type Event struct {
	Kind       Kind             `json:"kind"`
	Channel    store.ChannelKey `json:"channel"`
	Name       string           `json:"name,omitempty"`
	MessageID  string           `json:"message_id,omitempty"`
	Count      int              `json:"count,omitempty"`
	Content    string           `json:"content,omitempty"`
	OldContent string           `json:"old_content,omitempty"`
	NewContent string           `json:"new_content,omitempty"`
	Error      string           `json:"error,omitempty"`
	At         time.Time        `json:"at"`
}

// Hub distributes events to subscribers. It implements the sync engine's
// Notifier interface, so handing a Hub to the registry is all the wiring the
// notification path needs.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe returns a channel of future events and a cancel func. The
// channel is closed on cancel. Events published while the subscriber's
// buffer is full are dropped for that subscriber only.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

func (h *Hub) publish(ev Event) {
	ev.At = time.Now().UTC()
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			telemetry.CountNotificationDropped()
		}
	}
}

func (h *Hub) ChannelReady(key store.ChannelKey, name string) {
	h.publish(Event{Kind: KindChannelReady, Channel: key, Name: name})
}

func (h *Hub) MessagesPersisted(key store.ChannelKey, records []store.MessageRecord) {
	ev := Event{Kind: KindMessagesPersisted, Channel: key, Count: len(records)}
	if n := len(records); n > 0 {
		ev.MessageID = records[n-1].MessageID
	}
	h.publish(ev)
}

func (h *Hub) MessageEdited(key store.ChannelKey, messageID, oldContent, newContent string) {
	h.publish(Event{
		Kind:       KindMessageEdited,
		Channel:    key,
		MessageID:  messageID,
		OldContent: oldContent,
		NewContent: newContent,
	})
}

func (h *Hub) MessageDeleted(key store.ChannelKey, messageID, content string) {
	h.publish(Event{Kind: KindMessageDeleted, Channel: key, MessageID: messageID, Content: content})
}

func (h *Hub) SyncFailed(key store.ChannelKey, err error) {
	ev := Event{Kind: KindSyncFailed, Channel: key}
	if err != nil {
		ev.Error = err.Error()
	}
	h.publish(ev)
}
