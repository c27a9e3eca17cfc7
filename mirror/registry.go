package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/beltheas/scrollback/store"
	"github.com/beltheas/scrollback/telemetry"
)

// RegistryConfig carries the registry's collaborators. Store is required;
// the rest default to no-ops.
type RegistryConfig struct {
	Store store.Store

	// Resolver returns the history source for a platform and assignee.
	Resolver SourceResolver

	// Assignees reports the configured assignee per channel. Channels
	// without one are claimed by the first observed sender.
	Assignees AssigneeFunc

	Notifier Notifier

	// MaxAge drops live events older than this at flush time. Zero keeps
	// everything.
	MaxAge time.Duration
}

// Registry routes live events, edits, and deletions to the right place. It
// creates channel workers lazily on first contact and holds them for the
// life of the process.
type Registry struct {
	st       store.Store
	resolver SourceResolver
	assignee AssigneeFunc
	notifier Notifier
	maxAge   time.Duration

	mu       sync.Mutex
	channels map[store.ChannelKey]*Channel
	stopped  bool
}

func NewRegistry(cfg RegistryConfig) *Registry {
	r := &Registry{
		st:       cfg.Store,
		resolver: cfg.Resolver,
		assignee: cfg.Assignees,
		notifier: cfg.Notifier,
		maxAge:   cfg.MaxAge,
		channels: make(map[store.ChannelKey]*Channel),
	}
	if r.resolver == nil {
		r.resolver = func(string, string) Source { return nil }
	}
	if r.assignee == nil {
		r.assignee = func(string, string) string { return "" }
	}
	if r.notifier == nil {
		r.notifier = NopNotifier{}
	}
	return r
}

// OnLiveEvent routes a new live message to its channel worker, creating the
// worker on first contact. Events for channels assigned to a different
// sender are dropped before a worker ever exists for them. After Stop all
// live events are discarded.
func (r *Registry) OnLiveEvent(ctx context.Context, ev Event) {
	r.mu.Lock()
	stopped := r.stopped
	r.mu.Unlock()
	if stopped {
		telemetry.CountEventDiscarded()
		return
	}

	if want := r.assignee(ev.Platform, ev.ChannelID); want != "" && want != ev.SelfID {
		telemetry.CountEventRejected()
		slog.Debug("ignoring event for channel assigned elsewhere",
			slog.String("component", "mirror"),
			slog.String("channel", ev.Key().String()),
			slog.String("assignee", want),
			slog.String("sender", ev.SelfID))
		return
	}

	r.channel(ev.Key()).Enqueue(ctx, ev)
}

// OnEdited applies a content edit directly to the store, bypassing the
// channel worker so edits survive a broken live sync. Errors, including a
// missing message, return to the caller and never change worker state.
func (r *Registry) OnEdited(ctx context.Context, platform, messageID, content string, at time.Time) error {
	prev, err := r.st.Get(ctx, platform, messageID)
	if err != nil {
		return fmt.Errorf("load message %s/%s: %w", platform, messageID, err)
	}
	if err := r.st.SetContent(ctx, platform, messageID, content, at); err != nil {
		return fmt.Errorf("update message %s/%s: %w", platform, messageID, err)
	}
	r.notifier.MessageEdited(prev.Key(), messageID, prev.Content, content)
	return nil
}

// OnDeleted marks a message deleted directly in the store, bypassing the
// channel worker. The record itself is kept.
func (r *Registry) OnDeleted(ctx context.Context, platform, messageID string, at time.Time) error {
	prev, err := r.st.Get(ctx, platform, messageID)
	if err != nil {
		return fmt.Errorf("load message %s/%s: %w", platform, messageID, err)
	}
	if err := r.st.MarkDeleted(ctx, platform, messageID, at); err != nil {
		return fmt.Errorf("mark message %s/%s deleted: %w", platform, messageID, err)
	}
	r.notifier.MessageDeleted(prev.Key(), messageID, prev.Content)
	return nil
}

// GetChannel returns the worker for a channel, creating it if needed, and
// kicks its initialization so a read-driven first contact backfills history
// the same way a live event would. Initialization is detached from ctx so a
// caller hanging up cannot fail the channel.
func (r *Registry) GetChannel(ctx context.Context, platform, guildID, channelID string) *Channel {
	key := store.ChannelKey{Platform: platform, GuildID: guildID, ChannelID: channelID}
	ch := r.channel(key)
	ch.startInit(context.WithoutCancel(ctx))
	return ch
}

func (r *Registry) channel(key store.ChannelKey) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[key]
	if !ok {
		ch = newChannel(key, r.st, r.resolver, r.notifier, r.maxAge, r.assignee(key.Platform, key.ChannelID))
		r.channels[key] = ch
		telemetry.TrackChannelStatus("", "syncing")
	}
	return ch
}

// Snapshot reports the state of every known channel, ordered by key.
func (r *Registry) Snapshot() []ChannelState {
	r.mu.Lock()
	channels := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		channels = append(channels, ch)
	}
	r.mu.Unlock()

	states := make([]ChannelState, 0, len(channels))
	for _, ch := range channels {
		states = append(states, ch.State())
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].Key.String() < states[j].Key.String()
	})
	return states
}

// Stop discards all further live events. Edits, deletions, and reads keep
// working; in-flight flushes finish on their own.
func (r *Registry) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
}
