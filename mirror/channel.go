package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/beltheas/scrollback/store"
	"github.com/beltheas/scrollback/telemetry"
)

// Status is the lifecycle state of a channel worker.
type Status int

const (
	// StatusSyncing means the one-time initialization has not completed yet.
	StatusSyncing Status = iota
	// StatusSynced means the local mirror is gap-free up to the live stream.
	StatusSynced
	// StatusFailed is terminal: the worker writes nothing further.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSynced:
		return "synced"
	case StatusFailed:
		return "failed"
	default:
		return "syncing"
	}
}

// MarshalJSON encodes the status as its string form.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// ChannelState is a point-in-time view of a worker, for diagnostics.
type ChannelState struct {
	Key              store.ChannelKey `json:"key"`
	Name             string           `json:"name,omitempty"`
	Assignee         string           `json:"assignee,omitempty"`
	Status           Status           `json:"status"`
	Buffered         int              `json:"buffered"`
	InitialMessageID string           `json:"initial_message_id,omitempty"`
}

// Channel mirrors one remote channel into the store. Workers are created by
// the Registry and live until process exit; there is no eviction.
type Channel struct {
	key      store.ChannelKey
	st       store.Store
	resolver SourceResolver
	notifier Notifier
	maxAge   time.Duration

	initOnce sync.Once
	initErr  error

	mu          sync.Mutex
	assignee    string
	name        string
	status      Status
	initialID   string
	buffer      []Event
	flushing    bool
	initStarted bool
}

func newChannel(key store.ChannelKey, st store.Store, resolver SourceResolver, notifier Notifier, maxAge time.Duration, assignee string) *Channel {
	return &Channel{
		key:      key,
		st:       st,
		resolver: resolver,
		notifier: notifier,
		maxAge:   maxAge,
		assignee: assignee,
	}
}

// Enqueue buffers a live event and triggers initialization or a flush as
// needed. It never blocks on remote fetches: the one-time initialization
// runs on its own goroutine. Events for a failed channel are discarded and
// events from a non-assignee sender are dropped silently.
func (c *Channel) Enqueue(ctx context.Context, ev Event) {
	c.mu.Lock()
	if c.status == StatusFailed {
		c.mu.Unlock()
		telemetry.CountEventDiscarded()
		return
	}
	if !c.acceptLocked(ev) {
		c.mu.Unlock()
		telemetry.CountEventRejected()
		c.logger().Debug("dropped event from non-assignee sender",
			slog.String("sender", ev.SelfID),
			slog.String("message_id", ev.MessageID))
		return
	}
	c.buffer = append(c.buffer, ev)
	synced := c.status == StatusSynced
	c.mu.Unlock()

	telemetry.CountEventIngested()
	telemetry.AddBufferBacklog(1)

	c.startInit(context.WithoutCancel(ctx))
	if synced {
		_ = c.flushLoop(ctx)
	}
}

// acceptLocked applies the ownership rule: the first accepted sender becomes
// the assignee for the worker's lifetime. Caller holds mu.
func (c *Channel) acceptLocked(ev Event) bool {
	if c.assignee == "" {
		c.assignee = ev.SelfID
	} else if ev.SelfID != c.assignee {
		return false
	}
	if ev.ChannelName != "" {
		c.name = ev.ChannelName
	}
	return true
}

// startInit kicks the one-time initialization on its own goroutine. Later
// calls are no-ops.
func (c *Channel) startInit(ctx context.Context) {
	c.mu.Lock()
	started := c.initStarted
	c.initStarted = true
	c.mu.Unlock()
	if started {
		return
	}
	go func() {
		_ = c.ensureInitialized(ctx)
	}()
}

// ensureInitialized runs the one-time initialization, or waits for the run
// already in progress, and returns its memoized result.
func (c *Channel) ensureInitialized(ctx context.Context) error {
	c.initOnce.Do(func() {
		c.initErr = c.initialize(ctx)
	})
	return c.initErr
}

// initialize bridges the gap between the newest stored message and the live
// buffer, flushes everything buffered so far, and marks the channel synced.
// Runs at most once per worker.
func (c *Channel) initialize(ctx context.Context) error {
	start := time.Now()
	logger := c.logger()
	logger.Info("initializing channel sync")

	newest, err := c.st.Newest(ctx, c.key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// Nothing stored yet, so there is no gap to bridge. The live
		// buffer seeds the mirror.
	case err != nil:
		return c.fail(CauseStore, fmt.Errorf("load newest stored message: %w", err))
	default:
		if ferr := c.backfill(ctx, newest.MessageID); ferr != nil {
			return ferr
		}
	}

	// Drain the buffer before going synced so the ready signal means the
	// mirror is actually caught up. The empty check and the status change
	// share one critical section: an event enqueued after the change sees
	// StatusSynced and flushes itself.
	var name string
	for {
		if ferr := c.flushLoop(ctx); ferr != nil {
			return ferr
		}
		c.mu.Lock()
		if len(c.buffer) > 0 {
			c.mu.Unlock()
			continue
		}
		c.status = StatusSynced
		name = c.name
		c.mu.Unlock()
		break
	}

	oldest, err := c.st.Oldest(ctx, c.key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// Channel is still empty: no live events and no remote history.
	case err != nil:
		logger.Warn("load oldest stored message", slog.Any("err", err))
	default:
		c.mu.Lock()
		c.initialID = oldest.MessageID
		c.mu.Unlock()
	}

	telemetry.TrackChannelStatus("syncing", "synced")
	telemetry.ObserveBackfill(time.Since(start))
	logger.Info("channel sync ready",
		slog.String("name", name),
		slog.Duration("took", time.Since(start)))
	c.notifier.ChannelReady(c.key, name)
	return nil
}

// backfill walks remote history newest-first from the front of the live
// buffer down to rearID, the newest message already stored, and prepends the
// recovered gap to the buffer in chronological order. Paging stops at rearID,
// at an empty page, or at an empty next cursor, whichever comes first.
func (c *Channel) backfill(ctx context.Context, rearID string) error {
	src := c.resolver(c.key.Platform, c.currentAssignee())
	if src == nil {
		return nil
	}

	c.mu.Lock()
	cursor := ""
	if len(c.buffer) > 0 {
		cursor = c.buffer[0].MessageID
	}
	c.mu.Unlock()

	var history []Event
	for {
		page, next, err := src.FetchPage(ctx, c.key.ChannelID, cursor)
		if err != nil {
			return c.fail(CauseFetch, fmt.Errorf("fetch history before %q: %w", cursor, err))
		}
		telemetry.CountBackfillPage()
		if len(page) == 0 {
			break
		}

		keep := page
		reachedRear := false
		for i, ev := range page {
			if ev.MessageID == rearID {
				keep = page[:i]
				reachedRear = true
				break
			}
		}

		// Pages arrive newest-first and each page is older than the last,
		// so reversed pages are prepended to keep history chronological.
		chunk := make([]Event, len(keep))
		for i, ev := range keep {
			chunk[len(keep)-1-i] = ev
		}
		history = append(chunk, history...)

		if reachedRear || next == "" {
			break
		}
		cursor = next
	}

	if len(history) == 0 {
		return nil
	}

	c.mu.Lock()
	c.buffer = append(history, c.buffer...)
	c.mu.Unlock()
	telemetry.AddBufferBacklog(len(history))
	c.logger().Info("backfilled gap", slog.Int("messages", len(history)))
	return nil
}

// flushLoop drains the buffer in arrival order, one batch per store write.
// Only one flush runs at a time per worker; a second caller returns
// immediately and leaves its events for the running loop. A store error is
// terminal for the channel.
func (c *Channel) flushLoop(ctx context.Context) error {
	c.mu.Lock()
	if c.flushing || c.status == StatusFailed {
		c.mu.Unlock()
		return nil
	}
	c.flushing = true
	c.mu.Unlock()

	for {
		c.mu.Lock()
		if len(c.buffer) == 0 || c.status == StatusFailed {
			c.flushing = false
			c.mu.Unlock()
			return nil
		}
		batch := c.buffer
		c.buffer = nil
		c.mu.Unlock()
		telemetry.AddBufferBacklog(-len(batch))

		records := c.mapRecords(batch)
		if len(records) == 0 {
			continue
		}

		start := time.Now()
		if err := c.st.Upsert(ctx, records); err != nil {
			c.mu.Lock()
			c.flushing = false
			c.mu.Unlock()
			return c.fail(CauseStore, fmt.Errorf("persist %d buffered messages: %w", len(records), err))
		}
		telemetry.ObserveFlush(time.Since(start), len(records))
		telemetry.CountPersisted(len(records))
		c.notifier.MessagesPersisted(c.key, records)
	}
}

// mapRecords converts a batch to records, dropping events older than the
// retention window so expired messages never reach the store.
func (c *Channel) mapRecords(events []Event) []store.MessageRecord {
	now := time.Now()
	records := make([]store.MessageRecord, 0, len(events))
	expired := 0
	for _, ev := range events {
		if c.maxAge > 0 && now.Sub(ev.Timestamp) > c.maxAge {
			expired++
			continue
		}
		records = append(records, ev.Record(now))
	}
	if expired > 0 {
		telemetry.CountExpired(expired)
		c.logger().Debug("dropped events past retention window", slog.Int("count", expired))
	}
	return records
}

// fail moves the channel to the terminal failed state, dropping any buffered
// events. Only the first call transitions; later calls just return the error.
func (c *Channel) fail(cause FailureCause, err error) error {
	cause = refineFailure(cause, err)

	c.mu.Lock()
	if c.status == StatusFailed {
		c.mu.Unlock()
		return err
	}
	prev := c.status
	c.status = StatusFailed
	dropped := len(c.buffer)
	c.buffer = nil
	c.mu.Unlock()

	if dropped > 0 {
		telemetry.AddBufferBacklog(-dropped)
	}
	telemetry.TrackChannelStatus(prev.String(), "failed")
	telemetry.CountSyncFailure()
	c.logger().Error("channel sync failed",
		slog.String("cause", cause.String()),
		slog.Int("dropped_events", dropped),
		slog.Any("err", err))
	c.notifier.SyncFailed(c.key, err)
	return err
}

// RecentMessages returns up to count messages in chronological order, newest
// last. When the store holds fewer than count, the shortfall is fetched from
// remote history and persisted first, unless the channel has failed, in which
// case whatever is stored locally is returned as-is. Read errors never change
// the channel's state.
func (c *Channel) RecentMessages(ctx context.Context, count int) ([]store.MessageRecord, error) {
	count = store.ClampLimit(count)
	if err := c.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	records, err := c.st.RecentPage(ctx, c.key, count)
	if err != nil {
		return nil, fmt.Errorf("load recent messages: %w", err)
	}
	if len(records) >= count || c.Status() == StatusFailed {
		return records, nil
	}

	beforeID := ""
	if len(records) > 0 {
		beforeID = records[0].MessageID
	}
	older, err := c.FetchHistoryPage(ctx, count-len(records), beforeID)
	if err != nil {
		return nil, err
	}
	return append(older, records...), nil
}

// FetchHistoryPage fetches up to count messages older than beforeID from the
// remote source, persists them, and returns them in chronological order. An
// empty beforeID starts from the most recent remote messages. Errors
// propagate to the caller and never fail the channel; a failed channel
// accepts no history fetches.
func (c *Channel) FetchHistoryPage(ctx context.Context, count int, beforeID string) ([]store.MessageRecord, error) {
	count = store.ClampLimit(count)
	if err := c.ensureInitialized(ctx); err != nil {
		return nil, err
	}
	if c.Status() == StatusFailed {
		return nil, ErrChannelFailed
	}

	src := c.resolver(c.key.Platform, c.currentAssignee())
	if src == nil {
		return nil, nil
	}

	if err := acquireHistorySlot(ctx); err != nil {
		return nil, err
	}
	defer releaseHistorySlot()

	var events []Event
	cursor := beforeID
	for len(events) < count {
		page, next, err := src.FetchPage(ctx, c.key.ChannelID, cursor)
		if err != nil {
			return nil, fmt.Errorf("fetch history before %q: %w", cursor, err)
		}
		telemetry.CountBackfillPage()
		if len(page) == 0 {
			break
		}
		chunk := make([]Event, len(page))
		for i, ev := range page {
			chunk[len(page)-1-i] = ev
		}
		events = append(chunk, events...)
		if next == "" {
			break
		}
		cursor = next
	}

	// Keep the newest count and discard the oldest overshoot from the
	// final page.
	if len(events) > count {
		events = events[len(events)-count:]
	}
	if len(events) == 0 {
		return nil, nil
	}

	now := time.Now()
	records := make([]store.MessageRecord, len(events))
	for i, ev := range events {
		records[i] = ev.Record(now)
	}
	if err := c.st.Upsert(ctx, records); err != nil {
		return nil, fmt.Errorf("persist fetched history: %w", err)
	}
	telemetry.CountPersisted(len(records))
	c.notifier.MessagesPersisted(c.key, records)
	return records, nil
}

// Status reports the worker's current lifecycle state.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// State reports a point-in-time view of the worker.
func (c *Channel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ChannelState{
		Key:              c.key,
		Name:             c.name,
		Assignee:         c.assignee,
		Status:           c.status,
		Buffered:         len(c.buffer),
		InitialMessageID: c.initialID,
	}
}

func (c *Channel) currentAssignee() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.assignee
}

func (c *Channel) logger() *slog.Logger {
	return slog.Default().With(
		slog.String("component", "mirror"),
		slog.String("channel", c.key.String()))
}
