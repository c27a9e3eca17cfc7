package mirror

import "github.com/beltheas/scrollback/store"

// Notifier receives best-effort callbacks about sync lifecycle changes.
// Implementations must not block: callbacks run on worker goroutines and a
// slow notifier stalls flushing. Delivery is at-most-once; a dropped
// notification is never retried.
type Notifier interface {
	// ChannelReady fires once per worker, after initialization completed
	// and the backfill flush landed.
	ChannelReady(key store.ChannelKey, name string)

	// MessagesPersisted fires after a batch of records was written to the
	// store, for both live flushes and history fetches.
	MessagesPersisted(key store.ChannelKey, records []store.MessageRecord)

	// MessageEdited fires after an edit was applied, with both the prior
	// and the new content.
	MessageEdited(key store.ChannelKey, messageID, oldContent, newContent string)

	// MessageDeleted fires after a deletion marker was applied, with the
	// last known content.
	MessageDeleted(key store.ChannelKey, messageID, content string)

	// SyncFailed fires once when a channel enters the failed state.
	SyncFailed(key store.ChannelKey, err error)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) ChannelReady(store.ChannelKey, string) {}

func (NopNotifier) MessagesPersisted(store.ChannelKey, []store.MessageRecord) {}

func (NopNotifier) MessageEdited(store.ChannelKey, string, string, string) {}

func (NopNotifier) MessageDeleted(store.ChannelKey, string, string) {}

func (NopNotifier) SyncFailed(store.ChannelKey, error) {}
