package mirror

import (
	"context"
	"time"

	"github.com/beltheas/scrollback/store"
)

// Event is a single live chat observation delivered by a platform adapter.
// MessageID must be unique per (Platform, ChannelID); SelfID identifies the
// bot connection that observed the event and drives assignee ownership.
type Event struct {
	Platform  string
	GuildID   string
	ChannelID string
	MessageID string
	UserID    string
	Username  string
	Nickname  string
	SelfID    string
	Content   string
	QuoteID   string
	Timestamp time.Time

	// ChannelName is display metadata carried alongside the event. It is
	// cached on the channel worker but never persisted per message.
	ChannelName string
}

// Key returns the channel identity the event belongs to.
func (e Event) Key() store.ChannelKey {
	return store.ChannelKey{Platform: e.Platform, GuildID: e.GuildID, ChannelID: e.ChannelID}
}

// Record converts the event into its persisted form. LastUpdated is stamped
// with now, not the event timestamp, so later edits can be told apart from
// the original write.
func (e Event) Record(now time.Time) store.MessageRecord {
	return store.MessageRecord{
		Platform:    e.Platform,
		GuildID:     e.GuildID,
		ChannelID:   e.ChannelID,
		MessageID:   e.MessageID,
		UserID:      e.UserID,
		Username:    e.Username,
		Nickname:    e.Nickname,
		SelfID:      e.SelfID,
		Content:     e.Content,
		QuoteID:     e.QuoteID,
		Timestamp:   e.Timestamp,
		LastUpdated: now,
	}
}

// Source fetches pages of channel history from the remote platform, walking
// backward from newest to oldest.
//
// FetchPage returns up to one page of messages ordered newest-first, plus a
// cursor for the next older page. beforeID is the message id to fetch before;
// empty means start from the most recent messages. An empty next cursor or an
// empty page means history is exhausted.
type Source interface {
	FetchPage(ctx context.Context, channelID, beforeID string) (events []Event, nextCursor string, err error)
}

// SourceResolver returns the history source for a platform and assignee, or
// nil when the platform offers no history fetch. Workers treat a nil source
// as an already-exhausted remote.
type SourceResolver func(platform, assignee string) Source

// AssigneeFunc reports the configured sync assignee for a channel. An empty
// return means no assignee is configured and the first observed sender wins
// the channel.
type AssigneeFunc func(platform, channelID string) string
