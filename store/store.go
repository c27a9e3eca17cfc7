// Package store defines the message record model and the persistence
// interface the sync core writes through. Two backends are provided:
// Postgres (database/sql via pgx) for shared deployments and Pebble for
// single-node embedded ones.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups and point updates when no record
// matches the given key.
var ErrNotFound = errors.New("store: message not found")

// ChannelKey identifies one remote channel: the unit of sync ownership.
type ChannelKey struct {
	Platform  string `json:"platform"`
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
}

func (k ChannelKey) String() string {
	return k.Platform + "/" + k.GuildID + "/" + k.ChannelID
}

// MessageRecord is one mirrored chat message. Records are append-only:
// edits and deletions mutate Content/Deleted in place and bump LastUpdated,
// but rows are never removed outside retention pruning.
type MessageRecord struct {
	Platform    string    `json:"platform"`
	GuildID     string    `json:"guild_id"`
	ChannelID   string    `json:"channel_id"`
	MessageID   string    `json:"message_id"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	Nickname    string    `json:"nickname,omitempty"`
	SelfID      string    `json:"self_id"`
	Content     string    `json:"content"`
	QuoteID     string    `json:"quote_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	LastUpdated time.Time `json:"last_updated"`
	Deleted     bool      `json:"deleted"`
}

// Key returns the record's owning channel key.
func (r MessageRecord) Key() ChannelKey {
	return ChannelKey{Platform: r.Platform, GuildID: r.GuildID, ChannelID: r.ChannelID}
}

// Store is the single write path for mirrored history. Upserts are keyed by
// (platform, channel_id, message_id); point updates by (platform, message_id).
// All range reads return records in chronological order (timestamp, then
// message id as tiebreak).
type Store interface {
	// Upsert writes a batch of records, replacing content for keys that
	// already exist. The batch is applied atomically where the backend
	// supports it.
	Upsert(ctx context.Context, records []MessageRecord) error

	// Get fetches a single record by (platform, message id).
	Get(ctx context.Context, platform, messageID string) (MessageRecord, error)

	// SetContent replaces a stored message's body and bumps LastUpdated.
	SetContent(ctx context.Context, platform, messageID, content string, at time.Time) error

	// MarkDeleted sets the soft-delete flag and bumps LastUpdated. The row
	// is retained.
	MarkDeleted(ctx context.Context, platform, messageID string, at time.Time) error

	// Oldest and Newest return the boundary records for a channel, or
	// ErrNotFound when the channel has no stored history.
	Oldest(ctx context.Context, key ChannelKey) (MessageRecord, error)
	Newest(ctx context.Context, key ChannelKey) (MessageRecord, error)

	// RecentPage returns up to limit of the newest records for a channel,
	// in chronological order.
	RecentPage(ctx context.Context, key ChannelKey, limit int) ([]MessageRecord, error)

	// PruneOlderThan removes records whose timestamp precedes cutoff,
	// returning the number removed.
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping reports backend health for readiness checks.
	Ping(ctx context.Context) error

	Close() error
}

const (
	// DefaultPageLimit bounds RecentPage and history requests when the
	// caller passes a non-positive limit.
	DefaultPageLimit = 50
	// MaxPageLimit is the hard upper bound for a single range read.
	MaxPageLimit = 500
)

// ClampLimit normalizes a requested page size into [1, MaxPageLimit].
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageLimit
	}
	if limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}
