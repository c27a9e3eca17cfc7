package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/beltheas/scrollback/crypto"
)

// Postgres implements Store on database/sql with the pgx stdlib driver.
// When enc is non-nil, message bodies are encrypted at rest (AES-256-GCM,
// base64 in the content column) and content_version tracks which rows are
// ciphertext so plaintext deployments can be upgraded in place.
type Postgres struct {
	db  *sql.DB
	enc crypto.Encryptor
}

// NewPostgres wraps an open connection pool. enc may be nil for plaintext
// storage.
func NewPostgres(db *sql.DB, enc crypto.Encryptor) *Postgres {
	return &Postgres{db: db, enc: enc}
}

const messageColumns = `platform, guild_id, channel_id, message_id, user_id, username, nickname, self_id, content, quote_id, ts, last_updated, deleted, content_version`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (p *Postgres) scanMessage(s rowScanner) (MessageRecord, error) {
	var (
		rec     MessageRecord
		quoteID sql.NullString
		version int
	)
	err := s.Scan(
		&rec.Platform,
		&rec.GuildID,
		&rec.ChannelID,
		&rec.MessageID,
		&rec.UserID,
		&rec.Username,
		&rec.Nickname,
		&rec.SelfID,
		&rec.Content,
		&quoteID,
		&rec.Timestamp,
		&rec.LastUpdated,
		&rec.Deleted,
		&version,
	)
	if err != nil {
		return MessageRecord{}, err
	}
	if quoteID.Valid {
		rec.QuoteID = quoteID.String
	}
	if version == contentEncrypted {
		if p.enc == nil {
			return MessageRecord{}, fmt.Errorf("message %s/%s is encrypted but no content key is configured", rec.Platform, rec.MessageID)
		}
		plain, err := crypto.DecryptString(p.enc, rec.Content)
		if err != nil {
			return MessageRecord{}, fmt.Errorf("decrypt content for %s/%s: %w", rec.Platform, rec.MessageID, err)
		}
		rec.Content = plain
	}
	return rec, nil
}

const (
	contentPlaintext = 0
	contentEncrypted = 1
)

// encodeContent applies at-rest encryption when configured, returning the
// column value and its content_version.
func (p *Postgres) encodeContent(content string) (string, int, error) {
	if p.enc == nil || content == "" {
		return content, contentPlaintext, nil
	}
	enc, err := crypto.EncryptString(p.enc, content)
	if err != nil {
		return "", 0, fmt.Errorf("encrypt content: %w", err)
	}
	return enc, contentEncrypted, nil
}

// Upsert writes the batch in a single transaction. Conflicting keys take the
// incoming content and timestamps; authorship fields only overwrite when the
// incoming value is non-empty, and a soft-deleted row stays deleted.
func (p *Postgres) Upsert(ctx context.Context, records []MessageRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	const q = `
		INSERT INTO messages (platform, guild_id, channel_id, message_id, user_id, username, nickname, self_id, content, quote_id, ts, last_updated, deleted, content_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (platform, channel_id, message_id) DO UPDATE SET
			guild_id = CASE WHEN EXCLUDED.guild_id <> '' THEN EXCLUDED.guild_id ELSE messages.guild_id END,
			user_id = COALESCE(NULLIF(EXCLUDED.user_id, ''), messages.user_id),
			username = COALESCE(NULLIF(EXCLUDED.username, ''), messages.username),
			nickname = COALESCE(NULLIF(EXCLUDED.nickname, ''), messages.nickname),
			self_id = COALESCE(NULLIF(EXCLUDED.self_id, ''), messages.self_id),
			content = EXCLUDED.content,
			quote_id = COALESCE(EXCLUDED.quote_id, messages.quote_id),
			ts = EXCLUDED.ts,
			last_updated = EXCLUDED.last_updated,
			deleted = messages.deleted OR EXCLUDED.deleted,
			content_version = EXCLUDED.content_version`

	for i, rec := range records {
		body, version, err := p.encodeContent(rec.Content)
		if err != nil {
			return fmt.Errorf("upsert record %d: %w", i, err)
		}
		var quoteID any
		if rec.QuoteID != "" {
			quoteID = rec.QuoteID
		}
		if _, err := tx.ExecContext(ctx, q,
			rec.Platform, rec.GuildID, rec.ChannelID, rec.MessageID,
			rec.UserID, rec.Username, rec.Nickname, rec.SelfID,
			body, quoteID, rec.Timestamp.UTC(), rec.LastUpdated.UTC(), rec.Deleted, version,
		); err != nil {
			return fmt.Errorf("upsert record %d (%s/%s): %w", i, rec.ChannelID, rec.MessageID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert tx: %w", err)
	}
	return nil
}

// Get fetches one record by (platform, message id).
func (p *Postgres) Get(ctx context.Context, platform, messageID string) (MessageRecord, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE platform=$1 AND message_id=$2 LIMIT 1`,
		platform, messageID)
	rec, err := p.scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return MessageRecord{}, ErrNotFound
	}
	if err != nil {
		return MessageRecord{}, fmt.Errorf("get message %s/%s: %w", platform, messageID, err)
	}
	return rec, nil
}

// SetContent replaces the stored body and bumps last_updated.
func (p *Postgres) SetContent(ctx context.Context, platform, messageID, content string, at time.Time) error {
	body, version, err := p.encodeContent(content)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE messages SET content=$1, content_version=$2, last_updated=$3 WHERE platform=$4 AND message_id=$5`,
		body, version, at.UTC(), platform, messageID)
	if err != nil {
		return fmt.Errorf("update content %s/%s: %w", platform, messageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update content rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkDeleted flips the soft-delete flag; the row is retained.
func (p *Postgres) MarkDeleted(ctx context.Context, platform, messageID string, at time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE messages SET deleted=TRUE, last_updated=$1 WHERE platform=$2 AND message_id=$3`,
		at.UTC(), platform, messageID)
	if err != nil {
		return fmt.Errorf("mark deleted %s/%s: %w", platform, messageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark deleted rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) boundary(ctx context.Context, key ChannelKey, order string) (MessageRecord, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE platform=$1 AND guild_id=$2 AND channel_id=$3
		 ORDER BY ts `+order+`, message_id `+order+` LIMIT 1`,
		key.Platform, key.GuildID, key.ChannelID)
	rec, err := p.scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return MessageRecord{}, ErrNotFound
	}
	if err != nil {
		return MessageRecord{}, fmt.Errorf("boundary query for %s: %w", key, err)
	}
	return rec, nil
}

// Oldest returns the earliest stored record for a channel.
func (p *Postgres) Oldest(ctx context.Context, key ChannelKey) (MessageRecord, error) {
	return p.boundary(ctx, key, "ASC")
}

// Newest returns the latest stored record for a channel.
func (p *Postgres) Newest(ctx context.Context, key ChannelKey) (MessageRecord, error) {
	return p.boundary(ctx, key, "DESC")
}

// RecentPage selects the newest limit records and re-orders them
// chronologically, so callers always see oldest-first pages.
func (p *Postgres) RecentPage(ctx context.Context, key ChannelKey, limit int) ([]MessageRecord, error) {
	limit = ClampLimit(limit)
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE platform=$1 AND guild_id=$2 AND channel_id=$3
			ORDER BY ts DESC, message_id DESC
			LIMIT $4
		) AS recent ORDER BY ts ASC, message_id ASC`,
		key.Platform, key.GuildID, key.ChannelID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent page for %s: %w", key, err)
	}
	defer rows.Close()

	var out []MessageRecord
	for rows.Next() {
		rec, err := p.scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recent page row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent page rows: %w", err)
	}
	return out, nil
}

// PruneOlderThan deletes records created before cutoff.
func (p *Postgres) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM messages WHERE ts < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}
	return n, nil
}

// Ping reports connection health.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the underlying pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}
