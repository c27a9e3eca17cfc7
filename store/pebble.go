package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/beltheas/scrollback/crypto"
)

// Pebble implements Store on an embedded pebble database. Records live under
// time-ordered keys so channel range reads are prefix scans:
//
//	msg:<platform>:<guild>:<channel>:<unixnano %020d>:<message id> -> envelope
//	id:<platform>:<message id>                                     -> primary key
//
// The id index serves point updates, which are keyed by (platform, message id)
// and do not know the channel or timestamp.
type Pebble struct {
	db  *pebble.DB
	enc crypto.Encryptor
}

// pebbleEnvelope wraps a record with its at-rest content version so encrypted
// and plaintext rows can coexist during a key rollout.
type pebbleEnvelope struct {
	Record         MessageRecord `json:"record"`
	ContentVersion int           `json:"content_version"`
}

// NewPebble opens (creating if needed) a pebble database at path. enc may be
// nil for plaintext storage.
func NewPebble(path string, enc crypto.Encryptor) (*Pebble, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &Pebble{db: db, enc: enc}, nil
}

func messageKey(rec MessageRecord) []byte {
	return fmt.Appendf(nil, "msg:%s:%s:%s:%020d:%s",
		rec.Platform, rec.GuildID, rec.ChannelID, rec.Timestamp.UTC().UnixNano(), rec.MessageID)
}

func channelPrefix(key ChannelKey) []byte {
	return fmt.Appendf(nil, "msg:%s:%s:%s:", key.Platform, key.GuildID, key.ChannelID)
}

func indexKey(platform, messageID string) []byte {
	return fmt.Appendf(nil, "id:%s:%s", platform, messageID)
}

// prefixUpperBound returns the smallest key greater than every key with the
// given prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (p *Pebble) encode(rec MessageRecord) ([]byte, error) {
	env := pebbleEnvelope{Record: rec, ContentVersion: contentPlaintext}
	if p.enc != nil && rec.Content != "" {
		enc, err := crypto.EncryptString(p.enc, rec.Content)
		if err != nil {
			return nil, fmt.Errorf("encrypt content: %w", err)
		}
		env.Record.Content = enc
		env.ContentVersion = contentEncrypted
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return data, nil
}

func (p *Pebble) decode(data []byte) (MessageRecord, error) {
	var env pebbleEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return MessageRecord{}, fmt.Errorf("unmarshal record: %w", err)
	}
	if env.ContentVersion == contentEncrypted {
		if p.enc == nil {
			return MessageRecord{}, errors.New("record is encrypted but no content key is configured")
		}
		plain, err := crypto.DecryptString(p.enc, env.Record.Content)
		if err != nil {
			return MessageRecord{}, fmt.Errorf("decrypt content: %w", err)
		}
		env.Record.Content = plain
	}
	return env.Record, nil
}

// Upsert applies the batch atomically. A re-upserted message whose timestamp
// changed is moved: the stale primary key found through the id index is
// removed before the new one is written. Soft-deleted rows stay deleted.
func (p *Pebble) Upsert(ctx context.Context, records []MessageRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := p.db.NewBatch()
	defer batch.Close()

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		primary := messageKey(rec)
		idx := indexKey(rec.Platform, rec.MessageID)

		if prev, err := p.getByIndex(idx); err == nil {
			if prev.Deleted {
				rec.Deleted = true
			}
			if rec.UserID == "" {
				rec.UserID = prev.UserID
			}
			if rec.Username == "" {
				rec.Username = prev.Username
			}
			if rec.Nickname == "" {
				rec.Nickname = prev.Nickname
			}
			stale := messageKey(prev)
			if !bytes.Equal(stale, primary) {
				if err := batch.Delete(stale, nil); err != nil {
					return fmt.Errorf("delete stale key for %s: %w", rec.MessageID, err)
				}
			}
		} else if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("upsert record %d: %w", i, err)
		}

		data, err := p.encode(rec)
		if err != nil {
			return fmt.Errorf("upsert record %d: %w", i, err)
		}
		if err := batch.Set(primary, data, nil); err != nil {
			return fmt.Errorf("set record %s: %w", rec.MessageID, err)
		}
		if err := batch.Set(idx, primary, nil); err != nil {
			return fmt.Errorf("set id index %s: %w", rec.MessageID, err)
		}
	}
	if err := p.db.Apply(batch, pebble.Sync); err != nil {
		return fmt.Errorf("apply upsert batch: %w", err)
	}
	return nil
}

// getByIndex resolves an id index entry to its record.
func (p *Pebble) getByIndex(idx []byte) (MessageRecord, error) {
	primary, closer, err := p.db.Get(idx)
	if errors.Is(err, pebble.ErrNotFound) {
		return MessageRecord{}, ErrNotFound
	}
	if err != nil {
		return MessageRecord{}, err
	}
	key := append([]byte(nil), primary...)
	closer.Close()

	data, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return MessageRecord{}, ErrNotFound
	}
	if err != nil {
		return MessageRecord{}, err
	}
	defer closer.Close()
	return p.decode(data)
}

// Get fetches one record by (platform, message id).
func (p *Pebble) Get(ctx context.Context, platform, messageID string) (MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return MessageRecord{}, err
	}
	rec, err := p.getByIndex(indexKey(platform, messageID))
	if errors.Is(err, ErrNotFound) {
		return MessageRecord{}, ErrNotFound
	}
	if err != nil {
		return MessageRecord{}, fmt.Errorf("get message %s/%s: %w", platform, messageID, err)
	}
	return rec, nil
}

// update rewrites a record in place through the id index.
func (p *Pebble) update(platform, messageID string, mutate func(*MessageRecord)) error {
	rec, err := p.getByIndex(indexKey(platform, messageID))
	if err != nil {
		return err
	}
	mutate(&rec)
	data, err := p.encode(rec)
	if err != nil {
		return err
	}
	if err := p.db.Set(messageKey(rec), data, pebble.Sync); err != nil {
		return fmt.Errorf("rewrite record %s/%s: %w", platform, messageID, err)
	}
	return nil
}

// SetContent replaces the stored body and bumps LastUpdated.
func (p *Pebble) SetContent(ctx context.Context, platform, messageID, content string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.update(platform, messageID, func(rec *MessageRecord) {
		rec.Content = content
		rec.LastUpdated = at.UTC()
	})
}

// MarkDeleted sets the soft-delete flag; the row is retained.
func (p *Pebble) MarkDeleted(ctx context.Context, platform, messageID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.update(platform, messageID, func(rec *MessageRecord) {
		rec.Deleted = true
		rec.LastUpdated = at.UTC()
	})
}

// Oldest returns the earliest stored record for a channel.
func (p *Pebble) Oldest(ctx context.Context, key ChannelKey) (MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return MessageRecord{}, err
	}
	prefix := channelPrefix(key)
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return MessageRecord{}, fmt.Errorf("iterator for %s: %w", key, err)
	}
	defer iter.Close()
	if !iter.First() {
		return MessageRecord{}, ErrNotFound
	}
	return p.decode(iter.Value())
}

// Newest returns the latest stored record for a channel.
func (p *Pebble) Newest(ctx context.Context, key ChannelKey) (MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return MessageRecord{}, err
	}
	prefix := channelPrefix(key)
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return MessageRecord{}, fmt.Errorf("iterator for %s: %w", key, err)
	}
	defer iter.Close()
	if !iter.Last() {
		return MessageRecord{}, ErrNotFound
	}
	return p.decode(iter.Value())
}

// RecentPage walks the channel prefix backward to collect the newest limit
// records, then reverses into chronological order.
func (p *Pebble) RecentPage(ctx context.Context, key ChannelKey, limit int) ([]MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = ClampLimit(limit)
	prefix := channelPrefix(key)
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return nil, fmt.Errorf("iterator for %s: %w", key, err)
	}
	defer iter.Close()

	var out []MessageRecord
	for ok := iter.Last(); ok && len(out) < limit; ok = iter.Prev() {
		rec, err := p.decode(iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	// newest-first to chronological
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// PruneOlderThan removes records created before cutoff across all channels,
// along with their id index entries.
func (p *Pebble) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	prefix := []byte("msg:")
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return 0, fmt.Errorf("prune iterator: %w", err)
	}
	defer iter.Close()

	batch := p.db.NewBatch()
	defer batch.Close()

	var pruned int64
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return pruned, err
		}
		rec, err := p.decode(iter.Value())
		if err != nil {
			continue // unreadable rows are skipped, not fatal to the sweep
		}
		if !rec.Timestamp.Before(cutoff) {
			continue
		}
		if err := batch.Delete(append([]byte(nil), iter.Key()...), nil); err != nil {
			return pruned, fmt.Errorf("prune delete: %w", err)
		}
		if err := batch.Delete(indexKey(rec.Platform, rec.MessageID), nil); err != nil {
			return pruned, fmt.Errorf("prune index delete: %w", err)
		}
		pruned++
	}
	if pruned > 0 {
		if err := p.db.Apply(batch, pebble.Sync); err != nil {
			return 0, fmt.Errorf("apply prune batch: %w", err)
		}
	}
	return pruned, nil
}

// Ping reports backend health; an open pebble handle is always ready.
func (p *Pebble) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close flushes and closes the database.
func (p *Pebble) Close() error {
	return p.db.Close()
}
