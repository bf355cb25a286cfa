package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/beacon-im/beacon/internal/model"
)

// CachedMessages returns the cached message list for a chat, or nil if no
// cache entry exists. A corrupt payload is treated as a miss.
func (db *DB) CachedMessages(chatID string) ([]model.Message, error) {
	var payload []byte
	err := db.QueryRow(`SELECT payload FROM message_cache WHERE chat_id = ?`, chatID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}

	var msgs []model.Message
	if err := msgpack.Unmarshal(payload, &msgs); err != nil {
		return nil, nil
	}
	return msgs, nil
}

// SetCachedMessages replaces the cached list for a chat and records the
// newest message timestamp as the chat's cache watermark.
func (db *DB) SetCachedMessages(chatID string, msgs []model.Message) error {
	payload, err := msgpack.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}

	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO message_cache (chat_id, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		chatID, payload, now)
	if err != nil {
		return fmt.Errorf("write cache: %w", err)
	}

	var newest int64
	for i := range msgs {
		if k := msgs[i].OrderKey(); k > newest {
			newest = k
		}
	}
	return db.SetCheckpoint("cache_watermark:"+chatID, strconv.FormatInt(newest, 10))
}

// ClearCachedMessages drops the cache entry for a chat.
func (db *DB) ClearCachedMessages(chatID string) error {
	_, err := db.Exec(`DELETE FROM message_cache WHERE chat_id = ?`, chatID)
	return err
}
