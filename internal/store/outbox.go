package store

import (
	"database/sql"
	"errors"
	"time"
)

// OutboxEntry is one durably queued offline message. Payload is the
// msgpack-encoded message; decoding belongs to the outbox package.
type OutboxEntry struct {
	ID         string
	ChatID     string
	Payload    []byte
	IsGroup    bool
	RetryCount int
	CreatedAt  int64
}

// QueueOutbox stores one entry. The write is synchronous so a crash after
// this call cannot lose the user's message.
func (db *DB) QueueOutbox(e *OutboxEntry) error {
	now := time.Now().UnixMilli()
	if e.CreatedAt == 0 {
		e.CreatedAt = now
	}
	_, err := db.Exec(`
		INSERT INTO outbox (id, chat_id, payload, is_group, retry_count, created_at)
		VALUES (?, ?, ?, ?, 0, ?)`,
		e.ID, e.ChatID, e.Payload, e.IsGroup, e.CreatedAt)
	return err
}

// OutboxForChat returns queued entries for one chat in insertion order.
func (db *DB) OutboxForChat(chatID string) ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, chat_id, payload, is_group, retry_count, created_at
		FROM outbox WHERE chat_id = ? ORDER BY created_at ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.ChatID, &e.Payload, &e.IsGroup, &e.RetryCount, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// OutboxRetryCount returns the retry counter for an entry, or -1 if the
// entry no longer exists.
func (db *DB) OutboxRetryCount(id string) (int, error) {
	var count int
	err := db.QueryRow(`SELECT retry_count FROM outbox WHERE id = ?`, id).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

// IncrementOutboxRetry bumps the retry counter for an entry.
func (db *DB) IncrementOutboxRetry(id string) error {
	_, err := db.Exec(`UPDATE outbox SET retry_count = retry_count + 1 WHERE id = ?`, id)
	return err
}

// RemoveOutbox deletes an entry. Removing a missing entry is not an error.
func (db *DB) RemoveOutbox(id string) error {
	_, err := db.Exec(`DELETE FROM outbox WHERE id = ?`, id)
	return err
}
