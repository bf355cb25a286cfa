// Package outbox is the durable offline send queue. Entries are written
// synchronously before any network attempt, so a crash mid-send cannot lose
// a composed message.
package outbox

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/beacon-im/beacon/internal/model"
	"github.com/beacon-im/beacon/internal/store"
)

// retryLimit caps drain attempts per entry; after that the entry is evicted
// and the message goes terminal FAILED.
const retryLimit = 3

// Entry is a decoded queued message.
type Entry struct {
	ID         string
	ChatID     string
	Message    model.Message
	IsGroup    bool
	RetryCount int
}

// Queue wraps the store's outbox table with serialization and the retry
// ceiling.
type Queue struct {
	db     *store.DB
	logger *zap.Logger

	// RetryLimit is exposed for tests; defaults to retryLimit.
	RetryLimit int
}

// NewQueue creates a queue over the session database.
func NewQueue(db *store.DB, logger *zap.Logger) *Queue {
	return &Queue{db: db, logger: logger, RetryLimit: retryLimit}
}

// AddPending durably stores one message. The entry id is the message's
// client-generated temp id.
func (q *Queue) AddPending(chatID string, msg *model.Message, isGroup bool) error {
	payload, err := msgpack.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode pending message: %w", err)
	}
	return q.db.QueueOutbox(&store.OutboxEntry{
		ID:      msg.ID,
		ChatID:  chatID,
		Payload: payload,
		IsGroup: isGroup,
	})
}

// PendingForChat returns all queued entries for a conversation in insertion
// order. Entries whose payload fails to decode are skipped and evicted.
func (q *Queue) PendingForChat(chatID string) ([]Entry, error) {
	rows, err := q.db.OutboxForChat(chatID)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		var msg model.Message
		if err := msgpack.Unmarshal(row.Payload, &msg); err != nil {
			if q.logger != nil {
				q.logger.Warn("dropping undecodable outbox entry", zap.String("id", row.ID), zap.Error(err))
			}
			_ = q.db.RemoveOutbox(row.ID)
			continue
		}
		entries = append(entries, Entry{
			ID:         row.ID,
			ChatID:     row.ChatID,
			Message:    msg,
			IsGroup:    row.IsGroup,
			RetryCount: row.RetryCount,
		})
	}
	return entries, nil
}

// ShouldRetry reports whether the entry exists and is below the retry ceiling.
func (q *Queue) ShouldRetry(id string) bool {
	count, err := q.db.OutboxRetryCount(id)
	if err != nil || count < 0 {
		return false
	}
	return count < q.RetryLimit
}

// IncrementRetry bumps the entry's attempt counter.
func (q *Queue) IncrementRetry(id string) error {
	return q.db.IncrementOutboxRetry(id)
}

// Remove deletes the entry.
func (q *Queue) Remove(id string) error {
	return q.db.RemoveOutbox(id)
}
