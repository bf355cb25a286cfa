// Package backend defines the contract the sync core expects from the chat
// server: a live query subscription per conversation, point reads for
// conversation metadata, send/edit/delete primitives, attachment uploads,
// and fire-and-forget receipt writes.
package backend

import (
	"context"

	"github.com/beacon-im/beacon/internal/model"
)

// SnapshotFunc receives the full ordered list of persisted messages for a
// subscribed conversation on every change.
type SnapshotFunc func(msgs []model.Message)

// ErrorFunc receives subscription-level failures.
type ErrorFunc func(err error)

// ProgressFunc receives upload phase/percentage updates.
type ProgressFunc func(p model.UploadProgress)

// UploadResult is returned by a completed attachment upload.
type UploadResult struct {
	URL   string
	Media model.MediaInfo
}

// Service is the backend collaborator of the timeline. Implementations must
// deliver snapshots and errors asynchronously and must be safe for use from
// multiple goroutines.
type Service interface {
	// Subscribe establishes a live query for one conversation. The returned
	// function tears the subscription down.
	Subscribe(ctx context.Context, chatID string, isGroup bool, onSnapshot SnapshotFunc, onError ErrorFunc) (func(), error)

	// ChatMetadata reads the per-user filter boundaries for a conversation.
	ChatMetadata(ctx context.Context, chatID string) (*model.ChatMetadata, error)

	// SendMessage persists a message. The draft carries its client-generated
	// TempID so the stored copy can be correlated with the optimistic entry.
	SendMessage(ctx context.Context, chatID string, msg *model.Message) error

	// EditMessage replaces the text of a persisted message.
	EditMessage(ctx context.Context, chatID, messageID, text string) error

	// DeleteMessage removes a persisted message.
	DeleteMessage(ctx context.Context, chatID, messageID string) error

	// UploadImage, UploadVideo and UploadDocument transfer an attachment to
	// object storage, reporting progress until the context ends or the
	// transfer completes. Video may run an optional compression phase first.
	UploadImage(ctx context.Context, chatID string, att *model.Attachment, onProgress ProgressFunc) (*UploadResult, error)
	UploadVideo(ctx context.Context, chatID string, att *model.Attachment, compress bool, onProgress ProgressFunc) (*UploadResult, error)
	UploadDocument(ctx context.Context, chatID string, att *model.Attachment, onProgress ProgressFunc) (*UploadResult, error)

	// MarkRead and MarkDelivered write acknowledgement receipts.
	MarkRead(ctx context.Context, chatID, userID string, messageIDs []string) error
	MarkDelivered(ctx context.Context, chatID, userID string, messageIDs []string) error
}
