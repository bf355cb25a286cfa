package model

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// MessageType identifies what a message carries.
type MessageType string

const (
	TypeText       MessageType = "text"
	TypeImage      MessageType = "image"
	TypeImageGroup MessageType = "image_group"
	TypeVideo      MessageType = "video"
	TypeDocument   MessageType = "document"
)

// Status is the local delivery state of a message. A persisted message
// carries no status: arrival of the authoritative copy clears it implicitly.
type Status string

const (
	StatusSending Status = "sending"
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

// Message is the central entity of the sync core. Optimistic copies carry a
// temp-prefixed ID and a Status; authoritative copies carry a server ID and,
// when they superseded an optimistic send, the TempID that produced them.
type Message struct {
	ID           string           `msgpack:"id" json:"id"`
	TempID       string           `msgpack:"temp_id,omitempty" json:"tempId,omitempty"`
	ChatID       string           `msgpack:"chat_id" json:"chatId"`
	SenderID     string           `msgpack:"sender_id" json:"senderId"`
	SenderName   string           `msgpack:"sender_name,omitempty" json:"senderName,omitempty"`
	SenderAvatar string           `msgpack:"sender_avatar,omitempty" json:"senderAvatar,omitempty"`
	Type         MessageType      `msgpack:"type" json:"type"`
	Text         string           `msgpack:"text" json:"text"`
	MediaURL     string           `msgpack:"media_url,omitempty" json:"mediaUrl,omitempty"`
	Media        *MediaInfo       `msgpack:"media,omitempty" json:"media,omitempty"`
	Timestamp    int64            `msgpack:"timestamp" json:"timestamp"`
	CreatedAt    int64            `msgpack:"created_at" json:"createdAt"`
	Status       Status           `msgpack:"status,omitempty" json:"status,omitempty"`
	FailureCause string           `msgpack:"failure_cause,omitempty" json:"failureCause,omitempty"`
	ReadBy       map[string]int64 `msgpack:"read_by,omitempty" json:"readBy,omitempty"`
	DeliveredTo  map[string]int64 `msgpack:"delivered_to,omitempty" json:"deliveredTo,omitempty"`
	ReplyTo      *ReplyRef        `msgpack:"reply_to,omitempty" json:"replyTo,omitempty"`
	LinkPreview  *LinkPreview     `msgpack:"link_preview,omitempty" json:"linkPreview,omitempty"`
	IsEdited     bool             `msgpack:"is_edited,omitempty" json:"isEdited,omitempty"`
	EditedAt     int64            `msgpack:"edited_at,omitempty" json:"editedAt,omitempty"`
}

// MediaInfo describes a completed attachment upload.
type MediaInfo struct {
	FileName string `msgpack:"file_name" json:"fileName"`
	FileSize int64  `msgpack:"file_size" json:"fileSize"`
	MimeType string `msgpack:"mime_type" json:"mimeType"`
}

// ReplyRef points at the message being replied to.
type ReplyRef struct {
	MessageID  string `msgpack:"message_id" json:"messageId"`
	SenderName string `msgpack:"sender_name,omitempty" json:"senderName,omitempty"`
	Excerpt    string `msgpack:"excerpt,omitempty" json:"excerpt,omitempty"`
}

// LinkPreview is a best-effort enrichment for the first URL in a text message.
type LinkPreview struct {
	URL         string `msgpack:"url" json:"url"`
	Title       string `msgpack:"title,omitempty" json:"title,omitempty"`
	Description string `msgpack:"description,omitempty" json:"description,omitempty"`
	ImageURL    string `msgpack:"image_url,omitempty" json:"imageUrl,omitempty"`
}

// ChatMetadata holds the per-user filter boundaries for one conversation.
// ClearedAt hides messages at or before that time (soft local delete);
// JoinedAt, for groups, hides messages sent before the user's latest join.
type ChatMetadata struct {
	ClearedAt map[string]int64 `json:"clearedAt,omitempty"`
	JoinedAt  map[string]int64 `json:"joinedAt,omitempty"`
}

const tempIDPrefix = "temp_"

// NewTempID generates a client-side message identifier. The prefix guarantees
// it can never collide with a server-issued id.
func NewTempID() string {
	return fmt.Sprintf("%s%d_%06d", tempIDPrefix, time.Now().UnixMilli(), rand.Intn(1_000_000))
}

// IsTempID reports whether id was generated by NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

// Persisted reports whether m is an authoritative copy.
func (m *Message) Persisted() bool {
	return m.Status == "" && !IsTempID(m.ID)
}

// OrderKey returns the sort key: timestamp if present, else createdAt.
// Callers break remaining ties by ID comparison.
func (m *Message) OrderKey() int64 {
	if m.Timestamp != 0 {
		return m.Timestamp
	}
	return m.CreatedAt
}
