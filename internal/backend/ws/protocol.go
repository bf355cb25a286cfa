package ws

import (
	"encoding/json"

	"github.com/beacon-im/beacon/internal/model"
)

// Envelope is the wire format for every frame in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Server-to-client frame types.
const (
	typeSnapshot = "snapshot"
	typeSubError = "sub_error"
	typeAck      = "ack"
)

// Client-to-server command types.
const (
	cmdSubscribe   = "subscribe"
	cmdUnsubscribe = "unsubscribe"
	cmdSend        = "message.send"
	cmdEdit        = "message.edit"
	cmdDelete      = "message.delete"
	cmdRead        = "receipt.read"
	cmdDelivered   = "receipt.delivered"
	cmdMetadata    = "chat.metadata"
)

type subscribeCmd struct {
	ChatID  string `json:"chatId"`
	IsGroup bool   `json:"isGroup"`
}

type snapshotPayload struct {
	ChatID   string          `json:"chatId"`
	Messages []model.Message `json:"messages"`
}

type subErrorPayload struct {
	ChatID  string `json:"chatId"`
	Message string `json:"message"`
}

type ackPayload struct {
	RequestID string          `json:"requestId"`
	Error     string          `json:"error,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type sendCmd struct {
	RequestID string         `json:"requestId"`
	ChatID    string         `json:"chatId"`
	Message   *model.Message `json:"message"`
}

type editCmd struct {
	RequestID string `json:"requestId"`
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
}

type deleteCmd struct {
	RequestID string `json:"requestId"`
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

type receiptCmd struct {
	ChatID     string   `json:"chatId"`
	UserID     string   `json:"userId"`
	MessageIDs []string `json:"messageIds"`
}

type metadataCmd struct {
	RequestID string `json:"requestId"`
	ChatID    string `json:"chatId"`
}

func marshalEnvelope(kind string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: kind, Payload: raw})
}
