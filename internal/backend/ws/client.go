// Package ws implements the backend.Service contract over a WebSocket
// realtime connection plus S3-compatible object storage for attachments.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/beacon-im/beacon/internal/backend"
	"github.com/beacon-im/beacon/internal/blob"
	"github.com/beacon-im/beacon/internal/config"
	"github.com/beacon-im/beacon/internal/connectivity"
	"github.com/beacon-im/beacon/internal/model"
)

// requestTimeout bounds how long a command waits for its server ack.
const requestTimeout = 15 * time.Second

// VideoCompressor shrinks a video attachment before upload. Implementations
// report percentage progress for the "compressing" phase.
type VideoCompressor interface {
	Compress(ctx context.Context, att *model.Attachment, onProgress func(percent int)) (*model.Attachment, error)
}

type subEntry struct {
	chatID     string
	isGroup    bool
	onSnapshot backend.SnapshotFunc
	onError    backend.ErrorFunc
}

type ackResult struct {
	err  string
	data json.RawMessage
}

// Client is the production backend.Service. It maintains one realtime
// connection, reconnecting with backoff, and flips the connectivity monitor
// as the link comes and goes.
type Client struct {
	cfg        config.Backend
	blob       *blob.Store
	mon        *connectivity.Monitor
	logger     *zap.Logger
	compressor VideoCompressor

	mu      sync.Mutex
	conn    *websocket.Conn
	subs    map[string]*subEntry
	pending map[string]chan ackResult
	recon   *reconnector
	closed  bool
}

// NewClient creates a client; Connect must be called before use.
func NewClient(cfg config.Backend, blobStore *blob.Store, mon *connectivity.Monitor, logger *zap.Logger) *Client {
	return &Client{
		cfg:     cfg,
		blob:    blobStore,
		mon:     mon,
		logger:  logger,
		subs:    make(map[string]*subEntry),
		pending: make(map[string]chan ackResult),
		recon:   newReconnector(),
	}
}

// SetVideoCompressor installs an optional compression step for video uploads.
func (c *Client) SetVideoCompressor(v VideoCompressor) {
	c.compressor = v
}

// Connect dials the realtime endpoint and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	url := fmt.Sprintf("%s?userId=%s&token=%s", c.cfg.URL, c.cfg.UserID, c.cfg.AuthToken)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial realtime: %w", err)
	}
	conn.SetReadLimit(16 << 20)

	c.mu.Lock()
	c.conn = conn
	c.recon.markConnected()
	c.mu.Unlock()

	c.mon.SetOnline()
	c.resubscribe()
	go c.readLoop(conn)
	return nil
}

// Close tears the connection down permanently.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client shutdown")
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			if closed {
				return
			}
			c.logger.Warn("realtime connection lost", zap.Error(err))
			c.mon.SetOffline()
			go c.reconnectLoop()
			return
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) reconnectLoop() {
	for {
		c.mu.Lock()
		closed := c.closed
		ok := c.recon.shouldReconnect()
		c.mu.Unlock()
		if closed || !ok {
			return
		}

		delay := c.recon.nextDelay()
		c.logger.Info("reconnecting to realtime", zap.Duration("delay", delay))
		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.Connect(ctx)
		cancel()
		if err == nil {
			return
		}
	}
}

// resubscribe replays all live subscriptions after a reconnect.
func (c *Client) resubscribe() {
	c.mu.Lock()
	entries := make([]*subEntry, 0, len(c.subs))
	for _, e := range c.subs {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	for _, e := range entries {
		if err := c.write(cmdSubscribe, subscribeCmd{ChatID: e.chatID, IsGroup: e.isGroup}); err != nil {
			c.logger.Warn("resubscribe failed", zap.String("chat_id", e.chatID), zap.Error(err))
		}
	}
}

func (c *Client) dispatch(env Envelope) {
	switch env.Type {
	case typeSnapshot:
		var p snapshotPayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		c.mu.Lock()
		sub := c.subs[p.ChatID]
		c.mu.Unlock()
		if sub != nil {
			sub.onSnapshot(p.Messages)
		}
	case typeSubError:
		var p subErrorPayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		c.mu.Lock()
		sub := c.subs[p.ChatID]
		c.mu.Unlock()
		if sub != nil {
			sub.onError(errors.New(p.Message))
		}
	case typeAck:
		var p ackPayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[p.RequestID]
		if ok {
			delete(c.pending, p.RequestID)
		}
		c.mu.Unlock()
		if ok {
			ch <- ackResult{err: p.Error, data: p.Data}
		}
	}
}

func (c *Client) write(kind string, payload any) error {
	data, err := marshalEnvelope(kind, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return backend.ErrOffline
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// request writes a command and waits for its ack.
func (c *Client) request(ctx context.Context, kind string, requestID string, payload any) (json.RawMessage, error) {
	ch := make(chan ackResult, 1)
	c.mu.Lock()
	c.pending[requestID] = ch
	c.mu.Unlock()

	cleanup := func() {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
	}

	if err := c.write(kind, payload); err != nil {
		cleanup()
		return nil, err
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		if res.err != "" {
			return nil, errors.New(res.err)
		}
		return res.data, nil
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	case <-timer.C:
		cleanup()
		return nil, fmt.Errorf("request %s timed out", kind)
	}
}

// Subscribe implements backend.Service.
func (c *Client) Subscribe(_ context.Context, chatID string, isGroup bool, onSnapshot backend.SnapshotFunc, onError backend.ErrorFunc) (func(), error) {
	entry := &subEntry{chatID: chatID, isGroup: isGroup, onSnapshot: onSnapshot, onError: onError}
	c.mu.Lock()
	c.subs[chatID] = entry
	c.mu.Unlock()

	if err := c.write(cmdSubscribe, subscribeCmd{ChatID: chatID, IsGroup: isGroup}); err != nil && !errors.Is(err, backend.ErrOffline) {
		// Offline is fine: resubscribe replays after reconnect.
		c.mu.Lock()
		delete(c.subs, chatID)
		c.mu.Unlock()
		return nil, err
	}

	return func() {
		c.mu.Lock()
		delete(c.subs, chatID)
		c.mu.Unlock()
		_ = c.write(cmdUnsubscribe, subscribeCmd{ChatID: chatID, IsGroup: isGroup})
	}, nil
}

// ChatMetadata implements backend.Service.
func (c *Client) ChatMetadata(ctx context.Context, chatID string) (*model.ChatMetadata, error) {
	id := uuid.NewString()
	data, err := c.request(ctx, cmdMetadata, id, metadataCmd{RequestID: id, ChatID: chatID})
	if err != nil {
		return nil, err
	}
	var meta model.ChatMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &meta, nil
}

// SendMessage implements backend.Service.
func (c *Client) SendMessage(ctx context.Context, chatID string, msg *model.Message) error {
	id := uuid.NewString()
	_, err := c.request(ctx, cmdSend, id, sendCmd{RequestID: id, ChatID: chatID, Message: msg})
	return err
}

// EditMessage implements backend.Service.
func (c *Client) EditMessage(ctx context.Context, chatID, messageID, text string) error {
	id := uuid.NewString()
	_, err := c.request(ctx, cmdEdit, id, editCmd{RequestID: id, ChatID: chatID, MessageID: messageID, Text: text})
	return err
}

// DeleteMessage implements backend.Service.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	id := uuid.NewString()
	_, err := c.request(ctx, cmdDelete, id, deleteCmd{RequestID: id, ChatID: chatID, MessageID: messageID})
	return err
}

// UploadImage implements backend.Service.
func (c *Client) UploadImage(ctx context.Context, chatID string, att *model.Attachment, onProgress backend.ProgressFunc) (*backend.UploadResult, error) {
	return c.upload(ctx, chatID, att, onProgress)
}

// UploadDocument implements backend.Service.
func (c *Client) UploadDocument(ctx context.Context, chatID string, att *model.Attachment, onProgress backend.ProgressFunc) (*backend.UploadResult, error) {
	return c.upload(ctx, chatID, att, onProgress)
}

// UploadVideo implements backend.Service. When compress is set and a
// compressor is installed, a compressing phase precedes the transfer.
func (c *Client) UploadVideo(ctx context.Context, chatID string, att *model.Attachment, compress bool, onProgress backend.ProgressFunc) (*backend.UploadResult, error) {
	if compress && c.compressor != nil {
		smaller, err := c.compressor.Compress(ctx, att, func(pct int) {
			if onProgress != nil {
				onProgress(model.UploadProgress{Phase: model.PhaseCompressing, Percent: pct})
			}
		})
		if err != nil {
			return nil, fmt.Errorf("compress video: %w", err)
		}
		att = smaller
	}
	return c.upload(ctx, chatID, att, onProgress)
}

func (c *Client) upload(ctx context.Context, chatID string, att *model.Attachment, onProgress backend.ProgressFunc) (*backend.UploadResult, error) {
	key := fmt.Sprintf("%s/%s%s", chatID, uuid.NewString(), path.Ext(att.FileName))
	url, err := c.blob.Put(ctx, key, att, func(pct int) {
		if onProgress != nil {
			onProgress(model.UploadProgress{Phase: model.PhaseUploading, Percent: pct})
		}
	})
	if err != nil {
		return nil, err
	}
	return &backend.UploadResult{
		URL: url,
		Media: model.MediaInfo{
			FileName: att.FileName,
			FileSize: att.Size(),
			MimeType: att.MimeType,
		},
	}, nil
}

// MarkRead implements backend.Service. Receipts are fire-and-forget.
func (c *Client) MarkRead(_ context.Context, chatID, userID string, messageIDs []string) error {
	return c.write(cmdRead, receiptCmd{ChatID: chatID, UserID: userID, MessageIDs: messageIDs})
}

// MarkDelivered implements backend.Service.
func (c *Client) MarkDelivered(_ context.Context, chatID, userID string, messageIDs []string) error {
	return c.write(cmdDelivered, receiptCmd{ChatID: chatID, UserID: userID, MessageIDs: messageIDs})
}

var _ backend.Service = (*Client)(nil)
