// Package timeline is the reconciliation core: it composes the local cache,
// the live subscription, the optimistic message set, the offline queue and
// the global upload manager into one consistent, time-ordered view per
// conversation.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/beacon-im/beacon/internal/backend"
	"github.com/beacon-im/beacon/internal/bus"
	"github.com/beacon-im/beacon/internal/connectivity"
	"github.com/beacon-im/beacon/internal/linkpreview"
	"github.com/beacon-im/beacon/internal/model"
	"github.com/beacon-im/beacon/internal/outbox"
	"github.com/beacon-im/beacon/internal/retry"
	"github.com/beacon-im/beacon/internal/store"
	"github.com/beacon-im/beacon/internal/uploads"
)

// Config tunes the send retry policy. Zero values select the defaults.
type Config struct {
	SendAttempts  int
	SendBaseDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.SendAttempts == 0 {
		c.SendAttempts = 3
	}
	if c.SendBaseDelay == 0 {
		c.SendBaseDelay = time.Second
	}
	return c
}

// Env bundles the shared collaborators a timeline needs. The store, queue
// and upload manager are process-wide; timelines come and go per
// conversation.
type Env struct {
	UserID  string
	Backend backend.Service
	Store   *store.DB
	Queue   *outbox.Queue
	Uploads *uploads.Manager
	Net     *connectivity.Monitor
	Bus     *bus.Bus
	Preview *linkpreview.Fetcher // optional; nil disables link previews
	Logger  *zap.Logger
	Config  Config
}

// Timeline owns the message view of one conversation. It is the only writer
// to its optimistic set; the authoritative set is replaced wholesale by each
// subscription snapshot.
type Timeline struct {
	env     Env
	chatID  string
	isGroup bool
	quit    chan struct{}

	mu            sync.Mutex
	loading       bool
	errText       string
	clearedAt     int64
	joinedAt      int64
	authoritative []model.Message
	optimistic    []model.Message
	merged        []model.Message
	unsub         func()
	stopNet       func()
	closed        bool
}

// New creates a timeline for one conversation. Call Open to start it.
func New(env Env, chatID string, isGroup bool) *Timeline {
	env.Config = env.Config.withDefaults()
	return &Timeline{
		env:     env,
		chatID:  chatID,
		isGroup: isGroup,
		quit:    make(chan struct{}),
		loading: true,
	}
}

// Open paints the cached view, restores queued offline sends, fetches the
// filter boundaries and then subscribes. The boundaries are resolved before
// the subscription so the very first snapshot is already filtered.
func (t *Timeline) Open(ctx context.Context) {
	// Instant paint: a previously visited conversation renders without a
	// loading flash.
	if cached, err := t.env.Store.CachedMessages(t.chatID); err != nil {
		t.env.Logger.Warn("cache read failed", zap.String("chat_id", t.chatID), zap.Error(err))
	} else if len(cached) > 0 {
		t.mu.Lock()
		t.authoritative = cached
		t.loading = false
		t.recomputeLocked()
		t.mu.Unlock()
		t.notify()
	}

	// Queued offline sends reappear as pending entries.
	if entries, err := t.env.Queue.PendingForChat(t.chatID); err != nil {
		t.env.Logger.Warn("outbox read failed", zap.String("chat_id", t.chatID), zap.Error(err))
	} else if len(entries) > 0 {
		t.mu.Lock()
		for _, e := range entries {
			msg := e.Message
			msg.Status = model.StatusPending
			t.optimistic = append(t.optimistic, msg)
		}
		t.recomputeLocked()
		t.mu.Unlock()
		t.notify()
	}

	// The boundaries must be known before the first snapshot: subscribing
	// without them would show cleared or pre-join history. Transient fetch
	// failures retry like sends; exhaustion fails the open.
	var meta *model.ChatMetadata
	err := retry.Do(ctx, t.env.Config.SendAttempts, t.env.Config.SendBaseDelay, func(ctx context.Context) error {
		m, err := t.env.Backend.ChatMetadata(ctx, t.chatID)
		if err != nil {
			return err
		}
		meta = m
		return nil
	})
	if err != nil {
		t.env.Logger.Error("boundary fetch failed", zap.String("chat_id", t.chatID), zap.Error(err))
		t.mu.Lock()
		t.errText = err.Error()
		t.loading = false
		t.mu.Unlock()
		t.env.Bus.Emit(bus.KindTimelineError, bus.TimelineUpdate{ChatID: t.chatID})
		t.notify()
		return
	}
	t.mu.Lock()
	t.clearedAt = meta.ClearedAt[t.env.UserID]
	if t.isGroup {
		t.joinedAt = meta.JoinedAt[t.env.UserID]
	}
	t.mu.Unlock()

	unsub, err := t.env.Backend.Subscribe(ctx, t.chatID, t.isGroup, t.onSnapshot, t.onSubscribeError)
	if err != nil {
		t.onSubscribeError(err)
		return
	}

	netCh, stopNet := t.env.Bus.Subscribe(bus.KindNetOnline, 4)
	t.mu.Lock()
	t.unsub = unsub
	t.stopNet = stopNet
	t.mu.Unlock()

	go func() {
		for {
			select {
			case <-netCh:
				t.DrainOutbox(context.Background())
			case <-t.quit:
				return
			}
		}
	}()
}

// Close tears down the subscription and conversation-local bookkeeping.
// In-flight uploads and the offline queue are global and survive.
func (t *Timeline) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	unsub, stopNet := t.unsub, t.stopNet
	t.unsub, t.stopNet = nil, nil
	t.mu.Unlock()

	close(t.quit)
	if unsub != nil {
		unsub()
	}
	if stopNet != nil {
		stopNet()
	}
}

// ChatID returns the conversation this timeline serves.
func (t *Timeline) ChatID() string { return t.chatID }

// Messages returns the merged, deduplicated, newest-first view.
func (t *Timeline) Messages() []model.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.Message, len(t.merged))
	copy(out, t.merged)
	return out
}

// Loading reports whether the first snapshot (or cache paint) is still pending.
func (t *Timeline) Loading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loading
}

// Err returns the conversation-level error string, if any.
func (t *Timeline) Err() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errText
}

func (t *Timeline) onSnapshot(msgs []model.Message) {
	t.mu.Lock()
	filtered := filterVisible(msgs, t.clearedAt, t.joinedAt)
	t.authoritative = filtered
	t.loading = false
	t.errText = ""

	// Safety cleanup: the snapshot may land before the send's own success
	// callback. Any optimistic entry whose temp id now has an authoritative
	// counterpart is superseded and must go.
	persisted := make(map[string]struct{}, len(filtered))
	for _, m := range filtered {
		persisted[m.ID] = struct{}{}
		if m.TempID != "" {
			persisted[m.TempID] = struct{}{}
		}
	}
	kept := t.optimistic[:0]
	for _, m := range t.optimistic {
		if _, ok := persisted[m.ID]; !ok {
			kept = append(kept, m)
		}
	}
	t.optimistic = kept
	t.recomputeLocked()
	t.mu.Unlock()

	if err := t.env.Store.SetCachedMessages(t.chatID, filtered); err != nil {
		t.env.Logger.Warn("cache write failed", zap.String("chat_id", t.chatID), zap.Error(err))
	}
	t.notify()
}

func (t *Timeline) onSubscribeError(err error) {
	t.mu.Lock()
	t.errText = err.Error()
	t.loading = false
	t.mu.Unlock()
	t.env.Logger.Error("subscription failed", zap.String("chat_id", t.chatID), zap.Error(err))
	t.env.Bus.Emit(bus.KindTimelineError, bus.TimelineUpdate{ChatID: t.chatID})
	t.notify()
}

// SendText sends a text message with optimistic paint, offline queueing and
// retry with exponential backoff. Empty input is rejected silently.
func (t *Timeline) SendText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if t.chatID == "" || text == "" {
		return nil
	}

	now := time.Now().UnixMilli()
	msg := model.Message{
		ID:        model.NewTempID(),
		ChatID:    t.chatID,
		SenderID:  t.env.UserID,
		Type:      model.TypeText,
		Text:      text,
		Timestamp: now,
		CreatedAt: now,
		Status:    model.StatusSending,
	}
	msg.TempID = msg.ID

	// Best-effort enrichment; never blocks or fails the send.
	if t.env.Preview != nil {
		if url := linkpreview.FirstURL(text); url != "" {
			go t.fetchPreview(url, msg.ID)
		}
	}

	t.prependOptimistic(msg)

	if !t.env.Net.IsOnline() {
		if err := t.env.Queue.AddPending(t.chatID, &msg, t.isGroup); err != nil {
			t.markFailed(msg.ID, err.Error())
			return err
		}
		t.setStatus(msg.ID, model.StatusPending)
		return nil
	}

	return t.deliver(ctx, &msg)
}

// SendImage sends an image attachment.
func (t *Timeline) SendImage(ctx context.Context, att *model.Attachment) error {
	return t.sendMedia(ctx, att, model.TypeImage, false)
}

// SendVideo sends a video attachment, optionally compressing it first.
func (t *Timeline) SendVideo(ctx context.Context, att *model.Attachment, compress bool) error {
	return t.sendMedia(ctx, att, model.TypeVideo, compress)
}

// SendDocument sends a document attachment.
func (t *Timeline) SendDocument(ctx context.Context, att *model.Attachment) error {
	return t.sendMedia(ctx, att, model.TypeDocument, false)
}

func (t *Timeline) sendMedia(ctx context.Context, att *model.Attachment, typ model.MessageType, compress bool) error {
	if t.chatID == "" || att == nil || len(att.Data) == 0 {
		return nil
	}

	now := time.Now().UnixMilli()
	msg := model.Message{
		ID:        model.NewTempID(),
		ChatID:    t.chatID,
		SenderID:  t.env.UserID,
		Type:      typ,
		Text:      placeholderText(typ, att, compress),
		Timestamp: now,
		CreatedAt: now,
		Status:    model.StatusSending,
	}
	msg.TempID = msg.ID
	t.prependOptimistic(msg)

	uploadID := t.env.Uploads.Add(uploads.Upload{
		ChatID:        t.chatID,
		TempMessageID: msg.ID,
		Attachment:    att,
		Compress:      compress,
	})

	// Binary uploads cannot be durably queued, so offline fails fast.
	if !t.env.Net.IsOnline() {
		t.env.Uploads.Fail(uploadID, backend.ErrOffline.Error(), false)
		t.markFailed(msg.ID, backend.ErrOffline.Error())
		return backend.ErrOffline
	}

	// The upload context is independent of the caller's: navigating away
	// must not abort the transfer. Only the stored abort handle cancels it.
	upCtx, cancel := context.WithCancel(context.Background())
	t.env.Uploads.BindCancel(uploadID, cancel)
	defer cancel()

	t.env.Uploads.Update(uploadID, func(u *uploads.Upload) {
		u.Status = uploads.StatusUploading
		u.Phase = model.PhaseUploading
	})

	onProgress := func(p model.UploadProgress) {
		t.env.Uploads.Update(uploadID, func(u *uploads.Upload) {
			u.Phase = p.Phase
			u.Progress = p.Percent
		})
		t.setText(msg.ID, progressText(p))
	}

	var res *backend.UploadResult
	var err error
	switch typ {
	case model.TypeVideo:
		res, err = t.env.Backend.UploadVideo(upCtx, t.chatID, att, compress, onProgress)
	case model.TypeDocument:
		res, err = t.env.Backend.UploadDocument(upCtx, t.chatID, att, onProgress)
	default:
		res, err = t.env.Backend.UploadImage(upCtx, t.chatID, att, onProgress)
	}
	if err != nil {
		cancelled := errors.Is(err, context.Canceled)
		cause := err.Error()
		if cancelled {
			cause = backend.ErrCancelled.Error()
		}
		t.env.Uploads.Fail(uploadID, cause, cancelled)
		t.markFailed(msg.ID, cause)
		if cancelled {
			return backend.ErrCancelled
		}
		return err
	}

	msg.MediaURL = res.URL
	msg.Media = &res.Media
	msg.Text = placeholderText(typ, att, false)
	t.setText(msg.ID, msg.Text)

	// The entry is retired only once the message itself went through. If the
	// send exhausts its retries the attachment stays available for Retry.
	if err := t.deliver(ctx, &msg); err != nil {
		t.env.Uploads.Fail(uploadID, err.Error(), false)
		return err
	}
	t.env.Uploads.Complete(uploadID)
	return nil
}

// CancelUpload aborts the in-flight transfer for an optimistic message.
// Returns false if there is nothing to cancel (already finished or already
// cancelled).
func (t *Timeline) CancelUpload(tempMessageID string) bool {
	return t.env.Uploads.Cancel(tempMessageID)
}

// Retry re-attempts a failed message. Text is simply sent again; media looks
// up the original attachment in the upload manager. If the attachment is
// gone (e.g. after a restart) the retry is refused.
func (t *Timeline) Retry(ctx context.Context, messageID string) error {
	t.mu.Lock()
	var failed *model.Message
	for i := range t.optimistic {
		if t.optimistic[i].ID == messageID && t.optimistic[i].Status == model.StatusFailed {
			m := t.optimistic[i]
			failed = &m
			break
		}
	}
	t.mu.Unlock()
	if failed == nil {
		return fmt.Errorf("no failed message %s", messageID)
	}

	if failed.Type == model.TypeText {
		t.setStatus(messageID, model.StatusSending)
		msg := *failed
		msg.Status = model.StatusSending
		msg.FailureCause = ""
		return t.deliver(ctx, &msg)
	}

	up, ok := t.env.Uploads.ByTempMessage(messageID)
	if !ok || up.Attachment == nil {
		return backend.ErrAttachmentGone
	}
	t.env.Uploads.Remove(up.ID)
	t.removeOptimistic(messageID)

	switch failed.Type {
	case model.TypeVideo:
		return t.sendMedia(ctx, up.Attachment, model.TypeVideo, up.Compress)
	case model.TypeDocument:
		return t.sendMedia(ctx, up.Attachment, model.TypeDocument, false)
	default:
		return t.sendMedia(ctx, up.Attachment, failed.Type, false)
	}
}

// Edit replaces a persisted message's text. The local cache is patched
// directly so the change shows before the next snapshot.
func (t *Timeline) Edit(ctx context.Context, messageID, text string) error {
	if err := t.env.Backend.EditMessage(ctx, t.chatID, messageID, text); err != nil {
		return err
	}

	t.mu.Lock()
	for i := range t.authoritative {
		if t.authoritative[i].ID == messageID {
			t.authoritative[i].Text = text
			t.authoritative[i].IsEdited = true
			t.authoritative[i].EditedAt = time.Now().UnixMilli()
			break
		}
	}
	t.recomputeLocked()
	snapshot := make([]model.Message, len(t.authoritative))
	copy(snapshot, t.authoritative)
	t.mu.Unlock()

	if err := t.env.Store.SetCachedMessages(t.chatID, snapshot); err != nil {
		t.env.Logger.Warn("cache patch failed", zap.String("chat_id", t.chatID), zap.Error(err))
	}
	t.notify()
	return nil
}

// Delete removes a persisted message, patching the cache directly on success.
func (t *Timeline) Delete(ctx context.Context, messageID string) error {
	if err := t.env.Backend.DeleteMessage(ctx, t.chatID, messageID); err != nil {
		return err
	}

	t.mu.Lock()
	kept := t.authoritative[:0]
	for _, m := range t.authoritative {
		if m.ID != messageID {
			kept = append(kept, m)
		}
	}
	t.authoritative = kept
	t.recomputeLocked()
	snapshot := make([]model.Message, len(t.authoritative))
	copy(snapshot, t.authoritative)
	t.mu.Unlock()

	if err := t.env.Store.SetCachedMessages(t.chatID, snapshot); err != nil {
		t.env.Logger.Warn("cache patch failed", zap.String("chat_id", t.chatID), zap.Error(err))
	}
	t.notify()
	return nil
}

// MarkRead writes read receipts, fire-and-forget.
func (t *Timeline) MarkRead(messageIDs []string) {
	go func() {
		if err := t.env.Backend.MarkRead(context.Background(), t.chatID, t.env.UserID, messageIDs); err != nil {
			t.env.Logger.Warn("mark read failed", zap.String("chat_id", t.chatID), zap.Error(err))
		}
	}()
}

// MarkDelivered writes delivery receipts, fire-and-forget.
func (t *Timeline) MarkDelivered(messageIDs []string) {
	go func() {
		if err := t.env.Backend.MarkDelivered(context.Background(), t.chatID, t.env.UserID, messageIDs); err != nil {
			t.env.Logger.Warn("mark delivered failed", zap.String("chat_id", t.chatID), zap.Error(err))
		}
	}()
}

// DrainOutbox attempts one send per queued entry for this conversation.
// Successes leave both the queue and the optimistic set; failures bump the
// retry counter and, at the ceiling, evict the entry as permanently failed.
func (t *Timeline) DrainOutbox(ctx context.Context) {
	entries, err := t.env.Queue.PendingForChat(t.chatID)
	if err != nil {
		t.env.Logger.Error("outbox drain failed", zap.String("chat_id", t.chatID), zap.Error(err))
		return
	}

	for _, e := range entries {
		t.ensureOptimistic(e.Message, model.StatusSending)

		msg := e.Message
		msg.Status = model.StatusSending
		sendErr := t.env.Backend.SendMessage(ctx, t.chatID, &msg)
		if sendErr == nil {
			_ = t.env.Queue.Remove(e.ID)
			t.removeOptimistic(e.ID)
			continue
		}

		_ = t.env.Queue.IncrementRetry(e.ID)
		t.markFailed(e.ID, sendErr.Error())
		if !t.env.Queue.ShouldRetry(e.ID) {
			// Ceiling reached: evict and report as permanently failed.
			_ = t.env.Queue.Remove(e.ID)
			t.env.Bus.Emit(bus.KindSendFailed, bus.SendFailure{
				ChatID:    t.chatID,
				MessageID: e.ID,
				Cause:     sendErr.Error(),
			})
		}
	}
}

// deliver attempts the network send with backoff, retiring the optimistic
// entry on success. The authoritative copy arrives via the subscription.
func (t *Timeline) deliver(ctx context.Context, msg *model.Message) error {
	draft := *msg
	draft.Status = ""
	err := retry.Do(ctx, t.env.Config.SendAttempts, t.env.Config.SendBaseDelay, func(ctx context.Context) error {
		return t.env.Backend.SendMessage(ctx, t.chatID, &draft)
	})
	if err != nil {
		t.markFailed(msg.ID, err.Error())
		t.env.Bus.Emit(bus.KindSendFailed, bus.SendFailure{
			ChatID:    t.chatID,
			MessageID: msg.ID,
			Cause:     err.Error(),
		})
		return err
	}

	t.removeOptimistic(msg.ID)
	return nil
}

func (t *Timeline) fetchPreview(url, messageID string) {
	preview, err := t.env.Preview.Fetch(context.Background(), url)
	if err != nil {
		// Enrichment failure is swallowed: logged, never surfaced.
		t.env.Logger.Debug("link preview failed", zap.String("url", url), zap.Error(err))
		return
	}

	t.mu.Lock()
	for i := range t.optimistic {
		if t.optimistic[i].ID == messageID {
			t.optimistic[i].LinkPreview = preview
			break
		}
	}
	t.recomputeLocked()
	t.mu.Unlock()
	t.notify()
}

func (t *Timeline) prependOptimistic(msg model.Message) {
	t.mu.Lock()
	t.optimistic = append([]model.Message{msg}, t.optimistic...)
	t.recomputeLocked()
	t.mu.Unlock()
	t.notify()
}

func (t *Timeline) ensureOptimistic(msg model.Message, status model.Status) {
	t.mu.Lock()
	found := false
	for i := range t.optimistic {
		if t.optimistic[i].ID == msg.ID {
			t.optimistic[i].Status = status
			found = true
			break
		}
	}
	if !found {
		msg.Status = status
		t.optimistic = append([]model.Message{msg}, t.optimistic...)
	}
	t.recomputeLocked()
	t.mu.Unlock()
	t.notify()
}

func (t *Timeline) setStatus(messageID string, status model.Status) {
	t.mu.Lock()
	for i := range t.optimistic {
		if t.optimistic[i].ID == messageID {
			t.optimistic[i].Status = status
			t.optimistic[i].FailureCause = ""
			break
		}
	}
	t.recomputeLocked()
	t.mu.Unlock()
	t.notify()
}

func (t *Timeline) setText(messageID, text string) {
	t.mu.Lock()
	for i := range t.optimistic {
		if t.optimistic[i].ID == messageID {
			t.optimistic[i].Text = text
			break
		}
	}
	t.recomputeLocked()
	t.mu.Unlock()
	t.notify()
}

func (t *Timeline) markFailed(messageID, cause string) {
	t.mu.Lock()
	for i := range t.optimistic {
		if t.optimistic[i].ID == messageID {
			t.optimistic[i].Status = model.StatusFailed
			t.optimistic[i].FailureCause = cause
			break
		}
	}
	t.recomputeLocked()
	t.mu.Unlock()
	t.notify()
}

func (t *Timeline) removeOptimistic(messageID string) {
	t.mu.Lock()
	kept := t.optimistic[:0]
	for _, m := range t.optimistic {
		if m.ID != messageID {
			kept = append(kept, m)
		}
	}
	t.optimistic = kept
	t.recomputeLocked()
	t.mu.Unlock()
	t.notify()
}

func (t *Timeline) recomputeLocked() {
	t.merged = Merge(t.authoritative, t.optimistic)
}

func (t *Timeline) notify() {
	t.env.Bus.Emit(bus.KindTimelineUpdated, bus.TimelineUpdate{ChatID: t.chatID})
}

func placeholderText(typ model.MessageType, att *model.Attachment, compressing bool) string {
	switch typ {
	case model.TypeImage, model.TypeImageGroup:
		return "Photo"
	case model.TypeVideo:
		if compressing {
			return "Compressing..."
		}
		return "Video"
	default:
		return att.FileName
	}
}

func progressText(p model.UploadProgress) string {
	if p.Phase == model.PhaseCompressing {
		return fmt.Sprintf("Compressing... %d%%", p.Percent)
	}
	return fmt.Sprintf("Uploading... %d%%", p.Percent)
}
