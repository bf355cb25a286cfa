// Package uploads tracks in-flight attachment transfers across all open
// conversations. The registry is process-wide: switching conversations never
// interrupts an upload, and the retry path can recover the original file
// handle after a failure.
package uploads

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beacon-im/beacon/internal/bus"
	"github.com/beacon-im/beacon/internal/model"
)

// Status is the lifecycle state of an upload.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusUploading Status = "uploading"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Upload is one tracked transfer, keyed by its own id and findable by the
// optimistic message's temp id.
type Upload struct {
	ID            string
	ChatID        string
	TempMessageID string
	Attachment    *model.Attachment
	Compress      bool
	Status        Status
	Phase         model.UploadPhase
	Progress      int
	FailureCause  string
	StartedAt     time.Time
	CompletedAt   time.Time

	cancel context.CancelFunc
}

// removeDelay is how long a completed upload stays visible before the
// registry drops it, so an "upload complete" affordance can briefly show.
const removeDelay = 3 * time.Second

// Manager is the global upload registry.
type Manager struct {
	mu      sync.RWMutex
	uploads map[string]*Upload
	bus     *bus.Bus
	logger  *zap.Logger

	// RemoveDelay overrides the completed-entry retention; tests shorten it.
	RemoveDelay time.Duration
}

// NewManager creates an empty registry.
func NewManager(b *bus.Bus, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		uploads:     make(map[string]*Upload),
		bus:         b,
		logger:      logger,
		RemoveDelay: removeDelay,
	}
}

// Add registers a new upload and returns its id.
func (m *Manager) Add(u Upload) string {
	u.ID = uuid.NewString()
	u.Status = StatusQueued
	u.StartedAt = time.Now()

	m.mu.Lock()
	m.uploads[u.ID] = &u
	m.mu.Unlock()
	return u.ID
}

// BindCancel stores the abort handle for an upload.
func (m *Manager) BindCancel(id string, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.uploads[id]; ok {
		u.cancel = cancel
	}
}

// Update applies fn to the upload under the lock and publishes a progress
// event. Returns false if the upload no longer exists.
func (m *Manager) Update(id string, fn func(*Upload)) bool {
	m.mu.Lock()
	u, ok := m.uploads[id]
	if ok {
		fn(u)
	}
	m.mu.Unlock()
	if ok && m.bus != nil {
		m.bus.Emit(bus.KindUploadProgress, id)
	}
	return ok
}

// Get returns a copy of the upload.
func (m *Manager) Get(id string) (Upload, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.uploads[id]
	if !ok {
		return Upload{}, false
	}
	return *u, true
}

// ByTempMessage returns a copy of the upload associated with an optimistic
// message's temp id.
func (m *Manager) ByTempMessage(tempID string) (Upload, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.uploads {
		if u.TempMessageID == tempID {
			return *u, true
		}
	}
	return Upload{}, false
}

// Remove drops an upload from the registry.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.uploads, id)
	m.mu.Unlock()
}

// Cancel aborts the transfer associated with tempID. A second call, or a
// call after completion, is a no-op and returns false.
func (m *Manager) Cancel(tempID string) bool {
	m.mu.Lock()
	var cancel context.CancelFunc
	for _, u := range m.uploads {
		if u.TempMessageID == tempID && u.cancel != nil {
			cancel = u.cancel
			u.cancel = nil
			u.Status = StatusCancelled
			break
		}
	}
	m.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// Complete marks an upload successful and schedules its removal after the
// retention delay.
func (m *Manager) Complete(id string) {
	m.mu.Lock()
	u, ok := m.uploads[id]
	if ok {
		u.Status = StatusCompleted
		u.Progress = 100
		u.CompletedAt = time.Now()
		u.cancel = nil
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	m.logger.Debug("upload completed", zap.String("id", id))
	if m.bus != nil {
		m.bus.Emit(bus.KindUploadFinished, id)
	}
	time.AfterFunc(m.RemoveDelay, func() { m.Remove(id) })
}

// Fail marks an upload failed (or cancelled) and keeps it for inspection and
// retry: the entry still holds the original attachment.
func (m *Manager) Fail(id, cause string, cancelled bool) {
	m.mu.Lock()
	u, ok := m.uploads[id]
	if ok {
		if cancelled {
			u.Status = StatusCancelled
		} else {
			u.Status = StatusFailed
		}
		u.FailureCause = cause
		u.CompletedAt = time.Now()
		u.cancel = nil
	}
	m.mu.Unlock()
	if ok {
		m.logger.Warn("upload failed",
			zap.String("id", id),
			zap.String("cause", cause),
			zap.Bool("cancelled", cancelled))
	}
}

// Len reports the number of tracked uploads.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.uploads)
}
