package timeline

import (
	"context"
	"sync"
)

// Manager tracks the active conversation. Opening a new one closes the
// previous timeline; uploads and the offline queue are unaffected because
// they live outside the timeline.
type Manager struct {
	env Env

	mu     sync.Mutex
	active *Timeline
}

func NewManager(env Env) *Manager {
	return &Manager{env: env}
}

// Open switches to the given conversation and returns its timeline. Opening
// the already-active conversation is a no-op returning the live timeline.
func (m *Manager) Open(ctx context.Context, chatID string, isGroup bool) *Timeline {
	m.mu.Lock()
	if m.active != nil && m.active.ChatID() == chatID {
		tl := m.active
		m.mu.Unlock()
		return tl
	}
	prev := m.active
	tl := New(m.env, chatID, isGroup)
	m.active = tl
	m.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	tl.Open(ctx)
	return tl
}

// Active returns the current timeline, or nil when no conversation is open.
func (m *Manager) Active() *Timeline {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Close tears down the active timeline, if any.
func (m *Manager) Close() {
	m.mu.Lock()
	tl := m.active
	m.active = nil
	m.mu.Unlock()
	if tl != nil {
		tl.Close()
	}
}
