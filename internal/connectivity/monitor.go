package connectivity

import (
	"fmt"
	"slices"
	"sync"

	"github.com/beacon-im/beacon/internal/bus"
)

// State represents the client's connectivity state.
type State string

const (
	Starting     State = "STARTING"
	Online       State = "ONLINE"
	Offline      State = "OFFLINE"
	Reconnecting State = "RECONNECTING"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Starting:     {Online, Offline},
	Online:       {Offline, Reconnecting},
	Offline:      {Online, Reconnecting},
	Reconnecting: {Online, Offline},
}

// Monitor tracks connectivity and publishes net.online / net.offline events.
// Timelines subscribe to drain their offline queues when the link returns.
type Monitor struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMonitor creates a monitor in the Starting state.
func NewMonitor(b *bus.Bus) *Monitor {
	return &Monitor{current: Starting, bus: b}
}

// Current returns the current state.
func (m *Monitor) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsOnline reports whether sends should attempt network I/O.
func (m *Monitor) IsOnline() bool {
	return m.Current() == Online
}

// Transition attempts to move to a new state, publishing the matching net
// event on success. Returns an error if the transition is invalid.
func (m *Monitor) Transition(to State) error {
	m.mu.Lock()
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	m.mu.Unlock()

	if m.bus == nil {
		return nil
	}
	switch {
	case to == Online:
		m.bus.Emit(bus.KindNetOnline, Change{From: from, To: to})
	case from == Online || from == Starting:
		m.bus.Emit(bus.KindNetOffline, Change{From: from, To: to})
	}
	return nil
}

// SetOnline transitions to Online regardless of the intermediate state.
func (m *Monitor) SetOnline() {
	if m.Current() == Online {
		return
	}
	_ = m.Transition(Online)
}

// SetOffline transitions to Offline.
func (m *Monitor) SetOffline() {
	if m.Current() == Offline {
		return
	}
	_ = m.Transition(Offline)
}

// Change is the payload for net.* events.
type Change struct {
	From State
	To   State
}
