package connectivity

import (
	"context"
	"sync"

	"github.com/asaskevich/EventBus"
	"github.com/rs/zerolog/log"
)

// TopicChanged carries a bool: the new online state.
const TopicChanged = "connectivity.changed"

// Probe reports whether the remote store is reachable right now.
type Probe func(ctx context.Context) error

// Monitor holds the register's view of connectivity. The host runtime feeds
// it through SetOnline; an optional probe lets a scheduler verify the link
// actively. State transitions are published on the event bus, which is what
// triggers queue draining on an offline-to-online edge.
//
// A register starts offline and flips online only after the first successful
// remote contact, so a boot during a partition sells from the snapshot
// instead of failing commits.
type Monitor struct {
	mu     sync.Mutex
	online bool
	bus    EventBus.Bus
	probe  Probe
}

func NewMonitor(bus EventBus.Bus, probe Probe) *Monitor {
	return &Monitor{bus: bus, probe: probe}
}

func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records the new state and, on a transition, publishes it. The
// publication happens outside the lock: subscribers (the queue drainer in
// particular) take their own locks.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()

	if !changed {
		return
	}
	log.Info().Bool("online", online).Msg("connectivity: state changed")
	m.bus.Publish(TopicChanged, online)
}

// Check runs the probe, if any, and folds the result into the state.
func (m *Monitor) Check(ctx context.Context) {
	if m.probe == nil {
		return
	}
	m.SetOnline(m.probe(ctx) == nil)
}
