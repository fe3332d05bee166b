package bridge

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Manager owns the bridges of every configured thing.
//
// Thread Safety: All methods are safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	bridges map[string]*Bridge

	logger Logger
}

// NewManager creates an empty manager. logger may be nil.
func NewManager(logger Logger) *Manager {
	return &Manager{
		bridges: make(map[string]*Bridge),
		logger:  logger,
	}
}

// Add registers b. Thing IDs must be unique.
func (m *Manager) Add(b *Bridge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.bridges[b.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateThing, b.ID())
	}
	m.bridges[b.ID()] = b
	return nil
}

// Get returns the bridge for thingID.
func (m *Manager) Get(thingID string) (*Bridge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.bridges[thingID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrThingNotFound, thingID)
	}
	return b, nil
}

// List returns all bridges sorted by thing ID.
func (m *Manager) List() []*Bridge {
	m.mu.RLock()
	out := make([]*Bridge, 0, len(m.bridges))
	for _, b := range m.bridges {
		out = append(out, b)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len returns the number of managed things.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bridges)
}

// Statuses returns the status of every thing sorted by ID.
func (m *Manager) Statuses() []Status {
	bridges := m.List()
	out := make([]Status, 0, len(bridges))
	for _, b := range bridges {
		out = append(out, b.Status())
	}
	return out
}

// Start starts every bridge. A thing whose device link cannot be opened is
// logged and left Disconnected; it can be connected later through the API.
// Start returns the number of bridges that started.
func (m *Manager) Start(ctx context.Context) int {
	started := 0
	for _, b := range m.List() {
		if err := b.Start(ctx); err != nil {
			if m.logger != nil {
				m.logger.Warn("thing did not start", "thing_id", b.ID(), "error", err)
			}
			continue
		}
		started++
	}
	if m.logger != nil {
		m.logger.Info("things started", "started", started, "total", m.Len())
	}
	return started
}

// Stop stops every bridge concurrently and waits for all of them.
func (m *Manager) Stop() {
	var wg sync.WaitGroup
	for _, b := range m.List() {
		wg.Add(1)
		go func(b *Bridge) {
			defer wg.Done()
			b.Stop()
		}(b)
	}
	wg.Wait()
}
