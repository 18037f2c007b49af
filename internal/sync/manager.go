package sync

import (
	"context"
	"sort"
	"sync"
)

// Manager runs syncs on behalf of HTTP requests and keeps track of which
// users currently have one in flight. Overlapping syncs for one user are
// allowed; the archive keeps them from duplicating rows.
type Manager struct {
	engine       *Engine
	running      map[string]int
	runningMutex sync.RWMutex
}

// NewManager creates sync manager
func NewManager(engine *Engine) *Manager {
	return &Manager{
		engine:  engine,
		running: make(map[string]int),
	}
}

// Sync runs one sync for userID and waits for it to finish.
func (m *Manager) Sync(ctx context.Context, userID string, opts Options) (Stats, error) {
	m.begin(userID)
	defer m.end(userID)

	return m.engine.Sync(ctx, userID, opts)
}

// FetchUnread passes through to the engine.
func (m *Manager) FetchUnread(ctx context.Context, userID string, opts Options) ([]Email, error) {
	return m.engine.FetchUnread(ctx, userID, opts)
}

func (m *Manager) begin(userID string) {
	m.runningMutex.Lock()
	defer m.runningMutex.Unlock()

	m.running[userID]++
}

func (m *Manager) end(userID string) {
	m.runningMutex.Lock()
	defer m.runningMutex.Unlock()

	if m.running[userID] <= 1 {
		delete(m.running, userID)
		return
	}
	m.running[userID]--
}

// IsRunning checks if a sync is in flight for the user
func (m *Manager) IsRunning(userID string) bool {
	m.runningMutex.RLock()
	defer m.runningMutex.RUnlock()

	return m.running[userID] > 0
}

// GetRunningSyncs returns the users with a sync in flight
func (m *Manager) GetRunningSyncs() []string {
	m.runningMutex.RLock()
	defer m.runningMutex.RUnlock()

	syncs := make([]string, 0, len(m.running))
	for userID := range m.running {
		syncs = append(syncs, userID)
	}
	sort.Strings(syncs)
	return syncs
}
