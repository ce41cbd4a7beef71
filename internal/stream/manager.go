// Package stream pushes session snapshots to browsers over WebSocket.
package stream

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Manager tracks open viewer connections so they can be closed on shutdown.
type Manager struct {
	mu     sync.RWMutex
	active map[string]*websocket.Conn
}

// NewManager creates a new connection manager.
func NewManager() *Manager {
	return &Manager{
		active: make(map[string]*websocket.Conn),
	}
}

// Register adds a viewer connection.
func (m *Manager) Register(viewerID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[viewerID] = conn
	slog.Debug("Session viewer registered", "viewer_id", viewerID, "viewers", len(m.active))
}

// Unregister removes a viewer connection if conn is still the registered one.
func (m *Manager) Unregister(viewerID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.active[viewerID]; ok && current == conn {
		delete(m.active, viewerID)
		slog.Debug("Session viewer unregistered", "viewer_id", viewerID, "viewers", len(m.active))
	}
}

// Count returns the number of open viewers.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// CloseAll terminates every viewer connection.
func (m *Manager) CloseAll(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, conn := range m.active {
		_ = conn.Close(websocket.StatusGoingAway, reason)
		delete(m.active, id)
	}
}
