package websocket

import (
	"sync"

	"github.com/coder/websocket"
)

// ClientManager tracks open clients so they can be closed on shutdown.
type ClientManager struct {
	clients map[string]*Client
	mu      sync.RWMutex
}

// NewClientManager creates a new ClientManager.
func NewClientManager() *ClientManager {
	return &ClientManager{
		clients: make(map[string]*Client),
	}
}

// Add registers a new client.
func (m *ClientManager) Add(client *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[client.id] = client
}

// Remove unregisters a client. It does not close it.
func (m *ClientManager) Remove(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, connID)
}

// Count returns the number of registered clients.
func (m *ClientManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// CloseAll closes every registered connection with status and reason. Each
// client's read loop then runs its normal cleanup.
func (m *ClientManager) CloseAll(status websocket.StatusCode, reason string) int {
	m.mu.RLock()
	all := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		all = append(all, c)
	}
	m.mu.RUnlock()

	for _, c := range all {
		_ = c.conn.Close(status, reason)
	}
	return len(all)
}
