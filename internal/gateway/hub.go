// Package gateway implements the WebSocket client gateway: authenticated
// per-user sockets, broadcast and user-scoped fan-out, and the inbound/
// outbound event vocabulary exchanged with browser clients. The client
// registry and backpressure policy follow the teacher's internal/hub
// (mutex-protected client set, Drop/Kick policy, Snapshot-based broadcast),
// generalized from a single anonymous TCP client set to named, per-user
// WebSocket sockets.
package gateway

import (
	"sync"

	"github.com/ventylab/mediation-core/internal/logging"
	"github.com/ventylab/mediation-core/internal/metrics"
)

// BackpressurePolicy selects what happens when a client's outbound buffer
// is full: PolicyDrop silently discards the message, PolicyKick closes the
// client so the read/write pumps unwind and the socket is removed.
type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

// Client is one authenticated (or pre-authentication) WebSocket connection.
type Client struct {
	Out       chan Envelope
	Closed    chan struct{}
	UserID    string
	closeOnce sync.Once
}

// Close signals the client is closed; safe to call multiple times.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.Closed) })
}

// Hub tracks connected clients and the userId->socket map used by
// sendToUser/isUserConnected/getConnectedUsers.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	byUser     map[string]*Client
	OutBufSize int
	Policy     BackpressurePolicy
}

// New creates a Hub with default settings.
func New() *Hub {
	return &Hub{clients: make(map[*Client]struct{}), byUser: make(map[string]*Client)}
}

// Add registers an unauthenticated client (before the authenticate handshake).
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	prev := len(h.clients)
	h.clients[c] = struct{}{}
	cur := len(h.clients)
	h.mu.Unlock()
	metrics.SetGatewayClients(cur)
	if prev == 0 && cur == 1 {
		logging.L().Info("gateway_first_client_connected")
	}
}

// BindUser associates an authenticated socket with userId, displacing any
// prior socket already bound to that userId (second authenticate wins).
func (h *Hub) BindUser(userID string, c *Client) (displaced *Client) {
	h.mu.Lock()
	c.UserID = userID
	if prev, ok := h.byUser[userID]; ok && prev != c {
		displaced = prev
	}
	h.byUser[userID] = c
	h.mu.Unlock()
	return displaced
}

// Remove unregisters a client and updates metrics; safe to call multiple times.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	if existed {
		delete(h.clients, c)
	}
	if c.UserID != "" && h.byUser[c.UserID] == c {
		delete(h.byUser, c.UserID)
	}
	cur := len(h.clients)
	h.mu.Unlock()
	select {
	case <-c.Closed:
	default:
		c.Close()
	}
	metrics.SetGatewayClients(cur)
	if existed && cur == 0 {
		logging.L().Info("gateway_last_client_disconnected")
	}
}

// Broadcast sends an envelope to every connected client, honoring the
// configured backpressure policy for clients whose buffer is full.
func (h *Hub) Broadcast(env Envelope) {
	clients := h.Snapshot()
	metrics.SetBroadcastFanout(len(clients))
	for _, c := range clients {
		h.deliver(c, env)
	}
}

// SendToUser delivers env to the one socket bound to userID; a silent no-op
// if userID has no connected socket.
func (h *Hub) SendToUser(userID string, env Envelope) bool {
	h.mu.RLock()
	c, ok := h.byUser[userID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	h.deliver(c, env)
	return true
}

func (h *Hub) deliver(c *Client, env Envelope) {
	select {
	case c.Out <- env:
	default:
		if h.Policy == PolicyKick {
			c.Close()
		} else {
			metrics.IncDroppedSend()
		}
	}
}

// IsUserConnected reports whether userID currently has a bound socket.
func (h *Hub) IsUserConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.byUser[userID]
	return ok
}

// GetConnectedUsers returns the userIds with a currently bound socket.
func (h *Hub) GetConnectedUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	users := make([]string, 0, len(h.byUser))
	for u := range h.byUser {
		users = append(users, u)
	}
	return users
}

// Snapshot returns a slice copy of currently registered clients.
func (h *Hub) Snapshot() []*Client {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	return clients
}

// Count returns the number of registered clients (authenticated or not).
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
