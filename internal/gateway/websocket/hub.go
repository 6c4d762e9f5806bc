// Package websocket fans kernel bus events out to dashboard connections.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/agentswarm/agentswarm/internal/common/logger"
	ws "github.com/agentswarm/agentswarm/pkg/websocket"
)

// outbound pairs a message with the agent it concerns. An empty agent id
// marks a swarm-global event delivered to every connection.
type outbound struct {
	agentID string
	msg     *ws.Message
}

// Hub manages all WebSocket client connections
type Hub struct {
	// All registered clients
	clients map[*Client]bool

	// Clients that narrowed their stream to specific agents
	agentSubscribers map[string]map[*Client]bool

	// Channels for client management
	register   chan *Client
	unregister chan *Client

	// Channel for broadcasting notifications
	broadcast chan outbound

	// Message dispatcher
	dispatcher *ws.Dispatcher

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(dispatcher *ws.Dispatcher, log *logger.Logger) *Hub {
	return &Hub{
		clients:          make(map[*Client]bool),
		agentSubscribers: make(map[string]map[*Client]bool),
		register:         make(chan *Client),
		unregister:       make(chan *Client),
		broadcast:        make(chan outbound, 256),
		dispatcher:       dispatcher,
		logger:           log.WithFields(zap.String("component", "ws_hub")),
	}
}

// Run starts the hub's main processing loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("Client registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.removeClient(client)

		case out := <-h.broadcast:
			h.broadcastMessage(out)
		}
	}
}

// closeAllClients closes all client connections
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.agentSubscribers = make(map[string]map[*Client]bool)
}

// removeClient removes a client from the hub
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)

		for agentID := range client.subscriptions {
			if clients, ok := h.agentSubscribers[agentID]; ok {
				delete(clients, client)
				if len(clients) == 0 {
					delete(h.agentSubscribers, agentID)
				}
			}
		}
	}
	h.logger.Debug("Client unregistered", zap.String("client_id", client.ID))
}

// broadcastMessage delivers one event. Clients without an agent filter get
// everything; filtered clients get swarm-global events plus events for the
// agents they picked.
func (h *Hub) broadcastMessage(out outbound) {
	data, err := json.Marshal(out.msg)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if !client.wants(out.agentID) {
			continue
		}
		select {
		case client.send <- data:
		default:
			// Client buffer full, will be cleaned up by write pump
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast sends a swarm-global notification to all connected clients
func (h *Hub) Broadcast(msg *ws.Message) {
	h.broadcast <- outbound{msg: msg}
}

// BroadcastForAgent sends a notification tagged with the agent it concerns
func (h *Hub) BroadcastForAgent(agentID string, msg *ws.Message) {
	h.broadcast <- outbound{agentID: agentID, msg: msg}
}

// SubscribeToAgent narrows the client's stream to the given agent
func (h *Hub) SubscribeToAgent(client *Client, agentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.agentSubscribers[agentID]; !ok {
		h.agentSubscribers[agentID] = make(map[*Client]bool)
	}
	h.agentSubscribers[agentID][client] = true
	client.subscribe(agentID)

	h.logger.Debug("Client subscribed to agent",
		zap.String("client_id", client.ID),
		zap.String("agent_id", agentID))
}

// UnsubscribeFromAgent removes an agent from the client's filter
func (h *Hub) UnsubscribeFromAgent(client *Client, agentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.unsubscribe(agentID)
	if clients, ok := h.agentSubscribers[agentID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.agentSubscribers, agentID)
		}
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetDispatcher returns the message dispatcher
func (h *Hub) GetDispatcher() *ws.Dispatcher {
	return h.dispatcher
}
