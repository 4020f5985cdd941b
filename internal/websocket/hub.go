// Package websocket is the live-connection transport between devices and
// the relay. Clients send JSON frames {"event", "data"}; a "register" frame
// binds the connection to a device id and closing the transport unbinds it.
package websocket

import (
	"context"
	"log/slog"
	"sync"

	"github.com/suspectuso/paylink-relay/internal/metrics"
	"github.com/suspectuso/paylink-relay/internal/registry"
)

// Frame event names.
const (
	EventRegister   = "register"
	EventRegistered = "registered"
	EventError      = "error"
	EventPing       = "ping"
	EventPong       = "pong"
)

// Frame is one message on the wire.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Registrar binds devices to connections.
type Registrar interface {
	Register(ctx context.Context, deviceID string, conn registry.Conn) error
	Unbind(conn registry.Conn) []string
}

// Hub tracks live clients and unbinds them from the registry on disconnect.
type Hub struct {
	registrar Registrar
	log       *slog.Logger

	Register   chan *Client
	Unregister chan *Client

	mu      sync.RWMutex
	clients map[*Client]bool

	done     chan struct{}
	doneOnce sync.Once
}

func NewHub(registrar Registrar, log *slog.Logger) *Hub {
	return &Hub{
		registrar:  registrar,
		log:        log,
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		done:       make(chan struct{}),
	}
}

// Serve runs the hub until ctx is cancelled, then closes every client.
func (h *Hub) Serve(ctx context.Context) error {
	h.log.Info("websocket hub started")

	for {
		select {
		case <-ctx.Done():
			n := h.closeAllClients()
			h.doneOnce.Do(func() { close(h.done) })
			h.log.Info("websocket hub stopped", "clients_closed", n)
			return ctx.Err()

		case client := <-h.Register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.LiveConnections.Set(float64(total))
			h.log.Debug("websocket client connected", "conn_id", client.ID(), "total_clients", total)

		case client := <-h.Unregister:
			h.remove(client)
		}
	}
}

func (h *Hub) String() string { return "websocket-hub" }

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	total := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	h.registrar.Unbind(client)
	client.close()
	metrics.LiveConnections.Set(float64(total))
	h.log.Debug("websocket client disconnected", "conn_id", client.ID(), "total_clients", total)
}

func (h *Hub) closeAllClients() int {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	for _, c := range clients {
		h.registrar.Unbind(c)
		c.close()
	}
	metrics.LiveConnections.Set(0)
	return len(clients)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// register hands a client to the hub; false once the hub has stopped.
func (h *Hub) register(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}
