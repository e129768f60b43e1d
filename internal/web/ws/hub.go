package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcoot/playhub/internal/api/response"
	"github.com/mcoot/playhub/internal/events"
	"github.com/mcoot/playhub/internal/model"
)

// BindingResolver reports which identity a connection is bound to at the
// moment an event is delivered
type BindingResolver interface {
	BoundIdentity(connID model.ConnectionID) (model.IdentityID, bool)
}

// Hub fans domain events out to the connections they are addressed to
type Hub struct {
	clients    map[model.ConnectionID]*Client
	mu         sync.RWMutex
	bindings   BindingResolver
	sub        *events.Subscription
	retryAfter func() time.Duration
	logger     *slog.Logger

	stopped  chan struct{}
	stopOnce sync.Once
}

// NewHub subscribes to bus. Call Run to start delivery.
func NewHub(bus *events.Bus, bindings BindingResolver, retryAfter func() time.Duration, logger *slog.Logger) *Hub {
	if retryAfter == nil {
		retryAfter = func() time.Duration { return 0 }
	}
	return &Hub{
		clients:    make(map[model.ConnectionID]*Client),
		bindings:   bindings,
		sub:        bus.Subscribe(events.DefaultBuffer),
		retryAfter: retryAfter,
		logger:     logger.With(slog.String("component", "ws")),
		stopped:    make(chan struct{}),
	}
}

// Run delivers events until the subscription closes
func (h *Hub) Run() {
	h.logger.Info("ws hub started")
	defer close(h.stopped)

	for evt := range h.sub.Events() {
		h.deliver(evt)
	}
	h.logger.Info("ws hub stopped")
}

func (h *Hub) deliver(evt model.Event) {
	frame, err := json.Marshal(response.EventFromModel(evt, h.retryAfter()))
	if err != nil {
		h.logger.Error("failed to encode event",
			slog.String("type", string(evt.Type)),
			slog.String("error", err.Error()))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent, dropped := 0, 0
	for id, client := range h.clients {
		bound, ok := h.bindings.BoundIdentity(id)
		if !ok || !evt.IsFor(bound) {
			continue
		}
		if client.enqueue(frame) {
			sent++
		} else {
			dropped++
			h.logger.Warn("ws message dropped - client buffer full",
				slog.String("connection_id", string(id)),
				slog.String("type", string(evt.Type)))
		}
	}
	if dropped > 0 {
		h.logger.Warn("ws broadcast partial failure",
			slog.String("type", string(evt.Type)),
			slog.Int("sent", sent),
			slog.Int("dropped", dropped))
	}
}

// Register adds a client to the hub. greet runs under the hub lock, so the
// frames it queues precede every event delivered to the client. Once the hub
// has been closed Register closes the client with a going-away frame instead
// and reports false.
func (h *Hub) Register(client *Client, greet func()) bool {
	h.mu.Lock()
	select {
	case <-h.stopped:
		h.mu.Unlock()
		client.closeWith(websocket.CloseGoingAway, "server shutting down")
		h.logger.Debug("ws client refused - hub closed",
			slog.String("connection_id", string(client.id)))
		return false
	default:
	}
	h.clients[client.id] = client
	if greet != nil {
		greet()
	}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("ws client registered",
		slog.String("connection_id", string(client.id)),
		slog.Int("total_clients", count))
	return true
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.id)
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("ws client unregistered",
		slog.String("connection_id", string(client.id)),
		slog.Duration("connection_duration", time.Since(client.connectedAt)),
		slog.Int("total_clients", count))
}

// ClientCount returns the number of registered clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close stops delivery and closes every connection with a going-away frame.
// The connections' handlers detach them as their read loops end.
func (h *Hub) Close() {
	h.stopOnce.Do(func() {
		h.sub.Close()
		<-h.stopped

		// Registrations after this point see stopped and refuse
		h.mu.RLock()
		clients := make([]*Client, 0, len(h.clients))
		for _, c := range h.clients {
			clients = append(clients, c)
		}
		h.mu.RUnlock()

		for _, c := range clients {
			c.closeWith(websocket.CloseGoingAway, "server shutting down")
		}
		h.logger.Info("ws hub closed", slog.Int("disconnected_clients", len(clients)))
	})
}
