// Package ws carries presence and domain events over WebSocket connections.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mcoot/playhub/internal/api/apierr"
	"github.com/mcoot/playhub/internal/api/middleware"
	"github.com/mcoot/playhub/internal/api/response"
	"github.com/mcoot/playhub/internal/events"
	"github.com/mcoot/playhub/internal/model"
	"github.com/mcoot/playhub/internal/services/presence"
	"github.com/mcoot/playhub/internal/services/writegate"
)

// Frame types the gateway sends besides domain events
const (
	FrameAttached     = "attached"
	FrameRebound      = "rebound"
	FrameHeartbeatAck = "heartbeat_ack"
	FrameError        = "error"
)

// Inbound message types
const (
	MessageHeartbeat = "heartbeat"
	MessageRebind    = "rebind"
)

type inboundMessage struct {
	Type       string `json:"type"`
	IdentityID string `json:"identity_id,omitempty"`
}

// Attached is the first frame on every connection
type Attached struct {
	ConnectionID string            `json:"connection_id"`
	Presence     response.Presence `json:"presence"`
	Health       response.Health   `json:"health"`
}

// Rebound acknowledges a rebind
type Rebound struct {
	IdentityID string `json:"identity_id"`
}

type frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Config holds the gateway's dependencies
type Config struct {
	Logger   *slog.Logger
	Sessions middleware.SessionValidator
	Tracker  *presence.Tracker
	Gate     *writegate.Gate
	Bus      *events.Bus
	// CheckOrigin overrides the upgrader's same-origin check
	CheckOrigin func(r *http.Request) bool
}

// Gateway upgrades HTTP requests to WebSocket connections and attaches
// them to the presence tracker
type Gateway struct {
	sessions middleware.SessionValidator
	tracker  *presence.Tracker
	gate     *writegate.Gate
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewGateway creates a gateway and starts its hub
func NewGateway(cfg Config) *Gateway {
	logger := cfg.Logger.With(slog.String("component", "ws"))
	hub := NewHub(cfg.Bus, cfg.Tracker, cfg.Gate.RetryAfter, cfg.Logger)
	go hub.Run()

	return &Gateway{
		sessions: cfg.Sessions,
		tracker:  cfg.Tracker,
		gate:     cfg.Gate,
		hub:      hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
		logger: logger,
	}
}

// Hub returns the gateway's event hub
func (g *Gateway) Hub() *Hub {
	return g.hub
}

// Close disconnects every client. Register it with the HTTP server's
// shutdown hooks, since hijacked connections are not tracked there.
func (g *Gateway) Close() {
	g.hub.Close()
}

// ServeHTTP handles GET /ws
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := middleware.ExtractToken(r)
	if token == "" {
		apierr.WriteError(w, apierr.NewUnauthorizedError())
		return
	}
	// Reject bad credentials before upgrading so clients get a plain 401
	if _, err := g.sessions.ValidateSession(r.Context(), token); err != nil {
		apierr.WriteError(w, err)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		g.logger.Info("upgrade failed", slog.String("error", err.Error()))
		return
	}

	client := newClient(model.ConnectionID(uuid.NewString()), conn, g.logger)
	ctx := context.WithoutCancel(r.Context())

	snapshot, err := g.tracker.Attach(ctx, client.id, token, client)
	if err != nil {
		// The session lapsed between validation and attach
		client.Close(apierr.Describe(err).Code)
		return
	}

	// Snapshot inside registration so a change that lands in between is
	// either reflected in the attached frame or delivered after it
	registered := g.hub.Register(client, func() {
		client.enqueueJSON(frame{Type: FrameAttached, Payload: Attached{
			ConnectionID: string(client.id),
			Presence:     response.PresenceFromModel(g.tracker.Snapshot(snapshot.IdentityID)),
			Health:       response.HealthFromModel(g.gate.Health(), g.gate.RetryAfter()),
		}})
	})
	if !registered {
		g.detach(client)
		return
	}

	go client.writePump()
	client.readPump(func(payload []byte) {
		g.handleMessage(ctx, client, payload)
	})

	g.hub.Unregister(client)
	g.detach(client)
	client.closeWith(websocket.CloseNormalClosure, "")
}

func (g *Gateway) detach(client *Client) {
	if err := g.tracker.Detach(client.id); err != nil && !errors.Is(err, model.ErrConnectionNotFound) {
		g.logger.Error("detach failed",
			slog.String("connection_id", string(client.id)),
			slog.String("error", err.Error()))
	}
}

func (g *Gateway) handleMessage(ctx context.Context, client *Client, payload []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		client.enqueueJSON(frame{Type: FrameError, Payload: apierr.Describe(model.ErrInvalidRequest)})
		return
	}

	switch msg.Type {
	case MessageHeartbeat:
		if id, ok := g.tracker.BoundIdentity(client.id); ok {
			g.tracker.Touch(id)
		}
		client.enqueueJSON(frame{Type: FrameHeartbeatAck})

	case MessageRebind:
		target := model.IdentityID(msg.IdentityID)
		if target == "" {
			client.enqueueJSON(frame{Type: FrameError, Payload: apierr.Describe(model.ErrInvalidRequest)})
			return
		}
		if err := g.tracker.Rebind(ctx, client.id, target); err != nil {
			client.enqueueJSON(frame{Type: FrameError, Payload: apierr.Describe(err)})
			return
		}
		client.enqueueJSON(frame{Type: FrameRebound, Payload: Rebound{IdentityID: string(target)}})

	default:
		client.enqueueJSON(frame{Type: FrameError, Payload: apierr.Describe(model.ErrInvalidRequest)})
	}
}
