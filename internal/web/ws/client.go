package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcoot/playhub/internal/model"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer
	pongWait = 60 * time.Second

	// Send pings at this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Largest inbound frame accepted
	maxMessageSize = 4096

	// Buffer size for outgoing messages
	sendBufferSize = 256
)

// Client is one live WebSocket connection
type Client struct {
	id          model.ConnectionID
	conn        *websocket.Conn
	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	connectedAt time.Time
	logger      *slog.Logger
}

func newClient(id model.ConnectionID, conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		id:          id,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		done:        make(chan struct{}),
		connectedAt: time.Now(),
		logger:      logger.With(slog.String("connection_id", string(id))),
	}
}

// ID returns the connection id
func (c *Client) ID() model.ConnectionID {
	return c.id
}

// Close severs the connection with a policy-violation close frame carrying
// reason. It is safe to call from any goroutine and more than once.
func (c *Client) Close(reason string) {
	c.closeWith(websocket.ClosePolicyViolation, reason)
}

func (c *Client) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		close(c.done)
		_ = c.conn.Close()
	})
}

// enqueue queues a frame without blocking. It reports false if the
// connection is closed or its buffer is full.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) enqueueJSON(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("failed to encode frame", slog.String("error", err.Error()))
		return false
	}
	return c.enqueue(data)
}

// writePump drains the send buffer to the socket and keeps it alive with
// pings. It is the only goroutine writing data frames.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-c.done:
			return
		}
	}
}

// readPump delivers inbound frames to handle until the peer goes away or
// the connection is closed
func (c *Client) readPump(handle func(payload []byte)) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("connection read failed", slog.String("error", err.Error()))
			}
			return
		}
		handle(payload)
	}
}
