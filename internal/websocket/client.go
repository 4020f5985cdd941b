package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/suspectuso/paylink-relay/internal/validation"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMessageSize  = 4 * 1024
	sendBufferSize  = 256
	registerTimeout = 10 * time.Second
)

const registerFailed = "Failed to register device."

// Client is one websocket connection. It implements registry.Conn.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan Frame
	closed bool
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:   uuid.NewString(),
		hub:  hub,
		conn: conn,
		send: make(chan Frame, sendBufferSize),
	}
}

func (c *Client) ID() string { return c.id }

// Emit queues a frame without blocking. It returns false when the send
// buffer is full or the client is closed.
func (c *Client) Emit(event string, payload any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- Frame{Event: event, Data: payload}:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Start registers the client with the hub and runs its pumps.
func (c *Client) Start() {
	if !c.hub.register(c) {
		_ = c.conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type registerData struct {
	DeviceID string `json:"deviceID"`
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.hub.log.Error("failed to set read deadline", "conn_id", c.id, "error", err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("unexpected websocket close", "conn_id", c.id, "error", err)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.hub.log.Debug("malformed websocket frame", "conn_id", c.id, "error", err)
			continue
		}
		c.handle(frame)
	}
}

func (c *Client) handle(frame inboundFrame) {
	switch frame.Event {
	case EventRegister:
		var rd registerData
		if len(frame.Data) > 0 {
			if err := json.Unmarshal(frame.Data, &rd); err != nil {
				c.Emit(EventError, map[string]string{"message": registerFailed})
				return
			}
		}
		if err := c.register(rd.DeviceID); err != nil {
			c.hub.log.Error("register device", "conn_id", c.id, "device_id", rd.DeviceID, "error", err)
			c.Emit(EventError, map[string]string{"message": registerFailed})
			return
		}
		c.Emit(EventRegistered, map[string]string{"deviceID": rd.DeviceID})

	case EventPing:
		c.Emit(EventPong, nil)

	default:
		c.hub.log.Debug("unknown websocket event", "conn_id", c.id, "event", frame.Event)
	}
}

func (c *Client) register(deviceID string) error {
	if err := validation.ValidateDeviceID(deviceID); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), registerTimeout)
	defer cancel()
	return c.hub.registrar.Register(ctx, deviceID, c)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			data, err := json.Marshal(frame)
			if err != nil {
				c.hub.log.Error("marshal websocket frame", "conn_id", c.id, "event", frame.Event, "error", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// NewUpgrader returns an upgrader accepting the given origins; "*" accepts
// any origin, including clients that send none.
func NewUpgrader(origins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			for _, allowed := range origins {
				if allowed == "*" || (origin != "" && allowed == origin) {
					return true
				}
			}
			return false
		},
	}
}

// ServeWS upgrades the request and hands the connection to the hub.
func (h *Hub) ServeWS(upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the error response
			h.log.Warn("websocket upgrade failed", "error", err)
			return
		}
		NewClient(h, conn).Start()
	}
}
