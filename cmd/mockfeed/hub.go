package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"storefront-live/internal/event"
)

const (
	writeWait      = 2 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// outbound is a frame written to subscribers.
type outbound struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// inbound is a control frame sent by a subscriber.
type inbound struct {
	Type     string         `json:"type"`
	Channels []string       `json:"channels"`
	Scope    string         `json:"scope"`
	Filters  map[string]any `json:"filters"`
	Data     map[string]any `json:"data"`
}

type channelSub struct {
	channels []string
	scope    string
}

// client is one connected subscriber.
type client struct {
	hub  *hub
	conn *websocket.Conn
	send chan outbound

	mu   sync.Mutex
	subs []channelSub
}

// wants reports whether any subscription of c covers an event of cat. Scoped
// subscriptions only receive events carrying a matching userId.
func (c *client) wants(cat event.Category, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.subs {
		if !slices.Contains(s.channels, cat.String()) {
			continue
		}
		if s.scope == "" || userID == "" || s.scope == userID {
			return true
		}
	}
	return false
}

// hub tracks subscribers and fans events out to them.
type hub struct {
	logger *slog.Logger
	known  map[string]bool

	mu      sync.Mutex
	clients map[*client]struct{}
}

func newHub(logger *slog.Logger) *hub {
	known := make(map[string]bool)
	for _, c := range event.Categories() {
		known[c.String()] = true
	}
	return &hub{
		logger:  logger.With("component", "hub"),
		known:   known,
		clients: make(map[*client]struct{}),
	}
}

func (h *hub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// publish queues ev for every subscriber of its category. Slow subscribers
// are disconnected rather than blocking the feed.
func (h *hub) publish(ev event.Event) int {
	var userID string
	if ev.Category() == event.Order {
		var p event.OrderPayload
		_ = ev.Decode(&p)
		userID = p.UserID
	}
	frame := outbound{Type: ev.Type.String(), Payload: ev.Payload, Timestamp: ev.Timestamp}

	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for c := range h.clients {
		if !c.wants(ev.Category(), userID) {
			continue
		}
		select {
		case c.send <- frame:
			n++
		default:
			h.logger.Warn("dropping slow subscriber", "remote", c.conn.RemoteAddr())
			delete(h.clients, c)
			close(c.send)
		}
	}
	return n
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeHTTP upgrades the request and starts the client pumps.
func (h *hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan outbound, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("subscriber connected", "remote", conn.RemoteAddr())

	go c.writePump()
	go c.readPump()
}

// handle applies one control frame from c.
func (h *hub) handle(c *client, msg []byte) {
	var in inbound
	if err := json.Unmarshal(msg, &in); err != nil {
		h.logger.Warn("malformed control frame", "err", err)
		return
	}

	switch in.Type {
	case event.ControlSubscribe:
		ack := map[string]any{"channels": in.Channels, "scope": in.Scope}
		for _, ch := range in.Channels {
			if !h.known[ch] {
				ack["message"] = "unknown channel " + ch
				h.reply(c, outbound{Type: event.ControlSubscriptionError, Payload: ack})
				return
			}
		}
		c.mu.Lock()
		c.subs = append(c.subs, channelSub{channels: in.Channels, scope: in.Scope})
		c.mu.Unlock()
		h.reply(c, outbound{Type: event.ControlSubscribed, Payload: ack})
		h.logger.Debug("subscribed", "channels", in.Channels, "scope", in.Scope)

	case event.ControlUnsubscribe:
		c.mu.Lock()
		c.subs = slices.DeleteFunc(c.subs, func(s channelSub) bool {
			return s.scope == in.Scope && slices.Equal(s.channels, in.Channels)
		})
		c.mu.Unlock()

	case event.ControlProfileRequest:
		h.logger.Debug("profile update requested", "data", in.Data)

	default:
		h.logger.Debug("ignoring frame", "type", in.Type)
	}
}

func (h *hub) reply(c *client, f outbound) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- f:
	default:
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
		c.hub.logger.Info("subscriber disconnected", "remote", c.conn.RemoteAddr())
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	// Client pings count as liveness too.
	c.conn.SetPingHandler(func(data string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket error", "err", err)
			}
			return
		}
		c.hub.handle(c, msg)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(f); err != nil {
				c.hub.logger.Warn("write failed", "err", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
