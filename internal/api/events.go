package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wastelandfi/wasteland/internal/connector"
	"github.com/wastelandfi/wasteland/internal/logging"
	"github.com/wastelandfi/wasteland/internal/presale"
	"github.com/wastelandfi/wasteland/internal/referral"
)

// Event channels a client can subscribe to.
const (
	ChannelTiers      = "tiers"
	ChannelPresale    = "presale"
	ChannelConnection = "connection"
)

const (
	wsSendBuffer   = 256
	wsReadLimit    = 4 << 10
	wsPongWait     = 60 * time.Second
	wsPingInterval = 54 * time.Second
	wsWriteWait    = 10 * time.Second
)

var knownChannels = map[string]bool{
	ChannelTiers:      true,
	ChannelPresale:    true,
	ChannelConnection: true,
}

// Event is a WebSocket message in either direction.
type Event struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// clientMessage is what clients send: subscribe, unsubscribe or ping.
type clientMessage struct {
	Type string `json:"type"`
	Data struct {
		Channels []string `json:"channels"`
	} `json:"data"`
}

// ClientGauge tracks connected clients.
type ClientGauge interface {
	AddWSClients(delta int)
}

// EventHub fans events out to WebSocket clients. Clients receive only the
// channels they subscribed to.
type EventHub struct {
	upgrader websocket.Upgrader
	gauge    ClientGauge

	clients    map[*wsClient]struct{}
	broadcast  chan *Event
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	mu         sync.RWMutex
}

type wsClient struct {
	hub  *EventHub
	conn *websocket.Conn

	mu         sync.Mutex
	send       chan []byte
	closed     bool
	subscribed map[string]bool
}

// NewEventHub creates a hub. With no allowed origins the upgrader only
// accepts same-host browsers; "*" accepts any. gauge may be nil.
func NewEventHub(allowedOrigins []string, gauge ClientGauge) *EventHub {
	h := &EventHub{
		gauge:      gauge,
		clients:    make(map[*wsClient]struct{}),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
	}
	if len(allowedOrigins) > 0 {
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(allowedOrigins, origin)
		}
	}
	return h
}

// Run dispatches events until ctx is done, then disconnects every client.
// It must be called exactly once.
func (h *EventHub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				h.dropLocked(c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.addGauge(1)
			logging.Debug("WebSocket client connected", "total_clients", n, logging.Component("websocket"))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				h.dropLocked(c)
			}
			n := len(h.clients)
			h.mu.Unlock()
			logging.Debug("WebSocket client disconnected", "total_clients", n, logging.Component("websocket"))

		case ev := <-h.broadcast:
			data, err := json.Marshal(ev)
			if err != nil {
				logging.Warn("failed to encode event", "type", ev.Type, logging.Err(err), logging.Component("websocket"))
				continue
			}

			var slow []*wsClient
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(ev.Channel) {
					continue
				}
				if !c.enqueue(data) {
					slow = append(slow, c)
				}
			}
			h.mu.RUnlock()

			if len(slow) > 0 {
				h.mu.Lock()
				for _, c := range slow {
					if _, ok := h.clients[c]; ok {
						h.dropLocked(c)
					}
				}
				h.mu.Unlock()
				logging.Warn("dropped slow WebSocket clients", "count", len(slow), logging.Component("websocket"))
			}
		}
	}
}

// dropLocked removes c and closes its send queue; the write pump then
// closes the connection. h.mu must be held.
func (h *EventHub) dropLocked(c *wsClient) {
	delete(h.clients, c)
	c.close()
	h.addGauge(-1)
}

func (h *EventHub) addGauge(delta int) {
	if h.gauge != nil {
		h.gauge.AddWSClients(delta)
	}
}

// Publish queues an event for subscribers of channel. It never blocks; a
// full queue drops the event.
func (h *EventHub) Publish(channel, eventType string, data any) {
	ev := &Event{Type: eventType, Channel: channel, Data: data}
	select {
	case <-h.done:
	case h.broadcast <- ev:
	default:
		logging.Warn("WebSocket broadcast buffer full", "channel", channel, logging.Component("websocket"))
	}
}

// PublishTierChange fits referral.Service.Subscribe.
func (h *EventHub) PublishTierChange(ev referral.TierChanged) {
	h.Publish(ChannelTiers, "tier_changed", ev)
}

// PublishPresale fits presale.Service.Subscribe.
func (h *EventHub) PublishPresale(snap presale.Snapshot) {
	h.Publish(ChannelPresale, "presale_snapshot", snap)
}

// PublishConnectionState fits connector.WithStateHook.
func (h *EventHub) PublishConnectionState(identity string, state connector.State, err error) {
	h.Publish(ChannelConnection, "connection_state", newConnectionResponse(identity, state, err))
}

// ClientCount returns the number of connected clients
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves the client until it leaves or
// the hub stops.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("WebSocket upgrade failed", logging.Err(err), logging.Component("websocket"))
		return
	}

	c := &wsClient{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, wsSendBuffer),
		subscribed: make(map[string]bool),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	c.readPump()
}

func (c *wsClient) wants(channel string) bool {
	if channel == "" {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed[channel]
}

// enqueue reports false when the client's buffer is full.
func (c *wsClient) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug("WebSocket read error", logging.Err(err), logging.Component("websocket"))
			}
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		c.handle(msg)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) handle(msg clientMessage) {
	switch msg.Type {
	case "subscribe":
		c.mu.Lock()
		for _, ch := range msg.Data.Channels {
			if knownChannels[ch] {
				c.subscribed[ch] = true
			}
		}
		c.mu.Unlock()
		c.reply(&Event{Type: "subscribed", Data: map[string]any{"channels": c.channels()}})
	case "unsubscribe":
		c.mu.Lock()
		for _, ch := range msg.Data.Channels {
			delete(c.subscribed, ch)
		}
		c.mu.Unlock()
		c.reply(&Event{Type: "unsubscribed", Data: map[string]any{"channels": c.channels()}})
	case "ping":
		c.reply(&Event{Type: "pong"})
	}
}

func (c *wsClient) reply(ev *Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *wsClient) channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subscribed))
	for ch := range c.subscribed {
		out = append(out, ch)
	}
	slices.Sort(out)
	return out
}
