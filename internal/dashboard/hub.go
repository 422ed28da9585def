// Package dashboard serves tier state, feature gating and presenter output
// to dashboard page sessions over HTTP and WebSocket.
package dashboard

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/pinkybot/tiergate/internal/gate"
	"github.com/pinkybot/tiergate/internal/metrics"
	"github.com/pinkybot/tiergate/internal/warning"
	"github.com/rs/zerolog/log"
)

// Message types pushed to clients.
const (
	MsgInitialState  = "initialState"
	MsgTierChanged   = "tierChanged"
	MsgBanner        = "banner"
	MsgBannerCleared = "bannerCleared"
	MsgModal         = "modal"
	MsgModalClosed   = "modalClosed"
	MsgPong          = "pong"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 64
)

// checkOrigin accepts same-host and loopback origins plus any origin matching
// one of the allowed wildcard patterns. Requests without an Origin header come
// from non-browser clients and are allowed.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return true
	}

	h.mu.RLock()
	patterns := h.allowedOrigins
	h.mu.RUnlock()
	normalized := strings.ToLower(u.Scheme + "://" + u.Host)
	for _, pattern := range patterns {
		if wildcard.Match(pattern, normalized) {
			return true
		}
	}
	log.Debug().Str("origin", origin).Msg("Rejected WebSocket origin")
	return false
}

// Message is the envelope for every frame in both directions.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Client is one connected page session.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string
}

// Hub keeps the connected clients and fans presenter and gate updates out to
// them. It implements warning.Sink.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	upgrader   websocket.Upgrader
	done       chan struct{}
	stopOnce   sync.Once

	mu             sync.RWMutex
	getState       func() interface{}
	allowedOrigins []string
}

// NewHub creates a hub. getState builds the initialState payload; it may be
// set later with SetStateGetter.
func NewHub(getState func() interface{}) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		getState:   getState,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 16 * 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// SetAllowedOrigins sets extra origin patterns such as
// "https://*.pinkybot.io". Patterns are matched case-insensitively against
// scheme://host[:port].
func (h *Hub) SetAllowedOrigins(patterns []string) {
	cleaned := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.ToLower(strings.TrimRight(strings.TrimSpace(p), "/")); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.allowedOrigins = cleaned
}

// SetStateGetter sets the state getter function
func (h *Hub) SetStateGetter(getState func() interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.getState = getState
}

func (h *Hub) state() interface{} {
	h.mu.RLock()
	fn := h.getState
	h.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn()
}

// Run serves register, unregister and broadcast requests until ctx is done,
// then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.stopOnce.Do(func() { close(h.done) })
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			metrics.WebsocketClients.Set(0)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			metrics.WebsocketClients.Set(float64(count))
			log.Debug().Str("client", client.id).Msg("WebSocket client connected")
			client.enqueue(Message{Type: MsgInitialState, Data: h.state()})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			metrics.WebsocketClients.Set(float64(count))
			log.Debug().Str("client", client.id).Msg("WebSocket client disconnected")

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow client, drop it.
					delete(h.clients, client)
					close(client.send)
				}
			}
			count := len(h.clients)
			h.mu.Unlock()
			metrics.WebsocketClients.Set(float64(count))
		}
	}
}

// HandleWebSocket upgrades the request and attaches a new client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("origin", r.Header.Get("Origin")).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		id:   ulid.Make().String(),
	}
	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	case <-r.Context().Done():
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a message to every connected client.
func (h *Hub) Broadcast(msgType string, data interface{}) {
	payload, err := json.Marshal(Message{Type: msgType, Data: data})
	if err != nil {
		log.Error().Err(err).Str("type", msgType).Msg("Failed to marshal WebSocket message")
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		log.Warn().Str("type", msgType).Msg("WebSocket broadcast channel full")
	}
}

// TierChanged pushes a gate tier change. Use it as a gate subscriber.
func (h *Hub) TierChanged(change gate.TierChange) {
	h.Broadcast(MsgTierChanged, change)
}

func (h *Hub) ShowBanner(b warning.Banner) { h.Broadcast(MsgBanner, b) }
func (h *Hub) ClearBanner()                { h.Broadcast(MsgBannerCleared, nil) }
func (h *Hub) ShowModal(m warning.Modal)   { h.Broadcast(MsgModal, m) }
func (h *Hub) CloseModal()                 { h.Broadcast(MsgModalClosed, nil) }

var _ warning.Sink = (*Hub)(nil)

func (c *Client) enqueue(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}
	select {
	case c.send <- payload:
	default:
		log.Warn().Str("client", c.id).Str("type", msg.Type).Msg("Client send buffer full, dropping message")
	}
}

// readPump handles incoming messages from the client
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("client", c.id).Msg("WebSocket read error")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Debug().Err(err).Str("client", c.id).Msg("Ignoring malformed WebSocket message")
			continue
		}
		switch msg.Type {
		case "ping":
			c.hub.sendTo(c, Message{Type: MsgPong, Data: map[string]int64{"timestamp": time.Now().Unix()}})
		case "requestState":
			c.hub.sendTo(c, Message{Type: MsgInitialState, Data: c.hub.state()})
		default:
			log.Debug().Str("client", c.id).Str("type", msg.Type).Msg("Received WebSocket message")
		}
	}
}

// sendTo enqueues a message for one client if it is still registered.
func (h *Hub) sendTo(c *Client, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.clients[c] {
		c.enqueue(msg)
	}
}

// writePump handles outgoing messages to the client
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
