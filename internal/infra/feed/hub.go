// Package feed streams sequenced ledger events to websocket clients.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"predict_go/internal/domain"
	"predict_go/internal/event"
	"predict_go/internal/infra"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

// publicTopics are the event types the feed serves; every client starts
// subscribed to all of them. Balance events name a user's custody movements
// and are never broadcast.
var publicTopics = []event.Type{event.TypeTrade, event.TypeMarket, event.TypeDispute}

func isPublic(t event.Type) bool {
	for _, p := range publicTopics {
		if p == t {
			return true
		}
	}
	return false
}

// QuoteSource provides the snapshot served on /quotes.
type QuoteSource interface {
	GetAll() []domain.Quote
}

// envelope is the JSON frame sent to clients.
type envelope struct {
	Type event.Type  `json:"type"`
	Seq  uint64      `json:"seq"`
	Data event.Event `json:"data"`
}

type broadcastMsg struct {
	topic event.Type
	data  []byte
}

// subscribeMsg is sent by clients to change topics:
// {"action":"unsubscribe","topics":["trade"]}
type subscribeMsg struct {
	Action string       `json:"action"`
	Topics []event.Type `json:"topics"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	topics map[event.Type]bool
}

// Hub fans sequenced events out to connected websocket clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{}
	quotes     QuoteSource
	metrics    *infra.Metrics
	upgrader   websocket.Upgrader
	origins    map[string]bool
	anyOrigin  bool
	mu         sync.RWMutex
}

// NewHub creates a Hub. quotes may be nil, in which case /quotes returns an
// empty list. allowedOrigins lists the browser origins that may open /ws
// ("*" allows any); requests from the feed's own host are always accepted.
func NewHub(quotes QuoteSource, metrics *infra.Metrics, allowedOrigins []string) *Hub {
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	h := &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		quotes:     quotes,
		metrics:    metrics,
		origins:    make(map[string]bool),
	}
	for _, o := range allowedOrigins {
		o = strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")
		switch o {
		case "":
		case "*":
			h.anyOrigin = true
		default:
			h.origins[o] = true
		}
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin accepts non-browser clients (no Origin header), configured
// origins and same-host pages.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.anyOrigin {
		return true
	}
	if h.origins[strings.ToLower(origin)] {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	slog.Warn("feed: rejected origin", slog.String("origin", origin))
	return false
}

// Run handles registration and broadcasting until ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
				h.metrics.DecrementConnections()
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.metrics.IncrementConnections()
			slog.Info("feed: client connected", slog.Int("total_clients", h.ClientCount()))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.metrics.DecrementConnections()
			}
			h.mu.Unlock()
			slog.Info("feed: client disconnected", slog.Int("total_clients", h.ClientCount()))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(msg.topic) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					slog.Warn("feed: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// OnEvent is a sequencer subscriber. The event is encoded before returning
// because pooled events are recycled once every subscriber has run.
// Events outside the public topics are ignored.
func (h *Hub) OnEvent(ev event.Event) {
	if !isPublic(ev.GetType()) {
		return
	}
	data, err := json.Marshal(envelope{Type: ev.GetType(), Seq: ev.GetSeq(), Data: ev})
	if err != nil {
		slog.Error("feed: encode event", slog.Any("error", err))
		return
	}
	select {
	case h.broadcast <- broadcastMsg{topic: ev.GetType(), data: data}:
	default:
		h.metrics.RecordDroppedEvent()
	}
}

// Handler returns the HTTP routes: GET /ws, GET /quotes and GET /metrics.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.HandleWS)
	mux.HandleFunc("/quotes", h.HandleQuotes)
	mux.HandleFunc("/metrics", h.HandleMetrics)
	return mux
}

// HandleWS upgrades the request and registers the client.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("feed: upgrade failed", slog.Any("error", err))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		topics: make(map[event.Type]bool),
	}
	for _, t := range publicTopics {
		c.topics[t] = true
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// HandleQuotes writes the latest quote of every market as JSON.
func (h *Hub) HandleQuotes(w http.ResponseWriter, r *http.Request) {
	quotes := []domain.Quote{}
	if h.quotes != nil {
		quotes = h.quotes.GetAll()
	}
	writeJSON(w, quotes)
}

// HandleMetrics writes a metrics snapshot as JSON.
func (h *Hub) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.metrics.Snapshot())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("feed: write response", slog.Any("error", err))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *client) isSubscribed(topic event.Type) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topics[topic]
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, t := range msg.Topics {
			if isPublic(t) {
				c.topics[t] = true
			}
		}
	case "unsubscribe":
		for _, t := range msg.Topics {
			delete(c.topics, t)
		}
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("feed: unexpected close error", slog.Any("error", err))
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
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
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
