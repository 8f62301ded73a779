package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// origins are checked by the cors handler in front of the router
	CheckOrigin: func(*http.Request) bool { return true },
}

// channelSet is the set of channels a client listens on, e.g. "trades",
// "trades:house_1_1", "orders:grid".
type channelSet struct {
	mu  sync.RWMutex
	set map[string]struct{}
}

func (s *channelSet) add(chs []string) {
	s.mu.Lock()
	for _, ch := range chs {
		s.set[ch] = struct{}{}
	}
	s.mu.Unlock()
}

func (s *channelSet) remove(chs []string) {
	s.mu.Lock()
	for _, ch := range chs {
		delete(s.set, ch)
	}
	s.mu.Unlock()
}

func (s *channelSet) any(chs []string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range chs {
		if _, ok := s.set[ch]; ok {
			return true
		}
	}
	return false
}

// Hub tracks connected clients and pushes market messages to them.
type Hub struct {
	log *zap.SugaredLogger

	mu      sync.RWMutex
	clients map[*Client]struct{}
	join    chan *Client
	leave   chan *Client
	done    chan struct{}
}

func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		log:     log,
		clients: make(map[*Client]struct{}),
		join:    make(chan *Client),
		leave:   make(chan *Client),
		done:    make(chan struct{}),
	}
}

// Run owns client membership until ctx is done, then drops every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				h.drop(c)
			}
			h.mu.Unlock()
			return
		case c := <-h.join:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Infow("ws_client_connected", "client", c.id, "total", n)
		case c := <-h.leave:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.log.Infow("ws_client_disconnected", "client", c.id, "total", len(h.clients))
			}
			h.mu.Unlock()
		}
	}
}

// drop must be called with h.mu held.
func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast delivers msg once to every client subscribed to at least one of
// channels. Clients with a full buffer miss the message.
func (h *Hub) Broadcast(msg WSMessage, channels ...string) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Warnw("ws_marshal_failed", "type", msg.Type, "err", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.channels.any(channels) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.log.Debugw("ws_message_dropped", "client", c.id, "type", msg.Type)
		}
	}
}

// sendTo queues data for c if it is still a member.
func (h *Hub) sendTo(c *Client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// Client is one WebSocket connection.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	id       string
	channels channelSet
}

func (c *Client) handle(req WSSubscribeRequest) {
	switch req.Op {
	case "subscribe":
		c.channels.add(req.Channels)
	case "unsubscribe":
		c.channels.remove(req.Channels)
	default:
		c.hub.log.Debugw("ws_unknown_op", "client", c.id, "op", req.Op)
		return
	}
	c.hub.log.Debugw("ws_"+req.Op+"d", "client", c.id, "channels", req.Channels)

	// ack so the client knows the change is in effect
	data, err := json.Marshal(WSMessage{Type: req.Op + "d", Data: req.Channels})
	if err == nil {
		c.hub.sendTo(c, data)
	}
}

func (c *Client) readLoop() {
	defer func() {
		select {
		case c.hub.leave <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req WSSubscribeRequest
		if err := c.conn.ReadJSON(&req); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			switch {
			case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
				c.hub.log.Debugw("ws_invalid_message", "client", c.id, "err", err)
				continue
			case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
				c.hub.log.Warnw("ws_read_failed", "client", c.id, "err", err)
			}
			return
		}
		c.handle(req)
	}
}

func (c *Client) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("ws_upgrade_failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := &Client{
		hub:      s.hub,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		id:       conn.RemoteAddr().String(),
		channels: channelSet{set: make(map[string]struct{})},
	}
	select {
	case s.hub.join <- c:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go c.writeLoop()
	go c.readLoop()
}
