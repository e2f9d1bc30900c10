package activity

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/phildougherty/mcp-trader-bridge/internal/constants"
	"github.com/phildougherty/mcp-trader-bridge/internal/logging"
)

type wsClient struct {
	id   int64
	conn *websocket.Conn
	send chan Message
}

// Hub streams activity messages to websocket clients. Slow clients whose
// send buffer fills up are disconnected rather than blocking the feed.
type Hub struct {
	clients       map[*wsClient]bool
	mu            sync.RWMutex
	register      chan *wsClient
	unregister    chan *wsClient
	broadcast     chan Message
	shutdown      chan struct{}
	done          chan struct{}
	runOnce       sync.Once
	stopOnce      sync.Once
	clientCounter int64
	upgrader      websocket.Upgrader
	logger        *logging.Logger
}

// NewHub creates a hub. allowedOrigins of ["*"] or empty accepts any origin.
func NewHub(allowedOrigins []string, logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NewLogger(constants.DefaultLogLevel)
	}

	return &Hub{
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan Message, constants.ActivityChannelSize),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}

	return func(r *http.Request) bool {
		if len(set) == 0 || set["*"] {
			return true
		}
		origin := r.Header.Get("Origin")

		return origin == "" || set[origin]
	}
}

// Start runs the hub loop in the background; it is safe to call twice.
func (h *Hub) Start() {
	h.runOnce.Do(func() {
		go h.run()
	})
}

func (h *Hub) run() {
	defer close(h.done)

	h.logger.Debug("Activity hub running")
	for {
		select {
		case c := <-h.register:
			h.handleClientRegistration(c)
		case c := <-h.unregister:
			h.handleClientUnregistration(c)
		case msg := <-h.broadcast:
			h.handleBroadcast(msg)
		case <-h.shutdown:
			h.handleShutdown()

			return
		}
	}
}

func (h *Hub) handleClientRegistration(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("Activity client #%d registered (total: %d)", c.id, total)

	c.send <- NewMessage(LevelInfo, TypeConnection, "", fmt.Sprintf("Client #%d registered to activity stream", c.id), map[string]interface{}{
		"client_id":     c.id,
		"total_clients": total,
	})
}

func (h *Hub) handleClientUnregistration(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	remaining := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("Activity client #%d unregistered (remaining: %d)", c.id, remaining)
}

func (h *Hub) handleBroadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warning("Activity client #%d too slow, disconnecting", c.id)
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) handleShutdown() {
	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
	}
	h.clients = make(map[*wsClient]bool)
	h.mu.Unlock()

	h.logger.Debug("Activity hub stopped")
}

// Broadcast queues msg for every client without blocking.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warning("Activity broadcast queue full, dropping event %s", msg.ID)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// Close disconnects every client and stops the hub loop.
func (h *Hub) Close() {
	h.stopOnce.Do(func() {
		close(h.shutdown)
	})
	h.runOnce.Do(func() {
		close(h.done)
	})
	<-h.done
}

// ServeHTTP upgrades the request and streams activity until the client
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warning("Activity websocket upgrade failed: %v", err)

		return
	}

	c := &wsClient{
		id:   atomic.AddInt64(&h.clientCounter, 1),
		conn: conn,
		send: make(chan Message, constants.ActivityClientBuffer),
	}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()

		return
	}

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *wsClient) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketReadTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteDeadline))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				h.logger.Debug("Activity client #%d write failed: %v", c.id, err)

				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
