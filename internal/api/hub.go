package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/amycare/telemetry-core/internal/dataflow"
	"github.com/amycare/telemetry-core/internal/infrastructure/config"
	"github.com/amycare/telemetry-core/internal/infrastructure/logging"
)

// Hub fans data-flow events out to WebSocket subscribers.
//
// Each subscriber has a bounded send buffer; when a slow client falls
// behind, its oldest undelivered frame is dropped. New subscribers
// receive a replay of recent events before live frames.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]struct{}

	replay      func(limit int) []dataflow.Event
	replayCount int
	sendBuffer  int

	pingInterval time.Duration
	pongTimeout  time.Duration
	sendTimeout  time.Duration

	logger *logging.Logger
	closed chan struct{}
	once   sync.Once
}

// NewHub creates the WebSocket fan-out hub.
func NewHub(cfg config.WebSocketConfig, replayCount int, logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	sendTimeout := time.Duration(cfg.SendTimeout) * time.Second
	if sendTimeout <= 0 {
		sendTimeout = 2 * time.Second
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Dashboards are served from other origins on the hospital LAN.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients:      make(map[*wsClient]struct{}),
		replayCount:  replayCount,
		sendBuffer:   cfg.SendBuffer,
		pingInterval: time.Duration(cfg.PingInterval) * time.Second,
		pongTimeout:  time.Duration(cfg.PongTimeout) * time.Second,
		sendTimeout:  sendTimeout,
		logger:       logger,
		closed:       make(chan struct{}),
	}
}

// SetReplaySource wires the recent-event source used for new
// subscribers. Set once during startup, before serving connections.
func (h *Hub) SetReplaySource(replay func(limit int) []dataflow.Event) {
	h.replay = replay
}

// Broadcast implements dataflow.Broadcaster. Frames are JSON-encoded
// once and fanned out; a full subscriber buffer sheds its oldest frame.
func (h *Hub) Broadcast(e dataflow.Event) {
	frame, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("encoding data-flow frame", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.enqueue(frame)
	}
}

// ServeWS upgrades the request and attaches the subscriber.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.closed:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &wsClient{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, h.sendBuffer),
		closing: make(chan struct{}),
	}

	// Register and replay under the hub lock: Broadcast cannot run until
	// the lock is released, so history frames land first and no event
	// emitted during the replay is missed.
	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.replay != nil {
		for _, e := range h.replay(h.replayCount) {
			if frame, err := json.Marshal(e); err == nil {
				c.enqueue(frame)
			}
		}
	}
	h.mu.Unlock()

	go c.writePump()
	go c.readPump()
}

// ServeHTTP lets the hub mount directly on a router.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.ServeWS(w, r)
}

// ClientCount returns the number of attached subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close detaches every subscriber and rejects new connections.
func (h *Hub) Close(ctx context.Context) {
	h.once.Do(func() { close(h.closed) })

	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.shutdown()
	}

	// Give write pumps a moment to send close frames.
	select {
	case <-ctx.Done():
	case <-time.After(100 * time.Millisecond):
	}
}

func (h *Hub) detach(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}
