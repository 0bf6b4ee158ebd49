package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// wsMessage is the frame broadcast to connected clients.
type wsMessage struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// WebSocketHandler streams batch lifecycle and progress events to connected
// clients. Subtask progress events are throttled so a fast poll loop cannot
// flood the socket.
type WebSocketHandler struct {
	logger            arbor.ILogger
	clients           map[*websocket.Conn]bool
	clientMutex       map[*websocket.Conn]*sync.Mutex
	mu                sync.RWMutex
	eventService      interfaces.EventService
	allowedEvents     map[string]bool // Whitelist of events to broadcast (empty = allow all)
	progressThrottler *rate.Limiter
	serverInstanceID  string // Clients use this to detect server restart
}

// NewWebSocketHandler creates the handler and subscribes it to batch events.
func NewWebSocketHandler(eventService interfaces.EventService, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:            logger,
		clients:           make(map[*websocket.Conn]bool),
		clientMutex:       make(map[*websocket.Conn]*sync.Mutex),
		eventService:      eventService,
		allowedEvents:     make(map[string]bool),
		progressThrottler: rate.NewLimiter(rate.Every(250*time.Millisecond), 1),
		serverInstanceID:  uuid.New().String(),
	}

	if config != nil && len(config.AllowedEvents) > 0 {
		for _, eventType := range config.AllowedEvents {
			h.allowedEvents[eventType] = true
		}
		logger.Debug().
			Int("allowed_events", len(h.allowedEvents)).
			Msg("Initialized event whitelist for WebSocketHandler")
	}

	h.subscribeToEvents()
	return h
}

func (h *WebSocketHandler) subscribeToEvents() {
	if h.eventService == nil {
		return
	}
	eventTypes := []interfaces.EventType{
		interfaces.EventBatchCreated,
		interfaces.EventBatchStatusChange,
		interfaces.EventBatchProgress,
		interfaces.EventSubTaskStatusChange,
		interfaces.EventSubTaskProgress,
	}
	for _, eventType := range eventTypes {
		et := eventType
		if err := h.eventService.Subscribe(et, func(ctx context.Context, event interfaces.Event) error {
			h.broadcast(string(et), event.Payload)
			return nil
		}); err != nil {
			h.logger.Warn().Err(err).Str("event_type", string(et)).Msg("Failed to subscribe websocket handler")
		}
	}
}

// HandleWebSocket upgrades the connection and registers the client.
// GET /ws
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client connected")

	h.sendTo(conn, &wsMessage{
		Type:      "hello",
		Payload:   map[string]string{"server_instance_id": h.serverInstanceID},
		Timestamp: time.Now(),
	})

	// Reader loop exists only to detect disconnect; the protocol is
	// one-way server to client.
	go func() {
		defer h.removeClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *WebSocketHandler) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	delete(h.clientMutex, conn)
	clientCount := len(h.clients)
	h.mu.Unlock()

	conn.Close()
	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client disconnected")
}

// broadcast sends an event frame to every connected client, honoring the
// whitelist and the progress throttle.
func (h *WebSocketHandler) broadcast(eventType string, payload interface{}) {
	if len(h.allowedEvents) > 0 && !h.allowedEvents[eventType] {
		return
	}
	if eventType == string(interfaces.EventSubTaskProgress) && !h.progressThrottler.Allow() {
		return
	}

	message := &wsMessage{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		h.sendTo(conn, message)
	}
}

// sendTo writes one frame under the per-connection mutex. Gorilla permits
// only one concurrent writer per connection.
func (h *WebSocketHandler) sendTo(conn *websocket.Conn, message *wsMessage) {
	h.mu.RLock()
	lock, ok := h.clientMutex[conn]
	h.mu.RUnlock()
	if !ok {
		return
	}

	lock.Lock()
	defer lock.Unlock()

	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(message); err != nil {
		h.logger.Debug().Err(err).Msg("WebSocket write failed, dropping client")
		go h.removeClient(conn)
	}
}

// ClientCount returns the number of connected clients.
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
