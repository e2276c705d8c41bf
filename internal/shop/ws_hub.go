package shop

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shophub/storefront/internal/metrics"
)

// EventCartUpdated is broadcast after every successful cart mutation.
const EventCartUpdated = "cart_updated"

// WSMessage is a JSON message sent to WebSocket clients. Events carry no
// cart data; clients re-read the cart or its item count.
// A message with a UserID reaches only that user's connections.
type WSMessage struct {
	Type   string `json:"type"`
	UserID string `json:"user_id,omitempty"`
}

type wsClient struct {
	conn   *websocket.Conn
	userID string
}

type wsEvent struct {
	userID string
	data   []byte
}

// WSHub manages WebSocket connections and delivers cart change events to
// the connections of the user whose cart changed.
type WSHub struct {
	clients    map[*websocket.Conn]string // conn -> user
	broadcast  chan wsEvent
	register   chan wsClient
	unregister chan *websocket.Conn
	stopped    chan struct{} // closed when Run returns
	mu         sync.RWMutex
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*websocket.Conn]string),
		broadcast:  make(chan wsEvent, 256),
		register:   make(chan wsClient),
		unregister: make(chan *websocket.Conn),
		stopped:    make(chan struct{}),
	}
}

// Run starts the hub's main event loop and returns when ctx is done,
// closing every client. Must be called in a goroutine.
func (h *WSHub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.conn] = c.userID
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			slog.Info("ws client connected", "user", c.userID, "total", total)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))

		case ev := <-h.broadcast:
			h.mu.Lock()
			for conn, userID := range h.clients {
				if ev.userID != "" && ev.userID != userID {
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, ev.data); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends msg to msg.UserID's connections, or to every connection
// when UserID is empty.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- wsEvent{userID: msg.UserID, data: data}:
	default:
		// Drop if buffer full to avoid blocking cart mutations.
		metrics.DroppedNotifications.Inc()
	}
}

// CartChanged implements Notifier.
func (h *WSHub) CartChanged(userID string) {
	h.Broadcast(WSMessage{Type: EventCartUpdated, UserID: userID})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // storefront is served from another origin
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws?user={userID}.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		writeError(w, "user query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	select {
	case h.register <- wsClient{conn: conn, userID: userID}:
	case <-h.stopped:
		conn.Close()
		return
	}

	done := make(chan struct{})

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer close(done)
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.stopped:
			}
		}()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				h.mu.RLock()
				_, ok := h.clients[conn]
				h.mu.RUnlock()
				if !ok {
					return
				}
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()
}
