package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/inkmd/inkmd/internal/queue"
	"go.uber.org/zap"
)

// Hub fans queue-state snapshots out to connected websocket clients
type Hub struct {
	clients    map[string]*websocket.Conn
	broadcast  chan []byte
	register   chan hubClient
	unregister chan string
	done       chan struct{}
	stopOnce   sync.Once
	logger     *zap.Logger
	upgrader   websocket.Upgrader
}

type hubClient struct {
	id   string
	conn *websocket.Conn
}

// NewHub creates a websocket hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*websocket.Conn),
		broadcast:  make(chan []byte, 16),
		register:   make(chan hubClient),
		unregister: make(chan string),
		done:       make(chan struct{}),
		logger:     logger,
		upgrader: websocket.Upgrader{
			// Cross-origin policy is enforced by the CORS middleware;
			// the websocket endpoint accepts the same origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Start begins the hub loop, which runs until Stop is called
func (h *Hub) Start() {
	go func() {
		for {
			select {
			case <-h.done:
				for id, conn := range h.clients {
					conn.Close()
					delete(h.clients, id)
				}
				return
			case client := <-h.register:
				h.clients[client.id] = client.conn
				h.logger.Info("websocket client connected",
					zap.String("client", client.id), zap.Int("total", len(h.clients)))
			case id := <-h.unregister:
				if conn, ok := h.clients[id]; ok {
					conn.Close()
					delete(h.clients, id)
				}
				h.logger.Info("websocket client disconnected",
					zap.String("client", id), zap.Int("total", len(h.clients)))
			case message := <-h.broadcast:
				for id, conn := range h.clients {
					if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
						h.logger.Warn("dropping websocket client",
							zap.String("client", id), zap.Error(err))
						conn.Close()
						delete(h.clients, id)
					}
				}
			}
		}
	}()
}

// Stop ends the hub loop and disconnects every client
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// BroadcastState pushes a queue snapshot to every client. Called from
// the controller's run loop after each transition; a full broadcast
// channel drops the update rather than stalling the loop.
func (h *Hub) BroadcastState(state queue.State) {
	payload, err := json.Marshal(gin.H{
		"type":  "queue_update",
		"queue": snapshotView(state),
	})
	if err != nil {
		h.logger.Warn("failed to encode queue update", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- payload:
	default:
	}
}

// Serve upgrades one HTTP request to a websocket subscription
func (h *Hub) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	id := uuid.New().String()
	select {
	case h.register <- hubClient{id: id, conn: conn}:
	case <-h.done:
		conn.Close()
		return
	}

	// Drain the read side until the client goes away.
	go func() {
		defer func() {
			select {
			case h.unregister <- id:
			case <-h.done:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
