package ws

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for development
		// In production, this should be more restrictive
		return true
	},
}

// Handler handles WebSocket connections for real-time progress streaming
type Handler struct {
	hub *ProgressHub
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *ProgressHub) *Handler {
	return &Handler{hub: hub}
}

// ServeHTTP handles WebSocket upgrade requests.
// Routes: /ws/progress (all batches) and /ws/progress/{batchID}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade error: %v", err)
		return
	}

	log.Printf("[WS] New connection for batch %q from %s", batchID, r.RemoteAddr)

	c := h.hub.Register(batchID, conn)
	go h.readPump(c)
}

// readPump reads messages from the WebSocket connection.
// This keeps the connection alive and handles client disconnection; all
// writes (broadcasts, pings, the close frame) happen on the client's
// writePump goroutine.
func (h *Handler) readPump(c *client) {
	defer h.hub.Unregister(c)

	c.conn.SetReadLimit(512) // Small limit since client shouldn't send much
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Read loop - mainly to detect disconnection
	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] Read error for batch %q: %v", c.batchID, err)
			}
			break
		}
	}
}
