package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"micetrack/internal/batch"
)

const (
	// allBatches is the subscription key for clients that watch every batch.
	allBatches = ""

	// writeWait bounds a single write to the peer.
	writeWait = 10 * time.Second
	// pongWait is how long the connection may stay silent before it is
	// considered dead; pings go out every pingPeriod to keep it alive.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// sendBuffer is the per-client outbound queue. A client that cannot
	// drain it is dropped instead of blocking the broadcaster.
	sendBuffer = 64
)

// client is one connected subscriber. Gorilla connections support at most
// one concurrent writer, so every outbound message goes through send and is
// written by the client's single writePump goroutine.
type client struct {
	batchID string
	conn    *websocket.Conn
	send    chan []byte

	once sync.Once
	done chan struct{}
}

// shutdown signals the writer to close the connection. Safe to call from
// multiple goroutines.
func (c *client) shutdown() {
	c.once.Do(func() { close(c.done) })
}

// writePump is the connection's only writer: it drains the outbound queue,
// sends the keepalive pings and emits the close frame on shutdown.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// ProgressHub manages WebSocket connections for real-time batch progress
// streaming. Clients subscribe to a single batch or to all batches.
type ProgressHub struct {
	// clients maps batch_id -> set of subscribers
	clients map[string]map[*client]bool
	mu      sync.RWMutex
}

// NewProgressHub creates a new progress hub
func NewProgressHub() *ProgressHub {
	return &ProgressHub{
		clients: make(map[string]map[*client]bool),
	}
}

// Register adds a connection and starts its writer goroutine. An empty
// batchID subscribes to all batches.
func (h *ProgressHub) Register(batchID string, conn *websocket.Conn) *client {
	c := &client{
		batchID: batchID,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	if h.clients[batchID] == nil {
		h.clients[batchID] = make(map[*client]bool)
	}
	h.clients[batchID][c] = true
	total := len(h.clients[batchID])
	h.mu.Unlock()

	go c.writePump()
	log.Printf("[WS] Client registered for batch %q (total: %d)", batchID, total)
	return c
}

// Unregister removes a client and stops its writer
func (h *ProgressHub) Unregister(c *client) {
	h.mu.Lock()
	if conns, ok := h.clients[c.batchID]; ok && conns[c] {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.clients, c.batchID)
		}
		log.Printf("[WS] Client unregistered for batch %q", c.batchID)
	}
	h.mu.Unlock()
	c.shutdown()
}

// HasClients returns true if anyone is watching the given batch
func (h *ProgressHub) HasClients(batchID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.clients[allBatches]) > 0 {
		return true
	}
	conns, ok := h.clients[batchID]
	return ok && len(conns) > 0
}

// ClientCount returns the total number of connected clients
func (h *ProgressHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, conns := range h.clients {
		count += len(conns)
	}
	return count
}

// Broadcast queues a message for the batch's subscribers and for all-batch
// subscribers. It never writes to a connection itself; a client whose queue
// is full is dropped rather than slowing the batch down.
func (h *ProgressHub) Broadcast(batchID string, message []byte) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients[batchID])+len(h.clients[allBatches]))
	for c := range h.clients[batchID] {
		targets = append(targets, c)
	}
	if batchID != allBatches {
		for c := range h.clients[allBatches] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- message:
		case <-c.done:
		default:
			log.Printf("[WS] Dropping slow client for batch %q", c.batchID)
			h.Unregister(c)
		}
	}
}

// BroadcastEvent marshals and broadcasts one batch event
func (h *ProgressHub) BroadcastEvent(ev *batch.Event) {
	if !h.HasClients(ev.BatchID) {
		return
	}
	data, err := json.Marshal(NewProgressMessage(ev))
	if err != nil {
		log.Printf("[WS] Error marshaling progress message: %v", err)
		return
	}
	h.Broadcast(ev.BatchID, data)
}

// AttachBus subscribes the hub to a batch event bus so every published event
// is streamed to connected clients. Returns the unsubscribe function.
func (h *ProgressHub) AttachBus(bus *batch.EventBus) func() {
	return bus.Subscribe(h.BroadcastEvent)
}
