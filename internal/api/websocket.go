// internal/api/websocket.go
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Corphon/AutoAnnotator/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Event types pushed to review clients
const (
	EventConnected        = "connected"
	EventAnnotationsSaved = "annotations_saved"
	EventSourceSwitched   = "source_switched"
)

const (
	sendQueueSize = 64
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = 54 * time.Second
)

// eventClient is one websocket connection. Only the hub closes send.
type eventClient struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	createdAt time.Time
}

// EventHub fans out review events to every connected websocket client.
// A single goroutine owns the client set.
type EventHub struct {
	upgrader websocket.Upgrader
	logger   *utils.Logger
	metrics  *utils.MetricsCollector

	register   chan *eventClient
	unregister chan *eventClient
	broadcast  chan []byte
	quit       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once

	connections atomic.Int64
}

// NewEventHub starts the hub loop; call Close to stop it
func NewEventHub(logger *utils.Logger, metrics *utils.MetricsCollector) *EventHub {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if metrics == nil {
		metrics = utils.NewMetricsCollector()
	}
	h := &EventHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:     logger,
		metrics:    metrics,
		register:   make(chan *eventClient),
		unregister: make(chan *eventClient),
		broadcast:  make(chan []byte, 256),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *EventHub) run() {
	defer close(h.done)
	clients := make(map[*eventClient]struct{})

	drop := func(c *eventClient) {
		if _, ok := clients[c]; !ok {
			return
		}
		delete(clients, c)
		close(c.send)
		h.connections.Store(int64(len(clients)))
		h.metrics.SetGauge("ws.connections", int64(len(clients)))
	}

	for {
		select {
		case c := <-h.register:
			clients[c] = struct{}{}
			h.connections.Store(int64(len(clients)))
			h.metrics.SetGauge("ws.connections", int64(len(clients)))
			// The welcome is queued here so that it precedes any broadcast
			// the client can observe.
			c.send <- h.encode(EventConnected, map[string]interface{}{"client_id": c.id})
			h.logger.Debug("websocket client connected", map[string]interface{}{"client_id": c.id})

		case c := <-h.unregister:
			drop(c)
			h.logger.Debug("websocket client disconnected", map[string]interface{}{"client_id": c.id})

		case message := <-h.broadcast:
			for c := range clients {
				select {
				case c.send <- message:
				default:
					h.logger.Warn("dropping slow websocket client", map[string]interface{}{"client_id": c.id})
					h.metrics.IncrementCounter("ws.dropped_clients")
					drop(c)
				}
			}

		case <-h.quit:
			for c := range clients {
				drop(c)
			}
			return
		}
	}
}

func (h *EventHub) encode(eventType string, fields map[string]interface{}) []byte {
	msg := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		msg[k] = v
	}
	msg["type"] = eventType
	msg["timestamp"] = time.Now().Format(time.RFC3339)

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode event", map[string]interface{}{"type": eventType, "error": err.Error()})
		return nil
	}
	return data
}

// Broadcast sends an event to every connected client
func (h *EventHub) Broadcast(eventType string, fields map[string]interface{}) {
	data := h.encode(eventType, fields)
	if data == nil {
		return
	}
	select {
	case h.broadcast <- data:
		h.metrics.IncrementCounter("ws.events." + eventType)
	case <-h.done:
	}
}

// ConnectionCount returns the number of registered clients
func (h *EventHub) ConnectionCount() int {
	return int(h.connections.Load())
}

// GetStatus reports hub state for the status endpoint
func (h *EventHub) GetStatus() map[string]interface{} {
	running := true
	select {
	case <-h.done:
		running = false
	default:
	}
	return map[string]interface{}{
		"total_connections": h.ConnectionCount(),
		"running":           running,
	}
}

// Close disconnects all clients and stops the hub
func (h *EventHub) Close() {
	h.closeOnce.Do(func() { close(h.quit) })
	<-h.done
}

// ServeWS upgrades the request and streams events until the client leaves
func (h *EventHub) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	client := &eventClient{
		id:        uuid.New().String(),
		conn:      conn,
		send:      make(chan []byte, sendQueueSize),
		createdAt: time.Now(),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(client)
	h.readPump(client)

	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// readPump discards client messages and returns when the connection fails
func (h *EventHub) readPump(client *eventClient) {
	client.conn.SetReadLimit(4096)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", map[string]interface{}{
					"client_id": client.id,
					"error":     err.Error(),
				})
			}
			return
		}
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

// writePump is the only writer of client.conn
func (h *EventHub) writePump(client *eventClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Warn("websocket write failed", map[string]interface{}{
					"client_id": client.id,
					"error":     err.Error(),
				})
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
