package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jeongseonghan/bersim/internal/logger"
	"github.com/jeongseonghan/bersim/internal/sim"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage represents a WebSocket message.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// ProgressPayload represents a progress update.
type ProgressPayload struct {
	JobID     string     `json:"jobId"`
	Status    JobStatus  `json:"status"`
	Message   string     `json:"message,omitempty"`
	Progress  float64    `json:"progress"` // 0.0 to 1.0
	Completed int        `json:"completed"`
	Total     int        `json:"total"`
	Variant   string     `json:"variant,omitempty"`
	Point     *sim.Point `json:"point,omitempty"`
}

// sendBuffer is the number of messages queued per client before the hub
// gives up on it.
const sendBuffer = 64

// wsClient owns the write side of one connection. Only its writer
// goroutine writes to conn.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WSHub manages WebSocket connections. Broadcasts never block on a client:
// a client whose queue is full is disconnected.
type WSHub struct {
	clients map[*websocket.Conn]*wsClient
	mu      sync.Mutex
	log     zerolog.Logger
	metrics *Metrics
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(log zerolog.Logger, metrics *Metrics) *WSHub {
	return &WSHub{
		clients: make(map[*websocket.Conn]*wsClient),
		log:     logger.Component(log, "ws"),
		metrics: metrics,
	}
}

// AddClient registers a new WebSocket connection and starts its writer.
func (h *WSHub) AddClient(conn *websocket.Conn) {
	c := &wsClient{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[conn] = c
	n := len(h.clients)
	h.metrics.clients(n)
	h.mu.Unlock()

	go h.writer(c)
	h.log.Debug().Int("clients", n).Msg("WebSocket client connected")
}

func (h *WSHub) writer(c *wsClient) {
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.log.Debug().Err(err).Msg("WebSocket write error")
			h.RemoveClient(c.conn)
			return
		}
	}
}

// RemoveClient removes a WebSocket connection. It is safe to call more
// than once.
func (h *WSHub) RemoveClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(conn, "WebSocket client disconnected")
}

func (h *WSHub) removeLocked(conn *websocket.Conn, reason string) {
	c, ok := h.clients[conn]
	if !ok {
		return
	}
	delete(h.clients, conn)
	close(c.send)
	// Closing the connection also unblocks a writer stuck in WriteMessage.
	conn.Close()
	h.metrics.clients(len(h.clients))
	h.log.Debug().Int("clients", len(h.clients)).Msg(reason)
}

// Clients returns the number of connected clients.
func (h *WSHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues a message for all connected clients.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket marshal error")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for conn, c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.removeLocked(conn, "WebSocket client too slow, dropped")
		}
	}
}

// BroadcastProgress sends a cell completion to all clients.
func (h *WSHub) BroadcastProgress(info JobInfo, cell *sim.CellDone) {
	payload := ProgressPayload{
		JobID:     info.ID,
		Status:    info.Status,
		Progress:  info.Progress,
		Completed: info.Completed,
		Total:     info.Total,
	}
	if cell != nil {
		payload.Variant = cell.Variant.String()
		point := cell.Point
		payload.Point = &point
	}
	h.Broadcast(WSMessage{Type: "progress", Payload: payload})
}

// BroadcastStatus sends a job state change to all clients.
func (h *WSHub) BroadcastStatus(info JobInfo, message string) {
	h.Broadcast(WSMessage{
		Type: "status",
		Payload: ProgressPayload{
			JobID:     info.ID,
			Status:    info.Status,
			Message:   message,
			Progress:  info.Progress,
			Completed: info.Completed,
			Total:     info.Total,
		},
	})
}

// BroadcastLog sends a log message to all clients.
func (h *WSHub) BroadcastLog(level, message string) {
	h.Broadcast(WSMessage{
		Type: "log",
		Payload: map[string]string{
			"level":   level,
			"message": message,
		},
	})
}
