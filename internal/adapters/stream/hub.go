package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/selivandex/instrument/pkg/logger"
	"github.com/selivandex/instrument/pkg/metrics"
	"github.com/selivandex/instrument/pkg/models"
)

const (
	writeDeadline   = 10 * time.Second
	readDeadline    = 60 * time.Second
	pingInterval    = 30 * time.Second
	clientBuffer    = 64
	broadcastBuffer = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// Event is one persisted point as seen by live-tail clients
type Event struct {
	ExperimentID string `json:"experiment_id"`
	Metric       string `json:"metric"`
	Frame        int64  `json:"frame"`
	Data         any    `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans committed batches out to websocket clients. Slow clients lose
// messages rather than stalling the flush goroutine.
type Hub struct {
	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}

	mu sync.RWMutex
}

// NewHub creates a new websocket hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, broadcastBuffer),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()
			logger.Debug("live tail client connected", zap.Int("clients", count))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			logger.Debug("live tail client disconnected", zap.Int("clients", count))

		case message := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					logger.Warn("live tail client too slow, dropping message")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast queues data for every connected client. It never blocks.
func (h *Hub) Broadcast(data any) error {
	message, err := json.Marshal(data)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- message:
	default:
		logger.Warn("broadcast channel full, dropping message")
	}
	return nil
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Hook returns a flush hook that publishes every committed batch
func (h *Hub) Hook() metrics.FlushHook {
	return func(batch models.Buffer) {
		if h.Clients() == 0 {
			return
		}
		if err := h.Broadcast(Events(batch)); err != nil {
			logger.Error("failed to encode live tail batch", zap.Error(err))
		}
	}
}

// Events flattens a batch in metric then write order
func Events(batch models.Buffer) []Event {
	events := make([]Event, 0, batch.Len())
	for _, metric := range batch.Metrics() {
		for _, p := range batch.Ordered(metric) {
			data, err := models.Normalize(p.Data)
			if err != nil {
				continue
			}
			if b, ok := data.([]byte); ok {
				data = string(b)
			}
			events = append(events, Event{
				ExperimentID: p.ExperimentID.String(),
				Metric:       metric,
				Frame:        p.Frame,
				Data:         data,
			})
		}
	}
	return events
}

// ServeHTTP upgrades the request and streams batches until the client leaves
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go h.readLoop(c)
	h.writeLoop(c)
}

// readLoop only handles control frames and detects disconnects
func (h *Hub) readLoop(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
	}
}

// writeLoop is the only writer of c.conn
func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
