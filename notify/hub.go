package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"icarus/core"
	"icarus/metrics"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// writeWait is the time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// pingPeriod sends pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum message size allowed from peer
	maxMessageSize = 512

	// sendChannelSize buffers per-client sends so a slow consumer never
	// backpressures the pipeline
	sendChannelSize = 256
)

// client is a single connected visualization consumer
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans detection, threat, and plan records out to connected websocket
// clients. It implements EventSink; every Publish method is non-blocking
// and a client that cannot keep up is disconnected rather than buffered
// without bound.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client

	mu     sync.RWMutex
	logger *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The feed carries no commands, only read-only event records
		return true
	},
}

// NewHub creates a hub. Start must be called before the hub accepts
// clients; the hub derives its own cancellable context so Stop works even
// when the parent never cancels.
func NewHub(ctx context.Context, logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	hubCtx, cancel := context.WithCancel(ctx)
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger,
		ctx:        hubCtx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Start runs the hub's event loop. Must be called exactly once per Hub.
func (h *Hub) Start() {
	defer close(h.done)

	h.logger.Info("Event hub started")

	for {
		select {
		case <-h.ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				c.conn.Close()
			}
			h.clients = make(map[*client]bool)
			h.mu.Unlock()
			metrics.WebsocketClients.Set(0)
			h.logger.Info("Event hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebsocketClients.Set(float64(total))
			h.logger.Debugw("Event feed client registered", "total_clients", total)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebsocketClients.Set(float64(total))
			h.logger.Debugw("Event feed client unregistered", "total_clients", total)

		case message := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					// Full send buffer means the client fell behind;
					// drop it so one slow consumer cannot stall the feed
					go func(slow *client) {
						select {
						case h.unregister <- slow:
						case <-h.ctx.Done():
						}
						slow.conn.Close()
					}(c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Stop shuts the hub down and waits for the event loop to finish cleanup
func (h *Hub) Stop() {
	h.cancel()
	<-h.done
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// PublishDetection broadcasts a detection event to the feed
func (h *Hub) PublishDetection(event core.DetectionEvent) {
	h.publish(TypeDetection, event)
}

// PublishThreat broadcasts a normalized threat event to the feed
func (h *Hub) PublishThreat(event core.ThreatEvent) {
	h.publish(TypeThreat, event)
}

// PublishPlan broadcasts a response plan snapshot to the feed
func (h *Hub) PublishPlan(plan core.PlanSnapshot) {
	h.publish(TypePlan, plan)
}

// publish marshals and queues one record. A full broadcast queue drops the
// record; the feed is advisory and never allowed to block the publisher.
func (h *Hub) publish(msgType string, data interface{}) {
	msg := Message{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Errorw("Failed to marshal feed message", "type", msgType, "error", err)
		return
	}

	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warnw("Feed broadcast queue full, dropping record", "type", msgType)
	}
}

// ServeHTTP upgrades the request to a websocket connection and attaches the
// client to the hub
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("Websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendChannelSize),
	}

	// The event loop stops consuming register once the hub shuts down; a
	// late upgrade must not hang the handler
	select {
	case h.register <- c:
	case <-h.ctx.Done():
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump drains the connection to detect disconnects; clients are not
// expected to send anything
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debugw("Websocket unexpected close", "error", err)
			}
			break
		}
	}
}

// writePump writes queued records to the connection and keeps the
// ping/pong heartbeat alive
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Coalesce anything already queued into the same frame
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
