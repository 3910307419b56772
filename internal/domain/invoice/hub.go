package invoice

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware in front of the admin group.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	EventReady    = "queue.ready"
	EventApproved = "queue.approved"
)

// QueueEvent tells approval-queue viewers to refresh.
type QueueEvent struct {
	Type          string `json:"type"`
	BookingID     int64  `json:"booking_id"`
	InvoiceNumber string `json:"invoice_number,omitempty"`
}

type connection struct {
	actor string
	conn  *websocket.Conn
	send  chan []byte
}

// QueueHub fans approval-queue changes out to connected admin consoles.
type QueueHub struct {
	mu          sync.RWMutex
	connections map[*connection]struct{}
}

func NewQueueHub() *QueueHub {
	return &QueueHub{connections: make(map[*connection]struct{})}
}

func (h *QueueHub) register(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c] = struct{}{}
}

func (h *QueueHub) unregister(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[c]; ok {
		delete(h.connections, c)
		close(c.send)
	}
}

// Count reports connected viewers.
func (h *QueueHub) Count() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Publish broadcasts ev to every viewer. Slow viewers miss the event.
func (h *QueueHub) Publish(ev QueueEvent) {
	if h == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.connections {
		select {
		case c.send <- data:
		default:
		}
	}
}

// ServeWS blocks until the viewer disconnects.
func (h *QueueHub) ServeWS(conn *websocket.Conn, actor string) {
	c := &connection{
		actor: actor,
		conn:  conn,
		send:  make(chan []byte, 64),
	}
	h.register(c)

	go h.writePump(c)
	h.readPump(c)
}

// readPump only services control frames; viewers have nothing to say.
func (h *QueueHub) readPump(c *connection) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *QueueHub) writePump(c *connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

// BookingReady announces that a booking joined the approval queue.
func (h *QueueHub) BookingReady(bookingID int64) {
	h.Publish(QueueEvent{Type: EventReady, BookingID: bookingID})
}
