// Package events fans bed-status changes out to realtime dashboard
// subscribers over websockets. Delivery is best-effort: a slow or dead
// subscriber is dropped, and a publish never blocks or fails the allocation
// that triggered it.
package events

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/medready/hospital-bed-api/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboards are served cross-origin
	},
}

type client struct {
	conn       *websocket.Conn
	hospitalID string // empty subscribes to the whole network
	send       chan models.BedEvent
}

// Hub tracks connected dashboard clients grouped by hospital
type Hub struct {
	mutex   sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
	}
}

// HandleWebSocket upgrades the connection and registers the client for bed
// events. The hospitalId query param scopes the subscription; without it the
// client sees the whole network.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.S().Warnw("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn:       conn,
		hospitalID: r.URL.Query().Get("hospitalId"),
		send:       make(chan models.BedEvent, 16),
	}

	h.mutex.Lock()
	h.clients[c] = struct{}{}
	h.mutex.Unlock()
	zap.S().Debugw("dashboard client connected", "hospitalId", c.hospitalID)

	go h.writeLoop(c)

	// Drain reads to notice disconnects
	for {
		if _, _, err := conn.NextReader(); err != nil {
			break
		}
	}
	h.drop(c)
}

// PublishBed emits a bed-status change to matching subscribers. Non-blocking:
// a full client buffer means that client misses the event.
func (h *Hub) PublishBed(hospitalID, bedID string, bedType models.BedType, newStatus models.BedStatus) {
	event := models.BedEvent{
		EventID:    uuid.New().String(),
		HospitalID: hospitalID,
		BedID:      bedID,
		BedType:    bedType,
		NewStatus:  newStatus,
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	for c := range h.clients {
		if c.hospitalID != "" && c.hospitalID != hospitalID {
			continue
		}
		select {
		case c.send <- event:
		default:
		}
	}
}

// SubscriberCount reports the number of connected clients, exported for
// testing purposes
func (h *Hub) SubscriberCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

func (h *Hub) writeLoop(c *client) {
	for event := range c.send {
		if err := c.conn.WriteJSON(map[string]interface{}{
			"event": "bed_status_changed",
			"data":  event,
		}); err != nil {
			h.drop(c)
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mutex.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mutex.Unlock()
	c.conn.Close()
}
