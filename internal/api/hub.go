package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"kdsboard/internal/monitoring"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 512 * 1024
	sendQueueSize  = 256
)

// WebSocket upgrader configuration
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Boards connect from any origin on the local network
	},
}

// feedConn is one board connected to a kitchen center's feed
type feedConn struct {
	id     string
	center int64
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	once   sync.Once
}

// Hub fans out order messages to every board connected to a kitchen center
type Hub struct {
	log     *logrus.Entry
	metrics *monitoring.Metrics

	mu      sync.RWMutex
	centers map[int64]map[string]*feedConn
}

// NewHub creates an empty hub
func NewHub(log *logrus.Entry, metrics *monitoring.Metrics) *Hub {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Hub{
		log:     log,
		metrics: metrics,
		centers: make(map[int64]map[string]*feedConn),
	}
}

// Connections returns the number of boards connected to center
func (h *Hub) Connections(center int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.centers[center])
}

// Broadcast queues msg for every connection of center and returns how many
// connections accepted it. Connections with a full queue skip the message.
func (h *Hub) Broadcast(center int64, msg interface{}) (int, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	label := strconv.FormatInt(center, 10)
	sent := 0
	for _, c := range h.centers[center] {
		select {
		case c.send <- data:
			sent++
			h.metrics.HubBroadcast(label, true)
		default:
			h.metrics.HubBroadcast(label, false)
			h.log.WithFields(logrus.Fields{"center_id": center, "conn_id": c.id}).Warn("feed buffer full, dropping message")
		}
	}
	return sent, nil
}

// Close disconnects every board
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*feedConn, 0)
	for _, set := range h.centers {
		for _, c := range set {
			conns = append(conns, c)
		}
	}
	h.mu.Unlock()

	for _, c := range conns {
		h.unregister(c)
	}
}

// handleWebSocket handles GET /ws/kds/:center
func (h *Hub) handleWebSocket(c *gin.Context) {
	center, err := strconv.ParseInt(c.Param("center"), 10, 64)
	if err != nil || center <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid center id"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("failed to upgrade connection")
		return
	}

	fc := &feedConn{
		id:     uuid.New().String(),
		center: center,
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		hub:    h,
	}
	h.register(fc)

	go fc.writePump()
	go fc.readPump()
}

func (h *Hub) register(c *feedConn) {
	h.mu.Lock()
	set, ok := h.centers[c.center]
	if !ok {
		set = make(map[string]*feedConn)
		h.centers[c.center] = set
	}
	set[c.id] = c
	n := len(set)
	h.mu.Unlock()

	h.metrics.HubConnections(strconv.FormatInt(c.center, 10), n)
	h.log.WithFields(logrus.Fields{"center_id": c.center, "conn_id": c.id}).Info("board connected")
}

func (h *Hub) unregister(c *feedConn) {
	c.once.Do(func() {
		h.mu.Lock()
		set := h.centers[c.center]
		delete(set, c.id)
		n := len(set)
		if n == 0 {
			delete(h.centers, c.center)
		}
		close(c.send)
		h.mu.Unlock()

		h.metrics.HubConnections(strconv.FormatInt(c.center, 10), n)
		h.log.WithFields(logrus.Fields{"center_id": c.center, "conn_id": c.id}).Info("board disconnected")
	})
}

// readPump discards inbound frames; it exists to process control frames and
// notice when the board goes away
func (c *feedConn) readPump() {
	defer func() {
		c.hub.unregister(c)
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
				c.hub.log.WithError(err).Warn("feed connection error")
			}
			return
		}
	}
}

// writePump pumps queued messages to the board and keeps the connection alive
func (c *feedConn) writePump() {
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
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
