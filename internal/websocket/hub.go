package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/sivakasi-crackers/order-dashboard/internal/orderquery"
	"github.com/sivakasi-crackers/order-dashboard/pkg/models"
)

const (
	MessageOrders = "orders"
	MessageQuery  = "query"
	MessageError  = "error"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	readLimit  = 4096
	sendBuffer = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The admin screens are served from a different origin in development
		return true
	},
}

type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
	Source    string      `json:"source"`
}

// View is what one client sees: its own query applied to the latest
// snapshot, plus the summary over the whole snapshot.
type View struct {
	Params orderquery.Params   `json:"params"`
	Orders []models.OrderRecord `json:"orders"`
	Stats  orderquery.Stats    `json:"stats"`
}

// inbound is the only message a browser sends: a new query for its view.
type inbound struct {
	Type string            `json:"type"`
	Data orderquery.Params `json:"data"`
}

type Client struct {
	conn   *websocket.Conn
	send   chan Message
	hub    *Hub
	logger *logrus.Logger

	mu     sync.Mutex
	params orderquery.Params
}

func (c *Client) Params() orderquery.Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

func (c *Client) setParams(p orderquery.Params) {
	c.mu.Lock()
	c.params = p
	c.mu.Unlock()
}

// Hub pushes order views to connected dashboards. Each new snapshot is
// filtered and sorted per client with that client's own query.
type Hub struct {
	clients    map[*Client]bool
	snapshots  chan []models.OrderRecord
	register   chan *Client
	unregister chan *Client
	refresh    chan *Client
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logrus.Logger

	latest []models.OrderRecord
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		snapshots:  make(chan []models.OrderRecord, 1),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		refresh:    make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
		latest:     []models.OrderRecord{},
	}
}

// Run serves the hub until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.WithField("client_count", count).Info("Client connected")
			h.deliver(client)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.WithField("client_count", count).Info("Client disconnected")

		case client := <-h.refresh:
			h.deliver(client)

		case records := <-h.snapshots:
			h.latest = records
			h.mutex.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mutex.RUnlock()
			for _, client := range clients {
				h.deliver(client)
			}
		}
	}
}

// deliver queues the client's view of the latest snapshot. A client whose
// buffer is full is dropped rather than allowed to stall the hub.
func (h *Hub) deliver(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if !h.clients[client] {
		return
	}

	p := client.Params()
	view := View{
		Params: p,
		Orders: orderquery.Apply(h.latest, p),
		Stats:  orderquery.Summarize(h.latest),
	}
	select {
	case client.send <- newMessage(MessageOrders, view):
	default:
		delete(h.clients, client)
		close(client.send)
		h.logger.Warn("Client too slow, disconnecting")
	}
}

func newMessage(messageType string, data interface{}) Message {
	return Message{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().Format(time.RFC3339),
		Source:    "order-dashboard",
	}
}

// Publish hands the hub a new snapshot. Only the latest pending snapshot is
// kept, so a busy hub skips intermediate ones.
func (h *Hub) Publish(records []models.OrderRecord) {
	for {
		select {
		case h.snapshots <- records:
			return
		default:
		}
		select {
		case <-h.snapshots:
		default:
		}
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan Message, sendBuffer),
		hub:    h,
		logger: h.logger,
		params: paramsFromQuery(r),
	}

	go client.writePump()
	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
		return
	}
	go client.readPump()
}

// paramsFromQuery seeds a client's view from the URL so a reconnecting
// browser gets its last view straight away.
func paramsFromQuery(r *http.Request) orderquery.Params {
	q := r.URL.Query()
	p := orderquery.Params{
		Search: q.Get("search"),
		Status: models.Status(q.Get("status")),
	}
	if key, err := orderquery.ParseSortKey(q.Get("sort")); err == nil {
		p.Sort = key
	}
	return p.Normalize()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Error("WebSocket error")
			}
			break
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != MessageQuery {
			c.logger.WithField("payload", string(data)).Warn("Ignoring unrecognised WebSocket message")
			continue
		}
		if _, err := orderquery.ParseSortKey(string(msg.Data.Sort)); err != nil {
			c.logger.WithError(err).Warn("Rejecting WebSocket query")
			c.hub.mutex.RLock()
			if c.hub.clients[c] {
				select {
				case c.send <- newMessage(MessageError, err.Error()):
				default:
				}
			}
			c.hub.mutex.RUnlock()
			continue
		}

		c.setParams(msg.Data.Normalize())
		select {
		case c.hub.refresh <- c:
		case <-c.hub.done:
			return
		}
	}
}

func (c *Client) writePump() {
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

			data, err := json.Marshal(message)
			if err != nil {
				c.logger.WithError(err).Error("Failed to marshal WebSocket message")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

func (h *Hub) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
