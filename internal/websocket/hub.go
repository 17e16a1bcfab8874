package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rzzdr/euro-option-pricer/internal/kafka"
	"github.com/rzzdr/euro-option-pricer/pkg/models"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/logger"
)

// AllTickers subscribes a client to every priced result
const AllTickers = "*"

// Hub streams priced results to subscribed WebSocket clients. It satisfies
// kafka.ResultPublisher so it can sit next to the Kafka publisher on a
// pipeline.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan envelope
	direct     chan envelope
	register   chan *Client
	unregister chan *Client
	counts     chan chan int
	done       chan struct{}
	log        *logger.Logger
}

// Client is a middleman between the websocket connection and the hub
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	id      string
	tickers map[string]bool
	mu      sync.RWMutex
}

// Message represents a WebSocket message
type Message struct {
	Type   string      `json:"type"`
	Ticker string      `json:"ticker,omitempty"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
	ID     string      `json:"id,omitempty"`
}

// Subscription request message
type SubscriptionMessage struct {
	Type    string   `json:"type"`
	Tickers []string `json:"tickers"`
	ID      string   `json:"id,omitempty"`
}

// envelope carries encoded data either to one client or to every client
// subscribed to ticker
type envelope struct {
	client *Client
	ticker string
	data   []byte
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 1024

	sendBuffer = 64
)

// NewHub creates a new results hub. Run must be started before clients connect.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, 256),
		direct:     make(chan envelope, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		counts:     make(chan chan int),
		done:       make(chan struct{}),
		log:        logger.GetLogger("websocket.hub"),
	}
}

// Run owns the client set until ctx is done, then disconnects everyone
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	h.log.Info("Starting results hub")

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			h.log.Info("Results hub shutting down")
			return

		case client := <-h.register:
			h.clients[client] = true
			h.log.Infof("Client %s registered", client.id)

		case client := <-h.unregister:
			if h.clients[client] {
				h.drop(client)
				h.log.Infof("Client %s unregistered", client.id)
			}

		case reply := <-h.counts:
			reply <- len(h.clients)

		case msg := <-h.direct:
			if h.clients[msg.client] {
				h.deliver(msg.client, msg.data)
			}

		case msg := <-h.broadcast:
			for client := range h.clients {
				if client.wants(msg.ticker) {
					h.deliver(client, msg.data)
				}
			}
		}
	}
}

// deliver queues data for client, dropping clients that cannot keep up
func (h *Hub) deliver(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		h.log.Warnf("Client %s is too slow, disconnecting", client.id)
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
}

// Publish broadcasts a result summary to clients subscribed to its ticker.
// It never blocks a pricing run: when the hub is saturated the update is
// dropped.
func (h *Hub) Publish(ctx context.Context, result *models.PricingResult) error {
	data, err := json.Marshal(Message{
		Type:   "pricing_result",
		Ticker: result.Ticker,
		Data:   kafka.Summary(result),
		ID:     result.RequestID,
	})
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- envelope{ticker: result.Ticker, data: data}:
	case <-h.done:
	case <-ctx.Done():
		return ctx.Err()
	default:
		h.log.Warnf("Results hub saturated, dropping update for %s", result.Ticker)
	}
	return nil
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	reply := make(chan int, 1)
	select {
	case h.counts <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

// HandleWebSocket upgrades the connection and attaches a client to the hub
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &Client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		id:      uuid.NewString(),
		tickers: make(map[string]bool),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump pumps messages from the websocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
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
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Errorf("WebSocket error: %v", err)
			}
			return
		}
		c.handleMessage(data)
	}
}

// writePump pumps messages from the hub to the websocket connection
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

// handleMessage handles incoming messages from the client
func (c *Client) handleMessage(data []byte) {
	var msg SubscriptionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply(Message{Type: "error", Error: "invalid message format"})
		return
	}

	switch msg.Type {
	case "subscribe":
		tickers := c.update(msg.Tickers, true)
		c.reply(Message{Type: "subscription_confirmed", Data: map[string]interface{}{"tickers": tickers}, ID: msg.ID})
	case "unsubscribe":
		tickers := c.update(msg.Tickers, false)
		c.reply(Message{Type: "unsubscription_confirmed", Data: map[string]interface{}{"tickers": tickers}, ID: msg.ID})
	case "ping":
		c.reply(Message{Type: "pong", ID: msg.ID})
	default:
		c.reply(Message{Type: "error", Error: "unknown message type", ID: msg.ID})
	}
}

// update adds or removes tickers and returns the normalised names
func (c *Client) update(tickers []string, subscribe bool) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(tickers))
	for _, t := range tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if subscribe {
			c.tickers[t] = true
		} else {
			delete(c.tickers, t)
		}
		names = append(names, t)
	}
	return names
}

func (c *Client) wants(ticker string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tickers[AllTickers] || c.tickers[ticker]
}

// reply routes a message to this client through the hub, which owns the
// send channel
func (c *Client) reply(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.hub.log.Errorf("Failed to marshal message: %v", err)
		return
	}
	select {
	case c.hub.direct <- envelope{client: c, data: data}:
	case <-c.hub.done:
	}
}
