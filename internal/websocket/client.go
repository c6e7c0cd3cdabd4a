/**
 * @description
 * This file defines the `Client` struct, which represents a single WebSocket connection
 * to the server. It manages the lifecycle of the connection, including reading incoming
 * subscription requests and writing outgoing ledger events.
 *
 * Key features:
 * - Connection Management: Wraps a `gorilla/websocket` connection.
 * - Concurrency: Uses channels and goroutines for non-blocking read and write operations.
 * - Subscription Handling: Maintains the set of documents the client watches.
 * - Graceful Shutdown: The read and write pumps clean up and unregister the client when
 *   the connection is closed.
 *
 * @dependencies
 * - github.com/gorilla/websocket: The WebSocket library used for connection handling.
 * - log/slog: For structured logging.
 */

package websocket

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	Hub           *Hub
	Conn          *websocket.Conn
	Send          chan []byte
	Subscriptions map[string]bool
	Logger        *slog.Logger
}

// NewClient wraps an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		Hub:           hub,
		Conn:          conn,
		Send:          make(chan []byte, 256),
		Subscriptions: make(map[string]bool),
		Logger:        logger,
	}
}

// subscriptionMessage is a subscription request, e.g.
// {"action":"subscribe","document":"Qm..."} or {"action":"unsubscribe","documents":["Qm..."]}.
type subscriptionMessage struct {
	Action    string   `json:"action"`
	Document  string   `json:"document"`
	Documents []string `json:"documents"`
}

func (m subscriptionMessage) topics() []string {
	out := m.Documents
	if m.Document != "" {
		out = append([]string{m.Document}, out...)
	}
	return out
}

func (c *Client) remoteAddr() string {
	if c.Conn == nil {
		return ""
	}
	return c.Conn.RemoteAddr().String()
}

// ReadPump pumps messages from the websocket connection to the hub.
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Logger.Error("unexpected websocket close error", "error", err)
			}
			break
		}
		c.handleMessage(message)
	}
}

// handleMessage processes incoming subscription requests.
func (c *Client) handleMessage(message []byte) {
	var msg subscriptionMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.Logger.Warn("client: failed to unmarshal message", "error", err, "remote_addr", c.remoteAddr())
		return
	}

	switch msg.Action {
	case "subscribe":
		for _, topic := range msg.topics() {
			if topic == "" || c.Subscriptions[topic] {
				continue
			}
			c.Subscriptions[topic] = true
			c.Hub.request(c.Hub.Subscribe, subscription{client: c, topic: topic})
		}
	case "unsubscribe":
		for _, topic := range msg.topics() {
			if c.Subscriptions[topic] {
				delete(c.Subscriptions, topic)
				c.Hub.request(c.Hub.Unsubscribe, subscription{client: c, topic: topic})
			}
		}
	default:
		c.Logger.Warn("received unknown message action from client", "action", msg.Action)
	}
}

// WritePump pumps messages from the hub to the websocket connection.
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One event per frame; clients parse each frame as a single JSON document.
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Logger.Error("failed to write websocket message", "error", err)
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
