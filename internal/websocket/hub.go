/**
 * @description
 * This file defines the WebSocket `Hub`, which acts as a central manager for all active
 * client connections. It orchestrates client registration, unregistration, and the
 * fan-out of ledger events to the clients watching a document.
 *
 * Key features:
 * - Connection Management: Maintains a registry of all connected clients.
 * - Channel-based Communication: Uses channels for concurrent and safe handling of
 *   client registrations, unregistrations, subscriptions and messages.
 * - Document Subscriptions: Manages which clients are subscribed to which document's
 *   proof events (or to schema events under the "schemas" topic).
 * - Event Sources: In a single process the hub is itself an `events.Sink`. With Redis,
 *   the hub listens on the `proofs:<topic>` channels instead, so every replica sees every
 *   event.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: The Redis client library.
 * - log/slog: For structured logging.
 *
 * @notes
 * - The `Run` method is the heart of the hub, running in a continuous loop to process
 *   events from all channels. It should be started as a goroutine when the application launches.
 */

package websocket

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/daosign/proofs/internal/events"
)

// subscription represents a client's subscription to a specific topic.
type subscription struct {
	client *Client
	topic  string
}

// message is a payload for the subscribers of one topic.
type message struct {
	topic   string
	payload []byte
}

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool
	// Register requests from the clients.
	Register chan *Client
	// Unregister requests from clients.
	Unregister chan *Client
	// Subscription requests from clients.
	Subscribe chan subscription
	// Unsubscription requests from clients.
	Unsubscribe chan subscription
	// Messages to fan out.
	broadcast chan message
	// Map of topic to a set of subscribed clients.
	subscriptions map[string]map[*Client]bool
	// Running Redis listeners, by topic.
	listeners map[string]context.CancelFunc
	// Redis client for Pub/Sub. Nil means events arrive through Publish.
	redisClient *redis.Client
	logger      *slog.Logger
	ctx         context.Context
}

// NewHub creates a new Hub instance. redisClient may be nil.
func NewHub(ctx context.Context, logger *slog.Logger, redisClient *redis.Client) *Hub {
	return &Hub{
		clients:       make(map[*Client]bool),
		Register:      make(chan *Client),
		Unregister:    make(chan *Client),
		Subscribe:     make(chan subscription),
		Unsubscribe:   make(chan subscription),
		broadcast:     make(chan message, 256),
		subscriptions: make(map[string]map[*Client]bool),
		listeners:     make(map[string]context.CancelFunc),
		redisClient:   redisClient,
		logger:        logger,
		ctx:           ctx,
	}
}

// Run starts the hub's event loop. It should be run in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("hub shutting down")
			for client := range h.clients {
				close(client.Send)
				delete(h.clients, client)
			}
			for topic, cancel := range h.listeners {
				cancel()
				delete(h.listeners, topic)
			}
			return
		case client := <-h.Register:
			h.clients[client] = true
			h.logger.Info("hub: new client registered", "remote_addr", client.remoteAddr(), "total_clients", len(h.clients))
		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				for topic := range client.Subscriptions {
					h.removeSubscriber(topic, client)
				}
				delete(h.clients, client)
				close(client.Send)
				h.logger.Info("client unregistered", "remote_addr", client.remoteAddr())
			}
		case sub := <-h.Subscribe:
			if !h.clients[sub.client] {
				// Dropped as a slow consumer; its Send channel is closed.
				continue
			}
			if _, ok := h.subscriptions[sub.topic]; !ok {
				h.subscriptions[sub.topic] = make(map[*Client]bool)
				if h.redisClient != nil {
					ctx, cancel := context.WithCancel(h.ctx)
					h.listeners[sub.topic] = cancel
					h.logger.Info("hub: first subscription to topic, starting Redis listener", "topic", sub.topic, "redis_channel", events.Channel(sub.topic))
					go h.listen(ctx, sub.topic)
				}
			}
			h.subscriptions[sub.topic][sub.client] = true
			h.logger.Info("hub: client subscribed", "topic", sub.topic, "client", sub.client.remoteAddr(), "total_clients_for_topic", len(h.subscriptions[sub.topic]))
		case sub := <-h.Unsubscribe:
			h.removeSubscriber(sub.topic, sub.client)
			h.logger.Info("client unsubscribed", "topic", sub.topic, "client", sub.client.remoteAddr())
		case msg := <-h.broadcast:
			h.broadcastToTopic(msg.topic, msg.payload)
		}
	}
}

// RegisterClient hands c to the event loop. It reports false once the hub has stopped.
func (h *Hub) RegisterClient(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// unregister hands c to the event loop, or returns once the hub has stopped and no
// longer reads its channels.
func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.ctx.Done():
	}
}

// request sends a subscription change unless the hub has stopped.
func (h *Hub) request(ch chan<- subscription, sub subscription) {
	select {
	case ch <- sub:
	case <-h.ctx.Done():
	}
}

func (h *Hub) removeSubscriber(topic string, client *Client) {
	subs, ok := h.subscriptions[topic]
	if !ok {
		return
	}
	delete(subs, client)
	if len(subs) == 0 {
		delete(h.subscriptions, topic)
		if cancel, ok := h.listeners[topic]; ok {
			cancel()
			delete(h.listeners, topic)
		}
	}
}

// Publish queues ev for the clients subscribed to its topic. It makes the hub an
// events.Sink for single-process deployments.
func (h *Hub) Publish(ctx context.Context, ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return h.enqueue(ctx, ev.Topic(), payload)
}

func (h *Hub) enqueue(ctx context.Context, topic string, payload []byte) error {
	select {
	case h.broadcast <- message{topic: topic, payload: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.ctx.Done():
		return h.ctx.Err()
	}
}

// listen relays a topic's Redis channel into the hub until ctx is cancelled.
func (h *Hub) listen(ctx context.Context, topic string) {
	err := events.Subscribe(ctx, h.redisClient, topic, func(payload []byte) {
		if err := h.enqueue(ctx, topic, payload); err != nil {
			h.logger.Debug("dropping relayed event", "topic", topic, "error", err)
		}
	})
	if err != nil && ctx.Err() == nil {
		h.logger.Error("redis listener stopped", "topic", topic, "error", err)
		return
	}
	h.logger.Info("stopping redis listener for topic", "topic", topic)
}

// broadcastToTopic sends a message to all clients subscribed to a topic.
func (h *Hub) broadcastToTopic(topic string, payload []byte) {
	subs, ok := h.subscriptions[topic]
	if !ok {
		h.logger.Debug("hub: no clients subscribed to topic", "topic", topic)
		return
	}
	for client := range subs {
		select {
		case client.Send <- payload:
		default:
			// If the client's send buffer is full, assume it's slow or disconnected.
			h.logger.Warn("client send buffer full, unregistering", "topic", topic, "client", client.remoteAddr())
			for t, others := range h.subscriptions {
				if t != topic && others[client] {
					h.removeSubscriber(t, client)
				}
			}
			delete(subs, client)
			delete(h.clients, client)
			close(client.Send)
		}
	}
	if len(subs) == 0 {
		h.removeSubscriber(topic, nil)
	}
}
