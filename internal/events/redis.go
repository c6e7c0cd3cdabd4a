/**
 * @description
 * This file publishes ledger events to Redis so every API replica's WebSocket hub can fan
 * them out to its own subscribers.
 *
 * Key features:
 * - Redis Publishing: Each event is published as JSON on the channel of its topic,
 *   `proofs:<fileCID>` for proof events and `proofs:schemas` for registry events.
 * - Subscription: `Subscribe` streams decoded events from one topic until the context ends.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: The Redis client library.
 * - log/slog: For structured logging.
 */

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// ChannelPrefix prefixes every Redis channel used for events.
const ChannelPrefix = "proofs:"

// Channel returns the Redis channel for a topic.
func Channel(topic string) string {
	return ChannelPrefix + topic
}

// RedisPublisher publishes events with PUBLISH.
type RedisPublisher struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisPublisher creates a publisher on an existing client.
func NewRedisPublisher(client *redis.Client, logger *slog.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, logger: logger}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	channel := Channel(ev.Topic())
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		p.logger.Error("failed to publish event to redis", "error", err, "channel", channel)
		return fmt.Errorf("publish to %s: %w", channel, err)
	}

	p.logger.Debug("published event", "channel", channel, "type", ev.Type, "event_id", ev.ID)
	return nil
}

/**
 * @description
 * Subscribe listens on the channel of a topic and calls handle with every raw payload.
 * It blocks until ctx is cancelled or the subscription channel closes.
 *
 * @param ctx Controls the lifetime of the subscription.
 * @param client The Redis client.
 * @param topic The document CID or SchemaTopic.
 * @param handle Receives the JSON payload of each event.
 */
func Subscribe(ctx context.Context, client *redis.Client, topic string, handle func([]byte)) error {
	pubsub := client.Subscribe(ctx, Channel(topic))
	defer pubsub.Close()

	// Wait for the subscription confirmation so no event published afterwards is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", Channel(topic), err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			handle([]byte(msg.Payload))
		}
	}
}
