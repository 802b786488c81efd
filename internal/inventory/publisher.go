package inventory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultEventChannel is the pub/sub channel movement events go to when none
// is configured.
const DefaultEventChannel = "stockledger.movements"

// RedisPublisher publishes movement events as JSON on a redis channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher constructs the publisher.
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultEventChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Publish implements EventSink.
func (p *RedisPublisher) Publish(ctx context.Context, evt MovementEvent) error {
	if p == nil || p.client == nil {
		return nil
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("inventory: encode event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("inventory: publish event: %w", err)
	}
	return nil
}
