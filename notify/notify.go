// Package notify pushes real-time updates to connected users.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/huykn/region-cache/types"
)

// Event is one real-time update.
type Event struct {
	Type    string    `json:"type"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// Notifier delivers events to users. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, userIDs []string, event Event) error
}

// Nop discards every event.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, []string, Event) error { return nil }

// RedisNotifier publishes each event as JSON on a per-user pub/sub channel,
// <prefix><user id>, for the connection gateway to forward.
type RedisNotifier struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisNotifier creates a RedisNotifier. The client is not closed by it.
func NewRedisNotifier(client redis.UniversalClient, prefix string) *RedisNotifier {
	return &RedisNotifier{client: client, prefix: prefix}
}

// Channel returns the channel of userID.
func (n *RedisNotifier) Channel(userID string) string { return n.prefix + userID }

// Notify implements Notifier.
func (n *RedisNotifier) Notify(ctx context.Context, userIDs []string, event Event) error {
	if len(userIDs) == 0 {
		return nil
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	pipe := n.client.Pipeline()
	for _, id := range userIDs {
		pipe.Publish(ctx, n.Channel(id), data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: notify %s: %w", types.ErrRemoteUnavailable, event.Type, err)
	}
	return nil
}
