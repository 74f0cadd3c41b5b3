package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/servimap/servimap/internal/app/domain/notification"
	"github.com/servimap/servimap/pkg/logger"
)

// ChannelPrefix namespaces per-user pub/sub channels.
const ChannelPrefix = "servimap:notifications:"

// RedisBroker fans notifications out across API replicas with Redis
// PUBLISH/SUBSCRIBE.
type RedisBroker struct {
	client *redis.Client
	log    *logger.Logger
}

var _ Broker = (*RedisBroker)(nil)

// NewRedisBroker wraps an existing client.
func NewRedisBroker(client *redis.Client, log *logger.Logger) *RedisBroker {
	if log == nil {
		log = logger.NewDefault("notifications-redis")
	}
	return &RedisBroker{client: client, log: log}
}

func channel(userID string) string {
	return ChannelPrefix + userID
}

func (b *RedisBroker) Publish(ctx context.Context, n notification.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return b.client.Publish(ctx, channel(n.UserID), payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, userID string) (<-chan notification.Notification, error) {
	pubsub := b.client.Subscribe(ctx, channel(userID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel(userID), err)
	}

	out := make(chan notification.Notification, defaultSubscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var n notification.Notification
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					b.log.WithError(err).WithField("channel", msg.Channel).Warn("discarding malformed notification")
					continue
				}
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
