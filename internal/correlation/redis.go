package correlation

import (
	"context"
	"fmt"

	"github.com/auxilia-ai/auxilia/pkg/domain"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const channelPrefix = "correlation:"

// RedisChannel routes correlation messages over redis pub/sub so the process
// that receives an OAuth callback or an approval decision does not have to
// be the process that is waiting on it.
type RedisChannel struct {
	client *redis.Client
}

func NewRedisChannel(client *redis.Client) *RedisChannel {
	return &RedisChannel{client: client}
}

func (c *RedisChannel) Publish(ctx context.Context, token string, payload []byte) error {
	if err := c.client.Publish(ctx, channelPrefix+token, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish on correlation channel: %w", err)
	}
	return nil
}

func (c *RedisChannel) Subscribe(ctx context.Context, token string) (<-chan domain.CorrelationMessage, func(), error) {
	pubsub := c.client.Subscribe(ctx, channelPrefix+token)

	// Force the SUBSCRIBE onto the wire before the caller relies on it, so a
	// publish issued right after Subscribe returns is not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to correlation channel: %w", err)
	}

	out := make(chan domain.CorrelationMessage, 1)

	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			select {
			case out <- domain.CorrelationMessage{Token: token, Payload: []byte(msg.Payload)}:
			default:
			}
		}
	}()

	cancel := func() {
		if err := pubsub.Close(); err != nil {
			log.Warn().Err(err).Str("token", token).Msg("Failed to close correlation subscription")
		}
	}

	return out, cancel, nil
}
