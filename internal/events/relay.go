package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/subbot-linker/internal/model"
	redisclient "github.com/openclaw/subbot-linker/internal/redis"
)

// RedisRelay publishes events as JSON on the session's pub/sub channel so
// other replicas and external consumers can follow a session.
type RedisRelay struct {
	redis *redisclient.Client
}

var _ Relay = (*RedisRelay)(nil)

func NewRedisRelay(client *redisclient.Client) *RedisRelay {
	return &RedisRelay{redis: client}
}

func (r *RedisRelay) Relay(ctx context.Context, event model.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return r.redis.Publish(ctx, redisclient.LinkingChannel(event.SessionID), data).Err()
}

// Follow streams events relayed for sessionID into handler until ctx ends.
func (r *RedisRelay) Follow(ctx context.Context, sessionID string, handler Handler) error {
	channel := redisclient.LinkingChannel(sessionID)
	pubsub := r.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event model.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Str("channel", channel).Msg("failed to unmarshal relayed event")
				continue
			}
			if err := handler(event); err != nil {
				return err
			}
		}
	}
}
