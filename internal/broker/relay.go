package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	englylog "github.com/engly817chat/engly-client/internal/log"
)

// Relay shares topic deliveries between hub instances.
type Relay interface {
	// Publish forwards a topic body to the other instances.
	Publish(ctx context.Context, topic string, body []byte) error
	// Subscribe calls handler for bodies published by other instances and
	// blocks until ctx is done.
	Subscribe(ctx context.Context, handler func(topic string, body []byte)) error
}

type relayMessage struct {
	Origin string          `json:"origin"`
	Topic  string          `json:"topic"`
	Body   json.RawMessage `json:"body"`
}

// RedisRelay is a Relay over a single Redis pub/sub channel. Each instance
// tags what it publishes and skips its own messages.
type RedisRelay struct {
	client  redis.UniversalClient
	channel string
	origin  string
	log     *zerolog.Logger
}

var _ Relay = (*RedisRelay)(nil)

// NewRedisRelay builds a relay on channel.
func NewRedisRelay(client redis.UniversalClient, channel string, logger *zerolog.Logger) *RedisRelay {
	l := englylog.OrNop(logger).With().Str("component", "relay").Str("channel", channel).Logger()
	return &RedisRelay{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		log:     &l,
	}
}

// Publish implements Relay.
func (r *RedisRelay) Publish(ctx context.Context, topic string, body []byte) error {
	data, err := json.Marshal(relayMessage{Origin: r.origin, Topic: topic, Body: body})
	if err != nil {
		return fmt.Errorf("marshal relay message: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe implements Relay.
func (r *RedisRelay) Subscribe(ctx context.Context, handler func(topic string, body []byte)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	r.log.Info().Msg("relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			topic, body, ok := r.decode(msg.Payload)
			if !ok {
				continue
			}
			handler(topic, body)
		}
	}
}

// decode returns the topic and body of a message from another instance.
func (r *RedisRelay) decode(payload string) (string, []byte, bool) {
	var m relayMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		r.log.Warn().Err(err).Msg("dropping malformed relay message")
		return "", nil, false
	}
	if m.Origin == r.origin || m.Topic == "" {
		return "", nil, false
	}
	return m.Topic, m.Body, true
}
