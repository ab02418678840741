package bus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// redisPubSub is grounded on DMRHub's internal/pubsub/redis.go, adapted to
// take a plain URL (this package has no config-file layer of its own; URL
// construction is pkg/config's job).
type redisPubSub struct {
	client *redis.Client
}

func newRedisPubSub(ctx context.Context, cfg BackendConfig) (*redisPubSub, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("bus: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("bus: instrument redis client: %w", err)
	}
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("bus: connect to redis: %w", err)
	}
	return &redisPubSub{client: client}, nil
}

func (ps *redisPubSub) Publish(topic string, message []byte) error {
	if err := ps.client.Publish(context.Background(), topic, message).Err(); err != nil {
		return fmt.Errorf("bus: publish to %s: %w", topic, err)
	}
	return nil
}

func (ps *redisPubSub) Subscribe(topic string) Subscription {
	sub := ps.client.Subscribe(context.Background(), topic)
	return &redisSubscription{ch: sub.Channel(), sub: sub}
}

func (ps *redisPubSub) Close() error {
	if err := ps.client.Close(); err != nil {
		return fmt.Errorf("bus: close redis client: %w", err)
	}
	return nil
}

type redisSubscription struct {
	ch  <-chan *redis.Message
	sub *redis.PubSub
}

func (s *redisSubscription) Close() error {
	if err := s.sub.Close(); err != nil {
		return fmt.Errorf("bus: close redis subscription: %w", err)
	}
	return nil
}

func (s *redisSubscription) Channel() <-chan []byte {
	out := make(chan []byte)
	go func() {
		defer close(out)
		for msg := range s.ch {
			out <- []byte(msg.Payload)
		}
	}()
	return out
}
