package bus

import "context"

// PubSub is the raw byte-message transport, generalized from DMRHub's
// internal/pubsub package. Backend selection (memory vs Redis) happens at
// construction; everything above this interface works in terms of typed
// Envelopes (see bus.go).
type PubSub interface {
	Publish(topic string, message []byte) error
	Subscribe(topic string) Subscription
	Close() error
}

// Subscription is one consumer's view of a topic.
type Subscription interface {
	Close() error
	Channel() <-chan []byte
}

// BackendConfig selects and configures a PubSub backend.
type BackendConfig struct {
	UseRedis bool
	RedisURL string
	// InboxSize bounds each subscriber's buffered channel (spec §4.7:
	// "each subscriber has a bounded inbox").
	InboxSize int
}

// MakePubSub constructs a backend per config, mirroring DMRHub's
// MakePubSub factory shape (Redis when configured, otherwise in-memory).
func MakePubSub(ctx context.Context, cfg BackendConfig) (PubSub, error) {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 256
	}
	if cfg.UseRedis {
		return newRedisPubSub(ctx, cfg)
	}
	return newMemoryPubSub(cfg), nil
}
