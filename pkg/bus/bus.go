package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Bus is the typed envelope layer over a raw PubSub transport. It owns
// retry-with-backoff on publish (spec §7: base 1s, factor 2, max 3
// attempts within a 5s total window) and per-subscriber consumption in a
// single goroutine to preserve ordering within (topic, call_id) (spec
// §4.7/§5).
type Bus struct {
	transport PubSub
}

// New wraps a raw transport.
func New(transport PubSub) *Bus {
	return &Bus{transport: transport}
}

// Publish serializes and publishes an envelope, retrying transient
// failures with exponential backoff.
func (b *Bus) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("bus: marshal envelope: %w", err)
	}

	backoff := time.Second
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if lastErr = b.transport.Publish(string(env.Topic), data); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("bus: publish failed after retries: %w", lastErr)
}

// Handler processes one envelope. Returning an error does not stop
// consumption; the caller is expected to log/count it.
type Handler func(context.Context, Envelope) error

// Consume subscribes to topic and runs handler for every envelope in a
// single goroutine, preserving delivery order for that subscription.
// Envelopes with an unrecognized major schema version are dropped rather
// than passed to handler. Consume blocks until ctx is cancelled.
func (b *Bus) Consume(ctx context.Context, topic Topic, handler Handler) error {
	sub := b.transport.Subscribe(string(topic))
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-sub.Channel():
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				continue
			}
			if env.SchemaVersion > SchemaVersion {
				continue
			}
			_ = handler(ctx, env)
		}
	}
}
