package bus

import (
	"context"
	"testing"
	"time"
)

func TestMemoryBusPublishConsume(t *testing.T) {
	transport := newMemoryPubSub(BackendConfig{InboxSize: 8})
	b := New(transport)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Envelope, 1)
	go b.Consume(ctx, TopicSTTRequest, func(_ context.Context, env Envelope) error {
		received <- env
		return nil
	})

	time.Sleep(10 * time.Millisecond) // let Subscribe register before Publish
	env := NewEnvelope(TopicSTTRequest, "call-1", "corr-1", map[string]string{"text": "hi"})
	if err := b.Publish(ctx, env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-received:
		if got.CallID != "call-1" || got.CorrelationID != "corr-1" {
			t.Fatalf("unexpected envelope: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for consumed envelope")
	}
}

func TestMemoryBusDropsOldestOnFullInbox(t *testing.T) {
	transport := newMemoryPubSub(BackendConfig{InboxSize: 1})
	sub := transport.Subscribe("topic")

	transport.Publish("topic", []byte("first"))
	transport.Publish("topic", []byte("second"))

	got := <-sub.Channel()
	if string(got) != "second" {
		t.Fatalf("expected oldest to be dropped, got %q", got)
	}
}
