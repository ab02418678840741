package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lokutor-ai/voicebridge/pkg/bus"
	"github.com/lokutor-ai/voicebridge/pkg/orchestrator"
)

type stubLLM struct {
	name  string
	text  string
	usage orchestrator.Usage
	err   error
}

func (s *stubLLM) Complete(ctx context.Context, messages []orchestrator.Message, maxTokens int, temperature float64) (string, orchestrator.Usage, error) {
	if s.err != nil {
		return "", orchestrator.Usage{}, s.err
	}
	return s.text, s.usage, nil
}

func (s *stubLLM) Name() string { return s.name }

func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	transport, err := bus.MakePubSub(context.Background(), bus.BackendConfig{})
	if err != nil {
		t.Fatalf("make pubsub: %v", err)
	}
	return bus.New(transport)
}

func collect(ctx context.Context, b *bus.Bus, topic bus.Topic) <-chan bus.Envelope {
	out := make(chan bus.Envelope, 8)
	go b.Consume(ctx, topic, func(_ context.Context, env bus.Envelope) error {
		out <- env
		return nil
	})
	return out
}

func TestWorkerRespondsFromPrimary(t *testing.T) {
	b := newTestBus(t)
	primary := &stubLLM{name: "primary", text: "hi", usage: orchestrator.Usage{PromptTokens: 3, CompletionTokens: 2}}
	w := New(b, primary, nil, time.Second, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	responses := collect(ctx, b, bus.TopicLLMResponse)

	req := RequestPayload{CallID: "c1", CorrelationID: "r1", Messages: []orchestrator.Message{{Role: "user", Content: "hey"}}, MaxTokens: 64, Temperature: 0.5}
	if err := b.Publish(ctx, bus.NewEnvelope(bus.TopicLLMRequest, req.CallID, req.CorrelationID, req)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case env := <-responses:
		var resp ResponsePayload
		if err := bus.DecodePayload(env, &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Text != "hi" || resp.PromptTokens != 3 || resp.CompletionTokens != 2 {
			t.Fatalf("unexpected response: %+v", resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for llm.response")
	}
}

func TestWorkerFallsBackOnPrimaryFailure(t *testing.T) {
	b := newTestBus(t)
	primary := &stubLLM{name: "primary", err: errors.New("down")}
	fallback := &stubLLM{name: "fallback", text: "fallback reply"}
	w := New(b, primary, fallback, time.Second, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	responses := collect(ctx, b, bus.TopicLLMResponse)

	req := RequestPayload{CallID: "c2", CorrelationID: "r2", Messages: []orchestrator.Message{{Role: "user", Content: "hey"}}}
	if err := b.Publish(ctx, bus.NewEnvelope(bus.TopicLLMRequest, req.CallID, req.CorrelationID, req)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case env := <-responses:
		var resp ResponsePayload
		if err := bus.DecodePayload(env, &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Text != "fallback reply" {
			t.Fatalf("expected fallback text, got %+v", resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for llm.response")
	}
}

func TestWorkerPublishesErrorWhenBothFail(t *testing.T) {
	b := newTestBus(t)
	primary := &stubLLM{name: "primary", err: errors.New("down")}
	fallback := &stubLLM{name: "fallback", err: errors.New("also down")}
	w := New(b, primary, fallback, time.Second, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	errs := collect(ctx, b, bus.TopicLLMError)

	req := RequestPayload{CallID: "c3", CorrelationID: "r3"}
	if err := b.Publish(ctx, bus.NewEnvelope(bus.TopicLLMRequest, req.CallID, req.CorrelationID, req)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case env := <-errs:
		var errPayload ErrorPayload
		if err := bus.DecodePayload(env, &errPayload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if errPayload.Reason == "" {
			t.Fatalf("expected non-empty reason, got %+v", errPayload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for llm.error")
	}
}

func TestWorkerDropsCancelledResponse(t *testing.T) {
	b := newTestBus(t)
	primary := &stubLLM{name: "primary", text: "late reply"}
	w := New(b, primary, nil, time.Second, 1)
	w.cancelled[turnKey("c4", "r4")] = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	responses := collect(ctx, b, bus.TopicLLMResponse)

	req := RequestPayload{CallID: "c4", CorrelationID: "r4"}
	env := bus.NewEnvelope(bus.TopicLLMRequest, req.CallID, req.CorrelationID, req)
	if err := w.handleRequest(ctx, env); err != nil {
		t.Fatalf("handleRequest: %v", err)
	}

	select {
	case env := <-responses:
		t.Fatalf("expected no response for a cancelled turn, got %+v", env)
	case <-time.After(200 * time.Millisecond):
	}
}
