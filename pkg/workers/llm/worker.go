// Package llm runs the LLM model-service worker: a bus subscriber that
// wraps an orchestrator.LLMProvider, with primary→fallback failover and
// optional streaming partials (spec §4.6 "LLM worker").
package llm

import (
	"context"
	"sync"
	"time"

	"github.com/lokutor-ai/voicebridge/pkg/bus"
	"github.com/lokutor-ai/voicebridge/pkg/orchestrator"
	"github.com/lokutor-ai/voicebridge/pkg/workers"
)

// RequestPayload is the llm.request payload shape (spec §6: "{call_id,
// messages, max_tokens, temperature}").
type RequestPayload struct {
	CallID        string                 `json:"call_id"`
	CorrelationID string                 `json:"correlation_id"`
	Messages      []orchestrator.Message `json:"messages"`
	MaxTokens     int                    `json:"max_tokens"`
	Temperature   float64                `json:"temperature"`
}

// ResponsePayload is the llm.response / llm.response.partial payload.
type ResponsePayload struct {
	CallID           string `json:"call_id"`
	CorrelationID    string `json:"correlation_id"`
	Text             string `json:"text"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

// ErrorPayload is the llm.error payload published when both primary and
// fallback models fail.
type ErrorPayload struct {
	CallID        string `json:"call_id"`
	CorrelationID string `json:"correlation_id"`
	Reason        string `json:"reason"`
}

// CancelPayload is the llm.cancel payload.
type CancelPayload struct {
	CallID        string `json:"call_id"`
	CorrelationID string `json:"correlation_id"`
}

const healthInterval = 15 * time.Second

// Worker consumes llm.request, invoking primary then fallback on failure,
// and honors llm.cancel for the matching call/correlation pair.
type Worker struct {
	bus       *bus.Bus
	primary   orchestrator.LLMProvider
	fallback  orchestrator.LLMProvider // nil if none configured
	timeout   time.Duration
	sem       workers.Semaphore
	lat       *workers.LatencyTracker
	startedAt time.Time

	mu        sync.Mutex
	cancelled map[string]bool // "call_id/correlation_id" -> cancelled
}

// New builds an LLM worker. fallback may be nil.
func New(b *bus.Bus, primary, fallback orchestrator.LLMProvider, timeout time.Duration, parallelism int) *Worker {
	if parallelism <= 0 {
		parallelism = 4
	}
	return &Worker{
		bus:       b,
		primary:   primary,
		fallback:  fallback,
		timeout:   timeout,
		sem:       workers.NewSemaphore(parallelism),
		lat:       workers.NewLatencyTracker(),
		startedAt: time.Now(),
		cancelled: make(map[string]bool),
	}
}

func turnKey(callID, correlationID string) string {
	return callID + "/" + correlationID
}

// Run consumes llm.request and llm.cancel, and publishes periodic health,
// until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	go workers.PublishHealth(ctx, w.bus, bus.TopicHealthLLM, w.startedAt, w.sem.Depth, w.lat, healthInterval)
	go w.bus.Consume(ctx, bus.TopicLLMCancel, w.handleCancel)
	return w.bus.Consume(ctx, bus.TopicLLMRequest, w.handleRequest)
}

func (w *Worker) handleCancel(_ context.Context, env bus.Envelope) error {
	var c CancelPayload
	if err := bus.DecodePayload(env, &c); err != nil {
		return err
	}
	w.mu.Lock()
	w.cancelled[turnKey(c.CallID, c.CorrelationID)] = true
	w.mu.Unlock()
	return nil
}

func (w *Worker) isCancelled(callID, correlationID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancelled[turnKey(callID, correlationID)]
}

func (w *Worker) clearCancelled(callID, correlationID string) {
	w.mu.Lock()
	delete(w.cancelled, turnKey(callID, correlationID))
	w.mu.Unlock()
}

// complete invokes provider, streaming llm.response.partial events as they
// arrive when the provider implements StreamingLLMProvider (spec §4.6).
func (w *Worker) complete(ctx context.Context, provider orchestrator.LLMProvider, req RequestPayload) (string, orchestrator.Usage, error) {
	streaming, ok := provider.(orchestrator.StreamingLLMProvider)
	if !ok {
		return provider.Complete(ctx, req.Messages, req.MaxTokens, req.Temperature)
	}
	return streaming.StreamComplete(ctx, req.Messages, req.MaxTokens, req.Temperature, func(partial string) error {
		return w.bus.Publish(ctx, bus.NewEnvelope(bus.TopicLLMPartial, req.CallID, req.CorrelationID, ResponsePayload{
			CallID:        req.CallID,
			CorrelationID: req.CorrelationID,
			Text:          partial,
		}))
	})
}

func (w *Worker) handleRequest(ctx context.Context, env bus.Envelope) error {
	var req RequestPayload
	if err := bus.DecodePayload(env, &req); err != nil {
		return err
	}
	defer w.clearCancelled(req.CallID, req.CorrelationID)

	if err := w.sem.Acquire(ctx); err != nil {
		return err
	}
	defer w.sem.Release()

	reqCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := time.Now()
	text, usage, err := w.complete(reqCtx, w.primary, req)
	if err != nil && w.fallback != nil {
		text, usage, err = w.complete(reqCtx, w.fallback, req)
	}
	w.lat.Record(time.Since(start), err != nil)

	if w.isCancelled(req.CallID, req.CorrelationID) {
		// a late reply to a turn the orchestrator already abandoned;
		// discard rather than publish (spec §5 cancellation semantics).
		return nil
	}

	if err != nil {
		return w.bus.Publish(ctx, bus.NewEnvelope(bus.TopicLLMError, req.CallID, req.CorrelationID, ErrorPayload{
			CallID:        req.CallID,
			CorrelationID: req.CorrelationID,
			Reason:        err.Error(),
		}))
	}

	resp := ResponsePayload{
		CallID:           req.CallID,
		CorrelationID:    req.CorrelationID,
		Text:             text,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
	}
	return w.bus.Publish(ctx, bus.NewEnvelope(bus.TopicLLMResponse, req.CallID, req.CorrelationID, resp))
}
