// Package stt runs the STT model-service worker: a bus subscriber that
// wraps an orchestrator.STTProvider (spec §4.6 "STT worker").
package stt

import (
	"context"
	"time"

	"github.com/lokutor-ai/voicebridge/pkg/bus"
	"github.com/lokutor-ai/voicebridge/pkg/orchestrator"
	"github.com/lokutor-ai/voicebridge/pkg/workers"
)

// RequestPayload is the stt.request payload shape (spec §4.5/§4.6).
type RequestPayload struct {
	CallID        string `json:"call_id"`
	AudioBytes    []byte `json:"audio_bytes"`
	SampleRate    int    `json:"sample_rate"`
	CorrelationID string `json:"correlation_id"`
	Language      string `json:"language,omitempty"`
}

// ResultPayload is the stt.result payload shape.
type ResultPayload struct {
	CallID        string  `json:"call_id"`
	CorrelationID string  `json:"correlation_id"`
	Text          string  `json:"text"`
	Confidence    float64 `json:"confidence"`
	IsFinal       bool    `json:"is_final"`
}

const healthInterval = 15 * time.Second

// Worker consumes stt.request and publishes stt.result. Per spec.md §4.6,
// a single STT request is never auto-retried — retry would change turn
// semantics, so backend failures surface as an empty-text final result.
type Worker struct {
	bus        *bus.Bus
	backend    orchestrator.STTProvider
	timeout    time.Duration
	sem        workers.Semaphore
	lat        *workers.LatencyTracker
	startedAt  time.Time
}

// New builds an STT worker with the given backend and bounded parallelism
// (default 4 per spec §5).
func New(b *bus.Bus, backend orchestrator.STTProvider, timeout time.Duration, parallelism int) *Worker {
	if parallelism <= 0 {
		parallelism = 4
	}
	return &Worker{
		bus:       b,
		backend:   backend,
		timeout:   timeout,
		sem:       workers.NewSemaphore(parallelism),
		lat:       workers.NewLatencyTracker(),
		startedAt: time.Now(),
	}
}

// Run consumes requests and publishes periodic health until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	go workers.PublishHealth(ctx, w.bus, bus.TopicHealthSTT, w.startedAt, w.sem.Depth, w.lat, healthInterval)
	return w.bus.Consume(ctx, bus.TopicSTTRequest, w.handle)
}

func (w *Worker) handle(ctx context.Context, env bus.Envelope) error {
	var req RequestPayload
	if err := bus.DecodePayload(env, &req); err != nil {
		return err
	}

	if err := w.sem.Acquire(ctx); err != nil {
		return err
	}
	defer w.sem.Release()

	reqCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := time.Now()
	text, err := w.backend.Transcribe(reqCtx, req.AudioBytes, orchestrator.Language(req.Language))
	failed := err != nil
	w.lat.Record(time.Since(start), failed)

	result := ResultPayload{
		CallID:        req.CallID,
		CorrelationID: req.CorrelationID,
		IsFinal:       true,
	}
	if !failed {
		result.Text = text
		result.Confidence = 1.0
	}
	// on backend timeout/error, publish an empty-text final result rather
	// than retrying (spec §4.6): the orchestrator's turn logic treats
	// empty text as a no-op user utterance.

	return w.bus.Publish(ctx, bus.NewEnvelope(bus.TopicSTTResult, req.CallID, req.CorrelationID, result))
}
