// Package tts runs the TTS model-service worker: a bus subscriber that
// wraps an orchestrator.TTSProvider, writes the synthesized audio to
// shared storage, and publishes the resulting artifact handle (spec §4.6
// "TTS worker").
package tts

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/lokutor-ai/voicebridge/pkg/audio"
	"github.com/lokutor-ai/voicebridge/pkg/bus"
	"github.com/lokutor-ai/voicebridge/pkg/orchestrator"
	"github.com/lokutor-ai/voicebridge/pkg/store"
	"github.com/lokutor-ai/voicebridge/pkg/workers"
)

// RequestPayload is the tts.request payload shape (spec §6: "{call_id,
// text, voice, encoding, sample_rate}").
type RequestPayload struct {
	CallID        string `json:"call_id"`
	CorrelationID string `json:"correlation_id"`
	ArtifactID    string `json:"artifact_id"`
	Text          string `json:"text"`
	Voice         string `json:"voice"`
	Encoding      string `json:"encoding"`
	SampleRate    int    `json:"sample_rate"`
	Language      string `json:"language,omitempty"`
}

// ReadyPayload is the tts.ready payload: the artifact record the switch
// control plane uses to play audio back to the caller.
type ReadyPayload struct {
	CallID        string `json:"call_id"`
	CorrelationID string `json:"correlation_id"`
	ArtifactID    string `json:"artifact_id"`
	Handle        string `json:"handle"`
	DurationMs    int    `json:"duration_ms"`
}

// FailedPayload is the tts.failed payload.
type FailedPayload struct {
	CallID        string `json:"call_id"`
	CorrelationID string `json:"correlation_id"`
	Reason        string `json:"reason"`
}

// CancelPayload is the tts.cancel payload, published on barge-in.
type CancelPayload struct {
	CallID        string `json:"call_id"`
	CorrelationID string `json:"correlation_id"`
}

const (
	healthInterval  = 15 * time.Second
	bytesPerSample  = 2 // 16-bit PCM
	defaultEncoding = "wav"
)

// Worker consumes tts.request, synthesizes audio, writes it to shared
// storage via ArtifactStore, and honors tts.cancel via the provider's
// Abort (spec §5 barge-in: only the most recent turn's synthesis survives).
type Worker struct {
	bus       *bus.Bus
	backend   orchestrator.TTSProvider
	artifacts *store.ArtifactStore
	timeout   time.Duration
	sem       workers.Semaphore
	lat       *workers.LatencyTracker
	startedAt time.Time

	mu       sync.Mutex
	inFlight map[string]context.CancelFunc // "call_id/correlation_id" -> cancel
}

// New builds a TTS worker. artifacts mints and persists artifact handles;
// the caller owns the underlying shared storage directory.
func New(b *bus.Bus, backend orchestrator.TTSProvider, artifacts *store.ArtifactStore, timeout time.Duration, parallelism int) *Worker {
	if parallelism <= 0 {
		parallelism = 4
	}
	return &Worker{
		bus:       b,
		backend:   backend,
		artifacts: artifacts,
		timeout:   timeout,
		sem:       workers.NewSemaphore(parallelism),
		lat:       workers.NewLatencyTracker(),
		startedAt: time.Now(),
		inFlight:  make(map[string]context.CancelFunc),
	}
}

func turnKey(callID, correlationID string) string {
	return callID + "/" + correlationID
}

// Run consumes tts.request and tts.cancel, and publishes periodic health,
// until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	go workers.PublishHealth(ctx, w.bus, bus.TopicHealthTTS, w.startedAt, w.sem.Depth, w.lat, healthInterval)
	go w.bus.Consume(ctx, bus.TopicTTSCancel, w.handleCancel)
	return w.bus.Consume(ctx, bus.TopicTTSRequest, w.handleRequest)
}

func (w *Worker) handleCancel(ctx context.Context, env bus.Envelope) error {
	var c CancelPayload
	if err := bus.DecodePayload(env, &c); err != nil {
		return err
	}
	key := turnKey(c.CallID, c.CorrelationID)

	w.mu.Lock()
	cancel, ok := w.inFlight[key]
	w.mu.Unlock()
	if ok {
		cancel()
	}
	// Abort also tears down the provider's streaming connection so any
	// chunk already in flight over the wire stops too.
	return w.backend.Abort(ctx)
}

func (w *Worker) handleRequest(ctx context.Context, env bus.Envelope) error {
	var req RequestPayload
	if err := bus.DecodePayload(env, &req); err != nil {
		return err
	}
	if req.Encoding == "" {
		req.Encoding = defaultEncoding
	}

	if err := w.sem.Acquire(ctx); err != nil {
		return err
	}
	defer w.sem.Release()

	reqCtx, cancel := context.WithTimeout(ctx, w.timeout)
	key := turnKey(req.CallID, req.CorrelationID)
	w.mu.Lock()
	w.inFlight[key] = cancel
	w.mu.Unlock()
	defer func() {
		cancel()
		w.mu.Lock()
		delete(w.inFlight, key)
		w.mu.Unlock()
	}()

	start := time.Now()
	pcm, err := w.backend.Synthesize(reqCtx, req.Text, orchestrator.Voice(req.Voice), orchestrator.Language(req.Language))
	w.lat.Record(time.Since(start), err != nil)
	if err != nil {
		return w.bus.Publish(ctx, bus.NewEnvelope(bus.TopicTTSFailed, req.CallID, req.CorrelationID, FailedPayload{
			CallID:        req.CallID,
			CorrelationID: req.CorrelationID,
			Reason:        err.Error(),
		}))
	}

	wav := audio.NewWavBuffer(pcm, req.SampleRate)
	durationMs := len(pcm) / bytesPerSample * 1000 / max(req.SampleRate, 1)

	art, err := w.artifacts.Create(ctx, req.ArtifactID, req.CallID, req.Encoding, req.SampleRate, durationMs, len(wav), time.Now(), 0)
	if err != nil {
		return fmt.Errorf("tts worker: record artifact: %w", err)
	}
	if err := os.WriteFile(art.Handle, wav, 0o644); err != nil {
		return fmt.Errorf("tts worker: write artifact %s: %w", art.ArtifactID, err)
	}

	return w.bus.Publish(ctx, bus.NewEnvelope(bus.TopicTTSReady, req.CallID, req.CorrelationID, ReadyPayload{
		CallID:        req.CallID,
		CorrelationID: req.CorrelationID,
		ArtifactID:    art.ArtifactID,
		Handle:        art.Handle,
		DurationMs:    art.DurationMs,
	}))
}
