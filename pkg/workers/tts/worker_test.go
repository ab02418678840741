package tts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lokutor-ai/voicebridge/pkg/bus"
	"github.com/lokutor-ai/voicebridge/pkg/orchestrator"
	"github.com/lokutor-ai/voicebridge/pkg/store"
)

type stubTTS struct {
	pcm     []byte
	err     error
	aborted bool
}

func (s *stubTTS) Synthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.pcm, nil
}

func (s *stubTTS) StreamSynthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language, onChunk func([]byte) error) error {
	return onChunk(s.pcm)
}

func (s *stubTTS) Abort(ctx context.Context) error {
	s.aborted = true
	return nil
}

func (s *stubTTS) Name() string { return "stub-tts" }

func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	transport, err := bus.MakePubSub(context.Background(), bus.BackendConfig{})
	if err != nil {
		t.Fatalf("make pubsub: %v", err)
	}
	return bus.New(transport)
}

func collect(ctx context.Context, b *bus.Bus, topic bus.Topic) <-chan bus.Envelope {
	out := make(chan bus.Envelope, 4)
	go b.Consume(ctx, topic, func(_ context.Context, env bus.Envelope) error {
		out <- env
		return nil
	})
	return out
}

func TestWorkerWritesArtifactAndPublishesReady(t *testing.T) {
	dir := t.TempDir()
	b := newTestBus(t)
	kv, err := store.MakeKV(context.Background(), store.BackendConfig{})
	if err != nil {
		t.Fatalf("make kv: %v", err)
	}
	artifacts := store.NewArtifactStore(kv, dir)
	backend := &stubTTS{pcm: make([]byte, 3200)} // 100ms @ 16kHz/16-bit
	w := New(b, backend, artifacts, time.Second, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	ready := collect(ctx, b, bus.TopicTTSReady)

	req := RequestPayload{CallID: "c1", CorrelationID: "r1", ArtifactID: "art-1", Text: "hello", Voice: "default", Encoding: "wav", SampleRate: 16000}
	if err := b.Publish(ctx, bus.NewEnvelope(bus.TopicTTSRequest, req.CallID, req.CorrelationID, req)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case env := <-ready:
		var payload ReadyPayload
		if err := bus.DecodePayload(env, &payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if payload.ArtifactID != "art-1" {
			t.Fatalf("unexpected ready payload: %+v", payload)
		}
		wantHandle := filepath.Join(dir, "art-1.wav")
		if payload.Handle != wantHandle {
			t.Fatalf("handle = %q, want %q", payload.Handle, wantHandle)
		}
		if _, err := os.Stat(payload.Handle); err != nil {
			t.Fatalf("expected artifact file on disk: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tts.ready")
	}
}

func TestWorkerPublishesFailedOnBackendError(t *testing.T) {
	dir := t.TempDir()
	b := newTestBus(t)
	kv, err := store.MakeKV(context.Background(), store.BackendConfig{})
	if err != nil {
		t.Fatalf("make kv: %v", err)
	}
	artifacts := store.NewArtifactStore(kv, dir)
	backend := &stubTTS{err: errors.New("synthesis failed")}
	w := New(b, backend, artifacts, time.Second, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	failed := collect(ctx, b, bus.TopicTTSFailed)

	req := RequestPayload{CallID: "c2", CorrelationID: "r2", ArtifactID: "art-2", Text: "hello"}
	if err := b.Publish(ctx, bus.NewEnvelope(bus.TopicTTSRequest, req.CallID, req.CorrelationID, req)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case env := <-failed:
		var payload FailedPayload
		if err := bus.DecodePayload(env, &payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if payload.Reason == "" {
			t.Fatalf("expected non-empty failure reason, got %+v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tts.failed")
	}
}

func TestWorkerAbortsOnCancel(t *testing.T) {
	b := newTestBus(t)
	backend := &stubTTS{}
	artifacts := store.NewArtifactStore(nil, t.TempDir())
	w := New(b, backend, artifacts, time.Second, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := b.Publish(ctx, bus.NewEnvelope(bus.TopicTTSCancel, "c3", "r3", CancelPayload{CallID: "c3", CorrelationID: "r3"})); err != nil {
		t.Fatalf("publish cancel: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for !backend.aborted {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for Abort to be called")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
