package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lokutor-ai/voicebridge/pkg/bus"
	"github.com/lokutor-ai/voicebridge/pkg/callfsm"
	"github.com/lokutor-ai/voicebridge/pkg/pipeline"
	"github.com/lokutor-ai/voicebridge/pkg/store"
	llmworker "github.com/lokutor-ai/voicebridge/pkg/workers/llm"
	sttworker "github.com/lokutor-ai/voicebridge/pkg/workers/stt"
	ttsworker "github.com/lokutor-ai/voicebridge/pkg/workers/tts"
)

type stubSwitch struct {
	mu      sync.Mutex
	played  []string
	stopped int
	hungUp  int
}

func (s *stubSwitch) PlayAudio(ctx context.Context, channelID, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.played = append(s.played, handle)
	return nil
}

func (s *stubSwitch) StopPlayback(ctx context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
	return nil
}

func (s *stubSwitch) Hangup(ctx context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hungUp++
	return nil
}

func (s *stubSwitch) playCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.played)
}

func (s *stubSwitch) hangupCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hungUp
}

func (s *stubSwitch) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func newTestSession(t *testing.T) (*CallSession, *stubSwitch, *bus.Bus, *store.ConversationStore, *store.ArtifactStore) {
	t.Helper()
	transport, err := bus.MakePubSub(context.Background(), bus.BackendConfig{})
	if err != nil {
		t.Fatalf("make pubsub: %v", err)
	}
	b := bus.New(transport)

	kv, err := store.MakeKV(context.Background(), store.BackendConfig{})
	if err != nil {
		t.Fatalf("make kv: %v", err)
	}
	conv := store.NewConversationStore(kv, time.Hour)
	artifacts := store.NewArtifactStore(kv, t.TempDir())

	pipe := pipeline.New("call-1", pipeline.Config{
		FrameMs:        20,
		SampleRate:     16000,
		MinUtteranceMs: 100,
		MaxUtteranceMs: 10000,
		SilenceTimeout: 500 * time.Millisecond,
		MaxMemoryBytes: 1 << 20,
		VADThreshold:   0.5,
		KIn:            3,
		KOut:           15,
	})

	sw := &stubSwitch{}
	cfg := CallSessionConfig{
		SystemPrompt:          "you are a helpful phone agent",
		ConversationMaxTokens: 1000,
		Voice:                 VoiceF1,
		Language:              LanguageEn,
		Encoding:              "wav",
		SampleRate:            16000,
		LLMMaxTokens:          200,
		LLMTemperature:        0.7,
		BargeinDebounce:       200 * time.Millisecond,
		BargeinConfidence:     0.5,
		FallbackEnabled:       true,
		MaxCallDuration:       time.Minute,
		SilenceTimeout:        time.Minute,
		ResponseTimeout:       time.Minute,
	}

	released := func(callID string) {}

	cs := NewCallSession("call-1", "chan-1", "conv-1", pipe, b, conv, artifacts, sw, nil, nil, cfg, released)
	return cs, sw, b, conv, artifacts
}

func TestCallSessionHandlesFullTurn(t *testing.T) {
	cs, sw, b, _, _ := newTestSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cs.Start(ctx)
	time.Sleep(20 * time.Millisecond)

	if err := cs.fsm.Enqueue(callfsm.Event{Type: callfsm.EventSwitchAnswer}); err != nil {
		t.Fatalf("enqueue switch answer: %v", err)
	}
	if err := cs.fsm.Enqueue(callfsm.Event{Type: callfsm.EventFirstMediaBound}); err != nil {
		t.Fatalf("enqueue first media: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if got := cs.fsm.Current(); got != callfsm.StateListening {
		t.Fatalf("state = %v, want LISTENING", got)
	}

	cs.onUtterance(&pipeline.Utterance{CallID: "call-1", AudioBytes: []int16{1, 2, 3, 4}, SampleRate: 16000})

	time.Sleep(20 * time.Millisecond)
	if got := cs.fsm.Current(); got != callfsm.StateProcessing {
		t.Fatalf("state after utterance = %v, want PROCESSING", got)
	}

	result := sttworker.ResultPayload{CallID: "call-1", CorrelationID: cs.currentCorrID, Text: "what's my balance", IsFinal: true}
	if err := b.Publish(ctx, bus.NewEnvelope(bus.TopicSTTResult, "call-1", result.CorrelationID, result)); err != nil {
		t.Fatalf("publish stt.result: %v", err)
	}

	conv := waitForConversationUser(t, ctx, cs, 2*time.Second)
	if len(conv.Messages) < 2 || conv.Messages[1].Content != "what's my balance" {
		t.Fatalf("unexpected conversation messages: %+v", conv.Messages)
	}

	resp := llmworker.ResponsePayload{CallID: "call-1", CorrelationID: result.CorrelationID, Text: "your balance is $42"}
	if err := b.Publish(ctx, bus.NewEnvelope(bus.TopicLLMResponse, "call-1", resp.CorrelationID, resp)); err != nil {
		t.Fatalf("publish llm.response: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		return cs.currentArtifactID != ""
	})
	cs.mu.Lock()
	artifactID := cs.currentArtifactID
	cs.mu.Unlock()
	ready := ttsworker.ReadyPayload{CallID: "call-1", CorrelationID: result.CorrelationID, ArtifactID: artifactID, Handle: "/tmp/art.wav"}
	if err := b.Publish(ctx, bus.NewEnvelope(bus.TopicTTSReady, "call-1", ready.CorrelationID, ready)); err != nil {
		t.Fatalf("publish tts.ready: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool { return sw.playCount() > 0 })
	if got := cs.fsm.Current(); got != callfsm.StateSpeaking {
		t.Fatalf("state after tts.ready = %v, want SPEAKING", got)
	}
}

func TestCallSessionBargeInCancelsTurnAndStopsPlayback(t *testing.T) {
	cs, sw, _, _, _ := newTestSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cs.Start(ctx)
	time.Sleep(20 * time.Millisecond)

	cs.fsm.Enqueue(callfsm.Event{Type: callfsm.EventSwitchAnswer})
	cs.fsm.Enqueue(callfsm.Event{Type: callfsm.EventFirstMediaBound})
	cs.fsm.Enqueue(callfsm.Event{Type: callfsm.EventUtteranceEmitted})
	cs.fsm.Enqueue(callfsm.Event{Type: callfsm.EventTTSArtifactReceived})
	time.Sleep(20 * time.Millisecond)
	if got := cs.fsm.Current(); got != callfsm.StateSpeaking {
		t.Fatalf("state = %v, want SPEAKING", got)
	}
	cs.mu.Lock()
	cs.currentCorrID = "turn-1"
	cs.mu.Unlock()

	loud := make([]int16, 320)
	for i := range loud {
		loud[i] = 20000
	}
	// One frame warms up the VAD's RMS confidence; checkBargeIn reads the
	// confidence left over from the previous frame, so the frame that
	// actually trips the debounce check must follow a frame that already
	// pushed lastRMS above the threshold.
	cs.pipe.Ingest(loud, time.Now())
	cs.checkBargeIn(ctx, loud, time.Now())

	waitUntil(t, time.Second, func() bool { return sw.stopCount() > 0 })
	if got := cs.fsm.Current(); got != callfsm.StateListening {
		t.Fatalf("state after barge-in = %v, want LISTENING", got)
	}
}

func TestCallSessionHangupEndsConversationAndHangsUpChannel(t *testing.T) {
	cs, sw, _, conv, _ := newTestSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cs.Start(ctx)
	time.Sleep(20 * time.Millisecond)

	cs.Hangup()
	waitUntil(t, time.Second, func() bool { return sw.hangupCount() > 0 })

	if _, ok, err := conv.Load(context.Background(), "call-1"); err != nil || ok {
		t.Fatalf("expected conversation deleted, ok=%v err=%v", ok, err)
	}
	if got := cs.fsm.Current(); got != callfsm.StateEnded {
		t.Fatalf("state = %v, want ENDED", got)
	}
}

func TestCallSessionStateReportsHangup(t *testing.T) {
	cs, _, _, _, _ := newTestSession(t)
	if got := cs.State(); got != callfsm.StateRinging {
		t.Fatalf("initial state = %v, want RINGING", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cs.Start(ctx)
	time.Sleep(20 * time.Millisecond)

	cs.Hangup()
	waitUntil(t, time.Second, func() bool { return cs.State() == callfsm.StateEnded })
}

func TestCallSessionNotePlaybackFeedsEchoReference(t *testing.T) {
	cs, _, _, _, _ := newTestSession(t)
	samples := make([]int16, 320)
	for i := range samples {
		samples[i] = int16(i)
	}
	cs.NotePlayback(samples)
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func waitForConversationUser(t *testing.T, ctx context.Context, cs *CallSession, timeout time.Duration) *store.Conversation {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conv, ok, err := cs.conv.Load(ctx, cs.callID)
		if err != nil {
			t.Fatalf("load conversation: %v", err)
		}
		if ok && len(conv.Messages) >= 2 {
			return conv
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for user message to land in conversation")
	return nil
}
