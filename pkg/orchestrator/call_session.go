package orchestrator

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lokutor-ai/voicebridge/pkg/bus"
	"github.com/lokutor-ai/voicebridge/pkg/callfsm"
	"github.com/lokutor-ai/voicebridge/pkg/pipeline"
	"github.com/lokutor-ai/voicebridge/pkg/store"
	llmworker "github.com/lokutor-ai/voicebridge/pkg/workers/llm"
	sttworker "github.com/lokutor-ai/voicebridge/pkg/workers/stt"
	ttsworker "github.com/lokutor-ai/voicebridge/pkg/workers/tts"
)

// Switch is the subset of switchctl.Client a CallSession drives. Defined
// here (rather than imported) so this package doesn't need to depend on
// switchctl's HTTP transport details, mirroring the narrow-interface style
// the teacher uses for its own provider boundaries.
type Switch interface {
	PlayAudio(ctx context.Context, channelID, handle string) error
	StopPlayback(ctx context.Context, channelID string) error
	Hangup(ctx context.Context, channelID string) error
}

// CallSessionConfig bundles the per-call tunables pulled from pkg/config
// that CallSession needs (spec §6).
type CallSessionConfig struct {
	SystemPrompt          string
	ConversationMaxTokens int
	Voice                 Voice
	Language              Language
	Encoding              string
	SampleRate            int
	LLMMaxTokens          int
	LLMTemperature        float64
	BargeinDebounce       time.Duration
	BargeinConfidence     float64
	FallbackEnabled       bool
	MaxCallDuration       time.Duration
	SilenceTimeout        time.Duration
	ResponseTimeout       time.Duration
}

// CallSession is the bus-mediated per-call driver: it owns one call's FSM,
// audio pipeline, and conversation, translating pipeline events into bus
// requests to the stt/llm/tts workers and switch-control actions. This is
// the generalization of the teacher's in-process ManagedStream (its
// VAD->STT->LLM->TTS loop driving a local microphone) to the distributed,
// switch-mediated worker-pool architecture spec.md describes; the local-mic
// path itself has no place in a telephony bridge and was not carried over.
type CallSession struct {
	callID         string
	channelID      string
	conversationID string

	fsm    *callfsm.FSM
	timers *callfsm.Timers
	pipe   *pipeline.Pipeline

	b         *bus.Bus
	conv      *store.ConversationStore
	artifacts *store.ArtifactStore
	sw        Switch
	fallback  *FallbackResponder
	logger    Logger

	cfg CallSessionConfig

	noteActivity func()

	mu                 sync.Mutex
	currentCorrID      string
	currentArtifactID  string
	cancelResponseWait func()
	lastBargeInAt      time.Time

	turnSeq atomic.Int64

	releasePort func(callID string)
}

// NewCallSession wires a new call's FSM, timers, pipeline, and bus
// subscriptions. releasePort is invoked once the call reaches a terminal
// state, by the caller (the rtpengine/port-pool owner) since CallSession
// has no visibility into transport-layer resources.
func NewCallSession(callID, channelID, conversationID string, pipe *pipeline.Pipeline, b *bus.Bus, conv *store.ConversationStore, artifacts *store.ArtifactStore, sw Switch, fallback *FallbackResponder, logger Logger, cfg CallSessionConfig, releasePort func(callID string)) *CallSession {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if fallback == nil {
		fallback = NewFallbackResponder(nil)
	}
	cs := &CallSession{
		callID:         callID,
		channelID:      channelID,
		conversationID: conversationID,
		pipe:           pipe,
		b:              b,
		conv:           conv,
		artifacts:      artifacts,
		sw:             sw,
		fallback:       fallback,
		logger:         logger,
		cfg:            cfg,
		releasePort:    releasePort,
	}
	// fsm's Guarantees close over cs itself; cs is safe to reference here
	// despite not being fully populated yet because the closures only read
	// cs's fields when invoked, which happens no earlier than Start.
	cs.fsm = callfsm.New(callID, logger, cs.buildGuarantees())
	cs.timers = callfsm.NewTimers(cs.fsm, cfg.MaxCallDuration, cfg.SilenceTimeout, cfg.ResponseTimeout)

	pipe.OnUtterance = cs.onUtterance
	pipe.OnOverflow = cs.onUtterance
	return cs
}

func (cs *CallSession) nextCorrelationID() string {
	return fmt.Sprintf("%s-turn-%d", cs.callID, cs.turnSeq.Add(1))
}

// Start begins the call: creates the stored conversation, starts the FSM
// consumer and timers, and subscribes to this call's worker responses. It
// returns once ctx is cancelled or the call reaches a terminal state.
func (cs *CallSession) Start(ctx context.Context) error {
	if _, err := cs.conv.Create(ctx, cs.callID, cs.conversationID, cs.cfg.SystemPrompt, time.Now()); err != nil {
		return fmt.Errorf("call session: create conversation: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go cs.fsm.Run(subCtx)
	go cs.timers.Run(subCtx)
	noteActivity := cs.timers.WatchSilence(subCtx)
	cs.noteActivity = noteActivity

	go cs.b.Consume(subCtx, bus.TopicSTTResult, cs.handleSTTResult)
	go cs.b.Consume(subCtx, bus.TopicLLMResponse, cs.handleLLMResponse)
	go cs.b.Consume(subCtx, bus.TopicLLMError, cs.handleLLMError)
	go cs.b.Consume(subCtx, bus.TopicTTSReady, cs.handleTTSReady)
	go cs.b.Consume(subCtx, bus.TopicTTSFailed, cs.handleTTSFailed)

	<-cs.fsm.Context().Done()
	return nil
}

// IngestFrame pushes one frame of decoded ingress PCM through the call's
// pipeline, handling barge-in detection while the bot is speaking.
func (cs *CallSession) IngestFrame(ctx context.Context, samples []int16, now time.Time) {
	if cs.noteActivity != nil {
		cs.noteActivity()
	}

	if cs.fsm.Current() == callfsm.StateSpeaking {
		cs.checkBargeIn(ctx, samples, now)
	}
	cs.pipe.Ingest(samples, now)
}

// Tick drives the pipeline's silence-timeout flush bound; call this
// periodically (e.g. once per frame interval) even absent new audio.
func (cs *CallSession) Tick(now time.Time) {
	cs.pipe.Tick(now)
}

func (cs *CallSession) checkBargeIn(ctx context.Context, samples []int16, now time.Time) {
	if cs.pipe.IsEcho(samples) {
		return
	}
	if cs.pipe.VADConfidence() < cs.cfg.BargeinConfidence {
		return
	}
	cs.mu.Lock()
	sinceLast := now.Sub(cs.lastBargeInAt)
	if sinceLast < cs.cfg.BargeinDebounce {
		cs.mu.Unlock()
		return
	}
	cs.lastBargeInAt = now
	cs.mu.Unlock()

	if err := cs.fsm.Enqueue(callfsm.Event{Type: callfsm.EventBargeInDetected}); err != nil {
		return
	}
	cs.cancelInFlightTurn(ctx)
	if err := cs.sw.StopPlayback(ctx, cs.channelID); err != nil {
		cs.logger.Warn("stop playback on barge-in failed", "call_id", cs.callID, "error", err)
	}
	cs.fsm.Enqueue(callfsm.Event{Type: callfsm.EventCancelledInFlight})
}

// cancelInFlightTurn publishes llm.cancel/tts.cancel for the turn in
// progress, matching spec §5's single-responder discard semantics.
func (cs *CallSession) cancelInFlightTurn(ctx context.Context) {
	cs.mu.Lock()
	corrID := cs.currentCorrID
	cs.mu.Unlock()
	if corrID == "" {
		return
	}
	cs.b.Publish(ctx, bus.NewEnvelope(bus.TopicLLMCancel, cs.callID, corrID, llmworker.CancelPayload{CallID: cs.callID, CorrelationID: corrID}))
	cs.b.Publish(ctx, bus.NewEnvelope(bus.TopicTTSCancel, cs.callID, corrID, ttsworker.CancelPayload{CallID: cs.callID, CorrelationID: corrID}))
}

func pcmToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func (cs *CallSession) onUtterance(u *pipeline.Utterance) {
	ctx := context.Background()
	corrID := cs.nextCorrelationID()
	cs.mu.Lock()
	cs.currentCorrID = corrID
	cs.mu.Unlock()

	if err := cs.fsm.Enqueue(callfsm.Event{Type: callfsm.EventUtteranceEmitted}); err != nil {
		return
	}
	cancel := cs.timers.ArmResponseTimeout(func() { cs.onResponseTimeout(corrID) })
	cs.mu.Lock()
	cs.cancelResponseWait = cancel
	cs.mu.Unlock()

	req := sttworker.RequestPayload{
		CallID:        cs.callID,
		CorrelationID: corrID,
		AudioBytes:    pcmToBytes(u.AudioBytes),
		SampleRate:    u.SampleRate,
		Language:      string(cs.cfg.Language),
	}
	if err := cs.b.Publish(ctx, bus.NewEnvelope(bus.TopicSTTRequest, cs.callID, corrID, req)); err != nil {
		cs.logger.Error("publish stt.request failed", "call_id", cs.callID, "error", err)
	}
}

func (cs *CallSession) onResponseTimeout(corrID string) {
	cs.mu.Lock()
	stillCurrent := cs.currentCorrID == corrID
	cs.mu.Unlock()
	if !stillCurrent {
		return
	}
	cs.fsm.Enqueue(callfsm.Event{Type: callfsm.EventEmptyLLMResponse})
}

func (cs *CallSession) clearResponseWait() {
	cs.mu.Lock()
	if cs.cancelResponseWait != nil {
		cs.cancelResponseWait()
		cs.cancelResponseWait = nil
	}
	cs.mu.Unlock()
}

func (cs *CallSession) forThisCall(env bus.Envelope) bool {
	return env.CallID == cs.callID
}

func (cs *CallSession) handleSTTResult(ctx context.Context, env bus.Envelope) error {
	if !cs.forThisCall(env) {
		return nil
	}
	var result sttworker.ResultPayload
	if err := bus.DecodePayload(env, &result); err != nil {
		return err
	}

	if result.Text == "" {
		cs.clearResponseWait()
		cs.speakFallback(ctx, FallbackErrorSTT, result.CorrelationID)
		return nil
	}

	conv, ok, err := cs.conv.Load(ctx, cs.callID)
	if err != nil || !ok {
		return err
	}
	cs.conv.Append(conv, store.Message{Role: store.RoleUser, Content: result.Text, Timestamp: time.Now()}, cs.cfg.ConversationMaxTokens)
	if err := cs.conv.Save(ctx, conv); err != nil {
		return err
	}

	messages := make([]Message, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		messages = append(messages, Message{Role: string(m.Role), Content: m.Content})
	}

	req := llmworker.RequestPayload{
		CallID:        cs.callID,
		CorrelationID: result.CorrelationID,
		Messages:      messages,
		MaxTokens:     cs.cfg.LLMMaxTokens,
		Temperature:   cs.cfg.LLMTemperature,
	}
	return cs.b.Publish(ctx, bus.NewEnvelope(bus.TopicLLMRequest, cs.callID, result.CorrelationID, req))
}

func (cs *CallSession) handleLLMResponse(ctx context.Context, env bus.Envelope) error {
	if !cs.forThisCall(env) {
		return nil
	}
	cs.clearResponseWait()

	var resp llmworker.ResponsePayload
	if err := bus.DecodePayload(env, &resp); err != nil {
		return err
	}

	conv, ok, err := cs.conv.Load(ctx, cs.callID)
	if err != nil || !ok {
		return err
	}
	cs.conv.Append(conv, store.Message{Role: store.RoleAssistant, Content: resp.Text, Timestamp: time.Now()}, cs.cfg.ConversationMaxTokens)
	if err := cs.conv.Save(ctx, conv); err != nil {
		return err
	}

	return cs.requestSpeech(ctx, resp.Text, resp.CorrelationID)
}

func (cs *CallSession) handleLLMError(ctx context.Context, env bus.Envelope) error {
	if !cs.forThisCall(env) {
		return nil
	}
	cs.clearResponseWait()
	var errPayload llmworker.ErrorPayload
	if err := bus.DecodePayload(env, &errPayload); err != nil {
		return err
	}
	cs.logger.Warn("llm failed for call", "call_id", cs.callID, "reason", errPayload.Reason)
	cs.speakFallback(ctx, FallbackErrorGeneric, errPayload.CorrelationID)
	return nil
}

func (cs *CallSession) speakFallback(ctx context.Context, category FallbackCategory, corrID string) {
	if !cs.cfg.FallbackEnabled {
		cs.fsm.Enqueue(callfsm.Event{Type: callfsm.EventEmptyLLMResponse})
		return
	}
	text, ok := cs.fallback.Response(category)
	if !ok {
		cs.fsm.Enqueue(callfsm.Event{Type: callfsm.EventEmptyLLMResponse})
		return
	}
	if corrID == "" {
		corrID = cs.nextCorrelationID()
	}
	cs.requestSpeech(ctx, text, corrID)
}

func (cs *CallSession) requestSpeech(ctx context.Context, text, corrID string) error {
	artifactID := fmt.Sprintf("%s-%s", cs.callID, corrID)
	cs.mu.Lock()
	cs.currentArtifactID = artifactID
	cs.mu.Unlock()

	req := ttsworker.RequestPayload{
		CallID:        cs.callID,
		CorrelationID: corrID,
		ArtifactID:    artifactID,
		Text:          text,
		Voice:         string(cs.cfg.Voice),
		Encoding:      cs.cfg.Encoding,
		SampleRate:    cs.cfg.SampleRate,
		Language:      string(cs.cfg.Language),
	}
	return cs.b.Publish(ctx, bus.NewEnvelope(bus.TopicTTSRequest, cs.callID, corrID, req))
}

func (cs *CallSession) handleTTSReady(ctx context.Context, env bus.Envelope) error {
	if !cs.forThisCall(env) {
		return nil
	}
	var ready ttsworker.ReadyPayload
	if err := bus.DecodePayload(env, &ready); err != nil {
		return err
	}
	if err := cs.fsm.Enqueue(callfsm.Event{Type: callfsm.EventTTSArtifactReceived}); err != nil {
		return nil
	}
	// The echo reference buffer is not fed here: the switch plays the
	// artifact itself, and NotePlayback is the only entry point that feeds
	// played audio to the pipeline.
	return cs.sw.PlayAudio(ctx, cs.channelID, ready.Handle)
}

func (cs *CallSession) handleTTSFailed(ctx context.Context, env bus.Envelope) error {
	if !cs.forThisCall(env) {
		return nil
	}
	cs.fsm.Enqueue(callfsm.Event{Type: callfsm.EventEmptyLLMResponse})
	return nil
}

// OnPlaybackComplete is invoked by the switch's playback-complete webhook
// (pkg/switchctl.WebhookHandler) once the switch finishes playing this
// call's current artifact.
func (cs *CallSession) OnPlaybackComplete(ctx context.Context, artifactID string) {
	cs.mu.Lock()
	current := cs.currentArtifactID
	cs.mu.Unlock()
	if artifactID != "" && artifactID != current {
		return // a stale completion for an artifact already superseded
	}
	if cs.artifacts != nil {
		cs.artifacts.Release(ctx, artifactID)
	}
	cs.fsm.Enqueue(callfsm.Event{Type: callfsm.EventPlaybackComplete})
}

// NotePlayback feeds audio actually sent to the caller into the echo
// suppressor's reference buffer. The switch plays artifacts directly from
// shared storage rather than through our own RTP socket, and CallSession
// has no RTP send path of its own to hook instead. Nothing in
// cmd/voicebridge calls this method, so in serve mode the echo reference
// buffer stays empty.
func (cs *CallSession) NotePlayback(pcm []int16) {
	cs.pipe.NotePlayedAudio(pcm)
}

// Hangup ends the call, matching the channel hangup path to an FSM event.
func (cs *CallSession) Hangup() {
	cs.fsm.Enqueue(callfsm.Event{Type: callfsm.EventHangup})
}

// State reports the call's current FSM state, for callers that only need
// to observe it (e.g. cmd/voicebridge tagging a terminal-state metric).
func (cs *CallSession) State() callfsm.State {
	return cs.fsm.Current()
}

// buildGuarantees builds the callfsm.Guarantees terminal-state side
// effects for this session (spec §4.4's four ERROR/ENDED/TIMEOUT
// guarantees). Cleanup runs against context.Background() rather than the
// call's own context, since the call's context is exactly what's being
// cancelled at the moment these fire.
func (cs *CallSession) buildGuarantees() callfsm.Guarantees {
	return callfsm.Guarantees{
		CancelBusRequests: func(callID string) {
			cs.cancelInFlightTurn(context.Background())
		},
		EndConversation: func(callID string) {
			cs.conv.Delete(context.Background(), callID)
			if err := cs.sw.Hangup(context.Background(), cs.channelID); err != nil {
				cs.logger.Warn("hangup on terminal state failed", "call_id", callID, "error", err)
			}
		},
		ReleasePort: cs.releasePort,
		ExpireTTSArtifact: func(callID string) {
			cs.mu.Lock()
			artifactID := cs.currentArtifactID
			cs.mu.Unlock()
			if artifactID != "" && cs.artifacts != nil {
				cs.artifacts.Release(context.Background(), artifactID)
			}
		},
	}
}
