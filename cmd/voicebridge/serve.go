package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lokutor-ai/voicebridge/pkg/bus"
	"github.com/lokutor-ai/voicebridge/pkg/codec"
	"github.com/lokutor-ai/voicebridge/pkg/config"
	"github.com/lokutor-ai/voicebridge/pkg/orchestrator"
	"github.com/lokutor-ai/voicebridge/pkg/pipeline"
	"github.com/lokutor-ai/voicebridge/pkg/rtpengine"
	"github.com/lokutor-ai/voicebridge/pkg/store"
	"github.com/lokutor-ai/voicebridge/pkg/switchctl"
	"github.com/lokutor-ai/voicebridge/pkg/telemetry"
	llmworker "github.com/lokutor-ai/voicebridge/pkg/workers/llm"
	sttworker "github.com/lokutor-ai/voicebridge/pkg/workers/stt"
	ttsworker "github.com/lokutor-ai/voicebridge/pkg/workers/tts"
)

const (
	discoveryInterval  = 500 * time.Millisecond
	webhookReadTimeout = 3 * time.Second
	frameInterval      = 20 * time.Millisecond
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the switch-mediated voice-agent bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

// activeCall bundles the per-call pieces a running CallSession needs torn
// down when the channel disappears from the switch.
type activeCall struct {
	session  *orchestrator.CallSession
	endpoint *rtpengine.Endpoint
	cancel   context.CancelFunc
}

// callRegistry tracks channels currently bridged, keyed by the switch's
// channel_id, so the discovery loop and the playback-complete webhook can
// both reach the right CallSession.
type callRegistry struct {
	mu    sync.Mutex
	calls map[string]*activeCall
}

func newCallRegistry() *callRegistry {
	return &callRegistry{calls: make(map[string]*activeCall)}
}

func (r *callRegistry) get(channelID string) (*activeCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[channelID]
	return c, ok
}

func (r *callRegistry) put(channelID string, c *activeCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[channelID] = c
}

func (r *callRegistry) remove(channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, channelID)
}

func (r *callRegistry) snapshot() map[string]*activeCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*activeCall, len(r.calls))
	for k, v := range r.calls {
		out[k] = v
	}
	return out
}

func (r *callRegistry) endAll() {
	for channelID, ac := range r.snapshot() {
		ac.session.Hangup()
		ac.cancel()
		ac.endpoint.Close()
		r.remove(channelID)
	}
}

// bridge holds everything the discovery loop and per-call bridging need,
// grounded on the serverManager struct DMRHub's cmd/root.go bundles its
// long-lived dependencies into.
type bridge struct {
	cfg       *config.Config
	logger    *telemetry.SlogLogger
	metrics   *telemetry.Metrics
	bus       *bus.Bus
	conv      *store.ConversationStore
	artifacts *store.ArtifactStore
	sw        *switchctl.Client
	ports     *rtpengine.PortPool
	registry  *callRegistry
}

func runServe(ctx context.Context) error {
	cfg := config.Get()
	logger := telemetry.NewLogger(cfg.LogLevel)
	metrics := telemetry.NewMetrics()

	go func() {
		if err := telemetry.ServeMetrics(cfg.MetricsAddr); err != nil {
			logger.Error("metrics server exited", "error", err)
		}
	}()

	// The store and bus both lean on the same Redis instance when
	// VOICEBRIDGE_BUS_URL is set; spec.md's config surface doesn't carve
	// out a second Redis URL for persisted state, and a single instance
	// is enough at this scale.
	transport, err := bus.MakePubSub(ctx, bus.BackendConfig{UseRedis: cfg.BusURL != "", RedisURL: cfg.BusURL})
	if err != nil {
		return fmt.Errorf("serve: make pubsub: %w", err)
	}
	defer transport.Close()
	b := bus.New(transport)

	kv, err := store.MakeKV(ctx, store.BackendConfig{UseRedis: cfg.BusURL != "", RedisURL: cfg.BusURL})
	if err != nil {
		return fmt.Errorf("serve: make kv: %w", err)
	}
	conv := store.NewConversationStore(kv, time.Duration(cfg.ConversationTTLS)*time.Second)
	artifacts := store.NewArtifactStore(kv, artifactBaseDir())

	sttBackend, err := buildSTT(envOrDefault("VOICEBRIDGE_STT_PROVIDER", "groq"), "")
	if err != nil {
		return fmt.Errorf("serve: build stt: %w", err)
	}
	llmPrimary, err := buildLLM(envOrDefault("VOICEBRIDGE_LLM_PROVIDER", "groq"), cfg.LLMPrimaryModel)
	if err != nil {
		return fmt.Errorf("serve: build llm primary: %w", err)
	}
	var llmFallback orchestrator.LLMProvider
	if fallbackName := os.Getenv("VOICEBRIDGE_LLM_FALLBACK_PROVIDER"); fallbackName != "" {
		llmFallback, err = buildLLM(fallbackName, cfg.LLMFallbackModel)
		if err != nil {
			return fmt.Errorf("serve: build llm fallback: %w", err)
		}
	}
	ttsBackend, err := buildTTS()
	if err != nil {
		return fmt.Errorf("serve: build tts: %w", err)
	}

	const workerParallelism = 4
	sttW := sttworker.New(b, sttBackend, 15*time.Second, workerParallelism)
	llmW := llmworker.New(b, llmPrimary, llmFallback, 30*time.Second, workerParallelism)
	ttsW := ttsworker.New(b, ttsBackend, artifacts, 20*time.Second, workerParallelism)

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	go sttW.Run(workerCtx)
	go llmW.Run(workerCtx)
	go ttsW.Run(workerCtx)

	br := &bridge{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		bus:       b,
		conv:      conv,
		artifacts: artifacts,
		sw:        switchctl.NewClient(cfg.SwitchBaseURL, cfg.SwitchUser, cfg.SwitchPassword),
		ports:     rtpengine.NewPortPool(cfg.RTPPortRangeLow, cfg.RTPPortRangeHigh),
		registry:  newCallRegistry(),
	}

	webhookServer := &http.Server{
		Addr:              envOrDefault("VOICEBRIDGE_WEBHOOK_ADDR", ":9091"),
		ReadHeaderTimeout: webhookReadTimeout,
		Handler: switchctl.WebhookHandler(func(event switchctl.PlaybackCompleteEvent) {
			if ac, ok := br.registry.get(event.ChannelID); ok {
				ac.session.OnPlaybackComplete(context.Background(), event.ArtifactID)
			}
		}),
	}
	go func() {
		if err := webhookServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("webhook server exited", "error", err)
		}
	}()

	discoverCtx, cancelDiscovery := context.WithCancel(ctx)
	defer cancelDiscovery()
	go br.runDiscoveryLoop(discoverCtx)

	logger.Info("voicebridge serve started", "metrics_addr", cfg.MetricsAddr, "webhook_addr", webhookServer.Addr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	cancelDiscovery()
	br.registry.endAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	webhookServer.Shutdown(shutdownCtx)
	cancelWorkers()
	return nil
}

// runDiscoveryLoop polls the switch's channel list and bridges any channel
// not already known. New-call discovery has no mandated wire mechanism
// (spec.md §1 calls it implementation-dictated); polling ListChannels is
// voicebridge's choice, grounded on the same request/response shape the
// rest of pkg/switchctl already uses rather than inventing a streaming
// notification path the switch doesn't define.
func (br *bridge) runDiscoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(discoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		channels, err := br.sw.ListChannels(ctx)
		if err != nil {
			br.logger.Warn("list channels failed", "error", err)
			continue
		}

		seen := make(map[string]struct{}, len(channels))
		for _, ch := range channels {
			seen[ch.ChannelID] = struct{}{}
			if _, known := br.registry.get(ch.ChannelID); known {
				continue
			}
			if err := br.bridgeChannel(ctx, ch); err != nil {
				br.logger.Error("bridge channel failed", "channel_id", ch.ChannelID, "error", err)
			}
		}

		for channelID, ac := range br.registry.snapshot() {
			if _, stillUp := seen[channelID]; stillUp {
				continue
			}
			br.logger.Info("channel disappeared from switch, ending call", "channel_id", channelID)
			ac.session.Hangup()
			ac.cancel()
			ac.endpoint.Close()
			br.registry.remove(channelID)
		}
	}
}

func (br *bridge) bridgeChannel(ctx context.Context, ch switchctl.Channel) error {
	snoop, err := br.sw.OriginateSnoop(ctx, ch.ChannelID)
	if err != nil {
		return fmt.Errorf("originate snoop: %w", err)
	}
	if snoop.RemoteRTPAddr != "" {
		if _, err := net.ResolveUDPAddr("udp", snoop.RemoteRTPAddr); err != nil {
			br.logger.Warn("unparseable remote rtp addr", "channel_id", ch.ChannelID, "addr", snoop.RemoteRTPAddr, "error", err)
		}
	}

	port, err := br.ports.Lease()
	if err != nil {
		return fmt.Errorf("lease rtp port: %w", err)
	}

	cfg := br.cfg
	sampleRate := cfg.TTSSampleRate
	callCodec := codec.CodecMuLaw
	if sampleRate >= 16000 {
		callCodec = codec.CodecWideband
	}

	endpoint, err := rtpengine.NewEndpoint(ch.CallID, port, callCodec, sampleRate)
	if err != nil {
		br.ports.Release(port)
		return fmt.Errorf("new rtp endpoint: %w", err)
	}

	pipe := pipeline.New(ch.CallID, pipeline.Config{
		FrameMs:         cfg.PipelineFrameMs,
		SampleRate:      sampleRate,
		MinUtteranceMs:  cfg.PipelineMinUtteranceMs,
		MaxUtteranceMs:  cfg.PipelineMaxUtteranceMs,
		SilenceTimeout:  time.Duration(cfg.PipelineSilenceTimeoutMs) * time.Millisecond,
		MaxMemoryBytes:  1 << 20,
		VADThreshold:    cfg.VADConfidenceThreshold,
		KIn:             cfg.VADKIn,
		KOut:            cfg.VADKOut,
		EchoReferenceMs: cfg.EchoReferenceMs,
		NoiseMode:       parseNoiseMode(cfg.NoiseMode),
	})

	callCtx, cancel := context.WithCancel(ctx)

	sessionCfg := orchestrator.CallSessionConfig{
		SystemPrompt:          cfg.ConversationSystemPrompt,
		ConversationMaxTokens: cfg.ConversationMaxTokens,
		Voice:                 orchestrator.Voice(cfg.TTSVoice),
		Language:              orchestrator.LanguageEn,
		Encoding:              "wav",
		SampleRate:            sampleRate,
		LLMMaxTokens:          512,
		LLMTemperature:        0.7,
		BargeinDebounce:       time.Duration(cfg.BargeinDebounceMs) * time.Millisecond,
		BargeinConfidence:     cfg.BargeinConfidenceThreshold,
		FallbackEnabled:       cfg.FallbackEnabled,
		MaxCallDuration:       time.Duration(cfg.StateMachineMaxDurationS) * time.Second,
		SilenceTimeout:        time.Duration(cfg.StateMachineSilenceTimeoutS) * time.Second,
		ResponseTimeout:       time.Duration(cfg.StateMachineResponseTimeoutS) * time.Second,
	}

	releasePort := func(string) { br.ports.Release(port) }
	session := orchestrator.NewCallSession(ch.CallID, ch.ChannelID, ch.CallID, pipe, br.bus, br.conv, br.artifacts, br.sw, nil, br.logger.With("call_id", ch.CallID), sessionCfg, releasePort)

	ac := &activeCall{session: session, endpoint: endpoint, cancel: cancel}
	br.registry.put(ch.ChannelID, ac)

	br.metrics.CallsStarted.Inc()
	br.metrics.ActiveCalls.Inc()

	go endpoint.Run(callCtx)
	go pumpFrames(callCtx, endpoint, session)
	go func() {
		defer br.metrics.ActiveCalls.Dec()
		if err := session.Start(callCtx); err != nil {
			br.logger.Error("call session ended with error", "call_id", ch.CallID, "error", err)
		}
		br.metrics.CallsEnded.WithLabelValues(session.State().String()).Inc()
		br.registry.remove(ch.ChannelID)
	}()

	return nil
}

func pumpFrames(ctx context.Context, endpoint *rtpengine.Endpoint, session *orchestrator.CallSession) {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-endpoint.Frames():
			if !ok {
				return
			}
			session.IngestFrame(ctx, frame.PCM, time.Now())
		case <-ticker.C:
			session.Tick(time.Now())
		}
	}
}

func parseNoiseMode(mode string) pipeline.NoiseMode {
	switch mode {
	case "off":
		return pipeline.NoiseOff
	case "moderate":
		return pipeline.NoiseModerate
	case "aggressive":
		return pipeline.NoiseAggressive
	default:
		return pipeline.NoiseGentle
	}
}

func artifactBaseDir() string {
	if dir := os.Getenv("VOICEBRIDGE_ARTIFACT_DIR"); dir != "" {
		return dir
	}
	return os.TempDir()
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
