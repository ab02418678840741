package pipeline

import "time"

// Config bundles the tunables named in spec §6's config surface that apply
// to this package.
type Config struct {
	FrameMs         int
	SampleRate      int
	MinUtteranceMs  int
	MaxUtteranceMs  int
	SilenceTimeout  time.Duration
	MaxMemoryBytes  int
	VADThreshold    float64
	KIn             int
	KOut            int
	EchoReferenceMs int
	NoiseMode       NoiseMode
}

// Pipeline composes Framing → Echo cancellation → Noise suppression → VAD
// → Buffering/emission for a single call. It runs single-threaded; a pool
// of these runs in parallel across calls (spec §4.3/§5).
type Pipeline struct {
	callID string
	cfg    Config

	framer *Framer
	echo   *EchoSuppressor
	noise  *NoiseSuppressor
	vad    *VAD
	utter  *UtteranceBuilder

	// OnUtterance is invoked when a complete (non-discarded) utterance is
	// ready for the orchestrator to publish as stt.request.
	OnUtterance func(*Utterance)
	// OnOverflow is invoked for every forced close: a max-duration or
	// memory overflow while appending, or a silence-timeout flush in Tick.
	OnOverflow func(*Utterance)
	// OnStageFailure is invoked when a stage cannot continue; the caller
	// is expected to signal callfsm.EventError.
	OnStageFailure func(error)
}

// New creates a per-call pipeline.
func New(callID string, cfg Config) *Pipeline {
	frameSize := cfg.SampleRate * cfg.FrameMs / 1000
	return &Pipeline{
		callID: callID,
		cfg:    cfg,
		framer: NewFramer(frameSize, cfg.SampleRate),
		echo:   NewEchoSuppressor(cfg.SampleRate, cfg.EchoReferenceMs),
		noise:  NewNoiseSuppressor(cfg.NoiseMode),
		vad:    NewVAD(cfg.VADThreshold, cfg.KIn, cfg.KOut),
		utter: &UtteranceBuilder{
			CallID:         callID,
			SampleRate:     cfg.SampleRate,
			MinDuration:    time.Duration(cfg.MinUtteranceMs) * time.Millisecond,
			MaxDuration:    time.Duration(cfg.MaxUtteranceMs) * time.Millisecond,
			SilenceTimeout: cfg.SilenceTimeout,
			MaxMemoryBytes: cfg.MaxMemoryBytes,
		},
	}
}

// NotePlayedAudio feeds egress (TTS) audio to the echo suppressor's
// reference buffer, so the next ingress frames can be checked for echo.
func (p *Pipeline) NotePlayedAudio(pcm []int16) {
	p.echo.RecordPlayedAudio(pcm)
}

// Ingest pushes newly decoded ingress samples through the full stage
// chain. It may synchronously invoke OnUtterance/OnOverflow zero or more
// times.
func (p *Pipeline) Ingest(samples []int16, now time.Time) {
	frames := p.framer.Push(samples, now)
	for _, f := range frames {
		p.processFrame(f, now)
	}
}

func (p *Pipeline) processFrame(f Frame, now time.Time) {
	conditioned := p.echo.Process(f.PCM)
	conditioned = p.noise.Process(conditioned)

	isSpeech, opened, closed := p.vad.Process(conditioned)
	_ = isSpeech

	// The VAD reports an edge K_in (open) or K_out (close) frames after the
	// run that caused it began; stamp each edge at the start of that run.
	frameDur := time.Duration(f.DurationMs) * time.Millisecond
	if opened {
		p.utter.Open(now.Add(-time.Duration(p.vad.kIn-1) * frameDur))
	}
	if p.utter.IsOpen() {
		if forced := p.utter.Append(conditioned, now); forced != nil {
			p.emit(forced, true)
			return
		}
	}
	if closed {
		if u, ok := p.utter.Close(now.Add(-time.Duration(p.vad.kOut-1) * frameDur)); ok {
			p.emit(u, false)
		}
	}
}

// Tick should be called periodically (e.g. every frame interval) even
// when no new ingress audio arrives, to evaluate the silence-timeout flush
// bound.
func (p *Pipeline) Tick(now time.Time) {
	if u := p.utter.CheckSilenceTimeout(now); u != nil {
		p.emit(u, true)
	}
}

func (p *Pipeline) emit(u *Utterance, forced bool) {
	if forced && p.OnOverflow != nil {
		p.OnOverflow(u)
		return
	}
	if p.OnUtterance != nil {
		p.OnUtterance(u)
	}
}

// VADConfidence exposes the current frame's confidence for barge-in
// debounce gating in the orchestrator.
func (p *Pipeline) VADConfidence() float64 {
	return p.vad.Confidence()
}

// IsEcho reports whether samples correlate with recent egress audio
// strongly enough to be classified as echo rather than genuine barge-in
// speech.
func (p *Pipeline) IsEcho(samples []int16) bool {
	return p.echo.IsEcho(samples)
}
