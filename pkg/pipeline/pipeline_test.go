package pipeline

import (
	"math"
	"testing"
	"time"
)

func speechFrame(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(12000 * math.Sin(2*math.Pi*300*float64(i)/8000))
	}
	return out
}

func silenceFrame(n int) []int16 {
	return make([]int16, n)
}

func TestPipelineEmitsOneUtteranceForSpeechThenSilence(t *testing.T) {
	cfg := Config{
		FrameMs:        20,
		SampleRate:     8000,
		MinUtteranceMs: 100,
		MaxUtteranceMs: 5000,
		SilenceTimeout: 2 * time.Second,
		VADThreshold:   0.05,
		KIn:            3,
		KOut:           15,
	}
	p := New("call-1", cfg)

	var emitted []*Utterance
	p.OnUtterance = func(u *Utterance) { emitted = append(emitted, u) }

	now := time.Now()
	frameSize := 160 // 20ms @ 8kHz

	// 300ms of speech = 15 frames.
	for i := 0; i < 15; i++ {
		p.Ingest(speechFrame(frameSize), now)
		now = now.Add(20 * time.Millisecond)
	}
	// 1700ms of silence = 85 frames, enough to clear K_out=15 hysteresis.
	for i := 0; i < 85; i++ {
		p.Ingest(silenceFrame(frameSize), now)
		now = now.Add(20 * time.Millisecond)
	}

	if len(emitted) != 1 {
		t.Fatalf("expected exactly 1 utterance, got %d", len(emitted))
	}
	ms := emitted[0].Duration.Milliseconds()
	if ms < 200 || ms > 400 {
		t.Fatalf("expected utterance duration near 300ms, got %dms", ms)
	}
}

func TestUtteranceBuilderDiscardsBelowMinDuration(t *testing.T) {
	b := &UtteranceBuilder{
		SampleRate:  8000,
		MinDuration: 200 * time.Millisecond,
	}
	now := time.Now()
	b.Append(make([]int16, 160), now)
	_, ok := b.Close(now.Add(50 * time.Millisecond))
	if ok {
		t.Fatalf("expected short utterance to be discarded")
	}
}

func TestUtteranceBuilderForcesCloseOnMaxDuration(t *testing.T) {
	b := &UtteranceBuilder{
		SampleRate:  8000,
		MaxDuration: 100 * time.Millisecond,
	}
	now := time.Now()
	b.Open(now)
	u := b.Append(make([]int16, 8000), now.Add(150*time.Millisecond)) // 1s of samples
	if u == nil || !u.Forced {
		t.Fatalf("expected forced close on max duration overflow")
	}
}
