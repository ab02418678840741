package pipeline

import "time"

// UtteranceBuilder accumulates an open utterance's samples, enforcing
// spec §4.3's min/max duration, silence-timeout-to-flush, and
// max-memory-per-call bounds.
type UtteranceBuilder struct {
	CallID             string
	SampleRate         int
	MinDuration        time.Duration
	MaxDuration        time.Duration
	SilenceTimeout     time.Duration
	MaxMemoryBytes     int

	samples       []int16
	startTime     time.Time
	lastFrameTime time.Time
	open          bool
}

// Open begins accumulating a new utterance at the given start time.
func (b *UtteranceBuilder) Open(at time.Time) {
	b.samples = b.samples[:0]
	b.startTime = at
	b.lastFrameTime = at
	b.open = true
}

// IsOpen reports whether an utterance is currently being accumulated.
func (b *UtteranceBuilder) IsOpen() bool { return b.open }

// Append adds one frame's samples to the open utterance. It returns a
// closed Utterance if appending caused max_duration or max_memory to be
// exceeded (force-close, Forced=true), or nil if accumulation continues.
func (b *UtteranceBuilder) Append(pcm []int16, at time.Time) *Utterance {
	if !b.open {
		b.Open(at)
	}
	b.samples = append(b.samples, pcm...)
	b.lastFrameTime = at

	duration := at.Sub(b.startTime)
	overDuration := b.MaxDuration > 0 && duration >= b.MaxDuration
	overMemory := b.MaxMemoryBytes > 0 && len(b.samples)*2 >= b.MaxMemoryBytes
	if overDuration || overMemory {
		return b.closeForced(at)
	}
	return nil
}

// CheckSilenceTimeout force-closes the utterance if SilenceTimeout has
// elapsed with no new frames, used when the VAD hasn't itself emitted a
// close edge (e.g. speech tapering without ever going fully silent).
func (b *UtteranceBuilder) CheckSilenceTimeout(now time.Time) *Utterance {
	if !b.open || b.SilenceTimeout <= 0 {
		return nil
	}
	if now.Sub(b.lastFrameTime) >= b.SilenceTimeout {
		return b.closeForced(now)
	}
	return nil
}

// Close ends the utterance on a VAD close edge. If the accumulated
// duration is below MinDuration, the utterance is discarded (nil, false)
// rather than emitted as a too-short fragment.
func (b *UtteranceBuilder) Close(at time.Time) (*Utterance, bool) {
	if !b.open {
		return nil, false
	}
	duration := at.Sub(b.startTime)
	b.open = false
	if b.MinDuration > 0 && duration < b.MinDuration {
		return nil, false
	}
	return &Utterance{
		CallID:     b.CallID,
		StartTime:  b.startTime,
		Duration:   duration,
		AudioBytes: append([]int16(nil), b.samples...),
		SampleRate: b.SampleRate,
	}, true
}

func (b *UtteranceBuilder) closeForced(at time.Time) *Utterance {
	u := &Utterance{
		CallID:     b.CallID,
		StartTime:  b.startTime,
		Duration:   at.Sub(b.startTime),
		AudioBytes: append([]int16(nil), b.samples...),
		SampleRate: b.SampleRate,
		Forced:     true,
	}
	b.open = false
	return u
}
