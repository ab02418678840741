package pipeline

import "time"

// Frame is spec §3's "Audio frame" entity: a block of 16-bit PCM samples
// plus metadata. Frames are immutable once emitted from the stage that produced
// them.
type Frame struct {
	PCM        []int16
	Timestamp  time.Time
	DurationMs int
	SampleRate int
	Channels   int
	BitDepth   int
	IsSpeech   bool
	SourceTag  string
}

// Utterance is spec §3's VAD-delimited speech segment.
type Utterance struct {
	CallID     string
	StartTime  time.Time
	Duration   time.Duration
	AudioBytes []int16
	SampleRate int
	Confidence float64
	Forced     bool
}
