package pipeline

import "time"

// Framer buffers raw decoded samples into fixed-size frames and never
// emits a partial frame.
type Framer struct {
	frameSize  int // samples per frame
	sampleRate int
	carry      []int16
}

// NewFramer creates a framer for the given frame size (in samples).
func NewFramer(frameSize, sampleRate int) *Framer {
	return &Framer{frameSize: frameSize, sampleRate: sampleRate}
}

// Push appends newly decoded samples and returns zero or more complete
// frames. Any remainder below frameSize is carried over to the next call.
func (f *Framer) Push(samples []int16, now time.Time) []Frame {
	f.carry = append(f.carry, samples...)

	var out []Frame
	for len(f.carry) >= f.frameSize {
		chunk := make([]int16, f.frameSize)
		copy(chunk, f.carry[:f.frameSize])
		f.carry = f.carry[f.frameSize:]
		out = append(out, Frame{
			PCM:        chunk,
			Timestamp:  now,
			DurationMs: int(1000 * f.frameSize / f.sampleRate),
			SampleRate: f.sampleRate,
			Channels:   1,
			BitDepth:   16,
		})
	}
	return out
}
