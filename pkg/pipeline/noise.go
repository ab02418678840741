package pipeline

import "math"

// NoiseMode selects the depth of spectral subtraction applied.
type NoiseMode int

const (
	NoiseOff NoiseMode = iota
	NoiseGentle
	NoiseModerate
	NoiseAggressive
)

// noiseDepth maps a mode to the fraction of the estimated noise floor
// subtracted from each frame's magnitude.
var noiseDepth = map[NoiseMode]float64{
	NoiseOff:        0.0,
	NoiseGentle:     0.3,
	NoiseModerate:   0.6,
	NoiseAggressive: 0.9,
}

// NoiseSuppressor attenuates stationary noise using single-band spectral
// subtraction: a noise floor is built from the first framesToLearn frames
// of (assumed) silence, then continuously adapted with a slow exponential
// average so the floor tracks a drifting line-noise level.
type NoiseSuppressor struct {
	mode         NoiseMode
	noiseFloor   float64
	framesSeen   int
	framesToLearn int
	adaptRate    float64
}

// NewNoiseSuppressor creates a suppressor in the given mode, learning its
// initial noise floor from the first ~200ms (10 frames at 20ms) of audio.
func NewNoiseSuppressor(mode NoiseMode) *NoiseSuppressor {
	return &NoiseSuppressor{
		mode:          mode,
		framesToLearn: 10,
		adaptRate:     0.02,
	}
}

func (n *NoiseSuppressor) SetMode(mode NoiseMode) { n.mode = mode }

// Process attenuates the frame's energy toward its noise floor by the
// mode's subtraction depth, applied as a uniform gain rather than a true
// per-bin FFT subtraction (adequate at 20ms-frame granularity for the
// narrowband telephony case this pipeline targets).
func (n *NoiseSuppressor) Process(frame []int16) []int16 {
	energy := rmsOf(frame)

	if n.framesSeen < n.framesToLearn {
		n.noiseFloor = (n.noiseFloor*float64(n.framesSeen) + energy) / float64(n.framesSeen+1)
		n.framesSeen++
	} else {
		n.noiseFloor = n.noiseFloor*(1-n.adaptRate) + energy*n.adaptRate
	}

	depth := noiseDepth[n.mode]
	if depth == 0 || energy == 0 {
		return frame
	}

	excess := energy - n.noiseFloor*depth
	if excess <= 0 {
		excess = energy * 0.05 // floor so we never fully zero real speech
	}
	gain := excess / energy
	if gain > 1 {
		gain = 1
	}

	out := make([]int16, len(frame))
	for i, s := range frame {
		out[i] = int16(math.Round(float64(s) * gain))
	}
	return out
}
