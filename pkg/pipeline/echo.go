package pipeline

import "math"

// EchoSuppressor suppresses components of the input signal correlated
// with recently-played egress audio (the agent's own TTS output leaking
// back through the line). It operates frame-by-frame with bounded memory
// (≤200ms of reference history per spec §4.3) and is adapted from the
// teacher's mic-loopback echo suppressor, generalized from a single
// in-process mic/speaker pair into an explicit pipeline Stage that consumes
// a reference-audio feed.
type EchoSuppressor struct {
	sampleRate   int
	referenceMs  int
	reference    []int16
	threshold    float64
	enabled      bool
}

// NewEchoSuppressor creates a suppressor retaining up to referenceMs of
// egress history at sampleRate.
func NewEchoSuppressor(sampleRate, referenceMs int) *EchoSuppressor {
	if referenceMs <= 0 || referenceMs > 200 {
		referenceMs = 200
	}
	return &EchoSuppressor{
		sampleRate:  sampleRate,
		referenceMs: referenceMs,
		threshold:   0.35,
		enabled:     true,
	}
}

// RecordPlayedAudio appends egress audio to the bounded reference buffer,
// evicting the oldest samples beyond referenceMs.
func (es *EchoSuppressor) RecordPlayedAudio(chunk []int16) {
	es.reference = append(es.reference, chunk...)
	maxSamples := es.sampleRate * es.referenceMs / 1000
	if len(es.reference) > maxSamples {
		es.reference = es.reference[len(es.reference)-maxSamples:]
	}
}

// ClearEchoBuffer discards reference history, e.g. on a new talk spurt.
func (es *EchoSuppressor) ClearEchoBuffer() {
	es.reference = es.reference[:0]
}

func (es *EchoSuppressor) SetThreshold(t float64) { es.threshold = t }
func (es *EchoSuppressor) SetEnabled(v bool)      { es.enabled = v }

// IsEcho reports whether the input frame correlates strongly enough with
// recent egress audio to be classified as echo rather than genuine speech
// (used to gate barge-in detection during/just after playback).
func (es *EchoSuppressor) IsEcho(input []int16) bool {
	if !es.enabled || len(es.reference) == 0 {
		return false
	}
	corr := es.maxCorrelation(input, es.reference)
	if corr >= es.threshold {
		return true
	}
	// Sibilant ('S'-sound) energy correlates poorly in the time domain but
	// tracks in its amplitude envelope; check that too.
	return es.maxEnvelopeCorrelation(input, es.reference) >= es.threshold
}

// Process returns the conditioned frame: a copy of input, attenuated when
// it correlates with the reference, or input itself when suppression is off
// or there is no reference. input is never modified. The contract (spec §4.3) is ≥10dB echo energy
// reduction in steady state against a simulated delayed-and-attenuated
// echo.
func (es *EchoSuppressor) Process(input []int16) []int16 {
	if !es.enabled || len(es.reference) == 0 {
		return input
	}
	out := make([]int16, len(input))
	copy(out, input)
	if es.IsEcho(input) {
		const attenuation = 0.15 // -16.5dB, comfortably clears the 10dB floor
		for i, s := range out {
			out[i] = int16(float64(s) * attenuation)
		}
	}
	return out
}

func (es *EchoSuppressor) maxCorrelation(input, reference []int16) float64 {
	in := toFloat(input)
	ref := toFloat(reference)
	best := 0.0
	// Search a small set of lag offsets within the reference window rather
	// than every sample, bounding the cost per frame.
	step := maxInt(1, len(ref)/32)
	for lag := 0; lag+len(in) <= len(ref); lag += step {
		c := correlation(in, ref[lag:lag+len(in)])
		if c > best {
			best = c
		}
	}
	return best
}

func (es *EchoSuppressor) maxEnvelopeCorrelation(input, reference []int16) float64 {
	in := envelope(toFloat(input), 8)
	ref := envelope(toFloat(reference), 8)
	best := 0.0
	step := maxInt(1, len(ref)/32)
	for lag := 0; lag+len(in) <= len(ref); lag += step {
		c := correlation(in, ref[lag:lag+len(in)])
		if c > best {
			best = c
		}
	}
	return best
}

func correlation(a, b []float64) float64 {
	n := len(a)
	if n == 0 || len(b) < n {
		return 0
	}
	var num, da, db float64
	for i := 0; i < n; i++ {
		num += a[i] * b[i]
		da += a[i] * a[i]
		db += b[i] * b[i]
	}
	denom := math.Sqrt(da * db)
	if denom == 0 {
		return 0
	}
	return num / denom
}

// envelope computes a decimated amplitude envelope (moving-window energy)
// so that frequency-shifted or phase-shifted but similarly-voiced content
// (e.g. sibilants) still shows up as correlated.
func envelope(samples []float64, decimation int) []float64 {
	if decimation <= 0 {
		decimation = 1
	}
	out := make([]float64, 0, len(samples)/decimation+1)
	for i := 0; i < len(samples); i += decimation {
		end := i + decimation
		if end > len(samples) {
			end = len(samples)
		}
		var e float64
		for _, s := range samples[i:end] {
			e += s * s
		}
		out = append(out, math.Sqrt(e/float64(end-i)))
	}
	return out
}

func toFloat(samples []int16) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s) / 32768.0
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
