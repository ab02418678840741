package codec

import "math"

// Resample converts linear PCM samples from one sample rate to another using
// a windowed-sinc low-pass FIR filter applied around zero-stuffed
// upsampling and decimation (the classic L/M polyphase-equivalent
// interpolate-filter-decimate structure). This is deliberately NOT the
// naive sample-duplication/decimation approach: spec §4.1 requires a
// band-limited resampler for narrowband↔wideband conversion, and some
// auxiliary scripts in the original source do the naive thing — those are
// explicitly non-normative.
func Resample(pcm []int16, fromRate, toRate int) ([]int16, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, ErrMalformedPayload
	}
	if fromRate == toRate {
		out := make([]int16, len(pcm))
		copy(out, pcm)
		return out, nil
	}
	if len(pcm) == 0 {
		return []int16{}, nil
	}

	l, m := ratio(fromRate, toRate)

	// Upsample by L: insert L-1 zeros between samples.
	upLen := len(pcm) * l
	up := make([]float64, upLen)
	for i, s := range pcm {
		up[i*l] = float64(s)
	}

	// Low-pass filter cutoff is the tighter of the two Nyquist limits,
	// expressed relative to the upsampled rate.
	cutoff := 1.0 / float64(max(l, m))
	taps := designSincFilter(cutoff, 32*max(l, m)+1)

	filtered := convolveSame(up, taps)
	// Interpolation filter gain compensation: zero-stuffing attenuates
	// amplitude by 1/L, so scale back up.
	for i := range filtered {
		filtered[i] *= float64(l)
	}

	// Downsample by M: take every Mth sample.
	outLen := (len(filtered) + m - 1) / m
	out := make([]int16, 0, outLen)
	for i := 0; i < len(filtered); i += m {
		out = append(out, clampInt16(filtered[i]))
	}
	return out, nil
}

func ratio(fromRate, toRate int) (l, m int) {
	g := gcd(fromRate, toRate)
	return toRate / g, fromRate / g
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// designSincFilter builds a windowed-sinc low-pass filter of the given
// length with normalized cutoff (fraction of Nyquist, 0 < cutoff <= 1).
func designSincFilter(cutoff float64, numTaps int) []float64 {
	if numTaps%2 == 0 {
		numTaps++
	}
	taps := make([]float64, numTaps)
	center := float64(numTaps-1) / 2
	sum := 0.0
	for i := 0; i < numTaps; i++ {
		x := float64(i) - center
		var sinc float64
		if x == 0 {
			sinc = cutoff
		} else {
			sinc = math.Sin(math.Pi*cutoff*x) / (math.Pi * x)
		}
		// Hamming window to limit ringing/sidelobes.
		window := 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(numTaps-1))
		taps[i] = sinc * window
		sum += taps[i]
	}
	// Normalize DC gain to 1.
	if sum != 0 {
		for i := range taps {
			taps[i] /= sum
		}
	}
	return taps
}

// convolveSame performs a linear convolution, returning an output the same
// length as the input (taps centered, zero-padded at the edges).
func convolveSame(signal, taps []float64) []float64 {
	out := make([]float64, len(signal))
	half := len(taps) / 2
	for n := range signal {
		var acc float64
		for k, t := range taps {
			idx := n + k - half
			if idx < 0 || idx >= len(signal) {
				continue
			}
			acc += signal[idx] * t
		}
		out[n] = acc
	}
	return out
}

func clampInt16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(math.Round(v))
}
