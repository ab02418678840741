package codec

// Decode converts a wire payload in the given codec to linear PCM samples.
// Linear decoding of μ-law/A-law follows the G.711 segment arithmetic in
// g711.go exactly (8-bit companded → 14-bit linear, zero-extended to 16-bit).
func Decode(payload []byte, c Codec) ([]int16, error) {
	switch c {
	case CodecMuLaw:
		return DecodeMuLaw(payload), nil
	case CodecALaw:
		return DecodeALaw(payload), nil
	case CodecLinearPCM, CodecWideband:
		if len(payload)%2 != 0 {
			return nil, ErrMalformedPayload
		}
		return BytesToInt16(payload), nil
	default:
		return nil, ErrUnsupportedCodec
	}
}

// Encode is the inverse of Decode. Samples are clamped to ±32635 before
// companding to match G.711's definition exactly.
func Encode(pcm []int16, c Codec) ([]byte, error) {
	switch c {
	case CodecMuLaw:
		return EncodeMuLaw(clampToG711Range(pcm)), nil
	case CodecALaw:
		return EncodeALaw(clampToG711Range(pcm)), nil
	case CodecLinearPCM, CodecWideband:
		return Int16ToBytes(pcm), nil
	default:
		return nil, ErrUnsupportedCodec
	}
}

func clampToG711Range(pcm []int16) []int16 {
	out := make([]int16, len(pcm))
	for i, s := range pcm {
		switch {
		case s > 32635:
			out[i] = 32635
		case s < -32635:
			out[i] = -32635
		default:
			out[i] = s
		}
	}
	return out
}

// Transcode decodes payload under fromCodec at fromRate, resamples to
// toRate if needed, and re-encodes under toCodec. It is deterministic and
// referentially transparent: the same input always produces the same
// output.
func Transcode(payload []byte, fromCodec Codec, fromRate int, toCodec Codec, toRate int) ([]byte, error) {
	if err := validateFrameLength(payload, fromCodec, fromRate); err != nil {
		return nil, err
	}
	pcm, err := Decode(payload, fromCodec)
	if err != nil {
		return nil, err
	}
	if fromRate != toRate {
		pcm, err = Resample(pcm, fromRate, toRate)
		if err != nil {
			return nil, err
		}
	}
	return Encode(pcm, toCodec)
}

// validateFrameLength enforces that a codec payload's length matches the
// expected 20ms frame sizing for its codec and rate (e.g. 160 bytes of
// μ-law at 8 kHz).
func validateFrameLength(payload []byte, c Codec, sampleRate int) error {
	expectedSamples := Frame20ms(sampleRate)
	switch c {
	case CodecMuLaw, CodecALaw:
		if len(payload) != expectedSamples {
			return ErrMalformedPayload
		}
	case CodecLinearPCM, CodecWideband:
		if len(payload) != expectedSamples*2 {
			return ErrMalformedPayload
		}
	default:
		return ErrUnsupportedCodec
	}
	return nil
}
