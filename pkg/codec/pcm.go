package codec

import "encoding/binary"

// Codec identifies a supported narrowband/wideband audio codec.
type Codec int

const (
	CodecMuLaw Codec = iota // payload type 0, 8 kHz, mono
	CodecALaw               // payload type 8, 8 kHz, mono
	CodecLinearPCM
	CodecWideband // payload type 9, 16 kHz, mono, linear-in-RTP
)

// PayloadType maps an RTP static payload type to its negotiated codec and
// sample rate, per spec §6.
type PayloadType struct {
	Codec      Codec
	SampleRate int
}

// payloadTypes is the compile-time table of supported (PT, codec, rate)
// tuples. Only PTs 0, 8, and 9 are in scope.
var payloadTypes = map[uint8]PayloadType{
	0: {CodecMuLaw, 8000},
	8: {CodecALaw, 8000},
	9: {CodecWideband, 16000},
}

// LookupPayloadType returns the codec/rate bound to an RTP payload type.
func LookupPayloadType(pt uint8) (PayloadType, error) {
	v, ok := payloadTypes[pt]
	if !ok {
		return PayloadType{}, ErrUnsupportedCodec
	}
	return v, nil
}

// Frame20ms returns the number of linear PCM samples in a 20ms frame at the
// given sample rate.
func Frame20ms(sampleRate int) int {
	return sampleRate / 50
}

// BytesToInt16 reinterprets a little-endian byte buffer as linear PCM
// samples. The buffer length must be even.
func BytesToInt16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// Int16ToBytes serializes linear PCM samples back to little-endian bytes.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
