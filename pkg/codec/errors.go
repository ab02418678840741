package codec

import "errors"

var (
	// ErrUnsupportedCodec is returned for any codec identifier not in the known set.
	ErrUnsupportedCodec = errors.New("codec: unsupported codec")

	// ErrMalformedPayload is returned when a payload's length does not match
	// the codec's expected frame sizing.
	ErrMalformedPayload = errors.New("codec: malformed payload")
)
