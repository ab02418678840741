package rtpengine

import "errors"

var (
	// ErrMalformedPacket is counted and the packet dropped; never fatal to
	// the call.
	ErrMalformedPacket = errors.New("rtpengine: malformed packet")

	// ErrStreamLimitExceeded reports too many concurrently tracked SSRCs.
	// CorrelationManager has no SSRC limit, and nothing in this package
	// returns this error.
	ErrStreamLimitExceeded = errors.New("rtpengine: stream limit exceeded")

	// ErrNoPortsAvailable is terminal for the call that requested a lease.
	ErrNoPortsAvailable = errors.New("rtpengine: no ports available")

	// ErrUnknownSSRC describes a correlation lookup that misses with no
	// listening-port binding to create one. CorrelationManager.BindSSRC
	// reports that case by returning ok=false, not this error.
	ErrUnknownSSRC = errors.New("rtpengine: unknown ssrc, no binding available")
)
