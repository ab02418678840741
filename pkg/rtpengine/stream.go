package rtpengine

import (
	"sync"
	"time"
)

// StreamStats tracks per-SSRC bookkeeping per spec §3: "lost =
// (received_seq − expected_seq) mod 2^16 accumulated per gap".
type StreamStats struct {
	SSRC             uint32
	FirstPacketTime  time.Time
	LastPacketTime   time.Time
	PacketCount      uint64
	ByteCount        uint64
	ExpectedNextSeq  uint16
	LostPackets      uint64
	LastTimestamp    uint32
	FirstSeq         uint16
	LastSeq          uint16
	firstSeqObserved bool
}

// talkSpurtJumpThreshold is the timestamp delta (in RTP clock ticks, i.e.
// samples) above which a sudden jump is treated as a new talk spurt rather
// than ordinary inter-packet spacing. 20ms frames at 8kHz advance the
// timestamp by 160 per packet; a jump several multiples larger than that
// signals a gap, matching the original source's discontinuity heuristic.
const talkSpurtJumpThreshold = 160 * 10

// Stream is a single SSRC's ingress reassembly state, implementing the
// five-case sequence/loss state machine from spec §4.2.
type Stream struct {
	mu    sync.Mutex
	stats StreamStats

	// reassembly buffer for the current talk spurt; cleared on a detected
	// timestamp discontinuity.
	buffer []byte

	// NewTalkSpurt is invoked (outside the lock) whenever a discontinuity
	// clears the reassembly buffer, so the audio pipeline can flush any
	// in-progress utterance.
	NewTalkSpurt func()
}

// NewStream creates stream state seeded by the first observed packet. The
// caller then passes that same packet to Accept, which counts and delivers
// it as the in-order packet.
func NewStream(ssrc uint32, seq uint16, ts uint32, now time.Time) *Stream {
	return &Stream{
		stats: StreamStats{
			SSRC:            ssrc,
			FirstPacketTime: now,
			LastPacketTime:  now,
			ExpectedNextSeq: seq,
			LastTimestamp:   ts,
			FirstSeq:        seq,
			LastSeq:         seq,
		},
	}
}

// Accept processes an inbound packet per the per-stream state machine:
//  1. seq == expected → accept in order.
//  2. seq > expected (within the 2^15 forward window) → record the gap as
//     lost packets, accept, and fast-forward expected.
//  3. seq < expected by less than 256 (duplicate or late reorder) → drop.
//     Delivered sequence numbers are not tracked, so a late packet that
//     was already counted as lost is dropped too.
//  4. seq < expected by more than that window → accept without moving
//     expected.
//  5. A sudden timestamp jump is treated as a new talk spurt.
//
// Accept returns the payload to deliver downstream, or nil if the packet
// is dropped (case 3).
func (s *Stream) Accept(pkt *Packet, now time.Time) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := pkt.SequenceNumber
	expected := s.stats.ExpectedNextSeq

	delta := int32(seq) - int32(expected)
	// wraparound-aware comparison, per spec's 2^16 mod arithmetic.
	switch {
	case seq == expected:
		s.stats.ExpectedNextSeq = expected + 1
	case isForwardGap(seq, expected):
		lost := uint64(seq - expected)
		s.stats.LostPackets += lost
		s.stats.ExpectedNextSeq = seq + 1
	default:
		// seq < expected within the small duplicate/out-of-order window.
		if isRecentDuplicate(seq, expected) {
			return nil
		}
		// Outside any recognized window: treat conservatively as accepted
		// without moving the expectation forward.
		_ = delta
	}

	if deltaTS(pkt.Timestamp, s.stats.LastTimestamp) > talkSpurtJumpThreshold {
		s.buffer = s.buffer[:0]
		if s.NewTalkSpurt != nil {
			go s.NewTalkSpurt()
		}
	}

	s.stats.PacketCount++
	s.stats.ByteCount += uint64(len(pkt.Payload))
	s.stats.LastPacketTime = now
	s.stats.LastTimestamp = pkt.Timestamp
	s.stats.LastSeq = seq

	s.buffer = append(s.buffer, pkt.Payload...)
	return pkt.Payload
}

// Stats returns a snapshot of the stream's accounting.
func (s *Stream) Stats() StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// isForwardGap reports whether seq is ahead of expected within the forward
// half of the 16-bit sequence space (i.e. not a wraparound-ambiguous
// duplicate).
func isForwardGap(seq, expected uint16) bool {
	diff := seq - expected // wraps naturally for uint16
	return diff != 0 && diff < 0x8000
}

// isRecentDuplicate reports whether seq lands just behind expected, i.e.
// clearly a duplicate/reorder rather than a wrapped-around future packet.
func isRecentDuplicate(seq, expected uint16) bool {
	diff := expected - seq
	return diff > 0 && diff < 0x100
}

func deltaTS(a, b uint32) uint32 {
	if a >= b {
		return a - b
	}
	return b - a
}
