package rtpengine

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/lokutor-ai/voicebridge/pkg/codec"
)

// Frame is a decoded ingress frame handed to the audio pipeline, tagged
// with the call it belongs to.
type Frame struct {
	CallID    string
	PCM       []int16
	Timestamp uint32
	Marker    bool
}

// Endpoint owns one UDP socket for one call: it reads inbound RTP packets,
// feeds them through the per-SSRC Stream state machine and codec decode,
// and paces outbound packets at 20ms intervals. The pipeline runs
// single-threaded per call (spec §5); Endpoint is that per-call task.
type Endpoint struct {
	CallID   string
	Codec    codec.Codec
	SampleRate int

	conn   *net.UDPConn
	stream *Stream

	outSeq uint32
	outTS  uint32
	outSSRC uint32
	nextSend time.Time // earliest time the next outbound frame may go out

	frames chan Frame
	errs   chan error

	closeOnce sync.Once
}

// NewEndpoint binds a UDP socket on localPort and begins listening.
func NewEndpoint(callID string, localPort int, c codec.Codec, sampleRate int) (*Endpoint, error) {
	addr := &net.UDPAddr{Port: localPort}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return &Endpoint{
		CallID:     callID,
		Codec:      c,
		SampleRate: sampleRate,
		conn:       conn,
		outSSRC:    ssrcForCall(callID),
		frames:     make(chan Frame, 64),
		errs:       make(chan error, 8),
	}, nil
}

// Frames returns the channel of decoded ingress frames.
func (e *Endpoint) Frames() <-chan Frame { return e.frames }

// Errors returns the channel of non-fatal parse/decode errors, for
// counting via telemetry without disturbing the call.
func (e *Endpoint) Errors() <-chan error { return e.errs }

// Run reads datagrams until ctx is cancelled or the socket closes.
func (e *Endpoint) Run(ctx context.Context) {
	buf := make([]byte, 1500)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		e.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, _, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue // read timeout, loop to re-check ctx
			}
			return // socket closed or failed
		}
		e.handleDatagram(buf[:n])
	}
}

func (e *Endpoint) handleDatagram(raw []byte) {
	pkt, err := ParsePacket(raw)
	if err != nil {
		select {
		case e.errs <- err:
		default:
		}
		return
	}
	if e.stream == nil {
		e.stream = NewStream(pkt.SSRC, pkt.SequenceNumber, pkt.Timestamp, time.Now())
	}
	payload := e.stream.Accept(pkt, time.Now())
	if payload == nil {
		return
	}
	pcm, err := codec.Decode(payload, e.Codec)
	if err != nil {
		select {
		case e.errs <- err:
		default:
		}
		return
	}
	select {
	case e.frames <- Frame{CallID: e.CallID, PCM: pcm, Timestamp: pkt.Timestamp, Marker: pkt.Marker}:
	default:
		// Downstream pipeline is not keeping up; drop rather than block
		// the socket reader (spec: pipeline overflow is non-fatal).
	}
}

// SendFrame encodes and paces one 20ms outbound frame to the remote
// endpoint, numbering it with the per-call sequence and timestamp. It
// sleeps as needed so that consecutive frames leave at least 20ms apart.
func (e *Endpoint) SendFrame(remote *net.UDPAddr, pcm []int16, marker bool) error {
	payload, err := codec.Encode(pcm, e.Codec)
	if err != nil {
		return err
	}
	pkt := &Packet{
		Version:        2,
		Marker:         marker,
		PayloadType:    outboundPayloadType(e.Codec),
		SequenceNumber: uint16(e.outSeq),
		Timestamp:      e.outTS,
		SSRC:           e.outSSRC,
		Payload:        payload,
	}
	e.outSeq++
	e.outTS += uint32(codec.Frame20ms(e.SampleRate))

	buf, err := pkt.Marshal()
	if err != nil {
		return err
	}
	now := time.Now()
	if e.nextSend.After(now) {
		time.Sleep(e.nextSend.Sub(now))
		now = e.nextSend
	}
	e.nextSend = now.Add(20 * time.Millisecond)
	_, err = e.conn.WriteToUDP(buf, remote)
	return err
}

// Close releases the socket. Idempotent.
func (e *Endpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		err = e.conn.Close()
		close(e.frames)
		close(e.errs)
	})
	return err
}

func outboundPayloadType(c codec.Codec) uint8 {
	switch c {
	case codec.CodecALaw:
		return 8
	case codec.CodecWideband:
		return 9
	default:
		return 0
	}
}

// ssrcForCall derives a stable per-call SSRC so outbound streams are
// distinguishable without a separate allocator.
func ssrcForCall(callID string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(callID); i++ {
		h ^= uint32(callID[i])
		h *= 16777619
	}
	return h
}
