package rtpengine

import (
	"github.com/pion/rtp"
)

// Packet is the parsed representation of spec §3's "RTP packet" entity,
// built on top of pion/rtp's wire codec for the header/CSRC/extension
// marshaling mechanics.
type Packet struct {
	Version        uint8
	Marker         bool
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	CSRC           []uint32
	Payload        []byte
}

// ParsePacket decodes a raw UDP datagram into a Packet. Version must be 2;
// CSRC entries and any extension header are consumed by pion/rtp's
// unmarshaling, and RTP padding (if the padding bit is set) is stripped
// from the payload automatically.
func ParsePacket(raw []byte) (*Packet, error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(raw); err != nil {
		return nil, ErrMalformedPacket
	}
	if pkt.Version != 2 {
		return nil, ErrMalformedPacket
	}
	return &Packet{
		Version:        pkt.Version,
		Marker:         pkt.Marker,
		PayloadType:    pkt.PayloadType,
		SequenceNumber: pkt.SequenceNumber,
		Timestamp:      pkt.Timestamp,
		SSRC:           pkt.SSRC,
		CSRC:           pkt.CSRC,
		Payload:        pkt.Payload,
	}, nil
}

// Marshal serializes the packet back onto the wire.
func (p *Packet) Marshal() ([]byte, error) {
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         p.Marker,
			PayloadType:    p.PayloadType,
			SequenceNumber: p.SequenceNumber,
			Timestamp:      p.Timestamp,
			SSRC:           p.SSRC,
			CSRC:           p.CSRC,
		},
		Payload: p.Payload,
	}
	buf, err := pkt.Marshal()
	if err != nil {
		return nil, ErrMalformedPacket
	}
	return buf, nil
}
