package mpegts

import (
	"fmt"

	"github.com/zsiec/refract/internal/bitstream"
)

const (
	packetSize = 188
	syncByte   = 0x47
)

// parsePacket parses one 188-byte transport packet. An adaptation field
// length that overruns the packet is clamped to the packet end.
func parsePacket(buf []byte) (*Packet, error) {
	if len(buf) != packetSize {
		return nil, fmt.Errorf("mpegts: packet size %d, expected %d", len(buf), packetSize)
	}
	if buf[0] != syncByte {
		return nil, fmt.Errorf("mpegts: invalid sync byte 0x%02X", buf[0])
	}

	r := bitstream.NewReader(buf)
	r.SkipBits(8)

	p := &Packet{}
	p.Header.TransportErrorIndicator = r.ReadBit()
	p.Header.PayloadUnitStartIndicator = r.ReadBit()
	r.SkipBit() // transport_priority
	p.Header.PID = uint16(r.ReadBits(13))
	r.SkipBits(2) // transport_scrambling_control
	p.Header.HasAdaptationField = r.ReadBit()
	p.Header.HasPayload = r.ReadBit()
	p.Header.ContinuityCounter = uint8(r.ReadBits(4))

	if p.Header.HasAdaptationField {
		afLen := int(r.ReadBits(8))
		if afLen > 0 {
			p.Header.DiscontinuityIndicator = r.ReadBit()
			r.SkipBits(7)
			skip := afLen - 1
			if left := r.BitsLeft() / 8; skip > left {
				skip = left
			}
			r.SkipBytes(skip)
		}
	}

	if p.Header.HasPayload {
		if n := r.BitsLeft() / 8; n > 0 {
			p.Payload = make([]byte, n)
			r.ReadBytes(p.Payload)
		}
	}

	return p, nil
}
