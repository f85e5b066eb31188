// Package rtp packetizes normalized H.264 video frames into RTP packets
// and pushes them to a UDP destination. Timestamps come off the shared
// microsecond timeline and leave on the 90 kHz RTP clock.
package rtp

import (
	"sync"

	"github.com/pion/rtp"

	"github.com/zsiec/refract/internal/codecs"
	"github.com/zsiec/refract/internal/media"
	"github.com/zsiec/refract/internal/timestamp"
)

// H.264 payload structures from RFC 6184.
const (
	naluTypeSPS = 7
	naluTypePPS = 8
	naluTypeAUD = 9
	naluTypeFUA = 28

	rtpHeaderSize = 12
	fuOverhead    = 2

	// DefaultMTU leaves room for IP/UDP headers inside a 1500-byte path.
	DefaultMTU = 1200

	// DynamicPayloadType is the default dynamic payload type for H.264.
	DynamicPayloadType = 96
)

// Payloader converts H.264 access units into RTP packets: single NAL unit
// packets when they fit the MTU, FU-A fragments otherwise. Parameter sets
// captured from the stream are re-sent ahead of every keyframe so a
// receiver can join mid-stream. Safe for concurrent use.
type Payloader struct {
	mu          sync.Mutex
	ssrc        uint32
	payloadType uint8
	mtu         int
	sequencer   rtp.Sequencer
}

// NewPayloader creates a Payloader with the given SSRC. mtu <= 0 selects
// DefaultMTU.
func NewPayloader(ssrc uint32, payloadType uint8, mtu int) *Payloader {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	return &Payloader{
		ssrc:        ssrc,
		payloadType: payloadType,
		mtu:         mtu,
		sequencer:   rtp.NewRandomSequencer(),
	}
}

// Packetize converts one video frame into RTP packets. The marker bit is
// set on the final packet of the access unit. Frames with an unset PTS
// produce nothing; without a timestamp they cannot be scheduled.
func (p *Payloader) Packetize(frame *media.VideoFrame) []*rtp.Packet {
	if frame.PTS == timestamp.TimeUnset || len(frame.NALUs) == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	// 90 kHz ticks from normalized µs; RTP timestamps wrap at 32 bits by
	// design.
	ts := uint32(timestamp.UsToNonWrappedPts(frame.PTS))

	nalus := make([][]byte, 0, len(frame.NALUs)+2)
	if frame.IsKeyframe {
		if len(frame.SPS) > 0 && !containsNALUType(frame.NALUs, naluTypeSPS) {
			nalus = append(nalus, frame.SPS)
		}
		if len(frame.PPS) > 0 && !containsNALUType(frame.NALUs, naluTypePPS) {
			nalus = append(nalus, frame.PPS)
		}
	}
	for _, n := range frame.NALUs {
		nalu := codecs.StripStartCode(n)
		if len(nalu) == 0 || nalu[0]&0x1F == naluTypeAUD {
			continue
		}
		nalus = append(nalus, nalu)
	}

	var packets []*rtp.Packet
	for i, nalu := range nalus {
		isLast := i == len(nalus)-1
		if len(nalu) <= p.mtu-rtpHeaderSize {
			packets = append(packets, p.packet(nalu, ts, isLast))
			continue
		}
		packets = append(packets, p.fragment(nalu, ts, isLast)...)
	}
	return packets
}

func (p *Payloader) packet(payload []byte, ts uint32, marker bool) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    p.payloadType,
			SequenceNumber: p.sequencer.NextSequenceNumber(),
			Timestamp:      ts,
			SSRC:           p.ssrc,
		},
		Payload: payload,
	}
}

// fragment splits a NAL unit into FU-A packets (RFC 6184 section 5.8).
func (p *Payloader) fragment(nalu []byte, ts uint32, isLastNALU bool) []*rtp.Packet {
	nalType := nalu[0] & 0x1F
	nri := nalu[0] & 0x60

	payload := nalu[1:]
	maxPayload := p.mtu - rtpHeaderSize - fuOverhead

	var packets []*rtp.Packet
	for offset := 0; offset < len(payload); {
		end := offset + maxPayload
		if end > len(payload) {
			end = len(payload)
		}
		isStart := offset == 0
		isEnd := end == len(payload)

		fuHeader := nalType
		if isStart {
			fuHeader |= 0x80
		}
		if isEnd {
			fuHeader |= 0x40
		}

		pkt := make([]byte, fuOverhead+end-offset)
		pkt[0] = nri | naluTypeFUA
		pkt[1] = fuHeader
		copy(pkt[2:], payload[offset:end])

		packets = append(packets, p.packet(pkt, ts, isEnd && isLastNALU))
		offset = end
	}
	return packets
}

func containsNALUType(nalus [][]byte, typ byte) bool {
	for _, n := range nalus {
		nalu := codecs.StripStartCode(n)
		if len(nalu) > 0 && nalu[0]&0x1F == typ {
			return true
		}
	}
	return false
}
