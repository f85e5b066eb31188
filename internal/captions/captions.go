// Package captions extracts CEA-608 and CEA-708 closed captions from video
// SEI payloads. The ccx decoders do the character-level work; this package
// owns the stream-level state around them: CEA-608 control-pair duplicate
// filtering across access units and DTVCC packet reassembly for CEA-708.
package captions

import "github.com/zsiec/ccx"

// CEA-608 channels occupy 1 through 4; CEA-708 services surface on
// channels 7 and up so the two spaces never collide.
const cea708ChannelBase = 6

// Extractor decodes caption data carried in A/53 SEI messages. One
// Extractor serves one video track; it is not safe for concurrent use.
type Extractor struct {
	cea608Decs map[int]*ccx.CEA608Decoder
	cea708Svcs map[int]*ccx.CEA708Service
	dtvccBuf   []byte

	frameCount    int64
	lastCtrl      [2][2]byte
	lastCtrlValid [2]bool
	lastCtrlFrame [2]int64
}

// NewExtractor returns an Extractor with decoders for the four CEA-608
// channels and the first six CEA-708 services.
func NewExtractor() *Extractor {
	return &Extractor{
		cea608Decs: map[int]*ccx.CEA608Decoder{
			1: ccx.NewCEA608Decoder(),
			2: ccx.NewCEA608Decoder(),
			3: ccx.NewCEA608Decoder(),
			4: ccx.NewCEA608Decoder(),
		},
		cea708Svcs: map[int]*ccx.CEA708Service{
			1: ccx.NewCEA708Service(),
			2: ccx.NewCEA708Service(),
			3: ccx.NewCEA708Service(),
			4: ccx.NewCEA708Service(),
			5: ccx.NewCEA708Service(),
			6: ccx.NewCEA708Service(),
		},
	}
}

// ProcessSEI scans one SEI NAL payload for caption data and returns the
// caption frames that completed decoding, stamped with pts. It returns nil
// when the payload carries no captions or no decoder produced output.
func (e *Extractor) ProcessSEI(sei []byte, pts int64) []*ccx.CaptionFrame {
	cd := ccx.ExtractCaptions(sei)
	if cd == nil {
		return nil
	}

	var frames []*ccx.CaptionFrame

	for _, pair := range cd.CC608Pairs {
		cc1, cc2 := pair.Data[0], pair.Data[1]
		if e.dropRepeatedControl(int(pair.Field), cc1, cc2) {
			continue
		}

		dec := e.cea608Decs[pair.Channel]
		if dec == nil {
			continue
		}
		text := dec.Decode(cc1, cc2)
		if text == "" {
			continue
		}
		frame := &ccx.CaptionFrame{PTS: pts, Text: text, Channel: pair.Channel}
		frame.Regions = dec.StyledRegions()
		frames = append(frames, frame)
	}

	for _, t := range cd.DTVCC {
		if t.Start {
			frames = append(frames, e.drainDTVCC(pts)...)
			e.dtvccBuf = e.dtvccBuf[:0]
		}
		e.dtvccBuf = append(e.dtvccBuf, t.Data[0], t.Data[1])
	}

	return frames
}

// AdvanceFrame marks the end of one video access unit. The CEA-608
// duplicate filter measures control-pair retransmission distance in
// access units, so the caller advances this once per emitted frame.
func (e *Extractor) AdvanceFrame() {
	e.frameCount++
}

// dropRepeatedControl reports whether a CEA-608 byte pair is the mandated
// retransmission of the previous control pair on the same field. Control
// pairs are sent twice on consecutive frames for loss resilience; the same
// pair more than two access units later is a genuine new command, and any
// intervening non-control pair ends the window early.
func (e *Extractor) dropRepeatedControl(field int, cc1, cc2 byte) bool {
	isCtrl := cc1 >= 0x10 && cc1 <= 0x1F
	if !isCtrl {
		e.lastCtrlValid[field] = false
		return false
	}

	pair := [2]byte{cc1, cc2}
	gap := e.frameCount - e.lastCtrlFrame[field]
	if e.lastCtrlValid[field] && e.lastCtrl[field] == pair && gap <= 2 {
		e.lastCtrlValid[field] = false
		return true
	}
	e.lastCtrl[field] = pair
	e.lastCtrlValid[field] = true
	e.lastCtrlFrame[field] = e.frameCount
	return false
}

// drainDTVCC parses one complete DTVCC packet from the reassembly buffer
// and feeds its service blocks to the CEA-708 decoders. Partial packets
// stay buffered until the next packet start flushes them.
func (e *Extractor) drainDTVCC(pts int64) []*ccx.CaptionFrame {
	if len(e.dtvccBuf) < 1 {
		return nil
	}

	packetSize := ccx.DTVCCPacketSize(e.dtvccBuf[0])
	if len(e.dtvccBuf) < packetSize {
		return nil
	}

	var frames []*ccx.CaptionFrame
	for _, block := range ccx.ParseDTVCCPacket(e.dtvccBuf[:packetSize]) {
		svc := e.cea708Svcs[block.ServiceNum]
		if svc == nil {
			continue
		}
		if !svc.ProcessBlock(block.Data) {
			continue
		}
		text := svc.DisplayText()
		if text == "" {
			continue
		}
		channel := block.ServiceNum + cea708ChannelBase
		frame := &ccx.CaptionFrame{PTS: pts, Text: text, Channel: channel}
		frame.Regions = svc.StyledRegions()
		frames = append(frames, frame)
	}
	e.dtvccBuf = e.dtvccBuf[packetSize:]
	return frames
}
