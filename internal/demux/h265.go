package demux

import (
	"context"
	"math/bits"

	"github.com/zsiec/refract/internal/captions"
	"github.com/zsiec/refract/internal/codecs"
	"github.com/zsiec/refract/internal/media"
	"github.com/zsiec/refract/internal/mpegts"
)

// H.265 NAL unit types, ITU-T H.265 Table 7-1.
const (
	hevcNALBlaWLP     = 16
	hevcNALCraNut     = 21
	hevcNALVPS        = 32
	hevcNALSPS        = 33
	hevcNALPPS        = 34
	hevcNALAUD        = 35
	hevcNALFillerData = 38
	hevcNALSEIPrefix  = 39
)

// hevcNALType extracts the unit type from the first byte of the 2-byte
// HEVC NAL header: forbidden(1) | type(6) | layerID_high(1).
func hevcNALType(firstByte byte) byte {
	return (firstByte >> 1) & 0x3F
}

// isHEVCKeyframe reports whether the NAL type is a random access point
// (BLA, IDR, or CRA).
func isHEVCKeyframe(nalType byte) bool {
	return nalType >= hevcNALBlaWLP && nalType <= hevcNALCraNut
}

// HEVCSPSInfo holds the fields extracted from an H.265 sequence parameter set.
type HEVCSPSInfo struct {
	Width  int
	Height int
	Params codecs.HevcParams
}

// CodecString returns the RFC 6381 identifier for the parameter set.
func (s HEVCSPSInfo) CodecString() string {
	return codecs.HevcCodecString(s.Params)
}

// h265Track parses the H.265 elementary stream of one PID. Same shape as
// h264Track; the differences are the 2-byte NAL header, the extra VPS, and
// the profile_tier_level block in the SPS.
type h265Track struct {
	d       *Demuxer
	pid     uint16
	primary bool
	started bool
	ch      chan *mpegts.PESData

	vps, sps, pps []byte
	codec         string
	captions      *captions.Extractor
	groupID       uint32
}

func newH265Track(d *Demuxer, pid uint16, primary bool) *h265Track {
	return &h265Track{
		d:        d,
		pid:      pid,
		primary:  primary,
		ch:       make(chan *mpegts.PESData, 1),
		captions: captions.NewExtractor(),
	}
}

func (t *h265Track) input() chan<- *mpegts.PESData { return t.ch }

func (t *h265Track) run(ctx context.Context) error {
	for pes := range t.ch {
		if err := t.handle(ctx, pes); err != nil {
			return err
		}
	}
	return nil
}

func (t *h265Track) handle(ctx context.Context, pes *mpegts.PESData) error {
	if len(pes.Data) == 0 {
		return nil
	}
	if !t.started {
		if err := t.d.adjuster.SharedInitializeOrWait(ctx, t.primary, 0); err != nil {
			return err
		}
		t.started = true
	}

	rawPTS, rawDTS := pesTimes(pes)
	pts := t.d.adjuster.AdjustTsTimestamp(rawPTS)
	dts := t.d.adjuster.AdjustTsTimestamp(rawDTS)

	units := scanAnnexB(pes.Data, 2, func(d []byte) byte { return hevcNALType(d[0]) })
	if len(units) == 0 {
		return nil
	}

	isKeyframe := false
	var nalus [][]byte
	for _, u := range units {
		switch {
		case u.typ == hevcNALAUD, u.typ == hevcNALFillerData:
			continue
		case u.typ == hevcNALVPS:
			t.vps = append([]byte(nil), u.data...)
		case u.typ == hevcNALSPS:
			t.sps = append([]byte(nil), u.data...)
			isKeyframe = true
			if info, err := ParseHEVCSPS(u.data); err == nil {
				t.codec = info.CodecString()
				t.d.updateTrack(t.pid, func(ti *media.TrackInfo) {
					ti.Codec = t.codec
					ti.Width = info.Width
					ti.Height = info.Height
				})
				if t.d.stats != nil {
					t.d.stats.RecordResolution(info.Width, info.Height)
				}
			}
		case u.typ == hevcNALPPS:
			t.pps = append([]byte(nil), u.data...)
		case isHEVCKeyframe(u.typ):
			isKeyframe = true
		case u.typ == hevcNALSEIPrefix:
			if err := t.handleSEI(ctx, u.data, pts); err != nil {
				return err
			}
		}
		nalus = append(nalus, withStartCode(u.data))
	}

	if isKeyframe {
		t.groupID++
	}
	frame := &media.VideoFrame{
		PTS:        pts,
		DTS:        dts,
		IsKeyframe: isKeyframe,
		NALUs:      nalus,
		SPS:        t.sps,
		PPS:        t.pps,
		VPS:        t.vps,
		Codec:      t.codec,
		GroupID:    t.groupID,
	}
	t.captions.AdvanceFrame()
	return t.d.emitVideo(ctx, frame)
}

func (t *h265Track) handleSEI(ctx context.Context, sei []byte, pts int64) error {
	for _, cf := range t.captions.ProcessSEI(sei, pts) {
		if t.d.stats != nil {
			t.d.stats.RecordCaption(cf.Channel)
		}
		select {
		case t.d.captionCh <- cf:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// ParseHEVCSPS extracts resolution and profile_tier_level fields from an
// H.265 SPS. nalu is the raw NAL data including the 2-byte header, without
// start code. The walk follows ITU-T H.265 clause 7.3.2.2.1 through the
// conformance window.
func ParseHEVCSPS(nalu []byte) (HEVCSPSInfo, error) {
	if len(nalu) < 4 {
		return HEVCSPSInfo{}, errTruncated
	}
	g := newESReader(unescapeRBSP(nalu[2:]))

	g.skip(4) // sps_video_parameter_set_id
	maxSubLayersMinus1 := g.bits(3)
	g.skip(1) // sps_temporal_id_nesting_flag

	var info HEVCSPSInfo
	parseProfileTierLevel(g, &info.Params, maxSubLayersMinus1)

	g.ue() // sps_seq_parameter_set_id
	chromaFormatIdc := g.ue()
	if chromaFormatIdc == 3 {
		g.skip(1) // separate_colour_plane_flag
	}
	info.Width = int(g.ue())
	info.Height = int(g.ue())

	if g.bit() { // conformance_window_flag
		left := g.ue()
		right := g.ue()
		top := g.ue()
		bottom := g.ue()

		var subW, subH int
		switch chromaFormatIdc {
		case 1:
			subW, subH = 2, 2
		case 2:
			subW, subH = 2, 1
		default:
			subW, subH = 1, 1
		}
		info.Width -= int(left+right) * subW
		info.Height -= int(top+bottom) * subH
	}
	if g.err != nil {
		return HEVCSPSInfo{}, g.err
	}
	return info, nil
}

// parseProfileTierLevel reads the general profile_tier_level block and
// skips any sub-layer entries (H.265 clause 7.3.3).
func parseProfileTierLevel(g *esReader, p *codecs.HevcParams, maxSubLayersMinus1 uint32) {
	p.ProfileSpace = uint8(g.bits(2))
	p.TierFlag = g.bit()
	p.ProfileIdc = uint8(g.bits(5))
	// Stream order carries the flag for profile 0 first; the codec string
	// wants profile i in bit i.
	p.CompatFlags = bits.Reverse32(g.bits(32))
	for i := range p.ConstraintBytes {
		p.ConstraintBytes[i] = byte(g.bits(8))
	}
	p.LevelIdc = uint8(g.bits(8))

	if maxSubLayersMinus1 == 0 || maxSubLayersMinus1 > 7 {
		return
	}
	var profilePresent, levelPresent [8]bool
	for i := uint32(0); i < maxSubLayersMinus1; i++ {
		profilePresent[i] = g.bit()
		levelPresent[i] = g.bit()
	}
	g.skip(2 * int(8-maxSubLayersMinus1)) // reserved_zero_2bits alignment
	for i := uint32(0); i < maxSubLayersMinus1; i++ {
		if profilePresent[i] {
			g.skip(88)
		}
		if levelPresent[i] {
			g.skip(8)
		}
	}
}
