package demux

import (
	"context"

	"github.com/zsiec/refract/internal/captions"
	"github.com/zsiec/refract/internal/codecs"
	"github.com/zsiec/refract/internal/media"
	"github.com/zsiec/refract/internal/mpegts"
)

// H.264 NAL unit types, ITU-T H.264 Table 7-1.
const (
	nalTypeIDR        = 5
	nalTypeSEI        = 6
	nalTypeSPS        = 7
	nalTypePPS        = 8
	nalTypeAUD        = 9
	nalTypeFillerData = 12
)

// SPSInfo holds the fields extracted from an H.264 sequence parameter set.
type SPSInfo struct {
	Width           int
	Height          int
	ProfileIdc      byte
	ConstraintFlags byte
	LevelIdc        byte
}

// CodecString returns the RFC 6381 identifier for the parameter set.
func (s SPSInfo) CodecString() string {
	return codecs.AvcCodecString(s.ProfileIdc, s.ConstraintFlags, s.LevelIdc)
}

// h264Track parses the H.264 elementary stream of one PID: access units
// split on start codes, parameter sets captured for downstream decoder
// setup, keyframes flagged on IDR slices, captions pulled from SEI.
type h264Track struct {
	d       *Demuxer
	pid     uint16
	primary bool
	started bool
	ch      chan *mpegts.PESData

	sps, pps []byte
	codec    string
	captions *captions.Extractor
	groupID  uint32
}

func newH264Track(d *Demuxer, pid uint16, primary bool) *h264Track {
	return &h264Track{
		d:        d,
		pid:      pid,
		primary:  primary,
		ch:       make(chan *mpegts.PESData, 1),
		captions: captions.NewExtractor(),
	}
}

func (t *h264Track) input() chan<- *mpegts.PESData { return t.ch }

func (t *h264Track) run(ctx context.Context) error {
	for pes := range t.ch {
		if err := t.handle(ctx, pes); err != nil {
			return err
		}
	}
	return nil
}

func (t *h264Track) handle(ctx context.Context, pes *mpegts.PESData) error {
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

	units := scanAnnexB(pes.Data, 1, func(d []byte) byte { return d[0] & 0x1F })
	if len(units) == 0 {
		return nil
	}

	isKeyframe := false
	var nalus [][]byte
	for _, u := range units {
		switch u.typ {
		case nalTypeAUD, nalTypeFillerData:
			continue
		case nalTypeSPS:
			t.sps = append([]byte(nil), u.data...)
			isKeyframe = true
			if info, err := ParseSPS(u.data); err == nil {
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
		case nalTypePPS:
			t.pps = append([]byte(nil), u.data...)
		case nalTypeIDR:
			isKeyframe = true
		case nalTypeSEI:
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
		Codec:      t.codec,
		GroupID:    t.groupID,
	}
	t.captions.AdvanceFrame()
	return t.d.emitVideo(ctx, frame)
}

func (t *h264Track) handleSEI(ctx context.Context, sei []byte, pts int64) error {
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

func (d *Demuxer) emitVideo(ctx context.Context, frame *media.VideoFrame) error {
	if d.stats != nil {
		var total int64
		for _, n := range frame.NALUs {
			total += int64(len(n))
		}
		d.stats.RecordVideoFrame(total, frame.IsKeyframe, frame.PTS)
	}
	select {
	case d.videoCh <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ParseSPS extracts resolution and profile identifiers from an H.264 SPS.
// nalu is the raw NAL data including the header byte, without start code.
// The walk follows ITU-T H.264 clause 7.3.2.1.1 through the cropping
// window; the VUI tail carries nothing this demuxer needs.
func ParseSPS(nalu []byte) (SPSInfo, error) {
	if len(nalu) < 4 {
		return SPSInfo{}, errTruncated
	}
	g := newESReader(unescapeRBSP(nalu[1:]))

	info := SPSInfo{
		ProfileIdc:      byte(g.bits(8)),
		ConstraintFlags: byte(g.bits(8)),
		LevelIdc:        byte(g.bits(8)),
	}
	g.ue() // seq_parameter_set_id

	chromaFormatIdc := uint32(1)
	separateColourPlane := false
	if hasChromaInfo(info.ProfileIdc) {
		chromaFormatIdc = g.ue()
		if chromaFormatIdc == 3 {
			separateColourPlane = g.bit()
		}
		g.ue()   // bit_depth_luma_minus8
		g.ue()   // bit_depth_chroma_minus8
		g.skip(1) // qpprime_y_zero_transform_bypass_flag
		if g.bit() { // seq_scaling_matrix_present_flag
			lists := 8
			if chromaFormatIdc == 3 {
				lists = 12
			}
			for i := 0; i < lists; i++ {
				if !g.bit() {
					continue
				}
				size := 16
				if i >= 6 {
					size = 64
				}
				skipScalingList(g, size)
			}
		}
	}

	g.ue() // log2_max_frame_num_minus4
	switch g.ue() { // pic_order_cnt_type
	case 0:
		g.ue() // log2_max_pic_order_cnt_lsb_minus4
	case 1:
		g.skip(1) // delta_pic_order_always_zero_flag
		g.se()    // offset_for_non_ref_pic
		g.se()    // offset_for_top_to_bottom_field
		n := g.ue()
		for i := uint32(0); i < n && g.err == nil; i++ {
			g.se()
		}
	}
	g.ue()    // max_num_ref_frames
	g.skip(1) // gaps_in_frame_num_value_allowed_flag

	widthMbs := g.ue()
	heightMapUnits := g.ue()
	frameMbsOnly := uint32(0)
	if g.bit() {
		frameMbsOnly = 1
	} else {
		g.skip(1) // mb_adaptive_frame_field_flag
	}
	g.skip(1) // direct_8x8_inference_flag

	var cropLeft, cropRight, cropTop, cropBottom uint32
	if g.bit() { // frame_cropping_flag
		cropLeft = g.ue()
		cropRight = g.ue()
		cropTop = g.ue()
		cropBottom = g.ue()
	}
	if g.err != nil {
		return SPSInfo{}, g.err
	}

	subW, subH := chromaShift(chromaFormatIdc, separateColourPlane)
	cropUnitY := subH * (2 - frameMbsOnly)
	info.Width = int((widthMbs+1)*16 - subW*(cropLeft+cropRight))
	info.Height = int((heightMapUnits+1)*16*(2-frameMbsOnly) - cropUnitY*(cropTop+cropBottom))
	return info, nil
}

// hasChromaInfo reports whether the profile carries the chroma format and
// scaling matrix block in its SPS (H.264 clause 7.3.2.1.1 profile list).
func hasChromaInfo(profileIdc byte) bool {
	switch profileIdc {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134:
		return true
	}
	return false
}

func chromaShift(chromaFormatIdc uint32, separateColourPlane bool) (subW, subH uint32) {
	if separateColourPlane {
		return 1, 1
	}
	switch chromaFormatIdc {
	case 0, 3:
		return 1, 1
	case 2:
		return 2, 1
	default:
		return 2, 2
	}
}

func skipScalingList(g *esReader, size int) {
	last, next := 8, 8
	for i := 0; i < size && g.err == nil; i++ {
		if next != 0 {
			next = (last + int(g.se()) + 256) % 256
		}
		if next != 0 {
			last = next
		}
	}
}
