package demux

import (
	"context"
	"fmt"

	"github.com/zsiec/refract/internal/codecs"
	"github.com/zsiec/refract/internal/media"
	"github.com/zsiec/refract/internal/mpegts"
)

// MPEG-4 Part 2 start codes, ISO/IEC 14496-2 Table 6-3. The fourth byte
// after the 00 00 01 prefix selects the unit; video_object_layer codes
// occupy the 0x20..0x2F range.
const (
	mpeg4StartVOS = 0xB0 // visual_object_sequence, carries profile_and_level
	mpeg4StartVOP = 0xB6
)

const vopCodingTypeI = 0

// mpeg4Track parses the MPEG-4 Part 2 visual stream of one PID. The stream
// has no NAL structure; each PES payload is one access unit, emitted whole.
// Configuration comes from the video_object_layer header, keyframes from
// the 2-bit vop_coding_type that follows each VOP start code.
type mpeg4Track struct {
	d       *Demuxer
	pid     uint16
	primary bool
	started bool
	ch      chan *mpegts.PESData

	configured bool
	codec      string
	groupID    uint32
}

func newMpeg4Track(d *Demuxer, pid uint16, primary bool) *mpeg4Track {
	return &mpeg4Track{
		d:       d,
		pid:     pid,
		primary: primary,
		ch:      make(chan *mpegts.PESData, 1),
	}
}

func (t *mpeg4Track) input() chan<- *mpegts.PESData { return t.ch }

func (t *mpeg4Track) run(ctx context.Context) error {
	for pes := range t.ch {
		if err := t.handle(ctx, pes); err != nil {
			return err
		}
	}
	return nil
}

func (t *mpeg4Track) handle(ctx context.Context, pes *mpegts.PESData) error {
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

	if !t.configured {
		t.configure(pes.Data)
	}

	isKeyframe := mpeg4HasIVop(pes.Data)
	if isKeyframe {
		t.groupID++
	}
	frame := &media.VideoFrame{
		PTS:        pts,
		DTS:        dts,
		IsKeyframe: isKeyframe,
		NALUs:      [][]byte{append([]byte(nil), pes.Data...)},
		Codec:      t.codec,
		GroupID:    t.groupID,
	}
	return t.d.emitVideo(ctx, frame)
}

// configure extracts the coded size from the video_object_layer header and
// the profile from the visual_object_sequence code, when present. Streams
// repeat both ahead of every keyframe, so waiting for them is safe.
func (t *mpeg4Track) configure(data []byte) {
	cfg, err := codecs.ParseVideoObjectLayer(data)
	if err != nil {
		return
	}
	t.configured = true

	t.codec = "mp4v.20"
	for i := 0; i+4 < len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 && data[i+3] == mpeg4StartVOS {
			t.codec = fmt.Sprintf("mp4v.20.%d", data[i+4])
			break
		}
	}

	t.d.updateTrack(t.pid, func(ti *media.TrackInfo) {
		ti.Codec = t.codec
		ti.Width = cfg.Width
		ti.Height = cfg.Height
	})
	if t.d.stats != nil {
		t.d.stats.RecordResolution(cfg.Width, cfg.Height)
	}
}

// mpeg4HasIVop reports whether the access unit contains an intra-coded VOP.
// vop_coding_type is the two bits straight after the VOP start code.
func mpeg4HasIVop(data []byte) bool {
	for i := 0; i+4 < len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 && data[i+3] == mpeg4StartVOP {
			return data[i+4]>>6 == vopCodingTypeI
		}
	}
	return false
}
