package demux

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/zsiec/refract/internal/media"
	"github.com/zsiec/refract/internal/mpegts"
	"github.com/zsiec/refract/internal/scte35"
	"github.com/zsiec/refract/internal/timestamp"
)

// makePES wraps an elementary stream payload in a PES structure. Pass
// timestamp.TimeUnset to omit PTS or DTS.
func makePES(data []byte, pts, dts int64) *mpegts.PESData {
	opt := &mpegts.PESOptionalHeader{}
	if pts != timestamp.TimeUnset {
		opt.PTS = &mpegts.ClockReference{Base: pts}
	}
	if dts != timestamp.TimeUnset {
		opt.DTS = &mpegts.ClockReference{Base: dts}
	}
	return &mpegts.PESData{
		Data:   data,
		Header: &mpegts.PESHeader{OptionalHeader: opt},
	}
}

func annexBStream(nalus ...[]byte) []byte {
	var buf bytes.Buffer
	for _, n := range nalus {
		buf.Write([]byte{0x00, 0x00, 0x00, 0x01})
		buf.Write(n)
	}
	return buf.Bytes()
}

func TestSharedTimelineAcrossTracks(t *testing.T) {
	t.Parallel()
	d := NewDemuxer(bytes.NewReader(nil), timestamp.NewAdjuster(timestamp.ModeShared), nil)
	d.tracks = []media.TrackInfo{
		{PID: 0x100, Kind: media.TrackVideo.String()},
		{PID: 0x101, Kind: media.TrackAudio.String(), TrackIndex: 0},
	}
	video := newH264Track(d, 0x100, true)
	audio := newAACTrack(d, 0x101, 0, false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	videoDone := make(chan error, 1)
	audioDone := make(chan error, 1)
	go func() { videoDone <- video.run(ctx) }()
	go func() { audioDone <- audio.run(ctx) }()

	// Audio arrives first with a PTS 50 ms after the video anchor. Its
	// handler must block until the video track resolves the timeline.
	audio.input() <- makePES(makeADTSFrame(3, 2, []byte{0xAA, 0xBB}), 94500, timestamp.TimeUnset)

	videoES := annexBStream(
		spsBaseline480p,
		[]byte{0x68, 0xCE, 0x38, 0x80},
		[]byte{0x65, 0x88, 0x84, 0x00},
	)
	video.input() <- makePES(videoES, 90000, timestamp.TimeUnset)

	close(video.ch)
	close(audio.ch)
	if err := <-videoDone; err != nil {
		t.Fatalf("video handler: %v", err)
	}
	if err := <-audioDone; err != nil {
		t.Fatalf("audio handler: %v", err)
	}

	vf := <-d.Video()
	if vf.PTS != 0 {
		t.Errorf("video PTS = %d, want 0 for the anchoring sample", vf.PTS)
	}
	if !vf.IsKeyframe {
		t.Error("IDR access unit not flagged as keyframe")
	}
	if vf.GroupID != 1 {
		t.Errorf("GroupID = %d, want 1", vf.GroupID)
	}
	if vf.Codec != "avc1.42C01E" {
		t.Errorf("video codec = %q, want avc1.42C01E", vf.Codec)
	}
	if len(vf.SPS) == 0 || len(vf.PPS) == 0 {
		t.Error("frame missing captured parameter sets")
	}

	af := <-d.Audio()
	if af.PTS != 50000 {
		t.Errorf("audio PTS = %d µs, want 50000 on the shared timeline", af.PTS)
	}
	if af.SampleRate != 48000 || af.Channels != 2 {
		t.Errorf("audio params = %d Hz / %d ch, want 48000 / 2", af.SampleRate, af.Channels)
	}

	tracks := d.Tracks()
	if tracks[0].Width != 640 || tracks[0].Height != 480 {
		t.Errorf("video track size = %dx%d, want 640x480", tracks[0].Width, tracks[0].Height)
	}
	if tracks[1].SampleRate != 48000 {
		t.Errorf("audio track sample rate = %d, want 48000", tracks[1].SampleRate)
	}
}

func TestAudioFramePTSSpacing(t *testing.T) {
	t.Parallel()
	d := NewDemuxer(bytes.NewReader(nil), timestamp.NewAdjuster(timestamp.ModeShared), nil)
	d.tracks = []media.TrackInfo{{PID: 0x101, Kind: media.TrackAudio.String()}}
	// An audio-only program: the audio track anchors the timeline itself.
	audio := newAACTrack(d, 0x101, 0, true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream := makeADTSFrame(3, 2, []byte{0x01})
	stream = append(stream, makeADTSFrame(3, 2, []byte{0x02})...)
	if err := audio.handle(ctx, makePES(stream, 90000, timestamp.TimeUnset)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	first := <-d.Audio()
	second := <-d.Audio()
	if first.PTS != 0 {
		t.Errorf("first frame PTS = %d, want 0", first.PTS)
	}
	// 1024 samples at 48 kHz.
	if want := int64(1024 * 1_000_000 / 48000); second.PTS != want {
		t.Errorf("second frame PTS = %d, want %d", second.PTS, want)
	}
}

func TestHandleSectionSpliceInsert(t *testing.T) {
	t.Parallel()
	d := NewDemuxer(bytes.NewReader(nil), timestamp.NewAdjuster(timestamp.ModeShared), nil)
	rec := &recordingStats{}
	d.SetStats(rec)

	sis := scte35.SpliceInfoSection{
		SAPType: 3,
		Tier:    0xFFF,
		SpliceCommand: &scte35.SpliceInsert{
			SpliceEventID:         42,
			OutOfNetworkIndicator: true,
			SpliceImmediateFlag:   true,
			BreakDuration:         &scte35.BreakDuration{AutoReturn: true, Duration: 2700000},
		},
	}
	encoded, err := sis.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	d.handleSection(context.Background(), &mpegts.SectionData{PID: 500, Data: encoded})

	var ev SpliceEvent
	select {
	case ev = <-d.Events():
	default:
		t.Fatal("no splice event emitted")
	}
	if ev.CommandType != "splice_insert" {
		t.Errorf("command = %q, want splice_insert", ev.CommandType)
	}
	if ev.EventID != 42 {
		t.Errorf("event ID = %d, want 42", ev.EventID)
	}
	if !ev.OutOfNetwork || !ev.Immediate {
		t.Error("out-of-network and immediate flags not carried through")
	}
	if ev.Duration != 30.0 {
		t.Errorf("duration = %v s, want 30", ev.Duration)
	}
	if len(rec.splices) != 1 {
		t.Fatalf("stats recorded %d splices, want 1", len(rec.splices))
	}
}

func TestHandleSectionGarbage(t *testing.T) {
	t.Parallel()
	d := NewDemuxer(bytes.NewReader(nil), timestamp.NewAdjuster(timestamp.ModeShared), nil)
	d.handleSection(context.Background(), &mpegts.SectionData{PID: 500, Data: []byte{0xDE, 0xAD}})
	select {
	case ev := <-d.Events():
		t.Errorf("garbage section produced event %+v", ev)
	default:
	}
}

func TestPesTimes(t *testing.T) {
	t.Parallel()
	pts, dts := pesTimes(makePES(nil, 90000, 87000))
	if pts != 90000 || dts != 87000 {
		t.Errorf("got pts=%d dts=%d, want 90000/87000", pts, dts)
	}

	pts, dts = pesTimes(&mpegts.PESData{})
	if pts != timestamp.TimeUnset || dts != timestamp.TimeUnset {
		t.Error("missing header should yield unset timestamps")
	}
}

// recordingStats is a StatsRecorder that captures callbacks for assertions.
type recordingStats struct {
	videoFrames int
	audioFrames int
	captions    int
	splices     []SpliceEvent
	width       int
	height      int
	codec       string
}

func (r *recordingStats) RecordVideoFrame(bytes int64, isKeyframe bool, ptsUs int64) {
	r.videoFrames++
}

func (r *recordingStats) RecordAudioFrame(trackIndex int, bytes int64, ptsUs int64, sampleRate, channels int) {
	r.audioFrames++
}

func (r *recordingStats) RecordCaption(channel int) { r.captions++ }

func (r *recordingStats) RecordResolution(width, height int) {
	r.width, r.height = width, height
}

func (r *recordingStats) RecordVideoCodec(codec string) { r.codec = codec }

func (r *recordingStats) RecordSplice(ev SpliceEvent) { r.splices = append(r.splices, ev) }
