// Package demux splits an MPEG-TS byte stream into elementary stream
// frames on a single normalized timeline. Each track runs its own handler
// goroutine; all handlers share one timestamp.Adjuster so that every
// emitted frame, video or audio, carries microseconds on the same clock.
// The video track (or the first audio track when the program has no video)
// anchors the timeline and the remaining tracks wait for it.
package demux

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/ccx"
	"github.com/zsiec/refract/internal/media"
	"github.com/zsiec/refract/internal/mpegts"
	"github.com/zsiec/refract/internal/timestamp"
)

// StatsRecorder receives telemetry callbacks for every frame and event the
// demuxer produces. The stats package's Collector implements it.
type StatsRecorder interface {
	RecordVideoFrame(bytes int64, isKeyframe bool, ptsUs int64)
	RecordAudioFrame(trackIndex int, bytes int64, ptsUs int64, sampleRate, channels int)
	RecordCaption(channel int)
	RecordResolution(width, height int)
	RecordVideoCodec(codec string)
	RecordSplice(ev SpliceEvent)
}

// trackHandler consumes the reassembled PES payloads routed to one PID.
type trackHandler interface {
	run(ctx context.Context) error
	input() chan<- *mpegts.PESData
}

// Demuxer reads MPEG-TS from r and produces video frames, audio frames,
// caption frames, and splice events on its output channels. Output
// timestamps are normalized microseconds from the shared adjuster.
type Demuxer struct {
	log      *slog.Logger
	reader   io.Reader
	adjuster *timestamp.Adjuster
	stats    StatsRecorder

	videoCh   chan *media.VideoFrame
	audioCh   chan *media.AudioFrame
	captionCh chan *ccx.CaptionFrame
	eventCh   chan SpliceEvent

	pmtReady chan struct{}
	pmtDone  bool
	handlers map[uint16]trackHandler

	trackMu sync.Mutex
	tracks  []media.TrackInfo
}

// NewDemuxer creates a Demuxer reading from r. All tracks found in the
// program resolve their timestamps against adjuster; pass an adjuster in
// shared mode so the demuxer can anchor the timeline on its primary track.
// If log is nil, slog.Default() is used.
func NewDemuxer(r io.Reader, adjuster *timestamp.Adjuster, log *slog.Logger) *Demuxer {
	if log == nil {
		log = slog.Default()
	}
	return &Demuxer{
		log:       log.With("component", "demux"),
		reader:    r,
		adjuster:  adjuster,
		videoCh:   make(chan *media.VideoFrame, media.VideoBufferSize),
		audioCh:   make(chan *media.AudioFrame, media.AudioBufferSize),
		captionCh: make(chan *ccx.CaptionFrame, media.EventBufferSize),
		eventCh:   make(chan SpliceEvent, media.EventBufferSize),
		pmtReady:  make(chan struct{}),
		handlers:  make(map[uint16]trackHandler),
	}
}

// SetStats attaches a StatsRecorder. Must be called before Run.
func (d *Demuxer) SetStats(s StatsRecorder) { d.stats = s }

// Video returns the channel delivering parsed video frames.
func (d *Demuxer) Video() <-chan *media.VideoFrame { return d.videoCh }

// Audio returns the channel delivering parsed audio frames.
func (d *Demuxer) Audio() <-chan *media.AudioFrame { return d.audioCh }

// Captions returns the channel delivering decoded caption frames.
func (d *Demuxer) Captions() <-chan *ccx.CaptionFrame { return d.captionCh }

// Events returns the channel delivering SCTE-35 splice events.
func (d *Demuxer) Events() <-chan SpliceEvent { return d.eventCh }

// PMTReady returns a channel closed once the first PMT has been parsed and
// all track handlers are running.
func (d *Demuxer) PMTReady() <-chan struct{} { return d.pmtReady }

// Tracks returns a snapshot of the discovered tracks. Codec strings and
// decoder parameters fill in as the corresponding parameter sets arrive.
func (d *Demuxer) Tracks() []media.TrackInfo {
	d.trackMu.Lock()
	defer d.trackMu.Unlock()
	out := make([]media.TrackInfo, len(d.tracks))
	copy(out, d.tracks)
	return out
}

func (d *Demuxer) updateTrack(pid uint16, update func(*media.TrackInfo)) {
	d.trackMu.Lock()
	defer d.trackMu.Unlock()
	for i := range d.tracks {
		if d.tracks[i].PID == pid {
			update(&d.tracks[i])
			return
		}
	}
}

// Run demuxes until EOF or context cancellation. All output channels are
// closed on return.
func (d *Demuxer) Run(ctx context.Context) error {
	defer close(d.videoCh)
	defer close(d.audioCh)
	defer close(d.captionCh)
	defer close(d.eventCh)

	g, ctx := errgroup.WithContext(ctx)
	dmx := mpegts.NewDemuxer(ctx, d.reader)

	err := d.dispatch(ctx, g, dmx)
	for _, h := range d.handlers {
		close(h.input())
	}
	if werr := g.Wait(); err == nil {
		err = werr
	}
	return err
}

func (d *Demuxer) dispatch(ctx context.Context, g *errgroup.Group, dmx *mpegts.Demuxer) error {
	for {
		data, err := dmx.NextData()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			// Corrupt packets are skipped inside the TS layer; an error
			// here means the byte source itself failed.
			return err
		}

		switch {
		case data.PMT != nil:
			d.handlePMT(ctx, g, data.PMT)

		case data.Section != nil:
			d.handleSection(ctx, data.Section)

		case data.PES != nil:
			h, ok := d.handlers[data.FirstPacket.Header.PID]
			if !ok {
				continue
			}
			select {
			case h.input() <- data.PES:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// handlePMT builds the track handlers from the first PMT. The primary
// track, which anchors the shared timeline, is the first video stream, or
// the first audio stream when the program carries no video.
func (d *Demuxer) handlePMT(ctx context.Context, g *errgroup.Group, pmt *mpegts.PMTData) {
	if d.pmtDone {
		return
	}
	d.pmtDone = true

	hasVideo := false
	for _, es := range pmt.ElementaryStreams {
		switch es.StreamType {
		case mpegts.StreamTypeH264, mpegts.StreamTypeH265, mpegts.StreamTypeMPEG4Video:
			hasVideo = true
		}
	}

	videoTaken := false
	audioIdx := 0
	for _, es := range pmt.ElementaryStreams {
		pid := es.ElementaryPID
		switch es.StreamType {
		case mpegts.StreamTypeH264:
			if videoTaken {
				continue
			}
			videoTaken = true
			d.addVideoTrack(ctx, g, pid, newH264Track(d, pid, true), "H.264")
		case mpegts.StreamTypeH265:
			if videoTaken {
				continue
			}
			videoTaken = true
			d.addVideoTrack(ctx, g, pid, newH265Track(d, pid, true), "H.265")
		case mpegts.StreamTypeMPEG4Video:
			if videoTaken {
				continue
			}
			videoTaken = true
			d.addVideoTrack(ctx, g, pid, newMpeg4Track(d, pid, true), "MPEG-4")
		case mpegts.StreamTypeAAC:
			primary := !hasVideo && audioIdx == 0
			t := newAACTrack(d, pid, audioIdx, primary)
			d.handlers[pid] = t
			d.tracks = append(d.tracks, media.TrackInfo{
				PID: pid, Kind: media.TrackAudio.String(), TrackIndex: audioIdx,
			})
			d.log.Info("found audio track", "pid", pid, "trackIndex", audioIdx)
			audioIdx++
			g.Go(func() error { return t.run(ctx) })
		case mpegts.StreamTypeSCTE35:
			d.tracks = append(d.tracks, media.TrackInfo{PID: pid, Kind: media.TrackData.String()})
			d.log.Info("found splice PID", "pid", pid)
		}
	}

	close(d.pmtReady)
}

func (d *Demuxer) addVideoTrack(ctx context.Context, g *errgroup.Group, pid uint16, t trackHandler, label string) {
	d.handlers[pid] = t
	d.tracks = append(d.tracks, media.TrackInfo{PID: pid, Kind: media.TrackVideo.String()})
	d.log.Info("found video track", "pid", pid, "codec", label)
	if d.stats != nil {
		d.stats.RecordVideoCodec(label)
	}
	g.Go(func() error { return t.run(ctx) })
}

// pesTimes extracts the raw 33-bit PTS and DTS from a PES header, mapping
// missing values to the unset sentinel so they pass through the adjuster
// untouched.
func pesTimes(pes *mpegts.PESData) (pts, dts int64) {
	pts, dts = timestamp.TimeUnset, timestamp.TimeUnset
	if pes.Header == nil || pes.Header.OptionalHeader == nil {
		return
	}
	if p := pes.Header.OptionalHeader.PTS; p != nil {
		pts = p.Base
	}
	if t := pes.Header.OptionalHeader.DTS; t != nil {
		dts = t.Base
	}
	return
}
