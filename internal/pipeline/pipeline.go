// Package pipeline orchestrates the per-stream data flow, forwarding
// normalized video and audio frames from a source (TS demuxer or RTMP
// session) to the RTP output while collecting telemetry for the API.
package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/ccx"
	"github.com/zsiec/refract/internal/demux"
	"github.com/zsiec/refract/internal/ingest"
	"github.com/zsiec/refract/internal/media"
	"github.com/zsiec/refract/internal/rtp"
	"github.com/zsiec/refract/internal/stats"
)

// Source produces normalized frames for one stream. demux.Demuxer and
// rtmp.Stream both satisfy it.
type Source interface {
	Video() <-chan *media.VideoFrame
	Audio() <-chan *media.AudioFrame
	Tracks() []media.TrackInfo
}

// runnableSource is a Source that needs its own read loop driven, like the
// TS demuxer. Sources fed by an external connection goroutine don't.
type runnableSource interface {
	Run(ctx context.Context) error
}

// captionSource and eventSource are optional Source capabilities; only the
// TS path produces captions and splice events.
type captionSource interface {
	Captions() <-chan *ccx.CaptionFrame
}

type eventSource interface {
	Events() <-chan demux.SpliceEvent
}

// FrameSender receives the video frames the pipeline forwards. rtp.Sender
// satisfies it; accepting an interface keeps the pipeline testable with
// stubs.
type FrameSender interface {
	SendFrame(frame *media.VideoFrame)
}

// DebugStats reports low-level forwarding counters and channel depths for
// the per-stream debug endpoint.
type DebugStats struct {
	VideoForwarded  int64            `json:"videoForwarded"`
	AudioForwarded  int64            `json:"audioForwarded"`
	CaptionFwd      int64            `json:"captionFwd"`
	EventsFwd       int64            `json:"eventsFwd"`
	LastVideoFwdPTS int64            `json:"lastVideoFwdPTS"`
	LastAudioFwdPTS int64            `json:"lastAudioFwdPTS"`
	VideoChanDepth  int              `json:"videoChanDepth"`
	AudioChanDepth  int              `json:"audioChanDepth"`
	RTP             *rtp.SenderStats `json:"rtp,omitempty"`
}

// Pipeline bridges a single stream's Source and its sinks. It drains the
// source's output channels, pushes video to the RTP sender, and accumulates
// statistics for the inspection API.
type Pipeline struct {
	log       *slog.Logger
	source    Source
	collector *stats.Collector
	streamKey string
	protocol  string
	startTime time.Time

	sender      FrameSender
	rtpSender   *rtp.Sender
	ingestStats func() ingest.Stats

	videoForwarded  atomic.Int64
	audioForwarded  atomic.Int64
	captionFwd      atomic.Int64
	eventsFwd       atomic.Int64
	lastVideoFwdPTS atomic.Int64
	lastAudioFwdPTS atomic.Int64
	videoChanDepth  atomic.Int32
	audioChanDepth  atomic.Int32
}

// New creates a Pipeline forwarding frames from source. collector must be
// the same collector the source records into. If log is nil,
// slog.Default() is used.
func New(streamKey, protocol string, source Source, collector *stats.Collector, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		log:       log.With("component", "pipeline", "stream", streamKey),
		source:    source,
		collector: collector,
		streamKey: streamKey,
		protocol:  protocol,
		startTime: time.Now(),
	}
}

// SetRTPSender attaches an RTP output for forwarded video frames. Must be
// called before Run.
func (p *Pipeline) SetRTPSender(s *rtp.Sender) {
	p.sender = s
	p.rtpSender = s
}

// SetFrameSender attaches an arbitrary video sink. Must be called before Run.
func (p *Pipeline) SetFrameSender(s FrameSender) { p.sender = s }

// SetIngestStats attaches a callback reporting transport-level ingest
// metrics for inclusion in snapshots.
func (p *Pipeline) SetIngestStats(fn func() ingest.Stats) { p.ingestStats = fn }

// Tracks returns the source's current track inventory.
func (p *Pipeline) Tracks() []media.TrackInfo { return p.source.Tracks() }

// Snapshot returns a point-in-time snapshot of stream health metrics,
// suitable for JSON serialization.
func (p *Pipeline) Snapshot() stats.StreamSnapshot {
	video, audio, captions, splices := p.collector.Snapshot()

	snap := stats.StreamSnapshot{
		Timestamp: time.Now().UnixMilli(),
		UptimeMs:  time.Since(p.startTime).Milliseconds(),
		Protocol:  p.protocol,
		Video:     video,
		Audio:     audio,
		Captions:  captions,
		Splices:   splices,
	}
	if p.ingestStats != nil {
		is := p.ingestStats()
		snap.IngestBytes = is.BytesReceived
		snap.IngestKbps = is.Kbps
	}
	return snap
}

// Debug returns low-level forwarding counters and channel depths.
func (p *Pipeline) Debug() DebugStats {
	d := DebugStats{
		VideoForwarded:  p.videoForwarded.Load(),
		AudioForwarded:  p.audioForwarded.Load(),
		CaptionFwd:      p.captionFwd.Load(),
		EventsFwd:       p.eventsFwd.Load(),
		LastVideoFwdPTS: p.lastVideoFwdPTS.Load(),
		LastAudioFwdPTS: p.lastAudioFwdPTS.Load(),
		VideoChanDepth:  int(p.videoChanDepth.Load()),
		AudioChanDepth:  int(p.audioChanDepth.Load()),
	}
	if p.rtpSender != nil {
		s := p.rtpSender.Stats()
		d.RTP = &s
	}
	return d
}

// PTSDebug returns the collector's timestamp debugging snapshot.
func (p *Pipeline) PTSDebug() stats.PTSDebugStats { return p.collector.PTSDebug() }

// Run drives the source (when it needs driving) and the frame-forwarding
// loop. It blocks until the context is cancelled or the source's channels
// close.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if r, ok := p.source.(runnableSource); ok {
		g.Go(func() error {
			err := r.Run(ctx)
			p.log.Info("source exited", "error", err)
			return err
		})
	}
	g.Go(func() error { return p.forward(ctx) })
	return g.Wait()
}

func (p *Pipeline) forward(ctx context.Context) error {
	videoCh := p.source.Video()
	audioCh := p.source.Audio()

	// Caption and event channels exist only on the TS path; a nil channel
	// never fires in select.
	var captionCh <-chan *ccx.CaptionFrame
	if cs, ok := p.source.(captionSource); ok {
		captionCh = cs.Captions()
	}
	var eventCh <-chan demux.SpliceEvent
	if es, ok := p.source.(eventSource); ok {
		eventCh = es.Events()
	}

	for {
		p.videoChanDepth.Store(int32(len(videoCh)))
		p.audioChanDepth.Store(int32(len(audioCh)))

		// Priority drain: always forward video frames first to prevent
		// audio (which produces ~3x more frames) from starving video
		// delivery under Go's random select scheduling.
		if videoCh != nil {
			drained := false
			select {
			case frame, ok := <-videoCh:
				if !ok {
					videoCh = nil
					break
				}
				p.forwardVideo(frame)
				drained = true
			default:
			}
			if drained {
				continue
			}
		}

		if videoCh == nil && audioCh == nil {
			p.log.Info("source channels closed")
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case frame, ok := <-videoCh:
			if !ok {
				videoCh = nil
				continue
			}
			p.forwardVideo(frame)

		case frame, ok := <-audioCh:
			if !ok {
				audioCh = nil
				continue
			}
			p.audioForwarded.Add(1)
			p.lastAudioFwdPTS.Store(frame.PTS)

		case _, ok := <-captionCh:
			if !ok {
				captionCh = nil
				continue
			}
			p.captionFwd.Add(1)

		case _, ok := <-eventCh:
			if !ok {
				eventCh = nil
				continue
			}
			p.eventsFwd.Add(1)
		}
	}
}

func (p *Pipeline) forwardVideo(frame *media.VideoFrame) {
	p.videoForwarded.Add(1)
	p.lastVideoFwdPTS.Store(frame.PTS)
	if p.sender != nil {
		p.sender.SendFrame(frame)
	}
}
