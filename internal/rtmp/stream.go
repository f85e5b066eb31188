package rtmp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/refract/internal/codecs"
	"github.com/zsiec/refract/internal/demux"
	"github.com/zsiec/refract/internal/media"
	"github.com/zsiec/refract/internal/timestamp"
)

// statsRecorder is the telemetry subset an RTMP stream reports into.
// stats.Collector satisfies it.
type statsRecorder interface {
	RecordVideoFrame(bytes int64, isKeyframe bool, ptsUs int64)
	RecordAudioFrame(trackIndex int, bytes int64, ptsUs int64, sampleRate, channels int)
	RecordResolution(width, height int)
	RecordVideoCodec(codec string)
}

// Stream is one published RTMP session, converting FLV-framed AVC and AAC
// tags into frames on the normalized microsecond timeline. Video and audio
// tags arrive on the single connection goroutine; the video track anchors
// the shared timeline and audio frames received before the anchor resolves
// are dropped rather than blocking the connection.
type Stream struct {
	Key       string
	StartedAt time.Time

	log      *slog.Logger
	adjuster *timestamp.Adjuster
	stats    statsRecorder

	videoCh chan *media.VideoFrame
	audioCh chan *media.AudioFrame
	done    chan struct{}
	closed  sync.Once

	lengthSize int
	sps        []byte
	pps        []byte
	codec      string
	hasVideo   bool
	staged     bool
	groupID    uint32

	audioRate     int
	audioChannels int
	audioDropped  int64

	trackMu sync.Mutex
	tracks  []media.TrackInfo
}

func newStream(key string, log *slog.Logger) *Stream {
	if log == nil {
		log = slog.Default()
	}
	return &Stream{
		Key:       key,
		StartedAt: time.Now(),
		log:       log.With("component", "rtmp", "stream", key),
		adjuster:  timestamp.NewAdjuster(timestamp.ModeShared),
		videoCh:   make(chan *media.VideoFrame, media.VideoBufferSize),
		audioCh:   make(chan *media.AudioFrame, media.AudioBufferSize),
		done:      make(chan struct{}),
	}
}

// SetStats attaches a telemetry recorder. Call before frames flow, from the
// publish callback.
func (s *Stream) SetStats(r statsRecorder) { s.stats = r }

// Video returns the channel delivering parsed video frames.
func (s *Stream) Video() <-chan *media.VideoFrame { return s.videoCh }

// Audio returns the channel delivering parsed audio frames.
func (s *Stream) Audio() <-chan *media.AudioFrame { return s.audioCh }

// Tracks returns a snapshot of the discovered tracks.
func (s *Stream) Tracks() []media.TrackInfo {
	s.trackMu.Lock()
	defer s.trackMu.Unlock()
	out := make([]media.TrackInfo, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// Done returns a channel closed when the publisher disconnects.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Close tears the stream down, closing the frame channels so downstream
// consumers drain and exit. Only the connection goroutine sends on the
// channels, and no tags arrive after close, so this is safe.
func (s *Stream) Close() {
	s.closed.Do(func() {
		close(s.done)
		close(s.videoCh)
		close(s.audioCh)
	})
}

// HandleVideo processes one FLV video tag. tsMs is the RTMP timestamp
// (decode time) in milliseconds.
func (s *Stream) HandleVideo(tsMs uint32, data []byte) error {
	tag, err := parseVideoTag(data)
	if err != nil {
		return err
	}
	if tag.packetType == avcSeqHeader {
		return s.handleVideoConfig(tag.payload)
	}
	if tag.packetType != avcNALU || s.lengthSize == 0 {
		return nil
	}

	annexb, err := codecs.AvccToAnnexB(tag.payload, s.lengthSize)
	if err != nil {
		return err
	}
	nalus := codecs.SplitNalUnits(annexb)
	if len(nalus) == 0 {
		return nil
	}

	if !s.staged {
		// First video sample anchors the shared timeline at zero.
		s.adjuster.SharedInitializeOrWait(context.Background(), true, 0)
		s.staged = true
	}
	pts := s.adjuster.AdjustSampleTimestamp((int64(tsMs) + int64(tag.compositionMs)) * 1000)
	dts := s.adjuster.AdjustSampleTimestamp(int64(tsMs) * 1000)

	if tag.keyframe {
		s.groupID++
	}
	frame := &media.VideoFrame{
		PTS:        pts,
		DTS:        dts,
		IsKeyframe: tag.keyframe,
		NALUs:      nalus,
		SPS:        s.sps,
		PPS:        s.pps,
		Codec:      s.codec,
		GroupID:    s.groupID,
	}
	if s.stats != nil {
		s.stats.RecordVideoFrame(int64(len(tag.payload)), tag.keyframe, pts)
	}
	select {
	case s.videoCh <- frame:
	case <-s.done:
	}
	return nil
}

// handleVideoConfig decodes the AVC sequence header, capturing the
// parameter sets and the NAL length prefix width for later NALU packets.
func (s *Stream) handleVideoConfig(avcc []byte) error {
	cfg, err := parseAVCConfig(avcc)
	if err != nil {
		return err
	}
	s.lengthSize = cfg.lengthSize
	s.sps = cfg.sps[0]
	s.pps = cfg.pps[0]
	s.hasVideo = true

	info, err := demux.ParseSPS(s.sps)
	if err != nil {
		s.log.Warn("sequence header carries unparsable SPS", "error", err)
		s.updateTrack(media.TrackVideo, func(t *media.TrackInfo) {})
		return nil
	}
	s.codec = info.CodecString()
	s.updateTrack(media.TrackVideo, func(t *media.TrackInfo) {
		t.Codec = s.codec
		t.Width = info.Width
		t.Height = info.Height
	})
	if s.stats != nil {
		s.stats.RecordVideoCodec("H.264")
		s.stats.RecordResolution(info.Width, info.Height)
	}
	s.log.Info("video config", "codec", info.CodecString(),
		"width", info.Width, "height", info.Height, "lengthSize", s.lengthSize)
	return nil
}

// HandleAudio processes one FLV audio tag.
func (s *Stream) HandleAudio(tsMs uint32, data []byte) error {
	tag, err := parseAudioTag(data)
	if err != nil {
		return err
	}
	if tag.packetType == aacSeqHeader {
		return s.handleAudioConfig(tag.payload)
	}
	if tag.packetType != aacRaw || s.audioRate == 0 || len(tag.payload) == 0 {
		return nil
	}

	if s.adjuster.TimestampOffsetUs() == timestamp.TimeUnset {
		if s.hasVideo {
			// The connection goroutine cannot block waiting for video to
			// anchor the timeline, it is the goroutine that delivers video.
			s.audioDropped++
			return nil
		}
		// No video configured: audio anchors the timeline itself.
		s.adjuster.SharedInitializeOrWait(context.Background(), true, 0)
	}
	pts := s.adjuster.AdjustSampleTimestamp(int64(tsMs) * 1000)

	frame := &media.AudioFrame{
		PTS:        pts,
		Data:       append([]byte(nil), tag.payload...),
		SampleRate: s.audioRate,
		Channels:   s.audioChannels,
		TrackIndex: 0,
	}
	if s.stats != nil {
		s.stats.RecordAudioFrame(0, int64(len(tag.payload)), pts, s.audioRate, s.audioChannels)
	}
	select {
	case s.audioCh <- frame:
	case <-s.done:
	}
	return nil
}

func (s *Stream) handleAudioConfig(asc []byte) error {
	cfg, err := parseAudioSpecificConfig(asc)
	if err != nil {
		return err
	}
	s.audioRate = cfg.sampleRate
	s.audioChannels = cfg.channels
	s.updateTrack(media.TrackAudio, func(t *media.TrackInfo) {
		t.Codec = "mp4a.40.2"
		t.SampleRate = cfg.sampleRate
		t.Channels = cfg.channels
	})
	s.log.Info("audio config", "sampleRate", cfg.sampleRate, "channels", cfg.channels)
	return nil
}

// updateTrack applies update to the track of the given kind, creating it on
// first use.
func (s *Stream) updateTrack(kind media.TrackKind, update func(*media.TrackInfo)) {
	s.trackMu.Lock()
	defer s.trackMu.Unlock()
	for i := range s.tracks {
		if s.tracks[i].Kind == kind.String() {
			update(&s.tracks[i])
			return
		}
	}
	t := media.TrackInfo{Kind: kind.String()}
	update(&t)
	s.tracks = append(s.tracks, t)
}
