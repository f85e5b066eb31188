// Package stats accumulates per-stream telemetry from the demux layer and
// produces point-in-time snapshots for the inspection API. Counters use
// atomics so the track handler goroutines never contend on a shared lock
// for the hot paths.
package stats

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/refract/internal/demux"
)

// Compile-time interface check.
var _ demux.StatsRecorder = (*Collector)(nil)

// VideoStats holds point-in-time video metrics for a stream.
type VideoStats struct {
	Codec         string  `json:"codec"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	TotalFrames   int64   `json:"totalFrames"`
	KeyFrames     int64   `json:"keyFrames"`
	DeltaFrames   int64   `json:"deltaFrames"`
	CurrentGOPLen int     `json:"currentGOPLen"`
	BitrateKbps   float64 `json:"bitrateKbps"`
	FrameRate     float64 `json:"frameRate"`
	PTSErrors     int64   `json:"ptsErrors"`
	TotalBytes    int64   `json:"totalBytes"`
}

// AudioTrackStats holds per-track audio metrics for a stream.
type AudioTrackStats struct {
	TrackIndex  int     `json:"trackIndex"`
	Codec       string  `json:"codec"`
	SampleRate  int     `json:"sampleRate"`
	Channels    int     `json:"channels"`
	Frames      int64   `json:"frames"`
	BitrateKbps float64 `json:"bitrateKbps"`
	PTSErrors   int64   `json:"ptsErrors"`
	TotalBytes  int64   `json:"totalBytes"`
}

// CaptionStats tracks closed-caption activity across all channels.
type CaptionStats struct {
	ActiveChannels []int `json:"activeChannels"`
	TotalFrames    int64 `json:"totalFrames"`
}

// SpliceStats summarizes SCTE-35 splice event activity for a stream.
type SpliceStats struct {
	TotalEvents int64               `json:"totalEvents"`
	Recent      []demux.SpliceEvent `json:"recent,omitempty"`
}

// StreamSnapshot is the top-level stats payload served by the API. It
// aggregates video, audio, caption, and splice metrics into one
// JSON-serializable structure; the API layer fills the ingest fields.
type StreamSnapshot struct {
	Timestamp   int64             `json:"ts"`
	UptimeMs    int64             `json:"uptimeMs"`
	Protocol    string            `json:"protocol"`
	IngestBytes int64             `json:"ingestBytes"`
	IngestKbps  float64           `json:"ingestKbps"`
	Video       VideoStats        `json:"video"`
	Audio       []AudioTrackStats `json:"audio"`
	Captions    CaptionStats      `json:"captions"`
	Splices     SpliceStats       `json:"splices"`
}

// PTSWrapEvent records a detected backward jump in normalized timestamps.
// After adjustment these should not occur; a logged event points at an
// upstream discontinuity the adjuster absorbed incorrectly.
type PTSWrapEvent struct {
	Timestamp int64  `json:"ts"`
	Track     string `json:"track"`
	OldPTS    int64  `json:"oldPTS"`
	NewPTS    int64  `json:"newPTS"`
	DeltaMs   int64  `json:"deltaMs"`
}

// PTSDebugStats provides low-level timestamp debugging information exposed
// via the debug API endpoint. Values are normalized microseconds.
type PTSDebugStats struct {
	FirstVideoPTS int64          `json:"firstVideoPTS"`
	FirstAudioPTS int64          `json:"firstAudioPTS"`
	LastVideoPTS  int64          `json:"lastVideoPTS"`
	LastAudioPTS  int64          `json:"lastAudioPTS"`
	VideoPTSWraps int64          `json:"videoPTSWraps"`
	AudioPTSWraps int64          `json:"audioPTSWraps"`
	RecentWraps   []PTSWrapEvent `json:"recentWraps,omitempty"`
}

const (
	maxPTSWrapLog   = 10
	maxRecentSplice = 20
	spliceExpirySec = 30

	// A backward jump this large in µs means a wrap slipped through.
	wrapThresholdUs = -30_000_000
	// Forward gaps beyond this count as discontinuities.
	maxForwardGapUs = 5_000_000

	slidingWindow = 2 * time.Second
)

// Collector accumulates stream telemetry from the demuxer. It implements
// demux.StatsRecorder and is safe for concurrent use.
type Collector struct {
	videoFrames    atomic.Int64
	videoKeyframes atomic.Int64
	videoDelta     atomic.Int64
	videoBytes     atomic.Int64
	currentGOPLen  atomic.Int32
	lastVideoPTS   atomic.Int64
	ptsErrors      atomic.Int64
	videoWidth     atomic.Int32
	videoHeight    atomic.Int32
	firstVideoPTS  atomic.Int64
	firstAudioPTS  atomic.Int64
	videoPTSWraps  atomic.Int64
	audioPTSWraps  atomic.Int64
	firstVideoSet  atomic.Bool
	firstAudioSet  atomic.Bool
	captionCount   atomic.Int64
	spliceTotal    atomic.Int64

	ptsWrapMu  sync.Mutex
	ptsWrapLog []PTSWrapEvent

	// mu guards audioStats and captionChans.
	mu           sync.RWMutex
	audioStats   map[int]*audioTrackAccum
	captionChans map[int]bool

	spliceMu     sync.RWMutex
	spliceEvents []demux.SpliceEvent

	bitrateWindowMu sync.Mutex
	bitrateWindow   []bitrateEntry

	fpsWindowMu sync.Mutex
	fpsWindow   []time.Time

	videoCodecMu sync.RWMutex
	videoCodec   string
}

// audioTrackAccum accumulates per-track audio counters.
type audioTrackAccum struct {
	Frames     atomic.Int64
	Bytes      atomic.Int64
	PTSErrors  atomic.Int64
	LastPTS    atomic.Int64
	SampleRate int
	Channels   int
}

type bitrateEntry struct {
	ts    time.Time
	bytes int64
}

// NewCollector creates a Collector ready for use as a StatsRecorder.
func NewCollector() *Collector {
	return &Collector{
		audioStats:   make(map[int]*audioTrackAccum),
		captionChans: make(map[int]bool),
	}
}

// RecordVideoFrame records a video frame's size, type, and timestamp,
// updating frame counters, GOP length, the bitrate/FPS sliding windows,
// and timestamp continuity checks.
func (c *Collector) RecordVideoFrame(bytes int64, isKeyframe bool, ptsUs int64) {
	c.videoFrames.Add(1)
	c.videoBytes.Add(bytes)

	if !c.firstVideoSet.Load() {
		c.firstVideoPTS.Store(ptsUs)
		c.firstVideoSet.Store(true)
	}

	if isKeyframe {
		c.videoKeyframes.Add(1)
		c.currentGOPLen.Store(1)
	} else {
		c.videoDelta.Add(1)
		c.currentGOPLen.Add(1)
	}

	lastPTS := c.lastVideoPTS.Swap(ptsUs)
	if lastPTS > 0 && ptsUs > 0 {
		delta := ptsUs - lastPTS
		if delta < wrapThresholdUs {
			c.videoPTSWraps.Add(1)
			c.recordPTSWrap("video", lastPTS, ptsUs)
		}
		if delta < 0 || delta > maxForwardGapUs {
			c.ptsErrors.Add(1)
		}
	}

	now := time.Now()

	c.fpsWindowMu.Lock()
	c.fpsWindow = append(c.fpsWindow, now)
	cutoff := now.Add(-slidingWindow)
	j := 0
	for j < len(c.fpsWindow) && c.fpsWindow[j].Before(cutoff) {
		j++
	}
	c.fpsWindow = c.fpsWindow[j:]
	c.fpsWindowMu.Unlock()

	c.bitrateWindowMu.Lock()
	c.bitrateWindow = append(c.bitrateWindow, bitrateEntry{ts: now, bytes: bytes})
	i := 0
	for i < len(c.bitrateWindow) && c.bitrateWindow[i].ts.Before(cutoff) {
		i++
	}
	c.bitrateWindow = c.bitrateWindow[i:]
	c.bitrateWindowMu.Unlock()
}

// RecordAudioFrame records an audio frame for the given track, creating
// the per-track accumulator on first use.
func (c *Collector) RecordAudioFrame(trackIndex int, bytes int64, ptsUs int64, sampleRate, channels int) {
	if !c.firstAudioSet.Load() {
		c.firstAudioPTS.Store(ptsUs)
		c.firstAudioSet.Store(true)
	}

	c.mu.Lock()
	acc, ok := c.audioStats[trackIndex]
	if !ok {
		acc = &audioTrackAccum{SampleRate: sampleRate, Channels: channels}
		c.audioStats[trackIndex] = acc
	}
	c.mu.Unlock()

	acc.Frames.Add(1)
	acc.Bytes.Add(bytes)

	lastPTS := acc.LastPTS.Swap(ptsUs)
	if lastPTS > 0 && ptsUs > 0 {
		delta := ptsUs - lastPTS
		if delta < wrapThresholdUs {
			c.audioPTSWraps.Add(1)
			c.recordPTSWrap("audio", lastPTS, ptsUs)
		}
		if delta < 0 || delta > maxForwardGapUs {
			acc.PTSErrors.Add(1)
		}
	}
}

func (c *Collector) recordPTSWrap(track string, oldPTS, newPTS int64) {
	ev := PTSWrapEvent{
		Timestamp: time.Now().UnixMilli(),
		Track:     track,
		OldPTS:    oldPTS,
		NewPTS:    newPTS,
		DeltaMs:   (newPTS - oldPTS) / 1000,
	}
	c.ptsWrapMu.Lock()
	c.ptsWrapLog = append(c.ptsWrapLog, ev)
	if len(c.ptsWrapLog) > maxPTSWrapLog {
		c.ptsWrapLog = c.ptsWrapLog[len(c.ptsWrapLog)-maxPTSWrapLog:]
	}
	c.ptsWrapMu.Unlock()
}

// PTSDebug returns a snapshot of timestamp debugging information.
func (c *Collector) PTSDebug() PTSDebugStats {
	c.ptsWrapMu.Lock()
	wraps := make([]PTSWrapEvent, len(c.ptsWrapLog))
	copy(wraps, c.ptsWrapLog)
	c.ptsWrapMu.Unlock()

	lastAudioPTS := int64(0)
	c.mu.RLock()
	for _, acc := range c.audioStats {
		if p := acc.LastPTS.Load(); p > lastAudioPTS {
			lastAudioPTS = p
		}
	}
	c.mu.RUnlock()

	return PTSDebugStats{
		FirstVideoPTS: c.firstVideoPTS.Load(),
		FirstAudioPTS: c.firstAudioPTS.Load(),
		LastVideoPTS:  c.lastVideoPTS.Load(),
		LastAudioPTS:  lastAudioPTS,
		VideoPTSWraps: c.videoPTSWraps.Load(),
		AudioPTSWraps: c.audioPTSWraps.Load(),
		RecentWraps:   wraps,
	}
}

// RecordVideoCodec stores the detected video codec label ("H.264", "H.265",
// "MPEG-4").
func (c *Collector) RecordVideoCodec(codec string) {
	c.videoCodecMu.Lock()
	c.videoCodec = codec
	c.videoCodecMu.Unlock()
}

// RecordResolution stores the detected video resolution.
func (c *Collector) RecordResolution(width, height int) {
	c.videoWidth.Store(int32(width))
	c.videoHeight.Store(int32(height))
}

// RecordSplice records a splice event, maintaining a bounded recent window.
func (c *Collector) RecordSplice(ev demux.SpliceEvent) {
	c.spliceTotal.Add(1)
	c.spliceMu.Lock()
	c.spliceEvents = append(c.spliceEvents, ev)
	if len(c.spliceEvents) > maxRecentSplice {
		c.spliceEvents = c.spliceEvents[len(c.spliceEvents)-maxRecentSplice:]
	}
	c.spliceMu.Unlock()
}

// RecordCaption records a caption frame on the given channel.
func (c *Collector) RecordCaption(channel int) {
	c.captionCount.Add(1)
	c.mu.Lock()
	c.captionChans[channel] = true
	c.mu.Unlock()
}

// VideoFPS computes the current frame rate from the sliding window.
func (c *Collector) VideoFPS() float64 {
	c.fpsWindowMu.Lock()
	defer c.fpsWindowMu.Unlock()

	if len(c.fpsWindow) < 2 {
		return 0
	}
	dur := c.fpsWindow[len(c.fpsWindow)-1].Sub(c.fpsWindow[0]).Seconds()
	if dur <= 0 {
		return 0
	}
	return float64(len(c.fpsWindow)-1) / dur
}

// VideoBitrateKbps computes the current video bitrate from the sliding
// window of frame sizes.
func (c *Collector) VideoBitrateKbps() float64 {
	c.bitrateWindowMu.Lock()
	defer c.bitrateWindowMu.Unlock()

	if len(c.bitrateWindow) < 2 {
		return 0
	}
	dur := c.bitrateWindow[len(c.bitrateWindow)-1].ts.Sub(c.bitrateWindow[0].ts).Seconds()
	if dur <= 0 {
		return 0
	}
	var total int64
	for _, e := range c.bitrateWindow {
		total += e.bytes
	}
	return float64(total) * 8 / dur / 1000
}

// Snapshot produces a consistent point-in-time view of all stream
// statistics. Audio tracks come back ordered by track index.
func (c *Collector) Snapshot() (VideoStats, []AudioTrackStats, CaptionStats, SpliceStats) {
	c.videoCodecMu.RLock()
	codecLabel := c.videoCodec
	c.videoCodecMu.RUnlock()

	vs := VideoStats{
		Codec:         codecLabel,
		Width:         int(c.videoWidth.Load()),
		Height:        int(c.videoHeight.Load()),
		TotalFrames:   c.videoFrames.Load(),
		KeyFrames:     c.videoKeyframes.Load(),
		DeltaFrames:   c.videoDelta.Load(),
		CurrentGOPLen: int(c.currentGOPLen.Load()),
		BitrateKbps:   c.VideoBitrateKbps(),
		FrameRate:     c.VideoFPS(),
		PTSErrors:     c.ptsErrors.Load(),
		TotalBytes:    c.videoBytes.Load(),
	}

	c.mu.RLock()
	audioTracks := make([]AudioTrackStats, 0, len(c.audioStats))
	for idx, acc := range c.audioStats {
		totalBytes := acc.Bytes.Load()
		totalFrames := acc.Frames.Load()
		var bitrateKbps float64
		if totalFrames > 0 && acc.SampleRate > 0 {
			durationSec := float64(totalFrames) * 1024 / float64(acc.SampleRate)
			if durationSec > 0 {
				bitrateKbps = float64(totalBytes) * 8 / durationSec / 1000
			}
		}
		audioTracks = append(audioTracks, AudioTrackStats{
			TrackIndex:  idx,
			Codec:       "AAC-LC",
			SampleRate:  acc.SampleRate,
			Channels:    acc.Channels,
			Frames:      totalFrames,
			BitrateKbps: bitrateKbps,
			PTSErrors:   acc.PTSErrors.Load(),
			TotalBytes:  totalBytes,
		})
	}
	activeChans := make([]int, 0, len(c.captionChans))
	for ch := range c.captionChans {
		activeChans = append(activeChans, ch)
	}
	c.mu.RUnlock()

	sort.Slice(audioTracks, func(i, j int) bool {
		return audioTracks[i].TrackIndex < audioTracks[j].TrackIndex
	})
	sort.Ints(activeChans)

	cs := CaptionStats{
		ActiveChannels: activeChans,
		TotalFrames:    c.captionCount.Load(),
	}

	c.spliceMu.RLock()
	cutoff := time.Now().UnixMilli() - spliceExpirySec*1000
	var recent []demux.SpliceEvent
	for _, e := range c.spliceEvents {
		if e.ReceivedAt >= cutoff {
			recent = append(recent, e)
		}
	}
	c.spliceMu.RUnlock()

	ss := SpliceStats{
		TotalEvents: c.spliceTotal.Load(),
		Recent:      recent,
	}

	return vs, audioTracks, cs, ss
}
