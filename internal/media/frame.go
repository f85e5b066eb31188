// Package media defines the frame and track types that flow through the
// refract processing pipeline, from demuxing through the RTP and API
// outputs. Timestamps on frames are normalized microseconds produced by
// the shared timeline adjuster, never raw 90 kHz ticks.
package media

// Channel buffer sizes used by the demuxer (producer) and the output sinks
// (consumers) to decouple frame production from consumption. Sized to absorb
// jitter without excessive memory: ~2 seconds of video, ~2.5s of audio.
const (
	VideoBufferSize = 60
	AudioBufferSize = 120
	EventBufferSize = 30
)

// TrackKind identifies the payload class of an elementary stream.
type TrackKind int

// Track kinds discovered during demuxing.
const (
	TrackVideo TrackKind = iota
	TrackAudio
	TrackData
)

func (k TrackKind) String() string {
	switch k {
	case TrackVideo:
		return "video"
	case TrackAudio:
		return "audio"
	case TrackData:
		return "data"
	}
	return "unknown"
}

// TrackInfo is the inspection result for one elementary stream: where it
// came from, what codec it carries, and the decoder parameters extracted
// from its configuration data. Codec is the RFC 6381 parameter string
// (e.g. "avc1.42C01E", "hvc1.1.6.L93.90") once known, empty before the
// first parameter set arrives.
type TrackInfo struct {
	PID        uint16 `json:"pid"`
	Kind       string `json:"kind"`
	Codec      string `json:"codec,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	TrackIndex int    `json:"trackIndex"`
}

// VideoFrame is a single coded video access unit on the normalized
// timeline. NALUs carry Annex B framing (each unit prefixed with a 4-byte
// start code); parameter sets ride along so downstream sinks can
// initialize or reconfigure decoders at any keyframe.
type VideoFrame struct {
	PTS        int64 // normalized microseconds
	DTS        int64 // normalized microseconds
	IsKeyframe bool
	NALUs      [][]byte
	SPS        []byte
	PPS        []byte
	VPS        []byte
	Codec      string // RFC 6381 string, empty until the first SPS
	GroupID    uint32
}

// AudioFrame is a single coded audio frame (ADTS-wrapped AAC) belonging to
// a specific audio track. Multi-track streams produce separate AudioFrames
// with distinct TrackIndex values.
type AudioFrame struct {
	PTS        int64 // normalized microseconds
	Data       []byte
	SampleRate int
	Channels   int
	TrackIndex int
}
