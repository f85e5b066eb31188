// Package mp4 probes ISO-BMFF initialization segments, walking the moov
// hierarchy to extract per-track codec configuration for inspection. It
// reads metadata only; media samples are never touched.
package mp4

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"github.com/zsiec/refract/internal/bitstream"
	"github.com/zsiec/refract/internal/codecs"
)

var (
	// ErrNoMoov reports an input without a movie box, i.e. not an
	// initialization segment.
	ErrNoMoov = errors.New("mp4: no moov box")

	errTruncatedBox = errors.New("mp4: truncated box")
)

// TrackConfig is the probed configuration of one track.
type TrackConfig struct {
	TrackID    uint32 `json:"trackId"`
	Handler    string `json:"handler"`
	Codec      string `json:"codec,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Channels   int    `json:"channels,omitempty"`

	// Parameter sets in Annex B framing, present for AVC tracks.
	SPS [][]byte `json:"-"`
	PPS [][]byte `json:"-"`
}

// ProbeResult is the inspection summary of an initialization segment.
type ProbeResult struct {
	Timescale  uint32        `json:"timescale"`
	DurationMs int64         `json:"durationMs"`
	Tracks     []TrackConfig `json:"tracks"`
}

// Probe parses an initialization segment and reports the movie timescale,
// duration, and per-track codec configuration.
func Probe(data []byte) (*ProbeResult, error) {
	var res *ProbeResult
	err := walk(data, func(typ string, payload []byte) error {
		if typ != "moov" {
			return nil
		}
		r, err := parseMoov(payload)
		res = r
		return err
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, ErrNoMoov
	}
	return res, nil
}

// walk iterates the sibling boxes packed in data, passing each box type and
// payload to fn. Extended (64-bit) and to-end-of-data (zero) sizes are
// handled; a size that escapes the buffer is an error.
func walk(data []byte, fn func(typ string, payload []byte) error) error {
	for pos := 0; pos < len(data); {
		if len(data)-pos < 8 {
			return errTruncatedBox
		}
		size := int(binary.BigEndian.Uint32(data[pos:]))
		typ := string(data[pos+4 : pos+8])
		hdr := 8
		switch size {
		case 0:
			size = len(data) - pos
		case 1:
			if len(data)-pos < 16 {
				return errTruncatedBox
			}
			s := binary.BigEndian.Uint64(data[pos+8:])
			if s > uint64(len(data)-pos) {
				return errTruncatedBox
			}
			size = int(s)
			hdr = 16
		}
		if size < hdr || size > len(data)-pos {
			return errTruncatedBox
		}
		if err := fn(typ, data[pos+hdr:pos+size]); err != nil {
			return err
		}
		pos += size
	}
	return nil
}

func parseMoov(data []byte) (*ProbeResult, error) {
	res := &ProbeResult{}
	err := walk(data, func(typ string, payload []byte) error {
		switch typ {
		case "mvhd":
			return res.readMvhd(payload)
		case "trak":
			track, err := parseTrak(payload)
			if err != nil {
				return err
			}
			res.Tracks = append(res.Tracks, track)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (res *ProbeResult) readMvhd(payload []byte) error {
	br := bitstream.NewByteReader(payload)
	if br.Remaining() < 4 {
		return errTruncatedBox
	}
	version := br.ReadUint8()
	br.Skip(3) // flags
	var duration uint64
	if version == 1 {
		if br.Remaining() < 28 {
			return errTruncatedBox
		}
		br.Skip(16) // creation, modification
		res.Timescale = br.ReadUint32()
		duration = br.ReadUint64()
	} else {
		if br.Remaining() < 16 {
			return errTruncatedBox
		}
		br.Skip(8)
		res.Timescale = br.ReadUint32()
		duration = uint64(br.ReadUint32())
	}
	if res.Timescale > 0 {
		res.DurationMs = int64(duration) * 1000 / int64(res.Timescale)
	}
	return nil
}

func parseTrak(data []byte) (TrackConfig, error) {
	var track TrackConfig
	err := walk(data, func(typ string, payload []byte) error {
		switch typ {
		case "tkhd":
			return track.readTkhd(payload)
		case "mdia":
			return walk(payload, func(typ string, payload []byte) error {
				switch typ {
				case "hdlr":
					if len(payload) < 12 {
						return errTruncatedBox
					}
					track.Handler = string(payload[8:12])
				case "minf":
					return walk(payload, func(typ string, payload []byte) error {
						if typ != "stbl" {
							return nil
						}
						return walk(payload, func(typ string, payload []byte) error {
							if typ != "stsd" {
								return nil
							}
							return track.readStsd(payload)
						})
					})
				}
				return nil
			})
		}
		return nil
	})
	return track, err
}

func (t *TrackConfig) readTkhd(payload []byte) error {
	br := bitstream.NewByteReader(payload)
	if br.Remaining() < 4 {
		return errTruncatedBox
	}
	version := br.ReadUint8()
	br.Skip(3)
	skip := 8 // v0 creation + modification
	if version == 1 {
		skip = 16
	}
	if br.Remaining() < skip+4 {
		return errTruncatedBox
	}
	br.Skip(skip)
	t.TrackID = br.ReadUint32()
	return nil
}

// readStsd walks the sample description entries. Only the first entry of a
// track feeds the probe; multi-entry tracks are rare and the rest carry
// alternate encodings of the same media.
func (t *TrackConfig) readStsd(payload []byte) error {
	if len(payload) < 8 {
		return errTruncatedBox
	}
	done := false
	return walk(payload[8:], func(typ string, entry []byte) error {
		if done {
			return nil
		}
		done = true
		switch typ {
		case "avc1", "avc3":
			return t.readVisualEntry(entry, t.readAvcC)
		case "hvc1", "hev1":
			return t.readVisualEntry(entry, t.readHvcC)
		case "mp4v":
			return t.readVisualEntry(entry, t.readVideoEsds)
		case "mp4a":
			return t.readAudioEntry(entry, "esds", t.readAudioEsds)
		case "alac":
			return t.readAudioEntry(entry, "alac", t.readAlacCookie)
		default:
			t.Codec = typ
		}
		return nil
	})
}

// visualSampleEntrySize and audioSampleEntrySize are the fixed field blocks
// before the child configuration boxes (ISO 14496-12 section 12).
const (
	visualSampleEntrySize = 78
	audioSampleEntrySize  = 28
)

func (t *TrackConfig) readVisualEntry(entry []byte, readCfg func([]byte) error) error {
	if len(entry) < visualSampleEntrySize {
		return errTruncatedBox
	}
	t.Width = int(binary.BigEndian.Uint16(entry[24:]))
	t.Height = int(binary.BigEndian.Uint16(entry[26:]))
	return walk(entry[visualSampleEntrySize:], func(typ string, payload []byte) error {
		switch typ {
		case "avcC", "hvcC", "esds":
			return readCfg(payload)
		}
		return nil
	})
}

func (t *TrackConfig) readAudioEntry(entry []byte, cfgBox string, readCfg func([]byte) error) error {
	if len(entry) < audioSampleEntrySize {
		return errTruncatedBox
	}
	t.Channels = int(binary.BigEndian.Uint16(entry[16:]))
	t.SampleRate = int(binary.BigEndian.Uint16(entry[24:])) // 16.16 fixed point
	return walk(entry[audioSampleEntrySize:], func(typ string, payload []byte) error {
		if typ != cfgBox {
			return nil
		}
		return readCfg(payload)
	})
}

// readAvcC decodes an AVCDecoderConfigurationRecord: the codec string from
// the profile/constraint/level bytes and the parameter sets re-framed for
// Annex B consumers.
func (t *TrackConfig) readAvcC(avcc []byte) error {
	br := bitstream.NewByteReader(avcc)
	if br.Remaining() < 6 {
		return fmt.Errorf("mp4: avcC too short (%d bytes)", len(avcc))
	}
	br.Skip(1)
	profile := br.ReadUint8()
	constraints := br.ReadUint8()
	level := br.ReadUint8()
	t.Codec = codecs.AvcCodecString(profile, constraints, level)

	br.Skip(1) // length size
	numSPS := int(br.ReadUint8() & 0x1F)
	for i := 0; i < numSPS; i++ {
		nal, err := readAvccParamSet(br)
		if err != nil {
			return err
		}
		t.SPS = append(t.SPS, codecs.BuildNalUnit(nal))
	}
	if br.Remaining() < 1 {
		return errTruncatedBox
	}
	numPPS := int(br.ReadUint8())
	for i := 0; i < numPPS; i++ {
		nal, err := readAvccParamSet(br)
		if err != nil {
			return err
		}
		t.PPS = append(t.PPS, codecs.BuildNalUnit(nal))
	}
	return nil
}

func readAvccParamSet(br *bitstream.ByteReader) ([]byte, error) {
	if br.Remaining() < 2 {
		return nil, errTruncatedBox
	}
	n := int(br.ReadUint16())
	if n == 0 || br.Remaining() < n {
		return nil, errTruncatedBox
	}
	return br.ReadSlice(n), nil
}

// readHvcC decodes the general_profile_tier_level block at the head of an
// HEVCDecoderConfigurationRecord.
func (t *TrackConfig) readHvcC(hvcc []byte) error {
	br := bitstream.NewByteReader(hvcc)
	if br.Remaining() < 13 {
		return fmt.Errorf("mp4: hvcC too short (%d bytes)", len(hvcc))
	}
	br.Skip(1)
	b := br.ReadUint8()
	p := codecs.HevcParams{
		ProfileSpace: b >> 6,
		TierFlag:     b&0x20 != 0,
		ProfileIdc:   b & 0x1F,
		CompatFlags:  bits.Reverse32(br.ReadUint32()),
	}
	copy(p.ConstraintBytes[:], br.ReadSlice(6))
	p.LevelIdc = br.ReadUint8()
	t.Codec = codecs.HevcCodecString(p)
	return nil
}

// readAlacCookie reads the ALACSpecificConfig carried in the alac child
// box, past its version/flags prefix.
func (t *TrackConfig) readAlacCookie(payload []byte) error {
	if len(payload) < 4+24 {
		return fmt.Errorf("mp4: alac cookie too short (%d bytes)", len(payload))
	}
	cfg := codecs.ParseAlacCookie(payload[4:])
	t.Codec = "alac"
	t.SampleRate = cfg.SampleRateHz
	t.Channels = cfg.ChannelCount
	return nil
}
