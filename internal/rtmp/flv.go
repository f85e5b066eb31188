package rtmp

import (
	"errors"

	"github.com/zsiec/refract/internal/bitstream"
)

// FLV tag field values (Adobe Video File Format Specification v10).
const (
	flvFrameKey = 1

	flvCodecAVC  = 7
	flvSoundAAC  = 10
	avcSeqHeader = 0
	avcNALU      = 1
	aacSeqHeader = 0
	aacRaw       = 1
)

var (
	errShortTag    = errors.New("rtmp: truncated flv tag")
	errNotAVC      = errors.New("rtmp: video codec is not AVC")
	errNotAAC      = errors.New("rtmp: sound format is not AAC")
	errBadAVCC     = errors.New("rtmp: malformed avc decoder configuration")
	errBadAudioCfg = errors.New("rtmp: malformed audio specific config")
)

// videoTag is a parsed FLV video tag body.
type videoTag struct {
	keyframe      bool
	packetType    byte
	compositionMs int32
	payload       []byte
}

// parseVideoTag splits an FLV VIDEODATA body into its AVC fields. The
// composition time is a signed 24-bit millisecond offset from the tag
// timestamp (DTS) to the presentation time.
func parseVideoTag(data []byte) (videoTag, error) {
	if len(data) < 5 {
		return videoTag{}, errShortTag
	}
	if data[0]&0x0F != flvCodecAVC {
		return videoTag{}, errNotAVC
	}
	ct := int32(data[2])<<16 | int32(data[3])<<8 | int32(data[4])
	if ct&0x800000 != 0 {
		ct -= 1 << 24
	}
	return videoTag{
		keyframe:      data[0]>>4 == flvFrameKey,
		packetType:    data[1],
		compositionMs: ct,
		payload:       data[5:],
	}, nil
}

// audioTag is a parsed FLV audio tag body.
type audioTag struct {
	packetType byte
	payload    []byte
}

func parseAudioTag(data []byte) (audioTag, error) {
	if len(data) < 2 {
		return audioTag{}, errShortTag
	}
	if data[0]>>4 != flvSoundAAC {
		return audioTag{}, errNotAAC
	}
	return audioTag{packetType: data[1], payload: data[2:]}, nil
}

// avcConfig is the decoded AVCDecoderConfigurationRecord from the AVC
// sequence header: the parameter sets plus the NAL length prefix width used
// by every following NALU packet.
type avcConfig struct {
	sps        [][]byte
	pps        [][]byte
	lengthSize int
}

func parseAVCConfig(avcc []byte) (avcConfig, error) {
	br := bitstream.NewByteReader(avcc)
	if br.Remaining() < 6 {
		return avcConfig{}, errBadAVCC
	}
	br.Skip(4) // configurationVersion, profile, compat, level
	cfg := avcConfig{lengthSize: int(br.ReadUint8()&0x03) + 1}

	numSPS := int(br.ReadUint8() & 0x1F)
	for i := 0; i < numSPS; i++ {
		nal, err := readParamSet(br)
		if err != nil {
			return avcConfig{}, err
		}
		cfg.sps = append(cfg.sps, nal)
	}
	if br.Remaining() < 1 {
		return avcConfig{}, errBadAVCC
	}
	numPPS := int(br.ReadUint8())
	for i := 0; i < numPPS; i++ {
		nal, err := readParamSet(br)
		if err != nil {
			return avcConfig{}, err
		}
		cfg.pps = append(cfg.pps, nal)
	}
	if len(cfg.sps) == 0 || len(cfg.pps) == 0 {
		return avcConfig{}, errBadAVCC
	}
	return cfg, nil
}

func readParamSet(br *bitstream.ByteReader) ([]byte, error) {
	if br.Remaining() < 2 {
		return nil, errBadAVCC
	}
	n := int(br.ReadUint16())
	if n == 0 || br.Remaining() < n {
		return nil, errBadAVCC
	}
	return append([]byte(nil), br.ReadSlice(n)...), nil
}

// aacSampleRates is the sampling frequency index table from ISO 14496-3.
var aacSampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000,
	24000, 22050, 16000, 12000, 11025, 8000, 7350,
}

// audioConfig is a decoded AudioSpecificConfig from the AAC sequence header.
type audioConfig struct {
	objectType int
	sampleRate int
	channels   int
}

func parseAudioSpecificConfig(asc []byte) (audioConfig, error) {
	r := bitstream.NewReader(asc)
	if r.BitsLeft() < 13 {
		return audioConfig{}, errBadAudioCfg
	}
	cfg := audioConfig{objectType: int(r.ReadBits(5))}
	if cfg.objectType == 31 {
		if r.BitsLeft() < 14 {
			return audioConfig{}, errBadAudioCfg
		}
		cfg.objectType = 32 + int(r.ReadBits(6))
	}
	freqIdx := int(r.ReadBits(4))
	switch {
	case freqIdx == 15:
		if r.BitsLeft() < 28 {
			return audioConfig{}, errBadAudioCfg
		}
		cfg.sampleRate = int(r.ReadBits(24))
	case freqIdx < len(aacSampleRates):
		cfg.sampleRate = aacSampleRates[freqIdx]
	default:
		return audioConfig{}, errBadAudioCfg
	}
	if r.BitsLeft() < 4 {
		return audioConfig{}, errBadAudioCfg
	}
	cfg.channels = int(r.ReadBits(4))
	if cfg.channels == 7 {
		cfg.channels = 8
	}
	if cfg.channels == 0 || cfg.sampleRate == 0 {
		return audioConfig{}, errBadAudioCfg
	}
	return cfg, nil
}
