package mp4

import (
	"errors"
	"fmt"

	"github.com/zsiec/refract/internal/bitstream"
	"github.com/zsiec/refract/internal/codecs"
)

// MPEG-4 systems descriptor tags (ISO 14496-1 section 7.2.2.1).
const (
	tagESDescriptor  = 0x03
	tagDecoderConfig = 0x04
	tagDecoderInfo   = 0x05
)

var errBadEsds = errors.New("mp4: malformed esds descriptor chain")

// readVideoEsds extracts codec configuration for an MPEG-4 Visual track:
// the object type indication names the codec and the DecoderSpecificInfo
// carries the video object layer with the coded dimensions.
func (t *TrackConfig) readVideoEsds(payload []byte) error {
	oti, dsi, err := parseEsds(payload)
	if err != nil {
		return err
	}
	t.Codec = fmt.Sprintf("mp4v.%02X", oti)
	if len(dsi) == 0 {
		return nil
	}
	// The visual object sequence start carries the profile/level byte.
	for i := 0; i+4 < len(dsi); i++ {
		if dsi[i] == 0 && dsi[i+1] == 0 && dsi[i+2] == 1 && dsi[i+3] == 0xB0 {
			t.Codec = fmt.Sprintf("mp4v.%02X.%d", oti, dsi[i+4])
			break
		}
	}
	if cfg, err := codecs.ParseVideoObjectLayer(dsi); err == nil {
		t.Width = cfg.Width
		t.Height = cfg.Height
	}
	return nil
}

// readAudioEsds extracts the codec identifier for an mp4a track. For AAC
// (OTI 0x40) the audio object type from the AudioSpecificConfig completes
// the string.
func (t *TrackConfig) readAudioEsds(payload []byte) error {
	oti, dsi, err := parseEsds(payload)
	if err != nil {
		return err
	}
	t.Codec = fmt.Sprintf("mp4a.%02X", oti)
	if oti == 0x40 && len(dsi) > 0 {
		t.Codec = fmt.Sprintf("mp4a.40.%d", dsi[0]>>3)
	}
	return nil
}

// parseEsds walks the descriptor chain of an esds box payload (including
// its version/flags prefix) down to the DecoderSpecificInfo. A missing
// DecoderSpecificInfo returns empty dsi, not an error.
func parseEsds(payload []byte) (oti byte, dsi []byte, err error) {
	br := bitstream.NewByteReader(payload)
	if br.Remaining() < 4 {
		return 0, nil, errBadEsds
	}
	br.Skip(4) // version, flags

	tag, _, err := readDescriptor(br)
	if err != nil || tag != tagESDescriptor {
		return 0, nil, errBadEsds
	}
	if br.Remaining() < 3 {
		return 0, nil, errBadEsds
	}
	br.Skip(2) // ES_ID
	esFlags := br.ReadUint8()
	if esFlags&0x80 != 0 { // streamDependenceFlag
		if br.Remaining() < 2 {
			return 0, nil, errBadEsds
		}
		br.Skip(2)
	}
	if esFlags&0x40 != 0 { // URL_Flag
		if br.Remaining() < 1 {
			return 0, nil, errBadEsds
		}
		urlLen := int(br.ReadUint8())
		if br.Remaining() < urlLen {
			return 0, nil, errBadEsds
		}
		br.Skip(urlLen)
	}
	if esFlags&0x20 != 0 { // OCRstreamFlag
		if br.Remaining() < 2 {
			return 0, nil, errBadEsds
		}
		br.Skip(2)
	}

	tag, _, err = readDescriptor(br)
	if err != nil || tag != tagDecoderConfig {
		return 0, nil, errBadEsds
	}
	if br.Remaining() < 13 {
		return 0, nil, errBadEsds
	}
	oti = br.ReadUint8()
	br.Skip(12) // streamType, buffer size, max/avg bitrate

	if br.Remaining() < 2 {
		return oti, nil, nil
	}
	tag, size, err := readDescriptor(br)
	if err != nil || tag != tagDecoderInfo || br.Remaining() < size {
		return oti, nil, nil
	}
	return oti, br.ReadSlice(size), nil
}

// readDescriptor reads a descriptor tag and its expandable length, up to
// four 7-bit length groups.
func readDescriptor(br *bitstream.ByteReader) (tag byte, size int, err error) {
	if br.Remaining() < 2 {
		return 0, 0, errBadEsds
	}
	tag = br.ReadUint8()
	for i := 0; i < 4; i++ {
		if br.Remaining() < 1 {
			return 0, 0, errBadEsds
		}
		b := br.ReadUint8()
		size = size<<7 | int(b&0x7F)
		if b&0x80 == 0 {
			break
		}
	}
	return tag, size, nil
}
