package demux

import (
	"bytes"
	"testing"
)

// makeADTSFrame builds one ADTS frame without CRC: AAC-LC, the given
// sample rate index and channel configuration, payload appended after the
// 7-byte header.
func makeADTSFrame(sampleRateIdx, channels byte, payload []byte) []byte {
	frameLen := adtsHeaderSize + len(payload)
	header := []byte{
		0xFF, 0xF1, // syncword, MPEG-4, layer 0, no CRC
		1<<6 | sampleRateIdx<<2 | channels>>2,
		channels<<6 | byte(frameLen>>11)&0x03,
		byte(frameLen >> 3),
		byte(frameLen&0x07)<<5 | 0x1F, // buffer fullness
		0xFC,
	}
	return append(header, payload...)
}

func TestParseADTS(t *testing.T) {
	t.Parallel()
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0xCA, 0xFE}
	frames, err := parseADTS(makeADTSFrame(3, 2, payload))
	if err != nil {
		t.Fatalf("parseADTS: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].sampleRate != 48000 {
		t.Errorf("sample rate = %d, want 48000", frames[0].sampleRate)
	}
	if frames[0].channels != 2 {
		t.Errorf("channels = %d, want 2", frames[0].channels)
	}
	if !bytes.Equal(frames[0].data[adtsHeaderSize:], payload) {
		t.Errorf("payload = % X, want % X", frames[0].data[adtsHeaderSize:], payload)
	}
}

func TestParseADTSMultipleFrames(t *testing.T) {
	t.Parallel()
	stream := makeADTSFrame(4, 2, []byte{0x01, 0x02})
	stream = append(stream, makeADTSFrame(4, 2, []byte{0x03, 0x04, 0x05})...)

	frames, err := parseADTS(stream)
	if err != nil {
		t.Fatalf("parseADTS: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].sampleRate != 44100 || frames[1].sampleRate != 44100 {
		t.Errorf("sample rates = %d, %d, want 44100", frames[0].sampleRate, frames[1].sampleRate)
	}
	if len(frames[1].data) != adtsHeaderSize+3 {
		t.Errorf("second frame length = %d, want %d", len(frames[1].data), adtsHeaderSize+3)
	}
}

func TestParseADTSResync(t *testing.T) {
	t.Parallel()
	// Garbage ahead of the sync word must be skipped, not fatal.
	stream := append([]byte{0x12, 0x34, 0x56}, makeADTSFrame(3, 1, []byte{0xAA})...)
	frames, err := parseADTS(stream)
	if err != nil {
		t.Fatalf("parseADTS: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].channels != 1 {
		t.Errorf("channels = %d, want 1", frames[0].channels)
	}
}

func TestParseADTSTruncated(t *testing.T) {
	t.Parallel()
	full := makeADTSFrame(3, 2, []byte{0x01, 0x02, 0x03, 0x04})
	frames, err := parseADTS(full[:len(full)-2])
	if err != nil {
		t.Fatalf("parseADTS: %v", err)
	}
	if len(frames) != 0 {
		t.Errorf("got %d frames from truncated stream, want 0", len(frames))
	}
}

func TestParseADTSBadSampleRate(t *testing.T) {
	t.Parallel()
	frame := makeADTSFrame(15, 2, []byte{0x01})
	if _, err := parseADTS(frame); err != ErrInvalidADTS {
		t.Errorf("err = %v, want ErrInvalidADTS", err)
	}
}
