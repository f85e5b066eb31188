package codecs

import (
	"errors"
	"testing"

	"github.com/zsiec/refract/internal/bitstream"
)

// volCIF is a minimal video object layer header for a CIF picture: simple
// object type, square pixels, rectangular shape, 30 ticks per second,
// 352x288.
var volCIF = []byte{
	0x00, 0x00, 0x01, 0x20,
	0x00, 0x84, 0x40, 0x07, 0xA8, 0x58, 0x21, 0x20, 0x80,
}

func TestParseVideoObjectLayerCIF(t *testing.T) {
	t.Parallel()

	got, err := ParseVideoObjectLayer(volCIF)
	if err != nil {
		t.Fatalf("ParseVideoObjectLayer: %v", err)
	}
	if got.Width != 352 || got.Height != 288 {
		t.Errorf("resolution = %dx%d, want 352x288", got.Width, got.Height)
	}
}

func TestParseVideoObjectLayerSkipsLeadingCodes(t *testing.T) {
	t.Parallel()

	// Config data usually opens with visual object sequence and visual
	// object start codes ahead of the VOL; the scan must pass over them.
	csd := append([]byte{0x00, 0x00, 0x01, 0xB0, 0x01, 0x00, 0x00, 0x01, 0xB5, 0x09}, volCIF...)
	got, err := ParseVideoObjectLayer(csd)
	if err != nil {
		t.Fatalf("ParseVideoObjectLayer: %v", err)
	}
	if got.Width != 352 || got.Height != 288 {
		t.Errorf("resolution = %dx%d, want 352x288", got.Width, got.Height)
	}
}

// volField is one fixed-width field of a synthetic header.
type volField struct {
	v uint32
	n int
}

// buildVOL writes fields bit by bit after a video object layer start code.
func buildVOL(fields []volField) []byte {
	bits := 0
	for _, f := range fields {
		bits += f.n
	}
	body := make([]byte, (bits+7)/8)
	w := bitstream.NewReader(body)
	for _, f := range fields {
		w.PutBits(f.v, f.n)
	}
	return append([]byte{0x00, 0x00, 0x01, 0x21}, body...)
}

func TestParseVideoObjectLayerAllBranches(t *testing.T) {
	t.Parallel()

	// Every optional branch enabled: object layer identifier, extended
	// pixel aspect ratio, vol control parameters with vbv, fixed vop rate.
	csd := buildVOL([]volField{
		{0, 1},   // random_accessible_vol
		{1, 8},   // video_object_type_indication
		{1, 1},   // is_object_layer_identifier
		{1, 4},   // video_object_layer_verid
		{1, 3},   // video_object_layer_priority
		{0xF, 4}, // aspect_ratio_info: extended PAR
		{16, 8},  // par_width
		{9, 8},   // par_height
		{1, 1},   // vol_control_parameters
		{1, 2},   // chroma_format
		{0, 1},   // low_delay
		{1, 1},   // vbv_parameters
		{0, 32},  // vbv fields span 79 bits
		{0, 32},
		{0, 15},
		{0, 2},     // video_object_layer_shape: rectangular
		{1, 1},     // marker
		{1000, 16}, // vop_time_increment_resolution
		{1, 1},     // marker
		{1, 1},     // fixed_vop_rate
		{0, 10},    // fixed_vop_time_increment: ceil(log2(999+1)) bits
		{1, 1},     // marker
		{1920, 13}, // video_object_layer_width
		{1, 1},     // marker
		{1080, 13}, // video_object_layer_height
		{1, 1},     // marker
		{0, 1},     // interlaced
	})
	got, err := ParseVideoObjectLayer(csd)
	if err != nil {
		t.Fatalf("ParseVideoObjectLayer: %v", err)
	}
	if got.Width != 1920 || got.Height != 1080 {
		t.Errorf("resolution = %dx%d, want 1920x1080", got.Width, got.Height)
	}
}

func TestParseVideoObjectLayerErrors(t *testing.T) {
	t.Parallel()

	nonRect := make([]byte, len(volCIF))
	copy(nonRect, volCIF)
	nonRect[6] = 0xC0 // shape bits become 01

	zeroMarker := make([]byte, len(volCIF))
	copy(zeroMarker, volCIF)
	zeroMarker[6] = 0x00 // first marker bit cleared

	tests := []struct {
		name string
		csd  []byte
		want error
	}{
		{"no start code", []byte{0x01, 0x02, 0x03, 0x04}, ErrMalformed},
		{"empty", nil, ErrMalformed},
		{"prefix only", volCIF[:4], ErrMalformed},
		{"truncated header", volCIF[:7], ErrMalformed},
		{"non-rectangular shape", nonRect, ErrUnsupported},
		{"marker bit zero", zeroMarker, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseVideoObjectLayer(tt.csd)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("error %v is not a ParseError", err)
			}
			if pe.Kind != "mpeg4-video" {
				t.Errorf("Kind = %q, want \"mpeg4-video\"", pe.Kind)
			}
		})
	}
}

func FuzzParseVideoObjectLayer(f *testing.F) {
	f.Add(volCIF)
	f.Add(volCIF[:7])
	f.Add([]byte{0x00, 0x00, 0x01, 0x2F, 0xFF})
	f.Fuzz(func(t *testing.T, data []byte) {
		ParseVideoObjectLayer(data) // must not panic
	})
}
