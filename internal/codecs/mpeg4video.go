package codecs

import "github.com/zsiec/refract/internal/bitstream"

// Mpeg4Config holds the coded picture size extracted from an MPEG-4 Part 2
// video object layer header.
type Mpeg4Config struct {
	Width  int
	Height int
}

const (
	// video_object_layer start codes occupy 0x20..0x2F after the 00 00 01
	// prefix, so only the high nibble of the fourth byte is significant.
	volStartNibble = 0x20

	extendedPAR      = 0x0F
	shapeRectangular = 0
)

// ParseVideoObjectLayer scans csd for a video_object_layer start code and
// walks the ISO/IEC 14496-2 header up to the coded width and height. Field
// order and widths follow the standard exactly; a deviation would silently
// shift every later field. Only rectangular object layers are handled.
func ParseVideoObjectLayer(csd []byte) (Mpeg4Config, error) {
	start := -1
	for i := 0; i+3 < len(csd); i++ {
		if csd[i] == 0 && csd[i+1] == 0 && csd[i+2] == 1 && csd[i+3]&0xF0 == volStartNibble {
			start = i
			break
		}
	}
	if start < 0 {
		return Mpeg4Config{}, malformed("mpeg4-video", "video object layer start code not found")
	}

	v := volReader{r: bitstream.NewReader(csd)}
	v.r.SetPosition((start + 4) * 8)

	v.skip(1) // random_accessible_vol
	v.skip(8) // video_object_type_indication
	if v.bit() { // is_object_layer_identifier
		v.skip(4) // video_object_layer_verid
		v.skip(3) // video_object_layer_priority
	}
	if v.bits(4) == extendedPAR {
		v.skip(8) // par_width
		v.skip(8) // par_height
	}
	if v.bit() { // vol_control_parameters
		v.skip(2) // chroma_format
		v.skip(1) // low_delay
		if v.bit() { // vbv_parameters
			v.skip(79)
		}
	}
	if shape := v.bits(2); v.err == nil && shape != shapeRectangular {
		return Mpeg4Config{}, unsupported("mpeg4-video", "non-rectangular video object layer shape")
	}
	v.marker()
	resolution := int(v.bits(16)) // vop_time_increment_resolution
	v.marker()
	if v.bit() { // fixed_vop_rate
		if v.err == nil && resolution == 0 {
			return Mpeg4Config{}, malformed("mpeg4-video", "fixed vop rate with zero time increment resolution")
		}
		// fixed_vop_time_increment is ceil(log2(resolution)) bits wide.
		resolution--
		n := 0
		for resolution > 0 {
			n++
			resolution >>= 1
		}
		v.skip(n)
	}
	v.marker()
	width := int(v.bits(13))
	v.marker()
	height := int(v.bits(13))
	v.marker()
	v.skip(1) // interlaced
	if v.err != nil {
		return Mpeg4Config{}, v.err
	}
	return Mpeg4Config{Width: width, Height: height}, nil
}

// volReader walks untrusted bits with a sticky error so truncation inside
// the header surfaces as a malformed error instead of a cursor panic.
type volReader struct {
	r   *bitstream.Reader
	err error
}

func (v *volReader) bits(n int) uint32 {
	if v.err != nil {
		return 0
	}
	if v.r.BitsLeft() < n {
		v.err = malformed("mpeg4-video", "truncated video object layer")
		return 0
	}
	return v.r.ReadBits(n)
}

func (v *volReader) bit() bool {
	return v.bits(1) == 1
}

func (v *volReader) skip(n int) {
	if v.err != nil {
		return
	}
	if v.r.BitsLeft() < n {
		v.err = malformed("mpeg4-video", "truncated video object layer")
		return
	}
	v.r.SkipBits(n)
}

func (v *volReader) marker() {
	if !v.bit() && v.err == nil {
		v.err = malformed("mpeg4-video", "marker bit unset")
	}
}
