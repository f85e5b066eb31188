package demux

import (
	"bytes"
	"testing"
)

func h264Type(d []byte) byte { return d[0] & 0x1F }

func TestScanAnnexB(t *testing.T) {
	t.Parallel()
	data := []byte{
		// 4-byte start code + SPS (NAL type 7)
		0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0xE0, 0x1E,
		// 3-byte start code + PPS (NAL type 8)
		0x00, 0x00, 0x01, 0x68, 0xCE, 0x38, 0x80,
		// 4-byte start code + IDR (NAL type 5)
		0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x00, 0xFF, 0xFE,
	}

	units := scanAnnexB(data, 1, h264Type)
	if len(units) != 3 {
		t.Fatalf("got %d units, want 3", len(units))
	}
	wantTypes := []byte{nalTypeSPS, nalTypePPS, nalTypeIDR}
	for i, u := range units {
		if u.typ != wantTypes[i] {
			t.Errorf("unit %d type = %d, want %d", i, u.typ, wantTypes[i])
		}
	}
	if !bytes.Equal(units[0].data, []byte{0x67, 0x42, 0xE0, 0x1E}) {
		t.Errorf("SPS data = % X", units[0].data)
	}
}

func TestScanAnnexBEmpty(t *testing.T) {
	t.Parallel()
	if units := scanAnnexB(nil, 1, h264Type); units != nil {
		t.Errorf("got %d units for empty input, want none", len(units))
	}
	if units := scanAnnexB([]byte{0x00, 0x01}, 1, h264Type); units != nil {
		t.Errorf("got %d units for short input, want none", len(units))
	}
}

func TestScanAnnexBMinLen(t *testing.T) {
	t.Parallel()
	// A unit with a single payload byte must be dropped when the codec
	// needs a 2-byte NAL header.
	data := []byte{
		0x00, 0x00, 0x01, 0x42,
		0x00, 0x00, 0x01, 0x42, 0x01, 0xAA,
	}
	units := scanAnnexB(data, 2, func(d []byte) byte { return hevcNALType(d[0]) })
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1", len(units))
	}
	if units[0].typ != hevcNALSPS {
		t.Errorf("type = %d, want %d", units[0].typ, hevcNALSPS)
	}
}

func TestScanAnnexBZerosBeforeStartCode(t *testing.T) {
	t.Parallel()
	// A zero before 00 00 01 belongs to the start code prefix, not to the
	// preceding unit.
	data := []byte{
		0x00, 0x00, 0x01, 0x06, 0xAA, 0xBB,
		0x00, 0x00, 0x00, 0x01, 0x41, 0xCC,
	}
	units := scanAnnexB(data, 1, h264Type)
	if len(units) != 2 {
		t.Fatalf("got %d units, want 2", len(units))
	}
	if !bytes.Equal(units[0].data, []byte{0x06, 0xAA, 0xBB}) {
		t.Errorf("first unit = % X, want 06 AA BB", units[0].data)
	}
}

func TestWithStartCode(t *testing.T) {
	t.Parallel()
	got := withStartCode([]byte{0x65, 0x88})
	want := []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0x88}
	if !bytes.Equal(got, want) {
		t.Errorf("got % X, want % X", got, want)
	}
}

func TestUnescapeRBSP(t *testing.T) {
	t.Parallel()
	in := []byte{0x12, 0x00, 0x00, 0x03, 0x01, 0x34, 0x00, 0x00, 0x03, 0x03}
	want := []byte{0x12, 0x00, 0x00, 0x01, 0x34, 0x00, 0x00, 0x03}
	if got := unescapeRBSP(in); !bytes.Equal(got, want) {
		t.Errorf("got % X, want % X", got, want)
	}

	// 00 00 03 followed by a byte above 3 is not an escape.
	in = []byte{0x00, 0x00, 0x03, 0x04}
	if got := unescapeRBSP(in); !bytes.Equal(got, in) {
		t.Errorf("got % X, want input unchanged", got)
	}
}

func TestExpGolomb(t *testing.T) {
	t.Parallel()
	// ue codes for 0..4: 1, 010, 011, 00100, 00101 → packed bits
	// 1 010 011 00100 00101 0... = 1010 0110 0100 0010 1000 0000
	g := newESReader([]byte{0xA6, 0x42, 0x80})
	for want := uint32(0); want < 5; want++ {
		if got := g.ue(); got != want {
			t.Errorf("ue() = %d, want %d", got, want)
		}
	}
	if g.err != nil {
		t.Fatalf("unexpected error: %v", g.err)
	}
}

func TestExpGolombSigned(t *testing.T) {
	t.Parallel()
	// se maps 0,1,2,3,4 → 0,1,-1,2,-2
	g := newESReader([]byte{0xA6, 0x42, 0x80})
	want := []int32{0, 1, -1, 2, -2}
	for _, w := range want {
		if got := g.se(); got != w {
			t.Errorf("se() = %d, want %d", got, w)
		}
	}
}

func TestExpGolombTruncated(t *testing.T) {
	t.Parallel()
	g := newESReader([]byte{0x00})
	g.ue()
	if g.err != errTruncated {
		t.Errorf("err = %v, want errTruncated", g.err)
	}
}
