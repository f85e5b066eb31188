package codecs

import (
	"bytes"
	"errors"
	"testing"
)

func TestBuildNalUnit(t *testing.T) {
	t.Parallel()

	got := BuildNalUnit([]byte{0x67, 0x42, 0xC0})
	want := []byte{0, 0, 0, 1, 0x67, 0x42, 0xC0}
	if !bytes.Equal(got, want) {
		t.Errorf("BuildNalUnit = %v, want %v", got, want)
	}

	payload := []byte{0x65}
	got = BuildNalUnit(payload)
	got[4] = 0x00
	if payload[0] != 0x65 {
		t.Errorf("BuildNalUnit aliases its input")
	}
}

func TestSplitNalUnits(t *testing.T) {
	t.Parallel()

	sps := BuildNalUnit([]byte{0x67, 0x42})
	pps := BuildNalUnit([]byte{0x68, 0xCE, 0x38, 0x80})
	units := SplitNalUnits(append(append([]byte{}, sps...), pps...))
	if len(units) != 2 {
		t.Fatalf("got %d units, want 2", len(units))
	}
	if !bytes.Equal(units[0], sps) {
		t.Errorf("units[0] = %v, want %v", units[0], sps)
	}
	if !bytes.Equal(units[1], pps) {
		t.Errorf("units[1] = %v, want %v", units[1], pps)
	}
}

func TestSplitNalUnitsSingle(t *testing.T) {
	t.Parallel()

	// A three-byte start code inside the unit is not a boundary.
	unit := []byte{0, 0, 0, 1, 0x41, 0, 0, 1, 0x9F}
	units := SplitNalUnits(unit)
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1", len(units))
	}
	if !bytes.Equal(units[0], unit) {
		t.Errorf("units[0] = %v, want %v", units[0], unit)
	}
}

func TestSplitNalUnitsNoStartCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"no prefix", []byte{0x01, 0x02, 0x03, 0x04}},
		{"three byte code", []byte{0, 0, 1, 0x67}},
		{"short", []byte{0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if units := SplitNalUnits(tt.data); units != nil {
				t.Errorf("SplitNalUnits(%v) = %v, want nil", tt.data, units)
			}
		})
	}
}

func TestAvccToAnnexB(t *testing.T) {
	t.Parallel()

	sample := []byte{
		0x00, 0x00, 0x00, 0x02, 0x09, 0xF0,
		0x00, 0x00, 0x00, 0x03, 0x41, 0x9A, 0x00,
	}
	got, err := AvccToAnnexB(sample, 4)
	if err != nil {
		t.Fatalf("AvccToAnnexB: %v", err)
	}
	want := []byte{
		0, 0, 0, 1, 0x09, 0xF0,
		0, 0, 0, 1, 0x41, 0x9A, 0x00,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("AvccToAnnexB = %v, want %v", got, want)
	}
}

func TestAvccToAnnexBShortPrefix(t *testing.T) {
	t.Parallel()

	got, err := AvccToAnnexB([]byte{0x02, 0x67, 0x42, 0x01, 0x68}, 1)
	if err != nil {
		t.Fatalf("AvccToAnnexB: %v", err)
	}
	want := []byte{0, 0, 0, 1, 0x67, 0x42, 0, 0, 0, 1, 0x68}
	if !bytes.Equal(got, want) {
		t.Errorf("AvccToAnnexB = %v, want %v", got, want)
	}
}

func TestAvccToAnnexBErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		sample     []byte
		lengthSize int
	}{
		{"length runs past end", []byte{0x00, 0x00, 0x00, 0x09, 0x41}, 4},
		{"truncated prefix", []byte{0x00, 0x00, 0x00, 0x02, 0x41, 0x9A, 0x00}, 4},
		{"zero length", []byte{0x00, 0x00, 0x00, 0x00, 0x41}, 4},
		{"bad width", []byte{0x01, 0x41}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := AvccToAnnexB(tt.sample, tt.lengthSize); !errors.Is(err, ErrMalformed) {
				t.Errorf("error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestStripStartCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []byte
		want []byte
	}{
		{"four byte", []byte{0, 0, 0, 1, 0x67, 0x42}, []byte{0x67, 0x42}},
		{"three byte", []byte{0, 0, 1, 0x68}, []byte{0x68}},
		{"none", []byte{0x65, 0x88}, []byte{0x65, 0x88}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := StripStartCode(tt.in); !bytes.Equal(got, tt.want) {
				t.Errorf("StripStartCode(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func FuzzSplitNalUnits(f *testing.F) {
	f.Add([]byte{0, 0, 0, 1, 0x67, 0, 0, 0, 1, 0x68})
	f.Add([]byte{0, 0, 0, 1})
	f.Fuzz(func(t *testing.T, data []byte) {
		units := SplitNalUnits(data)
		var total int
		for _, u := range units {
			total += len(u)
		}
		if units != nil && total != len(data) {
			t.Errorf("units cover %d bytes of %d", total, len(data))
		}
	})
}

func FuzzAvccToAnnexB(f *testing.F) {
	f.Add([]byte{0x00, 0x00, 0x00, 0x02, 0x09, 0xF0}, 4)
	f.Add([]byte{0x01, 0x41}, 1)
	f.Fuzz(func(t *testing.T, data []byte, lengthSize int) {
		AvccToAnnexB(data, lengthSize) // must not panic
	})
}
