package scte35

import (
	"testing"
)

func TestSectionReaderSingleBits(t *testing.T) {
	t.Parallel()
	r := newSectionReader([]byte{0xA5}) // 10100101
	expected := []bool{true, false, true, false, false, true, false, true}
	for i, want := range expected {
		got := r.readBit()
		if got != want {
			t.Errorf("bit %d: got %v, want %v", i, got, want)
		}
	}
	if r.bitsLeft() != 0 {
		t.Errorf("bitsLeft: got %d, want 0", r.bitsLeft())
	}
}

func TestSectionReaderUint32(t *testing.T) {
	t.Parallel()
	r := newSectionReader([]byte{0xAB, 0xCD})
	got := r.readUint32(12)
	if got != 0xABC {
		t.Errorf("readUint32(12): got 0x%X, want 0xABC", got)
	}
	got = r.readUint32(4)
	if got != 0xD {
		t.Errorf("readUint32(4): got 0x%X, want 0xD", got)
	}
}

func TestSectionReaderUint64(t *testing.T) {
	t.Parallel()
	// 33-bit value: 0x1FFFFFFFF = all ones
	r := newSectionReader([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x80})
	got := r.readUint64(33)
	if got != 0x1FFFFFFFF {
		t.Errorf("readUint64(33): got 0x%X, want 0x1FFFFFFFF", got)
	}
}

func TestSectionReaderBytes(t *testing.T) {
	t.Parallel()
	r := newSectionReader([]byte{0x01, 0x02, 0x03, 0x04})
	r.skip(8)
	got := r.readBytes(2)
	if got[0] != 0x02 || got[1] != 0x03 {
		t.Errorf("readBytes: got %v, want [0x02, 0x03]", got)
	}
}

func TestSectionReaderBytesUnaligned(t *testing.T) {
	t.Parallel()
	// Reading bytes off a nibble boundary shifts everything by 4 bits.
	r := newSectionReader([]byte{0x0A, 0xBC, 0xD0})
	r.skip(4)
	got := r.readBytes(2)
	if got[0] != 0xAB || got[1] != 0xCD {
		t.Errorf("readBytes: got %02X %02X, want AB CD", got[0], got[1])
	}
}

func TestSectionReaderOverflow(t *testing.T) {
	t.Parallel()
	r := newSectionReader([]byte{0xFF})
	r.skip(8)
	r.readBit()
	if !r.overflow {
		t.Error("expected overflow after reading past end")
	}
}

func TestSectionReaderOverflowIsSticky(t *testing.T) {
	t.Parallel()
	r := newSectionReader([]byte{0xFF, 0xFF})
	r.readUint32(8)
	if got := r.readUint32(16); got != 0 {
		t.Errorf("readUint32 past end: got 0x%X, want 0", got)
	}
	if !r.overflow {
		t.Error("expected overflow flag after short read")
	}
	// The byte still in the buffer must not be readable once overflowed.
	if got := r.readUint32(8); got != 0 {
		t.Errorf("readUint32 after overflow: got 0x%X, want 0", got)
	}
	if r.readBit() {
		t.Error("readBit after overflow: got true, want false")
	}
}

func TestSectionReaderBytesPastEnd(t *testing.T) {
	t.Parallel()
	r := newSectionReader([]byte{0x01, 0x02})
	if got := r.readBytes(3); got != nil {
		t.Errorf("readBytes past end: got %v, want nil", got)
	}
	if !r.overflow {
		t.Error("expected overflow after short readBytes")
	}
}

func TestSectionReaderNegativeCount(t *testing.T) {
	t.Parallel()
	r := newSectionReader([]byte{0x01, 0x02})
	if got := r.readBytes(-1); got != nil {
		t.Errorf("readBytes(-1): got %v, want nil", got)
	}
	if !r.overflow {
		t.Error("expected overflow on negative count")
	}
}

func TestSectionReaderSkipPastEnd(t *testing.T) {
	t.Parallel()
	r := newSectionReader([]byte{0x01, 0x02})
	r.skip(40)
	if !r.overflow {
		t.Error("expected overflow after long skip")
	}
	if got := r.bitsLeft(); got != 0 {
		t.Errorf("bitsLeft after long skip: got %d, want 0", got)
	}
}

func TestSectionWriterSingleBits(t *testing.T) {
	t.Parallel()
	w := newSectionWriter(1)
	bits := []bool{true, false, true, false, false, true, false, true}
	for _, b := range bits {
		w.putBit(b)
	}
	if w.bytes()[0] != 0xA5 {
		t.Errorf("got 0x%02X, want 0xA5", w.bytes()[0])
	}
}

func TestSectionWriterUint32(t *testing.T) {
	t.Parallel()
	w := newSectionWriter(2)
	w.putUint32(12, 0xABC)
	w.putUint32(4, 0xD)
	if w.bytes()[0] != 0xAB || w.bytes()[1] != 0xCD {
		t.Errorf("got %02X %02X, want AB CD", w.bytes()[0], w.bytes()[1])
	}
}

func TestSectionWriterUint64(t *testing.T) {
	t.Parallel()
	w := newSectionWriter(5)
	w.putUint64(33, 0x1FFFFFFFF)
	w.putUint64(7, 0) // pad remaining bits
	expected := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x80}
	for i, want := range expected {
		if w.bytes()[i] != want {
			t.Errorf("byte %d: got 0x%02X, want 0x%02X", i, w.bytes()[i], want)
		}
	}
}

func TestSectionWriterBytes(t *testing.T) {
	t.Parallel()
	w := newSectionWriter(4)
	w.putUint32(8, 0x01)
	w.putBytes([]byte{0x02, 0x03})
	w.putUint32(8, 0x04)
	expected := []byte{0x01, 0x02, 0x03, 0x04}
	for i, want := range expected {
		if w.bytes()[i] != want {
			t.Errorf("byte %d: got 0x%02X, want 0x%02X", i, w.bytes()[i], want)
		}
	}
}

func TestSectionRoundTrip(t *testing.T) {
	t.Parallel()
	w := newSectionWriter(8)
	w.putUint32(8, 0xFC)
	w.putBit(false)
	w.putBit(false)
	w.putUint32(2, 3)
	w.putUint32(12, 0x123)
	w.putUint64(33, 900000)
	w.putUint32(7, 0) // padding

	r := newSectionReader(w.bytes())
	if got := r.readUint32(8); got != 0xFC {
		t.Errorf("got 0x%X, want 0xFC", got)
	}
	if got := r.readBit(); got != false {
		t.Errorf("got %v, want false", got)
	}
	if got := r.readBit(); got != false {
		t.Errorf("got %v, want false", got)
	}
	if got := r.readUint32(2); got != 3 {
		t.Errorf("got %d, want 3", got)
	}
	if got := r.readUint32(12); got != 0x123 {
		t.Errorf("got 0x%X, want 0x123", got)
	}
	if got := r.readUint64(33); got != 900000 {
		t.Errorf("got %d, want 900000", got)
	}
}

func TestSectionReaderSkip(t *testing.T) {
	t.Parallel()
	r := newSectionReader([]byte{0xFF, 0x00, 0xAB})
	r.skip(16)
	if got := r.readUint32(8); got != 0xAB {
		t.Errorf("got 0x%02X, want 0xAB", got)
	}
}
