// Package bitstream provides cursors over byte buffers at bit and byte
// granularity. Reader walks a buffer bit by bit with MSB-first semantics;
// ByteReader is its byte-aligned companion for byte-structured payloads.
//
// Both cursors treat out-of-range positions and misaligned byte access as
// caller bugs and panic. Parsers working on untrusted input bounds-check
// with BitsLeft or Remaining before reading.
package bitstream

// Reader is a bit-granularity cursor over a byte slice. Bits within a byte
// are consumed most significant first. A Reader is owned by a single parse
// call and is not safe for concurrent use.
type Reader struct {
	data       []byte
	byteOffset int
	bitOffset  int // bits already consumed in data[byteOffset], 0..7
	byteLimit  int
}

// NewReader returns a Reader positioned at the first bit of data.
func NewReader(data []byte) *Reader {
	r := &Reader{}
	r.Reset(data)
	return r
}

// Reset replaces the underlying buffer and rewinds the cursor to bit 0.
// The readable window is the whole of data.
func (r *Reader) Reset(data []byte) {
	r.data = data
	r.byteOffset = 0
	r.bitOffset = 0
	r.byteLimit = len(data)
}

// BitsLeft returns the number of bits between the cursor and the limit.
func (r *Reader) BitsLeft() int {
	return (r.byteLimit-r.byteOffset)*8 - r.bitOffset
}

// Position returns the cursor position in bits from the start of the buffer.
func (r *Reader) Position() int {
	return r.byteOffset*8 + r.bitOffset
}

// SetPosition moves the cursor to an absolute bit position.
func (r *Reader) SetPosition(pos int) {
	r.byteOffset = pos / 8
	r.bitOffset = pos % 8
	r.assertValid()
}

// SkipBit advances the cursor by one bit.
func (r *Reader) SkipBit() {
	r.bitOffset++
	if r.bitOffset == 8 {
		r.bitOffset = 0
		r.byteOffset++
	}
	r.assertValid()
}

// SkipBits advances the cursor by n bits.
func (r *Reader) SkipBits(n int) {
	if n < 0 {
		panic("bitstream: negative bit count")
	}
	r.byteOffset += n / 8
	r.bitOffset += n % 8
	if r.bitOffset > 7 {
		r.bitOffset -= 8
		r.byteOffset++
	}
	r.assertValid()
}

// ReadBit reads a single bit.
func (r *Reader) ReadBit() bool {
	bit := r.data[r.byteOffset]&(0x80>>r.bitOffset) != 0
	r.SkipBit()
	return bit
}

// ReadBits reads n bits, 0 <= n <= 32, into the low n bits of the result.
func (r *Reader) ReadBits(n int) uint32 {
	if n < 0 || n > 32 {
		panic("bitstream: bit count out of range")
	}
	if n == 0 {
		return 0
	}
	var v uint32
	r.bitOffset += n
	for r.bitOffset > 8 {
		r.bitOffset -= 8
		v |= uint32(r.data[r.byteOffset]) << r.bitOffset
		r.byteOffset++
	}
	v |= uint32(r.data[r.byteOffset]) >> (8 - r.bitOffset)
	v &= 0xFFFFFFFF >> (32 - n)
	if r.bitOffset == 8 {
		r.bitOffset = 0
		r.byteOffset++
	}
	r.assertValid()
	return v
}

// ReadBits64 reads n bits, 0 <= n <= 64, into the low n bits of the result.
// Wide reads are composed from two 32-bit reads; both halves combine as
// unsigned values so no sign extension can leak between them.
func (r *Reader) ReadBits64(n int) uint64 {
	if n < 0 || n > 64 {
		panic("bitstream: bit count out of range")
	}
	if n <= 32 {
		return uint64(r.ReadBits(n))
	}
	hi := uint64(r.ReadBits(n - 32))
	lo := uint64(r.ReadBits(32))
	return hi<<32 | lo
}

// ReadBitsInto copies the next n bits into dst. Whole bytes are written
// first; any trailing n%8 bits land in the most significant bits of the
// last touched byte, whose remaining low bits are preserved.
func (r *Reader) ReadBitsInto(dst []byte, n int) {
	if n < 0 {
		panic("bitstream: negative bit count")
	}
	for i := 0; i < n/8; i++ {
		var b byte
		if r.bitOffset != 0 {
			b = r.data[r.byteOffset] << r.bitOffset
			b |= r.data[r.byteOffset+1] >> (8 - r.bitOffset)
		} else {
			b = r.data[r.byteOffset]
		}
		dst[i] = b
		r.byteOffset++
	}
	rem := n % 8
	if rem == 0 {
		r.assertValid()
		return
	}
	last := n / 8
	dst[last] &= 0xFF >> rem
	dst[last] |= byte(r.ReadBits(rem)) << (8 - rem)
}

// ByteAlign advances the cursor to the next byte boundary, or does nothing
// if it is already aligned.
func (r *Reader) ByteAlign() {
	if r.bitOffset == 0 {
		return
	}
	r.bitOffset = 0
	r.byteOffset++
	r.assertValid()
}

// ReadBytes fills dst from the cursor, which must be byte-aligned.
func (r *Reader) ReadBytes(dst []byte) {
	r.requireAligned()
	copy(dst, r.data[r.byteOffset:r.byteOffset+len(dst)])
	r.byteOffset += len(dst)
	r.assertValid()
}

// SkipBytes advances the cursor by n whole bytes, which requires the cursor
// to be byte-aligned.
func (r *Reader) SkipBytes(n int) {
	if n < 0 {
		panic("bitstream: negative byte count")
	}
	r.requireAligned()
	r.byteOffset += n
	r.assertValid()
}

// ReadString reads n byte-aligned bytes as a string. The bytes are returned
// verbatim, so the result is meaningful for ASCII and UTF-8 payloads.
func (r *Reader) ReadString(n int) string {
	r.requireAligned()
	s := string(r.data[r.byteOffset : r.byteOffset+n])
	r.byteOffset += n
	r.assertValid()
	return s
}

// PutBits overwrites the next n bits, 0 <= n <= 32, with the low n bits of
// v, most significant first. Bits outside the written window keep their
// previous values. The cursor ends n bits past where it started, exactly as
// if the same width had been read.
func (r *Reader) PutBits(v uint32, n int) {
	if n < 0 || n > 32 {
		panic("bitstream: bit count out of range")
	}
	for i := n - 1; i >= 0; i-- {
		mask := byte(0x80) >> r.bitOffset
		if v>>i&1 != 0 {
			r.data[r.byteOffset] |= mask
		} else {
			r.data[r.byteOffset] &^= mask
		}
		r.bitOffset++
		if r.bitOffset == 8 {
			r.bitOffset = 0
			r.byteOffset++
		}
	}
	r.assertValid()
}

func (r *Reader) requireAligned() {
	if r.bitOffset != 0 {
		panic("bitstream: cursor not byte-aligned")
	}
}

func (r *Reader) assertValid() {
	if r.byteOffset < 0 || r.byteOffset > r.byteLimit ||
		r.bitOffset < 0 || r.bitOffset > 7 ||
		(r.byteOffset == r.byteLimit && r.bitOffset != 0) {
		panic("bitstream: cursor out of range")
	}
}
