package bitstream

import "encoding/binary"

// ByteReader is a byte-granularity cursor over a byte slice. Multi-byte
// integers are read big-endian, matching transport stream and ISO-BMFF
// field order. Like Reader, out-of-range access is a caller bug and
// panics; parsers bounds-check untrusted lengths with Remaining first.
type ByteReader struct {
	data []byte
	pos  int
}

// NewByteReader returns a ByteReader positioned at the first byte of data.
func NewByteReader(data []byte) *ByteReader {
	return &ByteReader{data: data}
}

// Reset replaces the underlying buffer and rewinds the cursor.
func (b *ByteReader) Reset(data []byte) {
	b.data = data
	b.pos = 0
}

// Remaining returns the number of unread bytes.
func (b *ByteReader) Remaining() int {
	return len(b.data) - b.pos
}

// Position returns the cursor position in bytes from the start of the buffer.
func (b *ByteReader) Position() int {
	return b.pos
}

// SetPosition moves the cursor to an absolute byte position.
func (b *ByteReader) SetPosition(pos int) {
	if pos < 0 || pos > len(b.data) {
		panic("bitstream: position out of range")
	}
	b.pos = pos
}

// Skip advances the cursor by n bytes.
func (b *ByteReader) Skip(n int) {
	if n < 0 || b.pos+n > len(b.data) {
		panic("bitstream: position out of range")
	}
	b.pos += n
}

// ReadUint8 reads one byte.
func (b *ByteReader) ReadUint8() byte {
	v := b.data[b.pos]
	b.pos++
	return v
}

// ReadUint16 reads a big-endian 16-bit integer.
func (b *ByteReader) ReadUint16() uint16 {
	v := binary.BigEndian.Uint16(b.data[b.pos:])
	b.pos += 2
	return v
}

// ReadUint24 reads a big-endian 24-bit integer into the low bits.
func (b *ByteReader) ReadUint24() uint32 {
	v := uint32(b.data[b.pos])<<16 | uint32(b.data[b.pos+1])<<8 | uint32(b.data[b.pos+2])
	b.pos += 3
	return v
}

// ReadUint32 reads a big-endian 32-bit integer.
func (b *ByteReader) ReadUint32() uint32 {
	v := binary.BigEndian.Uint32(b.data[b.pos:])
	b.pos += 4
	return v
}

// ReadUint64 reads a big-endian 64-bit integer.
func (b *ByteReader) ReadUint64() uint64 {
	v := binary.BigEndian.Uint64(b.data[b.pos:])
	b.pos += 8
	return v
}

// ReadSlice returns a view of the next n bytes and advances past them. The
// returned slice aliases the underlying buffer.
func (b *ByteReader) ReadSlice(n int) []byte {
	if n < 0 || b.pos+n > len(b.data) {
		panic("bitstream: position out of range")
	}
	v := b.data[b.pos : b.pos+n]
	b.pos += n
	return v
}

// ReadString reads the next n bytes as a string.
func (b *ByteReader) ReadString(n int) string {
	return string(b.ReadSlice(n))
}
