package scte35

import "github.com/zsiec/refract/internal/bitstream"

// sectionReader walks splice sections MSB-first with a sticky overflow flag:
// once a read runs past the end of the data, every later read yields zero.
// Splice payloads are untrusted, so exhaustion must not panic the cursor.
type sectionReader struct {
	r        *bitstream.Reader
	overflow bool
}

func newSectionReader(data []byte) *sectionReader {
	return &sectionReader{r: bitstream.NewReader(data)}
}

func (sr *sectionReader) bitsLeft() int {
	return sr.r.BitsLeft()
}

func (sr *sectionReader) readBit() bool {
	if sr.overflow || sr.r.BitsLeft() < 1 {
		sr.overflow = true
		return false
	}
	return sr.r.ReadBit()
}

func (sr *sectionReader) readUint32(n int) uint32 {
	if sr.overflow || sr.r.BitsLeft() < n {
		sr.overflow = true
		return 0
	}
	return sr.r.ReadBits(n)
}

func (sr *sectionReader) readUint64(n int) uint64 {
	if sr.overflow || sr.r.BitsLeft() < n {
		sr.overflow = true
		return 0
	}
	return sr.r.ReadBits64(n)
}

func (sr *sectionReader) readBytes(n int) []byte {
	if n < 0 || sr.overflow || sr.r.BitsLeft() < n*8 {
		sr.overflow = true
		return nil
	}
	out := make([]byte, n)
	sr.r.ReadBitsInto(out, n*8)
	return out
}

func (sr *sectionReader) skip(n int) {
	if sr.overflow || sr.r.BitsLeft() < n {
		sr.overflow = true
		sr.r.SkipBits(sr.r.BitsLeft())
		return
	}
	sr.r.SkipBits(n)
}

// sectionWriter writes bit fields MSB-first into an exactly sized buffer.
// Sizes come from commandLength/descriptorLength, so running past the end
// is a programming error and panics via the underlying cursor.
type sectionWriter struct {
	buf []byte
	r   *bitstream.Reader
}

func newSectionWriter(size int) *sectionWriter {
	buf := make([]byte, size)
	return &sectionWriter{buf: buf, r: bitstream.NewReader(buf)}
}

func (w *sectionWriter) putBit(v bool) {
	if v {
		w.r.PutBits(1, 1)
	} else {
		w.r.PutBits(0, 1)
	}
}

func (w *sectionWriter) putUint32(n int, v uint32) {
	w.r.PutBits(v, n)
}

func (w *sectionWriter) putUint64(n int, v uint64) {
	if n > 32 {
		w.r.PutBits(uint32(v>>32), n-32)
		w.r.PutBits(uint32(v), 32)
		return
	}
	w.r.PutBits(uint32(v), n)
}

func (w *sectionWriter) putBytes(b []byte) {
	for _, v := range b {
		w.r.PutBits(uint32(v), 8)
	}
}

func (w *sectionWriter) bytes() []byte {
	return w.buf
}
