package demux

import (
	"errors"

	"github.com/zsiec/refract/internal/bitstream"
)

var errTruncated = errors.New("demux: truncated parameter set")

// esReader walks untrusted elementary stream bits with a sticky error, so
// a truncated or garbage parameter set surfaces as errTruncated instead of
// a cursor panic. Exp-Golomb codes follow ITU-T H.264/H.265 clause 9.1.
type esReader struct {
	r   *bitstream.Reader
	err error
}

func newESReader(rbsp []byte) *esReader {
	return &esReader{r: bitstream.NewReader(rbsp)}
}

func (g *esReader) bits(n int) uint32 {
	if g.err != nil {
		return 0
	}
	if g.r.BitsLeft() < n {
		g.err = errTruncated
		return 0
	}
	return g.r.ReadBits(n)
}

func (g *esReader) bit() bool {
	return g.bits(1) == 1
}

func (g *esReader) skip(n int) {
	if g.err != nil {
		return
	}
	if g.r.BitsLeft() < n {
		g.err = errTruncated
		return
	}
	g.r.SkipBits(n)
}

// ue reads an unsigned Exp-Golomb code: leading zeros count the suffix
// width, the value is 2^zeros - 1 + suffix.
func (g *esReader) ue() uint32 {
	zeros := 0
	for !g.bit() {
		if g.err != nil {
			return 0
		}
		zeros++
		if zeros > 31 {
			g.err = errTruncated
			return 0
		}
	}
	if zeros == 0 {
		return 0
	}
	return 1<<zeros - 1 + g.bits(zeros)
}

// se reads a signed Exp-Golomb code mapped per clause 9.1.1.
func (g *esReader) se() int32 {
	v := g.ue()
	if v%2 == 0 {
		return -int32(v / 2)
	}
	return int32(v+1) / 2
}

// unescapeRBSP strips emulation prevention bytes (00 00 03 followed by a
// byte <= 03) so the parameter set grammar can be walked directly.
func unescapeRBSP(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 &&
			(i+3 >= len(data) || data[i+3] <= 3) {
			out = append(out, 0, 0)
			i += 2
			continue
		}
		out = append(out, data[i])
	}
	return out
}
