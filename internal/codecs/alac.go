package codecs

import "github.com/zsiec/refract/internal/bitstream"

// AlacConfig holds the stream parameters read from an ALAC magic cookie.
type AlacConfig struct {
	SampleRateHz int
	ChannelCount int
}

// ParseAlacCookie reads the channel count and sample rate from an ALAC
// magic cookie: the channel count is the byte at offset 9 and the sample
// rate the big-endian 32-bit integer at offset 20. The caller must supply
// at least 24 bytes; a shorter buffer is a caller error, not a data error.
func ParseAlacCookie(cookie []byte) AlacConfig {
	r := bitstream.NewReader(cookie)
	r.SetPosition(9 * 8)
	channels := int(r.ReadBits(8))
	r.SetPosition(20 * 8)
	rate := int(r.ReadBits(32))
	return AlacConfig{SampleRateHz: rate, ChannelCount: channels}
}
