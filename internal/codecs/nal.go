package codecs

import "bytes"

// startCode is the four-byte Annex B NAL unit start code.
var startCode = []byte{0, 0, 0, 1}

// BuildNalUnit returns a new NAL unit: the four-byte start code followed by
// payload.
func BuildNalUnit(payload []byte) []byte {
	nal := make([]byte, 0, len(startCode)+len(payload))
	nal = append(nal, startCode...)
	return append(nal, payload...)
}

// SplitNalUnits splits data into NAL units delimited by four-byte start
// codes. It returns nil unless data itself begins with a start code. Each
// returned unit keeps its leading start code and aliases data; the final
// unit runs to the end of data.
func SplitNalUnits(data []byte) [][]byte {
	if !bytes.HasPrefix(data, startCode) {
		return nil
	}
	var units [][]byte
	start := 0
	for {
		next := findStartCode(data, start+len(startCode))
		if next < 0 {
			return append(units, data[start:])
		}
		units = append(units, data[start:next])
		start = next
	}
}

func findStartCode(data []byte, from int) int {
	if from > len(data) {
		return -1
	}
	i := bytes.Index(data[from:], startCode)
	if i < 0 {
		return -1
	}
	return from + i
}

// AvccToAnnexB converts length-prefixed sample data, as stored in MP4 and
// FLV, to Annex B framing with four-byte start codes. lengthSize is the
// width of the NAL length prefix in bytes, 1 to 4.
func AvccToAnnexB(sample []byte, lengthSize int) ([]byte, error) {
	if lengthSize < 1 || lengthSize > 4 {
		return nil, malformed("nal", "length prefix width out of range")
	}
	out := make([]byte, 0, len(sample)+4)
	for pos := 0; pos < len(sample); {
		if len(sample)-pos < lengthSize {
			return nil, malformed("nal", "truncated length prefix")
		}
		n := 0
		for i := 0; i < lengthSize; i++ {
			n = n<<8 | int(sample[pos+i])
		}
		pos += lengthSize
		if n == 0 || n > len(sample)-pos {
			return nil, malformed("nal", "length prefix out of range")
		}
		out = append(out, startCode...)
		out = append(out, sample[pos:pos+n]...)
		pos += n
	}
	return out, nil
}

// StripStartCode removes a three- or four-byte Annex B start code prefix,
// returning the input unchanged when neither is present.
func StripStartCode(nalu []byte) []byte {
	if bytes.HasPrefix(nalu, startCode) {
		return nalu[4:]
	}
	if len(nalu) >= 3 && nalu[0] == 0 && nalu[1] == 0 && nalu[2] == 1 {
		return nalu[3:]
	}
	return nalu
}
