package demux

// nalUnit is one unit extracted from an Annex B elementary stream. Data
// excludes the start code and aliases the scanned buffer.
type nalUnit struct {
	typ  byte
	data []byte
}

// scanAnnexB splits an Annex B byte stream on 3- and 4-byte start codes.
// minLen drops degenerate units shorter than one NAL header (1 byte for
// H.264, 2 for H.265); typeOf extracts the codec-specific unit type.
func scanAnnexB(data []byte, minLen int, typeOf func([]byte) byte) []nalUnit {
	starts := startCodeOffsets(data)
	if len(starts) == 0 {
		return nil
	}

	var units []nalUnit
	for i, s := range starts {
		end := len(data)
		if i+1 < len(starts) {
			end = starts[i+1].prefix
		}
		payload := data[s.payload:end]
		if len(payload) < minLen {
			continue
		}
		units = append(units, nalUnit{typ: typeOf(payload), data: payload})
	}
	return units
}

type startCode struct {
	prefix  int // offset of the first start code byte
	payload int // offset of the byte after the start code
}

func startCodeOffsets(data []byte) []startCode {
	var out []startCode
	for i := 0; i+2 < len(data); {
		if data[i] != 0 || data[i+1] != 0 {
			i++
			continue
		}
		if i+3 < len(data) && data[i+2] == 0 && data[i+3] == 1 {
			out = append(out, startCode{prefix: i, payload: i + 4})
			i += 4
			continue
		}
		if data[i+2] == 1 {
			out = append(out, startCode{prefix: i, payload: i + 3})
			i += 3
			continue
		}
		i++
	}
	return out
}

// withStartCode returns a copy of the unit prefixed with the 4-byte start
// code, the framing downstream sinks expect.
func withStartCode(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	out[3] = 1
	copy(out[4:], payload)
	return out
}
