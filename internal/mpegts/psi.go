package mpegts

import (
	"fmt"

	"github.com/zsiec/refract/internal/bitstream"
)

const (
	tableIDPAT    = 0x00
	tableIDPMT    = 0x02
	tableIDSCTE35 = 0xFC
)

func isPSIPayload(pid uint16, pm *programMap) bool {
	return pid == pidPAT || pm.isPMTPID(pid)
}

func parsePSI(payload []byte, pid uint16, firstPacket *Packet, pm *programMap) ([]*DemuxerData, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("mpegts: PSI payload too short")
	}

	pointerField := int(payload[0])
	offset := 1 + pointerField
	if offset >= len(payload) {
		return nil, fmt.Errorf("mpegts: PSI pointer field out of range")
	}

	var results []*DemuxerData

	for offset < len(payload) {
		tableID := payload[offset]
		if tableID == 0xFF {
			break // stuffing bytes
		}
		if offset+3 > len(payload) {
			break
		}

		// section_syntax_indicator must be 1 for PAT/PMT.
		// Zero padding bytes will have this bit clear.
		if payload[offset+1]&0x80 == 0 {
			break
		}

		sectionLength := int(payload[offset+1]&0x0F)<<8 | int(payload[offset+2])
		sectionEnd := offset + 3 + sectionLength
		if sectionEnd > len(payload) {
			break
		}

		sectionData := payload[offset:sectionEnd]

		switch tableID {
		case tableIDPAT:
			pat, err := parsePATSection(sectionData)
			if err != nil {
				return results, err
			}
			results = append(results, &DemuxerData{
				FirstPacket: firstPacket,
				PAT:         pat,
			})

		case tableIDPMT:
			pmt, err := parsePMTSection(sectionData)
			if err != nil {
				return results, err
			}
			results = append(results, &DemuxerData{
				FirstPacket: firstPacket,
				PMT:         pmt,
			})
		}

		offset = sectionEnd
	}

	return results, nil
}

func parsePATSection(data []byte) (*PATData, error) {
	if err := verifyCRC32(data); err != nil {
		return nil, fmt.Errorf("mpegts: PAT %w", err)
	}

	// data layout:
	// [0]    table_id
	// [1-2]  section_syntax_indicator(1) + zero(1) + reserved(2) + section_length(12)
	// [3-4]  transport_stream_id
	// [5]    reserved(2) + version(5) + current_next(1)
	// [6]    section_number
	// [7]    last_section_number
	// [8..N-4] program entries (4 bytes each)
	// [N-4..N] CRC32

	if len(data) < 12 { // minimum: 8 header + 4 CRC
		return nil, fmt.Errorf("mpegts: PAT too short")
	}

	r := bitstream.NewByteReader(data)
	r.Skip(1)
	sectionLength := int(r.ReadUint16() & 0x0FFF)
	r.Skip(5) // transport_stream_id, version, section numbers

	// Entries end 4 bytes before the section end (CRC32).
	entryEnd := 3 + sectionLength - 4
	if entryEnd > len(data)-4 {
		entryEnd = len(data) - 4
	}

	pat := &PATData{}
	for r.Position()+4 <= entryEnd {
		programNumber := r.ReadUint16()
		pmtPID := r.ReadUint16() & 0x1FFF

		if programNumber == 0 {
			continue // NIT PID, skip
		}

		pat.Programs = append(pat.Programs, &PATProgram{
			ProgramNumber: programNumber,
			ProgramMapID:  pmtPID,
		})
	}

	return pat, nil
}

func parsePMTSection(data []byte) (*PMTData, error) {
	if err := verifyCRC32(data); err != nil {
		return nil, fmt.Errorf("mpegts: PMT %w", err)
	}

	// data layout:
	// [0]    table_id
	// [1-2]  section_syntax_indicator(1) + zero(1) + reserved(2) + section_length(12)
	// [3-4]  program_number
	// [5]    reserved(2) + version(5) + current_next(1)
	// [6]    section_number
	// [7]    last_section_number
	// [8-9]  reserved(3) + PCR_PID(13)
	// [10-11] reserved(4) + program_info_length(12)
	// [...] program descriptors
	// [...] elementary stream entries
	// [...] CRC32

	if len(data) < 16 { // minimum: 12 header + 4 CRC
		return nil, fmt.Errorf("mpegts: PMT too short")
	}

	r := bitstream.NewByteReader(data)
	r.Skip(1)
	sectionLength := int(r.ReadUint16() & 0x0FFF)
	sectionEnd := 3 + sectionLength
	if sectionEnd > len(data) {
		sectionEnd = len(data)
	}

	r.Skip(7) // program_number, version, section numbers, PCR PID
	programInfoLength := int(r.ReadUint16() & 0x0FFF)
	if programInfoLength > r.Remaining() {
		return nil, fmt.Errorf("mpegts: PMT program info length out of range")
	}
	r.Skip(programInfoLength)

	pmt := &PMTData{}
	// Parse elementary stream entries until 4 bytes before section end (CRC).
	for r.Position()+5 <= sectionEnd-4 {
		streamType := r.ReadUint8()
		elementaryPID := r.ReadUint16() & 0x1FFF
		esInfoLength := int(r.ReadUint16() & 0x0FFF)

		pmt.ElementaryStreams = append(pmt.ElementaryStreams, &PMTElementaryStream{
			ElementaryPID: elementaryPID,
			StreamType:    streamType,
		})

		if esInfoLength > r.Remaining() {
			break
		}
		r.Skip(esInfoLength)
	}

	return pmt, nil
}

// parseSection extracts one complete private section from a PID the PMT
// registered with a section-carrying stream type. The data is trimmed to
// 3+section_length so trailing stuffing never reaches the section decoder.
func parseSection(payload []byte, pid uint16, firstPacket *Packet) ([]*DemuxerData, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("mpegts: section payload too short")
	}

	pointerField := int(payload[0])
	offset := 1 + pointerField
	if offset+3 > len(payload) {
		return nil, fmt.Errorf("mpegts: section pointer field out of range")
	}

	sectionLength := int(payload[offset+1]&0x0F)<<8 | int(payload[offset+2])
	end := offset + 3 + sectionLength
	if end > len(payload) {
		end = len(payload)
	}

	return []*DemuxerData{{
		FirstPacket: firstPacket,
		Section:     &SectionData{PID: pid, Data: payload[offset:end]},
	}}, nil
}
