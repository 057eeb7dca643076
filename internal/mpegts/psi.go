package mpegts

import (
	"errors"
	"fmt"
)

const (
	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

var tableNames = map[uint8]string{
	0x00: "program_association_section",
	0x01: "conditional_access_section",
	0x02: "TS_program_map_section",
	0x03: "TS_description_section",
	0x40: "network_information_section (actual)",
	0x41: "network_information_section (other)",
	0x42: "service_description_section (actual)",
	0x46: "service_description_section (other)",
	0x4A: "bouquet_association_section",
	0x4E: "event_information_section (actual, present/following)",
	0x70: "time_date_section",
	0x73: "time_offset_section",
	0xFC: "splice_info_section",
}

// TableName returns the name of a PSI/SI table id.
func TableName(tableID uint8) string {
	if name, ok := tableNames[tableID]; ok {
		return name
	}
	switch {
	case tableID >= 0x50 && tableID <= 0x6F:
		return "event_information_section (schedule)"
	case tableID >= 0x80 && tableID <= 0xFE:
		return fmt.Sprintf("user_private_section (0x%02X)", tableID)
	default:
		return fmt.Sprintf("reserved (0x%02X)", tableID)
	}
}

func isPSIPayload(pid uint16, pm *programMap) bool {
	return pid == pidPAT || pm.isSectionPID(pid)
}

// parsePSI splits a section payload into one DemuxerData per section.
// Sections after the first are marked Continued.
func parsePSI(payload []byte, base *DemuxerData) []*DemuxerData {
	fail := func(err error) []*DemuxerData {
		d := *base
		d.Err = err
		return []*DemuxerData{&d}
	}
	if len(payload) < 1 {
		return fail(errors.New("mpegts: PSI payload too short"))
	}

	pointerField := int(payload[0])
	offset := 1 + pointerField
	if offset >= len(payload) {
		return fail(errors.New("mpegts: PSI pointer field out of range"))
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
		if isZeroPadding(payload[offset:]) {
			break
		}

		d := *base
		d.Continued = len(results) > 0

		sectionLength := int(payload[offset+1]&0x0F)<<8 | int(payload[offset+2])
		sectionEnd := offset + 3 + sectionLength
		if sectionEnd > len(payload) {
			d.Err = fmt.Errorf("mpegts: %s truncated: section_length %d, %d bytes present",
				TableName(tableID), sectionLength, len(payload)-offset-3)
			d.Section = &SectionData{TableID: tableID, Data: payload[offset:]}
			results = append(results, &d)
			break
		}

		sectionData := payload[offset:sectionEnd]

		switch tableID {
		case tableIDPAT:
			d.PAT, d.Err = parsePATSection(sectionData)
		case tableIDPMT:
			d.PMT, d.Err = parsePMTSection(sectionData)
		default:
			d.Section = &SectionData{TableID: tableID, Data: sectionData}
			// Long-form sections end in a CRC_32.
			if sectionData[1]&0x80 != 0 {
				if err := verifyCRC32(sectionData); err != nil {
					d.Err = fmt.Errorf("mpegts: %s %w", TableName(tableID), err)
				}
			}
		}
		if d.Err != nil && d.PAT == nil && d.PMT == nil && d.Section == nil {
			d.Section = &SectionData{TableID: tableID, Data: sectionData}
		}
		results = append(results, &d)

		offset = sectionEnd
	}

	if len(results) == 0 {
		return fail(errors.New("mpegts: no section in PSI payload"))
	}
	return results
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
		return nil, errors.New("mpegts: PAT too short")
	}

	sectionLength := int(data[1]&0x0F)<<8 | int(data[2])
	// Entry data starts at byte 8, ends 4 bytes before the section end.
	entryStart := 8
	entryEnd := 3 + sectionLength - 4 // subtract CRC32
	if entryEnd > len(data)-4 {
		entryEnd = len(data) - 4
	}

	pat := &PATData{
		TransportStreamID: uint16(data[3])<<8 | uint16(data[4]),
		Version:           (data[5] >> 1) & 0x1F,
	}
	for i := entryStart; i+4 <= entryEnd; i += 4 {
		programNumber := uint16(data[i])<<8 | uint16(data[i+1])
		pmtPID := uint16(data[i+2]&0x1F)<<8 | uint16(data[i+3])

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
		return nil, errors.New("mpegts: PMT too short")
	}

	sectionLength := int(data[1]&0x0F)<<8 | int(data[2])
	sectionEnd := 3 + sectionLength

	programInfoLength := int(data[10]&0x0F)<<8 | int(data[11])
	offset := 12 + programInfoLength

	pmt := &PMTData{
		ProgramNumber: uint16(data[3])<<8 | uint16(data[4]),
		Version:       (data[5] >> 1) & 0x1F,
		PCRPID:        uint16(data[8]&0x1F)<<8 | uint16(data[9]),
	}
	// Parse elementary stream entries until 4 bytes before section end (CRC).
	for offset+5 <= sectionEnd-4 {
		streamType := data[offset]
		elementaryPID := uint16(data[offset+1]&0x1F)<<8 | uint16(data[offset+2])
		esInfoLength := int(data[offset+3]&0x0F)<<8 | int(data[offset+4])

		pmt.ElementaryStreams = append(pmt.ElementaryStreams, &PMTElementaryStream{
			ElementaryPID: elementaryPID,
			StreamType:    streamType,
		})

		offset += 5 + esInfoLength
	}
	if offset != sectionEnd-4 {
		return pmt, errors.New("mpegts: PMT elementary stream loop overruns section")
	}

	return pmt, nil
}

// Stream types that carry sections instead of PES packets.
func isSectionStreamType(st uint8) bool {
	return st == 0x05 || st == 0x86
}

// StreamTypeName describes a PMT stream_type.
func StreamTypeName(st uint8) string {
	switch st {
	case 0x01:
		return "MPEG-1 Video"
	case 0x02:
		return "MPEG-2 Video"
	case 0x03:
		return "MPEG-1 Audio"
	case 0x04:
		return "MPEG-2 Audio"
	case 0x05:
		return "Private sections"
	case 0x06:
		return "PES private data"
	case 0x0F:
		return "AAC (ADTS)"
	case 0x11:
		return "AAC (LATM)"
	case 0x15:
		return "Metadata"
	case 0x1B:
		return "H.264/AVC"
	case 0x24:
		return "H.265/HEVC"
	case 0x81:
		return "AC-3"
	case 0x86:
		return "SCTE-35"
	case 0x87:
		return "E-AC-3"
	default:
		return fmt.Sprintf("stream_type 0x%02X", st)
	}
}
