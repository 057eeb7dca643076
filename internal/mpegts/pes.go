package mpegts

import (
	"errors"
	"fmt"
)

// isPESPayload checks for the PES start code prefix (0x000001).
func isPESPayload(data []byte) bool {
	return len(data) >= 3 && data[0] == 0x00 && data[1] == 0x00 && data[2] == 0x01
}

// parsePES parses a reassembled PES packet. When PES_packet_length promises
// more bytes than were collected, the partial packet is returned together
// with an error.
func parsePES(payload []byte) (*PESData, error) {
	if len(payload) < 6 {
		return nil, fmt.Errorf("mpegts: PES packet too short (%d bytes)", len(payload))
	}
	if !isPESPayload(payload) {
		return nil, errors.New("mpegts: invalid PES start code")
	}

	streamID := payload[3]
	packetLength := int(payload[4])<<8 | int(payload[5])

	pes := &PESData{
		Header: &PESHeader{
			StreamID:     streamID,
			PacketLength: packetLength,
		},
	}

	end := len(payload)
	var lengthErr error
	if packetLength > 0 {
		if total := 6 + packetLength; total <= len(payload) {
			end = total
		} else {
			lengthErr = fmt.Errorf("mpegts: PES_packet_length %d, only %d bytes present", packetLength, len(payload)-6)
		}
	}

	// Stream IDs that don't have an optional PES header:
	// padding_stream (0xBE), private_stream_2 (0xBF),
	// ECM (0xF0), EMM (0xF1), program_stream_directory (0xFF),
	// DSMCC (0xF2), ITU-T Rec. H.222.1 type E (0xF8)
	hasOptionalHeader := streamID != 0xBE && streamID != 0xBF &&
		streamID != 0xF0 && streamID != 0xF1 &&
		streamID != 0xF2 && streamID != 0xF8 && streamID != 0xFF

	if !hasOptionalHeader {
		pes.DataOffset = 6
		pes.Data = payload[6:end]
		return pes, lengthErr
	}

	if end < 9 {
		return nil, errors.New("mpegts: PES optional header too short")
	}

	// Optional header
	// payload[6]: marker(2) + scrambling(2) + priority(1) + alignment(1) + copyright(1) + original(1)
	// payload[7]: PTS_DTS_indicator(2) + ESCR(1) + ES_rate(1) + DSM_trick(1) + additional_copy(1) + CRC(1) + extension(1)
	// payload[8]: PES_header_data_length
	ptsDTSIndicator := (payload[7] >> 6) & 0x03
	headerDataLength := int(payload[8])

	dataStart := 9 + headerDataLength
	if dataStart > end {
		dataStart = end
		if lengthErr == nil {
			lengthErr = fmt.Errorf("mpegts: PES_header_data_length %d overruns packet", headerDataLength)
		}
	}

	pes.Header.OptionalHeader = &PESOptionalHeader{
		DataAlignment: payload[6]&0x04 != 0,
	}

	switch ptsDTSIndicator {
	case 2: // PTS only
		if end >= 14 {
			pes.Header.OptionalHeader.PTS = parsePTSOrDTS(payload[9:14])
		}
	case 3: // PTS + DTS
		if end >= 19 {
			pes.Header.OptionalHeader.PTS = parsePTSOrDTS(payload[9:14])
			pes.Header.OptionalHeader.DTS = parsePTSOrDTS(payload[14:19])
		}
	}

	// packetLength=0 means unbounded (video streams)
	pes.DataOffset = dataStart
	pes.Data = payload[dataStart:end]

	return pes, lengthErr
}

// parsePTSOrDTS extracts a 33-bit timestamp from 5 PES timestamp bytes.
func parsePTSOrDTS(bs []byte) *ClockReference {
	if len(bs) < 5 {
		return nil
	}
	base := int64(bs[0]>>1&0x07)<<30 |
		int64(bs[1])<<22 |
		int64(bs[2]>>1&0x7F)<<15 |
		int64(bs[3])<<7 |
		int64(bs[4]>>1&0x7F)
	return &ClockReference{Base: base}
}
