package demux

import "errors"

// ErrInvalidADTS is returned when the ADTS sync word or header is malformed.
var ErrInvalidADTS = errors.New("demux: invalid ADTS header")

// AAC sample rate index table (ISO 14496-3)
var aacSampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

var aacObjectTypes = [...]string{"Main", "LC", "SSR", "LTP"}

// ADTSFrame is one AAC frame found in an ADTS byte stream.
type ADTSFrame struct {
	Offset     int    // position of the sync word within the parsed buffer
	Data       []byte // complete ADTS frame (header + payload)
	Profile    string
	SampleRate int
	Channels   int
	CRC        bool
}

// ParseADTS parses an ADTS byte stream into individual AAC frames. Bytes
// between frames are skipped while hunting for the next sync word; skipped is
// the number of such bytes.
func ParseADTS(data []byte) (frames []ADTSFrame, skipped int, err error) {
	offset := 0

	for offset < len(data) {
		if len(data)-offset < 7 {
			skipped += len(data) - offset
			break
		}

		// Sync word: 0xFFF
		if data[offset] != 0xFF || (data[offset+1]&0xF0) != 0xF0 {
			offset++
			skipped++
			continue
		}

		hasCRC := (data[offset+1] & 0x01) == 0
		headerSize := 7
		if hasCRC {
			headerSize = 9
		}

		objectType := (data[offset+2] >> 6) & 0x03
		sampleRateIdx := (data[offset+2] >> 2) & 0x0F
		if int(sampleRateIdx) >= len(aacSampleRates) {
			return frames, skipped, ErrInvalidADTS
		}

		channelCfg := ((data[offset+2] & 0x01) << 2) | ((data[offset+3] >> 6) & 0x03)

		frameLen := int(data[offset+3]&0x03)<<11 |
			int(data[offset+4])<<3 |
			int(data[offset+5]>>5)

		if frameLen < headerSize {
			return frames, skipped, ErrInvalidADTS
		}
		if offset+frameLen > len(data) {
			return frames, skipped, ErrTruncated
		}

		frames = append(frames, ADTSFrame{
			Offset:     offset,
			Data:       data[offset : offset+frameLen],
			Profile:    aacObjectTypes[objectType],
			SampleRate: aacSampleRates[sampleRateIdx],
			Channels:   int(channelCfg),
			CRC:        hasCRC,
		})

		offset += frameLen
	}

	return frames, skipped, nil
}
