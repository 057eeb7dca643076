package mpegts

import "fmt"

const (
	packetSize = 188
	syncByte   = 0x47

	// PIDNull is the PID of stuffing packets.
	PIDNull = 0x1FFF
)

// PacketSize is the size of a transport stream packet in bytes.
const PacketSize = packetSize

// ParsePacket decodes one 188-byte packet whose sync byte sits at offset.
func ParsePacket(buf []byte, offset int64) (*Packet, error) {
	if len(buf) != packetSize {
		return nil, fmt.Errorf("mpegts: packet size %d, expected %d", len(buf), packetSize)
	}
	if buf[0] != syncByte {
		return nil, fmt.Errorf("mpegts: invalid sync byte 0x%02X", buf[0])
	}

	p := &Packet{Offset: offset}
	p.Header.TransportErrorIndicator = buf[1]&0x80 != 0
	p.Header.PayloadUnitStartIndicator = buf[1]&0x40 != 0
	p.Header.PID = uint16(buf[1]&0x1F)<<8 | uint16(buf[2])
	p.Header.Scrambled = buf[3]&0xC0 != 0
	p.Header.HasAdaptationField = buf[3]&0x20 != 0
	p.Header.HasPayload = buf[3]&0x10 != 0
	p.Header.ContinuityCounter = buf[3] & 0x0F

	offsetInPkt := 4

	if p.Header.HasAdaptationField {
		afLen := int(buf[offsetInPkt])
		if afLen > 0 {
			flags := buf[offsetInPkt+1]
			p.Header.DiscontinuityIndicator = flags&0x80 != 0
			p.Header.RandomAccessIndicator = flags&0x40 != 0
			if flags&0x10 != 0 && afLen >= 7 {
				p.PCR = parsePCR(buf[offsetInPkt+2 : offsetInPkt+8])
			}
		}
		offsetInPkt += 1 + afLen
		if offsetInPkt > packetSize {
			offsetInPkt = packetSize
		}
	}

	p.PayloadStart = offsetInPkt
	if p.Header.HasPayload && offsetInPkt < packetSize {
		p.Payload = make([]byte, packetSize-offsetInPkt)
		copy(p.Payload, buf[offsetInPkt:])
	}

	return p, nil
}

// parsePCR extracts the 33-bit program_clock_reference_base; the 27 MHz
// extension is dropped.
func parsePCR(b []byte) *ClockReference {
	base := int64(b[0])<<25 | int64(b[1])<<17 | int64(b[2])<<9 | int64(b[3])<<1 | int64(b[4]>>7)
	return &ClockReference{Base: base}
}
