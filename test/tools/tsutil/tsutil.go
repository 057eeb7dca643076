// Package tsutil builds MPEG-TS and elementary stream bytes for the fixture
// tools.
package tsutil

import (
	"encoding/binary"

	"github.com/zsiec/bitlens/internal/mpegts"
)

// Stream is one elementary stream listed in a PMT.
type Stream struct {
	Type byte
	PID  uint16
}

// Muxer writes PSI and PES packets, keeping a continuity counter per PID.
type Muxer struct {
	PMTPID uint16
	PCRPID uint16
	cc     map[uint16]byte
}

// NewMuxer returns a muxer for a single program carried on pmtPID.
func NewMuxer(pmtPID, pcrPID uint16) *Muxer {
	return &Muxer{PMTPID: pmtPID, PCRPID: pcrPID, cc: make(map[uint16]byte)}
}

// PAT returns one packet carrying a PAT for program 1.
func (m *Muxer) PAT() []byte {
	body := []byte{0x00, 0x01, 0xE0 | byte(m.PMTPID>>8), byte(m.PMTPID)}
	return m.psi(0, section(0x00, 1, body))
}

// PMT returns one packet carrying the program map for streams.
func (m *Muxer) PMT(streams ...Stream) []byte {
	body := []byte{0xE0 | byte(m.PCRPID>>8), byte(m.PCRPID), 0xF0, 0x00}
	for _, s := range streams {
		body = append(body, s.Type, 0xE0|byte(s.PID>>8), byte(s.PID), 0xF0, 0x00)
	}
	return m.psi(m.PMTPID, section(0x02, 1, body))
}

// PES wraps es in a PES packet with a PTS and splits it into packets on pid.
func (m *Muxer) PES(pid uint16, streamID byte, pts int64, es []byte) []byte {
	cc := m.cc[pid]
	out := Packetize(BuildPES(streamID, pts, es), pid, &cc)
	m.cc[pid] = cc
	return out
}

func (m *Muxer) psi(pid uint16, sec []byte) []byte {
	cc := m.cc[pid]
	out := Packetize(append([]byte{0x00}, sec...), pid, &cc)
	m.cc[pid] = cc
	return out
}

func section(tableID byte, ext uint16, body []byte) []byte {
	length := 5 + len(body) + 4
	s := []byte{tableID, 0xB0 | byte(length>>8)&0x0F, byte(length), byte(ext >> 8), byte(ext), 0xC1, 0x00, 0x00}
	s = append(s, body...)
	return binary.BigEndian.AppendUint32(s, mpegts.CRC32(s))
}

// BuildPES returns a PES packet with a PTS. Video stream ids get an
// unbounded PES_packet_length, as broadcast muxers write them.
func BuildPES(streamID byte, pts int64, es []byte) []byte {
	pes := []byte{0x00, 0x00, 0x01, streamID, 0x00, 0x00, 0x84, 0x80, 0x05}
	if n := 3 + 5 + len(es); streamID&0xF0 != 0xE0 && n <= 0xFFFF {
		pes[4], pes[5] = byte(n>>8), byte(n)
	}
	pes = append(pes,
		0x20|byte((pts>>29)&0x0E)|0x01,
		byte(pts>>22),
		byte((pts>>14)&0xFE)|0x01,
		byte(pts>>7),
		byte((pts<<1)&0xFE)|0x01,
	)
	return append(pes, es...)
}

// Packetize splits data into packets on pid, setting the unit start flag
// on the first one and advancing cc. The last packet is padded with
// adaptation field stuffing.
func Packetize(data []byte, pid uint16, cc *byte) []byte {
	var out []byte
	for off, first := 0, true; off < len(data); first = false {
		var pkt [mpegts.PacketSize]byte
		pkt[0] = 0x47
		pkt[1] = byte(pid>>8) & 0x1F
		if first {
			pkt[1] |= 0x40
		}
		pkt[2] = byte(pid)
		pkt[3] = 0x10 | *cc&0x0F
		*cc = (*cc + 1) & 0x0F

		const capacity = mpegts.PacketSize - 4
		remaining := len(data) - off
		if remaining >= capacity {
			copy(pkt[4:], data[off:off+capacity])
			off += capacity
		} else {
			stuff := capacity - remaining
			pkt[3] |= 0x20
			pkt[4] = byte(stuff - 1)
			if stuff > 1 {
				pkt[5] = 0x00
				for i := 6; i < 4+stuff; i++ {
					pkt[i] = 0xFF
				}
			}
			copy(pkt[4+stuff:], data[off:])
			off = len(data)
		}
		out = append(out, pkt[:]...)
	}
	return out
}

// Corrupt clears the sync byte of every nth packet of ts, starting with
// packet n-1, and returns how many packets it damaged.
func Corrupt(ts []byte, n int) int {
	if n <= 0 {
		return 0
	}
	damaged := 0
	for i := n - 1; (i+1)*mpegts.PacketSize <= len(ts); i += n {
		ts[i*mpegts.PacketSize] = 0x00
		damaged++
	}
	return damaged
}
