package mpegts

import "sort"

const (
	pidPAT = 0x0000

	// PIDs up to 0x1F carry PSI/SI tables (CAT, NIT, SDT, EIT, ...).
	maxReservedPID = 0x1F
)

// programMap tracks which PIDs carry sections rather than PES packets.
type programMap struct {
	pmt      map[uint16]bool
	sections map[uint16]bool
}

func newProgramMap() *programMap {
	return &programMap{
		pmt:      make(map[uint16]bool),
		sections: make(map[uint16]bool),
	}
}

func (pm *programMap) addPMTPID(pid uint16) {
	pm.pmt[pid] = true
}

func (pm *programMap) isPMTPID(pid uint16) bool {
	return pm.pmt[pid]
}

func (pm *programMap) addSectionPID(pid uint16) {
	pm.sections[pid] = true
}

// isSectionPID reports whether packets on pid are assembled as PSI sections.
func (pm *programMap) isSectionPID(pid uint16) bool {
	return pid <= maxReservedPID || pm.pmt[pid] || pm.sections[pid]
}

// pendingUnit is a run of packets handed from an accumulator to the parser.
// A non-empty broken reason means the run was cut short.
type pendingUnit struct {
	packets []*Packet
	broken  string
}

// packetAccumulator buffers packets for a single PID until a flush trigger.
type packetAccumulator struct {
	pid        uint16
	packets    []*Packet
	programMap *programMap
}

func newPacketAccumulator(pid uint16, pm *programMap) *packetAccumulator {
	return &packetAccumulator{
		pid:        pid,
		programMap: pm,
	}
}

func (pa *packetAccumulator) add(p *Packet) []pendingUnit {
	var out []pendingUnit

	// A packet flagged with a transport error poisons the unit it belongs to.
	if p.Header.TransportErrorIndicator {
		out = append(out, pendingUnit{packets: append(pa.packets, p), broken: "transport_error_indicator set"})
		pa.packets = nil
		return out
	}

	// Skip adaptation-only packets (no payload).
	if !p.Header.HasPayload {
		return nil
	}

	// Discontinuity check: compare CC against last buffered packet.
	// A signaled discontinuity indicator means the CC jump is expected.
	if len(pa.packets) > 0 && !p.Header.DiscontinuityIndicator {
		prev := pa.packets[len(pa.packets)-1].Header.ContinuityCounter
		expected := (prev + 1) & 0x0F
		if p.Header.ContinuityCounter != expected {
			if p.Header.ContinuityCounter == prev {
				return nil // duplicate packet, drop
			}
			out = append(out, pendingUnit{packets: pa.packets, broken: "continuity_counter jump"})
			pa.packets = nil
		}
	}

	if p.Header.PayloadUnitStartIndicator && len(pa.packets) > 0 {
		out = append(out, pendingUnit{packets: pa.packets})
		pa.packets = nil
	}

	pa.packets = append(pa.packets, p)

	// For PSI PIDs, check if the section is complete.
	if pa.isPSI() && isPSIComplete(pa.packets) {
		out = append(out, pendingUnit{packets: pa.packets})
		pa.packets = nil
	}

	return out
}

func (pa *packetAccumulator) isPSI() bool {
	return pa.pid == pidPAT || pa.programMap.isSectionPID(pa.pid)
}

func (pa *packetAccumulator) flush() []*Packet {
	if len(pa.packets) == 0 {
		return nil
	}
	flushed := pa.packets
	pa.packets = nil
	return flushed
}

// isPSIComplete checks whether the accumulated payloads contain a complete PSI section.
func isPSIComplete(packets []*Packet) bool {
	var payload []byte
	for _, p := range packets {
		payload = append(payload, p.Payload...)
	}
	if len(payload) < 1 {
		return false
	}

	pointerField := int(payload[0])
	offset := 1 + pointerField
	if offset >= len(payload) {
		return false
	}

	// Walk sections.
	for offset < len(payload) {
		if payload[offset] == 0xFF {
			return true // stuffing bytes, section is complete
		}
		if offset+3 > len(payload) {
			return false
		}
		if isZeroPadding(payload[offset:]) {
			return true
		}
		sectionLength := int(payload[offset+1]&0x0F)<<8 | int(payload[offset+2])
		needed := 3 + sectionLength
		if offset+needed > len(payload) {
			return false
		}
		offset += needed
	}
	return true
}

// isZeroPadding reports whether a section header position holds zero
// padding: table id 0 is the PAT, which always sets section_syntax_indicator.
func isZeroPadding(b []byte) bool {
	return b[0] == 0 && b[1]&0x80 == 0
}

// packetPool manages per-PID accumulators.
type packetPool struct {
	accs       map[uint16]*packetAccumulator
	programMap *programMap
}

func newPacketPool(pm *programMap) *packetPool {
	return &packetPool{
		accs:       make(map[uint16]*packetAccumulator),
		programMap: pm,
	}
}

func (pp *packetPool) add(p *Packet) []pendingUnit {
	pid := p.Header.PID
	acc, ok := pp.accs[pid]
	if !ok {
		acc = newPacketAccumulator(pid, pp.programMap)
		pp.accs[pid] = acc
	}
	return acc.add(p)
}

// dump flushes every accumulator, ordered by the offset of each run's first
// packet so units come out in file order.
func (pp *packetPool) dump(reason string) []pendingUnit {
	var all []pendingUnit
	for _, acc := range pp.accs {
		if packets := acc.flush(); packets != nil {
			all = append(all, pendingUnit{packets: packets, broken: reason})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].packets[0].Offset < all[j].packets[0].Offset
	})
	return all
}
