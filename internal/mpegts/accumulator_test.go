package mpegts

import "testing"

func pesPacket(cc uint8, pusi bool, offset int64) *Packet {
	return &Packet{
		Header:  PacketHeader{PID: 0x100, HasPayload: true, PayloadUnitStartIndicator: pusi, ContinuityCounter: cc},
		Offset:  offset,
		Payload: []byte{cc},
	}
}

func unitSizes(units []pendingUnit) []int {
	var sizes []int
	for _, u := range units {
		sizes = append(sizes, len(u.packets))
	}
	return sizes
}

func TestAccumulator_PUSIFlush(t *testing.T) {
	t.Parallel()
	acc := newPacketAccumulator(0x100, newProgramMap())

	if got := acc.add(pesPacket(0, true, 0)); got != nil {
		t.Error("first packet should not flush")
	}
	if got := acc.add(pesPacket(1, false, 188)); got != nil {
		t.Error("continuation should not flush")
	}
	got := acc.add(pesPacket(2, true, 376))
	if len(got) != 1 || len(got[0].packets) != 2 {
		t.Fatalf("PUSI flush = %v, want one unit of 2 packets", unitSizes(got))
	}
	if got[0].broken != "" {
		t.Errorf("broken = %q, want complete unit", got[0].broken)
	}
}

func TestAccumulator_CCDiscontinuity(t *testing.T) {
	t.Parallel()
	acc := newPacketAccumulator(0x100, newProgramMap())

	acc.add(pesPacket(0, true, 0))
	acc.add(pesPacket(1, false, 188))

	// CC jump from 1 to 5 cuts the unit short.
	got := acc.add(pesPacket(5, false, 376))
	if len(got) != 1 || len(got[0].packets) != 2 {
		t.Fatalf("CC jump flush = %v, want one unit of 2 packets", unitSizes(got))
	}
	if got[0].broken != "continuity_counter jump" {
		t.Errorf("broken = %q, want continuity_counter jump", got[0].broken)
	}

	got = acc.add(pesPacket(6, true, 564))
	if len(got) != 1 || len(got[0].packets) != 1 {
		t.Errorf("after discontinuity, flush = %v, want one unit of 1 packet", unitSizes(got))
	}
}

func TestAccumulator_DuplicateFilter(t *testing.T) {
	t.Parallel()
	acc := newPacketAccumulator(0x100, newProgramMap())

	acc.add(pesPacket(3, true, 0))
	if got := acc.add(pesPacket(3, false, 188)); got != nil {
		t.Error("duplicate should be filtered")
	}

	got := acc.add(pesPacket(4, true, 376))
	if len(got) != 1 || len(got[0].packets) != 1 {
		t.Errorf("flush = %v, want one unit of 1 packet", unitSizes(got))
	}
}

func TestAccumulator_TEIBreaksUnit(t *testing.T) {
	t.Parallel()
	acc := newPacketAccumulator(0x100, newProgramMap())

	acc.add(pesPacket(0, true, 0))
	tei := pesPacket(1, false, 188)
	tei.Header.TransportErrorIndicator = true
	got := acc.add(tei)
	if len(got) != 1 || len(got[0].packets) != 2 {
		t.Fatalf("TEI flush = %v, want one unit of 2 packets", unitSizes(got))
	}
	if got[0].broken == "" {
		t.Error("TEI unit should be marked broken")
	}

	if got := acc.add(pesPacket(2, true, 376)); got != nil {
		t.Error("after TEI, there should be no buffered packets to flush")
	}
}

func TestAccumulator_AdaptationOnlySkipped(t *testing.T) {
	t.Parallel()
	acc := newPacketAccumulator(0x100, newProgramMap())

	acc.add(pesPacket(0, true, 0))
	if got := acc.add(&Packet{Header: PacketHeader{PID: 0x100, HasAdaptationField: true, ContinuityCounter: 0}}); got != nil {
		t.Error("adaptation-only packet should not flush")
	}
	got := acc.add(pesPacket(1, true, 376))
	if len(got) != 1 || len(got[0].packets) != 1 {
		t.Errorf("flush = %v, want one unit of 1 packet", unitSizes(got))
	}
}

func TestAccumulator_CCWraparound(t *testing.T) {
	t.Parallel()
	acc := newPacketAccumulator(0x100, newProgramMap())

	acc.add(pesPacket(15, true, 0))
	acc.add(pesPacket(0, false, 188))
	got := acc.add(pesPacket(1, true, 376))
	if len(got) != 1 || len(got[0].packets) != 2 || got[0].broken != "" {
		t.Errorf("CC wraparound should preserve buffer, got %v", unitSizes(got))
	}
}

func TestAccumulator_DiscontinuityIndicator(t *testing.T) {
	t.Parallel()
	acc := newPacketAccumulator(0x100, newProgramMap())

	acc.add(pesPacket(0, true, 0))
	acc.add(pesPacket(1, false, 188))

	// CC jump from 1 to 9 with discontinuity_indicator set keeps the buffer.
	p := pesPacket(9, false, 376)
	p.Header.HasAdaptationField = true
	p.Header.DiscontinuityIndicator = true
	if got := acc.add(p); got != nil {
		t.Errorf("signaled discontinuity flushed %v", unitSizes(got))
	}

	got := acc.add(pesPacket(10, true, 564))
	if len(got) != 1 || len(got[0].packets) != 3 {
		t.Errorf("discontinuity indicator should preserve buffer, got %v", unitSizes(got))
	}
}

func TestAccumulator_PSIFlushesWhenComplete(t *testing.T) {
	t.Parallel()
	acc := newPacketAccumulator(pidPAT, newProgramMap())

	section := buildPAT(1, []struct{ num, pid uint16 }{{1, 0x1000}})
	p := &Packet{
		Header:  PacketHeader{PID: pidPAT, HasPayload: true, PayloadUnitStartIndicator: true},
		Payload: withPointer(section),
	}
	got := acc.add(p)
	if len(got) != 1 || len(got[0].packets) != 1 {
		t.Errorf("complete section should flush at once, got %v", unitSizes(got))
	}
}

func TestPacketPool_DumpInFileOrder(t *testing.T) {
	t.Parallel()
	pp := newPacketPool(newProgramMap())

	b := pesPacket(0, true, 188)
	b.Header.PID = 0x200
	pp.add(pesPacket(0, true, 0))
	pp.add(b)
	pp.add(pesPacket(1, false, 376))

	all := pp.dump("interrupted")
	if len(all) != 2 {
		t.Fatalf("dump should return 2 units, got %d", len(all))
	}
	if all[0].packets[0].Offset != 0 || all[1].packets[0].Offset != 188 {
		t.Errorf("dump order = %d, %d, want 0, 188", all[0].packets[0].Offset, all[1].packets[0].Offset)
	}
	for _, u := range all {
		if u.broken != "interrupted" {
			t.Errorf("broken = %q, want interrupted", u.broken)
		}
	}
	if again := pp.dump(""); len(again) != 0 {
		t.Errorf("second dump returned %d units, want 0", len(again))
	}
}

func TestIsPSIComplete(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		payload []byte
		want    bool
	}{
		{"single_section", []byte{0x00, 0x00, 0x80, 0x05, 0x01, 0x02, 0x03, 0x04, 0x05}, true},
		{"incomplete", []byte{0x00, 0x00, 0x80, 0x0A, 0x01, 0x02, 0x03}, false},
		{"stuffing", []byte{0x00, 0x02, 0x80, 0x02, 0x01, 0x02, 0xFF, 0xFF}, true},
		{"zero_padding", []byte{0x00, 0x02, 0x80, 0x02, 0x01, 0x02, 0x00, 0x00, 0x00}, true},
		{"pointer_beyond_payload", []byte{0x05, 0x00}, false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := isPSIComplete([]*Packet{{Payload: tt.payload}})
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProgramMap_SectionPIDs(t *testing.T) {
	t.Parallel()
	pm := newProgramMap()
	pm.addPMTPID(0x1000)
	pm.addSectionPID(0x1F0)

	tests := []struct {
		pid  uint16
		want bool
	}{
		{0x0000, true},
		{0x0011, true},
		{0x1000, true},
		{0x1F0, true},
		{0x0100, false},
	}
	for _, tt := range tests {
		if got := pm.isSectionPID(tt.pid); got != tt.want {
			t.Errorf("isSectionPID(0x%04X) = %v, want %v", tt.pid, got, tt.want)
		}
	}
}
