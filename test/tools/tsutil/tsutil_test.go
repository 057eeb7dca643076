package tsutil

import (
	"bytes"
	"testing"

	"github.com/zsiec/bitlens/internal/mpegts"
)

func TestPacketize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		size    int
		packets int
	}{
		{"one byte", 1, 1},
		{"one short of full", 183, 1},
		{"exactly full", 184, 1},
		{"spills over", 185, 2},
		{"several", 184*3 + 10, 4},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			data := bytes.Repeat([]byte{0xAB}, tt.size)
			cc := byte(14)
			out := Packetize(data, 0x100, &cc)
			if len(out) != tt.packets*mpegts.PacketSize {
				t.Fatalf("got %d bytes, want %d packets", len(out), tt.packets)
			}
			if want := byte(14+tt.packets) & 0x0F; cc != want {
				t.Errorf("cc: got %d, want %d", cc, want)
			}
			var payload []byte
			for i := 0; i < tt.packets; i++ {
				pkt := out[i*mpegts.PacketSize : (i+1)*mpegts.PacketSize]
				if pkt[0] != 0x47 {
					t.Fatalf("packet %d: sync byte %#x", i, pkt[0])
				}
				if pusi := pkt[1]&0x40 != 0; pusi != (i == 0) {
					t.Errorf("packet %d: unit start %v", i, pusi)
				}
				start := 4
				if pkt[3]&0x20 != 0 {
					start = 5 + int(pkt[4])
				}
				payload = append(payload, pkt[start:]...)
			}
			if !bytes.Equal(payload, data) {
				t.Errorf("payload does not round trip")
			}
		})
	}
}

func TestSectionCRC(t *testing.T) {
	t.Parallel()
	m := NewMuxer(0x1000, 0x100)
	for name, pkt := range map[string][]byte{
		"pat": m.PAT(),
		"pmt": m.PMT(Stream{Type: 0x02, PID: 0x100}),
	} {
		pointer := 5 + int(pkt[4])
		sec := pkt[pointer+1:]
		length := int(sec[1]&0x0F)<<8 | int(sec[2])
		if got := mpegts.CRC32(sec[:3+length]); got != 0 {
			t.Errorf("%s: CRC over section is %#x, want 0", name, got)
		}
	}
}

func TestBuildPES(t *testing.T) {
	t.Parallel()
	video := BuildPES(0xE0, 90000, []byte{1, 2, 3})
	if video[4] != 0 || video[5] != 0 {
		t.Errorf("video PES length: got %d, want 0", int(video[4])<<8|int(video[5]))
	}
	audio := BuildPES(0xC0, 90000, []byte{1, 2, 3})
	if got := int(audio[4])<<8 | int(audio[5]); got != 11 {
		t.Errorf("audio PES length: got %d, want 11", got)
	}
	pts := int64(audio[9]>>1&0x07)<<30 | int64(audio[10])<<22 | int64(audio[11]>>1)<<15 | int64(audio[12])<<7 | int64(audio[13]>>1)
	if pts != 90000 {
		t.Errorf("pts: got %d, want 90000", pts)
	}
}

func TestCorrupt(t *testing.T) {
	t.Parallel()
	ts := bytes.Repeat(append([]byte{0x47}, make([]byte, mpegts.PacketSize-1)...), 10)
	if got := Corrupt(ts, 4); got != 2 {
		t.Fatalf("damaged: got %d, want 2", got)
	}
	for i := 0; i < 10; i++ {
		want := byte(0x47)
		if i == 3 || i == 7 {
			want = 0
		}
		if ts[i*mpegts.PacketSize] != want {
			t.Errorf("packet %d: sync %#x, want %#x", i, ts[i*mpegts.PacketSize], want)
		}
	}
	if got := Corrupt(ts, 0); got != 0 {
		t.Errorf("n=0 damaged %d", got)
	}
}
