package parser

import (
	"bytes"
	"context"
	"net"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/zsiec/bitlens/internal/model"
)

func ipv4(src, dst string, proto layers.IPProtocol) (*layers.Ethernet, *layers.IPv4) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x01, 0x00, 0x5E, 0x00, 0x00, 0x01},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: proto,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.ParseIP(dst).To4(),
	}
	return eth, ip
}

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		t.Fatalf("SerializeLayers: %v", err)
	}
	return append([]byte(nil), buf.Bytes()...)
}

func udpFrame(t *testing.T, src, dst string, sport, dport uint16, payload []byte) []byte {
	t.Helper()
	eth, ip := ipv4(src, dst, layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatal(err)
	}
	return serialize(t, eth, ip, udp, gopacket.Payload(payload))
}

func tcpFrame(t *testing.T, src, dst string) []byte {
	t.Helper()
	eth, ip := ipv4(src, dst, layers.IPProtocolTCP)
	tcp := &layers.TCP{SrcPort: 40000, DstPort: 80, SYN: true, Window: 1024}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatal(err)
	}
	return serialize(t, eth, ip, tcp)
}

func rtpPacket(seq uint16, payload []byte) []byte {
	b := []byte{
		0x80, rtpPayloadTypeMP2T,
		byte(seq >> 8), byte(seq),
		0x00, 0x01, 0x5F, 0x90, // timestamp
		0xDE, 0xAD, 0xBE, 0xEF, // ssrc
	}
	return append(b, payload...)
}

type captureRecord struct {
	at        time.Duration
	frame     []byte
	truncated bool
}

func pcapFile(t *testing.T, records []captureRecord) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		t.Fatal(err)
	}
	base := time.Unix(1700000000, 0)
	for _, r := range records {
		ci := gopacket.CaptureInfo{
			Timestamp:     base.Add(r.at),
			CaptureLength: len(r.frame),
			Length:        len(r.frame),
		}
		if r.truncated {
			ci.Length += 100
		}
		if err := w.WritePacket(ci, r.frame); err != nil {
			t.Fatal(err)
		}
	}
	return buf.Bytes()
}

func TestCaptureFlows(t *testing.T) {
	t.Parallel()
	ts := tsPacket(testVideoPID, true, 0, []byte{0x01, 0x02, 0x03})
	records := []captureRecord{
		{0, udpFrame(t, "10.0.0.1", "239.0.0.1", 5000, 1234, ts), false},
		{20 * time.Millisecond, udpFrame(t, "10.0.0.2", "239.0.0.2", 6000, 1234, rtpPacket(100, ts)), false},
		{30 * time.Millisecond, tcpFrame(t, "10.0.0.3", "10.0.0.4"), false},
		{40 * time.Millisecond, udpFrame(t, "10.0.0.2", "239.0.0.2", 6000, 1234, rtpPacket(102, ts)), false},
		{60 * time.Millisecond, udpFrame(t, "10.0.0.1", "239.0.0.1", 5000, 1234, ts), true},
	}
	input := pcapFile(t, records)

	v, err := New(FormatCapture, quietOptions())
	if err != nil {
		t.Fatal(err)
	}
	sink := newRecordingSink()
	sum, err := parseWith(context.Background(), t, v, input, sink)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	checkUnits(t, sink)
	if v.StreamCount() != 2 || v.VideoStreamIndex() != NoVideo {
		t.Errorf("streams %d video %d, want 2 and NoVideo", v.StreamCount(), v.VideoStreamIndex())
	}

	units := sink.units(t)
	if len(units) != 1+len(records) {
		t.Fatalf("got %d units, want %d", len(units), 1+len(records))
	}
	if units[0].Name != "pcap file header" || units[0].Offset != 0 || units[0].Size != 24 {
		t.Errorf("header unit = %+v", units[0])
	}
	off := int64(24)
	wantStreams := []int{0, 1, model.NoStream, 1, 0}
	for i, r := range records {
		u := units[i+1]
		if u.Offset != off || u.Size != int64(16+len(r.frame)) {
			t.Errorf("record %d: offset %d size %d, want %d and %d", i, u.Offset, u.Size, off, 16+len(r.frame))
		}
		if u.Stream != wantStreams[i] {
			t.Errorf("record %d: stream = %d, want %d", i, u.Stream, wantStreams[i])
		}
		off += u.Size
	}
	if off != int64(len(input)) || sum.Bytes != int64(len(input)) {
		t.Errorf("units cover %d bytes (summary %d), want %d", off, sum.Bytes, len(input))
	}

	if units[1].Name != "UDP 10.0.0.1:5000 > 239.0.0.1:1234" {
		t.Errorf("name = %q", units[1].Name)
	}
	if got := field(t, units[1], "payload"); got != "MPEG-TS" {
		t.Errorf("payload = %q, want MPEG-TS", got)
	}
	raw := sink.children(t, units[1].ID)
	if len(raw) != 1 || raw[0].Name != "TS packet" {
		t.Fatalf("raw children = %v, want one TS packet", names(raw))
	}
	if want := int64(24 + 16 + 42); raw[0].Offset != want {
		t.Errorf("TS packet at %d, want %d", raw[0].Offset, want)
	}

	if got := field(t, units[2], "payload"); got != "RTP/MPEG-TS" {
		t.Errorf("payload = %q, want RTP/MPEG-TS", got)
	}
	rtp := sink.children(t, units[2].ID)
	if got, want := names(rtp), []string{"RTP header", "TS packet"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("RTP children = %v, want %v", got, want)
	}
	if got := field(t, rtp[0], "sequence_number"); got != "100" {
		t.Errorf("sequence_number = %q, want 100", got)
	}
	if gap := sink.children(t, units[4].ID)[0]; field(t, gap, "sequence_gap") != "1" {
		t.Errorf("sequence_gap missing on %+v", gap)
	}

	if units[3].Err != "not a UDP datagram" {
		t.Errorf("TCP record error = %q", units[3].Err)
	}
	if !strings.Contains(units[5].Err, "record truncated") {
		t.Errorf("truncated record error = %q", units[5].Err)
	}
	if sum.Malformed != 2 {
		t.Errorf("malformed = %d, want 2", sum.Malformed)
	}

	wantPackets := []packetCall{
		{0, 0, units[1].Size},
		{1, 20, units[2].Size},
		{1, 40, units[4].Size},
		{0, 60, units[5].Size},
	}
	if !reflect.DeepEqual(sink.packets, wantPackets) {
		t.Errorf("packets = %v, want %v", sink.packets, wantPackets)
	}

	info := sink.lastInfo(t)
	if got := infoValue(t, info, "Capture", "flows"); got != "2" {
		t.Errorf("flows = %q, want 2", got)
	}
	if it, _ := info.Find("Stream 1"); it.Value != "RTP/MPEG-TS" {
		t.Errorf("Stream 1 = %q, want RTP/MPEG-TS", it.Value)
	}
}

func TestCaptureCorruptTail(t *testing.T) {
	t.Parallel()
	frame := udpFrame(t, "10.0.0.1", "239.0.0.1", 5000, 1234, []byte("hello"))
	input := pcapFile(t, []captureRecord{{0, frame, false}})
	input = append(input, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A)

	sink, sum, err := runParse(t, FormatCapture, quietOptions(), input)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	units := sink.units(t)
	if len(units) != 3 {
		t.Fatalf("got %d units, want 3", len(units))
	}
	if got := field(t, units[1], "payload"); got != "data" {
		t.Errorf("payload = %q, want data", got)
	}
	tail := units[2]
	if tail.Name != "Corrupt data" || tail.Size != 10 || tail.Offset != int64(len(input)-10) {
		t.Errorf("tail unit = %+v, want 10 corrupt bytes at %d", tail, len(input)-10)
	}
	if !strings.HasPrefix(tail.Err, "pcap record:") {
		t.Errorf("tail error = %q", tail.Err)
	}
	if sum.Bytes != int64(len(input)) {
		t.Errorf("summary bytes = %d, want %d", sum.Bytes, len(input))
	}
}

// Records past the reader's read-ahead buffer still get their own positions.
func TestCaptureOffsetsTileFile(t *testing.T) {
	t.Parallel()
	var records []captureRecord
	for i := 0; i < 60; i++ {
		payload := bytes.Repeat([]byte{byte(i)}, 1000+i)
		records = append(records, captureRecord{time.Duration(i) * time.Millisecond, udpFrame(t, "10.0.0.1", "239.0.0.1", 5000, 1234, payload), false})
	}
	input := pcapFile(t, records)

	sink, sum, err := runParse(t, FormatCapture, quietOptions(), input)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	units := sink.units(t)
	if len(units) != 61 {
		t.Fatalf("got %d units, want 61", len(units))
	}
	var next int64
	for i, u := range units {
		if u.Offset != next {
			t.Fatalf("unit %d: offset %d, want %d", i, u.Offset, next)
		}
		next = u.Offset + u.Size
	}
	if next != int64(len(input)) || sum.Bytes != int64(len(input)) {
		t.Errorf("units end at %d with %d bytes, want %d", next, sum.Bytes, len(input))
	}
}
