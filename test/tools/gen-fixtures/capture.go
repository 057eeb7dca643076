package main

import (
	"bytes"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/zsiec/bitlens/internal/mpegts"
)

const packetsPerDatagram = 7

// capturePCAP sends ts as UDP datagrams of seven packets to a multicast
// group, spreading them evenly over the duration of the pictures.
func capturePCAP(ts []byte, pictures int) ([]byte, error) {
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return nil, err
	}

	const datagram = packetsPerDatagram * mpegts.PacketSize
	count := (len(ts) + datagram - 1) / datagram
	duration := time.Duration(pictures) * time.Second / 25
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0x01, 0x00, 0x5E, 0x00, 0x00, 0x01},
		EthernetType: layers.EthernetTypeIPv4,
	}
	for i := 0; i < count; i++ {
		end := min((i+1)*datagram, len(ts))
		ip := &layers.IPv4{
			Version:  4,
			TTL:      16,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IPv4(192, 168, 1, 10),
			DstIP:    net.IPv4(239, 0, 0, 1),
		}
		udp := &layers.UDP{SrcPort: 40000, DstPort: 5000}
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, err
		}
		sb := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		if err := gopacket.SerializeLayers(sb, opts, eth, ip, udp, gopacket.Payload(ts[i*datagram:end])); err != nil {
			return nil, err
		}
		frame := sb.Bytes()
		ci := gopacket.CaptureInfo{
			Timestamp:     start.Add(duration * time.Duration(i) / time.Duration(count)),
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		if err := w.WritePacket(ci, frame); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
