package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/zsiec/bitlens/internal/cursor"
	"github.com/zsiec/bitlens/internal/model"
	"github.com/zsiec/bitlens/internal/mpegts"
)

const (
	pcapFileHeaderSize   = 24
	pcapRecordHeaderSize = 16
	rtpHeaderSize        = 12
	rtpPayloadTypeMP2T   = 33
)

// captureParser reads a classic libpcap file and demuxes the UDP datagrams
// in it by flow. Each record is a unit; each distinct source/destination
// address and port pair is a stream, numbered in discovery order.
type captureParser struct {
	opts    Options
	streams atomic.Int32
}

func newCaptureParser(opts Options) Variant {
	return &captureParser{opts: opts}
}

func (p *captureParser) StreamCount() int { return int(p.streams.Load()) }

// VideoStreamIndex is always NoVideo: flows are not classified by content.
func (p *captureParser) VideoStreamIndex() int { return NoVideo }

// udpFlow is one stream of a capture.
type udpFlow struct {
	index   int
	key     string
	src     string
	dst     string
	payload string
	packets int

	rtpSeen bool
	rtpSeq  uint16
	ssrc    uint32
}

type captureState struct {
	p       *captureParser
	em      *emitter
	sink    Sink
	link    layers.LinkType
	flows   map[string]*udpFlow
	order   []*udpFlow
	started bool
	first   time.Time
}

func (p *captureParser) Parse(ctx context.Context, cur *cursor.Cursor, sink Sink) (Summary, error) {
	em := newEmitter(sink, p.opts, "parser.pcap")
	if err := em.checkpoint(ctx, 0); err != nil {
		return em.sum, err
	}

	r, err := pcapgo.NewReader(cur)
	if err != nil {
		if isIOError(err) {
			return em.sum, &IOError{Op: "read", Path: cur.Name(), Err: err}
		}
		return em.sum, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	st := &captureState{
		p:     p,
		em:    em,
		sink:  sink,
		link:  r.LinkType(),
		flows: make(map[string]*udpFlow),
	}
	em.unit(model.Entry{
		Stream: model.NoStream,
		Offset: 0,
		Size:   pcapFileHeaderSize,
		Name:   "pcap file header",
		Fields: []model.Field{
			model.F("link_type", st.link.String()),
			model.F("snaplen", int(r.Snaplen())),
		},
	}, 0)
	em.markValid()
	st.publish()

	// The pcap reader buffers ahead of the cursor, so record positions are
	// counted from the record headers.
	offset := int64(pcapFileHeaderSize)
	for {
		if err := em.checkpoint(ctx, offset); err != nil {
			return em.sum, err
		}
		data, ci, err := r.ReadPacketData()
		switch {
		case errors.Is(err, io.EOF):
			return em.finish()
		case isIOError(err):
			return em.sum, &IOError{Op: "read", Path: cur.Name(), Err: err}
		case err != nil:
			// Record boundaries are lost; report the rest of the file.
			em.log.Warn("unreadable capture record", "offset", offset, "error", err)
			em.unit(model.Entry{
				Stream: model.NoStream,
				Offset: offset,
				Size:   max(cur.Size()-offset, 0),
				Name:   "Corrupt data",
				Err:    "pcap record: " + err.Error(),
			}, 0)
			return em.finish()
		}
		st.record(offset, data, ci)
		offset += pcapRecordHeaderSize + int64(len(data))
	}
}

func isIOError(err error) bool {
	var pathErr *fs.PathError
	return errors.As(err, &pathErr)
}

func (st *captureState) record(offset int64, data []byte, ci gopacket.CaptureInfo) {
	if !st.started {
		st.started = true
		st.first = ci.Timestamp
	}
	ts := ci.Timestamp.Sub(st.first).Milliseconds()

	e := model.Entry{
		Stream: model.NoStream,
		Offset: offset,
		Size:   int64(pcapRecordHeaderSize + len(data)),
		Name:   "Record",
		Fields: []model.Field{
			model.F("capture_time_ms", ts),
			model.F("captured_length", ci.CaptureLength),
			model.F("original_length", ci.Length),
		},
	}
	var reasons []string
	if ci.CaptureLength < ci.Length {
		reasons = append(reasons, fmt.Sprintf("record truncated: captured %d of %d bytes", ci.CaptureLength, ci.Length))
	}

	pkt := gopacket.NewPacket(data, st.link, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	udp, _ := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	netLayer := pkt.NetworkLayer()
	if udp == nil || netLayer == nil {
		if el := pkt.ErrorLayer(); el != nil {
			reasons = append(reasons, "decode: "+el.Error().Error())
		} else {
			reasons = append(reasons, "not a UDP datagram")
		}
		e.Err = joinReasons(reasons)
		st.em.unit(e, ts)
		return
	}

	netFlow := netLayer.NetworkFlow()
	src := fmt.Sprintf("%s:%d", netFlow.Src(), int(udp.SrcPort))
	dst := fmt.Sprintf("%s:%d", netFlow.Dst(), int(udp.DstPort))
	flow := st.flow(src, dst)
	flow.packets++

	e.Stream = flow.index
	e.Name = "UDP " + src + " > " + dst
	e.Fields = append(e.Fields,
		model.F("flow", flow.index),
		model.F("src_port", int(udp.SrcPort)),
		model.F("dst_port", int(udp.DstPort)),
		model.F("udp_length", int(udp.Length)),
	)

	// Payload bytes start after the record header and the lower layers.
	payloadOffset := offset + pcapRecordHeaderSize + int64(len(data)-len(udp.Payload))
	kind, ds, reason := st.describePayload(flow, udp.Payload, payloadOffset)
	if kind != flow.payload {
		flow.payload = kind
		defer st.publish()
	}
	e.Fields = append(e.Fields, model.F("payload", kind))
	if reason != "" {
		reasons = append(reasons, reason)
	}
	e.Err = joinReasons(reasons)

	id := st.em.unit(e, ts)
	st.em.details(id, flow.index, offset, ds)
}

func (st *captureState) flow(src, dst string) *udpFlow {
	key := src + ">" + dst
	if f, ok := st.flows[key]; ok {
		return f
	}
	f := &udpFlow{index: len(st.order), key: key, src: src, dst: dst}
	st.flows[key] = f
	st.order = append(st.order, f)
	st.p.streams.Store(int32(len(st.order)))
	st.em.log.Info("flow discovered", "index", f.index, "src", src, "dst", dst)
	return f
}

// describePayload classifies a datagram as raw MPEG-TS, RTP or opaque data
// and describes its packets.
func (st *captureState) describePayload(flow *udpFlow, payload []byte, offset int64) (string, []detail, string) {
	if isTSPayload(payload) {
		return "MPEG-TS", tsPacketDetails(payload, offset), ""
	}
	if len(payload) >= rtpHeaderSize && payload[0]>>6 == 2 {
		return st.describeRTP(flow, payload, offset)
	}
	return "data", nil, ""
}

func isTSPayload(b []byte) bool {
	return len(b) > 0 && len(b)%mpegts.PacketSize == 0 && b[0] == 0x47
}

func (st *captureState) describeRTP(flow *udpFlow, b []byte, offset int64) (string, []detail, string) {
	csrcCount := int(b[0] & 0x0F)
	extension := b[0]&0x10 != 0
	padding := b[0]&0x20 != 0
	marker := b[1]&0x80 != 0
	payloadType := b[1] & 0x7F
	seq := uint16(b[2])<<8 | uint16(b[3])
	timestamp := uint32(b[4])<<24 | uint32(b[5])<<16 | uint32(b[6])<<8 | uint32(b[7])
	ssrc := uint32(b[8])<<24 | uint32(b[9])<<16 | uint32(b[10])<<8 | uint32(b[11])

	fields := []model.Field{
		model.F("version", 2),
		model.F("padding", padding),
		model.F("extension", extension),
		model.F("csrc_count", csrcCount),
		model.F("marker", marker),
		model.F("payload_type", int(payloadType)),
		model.F("sequence_number", int(seq)),
		model.F("timestamp", int64(timestamp)),
		model.F("ssrc", fmt.Sprintf("0x%08X", ssrc)),
	}
	if flow.rtpSeen && flow.ssrc == ssrc && seq != flow.rtpSeq+1 {
		fields = append(fields, model.F("sequence_gap", int(seq-flow.rtpSeq-1)))
	}
	flow.rtpSeen, flow.rtpSeq, flow.ssrc = true, seq, ssrc

	header := rtpHeaderSize + 4*csrcCount
	if extension && len(b) >= header+4 {
		header += 4 + 4*(int(b[header+2])<<8|int(b[header+3]))
	}
	end := len(b)
	if padding && end > 0 {
		end -= int(b[end-1])
	}
	rtp := detail{name: "RTP header", size: int64(min(header, len(b))), fields: fields}
	if header > end {
		return "RTP", []detail{rtp}, "RTP header overruns datagram"
	}

	ds := []detail{rtp}
	body := b[header:end]
	if payloadType == rtpPayloadTypeMP2T || isTSPayload(body) {
		ds = append(ds, tsPacketDetails(body, offset+int64(header))...)
		return "RTP/MPEG-TS", ds, ""
	}
	return "RTP", ds, ""
}

// tsPacketDetails describes each 188-byte packet of a datagram.
func tsPacketDetails(b []byte, offset int64) []detail {
	var ds []detail
	for i := 0; i+mpegts.PacketSize <= len(b); i += mpegts.PacketSize {
		at := offset + int64(i)
		d := detail{name: "TS packet", size: mpegts.PacketSize, offset: at, located: true}
		pkt, err := mpegts.ParsePacket(b[i:i+mpegts.PacketSize], at)
		if err != nil {
			d.err = err.Error()
			ds = append(ds, d)
			continue
		}
		d.fields = []model.Field{
			model.F("pid", fmt.Sprintf("0x%04X", pkt.Header.PID)),
			model.F("continuity_counter", pkt.Header.ContinuityCounter),
			model.F("payload_unit_start_indicator", pkt.Header.PayloadUnitStartIndicator),
		}
		if pkt.Header.TransportErrorIndicator {
			d.err = "transport_error_indicator set"
		}
		ds = append(ds, d)
	}
	if rest := len(b) % mpegts.PacketSize; rest != 0 {
		ds = append(ds, detail{
			name:    "Trailing bytes",
			size:    int64(rest),
			offset:  offset + int64(len(b)-rest),
			located: true,
			err:     "not a whole TS packet",
		})
	}
	return ds
}

func (st *captureState) publish() {
	info := Info{Group("Capture", "", KV("link_type", st.link.String()), KV("flows", len(st.order)))}
	for _, f := range st.order {
		info = append(info, Group(fmt.Sprintf("Stream %d", f.index), f.payload,
			KV("source", f.src),
			KV("destination", f.dst),
			KV("payload", f.payload),
		))
	}
	st.sink.StreamInfo(info)
}

func joinReasons(reasons []string) string {
	out := ""
	for _, r := range reasons {
		out = joinReason(out, r)
	}
	return out
}
