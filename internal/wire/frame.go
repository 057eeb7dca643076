package wire

import (
	"bufio"
	"fmt"
	"io"

	"github.com/quic-go/quic-go/quicvarint"

	"github.com/zsiec/bitlens/internal/bitrate"
	"github.com/zsiec/bitlens/internal/session"
)

// Message types.
const (
	MsgEvent    uint64 = 0x01
	MsgSegments uint64 = 0x02
)

// MaxFrameSize bounds the payload ReadFrame accepts.
const MaxFrameSize = 1 << 20

// ReadFrame reads one frame.
func ReadFrame(r io.Reader) (uint64, []byte, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(r)
		r = br.(io.Reader)
	}
	msgType, err := quicvarint.Read(br)
	if err != nil {
		return 0, nil, fmt.Errorf("read message type: %w", err)
	}
	length, err := quicvarint.Read(br)
	if err != nil {
		return 0, nil, fmt.Errorf("read message length: %w", err)
	}
	if length > MaxFrameSize {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, fmt.Errorf("read message payload: %w", err)
		}
	}
	return msgType, payload, nil
}

// AppendFrame appends a framed payload to buf.
func AppendFrame(buf []byte, msgType uint64, payload []byte) []byte {
	buf = quicvarint.Append(buf, msgType)
	buf = quicvarint.Append(buf, uint64(len(payload)))
	return append(buf, payload...)
}

// WriteFrame writes a frame with a single Write call.
func WriteFrame(w io.Writer, msgType uint64, payload []byte) error {
	_, err := w.Write(AppendFrame(nil, msgType, payload))
	return err
}

// EncodeEvent returns the framed form of ev.
func EncodeEvent(ev session.Event) []byte {
	var p []byte
	p = quicvarint.Append(p, uint64(ev.Kind))
	p = quicvarint.Append(p, uint64(ev.Rows))
	p = appendSigned(p, int64(ev.Stream))
	p = quicvarint.Append(p, uint64(ev.Count))
	p = quicvarint.Append(p, uint64(ev.Percent))
	p = quicvarint.Append(p, uint64(ev.State))
	return AppendFrame(nil, MsgEvent, p)
}

// ParseEvent decodes a MsgEvent payload.
func ParseEvent(data []byte) (session.Event, error) {
	r := newBufReader(data)
	var ev session.Event

	kind, err := r.readVarint()
	if err != nil {
		return ev, &ParseError{Field: "kind", Err: err}
	}
	ev.Kind = session.EventKind(kind)
	rows, err := r.readVarint()
	if err != nil {
		return ev, &ParseError{Field: "rows", Err: err}
	}
	ev.Rows = int(rows)
	stream, err := r.readSigned()
	if err != nil {
		return ev, &ParseError{Field: "stream", Err: err}
	}
	ev.Stream = int(stream)
	count, err := r.readVarint()
	if err != nil {
		return ev, &ParseError{Field: "count", Err: err}
	}
	ev.Count = int(count)
	pct, err := r.readVarint()
	if err != nil {
		return ev, &ParseError{Field: "percent", Err: err}
	}
	ev.Percent = int(pct)
	state, err := r.readVarint()
	if err != nil {
		return ev, &ParseError{Field: "state", Err: err}
	}
	ev.State = session.State(state)
	return ev, nil
}

// EncodeSegments returns the framed form of new segments of one stream.
func EncodeSegments(stream int, segs []bitrate.Segment) []byte {
	var p []byte
	p = appendSigned(p, int64(stream))
	p = quicvarint.Append(p, uint64(len(segs)))
	for _, s := range segs {
		p = appendSigned(p, s.Start)
		p = appendSigned(p, s.End)
		p = quicvarint.Append(p, s.Bytes)
	}
	return AppendFrame(nil, MsgSegments, p)
}

// ParseSegments decodes a MsgSegments payload.
func ParseSegments(data []byte) (int, []bitrate.Segment, error) {
	r := newBufReader(data)
	stream, err := r.readSigned()
	if err != nil {
		return 0, nil, &ParseError{Field: "stream", Err: err}
	}
	n, err := r.readVarint()
	if err != nil {
		return 0, nil, &ParseError{Field: "count", Err: err}
	}
	// Every segment takes at least three bytes.
	if n > uint64(r.remaining()/3) {
		return 0, nil, &ParseError{Field: "count", Err: io.ErrUnexpectedEOF}
	}
	segs := make([]bitrate.Segment, 0, n)
	for i := uint64(0); i < n; i++ {
		s := bitrate.Segment{Stream: int(stream)}
		if s.Start, err = r.readSigned(); err != nil {
			return 0, nil, &ParseError{Field: fmt.Sprintf("segment %d start", i), Err: err}
		}
		if s.End, err = r.readSigned(); err != nil {
			return 0, nil, &ParseError{Field: fmt.Sprintf("segment %d end", i), Err: err}
		}
		if s.Bytes, err = r.readVarint(); err != nil {
			return 0, nil, &ParseError{Field: fmt.Sprintf("segment %d bytes", i), Err: err}
		}
		segs = append(segs, s)
	}
	return int(stream), segs, nil
}

func zigzag(v int64) uint64 {
	return uint64(v<<1) ^ uint64(v>>63)
}

func unzigzag(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}

func appendSigned(buf []byte, v int64) []byte {
	return quicvarint.Append(buf, zigzag(v))
}

// bufReader wraps a byte slice for sequential varint reading.
type bufReader struct {
	data []byte
	pos  int
}

func newBufReader(data []byte) *bufReader {
	return &bufReader{data: data}
}

func (b *bufReader) remaining() int { return len(b.data) - b.pos }

func (b *bufReader) readVarint() (uint64, error) {
	if b.pos >= len(b.data) {
		return 0, io.ErrUnexpectedEOF
	}
	val, n, err := quicvarint.Parse(b.data[b.pos:])
	if err != nil {
		return 0, err
	}
	b.pos += n
	return val, nil
}

func (b *bufReader) readSigned() (int64, error) {
	u, err := b.readVarint()
	if err != nil {
		return 0, err
	}
	return unzigzag(u), nil
}
