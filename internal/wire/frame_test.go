package wire

import (
	"bytes"
	"errors"
	"io"
	"math"
	"reflect"
	"testing"

	"github.com/quic-go/quic-go/quicvarint"

	"github.com/zsiec/bitlens/internal/bitrate"
	"github.com/zsiec/bitlens/internal/session"
)

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()
	payload := []byte("hello")
	var buf bytes.Buffer
	if err := WriteFrame(&buf, MsgEvent, payload); err != nil {
		t.Fatal(err)
	}
	if err := WriteFrame(&buf, MsgSegments, nil); err != nil {
		t.Fatal(err)
	}

	msgType, got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if msgType != MsgEvent || !bytes.Equal(got, payload) {
		t.Fatalf("frame = %#x %q, want %#x %q", msgType, got, MsgEvent, payload)
	}
	msgType, got, err = ReadFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if msgType != MsgSegments || len(got) != 0 {
		t.Fatalf("frame = %#x with %d bytes, want empty %#x", msgType, len(got), MsgSegments)
	}
	if _, _, err := ReadFrame(&buf); !errors.Is(err, io.EOF) {
		t.Errorf("read past end: got %v, want EOF", err)
	}
}

func TestFrameLayout(t *testing.T) {
	t.Parallel()
	got := AppendFrame(nil, MsgSegments, []byte{0xAA, 0xBB})
	want := []byte{0x02, 0x02, 0xAA, 0xBB}
	if !bytes.Equal(got, want) {
		t.Errorf("frame = % x, want % x", got, want)
	}
}

func TestReadFrameErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		input []byte
	}{
		{"empty", nil},
		{"missing length", quicvarint.Append(nil, MsgEvent)},
		{"short payload", append(quicvarint.Append(quicvarint.Append(nil, MsgEvent), 10), 1, 2, 3)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, _, err := ReadFrame(bytes.NewReader(tt.input)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	t.Parallel()
	b := quicvarint.Append(nil, MsgEvent)
	b = quicvarint.Append(b, MaxFrameSize+1)
	if _, _, err := ReadFrame(bytes.NewReader(b)); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("err = %v, want ErrFrameTooLarge", err)
	}
}

func TestEventRoundTrip(t *testing.T) {
	t.Parallel()
	events := []session.Event{
		{Kind: session.ModelUpdated, Rows: 123456},
		{Kind: session.SegmentsUpdated, Stream: 3, Count: 17},
		{Kind: session.SegmentsUpdated, Stream: -1, Count: 1},
		{Kind: session.Progress, Percent: 42},
		{Kind: session.Finished, State: session.Cancelled},
	}
	for _, ev := range events {
		msgType, payload, err := ReadFrame(bytes.NewReader(EncodeEvent(ev)))
		if err != nil {
			t.Fatal(err)
		}
		if msgType != MsgEvent {
			t.Fatalf("type = %#x, want %#x", msgType, MsgEvent)
		}
		got, err := ParseEvent(payload)
		if err != nil {
			t.Fatal(err)
		}
		if got != ev {
			t.Errorf("got %+v, want %+v", got, ev)
		}
	}
}

func TestParseEventTruncated(t *testing.T) {
	t.Parallel()
	_, payload, err := ReadFrame(bytes.NewReader(EncodeEvent(session.Event{Kind: session.Progress, Percent: 5})))
	if err != nil {
		t.Fatal(err)
	}
	_, err = ParseEvent(payload[:3])
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Field != "count" {
		t.Fatalf("err = %v, want ParseError on count", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("err does not wrap io.ErrUnexpectedEOF: %v", err)
	}
}

func TestSegmentsRoundTrip(t *testing.T) {
	t.Parallel()
	segs := []bitrate.Segment{
		{Stream: 2, Start: 0, End: 400, Bytes: 500},
		{Stream: 2, Start: 1000, End: 1400, Bytes: 500},
		{Stream: 2, Start: -40, End: 0, Bytes: 1 << 40},
	}
	_, payload, err := ReadFrame(bytes.NewReader(EncodeSegments(2, segs)))
	if err != nil {
		t.Fatal(err)
	}
	stream, got, err := ParseSegments(payload)
	if err != nil {
		t.Fatal(err)
	}
	if stream != 2 || !reflect.DeepEqual(got, segs) {
		t.Errorf("got stream %d %+v, want 2 %+v", stream, got, segs)
	}
}

func TestParseSegmentsBadCount(t *testing.T) {
	t.Parallel()
	p := appendSigned(nil, 0)
	p = quicvarint.Append(p, 1000)
	if _, _, err := ParseSegments(p); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("err = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestZigZag(t *testing.T) {
	t.Parallel()
	tests := []struct {
		v    int64
		want uint64
	}{
		{0, 0},
		{-1, 1},
		{1, 2},
		{-2, 3},
		{math.MaxInt32, math.MaxUint32 - 1},
		{math.MinInt32, math.MaxUint32},
	}
	for _, tt := range tests {
		if got := zigzag(tt.v); got != tt.want {
			t.Errorf("zigzag(%d) = %d, want %d", tt.v, got, tt.want)
		}
		if back := unzigzag(tt.want); back != tt.v {
			t.Errorf("unzigzag(%d) = %d, want %d", tt.want, back, tt.v)
		}
	}
}
