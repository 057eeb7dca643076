package main

import (
	"bytes"
	"context"
	"math/rand"
	"testing"

	"github.com/zsiec/bitlens/internal/cursor"
	"github.com/zsiec/bitlens/internal/model"
	"github.com/zsiec/bitlens/internal/parser"
)

type countingSink struct {
	m     *model.Model
	bytes int64
}

func (s *countingSink) Append(e model.Entry) (int, error) { return s.m.Append(e) }
func (s *countingSink) MarkError(id int, msg string) { s.m.MarkError(id, msg) }
func (s *countingSink) Packet(_ int, _ int64, size int64) { s.bytes += size }
func (s *countingSink) StreamInfo(parser.Info) {}

func parse(t *testing.T, f parser.Format, data []byte) (parser.Summary, *countingSink) {
	t.Helper()
	v, err := parser.New(f, parser.Options{})
	if err != nil {
		t.Fatal(err)
	}
	cur, err := cursor.New(t.Name(), bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	sink := &countingSink{m: model.New()}
	sum, err := v.Parse(context.Background(), cur, sink)
	if err != nil {
		t.Fatalf("parse %v: %v", f, err)
	}
	return sum, sink
}

func TestBitWriter(t *testing.T) {
	t.Parallel()
	var w bitWriter
	w.write(0x5, 3)
	w.write(0x1, 1)
	w.write(0xABC, 12)
	if want := []byte{0xBA, 0xBC}; !bytes.Equal(w.buf, want) {
		t.Errorf("got % X, want % X", w.buf, want)
	}
}

func TestGeneratedStreamsParse(t *testing.T) {
	t.Parallel()
	pictures := buildPictures(rand.New(rand.NewSource(7)), 30, 12)
	var es []byte
	for _, p := range pictures {
		es = append(es, p...)
	}

	sum, _ := parse(t, parser.FormatAnnexBMPEG2, es)
	if sum.Malformed != 0 {
		t.Errorf("elementary stream: %d malformed units, first %v", sum.Malformed, sum.FirstMalformed)
	}
	// Three sequence and GOP headers, then a picture header and 36 slices
	// per picture.
	if want := 3*2 + 30*37; sum.Units != want {
		t.Errorf("elementary stream units: got %d, want %d", sum.Units, want)
	}

	ts := mux(pictures)
	if len(ts)%188 != 0 {
		t.Fatalf("transport stream length %d is not a packet multiple", len(ts))
	}
	sum, _ = parse(t, parser.FormatContainer, ts)
	if sum.Malformed != 0 {
		t.Errorf("transport stream: %d malformed units, first %v", sum.Malformed, sum.FirstMalformed)
	}
	// One PES per picture plus the tables.
	if sum.Units < len(pictures) {
		t.Errorf("transport stream units: got %d, want at least %d", sum.Units, len(pictures))
	}

	capture, err := capturePCAP(ts, len(pictures))
	if err != nil {
		t.Fatal(err)
	}
	sum, _ = parse(t, parser.FormatCapture, capture)
	if sum.Malformed != 0 {
		t.Errorf("capture: %d malformed units, first %v", sum.Malformed, sum.FirstMalformed)
	}
}
