package parser

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/zsiec/bitlens/internal/cursor"
	"github.com/zsiec/bitlens/internal/model"
)

type packetCall struct {
	stream int
	ts     int64
	size   int64
}

// recordingSink stores entries in a real model and records everything else.
type recordingSink struct {
	m        *model.Model
	packets  []packetCall
	infos    []Info
	onAppend func(e model.Entry)
}

func newRecordingSink() *recordingSink {
	return &recordingSink{m: model.New()}
}

func (s *recordingSink) Append(e model.Entry) (int, error) {
	id, err := s.m.Append(e)
	if err == nil && s.onAppend != nil {
		s.onAppend(e)
	}
	return id, err
}

func (s *recordingSink) MarkError(id int, msg string) { s.m.MarkError(id, msg) }

func (s *recordingSink) Packet(stream int, ts int64, size int64) {
	s.packets = append(s.packets, packetCall{stream: stream, ts: ts, size: size})
}

func (s *recordingSink) StreamInfo(info Info) { s.infos = append(s.infos, info) }

func (s *recordingSink) units(t *testing.T) []model.Entry {
	t.Helper()
	var out []model.Entry
	for i := 0; i < s.m.TopLevelCount(); i++ {
		id, ok := s.m.TopLevelAt(i)
		if !ok {
			t.Fatalf("TopLevelAt(%d) failed", i)
		}
		e, ok := s.m.Get(id)
		if !ok {
			t.Fatalf("Get(%d) failed", id)
		}
		out = append(out, e)
	}
	return out
}

func (s *recordingSink) children(t *testing.T, id int) []model.Entry {
	t.Helper()
	var out []model.Entry
	for _, c := range s.m.ChildrenOf(id) {
		e, ok := s.m.Get(c)
		if !ok {
			t.Fatalf("Get(%d) failed", c)
		}
		out = append(out, e)
	}
	return out
}

func (s *recordingSink) lastInfo(t *testing.T) Info {
	t.Helper()
	if len(s.infos) == 0 {
		t.Fatal("no stream info published")
	}
	return s.infos[len(s.infos)-1]
}

func quietOptions() Options {
	return Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func runParse(t *testing.T, f Format, opts Options, input []byte) (*recordingSink, Summary, error) {
	t.Helper()
	return runParseContext(context.Background(), t, f, opts, input, newRecordingSink())
}

func runParseContext(ctx context.Context, t *testing.T, f Format, opts Options, input []byte, sink *recordingSink) (*recordingSink, Summary, error) {
	t.Helper()
	v, err := New(f, opts)
	if err != nil {
		t.Fatalf("New(%v): %v", f, err)
	}
	sum, err := parseWith(ctx, t, v, input, sink)
	return sink, sum, err
}

func parseWith(ctx context.Context, t *testing.T, v Variant, input []byte, sink *recordingSink) (Summary, error) {
	t.Helper()
	cur, err := cursor.New(t.Name(), bytes.NewReader(input))
	if err != nil {
		t.Fatalf("cursor.New: %v", err)
	}
	return v.Parse(ctx, cur, sink)
}

// checkUnits verifies the properties every variant guarantees for its
// top-level units: per-stream offsets never go backwards and the sizes
// reported through Packet match the units of each stream.
func checkUnits(t *testing.T, sink *recordingSink) {
	t.Helper()
	units := sink.units(t)
	last := map[int]int64{}
	unitBytes := map[int]int64{}
	for i, u := range units {
		if u.Parent != model.NoParent {
			t.Errorf("unit %d: parent = %d, want NoParent", i, u.Parent)
		}
		if u.Stream < 0 {
			continue
		}
		if prev, ok := last[u.Stream]; ok && u.Offset < prev {
			t.Errorf("unit %d: offset %d before %d on stream %d", i, u.Offset, prev, u.Stream)
		}
		last[u.Stream] = u.Offset
		unitBytes[u.Stream] += u.Size
	}
	packetBytes := map[int]int64{}
	for _, p := range sink.packets {
		packetBytes[p.stream] += p.size
	}
	for stream, n := range unitBytes {
		if packetBytes[stream] != n {
			t.Errorf("stream %d: packets carry %d bytes, units %d", stream, packetBytes[stream], n)
		}
	}
}

func names(units []model.Entry) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.Name
	}
	return out
}

func field(t *testing.T, e model.Entry, key string) string {
	t.Helper()
	v, ok := e.Field(key)
	if !ok {
		t.Errorf("%s: no field %q", e.Name, key)
	}
	return v
}

func infoValue(t *testing.T, info Info, group, key string) string {
	t.Helper()
	it, ok := info.Find(group)
	if !ok {
		t.Fatalf("stream info has no %q", group)
	}
	v, ok := it.Lookup(key)
	if !ok {
		t.Errorf("%s: no %q", group, key)
	}
	return v
}
