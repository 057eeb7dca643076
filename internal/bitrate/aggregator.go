// Package bitrate groups completed packets into per-stream time segments so
// bitrate-over-time can be charted while a file is still being parsed.
package bitrate

import (
	"slices"
	"sync"
)

// DefaultWindow is the reporting window in milliseconds.
const DefaultWindow int64 = 1000

// Segment is the number of bytes a stream carried between Start and End, in
// milliseconds. End is the timestamp of the last packet in the segment.
type Segment struct {
	Stream int    `json:"stream"`
	Start  int64  `json:"start"`
	End    int64  `json:"end"`
	Bytes  uint64 `json:"bytes"`
}

// Duration returns End-Start, never negative.
func (s Segment) Duration() int64 {
	if s.End < s.Start {
		return 0
	}
	return s.End - s.Start
}

type series struct {
	closed []Segment
	open   Segment
	active bool
	total  uint64
}

// Aggregator turns (stream, timestamp, size) samples into segments. A segment
// closes when a packet falls outside its window, when timestamps jump back,
// or when the gap to the previous packet exceeds the maximum gap. Closed
// segments are never modified.
//
// Add and Flush are called by the parsing goroutine; the read methods are
// safe for concurrent use and return copies.
type Aggregator struct {
	mu      sync.RWMutex
	window  int64
	maxGap  int64
	streams map[int]*series
	order   []int
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithWindow sets the segment length in milliseconds.
func WithWindow(ms int64) Option {
	return func(a *Aggregator) {
		if ms > 0 {
			a.window = ms
		}
	}
}

// WithMaxGap sets the largest gap between consecutive packets, in
// milliseconds, that does not split a segment. It defaults to the window.
func WithMaxGap(ms int64) Option {
	return func(a *Aggregator) {
		if ms > 0 {
			a.maxGap = ms
		}
	}
}

// New creates an empty aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		window:  DefaultWindow,
		streams: make(map[int]*series),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.maxGap == 0 {
		a.maxGap = a.window
	}
	return a
}

// Add records a completed packet. It reports whether a segment was closed
// as a result.
func (a *Aggregator) Add(stream int, ts int64, size int64) bool {
	if size < 0 {
		size = 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.streams[stream]
	if !ok {
		s = &series{}
		a.streams[stream] = s
		a.order = append(a.order, stream)
	}
	s.total += uint64(size)

	closed := false
	if s.active {
		last := s.open.End
		if ts >= s.open.Start+a.window || ts < last || ts-last > a.maxGap {
			s.closed = append(s.closed, s.open)
			s.active = false
			closed = true
		}
	}
	if !s.active {
		s.open = Segment{Stream: stream, Start: ts, End: ts}
		s.active = true
	}
	s.open.End = ts
	s.open.Bytes += uint64(size)
	return closed
}

// Flush closes every open segment and returns the streams that gained one.
func (a *Aggregator) Flush() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	var flushed []int
	for _, stream := range a.order {
		s := a.streams[stream]
		if s.active {
			s.closed = append(s.closed, s.open)
			s.active = false
			flushed = append(flushed, stream)
		}
	}
	return flushed
}

// SegmentsFor returns all closed segments of a stream.
func (a *Aggregator) SegmentsFor(stream int) []Segment {
	return a.Since(stream, 0)
}

// Since returns the closed segments of a stream after the first n.
func (a *Aggregator) Since(stream, n int) []Segment {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.streams[stream]
	if !ok || n >= len(s.closed) {
		return nil
	}
	if n < 0 {
		n = 0
	}
	return slices.Clone(s.closed[n:])
}

// Count returns the number of closed segments of a stream.
func (a *Aggregator) Count(stream int) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if s, ok := a.streams[stream]; ok {
		return len(s.closed)
	}
	return 0
}

// Total returns the bytes recorded for a stream, including the open segment.
func (a *Aggregator) Total(stream int) uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if s, ok := a.streams[stream]; ok {
		return s.total
	}
	return 0
}

// Streams returns the stream indices in order of first appearance.
func (a *Aggregator) Streams() []int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.order)
}
