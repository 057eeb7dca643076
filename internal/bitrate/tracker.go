package bitrate

// Source is anything that serves incremental segment reads.
type Source interface {
	Since(stream, n int) []Segment
}

// Range is the union of the time and byte extents of all segments a Tracker
// has seen.
type Range struct {
	MinTime  int64  `json:"minTime"`
	MaxTime  int64  `json:"maxTime"`
	MaxBytes uint64 `json:"maxBytes"`
}

// Tracker remembers how many segments a consumer has already taken per
// stream so every poll returns only new ones, and widens the chart range as
// they arrive. A Tracker is owned by one consumer and is not safe for
// concurrent use.
type Tracker struct {
	added map[int]int
	rng   Range
	seen  bool
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{added: make(map[int]int)}
}

// Poll returns the segments of stream that were not returned before.
func (t *Tracker) Poll(src Source, stream int) []Segment {
	segs := src.Since(stream, t.added[stream])
	if len(segs) == 0 {
		return nil
	}
	t.added[stream] += len(segs)
	for _, s := range segs {
		if !t.seen {
			t.rng = Range{MinTime: s.Start, MaxTime: s.End, MaxBytes: s.Bytes}
			t.seen = true
			continue
		}
		t.rng.MinTime = min(t.rng.MinTime, s.Start)
		t.rng.MaxTime = max(t.rng.MaxTime, s.End)
		t.rng.MaxBytes = max(t.rng.MaxBytes, s.Bytes)
	}
	return segs
}

// Added returns how many segments of stream have been returned so far.
func (t *Tracker) Added(stream int) int { return t.added[stream] }

// Range returns the accumulated extents and whether any segment was seen.
func (t *Tracker) Range() (Range, bool) { return t.rng, t.seen }

// Reset forgets all progress, as when a new file is opened.
func (t *Tracker) Reset() {
	clear(t.added)
	t.rng = Range{}
	t.seen = false
}
