package mpegts

const (
	clockWrap = int64(1) << 33
	halfWrap  = clockWrap / 2

	// ClockRate is the frequency of PTS, DTS and PCR base values.
	ClockRate = 90000
)

// Unwrapper extends 33-bit timestamps onto a continuous timeline measured
// from the first value it sees.
type Unwrapper struct {
	started bool
	first   int64
	last    int64
	epoch   int64
}

// Unwrap returns ts relative to the first timestamp, in 90 kHz ticks.
// A value more than half the clock range below its predecessor is taken to
// have wrapped; one more than half the range above it is a late value from
// before the wrap.
func (u *Unwrapper) Unwrap(ts int64) int64 {
	ts &= clockWrap - 1
	if !u.started {
		u.started = true
		u.first = ts
		u.last = ts
		return 0
	}

	epoch := u.epoch
	switch d := ts - u.last; {
	case d < -halfWrap:
		u.epoch += clockWrap
		epoch = u.epoch
		u.last = ts
	case d > halfWrap:
		epoch -= clockWrap
	default:
		u.last = ts
	}
	return ts + epoch - u.first
}

// TicksToMillis converts 90 kHz ticks to milliseconds.
func TicksToMillis(ticks int64) int64 {
	return ticks / (ClockRate / 1000)
}

// ClockDelta is the forward distance from start to end on the 33-bit clock.
func ClockDelta(start, end int64) int64 {
	if end < start {
		end += clockWrap
	}
	return end - start
}
