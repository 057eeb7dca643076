package session

import (
	"log/slog"
	"time"

	"github.com/zsiec/bitlens/internal/parser"
)

// DefaultEventBuffer is the capacity of the Events channel.
const DefaultEventBuffer = 64

const defaultModelThrottle = 100 * time.Millisecond

// Observer receives lifecycle callbacks, typically to feed metrics. Calls
// come from the parsing goroutine of each session, so implementations must
// be safe for concurrent use.
type Observer interface {
	SessionStarted(format parser.Format)
	UnitParsed(format parser.Format, malformed bool)
	SessionFinished(format parser.Format, state State, elapsed time.Duration)
}

type settings struct {
	log         *slog.Logger
	maxDetail   int
	window      int64
	frameRate   float64
	probeWindow int64
	eventBuffer int
	throttle    time.Duration
	observer    Observer
}

// Option configures a Controller.
type Option func(*settings)

// WithLogger sets the logger. A nil logger selects slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *settings) { s.log = log }
}

// WithMaxDetail caps the detail rows the packet model retains.
func WithMaxDetail(n int) Option {
	return func(s *settings) { s.maxDetail = n }
}

// WithWindow sets the bitrate segment window.
func WithWindow(d time.Duration) Option {
	return func(s *settings) { s.window = d.Milliseconds() }
}

// WithFrameRate forces the picture rate of elementary streams. Zero keeps
// the rate signalled in the bitstream.
func WithFrameRate(fps float64) Option {
	return func(s *settings) { s.frameRate = fps }
}

// WithProbeWindow sets how far into the input a valid unit must appear.
func WithProbeWindow(n int64) Option {
	return func(s *settings) { s.probeWindow = n }
}

// WithEventBuffer sets the capacity of the Events channel.
func WithEventBuffer(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.eventBuffer = n
		}
	}
}

// WithObserver installs a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(s *settings) { s.observer = o }
}

func withModelThrottle(d time.Duration) Option {
	return func(s *settings) { s.throttle = d }
}

func (s settings) parserOptions() parser.Options {
	return parser.Options{
		FrameRate:   s.frameRate,
		ProbeWindow: s.probeWindow,
		Logger:      s.log,
	}
}

type nopObserver struct{}

func (nopObserver) SessionStarted(parser.Format) {}
func (nopObserver) UnitParsed(parser.Format, bool) {}
func (nopObserver) SessionFinished(parser.Format, State, time.Duration) {}
