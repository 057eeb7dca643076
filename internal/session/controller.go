// Package session runs one parse of an input file in the background and
// exposes its packet tree, bitrate segments and stream info while it grows.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/bitlens/internal/bitrate"
	"github.com/zsiec/bitlens/internal/cursor"
	"github.com/zsiec/bitlens/internal/model"
	"github.com/zsiec/bitlens/internal/parser"
)

var (
	ErrSessionActive = errors.New("session: already started")
	ErrClosed        = errors.New("session: controller closed")
)

// Palette is the set of colours streams are coded with, indexed by
// StreamColor.
var Palette = []string{
	"#4e79a7", "#f28e2b", "#59a14f", "#e15759",
	"#76b7b2", "#edc948", "#b07aa1", "#9c755f",
}

// Controller owns one parse at a time. Start spawns a worker goroutine that
// drives the parser.Variant for the configured format; every other method
// may be called from any goroutine while it runs and never waits for it,
// except Wait and Close.
type Controller struct {
	format     parser.Format
	set        settings
	log        *slog.Logger
	newVariant func(parser.Format, parser.Options) (parser.Variant, error)

	events  chan Event
	dropped atomic.Int64

	mu     sync.RWMutex
	run    *run
	closed bool
}

// New creates an idle controller for inputs of the given format.
func New(format parser.Format, opts ...Option) *Controller {
	set := settings{
		eventBuffer: DefaultEventBuffer,
		throttle:    defaultModelThrottle,
		window:      bitrate.DefaultWindow,
	}
	for _, opt := range opts {
		opt(&set)
	}
	if set.log == nil {
		set.log = slog.Default()
	}
	if set.observer == nil {
		set.observer = nopObserver{}
	}
	c := &Controller{
		format:     format,
		set:        set,
		log:        set.log.With("component", "session"),
		newVariant: parser.New,
		events:     make(chan Event, set.eventBuffer),
	}
	c.run = c.newRun()
	return c
}

func (c *Controller) newRun() *run {
	return &run{
		c:     c,
		model: model.New(model.WithMaxDetail(c.set.maxDetail)),
		agg:   bitrate.New(bitrate.WithWindow(c.set.window)),
		done:  make(chan struct{}),
	}
}

func (c *Controller) current() *run {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.run
}

// Start parses the file at path. A file that cannot be opened ends the
// session in Failed.
func (c *Controller) Start(path string) error {
	return c.start(path, func() (*cursor.Cursor, error) {
		cur, err := cursor.Open(path)
		if err != nil {
			return nil, &parser.IOError{Op: "open", Path: path, Err: err}
		}
		return cur, nil
	})
}

// StartCursor parses an already opened cursor. The controller closes it
// when the parse ends.
func (c *Controller) StartCursor(name string, cur *cursor.Cursor) error {
	return c.start(name, func() (*cursor.Cursor, error) { return cur, nil })
}

func (c *Controller) start(name string, open func() (*cursor.Cursor, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	r := c.run
	if r.State() != Idle {
		return ErrSessionActive
	}
	v, err := c.newVariant(c.format, c.set.parserOptions())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.variant = v
	r.cancel = cancel
	r.path = name
	r.startedAt = time.Now()
	r.state.Store(int32(Running))

	c.set.observer.SessionStarted(c.format)
	c.log.Info("session started", "path", name, "format", c.format)

	r.group.Go(func() error {
		defer cancel()
		r.work(ctx, open)
		return nil
	})
	return nil
}

// RequestCancel asks the running parse to stop at the next unit boundary.
// It returns immediately.
func (c *Controller) RequestCancel() {
	c.mu.RLock()
	r := c.run
	cancel := r.cancel
	c.mu.RUnlock()
	if cancel == nil || !r.requestCancel() {
		return
	}
	cancel()
	c.log.Debug("cancel requested", "path", r.path)
}

// Wait blocks until the current session reaches a terminal state or ctx
// ends.
func (c *Controller) Wait(ctx context.Context) (State, error) {
	r := c.current()
	select {
	case <-r.done:
		return r.State(), nil
	case <-ctx.Done():
		return r.State(), ctx.Err()
	}
}

// Done is closed when the current session reaches a terminal state.
func (c *Controller) Done() <-chan struct{} {
	return c.current().done
}

// Close cancels a running parse and waits for the worker to return. The
// model stays readable afterwards. Close is idempotent.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	r := c.run
	cancel := r.cancel
	c.mu.Unlock()

	if cancel == nil {
		close(r.done)
	} else {
		r.requestCancel()
		cancel()
		_ = r.group.Wait()
	}
	close(c.events)
	c.log.Debug("session closed", "path", r.path, "state", r.State())
	return nil
}

// Reset discards a finished session and returns the controller to Idle
// with an empty model and aggregator.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.run.State() == Running {
		return ErrSessionActive
	}
	c.run = c.newRun()
	return nil
}

// Format returns the input format the controller parses.
func (c *Controller) Format() parser.Format { return c.format }

// Path returns the name of the current input, empty while Idle.
func (c *Controller) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.run.path
}

// State returns the lifecycle state of the current session.
func (c *Controller) State() State { return c.current().State() }

// Err returns the reason a session Failed.
func (c *Controller) Err() error {
	if p := c.current().failure.Load(); p != nil {
		return *p
	}
	return nil
}

// ProgressPercent returns how much of the input has been consumed, 0 to
// 100. It never decreases during a session.
func (c *Controller) ProgressPercent() int {
	return int(c.current().progress.Load())
}

// StreamCount returns the number of streams discovered so far.
func (c *Controller) StreamCount() int {
	if v := c.variant(); v != nil {
		return v.StreamCount()
	}
	return 0
}

// VideoStreamIndex returns the video stream, or parser.NoVideo.
func (c *Controller) VideoStreamIndex() int {
	if v := c.variant(); v != nil {
		return v.VideoStreamIndex()
	}
	return parser.NoVideo
}

func (c *Controller) variant() parser.Variant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.run.variant
}

// Model returns the packet tree of the current session.
func (c *Controller) Model() *model.Model { return c.current().model }

// Filter returns a view over the current model.
func (c *Controller) Filter(pred model.Predicate) *model.FilterView {
	return model.NewFilterView(c.Model(), pred)
}

// VideoFilter returns a view of the rows that belong to the video stream
// known at the time of the call. With none known it matches nothing.
func (c *Controller) VideoFilter() *model.FilterView {
	video := c.VideoStreamIndex()
	if video == parser.NoVideo {
		return c.Filter(func(model.Entry) bool { return false })
	}
	return c.Filter(model.ByStream(video))
}

// Aggregator returns the bitrate aggregator of the current session.
func (c *Controller) Aggregator() *bitrate.Aggregator { return c.current().agg }

// SegmentsFor returns the closed bitrate segments of a stream.
func (c *Controller) SegmentsFor(stream int) []bitrate.Segment {
	return c.Aggregator().SegmentsFor(stream)
}

// SegmentsSince returns the closed segments of a stream after the first n.
func (c *Controller) SegmentsSince(stream, n int) []bitrate.Segment {
	return c.Aggregator().Since(stream, n)
}

// StreamInfo returns the latest stream description, nil before the first.
func (c *Controller) StreamInfo() parser.Info {
	if p := c.current().info.Load(); p != nil {
		return *p
	}
	return nil
}

// InfoVersion counts the stream info snapshots published so far, so
// pollers can tell when StreamInfo changed.
func (c *Controller) InfoVersion() int64 { return c.current().infoVersion.Load() }

// Summary returns the counts of a finished session.
func (c *Controller) Summary() parser.Summary {
	if p := c.current().summary.Load(); p != nil {
		return *p
	}
	return parser.Summary{}
}

// Events returns the change notification channel. It is closed by Close.
func (c *Controller) Events() <-chan Event { return c.events }

// DroppedEvents returns how many events were discarded because the
// channel was full.
func (c *Controller) DroppedEvents() int64 { return c.dropped.Load() }

// StreamColor returns the Palette index used for a stream, or -1 for rows
// without one.
func (c *Controller) StreamColor(stream int) int {
	if stream < 0 {
		return -1
	}
	return stream % len(Palette)
}

// Status is a point-in-time view of a session.
type Status struct {
	Path        string         `json:"path"`
	Format      parser.Format  `json:"format"`
	State       State          `json:"state"`
	Progress    int            `json:"progress"`
	Rows        int            `json:"rows"`
	Units       int            `json:"units"`
	Streams     int            `json:"streams"`
	VideoStream int            `json:"videoStream"`
	Colors      []string       `json:"colors,omitempty"`
	Error       string         `json:"error,omitempty"`
	Text        string         `json:"text"`
	Summary     parser.Summary `json:"summary"`
}

// Status collects the current values of the query methods.
func (c *Controller) Status() Status {
	r := c.current()
	st := Status{
		Path:        c.Path(),
		Format:      c.format,
		State:       r.State(),
		Progress:    int(r.progress.Load()),
		Rows:        r.model.RowCount(),
		Units:       r.model.TopLevelCount(),
		Streams:     c.StreamCount(),
		VideoStream: c.VideoStreamIndex(),
		Summary:     c.Summary(),
	}
	for i := 0; i < st.Streams; i++ {
		st.Colors = append(st.Colors, Palette[c.StreamColor(i)])
	}
	err := c.Err()
	if err != nil {
		st.Error = err.Error()
	}
	st.Text = StatusText(st.State, st.Progress, err)
	return st
}
