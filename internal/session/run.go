package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/bitlens/internal/bitrate"
	"github.com/zsiec/bitlens/internal/cursor"
	"github.com/zsiec/bitlens/internal/model"
	"github.com/zsiec/bitlens/internal/parser"
)

// run is one session. Its model, aggregator and counters are written by the
// worker goroutine only; the Controller hands them to readers.
type run struct {
	c     *Controller
	model *model.Model
	agg   *bitrate.Aggregator
	done  chan struct{}
	group errgroup.Group

	// Set under Controller.mu by start.
	variant   parser.Variant
	cancel    context.CancelFunc
	path      string
	startedAt time.Time

	// mu orders cancel requests against the decision on the final state.
	mu              sync.Mutex
	decided         bool
	state           atomic.Int32
	cancelRequested atomic.Bool
	progress        atomic.Int32
	failure         atomic.Pointer[error]
	info            atomic.Pointer[parser.Info]
	infoVersion     atomic.Int64
	summary         atomic.Pointer[parser.Summary]

	// Worker only.
	cur       *cursor.Cursor
	lastRows  int
	lastModel time.Time
}

func (r *run) State() State { return State(r.state.Load()) }

func (r *run) work(ctx context.Context, open func() (*cursor.Cursor, error)) {
	c := r.c
	var sum parser.Summary
	cur, err := open()
	if err == nil {
		r.cur = cur
		sum, err = r.variant.Parse(ctx, cur, r)
		if cerr := cur.Close(); cerr != nil {
			c.log.Debug("close input", "path", r.path, "error", cerr)
		}
	}

	for _, stream := range r.agg.Flush() {
		c.emit(Event{Kind: SegmentsUpdated, Stream: stream, Count: r.agg.Count(stream)})
	}
	r.model.Seal()
	r.summary.Store(&sum)

	state := r.decide(err)
	if state == Completed {
		r.advance(100)
	}
	r.modelUpdated(true)
	r.state.Store(int32(state))
	c.emit(Event{Kind: Finished, State: state})

	elapsed := time.Since(r.startedAt)
	c.set.observer.SessionFinished(c.format, state, elapsed)
	switch state {
	case Failed:
		c.log.Warn("session failed", "path", r.path, "error", err, "elapsed", elapsed)
	default:
		c.log.Info("session finished",
			"path", r.path,
			"state", state,
			"units", sum.Units,
			"rows", r.model.RowCount(),
			"malformed", sum.Malformed,
			"elapsed", elapsed,
		)
	}
	close(r.done)
}

// decide maps the result of Parse to a terminal state. A cancel request
// wins over any other outcome.
func (r *run) decide(err error) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decided = true
	switch {
	case errors.Is(err, parser.ErrCancelled) || r.cancelRequested.Load():
		return Cancelled
	case err != nil:
		r.failure.Store(&err)
		return Failed
	default:
		return Completed
	}
}

// requestCancel records a cancel request. It reports false when the run is
// not running or its final state has already been decided.
func (r *run) requestCancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.decided || r.State() != Running {
		return false
	}
	r.cancelRequested.Store(true)
	return true
}

// advance raises progress to pct and reports whether it changed.
func (r *run) advance(pct int32) bool {
	for {
		old := r.progress.Load()
		if pct <= old {
			return false
		}
		if r.progress.CompareAndSwap(old, pct) {
			return true
		}
	}
}

func (r *run) modelUpdated(force bool) {
	rows := r.model.RowCount()
	if rows == r.lastRows {
		return
	}
	now := time.Now()
	if !force && now.Sub(r.lastModel) < r.c.set.throttle {
		return
	}
	r.lastRows = rows
	r.lastModel = now
	r.c.emit(Event{Kind: ModelUpdated, Rows: rows})
}

// Append implements parser.Sink.
func (r *run) Append(e model.Entry) (int, error) {
	id, err := r.model.Append(e)
	if err != nil || !e.TopLevel() {
		return id, err
	}
	r.c.set.observer.UnitParsed(r.c.format, e.Malformed())
	if size := r.cur.Size(); size > 0 {
		pct := int32(r.cur.Pos() * 100 / size)
		if pct > 99 {
			pct = 99
		}
		if r.advance(pct) {
			r.c.emit(Event{Kind: Progress, Percent: int(pct)})
		}
	}
	r.modelUpdated(false)
	return id, nil
}

// MarkError implements parser.Sink.
func (r *run) MarkError(id int, msg string) {
	r.model.MarkError(id, msg)
}

// Packet implements parser.Sink.
func (r *run) Packet(stream int, ts int64, size int64) {
	if r.agg.Add(stream, ts, size) {
		r.c.emit(Event{Kind: SegmentsUpdated, Stream: stream, Count: r.agg.Count(stream)})
	}
}

// StreamInfo implements parser.Sink.
func (r *run) StreamInfo(info parser.Info) {
	r.info.Store(&info)
	r.infoVersion.Add(1)
	r.c.emit(Event{Kind: StreamInfoUpdated})
}
