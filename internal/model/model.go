package model

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrSealed is returned by Append once the owning session has ended.
	ErrSealed = errors.New("model: sealed")
	// ErrUnknownParent is returned when an entry names a parent that has not
	// been appended.
	ErrUnknownParent = errors.New("model: unknown parent")
)

// link is the tree skeleton of one row. It outlives eviction of the row so
// sibling chains stay walkable.
type link struct {
	first atomic.Int64
	next  atomic.Int64
	last  int // writer only
}

// Model is the append-only packet tree of one parse session.
//
// Append, MarkError and Seal must be called from a single writer goroutine.
// All other methods are safe for concurrent use. A row becomes visible to
// readers only after it and its tree links are fully stored: the writer
// publishes it with a single atomic store of the row count.
type Model struct {
	rows  column[atomic.Pointer[Entry]]
	links column[link]
	roots column[int]

	count    atomic.Int64
	topCount atomic.Int64
	evicted  atomic.Int64
	marks    atomic.Int64
	sealed   atomic.Bool

	maxDetail int
	detail    int
	evictNext int
}

// Option configures a Model.
type Option func(*Model)

// WithMaxDetail caps the number of retained detail (non top-level) rows.
// When the cap is exceeded the oldest detail rows are dropped; top-level
// rows are always kept. Zero means unlimited.
func WithMaxDetail(n int) Option {
	return func(m *Model) {
		if n > 0 {
			m.maxDetail = n
		}
	}
}

// New creates an empty model.
func New(opts ...Option) *Model {
	m := &Model{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Append adds e and returns its id, which is the row count before the call;
// e.ID is ignored. e.Parent must be NoParent or an id already appended.
// Append takes ownership of e.Fields.
func (m *Model) Append(e Entry) (int, error) {
	if m.sealed.Load() {
		return -1, ErrSealed
	}
	id := int(m.count.Load())
	if e.Parent != NoParent && (e.Parent < 0 || e.Parent >= id) {
		return -1, fmt.Errorf("%w: %d", ErrUnknownParent, e.Parent)
	}
	e.ID = id

	l := m.links.slot(id)
	l.first.Store(-1)
	l.next.Store(-1)
	l.last = -1
	m.rows.slot(id).Store(&e)

	top := e.Parent == NoParent
	if top {
		*m.roots.slot(int(m.topCount.Load())) = id
	} else {
		pl := m.links.at(e.Parent)
		if pl.last < 0 {
			pl.first.Store(int64(id))
		} else {
			m.links.at(pl.last).next.Store(int64(id))
		}
		pl.last = id
		m.detail++
	}

	m.count.Store(int64(id + 1))
	if top {
		m.topCount.Add(1)
	}
	m.evict()
	return id, nil
}

func (m *Model) evict() {
	for m.maxDetail > 0 && m.detail > m.maxDetail {
		for {
			p := m.rows.at(m.evictNext).Load()
			if p != nil && p.Parent != NoParent {
				break
			}
			m.evictNext++
		}
		m.rows.at(m.evictNext).Store(nil)
		m.evictNext++
		m.detail--
		m.evicted.Add(1)
	}
}

// MarkError sets the error diagnostic of an already appended row. It reports
// false if the row does not exist or has been evicted.
func (m *Model) MarkError(id int, msg string) bool {
	if id < 0 || id >= int(m.count.Load()) {
		return false
	}
	cell := m.rows.at(id)
	p := cell.Load()
	if p == nil {
		return false
	}
	cp := *p
	cp.Err = msg
	cell.Store(&cp)
	m.marks.Add(1)
	return true
}

// Seal makes the model immutable. Subsequent appends fail with ErrSealed.
func (m *Model) Seal() { m.sealed.Store(true) }

// Sealed reports whether Seal has been called.
func (m *Model) Sealed() bool { return m.sealed.Load() }

// RowCount returns the number of rows ever appended, including evicted ones.
// It never decreases.
func (m *Model) RowCount() int { return int(m.count.Load()) }

// TopLevelCount returns the number of top-level rows.
func (m *Model) TopLevelCount() int { return int(m.topCount.Load()) }

// Retained returns the number of rows still held in memory.
func (m *Model) Retained() int { return int(m.count.Load() - m.evicted.Load()) }

// Evicted returns the number of detail rows dropped by the capacity policy.
func (m *Model) Evicted() int { return int(m.evicted.Load()) }

// Get returns the row with the given id. It reports false for ids that are
// not yet visible or have been evicted.
func (m *Model) Get(id int) (Entry, bool) {
	if id < 0 || id >= int(m.count.Load()) {
		return Entry{}, false
	}
	p := m.rows.at(id).Load()
	if p == nil {
		return Entry{}, false
	}
	return *p, true
}

// TopLevelAt returns the id of the i-th top-level row.
func (m *Model) TopLevelAt(i int) (int, bool) {
	if i < 0 || i >= int(m.topCount.Load()) {
		return 0, false
	}
	return *m.roots.at(i), true
}

// ChildrenOf returns the ids of the retained children of id in append order.
// ChildrenOf(NoParent) returns the top-level ids.
func (m *Model) ChildrenOf(id int) []int {
	if id == NoParent {
		n := int(m.topCount.Load())
		out := make([]int, n)
		for i := range out {
			out[i] = *m.roots.at(i)
		}
		return out
	}
	n := m.count.Load()
	if id < 0 || int64(id) >= n {
		return nil
	}
	var out []int
	for c := m.links.at(id).first.Load(); c >= 0 && c < n; c = m.links.at(int(c)).next.Load() {
		if m.rows.at(int(c)).Load() != nil {
			out = append(out, int(c))
		}
	}
	return out
}
