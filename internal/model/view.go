package model

import "sync"

// Predicate selects top-level entries for a FilterView.
type Predicate func(Entry) bool

// Any accepts every entry.
func Any() Predicate { return func(Entry) bool { return true } }

// ByStream accepts entries of one stream.
func ByStream(stream int) Predicate {
	return func(e Entry) bool { return e.Stream == stream }
}

// ErrorsOnly accepts entries carrying an error diagnostic.
func ErrorsOnly() Predicate {
	return func(e Entry) bool { return e.Malformed() }
}

// All accepts entries matched by every predicate.
func All(preds ...Predicate) Predicate {
	return func(e Entry) bool {
		for _, p := range preds {
			if !p(e) {
				return false
			}
		}
		return true
	}
}

// FilterView is a read-only projection of the top-level rows of a Model that
// satisfy a predicate. It stores only row ids and is refreshed lazily: each
// query first tests the top-level rows appended since the previous query.
// A MarkError on the model invalidates earlier decisions and forces a full
// recompute on the next query.
type FilterView struct {
	m *Model

	mu      sync.Mutex
	pred    Predicate
	ids     []int
	scanned int
	marks   int64
}

// NewFilterView creates a view over m. A nil predicate accepts every row.
func NewFilterView(m *Model, pred Predicate) *FilterView {
	if pred == nil {
		pred = Any()
	}
	return &FilterView{m: m, pred: pred}
}

// SetPredicate replaces the predicate and discards all cached decisions.
func (v *FilterView) SetPredicate(pred Predicate) {
	if pred == nil {
		pred = Any()
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pred = pred
	v.ids = v.ids[:0]
	v.scanned = 0
}

// refresh brings the cached ids up to date with the model. Callers hold v.mu.
func (v *FilterView) refresh() {
	if marks := v.m.marks.Load(); marks != v.marks {
		v.ids = v.ids[:0]
		v.scanned = 0
		v.marks = marks
	}
	n := v.m.TopLevelCount()
	for ; v.scanned < n; v.scanned++ {
		id, _ := v.m.TopLevelAt(v.scanned)
		e, ok := v.m.Get(id)
		if ok && v.pred(e) {
			v.ids = append(v.ids, id)
		}
	}
}

// RowCount returns the number of rows currently passing the predicate.
func (v *FilterView) RowCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.refresh()
	return len(v.ids)
}

// RowAt maps a filtered index to the underlying row id.
func (v *FilterView) RowAt(i int) (int, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.refresh()
	if i < 0 || i >= len(v.ids) {
		return 0, false
	}
	return v.ids[i], true
}

// Rows returns up to limit underlying ids starting at filtered index offset.
// A limit <= 0 returns everything after offset.
func (v *FilterView) Rows(offset, limit int) []int {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.refresh()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(v.ids) {
		return nil
	}
	end := len(v.ids)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]int, end-offset)
	copy(out, v.ids[offset:end])
	return out
}
