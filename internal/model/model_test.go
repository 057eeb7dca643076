package model

import (
	"errors"
	"strconv"
	"sync"
	"testing"
)

func mustAppend(t *testing.T, m *Model, e Entry) int {
	t.Helper()
	id, err := m.Append(e)
	if err != nil {
		t.Fatalf("Append(%+v): %v", e, err)
	}
	return id
}

func TestAppendAssignsIncreasingIDs(t *testing.T) {
	t.Parallel()
	m := New()
	for i := 0; i < 3*chunkSize+7; i++ {
		id := mustAppend(t, m, Entry{Parent: NoParent, Offset: int64(i) * 10, Size: 10})
		if id != i {
			t.Fatalf("id = %d, want %d", id, i)
		}
	}
	if m.RowCount() != 3*chunkSize+7 {
		t.Errorf("RowCount = %d", m.RowCount())
	}
	e, ok := m.Get(2 * chunkSize)
	if !ok || e.Offset != int64(2*chunkSize)*10 || e.ID != 2*chunkSize {
		t.Errorf("Get(%d) = %+v, %v", 2*chunkSize, e, ok)
	}
	if _, ok := m.Get(m.RowCount()); ok {
		t.Error("Get past RowCount should report false")
	}
	if _, ok := m.Get(-1); ok {
		t.Error("Get(-1) should report false")
	}
}

func TestTreeIndex(t *testing.T) {
	t.Parallel()
	m := New()
	u0 := mustAppend(t, m, Entry{Parent: NoParent, Name: "unit 0"})
	h := mustAppend(t, m, Entry{Parent: u0, Name: "header"})
	mustAppend(t, m, Entry{Parent: h, Name: "field"})
	p := mustAppend(t, m, Entry{Parent: u0, Name: "payload"})
	u1 := mustAppend(t, m, Entry{Parent: NoParent, Name: "unit 1"})

	if got := m.ChildrenOf(NoParent); !equalInts(got, []int{u0, u1}) {
		t.Errorf("top level = %v", got)
	}
	if got := m.ChildrenOf(u0); !equalInts(got, []int{h, p}) {
		t.Errorf("children of unit 0 = %v", got)
	}
	if got := m.ChildrenOf(u1); len(got) != 0 {
		t.Errorf("children of unit 1 = %v", got)
	}
	if m.TopLevelCount() != 2 {
		t.Errorf("TopLevelCount = %d", m.TopLevelCount())
	}
	if id, ok := m.TopLevelAt(1); !ok || id != u1 {
		t.Errorf("TopLevelAt(1) = %d, %v", id, ok)
	}
}

func TestAppendRejectsUnknownParent(t *testing.T) {
	t.Parallel()
	m := New()
	if _, err := m.Append(Entry{Parent: 0}); !errors.Is(err, ErrUnknownParent) {
		t.Errorf("err = %v, want ErrUnknownParent", err)
	}
	if _, err := m.Append(Entry{Parent: -5}); !errors.Is(err, ErrUnknownParent) {
		t.Errorf("err = %v, want ErrUnknownParent", err)
	}
	if m.RowCount() != 0 {
		t.Errorf("failed appends changed RowCount to %d", m.RowCount())
	}
}

func TestSeal(t *testing.T) {
	t.Parallel()
	m := New()
	mustAppend(t, m, Entry{Parent: NoParent})
	m.Seal()
	if _, err := m.Append(Entry{Parent: NoParent}); !errors.Is(err, ErrSealed) {
		t.Errorf("err = %v, want ErrSealed", err)
	}
	if !m.Sealed() || m.RowCount() != 1 {
		t.Errorf("Sealed = %v, RowCount = %d", m.Sealed(), m.RowCount())
	}
}

func TestMarkError(t *testing.T) {
	t.Parallel()
	m := New()
	id := mustAppend(t, m, Entry{Parent: NoParent, Name: "nal"})
	if !m.MarkError(id, "forbidden_zero_bit set") {
		t.Fatal("MarkError returned false")
	}
	e, _ := m.Get(id)
	if !e.Malformed() || e.Err != "forbidden_zero_bit set" || e.Name != "nal" {
		t.Errorf("entry = %+v", e)
	}
	if m.MarkError(42, "x") {
		t.Error("MarkError on unknown id should report false")
	}
}

func TestEvictionKeepsTopLevelRows(t *testing.T) {
	t.Parallel()
	m := New(WithMaxDetail(4))
	var units []int
	for i := 0; i < 5; i++ {
		u := mustAppend(t, m, Entry{Parent: NoParent, Name: "unit " + strconv.Itoa(i)})
		units = append(units, u)
		mustAppend(t, m, Entry{Parent: u, Name: "a"})
		mustAppend(t, m, Entry{Parent: u, Name: "b"})
	}

	if m.RowCount() != 15 {
		t.Errorf("RowCount = %d, want 15", m.RowCount())
	}
	if m.Evicted() != 6 {
		t.Errorf("Evicted = %d, want 6", m.Evicted())
	}
	if m.Retained() != 9 {
		t.Errorf("Retained = %d, want 9", m.Retained())
	}
	for _, u := range units {
		if _, ok := m.Get(u); !ok {
			t.Errorf("top-level row %d evicted", u)
		}
	}
	if got := m.ChildrenOf(units[0]); len(got) != 0 {
		t.Errorf("children of oldest unit = %v, want evicted", got)
	}
	if got := m.ChildrenOf(units[4]); len(got) != 2 {
		t.Errorf("children of newest unit = %v, want 2", got)
	}
	if got := m.ChildrenOf(NoParent); len(got) != 5 {
		t.Errorf("top level = %v", got)
	}
}

func TestConcurrentReadersSeeCompleteRows(t *testing.T) {
	t.Parallel()
	const total = 5 * chunkSize
	m := New()

	var wg sync.WaitGroup
	errs := make(chan string, 4)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := 0
			for last < total {
				n := m.RowCount()
				if n < last {
					errs <- "RowCount decreased"
					return
				}
				for id := last; id < n; id++ {
					e, ok := m.Get(id)
					if !ok {
						errs <- "visible row missing"
						return
					}
					if e.ID != id || e.Name != strconv.Itoa(id) || len(e.Fields) != 1 {
						errs <- "partially written row " + strconv.Itoa(id)
						return
					}
				}
				last = n
			}
		}()
	}

	parent := NoParent
	for i := 0; i < total; i++ {
		e := Entry{Parent: parent, Name: strconv.Itoa(i), Fields: []Field{F("i", i)}}
		id, err := m.Append(e)
		if err != nil {
			t.Fatal(err)
		}
		if i%3 == 0 {
			parent = id
		} else {
			parent = NoParent
		}
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}
}

func TestEntryField(t *testing.T) {
	t.Parallel()
	e := Entry{Fields: []Field{F("nal_unit_type", 5), F("idr", true), F("name", "IDR")}}
	if v, ok := e.Field("nal_unit_type"); !ok || v != "5" {
		t.Errorf("nal_unit_type = %q, %v", v, ok)
	}
	if v, _ := e.Field("idr"); v != "true" {
		t.Errorf("idr = %q", v)
	}
	if _, ok := e.Field("missing"); ok {
		t.Error("missing field reported present")
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
