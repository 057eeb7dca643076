package bitrate

import "testing"

func TestTrackerReturnsOnlyNewSegments(t *testing.T) {
	t.Parallel()
	a := New()
	tr := NewTracker()

	a.Add(0, 0, 100)
	a.Add(0, 1000, 300)
	a.Add(1, 50, 10)

	got := tr.Poll(a, 0)
	if len(got) != 1 || got[0].Bytes != 100 {
		t.Fatalf("first poll = %+v", got)
	}
	if again := tr.Poll(a, 0); again != nil {
		t.Errorf("repeat poll = %+v, want nil", again)
	}

	a.Flush()
	got = tr.Poll(a, 0)
	if len(got) != 1 || got[0].Start != 1000 {
		t.Fatalf("poll after flush = %+v", got)
	}
	if tr.Added(0) != 2 {
		t.Errorf("Added(0) = %d, want 2", tr.Added(0))
	}

	tr.Poll(a, 1)
	rng, ok := tr.Range()
	if !ok {
		t.Fatal("Range not set")
	}
	want := Range{MinTime: 0, MaxTime: 1000, MaxBytes: 300}
	if rng != want {
		t.Errorf("Range = %+v, want %+v", rng, want)
	}
}

func TestTrackerReset(t *testing.T) {
	t.Parallel()
	a := New()
	a.Add(0, 0, 1)
	a.Flush()
	tr := NewTracker()
	tr.Poll(a, 0)
	tr.Reset()
	if _, ok := tr.Range(); ok {
		t.Error("Range survived Reset")
	}
	if got := tr.Poll(a, 0); len(got) != 1 {
		t.Errorf("poll after Reset = %+v", got)
	}
}
