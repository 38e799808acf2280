package metricsring

import (
	"os"
	"testing"
)

func TestAppendEvictsOldest(t *testing.T) {
	r := New(3)
	for i := 0; i < 5; i++ {
		r.Append(Snapshot{APIMemoryMB: float64(i)})
	}
	all := r.All()
	if len(all) != 3 {
		t.Fatalf("got %d snapshots, want 3", len(all))
	}
	if all[0].APIMemoryMB != 2 || all[2].APIMemoryMB != 4 {
		t.Fatalf("got %+v, want oldest-evicted FIFO order", all)
	}
}

func TestLatestOnEmptyRing(t *testing.T) {
	r := New(3)
	if _, ok := r.Latest(); ok {
		t.Fatal("expected no latest snapshot on empty ring")
	}
}

func TestClear(t *testing.T) {
	r := New(3)
	r.Append(Snapshot{})
	r.Clear()
	if r.Len() != 0 {
		t.Fatal("expected ring to be empty after Clear")
	}
}

func TestCollectorSelfProcessAlwaysSucceeds(t *testing.T) {
	r := New(10)
	c := NewCollector(r, os.Getpid(), func() (int, bool) { return 0, false }, nil)

	snap := c.Collect()
	if snap.APIMemoryMB <= 0 {
		t.Fatalf("expected positive API memory, got %v", snap.APIMemoryMB)
	}
	if snap.GameMemoryMB != nil {
		t.Fatal("expected nil game metrics when server not running")
	}
}

func TestCollectorGameProcessUnreachable(t *testing.T) {
	r := New(10)
	c := NewCollector(r, os.Getpid(), func() (int, bool) { return 999999, true }, nil)

	snap := c.Collect()
	if snap.GameMemoryMB != nil {
		t.Fatal("expected nil game metrics for an unreachable pid")
	}
}
