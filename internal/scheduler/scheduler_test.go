package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestIntervalJobFiresRepeatedly(t *testing.T) {
	s := New(nil)
	var count int32
	s.AddIntervalJob("tick", 10*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	s.Start()
	defer s.Shutdown(true)

	time.Sleep(55 * time.Millisecond)
	if atomic.LoadInt32(&count) < 3 {
		t.Fatalf("expected at least 3 fires, got %d", count)
	}
}

func TestCoalescingPreventsOverlap(t *testing.T) {
	s := New(nil)
	var concurrent int32
	var maxConcurrent int32
	s.AddIntervalJob("slow", 5*time.Millisecond, func(ctx context.Context) error {
		n := atomic.AddInt32(&concurrent, 1)
		for {
			old := atomic.LoadInt32(&maxConcurrent)
			if n <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
		return nil
	})
	s.Start()
	defer s.Shutdown(true)

	time.Sleep(80 * time.Millisecond)
	if atomic.LoadInt32(&maxConcurrent) > 1 {
		t.Fatalf("expected max_instances=1, observed %d concurrent runs", maxConcurrent)
	}
}

func TestAddCronJobInvalidExpression(t *testing.T) {
	s := New(nil)
	if err := s.AddCronJob("bad", "not a cron expr", func(ctx context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestAddCronJobValidExpression(t *testing.T) {
	s := New(nil)
	if err := s.AddCronJob("daily", "0 2 * * *", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	ids := s.JobIDs()
	if len(ids) != 1 || ids[0] != "daily" {
		t.Fatalf("got %v", ids)
	}
}

func TestRemoveJobStopsFiring(t *testing.T) {
	s := New(nil)
	var count int32
	s.AddIntervalJob("tick", 5*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	s.Start()
	s.RemoveJob("tick")

	time.Sleep(10 * time.Millisecond)
	snapshot := atomic.LoadInt32(&count)
	time.Sleep(30 * time.Millisecond)
	if atomic.LoadInt32(&count) > snapshot+1 {
		t.Fatalf("expected job to stop firing after RemoveJob, count grew from %d to %d", snapshot, count)
	}
	s.Shutdown(true)
}

func TestReplaceJobWithSameID(t *testing.T) {
	s := New(nil)
	var firstCalls, secondCalls int32
	s.AddIntervalJob("job", 200*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&firstCalls, 1)
		return nil
	})
	s.AddIntervalJob("job", 5*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&secondCalls, 1)
		return nil
	})
	s.Start()
	defer s.Shutdown(true)

	time.Sleep(40 * time.Millisecond)
	if atomic.LoadInt32(&firstCalls) != 0 {
		t.Fatal("expected the replaced job definition to never fire")
	}
	if atomic.LoadInt32(&secondCalls) == 0 {
		t.Fatal("expected the replacement job definition to fire")
	}
}

func TestShutdownWaitsForInFlightJob(t *testing.T) {
	s := New(nil)
	started := make(chan struct{})
	var finished atomic.Bool
	s.AddIntervalJob("slow", 5*time.Millisecond, func(ctx context.Context) error {
		close(started)
		time.Sleep(40 * time.Millisecond)
		finished.Store(true)
		return nil
	})
	s.Start()

	<-started
	s.Shutdown(true)
	if !finished.Load() {
		t.Fatal("expected Shutdown(true) to wait for the in-flight job to finish")
	}
}
