package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// ============================================================================
// Scheduler Tests
// ============================================================================

func TestSchedulerRunsTasks(t *testing.T) {
	s := New(nil)

	var ticks atomic.Int64
	s.Add("counter", 10*time.Millisecond, func(now time.Time) {
		ticks.Add(1)
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if ticks.Load() == 0 {
		t.Error("task never ticked")
	}
}

func TestSchedulerStopsAllTasksTogether(t *testing.T) {
	s := New(nil)

	var a, b atomic.Int64
	s.Add("a", 10*time.Millisecond, func(time.Time) { a.Add(1) })
	s.Add("b", 15*time.Millisecond, func(time.Time) { b.Add(1) })

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	aAfter, bAfter := a.Load(), b.Load()
	time.Sleep(50 * time.Millisecond)

	if a.Load() != aAfter || b.Load() != bAfter {
		t.Error("tasks kept ticking after Stop")
	}
}

func TestSchedulerDoubleStart(t *testing.T) {
	s := New(nil)
	s.Add("noop", time.Second, func(time.Time) {})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	if err := s.Start(context.Background()); err != ErrAlreadyStarted {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestSchedulerStopBeforeStart(t *testing.T) {
	s := New(nil)
	if err := s.Stop(); err != ErrNotStarted {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}
}

func TestSchedulerContextCancellation(t *testing.T) {
	s := New(nil)

	var ticks atomic.Int64
	s.Add("counter", 10*time.Millisecond, func(time.Time) { ticks.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	time.Sleep(40 * time.Millisecond)
	cancel()
	time.Sleep(30 * time.Millisecond)

	after := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	if ticks.Load() != after {
		t.Error("task kept ticking after context cancellation")
	}

	// Stop still cleans up bookkeeping without hanging.
	if err := s.Stop(); err != nil {
		t.Errorf("Stop after cancellation failed: %v", err)
	}
}

func TestSchedulerAddAfterStartIgnored(t *testing.T) {
	s := New(nil)
	s.Add("first", time.Second, func(time.Time) {})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	s.Add("late", time.Second, func(time.Time) {})
	if got := s.TaskCount(); got != 1 {
		t.Errorf("TaskCount = %d, want 1", got)
	}
}
