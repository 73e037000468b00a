package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestAddRunsImmediatelyAndRepeats(t *testing.T) {
	s, err := New(zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	var runs atomic.Int32
	if err := s.Add("scan", 50*time.Millisecond, true, func(ctx context.Context) {
		runs.Add(1)
	}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	s.Start()
	defer s.Shutdown()

	waitFor(t, 5*time.Second, func() bool { return runs.Load() >= 3 })
}

func TestSingletonSkipsOverlap(t *testing.T) {
	s, err := New(zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	var inflight, maxSeen, runs atomic.Int32
	if err := s.Add("scan", 10*time.Millisecond, true, func(ctx context.Context) {
		n := inflight.Add(1)
		for {
			m := maxSeen.Load()
			if n <= m || maxSeen.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(60 * time.Millisecond)
		inflight.Add(-1)
		runs.Add(1)
	}); err != nil {
		t.Fatal(err)
	}

	s.Start()
	waitFor(t, 5*time.Second, func() bool { return runs.Load() >= 2 })
	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if got := maxSeen.Load(); got != 1 {
		t.Errorf("max concurrent runs = %d, want 1", got)
	}
}

func TestShutdownCancelsTaskContext(t *testing.T) {
	s, err := New(zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	started := make(chan struct{})
	var cancelled atomic.Bool
	if err := s.Add("scan", time.Hour, true, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
	}); err != nil {
		t.Fatal(err)
	}

	s.Start()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("task did not start")
	}
	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if !cancelled.Load() {
		t.Error("task context was not cancelled by Shutdown")
	}
}

func TestUpdateInterval(t *testing.T) {
	s, err := New(zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Shutdown()

	if err := s.Add("scan", time.Hour, false, func(context.Context) {}); err != nil {
		t.Fatal(err)
	}
	s.Start()

	if err := s.UpdateInterval("scan", time.Hour); err != nil {
		t.Errorf("unchanged interval: %v", err)
	}
	if err := s.UpdateInterval("scan", 2*time.Hour); err != nil {
		t.Fatalf("UpdateInterval() error = %v", err)
	}
	if got, _ := s.Interval("scan"); got != 2*time.Hour {
		t.Errorf("Interval() = %v, want 2h", got)
	}

	next, err := s.NextRun("scan")
	if err != nil {
		t.Fatalf("NextRun() error = %v", err)
	}
	if until := time.Until(next); until < 90*time.Minute || until > 2*time.Hour+time.Minute {
		t.Errorf("next run in %v, want about 2h", until)
	}
}

func TestErrors(t *testing.T) {
	s, err := New(zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Shutdown()

	noop := func(context.Context) {}
	if err := s.Add("scan", 0, false, noop); err == nil {
		t.Error("zero interval accepted")
	}
	if err := s.Add("scan", time.Hour, false, noop); err != nil {
		t.Fatal(err)
	}
	if err := s.Add("scan", time.Hour, false, noop); err == nil {
		t.Error("duplicate job accepted")
	}
	if err := s.UpdateInterval("missing", time.Hour); err == nil {
		t.Error("update of unknown job accepted")
	}
	if err := s.UpdateInterval("scan", -time.Second); err == nil {
		t.Error("negative interval accepted")
	}
	if _, err := s.NextRun("missing"); err == nil {
		t.Error("NextRun of unknown job succeeded")
	}
}
