package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcus/dispatchd/internal/logging"
)

func TestSetCron(t *testing.T) {
	s := New(WithLogger(logging.Nop()))

	// Valid cron
	if err := s.SetCron("0 2 * * *"); err != nil {
		t.Errorf("SetCron() error = %v", err)
	}
	if s.cronExpr != "0 2 * * *" {
		t.Errorf("cronExpr = %q, want %q", s.cronExpr, "0 2 * * *")
	}

	// Invalid cron
	if err := s.SetCron("invalid"); err == nil {
		t.Error("SetCron() expected error for invalid expression")
	}
}

func TestSetInterval(t *testing.T) {
	s := New(WithLogger(logging.Nop()))

	// Valid interval
	if err := s.SetInterval(time.Hour); err != nil {
		t.Errorf("SetInterval() error = %v", err)
	}
	if s.interval != time.Hour {
		t.Errorf("interval = %v, want %v", s.interval, time.Hour)
	}

	// Invalid interval (zero)
	if err := s.SetInterval(0); err == nil {
		t.Error("SetInterval(0) expected error")
	}

	// Invalid interval (negative)
	if err := s.SetInterval(-time.Hour); err == nil {
		t.Error("SetInterval(-1h) expected error")
	}
}

func TestScheduler_StartStop_Cron(t *testing.T) {
	s := New(WithLogger(logging.Nop()))
	_ = s.SetCron("* * * * *") // Every minute

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if !s.IsRunning() {
		t.Error("IsRunning() = false, want true")
	}

	// Starting again should fail
	if err := s.Start(ctx); err != ErrAlreadyRunning {
		t.Errorf("Start() twice error = %v, want %v", err, ErrAlreadyRunning)
	}

	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}

	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop, want false")
	}

	// Stopping again should fail
	if err := s.Stop(); err != ErrNotRunning {
		t.Errorf("Stop() twice error = %v, want %v", err, ErrNotRunning)
	}
}

func TestScheduler_StartStop_Interval(t *testing.T) {
	s := New(WithLogger(logging.Nop()))
	_ = s.SetInterval(time.Hour)

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if !s.IsRunning() {
		t.Error("IsRunning() = false, want true")
	}

	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}

	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop, want false")
	}
}

func TestScheduler_StartNoSchedule(t *testing.T) {
	s := New(WithLogger(logging.Nop()))
	ctx := context.Background()

	if err := s.Start(ctx); err != ErrNoSchedule {
		t.Errorf("Start() error = %v, want %v", err, ErrNoSchedule)
	}
}

func TestScheduler_NextRun_Cron(t *testing.T) {
	s := New(WithLogger(logging.Nop()))
	_ = s.SetCron("* * * * *") // Every minute

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = s.Stop() }()

	nextRun := s.NextRun()
	if nextRun.IsZero() {
		t.Error("NextRun() is zero")
	}

	// Next run should be within the next minute
	now := time.Now()
	if nextRun.Before(now) {
		t.Errorf("NextRun() = %v, should be after now (%v)", nextRun, now)
	}
	if nextRun.After(now.Add(time.Minute + time.Second)) {
		t.Errorf("NextRun() = %v, should be within next minute", nextRun)
	}
}

func TestScheduler_NextRun_Interval(t *testing.T) {
	s := New(WithLogger(logging.Nop()))
	_ = s.SetInterval(time.Hour)

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = s.Stop() }()

	nextRun := s.NextRun()
	if nextRun.IsZero() {
		t.Error("NextRun() is zero")
	}

	// Next run should be approximately 1 hour from now
	now := time.Now()
	expected := now.Add(time.Hour)
	delta := nextRun.Sub(expected)
	if delta < -time.Second || delta > time.Second {
		t.Errorf("NextRun() = %v, expected ~%v", nextRun, expected)
	}
}

func TestScheduler_JobExecution_Interval(t *testing.T) {
	s := New(WithLogger(logging.Nop()))
	_ = s.SetInterval(50 * time.Millisecond)

	var count atomic.Int32

	s.AddJob(func(ctx context.Context) error {
		count.Add(1)
		return nil
	})

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Wait for at least one execution
	time.Sleep(150 * time.Millisecond)

	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}

	if count.Load() < 1 {
		t.Errorf("Job executed %d times, want at least 1", count.Load())
	}
}

func TestScheduler_ContextCancellation(t *testing.T) {
	s := New(WithLogger(logging.Nop()))
	_ = s.SetInterval(50 * time.Millisecond)

	var count atomic.Int32

	s.AddJob(func(ctx context.Context) error {
		count.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Cancel context
	cancel()
	time.Sleep(100 * time.Millisecond)

	// Scheduler should have stopped
	if s.IsRunning() {
		// Still marked as running, but goroutine exited
		_ = s.Stop()
	}
}

func TestScheduleCron(t *testing.T) {
	s := New(WithLogger(logging.Nop()))

	if err := s.ScheduleCron("0 2 * * *", func() {}); err != nil {
		t.Errorf("ScheduleCron() error = %v", err)
	}

	if s.cronExpr != "0 2 * * *" {
		t.Errorf("cronExpr = %q, want %q", s.cronExpr, "0 2 * * *")
	}
	if len(s.jobs) != 1 {
		t.Errorf("len(jobs) = %d, want 1", len(s.jobs))
	}
}

func TestScheduleInterval(t *testing.T) {
	s := New(WithLogger(logging.Nop()))

	if err := s.ScheduleInterval(time.Hour, func() {}); err != nil {
		t.Errorf("ScheduleInterval() error = %v", err)
	}

	if s.interval != time.Hour {
		t.Errorf("interval = %v, want %v", s.interval, time.Hour)
	}
	if len(s.jobs) != 1 {
		t.Errorf("len(jobs) = %d, want 1", len(s.jobs))
	}
}

func TestScheduler_PauseSkipsRuns(t *testing.T) {
	s := New(WithLogger(logging.Nop()))
	_ = s.SetInterval(10 * time.Millisecond)

	var count atomic.Int32
	s.AddJob(func(ctx context.Context) error {
		count.Add(1)
		return nil
	})

	s.Pause()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if count.Load() != 0 {
		t.Errorf("paused scheduler ran %d times", count.Load())
	}

	s.Resume()
	time.Sleep(60 * time.Millisecond)
	_ = s.Stop()
	if count.Load() == 0 {
		t.Error("resumed scheduler never ran")
	}
}

func TestScheduler_SetIntervalWhileRunning(t *testing.T) {
	s := New(WithLogger(logging.Nop()))
	_ = s.SetInterval(time.Hour)

	var count atomic.Int32
	s.AddJob(func(ctx context.Context) error {
		count.Add(1)
		return nil
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = s.Stop() }()

	if err := s.SetInterval(10 * time.Millisecond); err != nil {
		t.Fatalf("SetInterval() error = %v", err)
	}
	if s.Interval() != 10*time.Millisecond {
		t.Errorf("Interval() = %v", s.Interval())
	}

	deadline := time.Now().Add(2 * time.Second)
	for count.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if count.Load() == 0 {
		t.Error("job never ran after shortening the interval")
	}
}

func TestScheduler_RunNowContinuesPastErrors(t *testing.T) {
	s := New(WithLogger(logging.Nop()))

	var second atomic.Bool
	s.AddJob(func(ctx context.Context) error { return errors.New("boom") })
	s.AddJob(func(ctx context.Context) error {
		second.Store(true)
		return nil
	})

	s.RunNow(context.Background())
	if !second.Load() {
		t.Error("second job did not run after the first failed")
	}
	if s.Runs() != 1 || s.LastRun().IsZero() {
		t.Errorf("Runs() = %d LastRun() = %v", s.Runs(), s.LastRun())
	}
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	s := New(WithLogger(logging.Nop()))

	release := make(chan struct{})
	started := make(chan struct{})
	var count atomic.Int32
	s.AddJob(func(ctx context.Context) error {
		count.Add(1)
		close(started)
		<-release
		return nil
	})

	go s.RunNow(context.Background())
	<-started
	s.RunNow(context.Background())
	close(release)

	if count.Load() != 1 {
		t.Errorf("job ran %d times, want 1", count.Load())
	}
}
