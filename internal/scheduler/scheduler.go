// Package scheduler runs recurring jobs on a cron expression or a fixed
// interval. A paused scheduler keeps its timers but skips job runs, and the
// interval can be changed while running.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/marcus/dispatchd/internal/logging"
)

// Errors returned by the scheduler.
var (
	ErrNoSchedule      = errors.New("no schedule configured")
	ErrAlreadyRunning  = errors.New("scheduler already running")
	ErrNotRunning      = errors.New("scheduler not running")
	ErrInvalidInterval = errors.New("interval must be positive")
)

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

// Scheduler fires its jobs on a schedule.
type Scheduler struct {
	mu       sync.Mutex
	name     string
	cronExpr string
	schedule cron.Schedule
	interval time.Duration
	jobs     []Job
	logger   *logging.Logger

	running bool
	paused  atomic.Bool
	busy    atomic.Bool
	cron    *cron.Cron
	entry   cron.EntryID
	cancel  context.CancelFunc
	done    chan struct{}
	reset   chan time.Duration
	nextRun time.Time
	lastRun time.Time
	runs    atomic.Int64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithName labels log lines.
func WithName(name string) Option {
	return func(s *Scheduler) { s.name = name }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New creates an idle scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{name: "scheduler", logger: logging.Component("scheduler")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetCron sets a standard five-field cron expression. It replaces any
// interval.
func (s *Scheduler) SetCron(expr string) error {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cronExpr = expr
	s.schedule = sched
	s.interval = 0
	return nil
}

// SetInterval sets a fixed interval. On a running interval scheduler the
// new period starts from now.
func (s *Scheduler) SetInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidInterval, d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = d
	s.cronExpr = ""
	s.schedule = nil
	if s.running && s.reset != nil {
		s.nextRun = time.Now().Add(d)
		select {
		case s.reset <- d:
		default:
		}
	}
	return nil
}

// Interval returns the configured interval, zero under cron.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// AddJob appends a job. Jobs run in order on every tick.
func (s *Scheduler) AddJob(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
}

// ScheduleCron sets expr and adds a job that ignores its context.
func (s *Scheduler) ScheduleCron(expr string, job func()) error {
	if err := s.SetCron(expr); err != nil {
		return err
	}
	s.AddJob(func(context.Context) error { job(); return nil })
	return nil
}

// ScheduleInterval sets d and adds a job that ignores its context.
func (s *Scheduler) ScheduleInterval(d time.Duration, job func()) error {
	if err := s.SetInterval(d); err != nil {
		return err
	}
	s.AddJob(func(context.Context) error { job(); return nil })
	return nil
}

// Pause stops job runs without stopping the timers.
func (s *Scheduler) Pause() { s.paused.Store(true) }

// Resume re-enables job runs.
func (s *Scheduler) Resume() { s.paused.Store(false) }

// Paused reports whether runs are skipped.
func (s *Scheduler) Paused() bool { return s.paused.Load() }

// Start begins firing jobs until Stop or ctx cancellation.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	if s.schedule == nil && s.interval <= 0 {
		return ErrNoSchedule
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	if s.schedule != nil {
		c := cron.New()
		id := c.Schedule(s.schedule, cron.FuncJob(func() { s.run(runCtx) }))
		c.Start()
		s.cron = c
		s.entry = id
		s.nextRun = s.schedule.Next(time.Now())
		go func() {
			defer close(s.done)
			<-runCtx.Done()
			<-c.Stop().Done()
		}()
	} else {
		s.reset = make(chan time.Duration, 1)
		s.nextRun = time.Now().Add(s.interval)
		go s.loop(runCtx, s.interval, s.reset)
	}

	s.running = true
	s.logger.InfoCtx("scheduler started", logging.Fields{
		"name":     s.name,
		"cron":     s.cronExpr,
		"interval": s.interval.String(),
	})
	return nil
}

func (s *Scheduler) loop(ctx context.Context, d time.Duration, reset <-chan time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case nd := <-reset:
			ticker.Reset(nd)
		case <-ticker.C:
			s.mu.Lock()
			s.nextRun = time.Now().Add(s.interval)
			s.mu.Unlock()
			s.run(ctx)
		}
	}
}

// run executes every job once. Overlapping ticks are skipped.
func (s *Scheduler) run(ctx context.Context) {
	if s.paused.Load() || ctx.Err() != nil {
		return
	}
	if !s.busy.CompareAndSwap(false, true) {
		s.logger.DebugCtx("previous run still active, skipping", logging.Fields{"name": s.name})
		return
	}
	defer s.busy.Store(false)

	s.mu.Lock()
	jobs := append([]Job(nil), s.jobs...)
	s.lastRun = time.Now()
	if s.cron != nil {
		s.nextRun = s.cron.Entry(s.entry).Next
	}
	s.mu.Unlock()

	s.runs.Add(1)
	for _, job := range jobs {
		if err := job(ctx); err != nil {
			s.logger.ErrorCtx("scheduled job failed", logging.Fields{"name": s.name, "error": err})
		}
	}
}

// RunNow executes the jobs immediately on the caller's goroutine.
func (s *Scheduler) RunNow(ctx context.Context) {
	s.run(ctx)
}

// Stop halts the scheduler and waits for an in-flight run to end.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.cron = nil
	s.reset = nil
	s.nextRun = time.Time{}
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.InfoCtx("scheduler stopped", logging.Fields{"name": s.name})
	return nil
}

// IsRunning reports whether Start has been called without Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun is the next planned tick, zero when stopped.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// LastRun is the start time of the most recent run.
func (s *Scheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// Runs counts completed ticks that executed jobs.
func (s *Scheduler) Runs() int64 {
	return s.runs.Load()
}
