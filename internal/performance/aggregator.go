// Package performance records finished tasks and derives worker statistics.
package performance

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/marcus/dispatchd/internal/logging"
	"github.com/marcus/dispatchd/internal/store"
	"github.com/marcus/dispatchd/internal/tasks"
)

// Defaults.
const (
	DefaultWorkers   = 2
	DefaultQueueSize = 128
)

// ErrClosed is returned by Close when called twice.
var ErrClosed = errors.New("performance: aggregator closed")

type completion struct {
	task      tasks.Task
	staffName string
}

// Aggregator consumes task completions on a fixed pool. Each completion
// writes one immutable performance row and then recomputes that worker's
// stats for the day. Recomputes for the same worker never overlap.
type Aggregator struct {
	store     *store.Store
	workers   int
	queueSize int
	logger    *logging.Logger
	tracer    trace.Tracer
	now       func() time.Time

	mu      sync.RWMutex
	queue   chan completion
	started bool
	closed  bool
	wg      sync.WaitGroup

	keyMu sync.Mutex
	keys  map[string]*sync.Mutex
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithWorkers sets the pool size.
func WithWorkers(n int) Option { return func(a *Aggregator) { a.workers = n } }

// WithQueueSize bounds pending completions.
func WithQueueSize(n int) Option { return func(a *Aggregator) { a.queueSize = n } }

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option { return func(a *Aggregator) { a.logger = l } }

// WithClock overrides time.Now for updated_at stamps.
func WithClock(now func() time.Time) Option { return func(a *Aggregator) { a.now = now } }

// NewAggregator creates an aggregator. Call Start to launch the pool.
func NewAggregator(s *store.Store, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:     s,
		workers:   DefaultWorkers,
		queueSize: DefaultQueueSize,
		logger:    logging.Component("performance"),
		tracer:    otel.Tracer("github.com/marcus/dispatchd/internal/performance"),
		now:       time.Now,
		keys:      make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.workers <= 0 {
		a.workers = DefaultWorkers
	}
	if a.queueSize <= 0 {
		a.queueSize = DefaultQueueSize
	}
	a.queue = make(chan completion, a.queueSize)
	return a
}

// Start launches the pool.
func (a *Aggregator) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started || a.closed {
		return
	}
	a.started = true
	for i := 0; i < a.workers; i++ {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			for c := range a.queue {
				if err := a.Record(context.Background(), c.task, c.staffName); err != nil {
					a.logger.ErrorCtx("recording completion failed", logging.Fields{
						"tenant":  c.task.TenantID,
						"task_id": c.task.ID,
						"error":   err,
					})
				}
			}
		}()
	}
}

// Submit queues a finished task. It never blocks and reports false when
// the queue is full or closed.
func (a *Aggregator) Submit(t tasks.Task, staffName string) bool {
	if t.FinishedAt == nil || t.StaffID == "" {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return false
	}
	select {
	case a.queue <- completion{task: t, staffName: staffName}:
		return true
	default:
		a.logger.WarnCtx("performance queue full, dropping", logging.Fields{"task_id": t.ID})
		return false
	}
}

// Close stops intake and waits until every queued completion is recorded.
func (a *Aggregator) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.closed = true
	close(a.queue)
	started := a.started
	a.mu.Unlock()

	if !started {
		for c := range a.queue {
			_ = a.Record(context.Background(), c.task, c.staffName)
		}
	}
	a.wg.Wait()
	return nil
}

func (a *Aggregator) keyLock(tenantID, staffID string) func() {
	key := tenantID + "\x00" + staffID
	a.keyMu.Lock()
	m, ok := a.keys[key]
	if !ok {
		m = &sync.Mutex{}
		a.keys[key] = m
	}
	a.keyMu.Unlock()
	m.Lock()
	return m.Unlock
}

// Record writes the performance row for t and refreshes the day's stats.
// A repeat for the same task leaves the row untouched.
func (a *Aggregator) Record(ctx context.Context, t tasks.Task, staffName string) error {
	ctx, span := a.tracer.Start(ctx, "performance.record", trace.WithAttributes(
		attribute.String("tenant", t.TenantID),
		attribute.String("task", t.ID),
	))
	defer span.End()

	unlock := a.keyLock(t.TenantID, t.StaffID)
	defer unlock()

	rec := recordFor(t, staffName)
	inserted, err := a.store.InsertPerformance(ctx, rec)
	if err != nil {
		return err
	}
	if !inserted {
		a.logger.DebugCtx("performance row exists", logging.Fields{"task_id": t.ID})
	}
	_, err = a.recompute(ctx, t.TenantID, t.StaffID, staffName, rec.Date)
	return err
}

func recordFor(t tasks.Task, staffName string) *store.PerformanceRecord {
	created := t.CreatedAt
	rec := &store.PerformanceRecord{
		TaskID:      t.ID,
		TenantID:    t.TenantID,
		StaffID:     t.StaffID,
		StaffName:   staffName,
		Room:        t.Room,
		Description: t.Description,
		CreatedAt:   &created,
		AssignedAt:  t.AssignedAt,
		StartedAt:   t.StartedAt,
		FinishedAt:  t.FinishedAt.UTC(),
		Date:        store.Day(*t.FinishedAt),
	}
	if d, ok := t.Duration(); ok && d >= 0 {
		secs := int(d.Seconds())
		rec.DurationSeconds = &secs
	}
	return rec
}

// recompute rebuilds one worker's day from scratch and stores it.
func (a *Aggregator) recompute(ctx context.Context, tenantID, staffID, staffName, date string) (*store.WorkerStats, error) {
	ws, err := computeDay(ctx, a.store, tenantID, staffID, date)
	if err != nil {
		return nil, err
	}
	if staffName != "" {
		ws.StaffName = staffName
	}
	ws.UpdatedAt = a.now().UTC()
	if err := a.store.UpsertWorkerStats(ctx, ws); err != nil {
		return nil, err
	}
	return ws, nil
}

// computeDay derives a worker's stats for date from the performance rows and
// the task table. Activity bounds span every task touched that day, open or
// finished.
func computeDay(ctx context.Context, s *store.Store, tenantID, staffID, date string) (*store.WorkerStats, error) {
	recs, err := s.PerformanceForDay(ctx, tenantID, staffID, date)
	if err != nil {
		return nil, err
	}
	touched, err := s.StaffTasksForDay(ctx, tenantID, staffID, date)
	if err != nil {
		return nil, err
	}

	ws := &store.WorkerStats{
		TenantID:   tenantID,
		StaffID:    staffID,
		Date:       date,
		TasksDone:  len(recs),
		TasksTotal: max(len(touched), len(recs)),
	}
	mark := func(ts *time.Time) {
		if ts == nil || store.Day(*ts) != date {
			return
		}
		if ws.FirstActivity == nil || ts.Before(*ws.FirstActivity) {
			f := *ts
			ws.FirstActivity = &f
		}
		if ws.LastActivity == nil || ts.After(*ws.LastActivity) {
			l := *ts
			ws.LastActivity = &l
		}
	}

	var (
		sum   int
		timed int
	)
	for i := range recs {
		r := &recs[i]
		if ws.StaffName == "" {
			ws.StaffName = r.StaffName
		}
		if r.DurationSeconds != nil {
			sum += *r.DurationSeconds
			timed++
		}
		mark(r.AssignedAt)
		mark(r.StartedAt)
		mark(&r.FinishedAt)
	}
	for i := range touched {
		t := &touched[i]
		mark(t.AssignedAt)
		mark(t.OnTheWayAt)
		mark(t.StartedAt)
		mark(t.FinishedAt)
	}
	if timed > 0 {
		ws.AvgDurationSeconds = float64(sum) / float64(timed)
	}
	return ws, nil
}
