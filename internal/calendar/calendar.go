// Package calendar turns booking vacancy windows into checkout cleaning tasks.
// Reading a booking calendar is left to a Source; the ingestor only keeps the
// ledger of windows already handled.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marcus/dispatchd/internal/dispatch"
	"github.com/marcus/dispatchd/internal/lifecycle"
	"github.com/marcus/dispatchd/internal/logging"
	"github.com/marcus/dispatchd/internal/store"
	"github.com/marcus/dispatchd/internal/tasks"
)

// DefaultCheckoutHour is the UTC hour cleaning is due on checkout day.
const DefaultCheckoutHour = 12

// ErrInvalidWindow is returned for a window whose checkout precedes checkin.
var ErrInvalidWindow = errors.New("checkout before checkin")

// Window is one stay. Dates are truncated to the UTC day, and a window is
// identified by its dates and room.
type Window struct {
	CheckIn  time.Time `json:"checkin"`
	CheckOut time.Time `json:"checkout"`
	Room     string    `json:"room,omitempty"`
	RoomID   string    `json:"room_id,omitempty"`
}

func (w Window) roomKey() string {
	if w.RoomID != "" {
		return w.RoomID
	}
	return w.Room
}

// Source lists the windows currently known for a tenant.
type Source interface {
	Windows(ctx context.Context, tenantID string) ([]Window, error)
}

// StaticSource serves a fixed set of windows per tenant.
type StaticSource map[string][]Window

// Windows implements Source.
func (s StaticSource) Windows(_ context.Context, tenantID string) ([]Window, error) {
	return s[tenantID], nil
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, tenantID string) ([]Window, error)

// Windows implements Source.
func (f SourceFunc) Windows(ctx context.Context, tenantID string) ([]Window, error) {
	return f(ctx, tenantID)
}

// TaskCreator creates tasks; satisfied by *lifecycle.Engine.
type TaskCreator interface {
	CreateTask(ctx context.Context, req lifecycle.CreateRequest) (*tasks.Task, error)
}

// Assigner runs single-task selection; satisfied by *dispatch.Dispatcher.
type Assigner interface {
	AssignOne(ctx context.Context, tenantID, taskID string) (*dispatch.Assignment, error)
}

// SyncResult reports one ingestion pass.
type SyncResult struct {
	Created []tasks.Task `json:"created"`
	Skipped int          `json:"skipped"`
}

// Ingestor creates one cleaning task per unseen window.
type Ingestor struct {
	store        *store.Store
	source       Source
	creator      TaskCreator
	assigner     Assigner
	checkoutHour int
	now          func() time.Time
	logger       *logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithSource sets the window source used by Sync.
func WithSource(src Source) Option { return func(i *Ingestor) { i.source = src } }

// WithAssigner sets the single-task selector run after each create.
func WithAssigner(a Assigner) Option { return func(i *Ingestor) { i.assigner = a } }

// WithCheckoutHour sets the UTC hour tasks are due on checkout day.
func WithCheckoutHour(h int) Option { return func(i *Ingestor) { i.checkoutHour = h } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(i *Ingestor) { i.now = now } }

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option { return func(i *Ingestor) { i.logger = l } }

// NewIngestor returns an ingestor creating tasks through creator.
func NewIngestor(s *store.Store, creator TaskCreator, opts ...Option) *Ingestor {
	i := &Ingestor{
		store:        s,
		creator:      creator,
		checkoutHour: DefaultCheckoutHour,
		now:          time.Now,
		logger:       logging.Component("calendar"),
		locks:        make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.checkoutHour < 0 || i.checkoutHour > 23 {
		i.checkoutHour = DefaultCheckoutHour
	}
	return i
}

func (i *Ingestor) tenantLock(tenantID string) *sync.Mutex {
	i.mu.Lock()
	defer i.mu.Unlock()
	l, ok := i.locks[tenantID]
	if !ok {
		l = &sync.Mutex{}
		i.locks[tenantID] = l
	}
	return l
}

// Sync pulls windows from the source and ingests each one. A failing window
// is logged and the rest still run; the errors are joined.
func (i *Ingestor) Sync(ctx context.Context, tenantID string) (*SyncResult, error) {
	if i.source == nil {
		return nil, fmt.Errorf("calendar: no source configured")
	}
	windows, err := i.source.Windows(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("reading windows: %w", err)
	}

	res := &SyncResult{}
	var errs []error
	for _, w := range windows {
		task, err := i.Add(ctx, tenantID, w)
		if err != nil {
			i.logger.WarnCtx("vacancy ingest failed", logging.Fields{"tenant": tenantID, "err": err})
			errs = append(errs, err)
			continue
		}
		if task == nil {
			res.Skipped++
			continue
		}
		res.Created = append(res.Created, *task)
	}
	return res, errors.Join(errs...)
}

// Add ingests one window. It returns nil when the window was already seen.
func (i *Ingestor) Add(ctx context.Context, tenantID string, w Window) (*tasks.Task, error) {
	in, out := day(w.CheckIn), day(w.CheckOut)
	if out.Before(in) {
		return nil, fmt.Errorf("%w: %s > %s", ErrInvalidWindow, in.Format("2006-01-02"), out.Format("2006-01-02"))
	}

	l := i.tenantLock(tenantID)
	l.Lock()
	defer l.Unlock()

	key := store.Vacancy{TenantID: tenantID, Room: w.roomKey(), CheckIn: in, CheckOut: out}
	seen, err := i.store.HasVacancy(ctx, key)
	if err != nil {
		return nil, err
	}
	if seen {
		return nil, nil
	}

	due := out.Add(time.Duration(i.checkoutHour) * time.Hour)
	desc := fmt.Sprintf("Checkout cleaning %s", out.Format("2006-01-02"))
	if w.Room != "" {
		desc += " room " + w.Room
	}
	task, err := i.creator.CreateTask(ctx, lifecycle.CreateRequest{
		TenantID:    tenantID,
		Type:        "cleaning",
		Room:        w.Room,
		RoomID:      w.RoomID,
		Description: desc,
		DueAt:       &due,
	})
	if err != nil {
		return nil, fmt.Errorf("creating checkout task: %w", err)
	}
	if _, err := i.store.RecordVacancy(ctx, key, task.ID, i.now()); err != nil {
		return nil, err
	}

	if i.assigner != nil && task.Status == tasks.StatusPending {
		a, err := i.assigner.AssignOne(ctx, tenantID, task.ID)
		if err != nil {
			i.logger.WarnCtx("checkout task selection failed", logging.Fields{"tenant": tenantID, "task_id": task.ID, "err": err})
		} else if a != nil {
			task.StaffID = a.StaffID
			task.Status = tasks.StatusAssigned
			task.AssignedAt = &a.At
		}
	}

	i.logger.InfoCtx("vacancy ingested", logging.Fields{
		"tenant":   tenantID,
		"task_id":  task.ID,
		"checkout": out.Format("2006-01-02"),
		"staff_id": task.StaffID,
	})
	return task, nil
}

func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
