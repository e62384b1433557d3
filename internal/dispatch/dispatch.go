// Package dispatch matches pending tasks to eligible staff.
//
// All reads and writes for one tenant run under that tenant's lock. The final
// write only succeeds while the task is still pending and the staff member is
// still available, so two sweeps can never hand the same task to two people
// and a shift ending mid-sweep never receives new work.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/marcus/dispatchd/internal/events"
	"github.com/marcus/dispatchd/internal/locale"
	"github.com/marcus/dispatchd/internal/logging"
	"github.com/marcus/dispatchd/internal/notify"
	"github.com/marcus/dispatchd/internal/staff"
	"github.com/marcus/dispatchd/internal/store"
	"github.com/marcus/dispatchd/internal/tasks"
)

// ErrStaffUnavailable is returned by AssignTo for an unknown or inactive
// staff id, and by the assignment write when the chosen member left the
// shift after ranking.
var ErrStaffUnavailable = errors.New("dispatch: staff unavailable")

// Notifier queues outbound alerts. *notify.Dispatcher satisfies it.
type Notifier interface {
	EnqueueAlert(req notify.Request) bool
}

// Assignment records one task handed to one staff member.
type Assignment struct {
	TaskID    string    `json:"task_id"`
	StaffID   string    `json:"staff_id"`
	StaffName string    `json:"staff_name"`
	At        time.Time `json:"assigned_at"`
}

// Dispatcher assigns tasks.
type Dispatcher struct {
	store    *store.Store
	selector Selector
	bus      *events.Bus
	notifier Notifier
	locale   *locale.Service
	logger   *logging.Logger
	tracer   trace.Tracer
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSelector replaces the default selector.
func WithSelector(s Selector) Option {
	return func(d *Dispatcher) { d.selector = s }
}

// WithBus publishes assignments to b.
func WithBus(b *events.Bus) Option {
	return func(d *Dispatcher) { d.bus = b }
}

// WithNotifier sends the new-task alert through n.
func WithNotifier(n Notifier) Option {
	return func(d *Dispatcher) { d.notifier = n }
}

// WithLocale sets the message language service.
func WithLocale(l *locale.Service) Option {
	return func(d *Dispatcher) { d.locale = l }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New creates a Dispatcher over s.
func New(s *store.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:    s,
		selector: Selector{Window: DefaultClockInWindow},
		logger:   logging.Component("dispatch"),
		tracer:   otel.Tracer("github.com/marcus/dispatchd/internal/dispatch"),
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.locale == nil {
		d.locale = locale.NewService(locale.English, nil, nil)
	}
	return d
}

func (d *Dispatcher) lock(tenantID string) func() {
	d.mu.Lock()
	m, ok := d.locks[tenantID]
	if !ok {
		m = &sync.Mutex{}
		d.locks[tenantID] = m
	}
	d.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Candidates returns the tenant's eligible staff in dispatch order.
func (d *Dispatcher) Candidates(ctx context.Context, tenantID string) ([]staff.Staff, error) {
	pool, err := d.store.OnShiftStaff(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return d.selector.Rank(pool, d.now().UTC()), nil
}

// AssignOne gives a single pending task to the top-ranked eligible staff
// member. It returns nil without error when the task is not pending or
// nobody is eligible.
func (d *Dispatcher) AssignOne(ctx context.Context, tenantID, taskID string) (*Assignment, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch.assign_one", trace.WithAttributes(
		attribute.String("tenant", tenantID),
		attribute.String("task", taskID),
	))
	defer span.End()

	unlock := d.lock(tenantID)
	defer unlock()

	t, err := d.store.GetTask(ctx, tenantID, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status != tasks.StatusPending {
		return nil, nil
	}
	ranked, err := d.Candidates(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for i := range ranked {
		a, err := d.assign(ctx, t, &ranked[i], true)
		if errors.Is(err, ErrStaffUnavailable) {
			continue
		}
		return a, err
	}
	d.logger.DebugCtx("no eligible staff", logging.Fields{"tenant": tenantID, "task_id": taskID})
	return nil, nil
}

// AssignTo gives a pending task to a named staff member without ranking.
func (d *Dispatcher) AssignTo(ctx context.Context, tenantID, taskID, staffID string) (*Assignment, error) {
	unlock := d.lock(tenantID)
	defer unlock()

	t, err := d.store.GetTask(ctx, tenantID, taskID)
	if err != nil {
		return nil, err
	}
	m, err := d.store.GetStaff(ctx, tenantID, staffID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrStaffUnavailable, staffID)
	}
	if err != nil {
		return nil, err
	}
	if !m.Active {
		return nil, fmt.Errorf("%w: %s is inactive", ErrStaffUnavailable, staffID)
	}
	if t.Status != tasks.StatusPending {
		return nil, nil
	}
	return d.assign(ctx, t, m, false)
}

// Sweep assigns every pending task of the tenant, oldest first. The ranked
// pool is built once and each staff member who receives a task moves to the
// back, spreading a backlog across the shift.
func (d *Dispatcher) Sweep(ctx context.Context, tenantID string) ([]Assignment, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch.sweep", trace.WithAttributes(attribute.String("tenant", tenantID)))
	defer span.End()

	unlock := d.lock(tenantID)
	defer unlock()

	pending, err := d.store.PendingTasks(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}
	queue, err := d.Candidates(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(queue) == 0 {
		d.logger.DebugCtx("sweep found no eligible staff", logging.Fields{"tenant": tenantID, "pending": len(pending)})
		return nil, nil
	}

	out, err := d.distribute(ctx, pending, queue)
	if err != nil {
		return out, err
	}

	span.SetAttributes(attribute.Int("assigned", len(out)))
	if len(out) > 0 {
		d.logger.InfoCtx("sweep assigned tasks", logging.Fields{
			"tenant":   tenantID,
			"assigned": len(out),
			"pending":  len(pending),
		})
	}
	return out, nil
}

// SweepAll sweeps every tenant with pending work. A failing tenant does not
// stop the others; their errors are joined.
func (d *Dispatcher) SweepAll(ctx context.Context) ([]Assignment, error) {
	tenants, err := d.store.TenantsWithPending(ctx)
	if err != nil {
		return nil, err
	}
	var (
		out  []Assignment
		errs []error
	)
	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		got, err := d.Sweep(ctx, tenantID)
		out = append(out, got...)
		if err != nil {
			d.logger.ErrorCtx("sweep failed", logging.Fields{"tenant": tenantID, "error": err})
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
		}
	}
	return out, errors.Join(errs...)
}

// distribute hands pending tasks to the queue in rotation. A member who
// left the shift since ranking is dropped and the task goes to the next one.
func (d *Dispatcher) distribute(ctx context.Context, pending []tasks.Task, queue []staff.Staff) ([]Assignment, error) {
	var out []Assignment
	for i := 0; i < len(pending) && len(queue) > 0; {
		next := queue[0]
		a, err := d.assign(ctx, &pending[i], &next, true)
		if errors.Is(err, ErrStaffUnavailable) {
			d.logger.InfoCtx("staff left shift during sweep", logging.Fields{
				"tenant": pending[i].TenantID,
				"staff":  next.ID,
			})
			queue = queue[1:]
			continue
		}
		if err != nil {
			return out, err
		}
		i++
		if a == nil {
			continue
		}
		out = append(out, *a)
		queue = append(queue[1:], next)
	}
	return out, nil
}

// assign performs the conditional write and, when it lands, the side
// effects. Callers hold the tenant lock.
// onShift requires the member to still be on shift at write time; explicit
// picks only require an active member.
func (d *Dispatcher) assign(ctx context.Context, t *tasks.Task, m *staff.Staff, onShift bool) (*Assignment, error) {
	at := d.now().UTC()
	var won bool
	err := d.store.InTx(ctx, func(tx *store.Store) error {
		ok, err := tx.AssignIfPending(ctx, t.TenantID, t.ID, m.ID, at, onShift)
		if err != nil || !ok {
			return err
		}
		won = true
		return tx.TouchAssigned(ctx, t.TenantID, m.ID, at)
	})
	if errors.Is(err, store.ErrStaffUnavailable) {
		return nil, fmt.Errorf("%w: %s", ErrStaffUnavailable, m.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("assigning %s to %s: %w", t.ID, m.ID, err)
	}
	if !won {
		return nil, nil
	}

	t.Status = tasks.StatusAssigned
	t.StaffID = m.ID
	t.AssignedAt = &at
	m.LastAssignedAt = &at

	d.logger.InfoCtx("task assigned", logging.Fields{
		"tenant":  t.TenantID,
		"task_id": t.ID,
		"staff":   m.ID,
		"name":    m.Name,
	})
	if d.bus != nil {
		d.bus.Publish(t.TenantID, events.ChannelTasks, events.TypeTaskAssigned, t)
		d.bus.Publish(t.TenantID, events.ChannelStaff, events.TypeStaffUpdate, m)
	}
	d.alert(ctx, t, m)

	return &Assignment{TaskID: t.ID, StaffID: m.ID, StaffName: m.Name, At: at}, nil
}

func (d *Dispatcher) alert(ctx context.Context, t *tasks.Task, m *staff.Staff) {
	if d.notifier == nil || m.Phone == "" {
		return
	}
	msg := d.locale.Message(ctx, t.TenantID, m.Language, locale.KeyNewTask, map[string]string{
		"type": t.Type,
		"room": t.Room,
	})
	d.notifier.EnqueueAlert(notify.Request{
		TenantID: t.TenantID,
		To:       m.Phone,
		Message:  msg,
	})
}
