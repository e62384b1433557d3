package lifecycle

import (
	"context"
	"errors"
	"fmt"

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

// StatusResult reports the outcome of UpdateStatus.
type StatusResult struct {
	Task     *tasks.Task  `json:"task"`
	Previous tasks.Status `json:"previous"`
	Changed  bool         `json:"changed"`
	Points   int          `json:"points,omitempty"`
	Gold     int          `json:"gold,omitempty"`
}

// Score computes the points for a finished task: base points, plus the gold
// bonus when the work took no longer than the task's target.
func Score(t *tasks.Task, cfg Config) (points, gold int) {
	points = cfg.BasePoints
	actual, ok := t.Duration()
	if ok && actual <= t.Target(cfg.DefaultTarget) {
		gold = cfg.GoldBonus
	}
	return points + gold, gold
}

// UpdateStatus moves a task to status, which may be any spelling in the
// synonym table. Repeating the current status changes nothing.
func (e *Engine) UpdateStatus(ctx context.Context, tenantID, taskID, status string) (*StatusResult, error) {
	target, ok := tasks.ParseStatus(status)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}
	if target == tasks.StatusPending || target == tasks.StatusAssigned {
		return nil, fmt.Errorf("%w: %s is set by dispatch", ErrInvalidTransition, target)
	}

	ctx, span := e.tracer.Start(ctx, "lifecycle.update_status", trace.WithAttributes(
		attribute.String("tenant", tenantID),
		attribute.String("task", taskID),
		attribute.String("status", string(target)),
	))
	defer span.End()

	var (
		res    StatusResult
		member *staff.Staff
	)
	err := e.store.InTx(ctx, func(tx *store.Store) error {
		t, err := tx.GetTask(ctx, tenantID, taskID)
		if err != nil {
			return err
		}
		res.Task = t
		res.Previous = t.Status

		if t.Status == target {
			return nil
		}
		if t.Status == tasks.StatusFinished {
			return ErrTaskFinished
		}
		if t.Status == tasks.StatusPending || t.StaffID == "" {
			return fmt.Errorf("%w: task %s has no staff yet", ErrInvalidTransition, t.ID)
		}
		if e.cfg.StrictTransitions && target.Rank() < t.Status.Rank() {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, target)
		}

		member, err = tx.GetStaff(ctx, tenantID, t.StaffID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		now := e.clock()
		switch target {
		case tasks.StatusOnTheWay:
			if t.OnTheWayAt == nil {
				t.OnTheWayAt = &now
			}
		case tasks.StatusInProgress:
			if t.StartedAt == nil {
				t.StartedAt = &now
			}
		case tasks.StatusFinished:
			t.FinishedAt = &now
			res.Points, res.Gold = Score(t, e.cfg)
			pts := res.Points
			t.PointsAwarded = &pts
			if member != nil {
				if err := tx.AddPoints(ctx, tenantID, member.ID, res.Points, res.Gold); err != nil {
					return err
				}
				member.Points += res.Points
				member.GoldPoints += res.Gold
			}
		}
		t.Status = target
		res.Changed = true
		return tx.UpdateTask(ctx, t)
	})
	if err != nil {
		return nil, fmt.Errorf("updating %s: %w", taskID, err)
	}
	if !res.Changed {
		return &res, nil
	}

	t := res.Task
	e.logger.InfoCtx("task status changed", logging.Fields{
		"tenant":  tenantID,
		"task_id": t.ID,
		"from":    res.Previous,
		"to":      t.Status,
		"staff":   t.StaffID,
	})
	e.publish(tenantID, events.ChannelTasks, events.TypeTaskStatus, t)

	switch t.Status {
	case tasks.StatusOnTheWay:
		e.warnConcurrent(ctx, t)
		if member != nil {
			e.alertOnTheWay(ctx, t, member)
		}
	case tasks.StatusInProgress:
		e.warnConcurrent(ctx, t)
	case tasks.StatusFinished:
		name := ""
		if member != nil {
			name = member.Name
			e.publish(tenantID, events.ChannelStaff, events.TypeStaffUpdate, member)
		}
		if e.aggregator != nil && !e.aggregator.Submit(*t, name) {
			e.logger.WarnCtx("performance record dropped", logging.Fields{"task_id": t.ID})
		}
		e.sweep(ctx, tenantID, "task finished")
	}
	return &res, nil
}

// warnConcurrent flags a staff member working two tasks at once.
func (e *Engine) warnConcurrent(ctx context.Context, t *tasks.Task) {
	inFlight, err := e.store.InFlightTasks(ctx, t.TenantID, t.StaffID)
	if err != nil {
		return
	}
	var others []string
	for _, o := range inFlight {
		if o.ID != t.ID && o.Status.Active() {
			others = append(others, o.ID)
		}
	}
	if len(others) > 0 {
		e.logger.WarnCtx("staff has more than one active task", logging.Fields{
			"tenant":  t.TenantID,
			"staff":   t.StaffID,
			"task_id": t.ID,
			"others":  others,
		})
	}
}

func (e *Engine) alertOnTheWay(ctx context.Context, t *tasks.Task, m *staff.Staff) {
	if e.notifier == nil || len(e.cfg.NotifyTargets) == 0 {
		return
	}
	msg := e.locale.Message(ctx, t.TenantID, m.Language, locale.KeyOnTheWay, map[string]string{"name": m.Name})
	photo := m.PhotoURL
	if photo == "" {
		photo = e.cfg.DefaultPhotoURL
	}
	for _, to := range e.cfg.NotifyTargets {
		e.notifier.EnqueueAlert(notify.Request{
			TenantID: t.TenantID,
			To:       to,
			Message:  msg,
			MediaURL: photo,
		})
	}
}
