package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/marcus/dispatchd/internal/events"
	"github.com/marcus/dispatchd/internal/logging"
	"github.com/marcus/dispatchd/internal/store"
	"github.com/marcus/dispatchd/internal/tasks"
)

// CreateRequest describes a new task.
type CreateRequest struct {
	TenantID    string     `json:"tenant_id" validate:"required"`
	Type        string     `json:"task_type" validate:"required"`
	Room        string     `json:"room"`
	RoomID      string     `json:"room_id"`
	Description string     `json:"description"`
	Notes       string     `json:"worker_notes"`
	StaffID     string     `json:"staff_id"`
	DueAt       *time.Time `json:"due_at"`
}

// CreateTask stores a pending task and tries to assign it. A request whose
// description matches a task created for the tenant within the duplicate
// window returns that task with Duplicate set, and nothing is stored.
func (e *Engine) CreateTask(ctx context.Context, req CreateRequest) (*tasks.Task, error) {
	ctx, span := e.tracer.Start(ctx, "lifecycle.create_task", trace.WithAttributes(
		attribute.String("tenant", req.TenantID),
		attribute.String("type", req.Type),
	))
	defer span.End()

	req.TenantID = strings.TrimSpace(req.TenantID)
	req.Type = strings.TrimSpace(req.Type)
	req.Room = strings.TrimSpace(req.Room)
	if err := e.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	desc := strings.TrimSpace(req.Description)
	if desc == "" {
		desc = strings.TrimSpace(req.Type + " " + req.Room)
	}

	now := e.clock()
	task := &tasks.Task{
		ID:          uuid.NewString(),
		TenantID:    req.TenantID,
		Type:        req.Type,
		Room:        req.Room,
		RoomID:      req.RoomID,
		Description: desc,
		WorkerNotes: req.Notes,
		Status:      tasks.StatusPending,
		CreatedAt:   now,
	}
	if req.DueAt != nil {
		due := req.DueAt.UTC()
		task.DueAt = &due
	}

	var dup *tasks.Task
	err := e.store.InTx(ctx, func(tx *store.Store) error {
		existing, err := tx.FindDuplicate(ctx, req.TenantID, desc, now.Add(-e.cfg.DuplicateWindow))
		if err != nil {
			return err
		}
		if existing != nil {
			dup = existing
			return nil
		}
		return tx.InsertTask(ctx, task)
	})
	if err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}
	if dup != nil {
		dup.Duplicate = true
		e.logger.InfoCtx("duplicate task suppressed", logging.Fields{
			"tenant":      req.TenantID,
			"task_id":     dup.ID,
			"description": desc,
		})
		return dup, nil
	}

	e.logger.InfoCtx("task created", logging.Fields{
		"tenant":  task.TenantID,
		"task_id": task.ID,
		"type":    task.Type,
		"room":    task.Room,
	})
	e.publish(task.TenantID, events.ChannelTasks, events.TypeTaskCreated, task)

	e.assignNew(ctx, task, req.StaffID)

	fresh, err := e.store.GetTask(ctx, task.TenantID, task.ID)
	if err != nil {
		return task, nil
	}
	return fresh, nil
}

func (e *Engine) assignNew(ctx context.Context, task *tasks.Task, staffID string) {
	if e.assigner == nil {
		return
	}
	var err error
	switch {
	case staffID != "":
		_, err = e.assigner.AssignTo(ctx, task.TenantID, task.ID, staffID)
	case e.cfg.AssignOnCreate:
		_, err = e.assigner.AssignOne(ctx, task.TenantID, task.ID)
	}
	if err != nil {
		e.logger.WarnCtx("task left pending", logging.Fields{
			"tenant":  task.TenantID,
			"task_id": task.ID,
			"staff":   staffID,
			"error":   err,
		})
	}
}

// GetTask loads one task.
func (e *Engine) GetTask(ctx context.Context, tenantID, id string) (*tasks.Task, error) {
	return e.store.GetTask(ctx, tenantID, id)
}

// ListTasks lists a tenant's tasks, newest first.
func (e *Engine) ListTasks(ctx context.Context, tenantID string, f tasks.Filter) ([]tasks.Task, error) {
	return e.store.ListTasks(ctx, tenantID, f)
}
