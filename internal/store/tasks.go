package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/marcus/dispatchd/internal/tasks"
)

const taskColumns = `id, tenant_id, task_type, room, room_id, description, worker_notes,
	staff_id, status, created_at, assigned_at, on_the_way_at, started_at, finished_at,
	due_at, points_awarded`

func scanTask(sc scanner) (*tasks.Task, error) {
	var (
		t                                          tasks.Task
		staffID                                    sql.NullString
		status, created                            string
		assigned, onTheWay, started, finished, due sql.NullString
		points                                     sql.NullInt64
	)
	if err := sc.Scan(&t.ID, &t.TenantID, &t.Type, &t.Room, &t.RoomID, &t.Description, &t.WorkerNotes,
		&staffID, &status, &created, &assigned, &onTheWay, &started, &finished, &due, &points); err != nil {
		return nil, err
	}

	t.StaffID = staffID.String
	t.Status = tasks.Status(status)
	t.PointsAwarded = intPtr(points)

	var err error
	if t.CreatedAt, err = ParseTime(created); err != nil {
		return nil, fmt.Errorf("task %s created_at: %w", t.ID, err)
	}
	for _, f := range []struct {
		dst **time.Time
		src sql.NullString
	}{
		{&t.AssignedAt, assigned},
		{&t.OnTheWayAt, onTheWay},
		{&t.StartedAt, started},
		{&t.FinishedAt, finished},
		{&t.DueAt, due},
	} {
		if *f.dst, err = timePtr(f.src); err != nil {
			return nil, fmt.Errorf("task %s: %w", t.ID, err)
		}
	}
	return &t, nil
}

func collectTasks(rows *sql.Rows) ([]tasks.Task, error) {
	defer rows.Close()
	var out []tasks.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// InsertTask stores a new task.
func (s *Store) InsertTask(ctx context.Context, t *tasks.Task) error {
	_, err := s.exec(ctx, `INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TenantID, t.Type, t.Room, t.RoomID, t.Description, t.WorkerNotes,
		nullString(t.StaffID), string(t.Status), FormatTime(t.CreatedAt),
		nullTime(t.AssignedAt), nullTime(t.OnTheWayAt), nullTime(t.StartedAt),
		nullTime(t.FinishedAt), nullTime(t.DueAt), nullInt(t.PointsAwarded))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask loads one task.
func (s *Store) GetTask(ctx context.Context, tenantID, id string) (*tasks.Task, error) {
	row := s.queryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE tenant_id = ? AND id = ?`, tenantID, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// FindDuplicate returns the newest task with the same description created at
// or after since, or nil.
func (s *Store) FindDuplicate(ctx context.Context, tenantID, description string, since time.Time) (*tasks.Task, error) {
	row := s.queryRow(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE tenant_id = ? AND description = ? AND created_at >= ?
		ORDER BY created_at DESC LIMIT 1`, tenantID, description, FormatTime(since))
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find duplicate: %w", err)
	}
	return t, nil
}

// ListTasks returns tasks newest first.
func (s *Store) ListTasks(ctx context.Context, tenantID string, f tasks.Filter) ([]tasks.Task, error) {
	var (
		where = []string{"tenant_id = ?"}
		args  = []any{tenantID}
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.StaffID != "" {
		where = append(where, "staff_id = ?")
		args = append(args, f.StaffID)
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, FormatTime(f.Since))
	}

	q := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return collectTasks(rows)
}

// PendingTasks returns pending tasks oldest first.
func (s *Store) PendingTasks(ctx context.Context, tenantID string) ([]tasks.Task, error) {
	rows, err := s.query(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE tenant_id = ? AND status = ? ORDER BY created_at ASC, id ASC`,
		tenantID, string(tasks.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("pending tasks: %w", err)
	}
	return collectTasks(rows)
}

// TasksCreatedBetween returns tasks with from <= created_at < to, oldest first.
func (s *Store) TasksCreatedBetween(ctx context.Context, tenantID string, from, to time.Time) ([]tasks.Task, error) {
	rows, err := s.query(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE tenant_id = ? AND created_at >= ? AND created_at < ? ORDER BY created_at ASC`,
		tenantID, FormatTime(from), FormatTime(to))
	if err != nil {
		return nil, fmt.Errorf("tasks between: %w", err)
	}
	return collectTasks(rows)
}

// InFlightTasks returns assigned, on-the-way and in-progress tasks, oldest
// first. An empty staffID returns them for every staff member.
func (s *Store) InFlightTasks(ctx context.Context, tenantID, staffID string) ([]tasks.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE tenant_id = ? AND status IN (?, ?, ?)`
	args := []any{tenantID, string(tasks.StatusAssigned), string(tasks.StatusOnTheWay), string(tasks.StatusInProgress)}
	if staffID != "" {
		q += ` AND staff_id = ?`
		args = append(args, staffID)
	}
	rows, err := s.query(ctx, q+` ORDER BY created_at ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("in-flight tasks: %w", err)
	}
	return collectTasks(rows)
}

// AssignIfPending moves a pending task to assigned. The write also requires
// the staff member to be active, and on shift when onShift is set, so a
// shift change committed after candidates were ranked cannot be overtaken.
// It reports false when the task was no longer pending, which is how a lost
// race shows up, and ErrStaffUnavailable when the staff member dropped out.
func (s *Store) AssignIfPending(ctx context.Context, tenantID, taskID, staffID string, at time.Time, onShift bool) (bool, error) {
	avail := `SELECT 1 FROM staff WHERE staff.tenant_id = ? AND staff.id = ? AND staff.active = ?`
	availArgs := []any{tenantID, staffID, true}
	if onShift {
		avail += ` AND staff.on_shift = ?`
		availArgs = append(availArgs, true)
	}

	args := append([]any{string(tasks.StatusAssigned), staffID, FormatTime(at),
		tenantID, taskID, string(tasks.StatusPending)}, availArgs...)
	res, err := s.exec(ctx, `UPDATE tasks SET status = ?, staff_id = ?, assigned_at = ?
		WHERE tenant_id = ? AND id = ? AND status = ? AND EXISTS (`+avail+`)`, args...)
	if err != nil {
		return false, fmt.Errorf("assign task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("assign task rows: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	var one int
	err = s.queryRow(ctx, avail, availArgs...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %s", ErrStaffUnavailable, staffID)
	}
	if err != nil {
		return false, fmt.Errorf("check staff %s: %w", staffID, err)
	}
	return false, nil
}

// UpdateTask writes the mutable fields of t.
func (s *Store) UpdateTask(ctx context.Context, t *tasks.Task) error {
	res, err := s.exec(ctx, `UPDATE tasks SET status = ?, staff_id = ?, worker_notes = ?,
		assigned_at = ?, on_the_way_at = ?, started_at = ?, finished_at = ?, due_at = ?, points_awarded = ?
		WHERE tenant_id = ? AND id = ?`,
		string(t.Status), nullString(t.StaffID), t.WorkerNotes,
		nullTime(t.AssignedAt), nullTime(t.OnTheWayAt), nullTime(t.StartedAt),
		nullTime(t.FinishedAt), nullTime(t.DueAt), nullInt(t.PointsAwarded),
		t.TenantID, t.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RequeueStaffTasks returns a staff member's in-flight tasks to pending with
// the staff and progress timestamps cleared. It returns the requeued ids.
func (s *Store) RequeueStaffTasks(ctx context.Context, tenantID, staffID string) ([]string, error) {
	inFlight, err := s.InFlightTasks(ctx, tenantID, staffID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(inFlight))
	for _, t := range inFlight {
		if _, err := s.exec(ctx, `UPDATE tasks SET status = ?, staff_id = NULL,
			assigned_at = NULL, on_the_way_at = NULL, started_at = NULL
			WHERE tenant_id = ? AND id = ?`,
			string(tasks.StatusPending), tenantID, t.ID); err != nil {
			return nil, fmt.Errorf("requeue task %s: %w", t.ID, err)
		}
		ids = append(ids, t.ID)
	}
	return ids, nil
}

// TenantsWithPending lists tenants that have pending tasks.
func (s *Store) TenantsWithPending(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, `SELECT DISTINCT tenant_id FROM tasks WHERE status = ? ORDER BY tenant_id`,
		string(tasks.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("pending tenants: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListTenants returns every tenant that has staff or tasks.
func (s *Store) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, `SELECT tenant_id FROM staff UNION SELECT tenant_id FROM tasks ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
