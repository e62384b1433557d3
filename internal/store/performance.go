package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/dispatchd/internal/tasks"
)

// PerformanceRecord is the immutable completion row for one task.
type PerformanceRecord struct {
	TaskID          string     `json:"task_id"`
	TenantID        string     `json:"tenant_id"`
	StaffID         string     `json:"staff_id"`
	StaffName       string     `json:"staff_name"`
	Room            string     `json:"room"`
	Description     string     `json:"description"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	AssignedAt      *time.Time `json:"assigned_at,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      time.Time  `json:"finished_at"`
	DurationSeconds *int       `json:"duration_seconds,omitempty"`
	Date            string     `json:"date"`
}

// WorkerStats is the per-day rollup for one staff member.
type WorkerStats struct {
	TenantID           string     `json:"tenant_id"`
	StaffID            string     `json:"staff_id"`
	StaffName          string     `json:"staff_name"`
	Date               string     `json:"date"`
	TasksTotal         int        `json:"tasks_total"`
	TasksDone          int        `json:"tasks_done"`
	AvgDurationSeconds float64    `json:"avg_duration_seconds"`
	FirstActivity      *time.Time `json:"first_activity,omitempty"`
	LastActivity       *time.Time `json:"last_activity,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

const perfColumns = `task_id, tenant_id, staff_id, staff_name, room, description,
	created_at, assigned_at, started_at, finished_at, duration_seconds, work_date`

func scanPerformance(sc scanner) (*PerformanceRecord, error) {
	var (
		r                          PerformanceRecord
		created, assigned, started sql.NullString
		finished                   string
		dur                        sql.NullInt64
	)
	if err := sc.Scan(&r.TaskID, &r.TenantID, &r.StaffID, &r.StaffName, &r.Room, &r.Description,
		&created, &assigned, &started, &finished, &dur, &r.Date); err != nil {
		return nil, err
	}
	var err error
	if r.FinishedAt, err = ParseTime(finished); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = timePtr(created); err != nil {
		return nil, err
	}
	if r.AssignedAt, err = timePtr(assigned); err != nil {
		return nil, err
	}
	if r.StartedAt, err = timePtr(started); err != nil {
		return nil, err
	}
	r.DurationSeconds = intPtr(dur)
	return &r, nil
}

// InsertPerformance stores r once per task id. It reports whether a row was
// written; a repeat for the same task is a no-op.
func (s *Store) InsertPerformance(ctx context.Context, r *PerformanceRecord) (bool, error) {
	res, err := s.exec(ctx, `INSERT INTO worker_performance (`+perfColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (task_id) DO NOTHING`,
		r.TaskID, r.TenantID, r.StaffID, r.StaffName, r.Room, r.Description,
		nullTime(r.CreatedAt), nullTime(r.AssignedAt), nullTime(r.StartedAt),
		FormatTime(r.FinishedAt), nullInt(r.DurationSeconds), r.Date)
	if err != nil {
		return false, fmt.Errorf("insert performance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert performance rows: %w", err)
	}
	return n == 1, nil
}

// PerformanceForDay returns a staff member's completions on date.
func (s *Store) PerformanceForDay(ctx context.Context, tenantID, staffID, date string) ([]PerformanceRecord, error) {
	rows, err := s.query(ctx, `SELECT `+perfColumns+` FROM worker_performance
		WHERE tenant_id = ? AND staff_id = ? AND work_date = ? ORDER BY finished_at`, tenantID, staffID, date)
	if err != nil {
		return nil, fmt.Errorf("performance for day: %w", err)
	}
	return collectPerformance(rows)
}

// PerformanceBetween returns completions with from <= finished_at < to.
func (s *Store) PerformanceBetween(ctx context.Context, tenantID string, from, to time.Time) ([]PerformanceRecord, error) {
	rows, err := s.query(ctx, `SELECT `+perfColumns+` FROM worker_performance
		WHERE tenant_id = ? AND finished_at >= ? AND finished_at < ? ORDER BY finished_at`,
		tenantID, FormatTime(from), FormatTime(to))
	if err != nil {
		return nil, fmt.Errorf("performance between: %w", err)
	}
	return collectPerformance(rows)
}

func collectPerformance(rows *sql.Rows) ([]PerformanceRecord, error) {
	defer rows.Close()
	var out []PerformanceRecord
	for rows.Next() {
		r, err := scanPerformance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// UpsertWorkerStats replaces the (tenant, staff, date) rollup.
func (s *Store) UpsertWorkerStats(ctx context.Context, ws *WorkerStats) error {
	_, err := s.exec(ctx, `INSERT INTO worker_stats (tenant_id, staff_id, work_date, staff_name,
			tasks_total, tasks_done, avg_duration_seconds, first_activity, last_activity, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, staff_id, work_date) DO UPDATE SET
			staff_name = excluded.staff_name,
			tasks_total = excluded.tasks_total,
			tasks_done = excluded.tasks_done,
			avg_duration_seconds = excluded.avg_duration_seconds,
			first_activity = excluded.first_activity,
			last_activity = excluded.last_activity,
			updated_at = excluded.updated_at`,
		ws.TenantID, ws.StaffID, ws.Date, ws.StaffName, ws.TasksTotal, ws.TasksDone,
		ws.AvgDurationSeconds, nullTime(ws.FirstActivity), nullTime(ws.LastActivity), FormatTime(ws.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert worker stats: %w", err)
	}
	return nil
}

// GetWorkerStats loads a stored rollup.
func (s *Store) GetWorkerStats(ctx context.Context, tenantID, staffID, date string) (*WorkerStats, error) {
	var (
		ws          WorkerStats
		first, last sql.NullString
		updated     string
	)
	err := s.queryRow(ctx, `SELECT tenant_id, staff_id, work_date, staff_name, tasks_total, tasks_done,
			avg_duration_seconds, first_activity, last_activity, updated_at
		FROM worker_stats WHERE tenant_id = ? AND staff_id = ? AND work_date = ?`,
		tenantID, staffID, date).Scan(&ws.TenantID, &ws.StaffID, &ws.Date, &ws.StaffName,
		&ws.TasksTotal, &ws.TasksDone, &ws.AvgDurationSeconds, &first, &last, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get worker stats: %w", err)
	}
	if ws.FirstActivity, err = timePtr(first); err != nil {
		return nil, err
	}
	if ws.LastActivity, err = timePtr(last); err != nil {
		return nil, err
	}
	if ws.UpdatedAt, err = ParseTime(updated); err != nil {
		return nil, err
	}
	return &ws, nil
}

// StaffTasksForDay returns the tasks a staff member touched on date: assigned,
// set off, started or finished that day.
func (s *Store) StaffTasksForDay(ctx context.Context, tenantID, staffID, date string) ([]tasks.Task, error) {
	start, err := time.Parse(DateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", date, err)
	}
	from, to := FormatTime(start), FormatTime(start.AddDate(0, 0, 1))

	rows, err := s.query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE tenant_id = ? AND staff_id = ?
		AND ((assigned_at >= ? AND assigned_at < ?) OR (on_the_way_at >= ? AND on_the_way_at < ?)
		OR (started_at >= ? AND started_at < ?) OR (finished_at >= ? AND finished_at < ?))
		ORDER BY created_at ASC`,
		tenantID, staffID, from, to, from, to, from, to, from, to)
	if err != nil {
		return nil, fmt.Errorf("staff tasks for day: %w", err)
	}
	return collectTasks(rows)
}
