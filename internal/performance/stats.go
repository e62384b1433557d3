package performance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/marcus/dispatchd/internal/store"
	"github.com/marcus/dispatchd/internal/tasks"
)

// Duration wraps time.Duration for JSON as whole seconds.
type Duration struct {
	time.Duration
}

// MarshalJSON serializes Duration as integer seconds.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(d.Seconds()))
}

// UnmarshalJSON deserializes Duration from integer seconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var secs int64
	if err := json.Unmarshal(b, &secs); err != nil {
		return err
	}
	d.Duration = time.Duration(secs) * time.Second
	return nil
}

// String returns a short human form.
func (d Duration) String() string {
	dur := d.Duration
	if dur < time.Minute {
		return fmt.Sprintf("%ds", int(dur.Seconds()))
	}
	if dur < time.Hour {
		return fmt.Sprintf("%dm %ds", int(dur.Minutes()), int(dur.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(dur.Hours()), int(dur.Minutes())%60)
}

// Light is a traffic-light load indicator.
type Light string

const (
	Green Light = "green"
	Amber Light = "amber"
	Red   Light = "red"
)

func (l Light) order() int {
	switch l {
	case Red:
		return 0
	case Amber:
		return 1
	}
	return 2
}

// LightFor maps a worker's load to a light. Anyone on the way or in
// progress is amber. Otherwise two or more assigned tasks waiting is red,
// one is amber, and none is green.
func LightFor(working, queued int) Light {
	switch {
	case working > 0:
		return Amber
	case queued >= 2:
		return Red
	case queued == 1:
		return Amber
	default:
		return Green
	}
}

// load splits in-flight tasks into those being worked and those waiting.
func load(list []tasks.Task) (working, queued int) {
	for _, t := range list {
		if t.Status == tasks.StatusAssigned {
			queued++
		} else {
			working++
		}
	}
	return working, queued
}

// Productivity is one worker's snapshot for a day.
type Productivity struct {
	StaffID        string     `json:"staff_id"`
	Name           string     `json:"name"`
	TasksToday     int        `json:"tasks_today"`
	TasksDone      int        `json:"tasks_done"`
	TasksPending   int        `json:"tasks_pending"`
	AvgDuration    Duration   `json:"avg_duration"`
	CompletionRate float64    `json:"completion_rate"`
	ShiftStart     *time.Time `json:"shift_start,omitempty"`
	LastActive     *time.Time `json:"last_active,omitempty"`
	OnShift        bool       `json:"on_shift"`
}

// BoardEntry is one row of the live status board.
type BoardEntry struct {
	StaffID     string      `json:"staff_id"`
	Name        string      `json:"name"`
	Light       Light       `json:"light"`
	InFlight    int         `json:"in_flight"`
	Queued      int         `json:"queued"`
	OnShift     bool        `json:"on_shift"`
	CurrentTask *tasks.Task `json:"current_task,omitempty"`
}

// Service answers stats queries.
type Service struct {
	store *store.Store
	now   func() time.Time
}

// NewService creates a stats service.
func NewService(s *store.Store, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: s, now: now}
}

// WorkerDay returns a worker's stats for date, computing them on the fly
// when no rollup has been stored.
func (s *Service) WorkerDay(ctx context.Context, tenantID, staffID, date string) (*store.WorkerStats, error) {
	if date == "" {
		date = store.Day(s.now())
	}
	ws, err := s.store.GetWorkerStats(ctx, tenantID, staffID, date)
	if err == nil {
		return ws, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	ws, err = computeDay(ctx, s.store, tenantID, staffID, date)
	if err != nil {
		return nil, err
	}
	if ws.StaffName == "" {
		if m, err := s.store.GetStaff(ctx, tenantID, staffID); err == nil {
			ws.StaffName = m.Name
		}
	}
	ws.UpdatedAt = s.now().UTC()
	return ws, nil
}

// Productivity returns every worker with activity on date, or currently on
// shift, ordered by tasks done.
func (s *Service) Productivity(ctx context.Context, tenantID, date string) ([]Productivity, error) {
	if date == "" {
		date = store.Day(s.now())
	}
	members, err := s.store.ListStaff(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var out []Productivity
	for _, m := range members {
		ws, err := computeDay(ctx, s.store, tenantID, m.ID, date)
		if err != nil {
			return nil, err
		}
		inFlight, err := s.store.InFlightTasks(ctx, tenantID, m.ID)
		if err != nil {
			return nil, err
		}
		if ws.TasksTotal == 0 && len(inFlight) == 0 && !m.OnShift {
			continue
		}

		p := Productivity{
			StaffID:      m.ID,
			Name:         m.Name,
			TasksToday:   ws.TasksTotal,
			TasksDone:    ws.TasksDone,
			TasksPending: len(inFlight),
			AvgDuration:  Duration{time.Duration(ws.AvgDurationSeconds) * time.Second},
			OnShift:      m.OnShift,
			LastActive:   ws.LastActivity,
		}
		if p.TasksToday > 0 {
			p.CompletionRate = float64(p.TasksDone) / float64(p.TasksToday) * 100
		}
		if m.LastClockIn != nil && store.Day(*m.LastClockIn) == date {
			p.ShiftStart = m.LastClockIn
		}
		out = append(out, p)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TasksDone != out[j].TasksDone {
			return out[i].TasksDone > out[j].TasksDone
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Board returns the live load of every active worker, red first.
func (s *Service) Board(ctx context.Context, tenantID string) ([]BoardEntry, error) {
	members, err := s.store.ListStaff(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var out []BoardEntry
	for _, m := range members {
		if !m.Active {
			continue
		}
		inFlight, err := s.store.InFlightTasks(ctx, tenantID, m.ID)
		if err != nil {
			return nil, err
		}
		working, queued := load(inFlight)
		e := BoardEntry{
			StaffID:  m.ID,
			Name:     m.Name,
			Light:    LightFor(working, queued),
			InFlight: len(inFlight),
			Queued:   queued,
			OnShift:  m.OnShift,
		}
		e.CurrentTask = currentTask(inFlight)
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if a, b := out[i].Light.order(), out[j].Light.order(); a != b {
			return a < b
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// currentTask is the furthest-along in-flight task, oldest on ties.
func currentTask(list []tasks.Task) *tasks.Task {
	var cur *tasks.Task
	for i := range list {
		t := &list[i]
		if cur == nil || t.Status.Rank() > cur.Status.Rank() {
			cur = t
		}
	}
	return cur
}
