// Package tasks defines the dispatch work item and its status vocabulary.
package tasks

import (
	"fmt"
	"strings"
	"time"
)

// Status is a canonical task state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAssigned   Status = "assigned"
	StatusOnTheWay   Status = "on_the_way"
	StatusInProgress Status = "in_progress"
	StatusFinished   Status = "finished"
)

// Ordered lists the states in lifecycle order.
var Ordered = []Status{StatusPending, StatusAssigned, StatusOnTheWay, StatusInProgress, StatusFinished}

// synonyms maps every accepted spelling onto a canonical state. Inputs are
// lowercased and trimmed, and spaces or dashes become underscores, before lookup.
var synonyms = map[string]Status{
	"pending":     StatusPending,
	"queued":      StatusPending,
	"waiting":     StatusPending,
	"assigned":    StatusAssigned,
	"accepted":    StatusAssigned,
	"on_the_way":  StatusOnTheWay,
	"on_my_way":   StatusOnTheWay,
	"onmyway":     StatusOnTheWay,
	"en_route":    StatusOnTheWay,
	"in_progress": StatusInProgress,
	"inprogress":  StatusInProgress,
	"started":     StatusInProgress,
	"working":     StatusInProgress,
	"finished":    StatusFinished,
	"done":        StatusFinished,
	"completed":   StatusFinished,
	"complete":    StatusFinished,
}

// ParseStatus normalizes s through the synonym table.
func ParseStatus(s string) (Status, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	st, ok := synonyms[key]
	return st, ok
}

// Rank is the position of s in the lifecycle, or -1 when unknown.
func (s Status) Rank() int {
	for i, st := range Ordered {
		if st == s {
			return i
		}
	}
	return -1
}

// Active reports whether a staff member is working the task.
func (s Status) Active() bool {
	return s == StatusOnTheWay || s == StatusInProgress
}

// InFlight reports whether the task holds a staff member.
func (s Status) InFlight() bool {
	return s == StatusAssigned || s.Active()
}

func (s Status) String() string { return string(s) }

// Task is a unit of work dispatched to staff.
type Task struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenant_id"`
	Type          string     `json:"task_type"`
	Room          string     `json:"room"`
	RoomID        string     `json:"room_id,omitempty"`
	Description   string     `json:"description"`
	WorkerNotes   string     `json:"worker_notes,omitempty"`
	StaffID       string     `json:"staff_id,omitempty"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	AssignedAt    *time.Time `json:"assigned_at,omitempty"`
	OnTheWayAt    *time.Time `json:"on_the_way_at,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	DueAt         *time.Time `json:"due_at,omitempty"`
	PointsAwarded *int       `json:"points_awarded,omitempty"`

	// Duplicate is set when a create request matched a recent task.
	Duplicate bool `json:"duplicate,omitempty"`
}

// Label is the short display form used in messages and boards.
func (t *Task) Label() string {
	if t.Room == "" {
		return t.Type
	}
	return fmt.Sprintf("%s %s", t.Type, t.Room)
}

// Duration is the work time: finished minus started, else finished minus
// assigned. ok is false when neither pair exists.
func (t *Task) Duration() (d time.Duration, ok bool) {
	if t.FinishedAt == nil {
		return 0, false
	}
	switch {
	case t.StartedAt != nil:
		return t.FinishedAt.Sub(*t.StartedAt), true
	case t.AssignedAt != nil:
		return t.FinishedAt.Sub(*t.AssignedAt), true
	}
	return 0, false
}

// Target is due minus assigned when positive, else fallback.
func (t *Task) Target(fallback time.Duration) time.Duration {
	if t.DueAt != nil && t.AssignedAt != nil {
		if d := t.DueAt.Sub(*t.AssignedAt); d > 0 {
			return d
		}
	}
	return fallback
}

// Filter narrows task listings.
type Filter struct {
	Status  Status
	StaffID string
	Since   time.Time
	Limit   int
}
