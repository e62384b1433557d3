package tasks

import (
	"testing"
	"time"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want Status
		ok   bool
	}{
		{"pending", StatusPending, true},
		{"On The Way", StatusOnTheWay, true},
		{"on-my-way", StatusOnTheWay, true},
		{"started", StatusInProgress, true},
		{"IN_PROGRESS", StatusInProgress, true},
		{" done ", StatusFinished, true},
		{"completed", StatusFinished, true},
		{"cancelled", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseStatus(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseStatus(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestStatusRank(t *testing.T) {
	for i, st := range Ordered {
		if st.Rank() != i {
			t.Errorf("%s.Rank() = %d, want %d", st, st.Rank(), i)
		}
	}
	if Status("bogus").Rank() != -1 {
		t.Error("unknown status should rank -1")
	}
	if !StatusAssigned.InFlight() || StatusAssigned.Active() {
		t.Error("assigned is in flight but not active")
	}
	if StatusFinished.InFlight() || StatusPending.InFlight() {
		t.Error("pending and finished are not in flight")
	}
}

func TestDurationAndTarget(t *testing.T) {
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	at := func(m int) *time.Time { v := base.Add(time.Duration(m) * time.Minute); return &v }

	tests := []struct {
		name       string
		task       Task
		wantDur    time.Duration
		wantOK     bool
		wantTarget time.Duration
	}{
		{
			name:       "started wins",
			task:       Task{AssignedAt: at(0), StartedAt: at(10), FinishedAt: at(40), DueAt: at(60)},
			wantDur:    30 * time.Minute,
			wantOK:     true,
			wantTarget: 60 * time.Minute,
		},
		{
			name:       "falls back to assigned",
			task:       Task{AssignedAt: at(0), FinishedAt: at(100)},
			wantDur:    100 * time.Minute,
			wantOK:     true,
			wantTarget: 90 * time.Minute,
		},
		{
			name:       "due before assigned uses default",
			task:       Task{AssignedAt: at(30), FinishedAt: at(40), DueAt: at(0)},
			wantDur:    10 * time.Minute,
			wantOK:     true,
			wantTarget: 90 * time.Minute,
		},
		{
			name:       "no timestamps",
			task:       Task{FinishedAt: at(5)},
			wantOK:     false,
			wantTarget: 90 * time.Minute,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := tt.task.Duration()
			if ok != tt.wantOK || d != tt.wantDur {
				t.Errorf("Duration() = (%v, %v), want (%v, %v)", d, ok, tt.wantDur, tt.wantOK)
			}
			if got := tt.task.Target(90 * time.Minute); got != tt.wantTarget {
				t.Errorf("Target() = %v, want %v", got, tt.wantTarget)
			}
		})
	}
}

func TestLabel(t *testing.T) {
	if got := (&Task{Type: "cleaning", Room: "12"}).Label(); got != "cleaning 12" {
		t.Errorf("Label() = %q", got)
	}
	if got := (&Task{Type: "cleaning"}).Label(); got != "cleaning" {
		t.Errorf("Label() = %q", got)
	}
}
