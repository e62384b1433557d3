package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcus/dispatchd/internal/events"
	"github.com/marcus/dispatchd/internal/staff"
	"github.com/marcus/dispatchd/internal/tasks"
)

func TestOpenCreatesPrivateDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "audit")
	trail, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer trail.Close()

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o700 {
		t.Errorf("mode = %v", info.Mode().Perm())
	}
	if trail.sessionID == "" {
		t.Error("session id not set")
	}
}

func TestWriteRotatesByDay(t *testing.T) {
	dir := t.TempDir()
	trail, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer trail.Close()

	day := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	trail.now = func() time.Time { return day }
	if err := trail.Write(Entry{Type: "task_created", TenantID: "t1", TaskID: "a"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	day = day.Add(2 * time.Minute)
	if err := trail.Write(Entry{Type: "task_status", TenantID: "t1", TaskID: "a", Status: "finished"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	first, err := Read(PathFor(dir, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatal(err)
	}
	second, err := Read(PathFor(dir, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("entries = %d / %d", len(first), len(second))
	}
	if second[0].Status != "finished" || second[0].SessionID != trail.sessionID {
		t.Errorf("second = %+v", second[0])
	}
	if first[0].Timestamp.IsZero() {
		t.Error("timestamp not filled")
	}

	files, err := Files(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) < 2 || filepath.Base(files[len(files)-1]) < filepath.Base(files[0]) {
		t.Errorf("files = %v", files)
	}
}

func TestWriteAfterClose(t *testing.T) {
	trail, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	_ = trail.Close()
	if err := trail.Write(Entry{Type: "x"}); err == nil {
		t.Error("expected error after close")
	}
}

func TestFromEvent(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		payload any
		check   func(t *testing.T, e Entry)
	}{
		{"task pointer", &tasks.Task{ID: "a", StaffID: "s1", Status: tasks.StatusAssigned, Room: "12"}, func(t *testing.T, e Entry) {
			if e.TaskID != "a" || e.StaffID != "s1" || e.Status != "assigned" || e.Room != "12" {
				t.Errorf("entry = %+v", e)
			}
		}},
		{"staff value", staff.Staff{ID: "s1", Name: "Ana", OnShift: true}, func(t *testing.T, e Entry) {
			if e.StaffID != "s1" || e.Detail["on_shift"] != "true" || e.Detail["name"] != "Ana" {
				t.Errorf("entry = %+v", e)
			}
		}},
		{"requeue map", map[string]string{"task_id": "b", "staff_id": "s2"}, func(t *testing.T, e Entry) {
			if e.TaskID != "b" || e.StaffID != "s2" {
				t.Errorf("entry = %+v", e)
			}
		}},
		{"other", 42, func(t *testing.T, e Entry) {
			if e.TaskID != "" || e.Detail != nil {
				t.Errorf("entry = %+v", e)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := FromEvent(events.Event{Type: "x", TenantID: "t1", Timestamp: ts, Payload: tt.payload})
			if e.TenantID != "t1" || !e.Timestamp.Equal(ts) {
				t.Errorf("header = %+v", e)
			}
			tt.check(t, e)
		})
	}
}

func TestFollowRecordsBusEvents(t *testing.T) {
	dir := t.TempDir()
	trail, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer trail.Close()

	bus := events.NewBus()
	sub := bus.Subscribe(events.AllTenants, events.ChannelTasks)

	done := make(chan struct{})
	go func() {
		trail.Follow(context.Background(), sub)
		close(done)
	}()

	bus.Publish("t1", events.ChannelTasks, events.TypeTaskCreated, &tasks.Task{ID: "a", Status: tasks.StatusPending})
	bus.Publish("t2", events.ChannelTasks, events.TypeTaskCreated, &tasks.Task{ID: "b", Status: tasks.StatusPending})
	bus.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Follow did not return after bus close")
	}

	got, err := Read(PathFor(dir, time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].TaskID != "a" || got[1].TenantID != "t2" {
		t.Errorf("entries = %+v", got)
	}
}

func TestReadMissingAndMalformed(t *testing.T) {
	dir := t.TempDir()
	if got, err := Read(filepath.Join(dir, "none.jsonl")); err != nil || got != nil {
		t.Errorf("missing = %v, %v", got, err)
	}
	path := filepath.Join(dir, "audit-2026-01-01.jsonl")
	_ = os.WriteFile(path, []byte("{\"event_type\":\"a\"}\nnot json\n\n{\"event_type\":\"b\"}\n"), 0o600)
	got, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1].Type != "b" {
		t.Errorf("entries = %+v", got)
	}
}
