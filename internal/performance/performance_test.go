package performance

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcus/dispatchd/internal/db"
	"github.com/marcus/dispatchd/internal/logging"
	"github.com/marcus/dispatchd/internal/staff"
	"github.com/marcus/dispatchd/internal/store"
	"github.com/marcus/dispatchd/internal/tasks"
)

var day = time.Date(2026, 7, 14, 0, 0, 0, 0, time.UTC)

func at(h, m int) *time.Time {
	v := day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
	return &v
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	database, err := db.Open(filepath.Join(t.TempDir(), "dispatchd.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return store.New(database)
}

func saveStaff(t *testing.T, s *store.Store, id, name string, onShift bool) {
	t.Helper()
	m := &staff.Staff{ID: id, TenantID: "t1", Name: name, Active: true, OnShift: onShift, LastClockIn: at(7, 0), CreatedAt: day}
	if err := s.SaveStaff(context.Background(), m); err != nil {
		t.Fatal(err)
	}
}

// saveTask stores a task; zero finish minutes leave it unfinished.
func saveTask(t *testing.T, s *store.Store, id, staffID string, status tasks.Status, startH, startM, workMin int) tasks.Task {
	t.Helper()
	task := tasks.Task{
		ID: id, TenantID: "t1", Type: "cleaning", Room: id, Description: "cleaning " + id,
		StaffID: staffID, Status: status, CreatedAt: *at(startH, startM-5),
		AssignedAt: at(startH, startM-1), StartedAt: at(startH, startM),
	}
	if status == tasks.StatusAssigned {
		task.StartedAt = nil
	}
	if status == tasks.StatusFinished {
		task.FinishedAt = at(startH, startM+workMin)
	}
	if err := s.InsertTask(context.Background(), &task); err != nil {
		t.Fatal(err)
	}
	return task
}

func TestRecordBuildsDailyStats(t *testing.T) {
	s := newStore(t)
	saveStaff(t, s, "a", "Ana", true)
	first := saveTask(t, s, "r1", "a", tasks.StatusFinished, 9, 0, 30)
	second := saveTask(t, s, "r2", "a", tasks.StatusFinished, 11, 0, 60)
	saveTask(t, s, "r3", "a", tasks.StatusAssigned, 12, 0, 0)

	agg := NewAggregator(s, WithLogger(logging.Nop()), WithClock(func() time.Time { return *at(13, 0) }))
	ctx := context.Background()
	for _, task := range []tasks.Task{first, second, first} {
		if err := agg.Record(ctx, task, "Ana"); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	ws, err := s.GetWorkerStats(ctx, "t1", "a", "2026-07-14")
	if err != nil {
		t.Fatalf("GetWorkerStats: %v", err)
	}
	if ws.TasksDone != 2 || ws.TasksTotal != 3 {
		t.Errorf("done/total = %d/%d, want 2/3", ws.TasksDone, ws.TasksTotal)
	}
	if ws.AvgDurationSeconds != 2700 {
		t.Errorf("avg = %v, want 2700", ws.AvgDurationSeconds)
	}
	if ws.FirstActivity == nil || !ws.FirstActivity.Equal(*at(8, 59)) {
		t.Errorf("first activity = %v", ws.FirstActivity)
	}
	if ws.LastActivity == nil || !ws.LastActivity.Equal(*at(12, 0)) {
		t.Errorf("last activity = %v", ws.LastActivity)
	}
	if ws.StaffName != "Ana" {
		t.Errorf("name = %q", ws.StaffName)
	}
}

func TestActivitySpansOpenTasks(t *testing.T) {
	s := newStore(t)
	saveStaff(t, s, "a", "Ana", true)
	saveTask(t, s, "open", "a", tasks.StatusInProgress, 8, 0, 0)
	done := saveTask(t, s, "done", "a", tasks.StatusFinished, 9, 50, 30)

	agg := NewAggregator(s, WithLogger(logging.Nop()), WithClock(func() time.Time { return *at(11, 0) }))
	if err := agg.Record(context.Background(), done, "Ana"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	ws, err := s.GetWorkerStats(context.Background(), "t1", "a", "2026-07-14")
	if err != nil {
		t.Fatalf("GetWorkerStats: %v", err)
	}
	if ws.TasksTotal != 2 || ws.TasksDone != 1 {
		t.Errorf("done/total = %d/%d, want 1/2", ws.TasksDone, ws.TasksTotal)
	}
	// The open task was assigned at 07:59 and started at 08:00.
	if ws.FirstActivity == nil || !ws.FirstActivity.Equal(*at(7, 59)) {
		t.Errorf("first activity = %v, want 07:59", ws.FirstActivity)
	}
	if ws.LastActivity == nil || !ws.LastActivity.Equal(*at(10, 20)) {
		t.Errorf("last activity = %v, want 10:20", ws.LastActivity)
	}
}

func TestPoolDrainsOnClose(t *testing.T) {
	s := newStore(t)
	saveStaff(t, s, "a", "Ana", true)
	saveStaff(t, s, "b", "Ben", true)

	agg := NewAggregator(s, WithWorkers(3), WithLogger(logging.Nop()))
	agg.Start()

	var submitted []tasks.Task
	for i := 0; i < 8; i++ {
		who := "a"
		if i%2 == 1 {
			who = "b"
		}
		submitted = append(submitted, saveTask(t, s, fmt.Sprintf("p%d", i), who, tasks.StatusFinished, 8+i, 0, 20))
	}
	for _, task := range submitted {
		if !agg.Submit(task, "") {
			t.Fatalf("Submit(%s) dropped", task.ID)
		}
	}
	if err := agg.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if agg.Submit(submitted[0], "") {
		t.Error("Submit accepted after Close")
	}

	for _, who := range []string{"a", "b"} {
		ws, err := s.GetWorkerStats(context.Background(), "t1", who, "2026-07-14")
		if err != nil {
			t.Fatalf("stats %s: %v", who, err)
		}
		if ws.TasksDone != 4 {
			t.Errorf("%s done = %d, want 4", who, ws.TasksDone)
		}
	}
}

func TestSubmitRejectsUnfinished(t *testing.T) {
	agg := NewAggregator(newStore(t), WithLogger(logging.Nop()))
	if agg.Submit(tasks.Task{ID: "x", StaffID: "a"}, "") {
		t.Error("unfinished task accepted")
	}
}

func TestWorkerDayComputesWhenMissing(t *testing.T) {
	s := newStore(t)
	saveStaff(t, s, "a", "Ana", true)
	task := saveTask(t, s, "w1", "a", tasks.StatusFinished, 9, 0, 40)
	if _, err := s.InsertPerformance(context.Background(), recordFor(task, "")); err != nil {
		t.Fatal(err)
	}

	svc := NewService(s, func() time.Time { return *at(15, 0) })
	ws, err := svc.WorkerDay(context.Background(), "t1", "a", "")
	if err != nil {
		t.Fatalf("WorkerDay: %v", err)
	}
	if ws.TasksDone != 1 || ws.AvgDurationSeconds != 2400 || ws.StaffName != "Ana" {
		t.Errorf("stats = %+v", ws)
	}
	if _, err := s.GetWorkerStats(context.Background(), "t1", "a", "2026-07-14"); err != store.ErrNotFound {
		t.Errorf("on-the-fly stats were stored: %v", err)
	}
}

func TestProductivityAndBoard(t *testing.T) {
	s := newStore(t)
	saveStaff(t, s, "a", "Ana", true)
	saveStaff(t, s, "b", "Ben", true)
	saveStaff(t, s, "c", "Cal", true)
	saveStaff(t, s, "d", "Dov", false)
	saveStaff(t, s, "e", "Eli", true)

	agg := NewAggregator(s, WithLogger(logging.Nop()))
	ctx := context.Background()
	for i, id := range []string{"f1", "f2"} {
		task := saveTask(t, s, id, "b", tasks.StatusFinished, 8+i, 0, 30)
		if err := agg.Record(ctx, task, "Ben"); err != nil {
			t.Fatal(err)
		}
	}
	saveTask(t, s, "q1", "a", tasks.StatusAssigned, 10, 0, 0)
	saveTask(t, s, "q2", "a", tasks.StatusInProgress, 10, 30, 0)
	saveTask(t, s, "q3", "c", tasks.StatusOnTheWay, 11, 0, 0)
	saveTask(t, s, "q4", "e", tasks.StatusAssigned, 11, 10, 0)
	saveTask(t, s, "q5", "e", tasks.StatusAssigned, 11, 20, 0)

	svc := NewService(s, func() time.Time { return *at(14, 0) })

	prod, err := svc.Productivity(ctx, "t1", "2026-07-14")
	if err != nil {
		t.Fatalf("Productivity: %v", err)
	}
	if len(prod) != 4 {
		t.Fatalf("rows = %+v", prod)
	}
	if prod[0].StaffID != "b" || prod[0].TasksDone != 2 || prod[0].CompletionRate != 100 {
		t.Errorf("top row = %+v", prod[0])
	}
	if prod[0].ShiftStart == nil || prod[0].AvgDuration.Duration != 30*time.Minute {
		t.Errorf("shift/avg = %v / %v", prod[0].ShiftStart, prod[0].AvgDuration)
	}

	board, err := svc.Board(ctx, "t1")
	if err != nil {
		t.Fatalf("Board: %v", err)
	}
	var got []string
	for _, e := range board {
		got = append(got, e.StaffID+":"+string(e.Light))
	}
	if fmt.Sprint(got) != "[e:red a:amber c:amber b:green d:green]" {
		t.Errorf("board = %v", got)
	}
	if board[0].Queued != 2 || board[0].InFlight != 2 {
		t.Errorf("queued board row = %+v", board[0])
	}
	if ana := board[1]; ana.InFlight != 2 || ana.Queued != 1 || ana.CurrentTask == nil || ana.CurrentTask.ID != "q2" {
		t.Errorf("working board row = %+v", ana)
	}
}

func TestLightFor(t *testing.T) {
	tests := []struct {
		working, queued int
		want            Light
	}{
		{0, 0, Green},
		{0, 1, Amber},
		{0, 2, Red},
		{0, 5, Red},
		{1, 0, Amber},
		{1, 1, Amber},
		{1, 3, Amber},
	}
	for _, tt := range tests {
		if got := LightFor(tt.working, tt.queued); got != tt.want {
			t.Errorf("LightFor(%d, %d) = %s, want %s", tt.working, tt.queued, got, tt.want)
		}
	}
}

func TestDurationJSON(t *testing.T) {
	b, err := json.Marshal(Duration{90 * time.Second})
	if err != nil || string(b) != "90" {
		t.Fatalf("marshal = %s, %v", b, err)
	}
	var d Duration
	if err := json.Unmarshal([]byte("3700"), &d); err != nil {
		t.Fatal(err)
	}
	if d.String() != "1h 1m" {
		t.Errorf("String = %s", d.String())
	}
}
