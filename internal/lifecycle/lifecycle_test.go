package lifecycle

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/marcus/dispatchd/internal/db"
	"github.com/marcus/dispatchd/internal/dispatch"
	"github.com/marcus/dispatchd/internal/events"
	"github.com/marcus/dispatchd/internal/logging"
	"github.com/marcus/dispatchd/internal/notify"
	"github.com/marcus/dispatchd/internal/staff"
	"github.com/marcus/dispatchd/internal/store"
	"github.com/marcus/dispatchd/internal/tasks"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu   sync.Mutex
	reqs []notify.Request
}

func (n *recordingNotifier) EnqueueAlert(req notify.Request) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reqs = append(n.reqs, req)
	return true
}

func (n *recordingNotifier) to(phone string) []notify.Request {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Request
	for _, r := range n.reqs {
		if r.To == phone {
			out = append(out, r)
		}
	}
	return out
}

type recordingAggregator struct {
	mu   sync.Mutex
	done []tasks.Task
}

func (a *recordingAggregator) Submit(t tasks.Task, _ string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.done = append(a.done, t)
	return true
}

type harness struct {
	engine *Engine
	store  *store.Store
	clock  *testClock
	notes  *recordingNotifier
	agg    *recordingAggregator
	bus    *events.Bus
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	database, err := db.Open(filepath.Join(t.TempDir(), "dispatchd.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	s := store.New(database)
	clock := &testClock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	notes := &recordingNotifier{}
	agg := &recordingAggregator{}
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	disp := dispatch.New(s,
		dispatch.WithClock(clock.Now),
		dispatch.WithNotifier(notes),
		dispatch.WithBus(bus),
		dispatch.WithLogger(logging.Nop()),
	)
	cfg := DefaultConfig()
	cfg.NotifyTargets = []string{"+10000000001", "+10000000002"}
	cfg.DefaultPhotoURL = "https://example.com/default.jpg"
	if mutate != nil {
		mutate(&cfg)
	}
	e := New(s,
		WithConfig(cfg),
		WithAssigner(disp),
		WithNotifier(notes),
		WithAggregator(agg),
		WithBus(bus),
		WithClock(clock.Now),
		WithLogger(logging.Nop()),
	)
	return &harness{engine: e, store: s, clock: clock, notes: notes, agg: agg, bus: bus}
}

func (h *harness) clockIn(t *testing.T, id, name string) *staff.Staff {
	t.Helper()
	m, err := h.engine.ClockIn(context.Background(), ClockInRequest{
		TenantID: "t1", StaffID: id, Name: name, Phone: "+1555" + id,
	})
	if err != nil {
		t.Fatalf("ClockIn(%s): %v", id, err)
	}
	return m
}

func (h *harness) create(t *testing.T, room string) *tasks.Task {
	t.Helper()
	task, err := h.engine.CreateTask(context.Background(), CreateRequest{TenantID: "t1", Type: "cleaning", Room: room})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return task
}

func (h *harness) status(t *testing.T, id, status string) *StatusResult {
	t.Helper()
	res, err := h.engine.UpdateStatus(context.Background(), "t1", id, status)
	if err != nil {
		t.Fatalf("UpdateStatus(%s): %v", status, err)
	}
	return res
}

func TestCreateTaskValidation(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.engine.CreateTask(context.Background(), CreateRequest{TenantID: "t1"})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestCreateTaskDuplicateGuard(t *testing.T) {
	h := newHarness(t, nil)

	first := h.create(t, "12")
	if first.Description != "cleaning 12" || first.Status != tasks.StatusPending {
		t.Fatalf("first = %+v", first)
	}

	h.clock.Advance(4 * time.Minute)
	second := h.create(t, "12")
	if !second.Duplicate || second.ID != first.ID {
		t.Errorf("second = %+v, want duplicate of %s", second, first.ID)
	}
	list, _ := h.engine.ListTasks(context.Background(), "t1", tasks.Filter{})
	if len(list) != 1 {
		t.Errorf("stored %d tasks, want 1", len(list))
	}

	h.clock.Advance(2 * time.Minute)
	third := h.create(t, "12")
	if third.Duplicate || third.ID == first.ID {
		t.Errorf("third = %+v, want a new task", third)
	}
}

func TestCreateTaskAssigns(t *testing.T) {
	h := newHarness(t, nil)
	h.clockIn(t, "a", "Ana")
	h.clockIn(t, "b", "Ben")

	task := h.create(t, "1")
	if task.Status != tasks.StatusAssigned || task.StaffID != "a" {
		t.Errorf("auto = %+v", task)
	}

	explicit, err := h.engine.CreateTask(context.Background(), CreateRequest{
		TenantID: "t1", Type: "maintenance", Room: "2", StaffID: "b",
	})
	if err != nil {
		t.Fatal(err)
	}
	if explicit.StaffID != "b" {
		t.Errorf("explicit staff = %q, want b", explicit.StaffID)
	}
	if got := h.notes.to("+1555a"); len(got) != 1 || got[0].Message != "New task: cleaning for room 1." {
		t.Errorf("assignment alerts = %+v", got)
	}
}

func TestFullLifecycleScoresOnTime(t *testing.T) {
	h := newHarness(t, nil)
	h.clockIn(t, "a", "Ana")
	task := h.create(t, "7")

	h.clock.Advance(5 * time.Minute)
	res := h.status(t, task.ID, "on my way")
	if !res.Changed || res.Task.OnTheWayAt == nil {
		t.Fatalf("on the way = %+v", res)
	}
	stamped := *res.Task.OnTheWayAt

	alerts := h.notes.to("+10000000001")
	if len(alerts) != 1 || alerts[0].Message != "Your room is being prepared by Ana!" ||
		alerts[0].MediaURL != "https://example.com/default.jpg" {
		t.Errorf("on-the-way alerts = %+v", alerts)
	}

	h.clock.Advance(time.Minute)
	again := h.status(t, task.ID, "on_the_way")
	if again.Changed || !again.Task.OnTheWayAt.Equal(stamped) {
		t.Errorf("repeat changed state: %+v", again)
	}
	if len(h.notes.to("+10000000001")) != 1 {
		t.Error("repeat sent another alert")
	}

	begun := h.status(t, task.ID, "started")
	if !begun.Changed || begun.Task.StartedAt == nil {
		t.Fatalf("started = %+v", begun)
	}
	startedAt := *begun.Task.StartedAt

	h.clock.Advance(time.Minute)
	resumed := h.status(t, task.ID, "in_progress")
	if resumed.Changed || !resumed.Task.StartedAt.Equal(startedAt) {
		t.Errorf("repeat in_progress moved started_at: %+v", resumed.Task.StartedAt)
	}

	h.clock.Advance(30 * time.Minute)
	done := h.status(t, task.ID, "done")
	if done.Points != 15 || done.Gold != 10 {
		t.Errorf("points = %d gold = %d, want 15/10", done.Points, done.Gold)
	}
	if done.Task.PointsAwarded == nil || *done.Task.PointsAwarded != 15 {
		t.Errorf("points_awarded = %v", done.Task.PointsAwarded)
	}

	m, err := h.store.GetStaff(context.Background(), "t1", "a")
	if err != nil {
		t.Fatal(err)
	}
	if m.Points != 15 || m.GoldPoints != 10 {
		t.Errorf("staff points = %d/%d", m.Points, m.GoldPoints)
	}
	if len(h.agg.done) != 1 || h.agg.done[0].ID != task.ID {
		t.Errorf("aggregated = %+v", h.agg.done)
	}
}

func TestFinishLateEarnsBaseOnly(t *testing.T) {
	h := newHarness(t, nil)
	h.clockIn(t, "a", "Ana")
	task := h.create(t, "7")

	h.status(t, task.ID, "in_progress")
	h.clock.Advance(2 * time.Hour)
	res := h.status(t, task.ID, "finished")
	if res.Points != 5 || res.Gold != 0 {
		t.Errorf("points = %d gold = %d, want 5/0", res.Points, res.Gold)
	}
}

func TestShiftChangesTriggerSweep(t *testing.T) {
	h := newHarness(t, nil)
	first := h.create(t, "1")
	h.clockIn(t, "a", "Ana")

	got, _ := h.engine.GetTask(context.Background(), "t1", first.ID)
	if got.StaffID != "a" {
		t.Fatalf("clock-in sweep did not assign: %+v", got)
	}

	h.clock.Advance(10 * time.Minute)
	second := h.create(t, "2")
	if second.StaffID != "a" {
		t.Fatalf("second = %+v", second)
	}

	// A pending task that arrived while nobody was eligible.
	if _, err := h.engine.SetActive(context.Background(), "t1", "a", false); err != nil {
		t.Fatal(err)
	}
	third := h.create(t, "3")
	if third.Status != tasks.StatusPending {
		t.Fatalf("third = %+v", third)
	}
	if _, err := h.engine.SetActive(context.Background(), "t1", "a", true); err != nil {
		t.Fatal(err)
	}
	got, _ = h.engine.GetTask(context.Background(), "t1", third.ID)
	if got.Status != tasks.StatusAssigned {
		t.Errorf("activation sweep left task %s", got.Status)
	}
}

func TestUpdateStatusErrors(t *testing.T) {
	h := newHarness(t, nil)
	pending := h.create(t, "1")
	h.clockIn(t, "a", "Ana")
	task := h.create(t, "2")

	ctx := context.Background()
	if _, err := h.engine.UpdateStatus(ctx, "t1", task.ID, "teleporting"); !errors.Is(err, ErrUnknownStatus) {
		t.Errorf("unknown: %v", err)
	}
	if _, err := h.engine.UpdateStatus(ctx, "t1", task.ID, "assigned"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("assigned: %v", err)
	}
	if _, err := h.engine.UpdateStatus(ctx, "t1", "missing", "done"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing: %v", err)
	}

	h.status(t, task.ID, "done")
	if _, err := h.engine.UpdateStatus(ctx, "t1", task.ID, "on_the_way"); !errors.Is(err, ErrTaskFinished) {
		t.Errorf("after finish: %v", err)
	}
	if res := h.status(t, task.ID, "completed"); res.Changed {
		t.Error("finishing twice changed the task")
	}

	// The clock-in sweep assigned the first task; end the shift to put it back.
	if _, err := h.engine.EndShift(ctx, "t1", "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.UpdateStatus(ctx, "t1", pending.ID, "in_progress"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("pending task: %v", err)
	}
}

func TestStrictTransitions(t *testing.T) {
	tests := []struct {
		name    string
		strict  bool
		wantErr bool
	}{
		{"lenient allows going back", false, false},
		{"strict rejects going back", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(c *Config) { c.StrictTransitions = tt.strict })
			h.clockIn(t, "a", "Ana")
			task := h.create(t, "1")

			h.status(t, task.ID, "in_progress")
			_, err := h.engine.UpdateStatus(context.Background(), "t1", task.ID, "on_the_way")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("err = %v", err)
			}
		})
	}
}

func TestEndShiftRequeues(t *testing.T) {
	h := newHarness(t, nil)
	h.clockIn(t, "a", "Ana")
	task := h.create(t, "1")
	h.status(t, task.ID, "on_the_way")
	h.clockIn(t, "b", "Ben")

	sub := h.bus.Subscribe("t1", events.ChannelTasks)
	defer sub.Close()

	end, err := h.engine.EndShift(context.Background(), "t1", "a")
	if err != nil {
		t.Fatalf("EndShift: %v", err)
	}
	if len(end.Requeued) != 1 || end.Requeued[0] != task.ID {
		t.Errorf("requeued = %v", end.Requeued)
	}
	if end.Staff.Active || end.Staff.OnShift || end.Staff.LastClockOut == nil {
		t.Errorf("staff = %+v", end.Staff)
	}

	got, _ := h.engine.GetTask(context.Background(), "t1", task.ID)
	if got.StaffID != "b" || got.OnTheWayAt != nil {
		t.Errorf("task after requeue = %+v", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := sub.Next(ctx)
	if err != nil || ev.Type != events.TypeTaskRequeued {
		t.Errorf("first event = %+v, %v", ev, err)
	}
}

func TestClockInMatchesExistingStaff(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	m, err := h.engine.ClockIn(ctx, ClockInRequest{TenantID: "t1", Name: "Dana", Phone: "+15550001"})
	if err != nil {
		t.Fatal(err)
	}
	if m.ID == "" || !m.OnShift || !m.Active {
		t.Fatalf("new staff = %+v", m)
	}
	if _, err := h.engine.ClockOut(ctx, "t1", m.ID); err != nil {
		t.Fatal(err)
	}

	again, err := h.engine.ClockIn(ctx, ClockInRequest{TenantID: "t1", Phone: "+15550001", Location: &staff.Location{Lat: 32.1, Lng: 34.8}})
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != m.ID || again.Name != "Dana" || !again.HasLocation() {
		t.Errorf("again = %+v", again)
	}

	byName, err := h.engine.ClockIn(ctx, ClockInRequest{TenantID: "t1", Name: "dana"})
	if err != nil {
		t.Fatal(err)
	}
	if byName.ID != m.ID {
		t.Errorf("name lookup created %s", byName.ID)
	}

	if _, err := h.engine.ClockIn(ctx, ClockInRequest{TenantID: "t1"}); !errors.Is(err, ErrValidation) {
		t.Errorf("empty identity: %v", err)
	}
	if _, err := h.engine.UpdateLocation(ctx, "t1", m.ID, staff.Location{Lat: 120}); !errors.Is(err, ErrValidation) {
		t.Errorf("bad latitude: %v", err)
	}
}

func TestScore(t *testing.T) {
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	at := func(min int) *time.Time {
		v := base.Add(time.Duration(min) * time.Minute)
		return &v
	}
	cfg := DefaultConfig()

	tests := []struct {
		name       string
		task       tasks.Task
		wantPoints int
		wantGold   int
	}{
		{"started on time", tasks.Task{AssignedAt: at(0), StartedAt: at(10), FinishedAt: at(100)}, 15, 10},
		{"started late", tasks.Task{AssignedAt: at(0), StartedAt: at(10), FinishedAt: at(101)}, 5, 0},
		{"falls back to assigned", tasks.Task{AssignedAt: at(0), FinishedAt: at(60)}, 15, 10},
		{"due widens target", tasks.Task{AssignedAt: at(0), StartedAt: at(0), FinishedAt: at(150), DueAt: at(180)}, 15, 10},
		{"due in the past uses default", tasks.Task{AssignedAt: at(0), StartedAt: at(0), FinishedAt: at(95), DueAt: at(-10)}, 5, 0},
		{"no timestamps", tasks.Task{FinishedAt: at(5)}, 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			points, gold := Score(&tt.task, cfg)
			if points != tt.wantPoints || gold != tt.wantGold {
				t.Errorf("Score = %d/%d, want %d/%d", points, gold, tt.wantPoints, tt.wantGold)
			}
		})
	}
}

func TestLeaderboard(t *testing.T) {
	h := newHarness(t, nil)
	h.clockIn(t, "a", "Ana")
	h.clockIn(t, "b", "Ben")
	ctx := context.Background()
	if err := h.store.AddPoints(ctx, "t1", "b", 120, 110); err != nil {
		t.Fatal(err)
	}

	board, err := h.engine.Leaderboard(ctx, "t1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(board) != 2 || board[0].StaffID != "b" || board[0].Tier != staff.TierSilver || board[1].Position != 2 {
		t.Errorf("board = %+v", board)
	}
}
