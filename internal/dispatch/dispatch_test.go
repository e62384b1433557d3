package dispatch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/marcus/dispatchd/internal/db"
	"github.com/marcus/dispatchd/internal/events"
	"github.com/marcus/dispatchd/internal/logging"
	"github.com/marcus/dispatchd/internal/notify"
	"github.com/marcus/dispatchd/internal/staff"
	"github.com/marcus/dispatchd/internal/store"
	"github.com/marcus/dispatchd/internal/tasks"
)

var now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func ago(d time.Duration) *time.Time {
	v := now.Add(-d)
	return &v
}

func ptr(f float64) *float64 { return &f }

func member(id string, gold int) staff.Staff {
	return staff.Staff{
		ID: id, TenantID: "t1", Name: "Staff " + id, Phone: "+1555" + id,
		Active: true, OnShift: true, LastClockIn: ago(time.Hour), GoldPoints: gold,
		CreatedAt: now.Add(-24 * time.Hour),
	}
}

func ids(list []staff.Staff) []string {
	out := make([]string, len(list))
	for i, m := range list {
		out[i] = m.ID
	}
	return out
}

func TestSelectorRank(t *testing.T) {
	near := member("near", 0)
	near.LastLat, near.LastLng = ptr(32.08), ptr(34.78)
	far := member("far", 0)
	far.LastLat, far.LastLng = ptr(31.77), ptr(35.21)
	gold := member("gold", 250)
	nowhere := member("nowhere", 0)
	recent := member("recent", 0)
	recent.LastLat, recent.LastLng = ptr(32.08), ptr(34.78)
	recent.LastAssignedAt = ago(time.Minute)
	stale := member("stale", 500)
	stale.LastClockIn = ago(13 * time.Hour)
	off := member("off", 500)
	off.OnShift = false
	inactive := member("inactive", 500)
	inactive.Active = false

	sel := Selector{Window: 12 * time.Hour, Lat: 32.08, Lng: 34.78, HasProperty: true}
	pool := []staff.Staff{nowhere, far, recent, stale, near, off, gold, inactive}

	got := ids(sel.Rank(pool, now))
	want := []string{"gold", "near", "recent", "far", "nowhere"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Rank = %v, want %v", got, want)
	}

	// Same input in another order ranks identically.
	reversed := make([]staff.Staff, len(pool))
	for i := range pool {
		reversed[len(pool)-1-i] = pool[i]
	}
	if again := ids(sel.Rank(reversed, now)); fmt.Sprint(again) != fmt.Sprint(want) {
		t.Errorf("Rank not deterministic: %v", again)
	}
}

func TestSelectorTieBreaksOnID(t *testing.T) {
	sel := Selector{}
	got := ids(sel.Rank([]staff.Staff{member("b", 0), member("c", 0), member("a", 0)}, now))
	if fmt.Sprint(got) != "[a b c]" {
		t.Errorf("Rank = %v", got)
	}
}

type fakeNotifier struct {
	mu   sync.Mutex
	reqs []notify.Request
}

func (f *fakeNotifier) EnqueueAlert(req notify.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return true
}

type fixture struct {
	store *store.Store
	disp  *Dispatcher
	bus   *events.Bus
	notes *fakeNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	database, err := db.Open(filepath.Join(t.TempDir(), "dispatchd.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	s := store.New(database)
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	notes := &fakeNotifier{}
	d := New(s,
		WithBus(bus),
		WithNotifier(notes),
		WithLogger(logging.Nop()),
		WithClock(func() time.Time { return now }),
	)
	return &fixture{store: s, disp: d, bus: bus, notes: notes}
}

func (f *fixture) addStaff(t *testing.T, members ...staff.Staff) {
	t.Helper()
	for i := range members {
		if err := f.store.SaveStaff(context.Background(), &members[i]); err != nil {
			t.Fatalf("save staff: %v", err)
		}
	}
}

func (f *fixture) addTask(t *testing.T, id string, age time.Duration) {
	t.Helper()
	task := &tasks.Task{
		ID: id, TenantID: "t1", Type: "cleaning", Room: "12", Description: "cleaning " + id,
		Status: tasks.StatusPending, CreatedAt: now.Add(-age),
	}
	if err := f.store.InsertTask(context.Background(), task); err != nil {
		t.Fatalf("insert task: %v", err)
	}
}

func TestSweepRotatesStaff(t *testing.T) {
	f := newFixture(t)
	f.addStaff(t, member("a", 0), member("b", 0))
	for i, id := range []string{"t1", "t2", "t3", "t4"} {
		f.addTask(t, id, time.Duration(10-i)*time.Minute)
	}

	got, err := f.disp.Sweep(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	var order []string
	for _, a := range got {
		order = append(order, a.TaskID+"="+a.StaffID)
	}
	if fmt.Sprint(order) != "[t1=a t2=b t3=a t4=b]" {
		t.Errorf("assignments = %v", order)
	}

	task, err := f.store.GetTask(context.Background(), "t1", "t3")
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != tasks.StatusAssigned || task.StaffID != "a" || task.AssignedAt == nil {
		t.Errorf("t3 = %+v", task)
	}
	m, err := f.store.GetStaff(context.Background(), "t1", "b")
	if err != nil {
		t.Fatal(err)
	}
	if m.LastAssignedAt == nil || !m.LastAssignedAt.Equal(now) {
		t.Errorf("last_assigned_at = %v", m.LastAssignedAt)
	}
	if len(f.notes.reqs) != 4 || f.notes.reqs[0].Message != "New task: cleaning for room 12." {
		t.Errorf("alerts = %+v", f.notes.reqs)
	}
}

func TestSweepWithoutStaffIsNoop(t *testing.T) {
	f := newFixture(t)
	off := member("a", 0)
	off.OnShift = false
	f.addStaff(t, off)
	f.addTask(t, "x", time.Minute)

	got, err := f.disp.Sweep(context.Background(), "t1")
	if err != nil || len(got) != 0 {
		t.Fatalf("Sweep = %v, %v", got, err)
	}
	task, _ := f.store.GetTask(context.Background(), "t1", "x")
	if task.Status != tasks.StatusPending || task.StaffID != "" {
		t.Errorf("task changed: %+v", task)
	}
}

func TestAssignOne(t *testing.T) {
	f := newFixture(t)
	f.addStaff(t, member("a", 0), member("b", 120))
	f.addTask(t, "x", time.Minute)

	sub := f.bus.Subscribe("t1", events.ChannelTasks)
	defer sub.Close()

	a, err := f.disp.AssignOne(context.Background(), "t1", "x")
	if err != nil {
		t.Fatalf("AssignOne: %v", err)
	}
	if a == nil || a.StaffID != "b" {
		t.Fatalf("assignment = %+v, want gold leader b", a)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := sub.Next(ctx)
	if err != nil || ev.Type != events.TypeTaskAssigned {
		t.Errorf("event = %+v, %v", ev, err)
	}

	again, err := f.disp.AssignOne(context.Background(), "t1", "x")
	if err != nil || again != nil {
		t.Errorf("second AssignOne = %+v, %v; want nil", again, err)
	}
}

func TestAssignToInactive(t *testing.T) {
	f := newFixture(t)
	idle := member("a", 0)
	idle.Active = false
	f.addStaff(t, idle)
	f.addTask(t, "x", time.Minute)

	if _, err := f.disp.AssignTo(context.Background(), "t1", "x", "a"); !errors.Is(err, ErrStaffUnavailable) {
		t.Errorf("inactive: err = %v", err)
	}
	if _, err := f.disp.AssignTo(context.Background(), "t1", "x", "ghost"); !errors.Is(err, ErrStaffUnavailable) {
		t.Errorf("unknown: err = %v", err)
	}
}

func TestShiftEndBetweenRankingAndWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addStaff(t, member("a", 50), member("b", 0))
	f.addTask(t, "x", 2*time.Minute)
	f.addTask(t, "y", time.Minute)

	queue, err := f.disp.Candidates(ctx, "t1")
	if err != nil || len(queue) != 2 || queue[0].ID != "a" {
		t.Fatalf("candidates = %v, %v", ids(queue), err)
	}
	pending, err := f.store.PendingTasks(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}

	// a ends the shift after the pool was ranked.
	gone := member("a", 50)
	gone.OnShift = false
	gone.Active = false
	f.addStaff(t, gone)

	got, err := f.disp.distribute(ctx, pending, queue)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	var order []string
	for _, a := range got {
		order = append(order, a.TaskID+"="+a.StaffID)
	}
	if fmt.Sprint(order) != "[x=b y=b]" {
		t.Errorf("assignments = %v", order)
	}
	for _, id := range []string{"x", "y"} {
		task, _ := f.store.GetTask(ctx, "t1", id)
		if task.StaffID != "b" || task.Status != tasks.StatusAssigned {
			t.Errorf("task %s = %s/%s", id, task.StaffID, task.Status)
		}
	}
	for _, r := range f.notes.reqs {
		if r.To == gone.Phone {
			t.Errorf("alert sent to staff who left: %+v", r)
		}
	}
}

func TestAssignOneSkipsStaffWhoLeft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addStaff(t, member("a", 0))
	f.addTask(t, "x", time.Minute)

	ranked, err := f.disp.Candidates(ctx, "t1")
	if err != nil || len(ranked) != 1 {
		t.Fatalf("candidates = %v, %v", ids(ranked), err)
	}
	gone := member("a", 0)
	gone.OnShift = false
	f.addStaff(t, gone)

	task, _ := f.store.GetTask(ctx, "t1", "x")
	if _, err := f.disp.assign(ctx, task, &ranked[0], true); !errors.Is(err, ErrStaffUnavailable) {
		t.Errorf("assign to departed staff: err = %v", err)
	}
	a, err := f.disp.AssignOne(ctx, "t1", "x")
	if err != nil || a != nil {
		t.Errorf("AssignOne = %+v, %v; want nil", a, err)
	}
	task, _ = f.store.GetTask(ctx, "t1", "x")
	if task.Status != tasks.StatusPending || task.StaffID != "" {
		t.Errorf("task = %+v", task)
	}
}

func TestConcurrentSweepsNeverDoubleAssign(t *testing.T) {
	f := newFixture(t)
	f.addStaff(t, member("a", 0), member("b", 0), member("c", 0))
	for i := 0; i < 6; i++ {
		f.addTask(t, fmt.Sprintf("k%d", i), time.Duration(10-i)*time.Minute)
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.disp.Sweep(context.Background(), "t1")
			if err != nil {
				t.Errorf("Sweep: %v", err)
				return
			}
			mu.Lock()
			total += len(got)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if total != 6 {
		t.Errorf("assignments = %d, want 6", total)
	}
	pending, err := f.store.PendingTasks(context.Background(), "t1")
	if err != nil || len(pending) != 0 {
		t.Errorf("pending = %d, %v", len(pending), err)
	}
}

func TestSweepAll(t *testing.T) {
	f := newFixture(t)
	f.addStaff(t, member("a", 0))
	f.addTask(t, "x", time.Minute)
	other := member("z", 0)
	other.TenantID = "t2"
	f.addStaff(t, other)
	if err := f.store.InsertTask(context.Background(), &tasks.Task{
		ID: "y", TenantID: "t2", Type: "maintenance", Room: "1", Description: "fix",
		Status: tasks.StatusPending, CreatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}

	got, err := f.disp.SweepAll(context.Background())
	if err != nil {
		t.Fatalf("SweepAll: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("assignments = %+v", got)
	}
}
