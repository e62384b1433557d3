package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestPublishDeliversInOrder(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe("t1", ChannelTasks)
	defer sub.Close()

	for i := 0; i < 100; i++ {
		bus.Publish("t1", ChannelTasks, TypeTaskStatus, i)
	}

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		ev, err := sub.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if ev.Payload.(int) != i {
			t.Fatalf("event %d payload = %v", i, ev.Payload)
		}
		if ev.TenantID != "t1" || ev.Channel != ChannelTasks || ev.Type != TypeTaskStatus {
			t.Fatalf("unexpected event %+v", ev)
		}
	}
}

func TestTopicsAreIsolated(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	tasksSub := bus.Subscribe("t1", ChannelTasks)
	staffSub := bus.Subscribe("t1", ChannelStaff)
	otherTenant := bus.Subscribe("t2", ChannelTasks)

	bus.Publish("t1", ChannelStaff, TypeStaffUpdate, "alma")

	if tasksSub.Pending() != 0 || otherTenant.Pending() != 0 {
		t.Fatal("event leaked across topics")
	}
	if staffSub.Pending() != 1 {
		t.Fatalf("staff subscriber pending = %d", staffSub.Pending())
	}
	if bus.Topics() != 3 {
		t.Errorf("topics = %d, want 3", bus.Topics())
	}
}

func TestNoReplay(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	bus.Publish("t1", ChannelTasks, TypeTaskCreated, "before")
	sub := bus.Subscribe("t1", ChannelTasks)
	bus.Publish("t1", ChannelTasks, TypeTaskCreated, "after")

	ev, err := sub.Next(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ev.Payload != "after" {
		t.Errorf("got %v, want after", ev.Payload)
	}
}

func TestNextHonoursContext(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("t1", ChannelTasks)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := sub.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Next = %v, want deadline", err)
	}
}

func TestCloseDrainsThenErrors(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("t1", ChannelTasks)
	bus.Publish("t1", ChannelTasks, TypeTaskCreated, 1)
	bus.Close()

	if _, err := sub.Next(context.Background()); err != nil {
		t.Fatalf("queued event lost: %v", err)
	}
	if _, err := sub.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Next after close = %v", err)
	}

	// publishing after close is a no-op
	bus.Publish("t1", ChannelTasks, TypeTaskCreated, 2)
	late := bus.Subscribe("t1", ChannelTasks)
	if _, err := late.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("subscribe after close = %v", err)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe("t1", ChannelTasks)
	if bus.Subscribers("t1", ChannelTasks) != 1 {
		t.Fatal("subscriber not registered")
	}
	sub.Close()
	sub.Close()
	if bus.Subscribers("t1", ChannelTasks) != 0 {
		t.Fatal("subscriber not removed")
	}
	bus.Publish("t1", ChannelTasks, TypeTaskCreated, nil)
	if sub.Pending() != 0 {
		t.Error("closed subscriber received event")
	}
}

func TestConcurrentPublishers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	sub := bus.Subscribe("t1", ChannelTasks)

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				bus.Publish("t1", ChannelTasks, TypeTaskStatus, i)
			}
		}()
	}
	wg.Wait()

	if sub.Pending() != 400 {
		t.Errorf("pending = %d, want 400", sub.Pending())
	}
}

func TestAllTenantsSubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	all := bus.Subscribe(AllTenants, ChannelTasks)
	defer all.Close()

	bus.Publish("t1", ChannelTasks, TypeTaskCreated, 1)
	bus.Publish("t2", ChannelTasks, TypeTaskCreated, 2)
	bus.Publish("t1", ChannelStaff, TypeStaffUpdate, 3)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, want := range []string{"t1", "t2"} {
		ev, err := all.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if ev.TenantID != want {
			t.Errorf("tenant = %q, want %q", ev.TenantID, want)
		}
	}
	if n := all.Pending(); n != 0 {
		t.Errorf("pending = %d, staff channel leaked", n)
	}
}
