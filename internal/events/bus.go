// Package events fans task and staff changes out to live subscribers.
//
// Topics are keyed by tenant and channel and created on first use. Every
// subscriber owns an unbounded queue, so a slow reader never blocks a
// publisher and never loses an event. There is no replay: a subscriber sees
// only events published after it subscribed. Subscribing with AllTenants
// receives the channel's events for every tenant.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Next after the subscriber or bus is closed.
var ErrClosed = errors.New("events: subscription closed")

// Channel partitions a tenant's events.
type Channel string

const (
	ChannelTasks Channel = "tasks"
	ChannelStaff Channel = "staff"
)

// AllTenants subscribes to a channel across tenants.
const AllTenants = ""

// Event types.
const (
	TypeTaskCreated  = "task_created"
	TypeTaskAssigned = "task_assigned"
	TypeTaskStatus   = "task_status"
	TypeTaskRequeued = "task_requeued"
	TypeStaffUpdate  = "staff_update"
)

// Event is one published change.
type Event struct {
	Type      string    `json:"type"`
	TenantID  string    `json:"tenant_id"`
	Channel   Channel   `json:"channel"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// JSON encodes the event for a wire push.
func (e Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

type topicKey struct {
	tenant  string
	channel Channel
}

type topic struct {
	subs map[*Subscriber]struct{}
}

// Bus owns all topics.
type Bus struct {
	mu     sync.RWMutex
	topics map[topicKey]*topic
	closed bool
	now    func() time.Time
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{topics: make(map[topicKey]*topic), now: time.Now}
}

func (b *Bus) topicLocked(key topicKey) *topic {
	t, ok := b.topics[key]
	if !ok {
		t = &topic{subs: make(map[*Subscriber]struct{})}
		b.topics[key] = t
	}
	return t
}

// Publish appends an event to every current subscriber of the topic.
func (b *Bus) Publish(tenantID string, ch Channel, eventType string, payload any) {
	ev := Event{
		Type:      eventType,
		TenantID:  tenantID,
		Channel:   ch,
		Timestamp: b.now().UTC(),
		Payload:   payload,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	t := b.topicLocked(topicKey{tenantID, ch})
	subs := make([]*Subscriber, 0, len(t.subs))
	for s := range t.subs {
		subs = append(subs, s)
	}
	if all, ok := b.topics[topicKey{AllTenants, ch}]; ok && tenantID != AllTenants {
		for s := range all.subs {
			subs = append(subs, s)
		}
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.push(ev)
	}
}

// Subscribe registers a new subscriber on the tenant's channel.
func (b *Bus) Subscribe(tenantID string, ch Channel) *Subscriber {
	s := &Subscriber{
		bus:    b,
		key:    topicKey{tenantID, ch},
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.closeLocal()
		return s
	}
	b.topicLocked(s.key).subs[s] = struct{}{}
	return s
}

// Topics reports how many topics exist.
func (b *Bus) Topics() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics)
}

// Subscribers reports the current subscriber count of a topic.
func (b *Bus) Subscribers(tenantID string, ch Channel) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if t, ok := b.topics[topicKey{tenantID, ch}]; ok {
		return len(t.subs)
	}
	return 0
}

// Close tears down all topics and wakes every subscriber.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var subs []*Subscriber
	for _, t := range b.topics {
		for s := range t.subs {
			subs = append(subs, s)
		}
	}
	b.topics = make(map[topicKey]*topic)
	b.mu.Unlock()

	for _, s := range subs {
		s.closeLocal()
	}
}

func (b *Bus) unsubscribe(s *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[s.key]; ok {
		delete(t.subs, s)
	}
}

// Subscriber is one consumer of a topic.
type Subscriber struct {
	bus    *Bus
	key    topicKey
	mu     sync.Mutex
	queue  []Event
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (s *Subscriber) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available, ctx is done, or the subscriber
// is closed. Queued events are still delivered after Close.
func (s *Subscriber) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue[0] = Event{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, nil
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-s.done:
			s.mu.Lock()
			empty := len(s.queue) == 0
			s.mu.Unlock()
			if empty {
				return Event{}, ErrClosed
			}
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Pending reports how many events are queued.
func (s *Subscriber) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close unsubscribes. Idempotent.
func (s *Subscriber) Close() {
	s.bus.unsubscribe(s)
	s.closeLocal()
}

func (s *Subscriber) closeLocal() {
	s.once.Do(func() { close(s.done) })
}
