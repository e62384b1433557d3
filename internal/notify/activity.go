package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Activity is one simulated delivery.
type Activity struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"ts"`
	Channel Channel   `json:"type"`
	To      string    `json:"to"`
	Text    string    `json:"text"`
}

// ActivityLog is a bounded in-memory record of simulated sends.
type ActivityLog struct {
	mu      sync.Mutex
	entries []Activity
	next    int
	full    bool
}

// NewActivityLog keeps the last size entries.
func NewActivityLog(size int) *ActivityLog {
	if size <= 0 {
		size = 200
	}
	return &ActivityLog{entries: make([]Activity, size)}
}

func (l *ActivityLog) add(at time.Time, req Request) Activity {
	preview := []rune(req.Message)
	if len(preview) > 80 {
		preview = preview[:80]
	}
	a := Activity{
		ID:      uuid.NewString(),
		Time:    at,
		Channel: req.Channel,
		To:      req.To,
		Text:    fmt.Sprintf("%s -> %s: %s", req.Channel, req.To, string(preview)),
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.next] = a
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
	return a
}

// Entries returns the log oldest first.
func (l *ActivityLog) Entries() []Activity {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.full {
		return append([]Activity(nil), l.entries[:l.next]...)
	}
	out := make([]Activity, 0, len(l.entries))
	out = append(out, l.entries[l.next:]...)
	return append(out, l.entries[:l.next]...)
}

// Since returns entries recorded after t, oldest first.
func (l *ActivityLog) Since(t time.Time) []Activity {
	var out []Activity
	for _, a := range l.Entries() {
		if a.Time.After(t) {
			out = append(out, a)
		}
	}
	return out
}

// Len is the number of retained entries.
func (l *ActivityLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.full {
		return len(l.entries)
	}
	return l.next
}
