// Package audit keeps an append-only trail of task and staff changes.
// Each UTC day gets its own JSONL file; entries are synced to disk as they
// are written.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/dispatchd/internal/events"
	"github.com/marcus/dispatchd/internal/logging"
	"github.com/marcus/dispatchd/internal/staff"
	"github.com/marcus/dispatchd/internal/tasks"
)

const filePrefix = "audit-"

// Entry is one audit record.
type Entry struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      string            `json:"event_type"`
	TenantID  string            `json:"tenant_id"`
	TaskID    string            `json:"task_id,omitempty"`
	StaffID   string            `json:"staff_id,omitempty"`
	Status    string            `json:"status,omitempty"`
	Room      string            `json:"room,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
	SessionID string            `json:"session_id"`
}

// Trail writes entries to dir.
type Trail struct {
	dir       string
	sessionID string
	now       func() time.Time
	logger    *logging.Logger

	mu   sync.Mutex
	day  string
	file *os.File
}

// DefaultDir is ~/.local/share/dispatchd/audit.
func DefaultDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "dispatchd", "audit")
}

// Open creates dir with owner-only permissions and opens today's file.
func Open(dir string) (*Trail, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating audit dir: %w", err)
	}
	t := &Trail{
		dir:       dir,
		sessionID: uuid.NewString(),
		now:       time.Now,
		logger:    logging.Component("audit"),
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.rotateLocked(t.now().UTC()); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Trail) rotateLocked(now time.Time) error {
	day := now.Format("2006-01-02")
	if t.file != nil && t.day == day {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(t.dir, filePrefix+day+".jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening audit file: %w", err)
	}
	if t.file != nil {
		_ = t.file.Close()
	}
	t.file, t.day = f, day
	return nil
}

// Write appends e, filling the timestamp and session id.
func (t *Trail) Write(e Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return os.ErrClosed
	}

	now := t.now().UTC()
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	e.SessionID = t.sessionID
	if err := t.rotateLocked(now); err != nil {
		return err
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}
	if _, err := t.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}
	return t.file.Sync()
}

// Record converts a bus event into an entry and writes it.
func (t *Trail) Record(ev events.Event) error {
	return t.Write(FromEvent(ev))
}

// FromEvent maps the payloads the engine publishes onto an Entry.
func FromEvent(ev events.Event) Entry {
	e := Entry{Timestamp: ev.Timestamp, Type: ev.Type, TenantID: ev.TenantID}
	switch p := ev.Payload.(type) {
	case *tasks.Task:
		fillTask(&e, p)
	case tasks.Task:
		fillTask(&e, &p)
	case *staff.Staff:
		fillStaff(&e, p)
	case staff.Staff:
		fillStaff(&e, &p)
	case map[string]string:
		e.TaskID = p["task_id"]
		e.StaffID = p["staff_id"]
		e.Detail = p
	}
	return e
}

func fillTask(e *Entry, t *tasks.Task) {
	e.TaskID = t.ID
	e.StaffID = t.StaffID
	e.Status = t.Status.String()
	e.Room = t.Room
}

func fillStaff(e *Entry, m *staff.Staff) {
	e.StaffID = m.ID
	e.Detail = map[string]string{
		"name":     m.Name,
		"active":   fmt.Sprint(m.Active),
		"on_shift": fmt.Sprint(m.OnShift),
	}
}

// Follow records every event from subs until ctx is done or all of them
// close. Write failures are logged and skipped.
func (t *Trail) Follow(ctx context.Context, subs ...*events.Subscriber) {
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *events.Subscriber) {
			defer wg.Done()
			for {
				ev, err := sub.Next(ctx)
				if err != nil {
					return
				}
				if err := t.Record(ev); err != nil {
					t.logger.WarnCtx("audit write failed", logging.Fields{"type": ev.Type, "tenant": ev.TenantID, "err": err})
				}
			}
		}(sub)
	}
	wg.Wait()
}

// Close closes the current file.
func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}

// Files lists audit files in dir, oldest first.
func Files(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, ".jsonl") {
			files = append(files, filepath.Join(dir, name))
		}
	}
	sort.Strings(files)
	return files, nil
}

// PathFor is the file holding entries for the UTC day of at.
func PathFor(dir string, at time.Time) string {
	return filepath.Join(dir, filePrefix+at.UTC().Format("2006-01-02")+".jsonl")
}

// Read returns the entries in path. Malformed lines are skipped.
func Read(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading audit file: %w", err)
	}
	defer f.Close()

	var out []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, scanner.Err()
}
