package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"json to file", Config{Path: tmpDir, Level: "info", Format: "json"}, false},
		{"text to file", Config{Path: tmpDir, Level: "debug", Format: "text"}, false},
		{"invalid level", Config{Path: tmpDir, Level: "loud"}, true},
		{"stderr only", Config{Level: "warn"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if logger != nil {
				_ = logger.Close()
			}
		})
	}
}

func TestComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf).WithComponent("dispatch").WithTenant("t1")

	logger.InfoCtx("task assigned", Fields{"task_id": "abc", "err": errors.New("boom")})

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if line["component"] != "dispatch" {
		t.Errorf("component = %v", line["component"])
	}
	if line["tenant"] != "t1" {
		t.Errorf("tenant = %v", line["tenant"])
	}
	if line["task_id"] != "abc" {
		t.Errorf("task_id = %v", line["task_id"])
	}
	if line["err"] != "boom" {
		t.Errorf("err = %v", line["err"])
	}
	if line["message"] != "task assigned" {
		t.Errorf("message = %v", line["message"])
	}
}

func TestDailyWriterRotates(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	w := &dailyWriter{dir: dir, retention: 30, now: func() time.Time { return day }}
	if err := w.rotate(day); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if _, err := w.Write([]byte("first\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	day = day.Add(2 * time.Minute)
	if _, err := w.Write([]byte("second\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = w.close()

	first, err := os.ReadFile(filepath.Join(dir, "dispatchd-2026-03-01.log"))
	if err != nil {
		t.Fatalf("read first: %v", err)
	}
	second, err := os.ReadFile(filepath.Join(dir, "dispatchd-2026-03-02.log"))
	if err != nil {
		t.Fatalf("read second: %v", err)
	}
	if strings.TrimSpace(string(first)) != "first" || strings.TrimSpace(string(second)) != "second" {
		t.Errorf("unexpected contents %q / %q", first, second)
	}
}

func TestListFilesNewestFirst(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"dispatchd-2026-01-01.log", "dispatchd-2026-01-03.log", "other.log", "dispatchd-bad.log"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := ListFiles(dir)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2: %v", len(files), files)
	}
	if filepath.Base(files[0]) != "dispatchd-2026-01-03.log" {
		t.Errorf("first = %s", files[0])
	}
}

func TestParseLevel(t *testing.T) {
	for _, lvl := range []string{"debug", "INFO", "warn", "error"} {
		if _, err := ParseLevel(lvl); err != nil {
			t.Errorf("ParseLevel(%q) error: %v", lvl, err)
		}
	}
	if _, err := ParseLevel("trace"); err == nil {
		t.Error("expected error for trace")
	}
}
