package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/marcus/dispatchd/internal/config"
	"github.com/marcus/dispatchd/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View daemon logs",
	Long: `Show recent dispatchd log entries. Use --follow to stream new entries
and --component or --level to narrow them down.`,
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().IntP("tail", "n", 50, "Number of log lines to show")
	logsCmd.Flags().BoolP("follow", "f", false, "Follow log output")
	logsCmd.Flags().StringP("export", "e", "", "Export all logs to file")
	logsCmd.Flags().String("component", "", "Only show this component (dispatch, notify, lifecycle...)")
	logsCmd.Flags().String("level", "", "Minimum level (debug, info, warn, error)")
	rootCmd.AddCommand(logsCmd)
}

// logEntry is one parsed JSON log line.
type logEntry struct {
	Level     string    `json:"level"`
	Time      time.Time `json:"time"`
	Message   string    `json:"message"`
	Component string    `json:"component,omitempty"`
	Tenant    string    `json:"tenant,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	Err       string    `json:"err,omitempty"`
}

type logFilter struct {
	component string
	minLevel  int
}

var levelRank = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

func (f logFilter) keep(e *logEntry) bool {
	if f.component != "" && e.Component != f.component {
		return false
	}
	return levelRank[e.Level] >= f.minLevel
}

func runLogs(cmd *cobra.Command, args []string) error {
	tail, _ := cmd.Flags().GetInt("tail")
	follow, _ := cmd.Flags().GetBool("follow")
	export, _ := cmd.Flags().GetString("export")
	component, _ := cmd.Flags().GetString("component")
	level, _ := cmd.Flags().GetString("level")

	filter := logFilter{component: component}
	if level != "" {
		if _, err := logging.ParseLevel(level); err != nil {
			return err
		}
		filter.minLevel = levelRank[strings.ToLower(level)]
	}

	logDir := logging.DefaultConfig().Path
	if cfg, err := config.Load(); err == nil {
		logDir = cfg.ExpandedLogPath()
	}

	out := cmd.OutOrStdout()
	if export != "" {
		return exportLogs(out, logDir, export)
	}
	if follow {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return followLogs(ctx, out, logDir, tail, filter)
	}
	return showLogs(out, logDir, tail, filter)
}

func logFiles(logDir string) ([]string, error) {
	files, err := logging.ListFiles(logDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading log dir: %w", err)
	}
	return files, nil
}

func showLogs(out io.Writer, logDir string, n int, f logFilter) error {
	files, err := logFiles(logDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintln(out, "No log files found.")
		return nil
	}
	for _, line := range lastLines(files, n, f) {
		printLogLine(out, line, f)
	}
	return nil
}

func followLogs(ctx context.Context, out io.Writer, logDir string, n int, f logFilter) error {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}
	if files, err := logFiles(logDir); err == nil && n > 0 {
		for _, line := range lastLines(files, n, f) {
			printLogLine(out, line, f)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(logDir); err != nil {
		return fmt.Errorf("watching log dir: %w", err)
	}

	current := todayLogFile(logDir)
	var (
		file   *os.File
		reader *bufio.Reader
	)
	open := func(path string, atEnd bool) {
		if file != nil {
			_ = file.Close()
			file, reader = nil, nil
		}
		fh, err := os.Open(path)
		if err != nil {
			return
		}
		if atEnd {
			_, _ = fh.Seek(0, io.SeekEnd)
		}
		file, reader = fh, bufio.NewReader(fh)
	}
	open(current, true)
	defer func() {
		if file != nil {
			_ = file.Close()
		}
	}()

	fmt.Fprintln(out, "--- Following logs (Ctrl+C to exit) ---")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if next := todayLogFile(logDir); next != current {
				current = next
				open(current, false)
			} else if reader == nil && filepath.Clean(ev.Name) == current {
				open(current, false)
			}
			if reader == nil || !ev.Has(fsnotify.Write) {
				continue
			}
			for {
				line, err := reader.ReadString('\n')
				if err != nil {
					break
				}
				printLogLine(out, strings.TrimSuffix(line, "\n"), f)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watcher error: %v\n", err)
		}
	}
}

func exportLogs(out io.Writer, logDir, outFile string) error {
	files, err := logFiles(logDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no log files found")
	}

	dst, err := os.Create(outFile)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer dst.Close()

	total := 0
	// oldest first
	for i := len(files) - 1; i >= 0; i-- {
		for _, line := range readFileLines(files[i]) {
			if _, err := fmt.Fprintln(dst, line); err != nil {
				return err
			}
			total++
		}
	}
	fmt.Fprintf(out, "Exported %d log lines to %s\n", total, outFile)
	return nil
}

func todayLogFile(logDir string) string {
	return filepath.Join(logDir, fmt.Sprintf("dispatchd-%s.log", time.Now().UTC().Format("2006-01-02")))
}

// lastLines returns up to n matching lines across files (newest file first),
// in chronological order.
func lastLines(files []string, n int, f logFilter) []string {
	var lines []string
	for _, file := range files {
		if len(lines) >= n {
			break
		}
		var kept []string
		for _, line := range readFileLines(file) {
			if matches(line, f) {
				kept = append(kept, line)
			}
		}
		remaining := n - len(lines)
		if len(kept) > remaining {
			kept = kept[len(kept)-remaining:]
		}
		lines = append(kept, lines...)
	}
	return lines
}

func matches(line string, f logFilter) bool {
	var e logEntry
	if err := json.Unmarshal([]byte(line), &e); err != nil {
		return f.component == "" && f.minLevel == 0
	}
	return f.keep(&e)
}

func readFileLines(path string) []string {
	fh, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer fh.Close()

	var lines []string
	scanner := bufio.NewScanner(fh)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

func printLogLine(out io.Writer, line string, f logFilter) {
	var e logEntry
	if err := json.Unmarshal([]byte(line), &e); err != nil {
		if f.component == "" && f.minLevel == 0 {
			fmt.Fprintln(out, line)
		}
		return
	}
	if !f.keep(&e) {
		return
	}
	fmt.Fprintln(out, formatLogEntry(&e))
}

func formatLogEntry(e *logEntry) string {
	var b strings.Builder
	b.WriteString(e.Time.Format("15:04:05"))
	b.WriteString(" ")
	b.WriteString(formatLogLevel(e.Level))
	if e.Component != "" {
		fmt.Fprintf(&b, " [%s]", e.Component)
	}
	b.WriteString(" ")
	b.WriteString(e.Message)
	if e.Tenant != "" {
		fmt.Fprintf(&b, " tenant=%s", e.Tenant)
	}
	if e.TaskID != "" {
		fmt.Fprintf(&b, " task=%s", e.TaskID)
	}
	if e.Error != "" {
		fmt.Fprintf(&b, " error=%s", e.Error)
	}
	if e.Err != "" {
		fmt.Fprintf(&b, " error=%s", e.Err)
	}
	return b.String()
}

func formatLogLevel(level string) string {
	switch level {
	case "debug":
		return "DBG"
	case "info":
		return "INF"
	case "warn":
		return "WRN"
	case "error":
		return "ERR"
	case "":
		return "---"
	}
	if len(level) > 3 {
		level = level[:3]
	}
	return strings.ToUpper(level)
}
