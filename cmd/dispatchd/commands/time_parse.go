package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseTimeInput reads the time arguments of the task, stats, vacancy and
// audit commands. See parseTimeAt for the accepted forms.
func parseTimeInput(input string, loc *time.Location) (time.Time, error) {
	return parseTimeAt(input, time.Now(), loc)
}

// parseTimeAt accepts now, today, yesterday, tomorrow, an offset from now
// such as +2h, -30m or +1d, RFC3339, or a date with optional clock time in loc.
func parseTimeAt(input string, now time.Time, loc *time.Location) (time.Time, error) {
	raw := strings.TrimSpace(input)
	now = now.In(loc)

	switch strings.ToLower(raw) {
	case "now":
		return now, nil
	case "today":
		return midnight(now, 0), nil
	case "yesterday":
		return midnight(now, -1), nil
	case "tomorrow":
		return midnight(now, 1), nil
	}

	if strings.HasPrefix(raw, "+") || strings.HasPrefix(raw, "-") {
		offset, err := parseOffset(raw)
		if err != nil {
			return time.Time{}, err
		}
		return now.Add(offset), nil
	}

	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed.In(loc), nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q (use YYYY-MM-DD, YYYY-MM-DD HH:MM, RFC3339 or +2h)", input)
}

// parseOffset extends time.ParseDuration with a day unit.
func parseOffset(raw string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid offset %q", raw)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q", raw)
	}
	return d, nil
}

func midnight(t time.Time, addDays int) time.Time {
	d := t.AddDate(0, 0, addDays)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, t.Location())
}
