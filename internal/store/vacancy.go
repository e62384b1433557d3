package store

import (
	"context"
	"fmt"
	"time"
)

// Vacancy identifies one stay in the ledger. Room is the room id when known,
// else the room name; stays with the same dates in different rooms are
// distinct.
type Vacancy struct {
	TenantID string
	Room     string
	CheckIn  time.Time
	CheckOut time.Time
}

// RecordVacancy stores a processed vacancy window. It reports false when
// the window was already recorded.
func (s *Store) RecordVacancy(ctx context.Context, v Vacancy, taskID string, at time.Time) (bool, error) {
	res, err := s.exec(ctx, `INSERT INTO vacancy_windows (tenant_id, room_key, checkin, checkout, task_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (tenant_id, room_key, checkin, checkout) DO NOTHING`,
		v.TenantID, v.Room, FormatTime(v.CheckIn), FormatTime(v.CheckOut), taskID, FormatTime(at))
	if err != nil {
		return false, fmt.Errorf("record vacancy: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record vacancy rows: %w", err)
	}
	return n == 1, nil
}

// HasVacancy reports whether the window was already processed.
func (s *Store) HasVacancy(ctx context.Context, v Vacancy) (bool, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM vacancy_windows
		WHERE tenant_id = ? AND room_key = ? AND checkin = ? AND checkout = ?`,
		v.TenantID, v.Room, FormatTime(v.CheckIn), FormatTime(v.CheckOut)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has vacancy: %w", err)
	}
	return n > 0, nil
}
