package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/marcus/dispatchd/internal/staff"
)

const staffColumns = `tenant_id, id, name, phone, language, photo_url, role, active, on_shift,
	last_clock_in, last_clock_out, last_lat, last_lng, last_location_at,
	points, gold_points, last_assigned_at, created_at`

func scanStaff(sc scanner) (*staff.Staff, error) {
	var (
		m                                      staff.Staff
		clockIn, clockOut, locAt, lastAssigned sql.NullString
		lat, lng                               sql.NullFloat64
		created                                string
	)
	if err := sc.Scan(&m.TenantID, &m.ID, &m.Name, &m.Phone, &m.Language, &m.PhotoURL, &m.Role,
		&m.Active, &m.OnShift, &clockIn, &clockOut, &lat, &lng, &locAt,
		&m.Points, &m.GoldPoints, &lastAssigned, &created); err != nil {
		return nil, err
	}

	m.LastLat = floatPtr(lat)
	m.LastLng = floatPtr(lng)

	var err error
	if m.CreatedAt, err = ParseTime(created); err != nil {
		return nil, fmt.Errorf("staff %s created_at: %w", m.ID, err)
	}
	for _, f := range []struct {
		dst **time.Time
		src sql.NullString
	}{
		{&m.LastClockIn, clockIn},
		{&m.LastClockOut, clockOut},
		{&m.LastLocationAt, locAt},
		{&m.LastAssignedAt, lastAssigned},
	} {
		if *f.dst, err = timePtr(f.src); err != nil {
			return nil, fmt.Errorf("staff %s: %w", m.ID, err)
		}
	}
	return &m, nil
}

func collectStaff(rows *sql.Rows) ([]staff.Staff, error) {
	defer rows.Close()
	var out []staff.Staff
	for rows.Next() {
		m, err := scanStaff(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// SaveStaff inserts m or overwrites every field of an existing row. Points
// are only written on insert; use AddPoints to change them afterwards.
func (s *Store) SaveStaff(ctx context.Context, m *staff.Staff) error {
	_, err := s.exec(ctx, `INSERT INTO staff (`+staffColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone,
			language = excluded.language,
			photo_url = excluded.photo_url,
			role = excluded.role,
			active = excluded.active,
			on_shift = excluded.on_shift,
			last_clock_in = excluded.last_clock_in,
			last_clock_out = excluded.last_clock_out,
			last_lat = excluded.last_lat,
			last_lng = excluded.last_lng,
			last_location_at = excluded.last_location_at,
			last_assigned_at = excluded.last_assigned_at`,
		m.TenantID, m.ID, m.Name, m.Phone, m.Language, m.PhotoURL, m.Role, m.Active, m.OnShift,
		nullTime(m.LastClockIn), nullTime(m.LastClockOut), nullFloat(m.LastLat), nullFloat(m.LastLng),
		nullTime(m.LastLocationAt), m.Points, m.GoldPoints, nullTime(m.LastAssignedAt), FormatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("save staff: %w", err)
	}
	return nil
}

// GetStaff loads one staff member.
func (s *Store) GetStaff(ctx context.Context, tenantID, id string) (*staff.Staff, error) {
	row := s.queryRow(ctx, `SELECT `+staffColumns+` FROM staff WHERE tenant_id = ? AND id = ?`, tenantID, id)
	m, err := scanStaff(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get staff: %w", err)
	}
	return m, nil
}

// FindStaffByPhone looks a staff member up by exact phone.
func (s *Store) FindStaffByPhone(ctx context.Context, tenantID, phone string) (*staff.Staff, error) {
	if phone == "" {
		return nil, ErrNotFound
	}
	row := s.queryRow(ctx, `SELECT `+staffColumns+` FROM staff WHERE tenant_id = ? AND phone = ? LIMIT 1`, tenantID, phone)
	m, err := scanStaff(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find staff by phone: %w", err)
	}
	return m, nil
}

// FindStaffByName matches a name case-insensitively.
func (s *Store) FindStaffByName(ctx context.Context, tenantID, name string) (*staff.Staff, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNotFound
	}
	row := s.queryRow(ctx, `SELECT `+staffColumns+` FROM staff WHERE tenant_id = ? AND LOWER(name) = LOWER(?) LIMIT 1`, tenantID, name)
	m, err := scanStaff(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find staff by name: %w", err)
	}
	return m, nil
}

// ListStaff returns all staff for a tenant ordered by name.
func (s *Store) ListStaff(ctx context.Context, tenantID string) ([]staff.Staff, error) {
	rows, err := s.query(ctx, `SELECT `+staffColumns+` FROM staff WHERE tenant_id = ? ORDER BY name, id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list staff: %w", err)
	}
	return collectStaff(rows)
}

// OnShiftStaff returns active staff currently on shift.
func (s *Store) OnShiftStaff(ctx context.Context, tenantID string) ([]staff.Staff, error) {
	rows, err := s.query(ctx, `SELECT `+staffColumns+` FROM staff
		WHERE tenant_id = ? AND active = ? AND on_shift = ? ORDER BY id`, tenantID, true, true)
	if err != nil {
		return nil, fmt.Errorf("on-shift staff: %w", err)
	}
	return collectStaff(rows)
}

// Leaderboard orders staff by gold points, then points.
func (s *Store) Leaderboard(ctx context.Context, tenantID string, limit int) ([]staff.Staff, error) {
	q := `SELECT ` + staffColumns + ` FROM staff WHERE tenant_id = ? ORDER BY gold_points DESC, points DESC, name ASC`
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.query(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	return collectStaff(rows)
}

// TouchAssigned stamps last_assigned_at.
func (s *Store) TouchAssigned(ctx context.Context, tenantID, staffID string, at time.Time) error {
	if _, err := s.exec(ctx, `UPDATE staff SET last_assigned_at = ? WHERE tenant_id = ? AND id = ?`,
		FormatTime(at), tenantID, staffID); err != nil {
		return fmt.Errorf("touch assigned: %w", err)
	}
	return nil
}

// AddPoints increments points and gold points in place.
func (s *Store) AddPoints(ctx context.Context, tenantID, staffID string, points, gold int) error {
	res, err := s.exec(ctx, `UPDATE staff SET points = points + ?, gold_points = gold_points + ?
		WHERE tenant_id = ? AND id = ?`, points, gold, tenantID, staffID)
	if err != nil {
		return fmt.Errorf("add points: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
