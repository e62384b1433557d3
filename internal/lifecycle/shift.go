package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/dispatchd/internal/events"
	"github.com/marcus/dispatchd/internal/logging"
	"github.com/marcus/dispatchd/internal/staff"
	"github.com/marcus/dispatchd/internal/store"
)

// ClockInRequest identifies a staff member by id, phone or name. Unknown
// staff are registered on their first clock-in.
type ClockInRequest struct {
	TenantID string          `json:"tenant_id" validate:"required"`
	StaffID  string          `json:"staff_id" validate:"required_without_all=Phone Name"`
	Name     string          `json:"name"`
	Phone    string          `json:"phone"`
	Language string          `json:"language"`
	PhotoURL string          `json:"photo_url" validate:"omitempty,url"`
	Role     string          `json:"role"`
	Location *staff.Location `json:"location"`
}

// ShiftEnd reports an ended shift.
type ShiftEnd struct {
	Staff    *staff.Staff `json:"staff"`
	Requeued []string     `json:"requeued"`
}

// LeaderboardEntry is one ranked staff member.
type LeaderboardEntry struct {
	Position   int        `json:"position"`
	StaffID    string     `json:"staff_id"`
	Name       string     `json:"name"`
	Points     int        `json:"points"`
	GoldPoints int        `json:"gold_points"`
	Tier       staff.Tier `json:"tier"`
}

func (e *Engine) lookupStaff(ctx context.Context, tx *store.Store, req ClockInRequest) (*staff.Staff, error) {
	lookups := []func() (*staff.Staff, error){
		func() (*staff.Staff, error) {
			if req.StaffID == "" {
				return nil, store.ErrNotFound
			}
			return tx.GetStaff(ctx, req.TenantID, req.StaffID)
		},
		func() (*staff.Staff, error) { return tx.FindStaffByPhone(ctx, req.TenantID, req.Phone) },
		func() (*staff.Staff, error) { return tx.FindStaffByName(ctx, req.TenantID, req.Name) },
	}
	for _, find := range lookups {
		m, err := find()
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return nil, store.ErrNotFound
}

// ClockIn puts a staff member on shift and runs a dispatch sweep.
func (e *Engine) ClockIn(ctx context.Context, req ClockInRequest) (*staff.Staff, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if err := e.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	now := e.clock()
	var member *staff.Staff
	err := e.store.InTx(ctx, func(tx *store.Store) error {
		m, err := e.lookupStaff(ctx, tx, req)
		switch {
		case errors.Is(err, store.ErrNotFound):
			id := req.StaffID
			if id == "" {
				id = uuid.NewString()
			}
			name := req.Name
			if name == "" {
				name = req.Phone
			}
			m = &staff.Staff{ID: id, TenantID: req.TenantID, Name: name, CreatedAt: now}
		case err != nil:
			return err
		}

		if req.Name != "" {
			m.Name = req.Name
		}
		if req.Phone != "" {
			m.Phone = req.Phone
		}
		if req.Language != "" {
			m.Language = req.Language
		}
		if req.PhotoURL != "" {
			m.PhotoURL = req.PhotoURL
		}
		if req.Role != "" {
			m.Role = req.Role
		}
		if req.Location != nil {
			setLocation(m, *req.Location, now)
		}
		m.Active = true
		m.OnShift = true
		m.LastClockIn = &now
		member = m
		return tx.SaveStaff(ctx, m)
	})
	if err != nil {
		return nil, fmt.Errorf("clock in: %w", err)
	}

	e.logger.InfoCtx("staff clocked in", logging.Fields{"tenant": req.TenantID, "staff": member.ID, "name": member.Name})
	e.publish(req.TenantID, events.ChannelStaff, events.TypeStaffUpdate, member)
	e.sweep(ctx, req.TenantID, "clock in")
	return member, nil
}

// ClockOut takes a staff member off shift. Assigned tasks stay with them.
func (e *Engine) ClockOut(ctx context.Context, tenantID, staffID string) (*staff.Staff, error) {
	return e.mutateStaff(ctx, tenantID, staffID, "clock out", func(m *staff.Staff) {
		now := e.clock()
		m.OnShift = false
		m.LastClockOut = &now
	})
}

// EndShift clocks out and deactivates a staff member and returns their
// in-flight tasks to the pending pool for someone else.
func (e *Engine) EndShift(ctx context.Context, tenantID, staffID string) (*ShiftEnd, error) {
	now := e.clock()
	out := &ShiftEnd{}
	err := e.store.InTx(ctx, func(tx *store.Store) error {
		m, err := tx.GetStaff(ctx, tenantID, staffID)
		if err != nil {
			return err
		}
		m.OnShift = false
		m.Active = false
		m.LastClockOut = &now
		if err := tx.SaveStaff(ctx, m); err != nil {
			return err
		}
		ids, err := tx.RequeueStaffTasks(ctx, tenantID, staffID)
		if err != nil {
			return err
		}
		out.Staff = m
		out.Requeued = ids
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("end shift: %w", err)
	}

	e.logger.InfoCtx("shift ended", logging.Fields{
		"tenant":   tenantID,
		"staff":    staffID,
		"requeued": len(out.Requeued),
	})
	e.publish(tenantID, events.ChannelStaff, events.TypeStaffUpdate, out.Staff)
	for _, id := range out.Requeued {
		e.publish(tenantID, events.ChannelTasks, events.TypeTaskRequeued, map[string]string{
			"task_id":    id,
			"from_staff": staffID,
		})
	}
	if len(out.Requeued) > 0 {
		e.sweep(ctx, tenantID, "shift ended")
	}
	return out, nil
}

// SetActive toggles whether a staff member can be dispatched at all.
func (e *Engine) SetActive(ctx context.Context, tenantID, staffID string, active bool) (*staff.Staff, error) {
	m, err := e.mutateStaff(ctx, tenantID, staffID, "set active", func(m *staff.Staff) {
		m.Active = active
	})
	if err == nil && active {
		e.sweep(ctx, tenantID, "staff activated")
	}
	return m, err
}

// UpdateLocation records a staff member's reported position.
func (e *Engine) UpdateLocation(ctx context.Context, tenantID, staffID string, loc staff.Location) (*staff.Staff, error) {
	if err := e.validate.Struct(loc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return e.mutateStaff(ctx, tenantID, staffID, "update location", func(m *staff.Staff) {
		setLocation(m, loc, e.clock())
	})
}

func (e *Engine) mutateStaff(ctx context.Context, tenantID, staffID, op string, fn func(*staff.Staff)) (*staff.Staff, error) {
	var member *staff.Staff
	err := e.store.InTx(ctx, func(tx *store.Store) error {
		m, err := tx.GetStaff(ctx, tenantID, staffID)
		if err != nil {
			return err
		}
		fn(m)
		member = m
		return tx.SaveStaff(ctx, m)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	e.logger.DebugCtx("staff updated", logging.Fields{"tenant": tenantID, "staff": staffID, "op": op})
	e.publish(tenantID, events.ChannelStaff, events.TypeStaffUpdate, member)
	return member, nil
}

func setLocation(m *staff.Staff, loc staff.Location, at time.Time) {
	lat, lng := loc.Lat, loc.Lng
	m.LastLat = &lat
	m.LastLng = &lng
	m.LastLocationAt = &at
}

// ListStaff returns the tenant's staff.
func (e *Engine) ListStaff(ctx context.Context, tenantID string) ([]staff.Staff, error) {
	return e.store.ListStaff(ctx, tenantID)
}

// Leaderboard ranks staff by gold points, then points.
func (e *Engine) Leaderboard(ctx context.Context, tenantID string, limit int) ([]LeaderboardEntry, error) {
	list, err := e.store.Leaderboard(ctx, tenantID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]LeaderboardEntry, len(list))
	for i := range list {
		m := &list[i]
		out[i] = LeaderboardEntry{
			Position:   i + 1,
			StaffID:    m.ID,
			Name:       m.Name,
			Points:     m.Points,
			GoldPoints: m.GoldPoints,
			Tier:       m.Tier(),
		}
	}
	return out, nil
}
