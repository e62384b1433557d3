package dispatch

import (
	"sort"
	"time"

	"github.com/marcus/dispatchd/internal/staff"
)

// DefaultClockInWindow is how long a clock-in keeps a staff member eligible.
const DefaultClockInWindow = 12 * time.Hour

// Selector filters and orders candidate staff.
//
// Order: gold points descending, distance to the property ascending (unknown
// positions last), least recently assigned first with never-assigned ahead of
// everyone, then staff id.
type Selector struct {
	Window time.Duration
	Lat    float64
	Lng    float64
	// HasProperty is false when no property position is configured; staff
	// with any known position then tie at distance zero.
	HasProperty bool
}

type candidate struct {
	member   staff.Staff
	distance float64
}

// Rank returns the eligible members of pool in dispatch order.
func (s Selector) Rank(pool []staff.Staff, now time.Time) []staff.Staff {
	window := s.Window
	if window <= 0 {
		window = DefaultClockInWindow
	}

	cands := make([]candidate, 0, len(pool))
	for _, m := range pool {
		if !m.Eligible(now, window) {
			continue
		}
		cands = append(cands, candidate{member: m, distance: s.distance(&m)})
	}

	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.member.GoldPoints != b.member.GoldPoints {
			return a.member.GoldPoints > b.member.GoldPoints
		}
		if a.distance != b.distance {
			return a.distance < b.distance
		}
		if la, lb := a.member.LastAssignedAt, b.member.LastAssignedAt; la == nil || lb == nil {
			if (la == nil) != (lb == nil) {
				return la == nil
			}
		} else if !la.Equal(*lb) {
			return la.Before(*lb)
		}
		return a.member.ID < b.member.ID
	})

	out := make([]staff.Staff, len(cands))
	for i, c := range cands {
		out[i] = c.member
	}
	return out
}

func (s Selector) distance(m *staff.Staff) float64 {
	if !m.HasLocation() {
		return staff.UnknownDistanceKm
	}
	if !s.HasProperty {
		return 0
	}
	return m.DistanceKm(s.Lat, s.Lng)
}
