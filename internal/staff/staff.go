// Package staff defines staff members, their rank tiers and the dispatch
// eligibility and distance rules.
package staff

import (
	"math"
	"time"
)

// UnknownDistanceKm ranks staff with no known position behind everyone else.
const UnknownDistanceKm = 9999.0

const earthRadiusKm = 6371.0

// Staff is a worker who can be dispatched.
type Staff struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	Name           string     `json:"name"`
	Phone          string     `json:"phone,omitempty"`
	Language       string     `json:"language,omitempty"`
	PhotoURL       string     `json:"photo_url,omitempty"`
	Role           string     `json:"role,omitempty"`
	Active         bool       `json:"active"`
	OnShift        bool       `json:"on_shift"`
	LastClockIn    *time.Time `json:"last_clock_in,omitempty"`
	LastClockOut   *time.Time `json:"last_clock_out,omitempty"`
	LastLat        *float64   `json:"last_lat,omitempty"`
	LastLng        *float64   `json:"last_lng,omitempty"`
	LastLocationAt *time.Time `json:"last_location_at,omitempty"`
	Points         int        `json:"points"`
	GoldPoints     int        `json:"gold_points"`
	LastAssignedAt *time.Time `json:"last_assigned_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Tier is a rank derived from cumulative points.
type Tier string

const (
	TierStarter Tier = "starter"
	TierBronze  Tier = "bronze"
	TierSilver  Tier = "silver"
	TierGold    Tier = "gold"
)

// TierFor maps a gold points total to a tier.
func TierFor(points int) Tier {
	switch {
	case points >= 200:
		return TierGold
	case points >= 100:
		return TierSilver
	case points >= 40:
		return TierBronze
	default:
		return TierStarter
	}
}

// Tier is the staff member's current tier, driven by gold points.
func (s *Staff) Tier() Tier {
	return TierFor(s.GoldPoints)
}

// Eligible reports whether s can take work at now: active, on shift and
// clocked in no more than window ago. A missing clock-in is ineligible.
func (s *Staff) Eligible(now time.Time, window time.Duration) bool {
	if !s.Active || !s.OnShift || s.LastClockIn == nil {
		return false
	}
	return now.Sub(*s.LastClockIn) <= window
}

// HasLocation reports whether a last known position exists.
func (s *Staff) HasLocation() bool {
	return s.LastLat != nil && s.LastLng != nil
}

// DistanceKm is the great-circle distance from s to the point, or
// UnknownDistanceKm when s has no position.
func (s *Staff) DistanceKm(lat, lng float64) float64 {
	if !s.HasLocation() {
		return UnknownDistanceKm
	}
	return Haversine(*s.LastLat, *s.LastLng, lat, lng)
}

// Haversine returns the great-circle distance in kilometres.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLng := rad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Location is a reported position.
type Location struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lng float64 `json:"lng" validate:"longitude"`
}
