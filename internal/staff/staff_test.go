package staff

import (
	"math"
	"testing"
	"time"
)

func TestTierFor(t *testing.T) {
	tests := []struct {
		points int
		want   Tier
	}{
		{0, TierStarter},
		{39, TierStarter},
		{40, TierBronze},
		{99, TierBronze},
		{100, TierSilver},
		{199, TierSilver},
		{200, TierGold},
		{1000, TierGold},
	}
	for _, tt := range tests {
		if got := TierFor(tt.points); got != tt.want {
			t.Errorf("TierFor(%d) = %s, want %s", tt.points, got, tt.want)
		}
	}
}

func TestEligible(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	ago := func(d time.Duration) *time.Time { v := now.Add(-d); return &v }
	window := 12 * time.Hour

	tests := []struct {
		name  string
		staff Staff
		want  bool
	}{
		{"fresh clock-in", Staff{Active: true, OnShift: true, LastClockIn: ago(time.Hour)}, true},
		{"exactly at window", Staff{Active: true, OnShift: true, LastClockIn: ago(12 * time.Hour)}, true},
		{"stale clock-in", Staff{Active: true, OnShift: true, LastClockIn: ago(13 * time.Hour)}, false},
		{"off shift", Staff{Active: true, OnShift: false, LastClockIn: ago(time.Hour)}, false},
		{"inactive", Staff{Active: false, OnShift: true, LastClockIn: ago(time.Hour)}, false},
		{"never clocked in", Staff{Active: true, OnShift: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.staff.Eligible(now, window); got != tt.want {
				t.Errorf("Eligible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHaversine(t *testing.T) {
	// Tel Aviv to Jerusalem is roughly 54 km.
	d := Haversine(32.0853, 34.7818, 31.7683, 35.2137)
	if d < 50 || d > 58 {
		t.Errorf("Haversine = %.1f km, want about 54", d)
	}
	if Haversine(10, 10, 10, 10) != 0 {
		t.Error("same point should be 0 km")
	}
}

func TestDistanceKmUnknown(t *testing.T) {
	s := Staff{}
	if got := s.DistanceKm(32, 34); got != UnknownDistanceKm {
		t.Errorf("DistanceKm without location = %v", got)
	}
	lat, lng := 32.0, 34.0
	s.LastLat, s.LastLng = &lat, &lng
	if got := s.DistanceKm(32, 34); math.Abs(got) > 1e-9 {
		t.Errorf("DistanceKm same point = %v", got)
	}
}
