package picks

import (
	"context"
	"errors"
	"time"
)

// ErrStationNotFound is returned when a station is missing from the
// inventory.
var ErrStationNotFound = errors.New("station not found")

// Query selects manual picks for one station and phase.
type Query struct {
	Station  Station
	Phase    Phase
	Start    time.Time
	End      time.Time
	MinMag   float64
	MaxMag   float64
	RadiusKm float64
	// MaxPicks caps the number of picks returned; 0 means no cap.
	MaxPicks int
}

// ManualPick is one row of the manual pick query.
type ManualPick struct {
	EventID    string
	Network    string
	Station    string
	Location   string
	Channel    string
	Phase      Phase
	Time       time.Time
	OriginLat  float64
	OriginLon  float64
	DistanceKm float64
}

// Source resolves stations and manual picks.
type Source interface {
	// Station resolves ref to a station with coordinates.
	Station(ctx context.Context, ref StationRef) (Station, error)
	// ManualPicks returns manual picks ordered by pick time.
	ManualPicks(ctx context.Context, q Query) ([]ManualPick, error)
}

// Observations turns manual picks into observations with windows of
// ±halfWidth. Picks sharing an event keep only the first occurrence.
func Observations(rows []ManualPick, phase Phase, halfWidth time.Duration) []Observation {
	seen := make(map[string]bool, len(rows))
	out := make([]Observation, 0, len(rows))
	for _, r := range rows {
		if seen[r.EventID] {
			continue
		}
		seen[r.EventID] = true
		out = append(out, NewObservation(r.EventID, phase, r.Time, halfWidth))
	}
	return out
}
