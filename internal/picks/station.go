package picks

import (
	"fmt"
	"math"
	"strings"
)

// Station identifies one seismic station and the channel family tuned on it.
type Station struct {
	Network   string  `json:"network"`
	Code      string  `json:"code"`
	Location  string  `json:"location"`
	Channel   string  `json:"channel"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NetSta returns "NET.STA".
func (s Station) NetSta() string {
	return s.Network + "." + s.Code
}

// String returns "NET.STA.LOC.CH".
func (s Station) String() string {
	return fmt.Sprintf("%s.%s.%s.%s", s.Network, s.Code, s.Location, s.Channel)
}

// StationRef names a station to tune before it is resolved against the
// inventory.
type StationRef struct {
	Network  string `json:"network"`
	Code     string `json:"code"`
	Location string `json:"location"`
	Channel  string `json:"channel"`
}

// ParseStationRef parses "NET.STA", "NET.STA.LOC" or "NET.STA.LOC.CH". The
// channel family defaults to "HH".
func ParseStationRef(s string) (StationRef, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) < 2 || len(parts) > 4 || parts[0] == "" || parts[1] == "" {
		return StationRef{}, fmt.Errorf("invalid station %q: expected NET.STA[.LOC[.CH]]", s)
	}
	ref := StationRef{Network: parts[0], Code: parts[1], Channel: "HH"}
	if len(parts) > 2 {
		ref.Location = parts[2]
	}
	if len(parts) > 3 && parts[3] != "" {
		ref.Channel = parts[3]
	}
	return ref, nil
}

// NetSta returns "NET.STA".
func (r StationRef) NetSta() string {
	return r.Network + "." + r.Code
}

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance between two points in
// kilometres.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}
