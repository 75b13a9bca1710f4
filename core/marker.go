package core

import "time"

// Marker is what the map widget draws for one buoy
type Marker struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Lat        float64    `json:"lat"`
	Lng        float64    `json:"lng"`
	Summary    string     `json:"summary"`
	ObservedAt *time.Time `json:"observed_at,omitempty"`
	Stale      bool       `json:"stale"`
}

// NewMarker builds a marker for b using its latest observation, which may be nil
func NewMarker(b Buoy, latest *Observation, now time.Time) Marker {
	m := Marker{
		ID:      b.ID,
		Title:   b.Title(),
		Lat:     b.Latitude,
		Lng:     b.Longitude,
		Summary: latest.Summary(),
		Stale:   true,
	}
	if latest != nil {
		t := latest.ObservedAt
		m.ObservedAt = &t
		m.Stale = latest.IsStale(now)
	}
	return m
}
