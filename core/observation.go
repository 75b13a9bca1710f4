package core

import (
	"fmt"
	"strings"
	"time"
)

// Observation is a single row of a station's realtime report.
// Nil fields were reported as missing.
type Observation struct {
	StationID      string    `bson:"station_id" json:"station_id"`
	ObservedAt     time.Time `bson:"observed_at" json:"observed_at"`
	WindDirection  *float64  `bson:"wdir,omitempty" json:"wind_direction,omitempty"`
	WindSpeed      *float64  `bson:"wspd,omitempty" json:"wind_speed,omitempty"`
	Gust           *float64  `bson:"gst,omitempty" json:"gust,omitempty"`
	WaveHeight     *float64  `bson:"wvht,omitempty" json:"wave_height,omitempty"`
	DominantPeriod *float64  `bson:"dpd,omitempty" json:"dominant_period,omitempty"`
	Pressure       *float64  `bson:"pres,omitempty" json:"pressure,omitempty"`
	AirTemp        *float64  `bson:"atmp,omitempty" json:"air_temp,omitempty"`
	WaterTemp      *float64  `bson:"wtmp,omitempty" json:"water_temp,omitempty"`
}

// Key identifies an observation for de-duplication
func (o *Observation) Key() string {
	return o.StationID + "|" + o.ObservedAt.UTC().Format(time.RFC3339)
}

// IsStale reports whether the observation is older than StaleObservationAge at now
func (o *Observation) IsStale(now time.Time) bool {
	return now.Sub(o.ObservedAt) > StaleObservationAge
}

// Summary renders a short human readable line for map info windows
func (o *Observation) Summary() string {
	if o == nil {
		return "No recent data"
	}
	parts := make([]string, 0, 4)
	if o.WaveHeight != nil {
		parts = append(parts, fmt.Sprintf("Waves %.1f m", *o.WaveHeight))
	}
	if o.WindSpeed != nil {
		wind := fmt.Sprintf("Wind %.1f m/s", *o.WindSpeed)
		if o.WindDirection != nil {
			wind += " from " + CompassPoint(*o.WindDirection)
		}
		parts = append(parts, wind)
	}
	if o.WaterTemp != nil {
		parts = append(parts, fmt.Sprintf("Water %.1f °C", *o.WaterTemp))
	}
	if o.AirTemp != nil {
		parts = append(parts, fmt.Sprintf("Air %.1f °C", *o.AirTemp))
	}
	if len(parts) == 0 {
		return "No reported values"
	}
	return strings.Join(parts, ", ")
}

var compassPoints = [...]string{
	"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE",
	"S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW",
}

// CompassPoint converts a bearing in degrees to a 16-point compass label
func CompassPoint(deg float64) string {
	for deg < 0 {
		deg += 360
	}
	idx := int((deg+11.25)/22.5) % len(compassPoints)
	return compassPoints[idx]
}
