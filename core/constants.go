package core

import "time"

// BuoyType describes the physical platform reporting observations
type BuoyType string

const (
	// BuoyTypeBuoy is a moored weather buoy
	BuoyTypeBuoy BuoyType = "buoy"
	// BuoyTypeFixed is a fixed platform or C-MAN station
	BuoyTypeFixed BuoyType = "fixed"
	// BuoyTypeDart is a tsunami (DART) buoy
	BuoyTypeDart BuoyType = "dart"
	// BuoyTypeOther covers everything else NDBC publishes
	BuoyTypeOther BuoyType = "other"
)

// String returns the string representation
func (t BuoyType) String() string {
	return string(t)
}

// IsValid checks if the type is known
func (t BuoyType) IsValid() bool {
	switch t {
	case BuoyTypeBuoy, BuoyTypeFixed, BuoyTypeDart, BuoyTypeOther:
		return true
	default:
		return false
	}
}

const (
	// MaxStationIDLength bounds station identifiers accepted from users and feeds
	MaxStationIDLength = 16

	// DefaultObservationLimit is the number of observations shown on a buoy page
	DefaultObservationLimit = 24

	// StaleObservationAge marks an observation as stale on the map
	StaleObservationAge = 3 * time.Hour

	// MaxErrorMessageLength limits error text sent to clients
	MaxErrorMessageLength = 200
)
