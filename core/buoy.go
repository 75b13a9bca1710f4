package core

import (
	"fmt"
	"strings"
	"time"
)

// Buoy is a station that reports marine observations
type Buoy struct {
	ID        string    `bson:"_id" json:"id" yaml:"id" validate:"required,max=16,alphanum"`
	Name      string    `bson:"name" json:"name" yaml:"name" validate:"max=200"`
	Owner     string    `bson:"owner,omitempty" json:"owner,omitempty" yaml:"owner"`
	Type      BuoyType  `bson:"type" json:"type" yaml:"type"`
	Latitude  float64   `bson:"lat" json:"lat" yaml:"lat" validate:"gte=-90,lte=90"`
	Longitude float64   `bson:"lng" json:"lng" yaml:"lng" validate:"gte=-180,lte=180"`
	Active    bool      `bson:"active" json:"active" yaml:"active"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at" yaml:"-"`
}

// NormalizeStationID upper-cases and trims a station identifier.
// NDBC publishes ids in upper case (e.g. 41001, KIKT2) but URLs and user input
// are often lower case.
func NormalizeStationID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// Normalize fills defaults and canonicalizes fields in place
func (b *Buoy) Normalize() {
	b.ID = NormalizeStationID(b.ID)
	b.Name = strings.TrimSpace(b.Name)
	if b.Name == "" {
		b.Name = "Station " + b.ID
	}
	if b.Type == "" {
		b.Type = BuoyTypeBuoy
	}
}

// Validate checks the buoy against its struct tags
func (b *Buoy) Validate() error {
	if err := validate.Struct(b); err != nil {
		return fmt.Errorf("invalid buoy %q: %w", b.ID, err)
	}
	if !b.Type.IsValid() {
		return fmt.Errorf("invalid buoy %q: unknown type %q", b.ID, b.Type)
	}
	return nil
}

// Title returns the label used for map markers
func (b Buoy) Title() string {
	if b.Name == "" || strings.EqualFold(b.Name, b.ID) {
		return b.ID
	}
	return fmt.Sprintf("%s (%s)", b.Name, b.ID)
}
