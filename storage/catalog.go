package storage

import (
	"context"
	"errors"

	"obuoy/core"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// BuoyReader reads buoy stations
type BuoyReader interface {
	ListBuoys(ctx context.Context, activeOnly bool) ([]core.Buoy, error)
	GetBuoy(ctx context.Context, id string) (*core.Buoy, error)
}

// ObservationReader reads stored observations
type ObservationReader interface {
	LatestObservation(ctx context.Context, stationID string) (*core.Observation, error)
	RecentObservations(ctx context.Context, stationID string, limit int) ([]core.Observation, error)
}

// Catalog is the read side used by pages and the JSON API. It combines the
// Mongo stores with the local and shared caches.
//
// A Catalog without stores is degraded: it lists no buoys and finds nothing.
type Catalog struct {
	buoys        BuoyReader
	observations ObservationReader
	latest       *ObservationCache
	markers      *MarkerCache
	clock        clockwork.Clock
	logger       *zap.SugaredLogger
}

// NewCatalog creates a catalog. latest, markers and clock may be nil.
func NewCatalog(buoys BuoyReader, observations ObservationReader, latest *ObservationCache, markers *MarkerCache, clock clockwork.Clock, logger *zap.SugaredLogger) *Catalog {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Catalog{
		buoys:        buoys,
		observations: observations,
		latest:       latest,
		markers:      markers,
		clock:        clock,
		logger:       logger,
	}
}

// Degraded reports whether the catalog runs without a backing store
func (c *Catalog) Degraded() bool {
	return c.buoys == nil || c.observations == nil
}

// Buoy returns one station or ErrNotFound
func (c *Catalog) Buoy(ctx context.Context, id string) (*core.Buoy, error) {
	if c.Degraded() {
		return nil, ErrNotFound
	}
	return c.buoys.GetBuoy(ctx, id)
}

// Latest returns the newest observation of a station, or nil when it has none
func (c *Catalog) Latest(ctx context.Context, stationID string) (*core.Observation, error) {
	if c.Degraded() {
		return nil, nil
	}
	stationID = core.NormalizeStationID(stationID)

	if c.latest != nil {
		if obs, ok := c.latest.Get(stationID); ok {
			return &obs, nil
		}
	}

	obs, err := c.observations.LatestObservation(ctx, stationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if c.latest != nil {
		c.latest.Put(*obs)
	}
	return obs, nil
}

// Recent returns up to limit observations of a station, newest first
func (c *Catalog) Recent(ctx context.Context, stationID string, limit int) ([]core.Observation, error) {
	if c.Degraded() {
		return []core.Observation{}, nil
	}
	return c.observations.RecentObservations(ctx, stationID, limit)
}

// Markers returns one marker per active buoy
func (c *Catalog) Markers(ctx context.Context) ([]core.Marker, error) {
	if c.Degraded() {
		return []core.Marker{}, nil
	}

	if c.markers != nil {
		markers, found, err := c.markers.Get(ctx)
		if err != nil {
			c.logger.Warnw("Marker cache read failed", "error", err)
		} else if found {
			return markers, nil
		}
	}

	buoys, err := c.buoys.ListBuoys(ctx, true)
	if err != nil {
		return nil, err
	}

	now := c.clock.Now()
	markers := make([]core.Marker, 0, len(buoys))
	for _, b := range buoys {
		latest, err := c.Latest(ctx, b.ID)
		if err != nil {
			c.logger.Warnw("Failed to load latest observation", "station", b.ID, "error", err)
		}
		markers = append(markers, core.NewMarker(b, latest, now))
	}

	if c.markers != nil {
		if err := c.markers.Set(ctx, markers); err != nil {
			c.logger.Warnw("Marker cache write failed", "error", err)
		}
	}
	return markers, nil
}

// ObservationStored updates the caches after the poller stored a new
// observation. Its signature matches ndbc.Listener.
func (c *Catalog) ObservationStored(ctx context.Context, latest core.Observation) {
	if c.latest != nil {
		c.latest.Put(latest)
	}
	if c.markers != nil {
		if err := c.markers.Invalidate(ctx); err != nil {
			c.logger.Warnw("Marker cache invalidation failed", "error", err)
		}
	}
}

// Marker builds the marker for a single station
func (c *Catalog) Marker(ctx context.Context, b core.Buoy) core.Marker {
	latest, err := c.Latest(ctx, b.ID)
	if err != nil {
		c.logger.Warnw("Failed to load latest observation", "station", b.ID, "error", err)
	}
	return core.NewMarker(b, latest, c.clock.Now())
}
