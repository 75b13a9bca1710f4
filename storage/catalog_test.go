package storage

import (
	"context"
	"testing"
	"time"

	"obuoy/core"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeBuoyReader struct {
	buoys []core.Buoy
	lists int
}

func (f *fakeBuoyReader) ListBuoys(_ context.Context, activeOnly bool) ([]core.Buoy, error) {
	f.lists++
	var out []core.Buoy
	for _, b := range f.buoys {
		if !activeOnly || b.Active {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeBuoyReader) GetBuoy(_ context.Context, id string) (*core.Buoy, error) {
	for _, b := range f.buoys {
		if b.ID == core.NormalizeStationID(id) {
			return &b, nil
		}
	}
	return nil, ErrNotFound
}

type fakeObservationReader struct {
	latest map[string]core.Observation
	reads  int
}

func (f *fakeObservationReader) LatestObservation(_ context.Context, id string) (*core.Observation, error) {
	f.reads++
	obs, ok := f.latest[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &obs, nil
}

func (f *fakeObservationReader) RecentObservations(_ context.Context, id string, _ int) ([]core.Observation, error) {
	if obs, ok := f.latest[id]; ok {
		return []core.Observation{obs}, nil
	}
	return []core.Observation{}, nil
}

func TestCatalog_Markers(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC))
	buoys := &fakeBuoyReader{buoys: []core.Buoy{
		{ID: "41001", Name: "East Hatteras", Latitude: 34.7, Longitude: -72.7, Active: true},
		{ID: "41002", Name: "South Hatteras", Latitude: 31.8, Longitude: -74.9, Active: true},
		{ID: "41003", Active: false},
	}}
	observations := &fakeObservationReader{latest: map[string]core.Observation{
		"41001": testObservation("41001", clock.Now().Add(-time.Hour)),
	}}
	local, err := NewObservationCache(16, 0)
	require.NoError(t, err)

	c := NewCatalog(buoys, observations, local, nil, clock, zaptest.NewLogger(t).Sugar())

	markers, err := c.Markers(context.Background())
	require.NoError(t, err)
	require.Len(t, markers, 2)
	assert.Equal(t, "East Hatteras (41001)", markers[0].Title)
	assert.False(t, markers[0].Stale)
	assert.NotNil(t, markers[0].ObservedAt)
	assert.True(t, markers[1].Stale)
	assert.Equal(t, "No recent data", markers[1].Summary)

	// Latest observation of 41001 now comes from the local cache
	reads := observations.reads
	_, err = c.Latest(context.Background(), "41001")
	require.NoError(t, err)
	assert.Equal(t, reads, observations.reads)
}

func TestCatalog_MarkersUseRedis(t *testing.T) {
	mr, rc := newTestRedis(t)
	buoys := &fakeBuoyReader{buoys: []core.Buoy{{ID: "41001", Active: true}}}
	observations := &fakeObservationReader{latest: map[string]core.Observation{}}

	c := NewCatalog(buoys, observations, nil, NewMarkerCache(rc, time.Minute), clockwork.NewFakeClock(), zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	_, err := c.Markers(ctx)
	require.NoError(t, err)
	_, err = c.Markers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, buoys.lists, "second call is served from redis")

	c.ObservationStored(ctx, testObservation("41001", time.Now()))
	assert.False(t, mr.Exists(CacheKeyMarkers))
}

func TestCatalog_ObservationStoredUpdatesLocalCache(t *testing.T) {
	local, err := NewObservationCache(16, 0)
	require.NoError(t, err)
	observations := &fakeObservationReader{latest: map[string]core.Observation{}}
	c := NewCatalog(&fakeBuoyReader{}, observations, local, nil, nil, zaptest.NewLogger(t).Sugar())

	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c.ObservationStored(context.Background(), testObservation("41001", ts))

	latest, err := c.Latest(context.Background(), "41001")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, ts, latest.ObservedAt)
	assert.Zero(t, observations.reads)
}

func TestCatalog_LatestMissing(t *testing.T) {
	c := NewCatalog(&fakeBuoyReader{}, &fakeObservationReader{}, nil, nil, nil, zaptest.NewLogger(t).Sugar())
	latest, err := c.Latest(context.Background(), "41001")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestCatalog_Degraded(t *testing.T) {
	c := NewCatalog(nil, nil, nil, nil, nil, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	assert.True(t, c.Degraded())

	markers, err := c.Markers(ctx)
	require.NoError(t, err)
	assert.Empty(t, markers)

	_, err = c.Buoy(ctx, "41001")
	assert.ErrorIs(t, err, ErrNotFound)

	recent, err := c.Recent(ctx, "41001", 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}
