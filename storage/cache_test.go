package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservationCache_PutGet(t *testing.T) {
	cache, err := NewObservationCache(2, 0)
	require.NoError(t, err)

	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	cache.Put(testObservation("41001", ts))

	obs, ok := cache.Get("41001")
	require.True(t, ok)
	assert.Equal(t, ts, obs.ObservedAt)

	_, ok = cache.Get("41002")
	assert.False(t, ok)
}

func TestObservationCache_KeepsNewest(t *testing.T) {
	cache, err := NewObservationCache(4, 0)
	require.NoError(t, err)

	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	cache.Put(testObservation("41001", ts))
	cache.Put(testObservation("41001", ts.Add(-time.Hour)))

	obs, ok := cache.Get("41001")
	require.True(t, ok)
	assert.Equal(t, ts, obs.ObservedAt)
}

func TestObservationCache_Evicts(t *testing.T) {
	cache, err := NewObservationCache(2, 0)
	require.NoError(t, err)

	ts := time.Now()
	cache.Put(testObservation("A", ts))
	cache.Put(testObservation("B", ts))
	cache.Put(testObservation("C", ts))

	assert.Equal(t, 2, cache.Len())
	_, ok := cache.Get("A")
	assert.False(t, ok)
}

func TestObservationCache_Expires(t *testing.T) {
	cache, err := NewObservationCache(2, time.Minute)
	require.NoError(t, err)

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	cache.Put(testObservation("41001", now))

	now = now.Add(2 * time.Minute)
	_, ok := cache.Get("41001")
	assert.False(t, ok)
	assert.Zero(t, cache.Len())
}

func TestNewObservationCache_InvalidSize(t *testing.T) {
	_, err := NewObservationCache(0, 0)
	assert.Error(t, err)
}
