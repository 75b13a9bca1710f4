package ndbc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestClient_Observations(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(sampleRealtime))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL+"/data/realtime2", BreakerSettings{MaxFailures: 2, Timeout: time.Minute}, nil, zaptest.NewLogger(t).Sugar())

	obs, err := c.Observations(context.Background(), "41001")
	require.NoError(t, err)
	assert.Len(t, obs, 2)
	assert.Equal(t, "/data/realtime2/41001.txt", path)
}

func TestClient_StationURL(t *testing.T) {
	c := NewClient(http.DefaultClient, "https://example.org/realtime2/", BreakerSettings{}, nil, zaptest.NewLogger(t).Sugar())
	assert.Equal(t, "https://example.org/realtime2/KIKT2.txt", c.StationURL("kikt2"))
}

func TestClient_NotFoundDoesNotTripBreaker(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, BreakerSettings{MaxFailures: 1, Timeout: time.Minute}, nil, zaptest.NewLogger(t).Sugar())

	for i := 0; i < 3; i++ {
		_, err := c.Observations(context.Background(), "00000")
		assert.True(t, errors.Is(err, ErrStationNotFound))
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_BreakerOpensAfterFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, BreakerSettings{MaxFailures: 2, Timeout: time.Minute}, nil, zaptest.NewLogger(t).Sugar())

	for i := 0; i < 2; i++ {
		_, err := c.Observations(context.Background(), "41001")
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrUnavailable))
	}

	_, err := c.Observations(context.Background(), "41001")
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "open breaker must not reach the server")
}

func TestClient_CanceledRequestsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleRealtime))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, BreakerSettings{MaxFailures: 1, Timeout: time.Minute}, nil, zaptest.NewLogger(t).Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 3; i++ {
		_, err := c.Observations(ctx, "41001")
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	}

	obs, err := c.Observations(context.Background(), "41001")
	require.NoError(t, err)
	assert.Len(t, obs, 2)
}
