package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"obuoy/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestFactory_ReusesNamedClients(t *testing.T) {
	f := NewFactory(nil, zaptest.NewLogger(t).Sugar())

	a := f.Client("ndbc")
	b := f.Client("NDBC")
	c := f.Client("")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}

func TestFactory_AppliesConfig(t *testing.T) {
	cfg := &config.Config{HTTPClients: map[string]config.HTTPClientConfig{
		"ndbc": {Timeout: 3 * time.Second, UserAgent: "buoy-test"},
	}}
	f := NewFactory(cfg.HTTPClient, nil)

	assert.Equal(t, 3*time.Second, f.Client("ndbc").Timeout)
	assert.Equal(t, 30*time.Second, f.Client("other").Timeout)
}

func TestFactory_SetsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := &config.Config{HTTPClients: map[string]config.HTTPClientConfig{
		"ndbc": {UserAgent: "obuoy-feed"},
	}}
	f := NewFactory(cfg.HTTPClient, nil)
	defer f.CloseIdleConnections()

	resp, err := f.Client("ndbc").Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "obuoy-feed", gotUA)
}

func transportOf(t *testing.T, c *http.Client) *http.Transport {
	t.Helper()
	it, ok := c.Transport.(*instrumentedTransport)
	require.True(t, ok)
	tr, ok := it.base.(*http.Transport)
	require.True(t, ok)
	return tr
}

func TestFactory_PerClientIdlePool(t *testing.T) {
	cfg := &config.Config{HTTPClients: map[string]config.HTTPClientConfig{
		"ndbc":    {MaxIdleConnsPerHost: 16},
		"default": {MaxIdleConnsPerHost: 2},
	}}
	f := NewFactory(cfg.HTTPClient, nil)
	defer f.CloseIdleConnections()

	feed := transportOf(t, f.Client("ndbc"))
	other := transportOf(t, f.Client("other"))

	assert.Equal(t, 16, feed.MaxIdleConnsPerHost)
	assert.Equal(t, 2, other.MaxIdleConnsPerHost)
	assert.NotSame(t, feed, other)
	assert.Same(t, feed, transportOf(t, f.Client("NDBC")))
}

func TestFactory_DefaultIdlePool(t *testing.T) {
	f := NewFactory(nil, nil)

	assert.Equal(t, 4, transportOf(t, f.Client("")).MaxIdleConnsPerHost)
}
