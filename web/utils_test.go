package web

import (
	"crypto/tls"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		contains string
		absent   string
	}{
		{"mongo uri", "dial mongodb://user:pw@db:27017 failed", "[DATABASE_CONNECTION]", "user:pw"},
		{"private ip", "connect 10.1.2.3:6379 refused", "[PRIVATE_IP]", "10.1.2.3"},
		{"secret", "bad password=hunter2", "password=[REDACTED]", "hunter2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizeErrorMessage(tt.input)
			assert.Contains(t, got, tt.contains)
			assert.NotContains(t, got, tt.absent)
		})
	}

	long := sanitizeErrorMessage(strings.Repeat("x", 500))
	assert.Len(t, long, 200)
	assert.True(t, strings.HasSuffix(long, "..."))
}

func TestSanitizeLogValue(t *testing.T) {
	assert.Equal(t, `/a\nINFO fake`, sanitizeLogValue("/a\nINFO fake"))
	assert.Equal(t, "ab", sanitizeLogValue("a\x00b"))
}

func TestWriteError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/buoys", nil)
	req = req.WithContext(WithRequestID(req.Context(), "req-1"))
	rr := httptest.NewRecorder()

	writeError(rr, req, http.StatusInternalServerError, "Failed to reach mongodb://db:27017", nil, zap.NewNop().Sugar())

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	var body errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "req-1", body.RequestID)
	assert.Equal(t, "Failed to reach [DATABASE_CONNECTION]", body.Error)
}

func TestGetRealIP(t *testing.T) {
	trusted := []string{"10.0.0.0/8", "192.168.1.5"}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.1.1:5000"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.1.1.1")

	assert.Equal(t, "10.1.1.1", getRealIP(req, false, trusted), "proxy headers ignored unless trusted")
	assert.Equal(t, "203.0.113.7", getRealIP(req, true, trusted))

	req.RemoteAddr = "198.51.100.2:5000"
	assert.Equal(t, "198.51.100.2", getRealIP(req, true, trusted), "untrusted peer")

	req.RemoteAddr = "192.168.1.5:1234"
	req.Header.Del("X-Forwarded-For")
	req.Header.Set("X-Real-IP", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", getRealIP(req, true, trusted))
}

func TestIsHTTPS(t *testing.T) {
	trusted := []string{"10.0.0.0/8"}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:4000"
	assert.False(t, isHTTPS(req, true, trusted))

	req.Header.Set("X-Forwarded-Proto", "HTTPS")
	assert.True(t, isHTTPS(req, true, trusted))
	assert.False(t, isHTTPS(req, false, trusted))

	req.RemoteAddr = "203.0.113.1:4000"
	assert.False(t, isHTTPS(req, true, trusted))

	req.TLS = &tls.ConnectionState{}
	assert.True(t, isHTTPS(req, false, nil))
}
