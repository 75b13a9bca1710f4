package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func dialHub(t *testing.T, srv *httptest.Server, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	return websocket.DefaultDialer.Dial(url, header)
}

func TestHub_BroadcastReachesClients(t *testing.T) {
	hub := NewHub(context.Background(), zap.NewNop().Sugar())
	hub.Start()
	defer hub.Stop()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conns := make([]*websocket.Conn, 2)
	for i := range conns {
		conn, _, err := dialHub(t, srv, nil)
		require.NoError(t, err)
		defer conn.Close()
		conns[i] = conn
	}
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Broadcast(MessageTypeObservation, map[string]string{"id": "41001"}))

	for _, conn := range conns {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var msg struct {
			Type string            `json:"type"`
			Data map[string]string `json:"data"`
		}
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, MessageTypeObservation, msg.Type)
		assert.Equal(t, "41001", msg.Data["id"])
	}
}

func TestHub_ClientDisconnectUnregisters(t *testing.T) {
	hub := NewHub(context.Background(), zap.NewNop().Sugar())
	hub.Start()
	defer hub.Stop()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn, _, err := dialHub(t, srv, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_RejectsCrossOrigin(t *testing.T) {
	hub := NewHub(context.Background(), zap.NewNop().Sugar())
	hub.Start()
	defer hub.Stop()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	_, resp, err := dialHub(t, srv, http.Header{"Origin": []string{"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHub_StopClosesConnections(t *testing.T) {
	hub := NewHub(context.Background(), zap.NewNop().Sugar())
	hub.Start()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn, _, err := dialHub(t, srv, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Stop()
	assert.Equal(t, 0, hub.ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)

	// Broadcasting after stop does not block
	assert.NoError(t, hub.Broadcast(MessageTypeObservation, nil))
}

func TestHub_StopWithoutStart(t *testing.T) {
	hub := NewHub(context.Background(), zap.NewNop().Sugar())
	done := make(chan struct{})
	go func() {
		hub.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a hub that was never started")
	}
}
