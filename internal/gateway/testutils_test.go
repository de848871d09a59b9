package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/channelbroker/internal/broker"
	"github.com/rmacdonaldsmith/channelbroker/pkg/channels"
)

// testSetup holds common test dependencies
type testSetup struct {
	Broker *broker.Handle
	Server *Server
	HTTP   *httptest.Server
}

// newTestSetup starts a broker and a gateway behind an httptest server
func newTestSetup(t *testing.T, cfg *Config) *testSetup {
	t.Helper()

	h, err := broker.New(context.Background(), nil)
	require.NoError(t, err)

	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.SecretKey == "" {
		cfg.SecretKey = "test-secret-key"
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = "127.0.0.1:0"
	}

	s, err := NewServer(h, cfg, zap.NewNop())
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		_ = s.Stop(context.Background())
		ts.Close()
		h.Close()
		h.Wait()
	})

	return &testSetup{Broker: h, Server: s, HTTP: ts}
}

// token creates a JWT token for testing
func (ts *testSetup) token(t *testing.T, clientID string, isAdmin bool) string {
	t.Helper()
	token, _, err := ts.Server.Auth().GenerateToken(clientID, isAdmin)
	require.NoError(t, err)
	return token
}

// request performs an HTTP request with an optional bearer token
func (ts *testSetup) request(t *testing.T, method, path, token, contentType string, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.HTTP.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// dial opens a WebSocket connection to path
func (ts *testSetup) dial(t *testing.T, path, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.HTTP.URL, "http") + path
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitForSubscribers waits until the broker table satisfies cond
func (ts *testSetup) waitForSubscribers(t *testing.T, cond func([]channels.SubscriberInfo) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		infos, err := ts.Broker.Snapshot(context.Background())
		return err == nil && cond(infos)
	}, 2*time.Second, 10*time.Millisecond)
}

func hasEntries(n int) func([]channels.SubscriberInfo) bool {
	return func(infos []channels.SubscriberInfo) bool {
		return len(infos) == n
	}
}

func hasTopics(n int) func([]channels.SubscriberInfo) bool {
	return func(infos []channels.SubscriberInfo) bool {
		total := 0
		for _, info := range infos {
			total += len(info.Topics)
		}
		return total == n
	}
}

// readFrame reads one frame with a deadline
func readFrame(t *testing.T, conn *websocket.Conn) (int, []byte) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return mt, data
}
