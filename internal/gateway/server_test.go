package gateway

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/channelbroker/pkg/channels"
	"github.com/rmacdonaldsmith/channelbroker/pkg/wire"
)

func TestServer_Health(t *testing.T) {
	ts := newTestSetup(t, nil)

	resp := ts.request(t, http.MethodGet, "/api/v1/health", "", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health wire.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.True(t, health.Healthy)
	assert.True(t, health.BrokerAlive)
}

func TestServer_HealthAfterBrokerStops(t *testing.T) {
	ts := newTestSetup(t, nil)
	clone := ts.Broker.CloneHandle()
	ts.Broker.Close()
	clone.Close()
	ts.Broker.Wait()

	resp := ts.request(t, http.MethodGet, "/api/v1/health", "", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_Root(t *testing.T) {
	ts := newTestSetup(t, nil)

	resp := ts.request(t, http.MethodGet, "/", "", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Login(t *testing.T) {
	ts := newTestSetup(t, nil)

	t.Run("issues_token", func(t *testing.T) {
		resp := ts.request(t, http.MethodPost, "/api/v1/auth/login", "", "application/json", `{"clientId":"alice"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var auth wire.AuthResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&auth))
		assert.Equal(t, "alice", auth.ClientID)

		claims, err := ts.Server.Auth().ValidateToken(auth.Token)
		require.NoError(t, err)
		assert.False(t, claims.IsAdmin)
	})

	t.Run("admin_client", func(t *testing.T) {
		resp := ts.request(t, http.MethodPost, "/api/v1/auth/login", "", "application/json", `{"clientId":"admin"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var auth wire.AuthResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&auth))
		claims, err := ts.Server.Auth().ValidateToken(auth.Token)
		require.NoError(t, err)
		assert.True(t, claims.IsAdmin)
	})

	t.Run("rejects_bad_requests", func(t *testing.T) {
		tests := []struct {
			name        string
			contentType string
			body        string
		}{
			{"wrong_content_type", "text/plain", `{"clientId":"alice"}`},
			{"invalid_json", "application/json", `{`},
			{"short_client_id", "application/json", `{"clientId":"a"}`},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				resp := ts.request(t, http.MethodPost, "/api/v1/auth/login", "", tt.contentType, tt.body)
				assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			})
		}
	})
}

func TestServer_Authentication(t *testing.T) {
	t.Run("publish_requires_token", func(t *testing.T) {
		ts := newTestSetup(t, nil)
		resp := ts.request(t, http.MethodPost, "/api/v1/publish/news", "", "text/plain", "hi")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		resp = ts.request(t, http.MethodPost, "/api/v1/publish/news", "garbage", "text/plain", "hi")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("no_auth_mode_bypasses_client_routes", func(t *testing.T) {
		ts := newTestSetup(t, &Config{NoAuth: true})
		resp := ts.request(t, http.MethodPost, "/api/v1/publish/news", "", "text/plain", "hi")
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	})

	t.Run("admin_routes_never_bypassed", func(t *testing.T) {
		ts := newTestSetup(t, &Config{NoAuth: true})
		resp := ts.request(t, http.MethodGet, "/api/v1/admin/stats", "", "", "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		resp = ts.request(t, http.MethodGet, "/api/v1/admin/stats", ts.token(t, "bob", false), "", "")
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("websocket_token_in_query", func(t *testing.T) {
		ts := newTestSetup(t, nil)
		conn := ts.dial(t, "/ws/rooms/1?token="+ts.token(t, "carol", false), "")
		assert.NotNil(t, conn)
	})
}

func TestServer_RoomWebSocket(t *testing.T) {
	ts := newTestSetup(t, nil)
	token := ts.token(t, "alice", false)

	alice := ts.dial(t, "/ws/rooms/1", token)
	bob := ts.dial(t, "/ws/rooms/1", token)
	ts.waitForSubscribers(t, hasEntries(2))

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("hello room")))

	for _, conn := range []*websocket.Conn{alice, bob} {
		mt, data := readFrame(t, conn)
		assert.Equal(t, websocket.TextMessage, mt)
		assert.Equal(t, "hello room", string(data))
	}

	t.Run("binary_frames_stay_binary", func(t *testing.T) {
		require.NoError(t, bob.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}))

		mt, data := readFrame(t, alice)
		assert.Equal(t, websocket.BinaryMessage, mt)
		assert.Equal(t, []byte{0x01, 0x02}, data)
		readFrame(t, bob)
	})

	t.Run("disconnect_unsubscribes", func(t *testing.T) {
		require.NoError(t, bob.Close())
		ts.waitForSubscribers(t, hasEntries(1))
	})
}

func TestServer_PublishToRoom(t *testing.T) {
	ts := newTestSetup(t, &Config{ChunkSize: 4})
	token := ts.token(t, "alice", false)

	conn := ts.dial(t, "/ws/uploads", token)
	ts.waitForSubscribers(t, hasEntries(1))

	payload := strings.Repeat("0123456789", 10)
	resp := ts.request(t, http.MethodPost, "/api/v1/publish/uploads", token, "application/octet-stream", payload)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var pub wire.PublishResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pub))
	assert.Equal(t, "/uploads", pub.Topic)
	assert.Equal(t, "binary", pub.Kind)
	assert.Equal(t, int64(len(payload)), pub.Bytes)

	mt, data := readFrame(t, conn)
	assert.Equal(t, websocket.BinaryMessage, mt)
	assert.Equal(t, payload, string(data))
}

func TestServer_PublishWithoutSubscribers(t *testing.T) {
	ts := newTestSetup(t, nil)
	token := ts.token(t, "alice", false)

	resp := ts.request(t, http.MethodPost, "/api/v1/publish/empty", token, "text/plain", "nobody listens")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var pub wire.PublishResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pub))
	assert.Equal(t, int64(len("nobody listens")), pub.Bytes)

	t.Run("oversized_upload_still_rejected", func(t *testing.T) {
		ts := newTestSetup(t, &Config{MaxMessageSize: 8, ChunkSize: 4})
		token := ts.token(t, "alice", false)

		resp := ts.request(t, http.MethodPost, "/api/v1/publish/empty", token, "text/plain", strings.Repeat("x", 64))
		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	})
}

func TestServer_PublishTooLarge(t *testing.T) {
	ts := newTestSetup(t, &Config{MaxMessageSize: 8, ChunkSize: 4})
	token := ts.token(t, "alice", false)

	raw := ts.dial(t, "/ws/big", token)
	mux := ts.dial(t, "/mux", token)
	require.NoError(t, mux.WriteJSON(wire.ControlFrame{Action: wire.ActionSubscribe, Topic: "/big"}))
	ts.waitForSubscribers(t, hasTopics(2))

	resp := ts.request(t, http.MethodPost, "/api/v1/publish/big", token, "text/plain", strings.Repeat("x", 64))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	t.Run("streamed_subscriber_gets_no_data_frame", func(t *testing.T) {
		require.NoError(t, raw.SetReadDeadline(time.Now().Add(2*time.Second)))
		mt, data, err := raw.ReadMessage()
		require.Error(t, err, "unexpected frame type=%d data=%q", mt, data)
		assert.True(t, websocket.IsCloseError(err, websocket.CloseInternalServerErr), "got %v", err)
	})

	t.Run("multiplexed_subscriber_skips_truncated_message", func(t *testing.T) {
		resp := ts.request(t, http.MethodPost, "/api/v1/publish/big", token, "text/plain", "ok")
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		mt, frame := readFrame(t, mux)
		require.Equal(t, websocket.TextMessage, mt)
		env, err := wire.DecodeText(frame)
		require.NoError(t, err)
		assert.Equal(t, "ok", string(env.Data))
	})
}

func TestServer_MultiplexedWebSocket(t *testing.T) {
	ts := newTestSetup(t, nil)
	token := ts.token(t, "alice", false)

	conn := ts.dial(t, "/mux", token)
	require.NoError(t, conn.WriteJSON(wire.ControlFrame{Action: wire.ActionSubscribe, Topic: "/a"}))
	require.NoError(t, conn.WriteJSON(wire.ControlFrame{Action: wire.ActionSubscribe, Topic: "/b"}))
	ts.waitForSubscribers(t, hasTopics(2))

	infos, err := ts.Broker.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, channels.Multiplexed, infos[0].Protocol)

	t.Run("text_envelope", func(t *testing.T) {
		resp := ts.request(t, http.MethodPost, "/api/v1/publish/b", token, "text/plain", "for b")
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		mt, frame := readFrame(t, conn)
		require.Equal(t, websocket.TextMessage, mt)
		env, err := wire.DecodeText(frame)
		require.NoError(t, err)
		assert.Equal(t, "/b", env.Topic)
		assert.Equal(t, "for b", string(env.Data))
	})

	t.Run("binary_envelope", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(wire.ControlFrame{
			Action: wire.ActionPublish,
			Topic:  "/a",
			Data:   base64.StdEncoding.EncodeToString([]byte{0xca, 0xfe}),
			Binary: true,
		}))

		mt, frame := readFrame(t, conn)
		require.Equal(t, websocket.BinaryMessage, mt)
		env, err := wire.DecodeBinary(frame)
		require.NoError(t, err)
		assert.Equal(t, "/a", env.Topic)
		assert.Equal(t, []byte{0xca, 0xfe}, env.Data)
	})

	t.Run("cbor_publish", func(t *testing.T) {
		frame, err := wire.EncodeBinary(wire.Envelope{Topic: "/b", Data: []byte("raw")})
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, frame))

		_, reply := readFrame(t, conn)
		env, err := wire.DecodeBinary(reply)
		require.NoError(t, err)
		assert.Equal(t, "/b", env.Topic)
		assert.Equal(t, "raw", string(env.Data))
	})

	t.Run("invalid_frame_reports_error", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"shout","topic":"/a"}`)))

		mt, frame := readFrame(t, conn)
		require.Equal(t, websocket.TextMessage, mt)
		env, err := wire.DecodeText(frame)
		require.NoError(t, err)
		assert.Contains(t, env.Error, "unknown control action")
	})

	t.Run("unsubscribe", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(wire.ControlFrame{Action: wire.ActionUnsubscribe, Topic: "/a"}))
		ts.waitForSubscribers(t, hasTopics(1))
	})
}

func TestServer_StreamSSE(t *testing.T) {
	ts := newTestSetup(t, &Config{KeepaliveInterval: time.Hour})
	token := ts.token(t, "alice", false)

	req, err := http.NewRequest(http.MethodGet, ts.HTTP.URL+"/api/v1/stream/news", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	ts.waitForSubscribers(t, hasEntries(1))
	pub := ts.request(t, http.MethodPost, "/api/v1/publish/news", token, "application/json", `{"headline":"hi"}`)
	require.Equal(t, http.StatusAccepted, pub.StatusCode)

	events := make(chan wire.StreamEvent, 1)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var event wire.StreamEvent
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event) == nil {
				events <- event
				return
			}
		}
	}()

	select {
	case event := <-events:
		assert.Equal(t, "/news", event.Topic)
		assert.Equal(t, "text", event.Kind)
		assert.JSONEq(t, `{"headline":"hi"}`, event.Data)
		assert.NotEmpty(t, event.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no SSE event received")
	}
}

func TestServer_Admin(t *testing.T) {
	ts := newTestSetup(t, nil)
	admin := ts.token(t, "admin", true)

	ts.dial(t, "/ws/rooms/1", ts.token(t, "alice", false))
	ts.waitForSubscribers(t, hasEntries(1))

	t.Run("subscriptions", func(t *testing.T) {
		resp := ts.request(t, http.MethodGet, "/api/v1/admin/subscriptions", admin, "", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var subs wire.AdminSubscriptionsResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&subs))
		require.Len(t, subs.Subscriptions, 1)
		assert.Equal(t, "naked", subs.Subscriptions[0].Protocol)
		assert.Equal(t, []string{"/rooms/1"}, subs.Subscriptions[0].Topics)
	})

	t.Run("stats", func(t *testing.T) {
		resp := ts.request(t, http.MethodGet, "/api/v1/admin/stats", admin, "", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var stats wire.AdminStatsResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
		assert.Equal(t, int64(1), stats.Subscribers)
		assert.Equal(t, int64(1), stats.Connections)
	})
}

func TestServer_InvalidTopic(t *testing.T) {
	ts := newTestSetup(t, nil)
	token := ts.token(t, "alice", false)

	resp := ts.request(t, http.MethodPost, "/api/v1/publish/bad%20topic", token, "text/plain", "x")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(nil, nil, nil)
	assert.Error(t, err)
}

func TestKindFromRequest(t *testing.T) {
	tests := []struct {
		contentType string
		query       string
		want        string
	}{
		{"text/plain; charset=utf-8", "", "text"},
		{"application/json", "", "text"},
		{"application/octet-stream", "", "binary"},
		{"", "", "binary"},
		{"application/octet-stream", "kind=text", "text"},
		{"text/plain", "kind=binary", "binary"},
	}

	for _, tt := range tests {
		t.Run(tt.contentType+"?"+tt.query, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, "/api/v1/publish/x?"+tt.query, nil)
			require.NoError(t, err)
			req.Header.Set("Content-Type", tt.contentType)
			assert.Equal(t, tt.want, kindFromRequest(req).String())
		})
	}
}
