package rpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rmacdonaldsmith/channelbroker/internal/broker"
	"github.com/rmacdonaldsmith/channelbroker/pkg/message"
	"github.com/rmacdonaldsmith/channelbroker/pkg/topic"
)

type rpcSetup struct {
	Broker *broker.Handle
	Server *Server
	Client *Client
}

func newRPCSetup(t *testing.T) *rpcSetup {
	t.Helper()

	h, err := broker.New(context.Background(), nil)
	require.NoError(t, err)

	s, err := NewServer(h, &Config{Enabled: true, ListenAddress: "bufnet"}, zap.NewNop())
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.Serve(lis) }()

	c, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)

	t.Cleanup(func() {
		c.Close()
		_ = s.Stop(context.Background())
		h.Close()
		h.Wait()
	})

	return &rpcSetup{Broker: h, Server: s, Client: c}
}

func (rs *rpcSetup) waitForSubscribers(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		subs, err := rs.Broker.Snapshot(context.Background())
		return err == nil && len(subs) == n
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRPC_PublishSubscribe(t *testing.T) {
	rs := newRPCSetup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := rs.Client.Subscribe(ctx, []string{"/rooms/1"}, false)
	require.NoError(t, err)
	rs.waitForSubscribers(t, 1)

	require.NoError(t, rs.Client.Publish(ctx, "/rooms/1", []byte("hello"), false))

	d, err := sub.Recv()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(d.Data))
	assert.False(t, d.Binary)
	assert.Empty(t, d.Topic, "naked deliveries carry no topic")
}

func TestRPC_MultiplexedBinary(t *testing.T) {
	rs := newRPCSetup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := rs.Client.Subscribe(ctx, []string{"/a", "/b"}, true)
	require.NoError(t, err)
	rs.waitForSubscribers(t, 1)

	payload := []byte{0x00, 0xff, 0x10}
	require.NoError(t, rs.Client.Publish(ctx, "/b", payload, true))

	d, err := sub.Recv()
	require.NoError(t, err)
	assert.Equal(t, "/b", d.Topic)
	assert.Equal(t, payload, d.Data)
	assert.True(t, d.Binary)
}

func TestRPC_TruncatedMessageSkipped(t *testing.T) {
	rs := newRPCSetup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := rs.Client.Subscribe(ctx, []string{"/rooms/1"}, false)
	require.NoError(t, err)
	rs.waitForSubscribers(t, 1)

	room := topic.MustParse("/rooms/1")
	body := message.NewBody(1)
	require.NoError(t, body.Send(ctx, message.ChunkString("half")))
	body.CloseWithError(errors.New("producer went away"))
	rs.Broker.Send(room, message.Stream(message.Header{}, body))
	rs.Broker.Send(room, message.Text("whole"))

	d, err := sub.Recv()
	require.NoError(t, err)
	assert.Equal(t, "whole", string(d.Data))
}

func TestRPC_InvalidArguments(t *testing.T) {
	rs := newRPCSetup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := rs.Client.Publish(ctx, "   ", []byte("x"), false)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	sub, err := rs.Client.Subscribe(ctx, nil, false)
	require.NoError(t, err)
	_, err = sub.Recv()
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestRPC_UnavailableAfterBrokerStops(t *testing.T) {
	rs := newRPCSetup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rs.Broker.Close()
	rs.Broker.Wait()

	err := rs.Client.Publish(ctx, "/rooms/1", []byte("x"), false)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestRPC_SubscriptionRemovedOnCancel(t *testing.T) {
	rs := newRPCSetup(t)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := rs.Client.Subscribe(ctx, []string{"/rooms/1"}, false)
	require.NoError(t, err)
	rs.waitForSubscribers(t, 1)

	cancel()
	rs.waitForSubscribers(t, 0)
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(nil, nil, nil)
	assert.Error(t, err)

	h, err := broker.New(context.Background(), nil)
	require.NoError(t, err)
	defer func() {
		h.Close()
		h.Wait()
	}()

	_, err = NewServer(h, &Config{Enabled: true}, nil)
	assert.Error(t, err)

	_, err = NewServer(h, &Config{MaxMessageSize: -1}, nil)
	assert.Error(t, err)
}
