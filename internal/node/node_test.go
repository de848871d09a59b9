package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/channelbroker/internal/config"
	"github.com/rmacdonaldsmith/channelbroker/internal/mailbox"
	"github.com/rmacdonaldsmith/channelbroker/pkg/channels"
	"github.com/rmacdonaldsmith/channelbroker/pkg/message"
	"github.com/rmacdonaldsmith/channelbroker/pkg/topic"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// net/http keeps idle client connections around between tests
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// testConfig binds every listener to an ephemeral localhost port
func testConfig(rpcEnabled bool) *config.Config {
	cfg := config.Default()
	cfg.Gateway.ListenAddress = "127.0.0.1:0"
	cfg.Gateway.SecretKey = "node-test-secret"
	cfg.RPC.Enabled = rpcEnabled
	cfg.RPC.ListenAddress = "127.0.0.1:0"
	return cfg
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)

	cfg := testConfig(false)
	cfg.Log.Format = "xml"
	_, err = New(cfg, nil)
	assert.ErrorContains(t, err, "invalid config")
}

// TestNode_StartStopClose tests the lifecycle methods
func TestNode_StartStopClose(t *testing.T) {
	n, err := New(testConfig(true), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h := n.Health()
	assert.False(t, h.Healthy)
	assert.True(t, h.BrokerAlive)
	assert.Nil(t, n.GatewayAddr())

	require.NoError(t, n.Start(ctx))
	require.NoError(t, n.Start(ctx), "Start is idempotent")

	h = n.Health()
	assert.True(t, h.Healthy)
	assert.True(t, h.Started)
	assert.NotEmpty(t, h.GatewayAddress)
	assert.NotEmpty(t, h.RPCAddress)
	assert.NotNil(t, n.RPCAddr())

	require.NoError(t, n.Stop(ctx))
	require.NoError(t, n.Stop(ctx), "Stop is idempotent")
	require.NoError(t, n.Close())

	h = n.Health()
	assert.False(t, h.Healthy)
	assert.False(t, h.BrokerAlive)
	assert.Equal(t, "node is closed", h.Message)

	assert.ErrorIs(t, n.Start(ctx), ErrNodeClosed)
}

func TestNode_CloseWithoutStart(t *testing.T) {
	n, err := New(testConfig(false), nil)
	require.NoError(t, err)

	require.NoError(t, n.Close())
	<-n.Broker().Done()
}

func TestNode_RPCDisabled(t *testing.T) {
	n, err := New(testConfig(false), nil)
	require.NoError(t, err)
	defer n.Close()

	require.NoError(t, n.Start(context.Background()))
	assert.Nil(t, n.RPCAddr())
	assert.Empty(t, n.Health().RPCAddress)
}

func TestNode_StartFailsOnBusyAddress(t *testing.T) {
	first, err := New(testConfig(false), nil)
	require.NoError(t, err)
	defer first.Close()
	require.NoError(t, first.Start(context.Background()))

	cfg := testConfig(false)
	cfg.Gateway.ListenAddress = first.GatewayAddr().String()
	second, err := New(cfg, nil)
	require.NoError(t, err)
	defer second.Close()

	assert.Error(t, second.Start(context.Background()))
	assert.False(t, second.Health().Started)
}

func TestNode_InProcessBroker(t *testing.T) {
	n, err := New(testConfig(false), nil)
	require.NoError(t, err)
	defer n.Close()

	mb := mailbox.New(4)
	defer mb.Close()
	d := topic.MustParse("/local")

	n.Broker().Subscribe(d, channels.Naked, mb)
	n.Broker().Send(d, message.Text("in-process"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := mb.Receive(ctx)
	require.NoError(t, err)
	data, err := msg.Body().ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "in-process", string(data))
}
