package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()

	assert.Equal(t, 1024, c.Broker.CommandQueueSize)
	assert.Equal(t, ":8081", c.Gateway.ListenAddress)
	assert.Equal(t, ":9090", c.RPC.ListenAddress)
	assert.False(t, c.RPC.Enabled)
	assert.Equal(t, "info", c.Log.Level)
	assert.NoError(t, c.Validate())
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channelbroker.yaml")
	content := `
broker:
  command_queue_size: 32
  chunk_timeout: 2s
gateway:
  listen_address: "127.0.0.1:9000"
  no_auth: true
rpc:
  enabled: true
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 32, c.Broker.CommandQueueSize)
	assert.Equal(t, 2*time.Second, c.Broker.ChunkTimeout)
	assert.Equal(t, 2, c.Broker.RelayCapacity, "unset keys keep their defaults")
	assert.Equal(t, "127.0.0.1:9000", c.Gateway.ListenAddress)
	assert.True(t, c.Gateway.NoAuth)
	assert.True(t, c.RPC.Enabled)
	assert.Equal(t, "json", c.Log.Format)
	assert.NoError(t, c.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDecodeStrict(t *testing.T) {
	t.Run("unknown key", func(t *testing.T) {
		c := Default()
		err := DecodeStrict(strings.NewReader("broker:\n  queue: 3\n"), c)
		assert.Error(t, err)
	})

	t.Run("empty document", func(t *testing.T) {
		c := Default()
		require.NoError(t, DecodeStrict(strings.NewReader(""), c))
		assert.Equal(t, Default(), c)
	})
}

func TestApplyEnv(t *testing.T) {
	c := Default()
	err := applyEnv(c, map[string]string{
		"CHANNELBROKER_BROKER_RELAY_CAPACITY": "8",
		"CHANNELBROKER_GATEWAY_SECRET_KEY":    "from-env",
		"CHANNELBROKER_GATEWAY_PING_INTERVAL": "5s",
		"CHANNELBROKER_RPC_LISTEN_ADDRESS":    ":7000",
		"CHANNELBROKER_LOG_LEVEL":             "warn",
		"UNRELATED_BROKER_RELAY_CAPACITY":     "99",
	})
	require.NoError(t, err)

	assert.Equal(t, 8, c.Broker.RelayCapacity)
	assert.Equal(t, "from-env", c.Gateway.SecretKey)
	assert.Equal(t, 5*time.Second, c.Gateway.PingInterval)
	assert.Equal(t, ":7000", c.RPC.ListenAddress)
	assert.Equal(t, "warn", c.Log.Level)
	assert.Equal(t, 1024, c.Broker.CommandQueueSize)
}

func TestApplyEnv_InvalidValue(t *testing.T) {
	c := Default()
	err := applyEnv(c, map[string]string{"CHANNELBROKER_BROKER_RELAY_CAPACITY": "many"})
	assert.Error(t, err)
}

func TestValidate_WrapsSection(t *testing.T) {
	c := Default()
	c.Log.Format = "xml"
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log:")
}
