package gateway

import (
	"errors"
	"time"
)

// DefaultSecretKey signs tokens when no secret is configured. Development only.
const DefaultSecretKey = "channelbroker-dev-secret-change-in-production"

var (
	// ErrEmptyListenAddress is returned when the listen address is empty
	ErrEmptyListenAddress = errors.New("listen address cannot be empty")
	// ErrInvalidChunkSize is returned when the publish chunk size is not positive
	ErrInvalidChunkSize = errors.New("chunk size must be positive")
)

// Config holds configuration for the HTTP/WebSocket gateway
type Config struct {
	// ListenAddress is the address the gateway listens on, "host:port"
	ListenAddress string `yaml:"listen_address" env:"LISTEN_ADDRESS"`

	// SecretKey signs and verifies JWT tokens
	SecretKey string `yaml:"secret_key" env:"SECRET_KEY"`

	// NoAuth bypasses authentication on non-admin routes (development mode)
	NoAuth bool `yaml:"no_auth" env:"NO_AUTH"`

	// TokenTTL is the lifetime of issued tokens
	TokenTTL time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`

	// MailboxCapacity is the number of messages buffered per connection
	MailboxCapacity int `yaml:"mailbox_capacity" env:"MAILBOX_CAPACITY"`

	// ChunkSize is the size of body chunks read from publish requests
	ChunkSize int `yaml:"chunk_size" env:"CHUNK_SIZE"`

	// MaxMessageSize bounds publish request bodies and inbound WebSocket frames
	MaxMessageSize int64 `yaml:"max_message_size" env:"MAX_MESSAGE_SIZE"`

	// PingInterval is the WebSocket keepalive period
	PingInterval time.Duration `yaml:"ping_interval" env:"PING_INTERVAL"`

	// WriteTimeout bounds a single WebSocket write
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`

	// KeepaliveInterval is the SSE comment keepalive period
	KeepaliveInterval time.Duration `yaml:"keepalive_interval" env:"KEEPALIVE_INTERVAL"`
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.ListenAddress == "" {
		c.ListenAddress = ":8081"
	}
	if c.SecretKey == "" {
		c.SecretKey = DefaultSecretKey
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 24 * time.Hour
	}
	if c.MailboxCapacity <= 0 {
		c.MailboxCapacity = 64
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 32 * 1024
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 16 * 1024 * 1024 // 16MB
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 15 * time.Second
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return ErrEmptyListenAddress
	}
	if c.ChunkSize < 0 {
		return ErrInvalidChunkSize
	}
	return nil
}
