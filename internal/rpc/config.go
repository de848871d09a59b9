package rpc

import "errors"

// Config holds configuration for the gRPC surface
type Config struct {
	// Enabled turns the gRPC listener on
	Enabled bool `yaml:"enabled" env:"ENABLED"`

	// ListenAddress is the gRPC listen address, "host:port"
	ListenAddress string `yaml:"listen_address" env:"LISTEN_ADDRESS"`

	// MailboxCapacity is the number of messages buffered per Subscribe stream
	MailboxCapacity int `yaml:"mailbox_capacity" env:"MAILBOX_CAPACITY"`

	// MaxMessageSize bounds received and sent gRPC messages
	MaxMessageSize int `yaml:"max_message_size" env:"MAX_MESSAGE_SIZE"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Enabled && c.ListenAddress == "" {
		return errors.New("listen address cannot be empty")
	}
	if c.MaxMessageSize < 0 {
		return errors.New("max message size cannot be negative")
	}
	return nil
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.ListenAddress == "" {
		c.ListenAddress = ":9090"
	}
	if c.MailboxCapacity <= 0 {
		c.MailboxCapacity = 64
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4 * 1024 * 1024 // 4MB
	}
}
