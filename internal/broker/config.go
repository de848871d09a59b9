package broker

import (
	"errors"
	"time"
)

var (
	// ErrInvalidQueueSize is returned when the command queue size is negative
	ErrInvalidQueueSize = errors.New("command queue size cannot be negative")
	// ErrInvalidRelayCapacity is returned when the relay capacity is negative
	ErrInvalidRelayCapacity = errors.New("relay capacity cannot be negative")
	// ErrInvalidCleanupInterval is returned when the cleanup interval is negative
	ErrInvalidCleanupInterval = errors.New("cleanup interval cannot be negative")
)

// Config holds configuration for the broker actor and its forwarders
type Config struct {
	// CommandQueueSize bounds the number of commands waiting for the actor
	CommandQueueSize int `yaml:"command_queue_size" env:"COMMAND_QUEUE_SIZE"`

	// RelayCapacity is the number of chunks buffered per subscriber per message
	RelayCapacity int `yaml:"relay_capacity" env:"RELAY_CAPACITY"`

	// ChunkTimeout bounds how long a forwarder waits on one slow subscriber for one chunk
	// before dropping that subscriber from the message
	ChunkTimeout time.Duration `yaml:"chunk_timeout" env:"CHUNK_TIMEOUT"`

	// CleanupEvery runs a closed-mailbox sweep after this many commands
	CleanupEvery int `yaml:"cleanup_every" env:"CLEANUP_EVERY"`

	// CleanupInterval additionally sweeps on a timer. Zero disables the timer.
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`

	// InitialCapacity pre-sizes the subscription table
	InitialCapacity int `yaml:"initial_capacity" env:"INITIAL_CAPACITY"`
}

// DefaultConfig returns a configuration with every default applied
func DefaultConfig() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.CommandQueueSize <= 0 {
		c.CommandQueueSize = 1024
	}
	if c.RelayCapacity <= 0 {
		c.RelayCapacity = 2
	}
	if c.ChunkTimeout <= 0 {
		c.ChunkTimeout = 5 * time.Second
	}
	if c.CleanupEvery <= 0 {
		c.CleanupEvery = 1
	}
	if c.InitialCapacity <= 0 {
		c.InitialCapacity = 100
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.CommandQueueSize < 0 {
		return ErrInvalidQueueSize
	}
	if c.RelayCapacity < 0 {
		return ErrInvalidRelayCapacity
	}
	if c.CleanupInterval < 0 {
		return ErrInvalidCleanupInterval
	}
	return nil
}
