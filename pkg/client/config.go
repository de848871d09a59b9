package client

import "time"

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of the gateway (e.g., "http://localhost:8081")
	ServerURL string

	// ClientID is the identifier sent on login
	ClientID string

	// Timeout bounds plain request/response calls. Publish, Subscribe and Stream
	// are bounded by their context only.
	Timeout time.Duration
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}
