// Package config loads the server configuration.
//
// Values are layered: component defaults, then an optional YAML file, then
// CHANNELBROKER_* environment variables. Command-line flags are applied by the binary
// on top of the result before Validate is called.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/rmacdonaldsmith/channelbroker/internal/broker"
	"github.com/rmacdonaldsmith/channelbroker/internal/gateway"
	"github.com/rmacdonaldsmith/channelbroker/internal/logging"
	"github.com/rmacdonaldsmith/channelbroker/internal/rpc"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "CHANNELBROKER_"

// Config is the complete server configuration
type Config struct {
	Broker  broker.Config  `yaml:"broker" envPrefix:"BROKER_"`
	Gateway gateway.Config `yaml:"gateway" envPrefix:"GATEWAY_"`
	RPC     rpc.Config     `yaml:"rpc" envPrefix:"RPC_"`
	Log     logging.Config `yaml:"log" envPrefix:"LOG_"`
}

// Default returns a configuration with every section defaulted
func Default() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// SetDefaults fills unset fields in every section
func (c *Config) SetDefaults() {
	c.Broker.SetDefaults()
	c.Gateway.SetDefaults()
	c.RPC.SetDefaults()
	c.Log.SetDefaults()
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.Broker.Validate(); err != nil {
		return fmt.Errorf("broker: %w", err)
	}
	if err := c.Gateway.Validate(); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if err := c.RPC.Validate(); err != nil {
		return fmt.Errorf("rpc: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

// Load builds a configuration from defaults, the YAML file at path (skipped when path
// is empty) and the environment. The result is not validated.
func Load(path string) (*Config, error) {
	c := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		if err := DecodeStrict(f, c); err != nil {
			return nil, err
		}
	}

	if err := ApplyEnv(c); err != nil {
		return nil, err
	}

	return c, nil
}

// DecodeStrict decodes YAML from r into out, rejecting unknown keys. An empty
// document leaves out untouched.
func DecodeStrict(r io.Reader, out *Config) error {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields of c from CHANNELBROKER_* environment variables
func ApplyEnv(c *Config) error {
	return applyEnv(c, nil)
}

func applyEnv(c *Config, environment map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix, Environment: environment}
	if err := env.ParseWithOptions(c, opts); err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}
	return nil
}
