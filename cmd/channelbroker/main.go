package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/channelbroker/internal/config"
	"github.com/rmacdonaldsmith/channelbroker/internal/logging"
	"github.com/rmacdonaldsmith/channelbroker/internal/node"
)

const (
	// Application info
	appName    = "channelbroker"
	appVersion = "0.1.0"

	shutdownTimeout = 30 * time.Second
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// options holds the flags that are not part of the config file
type options struct {
	configPath  string
	showVersion bool
	checkConfig bool
}

// parseFlags loads the configuration and applies command-line overrides on top of it.
// Only flags given explicitly override file and environment values.
func parseFlags(args []string) (*config.Config, options, error) {
	var opts options

	fs := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	fs.BoolVar(&opts.showVersion, "version", false, "show version and exit")
	fs.BoolVar(&opts.checkConfig, "check-config", false, "validate the configuration, print it and exit")

	listen := fs.String("listen", "", "gateway listen address (default \":8081\")")
	secret := fs.String("secret", "", "JWT secret key")
	noAuth := fs.Bool("no-auth", false, "disable authentication (development only)")
	rpcEnabled := fs.Bool("rpc", false, "enable the gRPC listener")
	rpcListen := fs.String("rpc-listen", "", "gRPC listen address (default \":9090\")")
	queueSize := fs.Int("queue-size", 0, "broker command queue size")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error")
	logFormat := fs.String("log-format", "", "log format: console, json")

	if err := fs.Parse(args); err != nil {
		return nil, opts, err
	}
	if fs.NArg() > 0 {
		return nil, opts, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	if opts.showVersion {
		return nil, opts, nil
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, opts, err
	}

	if fs.Changed("listen") {
		cfg.Gateway.ListenAddress = *listen
	}
	if fs.Changed("secret") {
		cfg.Gateway.SecretKey = *secret
	}
	if fs.Changed("no-auth") {
		cfg.Gateway.NoAuth = *noAuth
	}
	if fs.Changed("rpc") {
		cfg.RPC.Enabled = *rpcEnabled
	}
	if fs.Changed("rpc-listen") {
		cfg.RPC.ListenAddress = *rpcListen
	}
	if fs.Changed("queue-size") {
		cfg.Broker.CommandQueueSize = *queueSize
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = *logLevel
	}
	if fs.Changed("log-format") {
		cfg.Log.Format = *logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, opts, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, opts, nil
}

func run(args []string, stdout io.Writer) error {
	cfg, opts, err := parseFlags(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	if opts.showVersion {
		fmt.Fprintf(stdout, "%s v%s\n", appName, appVersion)
		return nil
	}
	if opts.checkConfig {
		fmt.Fprintf(stdout, "gateway: %s (auth: %v)\n", cfg.Gateway.ListenAddress, !cfg.Gateway.NoAuth)
		fmt.Fprintf(stdout, "rpc: %s (enabled: %v)\n", cfg.RPC.ListenAddress, cfg.RPC.Enabled)
		fmt.Fprintf(stdout, "broker: queue %d, relay capacity %d, chunk timeout %s\n",
			cfg.Broker.CommandQueueSize, cfg.Broker.RelayCapacity, cfg.Broker.ChunkTimeout)
		return nil
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Gateway.NoAuth {
		logger.Warn("authentication disabled; every request is trusted")
	}

	n, err := node.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := n.Start(ctx); err != nil {
		_ = n.Close()
		return err
	}
	logger.Info("started",
		zap.String("version", appVersion),
		zap.Stringer("gateway", n.GatewayAddr()),
		zap.Bool("rpc", cfg.RPC.Enabled))

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-n.Errors():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := n.Stop(shutdownCtx); err != nil {
		logger.Warn("error during shutdown", zap.Error(err))
	}

	return runErr
}
