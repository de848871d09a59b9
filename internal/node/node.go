package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/channelbroker/internal/broker"
	"github.com/rmacdonaldsmith/channelbroker/internal/config"
	"github.com/rmacdonaldsmith/channelbroker/internal/gateway"
	"github.com/rmacdonaldsmith/channelbroker/internal/logging"
	"github.com/rmacdonaldsmith/channelbroker/internal/rpc"
)

var (
	// ErrNodeClosed is returned when starting a node that has been stopped or closed
	ErrNodeClosed = errors.New("node is closed")
)

// Node runs a broker together with the HTTP/WebSocket gateway and, when enabled, the
// gRPC surface.
//
// Lifecycle: New builds every component, Start binds the listeners and serves, Stop
// shuts the listeners down and then stops the broker. A stopped node cannot be
// restarted. Start, Stop and Close are idempotent.
type Node struct {
	mu     sync.RWMutex
	cfg    *config.Config
	logger *zap.Logger

	broker  *broker.Handle
	gateway *gateway.Server
	rpc     *rpc.Server // nil when disabled

	gatewayAddr net.Addr
	rpcAddr     net.Addr

	started bool
	closed  bool

	serving sync.WaitGroup
	errs    chan error
}

// Health is a point-in-time view of the node
type Health struct {
	Healthy        bool         `json:"healthy"`
	Started        bool         `json:"started"`
	BrokerAlive    bool         `json:"brokerAlive"`
	GatewayAddress string       `json:"gatewayAddress,omitempty"`
	RPCAddress     string       `json:"rpcAddress,omitempty"`
	Connections    int64        `json:"connections"`
	Stats          broker.Stats `json:"stats"`
	Message        string       `json:"message"`
}

// New creates a node from cfg. The broker is running when New returns, so in-process
// subscribers can use Broker before Start.
func New(cfg *config.Config, logger *zap.Logger) (*Node, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b, err := broker.New(context.Background(), &cfg.Broker, broker.WithLogger(logging.Component(logger, "broker")))
	if err != nil {
		return nil, fmt.Errorf("failed to create broker: %w", err)
	}

	gw, err := gateway.NewServer(b, &cfg.Gateway, logging.Component(logger, "gateway"))
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	n := &Node{
		cfg:     cfg,
		logger:  logger,
		broker:  b,
		gateway: gw,
		errs:    make(chan error, 2),
	}

	if cfg.RPC.Enabled {
		n.rpc, err = rpc.NewServer(b, &cfg.RPC, logging.Component(logger, "rpc"))
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to create rpc server: %w", err)
		}
	}

	return n, nil
}

// Start binds the gateway (and gRPC) listeners and serves them in the background
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrNodeClosed
	}
	if n.started {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	gl, err := n.gateway.Listen()
	if err != nil {
		return err
	}

	var rl net.Listener
	if n.rpc != nil {
		rl, err = n.rpc.Listen()
		if err != nil {
			gl.Close()
			return err
		}
	}

	n.gatewayAddr = gl.Addr()
	n.serve("gateway", func() error { return n.gateway.Serve(gl) })

	if rl != nil {
		n.rpcAddr = rl.Addr()
		n.serve("rpc", func() error { return n.rpc.Serve(rl) })
	}

	n.started = true
	n.logger.Info("node started",
		zap.Stringer("gateway", n.gatewayAddr),
		zap.Bool("rpc", n.rpc != nil))
	return nil
}

func (n *Node) serve(name string, fn func() error) {
	n.serving.Add(1)
	go func() {
		defer n.serving.Done()
		if err := fn(); err != nil {
			n.logger.Error("server failed", zap.String("server", name), zap.Error(err))
			select {
			case n.errs <- fmt.Errorf("%s: %w", name, err):
			default:
			}
		}
	}()
}

// Errors reports servers that stopped with an error
func (n *Node) Errors() <-chan error {
	return n.errs
}

// Stop shuts the listeners down, waiting for in-flight requests until ctx is done, and
// then stops the broker
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true
	n.started = false

	var errs []error
	if err := n.gateway.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop gateway: %w", err))
	}
	if n.rpc != nil {
		if err := n.rpc.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop rpc server: %w", err))
		}
	}
	n.serving.Wait()

	n.broker.Close()
	waited := make(chan struct{})
	go func() {
		n.broker.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("broker did not stop: %w", ctx.Err()))
	}

	n.logger.Info("node stopped")
	return errors.Join(errs...)
}

// Close stops the node without a deadline
func (n *Node) Close() error {
	return n.Stop(context.Background())
}

// Broker returns the node's broker handle. Callers that keep it beyond the node's
// lifetime should take their own CloneHandle.
func (n *Node) Broker() *broker.Handle {
	return n.broker
}

// GatewayAddr returns the bound gateway address, or nil before Start
func (n *Node) GatewayAddr() net.Addr {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.gatewayAddr
}

// RPCAddr returns the bound gRPC address, or nil when gRPC is disabled or before Start
func (n *Node) RPCAddr() net.Addr {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.rpcAddr
}

// Health reports the state of the node
func (n *Node) Health() Health {
	n.mu.RLock()
	defer n.mu.RUnlock()

	h := Health{
		Started:     n.started,
		Connections: n.gateway.Connections(),
		Stats:       n.broker.Stats(),
	}
	select {
	case <-n.broker.Done():
	default:
		h.BrokerAlive = true
	}
	if n.gatewayAddr != nil {
		h.GatewayAddress = n.gatewayAddr.String()
	}
	if n.rpcAddr != nil {
		h.RPCAddress = n.rpcAddr.String()
	}

	switch {
	case n.closed:
		h.Message = "node is closed"
	case !h.BrokerAlive:
		h.Message = "broker has stopped"
	case !n.started:
		h.Message = "node is not started"
	default:
		h.Healthy = true
		h.Message = "all components healthy"
	}
	return h
}
