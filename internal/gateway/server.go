package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/channelbroker/internal/broker"
	"github.com/rmacdonaldsmith/channelbroker/pkg/channels"
)

// Broker is what the gateway needs from the broker: the public handle plus counters and
// liveness
type Broker interface {
	channels.Broker
	Stats() broker.Stats
	Done() <-chan struct{}
}

// Server is the HTTP and WebSocket front end of the broker
type Server struct {
	broker     Broker
	cfg        Config
	logger     *zap.Logger
	auth       *JWTAuth
	middleware *Middleware
	upgrader   websocket.Upgrader
	router     chi.Router

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener

	connections atomic.Int64

	// ctx ends streaming connections when the server stops
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a gateway in front of b. A nil cfg uses defaults.
func NewServer(b Broker, cfg *Config, logger *zap.Logger) (*Server, error) {
	if b == nil {
		return nil, errors.New("broker cannot be nil")
	}
	var c Config
	if cfg != nil {
		c = *cfg
	}
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gateway config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	auth := NewJWTAuth(c.SecretKey, c.TokenTTL)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		ctx:        ctx,
		cancel:     cancel,
		broker:     b,
		cfg:        c,
		logger:     logger,
		auth:       auth,
		middleware: NewMiddleware(auth, c.NoAuth, logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.router = s.setupRoutes()

	if c.NoAuth {
		logger.Warn("authentication disabled for non-admin routes")
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.middleware.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.middleware.CORS)

	r.Get("/", s.handleRoot)

	// WebSocket connections
	r.With(s.middleware.AuthRequired).Get("/ws/*", s.handleRoom)
	r.With(s.middleware.AuthRequired).Get("/mux", s.handleMux)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.middleware.AuthRequired)
			r.Post("/publish/*", s.handlePublish)
			r.Get("/stream/*", s.handleStream)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.middleware.AdminRequired)
			r.Get("/admin/subscriptions", s.handleAdminSubscriptions)
			r.Get("/admin/stats", s.handleAdminStats)
		})
	})

	return r
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Auth returns the token issuer used by the gateway
func (s *Server) Auth() *JWTAuth {
	return s.auth
}

// connContext returns a context that ends with the request or when the server stops
func (s *Server) connContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(r.Context())
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Connections returns the number of open WebSocket and SSE connections
func (s *Server) Connections() int64 {
	return s.connections.Load()
}

// Listen binds the configured address without serving yet
func (s *Server) Listen() (net.Listener, error) {
	l, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddress, err)
	}
	return l, nil
}

// Serve serves HTTP on l until Stop is called. It returns nil after a clean shutdown.
func (s *Server) Serve(l net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	s.mu.Lock()
	s.httpServer = srv
	s.listener = l
	s.mu.Unlock()

	s.logger.Info("gateway listening", zap.String("address", l.Addr().String()))
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound address, or nil before Serve
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop ends every streaming connection and gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
