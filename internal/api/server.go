// Package api provides the HTTP REST API and WebSocket stream for the bridge.
//
// It exposes read access to the device/scene registry and live state, a
// command surface mirroring the MQTT command topics, transition history,
// and bridge diagnostics. WebSocket clients receive the same state, scene,
// and connection messages the bridge publishes to MQTT.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/fibaro-bridge/internal/bridges/fibaro"
	"github.com/nerrad567/fibaro-bridge/internal/history"
	"github.com/nerrad567/fibaro-bridge/internal/infrastructure/config"
	"github.com/nerrad567/fibaro-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/fibaro-bridge/internal/registry"
	"github.com/nerrad567/fibaro-bridge/internal/state"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Controller is the slice of the bridge the API drives. Satisfied by
// *fibaro.Bridge.
type Controller interface {
	Control(key string, action fibaro.Action, level int) error
	ActivateScene(key string) error
	RefreshAll() error
	GetStats() fibaro.Stats
	ChannelStates() (command, refresh fibaro.ChannelState)
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Registry *registry.Registry
	States   *state.Store
	Bridge   Controller         // optional: commands return 503 without it
	History  history.Repository // optional: history endpoints return 404 without it
	Version  string
}

// Server is the bridge's HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	logger   *logging.Logger
	registry *registry.Registry
	states   *state.Store
	bridge   Controller
	history  history.Repository
	version  string
	server   *http.Server
	hub      *Hub
	cancel   context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if deps.States == nil {
		return nil, fmt.Errorf("state store is required")
	}

	return &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		logger:   deps.Logger,
		registry: deps.Registry,
		states:   deps.States,
		bridge:   deps.Bridge,
		history:  deps.History,
		version:  deps.Version,
		hub:      NewHub(deps.WS, deps.Logger),
	}, nil
}

// SetBridge sets the bridge controller. This is called after both the
// API server and the bridge are created, since the bridge's publisher
// fan-out includes the server's WebSocket stream.
func (s *Server) SetBridge(bridge Controller) {
	s.bridge = bridge
}

// StreamPublisher returns a fibaro.Publisher that broadcasts every
// published message to subscribed WebSocket clients. Wire it into the
// bridge's publisher fan-out alongside the MQTT link.
func (s *Server) StreamPublisher() fibaro.Publisher {
	return &streamPublisher{hub: s.hub}
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub, and launches the HTTP
// listener in a background goroutine. The server is stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
