package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/hub-companion/internal/hub"
	"github.com/nerrad567/hub-companion/internal/infrastructure/config"
	"github.com/nerrad567/hub-companion/internal/infrastructure/logging"
	"github.com/nerrad567/hub-companion/internal/irrigation"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Connections manages the shared hub connection. hub.Manager satisfies it.
type Connections interface {
	Supervised() bool
	Status(ctx context.Context) (hub.Status, error)
	SetGlobalConnection(ctx context.Context, user *hub.Credentials) error
	UnsetGlobalConnection(ctx context.Context) error
}

// Irrigation is the irrigation controller as seen by the HTTP surface.
// irrigation.Controller satisfies it.
type Irrigation interface {
	ValvePayloads(ctx context.Context) ([]irrigation.ValvePayload, error)
	SaveValve(ctx context.Context, entityID string, settings irrigation.ValveSettings) (irrigation.ValvePayload, error)
	Features(ctx context.Context) (irrigation.Features, error)
	SetFeatures(ctx context.Context, f irrigation.Features) error
}

// HealthChecker is a component reported by /healthz. The database, MQTT and
// InfluxDB clients satisfy it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	HubURL      string
	Logger      *logging.Logger
	Connections Connections
	Irrigation  Irrigation // nil when irrigation is disabled
	Health      map[string]HealthChecker
	Version     string
}

// Server is the companion's HTTP surface.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Server struct {
	cfg         config.APIConfig
	hubURL      string
	logger      *logging.Logger
	connections Connections
	irrigation  Irrigation
	health      map[string]HealthChecker
	version     string
	startTime   time.Time
	server      *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Connections == nil {
		return nil, fmt.Errorf("connection manager is required")
	}

	return &Server{
		cfg:         deps.Config,
		hubURL:      deps.HubURL,
		logger:      deps.Logger,
		connections: deps.Connections,
		irrigation:  deps.Irrigation,
		health:      deps.Health,
		version:     deps.Version,
		startTime:   time.Now(),
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
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
