// Hub Companion - irrigation and mirroring companion for a home-automation hub.
//
// The companion keeps one shared connection to the hub, caches its
// registry, decides when to open irrigation valves from the weather
// forecast, and optionally mirrors entity states to MQTT and InfluxDB.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/hub-companion/migrations"

	"github.com/nerrad567/hub-companion/internal/api"
	"github.com/nerrad567/hub-companion/internal/hub"
	"github.com/nerrad567/hub-companion/internal/infrastructure/config"
	"github.com/nerrad567/hub-companion/internal/infrastructure/database"
	"github.com/nerrad567/hub-companion/internal/infrastructure/influxdb"
	"github.com/nerrad567/hub-companion/internal/infrastructure/logging"
	"github.com/nerrad567/hub-companion/internal/infrastructure/metrics"
	"github.com/nerrad567/hub-companion/internal/infrastructure/mqtt"
	"github.com/nerrad567/hub-companion/internal/irrigation"
	"github.com/nerrad567/hub-companion/internal/kvstore"
	"github.com/nerrad567/hub-companion/internal/mirror"
	"github.com/nerrad567/hub-companion/internal/registry"
	"github.com/nerrad567/hub-companion/internal/scheduler"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// shutdownTimeout bounds unsubscribing from the hub on shutdown.
const shutdownTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting hub companion",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "supervised", cfg.Hub.Supervised())

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Database and key-value store
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	store := kvstore.New(db.DB)

	if cfg.Metrics.Enabled {
		metrics.Init(db.DB, log.Logger)
	}

	sched := scheduler.New(scheduler.RealClock{}, log.Component("scheduler"))
	defer sched.Stop()

	// Hub connection and registry
	manager := hub.NewManager(cfg.Hub, store, hub.WithLogger(log.Component("hub")))
	defer func() {
		log.Info("closing hub connection")
		if closeErr := manager.Close(); closeErr != nil {
			log.Error("error closing hub connection", "error", closeErr)
		}
	}()

	reg := registry.New(registry.SharedConnection(manager),
		registry.WithLogger(log.Component("registry")),
		registry.WithDebounce(cfg.Registry.GetDebounce()),
		registry.WithRebuildTimeout(cfg.Registry.GetRebuildTimeout()),
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		reg.Close(closeCtx)
	}()

	// MQTT (optional)
	mqttClient, err := connectMQTT(cfg, log)
	if err != nil {
		return err
	}
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	}

	// InfluxDB (optional)
	influxClient, err := connectInfluxDB(ctx, cfg, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	// Mirror. A registry rebuild emits no per-state events, so the mirror
	// syncs after every rebuild and every broker reconnect.
	var signals registry.Signals = manager
	if m := newMirror(reg, mqttClient, influxClient, log); m != nil {
		m.Start()
		defer m.Stop()
		defer m.AttachHub(manager)()
		signals = afterSignals{Signals: manager, then: func() { m.Sync() }}
		if mqttClient != nil {
			mqttClient.SetOnConnect(func() {
				n := m.Sync()
				log.Info("MQTT connected, states mirrored", "states", n)
			})
		}
	}
	defer reg.Attach(signals)()
	defer manager.On(hub.SignalInitiallyConnected, func() {
		log.Info("hub ready", "entities", len(reg.GetEntities(nil)), "areas", len(reg.GetAreas(nil)))
	})()

	// Irrigation
	var controller *irrigation.Controller
	if cfg.Irrigation.Enabled {
		controller, err = startIrrigation(cfg, reg, manager, store, sched, mqttClient, influxClient, log)
		if err != nil {
			return fmt.Errorf("starting irrigation: %w", err)
		}
		defer controller.Stop()
	} else {
		log.Info("irrigation disabled")
	}

	// Verify all connections are healthy
	checks := healthCheckers(db, mqttClient, influxClient)
	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// HTTP surface
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:      cfg.API,
			HubURL:      cfg.Hub.URL,
			Logger:      log.Component("api"),
			Connections: manager,
			Health:      checks,
			Version:     version,
		}
		if controller != nil {
			deps.Irrigation = controller
		}
		srv, err := api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	// The shared connection retries until it authenticates or ctx ends.
	go globalConnect(ctx, manager, log)

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	log.Info("hub companion stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses COMPANION_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("COMPANION_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig reads path. A missing default file falls back to the built-in
// configuration, which is how the companion runs as a supervised add-on.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if path != defaultConfigPath || !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	cfg = config.Default()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating default config: %w", err)
	}
	return cfg, nil
}

// connectMQTT connects to the broker. It returns nil when MQTT is disabled.
func connectMQTT(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if errors.Is(err, mqtt.ErrDisabled) {
		log.Info("MQTT disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}

	client.SetLogger(log.Component("mqtt"))
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	return client, nil
}

// connectInfluxDB connects to InfluxDB. It returns nil when disabled.
func connectInfluxDB(ctx context.Context, cfg *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	if !cfg.InfluxDB.Enabled {
		log.Info("InfluxDB disabled")
		return nil, nil
	}

	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client, nil
}

// newMirror builds the registry mirror for whichever sinks are enabled.
// It returns nil when there is no sink.
func newMirror(reg *registry.Registry, mqttClient *mqtt.Client, influxClient *influxdb.Client, log *logging.Logger) *mirror.Mirror {
	if mqttClient == nil && influxClient == nil {
		return nil
	}

	opts := []mirror.Option{mirror.WithLogger(log.Component("mirror"))}
	if influxClient != nil {
		opts = append(opts, mirror.WithStateWriter(influxClient))
	}

	var publisher mirror.Publisher
	if mqttClient != nil {
		publisher = mqttClient
	}
	return mirror.New(reg, publisher, opts...)
}

// startIrrigation creates the irrigation controller and arms its triggers.
func startIrrigation(
	cfg *config.Config,
	reg *registry.Registry,
	manager *hub.Manager,
	store *kvstore.Store,
	sched *scheduler.Scheduler,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	log *logging.Logger,
) (*irrigation.Controller, error) {
	opts := []irrigation.Option{irrigation.WithLogger(log.Component("irrigation"))}
	if influxClient != nil {
		opts = append(opts, irrigation.WithRecorder(influxRecorder{influxClient}))
	}

	controller, err := irrigation.NewController(cfg.Irrigation, reg, manager.REST(), store, sched, opts...)
	if err != nil {
		return nil, err
	}
	if err := controller.Start(); err != nil {
		return nil, err
	}
	controller.AttachHub(manager, registry.SharedConnection(manager))

	if mqttClient != nil {
		if err := controller.AttachCommands(mqttClient); err != nil {
			log.Warn("irrigation MQTT trigger unavailable", "error", err)
		}
	}
	return controller, nil
}

// globalConnect opens the shared hub connection with stored or supervisor
// credentials.
func globalConnect(ctx context.Context, manager *hub.Manager, log *logging.Logger) {
	conn, err := manager.GlobalConnect(ctx)
	switch {
	case errors.Is(err, hub.ErrInvalidAuth):
		log.Warn("hub rejected the stored credentials; set a new global connection")
	case err != nil && ctx.Err() == nil:
		log.Error("connecting to hub failed", "error", err)
	case err == nil && conn == nil:
		log.Warn("no hub credentials; set a global connection through the API")
	}
}

// healthCheckers collects the infrastructure components to verify.
func healthCheckers(db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) map[string]api.HealthChecker {
	checks := map[string]api.HealthChecker{"database": db}
	if mqttClient != nil {
		checks["mqtt"] = mqttClient
	}
	if influxClient != nil {
		checks["influxdb"] = influxClient
	}
	return checks
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for name, checker := range checks {
		if err := checker.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// afterSignals runs then after each handler registered through it.
type afterSignals struct {
	registry.Signals
	then func()
}

func (s afterSignals) On(sig hub.Signal, fn func()) func() {
	return s.Signals.On(sig, func() {
		fn()
		s.then()
	})
}

// influxRecorder stores irrigation records in InfluxDB.
type influxRecorder struct {
	*influxdb.Client
}

// WriteHydroRecord implements irrigation.Recorder.
func (r influxRecorder) WriteHydroRecord(day time.Time, rec irrigation.HydroRecord) {
	r.WriteHydro(influxdb.HydroPoint{
		Day:             day,
		EvaporationMM:   rec.Evaporation,
		PrecipitationMM: rec.Precipitation,
		TemperatureMin:  rec.Temperature.Min,
		TemperatureMax:  rec.Temperature.Max,
	})
}
