// Fibaro Bridge - Home Center to MQTT gateway
//
// This is the main entry point for the bridge. It connects to a Fibaro
// Home Center over two raw TCP channels (commands and long-poll refresh),
// normalizes device state, and exposes it over MQTT, a REST API, and a
// WebSocket stream. Transitions are recorded to SQLite and optionally
// mirrored to InfluxDB.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/fibaro-bridge/migrations"

	"github.com/nerrad567/fibaro-bridge/internal/api"
	"github.com/nerrad567/fibaro-bridge/internal/bridges/fibaro"
	"github.com/nerrad567/fibaro-bridge/internal/history"
	"github.com/nerrad567/fibaro-bridge/internal/infrastructure/config"
	"github.com/nerrad567/fibaro-bridge/internal/infrastructure/database"
	"github.com/nerrad567/fibaro-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/fibaro-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/fibaro-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/fibaro-bridge/internal/registry"
	"github.com/nerrad567/fibaro-bridge/internal/state"
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

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting fibaro bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Build the key registry from the room/slot layout
	reg, err := registry.Build(cfg.Registry)
	if err != nil {
		return fmt.Errorf("building registry: %w", err)
	}
	log.Info("registry built",
		"devices", reg.DeviceCount(),
		"scenes", reg.SceneCount(),
	)

	states := state.NewStore()

	// Open database and run migrations
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
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

	// Transition history: recorded asynchronously off the publish path
	historyRepo := history.NewSQLiteRepository(db.DB)
	recorder := history.NewRecorder(historyRepo, log.With("component", "history"))
	defer func() {
		log.Info("stopping history recorder")
		recorder.Close()
	}()

	// Connect to MQTT broker. The will is the health LWT: if the bridge
	// dies without a clean shutdown, the broker marks it offline on the
	// health topic consumers already watch.
	lwtPayload, err := json.Marshal(fibaro.NewLWTMessage(cfg.MQTT.Broker.ClientID))
	if err != nil {
		return fmt.Errorf("building LWT payload: %w", err)
	}
	mqttClient, err := mqtt.Connect(cfg.MQTT, &mqtt.Will{
		Topic:    fibaro.HealthTopic(),
		Payload:  lwtPayload,
		QoS:      1,
		Retained: true,
	})
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetLogger(log.With("component", "mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// API server (also supplies the WebSocket publisher)
	var apiServer *api.Server
	publishers := fibaro.MultiPublisher{recorder}
	if cfg.API.Enabled {
		apiServer, err = api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Logger:   log.With("component", "api"),
			Registry: reg,
			States:   states,
			History:  historyRepo,
			Version:  version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		publishers = append(publishers, apiServer.StreamPublisher())
	} else {
		log.Info("API server disabled")
	}
	if influxClient != nil {
		publishers = append(publishers, &influxPublisher{client: influxClient})
	}

	// Hub bridge
	bridge, err := fibaro.New(fibaro.Options{
		Address:  fmt.Sprintf("%s:%d", cfg.Hub.Host, cfg.Hub.Port),
		Username: cfg.Hub.Username,
		Password: cfg.Hub.Password,
		Timing:   hubTiming(cfg.Hub.Timing),
		Registry: reg,
		States:   states,
		Logger:   log.With("component", "hub"),
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	// MQTT link: outward messages plus the inbound command surface
	link, err := fibaro.NewMQTTLink(fibaro.MQTTLinkOptions{
		Client:   &mqttLinkAdapter{client: mqttClient},
		Commands: bridge,
		Registry: reg,
		QoS:      byte(cfg.MQTT.QoS),
		Logger:   log.With("component", "mqtt_link"),
	})
	if err != nil {
		return fmt.Errorf("creating MQTT link: %w", err)
	}
	publishers = append(publishers, link)
	bridge.SetPublisher(publishers)

	if err := link.Start(); err != nil {
		return fmt.Errorf("starting MQTT link: %w", err)
	}
	log.Info("MQTT command link started")

	bridge.Start()
	defer func() {
		log.Info("stopping bridge")
		if closeErr := bridge.Close(); closeErr != nil {
			log.Error("error closing bridge", "error", closeErr)
		}
	}()
	log.Info("bridge started", "hub", cfg.Hub.Host)

	// Periodic health reporting over MQTT
	health := fibaro.NewHealthReporter(fibaro.HealthReporterConfig{
		BridgeID:  cfg.MQTT.Broker.ClientID,
		Version:   version,
		Address:   cfg.Hub.Host,
		Interval:  cfg.Health.Interval,
		Publisher: mqttClient,
		Bridge:    bridge,
		Logger:    log.With("component", "health"),
	})
	health.SetEntityCounts(reg.DeviceCount(), reg.SceneCount())
	if err := health.PublishStarting(); err != nil {
		log.Warn("could not publish starting status", "error", err)
	}
	health.Start()
	defer func() {
		log.Info("stopping health reporter")
		health.Stop()
	}()

	// Start API server
	if apiServer != nil {
		apiServer.SetBridge(bridge)
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)
	}

	// Verify infrastructure connections
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	log.Info("fibaro bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses FIBAROBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("FIBAROBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// hubTiming converts configured delays into bridge timing. Zero fields
// fall back to the bridge defaults.
func hubTiming(cfg config.HubTimingConfig) fibaro.Timing {
	return fibaro.Timing{
		InitialFetchDelay:     cfg.InitialFetchDelay,
		RefreshStartDelay:     cfg.RefreshStartDelay,
		CommandRetryDelay:     cfg.CommandRetryDelay,
		CommandDialRetryDelay: cfg.CommandDialRetryDelay,
		RefreshDialRetryDelay: cfg.RefreshDialRetryDelay,
		RefreshRestartDelay:   cfg.RefreshRestartDelay,
		PollTimeout:           cfg.PollTimeout,
		PollRearmDelay:        cfg.PollRearmDelay,
	}
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// mqttLinkAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The difference is the Subscribe handler signature:
// the infrastructure client's handlers return an error, the bridge's don't.
type mqttLinkAdapter struct {
	client *mqtt.Client
}

// Publish implements fibaro.MQTTClient.
func (a *mqttLinkAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements fibaro.MQTTClient.
func (a *mqttLinkAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements fibaro.MQTTClient.
func (a *mqttLinkAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// influxPublisher mirrors published messages into InfluxDB measurements.
type influxPublisher struct {
	client *influxdb.Client
}

// PublishState implements fibaro.Publisher.
func (p *influxPublisher) PublishState(msg fibaro.StateMessage) error {
	p.client.WriteDeviceState(msg.Key, msg.On, msg.Level)
	return nil
}

// PublishScene implements fibaro.Publisher.
func (p *influxPublisher) PublishScene(msg fibaro.SceneMessage) error {
	p.client.WriteSceneActivation(msg.Key, string(msg.Status))
	return nil
}

// PublishConnection implements fibaro.Publisher.
func (p *influxPublisher) PublishConnection(msg fibaro.ConnectionMessage) error {
	p.client.WriteChannelStatus(msg.Channel, msg.Status)
	return nil
}
