// Symi Mesh Bridge
//
// This is the main entry point for the Symi mesh bridge. It connects a
// proprietary Symi mesh gateway (raw binary TCP) to a host automation
// framework over MQTT:
//   - Discovers devices on the mesh and announces them
//   - Publishes device state changes as retained MQTT messages
//   - Executes device commands received from the host
//   - Reports link health and session statistics
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/symi-mesh-core/migrations"

	"github.com/nerrad567/symi-mesh-core/internal/bridges/symi"
	"github.com/nerrad567/symi-mesh-core/internal/devicestore"
	"github.com/nerrad567/symi-mesh-core/internal/infrastructure/config"
	"github.com/nerrad567/symi-mesh-core/internal/infrastructure/database"
	"github.com/nerrad567/symi-mesh-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/symi-mesh-core/internal/infrastructure/logging"
	"github.com/nerrad567/symi-mesh-core/internal/infrastructure/mqtt"
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
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Symi mesh bridge",
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

	// Open device metadata store (optional)
	var store *devicestore.Store
	if cfg.Database.Enabled {
		db, openErr := database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if openErr != nil {
			return fmt.Errorf("opening database: %w", openErr)
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

		store = devicestore.New(db.DB)
	} else {
		log.Info("device metadata store disabled")
	}

	// Connect to MQTT broker. The broker publishes the LWT payload on
	// the health topic if the bridge drops off without a clean stop.
	lwt, err := json.Marshal(symi.NewLWTMessage())
	if err != nil {
		return fmt.Errorf("encoding LWT payload: %w", err)
	}
	mqttClient, err := mqtt.Connect(cfg.MQTT, lwt)
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

	// Locate the gateway
	host := cfg.Gateway.Host
	if host == "" {
		host, err = scanForGateway(ctx, cfg, log)
		if err != nil {
			return err
		}
	}

	// Connect to the Symi gateway
	session, err := symi.Connect(ctx, symi.SessionConfig{
		Host:           host,
		Port:           cfg.Gateway.Port,
		ConnectTimeout: cfg.GetConnectTimeout(),
		CommandTimeout: cfg.GetCommandTimeout(),
		ReadTimeout:    cfg.GetReadTimeout(),
	})
	if err != nil {
		return fmt.Errorf("connecting to gateway: %w", err)
	}
	defer func() {
		log.Info("closing gateway session")
		if closeErr := session.Close(); closeErr != nil {
			log.Error("error closing gateway session", "error", closeErr)
		}
	}()
	session.SetLogger(log)
	log.Info("gateway connected", "host", host, "port", cfg.Gateway.Port)

	// Initialise device manager and run initial discovery
	manager := symi.NewManager(session)
	manager.SetLogger(log)
	defer manager.Close()

	devices, err := manager.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("initial device discovery: %w", err)
	}
	log.Info("device discovery complete", "devices", len(devices))

	names := recordDiscovery(ctx, store, devices, log)

	// Wire up history recording (optional)
	var history symi.HistoryWriter
	if influxClient != nil {
		history = influxClient
	}

	// Start the MQTT publisher
	publisher, err := symi.NewPublisher(symi.PublisherOptions{
		MQTT:        &mqttPublisherAdapter{client: mqttClient},
		Manager:     manager,
		Transport:   session,
		History:     history,
		GatewayAddr: fmt.Sprintf("%s:%d", host, cfg.Gateway.Port),
		Version:     version,
		Logger:      log,
	})
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}
	if err := publisher.Start(); err != nil {
		return fmt.Errorf("starting publisher: %w", err)
	}
	defer func() {
		log.Info("stopping publisher")
		publisher.Stop()
	}()

	publisher.PublishDiscovery(devices, names)
	log.Info("initialisation complete, bridge running")

	// Periodic rediscovery picks up devices that joined or moved on the
	// mesh, and records session statistics while it's at it. A nil
	// channel blocks forever when rediscovery is disabled.
	var rediscover <-chan time.Time
	if interval := cfg.GetRediscoveryInterval(); interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		rediscover = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received, cleaning up")
			log.Info("Symi mesh bridge stopped")
			return nil

		case <-session.Done():
			// Fatal socket error; supervision (systemd, container
			// runtime) restarts the bridge for a clean reconnect.
			return fmt.Errorf("gateway session terminated")

		case <-rediscover:
			devices, err := manager.Refresh(ctx)
			if err != nil {
				log.Warn("rediscovery failed", "error", err)
				continue
			}
			names := recordDiscovery(ctx, store, devices, log)
			publisher.PublishDiscovery(devices, names)
			log.Debug("rediscovery complete", "devices", len(devices))

			if influxClient != nil {
				stats := session.Stats()
				influxClient.WriteSessionStats(fmt.Sprintf("%s:%d", host, cfg.Gateway.Port), map[string]interface{}{
					"frames_tx":      stats.FramesTx,
					"frames_rx":      stats.FramesRx,
					"frames_dropped": stats.FramesDropped,
					"events_rx":      stats.EventsRx,
					"errors_total":   stats.ErrorsTotal,
				})
			}
		}
	}
}

// getConfigPath returns the configuration file path.
// Uses SYMIMESH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SYMIMESH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// scanForGateway probes the local network for a Symi gateway.
// Used when no host is configured and scanning is enabled.
func scanForGateway(ctx context.Context, cfg *config.Config, log *logging.Logger) (string, error) {
	log.Info("no gateway host configured, scanning network",
		"network", cfg.Gateway.Scan.Network,
		"port", cfg.Gateway.Port,
	)

	hosts, err := symi.ScanGateways(ctx, cfg.Gateway.Scan.Network, cfg.Gateway.Port)
	if err != nil {
		return "", fmt.Errorf("scanning for gateway: %w", err)
	}
	if len(hosts) == 0 {
		return "", fmt.Errorf("no Symi gateway found on the network")
	}
	if len(hosts) > 1 {
		log.Warn("multiple gateways found, using first", "hosts", hosts)
	}

	log.Info("gateway found by scan", "host", hosts[0])
	return hosts[0], nil
}

// recordDiscovery persists discovery results to the metadata store and
// returns the stored display names. Returns nil names when the store is
// disabled; persistence failures are logged, not fatal, because the
// bridge operates fine from in-memory discovery alone.
func recordDiscovery(ctx context.Context, store *devicestore.Store, devices []symi.Device, log *logging.Logger) map[string]string {
	if store == nil {
		return nil
	}

	observations := make([]devicestore.Observation, 0, len(devices))
	for _, d := range devices {
		observations = append(observations, devicestore.Observation{
			ID:          d.ID(),
			NetworkAddr: d.NetworkAddr,
			Type:        d.Type,
			Subtype:     d.Subtype,
		})
	}

	if err := store.RecordDiscovery(ctx, observations); err != nil {
		log.Warn("recording discovery to store failed", "error", err)
	}

	names, err := store.Names(ctx)
	if err != nil {
		log.Warn("loading device names failed", "error", err)
		return nil
	}
	return names
}

// mqttPublisherAdapter adapts the infrastructure MQTT client to the
// bridge publisher's MQTTClient interface. The only difference is the
// Subscribe handler signature: the infrastructure handler returns an
// error, the bridge handler does not.
type mqttPublisherAdapter struct {
	client *mqtt.Client
}

// Publish implements symi.MQTTClient.
func (a *mqttPublisherAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements symi.MQTTClient.
func (a *mqttPublisherAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements symi.MQTTClient.
func (a *mqttPublisherAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
