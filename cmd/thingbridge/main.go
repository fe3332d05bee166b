// thingbridge - IoT device to MQTT gateway
//
// thingbridge connects small devices (BLE peripherals, socket-attached
// microcontrollers, or a built-in simulated thing) to an MQTT broker. Each
// device speaks a compact TLV frame protocol; the gateway opens one MQTT
// session per device and carries publish, subscribe and unsubscribe
// requests across, acknowledging them back to the device.
//
// The binary runs interactively or as a system service:
//
//	thingbridge -config /etc/thingbridge/config.yaml
//	thingbridge -service install
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/kardianos/service"

	"github.com/nerrad567/thingbridge/internal/api"
	"github.com/nerrad567/thingbridge/internal/audit"
	"github.com/nerrad567/thingbridge/internal/bridge"
	"github.com/nerrad567/thingbridge/internal/infrastructure/config"
	"github.com/nerrad567/thingbridge/internal/infrastructure/database"
	"github.com/nerrad567/thingbridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/thingbridge/internal/infrastructure/logging"
	"github.com/nerrad567/thingbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/thingbridge/internal/linkstate"
	"github.com/nerrad567/thingbridge/internal/thing"
	"github.com/nerrad567/thingbridge/internal/transport"
	"github.com/nerrad567/thingbridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// defaultConfigPath is used when neither -config nor THINGBRIDGE_CONFIG is set.
	defaultConfigPath = "configs/config.yaml"

	// stopTimeout bounds how long the service manager waits for shutdown.
	stopTimeout = 30 * time.Second

	// eventBufferSize is the buffer of each internal link state subscription.
	eventBufferSize = 256
)

// program adapts run to the service manager's Start/Stop lifecycle.
type program struct {
	configPath string

	cancel context.CancelFunc
	done   chan error
}

// Start launches the gateway in the background. The service manager
// requires Start to return promptly.
func (p *program) Start(_ service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)

	go func() {
		err := run(ctx, p.configPath)
		p.done <- err
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}()
	return nil
}

// Stop cancels the gateway and waits for a clean shutdown.
func (p *program) Stop(_ service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()

	select {
	case err := <-p.done:
		return err
	case <-time.After(stopTimeout):
		return errors.New("timed out waiting for shutdown")
	}
}

func main() {
	configFlag := flag.String("config", "", "Path of the YAML config file (default $THINGBRIDGE_CONFIG or "+defaultConfigPath+")")
	svcFlag := flag.String("service", "", "Control the system service: "+fmt.Sprint(service.ControlAction))
	flag.Parse()

	prg := &program{configPath: getConfigPath(*configFlag)}
	svcConfig := &service.Config{
		Name:        "thingbridge",
		DisplayName: "thingbridge IoT gateway",
		Description: "Bridges BLE and socket-attached devices to an MQTT broker.",
		Arguments:   []string{"-config", prg.configPath},
	}

	svc, err := service.New(prg, svcConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: creating service: %v\n", err)
		os.Exit(1)
	}

	if *svcFlag != "" {
		if err := service.Control(svc, *svcFlag); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v (valid actions: %q)\n", err, service.ControlAction)
			os.Exit(1)
		}
		return
	}

	// Run blocks until the service manager or an interrupt signal stops us.
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the gateway itself, separated from main for testability. It
// returns nil on a clean shutdown after ctx is cancelled.
func run(ctx context.Context, configPath string) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting thingbridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Database
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
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	registry := thing.NewSQLiteRepository(db.DB)
	if syncErr := syncRegistry(ctx, registry, cfg.Things); syncErr != nil {
		return syncErr
	}

	// Link state events fan out to history, metrics and the API.
	events := linkstate.NewNotifier()
	defer events.Close()

	history := thing.NewSQLiteHistoryRepository(db.DB)
	historyChanges, unsubscribeHistory := events.Subscribe(eventBufferSize)
	defer unsubscribeHistory()
	recorder := thing.NewRecorder(thing.RecorderConfig{
		History:   history,
		Changes:   historyChanges,
		Retention: time.Duration(cfg.Database.HistoryRetentionDays) * 24 * time.Hour,
		Logger:    log.With("component", "history"),
	})
	recorder.Start(ctx)
	defer recorder.Stop()

	// InfluxDB (optional)
	var traffic bridge.TrafficRecorder
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		traffic = influxClient

		metricChanges, unsubscribeMetrics := events.Subscribe(eventBufferSize)
		defer unsubscribeMetrics()
		go func() {
			for c := range metricChanges {
				influxClient.RecordLinkChange(c)
			}
		}()
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	// Gateway MQTT session for process status and health reports.
	topics := mqtt.Topics{Prefix: cfg.Bridge.TopicPrefix}
	gatewayMQTT := mqtt.New(cfg.MQTT, cfg.Gateway.ID, topics.SystemStatus())
	gatewayMQTT.SetLogger(log.With("component", "mqtt"))
	if connErr := gatewayMQTT.Connect(ctx); connErr != nil {
		// paho keeps retrying in the background.
		log.Warn("gateway MQTT session not yet connected", "error", connErr)
	}
	defer func() {
		log.Info("disconnecting gateway MQTT session")
		if closeErr := gatewayMQTT.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()

	// Things
	manager := bridge.NewManager(log.With("component", "manager"))
	for _, tc := range cfg.Things {
		if !tc.IsEnabled() {
			log.Info("thing disabled, skipping", "thing_id", tc.ID)
			continue
		}
		b, buildErr := newThingBridge(cfg, tc, topics, events, traffic, log)
		if buildErr != nil {
			return buildErr
		}
		if addErr := manager.Add(b); addErr != nil {
			return addErr
		}
	}

	health := bridge.NewHealthReporter(bridge.HealthReporterConfig{
		GatewayID: cfg.Gateway.ID,
		Version:   version,
		Topic:     topics.SystemHealth(),
		Interval:  cfg.GetHealthInterval(),
		Publisher: gatewayMQTT,
		Things:    manager,
	})
	health.SetLogger(log.With("component", "health"))
	if pubErr := health.PublishStarting(); pubErr != nil {
		log.Warn("failed to publish starting status", "error", pubErr)
	}

	started := manager.Start(ctx)
	defer func() {
		log.Info("stopping things")
		manager.Stop()
	}()
	log.Info("things started", "started", started, "configured", manager.Len())

	health.Start(ctx)
	defer health.Stop()

	// HTTP API
	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Logger:   log.With("component", "api"),
			Things:   manager,
			Registry: registry,
			History:  history,
			Audit:    audit.NewSQLiteRepository(db.DB),
			Events:   events,
			Health:   health,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("HTTP API disabled")
	}

	if checkErr := healthCheck(ctx, db, influxClient); checkErr != nil {
		return fmt.Errorf("health check failed: %w", checkErr)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, health, things, gateway
	// MQTT, InfluxDB, recorder, notifier, database.
	return nil
}

// getConfigPath returns the config path: the flag value if set, then
// THINGBRIDGE_CONFIG, then the default.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("THINGBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// syncRegistry records every configured thing in the registry.
func syncRegistry(ctx context.Context, registry thing.Repository, things []config.ThingConfig) error {
	for _, tc := range things {
		t := thing.FromConfig(tc)
		if err := registry.Upsert(ctx, &t); err != nil {
			return fmt.Errorf("registering thing %s: %w", tc.ID, err)
		}
	}
	return nil
}

// newThingBridge wires a thing's device transport and MQTT session into a
// bridge.
func newThingBridge(cfg *config.Config, tc config.ThingConfig, topics mqtt.Topics, events linkstate.Publisher, traffic bridge.TrafficRecorder, log *logging.Logger) (*bridge.Bridge, error) {
	device, err := transport.New(tc, log.ForThing(tc.ID, "transport"))
	if err != nil {
		return nil, fmt.Errorf("creating transport: %w", err)
	}

	client := mqtt.New(cfg.MQTT, tc.ID, topics.ThingStatus(tc.ID))
	client.SetLogger(log.ForThing(tc.ID, "mqtt"))

	b, err := bridge.New(bridge.Options{
		ThingID:                  tc.ID,
		Name:                     tc.Name,
		Transport:                tc.Transport,
		Device:                   device,
		MQTT:                     &mqttSession{client: client},
		Events:                   events,
		Logger:                   log.ForThing(tc.ID, "bridge"),
		Traffic:                  traffic,
		AllowDeviceSubscriptions: cfg.Bridge.AllowDeviceSubscriptions,
		RateLimit:                cfg.Bridge.RateLimit,
		RateBurst:                cfg.Bridge.RateBurst,
	})
	if err != nil {
		return nil, fmt.Errorf("creating bridge for %s: %w", tc.ID, err)
	}
	return b, nil
}

// healthCheck verifies the infrastructure the gateway cannot run without.
// MQTT sessions are left out: they reconnect on their own and their state
// is reported through the health topic.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
