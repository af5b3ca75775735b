// Ada Core - lighting fleet choreography server
//
// This is the main entry point for the Ada Core application. It accepts
// connections from the LED controllers, runs the power schedule and the
// choreography engine, and exposes remote control over MQTT and HTTP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/nerrad567/ada-core/internal/api"
	"github.com/nerrad567/ada-core/internal/bridges/kasa"
	"github.com/nerrad567/ada-core/internal/choreography"
	"github.com/nerrad567/ada-core/internal/firmware"
	"github.com/nerrad567/ada-core/internal/fleet"
	"github.com/nerrad567/ada-core/internal/infrastructure/config"
	"github.com/nerrad567/ada-core/internal/infrastructure/database"
	"github.com/nerrad567/ada-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/ada-core/internal/infrastructure/logging"
	"github.com/nerrad567/ada-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/ada-core/internal/process"
	"github.com/nerrad567/ada-core/internal/remote"
	"github.com/nerrad567/ada-core/internal/schedule"
	"github.com/nerrad567/ada-core/internal/sentiment"
	"github.com/nerrad567/ada-core/internal/store"
	"github.com/nerrad567/ada-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// fleet.Metrics is satisfied by the InfluxDB writer.
var _ fleet.Metrics = (*influxdb.Client)(nil)

func main() {
	flags := pflag.NewFlagSet("ada", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", config.Path(), "path to the YAML configuration file")
	showVersion := flags.BoolP("version", "v", false, "print version and exit")
	//nolint:errcheck // ExitOnError
	flags.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("ada %s (%s, built %s)\n", version, commit, date)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability. Only
// startup misconfiguration returns an error; once running, component
// failures are logged and the server keeps going.
func run(ctx context.Context, configPath string) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting Ada Core", "version", version, "commit", commit, "build_date", date)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err = logging.New(cfg.Logging, version)
	if err != nil {
		return fmt.Errorf("initialising logger: %w", err)
	}
	defer log.Close()
	log.Info("configuration loaded", "path", configPath, "site", cfg.Site.ID)

	// Database and event log
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	events := store.NewEventLog(db.DB)
	firmwareVersions := store.NewFirmwareVersions(db.DB)

	// Power schedule
	schedCfg, err := cfg.ScheduleConfig()
	if err != nil {
		return fmt.Errorf("schedule config: %w", err)
	}
	sm, err := schedule.New(schedCfg)
	if err != nil {
		return fmt.Errorf("creating schedule: %w", err)
	}

	// Choreography content
	library, err := choreography.LoadLibrary(cfg.Choreography.Animations)
	if err != nil {
		return fmt.Errorf("loading animations: %w", err)
	}
	zoneMaps, err := choreography.LoadZoneMaps(cfg.Choreography.ZoneMaps)
	if err != nil {
		return fmt.Errorf("loading zone maps: %w", err)
	}
	log.Info("choreography loaded", "animations", len(library.Names()), "zone_maps", len(cfg.Choreography.ZoneMaps))

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient = connectMQTT(ctx, cfg.MQTT, log)
	} else {
		log.Info("MQTT disabled, remote control limited to the HTTP API")
	}
	if mqttClient != nil {
		defer func() {
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		influxClient.SetOnError(func(err error) { log.Warn("InfluxDB write error", "error", err) })
		defer func() {
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	// Remote-control bus
	var broker remote.Broker
	if mqttClient != nil {
		broker = mqttClient
	}
	bus := remote.NewBus(broker, remote.BusOptions{
		ClientID:   cfg.MQTT.Broker.ClientID,
		QoS:        byte(cfg.MQTT.QoS),
		RateLimit:  rate.Limit(cfg.Remote.RateLimit),
		Burst:      cfg.Remote.Burst,
		QueueLimit: cfg.Remote.QueueLimit,
		Logger:     log.Component("remote"),
	})
	if broker != nil {
		if err := bus.Start(); err != nil {
			return fmt.Errorf("starting remote bus: %w", err)
		}
		defer bus.Stop() //nolint:errcheck // shutdown
	}

	hub := api.NewHub(cfg.WebSocket, log.Component("ws"))

	// Firmware distribution (optional)
	var firmwareSrc fleet.FirmwareSource
	var updater *firmware.Updater
	if cfg.Firmware.Enabled {
		fwOpts := firmware.Options{
			Recorder: firmwareVersions,
			Location: sm.Location(),
			Logger:   log.Component("firmware"),
		}
		if mqttClient != nil {
			fwOpts.Publisher = mqttClient
			fwOpts.HashTopic = mqtt.Topics{}.FirmwareHash()
		}
		updater, err = firmware.NewUpdater(cfg.Firmware, fwOpts)
		if err != nil {
			return fmt.Errorf("creating firmware updater: %w", err)
		}
		firmwareSrc = updater
	}

	// Fleet
	fleetOpts := fleet.Options{
		Logger:    log.Component("fleet"),
		Firmware:  firmwareSrc,
		OnQueued:  bus.Echo,
		OnSession: sessionRecorder(log, events, influxClient, mqttClient, hub),
	}
	if influxClient != nil {
		fleetOpts.Metrics = influxClient
	}
	registry := fleet.NewRegistry(fleetOpts)
	defer registry.Close()

	fleetServer, err := fleet.NewServer(registry, fleet.ServerOptions{
		Transport: fleet.TransportOptions{
			ReadTimeout:  config.Seconds(cfg.Server.ReadTimeout),
			WriteTimeout: config.Seconds(cfg.Server.WriteTimeout),
		},
		HandshakeTimeout:   config.Seconds(cfg.Server.HandshakeTimeout),
		BridgePingInterval: config.Seconds(cfg.Server.BridgePingInterval),
		Logger:             log.Component("fleet-server"),
	})
	if err != nil {
		return fmt.Errorf("creating fleet server: %w", err)
	}

	for _, name := range cfg.Server.SimulatedDevices {
		if _, err := registry.Register(ctx, name, fleet.NewNoopTransport(name)); err != nil {
			return fmt.Errorf("registering simulated device %s: %w", name, err)
		}
		log.Info("simulated device registered", "name", name)
	}

	// Sentiment feed (MQTT only)
	var sentimentSrc sentiment.Source
	if mqttClient != nil {
		src, err := sentiment.NewMQTTSource(mqttClient, byte(cfg.MQTT.QoS))
		if err != nil {
			return fmt.Errorf("subscribing to sentiment: %w", err)
		}
		src.SetLogger(log.Component("sentiment"))
		defer src.Close() //nolint:errcheck // shutdown
		sentimentSrc = src
	}

	// Choreography engine
	engine, err := choreography.NewEngine(cfg.Choreography, choreography.Deps{
		Fleet:     registry,
		Schedule:  sm,
		Remote:    bus,
		Sentiment: sentimentSrc,
		Library:   library,
		ZoneMaps:  zoneMaps,
	}, choreography.Options{
		Logger:   log.Component("choreography"),
		OnState:  stateRecorder(log, events, influxClient, hub),
		OnRemote: remoteRecorder(log, events),
	})
	if err != nil {
		return fmt.Errorf("creating choreography engine: %w", err)
	}

	// Helper processes
	procs := process.NewGroup(cfg.Pis, cfg.DMX, log.Component("process"))

	// HTTP API (optional)
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.New(api.Deps{
			Config:    cfg.API,
			WS:        cfg.WebSocket,
			Security:  cfg.Security,
			Logger:    log.Component("api"),
			Fleet:     registry,
			Schedule:  sm,
			Control:   bus,
			Engine:    engine,
			Events:    events,
			Processes: procs,
			Hub:       hub,
			Version:   version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	// Everything is configured; start the long-running parts.
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	var wg sync.WaitGroup
	goRun := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("component stopped with error", "component", name, "error", err)
			}
		}()
	}

	goRun("websocket hub", func(ctx context.Context) error { hub.Run(ctx); return nil })

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	goRun("fleet server", func(ctx context.Context) error { return fleetServer.ListenAndServe(ctx, addr) })
	log.Info("fleet server listening", "address", addr)

	if updater != nil {
		goRun("firmware updater", updater.Run)
	}

	if mqttClient != nil {
		reporter := kasa.NewHealthReporter(kasa.HealthReporterConfig{
			Topic:     mqtt.Topics{}.BridgeHealth(),
			Publisher: mqttClient,
			Bridge:    registry.Bridge,
		})
		reporter.SetLogger(log.Component("kasa"))
		reporter.Start(runCtx)
		defer reporter.Stop()
	}

	if procs.Len() > 0 {
		if err := procs.Start(runCtx); err != nil {
			log.Warn("some helper processes did not start", "error", err)
		}
		defer func() {
			if stopErr := procs.Stop(); stopErr != nil {
				log.Error("error stopping helper processes", "error", stopErr)
			}
		}()
	}

	if apiServer != nil {
		if err := apiServer.Start(runCtx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	goRun("choreography", func(ctx context.Context) error { engine.Run(ctx); return nil })

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	stop()
	wg.Wait()
	fleetServer.Wait()

	log.Info("Ada Core stopped")
	return nil
}

// healthCheck verifies infrastructure connections before starting.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// connectMQTT connects to the broker. An unreachable broker is not fatal:
// it returns nil and the process runs without the message bus.
func connectMQTT(ctx context.Context, cfg config.MQTTConfig, log *logging.Logger) *mqtt.Client {
	client, err := mqtt.Connect(ctx, cfg)
	if err != nil {
		log.Error("MQTT unavailable, continuing without the message bus", "error", err)
		return nil
	}
	client.SetLogger(log.Component("mqtt"))
	client.SetOnConnect(func() { log.Info("MQTT connected") })
	client.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
	return client
}

// sessionRecorder fans fleet session changes out to the event log, metrics,
// MQTT and WebSocket clients.
func sessionRecorder(log *logging.Logger, events *store.EventLog, influx *influxdb.Client, mq *mqtt.Client, hub *api.Hub) func(fleet.SessionEvent) {
	return func(ev fleet.SessionEvent) {
		payload := map[string]any{
			"name":        ev.Name,
			"session_id":  ev.SessionID,
			"remote_addr": ev.RemoteAddr,
			"connected":   ev.Connected,
		}

		if err := events.Record(context.Background(), &store.Event{
			Kind:    store.EventSession,
			Subject: ev.Name,
			Source:  "fleet",
			Details: payload,
		}); err != nil {
			log.Warn("recording session event", "device", ev.Name, "error", err)
		}
		if influx != nil {
			influx.RecordSession(ev.Name, ev.Connected)
		}
		if mq != nil {
			if data, err := json.Marshal(payload); err == nil {
				if err := mq.Publish(mqtt.Topics{}.FleetSession(ev.Name), data, 0, false); err != nil {
					log.Debug("publishing session event", "error", err)
				}
			}
		}
		hub.Broadcast(api.EventFleetSessionChanged, payload)
	}
}

// stateRecorder records power transitions.
func stateRecorder(log *logging.Logger, events *store.EventLog, influx *influxdb.Client, hub *api.Hub) func(prev, next schedule.State) {
	return func(prev, next schedule.State) {
		if err := events.Record(context.Background(), &store.Event{
			Kind:    store.EventPower,
			Subject: string(next),
			Source:  "schedule",
			Details: map[string]any{"from": string(prev)},
		}); err != nil {
			log.Warn("recording power event", "error", err)
		}
		if influx != nil {
			influx.RecordState(string(prev), string(next))
		}
		hub.Broadcast(api.EventPowerStateChanged, map[string]string{
			"from": string(prev),
			"to":   string(next),
		})
	}
}

// remoteRecorder records every handled remote-control message.
func remoteRecorder(log *logging.Logger, events *store.EventLog) func(remote.Envelope, error) {
	return func(env remote.Envelope, handleErr error) {
		source := "remote"
		if env.From != "" {
			source += ":" + env.From
		}
		ev := &store.Event{
			Kind:    store.EventRemote,
			Subject: env.Message.Path(),
			Source:  source,
		}
		if handleErr != nil {
			ev.Details = map[string]any{"error": handleErr.Error()}
		}
		if err := events.Record(context.Background(), ev); err != nil {
			log.Warn("recording remote event", "error", err)
		}
	}
}
