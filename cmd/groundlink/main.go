// groundlink is the ground coordination service for a drone/rover
// pair: it keeps the MAVLink sessions, runs the follow-and-survey
// coordination loop and serves the operator HTTP/WebSocket API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wildtrack/groundlink/internal/config"
	"github.com/wildtrack/groundlink/internal/coordination"
	"github.com/wildtrack/groundlink/internal/events"
	"github.com/wildtrack/groundlink/internal/influx"
	"github.com/wildtrack/groundlink/internal/logging"
	"github.com/wildtrack/groundlink/internal/otel"
	"github.com/wildtrack/groundlink/internal/server"
	"github.com/wildtrack/groundlink/internal/storage"
	"github.com/wildtrack/groundlink/internal/survey"
	"github.com/wildtrack/groundlink/internal/vehicle"
	"github.com/wildtrack/groundlink/pkg/core"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configDir := "."
	if len(os.Args) > 1 {
		configDir = os.Args[1]
	}
	if err := config.Load(configDir); err != nil {
		return err
	}

	site := config.GetString("site.name")
	sessionStart := time.Now()

	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("creating logs directory: %w", err)
	}
	logFile, err := os.OpenFile(
		logging.LogFilePath(logsDir, "groundlink", sessionStart),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()

	gelfAddress := ""
	if config.GetBool("graylog.enabled") {
		gelfAddress = config.GetString("graylog.address")
	}

	logManager := logging.NewManager()
	err = logManager.Setup(logFile, config.GetString("logLevel"), gelfAddress,
		func() []slog.Attr {
			return []slog.Attr{slog.String("site", site)}
		})
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	log := logManager.Logger()

	var otelProvider *otel.Provider
	if config.GetBool("otel.enabled") {
		otelFile, err := os.OpenFile(
			logging.LogFilePath(logsDir, "groundlink-otel", sessionStart),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("opening otel log file: %w", err)
		}
		defer otelFile.Close()

		otelProvider, err = otel.New(otel.Config{
			Enabled:      true,
			ServiceName:  "groundlink",
			BatchTimeout: time.Duration(config.GetInt("otel.batchTimeoutSeconds")) * time.Second,
			LogWriter:    otelFile,
			Endpoint:     config.GetString("otel.endpoint"),
			Insecure:     config.GetBool("otel.insecure"),
		})
		if err != nil {
			return fmt.Errorf("initializing otel: %w", err)
		}
	} else {
		otelProvider, _ = otel.New(otel.Config{})
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelProvider.Shutdown(ctx); err != nil {
			log.Error("otel shutdown failed", "error", err)
		}
	}()

	storageCfg, err := config.Storage()
	if err != nil {
		return err
	}
	backend, err := storage.NewBackend(storageCfg)
	if err != nil {
		return err
	}
	if err := backend.Init(); err != nil {
		return fmt.Errorf("initializing %s storage: %w", storageCfg.Backend, err)
	}
	defer backend.Close()
	log.Info("storage initialized", "backend", storageCfg.Backend)

	dispatcher, err := events.New(logging.NewSlogAdapter(log))
	if err != nil {
		return fmt.Errorf("initializing event dispatcher: %w", err)
	}

	influxWriter, err := influx.NewWriter(influx.Config{
		Enabled: config.GetBool("influx.enabled"),
		URL: fmt.Sprintf("%s://%s:%s",
			config.GetString("influx.protocol"),
			config.GetString("influx.host"),
			config.GetString("influx.port")),
		Token:      config.GetString("influx.token"),
		Org:        config.GetString("influx.org"),
		Bucket:     config.GetString("influx.bucket"),
		BackupPath: config.GetString("storage.dataDir") + "/influx-backup.lp.gz",
	}, log)
	if err != nil {
		return fmt.Errorf("initializing influx sink: %w", err)
	}
	defer influxWriter.Close()

	vehicleCfgs, err := config.Vehicles()
	if err != nil {
		return err
	}
	if len(vehicleCfgs) == 0 {
		return fmt.Errorf("no vehicles configured")
	}

	manager := vehicle.NewManager(log)
	for _, vc := range vehicleCfgs {
		kind := core.VehicleKind(vc.Kind)
		if !kind.Valid() {
			return fmt.Errorf("unknown vehicle kind %q in config", vc.Kind)
		}
		manager.Add(vehicle.New(vehicle.Config{
			Kind:     kind,
			SystemID: vc.SystemID,
			Address:  vc.Address,
			Server:   vc.Server,
			Site:     site,
		}, backend, log))
		log.Info("vehicle configured",
			"kind", kind, "systemId", vc.SystemID, "address", vc.Address)
	}

	drone, err := manager.Get(core.KindDrone)
	if err != nil {
		return err
	}
	rover, err := manager.Get(core.KindCar)
	if err != nil {
		return err
	}

	monitor := survey.NewMonitor(drone,
		func() (float64, float64, bool) {
			snap := rover.Telemetry()
			return snap.Lat, snap.Lon, snap.HasPosition
		},
		survey.MonitorConfig{
			Timeout:             time.Duration(config.GetInt("survey.timeoutSeconds")) * time.Second,
			MaxCarDriftM:        config.GetFloat("survey.maxCarDrift"),
			AltitudeM:           config.GetFloat("survey.altitude"),
			ResumeAltitudeFloor: config.GetFloat("survey.resumeAltitudeFloor"),
		}, log)

	coord := coordination.NewService(coordination.Dependencies{
		Drone:  drone,
		Rover:  rover,
		Survey: monitor,
		Store:  backend,
		Events: dispatcher,
		Influx: influxWriter,
		Logger: log,
		Config: coordination.Config{
			Site:               site,
			TickInterval:       time.Duration(config.GetInt("coordination.tickSeconds")) * time.Second,
			FollowAltitude:     config.GetFloat("coordination.followAltitude"),
			MaxFollowDistance:  config.GetFloat("coordination.maxFollowDistance"),
			ProximityThreshold: config.GetFloat("coordination.proximityThreshold"),
			ProximityCooldown:  time.Duration(config.GetInt("coordination.proximityCooldownSeconds")) * time.Second,
			TrackingInterval:   time.Duration(config.GetInt("coordination.trackingIntervalSeconds")) * time.Second,
			SurveySwath:        config.GetFloat("survey.swathWidth"),
			SurveyRadius:       config.GetFloat("survey.patternRadius"),
			SurveyAltitude:     config.GetFloat("survey.altitude"),
		},
	})

	srv := server.New(server.Dependencies{
		Vehicles:     manager,
		Coordination: coord,
		Survey:       monitor,
		Store:        backend,
		Events:       dispatcher,
		Logger:       log,
		Site:         site,
		Addr:         config.GetString("server.addr"),
	})
	for _, vc := range vehicleCfgs {
		kind := core.VehicleKind(vc.Kind)
		if err := srv.StreamTelemetry(kind); err != nil {
			return err
		}
		err := manager.RegisterTelemetryCallback(kind, func(snap core.TelemetrySnapshot) {
			influxWriter.WriteTelemetry(site, kind, snap)
		})
		if err != nil {
			return err
		}
	}
	srv.Start()

	log.Info("groundlink started", "site", site, "addr", config.GetString("server.addr"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", "signal", sig.String())

	coord.StopTracking()
	coord.Stop()
	manager.DisconnectAll()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}

	log.Info("groundlink stopped")
	return nil
}
