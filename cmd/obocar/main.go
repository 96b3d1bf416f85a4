package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/obocar/engine/internal/api"
	"github.com/obocar/engine/internal/bridge"
	"github.com/obocar/engine/internal/command"
	"github.com/obocar/engine/internal/config"
	"github.com/obocar/engine/internal/dispatcher"
	"github.com/obocar/engine/internal/executor"
	"github.com/obocar/engine/internal/geo"
	"github.com/obocar/engine/internal/logging"
	"github.com/obocar/engine/internal/monitor"
	intOtel "github.com/obocar/engine/internal/otel"
	"github.com/obocar/engine/internal/recorder"
	"github.com/obocar/engine/internal/script"
	"github.com/obocar/engine/internal/sim"
	"github.com/obocar/engine/internal/storage"
	"github.com/obocar/engine/internal/telemetry"
	"github.com/obocar/engine/internal/vehicle"
	"github.com/obocar/engine/internal/world"
)

// AppName can be overridden at build time via ldflags.
var (
	AppName   string = "obocar"
	Version   string = "0.0.1"
	BuildDate string = "unknown"
)

// global services
var (
	SessionStartTime time.Time = time.Now()

	SlogManager *logging.SlogManager
	Logger      *slog.Logger

	OTelProvider *intOtel.Provider

	simStore        *sim.Store
	veh             *vehicle.Vehicle
	simWorld        *world.World
	exec            *executor.Executor
	carBridge       *bridge.Bridge
	scriptRuntime   *script.Runtime
	recorderService *recorder.Recorder
	writeQueues     *recorder.Queues
	monitorService  *monitor.Service
	eventDispatcher *dispatcher.Dispatcher
	stateHub        *api.Hub
	apiServer       *api.Server
	influxManager   *telemetry.Manager

	storageBackend storage.Backend
)

func main() {
	scriptPath := flag.String("script", "", "path to a car script to run on startup")
	configDir := flag.String("config", ".", "directory containing obocar.cfg.json")
	flag.Parse()

	if err := run(*scriptPath, *configDir); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(scriptPath, configDir string) error {
	// Bootstrap logging to stdout only until config is loaded.
	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(nil, nil, "info", nil, nil)
	Logger = SlogManager.Logger()
	Logger.Info("Starting up...", "app", AppName, "version", Version, "build", BuildDate)

	if err := config.Load(configDir); err != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		Logger.Info("Loaded config")
	}

	logsDir := viper.GetString("logsDir")
	if _, err := os.Stat(logsDir); os.IsNotExist(err) {
		os.MkdirAll(logsDir, 0755)
	}

	logFilePath := logging.LogFilePath(logsDir, AppName, SessionStartTime)
	logFile, err := os.OpenFile(logFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		Logger.Error("Failed to create/open log file!", "error", err, "path", logFilePath)
	}
	defer logFile.Close()

	// Optional GELF output.
	var gelfWriter io.Writer
	if viper.GetBool("graylog.enabled") {
		gelfWriter, err = logging.NewGelfWriter(viper.GetString("graylog.address"))
		if err != nil {
			Logger.Warn("Graylog enabled but GELF writer failed", "error", err)
			gelfWriter = nil
		}
	}

	// Optional OTel log export.
	var otelLogProvider *sdklog.LoggerProvider
	if viper.GetBool("otel.enabled") {
		OTelProvider, err = intOtel.New(intOtel.Config{
			Enabled:      true,
			ServiceName:  viper.GetString("otel.serviceName"),
			BatchTimeout: 5 * time.Second,
			LogWriter:    logFile,
			Endpoint:     viper.GetString("otel.endpoint"),
			Insecure:     true,
		})
		if err != nil {
			Logger.Error("Failed to initialize OTel provider", "error", err)
		} else {
			otelLogProvider = OTelProvider.LoggerProvider()
			Logger.Info("OTel provider initialized", "file", logFilePath)
		}
	}

	// Re-setup logging with file output, GELF, OTel and run-state context.
	SlogManager.Setup(logFile, gelfWriter, viper.GetString("logLevel"), otelLogProvider, func() []slog.Attr {
		if simStore == nil {
			return nil
		}
		return []slog.Attr{slog.String("runState", string(simStore.State()))}
	})
	Logger = SlogManager.Logger()
	Logger.Info("Logging to file", "path", logFilePath)

	dbLogger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Storage backend and write queues.
	storageBackend, err = storage.NewBackend(config.Storage(), Logger, dbLogger)
	if err != nil {
		return fmt.Errorf("creating storage backend: %w", err)
	}
	if err := storageBackend.Init(); err != nil {
		return fmt.Errorf("initializing storage backend: %w", err)
	}
	defer storageBackend.Close()

	writeQueues = recorder.NewQueues()
	recorderService = recorder.New(writeQueues, storageBackend, Logger)
	recorderService.Start()
	defer recorderService.Stop()

	// World, vehicle and run state.
	worldCfg := config.World()
	simWorld = world.New(world.Config{
		SensorRange:     worldCfg.SensorRange,
		ConeHalfAngle:   worldCfg.ConeHalfAngle,
		NoiseAmplitude:  worldCfg.NoiseAmplitude,
		CollisionRadius: worldCfg.CollisionRadius,
	}, worldCfg.Seed)
	if obstacleJSON := viper.GetString("world.obstacles"); obstacleJSON != "" {
		pts, err := geo.ParseObstacles(obstacleJSON)
		if err != nil {
			Logger.Warn("Invalid world.obstacles config, ignoring", "error", err)
		} else {
			for _, p := range pts {
				simWorld.AddObstacle(p.X, p.Y)
			}
		}
	} else if worldCfg.Generate {
		simWorld.GenerateObstacles()
	}
	Logger.Info("World initialized", "obstacles", len(simWorld.Obstacles()))

	simStore, err = sim.NewStore(Logger)
	if err != nil {
		return fmt.Errorf("creating sim store: %w", err)
	}
	simStore.SetDebug(viper.GetBool("debugMode"))

	veh = vehicle.New()

	engineCfg := config.Engine()
	exec = executor.New(executor.Config{
		Speed:    engineCfg.Speed,
		TurnRate: engineCfg.TurnRate,
	}, executor.Dependencies{
		Store:   simStore,
		Vehicle: veh,
		World:   simWorld,
		Logger:  Logger,
		Sink:    telemetrySink{},
	})

	carBridge = bridge.New(simStore, veh, simWorld, Logger)
	scriptRuntime = script.NewRuntime(simStore, carBridge, Logger, os.Stdout)

	// Optional InfluxDB telemetry.
	if viper.GetBool("influx.enabled") {
		influxManager = telemetry.NewManager(dbLogger, filepath.Join(logsDir, "influx_backup.gz"))
		if err := influxManager.Connect(); err != nil {
			Logger.Warn("InfluxDB telemetry disabled", "error", err)
			influxManager = nil
		}
		if influxManager != nil {
			defer influxManager.Close()
		}
	}

	// Status monitor.
	monitorService = monitor.NewService(monitor.Dependencies{
		Store:      simStore,
		Vehicle:    veh,
		Queues:     writeQueues,
		Recorder:   recorderService,
		LogManager: SlogManager,
		StatusDir:  logsDir,
	})
	monitorService.Start()
	defer monitorService.Stop()

	// Control dispatcher and API server.
	eventDispatcher, err = dispatcher.New(logging.NewDispatcherLogger(dbLogger))
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}
	registerControlHandlers(eventDispatcher)

	if viper.GetBool("api.enabled") {
		stateHub = api.NewHub(Logger)
		apiServer = api.NewServer(viper.GetString("api.listen"), api.Dependencies{
			Dispatcher: eventDispatcher,
			Hub:        stateHub,
			Logger:     Logger,
			State:      stateDocument,
			Status:     func() any { return monitorService.Status() },
			ExportPath: func(w io.Writer) error {
				return geo.ExportGeoJSON(w, geoOrigin(), veh.Path())
			},
		})
		apiServer.Start()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			apiServer.Shutdown(ctx)
		}()
	}

	// Launch the startup script, if any.
	if scriptPath != "" {
		src, err := script.LoadFile(scriptPath)
		if err != nil {
			return fmt.Errorf("loading script: %w", err)
		}
		launchScript(src)
	}

	return tickLoop(engineCfg.TickHz)
}

// tickLoop drives the executor at the configured frequency until the
// process receives an interrupt.
func tickLoop(tickHz float64) error {
	if tickHz <= 0 {
		tickHz = 60.0
	}
	interval := time.Duration(float64(time.Second) / tickHz)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	Logger.Info("Tick loop started", "hz", tickHz)
	last := time.Now()
	for {
		select {
		case sig := <-sigCh:
			Logger.Info("Shutting down", "signal", sig.String())
			simStore.Stop()
			flushOTel()
			return nil

		case now := <-ticker.C:
			elapsed := now.Sub(last)
			last = now

			tickStart := time.Now()
			if err := exec.Tick(elapsed); err != nil {
				Logger.Error("Tick failed", "error", err)
			}
			broadcastState()
			if influxManager != nil {
				influxManager.WriteVehicleState(context.Background(),
					simStore.State(), veh.Snapshot(), simStore.QueueLength())
				influxManager.WriteTickDuration(context.Background(), time.Since(tickStart))
			}
		}
	}
}

// launchScript starts a run on its own goroutine and finalizes the run
// record when the script finishes.
func launchScript(src script.Source) {
	if err := recorderService.Begin(src.Name); err != nil {
		Logger.Error("Failed to open run record", "error", err)
	}
	done := scriptRuntime.Start(src)
	go func() {
		err := <-done
		errStr := ""
		if err != nil {
			errStr = err.Error()
		}
		if ferr := recorderService.Finish(string(simStore.State()), errStr, veh.Snapshot()); ferr != nil {
			Logger.Error("Failed to finalize run record", "error", ferr)
		}
		flushOTel()
	}()
}

// telemetrySink fans executor notifications out to the recorder and, when
// InfluxDB is connected, records a run event per completed command.
type telemetrySink struct{}

func (telemetrySink) CommandCompleted(c command.Command, st vehicle.State, t time.Time) {
	recorderService.CommandCompleted(c, st, t)
	if influxManager != nil {
		err := influxManager.WriteCommandEvent(context.Background(), string(c.Kind), commandValue(c), st)
		if err != nil {
			Logger.Warn("Failed to write command event", "error", err)
		}
	}
}

func (telemetrySink) PathSampleRecorded(s vehicle.PathSample) {
	recorderService.PathSampleRecorded(s)
}

// commandValue picks the command's primary numeric parameter for the
// telemetry point. Sensor queries carry their direction as the tag
// already, so their value is the angular offset.
func commandValue(c command.Command) float64 {
	switch c.Kind {
	case command.KindForward:
		return c.Distance
	case command.KindTurn:
		return c.Degrees
	case command.KindWait:
		return c.Seconds
	case command.KindSensor:
		return command.SensorOffsets[c.Direction]
	default:
		return 0
	}
}

// registerControlHandlers wires the run-control vocabulary into the
// dispatcher. The API server routes POST /api/v1/control/{command} here.
func registerControlHandlers(d *dispatcher.Dispatcher) {
	d.Register("start", func(e dispatcher.Event) (any, error) {
		return simStore.Start(), nil
	})

	d.Register("pause", func(e dispatcher.Event) (any, error) {
		return simStore.Pause(), nil
	})

	d.Register("resume", func(e dispatcher.Event) (any, error) {
		return simStore.Resume(), nil
	})

	d.Register("stop", func(e dispatcher.Event) (any, error) {
		simStore.Stop()
		return "stopped", nil
	}, dispatcher.Logged())

	d.Register("reset", func(e dispatcher.Event) (any, error) {
		simStore.Reset()
		exec.Reset()
		return "reset", nil
	}, dispatcher.Logged())

	d.Register("debug", func(e dispatcher.Event) (any, error) {
		on := len(e.Args) > 0 && strings.TrimSpace(e.Args[0]) == "on"
		simStore.SetDebug(on)
		return on, nil
	})

	d.Register("run", func(e dispatcher.Event) (any, error) {
		if len(e.Args) == 0 || strings.TrimSpace(e.Args[0]) == "" {
			return nil, fmt.Errorf("run requires script text in the request body")
		}
		if simStore.IsRunning() {
			return nil, fmt.Errorf("a run is already in progress")
		}
		launchScript(script.FromString("api", e.Args[0]))
		return "started", nil
	}, dispatcher.Logged())

	d.Register("version", func(e dispatcher.Event) (any, error) {
		return []string{Version, BuildDate}, nil
	})
}

// stateDocument is the full engine state served by GET /api/v1/state.
func stateDocument() any {
	st := veh.Snapshot()
	return map[string]any{
		"run":     simStore.Snapshot(),
		"vehicle": st,
		"world": map[string]any{
			"obstacles": simWorld.Obstacles(),
		},
	}
}

// broadcastState pushes a compact per-tick state frame to WebSocket
// subscribers.
func broadcastState() {
	if stateHub == nil || stateHub.ClientCount() == 0 {
		return
	}
	st := veh.Snapshot()
	frame := map[string]any{
		"type":     "state",
		"state":    simStore.State(),
		"x":        st.Position.X,
		"z":        st.Position.Z,
		"heading":  st.Heading,
		"battery":  st.Battery,
		"distance": st.TotalDistance,
		"queue":    simStore.QueueLength(),
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	stateHub.Broadcast(data)
}

func geoOrigin() geo.Origin {
	return geo.Origin{
		Longitude: viper.GetFloat64("geo.origin.longitude"),
		Latitude:  viper.GetFloat64("geo.origin.latitude"),
	}
}

func flushOTel() {
	if OTelProvider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := OTelProvider.Flush(ctx); err != nil {
		Logger.Warn("Failed to flush OTel data", "error", err)
	}
}
