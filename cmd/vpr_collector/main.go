// Command vpr_collector drives an ego vehicle through a simulated town and
// records three roof cameras together with the vehicle pose into a
// visual-place-recognition dataset.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ai4ce/vpr-collector/internal/api"
	"github.com/ai4ce/vpr-collector/internal/config"
	"github.com/ai4ce/vpr-collector/internal/controller"
	"github.com/ai4ce/vpr-collector/internal/dispatcher"
	"github.com/ai4ce/vpr-collector/internal/geo"
	"github.com/ai4ce/vpr-collector/internal/influx"
	"github.com/ai4ce/vpr-collector/internal/input"
	"github.com/ai4ce/vpr-collector/internal/input/keyboard"
	"github.com/ai4ce/vpr-collector/internal/logging"
	"github.com/ai4ce/vpr-collector/internal/monitor"
	intOtel "github.com/ai4ce/vpr-collector/internal/otel"
	"github.com/ai4ce/vpr-collector/internal/pose"
	"github.com/ai4ce/vpr-collector/internal/recorder"
	"github.com/ai4ce/vpr-collector/internal/session"
	"github.com/ai4ce/vpr-collector/internal/simulator"
	"github.com/ai4ce/vpr-collector/internal/simulator/local"
	"github.com/ai4ce/vpr-collector/internal/storage"
	"github.com/ai4ce/vpr-collector/internal/tick"
	"github.com/ai4ce/vpr-collector/internal/world"
)

// BuildDate can be set at build time via ldflags.
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

const appName = "vpr_collector"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

// run returns only after every deferred teardown step has completed.
func run(args []string) (err error) {
	fs := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	config.Flags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	configDir, _ := fs.GetString("config")
	configErr := config.Load(configDir)
	if configErr != nil && !errors.Is(configErr, config.ErrNoConfigFile) {
		return configErr
	}
	if err := config.BindFlags(fs); err != nil {
		return err
	}

	simCfg := config.GetSimConfig()
	recCfg := config.GetRecordingConfig()
	startTime := time.Now()

	winW, winH, err := config.ParseResolution(simCfg.Resolution)
	if err != nil {
		return err
	}
	camW, camH, err := config.ParseResolution(simCfg.CamResolution)
	if err != nil {
		return err
	}
	cameras := selectCameras(world.DefaultCameras(camW, camH, simCfg.Gamma), recCfg.Cameras)
	if len(cameras) == 0 {
		return fmt.Errorf("no cameras enabled, recording.cameras = %v", recCfg.Cameras)
	}

	sess := session.New(recCfg.DataDir, cameraNames(cameras),
		session.JPEGQuality(recCfg.JPEGQuality),
		session.Describe(simCfg.Sync, simCfg.RoleName),
	)
	defer closeLogged(&err, "session", sess.Close)
	info := sess.Info()

	// logging
	logsDir := viper.GetString("logsDir")
	logFile, err := logging.OpenLogFile(logsDir, appName, startTime)
	if err != nil {
		return err
	}
	defer logFile.Close()

	otelCfg := config.GetOTelConfig()
	var otelWriter io.Writer
	if otelCfg.Enabled && otelCfg.Endpoint == "" {
		f, err := logging.OpenLogFile(logsDir, appName+".otel", startTime)
		if err != nil {
			return err
		}
		defer f.Close()
		otelWriter = f
	}
	provider, err := intOtel.New(context.Background(), intOtel.Config{
		Enabled:      otelCfg.Enabled,
		ServiceName:  otelCfg.ServiceName,
		BatchTimeout: otelCfg.BatchTimeout,
		LogWriter:    otelWriter,
		Endpoint:     otelCfg.Endpoint,
		Insecure:     otelCfg.Insecure,
		SessionID:    info.ID,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer provider.Shutdown(context.Background())

	flag := &recorder.Flag{}
	flag.Set(recCfg.StartOn)
	var current atomic.Pointer[world.World]

	slogManager := logging.NewSlogManager()
	slogManager.Setup(logging.Options{
		Console:  os.Stdout,
		File:     logFile,
		Level:    viper.GetString("logLevel"),
		Provider: provider.LoggerProvider(),
		Context: logging.SessionContext(info.ID, flag.Enabled, func() bool {
			w := current.Load()
			return w != nil && w.Autopilot()
		}),
	})
	logger := slogManager.Logger()
	slog.SetDefault(logger)
	defer slogManager.Flush(context.Background())

	logger.Info("Starting", "version", Version, "build", BuildDate, "session", info.ID, "root", info.Root)
	if configErr != nil {
		logger.Warn("Failed to load config, using defaults", "error", configErr)
	}

	// simulator
	logger.Info("Using in-process simulator", "host", simCfg.Host, "port", simCfg.Port)
	sim := local.New(local.Config{})
	defer sim.Close()
	var rec *recorder.Recorder

	// storage mirrors
	storageCfg := config.GetStorageConfig()
	projector, err := geo.NewProjector(geo.Origin{Lat: storageCfg.Geo.OriginLat, Lon: storageCfg.Geo.OriginLon})
	if err != nil {
		return err
	}
	backend, err := createStorageBackend(storageCfg, info.Root, projector, logger)
	if err != nil {
		return err
	}
	var sinks []world.StateSink
	if backend != nil {
		if err := os.MkdirAll(info.Root, 0o755); err != nil {
			return fmt.Errorf("create recording root: %w", err)
		}
		if err := backend.Init(); err != nil {
			return fmt.Errorf("storage %s: %w", storageCfg.Type, err)
		}
		defer closeLogged(&err, "storage", backend.Close)
		if err := backend.StartSession(&info); err != nil {
			return fmt.Errorf("storage %s: %w", storageCfg.Type, err)
		}
		defer closeLogged(&err, "storage session", func() error {
			if err := backend.EndSession(); err != nil {
				return err
			}
			exp, ok := backend.(storage.Exportable)
			if !ok {
				return nil
			}
			logger.Info("Session exported", "path", exp.ExportedFilePath())
			uploadExport(exp.ExportedFilePath(), storage.UploadMetadata{
				SessionID: info.ID,
				Town:      townName(sim),
				Role:      info.Role,
				Duration:  time.Since(startTime).Seconds(),
				Frames:    framesRecorded(rec),
			}, logger)
			return nil
		})
		sinks = append(sinks, backend)
		logger.Info("Storage backend initialized", "type", storageCfg.Type)
	}

	if influxCfg := config.GetInfluxConfig(); influxCfg.Enabled {
		zl := logging.NewDispatcherZerolog(logFile, viper.GetString("logLevel")).With().Str("component", "influx").Logger()
		backupPath := filepath.Join(logsDir, fmt.Sprintf("%s.influx.%s.lp.gz", appName, startTime.Format("20060102_150405")))
		manager := influx.NewManager(influxCfg, zl, backupPath, simCfg.RoleName)
		if connErr := manager.Connect(context.Background()); connErr != nil {
			logger.Warn("InfluxDB sink disabled", "error", connErr)
		} else {
			defer closeLogged(&err, "influx", manager.Close)
			sinks = append(sinks, manager)
		}
	}

	// frame delivery
	dispatcherLog := logging.NewDispatcherLogger(logging.NewDispatcherZerolog(logFile, viper.GetString("logLevel")))
	events, err := dispatcher.New(dispatcherLog)
	if err != nil {
		return err
	}
	defer events.Close()

	poses := pose.New()
	deps := recorder.Dependencies{
		Pose:    poses,
		Flag:    flag,
		Session: sess,
		Logger:  logger,
	}
	if backend != nil {
		deps.Sink = backend
	}
	rec, err = recorder.New(deps)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mode := tick.Asynchronous
	if simCfg.Sync {
		mode = tick.Synchronous
	}
	interval := tick.DefaultInterval
	if simCfg.LoopRate > 0 {
		interval = time.Second / time.Duration(simCfg.LoopRate)
	}
	scheduler := tick.New(sim, tick.Config{
		Mode:       mode,
		FixedDelta: simCfg.FixedDelta,
		Interval:   interval,
		Autopilot:  simCfg.Autopilot,
	}, logger)
	defer closeLogged(&err, "scheduler", func() error { return scheduler.Close(context.Background()) })
	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	blueprint := world.DefaultBlueprint
	if simCfg.Blueprint != "" {
		blueprint.ID = simCfg.Blueprint
	}
	blueprint.RoleName = simCfg.RoleName
	w, err := world.New(ctx, world.Dependencies{
		Sim:        sim,
		Dispatcher: events,
		Recorder:   rec,
		Pose:       poses,
		Sinks:      sinks,
		SessionID:  info.ID,
		Logger:     logger,
	}, world.Config{
		Blueprint:   blueprint,
		SpawnIndex:  simCfg.SpawnIndex,
		Cameras:     cameras,
		TopicBuffer: recCfg.QueueSize,
	})
	if err != nil {
		return err
	}
	current.Store(w)
	defer closeLogged(&err, "world", func() error { return w.Destroy(context.Background()) })

	ctl, err := controller.New(ctx, w, flag, controller.Config{
		StartAutopilot: simCfg.Autopilot,
		Synchronous:    scheduler.Synchronous(),
	}, logger)
	if err != nil {
		return err
	}

	if monCfg := config.GetMonitorConfig(); monCfg.Enabled {
		if err := os.MkdirAll(info.Root, 0o755); err != nil {
			return fmt.Errorf("create recording root: %w", err)
		}
		mon := monitor.NewService(monitor.Dependencies{
			Dir:       info.Root,
			SessionID: info.ID,
			Interval:  monCfg.Interval,
			Logger:    logger,
			Recorder:  rec,
			Queues:    events,
			Pending:   pendingOf(backend),
			Recording: flag.Enabled,
			Autopilot: w.Autopilot,
			Ticks:     w.Ticks,
		})
		if err := mon.Start(); err != nil {
			logger.Warn("Status monitor disabled", "error", err)
		} else {
			defer mon.Stop()
		}
	}

	var src input.Source = input.Idle{}
	var kb *keyboard.Keyboard
	if !simCfg.Headless {
		kb = keyboard.New()
		src = kb
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	loopErr := make(chan error, 1)
	go func() {
		defer cancel()
		last := time.Now()
		loopErr <- scheduler.Run(loopCtx, func(ctx context.Context, frame uint64) (bool, error) {
			if err := w.Tick(ctx, frame); err != nil {
				return false, err
			}
			now := time.Now()
			elapsed := now.Sub(last)
			last = now
			return ctl.ParseEvents(ctx, src.Poll(), elapsed)
		})
	}()

	if kb != nil {
		status := func() string {
			st := rec.Stats()
			return fmt.Sprintf("%s  recording=%t  autopilot=%t  frames=%d  sensor=%d",
				info.ID[:8], flag.Enabled(), w.Autopilot(), st.Recorded, ctl.Sensor())
		}
		window := keyboard.NewWindow(loopCtx, kb, winW, winH, status)
		if err := window.Run(appName); err != nil {
			logger.Error("Window closed with error", "error", err)
		}
		cancel()
	}

	if err := <-loopErr; err != nil {
		logger.Error("Control loop failed", "error", err)
		return err
	}
	st := rec.Stats()
	logger.Info("Shutting down", "recorded", st.Recorded, "discarded", st.Discarded, "failed", st.Failed)
	return nil
}

// selectCameras keeps the specs named in enabled, all of them if enabled is empty.
func selectCameras(specs []simulator.CameraSpec, enabled []string) []simulator.CameraSpec {
	if len(enabled) == 0 {
		return specs
	}
	want := make(map[string]bool, len(enabled))
	for _, name := range enabled {
		want[name] = true
	}
	var out []simulator.CameraSpec
	for _, s := range specs {
		if want[s.Name] {
			out = append(out, s)
		}
	}
	return out
}

func cameraNames(specs []simulator.CameraSpec) []string {
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	return names
}

func townName(sim simulator.World) string {
	m, err := sim.Map(context.Background())
	if err != nil {
		return ""
	}
	return m.Name()
}

func framesRecorded(rec *recorder.Recorder) uint64 {
	if rec == nil {
		return 0
	}
	return rec.Stats().Recorded
}

// uploadExport sends the exported session file to the dataset server when
// uploads are enabled. Failures are logged; the local copy stays.
func uploadExport(path string, meta storage.UploadMetadata, logger *slog.Logger) {
	cfg := config.GetUploadConfig()
	if !cfg.Enabled || path == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	client := api.New(cfg.ServerURL, cfg.APIKey)
	if err := client.Healthcheck(ctx); err != nil {
		logger.Warn("Dataset server unreachable, upload skipped", "error", err, "path", path)
		return
	}
	if err := client.Upload(ctx, path, meta); err != nil {
		logger.Error("Session upload failed", "error", err, "path", path)
		return
	}
	logger.Info("Session uploaded", "server", cfg.ServerURL, "path", path)
}

func pendingOf(b storage.Backend) storage.Pending {
	if p, ok := b.(storage.Pending); ok {
		return p
	}
	return nil
}

// closeLogged runs a teardown step and keeps the first error. Later steps
// still run.
func closeLogged(errp *error, what string, fn func() error) {
	if err := fn(); err != nil {
		slog.Default().Error("Teardown step failed", "step", what, "error", err)
		if *errp == nil {
			*errp = fmt.Errorf("%s: %w", what, err)
		}
	}
}
