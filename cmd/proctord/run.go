package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"proctord/internal/capture"
	"proctord/internal/config"
	"proctord/internal/health"
	"proctord/internal/ipc"
	"proctord/internal/logging"
	"proctord/internal/metrics"
	"proctord/internal/monitor"
	"proctord/internal/session"
	"proctord/internal/store"
	"proctord/internal/violation"
)

func cmdRun() {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Configuration file path")
	simulate := fs.Bool("simulate", false, "Use simulated camera and microphone devices")
	fs.Parse(os.Args[2:])

	if err := runDaemon(*configPath, *simulate); err != nil {
		fmt.Fprintf(os.Stderr, "proctord: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon(configPath string, simulate bool) error {
	if configPath == "" {
		configPath = config.FindConfigFile()
	}

	var loader *config.Loader
	var cfg *config.Config
	if configPath != "" {
		loader = config.NewLoader(configPath)
		loaded, err := loader.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg = config.LoadFromEnv()
	}
	cfg.ApplyEnvOverrides()
	if err := config.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Close()
	logging.SetDefault(logger)

	logger.Info("proctord starting",
		"version", Version,
		"config", configPath,
		"simulate", simulate)

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer st.Close()

	pm := metrics.NewProctorMetrics(metrics.Default())

	devices := monitor.Devices{}
	if simulate {
		devices.Camera = &capture.SimulatedCamera{}
		devices.Microphone = &capture.SimulatedMicrophone{}
		logger.Info("running with simulated capture devices")
	} else {
		logger.Info("no capture devices attached, monitoring browser signals only")
	}

	daemon := monitor.NewDaemon(cfg, devices, st, pm, logger)
	defer daemon.Shutdown()

	checker := buildHealthChecker(st, daemon)

	shutdownCh := make(chan struct{})
	handler := ipc.NewDaemonHandler(ipc.DaemonHandlerConfig{
		Daemon:     daemon,
		Checker:    checker,
		Version:    Version,
		OnShutdown: func() { close(shutdownCh) },
		Logger:     logger,
	})

	server, err := ipc.NewServer(ipc.ServerConfig{
		SocketPath:     cfg.IPC.SocketPath,
		Version:        Version,
		MaxConnections: cfg.IPC.MaxConnections,
		ReadTimeout:    time.Duration(cfg.IPC.TimeoutSec) * time.Second,
	}, handler, logger)
	if err != nil {
		return fmt.Errorf("create ipc server: %w", err)
	}
	handler.SetBroadcaster(server.Broadcast)

	daemon.OnViolation = func(ev violation.Event) {
		server.Broadcast(&ipc.Event{
			Type:      ipc.EventViolation,
			Timestamp: time.Now(),
			Violation: &ev,
		})
	}
	daemon.OnNotice = func(n session.Notice) {
		server.Broadcast(&ipc.Event{
			Type:      ipc.EventNotice,
			Timestamp: time.Now(),
			Notice:    &n,
		})
	}

	if cfg.IPC.Enabled {
		if err := server.Start(); err != nil {
			return fmt.Errorf("start ipc server: %w", err)
		}
		defer server.Stop()
	}

	if loader != nil {
		loader.OnChange(func(updated *config.Config) {
			logger.Info("configuration reloaded")
			daemon.ApplyConfig(updated)
		})
		if err := loader.Watch(); err != nil {
			logger.Warn("config watch unavailable", "error", err)
		} else {
			defer loader.Close()
			go func() {
				for err := range loader.Errors() {
					logger.Warn("config reload failed", "error", err)
				}
			}()
		}
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = startMetricsServer(cfg.Metrics.ListenAddr, checker, logger)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			metricsSrv.Shutdown(ctx)
		}()
	}

	checker.SetReady(true)
	logger.Info("proctord ready", "socket", cfg.IPC.SocketPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	uptimeTicker := time.NewTicker(30 * time.Second)
	defer uptimeTicker.Stop()

	for {
		select {
		case sig := <-sigCh:
			logger.Info("signal received, shutting down", "signal", sig.String())
			return nil
		case <-shutdownCh:
			logger.Info("shutdown requested, stopping")
			return nil
		case <-uptimeTicker.C:
			pm.UpdateUptime()
		}
	}
}

// buildLogger maps the file configuration onto the logging package.
func buildLogger(lc config.LoggingConfig) (*logging.Logger, error) {
	cfg := logging.DefaultConfig()

	if lc.Level != "" {
		level, err := logging.ParseLevel(lc.Level)
		if err != nil {
			return nil, err
		}
		cfg.Level = level
	}
	if lc.Format == "json" {
		cfg.Format = logging.FormatJSON
	}
	if lc.Output != "" {
		cfg.Output = lc.Output
	}
	if lc.FilePath != "" {
		cfg.FilePath = lc.FilePath
	}
	if lc.MaxSizeMB > 0 {
		cfg.MaxSize = int64(lc.MaxSizeMB)
	}
	if lc.MaxBackups > 0 {
		cfg.MaxBackups = lc.MaxBackups
	}
	if lc.MaxAgeDays > 0 {
		cfg.MaxAge = lc.MaxAgeDays
	}
	cfg.Compress = lc.Compress

	return logging.New(cfg)
}

// buildHealthChecker registers the daemon's health probes.
func buildHealthChecker(st *store.Store, daemon *monitor.Daemon) *health.Checker {
	checker := health.NewChecker()

	checker.RegisterFunc("journal", true, health.DatabaseCheck(func(ctx context.Context) error {
		_, err := st.SchemaVersion()
		return err
	}))
	checker.RegisterFunc("flag_service", false,
		health.FlagServiceCheck(daemon.FlagFailures, 5))

	for _, modality := range []string{"camera", "audio", "dom"} {
		m := modality
		checker.RegisterFunc("source_"+m, false, health.SourceCheck(m,
			func() string {
				states := daemon.SourceStates()
				if states == nil {
					return "idle"
				}
				return states[m]
			},
			func() uint64 { return 0 },
		))
	}

	return checker
}

// startMetricsServer serves Prometheus metrics and health probes on a
// loopback address.
func startMetricsServer(addr string, checker *health.Checker, logger *logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Default().HTTPHandler())
	mux.Handle("/healthz", checker.LivenessHandler())
	mux.Handle("/readyz", checker.ReadinessHandler())
	mux.Handle("/health", checker.HealthHandler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("metrics server listening", "addr", addr)
	return srv
}
