package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/api"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/cli"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/config"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/db"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/events"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/health"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/metrics"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/network"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/scheduler"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/session"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/telemetry"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/util"
)

type serveOptions struct {
	configDir string
	logLevel  string
	port      int
	noConsole bool
}

func runServe(parent context.Context, opts serveOptions) error {
	fmt.Printf(Banner, util.Version)
	fmt.Println()

	// Defaults until the config is loaded.
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Info().
		Str("version", util.Version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting connector")

	cfg, err := config.Load(opts.configDir)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.port > 0 {
		cfg.Server.Port = opts.port
	}

	logCfg := util.LogConfig{
		Level:      cfg.Logging.Level,
		Directory:  cfg.Logging.Directory,
		MaxBackups: cfg.Logging.MaxBackups,
		Console:    true,
	}
	if opts.logLevel != "" {
		logCfg.Level = opts.logLevel
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return fmt.Errorf("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	eventBus := events.NewEventBus()
	m := metrics.New()

	database, err := db.NewDatabase(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open check ledger: %w", err)
	}
	defer database.Close()

	store, err := db.NewCheckStore(database)
	if err != nil {
		return fmt.Errorf("failed to prepare check ledger: %w", err)
	}

	sessions, err := session.NewManager(cfg, eventBus, store, m)
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}

	gameListener := network.NewTCPListener(cfg, sessions, m)
	healthMgr := health.NewManager(cfg, eventBus, sessions)
	sched := scheduler.NewScheduler(cfg, store, database.Path())

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg, eventBus, sessions, store, m)
	}

	var mqttHandler *telemetry.MQTTHandler
	if cfg.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	// The console and API can ask for a shutdown through the bus.
	shutdownCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main", func(ctx context.Context, e events.Event) error {
		if e.Source != "main" {
			select {
			case shutdownCh <- struct{}{}:
			default:
			}
		}
		return nil
	})

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	// Task 1: game listener. Losing it is fatal.
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", cfg.Server.Port).Msg("starting game listener")
		if err := startWithRetry(ctx, "game listener", gameListener.Start, 5); err != nil {
			log.Error().Err(err).Msg("game listener failed after retries")
			errCh <- fmt.Errorf("game listener: %w", err)
		}
	}()

	// Task 2: REST API
	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", cfg.API.Port).Msg("starting REST API server")
			if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	// Task 3: health checks and heartbeat
	wg.Add(1)
	go func() {
		defer wg.Done()
		healthMgr.Start(ctx)
	}()

	// Task 4: MQTT telemetry
	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	// Task 5: ledger maintenance
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	// Task 6: interactive console. It blocks on stdin, so it is not waited on.
	if !opts.noConsole {
		console := cli.NewCLI(cfg, eventBus, sessions, store, os.Stdin, os.Stdout)
		go console.Start(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
		runErr = err
	case <-parent.Done():
	}

	log.Info().Msg("initiating graceful shutdown...")

	eventBus.Emit(ctx, events.Event{Type: events.EventShutdown, Source: "main"})
	cancel()
	sessions.Shutdown()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("shutdown timed out after 15 seconds, forcing exit")
	}

	eventBus.Stop()
	log.Info().Msg("connector stopped")
	return runErr
}

// startWithRetry retries startFn on bind errors at a fixed 3-second interval.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return nil
		}
		lastErr = startFn(ctx)
		if lastErr == nil || ctx.Err() != nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
