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

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/camfleet/camfleet-server/internal/api"
	"github.com/camfleet/camfleet-server/internal/config"
	"github.com/camfleet/camfleet-server/internal/driver"
	"github.com/camfleet/camfleet-server/internal/engine"
	"github.com/camfleet/camfleet-server/internal/events"
	"github.com/camfleet/camfleet-server/internal/storage"
)

func main() {
	// Command line flags
	var configFile string
	flag.StringVar(&configFile, "config", "config/camfleet-server.yml", "Configuration file path")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Storage: Postgres when a DSN is configured, in-memory otherwise
	var store storage.Store
	if cfg.Database.DSN != "" {
		pg, err := storage.NewPostgresStore(&cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		store = pg
		log.Info().Msg("Connected to database")
	} else {
		store = storage.NewMemoryStore()
		log.Info().Msg("Database not configured, using in-memory store")
	}
	defer store.Close()

	// Device driver
	var drv driver.Driver
	switch cfg.Driver.Backend {
	case "mock":
		mock := driver.NewMockDriver(cfg.Driver.MockDevices)
		mock.SetLatency(cfg.Driver.MockLatency)
		drv = mock
		log.Info().Int("devices", cfg.Driver.MockDevices).Msg("Using mock device driver")
	default:
		drv = driver.NewGphoto2Driver(&cfg.Driver)
		log.Info().Str("bin", cfg.Driver.Gphoto2Bin).Msg("Using gphoto2 device driver")
	}

	// Optional: NATS event publishing
	var notifier engine.Notifier
	if cfg.NATS.URL != "" {
		log.Info().Str("url", cfg.NATS.URL).Msg("Connecting to NATS...")
		publisher, err := events.Connect(&cfg.NATS, cfg.Server.Name)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without event publishing")
		} else {
			defer publisher.Close()
			notifier = publisher
			log.Info().Msg("Connected to NATS")
		}
	} else {
		log.Info().Msg("NATS not configured, running in standalone mode")
	}

	// Orchestration engine
	eng := engine.New(cfg, drv, store, notifier)

	// Initial device scan
	detectCtx, cancelDetect := context.WithTimeout(context.Background(), cfg.Engine.DetectTimeout)
	sessions, err := eng.Detect(detectCtx)
	cancelDetect()
	if err != nil {
		log.Warn().Err(err).Msg("Initial device detection failed")
	} else {
		log.Info().Int("sessions", len(sessions)).Msg("Initial device detection complete")
	}

	// Start REST API server
	apiServer := api.NewRESTServer(cfg, eng, store)

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		if err := apiServer.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("REST API server failed")
		}
	}()

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	// Stop background work first so in-flight batches settle
	eng.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
	}

	log.Info().Msg("Camera fleet server stopped")
}
