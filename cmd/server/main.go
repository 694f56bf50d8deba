/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (configs/<name>.env, .env, environment)
  2. Build the zerolog logger
  3. Open the ledger store selected by STORE_DRIVER
  4. Wire the leave engine, HTTP router and migration scheduler
  5. Optionally start the Kafka lifecycle consumer
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Config file name under ./configs (default: local)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the consumer and the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (SERVER_SHUTDOWN_TIMEOUT)
  4. Close the store
  5. Exit

EXAMPLES:
  # Local SQLite database
  STORE_DRIVER=sqlite SQLITE_PATH=./data/leave.db ./server

  # PostgreSQL with lifecycle events
  STORE_DRIVER=postgres POSTGRES_URL=postgres://... KAFKA_ENABLED=true ./server

SEE ALSO:
  - api/server.go: Router configuration
  - config/load.go: Configuration keys and defaults
  - store/open.go: Backend selection
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/warp/leave-ledger/api"
	"github.com/warp/leave-ledger/config"
	"github.com/warp/leave-ledger/events/kafka"
	"github.com/warp/leave-ledger/leave"
	"github.com/warp/leave-ledger/logger"
	"github.com/warp/leave-ledger/store"
)

func main() {
	configName := flag.String("config", "local", "config file name under ./configs")
	flag.Parse()

	cfg, err := config.LoadConfig(*configName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.FromConfig(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	backend, err := store.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open ledger store")
	}
	defer func() {
		if err := backend.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("failed to close ledger store")
		}
	}()

	svc := leave.NewService(backend.Store, backend.Registry, cfg.LeaveOptions(), log)

	// Background workers
	var workers sync.WaitGroup

	scheduler := api.NewMigrationScheduler(svc.Migration, cfg.Migration.Interval, log)
	scheduler.RunOnStart = cfg.Migration.OnStartup
	if cfg.Migration.Interval <= 0 && cfg.Migration.OnStartup {
		if _, err := svc.Migration.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("startup balance migration failed")
		}
	}
	scheduler.Start()

	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka, svc.Lifecycle, log)
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := consumer.Run(ctx); err != nil {
				log.Error().Err(err).Msg("lifecycle consumer exited")
			}
			if err := consumer.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close lifecycle consumer")
			}
		}()
	}

	// Create router and server
	handler := api.NewHandler(svc, log)
	router := api.NewRouter(handler, api.RouterOptions{AllowedOrigins: cfg.Server.AllowedOrigins})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().
			Int("port", cfg.Server.Port).
			Str("store", backend.Driver).
			Bool("kafka", cfg.Kafka.Enabled).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")

	scheduler.Stop()
	workers.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
