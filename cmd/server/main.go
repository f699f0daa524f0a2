/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the treasury engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, then flags)
  2. Build the logger
  3. Open the store (SQLite or PostgreSQL)
  4. Create the ledger, handler and router
  5. Start the treasury monitor
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS (override environment):
  -port    HTTP server port (PORT, default: 8080)
  -driver  Store driver: sqlite | postgres (DB_DRIVER, default: sqlite)
  -db      SQLite database path (DB_PATH, default: treasury.db)
           Use ":memory:" for in-memory database
  -dsn     PostgreSQL connection string (DATABASE_URL)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the monitor
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/treasury.db"

  # Run against PostgreSQL
  DATABASE_URL=postgres://treasury@localhost/treasury ./server -driver=postgres

SEE ALSO:
  - config/config.go: Environment keys and defaults
  - api/server.go: Router configuration
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
	"syscall"
	"time"

	"github.com/warp/treasury-engine/api"
	"github.com/warp/treasury-engine/config"
	"github.com/warp/treasury-engine/logging"
	"github.com/warp/treasury-engine/store/postgres"
	"github.com/warp/treasury-engine/store/sqlite"
	"github.com/warp/treasury-engine/treasury"
)

func main() {
	cfg := config.Load()

	// Flags
	flag.StringVar(&cfg.Server.Port, "port", cfg.Server.Port, "HTTP server port")
	flag.StringVar(&cfg.Database.Driver, "driver", cfg.Database.Driver, "store driver: sqlite or postgres")
	flag.StringVar(&cfg.Database.Path, "db", cfg.Database.Path, "SQLite database path")
	flag.StringVar(&cfg.Database.URL, "dsn", cfg.Database.URL, "PostgreSQL connection string")
	flag.Parse()

	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Str("timezone", cfg.Treasury.Timezone).Msg("failed to load treasury timezone")
	}

	// Initialize store
	store, closeStore, err := openStore(context.Background(), cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("failed to initialize database")
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Error().Err(err).Msg("failed to close database")
		}
	}()

	ledger := treasury.NewLedger(store, treasury.SystemClock{Location: loc}, log)
	handler := api.NewHandler(ledger)
	router := api.NewRouter(handler, cfg.Server.CORSOrigins, log)

	monitor := api.NewTreasuryMonitor(ledger, log)
	monitor.CheckInterval = cfg.Treasury.MonitorInterval
	monitor.DeadlineHour = cfg.Treasury.VerifyDeadlineHour
	monitor.Start()

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("driver", cfg.Database.Driver).
			Str("timezone", loc.String()).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	monitor.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// openStore opens the configured store and returns its close function.
func openStore(ctx context.Context, db config.DatabaseConfig) (treasury.Store, func() error, error) {
	switch db.Driver {
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, db.URL)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.DriverSQLite:
		s, err := sqlite.New(db.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown driver %q", db.Driver)
}
