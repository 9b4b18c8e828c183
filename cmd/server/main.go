/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the referral ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment), apply flag overrides
  2. Initialize zap logger with file rotation
  3. Open SQLite store
  4. Load product catalog and reference calendar
  5. Wire investment controller, rewards service, authenticator
  6. Optionally seed a demo scenario
  7. Start settlement scheduler and HTTP server

COMMAND-LINE FLAGS:
  -port         HTTP server port (overrides PORT)
  -db           SQLite database path (overrides DB_PATH)
                Use ":memory:" for in-memory database
  -seed         Load a demo scenario into an empty database
  -mint-token   Print a bearer token for a user id and exit
  -scheduler    Run the settlement ticker (default: true)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the settlement scheduler (waits for an in-flight run)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection, flush logs

EXAMPLES:
  # Run with file database
  ./server -db="./data/ledger.db"

  # Demo data in memory
  ./server -db=":memory:" -seed=full

  # Token for manual API calls
  ./server -mint-token=<user-id>

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
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

	"go.uber.org/zap"

	"github.com/warp/referral-ledger/api"
	"github.com/warp/referral-ledger/config"
	"github.com/warp/referral-ledger/factory"
	"github.com/warp/referral-ledger/generic"
	"github.com/warp/referral-ledger/investment"
	"github.com/warp/referral-ledger/pkg/logger"
	"github.com/warp/referral-ledger/rewards"
	"github.com/warp/referral-ledger/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Flags
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	seed := flag.String("seed", "", "demo scenario to load into an empty database")
	mintFor := flag.String("mint-token", "", "print a bearer token for this user id and exit")
	scheduler := flag.Bool("scheduler", true, "run the settlement scheduler")
	flag.Parse()

	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	auth := api.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL, cfg.ServiceKey)

	if *mintFor != "" {
		token, err := auth.Mint(generic.UserID(*mintFor))
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	}

	log, flush, err := logger.New(logger.Config{
		Level:      cfg.LogLevel,
		Filename:   cfg.LogFilename,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAge,
		Compress:   cfg.LogCompress,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer flush()

	if cfg.ServiceKey == "" {
		log.Warn("SERVICE_KEY is empty, settlement endpoint will reject every call")
	}

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	catalog, err := factory.LoadCatalogFile(cfg.CatalogPath)
	if err != nil {
		return err
	}
	cal, err := generic.NewCalendar(cfg.ReferenceTZ)
	if err != nil {
		return err
	}

	controller := investment.NewController(store, catalog, cal, log)
	svc := rewards.NewService(store, cal, log)
	svc.Schedule = rewards.Schedule{Base: cfg.CheckInBaseReward, PerReferral: cfg.CheckInReferralBonus}
	svc.Limits = rewards.Limits{
		MinWithdrawal: cfg.MinWithdrawal,
		MaxWithdrawal: cfg.MaxWithdrawal,
		FeePercent:    cfg.WithdrawalFeePercent,
	}

	settlements := api.NewSettlementScheduler(store, controller, log)
	settlements.Interval = cfg.SettlementInterval
	settlements.Enabled = *scheduler

	handler := api.NewHandler(store, controller, svc, settlements, auth, log)

	if *seed != "" {
		res, err := handler.LoadScenario(context.Background(), *seed)
		if err != nil {
			return fmt.Errorf("seed %s: %w", *seed, err)
		}
		token, err := auth.Mint(res.Admin.ID)
		if err != nil {
			return err
		}
		log.Info("demo admin token", zap.String("admin_id", string(res.Admin.ID)), zap.String("token", token))
	}

	if err := settlements.Start(); err != nil {
		return err
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      api.NewRouter(handler, cfg.AllowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.Int("port", *port), zap.String("db", *dbPath))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		settlements.Stop()
		return fmt.Errorf("server failed: %w", err)
	}

	log.Info("shutting down server")
	settlements.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
