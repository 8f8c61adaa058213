package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/race-go/runner/internal/addrbalance"
	"github.com/race-go/runner/internal/addrstore"
	"github.com/race-go/runner/internal/database"
	"github.com/race-go/runner/internal/ethrpc"
	"github.com/race-go/runner/internal/memmonitor"
	"github.com/race-go/runner/internal/opsapi"
	"github.com/race-go/runner/internal/pgsink"
	"github.com/race-go/runner/internal/runner"
	"github.com/race-go/runner/internal/runnerconfig"
	"github.com/race-go/runner/internal/runnerlog"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := runnerconfig.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := runnerlog.New(cfg.Logging)
	logger.Info("starting indexer-runner",
		"database_host", cfg.Database.Host,
		"max_batch_size", cfg.Runner.MaxBatchSize,
		"max_concurrency", cfg.Runner.MaxConcurrency,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := initDatabase(ctx, cfg)
	defer pool.Close()

	r := initRunner(cfg, pool, logger)
	r.Start(ctx)

	initMemMonitor(ctx, cfg, r, logger)

	srv := initOpsServer(cfg, r, logger)
	go startOpsServer(srv, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdown(cancel, srv, r, logger)
}

func initDatabase(ctx context.Context, cfg *runnerconfig.Config) *pgxpool.Pool {
	connString := cfg.Database.ConnString()

	if err := runMigrations(connString); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		log.Fatalf("parse pool config: %v", err)
	}
	if cfg.Database.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	}
	if cfg.Database.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.Database.MinConns)
	}
	if cfg.Database.MaxConnLifeMins > 0 {
		poolCfg.MaxConnLifetime = time.Duration(cfg.Database.MaxConnLifeMins) * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Fatalf("create pool: %v", err)
	}
	return pool
}

func runMigrations(connString string) error {
	sqlDB, err := sql.Open("pgx", connString)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer sqlDB.Close()

	goose.SetBaseFS(database.EmbeddedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return goose.Up(sqlDB, "migrations")
}

func initRunner(cfg *runnerconfig.Config, pool *pgxpool.Pool, logger *slog.Logger) *runner.Runner[string] {
	store := addrstore.New(pool)
	sink := pgsink.New(pool)
	fetcher := ethrpc.New("http://localhost:8545", 10*time.Second)

	cb := addrbalance.New(store, fetcher, sink, logger)

	rcfg := cfg.ToRunnerConfig(map[string]string{"callback": "addrbalance"})
	return runner.New[string](rcfg, cb, logger)
}

func initMemMonitor(ctx context.Context, cfg *runnerconfig.Config, r *runner.Runner[string], logger *slog.Logger) *memmonitor.Monitor {
	mon := memmonitor.New(memmonitor.Config{
		PollInterval:   10 * time.Second,
		ThresholdBytes: 512 * 1024 * 1024,
	}, logger)
	mon.RegisterShrinkable(ctx, r)
	go mon.Start(ctx)
	return mon
}

func initOpsServer(cfg *runnerconfig.Config, r *runner.Runner[string], logger *slog.Logger) *http.Server {
	handler := opsapi.NewRouter(opsapi.Adapt(r), cfg.OpsAPI.JWTSecret, logger)
	return &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.OpsAPI.Host, cfg.OpsAPI.Port),
		Handler:     handler,
		ReadTimeout: time.Duration(cfg.OpsAPI.ReadTimeoutMS) * time.Millisecond,
	}
}

func startOpsServer(srv *http.Server, logger *slog.Logger) {
	logger.Info("ops api listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("ops api server failed", "error", err)
		os.Exit(1)
	}
}

func shutdown(cancel context.CancelFunc, srv *http.Server, r *runner.Runner[string], logger *slog.Logger) {
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops api forced shutdown", "error", err)
	}

	if err := r.Stop(shutdownCtx); err != nil {
		logger.Error("runner drain finished with errors", "error", err)
	}

	cancel()
	logger.Info("shutdown complete")
}
