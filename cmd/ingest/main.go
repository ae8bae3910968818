// Command ingest launches the Foggle market-data ingestion service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foggle/foggle/config"
	"github.com/foggle/foggle/internal/adapters"
	"github.com/foggle/foggle/internal/conductor"
	"github.com/foggle/foggle/internal/feed"
	"github.com/foggle/foggle/internal/infra/persistence"
	"github.com/foggle/foggle/internal/infra/persistence/migrations"
	"github.com/foggle/foggle/internal/infra/persistence/postgres"
	"github.com/foggle/foggle/internal/newswatch"
	"github.com/foggle/foggle/internal/observability"
	"github.com/foggle/foggle/internal/schema"
	"github.com/foggle/foggle/internal/telemetry"
	libtelemetry "github.com/foggle/foggle/lib/telemetry"
)

const (
	defaultConfigPath        = "config/foggle.yaml"
	loggerPrefix             = "ingest "
	sinkWorkers              = 8
	sinkQueue                = 1024
	shutdownTimeout          = 30 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	cfgPath := parseFlags()
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetLogger(observability.NewStdLogger(loggerPrefix, cfg.Debug))
	telemetry.SetEnvironment(string(cfg.Environment))
	observability.Log().Info("configuration initialised",
		observability.F("run_id", uuid.NewString()),
		observability.F("env", string(cfg.Environment)),
		observability.F("venues", len(cfg.Venues)))

	_, shutdownTelemetry, err := libtelemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		fatal("initialise telemetry", err)
	}

	if strings.TrimSpace(cfg.Database.DSN) == "" {
		fatal("database", fmt.Errorf("dsn required, set FOGGLE_DATABASE_DSN or database.dsn"))
	}
	if err := migrations.Apply(ctx, cfg.Database.DSN); err != nil {
		fatal("apply migrations", err)
	}

	pool, err := newPool(ctx, cfg.Database)
	if err != nil {
		fatal("connect database", err)
	}
	defer pool.Close()

	store := postgres.New(pool)
	marketFeed := feed.New(feed.DefaultCapacity)
	metrics := telemetry.Default()
	recorder := persistence.NewRecorder(store, marketFeed, metrics)

	cond, err := conductor.New(recorder, sinkWorkers, sinkQueue)
	if err != nil {
		fatal("initialise conductor", err)
	}

	registry, err := adapters.NewRegistry()
	if err != nil {
		fatal("initialise adapter registry", err)
	}
	for venue, settings := range cfg.Venues {
		if settings.PrivateKey == "" {
			observability.Log().Warn("venue skipped, no signing key configured",
				observability.F("venue", venue))
			continue
		}
		adapter, err := registry.New(venue, settings)
		if err != nil {
			fatal("build adapter "+venue, err)
		}
		if err := cond.AddExchange(adapter); err != nil {
			fatal("register adapter "+venue, err)
		}
	}

	if err := cond.Connect(ctx); err != nil {
		fatal("connect venues", err)
	}

	for venue, streams := range cfg.Streams {
		requests := buildRequests(venue, streams)
		if len(requests) == 0 {
			continue
		}
		if err := cond.SubscribeAll(ctx, venue, requests); err != nil {
			observability.Log().Error("subscriptions incomplete",
				observability.F("venue", venue),
				observability.F("error", err.Error()))
		}
	}

	watcher := newswatch.New(store.News, metrics, cfg.News)
	go func() {
		_ = watcher.Run(ctx)
	}()

	observability.Log().Info("ingest started, awaiting shutdown signal")
	<-ctx.Done()
	observability.Log().Info("shutdown signal received")

	shutdownStart := time.Now()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := cond.Close(shutdownCtx); err != nil {
		observability.Log().Warn("conductor close", observability.F("error", err.Error()))
	}
	telemetryCtx, telemetryCancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	defer telemetryCancel()
	if err := shutdownTelemetry(telemetryCtx); err != nil {
		observability.Log().Warn("telemetry shutdown", observability.F("error", err.Error()))
	}

	observability.Log().Info("shutdown complete",
		observability.F("elapsed", time.Since(shutdownStart).String()))
}

func parseFlags() string {
	cfgPath := flag.String("config", defaultConfigPath, "path to the configuration file")
	flag.Parse()
	return *cfgPath
}

func fatal(step string, err error) {
	observability.Log().Error(step, observability.F("error", err.Error()))
	os.Exit(1)
}

func newPool(ctx context.Context, settings config.DatabaseSettings) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(settings.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if settings.MaxConns > 0 {
		poolCfg.MaxConns = settings.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func buildRequests(venue string, streams []config.StreamSettings) []conductor.Request {
	requests := make([]conductor.Request, 0, len(streams))
	for _, stream := range streams {
		symbol := strings.TrimSpace(stream.Symbol)
		if symbol == "" {
			continue
		}
		secType := schema.SecurityPerpetual
		if s := strings.ToUpper(strings.TrimSpace(stream.SecType)); s != "" {
			secType = schema.SecurityType(s)
		}
		requests = append(requests, conductor.Request{
			Contract: schema.Contract{
				Symbol:   symbol,
				SecType:  secType,
				Exchange: strings.ToUpper(venue),
				Currency: "USD",
			},
			Trades:          stream.Trades,
			OrderBook:       stream.OrderBook,
			CandleIntervals: stream.Candles,
		})
	}
	return requests
}
