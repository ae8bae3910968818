// Package migrations applies the embedded schema migrations on startup.
package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	dbmigrations "github.com/foggle/foggle/db/migrations"
	"github.com/foggle/foggle/internal/observability"
	"github.com/foggle/foggle/internal/telemetry"
)

var (
	migrationsCounter   metric.Int64Counter
	migrationsCounterMu sync.Once
)

// Apply brings the Postgres instance reachable via dsn up to the latest
// embedded migration. Already up-to-date databases are a no-op.
func Apply(ctx context.Context, dsn string) error {
	return withInstance(ctx, dsn, func(m *migrate.Migrate) error {
		if err := m.Up(); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				recordMigrationMetric(ctx, "noop")
				observability.Log().Info("database schema up-to-date")
				return nil
			}
			recordMigrationMetric(ctx, "failed")
			return fmt.Errorf("migrations: apply: %w", err)
		}
		recordMigrationMetric(ctx, "applied")
		observability.Log().Info("database migrations applied")
		return nil
	})
}

// Rollback reverts the given number of migrations.
func Rollback(ctx context.Context, dsn string, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("migrations: rollback steps must be positive, got %d", steps)
	}
	return withInstance(ctx, dsn, func(m *migrate.Migrate) error {
		if err := m.Steps(-steps); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				recordMigrationMetric(ctx, "noop")
				return nil
			}
			recordMigrationMetric(ctx, "failed")
			return fmt.Errorf("migrations: rollback: %w", err)
		}
		recordMigrationMetric(ctx, "rolled_back")
		observability.Log().Info("database migrations rolled back", observability.F("steps", steps))
		return nil
	})
}

func withInstance(ctx context.Context, dsn string, fn func(*migrate.Migrate) error) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("migrations: open connection: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			observability.Log().Warn("migrations connection close", observability.F("error", cerr.Error()))
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("migrations: ping database: %w", err)
	}

	source, err := iofs.New(dbmigrations.Files, ".")
	if err != nil {
		return fmt.Errorf("migrations: open embedded source: %w", err)
	}

	var driverConfig pgxv5.Config
	driver, err := pgxv5.WithInstance(db, &driverConfig)
	if err != nil {
		return fmt.Errorf("migrations: initialise pgx driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("migrations: initialise migrate instance: %w", err)
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		if sourceErr != nil {
			observability.Log().Warn("migrations source close", observability.F("error", sourceErr.Error()))
		}
		if dbErr != nil {
			observability.Log().Warn("migrations db close", observability.F("error", dbErr.Error()))
		}
	}()

	return fn(m)
}

func recordMigrationMetric(ctx context.Context, result string) {
	migrationsCounterMu.Do(func() {
		meter := otel.Meter("foggle.migrations")
		counter, err := meter.Int64Counter("foggle_db_migrations_total",
			metric.WithDescription("Migration runs executed via golang-migrate"),
			metric.WithUnit("{run}"))
		if err == nil {
			migrationsCounter = counter
		}
	})
	if migrationsCounter == nil {
		return
	}
	migrationsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("environment", telemetry.Environment()),
		attribute.String("result", result),
	))
}
