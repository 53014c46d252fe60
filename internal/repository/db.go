// Package repository persists parse runs through database/sql on sqlite or
// Postgres.
package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed schema/*.sql
var schemaFS embed.FS

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

type Config struct {
	Driver          string
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// DB is a *sql.DB that remembers its dialect.
type DB struct {
	*sql.DB
	driver string
	pool   *pgxpool.Pool
}

// Open connects, pings and applies the embedded schema.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DSN == "" {
		return nil, errors.New("store dsn is empty")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	logger.Info("connecting to database", "driver", cfg.Driver)

	var db *DB
	switch cfg.Driver {
	case DriverSQLite, "":
		sdb, err := sql.Open("sqlite", cfg.DSN)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			return nil, err
		}
		// one writer; sqlite serializes writes anyway
		sdb.SetMaxOpenConns(1)
		if _, err := sdb.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			_ = sdb.Close()
			return nil, err
		}
		db = &DB{DB: sdb, driver: DriverSQLite}
	case DriverPostgres:
		pc, err := pgxpool.ParseConfig(cfg.DSN)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			return nil, err
		}
		if cfg.MaxConns > 0 {
			pc.MaxConns = cfg.MaxConns
		}
		if cfg.MaxConnLifetime > 0 {
			pc.MaxConnLifetime = cfg.MaxConnLifetime
		}
		if cfg.MaxConnIdleTime > 0 {
			pc.MaxConnIdleTime = cfg.MaxConnIdleTime
		}
		pc.ConnConfig.RuntimeParams["application_name"] = "health-reports"

		dctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
		pool, err := pgxpool.NewWithConfig(dctx, pc)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			return nil, err
		}
		db = &DB{DB: stdlib.OpenDBFromPool(pool), driver: DriverPostgres, pool: pool}
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}

	if err := HealthCheck(ctx, db, cfg.DialTimeout, logger); err != nil {
		db.Close(logger)
		return nil, err
	}
	if err := db.migrate(ctx); err != nil {
		db.Close(logger)
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	logger.Info("successfully connected to database", "driver", db.driver)
	return db, nil
}

func (db *DB) migrate(ctx context.Context) error {
	name := "schema/sqlite.sql"
	if db.driver == DriverPostgres {
		name = "schema/postgres.sql"
	}
	b, err := schemaFS.ReadFile(name)
	if err != nil {
		return err
	}
	for _, stmt := range strings.Split(string(b), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Rebind rewrites ? placeholders to $n for Postgres.
func (db *DB) Rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Close closes the database connections gracefully
func (db *DB) Close(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("closing database connections")
	if err := db.DB.Close(); err != nil {
		logger.Error("failed to close database", "error", err)
	}
	if db.pool != nil {
		db.pool.Close()
	}
	logger.Info("database connections closed")
}

// HealthCheck pings using database/sql to catch DSN issues early.
func HealthCheck(ctx context.Context, db *DB, timeout time.Duration, logger *slog.Logger) error {
	logger.Debug("pinging database")
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := db.PingContext(ctx); err != nil {
		logger.Error("database ping failed", "error", err)
		return err
	}
	logger.Debug("database ping successful")
	return nil
}
