// Package storage implements the durable audit sink using GORM.
// Two backends are provided: SQLite (default, zero-config, pure Go via
// glebarez/sqlite) and PostgreSQL (production). All GORM usage is confined
// to this package — domain types remain ORM-free.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tmws-ai/tmws/internal/config"
)

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"

const defaultSQLitePath = "tmws.db"

// DB wraps a GORM database connection with health check and lifecycle methods.
type DB struct {
	gormDB *gorm.DB
	driver string
	logger *slog.Logger
}

// Open connects to the configured backend, tunes the pool, and runs
// AutoMigrate. A nil config opens the default SQLite file.
func Open(cfg *config.StorageConfig, slogger *slog.Logger) (*DB, error) {
	if slogger == nil {
		slogger = slog.Default()
	}

	gormLogger := logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
	gormCfg := &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	driver := cfg.StorageDriver()

	var db *gorm.DB
	var err error
	switch driver {
	case DriverPostgres:
		if cfg == nil || cfg.Postgres == nil || cfg.Postgres.DSN == "" {
			return nil, fmt.Errorf("postgres storage requires a dsn")
		}
		db, err = gorm.Open(postgres.Open(cfg.Postgres.DSN), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		if err := tunePool(db, cfg.Postgres); err != nil {
			return nil, err
		}
	case DriverSQLite:
		path := defaultSQLitePath
		if cfg != nil && cfg.SQLite != nil && cfg.SQLite.Path != "" {
			path = cfg.SQLite.Path
		}
		db, err = gorm.Open(sqlite.Open(path), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}

	if err := db.AutoMigrate(&AuditRecordModel{}); err != nil {
		return nil, fmt.Errorf("auto-migrating: %w", err)
	}

	slogger.Info("storage connected", slog.String("driver", driver))

	return &DB{gormDB: db, driver: driver, logger: slogger}, nil
}

func tunePool(db *gorm.DB, cfg *config.PostgresStorageConfig) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying sql.DB: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	lifetime := time.Duration(cfg.ConnMaxLifetimeS) * time.Second
	if lifetime <= 0 {
		lifetime = 30 * time.Minute
	}

	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(lifetime)
	return nil
}

// GormDB returns the underlying *gorm.DB for repository constructors.
func (d *DB) GormDB() *gorm.DB {
	return d.gormDB
}

// Driver returns the storage driver name ("sqlite" or "postgres").
func (d *DB) Driver() string {
	return d.driver
}

// Ping checks the database connection for health/readiness probes.
func (d *DB) Ping(ctx context.Context) error {
	sqlDB, err := d.gormDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the database connection pool.
func (d *DB) Close() error {
	sqlDB, err := d.gormDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// slogAdapter wraps *slog.Logger for GORM's logger.Writer interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}
