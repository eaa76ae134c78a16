// Package store persists patterns and observations in a SQL database
// through gorm. SQLite is the default; Postgres is used for shared
// deployments.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// ErrInvalidConfig indicates a malformed store configuration.
var ErrInvalidConfig = errors.New("invalid store configuration")

// Supported drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and configures the backing database.
type Config struct {
	// Driver is memory, sqlite or postgres. Empty means memory.
	Driver string `koanf:"driver"`

	// DSN is a file path for sqlite or a connection string for postgres.
	DSN string `koanf:"dsn"`

	MaxOpenConns  int           `koanf:"max_open_conns"`
	MaxIdleConns  int           `koanf:"max_idle_conns"`
	SlowThreshold time.Duration `koanf:"slow_threshold"`
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Driver {
	case "", DriverMemory:
		return nil
	case DriverSQLite, DriverPostgres:
		if strings.TrimSpace(c.DSN) == "" {
			return fmt.Errorf("%w: dsn is required for %s", ErrInvalidConfig, c.Driver)
		}
	default:
		return fmt.Errorf("%w: unknown driver %q", ErrInvalidConfig, c.Driver)
	}
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 {
		return fmt.Errorf("%w: connection limits must be non-negative", ErrInvalidConfig)
	}
	return nil
}

// Open connects to the configured database and migrates the schema.
func Open(cfg Config, logger *zap.Logger) (*gorm.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverSQLite:
		if dir := filepath.Dir(cfg.DSN); dir != "." && !strings.HasPrefix(cfg.DSN, "file:") {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		dialector = sqlite.Open(cfg.DSN)
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: driver %q has no database", ErrInvalidConfig, cfg.Driver)
	}

	slow := cfg.SlowThreshold
	if slow <= 0 {
		slow = 500 * time.Millisecond
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger: gormLogger.New(zap.NewStdLog(logger.Named("gorm")), gormLogger.Config{
			SlowThreshold:             slow,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql db: %w", err)
	}
	if cfg.Driver == DriverSQLite {
		// SQLite allows one writer.
		sqlDB.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if err := AutoMigrate(db); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	logger.Info("database opened", zap.String("driver", cfg.Driver))
	return db, nil
}

// AutoMigrate creates or updates the pattern and observation tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&patternRow{}, &observationRow{}); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
