// Package erp provides read access to the ERP order data through GORM.
package erp

import (
	"fmt"
	"time"

	_ "github.com/lib/pq" // registers the "postgres" database/sql driver
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/erp/sfagent/internal/infrastructure/logger"
	"github.com/erp/sfagent/internal/infrastructure/telemetry"
)

// driverName is the database/sql driver registered by lib/pq
const driverName = "postgres"

// Config holds the ERP connection pool settings
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// LogLevel is the GORM log level: silent, error, warn, info
	LogLevel      string
	SlowThreshold time.Duration
}

// Database holds the ERP connection
type Database struct {
	DB *gorm.DB
}

// NewDatabase opens the ERP connection through lib/pq and verifies it with a ping
func NewDatabase(cfg *Config, zapLogger *zap.Logger, tracing *telemetry.DBTracingPlugin) (*Database, error) {
	dialector := postgres.New(postgres.Config{
		DriverName: driverName,
		DSN:        cfg.DSN,
	})
	return Open(dialector, cfg, zapLogger, tracing)
}

// Open creates a Database from an arbitrary dialector
func Open(dialector gorm.Dialector, cfg *Config, zapLogger *zap.Logger, tracing *telemetry.DBTracingPlugin) (*Database, error) {
	if zapLogger == nil {
		zapLogger = zap.NewNop()
	}

	var gormOpts []logger.GormLoggerOption
	if cfg.SlowThreshold > 0 {
		gormOpts = append(gormOpts, logger.WithSlowThreshold(cfg.SlowThreshold))
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.NewGormLogger(zapLogger, logger.MapGormLogLevel(cfg.LogLevel), gormOpts...),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ERP database: %w", err)
	}

	if tracing != nil {
		if err := tracing.RegisterOtelGorm(db); err != nil {
			return nil, fmt.Errorf("failed to register database tracing: %w", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping ERP database: %w", err)
	}

	return &Database{DB: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Ping checks if the database connection is alive
func (d *Database) Ping() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Ping()
}
