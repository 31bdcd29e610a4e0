// Package database opens the relational store backing documents, chunks and
// conversations. SQLite is the default for single node installs; PostgreSQL
// is used in production and is required for the pgvector index.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/kart-io/logger"
	postgresdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	dbopts "github.com/kart-io/helix-assistant/pkg/options/database"
)

const pingTimeout = 5 * time.Second

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, opts *dbopts.Options) (*gorm.DB, error) {
	if opts == nil {
		return nil, fmt.Errorf("database options cannot be nil")
	}
	if errs := opts.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid database options: %v", errs)
	}

	cfg := &gorm.Config{
		Logger:  gormlogger.Default.LogMode(LogLevel(opts.LogLevel)),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	var (
		db  *gorm.DB
		err error
	)
	switch opts.Driver {
	case dbopts.DriverPostgres:
		db, err = gorm.Open(postgresdriver.Open(BuildDSN(opts.Postgres)), cfg)
	default:
		db, err = gorm.Open(sqlite.Open(BuildSQLiteDSN(opts.SQLitePath)), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", opts.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if opts.Driver == dbopts.DriverPostgres {
		sqlDB.SetMaxIdleConns(opts.Postgres.MaxIdleConnections)
		sqlDB.SetMaxOpenConns(opts.Postgres.MaxOpenConnections)
		sqlDB.SetConnMaxLifetime(opts.Postgres.MaxConnectionLifeTime)
	} else {
		// SQLite only tolerates a single writer.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Ping(ctx, db); err != nil {
		_ = Close(db)
		return nil, err
	}

	logger.Infow("Database connected", "driver", opts.Driver)
	return db, nil
}

// LogLevel maps the 1-4 option scale onto gorm log levels.
func LogLevel(level int) gormlogger.LogLevel {
	switch level {
	case 2:
		return gormlogger.Error
	case 3:
		return gormlogger.Warn
	case 4:
		return gormlogger.Info
	default:
		return gormlogger.Silent
	}
}

// Ping verifies the connection within a bounded timeout.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
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
