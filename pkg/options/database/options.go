// Package database provides options selecting and tuning the relational store.
package database

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/kart-io/helix-assistant/pkg/options"
	pgopts "github.com/kart-io/helix-assistant/pkg/options/postgres"
)

var _ options.IOptions = (*Options)(nil)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options selects the gorm driver.
type Options struct {
	// Driver is sqlite or postgres.
	Driver string `json:"driver" mapstructure:"driver"`

	// SQLitePath is the database file, ":memory:" for an in-memory database.
	SQLitePath string `json:"sqlite-path" mapstructure:"sqlite-path"`

	// LogLevel is the gorm log level: 1 silent, 2 error, 3 warn, 4 info.
	LogLevel int `json:"log-level" mapstructure:"log-level"`

	// AutoMigrate creates or updates tables on startup.
	AutoMigrate bool `json:"auto-migrate" mapstructure:"auto-migrate"`

	Postgres *pgopts.Options `json:"postgres" mapstructure:"postgres"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Driver:      DriverSQLite,
		SQLitePath:  "helix-assistant.db",
		LogLevel:    1,
		AutoMigrate: true,
		Postgres:    pgopts.NewOptions(),
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "database."
	fs.StringVar(&o.Driver, p+"driver", o.Driver, "Database driver (sqlite|postgres).")
	fs.StringVar(&o.SQLitePath, p+"sqlite-path", o.SQLitePath, "SQLite database file.")
	fs.IntVar(&o.LogLevel, p+"log-level", o.LogLevel, "GORM log level (1 silent, 2 error, 3 warn, 4 info).")
	fs.BoolVar(&o.AutoMigrate, p+"auto-migrate", o.AutoMigrate, "Run schema migration on startup.")
	o.Postgres.AddFlags(fs, append(prefixes, "database")...)
}

// Complete completes nested options.
func (o *Options) Complete() error {
	if o.Driver == DriverPostgres {
		return o.Postgres.Complete()
	}
	return nil
}

// Validate validates the options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}
	var errs []error
	switch o.Driver {
	case DriverSQLite:
		if o.SQLitePath == "" {
			errs = append(errs, fmt.Errorf("database sqlite-path is required"))
		}
	case DriverPostgres:
		errs = append(errs, o.Postgres.Validate()...)
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", o.Driver))
	}
	if o.LogLevel < 1 || o.LogLevel > 4 {
		errs = append(errs, fmt.Errorf("database log-level must be within [1,4]"))
	}
	return errs
}
