// Package postgres provides PostgreSQL connection options.
package postgres

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/helix-assistant/pkg/options"
	"github.com/kart-io/helix-assistant/pkg/utils/json"
)

var _ options.IOptions = (*Options)(nil)

// redactedPassword is the placeholder used when serializing passwords.
const redactedPassword = "[REDACTED]"

// Options defines configuration options for PostgreSQL.
type Options struct {
	Host                  string        `json:"host" mapstructure:"host"`
	Port                  int           `json:"port" mapstructure:"port"`
	Username              string        `json:"username" mapstructure:"username"`
	Password              string        `json:"-" mapstructure:"password"`
	Database              string        `json:"database" mapstructure:"database"`
	SSLMode               string        `json:"ssl-mode" mapstructure:"ssl-mode"`
	MaxIdleConnections    int           `json:"max-idle-connections" mapstructure:"max-idle-connections"`
	MaxOpenConnections    int           `json:"max-open-connections" mapstructure:"max-open-connections"`
	MaxConnectionLifeTime time.Duration `json:"max-connection-life-time" mapstructure:"max-connection-life-time"`
}

// NewOptions creates a new Options object with default values.
func NewOptions() *Options {
	return &Options{
		Host:                  "127.0.0.1",
		Port:                  5432,
		Username:              "postgres",
		Database:              "helix",
		SSLMode:               "disable",
		MaxIdleConnections:    10,
		MaxOpenConnections:    100,
		MaxConnectionLifeTime: 10 * time.Minute,
	}
}

// MarshalJSON implements json.Marshaler with password redaction.
func (o *Options) MarshalJSON() ([]byte, error) {
	type alias Options
	password := redactedPassword
	if o.Password == "" {
		password = ""
	}
	return json.Marshal(struct {
		*alias
		Password string `json:"password"`
	}{alias: (*alias)(o), Password: password})
}

// String returns a string representation with password redacted.
func (o *Options) String() string {
	password := redactedPassword
	if o.Password == "" {
		password = ""
	}
	return fmt.Sprintf("PostgreSQL{host=%s, port=%d, user=%s, password=%s, database=%s, sslmode=%s}",
		o.Host, o.Port, o.Username, password, o.Database, o.SSLMode)
}

// Complete reads the password from POSTGRES_PASSWORD when no flag set it.
func (o *Options) Complete() error {
	if o.Password == "" {
		o.Password = os.Getenv("POSTGRES_PASSWORD")
	}
	return nil
}

// Validate checks if the options are valid.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}
	var errs []error
	if o.Host == "" {
		errs = append(errs, fmt.Errorf("postgres host is required"))
	}
	if o.Port <= 0 || o.Port > 65535 {
		errs = append(errs, fmt.Errorf("postgres port %d is out of range", o.Port))
	}
	if o.Database == "" {
		errs = append(errs, fmt.Errorf("postgres database is required"))
	}
	return errs
}

// AddFlags adds flags for PostgreSQL options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "postgres."
	fs.StringVar(&o.Host, p+"host", o.Host, "PostgreSQL host")
	fs.IntVar(&o.Port, p+"port", o.Port, "PostgreSQL port")
	fs.StringVar(&o.Username, p+"username", o.Username, "PostgreSQL username")
	fs.StringVar(&o.Password, p+"password", o.Password, "PostgreSQL password (prefer the POSTGRES_PASSWORD env var)")
	fs.StringVar(&o.Database, p+"database", o.Database, "PostgreSQL database")
	fs.StringVar(&o.SSLMode, p+"ssl-mode", o.SSLMode, "PostgreSQL SSL mode")
	fs.IntVar(&o.MaxIdleConnections, p+"max-idle-connections", o.MaxIdleConnections, "PostgreSQL max idle connections")
	fs.IntVar(&o.MaxOpenConnections, p+"max-open-connections", o.MaxOpenConnections, "PostgreSQL max open connections")
	fs.DurationVar(&o.MaxConnectionLifeTime, p+"max-connection-life-time", o.MaxConnectionLifeTime, "PostgreSQL max connection life time")
}
