// Package redis provides Redis connection options.
package redis

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

// Options defines configuration options for Redis.
type Options struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	Host         string        `json:"host" mapstructure:"host"`
	Port         int           `json:"port" mapstructure:"port"`
	Password     string        `json:"-" mapstructure:"password"`
	Database     int           `json:"database" mapstructure:"database"`
	MaxRetries   int           `json:"max-retries" mapstructure:"max-retries"`
	PoolSize     int           `json:"pool-size" mapstructure:"pool-size"`
	DialTimeout  time.Duration `json:"dial-timeout" mapstructure:"dial-timeout"`
	ReadTimeout  time.Duration `json:"read-timeout" mapstructure:"read-timeout"`
	WriteTimeout time.Duration `json:"write-timeout" mapstructure:"write-timeout"`

	// EmbeddingCacheTTL is how long query embeddings stay cached.
	EmbeddingCacheTTL time.Duration `json:"embedding-cache-ttl" mapstructure:"embedding-cache-ttl"`
}

// NewOptions creates a new Options object with default values.
func NewOptions() *Options {
	return &Options{
		Enabled:           true,
		Host:              "127.0.0.1",
		Port:              6379,
		MaxRetries:        3,
		PoolSize:          10,
		DialTimeout:       5 * time.Second,
		ReadTimeout:       3 * time.Second,
		WriteTimeout:      3 * time.Second,
		EmbeddingCacheTTL: 24 * time.Hour,
	}
}

// Addr returns host:port.
func (o *Options) Addr() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
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
	return fmt.Sprintf("Redis{host=%s, port=%d, password=%s, database=%d}",
		o.Host, o.Port, password, o.Database)
}

// Complete reads the password from REDIS_PASSWORD when no flag set it.
func (o *Options) Complete() error {
	if o.Password == "" {
		o.Password = os.Getenv("REDIS_PASSWORD")
	}
	return nil
}

// Validate checks if the options are valid.
func (o *Options) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}
	var errs []error
	if o.Host == "" {
		errs = append(errs, fmt.Errorf("redis host is required"))
	}
	if o.Port <= 0 || o.Port > 65535 {
		errs = append(errs, fmt.Errorf("redis port %d is out of range", o.Port))
	}
	if o.EmbeddingCacheTTL < 0 {
		errs = append(errs, fmt.Errorf("redis embedding-cache-ttl must not be negative"))
	}
	return errs
}

// AddFlags adds flags for Redis options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "redis."
	fs.BoolVar(&o.Enabled, p+"enabled", o.Enabled, "Enable the Redis query-embedding cache")
	fs.StringVar(&o.Host, p+"host", o.Host, "Redis host")
	fs.IntVar(&o.Port, p+"port", o.Port, "Redis port")
	fs.StringVar(&o.Password, p+"password", o.Password, "Redis password (prefer the REDIS_PASSWORD env var)")
	fs.IntVar(&o.Database, p+"database", o.Database, "Redis database")
	fs.IntVar(&o.MaxRetries, p+"max-retries", o.MaxRetries, "Redis max retries")
	fs.IntVar(&o.PoolSize, p+"pool-size", o.PoolSize, "Redis pool size")
	fs.DurationVar(&o.DialTimeout, p+"dial-timeout", o.DialTimeout, "Redis dial timeout")
	fs.DurationVar(&o.ReadTimeout, p+"read-timeout", o.ReadTimeout, "Redis read timeout")
	fs.DurationVar(&o.WriteTimeout, p+"write-timeout", o.WriteTimeout, "Redis write timeout")
	fs.DurationVar(&o.EmbeddingCacheTTL, p+"embedding-cache-ttl", o.EmbeddingCacheTTL, "TTL of cached query embeddings")
}
