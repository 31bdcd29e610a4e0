// Package http provides HTTP server options.
package http

import (
	"fmt"
	"net"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/helix-assistant/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options contains the HTTP server configuration.
type Options struct {
	Addr         string        `json:"addr" mapstructure:"addr"`
	ReadTimeout  time.Duration `json:"read-timeout" mapstructure:"read-timeout"`
	WriteTimeout time.Duration `json:"write-timeout" mapstructure:"write-timeout"`
	IdleTimeout  time.Duration `json:"idle-timeout" mapstructure:"idle-timeout"`
	// Mode is the gin mode (debug|release|test).
	Mode string `json:"mode" mapstructure:"mode"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Addr:         ":8090",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second,
		IdleTimeout:  120 * time.Second,
		Mode:         "release",
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "http."
	fs.StringVar(&o.Addr, p+"addr", o.Addr, "HTTP listen address.")
	fs.DurationVar(&o.ReadTimeout, p+"read-timeout", o.ReadTimeout, "HTTP read timeout.")
	fs.DurationVar(&o.WriteTimeout, p+"write-timeout", o.WriteTimeout, "HTTP write timeout. Must exceed the generation timeout.")
	fs.DurationVar(&o.IdleTimeout, p+"idle-timeout", o.IdleTimeout, "HTTP idle timeout.")
	fs.StringVar(&o.Mode, p+"mode", o.Mode, "Gin mode (debug|release|test).")
}

// Complete completes the options.
func (o *Options) Complete() error {
	return nil
}

// Validate validates the options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}
	var errs []error
	if _, _, err := net.SplitHostPort(o.Addr); err != nil {
		errs = append(errs, fmt.Errorf("invalid http addr %q: %w", o.Addr, err))
	}
	if o.ReadTimeout <= 0 || o.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("http timeouts must be positive"))
	}
	switch o.Mode {
	case "debug", "release", "test":
	default:
		errs = append(errs, fmt.Errorf("invalid http mode %q", o.Mode))
	}
	return errs
}
