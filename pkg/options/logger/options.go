// Package logger provides logger configuration options.
package logger

import (
	"fmt"

	"github.com/kart-io/logger"
	"github.com/kart-io/logger/core"
	"github.com/kart-io/logger/option"
	"github.com/spf13/pflag"

	"github.com/kart-io/helix-assistant/pkg/options"
)

// Options wraps the logger option.LogOption.
type Options struct {
	*option.LogOption
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		LogOption: option.DefaultLogOption(),
	}
}

// AddFlags adds flags for logger options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "log."
	fs.StringVar(&o.Engine, p+"engine", o.Engine, "Logging engine (zap|slog)")
	fs.StringVar(&o.Level, p+"level", o.Level, "Log level (DEBUG|INFO|WARN|ERROR|FATAL)")
	fs.StringVar(&o.Format, p+"format", o.Format, "Log format (json|console)")
	fs.StringSliceVar(&o.OutputPaths, p+"output-paths", o.OutputPaths, "Output paths for logs")
	fs.BoolVar(&o.Development, p+"development", o.Development, "Enable development mode")
	fs.BoolVar(&o.DisableCaller, p+"disable-caller", o.DisableCaller, "Disable caller detection")
	fs.BoolVar(&o.DisableStacktrace, p+"disable-stacktrace", o.DisableStacktrace, "Disable stacktrace capture")
}

// Validate validates the logger options.
func (o *Options) Validate() []error {
	if o == nil || o.LogOption == nil {
		return nil
	}
	if err := o.LogOption.Validate(); err != nil {
		return []error{fmt.Errorf("log: %w", err)}
	}
	return nil
}

// Complete completes the logger options with defaults.
func (o *Options) Complete() error {
	if o.LogOption == nil {
		o.LogOption = option.DefaultLogOption()
	}
	return nil
}

// CreateLogger creates a new logger instance based on the options.
func (o *Options) CreateLogger() (core.Logger, error) {
	return logger.New(o.LogOption)
}

// Init initializes the global logger with the options.
func (o *Options) Init() error {
	log, err := o.CreateLogger()
	if err != nil {
		return err
	}
	logger.SetGlobal(log)
	return nil
}
