// Package app wires a cobra command to an options struct.
//
// Configuration is layered: defaults from the options struct, then the YAML
// config file, then environment variables prefixed with the upper-cased app
// name, and finally flags set explicitly on the command line.
//
//	application := app.NewApp(
//	    app.WithName("helix-assistant"),
//	    app.WithOptions(opts),
//	    app.WithRunFunc(run),
//	)
//	application.Run()
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kart-io/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cliflag "github.com/kart-io/helix-assistant/pkg/infra/app/cliflag"
	options "github.com/kart-io/helix-assistant/pkg/options/app"
)

// RunFunc is called once options are loaded, completed and validated.
type RunFunc func() error

// Option configures an App.
type Option func(*App)

// App is a single-command CLI application.
type App struct {
	name      string
	short     string
	long      string
	options   options.CliOptions
	run       RunFunc
	silence   bool
	noVersion bool
	noConfig  bool

	cmd *cobra.Command
}

func WithName(name string) Option                { return func(a *App) { a.name = name } }
func WithShortDescription(desc string) Option    { return func(a *App) { a.short = desc } }
func WithDescription(desc string) Option         { return func(a *App) { a.long = desc } }
func WithOptions(opts options.CliOptions) Option { return func(a *App) { a.options = opts } }
func WithRunFunc(run RunFunc) Option             { return func(a *App) { a.run = run } }

// WithSilence stops cobra from printing errors; Run still reports them.
func WithSilence() Option { return func(a *App) { a.silence = true } }

// WithNoVersion drops the --version flag.
func WithNoVersion() Option { return func(a *App) { a.noVersion = true } }

// WithNoConfig drops --config and skips file and environment loading.
func WithNoConfig() Option { return func(a *App) { a.noConfig = true } }

// NewApp builds the application and its cobra command.
func NewApp(opts ...Option) *App {
	a := &App{name: filepath.Base(os.Args[0])}
	for _, opt := range opts {
		opt(a)
	}
	a.cmd = a.newCommand()
	return a
}

// Version returns the git version the binary was built from.
func Version() string {
	return version.Get().GitVersion
}

func (a *App) newCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           a.name,
		Short:         a.short,
		Long:          a.long,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: a.silence,
		RunE:          func(cmd *cobra.Command, _ []string) error { return a.execute(cmd) },
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	pf := cmd.PersistentFlags()
	if !a.noConfig {
		pf.StringP("config", "c", "", "Path to config file")
	}
	if !a.noVersion {
		version.AddFlags(pf)
	}
	pf.BoolP("help", "h", false, "Help for "+a.name)

	if a.options == nil {
		return cmd
	}
	fss := a.options.Flags()
	for _, name := range fss.Order {
		cmd.Flags().AddFlagSet(fss.FlagSets[name])
	}
	cmd.SetUsageFunc(func(c *cobra.Command) error {
		_, _ = fmt.Fprintf(c.OutOrStderr(), "Usage:\n  %s\n", c.UseLine())
		cliflag.PrintSections(c.OutOrStderr(), fss, 0)
		return nil
	})
	return cmd
}

func (a *App) execute(cmd *cobra.Command) error {
	if !a.noVersion {
		version.PrintAndExitIfRequested()
	}

	if a.options != nil {
		if !a.noConfig {
			path, _ := cmd.Flags().GetString("config")
			l := &loader{v: viper.New(), name: a.name, envPrefix: a.EnvPrefix()}
			if err := l.load(path, cmd.Flags(), a.options); err != nil {
				return err
			}
		}
		if err := a.options.Complete(); err != nil {
			return err
		}
		if err := a.options.Validate(); err != nil {
			return err
		}
	}

	if a.run == nil {
		return nil
	}
	return a.run()
}

// EnvPrefix is the app name upper-cased with dashes turned into underscores.
func (a *App) EnvPrefix() string {
	return strings.ToUpper(strings.ReplaceAll(a.name, "-", "_"))
}

// Run executes the command and exits with status 1 on error.
func (a *App) Run() {
	if err := a.cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Command exposes the cobra command, mainly for tests.
func (a *App) Command() *cobra.Command {
	return a.cmd
}
