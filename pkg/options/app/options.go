// Package app defines the contract between command options and the app runner.
package app

import cliflag "github.com/kart-io/helix-assistant/pkg/infra/app/cliflag"

// CliOptions abstracts configuration options for reading parameters from the
// command line, a config file or the environment.
type CliOptions interface {
	// Flags returns flags for a specific server by section name.
	Flags() cliflag.NamedFlagSets

	// Complete completes all the required options.
	Complete() error

	// Validate validates all the required options.
	Validate() error
}
