// Package options defines the option interfaces shared by every config section.
package options

import (
	"strings"

	"github.com/spf13/pflag"
)

// Join concatenates prefixes with "." and appends a trailing "." when non-empty,
// so Join("database")+"postgres.host" yields "database.postgres.host".
func Join(prefixes ...string) string {
	parts := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p = strings.Trim(p, "."); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, ".") + "."
}

// IOptions defines methods to implement a generic options.
type IOptions interface {
	// Validate validates all the required options.
	Validate() []error

	// AddFlags adds flags related to given flagset.
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
}

// Completer is implemented by options that derive defaults after parsing.
type Completer interface {
	Complete() error
}

// ValidateAll collects the validation errors of every section.
func ValidateAll(sections ...IOptions) []error {
	var errs []error
	for _, s := range sections {
		errs = append(errs, s.Validate()...)
	}
	return errs
}
