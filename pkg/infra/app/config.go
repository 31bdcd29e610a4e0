package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var envRef = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// loader fills an options struct from a config file and the environment.
type loader struct {
	v         *viper.Viper
	name      string
	envPrefix string
}

func (l *loader) searchPaths() []string {
	return []string{
		".",
		"./configs",
		filepath.Join(os.Getenv("HOME"), "."+l.name),
		"/etc/" + l.name,
	}
}

func (l *loader) readFile(path string) error {
	if path != "" {
		l.v.SetConfigFile(path)
	} else {
		l.v.SetConfigName(l.name)
		l.v.SetConfigType("yaml")
		for _, dir := range l.searchPaths() {
			l.v.AddConfigPath(dir)
		}
	}

	err := l.v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err != nil && !errors.As(err, &notFound) {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// load decodes file and environment values into target.
// Flags set on the command line are re-applied afterwards so they win.
func (l *loader) load(path string, flags *pflag.FlagSet, target any) error {
	if err := l.readFile(path); err != nil {
		return err
	}
	l.expandEnv()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	l.v.AutomaticEnv()

	explicit := map[string]string{}
	flags.VisitAll(func(f *pflag.Flag) {
		// AutomaticEnv only resolves known keys
		_ = l.v.BindEnv(f.Name)
		if f.Changed {
			explicit[f.Name] = f.Value.String()
		}
	})

	if err := l.v.Unmarshal(target); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	for name, value := range explicit {
		if err := flags.Set(name, value); err != nil {
			return fmt.Errorf("failed to re-apply flag %s: %w", name, err)
		}
	}
	return nil
}

// expandEnv replaces ${VAR} and $VAR in string values. Unset variables are kept as is.
func (l *loader) expandEnv() {
	for _, key := range l.v.AllKeys() {
		raw, ok := l.v.Get(key).(string)
		if !ok {
			continue
		}
		expanded := envRef.ReplaceAllStringFunc(raw, func(ref string) string {
			m := envRef.FindStringSubmatch(ref)
			name := m[1]
			if name == "" {
				name = m[2]
			}
			if val, ok := os.LookupEnv(name); ok && val != "" {
				return val
			}
			return ref
		})
		if expanded != raw {
			l.v.Set(key, expanded)
		}
	}
}
