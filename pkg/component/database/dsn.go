package database

import (
	"fmt"
	"net/url"
	"strings"

	pgopts "github.com/kart-io/helix-assistant/pkg/options/postgres"
)

// BuildDSN creates a PostgreSQL key=value DSN from the provided options.
// The password is quoted when it contains spaces, quotes or backslashes.
func BuildDSN(opts *pgopts.Options) string {
	if opts == nil {
		return ""
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		opts.Host,
		opts.Port,
		opts.Username,
		escapePostgresValue(opts.Password),
		opts.Database,
		opts.SSLMode,
	)
}

// BuildURI creates a postgresql:// connection URI from the provided options.
func BuildURI(opts *pgopts.Options) string {
	if opts == nil {
		return ""
	}
	u := url.URL{
		Scheme:   "postgresql",
		User:     url.UserPassword(opts.Username, opts.Password),
		Host:     fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Path:     "/" + opts.Database,
		RawQuery: url.Values{"sslmode": {opts.SSLMode}}.Encode(),
	}
	return u.String()
}

// BuildSQLiteDSN appends the pragmas the store relies on to a SQLite path.
func BuildSQLiteDSN(path string) string {
	pragmas := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path == ":memory:" {
		return "file::memory:?" + pragmas
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + pragmas + "&_pragma=journal_mode(WAL)"
}

func escapePostgresValue(value string) string {
	if value == "" {
		return "''"
	}
	if !strings.ContainsAny(value, " '\\") {
		return value
	}
	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "'", "\\'")
	return "'" + escaped + "'"
}
