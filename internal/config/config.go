// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads holoauth configuration from defaults, an optional
// .env file, a YAML file, the environment and command-line flags, in that
// order of precedence (later wins).
package config

import (
	"errors"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/holoauth/internal/xdg"
)

// EnvPrefix is the prefix of holoauth environment variables. Nested keys use
// a double underscore, e.g. HOLOAUTH_JWT__KEY.
const EnvPrefix = "HOLOAUTH_"

// MinKeyLength is the minimum JWT signing key length in bytes.
const MinKeyLength = 32

// legacyEnv maps unprefixed variable names to config keys.
var legacyEnv = map[string]string{
	"DATABASE_URL": "database.url",
	"JWT_KEY":      "jwt.key",
	"JWT_ISSUER":   "jwt.issuer",
	"JWT_AUDIENCE": "jwt.audience",
}

// Config is the full holoauth configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Database DatabaseConfig `koanf:"database"`
	JWT      JWTConfig      `koanf:"jwt"`
	Refresh  RefreshConfig  `koanf:"refresh"`
	Log      LogConfig      `koanf:"log"`
	Sentry   SentryConfig   `koanf:"sentry"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	SecureCookies   bool          `koanf:"secure_cookies"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// MetricsConfig configures the observability listener. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxConns        int32         `koanf:"max_conns"`
	ConnectAttempts uint64        `koanf:"connect_attempts"`
	ConnectBackoff  time.Duration `koanf:"connect_backoff"`
}

// JWTConfig configures access token signing.
type JWTConfig struct {
	Key       string        `koanf:"key"`
	Issuer    string        `koanf:"issuer"`
	Audience  []string      `koanf:"audience"`
	AccessTTL time.Duration `koanf:"access_ttl"`
}

// RefreshConfig configures stale refresh token cleanup. A zero interval
// disables the background loop in serve.
type RefreshConfig struct {
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
	Retention       time.Duration `koanf:"retention"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// SentryConfig configures error reporting. An empty DSN disables it.
type SentryConfig struct {
	DSN         string `koanf:"dsn"`
	Environment string `koanf:"environment"`
}

// Defaults returns the built-in configuration.
func Defaults() map[string]any {
	return map[string]any{
		"server.addr":               ":8080",
		"server.secure_cookies":     true,
		"server.shutdown_timeout":   "10s",
		"metrics.addr":              "127.0.0.1:9100",
		"database.max_conns":        10,
		"database.connect_attempts": 5,
		"database.connect_backoff":  "500ms",
		"jwt.access_ttl":            "15m",
		"refresh.cleanup_interval":  "1h",
		"refresh.retention":         "168h",
		"log.level":                 "info",
		"log.format":                "json",
		"sentry.environment":        "production",
	}
}

// LoadOptions selects the sources Load reads.
type LoadOptions struct {
	// ConfigFile is an explicit YAML path. Empty means the XDG default,
	// which may be absent.
	ConfigFile string
	// EnvFile is a dotenv file. Empty means ".env" in the working directory,
	// which may be absent.
	EnvFile string
	// Flags are command-line overrides. Flag names map to keys through
	// FlagKeys.
	Flags *pflag.FlagSet
}

// FlagKeys maps command-line flag names to config keys.
var FlagKeys = map[string]string{
	"addr":         "server.addr",
	"metrics-addr": "metrics.addr",
	"database-url": "database.url",
	"log-level":    "log.level",
	"log-format":   "log.format",
}

// Load builds a Config from every source. It does not validate.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	for key, value := range Defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("key", key).Wrap(err)
		}
	}

	if err := loadDotEnv(opts.EnvFile); err != nil {
		return nil, err
	}

	if err := loadFile(k, opts.ConfigFile); err != nil {
		return nil, err
	}

	// Empty variables are skipped so an exported blank does not mask a file value.
	legacy := env.ProviderWithValue("", ".", func(name, value string) (string, any) {
		if value == "" {
			return "", nil
		}
		return legacyEnv[name], value
	})
	if err := k.Load(legacy, nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	prefixed := env.ProviderWithValue(EnvPrefix, ".", func(name, value string) (string, any) {
		if value == "" {
			return "", nil
		}
		name = strings.TrimPrefix(name, EnvPrefix)
		return strings.ReplaceAll(strings.ToLower(name), "__", "."), value
	})
	if err := k.Load(prefixed, nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if opts.Flags != nil {
		flags := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := FlagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(flags, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "unmarshal").Wrap(err)
	}
	cfg.JWT.Audience = normalizeAudience(cfg.JWT.Audience)
	return &cfg, nil
}

func loadDotEnv(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err == nil || (!explicit && errors.Is(err, fs.ErrNotExist)) {
		return nil
	}
	return oops.Code("CONFIG_LOAD_FAILED").With("source", "dotenv").With("path", path).Wrap(err)
}

func loadFile(k *koanf.Koanf, path string) error {
	explicit := path != ""
	if !explicit {
		def, err := xdg.ConfigFile()
		if err != nil {
			return nil //nolint:nilerr // no home directory means no default file
		}
		path = def
	}

	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return oops.Code("CONFIG_LOAD_FAILED").With("source", "file").With("path", path).Wrap(err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.Code("CONFIG_LOAD_FAILED").With("source", "file").With("path", path).Wrap(err)
	}
	return nil
}

// normalizeAudience splits comma-joined entries and drops blanks, so both
// "a,b" from the environment and a YAML list work.
func normalizeAudience(in []string) []string {
	var out []string
	for _, entry := range in {
		for _, part := range strings.Split(entry, ",") {
			if aud := strings.TrimSpace(part); aud != "" {
				out = append(out, aud)
			}
		}
	}
	return out
}

// Validate checks the settings holoauth cannot start without.
func (c *Config) Validate() error {
	var problems []string
	if c.JWT.Key == "" {
		problems = append(problems, "jwt.key is required")
	} else if len(c.JWT.Key) < MinKeyLength {
		problems = append(problems, "jwt.key must be at least 32 bytes")
	}
	if strings.TrimSpace(c.JWT.Issuer) == "" {
		problems = append(problems, "jwt.issuer is required")
	}
	if len(c.JWT.Audience) == 0 {
		problems = append(problems, "jwt.audience needs at least one entry")
	}
	if strings.TrimSpace(c.Database.URL) == "" {
		problems = append(problems, "database.url is required")
	}
	if c.Refresh.Retention < 0 {
		problems = append(problems, "refresh.retention cannot be negative")
	}

	if len(problems) > 0 {
		return oops.Code("CONFIG_INVALID").
			With("problems", problems).
			Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() Config {
	out := *c
	out.JWT.Audience = append([]string(nil), c.JWT.Audience...)
	if out.JWT.Key != "" {
		out.JWT.Key = redactedValue
	}
	if out.Sentry.DSN != "" {
		out.Sentry.DSN = redactedValue
	}
	out.Database.URL = redactURL(out.Database.URL)
	return out
}

const redactedValue = "[REDACTED]"

// redactURL masks the password in a connection URL.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return redactedValue
	}
	return u.Redacted()
}
