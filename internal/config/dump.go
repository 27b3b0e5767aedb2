// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// DumpYAML renders the effective configuration as YAML with secrets masked.
// Durations are written in their string form so the output can be fed back
// as a config file.
func (c *Config) DumpYAML() ([]byte, error) {
	r := c.Redacted()
	doc := map[string]any{
		"server": map[string]any{
			"addr":             r.Server.Addr,
			"secure_cookies":   r.Server.SecureCookies,
			"shutdown_timeout": r.Server.ShutdownTimeout.String(),
		},
		"metrics": map[string]any{
			"addr": r.Metrics.Addr,
		},
		"database": map[string]any{
			"url":              r.Database.URL,
			"max_conns":        r.Database.MaxConns,
			"connect_attempts": r.Database.ConnectAttempts,
			"connect_backoff":  r.Database.ConnectBackoff.String(),
		},
		"jwt": map[string]any{
			"key":        r.JWT.Key,
			"issuer":     r.JWT.Issuer,
			"audience":   r.JWT.Audience,
			"access_ttl": r.JWT.AccessTTL.String(),
		},
		"refresh": map[string]any{
			"cleanup_interval": r.Refresh.CleanupInterval.String(),
			"retention":        r.Refresh.Retention.String(),
		},
		"log": map[string]any{
			"level":  r.Log.Level,
			"format": r.Log.Format,
		},
		"sentry": map[string]any{
			"dsn":         r.Sentry.DSN,
			"environment": r.Sentry.Environment,
		},
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, oops.Code("CONFIG_DUMP_FAILED").Wrap(err)
	}
	return out, nil
}
