// Package config loads and validates server configuration from
// environment variables (and, equivalently, command-line flags), per
// §6's configuration table.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/synckit/synckit-server/internal/auth"
)

// Config is every environment-loaded knob the server reads at
// startup. Struct tags follow the teacher's go-flags convention
// (`long:"" env:"" default:""`) even though flag parsing itself is a
// thin wrapper in cmd/synckit-server — the tags double as inline
// documentation of each setting's wire name and default.
type Config struct {
	Host string `long:"host" env:"HOST" default:"0.0.0.0" description:"bind address"`
	Port int    `long:"port" env:"PORT" default:"8080" description:"bind port"`

	Environment string `long:"environment" env:"ENVIRONMENT" default:"development" description:"gates secret-length enforcement"`

	JWTSecret          string `long:"jwt-secret" env:"JWT_SECRET" default:"development placeholder" description:"token signing key"`
	JWTAlgorithm       string `long:"jwt-algorithm" env:"JWT_ALGORITHM" default:"HS256"`
	JWTExpirationHours int    `long:"jwt-expiration-hours" env:"JWT_EXPIRATION_HOURS" default:"24"`

	DatabaseURL     string `long:"database-url" env:"DATABASE_URL"`
	DatabasePoolMin int    `long:"database-pool-min" env:"DATABASE_POOL_MIN" default:"2"`
	DatabasePoolMax int    `long:"database-pool-max" env:"DATABASE_POOL_MAX" default:"10"`

	EtcdEndpoints   string `long:"redis-url" env:"REDIS_URL" description:"coordination backend endpoints, comma-separated"`
	ChannelPrefix   string `long:"redis-channel-prefix" env:"REDIS_CHANNEL_PREFIX" default:"synckit"`

	CORSOrigins string `long:"cors-origins" env:"CORS_ORIGINS" default:"*"`

	AuthRequired bool `long:"auth-required" env:"SYNCKIT_AUTH_REQUIRED" default:"true"`

	PlaygroundID string `long:"playground-id" env:"SYNCKIT_PLAYGROUND_ID" default:"playground"`
}

// Addr returns the host:port pair net/http expects.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CORSOriginList splits CORSOrigins on commas, trimming whitespace.
func (c Config) CORSOriginList() []string {
	parts := strings.Split(c.CORSOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// EtcdEndpointList splits EtcdEndpoints on commas. Empty when
// coordination is disabled.
func (c Config) EtcdEndpointList() []string {
	if strings.TrimSpace(c.EtcdEndpoints) == "" {
		return nil
	}
	parts := strings.Split(c.EtcdEndpoints, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// CoordinationEnabled reports whether a clustered pub/sub backend
// should be used. A loopback endpoint is treated the same as unset, so
// a bare local dev checkout doesn't accidentally try to coordinate with
// itself (mirrors the original's `"localhost" not in settings.redis_url`
// gate on the Redis-backed coordination adapter).
func (c Config) CoordinationEnabled() bool {
	return len(c.EtcdEndpointList()) > 0 && !isLoopbackURL(c.EtcdEndpoints)
}

// PersistenceEnabled reports whether a durable storage backend should
// be used in place of the in-memory store. A loopback DATABASE_URL is
// treated the same as unset (§6), mirroring the original's
// `"localhost" not in settings.database_url` startup gate.
func (c Config) PersistenceEnabled() bool {
	return strings.TrimSpace(c.DatabaseURL) != "" && !isLoopbackURL(c.DatabaseURL)
}

// isLoopbackURL reports whether url names a loopback host, the signal
// the original uses to fall back to memory-only/single-instance mode
// for local development regardless of what's technically configured.
func isLoopbackURL(url string) bool {
	return strings.Contains(url, "localhost") ||
		strings.Contains(url, "127.0.0.1") ||
		strings.Contains(url, "::1")
}

func (c Config) AccessTokenLifetime() time.Duration {
	hours := c.JWTExpirationHours
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

// Validate enforces the production JWT-secret rules of §4.2: a
// placeholder or under-length secret fails startup in production, and
// only warns outside it.
func (c Config) Validate() (warning string, err error) {
	return auth.ValidateSecret(c.Environment, c.JWTSecret)
}
