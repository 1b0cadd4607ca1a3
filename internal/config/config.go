// Package config loads funkd's runtime configuration.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds all runtime configuration for the funkd server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir   string
	RelayHost string
	RelayPort int // UDP voice relay
	APIPort   int // HTTP control plane
	LogLevel    string
	LogFormat   string // "text" or "json"
	JWTSecret   string // hex-encoded 32-byte secret for admin API tokens
	CORSOrigins string // comma-separated allowed origins for the admin UI
	Version     string // advertised via /api/version
	Changelog   string // advertised via /api/version
}

// defaults
const (
	defaultDataDir   = "./data"
	defaultRelayHost = "0.0.0.0"
	defaultRelayPort = 9999
	defaultAPIPort   = 8080
	defaultLogLevel  = "info"
	defaultLogFormat = "text"
	defaultVersion   = "dev"
)

// envPrefix is the prefix for all funkd environment variables.
const envPrefix = "FUNKD_"

// Load parses configuration from CLI flags and environment variables.
func Load(args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("funkd", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the database")
	fs.StringVar(&cfg.RelayHost, "relay-host", defaultRelayHost, "UDP relay bind address")
	fs.IntVar(&cfg.RelayPort, "relay-port", defaultRelayPort, "UDP relay listen port")
	fs.IntVar(&cfg.APIPort, "api-port", defaultAPIPort, "HTTP control plane listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "hex-encoded 32-byte secret for admin API tokens (auto-generated if empty)")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", "", "comma-separated list of allowed CORS origins (use * for all)")
	fs.StringVar(&cfg.Version, "version-string", defaultVersion, "software version advertised to clients")
	fs.StringVar(&cfg.Changelog, "changelog", "", "changelog text advertised to clients")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line, preserving the precedence
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"data-dir":       envPrefix + "DATA_DIR",
		"relay-host":     envPrefix + "RELAY_HOST",
		"relay-port":     envPrefix + "RELAY_PORT",
		"api-port":       envPrefix + "API_PORT",
		"log-level":      envPrefix + "LOG_LEVEL",
		"log-format":     envPrefix + "LOG_FORMAT",
		"jwt-secret":     envPrefix + "JWT_SECRET",
		"cors-origins":   envPrefix + "CORS_ORIGINS",
		"version-string": envPrefix + "VERSION",
		"changelog":      envPrefix + "CHANGELOG",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "relay-host":
			cfg.RelayHost = val
		case "relay-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.RelayPort = v
			}
		case "api-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.APIPort = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "jwt-secret":
			cfg.JWTSecret = val
		case "cors-origins":
			cfg.CORSOrigins = val
		case "version-string":
			cfg.Version = val
		case "changelog":
			cfg.Changelog = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.RelayPort < 1 || c.RelayPort > 65535 {
		return fmt.Errorf("relay-port must be between 1 and 65535, got %d", c.RelayPort)
	}
	if c.APIPort < 1 || c.APIPort > 65535 {
		return fmt.Errorf("api-port must be between 1 and 65535, got %d", c.APIPort)
	}
	if c.APIPort == c.RelayPort {
		return fmt.Errorf("api-port and relay-port must differ, both are %d", c.APIPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	return nil
}

// RelayAddr returns the host:port the UDP relay binds.
func (c *Config) RelayAddr() string {
	return fmt.Sprintf("%s:%d", c.RelayHost, c.RelayPort)
}

// JWTSecretBytes returns the decoded 32-byte admin token secret. If none
// is configured, a random key is generated for the process lifetime and
// a warning is logged: tokens will not survive a restart.
func (c *Config) JWTSecretBytes() ([]byte, error) {
	if c.JWTSecret == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating jwt secret: %w", err)
		}
		c.JWTSecret = hex.EncodeToString(key)
		slog.Warn("no jwt-secret configured, generated ephemeral key (tokens will not survive restart)")
		return key, nil
	}
	key, err := hex.DecodeString(c.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding jwt secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("jwt secret must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// SlogHandler returns a slog.Handler configured with the configured
// format and level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
