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
	"time"
)

// Config holds all runtime configuration for the callwatch monitor.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	AMIHost     string
	AMIPort     int
	AMIUsername string
	AMISecret   string
	AMIEvents   bool // request the full event stream at login

	DialTimeout          time.Duration
	AuthTimeout          time.Duration
	KeepAliveInterval    time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	QueryTimeout         time.Duration

	DataDir     string
	PostgresDSN string // when set, Postgres replaces the embedded SQLite store

	HTTPPort    int
	CORSOrigins string
	JWTSecret   string // hex-encoded 32-byte secret for API token signing

	MQTTBroker      string // e.g. "tcp://broker:1883"; empty disables publishing
	MQTTTopicPrefix string

	LogLevel  string
	LogFormat string // "text" or "json"
}

// defaults
const (
	defaultAMIPort              = 5038
	defaultDialTimeout          = 10 * time.Second
	defaultAuthTimeout          = 10 * time.Second
	defaultKeepAliveInterval    = 30 * time.Second
	defaultReconnectDelay       = 5 * time.Second
	defaultMaxReconnectAttempts = 10
	defaultQueryTimeout         = 5 * time.Second
	defaultDataDir              = "./data"
	defaultHTTPPort             = 8080
	defaultMQTTTopicPrefix      = "callwatch"
	defaultLogLevel             = "info"
	defaultLogFormat            = "text"
)

// envPrefix is the prefix for all callwatch environment variables.
const envPrefix = "CALLWATCH_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	return load("callwatch", os.Args[1:])
}

func load(name string, args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	fs.StringVar(&cfg.AMIHost, "ami-host", "", "switch manager interface host (required)")
	fs.IntVar(&cfg.AMIPort, "ami-port", defaultAMIPort, "switch manager interface port")
	fs.StringVar(&cfg.AMIUsername, "ami-username", "", "manager interface username (required)")
	fs.StringVar(&cfg.AMISecret, "ami-secret", "", "manager interface secret (required)")
	fs.BoolVar(&cfg.AMIEvents, "ami-events", true, "subscribe to the event stream at login")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", defaultDialTimeout, "TCP connect timeout for the manager port")
	fs.DurationVar(&cfg.AuthTimeout, "auth-timeout", defaultAuthTimeout, "login handshake timeout")
	fs.DurationVar(&cfg.KeepAliveInterval, "keepalive-interval", defaultKeepAliveInterval, "interval between keep-alive probes")
	fs.DurationVar(&cfg.ReconnectDelay, "reconnect-delay", defaultReconnectDelay, "delay between reconnection attempts")
	fs.IntVar(&cfg.MaxReconnectAttempts, "max-reconnect-attempts", defaultMaxReconnectAttempts, "consecutive failed attempts before giving up")
	fs.DurationVar(&cfg.QueryTimeout, "query-timeout", defaultQueryTimeout, "timeout for request/response queries on the event socket")
	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the embedded database")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", "", "PostgreSQL DSN; when set, replaces the embedded database")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", "", "comma-separated list of allowed CORS origins (use * for all)")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "hex-encoded 32-byte secret for API token signing (auto-generated if empty)")
	fs.StringVar(&cfg.MQTTBroker, "mqtt-broker", "", "MQTT broker URL for live updates (empty disables publishing)")
	fs.StringVar(&cfg.MQTTTopicPrefix, "mqtt-topic-prefix", defaultMQTTTopicPrefix, "topic prefix for published updates")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	// CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envName := func(flagName string) string {
		return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
	}

	setString := func(flagName string, dst *string) {
		if set[flagName] {
			return
		}
		if val, ok := os.LookupEnv(envName(flagName)); ok && val != "" {
			*dst = val
		}
	}
	setInt := func(flagName string, dst *int) {
		if set[flagName] {
			return
		}
		if val, ok := os.LookupEnv(envName(flagName)); ok && val != "" {
			if v, err := strconv.Atoi(val); err == nil {
				*dst = v
			}
		}
	}
	setBool := func(flagName string, dst *bool) {
		if set[flagName] {
			return
		}
		if val, ok := os.LookupEnv(envName(flagName)); ok && val != "" {
			if v, err := strconv.ParseBool(val); err == nil {
				*dst = v
			}
		}
	}
	setDuration := func(flagName string, dst *time.Duration) {
		if set[flagName] {
			return
		}
		if val, ok := os.LookupEnv(envName(flagName)); ok && val != "" {
			if v, err := time.ParseDuration(val); err == nil {
				*dst = v
			}
		}
	}

	setString("ami-host", &cfg.AMIHost)
	setInt("ami-port", &cfg.AMIPort)
	setString("ami-username", &cfg.AMIUsername)
	setString("ami-secret", &cfg.AMISecret)
	setBool("ami-events", &cfg.AMIEvents)
	setDuration("dial-timeout", &cfg.DialTimeout)
	setDuration("auth-timeout", &cfg.AuthTimeout)
	setDuration("keepalive-interval", &cfg.KeepAliveInterval)
	setDuration("reconnect-delay", &cfg.ReconnectDelay)
	setInt("max-reconnect-attempts", &cfg.MaxReconnectAttempts)
	setDuration("query-timeout", &cfg.QueryTimeout)
	setString("data-dir", &cfg.DataDir)
	setString("postgres-dsn", &cfg.PostgresDSN)
	setInt("http-port", &cfg.HTTPPort)
	setString("cors-origins", &cfg.CORSOrigins)
	setString("jwt-secret", &cfg.JWTSecret)
	setString("mqtt-broker", &cfg.MQTTBroker)
	setString("mqtt-topic-prefix", &cfg.MQTTTopicPrefix)
	setString("log-level", &cfg.LogLevel)
	setString("log-format", &cfg.LogFormat)
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.AMIHost == "" {
		return fmt.Errorf("ami-host is required")
	}
	if c.AMIUsername == "" {
		return fmt.Errorf("ami-username is required")
	}
	if c.AMISecret == "" {
		return fmt.Errorf("ami-secret is required")
	}
	if c.AMIPort < 1 || c.AMIPort > 65535 {
		return fmt.Errorf("ami-port must be between 1 and 65535, got %d", c.AMIPort)
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.MaxReconnectAttempts < 1 {
		return fmt.Errorf("max-reconnect-attempts must be at least 1, got %d", c.MaxReconnectAttempts)
	}
	for name, d := range map[string]time.Duration{
		"dial-timeout":       c.DialTimeout,
		"auth-timeout":       c.AuthTimeout,
		"keepalive-interval": c.KeepAliveInterval,
		"reconnect-delay":    c.ReconnectDelay,
		"query-timeout":      c.QueryTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
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

// JWTSecretBytes returns the decoded 32-byte token signing secret.
// If no secret is configured, it generates a random 32-byte key and stores
// the hex-encoded value back in the config for the process lifetime.
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

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
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
