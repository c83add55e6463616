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

// Config holds all runtime configuration for the gateway registration
// subsystem (gwregd).
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir             string
	HTTPAddr            string
	LogLevel            string
	LogFormat           string        // log output format: "text" or "json"
	ExternAddr          string        // override Contact/Via host when behind NAT
	UserAgent           string        // value for the SIP User-Agent header
	CheckExpiresMinutes time.Duration // shared tick period / cache write-expiry
	AdminTokenSecret    string        // hex-encoded 32-byte secret for operator API bearer tokens
	Transports          []Transport   // listening points this process binds
}

// Transport describes a single SIP listening point this process binds,
// referenced by a gateway descriptor's transport field.
type Transport struct {
	Name string // UDP, TCP, TLS, WS, WSS
	Host string
	Port int
}

// defaults
const (
	defaultDataDir             = "./data"
	defaultHTTPAddr            = ":8088"
	defaultLogLevel            = "info"
	defaultLogFormat           = "text"
	defaultUserAgent           = "gwreg"
	defaultCheckExpiresMinutes = 1
	defaultTransports          = "udp:0.0.0.0:5060"
)

// envPrefix is the prefix for all gwreg environment variables.
const envPrefix = "GWREG_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("gwregd", flag.ContinueOnError)

	var checkExpires int
	var transports string

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the gateway store")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", defaultHTTPAddr, "operator API listen address")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.ExternAddr, "extern-addr", "", "override Contact/Via host when listening on a private IP behind NAT")
	fs.StringVar(&cfg.UserAgent, "user-agent", defaultUserAgent, "value for the SIP User-Agent header")
	fs.IntVar(&checkExpires, "check-expires-minutes", defaultCheckExpiresMinutes, "control loop tick period and cache write-expiry, in minutes")
	fs.StringVar(&transports, "transports", defaultTransports, "comma-separated list of transport:host:port listening points, e.g. udp:0.0.0.0:5060,tcp:0.0.0.0:5060")
	fs.StringVar(&cfg.AdminTokenSecret, "admin-token-secret", "", "hex-encoded 32-byte secret for signing operator API bearer tokens (auto-generated if empty)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	// CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg, &checkExpires, &transports)

	cfg.CheckExpiresMinutes = time.Duration(checkExpires) * time.Minute

	parsed, err := parseTransports(transports)
	if err != nil {
		return nil, fmt.Errorf("parsing transports: %w", err)
	}
	cfg.Transports = parsed

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config, checkExpires *int, transports *string) {
	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	// Map of flag name to env var name.
	envMap := map[string]string{
		"data-dir":              envPrefix + "DATA_DIR",
		"http-addr":             envPrefix + "HTTP_ADDR",
		"log-level":             envPrefix + "LOG_LEVEL",
		"log-format":            envPrefix + "LOG_FORMAT",
		"extern-addr":           envPrefix + "EXTERN_ADDR",
		"user-agent":            envPrefix + "USER_AGENT",
		"check-expires-minutes": envPrefix + "CHECK_EXPIRES_MINUTES",
		"transports":            envPrefix + "TRANSPORTS",
		"admin-token-secret":    envPrefix + "ADMIN_TOKEN_SECRET",
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
		case "http-addr":
			cfg.HTTPAddr = val
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "extern-addr":
			cfg.ExternAddr = val
		case "user-agent":
			cfg.UserAgent = val
		case "check-expires-minutes":
			if v, err := strconv.Atoi(val); err == nil {
				*checkExpires = v
			}
		case "transports":
			*transports = val
		case "admin-token-secret":
			cfg.AdminTokenSecret = val
		}
	}
}

// parseTransports parses a comma-separated list of "transport:host:port" triples
// into the listening points this process binds.
func parseTransports(raw string) ([]Transport, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("at least one transport must be configured")
	}

	var out []Transport
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("transport %q must be transport:host:port", part)
		}
		port, err := strconv.Atoi(fields[2])
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("transport %q has an invalid port", part)
		}
		out = append(out, Transport{
			Name: strings.ToUpper(fields[0]),
			Host: fields[1],
			Port: port,
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one transport must be configured")
	}
	return out, nil
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
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

	if c.CheckExpiresMinutes <= 0 {
		return fmt.Errorf("check-expires-minutes must be positive, got %v", c.CheckExpiresMinutes)
	}

	validTransports := map[string]bool{"UDP": true, "TCP": true, "TLS": true, "WS": true, "WSS": true}
	for _, tr := range c.Transports {
		if !validTransports[tr.Name] {
			return fmt.Errorf("unsupported transport %q", tr.Name)
		}
	}

	if c.AdminTokenSecret != "" {
		if _, err := c.AdminTokenSecretBytes(); err != nil {
			return fmt.Errorf("admin-token-secret: %w", err)
		}
	}

	return nil
}

// ListeningPoint returns the configured transport matching name
// (case-insensitive), or false if this process does not bind it.
func (c *Config) ListeningPoint(name string) (Transport, bool) {
	name = strings.ToUpper(name)
	for _, tr := range c.Transports {
		if tr.Name == name {
			return tr, true
		}
	}
	return Transport{}, false
}

// AdminTokenSecretBytes returns the decoded 32-byte secret used to sign
// operator API bearer tokens. If no secret is configured, it generates a
// random 32-byte key and stores the hex-encoded value back in the config
// for the process lifetime (tokens will not survive a restart).
func (c *Config) AdminTokenSecretBytes() ([]byte, error) {
	if c.AdminTokenSecret == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating admin token secret: %w", err)
		}
		c.AdminTokenSecret = hex.EncodeToString(key)
		slog.Warn("no admin-token-secret configured, generated ephemeral key (tokens will not survive restart)")
		return key, nil
	}
	key, err := hex.DecodeString(c.AdminTokenSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding admin token secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("admin token secret must decode to 32 bytes, got %d", len(key))
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
