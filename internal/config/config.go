// Package config manages wireline daemon configuration using koanf/v2.
//
// Supports YAML files and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete wireline configuration.
type Config struct {
	Log        LogConfig        `koanf:"log"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Admin      AdminConfig      `koanf:"admin"`
	Dictionary DictionaryConfig `koanf:"dictionary"`
	Probes     []ProbeConfig    `koanf:"probes"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Enabled turns the metrics listener on.
	Enabled bool `koanf:"enabled"`
	// Listen is the HTTP listen address for the metrics endpoint (e.g., ":9464").
	Listen string `koanf:"listen"`
}

// AdminConfig holds the admin status API configuration.
type AdminConfig struct {
	// Enabled turns the admin listener on.
	Enabled bool `koanf:"enabled"`
	// Listen is the HTTP listen address for the admin API (e.g., ":8080").
	Listen string `koanf:"listen"`
}

// DictionaryConfig names extra attribute dictionaries loaded on top of
// the builtin RFC set.
type DictionaryConfig struct {
	// Files lists YAML dictionary files, merged in order.
	Files []string `koanf:"files"`
}

// ProbeConfig describes a declarative probe from the configuration file.
// Each entry creates a probe on daemon startup and SIGHUP reload.
type ProbeConfig struct {
	// Name identifies the probe in metrics, logs, and the admin API.
	// Names must be unique across the probe list.
	Name string `koanf:"name"`

	// Kind selects the probe type: "auth", "acct", or "samr".
	Kind string `koanf:"kind"`

	// Target is the host:port of the server to probe.
	Target string `koanf:"target"`

	// Secret is the RADIUS shared secret. Required for auth and acct
	// probes, unused by samr probes.
	Secret string `koanf:"secret"`

	// Username is the User-Name attribute value (auth and acct probes).
	Username string `koanf:"username"`

	// Password is the PAP password (auth probes).
	Password string `koanf:"password"`

	// NASIP is the NAS-IP-Address attribute value (optional).
	NASIP string `koanf:"nas_ip"`

	// Interval is the time between probe runs (e.g., "30s"). Zero
	// inherits the scheduler default; nonzero values must be at least
	// one second.
	Interval time.Duration `koanf:"interval"`

	// Timeout bounds each network exchange (e.g., "2s"). Zero inherits
	// the transport default.
	Timeout time.Duration `koanf:"timeout"`

	// Retries is the number of send attempts per RADIUS exchange. Zero
	// inherits the transport default.
	Retries int `koanf:"retries"`
}

// NASAddr parses the NASIP string as a netip.Addr. An empty string
// yields the zero Addr, which omits the attribute.
func (pc ProbeConfig) NASAddr() (netip.Addr, error) {
	if pc.NASIP == "" {
		return netip.Addr{}, nil
	}
	addr, err := netip.ParseAddr(pc.NASIP)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parse probe nas_ip %q: %w", pc.NASIP, err)
	}
	return addr, nil
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
//
// Metrics and the admin API are on by default; a monitoring daemon that
// cannot report is not doing its job. Probe timing defaults live in the
// probe and transport layers, so probe entries only need to name what
// they check.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  ":9464",
		},
		Admin: AdminConfig{
			Enabled: true,
			Listen:  ":8080",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for wireline configuration.
// Variables are named WIRELINE_<section>_<key>, e.g., WIRELINE_LOG_LEVEL.
const envPrefix = "WIRELINE_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (WIRELINE_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	WIRELINE_LOG_LEVEL      -> log.level
//	WIRELINE_LOG_FORMAT     -> log.format
//	WIRELINE_METRICS_LISTEN -> metrics.listen
//	WIRELINE_ADMIN_LISTEN   -> admin.listen
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load defaults first.
	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	// Load YAML file on top of defaults.
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	// Load environment variable overrides on top of YAML.
	// WIRELINE_LOG_LEVEL -> log.level (strip prefix, lowercase, _ -> .).
	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms WIRELINE_LOG_LEVEL -> log.level.
// Strips the WIRELINE_ prefix, lowercases, and replaces _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"log.level":       defaults.Log.Level,
		"log.format":      defaults.Log.Format,
		"metrics.enabled": defaults.Metrics.Enabled,
		"metrics.listen":  defaults.Metrics.Listen,
		"admin.enabled":   defaults.Admin.Enabled,
		"admin.listen":    defaults.Admin.Listen,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyMetricsListen indicates metrics are enabled with no listen address.
	ErrEmptyMetricsListen = errors.New("metrics.listen must not be empty when metrics are enabled")

	// ErrEmptyAdminListen indicates the admin API is enabled with no listen address.
	ErrEmptyAdminListen = errors.New("admin.listen must not be empty when the admin api is enabled")

	// ErrEmptyProbeName indicates a probe entry with no name.
	ErrEmptyProbeName = errors.New("probe name must not be empty")

	// ErrDuplicateProbeName indicates two probe entries share a name.
	ErrDuplicateProbeName = errors.New("duplicate probe name")

	// ErrInvalidProbeKind indicates a probe with an unrecognized kind.
	ErrInvalidProbeKind = errors.New("probe kind must be auth, acct, or samr")

	// ErrInvalidProbeTarget indicates a probe target that is not host:port.
	ErrInvalidProbeTarget = errors.New("probe target must be host:port")

	// ErrMissingProbeSecret indicates an auth or acct probe without a secret.
	ErrMissingProbeSecret = errors.New("probe secret is required for auth and acct probes")

	// ErrProbeIntervalTooShort indicates a probe interval under one second.
	ErrProbeIntervalTooShort = errors.New("probe interval must be at least 1s")

	// ErrNegativeProbeTimeout indicates a probe with a negative timeout.
	ErrNegativeProbeTimeout = errors.New("probe timeout must not be negative")

	// ErrNegativeProbeRetries indicates a probe with a negative retry count.
	ErrNegativeProbeRetries = errors.New("probe retries must not be negative")

	// ErrInvalidProbeNASIP indicates a probe with an unparseable nas_ip.
	ErrInvalidProbeNASIP = errors.New("probe nas_ip is invalid")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return ErrEmptyMetricsListen
	}

	if cfg.Admin.Enabled && cfg.Admin.Listen == "" {
		return ErrEmptyAdminListen
	}

	return validateProbes(cfg.Probes)
}

// ValidProbeKinds lists the recognized probe kind strings.
var ValidProbeKinds = map[string]bool{
	"auth": true,
	"acct": true,
	"samr": true,
}

// secretRequired reports whether kind speaks RADIUS and therefore needs
// a shared secret.
func secretRequired(kind string) bool {
	return kind == "auth" || kind == "acct"
}

// validateProbes checks each declarative probe entry for correctness.
func validateProbes(probes []ProbeConfig) error {
	seen := make(map[string]struct{}, len(probes))

	for i, pc := range probes {
		if pc.Name == "" {
			return fmt.Errorf("probes[%d]: %w", i, ErrEmptyProbeName)
		}
		if _, dup := seen[pc.Name]; dup {
			return fmt.Errorf("probes[%d] name %q: %w", i, pc.Name, ErrDuplicateProbeName)
		}
		seen[pc.Name] = struct{}{}

		if !ValidProbeKinds[pc.Kind] {
			return fmt.Errorf("probes[%d] kind %q: %w", i, pc.Kind, ErrInvalidProbeKind)
		}

		host, port, err := net.SplitHostPort(pc.Target)
		if err != nil || host == "" || port == "" {
			return fmt.Errorf("probes[%d] target %q: %w", i, pc.Target, ErrInvalidProbeTarget)
		}

		if secretRequired(pc.Kind) && pc.Secret == "" {
			return fmt.Errorf("probes[%d]: %w", i, ErrMissingProbeSecret)
		}

		if pc.Interval != 0 && pc.Interval < time.Second {
			return fmt.Errorf("probes[%d] interval %s: %w", i, pc.Interval, ErrProbeIntervalTooShort)
		}

		if pc.Timeout < 0 {
			return fmt.Errorf("probes[%d] timeout %s: %w", i, pc.Timeout, ErrNegativeProbeTimeout)
		}

		if pc.Retries < 0 {
			return fmt.Errorf("probes[%d] retries %d: %w", i, pc.Retries, ErrNegativeProbeRetries)
		}

		if _, err := pc.NASAddr(); err != nil {
			return fmt.Errorf("probes[%d]: %w: %w", i, ErrInvalidProbeNASIP, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
