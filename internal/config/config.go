// Package config loads gateway and edge configuration from a YAML file and
// EGW_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every configuration environment variable. Nested keys
// are separated by a double underscore: EGW_GATEWAY__LOG_TYPE.
const EnvPrefix = "EGW_"

// DefaultPath is the config file read when none is given.
const DefaultPath = "config.yaml"

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

type Config struct {
	Application ApplicationConfig `koanf:"application"`
	Server      ServerConfig      `koanf:"server"`
	System      SystemConfig      `koanf:"system"`
	Filter      FilterConfig      `koanf:"filter"`
	Gateway     GatewayConfig     `koanf:"gateway"`
	Tracing     TracingConfig     `koanf:"tracing"`
	Metrics     MetricsConfig     `koanf:"metrics"`
	Storage     StorageConfig     `koanf:"storage"`
}

type ApplicationConfig struct {
	Name string `koanf:"name"`
}

// ServerConfig configures the edge service.
type ServerConfig struct {
	Port           int           `koanf:"port"`
	ErrorPath      string        `koanf:"error_path"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

type SystemConfig struct {
	// DebugMode exposes base64 stack traces in error envelopes.
	DebugMode bool `koanf:"debug_mode"`
}

// FilterConfig configures the edge source-verification filter.
type FilterConfig struct {
	TraceIDEnable bool   `koanf:"trace_id_enable"`
	TraceHeader   string `koanf:"trace_header"`
}

type GatewayConfig struct {
	Port int `koanf:"port"`
	// LogType is the default access-log mode, 1 to 3. It is the only
	// setting applied on hot reload.
	LogType int `koanf:"log_type"`
	// MaxBodyBytes bounds the request bodies the gateway caches. Zero
	// means unbounded.
	MaxBodyBytes int64         `koanf:"max_body_bytes"`
	Routes       []RouteConfig `koanf:"routes"`
}

// RouteConfig maps a path prefix onto an upstream.
type RouteConfig struct {
	ID          string   `koanf:"id"`
	URI         string   `koanf:"uri"`
	Path        string   `koanf:"path"`
	StripPrefix int      `koanf:"strip_prefix"`
	Filters     []string `koanf:"filters"`
}

type TracingConfig struct {
	Exporter string `koanf:"exporter"` // stdout, none
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

type StorageConfig struct {
	Type     string         `koanf:"type"` // memory, sqlite, sql, none
	SQLite   SQLiteConfig   `koanf:"sqlite"`
	Database DatabaseConfig `koanf:"database"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type DatabaseConfig struct {
	Driver string `koanf:"driver"` // sqlite, postgres
	DSN    string `koanf:"dsn"`
}

var defaults = map[string]any{
	"application.name":       "envelope-gateway",
	"server.port":            8080,
	"server.error_path":      "/error",
	"server.request_timeout": "30s",
	"filter.trace_header":    "traceparent",
	"gateway.port":           8081,
	"gateway.log_type":       2,
	"gateway.max_body_bytes": 10 << 20,
	"tracing.exporter":       "stdout",
	"metrics.enabled":        true,
	"metrics.path":           "/metrics",
	"storage.type":           "memory",
	"storage.sqlite.path":    "gateway.db",
}

// Load reads path (DefaultPath when empty), overlays the environment and
// fills defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	// Environment variables override the file
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	for i := range cfg.Gateway.Routes {
		cfg.Gateway.Routes[i].URI = substituteEnvVars(cfg.Gateway.Routes[i].URI)
	}
	cfg.Storage.Database.DSN = substituteEnvVars(cfg.Storage.Database.DSN)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail at request time.
func (c *Config) Validate() error {
	if c.Gateway.LogType < 1 || c.Gateway.LogType > 3 {
		return fmt.Errorf("gateway.log_type must be 1, 2 or 3, got %d", c.Gateway.LogType)
	}
	if c.Gateway.MaxBodyBytes < 0 {
		return fmt.Errorf("gateway.max_body_bytes must not be negative, got %d", c.Gateway.MaxBodyBytes)
	}
	if !strings.HasPrefix(c.Server.ErrorPath, "/") {
		return fmt.Errorf("server.error_path must start with /, got %q", c.Server.ErrorPath)
	}
	seen := make(map[string]bool, len(c.Gateway.Routes))
	for i, r := range c.Gateway.Routes {
		switch {
		case r.ID == "":
			return fmt.Errorf("gateway.routes[%d]: id is required", i)
		case r.URI == "":
			return fmt.Errorf("gateway.routes[%d] %s: uri is required", i, r.ID)
		case !strings.HasPrefix(r.Path, "/"):
			return fmt.Errorf("gateway.routes[%d] %s: path must start with /", i, r.ID)
		case r.StripPrefix < 0:
			return fmt.Errorf("gateway.routes[%d] %s: strip_prefix must not be negative", i, r.ID)
		case seen[r.ID]:
			return fmt.Errorf("gateway.routes[%d]: duplicate id %s", i, r.ID)
		}
		seen[r.ID] = true
	}
	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
