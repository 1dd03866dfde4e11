// Package config handles loading and validating TMWS configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tmws-ai/tmws/internal/accesscontrol"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for the TMWS security service.
type Config struct {
	Server        ServerConfig         `json:"server" yaml:"server"`
	AccessControl AccessControlConfig  `json:"access_control" yaml:"access_control"`
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`             // nil = in-memory audit log only
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	RateLimit     *RateLimitConfig     `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`       // nil = HTTP rate limiting disabled
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	ListenAddr     string   `json:"listen_addr" yaml:"listen_addr"`             // Default: ":8080". Override: TMWS_LISTEN_ADDR env var.
	APIKeys        []string `json:"api_keys,omitempty" yaml:"api_keys,omitempty"` // Bearer keys. Empty = no auth (dev only). Override: TMWS_API_KEY env var (appended).
	EnableDocs     bool     `json:"enable_docs" yaml:"enable_docs"`             // Serve OpenAPI docs UI.
	MaxRequestSize int64    `json:"max_request_size" yaml:"max_request_size"`   // Bytes. Default: 1 MiB.
}

// Addr returns the listen address with a default of ":8080".
func (s *ServerConfig) Addr() string {
	if s != nil && s.ListenAddr != "" {
		return s.ListenAddr
	}
	return ":8080"
}

// MaxBody returns the request size cap with a default of 1 MiB.
func (s *ServerConfig) MaxBody() int64 {
	if s != nil && s.MaxRequestSize > 0 {
		return s.MaxRequestSize
	}
	return 1 << 20
}

// AccessControlConfig tunes the decision engine and its seed policies.
type AccessControlConfig struct {
	AllowedNamespaces []string     `json:"allowed_namespaces,omitempty" yaml:"allowed_namespaces,omitempty"` // Default: trinitas, system.
	RateLimitPerHour  int          `json:"rate_limit_per_hour" yaml:"rate_limit_per_hour"`                   // Default: 1000.
	Policies          []PolicySpec `json:"policies,omitempty" yaml:"policies,omitempty"`                     // Installed on top of the default seed.
}

// PolicySpec is the on-disk form of an access policy. It carries string
// fields so config files stay readable; ToPolicy converts and validates.
type PolicySpec struct {
	ID            string                    `json:"id" yaml:"id"`
	Name          string                    `json:"name" yaml:"name"`
	Description   string                    `json:"description,omitempty" yaml:"description,omitempty"`
	ResourceTypes []string                  `json:"resource_types" yaml:"resource_types"`
	Actions       []string                  `json:"actions" yaml:"actions"`
	AgentPatterns []string                  `json:"agent_patterns" yaml:"agent_patterns"`
	Conditions    []accesscontrol.Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Decision      string                    `json:"decision" yaml:"decision"`
	Priority      int                       `json:"priority" yaml:"priority"`
	ExpiresAt     time.Time                 `json:"expires_at,omitzero" yaml:"expires_at,omitempty"`
	Active        *bool                     `json:"active,omitempty" yaml:"active,omitempty"` // nil = active.
}

// ToPolicy converts the config entry into a validated AccessPolicy.
func (ps PolicySpec) ToPolicy() (*accesscontrol.AccessPolicy, error) {
	decision, err := accesscontrol.ParseDecision(ps.Decision)
	if err != nil {
		return nil, fmt.Errorf("policy %q: %w", ps.ID, err)
	}

	rts := make([]accesscontrol.ResourceType, 0, len(ps.ResourceTypes))
	for _, s := range ps.ResourceTypes {
		rt, err := accesscontrol.ParseResourceType(s)
		if err != nil {
			return nil, fmt.Errorf("policy %q: %w", ps.ID, err)
		}
		rts = append(rts, rt)
	}
	acts := make([]accesscontrol.ActionType, 0, len(ps.Actions))
	for _, s := range ps.Actions {
		at, err := accesscontrol.ParseActionType(s)
		if err != nil {
			return nil, fmt.Errorf("policy %q: %w", ps.ID, err)
		}
		acts = append(acts, at)
	}

	active := true
	if ps.Active != nil {
		active = *ps.Active
	}

	p := &accesscontrol.AccessPolicy{
		ID:            ps.ID,
		Name:          ps.Name,
		Description:   ps.Description,
		ResourceTypes: rts,
		Actions:       acts,
		AgentPatterns: ps.AgentPatterns,
		Conditions:    ps.Conditions,
		Decision:      decision,
		Priority:      ps.Priority,
		CreatedBy:     "config",
		CreatedAt:     time.Now().UTC(),
		ExpiresAt:     ps.ExpiresAt,
		Active:        active,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// StorageConfig configures the durable audit sink.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path string `json:"path" yaml:"path"` // Database file path. Default: "tmws.db" in the working directory.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"` // Override: TMWS_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// ObservabilityConfig configures metrics and tracing.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "tmws"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// RateLimitConfig configures per-caller HTTP rate limiting.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"` // Default: 600.
	Burst             int `json:"burst" yaml:"burst"`                             // Default: 50.
}

// PerMinute returns the request rate with a default of 600.
func (r *RateLimitConfig) PerMinute() int {
	if r != nil && r.RequestsPerMinute > 0 {
		return r.RequestsPerMinute
	}
	return 600
}

// BurstSize returns the burst allowance with a default of 50.
func (r *RateLimitConfig) BurstSize() int {
	if r != nil && r.Burst > 0 {
		return r.Burst
	}
	return 50
}

// DefaultConfigPath returns the default config file path (~/.tmws/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/tmws.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".tmws", "config.yaml")
}

// Default returns a usable zero-file configuration: in-memory audit log,
// no auth, observability off.
func Default() *Config {
	return &Config{}
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// applyEnv overlays environment variable overrides onto the config.
func applyEnv(cfg *Config) {
	if addr := os.Getenv("TMWS_LISTEN_ADDR"); addr != "" {
		cfg.Server.ListenAddr = addr
	}
	if key := os.Getenv("TMWS_API_KEY"); key != "" {
		cfg.Server.APIKeys = append(cfg.Server.APIKeys, key)
	}
	if dsn := os.Getenv("TMWS_DB_DSN"); dsn != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{Driver: "postgres"}
		}
		if cfg.Storage.Postgres == nil {
			cfg.Storage.Postgres = &PostgresStorageConfig{}
		}
		cfg.Storage.Postgres.DSN = dsn
	}
	if ep := os.Getenv("TMWS_OTLP_ENDPOINT"); ep != "" {
		if cfg.Observability == nil {
			cfg.Observability = &ObservabilityConfig{}
		}
		if cfg.Observability.Tracing == nil {
			cfg.Observability.Tracing = &TracingConfig{Enabled: true}
		}
		cfg.Observability.Tracing.Endpoint = ep
	}
}

func (c *Config) validate() error {
	if c.AccessControl.RateLimitPerHour < 0 {
		return fmt.Errorf("access_control.rate_limit_per_hour must not be negative")
	}
	for _, ps := range c.AccessControl.Policies {
		if _, err := ps.ToPolicy(); err != nil {
			return err
		}
	}
	if c.Storage != nil {
		switch c.Storage.StorageDriver() {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
		}
		if c.Storage.StorageDriver() == "postgres" &&
			(c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "") {
			return fmt.Errorf("postgres storage requires a dsn")
		}
	}
	if c.Observability != nil && c.Observability.Tracing != nil && c.Observability.Tracing.Enabled {
		tr := c.Observability.Tracing
		if tr.Endpoint == "" {
			return fmt.Errorf("tracing enabled without an endpoint")
		}
		switch tr.Protocol {
		case "", "grpc", "http":
		default:
			return fmt.Errorf("unknown tracing protocol %q", tr.Protocol)
		}
		if tr.SampleRate < 0 || tr.SampleRate > 1 {
			return fmt.Errorf("tracing sample_rate must be within [0, 1]")
		}
	}
	return nil
}

// resolvePath expands a leading ~ to the user's home directory.
func resolvePath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}
