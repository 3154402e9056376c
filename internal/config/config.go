// Package config loads and normalizes the orchestrator's configuration,
// adapted from the upstream YAML-plus-env-override layering pattern.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// TransportConfig controls the Unix-domain-socket listener agents connect
// over (spec §4.2).
type TransportConfig struct {
	SocketPath        string `yaml:"socket_path"`
	MaxFrameBytes     int    `yaml:"max_frame_bytes"`
	OutboundQueueSize int    `yaml:"outbound_queue_size"`
}

// RegistryConfig tunes agent health tracking (spec §4.3).
type RegistryConfig struct {
	HeartbeatIntervalSeconds int `yaml:"heartbeat_interval_seconds"`
}

// RouterConfig tunes candidate scoring and the pending-task queue
// (spec §4.4).
type RouterConfig struct {
	CapabilityWeight float64 `yaml:"capability_weight"`
	LoadWeight       float64 `yaml:"load_weight"`
	CostWeight       float64 `yaml:"cost_weight"`
	LatencyWeight    float64 `yaml:"latency_weight"`
	AffinityWeight   float64 `yaml:"affinity_weight"`
	QueueCap         int     `yaml:"queue_cap"`
}

// SupervisorConfig bounds delegation depth (spec §4.5).
type SupervisorConfig struct {
	MaxDepth int `yaml:"max_depth"`
}

// ExecutorConfig tunes task issue/retry/cancel behavior (spec §4.6).
type ExecutorConfig struct {
	DefaultTimeoutMs int   `yaml:"default_timeout_ms"`
	MaxProcessingMs  int   `yaml:"max_processing_ms"`
	MaxRetries       int   `yaml:"max_retries"`
	CancelGraceMs    int   `yaml:"cancel_grace_ms"`
	StreamWindow     int   `yaml:"stream_window"`
	IdempotencyTTLMs int64 `yaml:"idempotency_ttl_ms"`
}

// BudgetConfig sets default per-request caps and rate limits (spec §4.7).
type BudgetConfig struct {
	DefaultMaxUSD      float64 `yaml:"default_max_usd"`
	DefaultMaxTokens   int64   `yaml:"default_max_tokens"`
	RateLimitPerMinute int     `yaml:"rate_limit_per_minute"`
	RateLimitBurst     int     `yaml:"rate_limit_burst"`
}

// TracingConfig controls OpenTelemetry export (spec §4.8).
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Exporter       string  `yaml:"exporter"` // "otlp-http", "stdout", "none"
	Endpoint       string  `yaml:"endpoint"`
	ServiceName    string  `yaml:"service_name"`
	SampleRate     float64 `yaml:"sample_rate"`
	MetricsEnabled bool    `yaml:"metrics_enabled"`
}

// AgentAuth is one statically provisioned agent credential: the bearer
// secret it authenticates with and the tools it is allowed to invoke.
// Credentials are seeded into the security gate at startup; there is
// deliberately no runtime API for minting new ones.
type AgentAuth struct {
	AgentID   string   `yaml:"agent_id"`
	Secret    string   `yaml:"secret"`
	ToolAllow []string `yaml:"tool_allow"`
}

// SecurityConfig controls bearer-token auth and misuse tracking (spec §4.9).
type SecurityConfig struct {
	HMACKeyEnv  string      `yaml:"hmac_key_env"`
	MisuseLimit int32       `yaml:"misuse_limit"`
	Agents      []AgentAuth `yaml:"agents"`
}

// IngressConfig controls the HTTP/WebSocket adapter (spec §6).
type IngressConfig struct {
	ListenAddr   string   `yaml:"listen_addr"`
	AllowOrigins []string `yaml:"allow_origins"`
}

// PersistenceConfig controls the idempotency store's backing SQLite file.
type PersistenceConfig struct {
	DBPath string `yaml:"db_path"`
}

// Config is the orchestrator's top-level configuration, loaded from
// config.yaml in HomeDir and overridden by MCP_* environment variables.
type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel string `yaml:"log_level"`

	Transport   TransportConfig   `yaml:"transport"`
	Registry    RegistryConfig    `yaml:"registry"`
	Router      RouterConfig      `yaml:"router"`
	Supervisor  SupervisorConfig  `yaml:"supervisor"`
	Executor    ExecutorConfig    `yaml:"executor"`
	Budget      BudgetConfig      `yaml:"budget"`
	Tracing     TracingConfig     `yaml:"tracing"`
	Security    SecurityConfig    `yaml:"security"`
	Ingress     IngressConfig     `yaml:"ingress"`
	Persistence PersistenceConfig `yaml:"persistence"`

	NeedsGenesis bool `yaml:"-"`
}

// ConfigPath returns the path to config.yaml within homeDir.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Fingerprint returns a stable hash of the fields that change wire-visible
// behavior, for inclusion in diagnostics and health responses.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "socket=%s|frame=%d|depth=%d|queue=%d|rate=%d/%d",
		c.Transport.SocketPath, c.Transport.MaxFrameBytes, c.Supervisor.MaxDepth,
		c.Router.QueueCap, c.Budget.RateLimitPerMinute, c.Budget.RateLimitBurst)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		Transport: TransportConfig{
			SocketPath:        "/tmp/cartrita-mcp.sock",
			MaxFrameBytes:     16 * 1024 * 1024,
			OutboundQueueSize: 256,
		},
		Registry: RegistryConfig{HeartbeatIntervalSeconds: 10},
		Router: RouterConfig{
			CapabilityWeight: 0.35,
			LoadWeight:       0.25,
			CostWeight:       0.15,
			LatencyWeight:    0.15,
			AffinityWeight:   0.10,
			QueueCap:         1000,
		},
		Supervisor: SupervisorConfig{MaxDepth: 8},
		Executor: ExecutorConfig{
			DefaultTimeoutMs: 30_000,
			MaxRetries:       5,
			CancelGraceMs:    2_000,
			StreamWindow:     64,
			IdempotencyTTLMs: int64((24 * time.Hour).Milliseconds()),
		},
		Budget: BudgetConfig{
			DefaultMaxUSD:      5.0,
			DefaultMaxTokens:   1_000_000,
			RateLimitPerMinute: 60,
			RateLimitBurst:     10,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    "none",
			ServiceName: "cartrita-mcp",
			SampleRate:  0.1,
		},
		Security: SecurityConfig{
			HMACKeyEnv:  "MCP_AUTH_SECRET",
			MisuseLimit: 5,
		},
		Ingress: IngressConfig{ListenAddr: "127.0.0.1:8089"},
		Persistence: PersistenceConfig{
			DBPath: "idempotency.db",
		},
	}
}

// HomeDir resolves the orchestrator's state directory, honoring
// MCP_HOME if set.
func HomeDir() string {
	if override := os.Getenv("MCP_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".cartrita-mcp")
}

// Load reads config.yaml from HomeDir (creating the directory if absent),
// applies MCP_* environment overrides, and normalizes defaults.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create mcp home: %w", err)
	}

	configPath := ConfigPath(cfg.HomeDir)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsGenesis = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Transport.SocketPath == "" {
		cfg.Transport.SocketPath = "/tmp/cartrita-mcp.sock"
	}
	if cfg.Transport.MaxFrameBytes <= 0 {
		cfg.Transport.MaxFrameBytes = 16 * 1024 * 1024
	}
	if cfg.Registry.HeartbeatIntervalSeconds <= 0 {
		cfg.Registry.HeartbeatIntervalSeconds = 10
	}
	if cfg.Supervisor.MaxDepth <= 0 {
		cfg.Supervisor.MaxDepth = 8
	}
	if cfg.Executor.DefaultTimeoutMs <= 0 {
		cfg.Executor.DefaultTimeoutMs = 30_000
	}
	if cfg.Executor.MaxRetries <= 0 {
		cfg.Executor.MaxRetries = 5
	}
	if cfg.Budget.RateLimitPerMinute <= 0 {
		cfg.Budget.RateLimitPerMinute = 60
	}
	if cfg.Ingress.ListenAddr == "" {
		cfg.Ingress.ListenAddr = "127.0.0.1:8089"
	}
	if cfg.Persistence.DBPath == "" {
		cfg.Persistence.DBPath = "idempotency.db"
	}
}

// AuthSecret reads the HMAC signing key from the environment variable named
// by Security.HMACKeyEnv.
func (c Config) AuthSecret() []byte {
	return []byte(os.Getenv(c.Security.HMACKeyEnv))
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("MCP_SOCKET_PATH"); raw != "" {
		cfg.Transport.SocketPath = raw
	}
	if raw := os.Getenv("MCP_MAX_FRAME_BYTES"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Transport.MaxFrameBytes = v
		}
	}
	if raw := os.Getenv("MCP_MAX_DEPTH"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Supervisor.MaxDepth = v
		}
	}
	if raw := os.Getenv("MCP_MAX_CONCURRENT"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Router.QueueCap = v
		}
	}
	if raw := os.Getenv("MCP_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("MCP_LISTEN_ADDR"); raw != "" {
		cfg.Ingress.ListenAddr = raw
	}
	if raw := os.Getenv("MCP_RATE_LIMIT_PER_MINUTE"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Budget.RateLimitPerMinute = v
		}
	}
}
