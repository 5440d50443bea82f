// Package config holds the governor's top-level configuration, loaded from
// YAML with sensible zero-config defaults, following the same struct-of-
// structs shape and yaml tags the teacher's configuration package uses.
package config

import "time"

// Config is the top-level governor configuration.
type Config struct {
	Server      ServerConfig     `yaml:"server"`
	Storage     StorageConfig    `yaml:"storage"`
	PoliciesDir string           `yaml:"policies_dir"`
	Cache       CacheConfig      `yaml:"cache"`
	Trust       TrustConfig      `yaml:"trust"`
	Security    SecurityConfig   `yaml:"security"`
	Escalation  EscalationConfig `yaml:"escalation"`
	Proof       ProofConfig      `yaml:"proof"`
	Alerts      AlertsConfig     `yaml:"alerts"`
	Decision    DecisionConfig   `yaml:"decision"`
	Tenants     []TenantConfig   `yaml:"tenants"`
}

type ServerConfig struct {
	Port     int        `yaml:"port"`
	GRPCPort int        `yaml:"grpc_port"`
	LogLevel string     `yaml:"log_level"`
	CORS     bool       `yaml:"cors"`
	FailMode string     `yaml:"fail_mode"` // "closed" = deny on error, "open" = allow on error
	Auth     AuthConfig `yaml:"auth"`
}

type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
}

type StorageConfig struct {
	Driver     string        `yaml:"driver"` // sqlite, postgres
	Path       string        `yaml:"path"`
	Connection string        `yaml:"connection"`
	Retention  time.Duration `yaml:"retention"`
}

type CacheConfig struct {
	Driver string        `yaml:"driver"` // memory, redis
	Addr   string        `yaml:"addr"`
	TTL    time.Duration `yaml:"ttl"`
}

// TrustConfig holds the Trust Engine's scoring and decay parameters.
type TrustConfig struct {
	DecayHalfLife   time.Duration      `yaml:"decay_half_life"`
	SignalWeights   map[string]float64 `yaml:"signal_weights"`
	RateLimitWindow time.Duration      `yaml:"rate_limit_window"`
	RateLimitMax    int                `yaml:"rate_limit_max"`
}

// SecurityConfig holds Security Gate tuning: per-tier token TTL overrides,
// the pairwise-ID master secret, and the kill-switch sentinel file path.
type SecurityConfig struct {
	TierTokenTTLs          map[string]time.Duration `yaml:"tier_token_ttls"`
	PairwiseIDMasterSecret string                   `yaml:"pairwise_id_master_secret"`
	KillSwitchFilePath     string                   `yaml:"kill_switch_file_path"`
}

// DecisionConfig holds Decision Coordinator tuning: the sliding-window
// per-entity action rate limit applied ahead of policy evaluation, distinct
// from the Trust Engine's per-source signal rate limit (TrustConfig).
type DecisionConfig struct {
	ActionRateLimitWindow time.Duration `yaml:"action_rate_limit_window"`
	ActionRateLimitMax    int           `yaml:"action_rate_limit_max"`
}

// EscalationConfig holds Escalation Coordinator defaults.
type EscalationConfig struct {
	DefaultTimeoutMinutes int           `yaml:"default_timeout_minutes"`
	TimeoutPollInterval   time.Duration `yaml:"timeout_poll_interval"`
}

// ProofConfig holds Proof Chain batching/delivery tuning.
type ProofConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	AnchorURL     string        `yaml:"anchor_url"`
}

type AlertsConfig struct {
	Slack   SlackAlertConfig   `yaml:"slack"`
	Webhook WebhookAlertConfig `yaml:"webhook"`
}

type SlackAlertConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

type WebhookAlertConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// TenantConfig is a per-tenant deployment context ceiling override, per
// spec.md §3's "Deployment Context Ceiling".
type TenantConfig struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	ContextCeiling string `yaml:"context_ceiling"` // T0..T5
}

// DefaultConfig returns a config with sensible defaults for zero-config startup.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8080,
			GRPCPort: 8081,
			LogLevel: "info",
			CORS:     false,
			FailMode: "closed",
		},
		PoliciesDir: "./policies",
		Storage: StorageConfig{
			Driver:    "sqlite",
			Path:      "./governor.db",
			Retention: 90 * 24 * time.Hour,
		},
		Cache: CacheConfig{
			Driver: "memory",
			TTL:    5 * time.Minute,
		},
		Trust: TrustConfig{
			DecayHalfLife:   30 * 24 * time.Hour,
			RateLimitWindow: time.Minute,
			RateLimitMax:    100,
		},
		Escalation: EscalationConfig{
			DefaultTimeoutMinutes: 30,
			TimeoutPollInterval:   5 * time.Second,
		},
		Decision: DecisionConfig{
			ActionRateLimitWindow: time.Minute,
			ActionRateLimitMax:    120,
		},
		Proof: ProofConfig{
			BatchSize:     8,
			FlushInterval: 2 * time.Second,
		},
	}
}
