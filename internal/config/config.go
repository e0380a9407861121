// Package config provides configuration types for the governance engine.
//
// The schema is intentionally small and file-based, mirroring the
// teacher's OSS configuration philosophy: one YAML document, environment
// variable overrides, sensible defaults, struct-tag validation. It
// carries every option spec §6 calls out as "recognized" — policy cache
// TTL, session window, fee toggle, escalation thresholds, event bus
// buffer size, heartbeat interval, verification diff-size limit, drift
// baseline depth — plus the ambient server/audit/dev-mode options the
// teacher's own config always ships with.
package config

// GovernorConfig is the top-level configuration for the governance engine.
type GovernorConfig struct {
	// Server configures the local CLI surface; it holds only the log level
	// (there is no network listener).
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Audit configures where actions and receipts are persisted.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Engine configures the C7 orchestrator's tunable thresholds (spec §6).
	Engine EngineOptions `yaml:"engine" mapstructure:"engine"`

	// PolicyFile is an optional path to a YAML document of base policies,
	// loaded at startup via PolicyStore.LoadBaseFile (a supplemented
	// feature beyond spec.md's distillation — mirrors the teacher's
	// static-file base-policy loading).
	PolicyFile string `yaml:"policy_file" mapstructure:"policy_file"`

	// DevMode enables permissive startup defaults (debug logging, in-memory
	// audit backend when none is set) for local experimentation.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the local CLI/admin surface.
type ServerConfig struct {
	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn" (or "warning"), "error".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// AuditBackend selects the concrete audit.Store implementation.
type AuditBackend string

const (
	AuditBackendMemory AuditBackend = "memory"
	AuditBackendFile   AuditBackend = "file"
	AuditBackendSQLite AuditBackend = "sqlite"
)

// AuditConfig configures audit log persistence (spec §4.9).
type AuditConfig struct {
	// Backend selects the storage implementation.
	// Defaults to "memory" if empty.
	Backend AuditBackend `yaml:"backend" mapstructure:"backend" validate:"omitempty,oneof=memory file sqlite"`

	// Path is the directory (AuditBackendFile) or DSN (AuditBackendSQLite).
	// Required unless Backend is "memory".
	Path string `yaml:"path" mapstructure:"path"`

	// RingBufferSize bounds the in-memory recent-actions ring buffer kept
	// alongside durable storage for fast session/escalation lookups.
	// Defaults to 1000 if not specified or 0.
	RingBufferSize int `yaml:"ring_buffer_size" mapstructure:"ring_buffer_size" validate:"omitempty,min=1"`
}

// EngineOptions carries every "recognized option" spec §6 enumerates for
// the Pipeline Orchestrator and the components it wires together.
//
// cmd/governor serve reads PolicyCacheTTL, FeesEnabled, EscalationTimeout,
// EventBusBufferSize, DriftBaselineDepth and RiskAllowlist. The other
// fields are defaulted and validated but not read: the session store,
// wallet store, escalation engine, event bus heartbeat and verification
// diff-size check use their own fixed package constants, which equal the
// defaults below.
type EngineOptions struct {
	// PolicyCacheTTL is how long a policy snapshot is served stale before
	// refreshing (spec §4.2). "0" disables caching entirely (always
	// refresh). Defaults to "10s".
	PolicyCacheTTL string `yaml:"policy_cache_ttl" mapstructure:"policy_cache_ttl" validate:"omitempty"`

	// SessionWindowMinutes bounds how far back session history looks
	// (spec §4.4). Defaults to 60.
	SessionWindowMinutes int `yaml:"session_window_minutes" mapstructure:"session_window_minutes" validate:"omitempty,min=1"`

	// SessionMaxEntries caps the number of actions returned per session
	// history query (spec §4.4). Defaults to 50.
	SessionMaxEntries int `yaml:"session_max_entries" mapstructure:"session_max_entries" validate:"omitempty,min=1"`

	// FeesEnabled turns on wallet fee deduction (spec §4.12). Defaults to
	// false.
	FeesEnabled bool `yaml:"fees_enabled" mapstructure:"fees_enabled"`

	// WalletInitialBalance is the starting balance auto-provisioned for a
	// new wallet, as a decimal string (spec §4.12). Defaults to "100.000".
	WalletInitialBalance string `yaml:"wallet_initial_balance" mapstructure:"wallet_initial_balance" validate:"omitempty"`

	// EscalationBlockThreshold auto-engages the kill switch once this many
	// of an agent's last 10 decisions were block (spec
	// §4.11). Defaults to 3.
	EscalationBlockThreshold int `yaml:"escalation_block_threshold" mapstructure:"escalation_block_threshold" validate:"omitempty,min=1"`

	// EscalationRiskThreshold auto-engages the kill switch once the mean
	// risk score over the lookback window reaches this value (spec
	// §4.11). Defaults to 82.
	EscalationRiskThreshold int `yaml:"escalation_risk_threshold" mapstructure:"escalation_risk_threshold" validate:"omitempty,min=0,max=100"`

	// EscalationTimeout is how long a pending escalation event waits for
	// resolution before it expires, as a duration string (spec §4.11:
	// "expired (after a configurable timeout)"). Defaults to "24h".
	EscalationTimeout string `yaml:"escalation_timeout" mapstructure:"escalation_timeout" validate:"omitempty"`

	// EventBusBufferSize is the per-subscriber channel capacity (spec
	// §4.10). Defaults to 64.
	EventBusBufferSize int `yaml:"event_bus_buffer_size" mapstructure:"event_bus_buffer_size" validate:"omitempty,min=1"`

	// HeartbeatInterval is how often the event bus emits a heartbeat
	// event, as a duration string (spec §4.10). Defaults to "15s".
	HeartbeatInterval string `yaml:"heartbeat_interval" mapstructure:"heartbeat_interval" validate:"omitempty"`

	// VerificationDiffSizeLimitKiB bounds the tolerated coerced-diff size
	// before the diff-size check penalizes it (spec §4.8). Defaults to 10.
	VerificationDiffSizeLimitKiB int `yaml:"verification_diff_size_limit_kib" mapstructure:"verification_diff_size_limit_kib" validate:"omitempty,min=1"`

	// DriftBaselineDepth is how many of an agent's past actions feed the
	// rolling behavioral baseline (spec §4.8, §9). Defaults to 500.
	DriftBaselineDepth int `yaml:"drift_baseline_depth" mapstructure:"drift_baseline_depth" validate:"omitempty,min=1"`

	// RiskAllowlist lists destinations the Risk Estimator treats as
	// pre-approved (spec §4.3), e.g. known-good API hosts.
	RiskAllowlist []string `yaml:"risk_allowlist" mapstructure:"risk_allowlist"`
}

// SetDevDefaults applies permissive defaults for development mode. Applied
// before validation so required fields are satisfied with zero config.
func (c *GovernorConfig) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "debug"
	}
	if c.Audit.Backend == "" {
		c.Audit.Backend = AuditBackendMemory
	}
}

// SetDefaults applies sensible default values to the configuration,
// matching spec §6's literal defaults for every Engine option.
func (c *GovernorConfig) SetDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Audit.Backend == "" {
		c.Audit.Backend = AuditBackendMemory
	}
	if c.Audit.RingBufferSize == 0 {
		c.Audit.RingBufferSize = 1000
	}

	if c.Engine.PolicyCacheTTL == "" {
		c.Engine.PolicyCacheTTL = "10s"
	}
	if c.Engine.SessionWindowMinutes == 0 {
		c.Engine.SessionWindowMinutes = 60
	}
	if c.Engine.SessionMaxEntries == 0 {
		c.Engine.SessionMaxEntries = 50
	}
	if c.Engine.WalletInitialBalance == "" {
		c.Engine.WalletInitialBalance = "100.000"
	}
	if c.Engine.EscalationBlockThreshold == 0 {
		c.Engine.EscalationBlockThreshold = 3
	}
	if c.Engine.EscalationRiskThreshold == 0 {
		c.Engine.EscalationRiskThreshold = 82
	}
	if c.Engine.EscalationTimeout == "" {
		c.Engine.EscalationTimeout = "24h"
	}
	if c.Engine.EventBusBufferSize == 0 {
		c.Engine.EventBusBufferSize = 64
	}
	if c.Engine.HeartbeatInterval == "" {
		c.Engine.HeartbeatInterval = "15s"
	}
	if c.Engine.VerificationDiffSizeLimitKiB == 0 {
		c.Engine.VerificationDiffSizeLimitKiB = 10
	}
	if c.Engine.DriftBaselineDepth == 0 {
		c.Engine.DriftBaselineDepth = 500
	}
}
