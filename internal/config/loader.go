// Package config provides configuration loading for the governance engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for governor.yaml/.yml in
// standard locations. The search requires an explicit YAML extension to
// avoid matching the binary itself, which Viper's built-in SetConfigName
// would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		viper.SetConfigName("governor")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: GOVERNOR_ENGINE_FEES_ENABLED
	viper.SetEnvPrefix("GOVERNOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a governor config file
// with an explicit YAML extension (.yaml or .yml). This prevents Viper
// from matching the binary "governor" (no extension) in the current
// directory.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".governor"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "governor"))
		}
	} else {
		paths = append(paths, "/etc/governor")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for governor.yaml
// or .yml. Returns the full path of the first match, or empty string if
// none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "governor"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds every GovernorConfig key for environment
// variable override support.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.log_level")

	_ = viper.BindEnv("audit.backend")
	_ = viper.BindEnv("audit.path")
	_ = viper.BindEnv("audit.ring_buffer_size")

	_ = viper.BindEnv("engine.policy_cache_ttl")
	_ = viper.BindEnv("engine.session_window_minutes")
	_ = viper.BindEnv("engine.session_max_entries")
	_ = viper.BindEnv("engine.fees_enabled")
	_ = viper.BindEnv("engine.wallet_initial_balance")
	_ = viper.BindEnv("engine.escalation_block_threshold")
	_ = viper.BindEnv("engine.escalation_risk_threshold")
	_ = viper.BindEnv("engine.escalation_timeout")
	_ = viper.BindEnv("engine.event_bus_buffer_size")
	_ = viper.BindEnv("engine.heartbeat_interval")
	_ = viper.BindEnv("engine.verification_diff_size_limit_kib")
	_ = viper.BindEnv("engine.drift_baseline_depth")
	// Note: engine.risk_allowlist is an array, complex to override via env;
	// use the config file for it.

	_ = viper.BindEnv("policy_file")
	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults and dev defaults, validates, and returns the GovernorConfig.
// Callers that need CLI flag overrides (e.g. --dev) applied before
// validation use LoadConfigRaw instead.
func LoadConfig() (*GovernorConfig, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars only.
	}

	var cfg GovernorConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults, but does
// NOT apply dev defaults or validate. Use this when CLI flags may override
// DevMode before validation.
func LoadConfigRaw() (*GovernorConfig, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg GovernorConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was
// loaded. Returns an empty string if no config file was found (env vars
// only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
