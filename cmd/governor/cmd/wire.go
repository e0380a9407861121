package cmd

import (
	"fmt"
	"log/slog"
	"os"

	fileaudit "github.com/runtimegov/governor/internal/adapter/outbound/audit"
	"github.com/runtimegov/governor/internal/adapter/outbound/memory"
	sqliteaudit "github.com/runtimegov/governor/internal/adapter/outbound/sqlite"
	"github.com/runtimegov/governor/internal/adapter/outbound/state"
	"github.com/runtimegov/governor/internal/config"
	"github.com/runtimegov/governor/internal/domain/audit"
	"github.com/runtimegov/governor/internal/domain/governor"
)

// stateFilePath is where the kill switch and other durable flags persist
// between CLI invocations, since each subcommand runs as its own process.
const stateFilePath = "governor-state.json"

// loadConfig reads governor.yaml (or GOVERNOR_* env overrides), applies dev
// defaults, and validates. Every subcommand starts here.
func loadConfig() (*config.GovernorConfig, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, err
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds a structured logger writing to stderr at the level
// configured under server.log_level, matching the teacher's slog-to-stderr
// convention (stdout is reserved for command output).
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// newKillSwitch wires a KillSwitch against the durable state file so that
// `kill engage` in one process is visible to `kill status` (or `serve`) in
// the next.
func newKillSwitch(logger *slog.Logger) *governor.KillSwitch {
	store := state.NewFileStateStore(stateFilePath, logger)
	return governor.NewKillSwitch(store, logger)
}

// newAuditStore selects the audit.Store implementation per cfg.Audit.Backend.
func newAuditStore(cfg *config.GovernorConfig, logger *slog.Logger) (audit.Store, error) {
	switch cfg.Audit.Backend {
	case config.AuditBackendMemory, "":
		return memory.NewAuditStore(), nil
	case config.AuditBackendFile:
		return fileaudit.NewFileStore(fileaudit.FileStoreConfig{
			Dir:       cfg.Audit.Path,
			CacheSize: cfg.Audit.RingBufferSize,
		}, logger)
	case config.AuditBackendSQLite:
		return sqliteaudit.NewAuditStore(cfg.Audit.Path)
	default:
		return nil, fmt.Errorf("unknown audit backend %q", cfg.Audit.Backend)
	}
}
