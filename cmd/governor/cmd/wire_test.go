package cmd

import (
	"path/filepath"
	"testing"

	"github.com/runtimegov/governor/internal/adapter/outbound/memory"
	"github.com/runtimegov/governor/internal/adapter/outbound/sqlite"
	"github.com/runtimegov/governor/internal/config"
)

func TestNewAuditStore_MemoryIsDefault(t *testing.T) {
	store, err := newAuditStore(&config.GovernorConfig{}, newLogger("error"))
	if err != nil {
		t.Fatalf("newAuditStore() error: %v", err)
	}
	if _, ok := store.(*memory.AuditStore); !ok {
		t.Errorf("newAuditStore() returned %T, want *memory.AuditStore", store)
	}
}

func TestNewAuditStore_SQLite(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.GovernorConfig{
		Audit: config.AuditConfig{
			Backend: config.AuditBackendSQLite,
			Path:    filepath.Join(dir, "audit.db"),
		},
	}

	store, err := newAuditStore(cfg, newLogger("error"))
	if err != nil {
		t.Fatalf("newAuditStore() error: %v", err)
	}
	if _, ok := store.(*sqlite.AuditStore); !ok {
		t.Errorf("newAuditStore() returned %T, want *sqlite.AuditStore", store)
	}
}

func TestNewAuditStore_UnknownBackend(t *testing.T) {
	cfg := &config.GovernorConfig{Audit: config.AuditConfig{Backend: "postgres"}}
	if _, err := newAuditStore(cfg, newLogger("error")); err == nil {
		t.Fatal("newAuditStore() expected error for unknown backend, got nil")
	}
}

func TestNewLogger_AcceptsAllLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "warning", "error", ""} {
		if l := newLogger(level); l == nil {
			t.Errorf("newLogger(%q) returned nil", level)
		}
	}
}
