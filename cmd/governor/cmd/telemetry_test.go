package cmd

import (
	"bytes"
	"context"
	"testing"
)

func TestSetupTelemetry_ShutdownSucceeds(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := setupTelemetry(&buf)
	if err != nil {
		t.Fatalf("setupTelemetry() error: %v", err)
	}
	if shutdown == nil {
		t.Fatal("setupTelemetry() returned nil shutdown func")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error: %v", err)
	}
}
