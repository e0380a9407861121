package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/runtimegov/governor/internal/domain/action"
	"github.com/runtimegov/governor/internal/domain/audit"
	"github.com/runtimegov/governor/pkg/attestation"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func makeAction(ts time.Time, id string) action.Action {
	return action.Action{
		ID:        id,
		Timestamp: ts,
		AgentID:   "agent-1",
		SessionID: "sess-1",
		Tool:      "test_tool",
		Decision:  action.DecisionAllow,
		Risk:      10,
	}
}

func TestNewFileStore_CreatesDirectory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "subdir", "audit")
	cfg := FileStoreConfig{Dir: dir, RetentionDays: 7, MaxFileSizeMB: 100, CacheSize: 100}

	store, err := NewFileStore(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	defer func() { _ = store.Close() }()

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("directory not created: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("expected directory, got file")
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("directory permissions = %o, want 0700", perm)
	}
}

func TestFileStore_AppendWritesJSONLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := FileStoreConfig{Dir: dir, RetentionDays: 7, MaxFileSizeMB: 100, CacheSize: 100}
	store, err := NewFileStore(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}

	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		if _, err := store.Append(ctx, makeAction(now, fmt.Sprintf("act-%d", i))); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}
	if err := store.Flush(ctx); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	dateStr := now.Format("2006-01-02")
	filename := filepath.Join(dir, fmt.Sprintf("audit-%s.log", dateStr))
	data, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("failed to read audit file: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	for i, line := range lines {
		var decoded action.Action
		if err := json.Unmarshal([]byte(line), &decoded); err != nil {
			t.Errorf("line %d is not valid JSON: %v", i, err)
			continue
		}
		if decoded.ID != fmt.Sprintf("act-%d", i) {
			t.Errorf("line %d ID = %q, want %q", i, decoded.ID, fmt.Sprintf("act-%d", i))
		}
	}
}

func TestFileStore_DateRotation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := FileStoreConfig{Dir: dir, RetentionDays: 7, MaxFileSizeMB: 100, CacheSize: 100}
	store, err := NewFileStore(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}

	ctx := context.Background()
	day1 := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)

	if _, err := store.Append(ctx, makeAction(day1, "act-day1")); err != nil {
		t.Fatalf("Append() day1 error: %v", err)
	}
	if _, err := store.Append(ctx, makeAction(day2, "act-day2")); err != nil {
		t.Fatalf("Append() day2 error: %v", err)
	}
	if err := store.Flush(ctx); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}
	_ = store.Close()

	file1 := filepath.Join(dir, "audit-2026-02-01.log")
	file2 := filepath.Join(dir, "audit-2026-02-02.log")
	if _, err := os.Stat(file1); err != nil {
		t.Errorf("day 1 audit file not found: %v", err)
	}
	if _, err := os.Stat(file2); err != nil {
		t.Errorf("day 2 audit file not found: %v", err)
	}

	data1, _ := os.ReadFile(file1)
	data2, _ := os.ReadFile(file2)
	if !strings.Contains(string(data1), "act-day1") {
		t.Error("day 1 file should contain act-day1")
	}
	if !strings.Contains(string(data2), "act-day2") {
		t.Error("day 2 file should contain act-day2")
	}
}

func TestFileStore_SizeRotation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := FileStoreConfig{Dir: dir, RetentionDays: 7, MaxFileSizeMB: 0, CacheSize: 100}
	store, err := NewFileStore(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	store.actionsWriter.maxFileSize = 500

	ctx := context.Background()
	now := time.Now().UTC()
	dateStr := now.Format("2006-01-02")

	for i := 0; i < 20; i++ {
		a := makeAction(now, fmt.Sprintf("act-%03d", i))
		a.FlattenedArgs = strings.Repeat("x", 60)
		if _, err := store.Append(ctx, a); err != nil {
			t.Fatalf("Append() error at record %d: %v", i, err)
		}
	}
	_ = store.Close()

	baseFile := filepath.Join(dir, fmt.Sprintf("audit-%s.log", dateStr))
	suffixFile := filepath.Join(dir, fmt.Sprintf("audit-%s-1.log", dateStr))
	if _, err := os.Stat(baseFile); err != nil {
		t.Errorf("base audit file not found: %v", err)
	}
	if _, err := os.Stat(suffixFile); err != nil {
		t.Errorf("suffixed audit file not found: %v", err)
	}
}

func TestFileStore_RetentionCleanup(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	oldDate := time.Now().UTC().AddDate(0, 0, -10)
	recentDate := time.Now().UTC().AddDate(0, 0, -3)

	oldFile := filepath.Join(dir, fmt.Sprintf("audit-%s.log", oldDate.Format("2006-01-02")))
	recentFile := filepath.Join(dir, fmt.Sprintf("audit-%s.log", recentDate.Format("2006-01-02")))
	if err := os.WriteFile(oldFile, []byte(`{"ID":"old"}`+"\n"), 0600); err != nil {
		t.Fatalf("failed to create old file: %v", err)
	}
	if err := os.WriteFile(recentFile, []byte(`{"ID":"recent"}`+"\n"), 0600); err != nil {
		t.Fatalf("failed to create recent file: %v", err)
	}

	cfg := FileStoreConfig{Dir: dir, RetentionDays: 7, MaxFileSizeMB: 100, CacheSize: 100}
	store, err := NewFileStore(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	defer func() { _ = store.Close() }()

	if _, err := os.Stat(oldFile); !os.IsNotExist(err) {
		t.Error("old file (10 days) should have been deleted by retention cleanup")
	}
	if _, err := os.Stat(recentFile); err != nil {
		t.Error("recent file (3 days) should not have been deleted")
	}
}

func TestFileStore_GetRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := FileStoreConfig{Dir: dir, RetentionDays: 7, MaxFileSizeMB: 100, CacheSize: 100}
	store, err := NewFileStore(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	id, err := store.Append(ctx, makeAction(time.Now().UTC(), "act-get"))
	if err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.ID != id || got.Tool != "test_tool" {
		t.Errorf("unexpected action: %+v", got)
	}

	if _, err := store.Get(ctx, "missing"); err == nil {
		t.Error("expected error for missing id")
	}
}

func TestFileStore_QueryFiltersByAgentAndSession(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := FileStoreConfig{Dir: dir, RetentionDays: 7, MaxFileSizeMB: 100, CacheSize: 100}
	store, err := NewFileStore(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	now := time.Now().UTC()

	a1 := makeAction(now, "act-a1")
	a1.AgentID = "agent-x"
	a2 := makeAction(now, "act-a2")
	a2.AgentID = "agent-y"

	if _, err := store.Append(ctx, a1); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if _, err := store.Append(ctx, a2); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	results, err := store.Query(ctx, audit.Filter{AgentID: "agent-x"})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(results) != 1 || results[0].ID != "act-a1" {
		t.Errorf("unexpected query results: %+v", results)
	}
}

func TestFileStore_QueryRespectsLimit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := FileStoreConfig{Dir: dir, RetentionDays: 7, MaxFileSizeMB: 100, CacheSize: 100}
	store, err := NewFileStore(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	now := time.Now().UTC()
	for i := 0; i < 10; i++ {
		a := makeAction(now.Add(time.Duration(i)*time.Second), fmt.Sprintf("act-%d", i))
		if _, err := store.Append(ctx, a); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	results, err := store.Query(ctx, audit.Filter{Limit: 3})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[len(results)-1].ID != "act-9" {
		t.Errorf("expected most recent action last, got %q", results[len(results)-1].ID)
	}
}

func TestFileStore_AppendAndGetReceipt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := FileStoreConfig{Dir: dir, RetentionDays: 7, MaxFileSizeMB: 100, CacheSize: 100}
	store, err := NewFileStore(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	r := attestation.Receipt{ActionID: "act-1", Hash: "deadbeef", FeeTier: attestation.FeeTierLow}
	if err := store.AppendReceipt(ctx, r); err != nil {
		t.Fatalf("AppendReceipt() error: %v", err)
	}

	got, ok, err := store.ReceiptFor(ctx, "act-1")
	if err != nil {
		t.Fatalf("ReceiptFor() error: %v", err)
	}
	if !ok {
		t.Fatal("expected receipt to be found")
	}
	if got.Hash != "deadbeef" {
		t.Errorf("unexpected receipt: %+v", got)
	}

	if _, ok, err := store.ReceiptFor(ctx, "missing"); err != nil || ok {
		t.Errorf("expected not-found for missing action, got ok=%v err=%v", ok, err)
	}
}

func TestFileStore_ReceiptPersistedToDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := FileStoreConfig{Dir: dir, RetentionDays: 7, MaxFileSizeMB: 100, CacheSize: 100}
	store, err := NewFileStore(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}

	ctx := context.Background()
	if err := store.AppendReceipt(ctx, attestation.Receipt{ActionID: "act-1", Hash: "abc"}); err != nil {
		t.Fatalf("AppendReceipt() error: %v", err)
	}
	if err := store.Flush(ctx); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}
	_ = store.Close()

	dateStr := time.Now().UTC().Format("2006-01-02")
	filename := filepath.Join(dir, fmt.Sprintf("receipt-%s.log", dateStr))
	data, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("failed to read receipt file: %v", err)
	}
	if !strings.Contains(string(data), "act-1") {
		t.Error("receipt file should contain the action id")
	}
}

func TestFileStore_CachePopulatedAtBoot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Now().UTC()
	dateStr := now.Format("2006-01-02")
	filename := filepath.Join(dir, fmt.Sprintf("audit-%s.log", dateStr))

	f, err := os.Create(filename)
	if err != nil {
		t.Fatalf("failed to create pre-existing audit file: %v", err)
	}
	enc := json.NewEncoder(f)
	for i := 0; i < 10; i++ {
		a := makeAction(now.Add(time.Duration(i)*time.Second), fmt.Sprintf("boot-%d", i))
		if err := enc.Encode(a); err != nil {
			t.Fatalf("failed to write record: %v", err)
		}
	}
	_ = f.Close()

	cfg := FileStoreConfig{Dir: dir, RetentionDays: 7, MaxFileSizeMB: 100, CacheSize: 5}
	store, err := NewFileStore(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	defer func() { _ = store.Close() }()

	results, err := store.Query(context.Background(), audit.Filter{})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("expected 5 cached entries (cache size), got %d", len(results))
	}
	if results[0].ID != "boot-5" {
		t.Errorf("expected oldest cached entry boot-5, got %q", results[0].ID)
	}
	if results[len(results)-1].ID != "boot-9" {
		t.Errorf("expected newest cached entry boot-9, got %q", results[len(results)-1].ID)
	}
}

func TestFileStore_ConcurrentAppend(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := FileStoreConfig{Dir: dir, RetentionDays: 7, MaxFileSizeMB: 100, CacheSize: 1000}
	store, err := NewFileStore(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}

	ctx := context.Background()
	now := time.Now().UTC()

	var wg sync.WaitGroup
	errCh := make(chan error, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			if _, err := store.Append(ctx, makeAction(now, fmt.Sprintf("concurrent-%d", idx))); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("concurrent Append() error: %v", err)
	}

	if err := store.Flush(ctx); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}
	_ = store.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir error: %v", err)
	}
	totalLines := 0
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "audit-") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			t.Fatalf("ReadFile error: %v", err)
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		if lines[0] != "" {
			totalLines += len(lines)
		}
	}
	if totalLines != 100 {
		t.Errorf("expected 100 total lines, got %d", totalLines)
	}
}

func TestFileStore_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := FileStoreConfig{Dir: dir, RetentionDays: 7, MaxFileSizeMB: 100, CacheSize: 100}
	store, err := NewFileStore(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("double Close() error: %v", err)
	}
}

func TestFileStore_FilePermissions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := FileStoreConfig{Dir: dir, RetentionDays: 7, MaxFileSizeMB: 100, CacheSize: 100}
	store, err := NewFileStore(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}

	ctx := context.Background()
	now := time.Now().UTC()
	if _, err := store.Append(ctx, makeAction(now, "act-perm")); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	_ = store.Close()

	dateStr := now.Format("2006-01-02")
	filename := filepath.Join(dir, fmt.Sprintf("audit-%s.log", dateStr))
	info, err := os.Stat(filename)
	if err != nil {
		t.Fatalf("stat error: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permissions = %o, want 0600", perm)
	}
}

func TestFileStore_ImplementsStoreInterface(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := FileStoreConfig{Dir: dir, RetentionDays: 7, MaxFileSizeMB: 100, CacheSize: 100}
	store, err := NewFileStore(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	defer func() { _ = store.Close() }()

	var _ audit.Store = store
}

func TestFileStore_DefaultConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := FileStoreConfig{Dir: dir}
	store, err := NewFileStore(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	defer func() { _ = store.Close() }()

	if store.actionsWriter.retentionDays != 7 {
		t.Errorf("default retentionDays = %d, want 7", store.actionsWriter.retentionDays)
	}
	if store.actionsWriter.maxFileSize != 100*1024*1024 {
		t.Errorf("default maxFileSize = %d, want %d", store.actionsWriter.maxFileSize, 100*1024*1024)
	}
	if store.cacheSize != 1000 {
		t.Errorf("default cache size = %d, want 1000", store.cacheSize)
	}
}

func TestFileStore_AppendToExistingFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Now().UTC()
	dateStr := now.Format("2006-01-02")
	filename := filepath.Join(dir, fmt.Sprintf("audit-%s.log", dateStr))

	existing := makeAction(now.Add(-time.Hour), "existing-act")
	data, _ := json.Marshal(existing)
	_ = os.WriteFile(filename, append(data, '\n'), 0600)

	cfg := FileStoreConfig{Dir: dir, RetentionDays: 7, MaxFileSizeMB: 100, CacheSize: 100}
	store, err := NewFileStore(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}

	if _, err := store.Append(context.Background(), makeAction(now, "new-act")); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	_ = store.Close()

	fileData, _ := os.ReadFile(filename)
	lines := strings.Split(strings.TrimSpace(string(fileData)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines in file, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "existing-act") {
		t.Error("first line should contain existing-act")
	}
	if !strings.Contains(lines[1], "new-act") {
		t.Error("second line should contain new-act")
	}
}

func TestFileStore_PopulateCacheHandlesMalformedLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Now().UTC()
	dateStr := now.Format("2006-01-02")
	filename := filepath.Join(dir, fmt.Sprintf("audit-%s.log", dateStr))

	f, _ := os.Create(filename)
	data1, _ := json.Marshal(makeAction(now, "valid-1"))
	_, _ = fmt.Fprintf(f, "%s\n", data1)
	_, _ = fmt.Fprintf(f, "this is not json\n")
	data2, _ := json.Marshal(makeAction(now, "valid-2"))
	_, _ = fmt.Fprintf(f, "%s\n", data2)
	_ = f.Close()

	cfg := FileStoreConfig{Dir: dir, RetentionDays: 7, MaxFileSizeMB: 100, CacheSize: 100}
	store, err := NewFileStore(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	defer func() { _ = store.Close() }()

	results, err := store.Query(context.Background(), audit.Filter{})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 valid entries loaded, got %d", len(results))
	}
}
