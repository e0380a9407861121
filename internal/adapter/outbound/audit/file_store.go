// Package audit provides a file-based implementation of audit.Store with
// JSON Lines persistence, daily rotation, size caps, retention cleanup, and
// a bounded in-memory cache for indexed Get/Query access. A SQLite-backed
// alternative lives in adapter/outbound/sqlite for deployments that need
// durable, unbounded session-history queries.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/runtimegov/governor/internal/domain/action"
	"github.com/runtimegov/governor/internal/domain/audit"
	"github.com/runtimegov/governor/pkg/attestation"
)

// fileInfo holds parsed information about a rotated log file.
type fileInfo struct {
	name   string
	date   string
	suffix int
}

// filenamePattern matches rotated log filenames: <prefix>-YYYY-MM-DD.log or <prefix>-YYYY-MM-DD-N.log.
func filenamePattern(prefix string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.log$`)
}

func parseFilename(pattern *regexp.Regexp, name string) (fileInfo, bool) {
	matches := pattern.FindStringSubmatch(name)
	if matches == nil {
		return fileInfo{}, false
	}
	info := fileInfo{name: name, date: matches[1]}
	if matches[2] != "" {
		n, err := strconv.Atoi(matches[2])
		if err != nil {
			return fileInfo{}, false
		}
		info.suffix = n
	}
	return info, true
}

func sortFileInfos(files []fileInfo) {
	sort.Slice(files, func(i, j int) bool {
		if files[i].date != files[j].date {
			return files[i].date < files[j].date
		}
		return files[i].suffix < files[j].suffix
	})
}

// FileStoreConfig holds configuration for the file-based audit store.
type FileStoreConfig struct {
	// Dir is the directory where audit and receipt files are stored.
	Dir string
	// RetentionDays is the number of days to keep rotated files (default 7).
	RetentionDays int
	// MaxFileSizeMB is the maximum file size in megabytes before rotation (default 100).
	MaxFileSizeMB int
	// CacheSize is the number of recent actions/receipts kept in memory for Get/Query (default 1000).
	CacheSize int
}

// rotatingWriter manages one append-only, date- and size-rotated JSON Lines
// file stream. Actions and receipts each get their own instance so receipt
// volume never forces an action-file rotation or vice versa.
type rotatingWriter struct {
	dir           string
	prefix        string
	pattern       *regexp.Regexp
	maxFileSize   int64
	retentionDays int
	logger        *slog.Logger

	file   *os.File
	date   string
	size   int64
	suffix int
}

func newRotatingWriter(dir, prefix string, maxFileSize int64, retentionDays int, logger *slog.Logger) (*rotatingWriter, error) {
	w := &rotatingWriter{
		dir:           dir,
		prefix:        prefix,
		pattern:       filenamePattern(prefix),
		maxFileSize:   maxFileSize,
		retentionDays: retentionDays,
		logger:        logger,
	}
	today := time.Now().UTC().Format("2006-01-02")
	if err := w.openCurrent(today); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *rotatingWriter) buildFilename(dateStr string, suffix int) string {
	if suffix == 0 {
		return fmt.Sprintf("%s-%s.log", w.prefix, dateStr)
	}
	return fmt.Sprintf("%s-%s-%d.log", w.prefix, dateStr, suffix)
}

func (w *rotatingWriter) openFile(dateStr string, suffix int) (*os.File, int64, error) {
	filename := w.buildFilename(dateStr, suffix)
	path := filepath.Join(w.dir, filename)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, 0, fmt.Errorf("open file %s: %w", filename, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat file %s: %w", filename, err)
	}
	return f, info.Size(), nil
}

func (w *rotatingWriter) findHighestSuffix(dateStr string) int {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0
	}
	highest := 0
	for _, e := range entries {
		info, ok := parseFilename(w.pattern, e.Name())
		if !ok || info.date != dateStr {
			continue
		}
		if info.suffix > highest {
			highest = info.suffix
		}
	}
	return highest
}

func (w *rotatingWriter) openCurrent(dateStr string) error {
	suffix := w.findHighestSuffix(dateStr)
	f, size, err := w.openFile(dateStr, suffix)
	if err != nil {
		return err
	}
	w.file, w.date, w.size, w.suffix = f, dateStr, size, suffix
	return nil
}

func (w *rotatingWriter) rotateDate(dateStr string) error {
	w.closeCurrent()
	w.suffix, w.size, w.date = 0, 0, dateStr
	f, size, err := w.openFile(dateStr, 0)
	if err != nil {
		return err
	}
	w.file, w.size = f, size
	return nil
}

func (w *rotatingWriter) rotateSize() error {
	w.closeCurrent()
	w.suffix++
	w.size = 0
	f, size, err := w.openFile(w.date, w.suffix)
	if err != nil {
		return err
	}
	w.file, w.size = f, size
	return nil
}

func (w *rotatingWriter) closeCurrent() {
	if w.file != nil {
		_ = w.file.Sync()
		_ = w.file.Close()
		w.file = nil
	}
}

// writeLine appends one JSON-marshaled record as a line, rotating first if needed.
func (w *rotatingWriter) writeLine(ts time.Time, v interface{}) error {
	dateStr := ts.UTC().Format("2006-01-02")
	if dateStr != w.date {
		if err := w.rotateDate(dateStr); err != nil {
			return fmt.Errorf("date rotation: %w", err)
		}
	}
	if w.size >= w.maxFileSize {
		if err := w.rotateSize(); err != nil {
			return fmt.Errorf("size rotation: %w", err)
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	line := append(data, '\n')
	n, err := w.file.Write(line)
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	w.size += int64(n)
	return nil
}

func (w *rotatingWriter) flush() error {
	if w.file != nil {
		return w.file.Sync()
	}
	return nil
}

func (w *rotatingWriter) close() error {
	if w.file == nil {
		return nil
	}
	_ = w.file.Sync()
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *rotatingWriter) runCleanup() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Error("audit cleanup: failed to read directory", "dir", w.dir, "error", err)
		return
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -w.retentionDays)
	deleted := 0
	for _, e := range entries {
		info, ok := parseFilename(w.pattern, e.Name())
		if !ok {
			continue
		}
		fileDate, err := time.Parse("2006-01-02", info.date)
		if err != nil {
			continue
		}
		if fileDate.Before(cutoff) {
			if err := os.Remove(filepath.Join(w.dir, e.Name())); err != nil {
				w.logger.Error("audit cleanup: failed to delete file", "file", e.Name(), "error", err)
			} else {
				deleted++
			}
		}
	}
	if deleted > 0 {
		w.logger.Info("audit cleanup completed", "prefix", w.prefix, "deleted", deleted)
	}
}

// findMostRecentFile returns the filename of the most recent non-empty file, or "".
func (w *rotatingWriter) findMostRecentFile() string {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return ""
	}
	var files []fileInfo
	for _, e := range entries {
		info, ok := parseFilename(w.pattern, e.Name())
		if !ok {
			continue
		}
		finfo, err := e.Info()
		if err != nil || finfo.Size() == 0 {
			continue
		}
		files = append(files, info)
	}
	if len(files) == 0 {
		return ""
	}
	sortFileInfos(files)
	return files[len(files)-1].name
}

// FileStore implements audit.Store against JSONL files on disk: actions and
// receipts rotate independently, with a bounded in-memory cache serving
// Get/Query/ReceiptFor (spec §1 non-goal: single-node store assumed).
type FileStore struct {
	mu sync.Mutex

	actionsWriter  *rotatingWriter
	receiptsWriter *rotatingWriter

	cacheSize int
	actions   []action.Action // ring buffer, oldest first
	byID      map[string]int  // action id -> index into actions
	receipts  map[string]attestation.Receipt

	logger *slog.Logger
	cancel context.CancelFunc
	closed bool
}

// NewFileStore creates a new file-based audit store. It creates the
// directory if needed, opens today's action and receipt logs, runs
// retention cleanup, populates the cache from the most recent files, and
// starts the hourly cleanup goroutine.
func NewFileStore(cfg FileStoreConfig, logger *slog.Logger) (*FileStore, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 100
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1000
	}

	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	maxSize := int64(cfg.MaxFileSizeMB) * 1024 * 1024

	actionsWriter, err := newRotatingWriter(cfg.Dir, "audit", maxSize, cfg.RetentionDays, logger)
	if err != nil {
		return nil, fmt.Errorf("open action log: %w", err)
	}
	receiptsWriter, err := newRotatingWriter(cfg.Dir, "receipt", maxSize, cfg.RetentionDays, logger)
	if err != nil {
		_ = actionsWriter.close()
		return nil, fmt.Errorf("open receipt log: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &FileStore{
		actionsWriter:  actionsWriter,
		receiptsWriter: receiptsWriter,
		cacheSize:      cfg.CacheSize,
		actions:        make([]action.Action, 0, cfg.CacheSize),
		byID:           make(map[string]int),
		receipts:       make(map[string]attestation.Receipt),
		logger:         logger,
		cancel:         cancel,
	}

	s.actionsWriter.runCleanup()
	s.receiptsWriter.runCleanup()
	s.populateActionCache()
	s.populateReceiptCache()

	go s.startCleanupLoop(ctx)

	return s, nil
}

// Append assigns a monotonic id (if a.ID is empty), persists a to the
// rotated action log, and indexes it in the bounded cache.
func (s *FileStore) Append(_ context.Context, a action.Action) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = newRecordID()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}

	if err := s.actionsWriter.writeLine(a.Timestamp, a); err != nil {
		return "", fmt.Errorf("%w: %v", audit.ErrPersistenceFailed, err)
	}
	s.addActionLocked(a)
	return a.ID, nil
}

func (s *FileStore) addActionLocked(a action.Action) {
	if len(s.actions) >= s.cacheSize {
		s.actions = append(s.actions[1:], a)
		s.reindexLocked()
	} else {
		s.actions = append(s.actions, a)
		s.byID[a.ID] = len(s.actions) - 1
	}
}

func (s *FileStore) reindexLocked() {
	s.byID = make(map[string]int, len(s.actions))
	for i, a := range s.actions {
		s.byID[a.ID] = i
	}
}

// Get returns the persisted Action for id, if still within the in-memory
// cache window.
func (s *FileStore) Get(_ context.Context, id string) (action.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[id]
	if !ok {
		return action.Action{}, audit.ErrNotFound
	}
	return s.actions[idx], nil
}

// Query returns cached actions matching f, ordered oldest-first.
func (s *FileStore) Query(_ context.Context, f audit.Filter) ([]action.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []action.Action
	for _, a := range s.actions {
		if f.AgentID != "" && a.AgentID != f.AgentID {
			continue
		}
		if f.SessionID != "" && a.SessionID != f.SessionID {
			continue
		}
		if !f.Since.IsZero() && a.Timestamp.Before(f.Since) {
			continue
		}
		out = append(out, a)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

// AppendReceipt persists r to the rotated receipt log and caches it,
// assigning a monotonic id if unset. Receipt failures never roll back the
// corresponding Action write (spec §4.9).
func (s *FileStore) AppendReceipt(_ context.Context, r attestation.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == 0 {
		r.ID = time.Now().UTC().UnixNano()
	}
	if err := s.receiptsWriter.writeLine(time.Now().UTC(), r); err != nil {
		s.logger.Error("failed to persist receipt", "action_id", r.ActionID, "error", err)
		return fmt.Errorf("persist receipt: %w", err)
	}
	s.receipts[r.ActionID] = r
	if len(s.receipts) > s.cacheSize {
		s.evictOldestReceiptLocked()
	}
	return nil
}

// evictOldestReceiptLocked drops an arbitrary entry when the unordered
// receipt cache grows past cacheSize; the rotated log remains the durable
// source of truth regardless of cache eviction.
func (s *FileStore) evictOldestReceiptLocked() {
	for k := range s.receipts {
		delete(s.receipts, k)
		return
	}
}

// ReceiptFor returns the cached receipt linked to actionID, if any.
func (s *FileStore) ReceiptFor(_ context.Context, actionID string) (attestation.Receipt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[actionID]
	return r, ok, nil
}

// Flush forces pending records to disk.
func (s *FileStore) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.actionsWriter.flush(); err != nil {
		return err
	}
	return s.receiptsWriter.flush()
}

// Close stops the cleanup goroutine and closes both log files.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()

	errA := s.actionsWriter.close()
	errR := s.receiptsWriter.close()
	if errA != nil {
		return errA
	}
	return errR
}

func (s *FileStore) startCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.actionsWriter.runCleanup()
			s.receiptsWriter.runCleanup()
		}
	}
}

func (s *FileStore) populateActionCache() {
	name := s.actionsWriter.findMostRecentFile()
	if name == "" {
		return
	}
	path := filepath.Join(s.actionsWriter.dir, name)
	f, err := os.Open(path)
	if err != nil {
		s.logger.Error("audit cache: failed to open action file", "file", name, "error", err)
		return
	}
	defer func() { _ = f.Close() }()

	var records []action.Action
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var a action.Action
		if err := json.Unmarshal([]byte(line), &a); err != nil {
			s.logger.Warn("audit cache: skipping malformed action line", "file", name, "error", err)
			continue
		}
		records = append(records, a)
	}
	if err := scanner.Err(); err != nil {
		s.logger.Error("audit cache: error reading action file", "file", name, "error", err)
	}

	start := 0
	if len(records) > s.cacheSize {
		start = len(records) - s.cacheSize
	}
	for _, a := range records[start:] {
		s.addActionLocked(a)
	}
}

func (s *FileStore) populateReceiptCache() {
	name := s.receiptsWriter.findMostRecentFile()
	if name == "" {
		return
	}
	path := filepath.Join(s.receiptsWriter.dir, name)
	f, err := os.Open(path)
	if err != nil {
		s.logger.Error("audit cache: failed to open receipt file", "file", name, "error", err)
		return
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var r attestation.Receipt
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			s.logger.Warn("audit cache: skipping malformed receipt line", "file", name, "error", err)
			continue
		}
		s.receipts[r.ActionID] = r
	}
	if err := scanner.Err(); err != nil {
		s.logger.Error("audit cache: error reading receipt file", "file", name, "error", err)
	}
}

// newRecordID generates a unique action id for an Action appended without
// one; the Pipeline Orchestrator leaves ID empty and uses the id Append
// returns.
func newRecordID() string {
	return fmt.Sprintf("act-%d", time.Now().UTC().UnixNano())
}

var _ audit.Store = (*FileStore)(nil)
