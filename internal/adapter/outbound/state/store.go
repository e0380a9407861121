package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/runtimegov/governor/internal/domain/governor"
)

// FileStateStore implements governor.StateStore against a state.json file.
// It provides atomic writes (write-tmp-then-rename), automatic backups,
// file locking (flock for cross-process, mutex for in-process), and
// first-boot initialization with an empty key-value map.
type FileStateStore struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewFileStateStore creates a new FileStateStore for the given file path.
func NewFileStateStore(path string, logger *slog.Logger) *FileStateStore {
	return &FileStateStore{path: path, logger: logger}
}

// Get implements governor.StateStore.
func (s *FileStateStore) Get(_ context.Context, key string) (governor.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fs, err := s.loadLocked()
	if err != nil {
		return governor.Entry{}, false, err
	}
	e, ok := fs.Entries[key]
	if !ok {
		return governor.Entry{}, false, nil
	}
	return governor.Entry{Key: key, Value: e.Value, ModifiedAt: e.ModifiedAt, ActorID: e.ActorID}, true, nil
}

// Set implements governor.StateStore, writing the whole file atomically.
func (s *FileStateStore) Set(_ context.Context, key, value, actorID string) (governor.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fs, err := s.loadLocked()
	if err != nil {
		return governor.Entry{}, err
	}

	now := time.Now().UTC()
	fs.Entries[key] = fileEntry{Value: value, ModifiedAt: now, ActorID: actorID}
	fs.UpdatedAt = now

	if err := s.saveLocked(fs); err != nil {
		return governor.Entry{}, err
	}
	return governor.Entry{Key: key, Value: value, ModifiedAt: now, ActorID: actorID}, nil
}

// loadLocked reads and parses state.json, returning an empty fileState if
// the file does not yet exist. Caller must hold s.mu.
func (s *FileStateStore) loadLocked() (*fileState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s.defaultStateLocked(), nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	if runtime.GOOS != "windows" {
		if info, statErr := os.Stat(s.path); statErr == nil {
			mode := info.Mode().Perm()
			if mode&0077 != 0 {
				s.logger.Warn("state.json has too-open permissions, should be 0600",
					"path", s.path, "current_mode", fmt.Sprintf("%04o", mode))
			}
		}
	}

	var fs fileState
	if err := json.Unmarshal(data, &fs); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	if fs.Entries == nil {
		fs.Entries = make(map[string]fileEntry)
	}
	return &fs, nil
}

func (s *FileStateStore) defaultStateLocked() *fileState {
	now := time.Now().UTC()
	return &fileState{
		Version:   "1",
		Entries:   make(map[string]fileEntry),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// saveLocked writes fs to disk atomically. Caller must hold s.mu. The write
// sequence: acquire a cross-process flock on path+".lock", back up the
// existing file to path+".bak", marshal, write to path+".tmp", fsync,
// rename over path, release the flock.
func (s *FileStateStore) saveLocked(fs *fileState) error {
	lockPath := s.path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := flockLock(lockFile.Fd()); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer flockUnlock(lockFile.Fd()) //nolint:errcheck

	if currentData, readErr := os.ReadFile(s.path); readErr == nil {
		bakPath := s.path + ".bak"
		if writeErr := os.WriteFile(bakPath, currentData, 0600); writeErr != nil {
			s.logger.Warn("failed to create backup", "error", writeErr)
		}
	}

	data, err := json.MarshalIndent(fs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	data = append(data, '\n')

	if err := s.writeAtomic(data); err != nil {
		return err
	}

	if err := os.Chmod(s.path, 0600); err != nil {
		s.logger.Warn("failed to set permissions on state file", "error", err)
	}

	s.logger.Debug("state saved", "path", s.path)
	return nil
}

// writeAtomic writes data to a temp file, fsyncs it, and renames it over
// the target path. On any error the temp file is cleaned up.
func (s *FileStateStore) writeAtomic(data []byte) error {
	tmpPath := s.path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp to state: %w", err)
	}
	return nil
}

// Exists returns true if the state file exists on disk.
func (s *FileStateStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Path returns the configured file path.
func (s *FileStateStore) Path() string {
	return s.path
}

var _ governor.StateStore = (*FileStateStore)(nil)
