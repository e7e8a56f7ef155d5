package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/Ahmdfdhilah/dashgate/internal/domain/token"
)

// ErrCorrupt is returned by Get when the credentials file cannot be parsed.
var ErrCorrupt = errors.New("credentials file is corrupt")

// FileTokenStorage implements token.Storage on a JSON file.
// Writes are atomic (write-tmp-then-rename) and serialized with a mutex
// in-process and flock across processes, so the CLI and a running server
// can share one file.
type FileTokenStorage struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

var _ token.Storage = (*FileTokenStorage)(nil)

// NewFileTokenStorage creates a FileTokenStorage for the given file path.
func NewFileTokenStorage(path string, logger *slog.Logger) *FileTokenStorage {
	return &FileTokenStorage{
		path:   path,
		logger: logger,
	}
}

// Get implements token.Storage. A missing file reads as empty.
func (s *FileTokenStorage) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := f.Entries[key]
	return v, ok, nil
}

// Set implements token.Storage.
func (s *FileTokenStorage) Set(key, value string) error {
	return s.update(func(f *CredentialsFile) bool {
		if old, ok := f.Entries[key]; ok && old == value {
			return false
		}
		f.Entries[key] = value
		return true
	})
}

// Delete implements token.Storage. Deleting from a missing file or a
// missing key writes nothing.
func (s *FileTokenStorage) Delete(key string) error {
	if !s.Exists() {
		return nil
	}
	return s.update(func(f *CredentialsFile) bool {
		if _, ok := f.Entries[key]; !ok {
			return false
		}
		delete(f.Entries, key)
		return true
	})
}

// Exists returns true if the credentials file exists on disk.
func (s *FileTokenStorage) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Path returns the configured file path.
func (s *FileTokenStorage) Path() string {
	return s.path
}

// load reads and parses the file. Caller must hold s.mu.
// Warns if the file has permissions more open than 0600.
func (s *FileTokenStorage) load() (*CredentialsFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return newCredentialsFile(), nil
		}
		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	// Unix permission bits are not meaningful on Windows.
	if runtime.GOOS != "windows" {
		if info, statErr := os.Stat(s.path); statErr == nil {
			mode := info.Mode().Perm()
			if mode&0077 != 0 {
				s.logger.Warn("credentials file has too-open permissions, should be 0600",
					"path", s.path, "current_mode", fmt.Sprintf("%04o", mode))
			}
		}
	}

	f := newCredentialsFile()
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if f.Entries == nil {
		f.Entries = make(map[string]string)
	}
	return f, nil
}

// update applies fn to the current file contents and writes the result
// when fn reports a change or the file was corrupt.
//
// The write sequence is:
//  1. Acquire in-process mutex
//  2. Acquire flock on path+".lock"
//  3. Read the current file; a corrupt file is replaced
//  4. Apply fn; stop here if nothing changed, else marshal as indented JSON
//  5. Write to path+".tmp" with 0600 permissions, fsync, rename
//  6. Release flock and mutex
func (s *FileTokenStorage) update(fn func(*CredentialsFile) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}

	lockFile, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := flockLock(lockFile.Fd()); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer flockUnlock(lockFile.Fd()) //nolint:errcheck

	f, err := s.load()
	corrupt := false
	if err != nil {
		if !errors.Is(err, ErrCorrupt) {
			return err
		}
		s.logger.Warn("replacing corrupt credentials file", "path", s.path, "error", err)
		f = newCredentialsFile()
		corrupt = true
	}

	if !fn(f) && !corrupt {
		return nil
	}
	f.Version = currentVersion
	f.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	data = append(data, '\n')

	if err := s.writeAtomic(data); err != nil {
		return err
	}

	if err := os.Chmod(s.path, 0600); err != nil {
		s.logger.Warn("failed to set permissions on credentials file", "error", err)
	}
	return nil
}

// writeAtomic writes data to a temp file, fsyncs it, and renames it
// over the target path. On any error the temp file is cleaned up.
func (s *FileTokenStorage) writeAtomic(data []byte) error {
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
		return fmt.Errorf("rename temp to credentials: %w", err)
	}
	return nil
}
