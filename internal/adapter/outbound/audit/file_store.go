// Package audit writes the session audit trail to JSON Lines files with
// daily rotation, a size cap, retention cleanup and an in-memory cache of
// recent records.
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

	"github.com/Ahmdfdhilah/dashgate/internal/domain/audit"
)

const dateLayout = "2006-01-02"

// sessionFilePattern matches session-YYYY-MM-DD.jsonl and session-YYYY-MM-DD-N.jsonl.
var sessionFilePattern = regexp.MustCompile(`^session-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.jsonl$`)

type logFile struct {
	name   string
	date   string
	suffix int
}

func parseLogFilename(name string) (logFile, bool) {
	m := sessionFilePattern.FindStringSubmatch(name)
	if m == nil {
		return logFile{}, false
	}
	f := logFile{name: name, date: m[1]}
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return logFile{}, false
		}
		f.suffix = n
	}
	return f, true
}

func logFilename(date string, suffix int) string {
	if suffix == 0 {
		return fmt.Sprintf("session-%s.jsonl", date)
	}
	return fmt.Sprintf("session-%s-%d.jsonl", date, suffix)
}

// Config configures a FileStore.
type Config struct {
	// Dir holds the log files. Created with 0700 if missing.
	Dir string
	// RetentionDays is how long files are kept (default 30).
	RetentionDays int
	// MaxFileSizeMB caps one file before it rolls over (default 10).
	MaxFileSizeMB int
	// CacheSize is how many recent records are kept in memory (default 200).
	CacheSize int
}

// FileStore implements audit.Store on local files.
type FileStore struct {
	dir           string
	maxFileSize   int64
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time

	mu            sync.Mutex
	current       *os.File
	currentDate   string
	currentSize   int64
	currentSuffix int
	closed        bool

	cache  *recentCache
	cancel context.CancelFunc
	done   chan struct{}
}

var (
	_ audit.Store        = (*FileStore)(nil)
	_ audit.RecentReader = (*FileStore)(nil)
)

// NewFileStore opens today's log, removes expired files, loads the most
// recent file into the cache and starts hourly retention cleanup.
func NewFileStore(cfg Config, logger *slog.Logger) (*FileStore, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 10
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 200
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &FileStore{
		dir:           cfg.Dir,
		maxFileSize:   int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		retentionDays: cfg.RetentionDays,
		logger:        logger,
		now:           time.Now,
		cache:         newRecentCache(cfg.CacheSize),
		cancel:        cancel,
		done:          make(chan struct{}),
	}

	today := s.now().UTC().Format(dateLayout)
	if err := s.openLocked(today, s.highestSuffix(today)); err != nil {
		cancel()
		return nil, fmt.Errorf("open audit file: %w", err)
	}

	s.cleanup()
	s.loadCache()
	go s.cleanupLoop(ctx)

	return s, nil
}

// Append writes each record as one JSON line, rolling over to a new file
// on a date change or when the current file reaches the size cap.
func (s *FileStore) Append(_ context.Context, records ...audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("audit store closed")
	}

	for _, rec := range records {
		date := rec.Timestamp.UTC().Format(dateLayout)
		switch {
		case date != s.currentDate:
			if err := s.rollLocked(date, 0); err != nil {
				return fmt.Errorf("date rotation: %w", err)
			}
		case s.currentSize >= s.maxFileSize:
			if err := s.rollLocked(s.currentDate, s.currentSuffix+1); err != nil {
				return fmt.Errorf("size rotation: %w", err)
			}
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal audit record: %w", err)
		}
		n, err := s.current.Write(append(data, '\n'))
		if err != nil {
			return fmt.Errorf("write audit record: %w", err)
		}
		s.currentSize += int64(n)
		s.cache.add(rec)
	}
	return nil
}

// Flush syncs the current file.
func (s *FileStore) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return s.current.Sync()
}

// Close stops retention cleanup and closes the current file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()

	var err error
	if s.current != nil {
		_ = s.current.Sync()
		err = s.current.Close()
		s.current = nil
	}
	s.mu.Unlock()

	<-s.done
	return err
}

// Recent returns up to n cached records, newest first.
func (s *FileStore) Recent(n int) []audit.Record {
	return s.cache.recent(n)
}

func (s *FileStore) highestSuffix(date string) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}
	highest := 0
	for _, e := range entries {
		f, ok := parseLogFilename(e.Name())
		if ok && f.date == date && f.suffix > highest {
			highest = f.suffix
		}
	}
	return highest
}

// openLocked opens (or appends to) the file for date and suffix.
func (s *FileStore) openLocked(date string, suffix int) error {
	name := logFilename(date, suffix)
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat %s: %w", name, err)
	}

	s.current = f
	s.currentDate = date
	s.currentSuffix = suffix
	s.currentSize = info.Size()
	return nil
}

func (s *FileStore) rollLocked(date string, suffix int) error {
	if s.current != nil {
		_ = s.current.Sync()
		_ = s.current.Close()
		s.current = nil
	}
	return s.openLocked(date, suffix)
}

// cleanup deletes files dated before the retention window. The file being
// written is never removed.
func (s *FileStore) cleanup() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error("audit cleanup: failed to read directory", "dir", s.dir, "error", err)
		return
	}

	s.mu.Lock()
	currentDate := s.currentDate
	s.mu.Unlock()

	cutoff := s.now().UTC().AddDate(0, 0, -s.retentionDays)
	deleted := 0
	for _, e := range entries {
		f, ok := parseLogFilename(e.Name())
		if !ok || f.date == currentDate {
			continue
		}
		day, err := time.Parse(dateLayout, f.date)
		if err != nil || !day.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, f.name)); err != nil {
			s.logger.Error("audit cleanup: failed to delete file", "file", f.name, "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		s.logger.Info("audit cleanup completed", "deleted", deleted)
	}
}

func (s *FileStore) cleanupLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// loadCache fills the cache from the newest non-empty file.
func (s *FileStore) loadCache() {
	name := s.newestFile()
	if name == "" {
		return
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		s.logger.Error("audit cache: failed to open file", "file", name, "error", err)
		return
	}
	defer func() { _ = f.Close() }()

	var records []audit.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec audit.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			s.logger.Warn("audit cache: skipping malformed line", "file", name, "error", err)
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		s.logger.Error("audit cache: error reading file", "file", name, "error", err)
	}

	if len(records) > s.cache.size {
		records = records[len(records)-s.cache.size:]
	}
	for _, rec := range records {
		s.cache.add(rec)
	}
}

func (s *FileStore) newestFile() string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return ""
	}
	var files []logFile
	for _, e := range entries {
		f, ok := parseLogFilename(e.Name())
		if !ok {
			continue
		}
		if info, err := e.Info(); err != nil || info.Size() == 0 {
			continue
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		return ""
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].date != files[j].date {
			return files[i].date < files[j].date
		}
		return files[i].suffix < files[j].suffix
	})
	return files[len(files)-1].name
}

// recentCache is a ring buffer of the latest records.
type recentCache struct {
	mu      sync.RWMutex
	entries []audit.Record
	size    int
	head    int
	count   int
}

func newRecentCache(size int) *recentCache {
	return &recentCache{entries: make([]audit.Record, size), size: size}
}

func (c *recentCache) add(rec audit.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.head] = rec
	c.head = (c.head + 1) % c.size
	if c.count < c.size {
		c.count++
	}
}

// recent returns up to n entries, newest first.
func (c *recentCache) recent(n int) []audit.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n <= 0 || c.count == 0 {
		return nil
	}
	if n > c.count {
		n = c.count
	}
	out := make([]audit.Record, n)
	for i := range out {
		// head is the next write position.
		out[i] = c.entries[(c.head-1-i+c.size)%c.size]
	}
	return out
}
