package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

const (
	defaultMaxLogMB   = 20
	defaultMaxBackups = 3
)

// RotatingWriter appends to a log file and rotates it before a write would
// push it past a size limit. Backups keep numbered suffixes: ionia.log.1 is
// the newest, higher numbers are older, anything beyond maxBackups is
// removed. Safe for concurrent use.
type RotatingWriter struct {
	mu         sync.Mutex
	f          *os.File
	path       string
	limit      int64
	maxBackups int
	size       int64
	rotations  int64
}

// NewRotatingWriter opens path for appending, creating parent directories as
// needed. Zero or negative arguments select the defaults: 20MB, 3 backups.
func NewRotatingWriter(path string, maxSizeMB, maxBackups int) (*RotatingWriter, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = defaultMaxLogMB
	}
	return newRotatingWriter(path, int64(maxSizeMB)*1024*1024, maxBackups)
}

func newRotatingWriter(path string, limit int64, maxBackups int) (*RotatingWriter, error) {
	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	rw := &RotatingWriter{
		path:       path,
		limit:      limit,
		maxBackups: maxBackups,
	}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

// Write implements io.Writer.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.size+int64(len(p)) > rw.limit {
		if err := rw.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log: %w", err)
		}
	}
	n, err := rw.f.Write(p)
	rw.size += int64(n)
	return n, err
}

// Reopen closes and reopens the current file. Wired to SIGHUP so an external
// tool can move the file aside and have subsequent writes land in a fresh one.
func (rw *RotatingWriter) Reopen() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.f != nil {
		rw.f.Close()
	}
	return rw.open()
}

// Close closes the underlying file.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.f == nil {
		return nil
	}
	err := rw.f.Close()
	rw.f = nil
	return err
}

// TeeWriter returns an io.Writer that duplicates writes to both destinations.
func TeeWriter(w1, w2 io.Writer) io.Writer {
	return io.MultiWriter(w1, w2)
}

func (rw *RotatingWriter) open() error {
	f, err := os.OpenFile(rw.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	rw.f = f
	rw.size = info.Size()
	return nil
}

// rotate shifts path → path.1 → path.2 and so on, dropping the oldest backup.
// Shift failures for individual backups are best-effort; losing an old backup
// must not take the live log down.
func (rw *RotatingWriter) rotate() error {
	if rw.f != nil {
		rw.f.Close()
		rw.f = nil
	}

	os.Remove(rw.backupPath(rw.maxBackups))
	for i := rw.maxBackups - 1; i >= 1; i-- {
		os.Rename(rw.backupPath(i), rw.backupPath(i+1))
	}
	if err := os.Rename(rw.path, rw.backupPath(1)); err != nil {
		return err
	}

	rw.rotations++
	return rw.open()
}

func (rw *RotatingWriter) backupPath(n int) string {
	return fmt.Sprintf("%s.%d", rw.path, n)
}
