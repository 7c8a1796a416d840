// Package spool keeps an on-disk copy of an in-progress recording so the
// monolithic fallback upload and the local save never need the whole artifact
// in memory.
//
// Each spool file is guarded by an advisory flock so stale-spool cleanup in a
// long-running server never removes a file another session is still writing.
package spool

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

const (
	fileExt = ".spool"
	lockExt = ".lock"
)

// ErrLocked is returned when another process holds the spool for a session.
var ErrLocked = errors.New("spool locked by another session")

// Spool is an append-only file holding every byte captured for one session.
type Spool struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	lock   *flock.Flock
	size   int64
	closed bool
}

// Open creates (or truncates) the spool file for sessionID inside dir and
// takes its lock.
func Open(dir, sessionID string) (*Spool, error) {
	id := sanitize(sessionID)
	if id == "" {
		return nil, fmt.Errorf("spool: empty session id")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("spool: create dir: %w", err)
	}
	path := filepath.Join(dir, id+fileExt)
	lock := flock.New(path + lockExt)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("spool: acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("spool: open: %w", err)
	}
	return &Spool{path: path, file: file, lock: lock}, nil
}

// Write appends p to the spool.
func (s *Spool) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, os.ErrClosed
	}
	n, err := s.file.Write(p)
	s.size += int64(n)
	if err != nil {
		return n, fmt.Errorf("spool: write: %w", err)
	}
	return n, nil
}

// Size returns the number of bytes written so far.
func (s *Spool) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Path returns the spool file location.
func (s *Spool) Path() string { return s.path }

// Reader opens an independent read handle positioned at the start of the
// spool. Callers must close it.
func (s *Spool) Reader() (io.ReadCloser, error) {
	if err := s.sync(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("spool: open reader: %w", err)
	}
	return f, nil
}

// Export copies the spool into dir as name and verifies the copy. It returns
// the path of the exported file.
func (s *Spool) Export(dir, name string) (string, error) {
	if err := s.sync(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("spool: create export dir: %w", err)
	}
	name = sanitize(filepath.Base(name))
	if name == "" {
		name = filepath.Base(strings.TrimSuffix(s.path, fileExt))
	}
	dst := uniquePath(filepath.Join(dir, name))
	if err := copyVerified(s.path, dst); err != nil {
		return "", fmt.Errorf("spool: export: %w", err)
	}
	return dst, nil
}

// Close releases the file and lock but keeps the data on disk.
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

// Remove closes the spool and deletes its file and lock.
func (s *Spool) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	closeErr := s.closeLocked()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("spool: remove: %w", err)
	}
	_ = os.Remove(s.path + lockExt)
	return closeErr
}

func (s *Spool) closeLocked() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.file.Close()
	if unlockErr := s.lock.Unlock(); err == nil {
		err = unlockErr
	}
	return err
}

func (s *Spool) sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("spool: sync: %w", err)
	}
	return nil
}

func sanitize(name string) string {
	name = strings.TrimSpace(name)
	return strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == 0:
			return '_'
		default:
			return r
		}
	}, name)
}

func uniquePath(path string) string {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d%s", base, i, ext)
		if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
	}
}
