// Package file implements baseline.Store on a plain directory: one file per
// timer name, the value serialized as a bare decimal millisecond string, and
// the file mtime doubling as the record's last-updated timestamp.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/aussiebroadwan/lockstep/internal/baseline"
)

const (
	dirPerm  = 0o750
	filePerm = 0o600
)

// Store persists baselines under a single namespace directory. Writes are
// serialized by a process-wide mutex and land via temp-file + rename, so
// concurrent readers never observe a partially written value.
type Store struct {
	dir string
	mu  sync.Mutex
}

var _ baseline.Store = (*Store)(nil)

// NewStore returns a Store rooted at dir. The directory is not created until
// EnsureNamespace is called.
func NewStore(dir string) *Store {
	return &Store{dir: filepath.Clean(dir)}
}

func (s *Store) Read(_ context.Context, name string) (baseline.Record, error) {
	path := s.path(name)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return baseline.Record{}, baseline.ErrNotFound
		}
		return baseline.Record{}, fmt.Errorf("file: stat %s: %w", path, err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return baseline.Record{}, baseline.ErrNotFound
		}
		return baseline.Record{}, fmt.Errorf("file: read %s: %w", path, err)
	}

	// An unparsable payload reads as 0 so the next successful login
	// regenerates it, rather than wedging the normalizer.
	millis, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		millis = 0
	}

	return baseline.Record{Millis: millis, UpdatedAt: info.ModTime()}, nil
}

func (s *Store) Write(_ context.Context, name string, millis float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, dirPerm); err != nil {
		return fmt.Errorf("file: create namespace %s: %w", s.dir, err)
	}

	payload := strconv.FormatFloat(millis, 'f', -1, 64)

	tmp, err := os.CreateTemp(s.dir, "."+fileName(name)+".tmp-*")
	if err != nil {
		return fmt.Errorf("file: create temp in %s: %w", s.dir, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("file: write temp %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("file: close temp %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, filePerm); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("file: chmod temp %s: %w", tmpPath, err)
	}

	// Rename is atomic on POSIX filesystems, so a concurrent Read sees
	// either the previous record or this one in full.
	if err := os.Rename(tmpPath, s.path(name)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("file: rename %s: %w", tmpPath, err)
	}

	return nil
}

func (s *Store) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(name)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return baseline.ErrNotFound
		}
		return fmt.Errorf("file: delete %s: %w", path, err)
	}
	return nil
}

func (s *Store) EnsureNamespace(_ context.Context) error {
	if err := os.MkdirAll(s.dir, dirPerm); err != nil {
		return fmt.Errorf("file: create namespace %s: %w", s.dir, err)
	}
	return nil
}

func (s *Store) DestroyNamespace(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("file: destroy namespace %s: %w", s.dir, err)
	}
	return nil
}

func (s *Store) Close() error { return nil }

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, fileName(name))
}

// fileName maps a timer name onto a safe flat filename. Anything outside
// [a-zA-Z0-9._-] is replaced so names can never traverse out of the
// namespace directory.
func fileName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	switch out := b.String(); out {
	case "", ".", "..":
		return "_"
	default:
		return out
	}
}
