// Package sentinel stores per-target state as marker files inside each
// target directory. The files are the public contract: operators and other
// tools inspect and remove them by hand.
package sentinel

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hochfrequenz/twmd-batch/internal/domain"
)

// ErrNotFound is returned by Age when the flag file does not exist
var ErrNotFound = fmt.Errorf("sentinel not found: %w", fs.ErrNotExist)

// Store provides marker-file backed flags rooted at a working directory
type Store struct {
	root string
	now  func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the clock used for age calculations
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a Store rooted at dir
func New(dir string, opts ...Option) *Store {
	s := &Store{root: dir, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the working directory the store is rooted at
func (s *Store) Root() string {
	return s.root
}

// Path returns the path of a flag or artifact file for a target
func (s *Store) Path(target, name string) string {
	return filepath.Join(s.root, target, name)
}

// Exists reports whether the flag is present as a regular file
func (s *Store) Exists(target string, flag domain.Flag) (bool, error) {
	info, err := os.Stat(s.Path(target, string(flag)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s/%s: %w", target, flag, err)
	}
	return info.Mode().IsRegular(), nil
}

// Age returns how long ago the flag was last written
func (s *Store) Age(target string, flag domain.Flag) (time.Duration, error) {
	info, err := os.Stat(s.Path(target, string(flag)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("stat %s/%s: %w", target, flag, err)
	}
	if !info.Mode().IsRegular() {
		return 0, ErrNotFound
	}
	return s.now().Sub(info.ModTime()), nil
}

// Set creates the flag. An existing flag is kept and its mtime refreshed,
// which re-arms time based flags.
func (s *Store) Set(target string, flag domain.Flag) error {
	path := s.Path(target, string(flag))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("setting %s for %s: %w", flag, target, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("setting %s for %s: %w", flag, target, err)
	}
	now := s.now()
	if err := os.Chtimes(path, now, now); err != nil {
		return fmt.Errorf("touching %s for %s: %w", flag, target, err)
	}
	return nil
}

// Clear removes the flag. A missing flag is not an error.
func (s *Store) Clear(target string, flag domain.Flag) error {
	err := os.Remove(s.Path(target, string(flag)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clearing %s for %s: %w", flag, target, err)
	}
	return nil
}

// WriteLines overwrites an artifact with one line per entry
func (s *Store) WriteLines(target string, artifact domain.Artifact, lines []string) error {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(s.Path(target, string(artifact)), []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("writing %s for %s: %w", artifact, target, err)
	}
	return nil
}

// ReadLines returns the lines of an artifact, or nil if it does not exist
func (s *Store) ReadLines(target string, artifact domain.Artifact) ([]string, error) {
	data, err := os.ReadFile(s.Path(target, string(artifact)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}
