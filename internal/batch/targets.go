// Package batch walks the target directories of a work dir and runs the
// downloader against each of them in turn.
package batch

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hochfrequenz/twmd-batch/internal/domain"
)

// ListTargets returns the immediate subdirectories of dir that are not
// hidden and not named in skip. The result is sorted by name, then shuffled
// when shuffle is set.
func ListTargets(dir string, skip []string, shuffle bool) ([]domain.Target, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	var targets []domain.Target
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || slices.Contains(skip, name) {
			continue
		}
		if !isDir(abs, e) {
			continue
		}
		targets = append(targets, domain.Target{Name: name, Dir: filepath.Join(abs, name)})
	}

	slices.SortFunc(targets, func(a, b domain.Target) int { return strings.Compare(a.Name, b.Name) })
	if shuffle {
		rand.Shuffle(len(targets), func(i, j int) { targets[i], targets[j] = targets[j], targets[i] })
	}
	return targets, nil
}

// isDir follows symlinks so linked target directories are included
func isDir(parent string, e os.DirEntry) bool {
	if e.IsDir() {
		return true
	}
	if e.Type()&os.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(filepath.Join(parent, e.Name()))
	return err == nil && info.IsDir()
}
