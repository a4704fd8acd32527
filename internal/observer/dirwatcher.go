// Package observer watches the work dir for newly created target
// directories.
package observer

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// NewDirsCallback receives the names of directories created since the last
// call
type NewDirsCallback func(names []string)

// DirWatcher reports new subdirectories of a single directory. Bursts of
// creations are debounced into one callback.
type DirWatcher struct {
	watcher  *fsnotify.Watcher
	root     string
	skip     []string
	callback NewDirsCallback
	debounce time.Duration
	logger   *slog.Logger

	pending map[string]struct{}
	timer   *time.Timer
	mu      sync.Mutex

	cancel context.CancelFunc
}

// NewDirWatcher creates a watcher for root. Directories named in skip and
// hidden directories are ignored.
func NewDirWatcher(root string, skip []string, callback NewDirsCallback, logger *slog.Logger) (*DirWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(root); err != nil {
		watcher.Close()
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &DirWatcher{
		watcher:  watcher,
		root:     root,
		skip:     skip,
		callback: callback,
		debounce: 2 * time.Second, // let the operator finish creating a batch of dirs
		logger:   logger.With("component", "observer"),
		pending:  make(map[string]struct{}),
	}, nil
}

// SetDebounce sets the quiet period before the callback fires
func (dw *DirWatcher) SetDebounce(d time.Duration) {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	dw.debounce = d
}

// Start begins watching in the background
func (dw *DirWatcher) Start(ctx context.Context) {
	ctx, dw.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-dw.watcher.Events:
				if !ok {
					return
				}
				dw.handleEvent(event)
			case err, ok := <-dw.watcher.Errors:
				if !ok {
					return
				}
				dw.logger.Warn("watch error", "dir", dw.root, "error", err)
			}
		}
	}()
}

// Stop stops watching and discards pending names
func (dw *DirWatcher) Stop() {
	if dw.cancel != nil {
		dw.cancel()
	}
	dw.mu.Lock()
	if dw.timer != nil {
		dw.timer.Stop()
	}
	dw.mu.Unlock()
	dw.watcher.Close()
}

func (dw *DirWatcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) {
		return
	}
	if filepath.Dir(event.Name) != filepath.Clean(dw.root) {
		return
	}
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || slices.Contains(dw.skip, name) {
		return
	}
	if info, err := os.Stat(event.Name); err != nil || !info.IsDir() {
		return
	}

	dw.mu.Lock()
	defer dw.mu.Unlock()

	dw.pending[name] = struct{}{}
	if dw.timer != nil {
		dw.timer.Stop()
	}
	dw.timer = time.AfterFunc(dw.debounce, dw.flush)
}

func (dw *DirWatcher) flush() {
	dw.mu.Lock()
	pending := dw.pending
	dw.pending = make(map[string]struct{})
	dw.mu.Unlock()

	if dw.callback == nil || len(pending) == 0 {
		return
	}

	names := make([]string, 0, len(pending))
	for name := range pending {
		names = append(names, name)
	}
	sort.Strings(names)
	dw.callback(names)
}
