// Package fswatch nudges a refresh when files of a local working copy change.
package fswatch

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period used when none is configured.
const DefaultDebounce = 300 * time.Millisecond

// ignoredDirs are never watched. Build output and dependency trees change
// often and do not show up in a diff anyway.
var ignoredDirs = map[string]bool{
	"node_modules": true,
	".cache":       true,
	".venv":        true,
	"__pycache__":  true,
	"vendor":       true,
}

// gitFiles are the entries inside .git whose change alters the diff
// (staging, checkout, commit).
var gitFiles = map[string]bool{
	"HEAD":  true,
	"index": true,
}

// Watcher watches one working copy and calls nudge after a quiet period.
type Watcher struct {
	root     string
	fsw      *fsnotify.Watcher
	nudge    func()
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewFactory returns a constructor with the service.WatcherFactory signature.
func NewFactory(debounce time.Duration) func(ctx context.Context, dir string, nudge func()) (io.Closer, error) {
	return func(ctx context.Context, dir string, nudge func()) (io.Closer, error) {
		return Start(ctx, dir, debounce, nudge)
	}
}

// Start begins watching dir recursively. The watcher stops when ctx is
// cancelled or Close is called.
func Start(ctx context.Context, dir string, debounce time.Duration, nudge func()) (*Watcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New(dir + " is not a directory")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		root:     dir,
		fsw:      fsw,
		nudge:    nudge,
		debounce: debounce,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	if err := w.addTree(dir); err != nil {
		cancel()
		_ = fsw.Close()
		return nil, err
	}
	if gitDir := filepath.Join(dir, ".git"); isDir(gitDir) {
		if err := fsw.Add(gitDir); err != nil {
			slog.DebugContext(ctx, "watch .git failed", "path", gitDir, "error", err)
		}
	}

	go w.observe(ctx)
	return w, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.cancel()
		err = w.fsw.Close()
		<-w.done

		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		w.mu.Unlock()
	})
	return err
}

func (w *Watcher) observe(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) && !ignoredDirs[filepath.Base(ev.Name)] && isDir(ev.Name) {
				if err := w.addTree(ev.Name); err != nil {
					slog.DebugContext(ctx, "watch new directory failed", "path", ev.Name, "error", err)
				}
			}
			w.schedule(ctx)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.WarnContext(ctx, "file watcher error", "root", w.root, "error", err)
		}
	}
}

// schedule restarts the quiet-period timer.
func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		w.nudge()
	})
}

func (w *Watcher) relevant(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if parts[0] == ".git" {
		return len(parts) == 2 && gitFiles[parts[1]]
	}
	for _, p := range parts[:len(parts)-1] {
		if ignoredDirs[p] {
			return false
		}
	}
	return true
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Vanished or unreadable entries are skipped.
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && (d.Name() == ".git" || ignoredDirs[d.Name()]) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
