// Package watcher keeps the index in step with directories of research files using fsnotify.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/kenkyu/pkg/utils"
)

const defaultDebounce = 400 * time.Millisecond

// Sink receives file changes. *indexer.Indexer satisfies it.
type Sink interface {
	IndexFile(ctx context.Context, path string, allowedExts []string) (n int, skipped bool, err error)
	RemoveFile(ctx context.Context, path string) error
}

// Watcher re-indexes files under its roots when they are created or written, and removes them
// from the index when they are deleted or renamed away. Writes to one path are debounced.
type Watcher struct {
	roots      []string
	extensions []string
	sink       Sink
	debounce   time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	fired   sync.WaitGroup
	ready   chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger for watch events.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = utils.OrNop(l) }
}

// WithDebounce sets how long a path must stay quiet before it is re-indexed.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// New creates a watcher over roots. extensions filters files (empty means all).
func New(roots, extensions []string, sink Sink, opts ...Option) *Watcher {
	w := &Watcher{
		roots:      roots,
		extensions: extensions,
		sink:       sink,
		debounce:   defaultDebounce,
		logger:     zap.NewNop(),
		pending:    make(map[string]*time.Timer),
		ready:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Ready is closed once the roots are watched and their existing files have been synced.
func (w *Watcher) Ready() <-chan struct{} { return w.ready }

// Run watches the roots until ctx is done. Existing files are indexed first; unchanged ones are
// skipped by the sink. Run returns after in-flight re-indexing has finished.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	for i, root := range w.roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return fmt.Errorf("absolute path: %w", err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("stat root: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("not a directory: %s", abs)
		}
		if err := w.watchTree(fsw, abs); err != nil {
			return err
		}
		w.roots[i] = abs
	}
	w.logger.Info("watcher started", zap.Strings("roots", w.roots), zap.Strings("extensions", w.extensions))
	for _, root := range w.roots {
		w.sync(ctx, root)
	}
	close(w.ready)

	defer w.drain()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, fsw, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("watcher event overflow, resyncing")
				for _, root := range w.roots {
					w.sync(ctx, root)
				}
				continue
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, fsw *fsnotify.Watcher, ev fsnotify.Event) {
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", ev.Name))
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			// Files copied in with the directory produce no events of their own.
			if err := w.watchTree(fsw, ev.Name); err != nil {
				w.logger.Warn("watcher failed to add directory", zap.String("path", ev.Name), zap.Error(err))
			}
			w.sync(ctx, ev.Name)
			return
		}
		if info.Mode().IsRegular() && matchExtension(ev.Name, w.extensions) {
			w.schedule(ctx, ev.Name)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancel(ev.Name)
		if !matchExtension(ev.Name, w.extensions) {
			return
		}
		if err := w.sink.RemoveFile(ctx, ev.Name); err != nil {
			w.logger.Warn("watcher remove failed", zap.String("path", ev.Name), zap.Error(err))
			return
		}
		w.logger.Info("watcher removed file", zap.String("path", ev.Name))
	}
}

func (w *Watcher) watchTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// sync indexes every matching file under root.
func (w *Watcher) sync(ctx context.Context, root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("watcher walk failed", zap.String("path", path), zap.Error(err))
			return nil
		}
		if ctx.Err() != nil {
			return filepath.SkipAll
		}
		if d.Type().IsRegular() && matchExtension(path, w.extensions) {
			w.index(ctx, path)
		}
		return nil
	})
}

func (w *Watcher) index(ctx context.Context, path string) {
	n, skipped, err := w.sink.IndexFile(ctx, path, w.extensions)
	switch {
	case err != nil:
		w.logger.Warn("watcher index failed", zap.String("path", path), zap.Error(err))
	case skipped:
		w.logger.Debug("watcher file unchanged", zap.String("path", path))
	default:
		w.logger.Info("watcher indexed file", zap.String("path", path), zap.Int("segments", n))
	}
}

func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok && t.Stop() {
		w.fired.Done()
	}
	w.fired.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.debounce, func() {
		defer w.fired.Done()
		w.mu.Lock()
		if w.pending[path] == t {
			delete(w.pending, path)
		}
		w.mu.Unlock()
		if ctx.Err() == nil {
			w.index(ctx, path)
		}
	})
	w.pending[path] = t
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		if t.Stop() {
			w.fired.Done()
		}
		delete(w.pending, path)
	}
}

// drain stops pending timers and waits for any that already fired.
func (w *Watcher) drain() {
	w.mu.Lock()
	for path, t := range w.pending {
		if t.Stop() {
			w.fired.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()
	w.fired.Wait()
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}
