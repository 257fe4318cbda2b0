// Package watch feeds a drop directory into the parsing pipeline.
// Files written under the watched roots are debounced until they stop
// changing, then handed to the configured handler.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 400 * time.Millisecond

// DefaultExtensions covers every input format the converter accepts.
var DefaultExtensions = []string{
	"pdf", "docx", "odt", "rtf", "html", "htm",
	"png", "jpg", "jpeg", "tif", "tiff",
}

// Handler receives a settled file path. Handlers may run concurrently
// when several files settle at once.
type Handler func(path string)

// Options configures a Watcher.
type Options struct {
	// Dirs are the root directories to watch. Missing roots are created.
	Dirs []string

	// Extensions filters which files are handed over; empty defaults to
	// DefaultExtensions. Matching is case-insensitive, dots optional.
	Extensions []string

	// Recursive descends into subdirectories, including ones created
	// while watching.
	Recursive bool

	// Debounce is how long a file must stay quiet before the handler
	// runs. Zero or negative picks the default.
	Debounce time.Duration
}

// Watcher watches drop directories and invokes the handler for files
// that have settled.
type Watcher struct {
	dirs       []string
	extensions []string
	recursive  bool
	debounce   time.Duration
	handler    Handler
	logger     *slog.Logger

	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	pending  map[string]*time.Timer
	started  bool
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a watcher. The handler is required; a nil logger uses the
// default.
func New(opts Options, handler Handler, logger *slog.Logger) (*Watcher, error) {
	if len(opts.Dirs) == 0 {
		return nil, errors.New("watch: no directories configured")
	}
	if handler == nil {
		return nil, errors.New("watch: handler is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	extensions := opts.Extensions
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{
		dirs:       opts.Dirs,
		extensions: extensions,
		recursive:  opts.Recursive,
		debounce:   debounce,
		handler:    handler,
		logger:     logger.With("component", "watch"),
		pending:    map[string]*time.Timer{},
		done:       make(chan struct{}),
	}, nil
}

// Start begins watching. It returns once the roots are registered; the
// event loop runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.fsw = fsw
	w.started = true
	for _, dir := range w.dirs {
		if err := w.addRootLocked(dir); err != nil {
			_ = fsw.Close()
			w.fsw = nil
			w.started = false
			w.mu.Unlock()
			return err
		}
	}
	w.mu.Unlock()

	w.logger.Info("watching for statements",
		"dirs", strings.Join(w.dirs, ","),
		"recursive", w.recursive,
		"debounce", w.debounce,
	)
	go w.run(ctx)
	return nil
}

// SyncExisting hands over every matching file already present under
// the watched roots. Call it after Start to pick up a backlog.
func (w *Watcher) SyncExisting() {
	for _, dir := range w.dirs {
		w.syncDirectory(dir)
	}
}

// Dirs returns the watched root directories.
func (w *Watcher) Dirs() []string {
	return append([]string(nil), w.dirs...)
}

// Stop halts the watcher, cancelling any pending handovers.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.fsw == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	_ = w.fsw.Close()
	w.fsw = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Warn("watch error", "error", err)
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	switch {
	case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
		if w.matchExtension(path) {
			w.schedule(path)
		}
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		w.cancel(path)
	}
}

// handleNewDirectory registers a directory created while watching and
// hands over anything already inside it. Files can land between the
// mkdir event and the watch registration, so the sweep is not optional.
func (w *Watcher) handleNewDirectory(dir string) {
	w.mu.Lock()
	recursive := w.recursive
	fsw := w.fsw
	w.mu.Unlock()
	if fsw == nil || !recursive {
		return
	}

	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := fsw.Add(path); err != nil {
				w.logger.Warn("cannot watch directory", "dir", path, "error", err)
			}
		}
		return nil
	})
	w.syncDirectory(dir)
}

func (w *Watcher) addRootLocked(root string) error {
	root = filepath.Clean(root)
	if _, err := os.Stat(root); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if err := os.MkdirAll(root, 0o750); err != nil {
			return err
		}
	}
	if !w.recursive {
		return w.fsw.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
}

func (w *Watcher) syncDirectory(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if !w.recursive && path != filepath.Clean(root) {
				return filepath.SkipDir
			}
			return nil
		}
		if w.matchExtension(path) {
			w.schedule(path)
		}
		return nil
	})
}

// schedule arms (or re-arms) the debounce timer for a path. Every new
// write pushes the handover back until the file stays quiet.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.logger.Debug("file settled", "path", path)
		w.handler(path)
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) matchExtension(path string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return false
	}
	for _, e := range w.extensions {
		if ext == strings.TrimPrefix(strings.ToLower(e), ".") {
			return true
		}
	}
	return false
}
