package plugin

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/dshills/modhost/internal/plugin/archive"
)

// DefaultDebounce is how long an archive must stay quiet before it is
// reloaded.
const DefaultDebounce = 250 * time.Millisecond

// Watcher errors.
var (
	// ErrWatcherClosed is returned when using a closed watcher.
	ErrWatcherClosed = errors.New("watcher is closed")

	// ErrWatcherStarted is returned by a second Start.
	ErrWatcherStarted = errors.New("watcher is already started")
)

// ChangeKind describes what a watcher did with a changed archive.
type ChangeKind int

// Change kinds.
const (
	// ChangeAdded - a new archive was loaded.
	ChangeAdded ChangeKind = iota
	// ChangeReloaded - a known archive changed and was reloaded.
	ChangeReloaded
	// ChangeRemoved - a known archive disappeared.
	ChangeRemoved
	// ChangeFailed - loading or reloading failed.
	ChangeFailed
)

// String returns a string representation of the change kind.
func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeReloaded:
		return "reloaded"
	case ChangeRemoved:
		return "removed"
	case ChangeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Change is one watcher outcome.
type Change struct {
	Kind       ChangeKind
	Path       string
	Descriptor *Descriptor
	Err        error
}

// Watcher keeps the descriptors of a module root in step with the files on
// disk. Changed archives are reloaded in place, so descriptor handles stay
// valid; instances created before a reload keep running.
type Watcher struct {
	locator      *Locator
	root         string
	expectedType string
	debounce     time.Duration
	onChange     func(Change)
	logger       *zap.Logger

	mu       sync.Mutex
	modules  map[string]*Descriptor
	pending  map[string]*time.Timer
	fsw      *fsnotify.Watcher
	closed   bool
	closeCh  chan struct{}
	closedWg sync.WaitGroup
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period before a changed archive is handled.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// OnChange sets the function told about every change. It runs on the
// watcher's goroutines and must not block for long.
func OnChange(fn func(Change)) WatcherOption {
	return func(w *Watcher) {
		w.onChange = fn
	}
}

// NewWatcher creates a watcher for root. Call Track with the descriptors
// already loaded, then Start.
func NewWatcher(l *Locator, root, expectedType string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		locator:      l,
		root:         root,
		expectedType: expectedType,
		debounce:     DefaultDebounce,
		logger:       l.logger.With(zap.String("root", root)),
		modules:      make(map[string]*Descriptor),
		pending:      make(map[string]*time.Timer),
		closeCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Track adds descriptors to the watched set.
func (w *Watcher) Track(descs ...*Descriptor) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, d := range descs {
		w.modules[d.Path()] = d
	}
}

// Modules returns the tracked descriptors sorted by path.
func (w *Watcher) Modules() []*Descriptor {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*Descriptor, 0, len(w.modules))
	for _, d := range w.modules {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path() < out[j].Path() })
	return out
}

// Start begins watching root and its subdirectories.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		fsw.Close()
		return ErrWatcherClosed
	}
	if w.fsw != nil {
		w.mu.Unlock()
		fsw.Close()
		return ErrWatcherStarted
	}
	w.fsw = fsw
	w.mu.Unlock()

	err = filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == w.root {
				return err
			}
			return nil
		}
		if d.IsDir() {
			return fsw.Add(p)
		}
		return nil
	})
	if err != nil {
		w.mu.Lock()
		w.fsw = nil
		w.mu.Unlock()
		fsw.Close()
		return err
	}

	w.closedWg.Add(1)
	go w.processLoop()
	return nil
}

func (w *Watcher) processLoop() {
	defer w.closedWg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleFSEvent(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleFSEvent(ev fsnotify.Event) {
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(ev.Name); err != nil {
				w.logger.Warn("watch directory", zap.String("path", ev.Name), zap.Error(err))
			}
			return
		}
	}

	path, force := ev.Name, false
	if strings.HasSuffix(path, SidecarSuffix) {
		path, force = strings.TrimSuffix(path, SidecarSuffix), true
	}
	if !w.locator.Matches(path) {
		return
	}
	w.schedule(path, force)
}

// schedule (re)arms the debounce timer of path.
func (w *Watcher) schedule(path string, force bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return
		}
		delete(w.pending, path)
		w.closedWg.Add(1)
		w.mu.Unlock()
		defer w.closedWg.Done()

		w.sync(context.Background(), path, force)
	})
}

// Sync handles path immediately, as if its debounce timer had fired. It
// reports whether anything changed.
func (w *Watcher) Sync(ctx context.Context, path string) (Change, bool) {
	return w.sync(ctx, path, false)
}

func (w *Watcher) sync(ctx context.Context, path string, force bool) (Change, bool) {
	change, ok := w.apply(ctx, path, force)
	if !ok {
		return change, false
	}

	fields := []zap.Field{
		zap.String("archive", change.Path),
		zap.String("change", change.Kind.String()),
	}
	if change.Err != nil {
		w.logger.Warn("module change failed", append(fields, zap.Error(change.Err))...)
	} else {
		w.logger.Info("module changed", fields...)
	}
	if w.onChange != nil {
		w.onChange(change)
	}
	return change, true
}

func (w *Watcher) apply(ctx context.Context, path string, force bool) (Change, bool) {
	w.mu.Lock()
	d, tracked := w.modules[path]
	w.mu.Unlock()

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if !tracked {
			return Change{}, false
		}
		w.mu.Lock()
		delete(w.modules, path)
		w.mu.Unlock()
		d.Reset()
		return Change{Kind: ChangeRemoved, Path: path, Descriptor: d}, true
	}

	if !tracked {
		d, err := w.locator.LoadModule(ctx, path, w.expectedType)
		if err != nil {
			return Change{Kind: ChangeFailed, Path: path, Err: err}, true
		}
		w.Track(d)
		return Change{Kind: ChangeAdded, Path: path, Descriptor: d}, true
	}

	fp, err := archive.Fingerprint(path)
	if err != nil {
		return Change{Kind: ChangeFailed, Path: path, Descriptor: d, Err: err}, true
	}
	if !force && d.Loaded() && fp == d.Fingerprint() {
		return Change{}, false
	}
	if err := d.Reload(ctx); err != nil {
		return Change{Kind: ChangeFailed, Path: path, Descriptor: d, Err: err}, true
	}
	return Change{Kind: ChangeReloaded, Path: path, Descriptor: d}, true
}

// Close stops watching. Pending changes are dropped; a change being handled
// finishes first.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	fsw := w.fsw
	w.mu.Unlock()

	w.closedWg.Wait()
	if fsw != nil {
		return fsw.Close()
	}
	return nil
}
