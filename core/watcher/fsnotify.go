package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"

	"github.com/adalundhe/docrelay/core/config"
	"github.com/adalundhe/docrelay/core/event"
)

// =============================================================================
// Constants
// =============================================================================

// DefaultDebounce is the default per-path quiet window before an event is
// emitted (100ms). Editor save bursts collapse into one event.
const DefaultDebounce = 100 * time.Millisecond

// eventBuffer is the delivery channel capacity. The store insert on the
// consumer side is bounded and in-memory, so the buffer only has to absorb
// short bursts.
const eventBuffer = 1024

// =============================================================================
// pendingEvent
// =============================================================================

// pendingEvent tracks one debounced change.
type pendingEvent struct {
	evt   event.FileChangeEvent
	timer *time.Timer
}

// =============================================================================
// Watcher
// =============================================================================

// Watcher subscribes to OS change notifications for one configured root and
// translates them into canonical file change events. Ignore-kind occurrences
// are dropped here and never reach the store.
type Watcher struct {
	root     config.WatchRoot
	debounce time.Duration
	filter   glob.Glob
	logger   *slog.Logger

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*pendingEvent
	// knownDirs holds every path we know to be a directory: subscribed ones,
	// and existing children of a non-recursive root. Removal notifications
	// for these are bookkeeping, never document deletes.
	knownDirs map[string]bool
	eventCh   chan event.FileChangeEvent
	started   bool
	stopped   bool

	stopCh   chan struct{}
	scanDone chan struct{}
	stopOnce sync.Once
}

// New creates a watcher for one root. Fails with ErrWatchSetup when the root
// is inaccessible or not a directory at subscribe time.
func New(root config.WatchRoot, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	info, err := os.Stat(root.Path)
	if err != nil {
		return nil, errors.Join(ErrWatchSetup, err)
	}
	if !info.IsDir() {
		return nil, errors.Join(ErrWatchSetup, errors.New("root is not a directory"))
	}

	filter, err := root.CompileFilter()
	if err != nil {
		return nil, errors.Join(ErrWatchSetup, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Join(ErrWatchSetup, err)
	}

	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	return &Watcher{
		root:      root,
		debounce:  debounce,
		filter:    filter,
		logger:    logger.With(slog.String("root", root.Path), slog.String("index", root.Index)),
		fsw:       fsw,
		pending:   make(map[string]*pendingEvent),
		knownDirs: make(map[string]bool),
		eventCh:   make(chan event.FileChangeEvent, eventBuffer),
		stopCh:    make(chan struct{}),
		scanDone:  make(chan struct{}),
	}, nil
}

// =============================================================================
// Start / Stop
// =============================================================================

// Start implements Source. Live notification processing and the optional
// initial scan run on their own goroutines; the caller is never blocked.
func (w *Watcher) Start(ctx context.Context) (<-chan event.FileChangeEvent, error) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	w.started = true
	w.mu.Unlock()

	if err := w.addWatchPaths(); err != nil {
		_ = w.fsw.Close()
		close(w.scanDone)
		return nil, errors.Join(ErrWatchSetup, err)
	}

	go w.processEvents(ctx)

	if w.root.InitialScan {
		go w.runInitialScan(ctx)
	} else {
		close(w.scanDone)
	}

	return w.eventCh, nil
}

// Stop implements Source. Idempotent. The event channel is closed only after
// the initial scan goroutine has exited, so the scan's blocking sends never
// race the close.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		started := w.started
		for _, p := range w.pending {
			p.timer.Stop()
		}
		w.pending = make(map[string]*pendingEvent)
		w.mu.Unlock()

		close(w.stopCh)
		if started {
			<-w.scanDone
		}

		w.mu.Lock()
		close(w.eventCh)
		w.mu.Unlock()

		err = w.fsw.Close()
	})
	return err
}

// ScanDone implements Source.
func (w *Watcher) ScanDone() <-chan struct{} {
	return w.scanDone
}

// =============================================================================
// Subscription
// =============================================================================

// addWatchPaths subscribes the root, and its subdirectories when recursive.
// Under a non-recursive root the existing children are recorded but not
// subscribed, so their later removal is not mistaken for a document delete.
func (w *Watcher) addWatchPaths() error {
	if !w.root.Recursive {
		if err := w.addDirectory(w.root.Path); err != nil {
			return err
		}
		w.noteChildDirectories()
		return nil
	}

	return filepath.WalkDir(w.root.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("skipping unreadable path during watch setup",
				slog.String("path", path), slog.Any("error", err))
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		return w.addDirectory(path)
	})
}

// addDirectory registers one directory with fsnotify.
func (w *Watcher) addDirectory(path string) error {
	if err := w.fsw.Add(path); err != nil {
		return err
	}
	w.noteDirectory(path)
	return nil
}

// noteDirectory records a path known to be a directory.
func (w *Watcher) noteDirectory(path string) {
	w.mu.Lock()
	w.knownDirs[path] = true
	w.mu.Unlock()
}

// noteChildDirectories records the existing subdirectories of a non-recursive
// root without subscribing them.
func (w *Watcher) noteChildDirectories() {
	entries, err := os.ReadDir(w.root.Path)
	if err != nil {
		w.logger.Warn("could not enumerate root subdirectories", slog.Any("error", err))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			w.noteDirectory(filepath.Join(w.root.Path, entry.Name()))
		}
	}
}

// isKnownDir reports whether path is a directory we know about.
func (w *Watcher) isKnownDir(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.knownDirs[path]
}

// forgetDir drops a directory from the known set.
func (w *Watcher) forgetDir(path string) {
	w.mu.Lock()
	delete(w.knownDirs, path)
	w.mu.Unlock()
}

// =============================================================================
// Event Processing
// =============================================================================

// processEvents reads fsnotify notifications until cancellation. Errors from
// the watch mechanism are logged and never terminate the subscription.
func (w *Watcher) processEvents(ctx context.Context) {
	defer func() { _ = w.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return
		case fsEvent, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleFSEvent(fsEvent)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch mechanism error", slog.Any("error", err))
		}
	}
}

// handleFSEvent classifies and forwards one raw notification.
func (w *Watcher) handleFSEvent(fsEvent fsnotify.Event) {
	path := fsEvent.Name

	// New directories under a recursive root extend the subscription and
	// produce no document event.
	if fsEvent.Has(fsnotify.Create) && w.handlePossibleNewDirectory(path) {
		return
	}

	// Removal or rename of a known directory is bookkeeping, not a
	// document change.
	if w.isKnownDir(path) {
		if fsEvent.Has(fsnotify.Remove) || fsEvent.Has(fsnotify.Rename) {
			w.forgetDir(path)
		}
		return
	}

	kind := mapOperation(fsEvent.Op)
	if kind == event.KindIgnore {
		return
	}

	if !w.matchesFilter(path) {
		return
	}

	evt, err := w.buildEvent(kind, path)
	if err != nil {
		w.logger.Warn("could not resolve event path",
			slog.String("path", path), slog.Any("error", err))
		return
	}

	w.scheduleEvent(evt)
}

// handlePossibleNewDirectory extends the subscription when a directory shows
// up under a recursive root. Returns true when the path was a directory.
func (w *Watcher) handlePossibleNewDirectory(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}

	if w.root.Recursive {
		if err := w.addWatchSubtree(path); err != nil {
			w.logger.Warn("could not watch new directory",
				slog.String("path", path), slog.Any("error", err))
		}
	} else {
		w.noteDirectory(path)
	}
	return true
}

// addWatchSubtree subscribes a newly created directory and its children.
func (w *Watcher) addWatchSubtree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		return w.addDirectory(path)
	})
}

// opMappings maps fsnotify operations to change kinds. First match wins.
// A rename notification arrives on the old path and maps to Delete; the
// rename target produces its own Create, so the pair reaches the store as
// Delete(old) then Upsert(new) in that order.
var opMappings = []struct {
	op   fsnotify.Op
	kind event.ChangeKind
}{
	{fsnotify.Create, event.KindUpsert},
	{fsnotify.Write, event.KindUpsert},
	{fsnotify.Remove, event.KindDelete},
	{fsnotify.Rename, event.KindDelete},
}

// mapOperation converts an fsnotify.Op to a change kind. Anything not in the
// table (chmod and friends) is Ignore.
func mapOperation(op fsnotify.Op) event.ChangeKind {
	for _, m := range opMappings {
		if op.Has(m.op) {
			return m.kind
		}
	}
	return event.KindIgnore
}

// matchesFilter checks the bare file name against the root's filter.
func (w *Watcher) matchesFilter(path string) bool {
	if w.filter == nil {
		return true
	}
	return w.filter.Match(filepath.Base(path))
}

// buildEvent assembles a canonical event for an absolute path under the root.
func (w *Watcher) buildEvent(kind event.ChangeKind, path string) (event.FileChangeEvent, error) {
	rel, err := filepath.Rel(w.root.Path, path)
	if err != nil {
		return event.FileChangeEvent{}, err
	}

	return event.FileChangeEvent{
		Kind:         kind,
		Name:         filepath.Base(path),
		Directory:    filepath.Dir(path),
		RelativePath: rel,
		ObservedAt:   time.Now(),
	}, nil
}

// =============================================================================
// Debouncing
// =============================================================================

// scheduleEvent arms (or re-arms) the per-path debounce timer.
func (w *Watcher) scheduleEvent(evt event.FileChangeEvent) {
	path := filepath.Join(evt.Directory, evt.Name)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}

	if existing, ok := w.pending[path]; ok {
		existing.timer.Stop()
		existing.evt = evt
		existing.timer = w.createDebounceTimer(path, evt)
		return
	}

	w.pending[path] = &pendingEvent{
		evt:   evt,
		timer: w.createDebounceTimer(path, evt),
	}
}

// createDebounceTimer emits the event once the quiet window elapses.
func (w *Watcher) createDebounceTimer(path string, evt event.FileChangeEvent) *time.Timer {
	return time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		defer w.mu.Unlock()

		delete(w.pending, path)
		w.deliverLocked(evt)
	})
}

// deliverLocked sends one event to the channel. Caller holds the lock.
func (w *Watcher) deliverLocked(evt event.FileChangeEvent) {
	if w.stopped {
		return
	}

	select {
	case w.eventCh <- evt:
	default:
		w.logger.Warn("event channel full, dropping event",
			slog.String("file", evt.Name), slog.String("kind", evt.Kind.String()))
	}
}

// deliverBlocking sends one event, waiting for channel capacity. Only the
// initial scan uses it: the scan owns its goroutine and can afford
// backpressure, so no scanned file is ever dropped. Returns false when the
// watcher stopped or ctx was cancelled before the event was accepted.
func (w *Watcher) deliverBlocking(ctx context.Context, evt event.FileChangeEvent) bool {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return false
	}
	w.mu.Unlock()

	select {
	case w.eventCh <- evt:
		return true
	case <-ctx.Done():
		return false
	case <-w.stopCh:
		return false
	}
}
