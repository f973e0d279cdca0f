package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/adalundhe/docrelay/core/event"
)

// runInitialScan enumerates all currently-existing files under the root and
// emits one upsert per matching file. It runs out-of-band from the live
// notification loop so it never blocks real-time delivery; a file touched
// during its own scan simply coalesces in the store, whichever path observed
// it first. Delivery blocks on channel capacity rather than dropping, so every
// scanned file reaches the consumer even when the root holds more files than
// the channel buffers. scanDone is closed on completion, including early exit
// through cancellation.
func (w *Watcher) runInitialScan(ctx context.Context) {
	defer close(w.scanDone)

	start := time.Now()
	count := 0

	for _, path := range w.collectExistingFiles(ctx) {
		evt, err := w.buildEvent(event.KindUpsert, path)
		if err != nil {
			w.logger.Warn("skipping unresolvable file during initial scan",
				slog.String("path", path), slog.Any("error", err))
			continue
		}

		if !w.deliverBlocking(ctx, evt) {
			w.logger.Info("initial scan cancelled", slog.Int("emitted", count))
			return
		}
		count++
	}

	w.logger.Info("initial scan complete",
		slog.Int("files", count),
		slog.Duration("elapsed", time.Since(start)))
}

// collectExistingFiles gathers matching files under the root, recursively
// when configured. Unreadable entries are logged and skipped, never fatal.
func (w *Watcher) collectExistingFiles(ctx context.Context) []string {
	if !w.root.Recursive {
		return w.collectTopLevel()
	}

	var files []string
	_ = filepath.WalkDir(w.root.Path, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return filepath.SkipAll
		}
		if err != nil {
			w.logger.Warn("skipping unreadable path during initial scan",
				slog.String("path", path), slog.Any("error", err))
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if w.matchesFilter(path) {
			files = append(files, path)
		}
		return nil
	})
	return files
}

// collectTopLevel gathers matching files directly under the root.
func (w *Watcher) collectTopLevel() []string {
	entries, err := os.ReadDir(w.root.Path)
	if err != nil {
		w.logger.Warn("could not enumerate root for initial scan", slog.Any("error", err))
		return nil
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.root.Path, entry.Name())
		if w.matchesFilter(path) {
			files = append(files, path)
		}
	}
	return files
}
