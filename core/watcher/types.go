// Package watcher converts OS-level file-system notifications into the
// pipeline's canonical change events. One Watcher subscribes to one
// configured root; all valid events are delivered on a channel for the
// coalescing store to absorb.
package watcher

import (
	"context"
	"errors"

	"github.com/adalundhe/docrelay/core/event"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrWatchSetup indicates the root was inaccessible at subscribe time.
	// Fatal to that root's subscription only; other roots are unaffected.
	ErrWatchSetup = errors.New("watch setup failed")

	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("watcher already started")
)

// =============================================================================
// Source
// =============================================================================

// Source is the minimal watch capability the pipeline consumes. The fsnotify
// adapter is the production implementation; FakeSource backs tests so the
// store and scheduler can be exercised without any OS mechanism.
type Source interface {
	// Start begins asynchronous event delivery and must not block the
	// caller. The returned channel is closed when the context is
	// cancelled or Stop is called.
	Start(ctx context.Context) (<-chan event.FileChangeEvent, error)

	// Stop tears down the subscription.
	Stop() error

	// ScanDone is closed once the initial scan completes. Sources without
	// an initial scan close it on Start.
	ScanDone() <-chan struct{}
}
