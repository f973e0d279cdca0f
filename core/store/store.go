// Package store implements the event coalescing buffer sitting between the
// directory watchers (many writers) and the dispatch scheduler (one drainer).
// It is the only shared mutable resource in the pipeline: at any instant it
// holds at most one pending message per document identity, and a later event
// for an identity overwrites the earlier one regardless of change kind.
package store

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/adalundhe/docrelay/core/config"
	"github.com/adalundhe/docrelay/core/event"
	"github.com/adalundhe/docrelay/core/identity"
)

// =============================================================================
// Store
// =============================================================================

// Store buffers dispatch messages keyed by document identity.
// Add is safe for concurrent use from any number of watcher goroutines;
// DrainAll is atomic with respect to writers and other drains, so a message
// is never handed out twice and never lost to a write/drain race.
type Store struct {
	mu      sync.RWMutex
	pending map[string]event.DispatchMessage

	roots   []config.WatchRoot
	builder *identity.Builder
	logger  *slog.Logger
}

// New creates an empty store resolving events against the given roots.
func New(roots []config.WatchRoot, builder *identity.Builder, logger *slog.Logger) *Store {
	return &Store{
		pending: make(map[string]event.DispatchMessage),
		roots:   roots,
		builder: builder,
		logger:  logger,
	}
}

// =============================================================================
// Add
// =============================================================================

// Add absorbs one file change event. The owning root is the first configured
// root whose path case-insensitively prefixes the event's directory; an event
// matching no root is dropped with a warning, which is not an error. The
// resolve-then-insert sequence runs under the write lock so it is atomic with
// respect to other writers and to drains.
func (s *Store) Add(e *event.FileChangeEvent) error {
	if err := e.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	root := s.resolveRoot(e.Directory)
	if root == nil {
		s.logger.Warn("event directory matches no configured root, dropping",
			slog.String("directory", e.Directory),
			slog.String("file", e.Name))
		return nil
	}

	id, err := s.builder.Build(root.Index, e.RelativePath)
	if err != nil {
		return err
	}

	s.pending[id] = event.DispatchMessage{
		Event:      *e,
		Index:      root.Index,
		DocumentID: id,
	}
	return nil
}

// resolveRoot finds the first root owning dir, ignoring case: the root path
// either equals dir or prefixes it at a separator boundary, so /data/docs
// never claims /data/docsarchive. Caller holds the lock.
func (s *Store) resolveRoot(dir string) *config.WatchRoot {
	lowered := strings.ToLower(dir)
	for i := range s.roots {
		rootPath := strings.TrimRight(strings.ToLower(s.roots[i].Path), string(filepath.Separator))
		if lowered == rootPath {
			return &s.roots[i]
		}
		if strings.HasPrefix(lowered, rootPath) && lowered[len(rootPath)] == filepath.Separator {
			return &s.roots[i]
		}
	}
	return nil
}

// =============================================================================
// Drain
// =============================================================================

// DrainAll atomically removes and returns every pending message. Adds that
// happen during a drain land in the next drain. Order of the returned slice
// is unspecified.
func (s *Store) DrainAll() []event.DispatchMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}

	drained := make([]event.DispatchMessage, 0, len(s.pending))
	for _, msg := range s.pending {
		drained = append(drained, msg)
	}
	s.pending = make(map[string]event.DispatchMessage)

	return drained
}

// HasPending reports whether anything is buffered. Non-blocking peek; the
// answer may be stale by the time the caller acts on it.
func (s *Store) HasPending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending) > 0
}

// Len returns the number of pending messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}
