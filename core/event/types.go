// Package event defines the canonical value types flowing through the
// docrelay pipeline: a single observed file-system change and the
// dispatch-ready message derived from it.
package event

import (
	"errors"
	"time"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrInvalidEvent indicates a structurally invalid file change event.
	ErrInvalidEvent = errors.New("invalid file change event")

	// ErrInvalidMessage indicates a dispatch message missing required fields.
	ErrInvalidMessage = errors.New("invalid dispatch message")
)

// =============================================================================
// ChangeKind
// =============================================================================

// ChangeKind classifies a file-system occurrence.
type ChangeKind int

const (
	// KindUpsert indicates a file was created or modified and should be
	// uploaded.
	KindUpsert ChangeKind = iota

	// KindDelete indicates a file was removed and its document should be
	// deleted.
	KindDelete

	// KindIgnore indicates an occurrence the pipeline does not act on.
	// Ignore events never leave the watch adapter.
	KindIgnore
)

var changeKindNames = map[ChangeKind]string{
	KindUpsert: "upsert",
	KindDelete: "delete",
	KindIgnore: "ignore",
}

// String returns a human-readable name for the change kind.
func (k ChangeKind) String() string {
	if name, ok := changeKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// =============================================================================
// FileChangeEvent
// =============================================================================

// FileChangeEvent is one raw, normalized file-system notification. It is
// created by the watch adapter, absorbed immediately by the coalescing store
// and not retained afterward.
type FileChangeEvent struct {
	// Kind is the classified change.
	Kind ChangeKind

	// Name is the bare file name.
	Name string

	// Directory is the absolute path of the containing directory.
	Directory string

	// RelativePath is the path relative to the watched root, using the
	// platform separator as observed.
	RelativePath string

	// ObservedAt is when the change was observed.
	ObservedAt time.Time
}

// Validate reports whether the event is structurally usable.
func (e *FileChangeEvent) Validate() error {
	if e == nil {
		return ErrInvalidEvent
	}
	if e.Name == "" || e.Directory == "" || e.RelativePath == "" {
		return ErrInvalidEvent
	}
	return nil
}

// =============================================================================
// DispatchMessage
// =============================================================================

// DispatchMessage is a pending unit of work: one file change bound to its
// target index and a stable document identity. The coalescing store owns a
// message exclusively until it is drained; the store never re-adds a drained
// message.
type DispatchMessage struct {
	// Event is the originating change.
	Event FileChangeEvent

	// Index is the target index name from the matched root configuration.
	Index string

	// DocumentID is the derived, URL-safe document identity.
	DocumentID string
}

// Validate reports whether the message carries everything dispatch needs.
func (m *DispatchMessage) Validate() error {
	if m == nil {
		return ErrInvalidMessage
	}
	if m.Index == "" || m.DocumentID == "" {
		return ErrInvalidMessage
	}
	if err := m.Event.Validate(); err != nil {
		return errors.Join(ErrInvalidMessage, err)
	}
	return nil
}
