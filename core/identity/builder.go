// Package identity derives stable document identities for the docrelay
// pipeline. Repeated events for the same logical file must collide in the
// coalescing store, so identities are built purely from static inputs:
// the target index name and the path relative to the watched root. File
// content, timestamps and counters never participate.
package identity

import (
	"errors"
	"net/url"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// =============================================================================
// Constants
// =============================================================================

// DefaultCacheSize bounds the identity memoization cache. Event storms
// (editor save bursts, rename cascades) hit the same handful of paths
// repeatedly, so a modest cache absorbs nearly all rebuilds.
const DefaultCacheSize = 4096

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrEmptyIndex indicates the index name was empty.
	ErrEmptyIndex = errors.New("index name cannot be empty")

	// ErrEmptyPath indicates the relative path was empty.
	ErrEmptyPath = errors.New("relative path cannot be empty")
)

// =============================================================================
// Builder
// =============================================================================

// Builder produces deterministic, URL-safe document identities.
// The same (index, relativePath) pair always yields the same identity and
// distinct paths within one index never collide. Safe for concurrent use.
type Builder struct {
	cache *lru.Cache[cacheKey, string]
}

type cacheKey struct {
	index string
	path  string
}

// NewBuilder creates a Builder with the default cache size.
func NewBuilder() *Builder {
	b, _ := NewBuilderSize(DefaultCacheSize)
	return b
}

// NewBuilderSize creates a Builder with an explicit cache size.
func NewBuilderSize(size int) (*Builder, error) {
	cache, err := lru.New[cacheKey, string](size)
	if err != nil {
		return nil, err
	}
	return &Builder{cache: cache}, nil
}

// Build derives the identity for a document. It is pure apart from the
// memoization cache: no disk or network I/O.
//
// The identity is "<escaped-index>/<escaped-normalized-path>". Both halves
// are query-escaped individually so the joining slash stays unambiguous;
// normalization converts all separators to forward slashes so the same
// logical document observed through different separator conventions
// coalesces to one identity. Character case is preserved: on case-sensitive
// filesystems paths differing only in case are distinct documents.
func (b *Builder) Build(index, relativePath string) (string, error) {
	if index == "" {
		return "", ErrEmptyIndex
	}
	if relativePath == "" {
		return "", ErrEmptyPath
	}

	key := cacheKey{index: index, path: relativePath}
	if id, ok := b.cache.Get(key); ok {
		return id, nil
	}

	id := url.QueryEscape(index) + "/" + url.QueryEscape(normalizePath(relativePath))
	b.cache.Add(key, id)
	return id, nil
}

// normalizePath canonicalizes a relative path for identity purposes.
func normalizePath(path string) string {
	normalized := strings.ReplaceAll(path, "\\", "/")
	normalized = strings.TrimPrefix(normalized, "./")
	return strings.TrimPrefix(normalized, "/")
}
