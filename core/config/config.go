// Package config loads and validates the docrelay YAML configuration.
// Validation failures are fatal to startup; everything downstream of a
// loaded Config treats it as read-only.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/adalundhe/docrelay/core/transport"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNoRoots indicates no watch roots were configured.
	ErrNoRoots = errors.New("at least one watch root must be configured")

	// ErrRootPathEmpty indicates a watch root with no path.
	ErrRootPathEmpty = errors.New("watch root path cannot be empty")

	// ErrRootPathRelative indicates a watch root path that is not absolute.
	ErrRootPathRelative = errors.New("watch root path must be absolute")

	// ErrRootIndexEmpty indicates a watch root with no target index.
	ErrRootIndexEmpty = errors.New("watch root index cannot be empty")

	// ErrInvalidFilter indicates a filename filter that does not compile.
	ErrInvalidFilter = errors.New("invalid filename filter glob")

	// ErrSinkURLEmpty indicates a missing sink base URL.
	ErrSinkURLEmpty = errors.New("sink base URL cannot be empty")

	// ErrInvalidInterval indicates a non-positive dispatch interval.
	ErrInvalidInterval = errors.New("dispatch interval must be positive")

	// ErrInvalidConcurrency indicates a non-positive dispatch concurrency.
	ErrInvalidConcurrency = errors.New("dispatch concurrency must be positive")
)

// =============================================================================
// Config
// =============================================================================

// Config is the root configuration document.
type Config struct {
	Sink     SinkConfig     `yaml:"sink"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Watch    WatchConfig    `yaml:"watch"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SinkConfig configures the remote document-memory sink.
type SinkConfig struct {
	// BaseURL is the sink's base URL, e.g. "http://memory.internal:8080".
	BaseURL string `yaml:"base_url"`

	// Timeout bounds a single HTTP request.
	Timeout time.Duration `yaml:"timeout"`

	// Retry is the per-call retry policy.
	Retry transport.RetryPolicy `yaml:"retry"`

	// Breaker is the shared circuit breaker policy.
	Breaker transport.CircuitBreakerConfig `yaml:"breaker"`
}

// DispatchConfig configures the dispatch scheduler.
type DispatchConfig struct {
	// Interval is the time between drain ticks.
	Interval time.Duration `yaml:"interval"`

	// Concurrency bounds the number of in-flight sink calls per tick.
	Concurrency int `yaml:"concurrency"`

	// ShutdownGrace bounds how long an in-flight tick may run after
	// cancellation before the process gives up on it.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// WatchConfig configures the directory watch adapters.
type WatchConfig struct {
	// Debounce is the per-path quiet window before an event is emitted.
	Debounce time.Duration `yaml:"debounce"`

	// WaitForInitialScans makes startup block readiness until every
	// enabled initial scan completes.
	WaitForInitialScans bool `yaml:"wait_for_initial_scans"`

	// Roots lists the watched directories.
	Roots []WatchRoot `yaml:"roots"`
}

// WatchRoot describes one watched directory.
type WatchRoot struct {
	// Path is the absolute directory path.
	Path string `yaml:"path"`

	// Filter is a filename glob; empty matches everything.
	Filter string `yaml:"filter"`

	// Recursive watches subdirectories as well.
	Recursive bool `yaml:"recursive"`

	// Index is the target index name for documents under this root.
	Index string `yaml:"index"`

	// InitialScan enumerates existing files on startup and emits an
	// upsert for each.
	InitialScan bool `yaml:"initial_scan"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`

	// File, when set, writes logs to a rotating file instead of stderr.
	File string `yaml:"file"`

	// MaxSizeMB is the rotation size threshold.
	MaxSizeMB int `yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files to keep.
	MaxBackups int `yaml:"max_backups"`

	// MaxAgeDays is the retention age for rotated files.
	MaxAgeDays int `yaml:"max_age_days"`
}

// =============================================================================
// Defaults
// =============================================================================

// Default returns a configuration with every tunable at its default.
// Watch roots and the sink URL have no defaults and must be provided.
func Default() Config {
	return Config{
		Sink: SinkConfig{
			Timeout: 30 * time.Second,
			Retry:   transport.DefaultRetryPolicy(),
			Breaker: transport.DefaultCircuitBreakerConfig(),
		},
		Dispatch: DispatchConfig{
			Interval:      5 * time.Second,
			Concurrency:   4,
			ShutdownGrace: 10 * time.Second,
		},
		Watch: WatchConfig{
			Debounce: 100 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// =============================================================================
// Loading
// =============================================================================

// Load reads, parses and validates a configuration file. Defaults are
// applied before the file contents so the file only needs to name what it
// changes.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// =============================================================================
// Validation
// =============================================================================

// Validate checks the whole configuration. The first problem found is
// returned with enough context to locate it.
func (c *Config) Validate() error {
	if err := c.Sink.validate(); err != nil {
		return err
	}
	if err := c.Dispatch.validate(); err != nil {
		return err
	}
	return c.Watch.validate()
}

func (s *SinkConfig) validate() error {
	if s.BaseURL == "" {
		return ErrSinkURLEmpty
	}
	return nil
}

func (d *DispatchConfig) validate() error {
	if d.Interval <= 0 {
		return ErrInvalidInterval
	}
	if d.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}
	return nil
}

func (w *WatchConfig) validate() error {
	if len(w.Roots) == 0 {
		return ErrNoRoots
	}
	for i := range w.Roots {
		if err := w.Roots[i].validate(); err != nil {
			return fmt.Errorf("watch root %d: %w", i, err)
		}
	}
	return nil
}

func (r *WatchRoot) validate() error {
	if r.Path == "" {
		return ErrRootPathEmpty
	}
	if !filepath.IsAbs(r.Path) {
		return ErrRootPathRelative
	}
	if r.Index == "" {
		return ErrRootIndexEmpty
	}
	if r.Filter != "" {
		if _, err := glob.Compile(r.Filter); err != nil {
			return errors.Join(ErrInvalidFilter, err)
		}
	}
	return nil
}

// CompileFilter compiles the root's filename filter. A nil return with nil
// error means no filter (match everything). Validate must have accepted the
// root first.
func (r *WatchRoot) CompileFilter() (glob.Glob, error) {
	if r.Filter == "" {
		return nil, nil
	}
	return glob.Compile(r.Filter)
}
