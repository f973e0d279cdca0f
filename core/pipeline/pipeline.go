// Package pipeline wires the docrelay components together: one watch source
// per configured root feeding the coalescing store, and the dispatch
// scheduler draining it to the remote sink. A single context cancels the
// whole pipeline.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/adalundhe/docrelay/core/config"
	"github.com/adalundhe/docrelay/core/dispatch"
	"github.com/adalundhe/docrelay/core/event"
	"github.com/adalundhe/docrelay/core/identity"
	"github.com/adalundhe/docrelay/core/sink"
	"github.com/adalundhe/docrelay/core/store"
	"github.com/adalundhe/docrelay/core/watcher"
)

// ErrNoSources indicates every configured root failed to subscribe.
var ErrNoSources = errors.New("no watch source could be started")

// =============================================================================
// Pipeline
// =============================================================================

// Pipeline owns the full ingestion-and-dispatch flow for one process.
type Pipeline struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	scheduler *dispatch.Scheduler
	sources   []watcher.Source

	ready     chan struct{}
	readyOnce sync.Once
	wg        sync.WaitGroup
}

// New builds a production pipeline from configuration: fsnotify watchers,
// the HTTP sink client, and the scheduler. Watcher construction failures are
// fatal to that root only; they are logged and the rest proceed.
func New(cfg *config.Config, logger *slog.Logger) *Pipeline {
	sinkClient := sink.NewClient(sink.ClientConfig{
		BaseURL: cfg.Sink.BaseURL,
		Timeout: cfg.Sink.Timeout,
		Retry:   cfg.Sink.Retry,
		Breaker: cfg.Sink.Breaker,
	}, logger)

	var sources []watcher.Source
	for _, root := range cfg.Watch.Roots {
		w, err := watcher.New(root, cfg.Watch.Debounce, logger)
		if err != nil {
			logger.Error("could not create watcher for root",
				slog.String("root", root.Path), slog.Any("error", err))
			continue
		}
		sources = append(sources, w)
	}

	return NewWithSources(cfg, logger, sources, sinkClient)
}

// NewWithSources builds a pipeline around injected watch sources and sink.
// Tests use this with FakeSource and an in-memory sink.
func NewWithSources(cfg *config.Config, logger *slog.Logger, sources []watcher.Source, sk sink.Sink) *Pipeline {
	st := store.New(cfg.Watch.Roots, identity.NewBuilder(), logger)

	scheduler := dispatch.New(dispatch.Config{
		Interval:      cfg.Dispatch.Interval,
		Concurrency:   cfg.Dispatch.Concurrency,
		ShutdownGrace: cfg.Dispatch.ShutdownGrace,
	}, st, sk, logger)

	return &Pipeline{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		scheduler: scheduler,
		sources:   sources,
		ready:     make(chan struct{}),
	}
}

// Store exposes the coalescing store, primarily for tests and diagnostics.
func (p *Pipeline) Store() *store.Store {
	return p.store
}

// Ready is closed once the pipeline is warmed up. With
// wait_for_initial_scans enabled that means every started source finished
// its initial scan; otherwise it closes as soon as sources are running.
func (p *Pipeline) Ready() <-chan struct{} {
	return p.ready
}

// =============================================================================
// Run
// =============================================================================

// Run starts every source and the scheduler, then blocks until the context
// is cancelled and everything has torn down. Messages already sent in an
// in-flight tick are not un-sent on shutdown.
func (p *Pipeline) Run(ctx context.Context) error {
	started, scanDones := p.startSources(ctx)
	if started == 0 {
		return ErrNoSources
	}

	p.watchReadiness(ctx, scanDones)

	err := p.scheduler.Run(ctx)

	for _, src := range p.sources {
		_ = src.Stop()
	}
	p.wg.Wait()

	p.logger.Info("pipeline stopped")
	return err
}

// startSources subscribes every source and spawns its store-feed goroutine.
// Returns how many sources started and their scan completion channels.
func (p *Pipeline) startSources(ctx context.Context) (int, []<-chan struct{}) {
	started := 0
	var scanDones []<-chan struct{}

	for _, src := range p.sources {
		events, err := src.Start(ctx)
		if err != nil {
			p.logger.Error("watch source failed to start", slog.Any("error", err))
			continue
		}

		started++
		scanDones = append(scanDones, src.ScanDone())

		p.wg.Add(1)
		go p.feedStore(events)
	}

	return started, scanDones
}

// feedStore absorbs one source's events into the store. Per-event failures
// are logged and never stop ingestion of subsequent events.
func (p *Pipeline) feedStore(events <-chan event.FileChangeEvent) {
	defer p.wg.Done()

	for evt := range events {
		if err := p.store.Add(&evt); err != nil {
			p.logger.Warn("dropping event",
				slog.String("file", evt.Name),
				slog.String("kind", evt.Kind.String()),
				slog.Any("error", err))
		}
	}
}

// watchReadiness closes the ready channel once the warm-up condition holds.
func (p *Pipeline) watchReadiness(ctx context.Context, scanDones []<-chan struct{}) {
	if !p.cfg.Watch.WaitForInitialScans {
		p.markReady()
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for _, done := range scanDones {
			select {
			case <-done:
			case <-ctx.Done():
				return
			}
		}
		p.logger.Info("all initial scans complete, pipeline ready")
		p.markReady()
	}()
}

func (p *Pipeline) markReady() {
	p.readyOnce.Do(func() { close(p.ready) })
}
