package watcher

import (
	"context"
	"sync"

	"github.com/adalundhe/docrelay/core/event"
)

// FakeSource is an in-memory Source for tests. Events pushed with Send are
// delivered to whoever consumed the Start channel, in push order.
type FakeSource struct {
	mu       sync.Mutex
	events   chan event.FileChangeEvent
	scanDone chan struct{}
	started  bool
	closed   bool
}

// NewFakeSource creates a fake source with a buffered delivery channel.
func NewFakeSource() *FakeSource {
	return &FakeSource{
		events:   make(chan event.FileChangeEvent, 256),
		scanDone: make(chan struct{}),
	}
}

// Start implements Source. The fake has no initial scan, so ScanDone closes
// immediately.
func (f *FakeSource) Start(ctx context.Context) (<-chan event.FileChangeEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.started {
		return nil, ErrAlreadyStarted
	}
	f.started = true
	close(f.scanDone)

	go func() {
		<-ctx.Done()
		_ = f.Stop()
	}()

	return f.events, nil
}

// Stop implements Source.
func (f *FakeSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

// ScanDone implements Source.
func (f *FakeSource) ScanDone() <-chan struct{} {
	return f.scanDone
}

// Send pushes one event. Events sent after Stop are silently dropped, which
// mirrors a real subscription racing its own teardown.
func (f *FakeSource) Send(e event.FileChangeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	select {
	case f.events <- e:
	default:
	}
}
