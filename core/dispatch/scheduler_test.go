package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/adalundhe/docrelay/core/config"
	"github.com/adalundhe/docrelay/core/event"
	"github.com/adalundhe/docrelay/core/identity"
	"github.com/adalundhe/docrelay/core/sink"
	"github.com/adalundhe/docrelay/core/store"
)

// =============================================================================
// Test Helpers
// =============================================================================

type sinkCall struct {
	op         string
	index      string
	documentID string
	sourcePath string
}

// fakeSink records calls and fails the documents it is told to fail.
type fakeSink struct {
	mu       sync.Mutex
	calls    []sinkCall
	failDocs map[string]error

	inFlight    int
	maxInFlight int
}

func newFakeSink() *fakeSink {
	return &fakeSink{failDocs: make(map[string]error)}
}

func (f *fakeSink) enter() {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()
	time.Sleep(time.Millisecond)
}

func (f *fakeSink) exit(call sinkCall) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	f.calls = append(f.calls, call)
	return f.failDocs[call.documentID]
}

func (f *fakeSink) Upload(_ context.Context, index, documentID, sourcePath string) error {
	f.enter()
	return f.exit(sinkCall{op: "upload", index: index, documentID: documentID, sourcePath: sourcePath})
}

func (f *fakeSink) Delete(_ context.Context, index, documentID string) error {
	f.enter()
	return f.exit(sinkCall{op: "delete", index: index, documentID: documentID})
}

func (f *fakeSink) callsByOp(op string) []sinkCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sinkCall
	for _, c := range f.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

var _ sink.Sink = (*fakeSink)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore() *store.Store {
	roots := []config.WatchRoot{{Path: "/data/docs", Index: "docs"}}
	return store.New(roots, identity.NewBuilder(), discardLogger())
}

func addEvent(t *testing.T, st *store.Store, kind event.ChangeKind, name string) {
	t.Helper()
	err := st.Add(&event.FileChangeEvent{
		Kind:         kind,
		Name:         name,
		Directory:    "/data/docs",
		RelativePath: name,
		ObservedAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("Add(%s) error = %v", name, err)
	}
}

func fastConfig() Config {
	return Config{
		Interval:      10 * time.Millisecond,
		Concurrency:   4,
		ShutdownGrace: time.Second,
	}
}

// =============================================================================
// State Tests
// =============================================================================

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateDraining, "draining"},
		{StateDispatching, "dispatching"},
		{StateStopped, "stopped"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

// =============================================================================
// Tick Tests
// =============================================================================

func TestScheduler_TickEmptyStore(t *testing.T) {
	t.Parallel()

	fake := newFakeSink()
	s := New(fastConfig(), newTestStore(), fake, discardLogger())

	outcomes := s.Tick(context.Background())
	if outcomes != nil {
		t.Fatalf("Tick() = %v, want nil for empty store", outcomes)
	}
	if len(fake.calls) != 0 {
		t.Errorf("expected no sink calls, got %d", len(fake.calls))
	}
}

func TestScheduler_TickTranslatesKinds(t *testing.T) {
	t.Parallel()

	st := newTestStore()
	addEvent(t, st, event.KindUpsert, "a.txt")
	addEvent(t, st, event.KindDelete, "b.txt")

	fake := newFakeSink()
	s := New(fastConfig(), st, fake, discardLogger())

	outcomes := s.Tick(context.Background())
	if len(outcomes) != 2 {
		t.Fatalf("Tick() returned %d outcomes, want 2", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Err != nil {
			t.Errorf("outcome for %s = %v, want nil", o.Message.DocumentID, o.Err)
		}
	}

	uploads := fake.callsByOp("upload")
	if len(uploads) != 1 {
		t.Fatalf("got %d uploads, want 1", len(uploads))
	}
	if uploads[0].index != "docs" {
		t.Errorf("upload index = %q, want docs", uploads[0].index)
	}
	if want := filepath.Join("/data/docs", "a.txt"); uploads[0].sourcePath != want {
		t.Errorf("upload source = %q, want %q", uploads[0].sourcePath, want)
	}

	deletes := fake.callsByOp("delete")
	if len(deletes) != 1 {
		t.Fatalf("got %d deletes, want 1", len(deletes))
	}

	if st.HasPending() {
		t.Error("store should be empty after tick")
	}
}

func TestScheduler_FailureIsolation(t *testing.T) {
	t.Parallel()

	st := newTestStore()
	builder := identity.NewBuilder()
	badID, _ := builder.Build("docs", "bad.txt")

	addEvent(t, st, event.KindUpsert, "bad.txt")
	for i := 0; i < 5; i++ {
		addEvent(t, st, event.KindUpsert, fmt.Sprintf("ok-%d.txt", i))
	}

	fake := newFakeSink()
	fake.failDocs[badID] = sink.ErrSourceMissing

	s := New(fastConfig(), st, fake, discardLogger())
	outcomes := s.Tick(context.Background())

	var failed, succeeded int
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			if !errors.Is(o.Err, sink.ErrSourceMissing) {
				t.Errorf("failure = %v, want ErrSourceMissing", o.Err)
			}
		} else {
			succeeded++
		}
	}

	if failed != 1 || succeeded != 5 {
		t.Errorf("failed=%d succeeded=%d, want 1 and 5", failed, succeeded)
	}

	// Failures are not re-enqueued.
	if st.HasPending() {
		t.Error("store should stay empty after a failed dispatch")
	}
}

func TestScheduler_ConcurrencyBounded(t *testing.T) {
	t.Parallel()

	st := newTestStore()
	for i := 0; i < 20; i++ {
		addEvent(t, st, event.KindUpsert, fmt.Sprintf("f-%d.txt", i))
	}

	fake := newFakeSink()
	cfg := fastConfig()
	cfg.Concurrency = 3

	s := New(cfg, st, fake, discardLogger())
	s.Tick(context.Background())

	if fake.maxInFlight > 3 {
		t.Errorf("max in-flight = %d, want <= 3", fake.maxInFlight)
	}
	if len(fake.calls) != 20 {
		t.Errorf("got %d calls, want 20", len(fake.calls))
	}
}

func TestScheduler_InvalidMessageSkipped(t *testing.T) {
	t.Parallel()

	s := New(fastConfig(), newTestStore(), newFakeSink(), discardLogger())

	msg := event.DispatchMessage{DocumentID: "x"} // missing index
	err := s.dispatchOne(context.Background(), &msg)
	if !errors.Is(err, event.ErrInvalidMessage) {
		t.Fatalf("dispatchOne = %v, want ErrInvalidMessage", err)
	}
}

// =============================================================================
// Run Loop Tests
// =============================================================================

func TestScheduler_RunDispatchesOnInterval(t *testing.T) {
	t.Parallel()

	st := newTestStore()
	fake := newFakeSink()
	s := New(fastConfig(), st, fake, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	addEvent(t, st, event.KindUpsert, "a.txt")

	deadline := time.After(2 * time.Second)
	for len(fake.callsByOp("upload")) == 0 {
		select {
		case <-deadline:
			t.Fatal("scheduler never dispatched")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	if s.State() != StateStopped {
		t.Errorf("state = %v, want stopped", s.State())
	}
}

func TestScheduler_RunTwiceFails(t *testing.T) {
	t.Parallel()

	s := New(fastConfig(), newTestStore(), newFakeSink(), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	// Give the first Run a moment to claim the loop.
	time.Sleep(20 * time.Millisecond)

	if err := s.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Run() = %v, want ErrAlreadyRunning", err)
	}
}
