// Package dispatch implements the scheduler that drains the coalescing store
// on a fixed interval and fans the drained messages out to the remote sink
// with bounded concurrency. Failures are isolated per message: one bad
// dispatch never aborts its siblings, and nothing is re-enqueued. Transient
// recovery lives in the transport policy underneath the sink.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/adalundhe/docrelay/core/event"
	"github.com/adalundhe/docrelay/core/sink"
	"github.com/adalundhe/docrelay/core/store"
)

// =============================================================================
// State
// =============================================================================

// State is the scheduler's observable state. Each tick walks
// Idle → Draining → Dispatching → Idle; Stopped is terminal.
type State int32

const (
	// StateIdle means the scheduler is waiting for the next tick.
	StateIdle State = iota

	// StateDraining means the scheduler is taking the pending set.
	StateDraining

	// StateDispatching means sink calls are in flight.
	StateDispatching

	// StateStopped is the terminal state after cancellation.
	StateStopped
)

var stateNames = map[State]string{
	StateIdle:        "idle",
	StateDraining:    "draining",
	StateDispatching: "dispatching",
	StateStopped:     "stopped",
}

// String returns a human-readable name for the state.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// =============================================================================
// Outcome
// =============================================================================

// Outcome is the per-message dispatch result for one tick.
type Outcome struct {
	// Message is the dispatched message.
	Message event.DispatchMessage

	// Err is nil on success.
	Err error
}

// =============================================================================
// Scheduler
// =============================================================================

// Config tunes the scheduler.
type Config struct {
	// Interval is the time between drain ticks.
	Interval time.Duration

	// Concurrency bounds in-flight sink calls within one tick.
	Concurrency int

	// ShutdownGrace bounds how long an in-flight tick may keep running
	// after cancellation.
	ShutdownGrace time.Duration
}

// Scheduler drains the store every interval and dispatches concurrently.
type Scheduler struct {
	config Config
	store  *store.Store
	sink   sink.Sink
	logger *slog.Logger

	state   atomic.Int32
	running atomic.Bool
}

// ErrAlreadyRunning indicates Run was called while the loop was active.
var ErrAlreadyRunning = errors.New("dispatch scheduler is already running")

// New creates a scheduler. Zero config fields get working defaults.
func New(config Config, st *store.Store, sk sink.Sink, logger *slog.Logger) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Second
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.ShutdownGrace <= 0 {
		config.ShutdownGrace = 10 * time.Second
	}

	return &Scheduler{
		config: config,
		store:  st,
		sink:   sk,
		logger: logger,
	}
}

// State returns the scheduler's current state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

func (s *Scheduler) setState(state State) {
	s.state.Store(int32(state))
}

// =============================================================================
// Run Loop
// =============================================================================

// Run ticks until the context is cancelled. On cancellation the in-flight
// tick finishes naturally up to the shutdown grace, then its sink calls are
// aborted; messages already sent are not un-sent.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)
	defer s.setState(StateStopped)

	// Dispatch calls outlive the run context by the grace period so an
	// in-flight tick is not hard-aborted.
	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	defer cancelDispatch()
	go func() {
		<-ctx.Done()
		timer := time.NewTimer(s.config.ShutdownGrace)
		defer timer.Stop()
		select {
		case <-dispatchCtx.Done():
		case <-timer.C:
			cancelDispatch()
		}
	}()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.setState(StateIdle)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Tick(dispatchCtx)
		}
	}
}

// =============================================================================
// Tick
// =============================================================================

// Tick runs one drain-and-dispatch cycle and returns the per-message
// outcomes. A tick that finds nothing pending returns immediately.
func (s *Scheduler) Tick(ctx context.Context) []Outcome {
	s.setState(StateDraining)
	defer s.setState(StateIdle)

	batch := s.store.DrainAll()
	if len(batch) == 0 {
		return nil
	}

	s.setState(StateDispatching)

	batchID := uuid.NewString()
	s.logger.Debug("dispatching batch",
		slog.String("batch", batchID),
		slog.Int("messages", len(batch)))

	outcomes := s.dispatchBatch(ctx, batch)
	s.logOutcomes(batchID, outcomes)

	return outcomes
}

// dispatchBatch fans the batch out with bounded concurrency. Message order
// within a tick is not guaranteed.
func (s *Scheduler) dispatchBatch(ctx context.Context, batch []event.DispatchMessage) []Outcome {
	outcomes := make([]Outcome, len(batch))
	sem := make(chan struct{}, s.config.Concurrency)

	var wg sync.WaitGroup
	for i := range batch {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i] = Outcome{
				Message: batch[i],
				Err:     s.dispatchOne(ctx, &batch[i]),
			}
		}(i)
	}
	wg.Wait()

	return outcomes
}

// dispatchOne translates a single message into a sink call.
func (s *Scheduler) dispatchOne(ctx context.Context, msg *event.DispatchMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	switch msg.Event.Kind {
	case event.KindUpsert:
		source := filepath.Join(msg.Event.Directory, msg.Event.Name)
		if err := s.sink.Upload(ctx, msg.Index, msg.DocumentID, source); err != nil {
			return fmt.Errorf("upload %s: %w", msg.DocumentID, err)
		}
		return nil

	case event.KindDelete:
		if err := s.sink.Delete(ctx, msg.Index, msg.DocumentID); err != nil {
			return fmt.Errorf("delete %s: %w", msg.DocumentID, err)
		}
		return nil

	default:
		// Ignore-kind messages should never reach the store; skipping is
		// cheaper than failing if one does.
		return nil
	}
}

// logOutcomes writes one record per failure and a batch summary.
func (s *Scheduler) logOutcomes(batchID string, outcomes []Outcome) {
	failed := 0
	for i := range outcomes {
		if outcomes[i].Err == nil {
			continue
		}
		failed++
		s.logger.Error("dispatch failed",
			slog.String("batch", batchID),
			slog.String("document", outcomes[i].Message.DocumentID),
			slog.String("kind", outcomes[i].Message.Event.Kind.String()),
			slog.Any("error", outcomes[i].Err))
	}

	s.logger.Info("batch complete",
		slog.String("batch", batchID),
		slog.Int("dispatched", len(outcomes)-failed),
		slog.Int("failed", failed))
}
