// Package sim holds the authoritative simulation run state: the command
// queue, the active-loop registry, and the run-state machine shared by the
// script bridge and the command executor. The bridge and the executor
// never talk to each other directly; all coordination goes through the
// store.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/obocar/engine/internal/command"
	"github.com/obocar/engine/internal/loop"
	"github.com/obocar/engine/internal/queue"
)

// State is the run state of the simulation.
//
// Transitions: Idle -> Running <-> Paused -> Stopped, with Error as an
// absorbing state reachable from Running/Paused. Paused implies a run is
// in progress; the engine cannot be paused while stopped.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
	StateError   State = "error"
)

// Snapshot is a point-in-time copy of the store's observable state.
type Snapshot struct {
	State          State  `json:"state"`
	QueueLength    int    `json:"queueLength"`
	ActiveLoops    int    `json:"activeLoops"`
	ExecutionError string `json:"executionError,omitempty"`
	DebugMode      bool   `json:"debugMode"`
}

// Store owns the command queue, the active-loop registry and the run-state
// flags. It is the single writer of run state. The script interpreter and
// the tick loop run on separate goroutines, so every access is guarded by
// the store's mutex.
type Store struct {
	mu         sync.RWMutex
	state      State
	queue      *queue.FIFO[command.Command]
	loops      *loop.Registry
	execErr    error
	debug      bool
	generation uint64

	log *slog.Logger

	enqueued    metric.Int64Counter
	transitions metric.Int64Counter
	swept       metric.Int64Counter
}

// NewStore creates a store in the Idle state. Metrics are registered on
// the global OTel meter (no-op when no provider is configured).
func NewStore(log *slog.Logger) (*Store, error) {
	s := &Store{
		state: StateIdle,
		queue: queue.New[command.Command](),
		loops: loop.NewRegistry(),
		log:   log,
	}

	m := meter()
	var err error

	s.enqueued, err = m.Int64Counter(
		"sim.commands.enqueued",
		metric.WithDescription("Total commands accepted onto the queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating enqueued counter: %w", err)
	}

	s.transitions, err = m.Int64Counter(
		"sim.state.transitions",
		metric.WithDescription("Total run-state transitions"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating transitions counter: %w", err)
	}

	s.swept, err = m.Int64Counter(
		"sim.loops.cancelled",
		metric.WithDescription("Total suspended calls cancelled by sweeps"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating swept counter: %w", err)
	}

	queueLen, err := m.Int64ObservableGauge(
		"sim.queue.length",
		metric.WithDescription("Current number of queued commands"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue gauge: %w", err)
	}

	activeLoops, err := m.Int64ObservableGauge(
		"sim.loops.active",
		metric.WithDescription("Current number of suspended script calls"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating loops gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(queueLen, int64(s.queue.Len()))
			o.ObserveInt64(activeLoops, int64(s.loops.Len()))
			return nil
		},
		queueLen, activeLoops,
	)
	if err != nil {
		return nil, fmt.Errorf("registering gauge callback: %w", err)
	}

	return s, nil
}

// State returns the current run state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsRunning reports whether a run is in progress (running or paused).
func (s *Store) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateRunning || s.state == StatePaused
}

// IsActive reports whether the executor should advance time this tick.
func (s *Store) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateRunning
}

// IsPaused reports whether the run is paused.
func (s *Store) IsPaused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StatePaused
}

// Generation returns the current run generation. It increments whenever a
// run starts or is torn down, so the executor can detect that a command it
// was advancing belongs to a cancelled run and must be dropped.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// ExecutionError returns the fatal error that forced the Error state, or
// nil.
func (s *Store) ExecutionError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.execErr
}

// SetDebug toggles debug mode. Debug mode only affects log verbosity and
// is reported in snapshots; it never changes execution semantics.
func (s *Store) SetDebug(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debug = on
}

// Debug reports whether debug mode is on.
func (s *Store) Debug() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.debug
}

// Snapshot returns a copy of the observable store state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		State:       s.state,
		QueueLength: s.queue.Len(),
		ActiveLoops: s.loops.Len(),
		DebugMode:   s.debug,
	}
	if s.execErr != nil {
		snap.ExecutionError = s.execErr.Error()
	}
	return snap
}

// Start begins draining queued commands: Idle/Stopped -> Running. It is a
// silent no-op when the queue is empty or a run is already in progress,
// and reports whether the transition happened.
func (s *Store) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle && s.state != StateStopped {
		return false
	}
	if s.queue.Empty() {
		return false
	}
	s.toLocked(StateRunning)
	s.generation++
	return true
}

// BeginRun transitions Idle/Stopped -> Running unconditionally. It is used
// when a script run launches: the queue is empty at that instant because
// the script has not issued its first call yet.
func (s *Store) BeginRun() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle && s.state != StateStopped {
		return false
	}
	s.toLocked(StateRunning)
	s.generation++
	return true
}

// Pause freezes execution: Running -> Paused. The queue and the registry
// are untouched; time simply stops accruing for the executor.
func (s *Store) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return false
	}
	s.toLocked(StatePaused)
	return true
}

// Resume continues execution from exactly where it paused: Paused ->
// Running. No elapsed wall time is caught up and no command restarts.
func (s *Store) Resume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return false
	}
	s.toLocked(StateRunning)
	return true
}

// Stop aborts the run from any state: every suspended script call is
// cancelled, the queue is cleared, and the state becomes Stopped.
func (s *Store) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.toLocked(StateStopped)
}

// Reset performs Stop semantics and returns the store to Idle with no
// recorded error. The caller is responsible for resetting vehicle state.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.execErr = nil
	s.toLocked(StateIdle)
}

// Fail records a fatal execution error and forces the Error state with the
// same cancellation sweep as Stop. Once in Error, only Reset leaves it.
func (s *Store) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateError {
		return
	}
	s.sweepLocked()
	s.execErr = err
	s.toLocked(StateError)
	s.log.Error("fatal execution error", "error", err)
}

// CompleteRun marks normal script completion: Running/Paused -> Stopped.
// A normal completion leaves no suspended calls, but any stragglers are
// swept so the invariant of an empty registry holds regardless.
func (s *Store) CompleteRun() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning && s.state != StatePaused {
		return false
	}
	s.sweepLocked()
	s.toLocked(StateStopped)
	return true
}

// Enqueue validates the command, registers a suspension handle for it and
// appends it to the queue. It fails with command.ErrInvalid for malformed
// commands (queue untouched) and ErrExecutionHalted when no run can accept
// commands.
func (s *Store) Enqueue(c command.Command) (*loop.Handle, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning && s.state != StatePaused {
		return nil, ErrExecutionHalted
	}

	h := s.loops.Register()
	c.HandleID = h.ID()
	s.queue.Push(c)
	s.enqueued.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("kind", string(c.Kind))))

	if s.debug {
		s.log.Debug("command enqueued", "command", c.String(), "handle", h.ID())
	}
	return h, nil
}

// NextCommand pops the front command for the executor. It returns false
// when the queue is empty.
func (s *Store) NextCommand() (command.Command, bool) {
	return s.queue.Pop()
}

// QueueLength returns the number of queued commands.
func (s *Store) QueueLength() int {
	return s.queue.Len()
}

// Loops exposes the active-loop registry. The executor resolves handles
// through it; resolutions for swept handles are discarded by the registry.
func (s *Store) Loops() *loop.Registry {
	return s.loops
}

// sweepLocked cancels all suspended calls, clears the queue and bumps the
// run generation. Callers hold s.mu.
func (s *Store) sweepLocked() {
	n := s.loops.CancelAll(ErrRunCancelled)
	dropped := s.queue.Len()
	s.queue.Clear()
	s.generation++
	if n > 0 || dropped > 0 {
		s.swept.Add(context.Background(), int64(n))
		s.log.Info("cancellation sweep", "loops", n, "dropped", dropped)
	}
}

// toLocked records a state transition. Callers hold s.mu.
func (s *Store) toLocked(next State) {
	if s.state == next {
		return
	}
	prev := s.state
	s.state = next
	s.transitions.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("to", string(next))))
	s.log.Info("run state changed", "from", string(prev), "to", string(next))
}
