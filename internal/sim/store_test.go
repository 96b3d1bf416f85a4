package sim

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/obocar/engine/internal/command"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestStore_InitialState(t *testing.T) {
	s := newTestStore(t)

	if s.State() != StateIdle {
		t.Errorf("expected idle, got %s", s.State())
	}
	if s.IsRunning() || s.IsActive() || s.IsPaused() {
		t.Error("fresh store should not report a run in progress")
	}
	if s.QueueLength() != 0 {
		t.Errorf("expected empty queue, got %d", s.QueueLength())
	}
}

func TestStore_StartRequiresQueuedCommands(t *testing.T) {
	s := newTestStore(t)

	if s.Start() {
		t.Error("start with an empty queue should be a no-op")
	}
	if s.State() != StateIdle {
		t.Errorf("expected idle after no-op start, got %s", s.State())
	}
}

func TestStore_StartWithQueuedCommands(t *testing.T) {
	s := newTestStore(t)

	// Commands can only be enqueued during a run, so stage one via BeginRun,
	// pause-free stop, then restart.
	if !s.BeginRun() {
		t.Fatal("expected BeginRun to succeed from idle")
	}
	if _, err := s.Enqueue(command.Forward(1)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if s.Start() {
		t.Error("start during an active run should be a no-op")
	}

	s.Stop()
	// The sweep cleared the queue, so another start stays a no-op.
	if s.Start() {
		t.Error("start after stop with a swept queue should be a no-op")
	}
}

func TestStore_BeginRun(t *testing.T) {
	s := newTestStore(t)

	if !s.BeginRun() {
		t.Fatal("expected BeginRun from idle")
	}
	if s.State() != StateRunning {
		t.Errorf("expected running, got %s", s.State())
	}
	if s.BeginRun() {
		t.Error("BeginRun during a run should fail")
	}

	s.Stop()
	if !s.BeginRun() {
		t.Error("expected BeginRun from stopped")
	}
}

func TestStore_PauseResume(t *testing.T) {
	s := newTestStore(t)

	if s.Pause() {
		t.Error("pause while idle should fail")
	}

	s.BeginRun()
	if !s.Pause() {
		t.Fatal("expected pause while running")
	}
	if s.State() != StatePaused {
		t.Errorf("expected paused, got %s", s.State())
	}
	if !s.IsRunning() {
		t.Error("paused still counts as a run in progress")
	}
	if s.IsActive() {
		t.Error("paused must not be active")
	}
	if s.Pause() {
		t.Error("double pause should fail")
	}

	if !s.Resume() {
		t.Fatal("expected resume while paused")
	}
	if s.State() != StateRunning {
		t.Errorf("expected running, got %s", s.State())
	}
	if s.Resume() {
		t.Error("resume while running should fail")
	}
}

func TestStore_StopSweepsEverything(t *testing.T) {
	s := newTestStore(t)
	s.BeginRun()

	h1, err := s.Enqueue(command.Forward(2))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	h2, err := s.Enqueue(command.Turn(90))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	s.Stop()

	if s.State() != StateStopped {
		t.Errorf("expected stopped, got %s", s.State())
	}
	if s.QueueLength() != 0 {
		t.Errorf("expected swept queue, got %d commands", s.QueueLength())
	}
	o1 := <-h1.Done()
	o2 := <-h2.Done()
	if !errors.Is(o1.Err, ErrRunCancelled) || !errors.Is(o2.Err, ErrRunCancelled) {
		t.Errorf("expected ErrRunCancelled for both handles, got %v and %v", o1.Err, o2.Err)
	}
}

func TestStore_ResetClearsError(t *testing.T) {
	s := newTestStore(t)
	s.BeginRun()
	s.Fail(errors.New("battery exhausted"))

	if s.State() != StateError {
		t.Fatalf("expected error state, got %s", s.State())
	}
	if s.ExecutionError() == nil {
		t.Fatal("expected recorded execution error")
	}

	s.Reset()
	if s.State() != StateIdle {
		t.Errorf("expected idle after reset, got %s", s.State())
	}
	if s.ExecutionError() != nil {
		t.Error("reset must clear the execution error")
	}
}

func TestStore_ErrorIsAbsorbing(t *testing.T) {
	s := newTestStore(t)
	s.BeginRun()

	first := errors.New("first failure")
	s.Fail(first)
	s.Fail(errors.New("second failure"))

	if !errors.Is(s.ExecutionError(), first) {
		t.Errorf("expected first error to stick, got %v", s.ExecutionError())
	}
	if s.Pause() || s.Resume() || s.BeginRun() || s.Start() {
		t.Error("no transition but reset may leave the error state")
	}

	s.Reset()
	if s.State() != StateIdle {
		t.Errorf("expected idle, got %s", s.State())
	}
}

func TestStore_FailCancelsSuspendedCalls(t *testing.T) {
	s := newTestStore(t)
	s.BeginRun()

	h, err := s.Enqueue(command.Wait(1))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	s.Fail(errors.New("script exception"))

	o := <-h.Done()
	if !errors.Is(o.Err, ErrRunCancelled) {
		t.Errorf("expected ErrRunCancelled, got %v", o.Err)
	}
}

func TestStore_CompleteRun(t *testing.T) {
	s := newTestStore(t)

	if s.CompleteRun() {
		t.Error("complete while idle should fail")
	}

	s.BeginRun()
	if !s.CompleteRun() {
		t.Fatal("expected complete while running")
	}
	if s.State() != StateStopped {
		t.Errorf("expected stopped, got %s", s.State())
	}

	s.BeginRun()
	s.Pause()
	if !s.CompleteRun() {
		t.Error("expected complete while paused")
	}
}

func TestStore_EnqueueGating(t *testing.T) {
	s := newTestStore(t)

	// Idle rejects commands.
	if _, err := s.Enqueue(command.Forward(1)); !errors.Is(err, ErrExecutionHalted) {
		t.Errorf("expected ErrExecutionHalted while idle, got %v", err)
	}

	s.BeginRun()
	if _, err := s.Enqueue(command.Forward(1)); err != nil {
		t.Errorf("expected enqueue while running, got %v", err)
	}

	// Paused still accepts commands; they sit until resume.
	s.Pause()
	if _, err := s.Enqueue(command.Turn(45)); err != nil {
		t.Errorf("expected enqueue while paused, got %v", err)
	}

	s.Resume()
	s.Stop()
	if _, err := s.Enqueue(command.Forward(1)); !errors.Is(err, ErrExecutionHalted) {
		t.Errorf("expected ErrExecutionHalted while stopped, got %v", err)
	}
}

func TestStore_EnqueueRejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	s.BeginRun()

	if _, err := s.Enqueue(command.Wait(-1)); !errors.Is(err, command.ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
	if s.QueueLength() != 0 {
		t.Error("invalid command must not enter the queue")
	}
}

func TestStore_EnqueueLinksHandle(t *testing.T) {
	s := newTestStore(t)
	s.BeginRun()

	h, err := s.Enqueue(command.Sensor(command.SensorFront))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	c, ok := s.NextCommand()
	if !ok {
		t.Fatal("expected a queued command")
	}
	if c.HandleID != h.ID() {
		t.Errorf("expected handle id %d on the command, got %d", h.ID(), c.HandleID)
	}

	if !s.Loops().Resolve(c.HandleID, 12.5) {
		t.Fatal("expected resolve through the registry")
	}
	o := <-h.Done()
	if o.Err != nil || o.Value != 12.5 {
		t.Errorf("unexpected outcome %+v", o)
	}
}

func TestStore_GenerationBumps(t *testing.T) {
	s := newTestStore(t)
	g0 := s.Generation()

	s.BeginRun()
	g1 := s.Generation()
	if g1 <= g0 {
		t.Error("BeginRun must bump the generation")
	}

	s.Stop()
	g2 := s.Generation()
	if g2 <= g1 {
		t.Error("stop must bump the generation")
	}

	s.Reset()
	if s.Generation() <= g2 {
		t.Error("reset must bump the generation")
	}
}

func TestStore_Snapshot(t *testing.T) {
	s := newTestStore(t)
	s.SetDebug(true)
	s.BeginRun()
	if _, err := s.Enqueue(command.Forward(1)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	snap := s.Snapshot()
	if snap.State != StateRunning {
		t.Errorf("expected running, got %s", snap.State)
	}
	if snap.QueueLength != 1 {
		t.Errorf("expected 1 queued command, got %d", snap.QueueLength)
	}
	if snap.ActiveLoops != 1 {
		t.Errorf("expected 1 active loop, got %d", snap.ActiveLoops)
	}
	if !snap.DebugMode {
		t.Error("expected debug mode on")
	}
	if snap.ExecutionError != "" {
		t.Errorf("expected no execution error, got %q", snap.ExecutionError)
	}

	s.Fail(errors.New("boom"))
	if got := s.Snapshot().ExecutionError; got != "boom" {
		t.Errorf("expected execution error in snapshot, got %q", got)
	}
}
