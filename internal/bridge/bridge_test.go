package bridge

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/obocar/engine/internal/executor"
	"github.com/obocar/engine/internal/sim"
	"github.com/obocar/engine/internal/vehicle"
	"github.com/obocar/engine/internal/world"
)

type fixture struct {
	store  *sim.Store
	veh    *vehicle.Vehicle
	world  *world.World
	exec   *executor.Executor
	bridge *Bridge
	stop   chan struct{}
}

// newFixture wires a bridge to a real store and executor and runs a tick
// loop on a background goroutine, so blocking bridge calls resolve the way
// they do in the engine.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := sim.NewStore(log)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	wcfg := world.DefaultConfig()
	wcfg.NoiseAmplitude = 0
	w := world.New(wcfg, 1)
	veh := vehicle.New()

	exec := executor.New(executor.DefaultConfig(), executor.Dependencies{
		Store:   store,
		Vehicle: veh,
		World:   w,
		Logger:  log,
	})

	f := &fixture{
		store:  store,
		veh:    veh,
		world:  w,
		exec:   exec,
		bridge: New(store, veh, w, log),
		stop:   make(chan struct{}),
	}

	go func() {
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-f.stop:
				return
			case <-ticker.C:
				// Large elapsed values complete most commands in one tick,
				// keeping the tests fast.
				_ = exec.Tick(time.Second)
			}
		}
	}()
	t.Cleanup(func() { close(f.stop) })
	return f
}

func TestForward(t *testing.T) {
	f := newFixture(t)
	f.store.BeginRun()

	if err := f.bridge.Forward(3); err != nil {
		t.Fatalf("forward: %v", err)
	}

	pos := f.bridge.Position()
	if math.Abs(pos.Z-3) > 1e-9 {
		t.Errorf("expected z=3, got %v", pos.Z)
	}
	if got := f.bridge.Distance(); math.Abs(got-3) > 1e-9 {
		t.Errorf("expected distance 3, got %v", got)
	}
}

func TestBackward(t *testing.T) {
	f := newFixture(t)
	f.store.BeginRun()

	if err := f.bridge.Backward(2); err != nil {
		t.Fatalf("backward: %v", err)
	}
	if pos := f.bridge.Position(); math.Abs(pos.Z+2) > 1e-9 {
		t.Errorf("expected z=-2, got %v", pos.Z)
	}
}

func TestLeftRight(t *testing.T) {
	f := newFixture(t)
	f.store.BeginRun()

	if err := f.bridge.Right(90); err != nil {
		t.Fatalf("right: %v", err)
	}
	if got := f.bridge.Heading(); math.Abs(got-90) > 1e-9 {
		t.Errorf("expected heading 90, got %v", got)
	}

	if err := f.bridge.Left(135); err != nil {
		t.Fatalf("left: %v", err)
	}
	if got := f.bridge.Heading(); math.Abs(got-315) > 1e-9 {
		t.Errorf("expected heading 315, got %v", got)
	}
}

func TestSensor(t *testing.T) {
	f := newFixture(t)
	f.world.AddObstacle(0, 8)
	f.store.BeginRun()

	got, err := f.bridge.Sensor("front")
	if err != nil {
		t.Fatalf("sensor: %v", err)
	}
	if math.Abs(got-8) > 1e-9 {
		t.Errorf("expected reading 8, got %v", got)
	}
}

func TestSensor_InvalidDirection(t *testing.T) {
	f := newFixture(t)
	f.store.BeginRun()

	if _, err := f.bridge.Sensor("sideways"); err == nil {
		t.Error("expected validation error")
	}
}

func TestCallsRejectedWhenHalted(t *testing.T) {
	f := newFixture(t)

	// Idle: no run is accepting commands.
	if err := f.bridge.Forward(1); !errors.Is(err, sim.ErrExecutionHalted) {
		t.Errorf("expected ErrExecutionHalted, got %v", err)
	}

	f.store.BeginRun()
	f.store.Stop()
	if err := f.bridge.Forward(1); !errors.Is(err, sim.ErrExecutionHalted) {
		t.Errorf("expected ErrExecutionHalted after stop, got %v", err)
	}
}

func TestCancellationPanics(t *testing.T) {
	f := newFixture(t)
	f.store.BeginRun()
	f.store.Pause() // executor frozen, the call stays suspended

	panicked := make(chan any, 1)
	started := make(chan struct{})
	go func() {
		defer func() { panicked <- recover() }()
		close(started)
		_ = f.bridge.Wait(60)
	}()

	<-started
	// Give the call time to enqueue and suspend, then sweep it.
	deadline := time.After(2 * time.Second)
	for f.store.Loops().Len() == 0 {
		select {
		case <-deadline:
			t.Fatal("call never suspended")
		case <-time.After(time.Millisecond):
		}
	}
	f.store.Stop()

	select {
	case v := <-panicked:
		if _, ok := v.(Cancellation); !ok {
			t.Errorf("expected Cancellation panic, got %#v", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("suspended call never unwound")
	}
}

func TestConcurrentCallRejected(t *testing.T) {
	f := newFixture(t)
	f.store.BeginRun()
	f.store.Pause() // keep the first call suspended

	started := make(chan struct{})
	go func() {
		close(started)
		defer func() { recover() }() // unwound by the cleanup sweep
		_ = f.bridge.Wait(60)
	}()
	<-started

	deadline := time.After(2 * time.Second)
	for f.store.Loops().Len() == 0 {
		select {
		case <-deadline:
			t.Fatal("first call never suspended")
		case <-time.After(time.Millisecond):
		}
	}

	if err := f.bridge.Forward(1); err == nil {
		t.Error("expected second concurrent call to be rejected")
	}

	f.store.Stop()
}

func TestGetters_NeverSuspend(t *testing.T) {
	f := newFixture(t)

	// All getters work while idle with no run in progress.
	if got := f.bridge.Battery(); got != 100 {
		t.Errorf("expected battery 100, got %v", got)
	}
	if got := f.bridge.Heading(); got != 0 {
		t.Errorf("expected heading 0, got %v", got)
	}
	if got := f.bridge.Distance(); got != 0 {
		t.Errorf("expected distance 0, got %v", got)
	}
	if pos := f.bridge.Position(); pos.X != 0 || pos.Z != 0 {
		t.Errorf("expected origin, got %+v", pos)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.bridge.AddObstacle(3, 0)
	f.bridge.AddObstacle(50, 50)
	f.store.BeginRun()

	if err := f.bridge.Forward(2); err != nil {
		t.Fatalf("forward: %v", err)
	}

	st := f.bridge.Status()
	if math.Abs(st.Position.Z-2) > 1e-9 {
		t.Errorf("expected z=2, got %v", st.Position.Z)
	}
	if math.Abs(st.Battery-98) > 1e-9 {
		t.Errorf("expected battery 98, got %v", st.Battery)
	}
	if math.Abs(st.Distance-2) > 1e-9 {
		t.Errorf("expected distance 2, got %v", st.Distance)
	}
	if st.ObstaclesNearby != 1 {
		t.Errorf("expected 1 obstacle within 10 units, got %d", st.ObstaclesNearby)
	}
}
