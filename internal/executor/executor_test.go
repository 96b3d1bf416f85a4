package executor

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/obocar/engine/internal/command"
	"github.com/obocar/engine/internal/loop"
	"github.com/obocar/engine/internal/sim"
	"github.com/obocar/engine/internal/vehicle"
	"github.com/obocar/engine/internal/world"
)

type capturingSink struct {
	completed []command.Command
	samples   []vehicle.PathSample
}

func (s *capturingSink) CommandCompleted(c command.Command, _ vehicle.State, _ time.Time) {
	s.completed = append(s.completed, c)
}

func (s *capturingSink) PathSampleRecorded(p vehicle.PathSample) {
	s.samples = append(s.samples, p)
}

type fixture struct {
	store *sim.Store
	veh   *vehicle.Vehicle
	world *world.World
	exec  *Executor
	sink  *capturingSink
}

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
	sink := &capturingSink{}
	exec := New(DefaultConfig(), Dependencies{
		Store:   store,
		Vehicle: veh,
		World:   w,
		Logger:  log,
		Sink:    sink,
		Now:     func() time.Time { return time.Unix(1700000000, 0) },
	})
	return &fixture{store: store, veh: veh, world: w, exec: exec, sink: sink}
}

func (f *fixture) enqueue(t *testing.T, c command.Command) *loop.Handle {
	t.Helper()
	h, err := f.store.Enqueue(c)
	if err != nil {
		t.Fatalf("enqueue %s: %v", c.String(), err)
	}
	return h
}

// tickUntil runs fixed-size ticks until the handle resolves or the tick
// budget runs out.
func tickUntil(t *testing.T, f *fixture, h *loop.Handle, dt time.Duration, maxTicks int) loop.Outcome {
	t.Helper()
	for i := 0; i < maxTicks; i++ {
		if err := f.exec.Tick(dt); err != nil {
			t.Fatalf("tick: %v", err)
		}
		select {
		case o := <-h.Done():
			return o
		default:
		}
	}
	t.Fatalf("handle never resolved within %d ticks", maxTicks)
	return loop.Outcome{}
}

func TestTick_NoopWhenIdle(t *testing.T) {
	f := newFixture(t)
	if err := f.exec.Tick(100 * time.Millisecond); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if st := f.veh.Snapshot(); st.Position.Z != 0 {
		t.Error("idle tick must not move the vehicle")
	}
}

func TestForward_CompletesOverTicks(t *testing.T) {
	f := newFixture(t)
	f.store.BeginRun()

	// 3 units at 5 u/s is 0.6s of movement: seven 100ms ticks are enough.
	h := f.enqueue(t, command.Forward(3))
	o := tickUntil(t, f, h, 100*time.Millisecond, 10)

	if o.Err != nil {
		t.Fatalf("unexpected error: %v", o.Err)
	}
	st := f.veh.Snapshot()
	if math.Abs(st.Position.Z-3) > 1e-9 {
		t.Errorf("expected z=3, got %v", st.Position.Z)
	}
	if math.Abs(st.TotalDistance-3) > 1e-9 {
		t.Errorf("expected distance 3, got %v", st.TotalDistance)
	}
	if math.Abs(st.Battery-97) > 1e-9 {
		t.Errorf("expected battery 97, got %v", st.Battery)
	}
}

func TestForward_PartialProgressPerTick(t *testing.T) {
	f := newFixture(t)
	f.store.BeginRun()
	f.enqueue(t, command.Forward(3))

	if err := f.exec.Tick(100 * time.Millisecond); err != nil {
		t.Fatalf("tick: %v", err)
	}
	st := f.veh.Snapshot()
	if math.Abs(st.Position.Z-0.5) > 1e-9 {
		t.Errorf("expected 0.5 units after one 100ms tick at 5 u/s, got %v", st.Position.Z)
	}
}

func TestTurn_CompletesAndCostsOnce(t *testing.T) {
	f := newFixture(t)
	f.store.BeginRun()

	// 90 degrees at 90 deg/s is 1s.
	h := f.enqueue(t, command.Turn(90))
	o := tickUntil(t, f, h, 100*time.Millisecond, 15)

	if o.Err != nil {
		t.Fatalf("unexpected error: %v", o.Err)
	}
	st := f.veh.Snapshot()
	if math.Abs(st.Heading-90) > 1e-9 {
		t.Errorf("expected heading 90, got %v", st.Heading)
	}
	// One turn cost (0.5), no movement drain.
	if math.Abs(st.Battery-99.5) > 1e-9 {
		t.Errorf("expected battery 99.5, got %v", st.Battery)
	}
}

func TestWait_ConsumesTime(t *testing.T) {
	f := newFixture(t)
	f.store.BeginRun()

	h := f.enqueue(t, command.Wait(0.5))

	// Four 100ms ticks: not done yet.
	for i := 0; i < 4; i++ {
		if err := f.exec.Tick(100 * time.Millisecond); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}
	select {
	case <-h.Done():
		t.Fatal("wait resolved early")
	default:
	}

	if err := f.exec.Tick(100 * time.Millisecond); err != nil {
		t.Fatalf("tick: %v", err)
	}
	select {
	case o := <-h.Done():
		if o.Err != nil {
			t.Fatalf("unexpected error: %v", o.Err)
		}
	default:
		t.Fatal("wait should have resolved after 0.5s of ticks")
	}
}

func TestSensor_ResolvesSameTick(t *testing.T) {
	f := newFixture(t)
	f.world.AddObstacle(0, 5)
	f.store.BeginRun()

	h := f.enqueue(t, command.Sensor(command.SensorFront))
	if err := f.exec.Tick(time.Millisecond); err != nil {
		t.Fatalf("tick: %v", err)
	}

	select {
	case o := <-h.Done():
		if o.Err != nil {
			t.Fatalf("unexpected error: %v", o.Err)
		}
		if math.Abs(o.Value-5) > 1e-9 {
			t.Errorf("expected reading 5, got %v", o.Value)
		}
	default:
		t.Fatal("sensor must resolve on the tick it is popped")
	}
}

func TestSensor_UsesVehicleHeading(t *testing.T) {
	f := newFixture(t)
	f.world.AddObstacle(5, 0) // due east
	f.store.BeginRun()

	// Right sensor with heading 0 points east.
	h := f.enqueue(t, command.Sensor(command.SensorRight))
	o := tickUntil(t, f, h, time.Millisecond, 2)
	if math.Abs(o.Value-5) > 1e-9 {
		t.Errorf("expected right sensor to see the obstacle at 5, got %v", o.Value)
	}

	// Front sensor sees nothing: saturated reading.
	h = f.enqueue(t, command.Sensor(command.SensorFront))
	o = tickUntil(t, f, h, time.Millisecond, 2)
	if o.Value != 20 {
		t.Errorf("expected saturated front reading, got %v", o.Value)
	}
}

func TestQueue_FIFOWithinOneTick(t *testing.T) {
	f := newFixture(t)
	f.store.BeginRun()

	h1 := f.enqueue(t, command.Forward(1))
	h2 := f.enqueue(t, command.Turn(45))
	h3 := f.enqueue(t, command.Sensor(command.SensorFront))

	// One big tick carries enough time for all three commands.
	if err := f.exec.Tick(5 * time.Second); err != nil {
		t.Fatalf("tick: %v", err)
	}

	for i, h := range []*loop.Handle{h1, h2, h3} {
		select {
		case o := <-h.Done():
			if o.Err != nil {
				t.Errorf("command %d failed: %v", i, o.Err)
			}
		default:
			t.Fatalf("command %d not resolved", i)
		}
	}

	if len(f.sink.completed) != 3 {
		t.Fatalf("expected 3 completions, got %d", len(f.sink.completed))
	}
	if f.sink.completed[0].Kind != command.KindForward ||
		f.sink.completed[1].Kind != command.KindTurn ||
		f.sink.completed[2].Kind != command.KindSensor {
		t.Errorf("completions out of order: %+v", f.sink.completed)
	}
}

func TestPause_FreezesProgress(t *testing.T) {
	f := newFixture(t)
	f.store.BeginRun()
	f.enqueue(t, command.Forward(3))

	if err := f.exec.Tick(100 * time.Millisecond); err != nil {
		t.Fatalf("tick: %v", err)
	}
	before := f.veh.Snapshot()

	f.store.Pause()
	for i := 0; i < 10; i++ {
		if err := f.exec.Tick(100 * time.Millisecond); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}
	if after := f.veh.Snapshot(); after.Position.Z != before.Position.Z {
		t.Error("paused ticks must not advance the vehicle")
	}

	// Resume continues from where it stopped with no catch-up.
	f.store.Resume()
	if err := f.exec.Tick(100 * time.Millisecond); err != nil {
		t.Fatalf("tick: %v", err)
	}
	after := f.veh.Snapshot()
	if math.Abs(after.Position.Z-before.Position.Z-0.5) > 1e-9 {
		t.Errorf("expected exactly one tick of progress after resume, got %v",
			after.Position.Z-before.Position.Z)
	}
}

func TestStop_DropsInFlightCommand(t *testing.T) {
	f := newFixture(t)
	f.store.BeginRun()

	h := f.enqueue(t, command.Forward(10))
	if err := f.exec.Tick(100 * time.Millisecond); err != nil {
		t.Fatalf("tick: %v", err)
	}

	f.store.Stop()
	o := <-h.Done()
	if !errors.Is(o.Err, sim.ErrRunCancelled) {
		t.Errorf("expected cancellation, got %v", o.Err)
	}
	pos := f.veh.Snapshot().Position.Z

	// A new run must not replay the dropped command.
	f.store.BeginRun()
	for i := 0; i < 5; i++ {
		if err := f.exec.Tick(100 * time.Millisecond); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}
	if got := f.veh.Snapshot().Position.Z; got != pos {
		t.Errorf("stale command advanced the vehicle from %v to %v", pos, got)
	}
	if len(f.sink.completed) != 0 {
		t.Errorf("cancelled command must not complete, got %+v", f.sink.completed)
	}
}

func TestCollision_AppliesPenalty(t *testing.T) {
	f := newFixture(t)
	f.world.AddObstacle(0, 3)
	f.store.BeginRun()

	h := f.enqueue(t, command.Forward(3))
	o := tickUntil(t, f, h, 100*time.Millisecond, 10)
	if o.Err != nil {
		t.Fatalf("unexpected error: %v", o.Err)
	}

	st := f.veh.Snapshot()
	// 3 units of drain plus the 10 point collision penalty.
	if math.Abs(st.Battery-87) > 1e-9 {
		t.Errorf("expected battery 87 after collision, got %v", st.Battery)
	}
}

func TestPathSamples_RecordedOnMotion(t *testing.T) {
	f := newFixture(t)
	f.store.BeginRun()

	h := f.enqueue(t, command.Forward(2))
	tickUntil(t, f, h, 100*time.Millisecond, 10)
	h = f.enqueue(t, command.Turn(90))
	tickUntil(t, f, h, 100*time.Millisecond, 15)
	h = f.enqueue(t, command.Forward(1))
	tickUntil(t, f, h, 100*time.Millisecond, 10)

	samples := f.sink.samples
	if len(samples) != 2 {
		t.Fatalf("expected 2 path samples (turns record none), got %d", len(samples))
	}
	if math.Abs(samples[0].Z-2) > 1e-9 {
		t.Errorf("unexpected first sample %+v", samples[0])
	}
	if math.Abs(samples[1].X-1) > 1e-9 || math.Abs(samples[1].Z-2) > 1e-9 {
		t.Errorf("unexpected second sample %+v", samples[1])
	}
}

func TestPathSamples_ZeroLengthMoveSkipped(t *testing.T) {
	f := newFixture(t)
	f.store.BeginRun()

	h := f.enqueue(t, command.Forward(0))
	tickUntil(t, f, h, 100*time.Millisecond, 3)

	if len(f.sink.samples) != 0 {
		t.Errorf("zero-length move must not record a sample, got %+v", f.sink.samples)
	}
}

func TestReset_RestoresVehicle(t *testing.T) {
	f := newFixture(t)
	f.store.BeginRun()
	h := f.enqueue(t, command.Forward(2))
	tickUntil(t, f, h, 100*time.Millisecond, 10)

	f.store.Reset()
	f.exec.Reset()

	st := f.veh.Snapshot()
	if st.Position.Z != 0 || st.Battery != 100 || st.TotalDistance != 0 {
		t.Errorf("expected pristine vehicle after reset, got %+v", st)
	}
	if len(f.veh.Path()) != 0 {
		t.Error("expected cleared path after reset")
	}
}

// Drive a short script worth of commands end to end and check the final
// pose: forward 3, wait, read the front sensor, turn right 90, forward 2.
func TestScenario_ForwardTurnForward(t *testing.T) {
	f := newFixture(t)
	f.store.BeginRun()

	steps := []command.Command{
		command.Forward(3),
		command.Wait(0.5),
		command.Sensor(command.SensorFront),
		command.Turn(90),
		command.Forward(2),
	}
	for _, c := range steps {
		h := f.enqueue(t, c)
		o := tickUntil(t, f, h, 50*time.Millisecond, 50)
		if o.Err != nil {
			t.Fatalf("%s failed: %v", c.String(), o.Err)
		}
	}

	st := f.veh.Snapshot()
	if math.Abs(st.Position.X-2) > 1e-9 || math.Abs(st.Position.Z-3) > 1e-9 {
		t.Errorf("expected final position (2, 3), got (%v, %v)", st.Position.X, st.Position.Z)
	}
	if math.Abs(st.Heading-90) > 1e-9 {
		t.Errorf("expected heading 90, got %v", st.Heading)
	}
	if math.Abs(st.TotalDistance-5) > 1e-9 {
		t.Errorf("expected total distance 5, got %v", st.TotalDistance)
	}
	// 5 units of movement plus one turn.
	if math.Abs(st.Battery-94.5) > 1e-9 {
		t.Errorf("expected battery 94.5, got %v", st.Battery)
	}
}
