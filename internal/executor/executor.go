// Package executor drives queued commands against frame time. It is the
// only writer of vehicle state: each tick it advances the in-progress
// command by the elapsed frame time, resolves the suspended script call
// when the command's target is reached, and moves on to the next queued
// command.
package executor

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/obocar/engine/internal/command"
	"github.com/obocar/engine/internal/sim"
	"github.com/obocar/engine/internal/vehicle"
	"github.com/obocar/engine/internal/world"
)

// completion tolerance for motion targets, in units or degrees.
const epsilon = 1e-9

// Config holds motion tuning.
type Config struct {
	// Speed in units per second for forward movement.
	Speed float64
	// TurnRate in degrees per second.
	TurnRate float64
}

// DefaultConfig returns motion tuning that keeps movement visibly smooth.
func DefaultConfig() Config {
	return Config{
		Speed:    5.0,
		TurnRate: 90.0,
	}
}

// Sink receives command lifecycle notifications. Implementations must not
// block: they are called from the tick loop.
type Sink interface {
	CommandCompleted(c command.Command, st vehicle.State, t time.Time)
	PathSampleRecorded(s vehicle.PathSample)
}

// Executor pops commands from the store and integrates them over ticks.
type Executor struct {
	store *sim.Store
	veh   *vehicle.Vehicle
	world *world.World
	cfg   Config
	log   *slog.Logger
	sink  Sink
	now   func() time.Time

	mu       sync.Mutex
	active   bool
	current  command.Command
	gen      uint64
	progress float64 // consumed units, degrees or seconds of the current command
}

// Dependencies holds everything the executor needs.
type Dependencies struct {
	Store   *sim.Store
	Vehicle *vehicle.Vehicle
	World   *world.World
	Logger  *slog.Logger
	Sink    Sink // optional
	Now     func() time.Time
}

// New creates an executor.
func New(cfg Config, deps Dependencies) *Executor {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.Speed <= 0 {
		cfg.Speed = DefaultConfig().Speed
	}
	if cfg.TurnRate <= 0 {
		cfg.TurnRate = DefaultConfig().TurnRate
	}
	return &Executor{
		store: deps.Store,
		veh:   deps.Vehicle,
		world: deps.World,
		cfg:   cfg,
		log:   deps.Logger,
		sink:  deps.Sink,
		now:   deps.Now,
	}
}

// Reset drops any in-progress command and restores the vehicle to its
// initial pose, clearing the recorded path.
func (e *Executor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = false
	e.progress = 0
	e.veh.Reset()
}

// Tick advances the simulation by the elapsed frame time. It is called
// once per animation frame regardless of run state and does nothing unless
// the store is running. A fatal inconsistency forces the store into the
// error state and is returned.
func (e *Executor) Tick(elapsed time.Duration) error {
	if !e.store.IsActive() {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	remaining := elapsed.Seconds()
	for {
		if !e.active {
			c, ok := e.store.NextCommand()
			if !ok {
				// Idle running: the script may be about to enqueue more.
				return nil
			}
			if err := c.Validate(); err != nil {
				fatal := fmt.Errorf("executor cannot progress: %w", err)
				e.store.Fail(fatal)
				return fatal
			}
			e.active = true
			e.current = c
			e.progress = 0
			e.gen = e.store.Generation()
		}

		// The run this command belonged to was torn down; drop it. Its
		// handle was already cancelled by the sweep.
		if e.store.Generation() != e.gen {
			e.active = false
			return nil
		}

		done, consumed := e.advance(remaining)
		remaining -= consumed
		if !done {
			return nil
		}

		e.complete()
		if remaining <= 0 && e.current.Kind != command.KindSensor {
			return nil
		}
	}
}

// advance applies up to dt seconds of progress to the current command.
// It reports whether the command reached its target and how much frame
// time it consumed.
func (e *Executor) advance(dt float64) (done bool, consumed float64) {
	switch e.current.Kind {
	case command.KindSensor:
		// Sensor queries resolve on the same tick and consume no time.
		return true, 0

	case command.KindWait:
		left := e.current.Seconds - e.progress
		if left <= dt+epsilon {
			e.progress = e.current.Seconds
			return true, math.Max(0, left)
		}
		e.progress += dt
		return false, dt

	case command.KindForward:
		total := math.Abs(e.current.Distance)
		left := total - e.progress
		maxStep := e.cfg.Speed * dt
		step := math.Min(left, maxStep)
		if step > 0 {
			e.veh.MoveBy(math.Copysign(step, e.current.Distance))
			e.progress += step
		}
		if total-e.progress <= epsilon {
			return true, step / e.cfg.Speed
		}
		return false, dt

	case command.KindTurn:
		total := math.Abs(e.current.Degrees)
		left := total - e.progress
		maxStep := e.cfg.TurnRate * dt
		step := math.Min(left, maxStep)
		if step > 0 {
			e.veh.TurnBy(math.Copysign(step, e.current.Degrees), false)
			e.progress += step
		}
		if total-e.progress <= epsilon {
			return true, step / e.cfg.TurnRate
		}
		return false, dt
	}

	// Unreachable: commands are validated on pop.
	return true, 0
}

// complete finalizes the current command: records the path sample for
// motion, runs the collision check, resolves the suspended call and clears
// the in-progress slot.
func (e *Executor) complete() {
	c := e.current
	now := e.now()
	var value float64

	switch c.Kind {
	case command.KindForward:
		st := e.veh.Snapshot()
		if at, hit := e.world.CollisionAt(geom.XY{X: st.Position.X, Y: st.Position.Z}); hit {
			e.veh.ApplyCollisionPenalty()
			e.log.Warn("collision with obstacle",
				"x", at.X, "z", at.Y, "battery", e.veh.Snapshot().Battery)
		}
		e.recordSample(now)

	case command.KindTurn:
		// Battery cost applies once per completed turn, not per tick.
		e.veh.TurnBy(0, true)

	case command.KindSensor:
		st := e.veh.Snapshot()
		absolute := vehicle.NormalizeHeading(st.Heading + command.SensorOffsets[c.Direction])
		value = e.world.SensorReading(geom.XY{X: st.Position.X, Y: st.Position.Z}, absolute)
	}

	st := e.veh.Snapshot()
	if e.store.Loops().Resolve(c.HandleID, value) {
		if e.store.Debug() {
			e.log.Debug("command complete", "command", c.String(),
				"x", st.Position.X, "z", st.Position.Z, "heading", st.Heading)
		}
		if e.sink != nil {
			e.sink.CommandCompleted(c, st, now)
		}
	} else {
		// Late resolution: the run was cancelled while this command was
		// mid-flight. Discard without notifying anyone.
		e.log.Info("discarded late resolution", "command", c.String())
	}

	e.active = false
	e.progress = 0
}

// recordSample appends a path sample unless the position is unchanged
// since the last sample (a zero-length move records nothing).
func (e *Executor) recordSample(now time.Time) {
	st := e.veh.Snapshot()
	if last, ok := e.veh.LastSample(); ok {
		if last.X == st.Position.X && last.Z == st.Position.Z {
			return
		}
	} else if st.Position.X == 0 && st.Position.Z == 0 {
		return
	}
	s := e.veh.RecordSample(now)
	if e.sink != nil {
		e.sink.PathSampleRecorded(s)
	}
}
