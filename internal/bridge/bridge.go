// Package bridge exposes the car vocabulary to the embedded interpreter.
// Each mutating call enqueues a command on the store and suspends the
// calling script goroutine until the executor resolves the command on a
// later tick, so calls look synchronous to the script author without ever
// blocking the tick loop.
package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/obocar/engine/internal/command"
	"github.com/obocar/engine/internal/sim"
	"github.com/obocar/engine/internal/vehicle"
	"github.com/obocar/engine/internal/world"
)

// Cancellation is panicked out of a suspended call when its handle is
// cancelled by a stop, reset or fatal error. The script runtime recovers
// it and tears the run down; the call never returns a value to the script.
type Cancellation struct{}

// Status mirrors the car's status report from the learner API.
type Status struct {
	Position        vehicle.Position3D `json:"position"`
	Heading         float64            `json:"heading"`
	Battery         float64            `json:"battery"`
	Distance        float64            `json:"distance"`
	ObstaclesNearby int                `json:"obstaclesNearby"`
}

const nearbyRadius = 10.0

// Bridge owns no state of its own; it reads, enqueues and suspends via the
// store and reads vehicle/world snapshots for the getters.
type Bridge struct {
	store *sim.Store
	veh   *vehicle.Vehicle
	world *world.World
	log   *slog.Logger

	// Scripts are single-threaded and strictly sequential: at most one
	// call may be suspended at a time. inFlight enforces that invariant.
	inFlight atomic.Bool
}

// New creates a bridge over the given store, vehicle and world.
func New(store *sim.Store, veh *vehicle.Vehicle, w *world.World, log *slog.Logger) *Bridge {
	return &Bridge{store: store, veh: veh, world: w, log: log}
}

// await enqueues the command and blocks until the executor resolves it.
// Cancellation panics with Cancellation so the run unwinds without
// returning a value to the script.
func (b *Bridge) await(c command.Command) (float64, error) {
	if !b.inFlight.CompareAndSwap(false, true) {
		return 0, fmt.Errorf("concurrent script call while another is suspended")
	}
	defer b.inFlight.Store(false)

	h, err := b.store.Enqueue(c)
	if err != nil {
		return 0, err
	}

	out := <-h.Done()
	if out.Err != nil {
		if errors.Is(out.Err, sim.ErrRunCancelled) {
			panic(Cancellation{})
		}
		return 0, out.Err
	}
	return out.Value, nil
}

// Forward moves the car forward by distance units. Negative values move
// backward.
func (b *Bridge) Forward(distance float64) error {
	_, err := b.await(command.Forward(distance))
	return err
}

// Backward moves the car backward by distance units.
func (b *Bridge) Backward(distance float64) error {
	return b.Forward(-distance)
}

// Left turns the car counterclockwise by the given degrees.
func (b *Bridge) Left(degrees float64) error {
	_, err := b.await(command.Turn(-degrees))
	return err
}

// Right turns the car clockwise by the given degrees.
func (b *Bridge) Right(degrees float64) error {
	_, err := b.await(command.Turn(degrees))
	return err
}

// Wait holds the car still for the given number of simulated seconds.
func (b *Bridge) Wait(seconds float64) error {
	_, err := b.await(command.Wait(seconds))
	return err
}

// Sensor returns the distance to the nearest obstacle in the given
// direction (front, right, back, left).
func (b *Bridge) Sensor(direction string) (float64, error) {
	return b.await(command.Sensor(direction))
}

// Position returns the car's current position without suspending.
func (b *Bridge) Position() vehicle.Position3D {
	return b.veh.Snapshot().Position
}

// Heading returns the car's heading in degrees, in [0, 360).
func (b *Bridge) Heading() float64 {
	return b.veh.Snapshot().Heading
}

// Battery returns the remaining battery percentage.
func (b *Bridge) Battery() float64 {
	return b.veh.Snapshot().Battery
}

// Distance returns the total distance travelled.
func (b *Bridge) Distance() float64 {
	return b.veh.Snapshot().TotalDistance
}

// Status returns the full status report.
func (b *Bridge) Status() Status {
	st := b.veh.Snapshot()
	return Status{
		Position: st.Position,
		Heading:  st.Heading,
		Battery:  st.Battery,
		Distance: st.TotalDistance,
		ObstaclesNearby: b.world.CountNear(
			geom.XY{X: st.Position.X, Y: st.Position.Z}, nearbyRadius),
	}
}

// AddObstacle places an obstacle into the world at (x, z).
func (b *Bridge) AddObstacle(x, z float64) {
	b.world.AddObstacle(x, z)
	b.log.Info("obstacle added", "x", x, "z", z)
}
