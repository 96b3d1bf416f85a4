// Package vehicle holds the simulated car's physical state. The command
// executor is the only writer; the scene streamer and the dashboard trace
// read snapshots.
package vehicle

import (
	"math"
	"sync"
	"time"
)

// Battery consumption constants, in percent.
const (
	drainPerUnit     = 1.0
	drainPerTurn     = 0.5
	collisionPenalty = 10.0
)

// Position3D is a coordinate in the simulation's local frame. Y is up; the
// car moves in the X/Z plane.
type Position3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// PathSample is one point of the dashboard trace, appended when a motion
// command completes with a changed position.
type PathSample struct {
	X float64   `json:"x"`
	Z float64   `json:"z"`
	T time.Time `json:"t"`
}

// State is a snapshot of the vehicle at a point in time.
type State struct {
	Position Position3D `json:"position"`
	// Heading in degrees, normalized to [0, 360). 0 points along +Z.
	Heading float64 `json:"heading"`
	// TotalDistance is the accumulated travel distance. It never decreases.
	TotalDistance float64 `json:"totalDistance"`
	// Battery percentage, floored at 0.
	Battery float64 `json:"battery"`
}

// Vehicle is the mutable vehicle state plus the recorded path.
type Vehicle struct {
	mu    sync.RWMutex
	state State
	path  []PathSample
}

// New creates a vehicle at the origin with a full battery.
func New() *Vehicle {
	v := &Vehicle{}
	v.state = initialState()
	return v
}

func initialState() State {
	return State{Battery: 100}
}

// Snapshot returns a copy of the current state.
func (v *Vehicle) Snapshot() State {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

// Path returns a copy of the recorded path samples.
func (v *Vehicle) Path() []PathSample {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]PathSample, len(v.path))
	copy(out, v.path)
	return out
}

// Reset restores the initial pose and clears the recorded path.
func (v *Vehicle) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = initialState()
	v.path = nil
}

// MoveBy translates the vehicle along its heading by dist units (negative
// moves backward), accumulating travel distance and draining the battery.
func (v *Vehicle) MoveBy(dist float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	rad := v.state.Heading * math.Pi / 180
	v.state.Position.X += dist * math.Sin(rad)
	v.state.Position.Z += dist * math.Cos(rad)
	v.state.TotalDistance += math.Abs(dist)
	v.drainLocked(math.Abs(dist) * drainPerUnit)
}

// TurnBy rotates the vehicle by deg degrees (positive is clockwise) and
// applies the turn battery cost once per completed turn command.
func (v *Vehicle) TurnBy(deg float64, applyCost bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.Heading = NormalizeHeading(v.state.Heading + deg)
	if applyCost {
		v.drainLocked(drainPerTurn)
	}
}

// ApplyCollisionPenalty drains the battery for a collision.
func (v *Vehicle) ApplyCollisionPenalty() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.drainLocked(collisionPenalty)
}

// RecordSample appends a path sample at the current position.
func (v *Vehicle) RecordSample(t time.Time) PathSample {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := PathSample{X: v.state.Position.X, Z: v.state.Position.Z, T: t}
	v.path = append(v.path, s)
	return s
}

// LastSample returns the most recent path sample, if any.
func (v *Vehicle) LastSample() (PathSample, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if len(v.path) == 0 {
		return PathSample{}, false
	}
	return v.path[len(v.path)-1], true
}

func (v *Vehicle) drainLocked(amount float64) {
	v.state.Battery = math.Max(0, v.state.Battery-amount)
}

// NormalizeHeading wraps a heading in degrees into [0, 360).
func NormalizeHeading(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	// Adding 360 to a tiny negative remainder rounds to exactly 360,
	// which is outside the range.
	if deg >= 360 {
		deg = 0
	}
	return deg
}
