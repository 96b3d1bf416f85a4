// Package world holds the static scene geometry the sensors query: an
// obstacle field on the X/Z plane. Obstacles never move during a run.
package world

import (
	"math"
	"math/rand"
	"sync"

	geom "github.com/peterstace/simplefeatures/geom"
)

// Config holds sensor and collision tuning.
type Config struct {
	// SensorRange is the maximum detection distance; readings saturate here.
	SensorRange float64
	// ConeHalfAngle is the half-width of the sensor cone in degrees.
	ConeHalfAngle float64
	// NoiseAmplitude is the uniform noise added to readings, +/- this value.
	NoiseAmplitude float64
	// CollisionRadius is the distance below which the vehicle has hit an
	// obstacle.
	CollisionRadius float64
}

// DefaultConfig returns the sensor model used by the learner environment.
func DefaultConfig() Config {
	return Config{
		SensorRange:     20.0,
		ConeHalfAngle:   30.0,
		NoiseAmplitude:  0.2,
		CollisionRadius: 1.0,
	}
}

// World is the static obstacle field.
type World struct {
	mu        sync.RWMutex
	cfg       Config
	rng       *rand.Rand
	obstacles []geom.Point
}

// New creates an empty world. The seed drives obstacle generation and
// sensor noise, so tests can make both deterministic.
func New(cfg Config, seed int64) *World {
	return &World{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
}

func pointAt(x, z float64) geom.Point {
	return geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: x, Y: z},
		Type: geom.DimXY,
	})
}

// GenerateObstacles replaces the obstacle field with one of the stock
// patterns: a wall, a scattered field, or a circle.
func (w *World) GenerateObstacles() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.obstacles = w.obstacles[:0]
	switch w.rng.Intn(3) {
	case 0: // wall
		for i := 0.0; i < 20; i += 2 {
			w.obstacles = append(w.obstacles, pointAt(10, i))
		}
	case 1: // scattered
		for i := 0; i < 8; i++ {
			x := w.rng.Float64()*60 - 30
			z := w.rng.Float64()*60 - 30
			w.obstacles = append(w.obstacles, pointAt(x, z))
		}
	default: // circle
		for deg := 0.0; deg < 360; deg += 45 {
			rad := deg * math.Pi / 180
			w.obstacles = append(w.obstacles, pointAt(15*math.Cos(rad), 15*math.Sin(rad)))
		}
	}
}

// AddObstacle places a single obstacle at (x, z).
func (w *World) AddObstacle(x, z float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.obstacles = append(w.obstacles, pointAt(x, z))
}

// Obstacles returns the obstacle positions.
func (w *World) Obstacles() []geom.XY {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]geom.XY, 0, len(w.obstacles))
	for _, p := range w.obstacles {
		if xy, ok := p.XY(); ok {
			out = append(out, xy)
		}
	}
	return out
}

// SensorReading returns the distance to the nearest obstacle inside the
// sensor cone pointing along absoluteDeg (degrees, 0 = +Z / north,
// clockwise). Readings saturate at SensorRange, carry uniform noise and
// are floored at 0.1.
func (w *World) SensorReading(at geom.XY, absoluteDeg float64) float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	minDist := w.cfg.SensorRange
	for _, p := range w.obstacles {
		xy, ok := p.XY()
		if !ok {
			continue
		}
		dx := xy.X - at.X
		dz := xy.Y - at.Y
		dist := math.Hypot(dx, dz)

		angleTo := math.Atan2(dx, dz) * 180 / math.Pi
		diff := math.Abs(math.Mod(angleTo-absoluteDeg+540, 360) - 180)
		if diff <= w.cfg.ConeHalfAngle && dist < minDist {
			minDist = dist
		}
	}

	noise := (w.rng.Float64()*2 - 1) * w.cfg.NoiseAmplitude
	return math.Max(0.1, minDist+noise)
}

// CountNear returns the number of obstacles within radius of the point.
func (w *World) CountNear(at geom.XY, radius float64) int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	count := 0
	for _, p := range w.obstacles {
		xy, ok := p.XY()
		if !ok {
			continue
		}
		if math.Hypot(xy.X-at.X, xy.Y-at.Y) <= radius {
			count++
		}
	}
	return count
}

// CollisionAt returns the position of an obstacle within the collision
// radius of the given point, if any.
func (w *World) CollisionAt(at geom.XY) (geom.XY, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for _, p := range w.obstacles {
		xy, ok := p.XY()
		if !ok {
			continue
		}
		if math.Hypot(xy.X-at.X, xy.Y-at.Y) < w.cfg.CollisionRadius {
			return xy, true
		}
	}
	return geom.XY{}, false
}
