package command

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Kind identifies the type of a queued command.
type Kind string

const (
	KindForward Kind = "forward"
	KindTurn    Kind = "turn"
	KindWait    Kind = "wait"
	KindSensor  Kind = "sensor"
)

// Sensor directions, relative to the vehicle's heading.
const (
	SensorFront = "front"
	SensorRight = "right"
	SensorBack  = "back"
	SensorLeft  = "left"
)

// SensorOffsets maps a sensor direction to its angle offset in degrees
// relative to the vehicle's heading.
var SensorOffsets = map[string]float64{
	SensorFront: 0,
	SensorRight: 90,
	SensorBack:  180,
	SensorLeft:  270,
}

// ErrInvalid is returned when a command fails validation.
var ErrInvalid = errors.New("invalid command")

// Command is a single queued unit of work. It is immutable once created;
// its identity is its position in the queue. HandleID links the command to
// the suspended script call waiting on its completion.
type Command struct {
	Kind Kind

	// Distance moved by a forward command. Negative values move backward.
	Distance float64
	// Degrees turned by a turn command. Positive turns right (clockwise),
	// negative turns left.
	Degrees float64
	// Seconds a wait command holds before completing.
	Seconds float64
	// Direction queried by a sensor command (front, right, back, left).
	Direction string

	EnqueuedAt time.Time
	HandleID   uint64
}

// Forward builds a forward movement command. distance may be negative for
// reverse movement.
func Forward(distance float64) Command {
	return Command{Kind: KindForward, Distance: distance, EnqueuedAt: time.Now()}
}

// Turn builds a turn command. Positive degrees turn right, negative left.
func Turn(degrees float64) Command {
	return Command{Kind: KindTurn, Degrees: degrees, EnqueuedAt: time.Now()}
}

// Wait builds a wait command holding for the given number of seconds.
func Wait(seconds float64) Command {
	return Command{Kind: KindWait, Seconds: seconds, EnqueuedAt: time.Now()}
}

// Sensor builds a sensor query command for the given direction.
func Sensor(direction string) Command {
	return Command{Kind: KindSensor, Direction: direction, EnqueuedAt: time.Now()}
}

// Validate checks that the command is well-formed. Malformed commands must
// never enter the queue.
func (c Command) Validate() error {
	switch c.Kind {
	case KindForward:
		if math.IsNaN(c.Distance) || math.IsInf(c.Distance, 0) {
			return fmt.Errorf("%w: forward distance %v", ErrInvalid, c.Distance)
		}
	case KindTurn:
		if math.IsNaN(c.Degrees) || math.IsInf(c.Degrees, 0) {
			return fmt.Errorf("%w: turn degrees %v", ErrInvalid, c.Degrees)
		}
	case KindWait:
		if math.IsNaN(c.Seconds) || math.IsInf(c.Seconds, 0) || c.Seconds < 0 {
			return fmt.Errorf("%w: wait seconds %v", ErrInvalid, c.Seconds)
		}
	case KindSensor:
		if _, ok := SensorOffsets[c.Direction]; !ok {
			return fmt.Errorf("%w: sensor direction %q", ErrInvalid, c.Direction)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalid, string(c.Kind))
	}
	return nil
}

// String returns a short human-readable form used in logs and run events.
func (c Command) String() string {
	switch c.Kind {
	case KindForward:
		return fmt.Sprintf("forward(%g)", c.Distance)
	case KindTurn:
		return fmt.Sprintf("turn(%g)", c.Degrees)
	case KindWait:
		return fmt.Sprintf("wait(%g)", c.Seconds)
	case KindSensor:
		return fmt.Sprintf("sensor(%s)", c.Direction)
	default:
		return string(c.Kind)
	}
}
