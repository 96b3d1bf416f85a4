// Package script embeds the JavaScript interpreter the learner's car
// program runs in. The script executes on its own goroutine; every bridge
// call suspends that goroutine until the executor resolves it, so a script
// that never terminates can only ever enqueue and suspend; it cannot
// starve the tick loop.
package script

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dop251/goja"

	"github.com/obocar/engine/internal/bridge"
	"github.com/obocar/engine/internal/sim"
)

// haltPollInterval is how often a running script is checked against the
// store so an external stop can interrupt a busy loop that makes no calls.
const haltPollInterval = 50 * time.Millisecond

// Runtime runs learner scripts against the bridge vocabulary.
type Runtime struct {
	store   *sim.Store
	bridge  *bridge.Bridge
	log     *slog.Logger
	console io.Writer
}

// NewRuntime creates a runtime. Script print output goes to console.
func NewRuntime(store *sim.Store, b *bridge.Bridge, log *slog.Logger, console io.Writer) *Runtime {
	return &Runtime{store: store, bridge: b, log: log, console: console}
}

// Start launches the script on a new goroutine and returns a channel that
// receives the run's outcome: nil for normal completion or cancellation,
// an error when the run failed.
func (r *Runtime) Start(src Source) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- r.Run(src)
	}()
	return done
}

// Run executes the script on the calling goroutine. It moves the store to
// Running before the first statement, to Stopped on normal completion and
// to Error on an uncaught script exception. A cancellation sweep unwinds
// the script without an error.
func (r *Runtime) Run(src Source) (err error) {
	prog, compileErr := goja.Compile(src.Name, src.Text, false)
	if compileErr != nil {
		return fmt.Errorf("compiling %s: %w", src.Name, compileErr)
	}

	if !r.store.BeginRun() {
		return sim.ErrExecutionHalted
	}

	vm := goja.New()
	r.install(vm)

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go r.watchForHalt(vm, stopWatch)

	defer func() {
		if rec := recover(); rec != nil {
			if _, ok := rec.(bridge.Cancellation); ok {
				r.log.Info("script run cancelled", "script", src.Name)
				err = nil
				return
			}
			panic(rec)
		}
	}()

	_, runErr := vm.RunProgram(prog)
	if runErr != nil {
		var interrupted *goja.InterruptedError
		if errors.As(runErr, &interrupted) {
			r.log.Info("script interrupted", "script", src.Name)
			return nil
		}
		fatal := fmt.Errorf("script %s: %w", src.Name, runErr)
		r.store.Fail(fatal)
		return fatal
	}

	r.store.CompleteRun()
	r.log.Info("script completed", "script", src.Name)
	return nil
}

// watchForHalt interrupts a busy script once the run has been torn down
// externally. Suspended calls are unwound by the cancellation sweep; this
// covers scripts spinning without making any.
func (r *Runtime) watchForHalt(vm *goja.Runtime, stop <-chan struct{}) {
	ticker := time.NewTicker(haltPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !r.store.IsRunning() {
				vm.Interrupt(sim.ErrExecutionHalted)
				return
			}
		}
	}
}

// install binds the car vocabulary into the VM as global functions. Bridge
// errors surface as catchable script exceptions; cancellation panics
// through uncatchably and is recovered in Run.
func (r *Runtime) install(vm *goja.Runtime) {
	b := r.bridge

	vm.Set("forward", func(distance float64) error { return b.Forward(distance) })
	vm.Set("backward", func(distance float64) error { return b.Backward(distance) })
	vm.Set("left", func(degrees float64) error { return b.Left(degrees) })
	vm.Set("right", func(degrees float64) error { return b.Right(degrees) })
	vm.Set("wait", func(seconds float64) error { return b.Wait(seconds) })
	vm.Set("sensor", func(direction string) (float64, error) { return b.Sensor(direction) })

	vm.Set("getPosition", func() map[string]float64 {
		p := b.Position()
		return map[string]float64{"x": p.X, "y": p.Y, "z": p.Z}
	})
	vm.Set("getHeading", func() float64 { return b.Heading() })
	vm.Set("battery", func() float64 { return b.Battery() })
	vm.Set("distance", func() float64 { return b.Distance() })
	vm.Set("status", func() map[string]any {
		s := b.Status()
		return map[string]any{
			"position":        map[string]float64{"x": s.Position.X, "y": s.Position.Y, "z": s.Position.Z},
			"heading":         s.Heading,
			"battery":         s.Battery,
			"distance":        s.Distance,
			"obstaclesNearby": s.ObstaclesNearby,
		}
	})
	vm.Set("addObstacle", func(x, z float64) { b.AddObstacle(x, z) })

	vm.Set("print", func(call goja.FunctionCall) goja.Value {
		parts := make([]any, 0, len(call.Arguments))
		for _, a := range call.Arguments {
			parts = append(parts, a.String())
		}
		fmt.Fprintln(r.console, parts...)
		return goja.Undefined()
	})
}
