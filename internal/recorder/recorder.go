// Package recorder buffers command completions and path samples from the
// executor and flushes them to the storage backend off the tick loop.
package recorder

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/datatypes"

	"github.com/obocar/engine/internal/command"
	"github.com/obocar/engine/internal/model"
	"github.com/obocar/engine/internal/queue"
	"github.com/obocar/engine/internal/storage"
	"github.com/obocar/engine/internal/vehicle"
)

const defaultFlushInterval = 500 * time.Millisecond

// Queues holds the write queues between the tick loop and the backend.
type Queues struct {
	PathSamples *queue.FIFO[model.PathSample]
	RunEvents   *queue.FIFO[model.RunEvent]
}

// NewQueues creates empty write queues.
func NewQueues() *Queues {
	return &Queues{
		PathSamples: queue.New[model.PathSample](),
		RunEvents:   queue.New[model.RunEvent](),
	}
}

// Recorder implements the executor's sink: completions and samples are
// queued on the tick loop and written to storage by a flush goroutine.
type Recorder struct {
	queues  *Queues
	backend storage.Backend
	log     *slog.Logger

	mu        sync.Mutex
	run       *model.Run
	isRunning bool
	stopChan  chan struct{}

	lastWrite time.Duration
}

// New creates a recorder writing to the given backend.
func New(queues *Queues, backend storage.Backend, log *slog.Logger) *Recorder {
	return &Recorder{
		queues:   queues,
		backend:  backend,
		log:      log,
		stopChan: make(chan struct{}),
	}
}

// Begin opens a run record in storage.
func (r *Recorder) Begin(scriptName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run := &model.Run{
		ScriptName: scriptName,
		StartedAt:  time.Now(),
	}
	if err := r.backend.StartRun(run); err != nil {
		return fmt.Errorf("starting run record: %w", err)
	}
	r.run = run
	return nil
}

// Finish flushes outstanding writes and finalizes the run record.
func (r *Recorder) Finish(finalState string, execErr string, st vehicle.State) error {
	r.flush()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.run == nil {
		return nil
	}
	now := time.Now()
	r.run.EndedAt = &now
	r.run.FinalState = finalState
	r.run.ExecutionError = execErr
	r.run.TotalDistance = st.TotalDistance
	r.run.FinalBattery = st.Battery
	err := r.backend.EndRun(r.run)
	r.run = nil
	return err
}

// CommandCompleted implements executor.Sink.
func (r *Recorder) CommandCompleted(c command.Command, st vehicle.State, t time.Time) {
	runID := r.currentRunID()
	if runID == 0 {
		return
	}

	params, err := json.Marshal(map[string]any{
		"distance":  c.Distance,
		"degrees":   c.Degrees,
		"seconds":   c.Seconds,
		"direction": c.Direction,
	})
	if err != nil {
		r.log.Error("marshaling command params", "error", err)
		return
	}

	r.queues.RunEvents.Push(model.RunEvent{
		RunID:   runID,
		Time:    t,
		Kind:    string(c.Kind),
		Params:  datatypes.JSON(params),
		X:       st.Position.X,
		Z:       st.Position.Z,
		Heading: st.Heading,
		Battery: st.Battery,
	})
}

// PathSampleRecorded implements executor.Sink.
func (r *Recorder) PathSampleRecorded(s vehicle.PathSample) {
	runID := r.currentRunID()
	if runID == 0 {
		return
	}
	r.queues.PathSamples.Push(model.PathSample{
		RunID: runID,
		Time:  s.T,
		X:     s.X,
		Z:     s.Z,
	})
}

// Start launches the flush goroutine.
func (r *Recorder) Start() {
	r.mu.Lock()
	if r.isRunning {
		r.mu.Unlock()
		return
	}
	r.isRunning = true
	r.stopChan = make(chan struct{})
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			r.isRunning = false
			r.mu.Unlock()
		}()

		ticker := time.NewTicker(defaultFlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopChan:
				r.flush()
				return
			case <-ticker.C:
				r.flush()
			}
		}
	}()
}

// Stop halts the flush goroutine after a final flush.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isRunning {
		close(r.stopChan)
	}
}

// LastWriteDuration returns the duration of the last flush cycle.
func (r *Recorder) LastWriteDuration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastWrite
}

func (r *Recorder) currentRunID() uint {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.run == nil {
		return 0
	}
	return r.run.ID
}

func (r *Recorder) flush() {
	start := time.Now()

	for _, s := range r.queues.PathSamples.Drain() {
		s := s
		if err := r.backend.RecordPathSample(&s); err != nil {
			r.log.Error("writing path sample", "error", err)
		}
	}
	for _, e := range r.queues.RunEvents.Drain() {
		e := e
		if err := r.backend.RecordRunEvent(&e); err != nil {
			r.log.Error("writing run event", "error", err)
		}
	}

	r.mu.Lock()
	r.lastWrite = time.Since(start)
	r.mu.Unlock()
}
