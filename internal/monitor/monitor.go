// Package monitor periodically writes engine status to a file for
// external tooling to poll.
package monitor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/obocar/engine/internal/logging"
	"github.com/obocar/engine/internal/recorder"
	"github.com/obocar/engine/internal/sim"
	"github.com/obocar/engine/internal/vehicle"
)

// Dependencies holds all dependencies for the monitor service.
type Dependencies struct {
	Store      *sim.Store
	Vehicle    *vehicle.Vehicle
	Queues     *recorder.Queues
	Recorder   *recorder.Recorder
	LogManager *logging.SlogManager
	StatusDir  string
}

// Status is the JSON document written to the status file.
type Status struct {
	Time                time.Time     `json:"time"`
	Run                 sim.Snapshot  `json:"run"`
	Vehicle             vehicle.State `json:"vehicle"`
	PathQueueLength     int           `json:"pathQueueLength"`
	EventQueueLength    int           `json:"eventQueueLength"`
	LastWriteDurationMs float64       `json:"lastWriteDurationMs"`
}

// Service manages status monitoring.
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
}

// NewService creates a new monitor service.
func NewService(deps Dependencies) *Service {
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running.
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Status returns the current engine status.
func (s *Service) Status() Status {
	return Status{
		Time:                time.Now(),
		Run:                 s.deps.Store.Snapshot(),
		Vehicle:             s.deps.Vehicle.Snapshot(),
		PathQueueLength:     s.deps.Queues.PathSamples.Len(),
		EventQueueLength:    s.deps.Queues.RunEvents.Len(),
		LastWriteDurationMs: float64(s.deps.Recorder.LastWriteDuration().Microseconds()) / 1000.0,
	}
}

// Start starts the status monitor goroutine.
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		logger := s.deps.LogManager.Logger()
		logger.Debug("Starting status monitor goroutine")

		statusPath := filepath.Join(s.deps.StatusDir, "status.json")
		statusFile, err := os.Create(statusPath)
		if err != nil {
			logger.Error("Error creating status file", "error", err)
		}
		defer statusFile.Close()

		for {
			select {
			case <-s.stopChan:
				return
			default:
				time.Sleep(1000 * time.Millisecond)

				data, err := json.MarshalIndent(s.Status(), "", "  ")
				if err != nil {
					logger.Error("Error marshaling status", "error", err)
					continue
				}

				if statusFile != nil {
					statusFile.Truncate(0)
					statusFile.Seek(0, 0)
					statusFile.Write(data)
					statusFile.WriteString("\n")
				}
			}
		}
	}()

	return nil
}

// Stop stops the status monitor.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		close(s.stopChan)
	}
}
