// Package memory stores run data in memory and exports it to JSON when
// the run ends.
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/obocar/engine/internal/model"
)

// Config holds in-memory/JSON storage backend settings.
type Config struct {
	OutputDir string
}

// Export is the JSON document written when a run ends.
type Export struct {
	Run     model.Run          `json:"run"`
	Path    []model.PathSample `json:"path"`
	Events  []model.RunEvent   `json:"events"`
	Written time.Time          `json:"written"`
}

// Backend accumulates run data in memory.
type Backend struct {
	cfg Config

	mu        sync.Mutex
	run       *model.Run
	path      []model.PathSample
	events    []model.RunEvent
	idCounter uint
	lastFile  string
}

// New creates a new memory backend.
func New(cfg Config) *Backend {
	return &Backend{cfg: cfg}
}

// Init initializes the backend.
func (b *Backend) Init() error {
	if b.cfg.OutputDir != "" {
		if err := os.MkdirAll(b.cfg.OutputDir, 0o755); err != nil {
			return fmt.Errorf("creating output dir: %w", err)
		}
	}
	return nil
}

// Close cleans up resources.
func (b *Backend) Close() error {
	return nil
}

// StartRun begins accumulating a new run.
func (b *Backend) StartRun(run *model.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.idCounter++
	run.ID = b.idCounter
	b.run = run
	b.path = nil
	b.events = nil
	return nil
}

// EndRun finalizes the run and exports it to JSON.
func (b *Backend) EndRun(run *model.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if run.EndedAt == nil {
		run.EndedAt = &now
	}
	b.run = run
	return b.exportJSON()
}

// RecordPathSample appends one trace point.
func (b *Backend) RecordPathSample(s *model.PathSample) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.path = append(b.path, *s)
	return nil
}

// RecordRunEvent appends one command completion event.
func (b *Backend) RecordRunEvent(e *model.RunEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, *e)
	return nil
}

// ExportedFilePath implements storage.Exportable.
func (b *Backend) ExportedFilePath() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastFile
}

// Snapshot returns copies of the accumulated data, for tests and the
// status API.
func (b *Backend) Snapshot() ([]model.PathSample, []model.RunEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	path := make([]model.PathSample, len(b.path))
	copy(path, b.path)
	events := make([]model.RunEvent, len(b.events))
	copy(events, b.events)
	return path, events
}

// exportJSON writes the run to a timestamped file. Callers hold b.mu.
func (b *Backend) exportJSON() error {
	if b.cfg.OutputDir == "" || b.run == nil {
		return nil
	}

	doc := Export{
		Run:     *b.run,
		Path:    b.path,
		Events:  b.events,
		Written: time.Now(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling run export: %w", err)
	}

	name := fmt.Sprintf("run_%d_%s.json", b.run.ID, time.Now().Format("20060102_150405"))
	path := filepath.Join(b.cfg.OutputDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing run export: %w", err)
	}
	b.lastFile = path
	return nil
}
