// Package storage defines the persistence interface for recorded runs and
// the factory selecting a backend from configuration.
package storage

import (
	"github.com/obocar/engine/internal/model"
)

// Backend is the interface all storage implementations must satisfy.
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Run management. StartRun assigns an ID to the passed pointer.
	StartRun(run *model.Run) error
	EndRun(run *model.Run) error

	// Recording
	RecordPathSample(s *model.PathSample) error
	RecordRunEvent(e *model.RunEvent) error
}

// Exportable is an optional interface for backends that produce a file
// suitable for the dashboard to load.
type Exportable interface {
	ExportedFilePath() string
}
