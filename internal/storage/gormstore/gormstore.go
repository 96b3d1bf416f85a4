// Package gormstore implements the storage.Backend interface on top of a
// GORM connection. The SQLite and Postgres backends embed it; the only
// driver-specific concerns live in those packages.
package gormstore

import (
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/obocar/engine/internal/model"
)

// Backend persists runs through a GORM connection.
type Backend struct {
	db  *gorm.DB
	log *slog.Logger
}

// New creates a GORM-backed storage backend.
func New(db *gorm.DB, log *slog.Logger) *Backend {
	return &Backend{db: db, log: log}
}

// Init migrates the schema.
func (b *Backend) Init() error {
	if err := b.db.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (b *Backend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// StartRun inserts the run row and assigns its ID.
func (b *Backend) StartRun(run *model.Run) error {
	if err := b.db.Create(run).Error; err != nil {
		return fmt.Errorf("creating run: %w", err)
	}
	b.log.Info("run recording started", "runId", run.ID, "script", run.ScriptName)
	return nil
}

// EndRun finalizes the run row.
func (b *Backend) EndRun(run *model.Run) error {
	now := time.Now()
	if run.EndedAt == nil {
		run.EndedAt = &now
	}
	if err := b.db.Save(run).Error; err != nil {
		return fmt.Errorf("finalizing run: %w", err)
	}
	return nil
}

// RecordPathSample inserts one trace point.
func (b *Backend) RecordPathSample(s *model.PathSample) error {
	return b.db.Create(s).Error
}

// RecordRunEvent inserts one command completion event.
func (b *Backend) RecordRunEvent(e *model.RunEvent) error {
	return b.db.Create(e).Error
}

// DB exposes the connection for driver-specific wrappers.
func (b *Backend) DB() *gorm.DB {
	return b.db
}
