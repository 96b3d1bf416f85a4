// Package sqlitestorage implements the storage.Backend interface using an
// in-memory SQLite database with periodic disk dumps via VACUUM INTO.
package sqlitestorage

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/rs/zerolog"

	"github.com/obocar/engine/internal/database"
	"github.com/obocar/engine/internal/storage/gormstore"
)

// Config holds configuration for the SQLite storage backend.
type Config struct {
	// DumpPath is where periodic VACUUM INTO snapshots land. Empty
	// disables dumping.
	DumpPath     string
	DumpInterval time.Duration
}

// Backend wraps the GORM backend with SQLite-specific behavior.
type Backend struct {
	*gormstore.Backend
	cfg      Config
	log      *slog.Logger
	stopChan chan struct{}
}

// New creates a new SQLite storage backend.
func New(cfg Config, log *slog.Logger, dbLog zerolog.Logger) (*Backend, error) {
	db, err := database.OpenSqlite("", dbLog)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite DB: %w", err)
	}

	return &Backend{
		Backend:  gormstore.New(db, log),
		cfg:      cfg,
		log:      log,
		stopChan: make(chan struct{}),
	}, nil
}

// Init migrates the schema and starts the dump goroutine.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}

	if b.cfg.DumpPath != "" && b.cfg.DumpInterval > 0 {
		go b.dumpLoop()
	}

	return nil
}

// Close stops the dump goroutine, takes a final snapshot and closes the
// connection.
func (b *Backend) Close() error {
	close(b.stopChan)
	if b.cfg.DumpPath != "" {
		if err := database.DumpToDisk(b.DB(), b.cfg.DumpPath); err != nil {
			b.log.Error("final SQLite dump failed", "error", err)
		}
	}
	return b.Backend.Close()
}

// ExportedFilePath implements storage.Exportable.
func (b *Backend) ExportedFilePath() string {
	return b.cfg.DumpPath
}

func (b *Backend) dumpLoop() {
	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			start := time.Now()
			if err := database.DumpToDisk(b.DB(), b.cfg.DumpPath); err != nil {
				b.log.Error("error dumping SQLite to disk", "error", err)
			} else {
				b.log.Debug("dumped SQLite to disk", "duration", time.Since(start))
			}
		}
	}
}
