// Package postgresstorage implements the storage.Backend interface
// against a Postgres database.
package postgresstorage

import (
	"log/slog"

	"github.com/rs/zerolog"

	"github.com/obocar/engine/internal/database"
	"github.com/obocar/engine/internal/storage/gormstore"
)

// Backend wraps the GORM backend over a Postgres connection.
type Backend struct {
	*gormstore.Backend
}

// New connects to Postgres and creates the backend.
func New(cfg database.PostgresConfig, log *slog.Logger, dbLog zerolog.Logger) (*Backend, error) {
	db, err := database.OpenPostgres(cfg, dbLog)
	if err != nil {
		return nil, err
	}
	return &Backend{Backend: gormstore.New(db, log)}, nil
}
