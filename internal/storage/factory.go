package storage

import (
	"fmt"
	"log/slog"

	"github.com/rs/zerolog"

	"github.com/obocar/engine/internal/config"
	"github.com/obocar/engine/internal/database"
	"github.com/obocar/engine/internal/storage/memory"
	postgresstorage "github.com/obocar/engine/internal/storage/postgres"
	sqlitestorage "github.com/obocar/engine/internal/storage/sqlite"
)

// NewBackend creates a storage backend based on configuration.
func NewBackend(cfg config.StorageConfig, log *slog.Logger, dbLog zerolog.Logger) (Backend, error) {
	switch cfg.Type {
	case "postgres":
		return postgresstorage.New(database.PostgresConfig{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Username: cfg.Postgres.Username,
			Password: cfg.Postgres.Password,
			Database: cfg.Postgres.Database,
		}, log, dbLog)
	case "sqlite":
		return sqlitestorage.New(sqlitestorage.Config{
			DumpPath:     cfg.Sqlite.DumpPath,
			DumpInterval: cfg.Sqlite.DumpInterval,
		}, log, dbLog)
	case "memory":
		return memory.New(memory.Config{OutputDir: cfg.Memory.OutputDir}), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
