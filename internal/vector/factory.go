package vector

import (
	"context"
	"fmt"
)

// EngineType names an Engine implementation.
type EngineType string

const (
	// EngineTypeMemory keeps the collection in memory, optionally snapshotted to disk. Good for small corpora.
	EngineTypeMemory EngineType = "memory"
	// EngineTypeSQLite stores the collection in a SQLite file under the data directory.
	EngineTypeSQLite EngineType = "sqlite"
	// EngineTypePgvector stores the collection in PostgreSQL with the pgvector extension.
	EngineTypePgvector EngineType = "pgvector"
)

// EngineConfig selects and configures an engine.
type EngineConfig struct {
	Type        string
	Dir         string
	PostgresDSN string
	Collection  CollectionInfo
}

// NewEngine creates the engine named by cfg.Type. An empty type selects the memory engine.
func NewEngine(ctx context.Context, cfg EngineConfig) (Engine, error) {
	switch EngineType(cfg.Type) {
	case EngineTypeMemory, "":
		return NewMemoryEngine(cfg.Collection, cfg.Dir)
	case EngineTypeSQLite:
		return NewSQLiteEngine(ctx, cfg.Collection, cfg.Dir)
	case EngineTypePgvector:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("pgvector engine requires a postgres dsn")
		}
		return NewPgvectorEngine(ctx, cfg.Collection, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown engine type: %s (supported: memory, sqlite, pgvector)", cfg.Type)
	}
}
