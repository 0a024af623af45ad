package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

var unsafeIdent = regexp.MustCompile(`[^a-z0-9_]`)

// PgvectorEngine stores a collection in PostgreSQL using the pgvector extension. Distances come
// from the <=> cosine distance operator and filters use jsonb containment.
type PgvectorEngine struct {
	db    *sql.DB
	table string
	info  CollectionInfo
}

// NewPgvectorEngine connects to dsn and creates the extension, the shared collections table, and
// the collection's table when missing.
func NewPgvectorEngine(ctx context.Context, info CollectionInfo, dsn string) (*PgvectorEngine, error) {
	if info.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if info.Name == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	e := &PgvectorEngine{db: db, table: PgvectorTableName(info.Name)}
	if err := e.initSchema(ctx, info); err != nil {
		_ = db.Close()
		return nil, err
	}
	return e, nil
}

// PgvectorTableName maps a collection name to a safe table identifier.
func PgvectorTableName(collection string) string {
	return "kenkyu_" + unsafeIdent.ReplaceAllString(strings.ToLower(collection), "_")
}

func (e *PgvectorEngine) initSchema(ctx context.Context, info CollectionInfo) error {
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now().UTC()
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS kenkyu_collections (
			name TEXT PRIMARY KEY,
			description TEXT,
			dimensions INTEGER NOT NULL,
			model_id TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ` + e.table + ` (
			seq BIGSERIAL,
			id TEXT PRIMARY KEY,
			document TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			embedding vector(` + strconv.Itoa(info.Dimensions) + `) NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	_, err := e.db.ExecContext(ctx,
		`INSERT INTO kenkyu_collections (name, description, dimensions, model_id, created_at)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (name) DO NOTHING`,
		info.Name, info.Description, info.Dimensions, info.ModelID, info.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to write collection info: %w", err)
	}
	err = e.db.QueryRowContext(ctx,
		`SELECT name, description, dimensions, model_id, created_at FROM kenkyu_collections WHERE name = $1`, info.Name,
	).Scan(&e.info.Name, &e.info.Description, &e.info.Dimensions, &e.info.ModelID, &e.info.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to read collection info: %w", err)
	}
	if e.info.Dimensions != info.Dimensions {
		return fmt.Errorf("dimension mismatch: collection has %d, expected %d", e.info.Dimensions, info.Dimensions)
	}
	return nil
}

// Type returns the engine type identifier.
func (e *PgvectorEngine) Type() string {
	return string(EngineTypePgvector)
}

// Insert upserts records in one transaction.
func (e *PgvectorEngine) Insert(ctx context.Context, records []Record) error {
	for _, r := range records {
		if len(r.Vector) != e.info.Dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(r.Vector), e.info.Dimensions)
		}
	}
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO `+e.table+` (id, document, metadata, embedding) VALUES ($1, $2, $3::jsonb, $4)
		 ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document, metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		metadataJSON, err := marshalMetadata(r.Metadata)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.Document, metadataJSON, pgvector.NewVector(r.Vector)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Query orders by cosine distance in the database.
func (e *PgvectorEngine) Query(ctx context.Context, vector []float32, k int, where Where) ([]Match, error) {
	if len(vector) != e.info.Dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(vector), e.info.Dimensions)
	}
	if k <= 0 {
		return nil, nil
	}
	filterJSON, err := marshalMetadata(map[string]any(where))
	if err != nil {
		return nil, err
	}
	rows, err := e.db.QueryContext(ctx,
		`SELECT id, document, metadata, embedding, embedding <=> $1 AS distance
		 FROM `+e.table+`
		 WHERE metadata @> $2::jsonb
		 ORDER BY distance, seq
		 LIMIT $3`,
		pgvector.NewVector(vector), filterJSON, k,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var metadataJSON []byte
		var vec pgvector.Vector
		if err := rows.Scan(&m.ID, &m.Document, &metadataJSON, &vec, &m.Distance); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(metadataJSON, &m.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for %s: %w", m.ID, err)
		}
		m.Vector = vec.Slice()
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// Get returns records by id in the requested order. Nil ids returns all records.
func (e *PgvectorEngine) Get(ctx context.Context, ids []string) ([]Record, error) {
	query := `SELECT id, document, metadata, embedding FROM ` + e.table
	var args []any
	if ids != nil {
		if len(ids) == 0 {
			return nil, nil
		}
		query += ` WHERE id = ANY($1)`
		args = append(args, pq.Array(ids))
	}
	rows, err := e.db.QueryContext(ctx, query+` ORDER BY seq`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found []Record
	for rows.Next() {
		var r Record
		var metadataJSON []byte
		var vec pgvector.Vector
		if err := rows.Scan(&r.ID, &r.Document, &metadataJSON, &vec); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(metadataJSON, &r.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for %s: %w", r.ID, err)
		}
		r.Vector = vec.Slice()
		found = append(found, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if ids == nil {
		return found, nil
	}
	byID := make(map[string]Record, len(found))
	for _, r := range found {
		byID[r.ID] = r
	}
	out := make([]Record, 0, len(found))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// Delete removes records by id, or every record matching where when ids is empty.
func (e *PgvectorEngine) Delete(ctx context.Context, ids []string, where Where) error {
	if len(ids) > 0 {
		_, err := e.db.ExecContext(ctx, `DELETE FROM `+e.table+` WHERE id = ANY($1)`, pq.Array(ids))
		return err
	}
	if len(where) == 0 {
		return nil
	}
	filterJSON, err := marshalMetadata(map[string]any(where))
	if err != nil {
		return err
	}
	_, err = e.db.ExecContext(ctx, `DELETE FROM `+e.table+` WHERE metadata @> $1::jsonb`, filterJSON)
	return err
}

// Reset deletes every record.
func (e *PgvectorEngine) Reset(ctx context.Context) error {
	_, err := e.db.ExecContext(ctx, `DELETE FROM `+e.table)
	return err
}

// Count returns the number of records.
func (e *PgvectorEngine) Count(ctx context.Context) (int, error) {
	var count int
	err := e.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+e.table).Scan(&count)
	return count, err
}

// Ping checks the database connection.
func (e *PgvectorEngine) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

// Info returns the stored collection info.
func (e *PgvectorEngine) Info() CollectionInfo {
	return e.info
}

// Close closes the database connection.
func (e *PgvectorEngine) Close() error {
	return e.db.Close()
}

func marshalMetadata(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(b), nil
}
