package vector

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteEngine stores a collection in a SQLite database at <dir>/<name>.db and searches it by
// brute-force cosine distance.
type SQLiteEngine struct {
	db   *sql.DB
	info CollectionInfo
}

// NewSQLiteEngine opens or creates the collection database. The collection info row is written
// only when the database is new; an existing row with different dimensions is an error.
func NewSQLiteEngine(ctx context.Context, info CollectionInfo, dir string) (*SQLiteEngine, error) {
	if info.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if info.Name == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	dsn := ":memory:"
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create collection directory: %w", err)
		}
		dsn = filepath.Join(dir, info.Name+".db")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dsn == ":memory:" {
		// Each new connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initVectorSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	stored, err := ensureCollectionInfo(ctx, db, info)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteEngine{db: db, info: stored}, nil
}

func initVectorSchema(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS collection_info (
		name TEXT PRIMARY KEY,
		description TEXT,
		dimensions INTEGER NOT NULL,
		model_id TEXT,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS embeddings (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		document TEXT NOT NULL,
		metadata TEXT NOT NULL,
		vector BLOB NOT NULL
	);
	`
	_, err := db.ExecContext(ctx, schema)
	return err
}

func ensureCollectionInfo(ctx context.Context, db *sql.DB, info CollectionInfo) (CollectionInfo, error) {
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO collection_info (name, description, dimensions, model_id, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		info.Name, info.Description, info.Dimensions, info.ModelID, info.CreatedAt,
	)
	if err != nil {
		return CollectionInfo{}, fmt.Errorf("failed to write collection info: %w", err)
	}
	var stored CollectionInfo
	err = db.QueryRowContext(ctx,
		`SELECT name, description, dimensions, model_id, created_at FROM collection_info WHERE name = ?`, info.Name,
	).Scan(&stored.Name, &stored.Description, &stored.Dimensions, &stored.ModelID, &stored.CreatedAt)
	if err != nil {
		return CollectionInfo{}, fmt.Errorf("failed to read collection info: %w", err)
	}
	if stored.Dimensions != info.Dimensions {
		return CollectionInfo{}, fmt.Errorf("dimension mismatch: collection has %d, expected %d", stored.Dimensions, info.Dimensions)
	}
	return stored, nil
}

// Type returns the engine type identifier.
func (s *SQLiteEngine) Type() string {
	return string(EngineTypeSQLite)
}

// Insert upserts records in one transaction.
func (s *SQLiteEngine) Insert(ctx context.Context, records []Record) error {
	for _, r := range records {
		if len(r.Vector) != s.info.Dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(r.Vector), s.info.Dimensions)
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO embeddings (id, document, metadata, vector) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET document = excluded.document, metadata = excluded.metadata, vector = excluded.vector`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		metadataJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.Document, string(metadataJSON), float32SliceToBytes(r.Vector)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Query scans the collection and returns the k nearest records matching where.
func (s *SQLiteEngine) Query(ctx context.Context, vector []float32, k int, where Where) ([]Match, error) {
	if len(vector) != s.info.Dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(vector), s.info.Dimensions)
	}
	records, err := s.scan(ctx, `SELECT id, document, metadata, vector FROM embeddings ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	return nearest(records, vector, k, where), nil
}

// Get returns records by id in the requested order. Nil ids returns all records.
func (s *SQLiteEngine) Get(ctx context.Context, ids []string) ([]Record, error) {
	if ids == nil {
		return s.scan(ctx, `SELECT id, document, metadata, vector FROM embeddings ORDER BY seq`)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	var found []Record
	for batch := range slices.Chunk(ids, maxIDsPerStatement) {
		records, err := s.scan(ctx,
			`SELECT id, document, metadata, vector FROM embeddings WHERE id IN (`+placeholders(len(batch))+`)`, idArgs(batch)...)
		if err != nil {
			return nil, err
		}
		found = append(found, records...)
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

func (s *SQLiteEngine) scan(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var metadataJSON string
		var blob []byte
		if err := rows.Scan(&r.ID, &r.Document, &metadataJSON, &blob); err != nil {
			return nil, err
		}
		if metadataJSON != "" {
			if err := json.Unmarshal([]byte(metadataJSON), &r.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata for %s: %w", r.ID, err)
			}
		}
		r.Vector = bytesToFloat32Slice(blob)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Delete removes records by id, or every record matching where when ids is empty.
func (s *SQLiteEngine) Delete(ctx context.Context, ids []string, where Where) error {
	if len(ids) > 0 {
		return s.deleteIDs(ctx, ids)
	}
	if len(where) == 0 {
		return nil
	}
	records, err := s.scan(ctx, `SELECT id, document, metadata, vector FROM embeddings`)
	if err != nil {
		return err
	}
	var matched []string
	for _, r := range records {
		if where.Matches(r.Metadata) {
			matched = append(matched, r.ID)
		}
	}
	if len(matched) == 0 {
		return nil
	}
	return s.deleteIDs(ctx, matched)
}

// deleteIDs removes ids in batches within one transaction.
func (s *SQLiteEngine) deleteIDs(ctx context.Context, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for batch := range slices.Chunk(ids, maxIDsPerStatement) {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM embeddings WHERE id IN (`+placeholders(len(batch))+`)`, idArgs(batch)...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Reset deletes every record.
func (s *SQLiteEngine) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM embeddings`)
	return err
}

// Count returns the number of records.
func (s *SQLiteEngine) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&count)
	return count, err
}

// Ping checks the database connection.
func (s *SQLiteEngine) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Info returns the stored collection info.
func (s *SQLiteEngine) Info() CollectionInfo {
	return s.info
}

// Close closes the database connection.
func (s *SQLiteEngine) Close() error {
	return s.db.Close()
}

// maxIDsPerStatement keeps IN lists well under SQLite's bound-variable limit.
const maxIDsPerStatement = 500

func idArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
