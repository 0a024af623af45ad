package vector

import (
	"context"
	"encoding/gob"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryEngine is an in-memory engine using brute-force cosine distance.
// When created with a directory it persists the collection to <dir>/<name>.gob on Flush and Close.
type MemoryEngine struct {
	info    CollectionInfo
	path    string
	ids     []string
	records map[string]Record
	mu      sync.RWMutex
}

type memorySnapshot struct {
	Info    CollectionInfo
	Records []Record
}

func init() {
	// Metadata values travel through interface{} fields.
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// NewMemoryEngine creates an engine for info. An empty dir keeps everything in memory; otherwise an
// existing snapshot is loaded, and its stored collection info wins over info.
func NewMemoryEngine(info CollectionInfo, dir string) (*MemoryEngine, error) {
	if info.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if info.Name == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now().UTC()
	}
	m := &MemoryEngine{
		info:    info,
		records: make(map[string]Record),
	}
	if dir != "" {
		m.path = filepath.Join(dir, info.Name+".gob")
		if err := m.load(info.Dimensions); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Type returns the engine type identifier.
func (m *MemoryEngine) Type() string {
	return string(EngineTypeMemory)
}

// Insert stores records, replacing existing ids in place.
func (m *MemoryEngine) Insert(ctx context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if len(r.Vector) != m.info.Dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(r.Vector), m.info.Dimensions)
		}
	}
	for _, r := range records {
		r = cloneRecord(r)
		if _, exists := m.records[r.ID]; !exists {
			m.ids = append(m.ids, r.ID)
		}
		m.records[r.ID] = r
	}
	return nil
}

// Query returns the k nearest records matching where.
func (m *MemoryEngine) Query(ctx context.Context, vector []float32, k int, where Where) ([]Match, error) {
	if len(vector) != m.info.Dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(vector), m.info.Dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	candidates := make([]Record, 0, len(m.ids))
	for _, id := range m.ids {
		candidates = append(candidates, m.records[id])
	}
	matches := nearest(candidates, vector, k, where)
	for i := range matches {
		matches[i].Record = cloneRecord(matches[i].Record)
	}
	return matches, nil
}

// nearest ranks records by ascending cosine distance to vector. Ties keep insertion order.
func nearest(records []Record, vector []float32, k int, where Where) []Match {
	if k <= 0 {
		return nil
	}
	matches := make([]Match, 0, len(records))
	for _, r := range records {
		if len(where) > 0 && !where.Matches(r.Metadata) {
			continue
		}
		matches = append(matches, Match{Record: r, Distance: CosineDistance(vector, r.Vector)})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if k < len(matches) {
		matches = matches[:k]
	}
	return matches
}

// Get returns records by id in the requested order, skipping unknown ids. Nil ids returns all.
func (m *MemoryEngine) Get(ctx context.Context, ids []string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ids == nil {
		ids = m.ids
	}
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		if r, ok := m.records[id]; ok {
			out = append(out, cloneRecord(r))
		}
	}
	return out, nil
}

// cloneRecord copies the vector and metadata so stored records never share memory with callers.
func cloneRecord(r Record) Record {
	r.Vector = slices.Clone(r.Vector)
	r.Metadata = maps.Clone(r.Metadata)
	return r
}

// Delete removes records by id, or every record matching where when ids is empty.
func (m *MemoryEngine) Delete(ctx context.Context, ids []string, where Where) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	remove := make(map[string]bool, len(ids))
	switch {
	case len(ids) > 0:
		for _, id := range ids {
			remove[id] = true
		}
	case len(where) > 0:
		for id, r := range m.records {
			if where.Matches(r.Metadata) {
				remove[id] = true
			}
		}
	default:
		return nil
	}
	kept := make([]string, 0, len(m.ids))
	for _, id := range m.ids {
		if remove[id] {
			delete(m.records, id)
			continue
		}
		kept = append(kept, id)
	}
	m.ids = kept
	return nil
}

// Reset drops every record.
func (m *MemoryEngine) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = nil
	m.records = make(map[string]Record)
	return nil
}

// Count returns the number of records.
func (m *MemoryEngine) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids), nil
}

// Ping always succeeds.
func (m *MemoryEngine) Ping(ctx context.Context) error {
	return nil
}

// Info returns the collection info.
func (m *MemoryEngine) Info() CollectionInfo {
	return m.info
}

// Flush writes the snapshot file when the engine is persistent.
func (m *MemoryEngine) Flush() error {
	if m.path == "" {
		return nil
	}
	m.mu.RLock()
	snap := memorySnapshot{Info: m.info, Records: make([]Record, 0, len(m.ids))}
	for _, id := range m.ids {
		snap.Records = append(snap.Records, m.records[id])
	}
	m.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("create collection dir: %w", err)
	}
	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(&snap); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	return os.Rename(tmp, m.path)
}

func (m *MemoryEngine) load(dimensions int) error {
	f, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	var snap memorySnapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Info.Dimensions != dimensions {
		return fmt.Errorf("dimension mismatch: collection has %d, expected %d", snap.Info.Dimensions, dimensions)
	}
	m.info = snap.Info
	for _, r := range snap.Records {
		m.ids = append(m.ids, r.ID)
		m.records[r.ID] = r
	}
	return nil
}

// Close flushes a persistent engine.
func (m *MemoryEngine) Close() error {
	return m.Flush()
}
