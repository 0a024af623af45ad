// Package vector provides the nearest-neighbor engines that physically store segment vectors.
package vector

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Record is one stored item: an id, its vector, its text, and flat metadata.
type Record struct {
	ID       string
	Vector   []float32
	Document string
	Metadata map[string]any
}

// Match is a query hit with its cosine distance to the query vector (0 = identical, 2 = opposite).
type Match struct {
	Record
	Distance float64
}

// Where is an equality filter over metadata keys; all pairs must match.
type Where map[string]any

// Matches reports whether meta satisfies every pair in w. Numbers compare by value, so an int
// filter matches a float64 decoded from JSON.
func (w Where) Matches(meta map[string]any) bool {
	for k, want := range w {
		got, ok := meta[k]
		if !ok || valueKey(got) != valueKey(want) {
			return false
		}
	}
	return true
}

func valueKey(v any) string {
	switch x := v.(type) {
	case string:
		return "s:" + x
	case bool:
		return "b:" + strconv.FormatBool(x)
	case int:
		return "n:" + strconv.FormatFloat(float64(x), 'g', -1, 64)
	case int32:
		return "n:" + strconv.FormatFloat(float64(x), 'g', -1, 64)
	case int64:
		return "n:" + strconv.FormatFloat(float64(x), 'g', -1, 64)
	case float32:
		return "n:" + strconv.FormatFloat(float64(x), 'g', -1, 64)
	case float64:
		return "n:" + strconv.FormatFloat(x, 'g', -1, 64)
	case nil:
		return "nil"
	default:
		return fmt.Sprintf("v:%v", x)
	}
}

// CollectionInfo describes a collection. It is written once when the collection is created.
type CollectionInfo struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Dimensions  int       `json:"dimensions"`
	ModelID     string    `json:"model_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Engine is the storage and nearest-neighbor search collaborator behind the vector index.
// Implementations are safe for concurrent use.
type Engine interface {
	// Type names the implementation, one of the EngineType values.
	Type() string
	// Insert stores records, replacing any with the same id.
	Insert(ctx context.Context, records []Record) error
	// Query returns up to k records matching where, ordered by ascending distance.
	Query(ctx context.Context, vector []float32, k int, where Where) ([]Match, error)
	// Get returns the records with the given ids; nil ids returns every record.
	Get(ctx context.Context, ids []string) ([]Record, error)
	// Delete removes records by id, or by filter when ids is empty. Missing ids are ignored.
	Delete(ctx context.Context, ids []string, where Where) error
	// Reset removes every record but keeps the collection.
	Reset(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Info() CollectionInfo
	Close() error
}
