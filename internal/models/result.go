package models

import (
	"fmt"
	"time"
)

// SearchHit is a single raw nearest-neighbor hit. Similarity is expected in [0,1] but not clamped.
type SearchHit struct {
	ID         string         `json:"id"`
	Text       string         `json:"text"`
	SourceID   string         `json:"source_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Similarity float64        `json:"similarity"`
	Position   int            `json:"position"`
}

// RankedResult is a SearchHit promoted by the retriever.
type RankedResult struct {
	SearchHit
	Reasoning string `json:"reasoning,omitempty"`
}

// Validate enforces the ranked result invariants.
func (r *RankedResult) Validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("%w: result id is empty", ErrValidation)
	case r.Text == "":
		return fmt.Errorf("%w: result %s has empty text", ErrValidation, r.ID)
	case r.SourceID == "":
		return fmt.Errorf("%w: result %s has empty source id", ErrValidation, r.ID)
	case r.Similarity < 0 || r.Similarity > 1:
		return fmt.Errorf("%w: result %s similarity %.4f out of range", ErrValidation, r.ID, r.Similarity)
	case r.Position < 1:
		return fmt.Errorf("%w: result %s position %d < 1", ErrValidation, r.ID, r.Position)
	}
	return nil
}

// IndexStats summarizes the contents of a vector index collection.
type IndexStats struct {
	Collection      string   `json:"collection"`
	TotalSegments   int      `json:"total_segments"`
	UniqueSources   int      `json:"unique_sources"`
	ModelsUsed      []string `json:"models_used"`
	AvgTextLength   float64  `json:"avg_text_length"`
	TotalCharacters int      `json:"total_characters"`
}

// ComponentStatus is the health of one collaborator.
type ComponentStatus struct {
	OK      bool          `json:"ok"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency"`
}

// HealthStatus is the structured result of a vector index health check.
type HealthStatus struct {
	Healthy    bool            `json:"healthy"`
	Collection string          `json:"collection"`
	Segments   int             `json:"segments"`
	Engine     ComponentStatus `json:"engine"`
	Embedder   ComponentStatus `json:"embedder"`
	CheckedAt  time.Time       `json:"checked_at"`
}
