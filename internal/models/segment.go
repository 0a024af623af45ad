// Package models defines core data structures for segments, search hits, and ranked results.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Segment is a bounded slice of source text with positional and caller metadata. Offsets are
// character (rune) positions in the preprocessed source text.
type Segment struct {
	SegmentID   string         `json:"segment_id"`
	SourceID    string         `json:"source_id"`
	Text        string         `json:"text"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	StartOffset int            `json:"start_offset"`
	EndOffset   int            `json:"end_offset"`
}

// Validate checks the segment's positional and text invariants.
func (s *Segment) Validate() error {
	if strings.TrimSpace(s.Text) == "" {
		return fmt.Errorf("%w: segment text is empty", ErrValidation)
	}
	if s.SegmentID == "" {
		return fmt.Errorf("%w: segment id is empty", ErrValidation)
	}
	if s.StartOffset < 0 || s.StartOffset >= s.EndOffset {
		return fmt.Errorf("%w: invalid offsets [%d,%d)", ErrValidation, s.StartOffset, s.EndOffset)
	}
	return nil
}

// EmbeddedSegment is a Segment with its embedding vector attached.
type EmbeddedSegment struct {
	Segment
	Vector  []float32 `json:"-"`
	ModelID string    `json:"model_id"`
}

// StoredSegment is an EmbeddedSegment as persisted by the vector index.
type StoredSegment struct {
	EmbeddedSegment
	StoredAt time.Time `json:"stored_at"`
}

// Document is a registered source document that segments are cut from.
type Document struct {
	ID        string         `json:"id" db:"id"`
	Title     string         `json:"title" db:"title"`
	Content   string         `json:"content" db:"content"`
	Metadata  map[string]any `json:"metadata" db:"metadata"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// DocumentInput is the input for indexing a document.
type DocumentInput struct {
	ID       string         `json:"id,omitempty"`
	Title    string         `json:"title,omitempty"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SegmentRef records that a segment of a document was written to the vector index.
type SegmentRef struct {
	ID          string    `json:"id" db:"id"`
	DocumentID  string    `json:"document_id" db:"document_id"`
	Index       int       `json:"index" db:"segment_index"`
	StartOffset int       `json:"start_offset" db:"start_offset"`
	EndOffset   int       `json:"end_offset" db:"end_offset"`
	ModelID     string    `json:"model_id" db:"model_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
