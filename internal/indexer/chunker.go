// Package indexer provides document chunking and indexing.
package indexer

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/hyperjump/kenkyu/internal/models"
)

// Metadata keys the chunker adds to every segment.
const (
	MetaChunkIndex = "chunk_index"
	MetaChunkCount = "chunk_count"
)

// Chunker splits text into overlapping, sentence-aware segments. Sizes and offsets count
// characters (runes), not bytes.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// DefaultOverlap returns min(100, max(10, chunkSize/10)).
func DefaultOverlap(chunkSize int) int {
	return min(100, max(10, chunkSize/10))
}

// NewChunker creates a chunker. A negative chunkOverlap selects DefaultOverlap.
// The overlap must be smaller than chunkSize.
func NewChunker(chunkSize, chunkOverlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", models.ErrConfiguration, chunkSize)
	}
	if chunkOverlap < 0 {
		chunkOverlap = DefaultOverlap(chunkSize)
	}
	if chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d",
			models.ErrConfiguration, chunkOverlap, chunkSize)
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}, nil
}

// ChunkSize returns the configured window size.
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// ChunkOverlap returns the configured overlap.
func (c *Chunker) ChunkOverlap() int { return c.chunkOverlap }

// Chunk splits text into segments. Offsets are rune positions of the window [start,end) in text;
// Text is that window trimmed. Empty or whitespace-only text yields no segments.
func (c *Chunker) Chunk(text, sourceID string, metadata map[string]any) []*models.Segment {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	n := len(runes)
	segments := make([]*models.Segment, 0, n/(c.chunkSize-c.chunkOverlap)+1)
	start := 0
	for start < n {
		end := min(start+c.chunkSize, n)
		if end < n {
			end = c.boundary(runes, start, end)
		}

		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			meta := make(map[string]any, len(metadata)+2)
			for k, v := range metadata {
				meta[k] = v
			}
			meta[MetaChunkIndex] = len(segments)
			segments = append(segments, &models.Segment{
				SegmentID:   fmt.Sprintf("%s_%d_%s", sourceID, len(segments), uuid.New().String()[:8]),
				SourceID:    sourceID,
				Text:        piece,
				Metadata:    meta,
				StartOffset: start,
				EndOffset:   end,
			})
		}
		if end >= n {
			break
		}

		next := max(start+1, end-c.chunkOverlap)
		if last := len(segments) - 1; last >= 0 && next <= segments[last].StartOffset {
			next = segments[last].EndOffset
		}
		start = next
	}

	for _, s := range segments {
		s.Metadata[MetaChunkCount] = len(segments)
	}
	return segments
}

// boundary returns the end of the window [start,end): just past the last sentence terminator and
// its following space when that lies beyond the overlap region, otherwise the hard cut.
func (c *Chunker) boundary(runes []rune, start, end int) int {
	for i := end - 2; i >= start; i-- {
		if isTerminator(runes[i]) && unicode.IsSpace(runes[i+1]) {
			if cut := i + 2; cut > start+c.chunkOverlap {
				return cut
			}
			break
		}
	}
	return end
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
