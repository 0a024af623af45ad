package models

import (
	"fmt"
	"strings"
)

// QueryOptions drives a retrieval call.
type QueryOptions struct {
	QueryText          string         `json:"query_text"`
	MaxResults         int            `json:"max_results"`
	RelevanceThreshold float64        `json:"relevance_threshold"`
	MetadataFilter     map[string]any `json:"metadata_filter,omitempty"`
	Rerank             bool           `json:"rerank,omitempty"`
	IncludeReasoning   bool           `json:"include_reasoning,omitempty"`
	HybridSearch       bool           `json:"hybrid_search,omitempty"`
}

// Validate rejects an empty query, a non-positive result count, or a threshold outside [0,1].
func (q *QueryOptions) Validate() error {
	if strings.TrimSpace(q.QueryText) == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrValidation)
	}
	if q.MaxResults <= 0 {
		return fmt.Errorf("%w: max results must be positive, got %d", ErrValidation, q.MaxResults)
	}
	if q.RelevanceThreshold < 0 || q.RelevanceThreshold > 1 {
		return fmt.Errorf("%w: relevance threshold must be in [0,1], got %v", ErrValidation, q.RelevanceThreshold)
	}
	return nil
}
