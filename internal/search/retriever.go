// Package search ranks vector index hits into results for a query.
package search

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kenkyu/internal/models"
	"github.com/hyperjump/kenkyu/pkg/utils"
)

// overFetchFactor leaves room for threshold filtering before truncation.
const overFetchFactor = 2

// Searcher is the part of the vector index the retriever queries.
type Searcher interface {
	QueryByText(ctx context.Context, text string, topK int, filter map[string]any) ([]models.SearchHit, error)
}

// RetrieverConfig configures a Retriever.
type RetrieverConfig struct {
	// TrackMetrics enables the performance counters.
	TrackMetrics bool
}

// PerformanceMetrics are counters accumulated across searches.
type PerformanceMetrics struct {
	TotalSearches           int           `json:"total_searches"`
	TotalSearchTime         time.Duration `json:"total_search_time"`
	TotalResults            int           `json:"total_results"`
	AverageResultsPerSearch float64       `json:"average_results_per_search"`
	LastSearchTime          time.Duration `json:"last_search_time"`
}

// Retriever turns a query into ranked results. Searches are stateless apart from the metrics,
// so one Retriever serves concurrent callers.
type Retriever struct {
	index  Searcher
	cfg    RetrieverConfig
	logger *zap.Logger

	mu      sync.Mutex
	metrics PerformanceMetrics
}

// NewRetriever creates a Retriever over idx.
func NewRetriever(idx Searcher, cfg RetrieverConfig, logger *zap.Logger) *Retriever {
	return &Retriever{
		index:  idx,
		cfg:    cfg,
		logger: utils.OrNop(logger),
	}
}

// Search returns up to maxResults results at or above threshold, ordered by descending similarity.
// Only invalid input is returned as an error; query failures are logged and yield no results.
func (r *Retriever) Search(ctx context.Context, query string, maxResults int, threshold float64, filter map[string]any, hybrid bool) ([]models.RankedResult, error) {
	return r.SearchWithContext(ctx, models.QueryOptions{
		QueryText:          query,
		MaxResults:         maxResults,
		RelevanceThreshold: threshold,
		MetadataFilter:     filter,
		HybridSearch:       hybrid,
	})
}

// SearchWithContext runs the search pipeline driven by opts, then optionally attaches reasoning
// and re-ranks by whole-query containment.
func (r *Retriever) SearchWithContext(ctx context.Context, opts models.QueryOptions) ([]models.RankedResult, error) {
	if err := ProcessQuery(&opts); err != nil {
		return nil, err
	}
	start := time.Now()
	results := r.search(ctx, opts)

	if opts.IncludeReasoning {
		terms := QueryTerms(opts.QueryText)
		for i := range results {
			results[i].Reasoning = Reasoning(results[i].Similarity, MatchingTerms(terms, results[i].Text))
		}
	}
	if opts.Rerank {
		results = rerank(results, opts.QueryText)
	}

	r.record(time.Since(start), len(results))
	return results, nil
}

func (r *Retriever) search(ctx context.Context, opts models.QueryOptions) []models.RankedResult {
	hits, err := r.index.QueryByText(ctx, opts.QueryText, opts.MaxResults*overFetchFactor, opts.MetadataFilter)
	if err != nil {
		if errors.Is(err, models.ErrValidation) {
			r.logger.Warn("search rejected by index", zap.Error(err))
		} else {
			r.logger.Error("search failed", zap.String("query", utils.Truncate(opts.QueryText, 80)), zap.Error(err))
		}
		return []models.RankedResult{}
	}

	var terms []string
	if opts.HybridSearch {
		terms = QueryTerms(opts.QueryText)
	}

	results := make([]models.RankedResult, 0, len(hits))
	for _, hit := range hits {
		res := models.RankedResult{SearchHit: hit}
		res.Similarity = clamp01(res.Similarity)
		if len(terms) > 0 {
			if n := len(MatchingTerms(terms, hit.Text)); n > 0 {
				res.Similarity = min(1, res.Similarity+HybridBoost(n))
			}
		}
		if res.Similarity < opts.RelevanceThreshold {
			continue
		}
		results = append(results, res)
	}
	if len(results) > opts.MaxResults {
		results = results[:opts.MaxResults]
	}
	return r.rank(results)
}

// rank stable-sorts by descending similarity, assigns 1-based positions, and drops results that
// fail validation.
func (r *Retriever) rank(results []models.RankedResult) []models.RankedResult {
	sort.SliceStable(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	out := results[:0]
	for _, res := range results {
		res.Position = len(out) + 1
		if err := res.Validate(); err != nil {
			r.logger.Warn("dropping invalid result", zap.String("id", res.ID), zap.Error(err))
			continue
		}
		out = append(out, res)
	}
	return out
}

func rerank(results []models.RankedResult, query string) []models.RankedResult {
	for i := range results {
		if ContainsPhrase(results[i].Text, query) {
			results[i].Similarity = min(1, results[i].Similarity+phraseBoost)
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	for i := range results {
		results[i].Position = i + 1
	}
	return results
}

func (r *Retriever) record(elapsed time.Duration, n int) {
	if !r.cfg.TrackMetrics {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics.TotalSearches++
	r.metrics.TotalSearchTime += elapsed
	r.metrics.TotalResults += n
	r.metrics.LastSearchTime = elapsed
	r.metrics.AverageResultsPerSearch = float64(r.metrics.TotalResults) / float64(r.metrics.TotalSearches)
}

// PerformanceMetrics returns a snapshot of the counters.
func (r *Retriever) PerformanceMetrics() PerformanceMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metrics
}

// ResetMetrics zeroes the counters.
func (r *Retriever) ResetMetrics() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = PerformanceMetrics{}
}
