package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kenkyu/internal/embedding"
	"github.com/hyperjump/kenkyu/internal/index"
	"github.com/hyperjump/kenkyu/internal/models"
	"github.com/hyperjump/kenkyu/internal/vector"
)

type fakeSearcher struct {
	mu    sync.Mutex
	hits  []models.SearchHit
	err   error
	calls int
	topK  int
}

func (f *fakeSearcher) QueryByText(_ context.Context, _ string, topK int, _ map[string]any) ([]models.SearchHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.topK = topK
	if f.err != nil {
		return nil, f.err
	}
	n := min(topK, len(f.hits))
	out := make([]models.SearchHit, n)
	copy(out, f.hits[:n])
	return out, nil
}

func hit(id, text string, sim float64) models.SearchHit {
	return models.SearchHit{ID: id, Text: text, SourceID: "src-" + id, Similarity: sim}
}

func withPositions(hits ...models.SearchHit) []models.SearchHit {
	for i := range hits {
		hits[i].Position = i + 1
	}
	return hits
}

func ids(results []models.RankedResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

func TestSearch_Validation(t *testing.T) {
	fake := &fakeSearcher{hits: withPositions(hit("a", "alpha", 0.9))}
	r := NewRetriever(fake, RetrieverConfig{TrackMetrics: true}, nil)
	ctx := context.Background()

	tests := []struct {
		name      string
		query     string
		max       int
		threshold float64
	}{
		{"empty query", "", 5, 0},
		{"blank query", "   ", 5, 0},
		{"zero results", "q", 0, 0},
		{"negative results", "q", -1, 0},
		{"threshold above one", "q", 5, 1.5},
		{"negative threshold", "q", 5, -0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Search(ctx, tt.query, tt.max, tt.threshold, nil, false)
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}
	assert.Zero(t, fake.calls)
	assert.Zero(t, r.PerformanceMetrics().TotalSearches)
}

func TestSearch_OverFetchesAndTruncates(t *testing.T) {
	fake := &fakeSearcher{hits: withPositions(
		hit("a", "a", 0.9), hit("b", "b", 0.8), hit("c", "c", 0.7), hit("d", "d", 0.6), hit("e", "e", 0.5),
	)}
	r := NewRetriever(fake, RetrieverConfig{}, nil)
	results, err := r.Search(context.Background(), "query", 2, 0, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 4, fake.topK)
	assert.Equal(t, []string{"a", "b"}, ids(results))
	assert.Equal(t, 1, results[0].Position)
	assert.Equal(t, 2, results[1].Position)
}

func TestSearch_ThresholdMonotonic(t *testing.T) {
	fake := &fakeSearcher{hits: withPositions(
		hit("a", "a", 0.95), hit("b", "b", 0.7), hit("c", "c", 0.4), hit("d", "d", 0.15), hit("e", "e", 0.05),
	)}
	r := NewRetriever(fake, RetrieverConfig{}, nil)
	ctx := context.Background()

	strict, err := r.Search(ctx, "query", 10, 0.9, nil, false)
	require.NoError(t, err)
	loose, err := r.Search(ctx, "query", 10, 0.1, nil, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, ids(strict))
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(loose))
	assert.Subset(t, ids(loose), ids(strict))
}

func TestSearch_RankOrdering(t *testing.T) {
	// Engine order with a tie and an out-of-order pair.
	fake := &fakeSearcher{hits: withPositions(
		hit("a", "a", 0.5), hit("b", "b", 0.7), hit("c", "c", 0.5), hit("d", "d", 0.9),
	)}
	r := NewRetriever(fake, RetrieverConfig{}, nil)
	results, err := r.Search(context.Background(), "query", 10, 0, nil, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "b", "a", "c"}, ids(results))
	for i, res := range results {
		assert.Equal(t, i+1, res.Position)
		if i > 0 {
			assert.GreaterOrEqual(t, results[i-1].Similarity, res.Similarity)
		}
	}
}

func TestSearch_HybridBoost(t *testing.T) {
	fake := &fakeSearcher{hits: withPositions(
		hit("a", "unrelated passage", 0.5),
		hit("b", "Attention is what a Transformer uses", 0.45),
		hit("c", "attention transformer models everywhere, attention", 0.9),
	)}
	r := NewRetriever(fake, RetrieverConfig{}, nil)
	ctx := context.Background()

	results, err := r.Search(ctx, "attention transformer models of it", 10, 0, nil, true)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"c", "b", "a"}, ids(results))
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-9)
	assert.InDelta(t, 0.65, results[1].Similarity, 1e-9)
	assert.InDelta(t, 0.5, results[2].Similarity, 1e-9)

	plain, err := r.Search(ctx, "attention transformer models of it", 10, 0, nil, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, ids(plain))
	assert.InDelta(t, 0.45, plain[2].Similarity, 1e-9)
}

func TestSearch_ClampsSoftSimilarity(t *testing.T) {
	fake := &fakeSearcher{hits: withPositions(hit("a", "a", 1.0000002))}
	r := NewRetriever(fake, RetrieverConfig{}, nil)
	results, err := r.Search(context.Background(), "query", 1, 0, nil, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1.0, results[0].Similarity)
}

func TestSearch_DropsInvalidHits(t *testing.T) {
	bad := hit("b", "beta", 0.8)
	bad.SourceID = ""
	fake := &fakeSearcher{hits: withPositions(hit("a", "alpha", 0.9), bad, hit("c", "gamma", 0.7))}
	r := NewRetriever(fake, RetrieverConfig{}, nil)
	results, err := r.Search(context.Background(), "query", 5, 0, nil, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(results))
	assert.Equal(t, 2, results[1].Position)
}

func TestSearch_DegradesOnFailure(t *testing.T) {
	for _, failure := range []error{
		fmt.Errorf("%w: connection refused", models.ErrEngine),
		fmt.Errorf("%w: model offline", models.ErrEmbedding),
		errors.New("unexpected"),
	} {
		fake := &fakeSearcher{err: failure}
		r := NewRetriever(fake, RetrieverConfig{TrackMetrics: true}, nil)
		results, err := r.Search(context.Background(), "query", 5, 0, nil, false)
		require.NoError(t, err)
		assert.Empty(t, results)
		assert.Equal(t, 1, r.PerformanceMetrics().TotalSearches)
	}
}

func TestSearchWithContext_Reasoning(t *testing.T) {
	fake := &fakeSearcher{hits: withPositions(
		hit("a", "graph neural networks for molecules", 0.85),
		hit("b", "a survey of networks", 0.65),
		hit("c", "cooking recipes", 0.3),
	)}
	r := NewRetriever(fake, RetrieverConfig{}, nil)
	results, err := r.SearchWithContext(context.Background(), models.QueryOptions{
		QueryText:        "graph neural networks molecules",
		MaxResults:       5,
		IncludeReasoning: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "High semantic similarity (0.85); matching terms: graph, neural, networks", results[0].Reasoning)
	assert.Equal(t, "Moderate semantic similarity (0.65); matching terms: networks", results[1].Reasoning)
	assert.Equal(t, "Low semantic similarity (0.30)", results[2].Reasoning)
}

func TestSearchWithContext_NoReasoningByDefault(t *testing.T) {
	fake := &fakeSearcher{hits: withPositions(hit("a", "alpha", 0.9))}
	r := NewRetriever(fake, RetrieverConfig{}, nil)
	results, err := r.SearchWithContext(context.Background(), models.QueryOptions{QueryText: "alpha", MaxResults: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Reasoning)
}

func TestSearchWithContext_Rerank(t *testing.T) {
	fake := &fakeSearcher{hits: withPositions(
		hit("a", "deep models", 0.7),
		hit("b", "All about Neural Networks today", 0.6),
		hit("c", "neural nets", 0.9),
	)}
	r := NewRetriever(fake, RetrieverConfig{}, nil)
	results, err := r.SearchWithContext(context.Background(), models.QueryOptions{
		QueryText:  "neural networks",
		MaxResults: 5,
		Rerank:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, ids(results))
	assert.InDelta(t, 0.8, results[1].Similarity, 1e-9)
	for i, res := range results {
		assert.Equal(t, i+1, res.Position)
		assert.NoError(t, res.Validate())
	}
}

func TestSearchWithContext_RerankCaps(t *testing.T) {
	fake := &fakeSearcher{hits: withPositions(hit("a", "exact phrase here", 0.95))}
	r := NewRetriever(fake, RetrieverConfig{}, nil)
	results, err := r.SearchWithContext(context.Background(), models.QueryOptions{
		QueryText: "exact phrase", MaxResults: 1, Rerank: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1.0, results[0].Similarity)
}

func TestPerformanceMetrics(t *testing.T) {
	fake := &fakeSearcher{hits: withPositions(hit("a", "a", 0.9), hit("b", "b", 0.8), hit("c", "c", 0.2))}
	ctx := context.Background()

	untracked := NewRetriever(fake, RetrieverConfig{}, nil)
	_, _ = untracked.Search(ctx, "query", 5, 0, nil, false)
	assert.Equal(t, PerformanceMetrics{}, untracked.PerformanceMetrics())

	r := NewRetriever(fake, RetrieverConfig{TrackMetrics: true}, nil)
	_, err := r.Search(ctx, "query", 5, 0, nil, false)
	require.NoError(t, err)
	_, err = r.Search(ctx, "query", 5, 0.5, nil, false)
	require.NoError(t, err)

	m := r.PerformanceMetrics()
	assert.Equal(t, 2, m.TotalSearches)
	assert.Equal(t, 5, m.TotalResults)
	assert.InDelta(t, 2.5, m.AverageResultsPerSearch, 1e-9)
	assert.GreaterOrEqual(t, m.TotalSearchTime, m.LastSearchTime)

	r.ResetMetrics()
	assert.Equal(t, PerformanceMetrics{}, r.PerformanceMetrics())
}

func TestSearch_Concurrent(t *testing.T) {
	fake := &fakeSearcher{hits: withPositions(hit("a", "a", 0.9), hit("b", "b", 0.8))}
	r := NewRetriever(fake, RetrieverConfig{TrackMetrics: true}, nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Search(context.Background(), "query", 2, 0, nil, false)
		}()
	}
	wg.Wait()
	m := r.PerformanceMetrics()
	assert.Equal(t, 20, m.TotalSearches)
	assert.Equal(t, 40, m.TotalResults)
}

func TestRetriever_WithVectorIndex(t *testing.T) {
	ctx := context.Background()
	emb := embedding.NewMockEmbedder(128)
	engine, err := vector.NewMemoryEngine(vector.CollectionInfo{Name: "papers", Dimensions: 128}, "")
	require.NoError(t, err)
	idx, err := index.New(engine, emb, index.Config{Collection: "papers", Dimensions: 128}, nil)
	require.NoError(t, err)

	texts := map[string]string{
		"s1": "retrieval augmented generation pipelines",
		"s2": "protein folding with deep learning",
		"s3": "vector databases for retrieval",
	}
	var segs []*models.EmbeddedSegment
	for _, id := range []string{"s1", "s2", "s3"} {
		vec, err := emb.Embed(ctx, texts[id])
		require.NoError(t, err)
		segs = append(segs, &models.EmbeddedSegment{
			Segment: models.Segment{SegmentID: id, SourceID: "doc-" + id, Text: texts[id], StartOffset: 0, EndOffset: len(texts[id])},
			Vector:  vec, ModelID: emb.ModelID(),
		})
	}
	require.NoError(t, idx.Add(ctx, segs))

	r := NewRetriever(idx, RetrieverConfig{}, nil)
	results, err := r.Search(ctx, "retrieval augmented generation pipelines", 2, 0, nil, true)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "s1", results[0].ID)
	assert.Equal(t, "doc-s1", results[0].SourceID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-5)

	filtered, err := r.Search(ctx, "retrieval", 5, 0, map[string]any{"sourceId": "doc-s3"}, false)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "s3", filtered[0].ID)
}
