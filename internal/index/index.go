// Package index owns a named collection of stored segments on top of a vector engine.
package index

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kenkyu/internal/embedding"
	"github.com/hyperjump/kenkyu/internal/models"
	"github.com/hyperjump/kenkyu/internal/vector"
	"github.com/hyperjump/kenkyu/pkg/utils"
)

const healthProbeText = "health check"

// Config names the collection and its vector dimensionality.
type Config struct {
	Collection string
	Dimensions int
}

// VectorIndex validates, stores, and queries embedded segments. Every engine call is serialized
// behind one mutex.
type VectorIndex struct {
	engine   vector.Engine
	embedder embedding.Embedder
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time

	mu sync.Mutex
}

// New creates a VectorIndex. The embedder may be nil when text queries are not needed.
func New(engine vector.Engine, embedder embedding.Embedder, cfg Config, logger *zap.Logger) (*VectorIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive, got %d", models.ErrConfiguration, cfg.Dimensions)
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return nil, fmt.Errorf("%w: collection name is required", models.ErrConfiguration)
	}
	if engine == nil {
		return nil, fmt.Errorf("%w: vector engine is required", models.ErrConfiguration)
	}
	if d := engine.Info().Dimensions; d != 0 && d != cfg.Dimensions {
		return nil, fmt.Errorf("%w: engine collection has %d dimensions, index configured for %d",
			models.ErrConfiguration, d, cfg.Dimensions)
	}
	if embedder != nil && embedder.Dimensions() != cfg.Dimensions {
		return nil, fmt.Errorf("%w: embedder produces %d dimensions, index configured for %d",
			models.ErrConfiguration, embedder.Dimensions(), cfg.Dimensions)
	}
	return &VectorIndex{
		engine:   engine,
		embedder: embedder,
		cfg:      cfg,
		logger:   utils.OrNop(logger).With(zap.String("collection", cfg.Collection)),
		now:      time.Now,
	}, nil
}

// Collection returns the collection name.
func (v *VectorIndex) Collection() string { return v.cfg.Collection }

// Dimensions returns the configured vector length.
func (v *VectorIndex) Dimensions() int { return v.cfg.Dimensions }

// Info returns the engine's collection info.
func (v *VectorIndex) Info() vector.CollectionInfo { return v.engine.Info() }

// Add stores segments. Every segment is validated before anything is written, so a rejected call
// leaves the collection unchanged. Engine failures are returned wrapped in ErrEngine.
func (v *VectorIndex) Add(ctx context.Context, segments []*models.EmbeddedSegment) error {
	if len(segments) == 0 {
		return nil
	}
	for i, seg := range segments {
		if seg == nil {
			return fmt.Errorf("%w: segment %d is nil", models.ErrValidation, i)
		}
		if len(seg.Vector) != v.cfg.Dimensions {
			return fmt.Errorf("%w: segment %s has %d dimensions, expected %d",
				models.ErrValidation, seg.SegmentID, len(seg.Vector), v.cfg.Dimensions)
		}
		if err := seg.Validate(); err != nil {
			return err
		}
	}

	storedAt := v.now()
	records := make([]vector.Record, len(segments))
	for i, seg := range segments {
		records[i] = vector.Record{
			ID:       seg.SegmentID,
			Vector:   seg.Vector,
			Document: seg.Text,
			Metadata: encodeMetadata(seg, storedAt),
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.engine.Insert(ctx, records); err != nil {
		v.logger.Error("failed to add segments", zap.Int("count", len(records)), zap.Error(err))
		return fmt.Errorf("%w: insert %d segments: %v", models.ErrEngine, len(records), err)
	}
	v.logger.Debug("added segments", zap.Int("count", len(records)))
	return nil
}

// Query returns up to topK hits nearest to vec. An empty collection returns no hits without
// touching the engine. Engine failures are logged and yield an empty result.
func (v *VectorIndex) Query(ctx context.Context, vec []float32, topK int, filter map[string]any) ([]models.SearchHit, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", models.ErrValidation, topK)
	}
	if len(vec) != v.cfg.Dimensions {
		return nil, fmt.Errorf("%w: query vector has %d dimensions, expected %d",
			models.ErrValidation, len(vec), v.cfg.Dimensions)
	}

	// Point-in-time check; the collection may change before the guarded query below.
	if v.Size(ctx) == 0 {
		return []models.SearchHit{}, nil
	}

	v.mu.Lock()
	matches, err := v.engine.Query(ctx, vec, topK, translateFilter(filter))
	v.mu.Unlock()
	if err != nil {
		v.logger.Error("vector query failed", zap.Int("top_k", topK), zap.Error(err))
		return []models.SearchHit{}, nil
	}

	hits := make([]models.SearchHit, 0, len(matches))
	for i, m := range matches {
		similarity := max(0, 1-m.Distance)
		if similarity > 1 {
			v.logger.Warn("similarity out of range",
				zap.String("id", m.ID), zap.Float64("similarity", similarity), zap.Float64("distance", m.Distance))
		}
		hits = append(hits, models.SearchHit{
			ID:         m.ID,
			Text:       m.Document,
			SourceID:   stringField(m.Metadata, KeySourceID),
			Metadata:   restoreMetadata(m.Metadata),
			Similarity: similarity,
			Position:   i + 1,
		})
	}
	return hits, nil
}

// QueryByText embeds text and runs Query. Embedding failures propagate wrapped in ErrEmbedding.
func (v *VectorIndex) QueryByText(ctx context.Context, text string, topK int, filter map[string]any) ([]models.SearchHit, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: query text is empty", models.ErrValidation)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", models.ErrValidation, topK)
	}
	if v.embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured", models.ErrEmbedding)
	}
	vec, err := v.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEmbedding, err)
	}
	return v.Query(ctx, vec, topK, filter)
}

// GetByID returns the stored segment with id, or nil when there is none.
func (v *VectorIndex) GetByID(ctx context.Context, id string) (*models.StoredSegment, error) {
	v.mu.Lock()
	records, err := v.engine.Get(ctx, []string{id})
	v.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", models.ErrEngine, id, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return toStoredSegment(records[0]), nil
}

// DeleteByID removes one segment. A missing id is not an error. It reports false only when the
// engine failed.
func (v *VectorIndex) DeleteByID(ctx context.Context, id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.engine.Delete(ctx, []string{id}, nil); err != nil {
		v.logger.Error("failed to delete segment", zap.String("id", id), zap.Error(err))
		return false
	}
	return true
}

// DeleteBySource removes every segment of a source.
func (v *VectorIndex) DeleteBySource(ctx context.Context, sourceID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.engine.Delete(ctx, nil, vector.Where{KeySourceID: sourceID}); err != nil {
		v.logger.Error("failed to delete source", zap.String("source_id", sourceID), zap.Error(err))
		return false
	}
	return true
}

// Clear removes every segment and keeps the collection.
func (v *VectorIndex) Clear(ctx context.Context) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.engine.Reset(ctx); err != nil {
		v.logger.Error("failed to clear collection", zap.Error(err))
		return false
	}
	return true
}

// Size returns the number of stored segments, or 0 when the engine cannot be counted.
func (v *VectorIndex) Size(ctx context.Context) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n, err := v.engine.Count(ctx)
	if err != nil {
		v.logger.Error("failed to count segments", zap.Error(err))
		return 0
	}
	return n
}

// ListSources returns the sorted set of source ids in the collection.
func (v *VectorIndex) ListSources(ctx context.Context) ([]string, error) {
	records, err := v.all(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, r := range records {
		seen[stringField(r.Metadata, KeySourceID)] = struct{}{}
	}
	sources := make([]string, 0, len(seen))
	for s := range seen {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	return sources, nil
}

// Stats summarizes the collection.
func (v *VectorIndex) Stats(ctx context.Context) (*models.IndexStats, error) {
	records, err := v.all(ctx)
	if err != nil {
		return nil, err
	}
	stats := &models.IndexStats{
		Collection:    v.cfg.Collection,
		TotalSegments: len(records),
		ModelsUsed:    []string{},
	}
	sources := make(map[string]struct{})
	modelSet := make(map[string]struct{})
	for _, r := range records {
		sources[stringField(r.Metadata, KeySourceID)] = struct{}{}
		if m := stringField(r.Metadata, KeyModelID); m != "" {
			modelSet[m] = struct{}{}
		}
		n := intField(r.Metadata, KeyTextLength)
		if n == 0 {
			n = utf8.RuneCountInString(r.Document)
		}
		stats.TotalCharacters += n
	}
	for m := range modelSet {
		stats.ModelsUsed = append(stats.ModelsUsed, m)
	}
	sort.Strings(stats.ModelsUsed)
	stats.UniqueSources = len(sources)
	if len(records) > 0 {
		stats.AvgTextLength = float64(stats.TotalCharacters) / float64(len(records))
	}
	return stats, nil
}

func (v *VectorIndex) all(ctx context.Context) ([]vector.Record, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	records, err := v.engine.Get(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: list records: %v", models.ErrEngine, err)
	}
	return records, nil
}

// HealthCheck probes the engine and the embedder concurrently. Failures are reported in the
// returned status, never as an error.
func (v *VectorIndex) HealthCheck(ctx context.Context) models.HealthStatus {
	status := models.HealthStatus{Collection: v.cfg.Collection}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := time.Now()
		err := v.engine.Ping(gctx)
		status.Engine = componentStatus(start, err)
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		status.Embedder = componentStatus(start, v.probeEmbedder(gctx))
		return nil
	})
	_ = g.Wait()

	if status.Engine.OK {
		status.Segments = v.Size(ctx)
	}
	status.Healthy = status.Engine.OK && status.Embedder.OK
	status.CheckedAt = v.now().UTC()
	if !status.Healthy {
		v.logger.Warn("health check failed",
			zap.String("engine_error", status.Engine.Error), zap.String("embedder_error", status.Embedder.Error))
	}
	return status
}

func (v *VectorIndex) probeEmbedder(ctx context.Context) (err error) {
	if v.embedder == nil {
		return fmt.Errorf("no embedder configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("embedder panicked: %v", r)
		}
	}()
	vec, err := v.embedder.Embed(ctx, healthProbeText)
	if err != nil {
		return err
	}
	if len(vec) != v.cfg.Dimensions {
		return fmt.Errorf("embedder returned %d dimensions, expected %d", len(vec), v.cfg.Dimensions)
	}
	return nil
}

func componentStatus(start time.Time, err error) models.ComponentStatus {
	s := models.ComponentStatus{OK: err == nil, Latency: time.Since(start)}
	if err != nil {
		s.Error = err.Error()
	}
	return s
}
